package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var deliveryMetric = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "hookrelay_webhook_delivery_duration_seconds",
	Help:    "Time spent handling one webhook delivery, by event and result.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
}, []string{"event", "result"})
