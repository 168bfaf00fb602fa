package server

import (
	"net/http"
	"strings"
	"time"

	gh "github.com/google/go-github/v45/github"

	"github.com/esnunes/hookrelay/internal/github"
)

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := gh.ValidatePayload(r, []byte(s.opts.Secret))
	if err != nil {
		s.log.WithError(err).Warn("Rejected webhook delivery")
		http.Error(w, "Invalid signature or payload", http.StatusUnauthorized)
		return
	}

	name := gh.WebHookType(r)
	logger := s.log.WithField("event", name).WithField("delivery", gh.DeliveryID(r))
	switch name {
	case "":
		http.Error(w, "Missing X-GitHub-Event header", http.StatusBadRequest)
		return
	case "ping":
		w.Write([]byte("pong"))
		return
	}

	ev, err := github.ParseEvent(name, payload)
	if err != nil {
		logger.WithError(err).Warn("Could not parse webhook payload")
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	ev.DeliveryID = gh.DeliveryID(r)
	if s.opts.Repository != "" && !strings.EqualFold(ev.Repo, s.opts.Repository) {
		logger.WithField("repo", ev.Repo).Warn("Delivery for an unexpected repository")
		http.Error(w, "Unexpected repository", http.StatusForbidden)
		return
	}

	mu := s.lockRepo(strings.ToLower(ev.Repo))
	defer mu.Unlock()

	start := time.Now()
	err = s.dispatch(r.Context(), ev)
	result := "ok"
	if err != nil {
		result = "error"
	}
	deliveryMetric.WithLabelValues(name, result).Observe(time.Since(start).Seconds())
	if err != nil {
		logger.WithError(err).WithField("repo", ev.Repo).Error("Failed to handle webhook delivery")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}
