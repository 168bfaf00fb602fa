// Package retry re-invokes remote operations that fail with a server-side
// error, backing off exponentially between attempts.
package retry

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
)

// StatusError is implemented by remote API errors that carry an HTTP status.
type StatusError interface {
	error
	HTTPStatus() int
}

// Retryable reports whether err came from a remote API answering with a 5xx
// status. Client errors, network failures and local errors are final.
func Retryable(err error) bool {
	var se StatusError
	return errors.As(err, &se) && se.HTTPStatus() >= 500
}

type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Logger     log.FieldLogger
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries three times starting at one second.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: DefaultMaxRetries, BaseDelay: DefaultBaseDelay}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Logger == nil {
		p.Logger = log.StandardLogger()
	}
	if p.Sleep == nil {
		p.Sleep = sleep
	}
	return p
}

// Do runs op, retrying on retryable failures with delays of
// BaseDelay * 2^attempt. The last error is returned once MaxRetries retries
// are spent.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	for attempt := 0; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !Retryable(err) || attempt >= p.MaxRetries {
			return result, err
		}
		delay := p.BaseDelay << attempt
		p.Logger.WithError(err).
			WithField("attempt", attempt+1).
			WithField("max_retries", p.MaxRetries).
			WithField("delay", delay).
			Warn("Remote call failed with server error, retrying")
		if err := p.Sleep(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
	}
}

// Run is Do for operations without a result.
func Run(ctx context.Context, p Policy, op func(ctx context.Context) error) error {
	_, err := Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
