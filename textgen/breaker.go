package textgen

import (
	"context"
	"errors"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"tourgraph/metrics"
	"tourgraph/utils"
)

// BreakerSettings tunes the circuit breaker around a Generator.
type BreakerSettings struct {
	// ConsecutiveFailures opens the circuit. Default 5.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the circuit stays open. Default 1 minute.
	OpenTimeout time.Duration
}

// BreakerGenerator stops calling a failing generator for a while so a
// backfill over thousands of listings does not hammer a dead service.
type BreakerGenerator struct {
	next   Generator
	cb     *gobreaker.CircuitBreaker[string]
	logger *utils.Logger
}

// WithBreaker wraps next in a circuit breaker.
func WithBreaker(next Generator, settings BreakerSettings, logger *utils.Logger) *BreakerGenerator {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = time.Minute
	}
	if logger == nil {
		logger = utils.NopLogger()
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "textgen",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		// Disabled generators and caller cancellation say nothing about
		// the service's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrDisabled) ||
				errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[textgen] circuit %s: %s -> %s", name, from, to)
		},
	})

	return &BreakerGenerator{next: next, cb: cb, logger: logger}
}

// Generate forwards to the wrapped generator unless the circuit is open.
func (b *BreakerGenerator) Generate(ctx context.Context, req Request) (string, error) {
	out, err := b.cb.Execute(func() (string, error) {
		return b.next.Generate(ctx, req)
	})
	switch {
	case err == nil:
		metrics.TextGenRequests.WithLabelValues("ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.TextGenRequests.WithLabelValues("breaker_open").Inc()
	default:
		metrics.TextGenRequests.WithLabelValues("error").Inc()
	}
	return out, err
}

// State reports the breaker state, for logs and tests.
func (b *BreakerGenerator) State() gobreaker.State {
	return b.cb.State()
}

// Unavailable reports whether err means the service was not called at all,
// either because it is disabled or because the circuit is open.
func Unavailable(err error) bool {
	return errors.Is(err, ErrDisabled) || errors.Is(err, gobreaker.ErrOpenState)
}
