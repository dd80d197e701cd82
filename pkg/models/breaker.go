package models

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	gobreaker "github.com/sony/gobreaker/v2"
)

// breakerTransport stops calling a model service after BreakerFailures
// consecutive failures. After BreakerTimeout a single trial call is let through;
// its outcome closes or reopens the breaker.
type breakerTransport struct {
	next transport
	cb   *gobreaker.CircuitBreaker[[]byte]
}

func newBreakerTransport(name string, next transport, opts Options) *breakerTransport {
	logger := opts.Logger
	return &breakerTransport{
		next: next,
		cb: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     opts.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= opts.BreakerFailures
			},
			// A caller giving up is not a service failure.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("model service breaker state changed",
					slog.String("breaker", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()),
				)
			},
		}),
	}
}

func (t *breakerTransport) call(ctx context.Context, method string, payload map[string]any) ([]byte, error) {
	raw, err := t.cb.Execute(func() ([]byte, error) {
		return t.next.call(ctx, method, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("model service unavailable: %w", err)
	}
	return raw, err
}
