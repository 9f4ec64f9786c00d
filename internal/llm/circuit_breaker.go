package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// ErrUnavailable wraps gobreaker's rejections so callers can tell a
// short-circuited call from a failed one.
var ErrUnavailable = errors.New("model service unavailable")

// BreakerSettings returns the gobreaker settings used for the model client.
// The breaker opens after five consecutive failures, or a 60% failure ratio
// once three requests were seen, and half-opens again after 30s. Cancelled
// requests do not count as failures.
func BreakerSettings(name string, logger *observability.Logger) gobreaker.Settings {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures >= 5 || ratio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn(context.Background(), "Model circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
}

// CircuitBreakerClient guards a Client with a gobreaker circuit.
type CircuitBreakerClient struct {
	client  Client
	breaker *gobreaker.CircuitBreaker
}

func NewCircuitBreakerClient(client Client, settings gobreaker.Settings) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Complete forwards to the wrapped client unless the circuit is open.
func (cb *CircuitBreakerClient) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.client.Complete(ctx, prompt)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	case err != nil:
		return "", err
	}
	return out.(string), nil
}

// Ping fails while the circuit is open.
func (cb *CircuitBreakerClient) Ping(ctx context.Context) error {
	if cb.breaker.State() == gobreaker.StateOpen {
		return fmt.Errorf("%w: %w", ErrUnavailable, gobreaker.ErrOpenState)
	}
	return nil
}

func (cb *CircuitBreakerClient) State() gobreaker.State {
	return cb.breaker.State()
}

func (cb *CircuitBreakerClient) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
