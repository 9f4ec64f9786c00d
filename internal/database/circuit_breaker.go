package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/seanankenbruck/nl2sql-guard/internal/errors"
	"github.com/seanankenbruck/nl2sql-guard/internal/observability"
)

// CircuitBreakerConfig defines circuit breaker configuration for the target database
type CircuitBreakerConfig struct {
	MaxRequests   uint32        // Max requests allowed in half-open state
	Interval      time.Duration // Window for counting failures
	Timeout       time.Duration // Duration circuit stays open before trying recovery
	ReadyToTrip   func(counts gobreaker.Counts) bool
	OnStateChange func(name string, from gobreaker.State, to gobreaker.State)
}

// DefaultCircuitBreakerConfig opens after five consecutive failures, or a 60%
// failure ratio once three requests have been seen.
func DefaultCircuitBreakerConfig(logger *observability.Logger) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && (counts.ConsecutiveFailures >= 5 || failureRatio >= 0.6)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if logger == nil {
				return
			}
			logger.Warn(context.Background(), "circuit breaker state changed", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
}

// CircuitBreakerExecutor wraps a QueryExecutor with circuit breaker protection
type CircuitBreakerExecutor struct {
	executor QueryExecutor
	breaker  *gobreaker.CircuitBreaker
}

// NewCircuitBreakerExecutor creates a circuit breaker wrapped executor
func NewCircuitBreakerExecutor(executor QueryExecutor, name string, config CircuitBreakerConfig) *CircuitBreakerExecutor {
	settings := gobreaker.Settings{
		Name:          name,
		MaxRequests:   config.MaxRequests,
		Interval:      config.Interval,
		Timeout:       config.Timeout,
		ReadyToTrip:   config.ReadyToTrip,
		OnStateChange: config.OnStateChange,
	}

	return &CircuitBreakerExecutor{
		executor: executor,
		breaker:  gobreaker.NewCircuitBreaker(settings),
	}
}

// Execute runs query through the breaker. While the circuit is open the
// error is a DATABASE_CONNECTION_FAILED EnhancedError wrapping
// gobreaker.ErrOpenState.
func (cb *CircuitBreakerExecutor) Execute(ctx context.Context, query string) ([]map[string]any, error) {
	result, err := cb.breaker.Execute(func() (interface{}, error) {
		return cb.executor.Execute(ctx, query)
	})

	if stderrors.Is(err, gobreaker.ErrOpenState) || stderrors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, errors.NewDatabaseConnectionError(err)
	}
	if err != nil {
		return nil, fmt.Errorf("circuit breaker: %w", err)
	}

	return result.([]map[string]any), nil
}

// Ping reports gobreaker.ErrOpenState while the circuit is open, then
// defers to the wrapped executor when it can ping.
func (cb *CircuitBreakerExecutor) Ping(ctx context.Context) error {
	if cb.breaker.State() == gobreaker.StateOpen {
		return gobreaker.ErrOpenState
	}
	if p, ok := cb.executor.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreakerExecutor) State() gobreaker.State {
	return cb.breaker.State()
}

// Counts returns the current failure counts
func (cb *CircuitBreakerExecutor) Counts() gobreaker.Counts {
	return cb.breaker.Counts()
}
