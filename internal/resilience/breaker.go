// Package resilience wraps outbound infrastructure calls (object-storage
// uploads, stream publishes) with a circuit breaker and bounded retries.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Config holds configuration for a resilient operation wrapper.
type Config struct {
	// Name identifies the wrapped dependency for logging/metrics.
	Name string

	// MaxRetries is the maximum number of retry attempts.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 100ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// BreakerTimeout is the period of open state before half-open.
	// Default: 60 seconds
	BreakerTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the wrapper.
func DefaultConfig(name string) Config {
	return Config{
		Name:            name,
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		BreakerTimeout:  60 * time.Second,
	}
}

// Wrapper executes operations through a circuit breaker with retries.
type Wrapper[T any] struct {
	breaker *gobreaker.CircuitBreaker[T]
	config  Config
}

// New creates a resilient operation wrapper.
func New[T any](cfg Config) *Wrapper[T] {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 100 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 60 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: readyToTrip,
	})

	return &Wrapper[T]{breaker: breaker, config: cfg}
}

// readyToTrip trips the breaker when at least 5 requests have been made
// and the failure rate is 50% or higher.
func readyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// Do executes fn through the circuit breaker, retrying transient failures
// with exponential backoff. Returns ErrCircuitOpen without retrying when the
// breaker is open.
func (w *Wrapper[T]) Do(ctx context.Context, fn func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = w.config.InitialInterval
	bo.MaxInterval = w.config.MaxInterval
	bo.MaxElapsedTime = 0 // retries are bounded by MaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, w.config.MaxRetries), ctx)

	var result T
	operation := func() error {
		value, err := w.breaker.Execute(fn)
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}
			return err
		}
		result = value
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// State returns the current state of the circuit breaker.
func (w *Wrapper[T]) State() gobreaker.State {
	return w.breaker.State()
}
