package providers

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hazyhaar/radar/intel/schema"
)

// Fetch is the inner data-retrieval function every vendor implements.
type Fetch func(ctx context.Context, req *schema.Request) ([]schema.Datum, error)

// Middleware wraps a Fetch, adding cross-cutting behaviour without
// changing the signature.
type Middleware func(next Fetch) Fetch

// Chain composes middlewares left-to-right: the first middleware in the
// slice is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(next Fetch) Fetch {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

// Logging returns a middleware that logs every fetch with its duration.
func Logging(provider string, logger *slog.Logger) Middleware {
	return func(next Fetch) Fetch {
		return func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
			start := time.Now()
			data, err := next(ctx, req)
			dur := time.Since(start)
			if err != nil {
				logger.WarnContext(ctx, "provider fetch failed",
					"provider", provider,
					"duration_ms", dur.Milliseconds(),
					"error", err)
			} else {
				logger.DebugContext(ctx, "provider fetch ok",
					"provider", provider,
					"duration_ms", dur.Milliseconds(),
					"data", len(data))
			}
			return data, err
		}
	}
}

// Retry returns a middleware that retries failed fetches with exponential
// backoff. Context cancellation and an open circuit stop retrying.
func Retry(maxRetries int, baseBackoff time.Duration, logger *slog.Logger) Middleware {
	return func(next Fetch) Fetch {
		return func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
			var lastErr error
			for attempt := 0; attempt <= maxRetries; attempt++ {
				data, err := next(ctx, req)
				if err == nil {
					return data, nil
				}
				lastErr = err
				if ctx.Err() != nil {
					return nil, lastErr
				}
				if _, ok := err.(*ErrCircuitOpen); ok {
					return nil, err
				}
				if attempt < maxRetries {
					wait := baseBackoff * (1 << uint(attempt))
					if logger != nil {
						logger.WarnContext(ctx, "retrying fetch",
							"attempt", attempt+1,
							"max_retries", maxRetries,
							"backoff_ms", wait.Milliseconds(),
							"error", err)
					}
					select {
					case <-ctx.Done():
						return nil, lastErr
					case <-time.After(wait):
					}
				}
			}
			return nil, lastErr
		}
	}
}

// Recovery returns a middleware that converts panics in vendor code into
// errors instead of crashing the process.
func Recovery(provider string, logger *slog.Logger) Middleware {
	return func(next Fetch) Fetch {
		return func(ctx context.Context, req *schema.Request) (data []schema.Datum, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "provider panic recovered",
						"provider", provider,
						"panic", r,
						"stack", string(debug.Stack()))
					err = fmt.Errorf("providers: %s panicked: %v", provider, r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// ErrCircuitOpen is returned when a vendor's circuit breaker is open.
type ErrCircuitOpen struct {
	Provider string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("providers: circuit open for %s", e.Provider)
}

// BreakerState represents the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // normal operation, calls pass through
	BreakerOpen                         // calls rejected immediately
	BreakerHalfOpen                     // one probe call allowed to test recovery
)

// CircuitBreaker trips after repeated vendor failures so a flapping API
// stops burning tokens and budget. Thread-safe.
type CircuitBreaker struct {
	mu           sync.Mutex
	state        BreakerState
	failures     int
	successes    int
	threshold    int
	resetTimeout time.Duration
	halfOpenMax  int
	lastFailure  time.Time
	now          func() time.Time // injectable clock for testing
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithBreakerThreshold sets the failure count that trips the breaker open.
func WithBreakerThreshold(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.threshold = n }
}

// WithBreakerResetTimeout sets how long the breaker stays open before
// transitioning to half-open.
func WithBreakerResetTimeout(d time.Duration) BreakerOption {
	return func(cb *CircuitBreaker) { cb.resetTimeout = d }
}

// WithBreakerHalfOpenMax sets how many consecutive successes in half-open
// are needed to close the breaker.
func WithBreakerHalfOpenMax(n int) BreakerOption {
	return func(cb *CircuitBreaker) { cb.halfOpenMax = n }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) { cb.now = fn }
}

// NewCircuitBreaker creates a breaker with sensible defaults: 5 failures
// to open, 30s reset timeout, 2 successes to close from half-open.
func NewCircuitBreaker(opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		state:        BreakerClosed,
		threshold:    5,
		resetTimeout: 30 * time.Second,
		halfOpenMax:  2,
		now:          time.Now,
	}
	for _, o := range opts {
		o(cb)
	}
	return cb
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransition()
	return cb.state
}

// Allow checks whether a call is allowed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.maybeTransition()
	return cb.state != BreakerOpen
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.state {
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.state = BreakerClosed
			cb.failures = 0
			cb.successes = 0
		}
	case BreakerClosed:
		cb.failures = 0
	}
}

// RecordFailure records a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailure = cb.now()
	switch cb.state {
	case BreakerClosed:
		cb.failures++
		if cb.failures >= cb.threshold {
			cb.state = BreakerOpen
		}
	case BreakerHalfOpen:
		// Any failure in half-open goes back to open.
		cb.state = BreakerOpen
		cb.successes = 0
	}
}

// Reset forces the breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failures = 0
	cb.successes = 0
}

// maybeTransition moves an open breaker to half-open once the reset
// timeout elapses. Must be called with mu held.
func (cb *CircuitBreaker) maybeTransition() {
	if cb.state == BreakerOpen && cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
		cb.state = BreakerHalfOpen
		cb.successes = 0
	}
}

// WithBreaker returns a middleware that wraps fetches with a circuit
// breaker. When the breaker is open, calls fail immediately with
// ErrCircuitOpen.
func WithBreaker(cb *CircuitBreaker, provider string) Middleware {
	return func(next Fetch) Fetch {
		return func(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
			if !cb.Allow() {
				return nil, &ErrCircuitOpen{Provider: provider}
			}
			data, err := next(ctx, req)
			if err != nil {
				cb.RecordFailure()
			} else {
				cb.RecordSuccess()
			}
			return data, err
		}
	}
}
