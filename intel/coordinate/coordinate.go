// Package coordinate gates every outbound provider call behind a
// token-bucket rate limit and a dollar budget, both per provider.
//
// All state is in-memory and resets on process restart. Buckets refill to
// capacity on a fixed wall-clock window; the window and capacity are
// per-provider configuration, not coordinator logic.
package coordinate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// Limits is the per-provider configuration for admission control.
type Limits struct {
	// Tokens is the bucket capacity per refill window. Default: 60.
	Tokens int `yaml:"tokens"`
	// RefillWindow is the wall-clock window after which the bucket resets
	// to capacity. Default: 1 minute.
	RefillWindow time.Duration `yaml:"refill_window"`
	// BudgetLimit is the spending ceiling in dollars. Default: $100.
	BudgetLimit float64 `yaml:"budget_limit"`
}

func (l *Limits) defaults() {
	if l.Tokens <= 0 {
		l.Tokens = 60
	}
	if l.RefillWindow <= 0 {
		l.RefillWindow = time.Minute
	}
	if l.BudgetLimit <= 0 {
		l.BudgetLimit = 100
	}
}

// RateLimitState is a snapshot of one provider's token bucket.
type RateLimitState struct {
	AvailableTokens int       `json:"available_tokens"`
	ResetAt         time.Time `json:"reset_at"`
}

// BudgetState is a snapshot of one provider's budget.
type BudgetState struct {
	Spent              float64 `json:"spent"`
	Limit              float64 `json:"limit"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Remaining          float64 `json:"remaining"`
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ErrRateLimited is returned when a provider's token bucket is empty.
type ErrRateLimited struct {
	Provider string
	ResetAt  time.Time
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("coordinate: rate limited: %s (resets %s)", e.Provider, e.ResetAt.Format(time.RFC3339))
}

// ErrBudgetExceeded is returned when a call would push spending past the
// provider's budget limit.
type ErrBudgetExceeded struct {
	Provider  string
	Spent     float64
	Limit     float64
	Requested float64
}

func (e *ErrBudgetExceeded) Error() string {
	return fmt.Sprintf("coordinate: budget exceeded: %s ($%.2f spent of $%.2f, requested $%.2f)",
		e.Provider, e.Spent, e.Limit, e.Requested)
}

type providerState struct {
	tokens  int
	resetAt time.Time
	spent   float64
	limits  Limits
}

// Coordinator is the single gatekeeper for outbound provider calls.
// Thread-safe: every admission and accounting update holds the mutex, so
// spent never decreases and tokens never go negative under concurrency.
type Coordinator struct {
	mu       sync.Mutex
	states   map[string]*providerState
	defaults Limits
	logger   *slog.Logger
	now      func() time.Time // injectable clock for testing
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) { c.now = fn }
}

// New creates a Coordinator. limits maps provider name to its admission
// configuration; providers absent from the map get defaultLimits.
func New(limits map[string]Limits, defaultLimits Limits, opts ...Option) *Coordinator {
	defaultLimits.defaults()
	c := &Coordinator{
		states:   make(map[string]*providerState),
		defaults: defaultLimits,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	for name, l := range limits {
		l.defaults()
		c.states[name] = &providerState{
			tokens:  l.Tokens,
			resetAt: c.now().Add(l.RefillWindow),
			limits:  l,
		}
	}
	return c
}

// state returns the provider's state, lazily creating one with default
// limits. Must be called with mu held.
func (c *Coordinator) state(name string) *providerState {
	st, ok := c.states[name]
	if !ok {
		st = &providerState{
			tokens:  c.defaults.Tokens,
			resetAt: c.now().Add(c.defaults.RefillWindow),
			limits:  c.defaults,
		}
		c.states[name] = st
	}
	return st
}

// refill resets the bucket to capacity if the window elapsed.
// Must be called with mu held.
func (c *Coordinator) refill(st *providerState) {
	if now := c.now(); now.After(st.resetAt) {
		st.tokens = st.limits.Tokens
		st.resetAt = now.Add(st.limits.RefillWindow)
	}
}

// admit checks admission without charging. Must be called with mu held.
func (c *Coordinator) admit(name string, st *providerState, estimatedCost float64) error {
	c.refill(st)
	if st.tokens < 1 {
		return &ErrRateLimited{Provider: name, ResetAt: st.resetAt}
	}
	if st.spent+estimatedCost > st.limits.BudgetLimit {
		return &ErrBudgetExceeded{
			Provider: name, Spent: st.spent,
			Limit: st.limits.BudgetLimit, Requested: estimatedCost,
		}
	}
	return nil
}

// CanMakeRequest reports whether a call for the provider would currently be
// admitted. Advisory only: the authoritative check happens inside
// ExecuteRequest.
func (c *Coordinator) CanMakeRequest(provider string, estimatedCost float64) Decision {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.admit(provider, c.state(provider), estimatedCost); err != nil {
		return Decision{Allowed: false, Reason: err.Error()}
	}
	return Decision{Allowed: true}
}

// ExecuteRequest performs the admission check and, only if admitted,
// invokes fn. One token and the estimated cost are charged on the attempt,
// regardless of whether fn succeeds or fails — real provider billing
// charges attempts, not successes. If not admitted, fn is never invoked
// and the error is *ErrRateLimited or *ErrBudgetExceeded.
func (c *Coordinator) ExecuteRequest(ctx context.Context, provider string, fn func(context.Context) error, estimatedCost float64) error {
	c.mu.Lock()
	st := c.state(provider)
	if err := c.admit(provider, st, estimatedCost); err != nil {
		c.mu.Unlock()
		return err
	}
	st.tokens--
	st.spent += estimatedCost
	tokens, spent := st.tokens, st.spent
	c.mu.Unlock()

	c.logger.Debug("coordinate: call admitted",
		"provider", provider, "cost", estimatedCost,
		"tokens_left", tokens, "spent", spent)

	return fn(ctx)
}

// RateLimitStatus returns a snapshot of every tracked bucket, keyed by
// provider name.
func (c *Coordinator) RateLimitStatus() map[string]RateLimitState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]RateLimitState, len(c.states))
	for name, st := range c.states {
		c.refill(st)
		out[name] = RateLimitState{AvailableTokens: st.tokens, ResetAt: st.resetAt}
	}
	return out
}

// BudgetStatus returns a snapshot of every tracked budget, keyed by
// provider name.
func (c *Coordinator) BudgetStatus() map[string]BudgetState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]BudgetState, len(c.states))
	for name, st := range c.states {
		util := 0.0
		if st.limits.BudgetLimit > 0 {
			util = math.Round(st.spent/st.limits.BudgetLimit*10000) / 100
		}
		out[name] = BudgetState{
			Spent:              st.spent,
			Limit:              st.limits.BudgetLimit,
			UtilizationPercent: util,
			Remaining:          st.limits.BudgetLimit - st.spent,
		}
	}
	return out
}

// ResetBudget zeroes a provider's spent counter. This is the explicit
// external reset operation; nothing inside the engine calls it.
func (c *Coordinator) ResetBudget(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.states[provider]; ok {
		st.spent = 0
	}
}
