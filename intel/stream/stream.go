// Package stream drives concurrent execution of a query plan and emits
// ordered progress chunks over a channel that the transport layer drains.
//
// Ordering guarantees: the plan chunk precedes every provider chunk; a
// provider's complete or error chunk precedes the progress chunk reporting
// it; the complete chunk is always last. Providers have no ordering
// relative to each other, whichever finishes first streams first.
package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/schema"
)

// Chunk types, in the order a healthy stream emits them.
const (
	ChunkPlan             = "plan"
	ChunkCacheHit         = "cache_hit"
	ChunkProviderStart    = "provider_start"
	ChunkProviderComplete = "provider_complete"
	ChunkProviderError    = "provider_error"
	ChunkProgress         = "progress"
	ChunkComplete         = "complete"
	ChunkError            = "error"
)

// Error codes carried by provider_error and error chunks.
const (
	CodeRateLimited     = "RATE_LIMITED"
	CodeBudgetExceeded  = "BUDGET_EXCEEDED"
	CodeUnknownProvider = "UNKNOWN_PROVIDER"
	CodeProviderError   = "PROVIDER_ERROR"
	CodePlanningFailed  = "PLANNING_FAILED"
)

// Chunk is one streamed event. Every chunk carries type, request ID and
// timestamp; the remaining fields depend on the type.
type Chunk struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId"`
	Timestamp time.Time `json:"timestamp"`

	Plan         *schema.QueryPlan        `json:"plan,omitempty"`
	Provider     string                   `json:"provider,omitempty"`
	Results      []schema.NormalizedIntel `json:"results,omitempty"`
	Cost         float64                  `json:"cost,omitempty"`
	DurationS    float64                  `json:"duration_s,omitempty"`
	Code         string                   `json:"code,omitempty"`
	Message      string                   `json:"message,omitempty"`
	Completed    int                      `json:"completed,omitempty"`
	Total        int                      `json:"total,omitempty"`
	TotalCost    float64                  `json:"total_cost,omitempty"`
	Capabilities []schema.Capability      `json:"capabilities,omitempty"`
}

// Planner produces the query plan. Satisfied by the plan package.
type Planner interface {
	PlanQueries(ctx context.Context, shopID string, req *schema.Request) (*schema.QueryPlan, error)
}

// Gate is the admission and accounting surface of the coordinator.
type Gate interface {
	CanMakeRequest(provider string, estimatedCost float64) coordinate.Decision
	ExecuteRequest(ctx context.Context, provider string, fn func(context.Context) error, estimatedCost float64) error
}

// ProviderLookup resolves a selected provider name. Satisfied by the
// registry.
type ProviderLookup interface {
	Get(name string) schema.Provider
}

// Normalizer flattens raw provider output.
type Normalizer interface {
	Results(raw []schema.Datum) []schema.NormalizedIntel
}

// Store is the result cache surface the executor needs.
type Store interface {
	Get(key string) ([]schema.NormalizedIntel, bool)
	Set(key string, value []schema.NormalizedIntel, ttl time.Duration)
}

// Executor runs query plans. Construct once and share across requests.
type Executor struct {
	planner   Planner
	gate      Gate
	providers ProviderLookup
	normalize Normalizer
	cache     Store
	resultTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time // injectable clock for testing
}

// Option configures an Executor.
type Option func(*Executor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// WithResultTTL sets the cache lifetime for aggregated results.
func WithResultTTL(ttl time.Duration) Option {
	return func(e *Executor) { e.resultTTL = ttl }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(e *Executor) { e.now = fn }
}

// New creates an Executor over its collaborators.
func New(planner Planner, gate Gate, providers ProviderLookup, normalize Normalizer, cache Store, opts ...Option) *Executor {
	e := &Executor{
		planner:   planner,
		gate:      gate,
		providers: providers,
		normalize: normalize,
		cache:     cache,
		resultTTL: 15 * time.Minute,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CacheKey derives the result cache key for a request.
func CacheKey(req *schema.Request) string {
	return req.Query + "|" + req.Domain
}

// Run plans and executes the request, returning a channel of chunks that
// closes when the stream is over. Cancelling ctx stops further scheduling
// and emission; in-flight provider calls complete and their results are
// discarded.
func (e *Executor) Run(ctx context.Context, shopID string, req *schema.Request) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)
		e.run(ctx, shopID, req, out)
	}()
	return out
}

func (e *Executor) run(ctx context.Context, shopID string, req *schema.Request, out chan<- Chunk) {
	emit := func(c Chunk) bool {
		c.Timestamp = e.now()
		select {
		case out <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	pl, err := e.planner.PlanQueries(ctx, shopID, req)
	if err != nil {
		emit(Chunk{Type: ChunkError, Code: CodePlanningFailed, Message: err.Error()})
		return
	}
	rid := pl.RequestID
	if !emit(Chunk{Type: ChunkPlan, RequestID: rid, Plan: pl}) {
		return
	}

	key := CacheKey(req)
	if pl.CacheStrategy == schema.CacheFirst {
		if cached, ok := e.cache.Get(key); ok {
			e.logger.Debug("stream: cache hit", "request_id", rid, "key", key, "results", len(cached))
			emit(Chunk{Type: ChunkCacheHit, RequestID: rid, Results: cached})
			return
		}
	}

	total := len(pl.SelectedProviders)
	perCall := 0.0
	if total > 0 {
		perCall = pl.EstimatedCost / float64(total)
	}

	var (
		mu        sync.Mutex
		aggregate []schema.NormalizedIntel
		totalCost float64
		completed int
	)
	progress := func() Chunk {
		mu.Lock()
		completed++
		done := completed
		mu.Unlock()
		return Chunk{Type: ChunkProgress, RequestID: rid, Completed: done, Total: total}
	}

	start := e.now()
	var wg sync.WaitGroup
	for _, name := range pl.SelectedProviders {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()

			if d := e.gate.CanMakeRequest(name, perCall); !d.Allowed {
				emit(Chunk{Type: ChunkProviderError, RequestID: rid,
					Provider: name, Code: CodeRateLimited, Message: d.Reason})
				emit(progress())
				return
			}

			prov := e.providers.Get(name)
			if prov == nil {
				emit(Chunk{Type: ChunkProviderError, RequestID: rid,
					Provider: name, Code: CodeUnknownProvider, Message: "provider not registered"})
				emit(progress())
				return
			}

			if !emit(Chunk{Type: ChunkProviderStart, RequestID: rid, Provider: name}) {
				return
			}

			began := e.now()
			var raw []schema.Datum
			err := e.gate.ExecuteRequest(ctx, name, func(ctx context.Context) error {
				var ferr error
				raw, ferr = prov.Fetch(ctx, req)
				return ferr
			}, perCall)
			if err != nil {
				e.logger.Warn("stream: provider failed",
					"request_id", rid, "provider", name, "error", err)
				emit(Chunk{Type: ChunkProviderError, RequestID: rid,
					Provider: name, Code: errorCode(err), Message: err.Error()})
				emit(progress())
				return
			}

			norm := e.normalize.Results(raw)
			took := e.now().Sub(began).Seconds()
			mu.Lock()
			aggregate = append(aggregate, norm...)
			totalCost += perCall
			mu.Unlock()

			emit(Chunk{Type: ChunkProviderComplete, RequestID: rid,
				Provider: name, Results: norm, Cost: perCall, DurationS: took})
			emit(progress())
		}(name)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}
	if len(aggregate) > 0 {
		e.cache.Set(key, aggregate, e.resultTTL)
	}
	emit(Chunk{Type: ChunkComplete, RequestID: rid,
		Results:      aggregate,
		TotalCost:    totalCost,
		DurationS:    e.now().Sub(start).Seconds(),
		Capabilities: pl.Capabilities,
	})
}

// errorCode maps coordinator denials to wire codes; everything else is a
// plain provider failure.
func errorCode(err error) string {
	var rl *coordinate.ErrRateLimited
	if errors.As(err, &rl) {
		return CodeRateLimited
	}
	var be *coordinate.ErrBudgetExceeded
	if errors.As(err, &be) {
		return CodeBudgetExceeded
	}
	return CodeProviderError
}
