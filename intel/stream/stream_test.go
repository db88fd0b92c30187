package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/radar/intel/cache"
	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/normalize"
	"github.com/hazyhaar/radar/intel/schema"
)

type fakePlanner struct {
	plan *schema.QueryPlan
	err  error
}

func (f *fakePlanner) PlanQueries(ctx context.Context, shopID string, req *schema.Request) (*schema.QueryPlan, error) {
	return f.plan, f.err
}

type fakeProvider struct {
	name  string
	data  []schema.Datum
	err   error
	calls int
}

func (f *fakeProvider) Name() string                      { return f.name }
func (f *fakeProvider) Capabilities() []schema.Capability { return []schema.Capability{schema.CapSERP} }
func (f *fakeProvider) IsConfigured(ctx context.Context, shopID string) (bool, error) {
	return true, nil
}
func (f *fakeProvider) Healthcheck(ctx context.Context) schema.HealthStatus {
	return schema.HealthStatus{OK: true}
}
func (f *fakeProvider) Fetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	f.calls++
	return f.data, f.err
}

type fakeLookup map[string]*fakeProvider

func (l fakeLookup) Get(name string) schema.Provider {
	p, ok := l[name]
	if !ok {
		return nil
	}
	return p
}

func serpDatum(provider, title string) schema.Datum {
	return schema.Datum{
		Provider:   provider,
		Capability: schema.CapSERP,
		Payload:    map[string]any{"title": title, "link": "https://example.com"},
		Meta:       schema.Meta{Confidence: 0.8, Timestamp: time.Now(), Source: provider},
	}
}

func testPlan(strategy schema.CacheStrategy, providers ...string) *schema.QueryPlan {
	return &schema.QueryPlan{
		RequestID:         "req_test",
		Capabilities:      []schema.Capability{schema.CapSERP},
		SelectedProviders: providers,
		EstimatedCost:     0.10 * float64(len(providers)),
		EstimatedDuration: 4,
		CacheStrategy:     strategy,
	}
}

func drain(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	deadline := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-deadline:
			t.Fatal("stream did not close")
		}
	}
}

func byType(chunks []Chunk, typ string) []Chunk {
	var out []Chunk
	for _, c := range chunks {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

func newExecutor(planner Planner, lookup fakeLookup) (*Executor, *cache.Cache) {
	store := cache.New()
	gate := coordinate.New(nil, coordinate.Limits{Tokens: 100, RefillWindow: time.Hour, BudgetLimit: 1000})
	return New(planner, gate, lookup, normalize.New(), store), store
}

func TestRun_HappyPath(t *testing.T) {
	lookup := fakeLookup{
		"serpapi":    {name: "serpapi", data: []schema.Datum{serpDatum("serpapi", "a"), serpDatum("serpapi", "b")}},
		"dataforseo": {name: "dataforseo", data: []schema.Datum{serpDatum("dataforseo", "c")}},
	}
	e, store := newExecutor(&fakePlanner{plan: testPlan(schema.NetworkFirst, "serpapi", "dataforseo")}, lookup)

	req := &schema.Request{Query: "snowboard", Domain: "burton.com"}
	chunks := drain(t, e.Run(context.Background(), "shop_1", req))

	if chunks[0].Type != ChunkPlan {
		t.Fatalf("first chunk = %s, want plan", chunks[0].Type)
	}
	last := chunks[len(chunks)-1]
	if last.Type != ChunkComplete {
		t.Fatalf("last chunk = %s, want complete", last.Type)
	}
	if len(last.Results) != 3 {
		t.Fatalf("aggregate has %d records, want 3", len(last.Results))
	}
	if got := len(byType(chunks, ChunkProviderComplete)); got != 2 {
		t.Fatalf("%d provider_complete chunks, want 2", got)
	}
	if got := len(byType(chunks, ChunkProgress)); got != 2 {
		t.Fatalf("%d progress chunks, want 2", got)
	}
	if last.TotalCost <= 0 {
		t.Fatal("complete chunk missing total cost")
	}

	// The aggregate was written through to the cache.
	cached, ok := store.Get(CacheKey(req))
	if !ok || len(cached) != 3 {
		t.Fatalf("aggregate not cached: ok=%v len=%d", ok, len(cached))
	}
}

func TestRun_FailedProviderDoesNotBlockPeers(t *testing.T) {
	lookup := fakeLookup{
		"serpapi": {name: "serpapi", data: []schema.Datum{serpDatum("serpapi", "ok")}},
		"broken":  {name: "broken", err: errors.New("upstream 500")},
	}
	e, _ := newExecutor(&fakePlanner{plan: testPlan(schema.NetworkFirst, "serpapi", "broken")}, lookup)

	chunks := drain(t, e.Run(context.Background(), "shop_1", &schema.Request{Query: "x"}))

	errs := byType(chunks, ChunkProviderError)
	if len(errs) != 1 || errs[0].Provider != "broken" {
		t.Fatalf("provider_error chunks: %+v", errs)
	}
	for _, c := range byType(chunks, ChunkProviderComplete) {
		if c.Provider == "broken" {
			t.Fatal("failed provider emitted provider_complete")
		}
	}
	last := chunks[len(chunks)-1]
	if last.Type != ChunkComplete {
		t.Fatalf("last chunk = %s, want complete", last.Type)
	}
	if len(last.Results) != 1 || last.Results[0].Provider != "serpapi" {
		t.Fatalf("aggregate should hold only the healthy provider's data: %+v", last.Results)
	}
	if got := len(byType(chunks, ChunkProgress)); got != 2 {
		t.Fatalf("%d progress chunks, want 2 (failure still reports progress)", got)
	}
}

func TestRun_CacheFirstHit(t *testing.T) {
	lookup := fakeLookup{"serpapi": {name: "serpapi", data: []schema.Datum{serpDatum("serpapi", "fresh")}}}
	e, store := newExecutor(&fakePlanner{plan: testPlan(schema.CacheFirst, "serpapi")}, lookup)

	req := &schema.Request{Query: "snowboard", Domain: "burton.com"}
	store.Set(CacheKey(req), []schema.NormalizedIntel{{Provider: "serpapi", Title: "cached"}}, time.Minute)

	chunks := drain(t, e.Run(context.Background(), "shop_1", req))

	if len(chunks) != 2 || chunks[0].Type != ChunkPlan || chunks[1].Type != ChunkCacheHit {
		t.Fatalf("expected plan then cache_hit, got %+v", chunks)
	}
	if chunks[1].Results[0].Title != "cached" {
		t.Fatalf("cache_hit carries wrong value: %+v", chunks[1].Results)
	}
	if lookup["serpapi"].calls != 0 {
		t.Fatal("cache hit must not invoke providers")
	}
}

func TestRun_NetworkFirstBypassesCache(t *testing.T) {
	lookup := fakeLookup{"serpapi": {name: "serpapi", data: []schema.Datum{serpDatum("serpapi", "fresh")}}}
	e, store := newExecutor(&fakePlanner{plan: testPlan(schema.NetworkFirst, "serpapi")}, lookup)

	req := &schema.Request{Query: "snowboard"}
	store.Set(CacheKey(req), []schema.NormalizedIntel{{Title: "stale"}}, time.Minute)

	chunks := drain(t, e.Run(context.Background(), "shop_1", req))

	if len(byType(chunks, ChunkCacheHit)) != 0 {
		t.Fatal("network_first must not emit cache_hit")
	}
	if lookup["serpapi"].calls != 1 {
		t.Fatalf("provider called %d times, want 1", lookup["serpapi"].calls)
	}
}

func TestRun_RateLimitedProviderSkipped(t *testing.T) {
	lookup := fakeLookup{
		"limited": {name: "limited", data: []schema.Datum{serpDatum("limited", "never")}},
	}
	store := cache.New()
	gate := coordinate.New(map[string]coordinate.Limits{
		"limited": {Tokens: 1, RefillWindow: time.Hour, BudgetLimit: 1000},
	}, coordinate.Limits{})
	// Exhaust the bucket before the stream runs.
	gate.ExecuteRequest(context.Background(), "limited", func(context.Context) error { return nil }, 0)

	e := New(&fakePlanner{plan: testPlan(schema.NetworkFirst, "limited")}, gate, lookup, normalize.New(), store)
	chunks := drain(t, e.Run(context.Background(), "shop_1", &schema.Request{Query: "x"}))

	errs := byType(chunks, ChunkProviderError)
	if len(errs) != 1 || errs[0].Code != CodeRateLimited {
		t.Fatalf("expected one RATE_LIMITED provider_error, got %+v", errs)
	}
	if len(byType(chunks, ChunkProviderStart)) != 0 {
		t.Fatal("denied provider must not emit provider_start")
	}
	if lookup["limited"].calls != 0 {
		t.Fatal("denied provider must not be invoked")
	}
}

func TestRun_PlanningFailure(t *testing.T) {
	e, _ := newExecutor(&fakePlanner{err: errors.New("request needs a query")}, fakeLookup{})

	chunks := drain(t, e.Run(context.Background(), "shop_1", &schema.Request{}))

	if len(chunks) != 1 || chunks[0].Type != ChunkError {
		t.Fatalf("expected a single error chunk, got %+v", chunks)
	}
	if chunks[0].Code != CodePlanningFailed || chunks[0].Message == "" {
		t.Fatalf("error chunk malformed: %+v", chunks[0])
	}
}

func TestRun_UnknownProvider(t *testing.T) {
	e, _ := newExecutor(&fakePlanner{plan: testPlan(schema.NetworkFirst, "ghost")}, fakeLookup{})

	chunks := drain(t, e.Run(context.Background(), "shop_1", &schema.Request{Query: "x"}))

	errs := byType(chunks, ChunkProviderError)
	if len(errs) != 1 || errs[0].Code != CodeUnknownProvider {
		t.Fatalf("expected UNKNOWN_PROVIDER error, got %+v", errs)
	}
	if chunks[len(chunks)-1].Type != ChunkComplete {
		t.Fatal("stream must still complete")
	}
}

func TestRun_ProviderChunksFollowPlan(t *testing.T) {
	lookup := fakeLookup{
		"serpapi":    {name: "serpapi", data: []schema.Datum{serpDatum("serpapi", "a")}},
		"dataforseo": {name: "dataforseo", data: []schema.Datum{serpDatum("dataforseo", "b")}},
	}
	e, _ := newExecutor(&fakePlanner{plan: testPlan(schema.NetworkFirst, "serpapi", "dataforseo")}, lookup)

	chunks := drain(t, e.Run(context.Background(), "shop_1", &schema.Request{Query: "x"}))

	planAt := -1
	for i, c := range chunks {
		if c.Type == ChunkPlan {
			planAt = i
		}
		if (c.Type == ChunkProviderStart || c.Type == ChunkProviderComplete) && planAt == -1 {
			t.Fatalf("provider chunk before plan at index %d", i)
		}
	}
	if planAt != 0 {
		t.Fatalf("plan chunk at index %d, want 0", planAt)
	}
	for _, c := range chunks {
		if c.Type != ChunkError && c.RequestID != "req_test" {
			t.Fatalf("chunk missing request id: %+v", c)
		}
		if c.Timestamp.IsZero() {
			t.Fatalf("chunk missing timestamp: %+v", c)
		}
	}
}
