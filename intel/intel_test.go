package intel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/registry"
	"github.com/hazyhaar/radar/intel/stream"
)

// memSecrets is an in-memory SecretsStore for tests.
type memSecrets struct {
	keys map[string]string // provider -> key, shared across shops
}

func (m *memSecrets) IsProviderConfigured(ctx context.Context, shopID, provider string) (bool, error) {
	_, ok := m.keys[provider]
	return ok, nil
}

func (m *memSecrets) GetProviderSecret(ctx context.Context, shopID, provider string) (string, error) {
	return m.keys[provider], nil
}

type fakeProvider struct {
	name string
	caps []Capability
	data []Datum
	err  error
}

func (f *fakeProvider) Name() string               { return f.name }
func (f *fakeProvider) Capabilities() []Capability { return f.caps }
func (f *fakeProvider) IsConfigured(ctx context.Context, shopID string) (bool, error) {
	return true, nil
}
func (f *fakeProvider) Healthcheck(ctx context.Context) HealthStatus {
	return HealthStatus{OK: true}
}
func (f *fakeProvider) Fetch(ctx context.Context, req *Request) ([]Datum, error) {
	return f.data, f.err
}

func serpProvider(name string) *fakeProvider {
	return &fakeProvider{
		name: name,
		caps: []Capability{CapSERP, CapKeywords},
		data: []Datum{{
			Provider:   name,
			Capability: CapSERP,
			Payload:    map[string]any{"title": name + " result", "link": "https://" + name},
			Meta:       Meta{Confidence: 0.9, Timestamp: time.Now(), Source: name},
		}},
	}
}

func newService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	secrets := &memSecrets{keys: map[string]string{"serpapi": "k1", "dataforseo": "k2"}}
	svc, err := New(secrets, cfg, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func TestPlan_EndToEnd(t *testing.T) {
	svc := newService(t, nil)
	svc.RegisterProvider(serpProvider("serpapi"))
	svc.RegisterProvider(serpProvider("dataforseo"))

	pl, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "snowboard", Domain: "burton.com"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if pl.CacheStrategy != CacheFirst {
		t.Fatalf("strategy = %s, want cache_first", pl.CacheStrategy)
	}
	if len(pl.SelectedProviders) == 0 {
		t.Fatal("no providers selected")
	}
}

func TestPlan_Validation(t *testing.T) {
	svc := newService(t, nil)

	if _, err := svc.Plan(context.Background(), "shop_1", &Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest", err)
	}
	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x", MaxResults: 10_000}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest for huge maxResults", err)
	}
	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x",
		Capabilities: []Capability{"astrology"}}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest for unknown capability", err)
	}
}

func TestPlan_ConsentRequired(t *testing.T) {
	svc := newService(t, &Config{
		Compliance: ComplianceConfig{RequiresExplicitConsent: true},
	})

	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x"}); !errors.Is(err, ErrConsentRequired) {
		t.Fatalf("got %v, want ErrConsentRequired", err)
	}
	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x", HasUserConsent: true}); err != nil {
		t.Fatalf("consented request rejected: %v", err)
	}
}

func TestPlan_BlockedRegion(t *testing.T) {
	svc := newService(t, &Config{
		Compliance: ComplianceConfig{BlockedRegions: []string{"ru", "kp"}},
	})
	svc.RegisterProvider(serpProvider("serpapi"))

	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x", Market: "RU"}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("got %v, want ErrInvalidRequest for blocked market", err)
	}
	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x", Market: "us"}); err != nil {
		t.Fatalf("allowed market rejected: %v", err)
	}
	// Default market is synthesized later; an empty market is never blocked.
	if _, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x"}); err != nil {
		t.Fatalf("empty market rejected: %v", err)
	}
}

func TestRegisterProvider_AllowList(t *testing.T) {
	svc := newService(t, &Config{
		Compliance: ComplianceConfig{AllowedProviders: []string{"serpapi"}},
	})

	if err := svc.RegisterProvider(serpProvider("serpapi")); err != nil {
		t.Fatalf("allowed provider rejected: %v", err)
	}
	err := svc.RegisterProvider(serpProvider("shady"))
	var na *registry.ErrNotAllowed
	if !errors.As(err, &na) {
		t.Fatalf("got %v, want ErrNotAllowed", err)
	}
}

func TestStream_EndToEnd(t *testing.T) {
	svc := newService(t, nil)
	svc.RegisterProvider(serpProvider("serpapi"))
	svc.RegisterProvider(serpProvider("dataforseo"))

	ch, err := svc.Stream(context.Background(), "shop_1", &Request{Query: "snowboard"})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var types []string
	for c := range ch {
		types = append(types, c.Type)
	}
	if types[0] != stream.ChunkPlan {
		t.Fatalf("first chunk = %s", types[0])
	}
	if types[len(types)-1] != stream.ChunkComplete {
		t.Fatalf("last chunk = %s", types[len(types)-1])
	}
}

func TestCollect_EndToEnd(t *testing.T) {
	svc := newService(t, nil)
	svc.RegisterProvider(serpProvider("serpapi"))
	svc.RegisterProvider(serpProvider("dataforseo"))

	agg, err := svc.Collect(context.Background(), "shop_1", &Request{Query: "snowboard"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if agg.Plan == nil || len(agg.Results) == 0 {
		t.Fatalf("aggregate incomplete: %+v", agg)
	}
	if agg.TotalCost <= 0 {
		t.Fatal("missing total cost")
	}

	// Second run with cache_first strategy comes from the cache.
	agg2, err := svc.Collect(context.Background(), "shop_1", &Request{Query: "snowboard"})
	if err != nil {
		t.Fatalf("collect again: %v", err)
	}
	if !agg2.FromCache {
		t.Fatal("second collect should hit the cache")
	}
}

func TestCollect_SurfacesProviderErrors(t *testing.T) {
	svc := newService(t, nil)
	svc.RegisterProvider(serpProvider("serpapi"))
	broken := serpProvider("dataforseo")
	broken.err = errors.New("upstream down")
	broken.data = nil
	svc.RegisterProvider(broken)

	agg, err := svc.Collect(context.Background(), "shop_1", &Request{Query: "snowboard"})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(agg.Errors) != 1 {
		t.Fatalf("errors = %v, want one entry", agg.Errors)
	}
	if len(agg.Results) != 1 || agg.Results[0].Provider != "serpapi" {
		t.Fatalf("aggregate should exclude the broken provider: %+v", agg.Results)
	}
}

func TestBudgetStatus_AfterStream(t *testing.T) {
	svc := newService(t, &Config{
		DefaultLimits: coordinate.Limits{Tokens: 10, RefillWindow: time.Hour, BudgetLimit: 100},
	})
	svc.RegisterProvider(serpProvider("serpapi"))

	if _, err := svc.Collect(context.Background(), "shop_1", &Request{Query: "x"}); err != nil {
		t.Fatalf("collect: %v", err)
	}

	budgets := svc.BudgetStatus()
	if budgets["serpapi"].Spent <= 0 {
		t.Fatalf("spend not recorded: %+v", budgets["serpapi"])
	}
	rates := svc.RateLimitStatus()
	if rates["serpapi"].AvailableTokens != 9 {
		t.Fatalf("tokens = %d, want 9", rates["serpapi"].AvailableTokens)
	}

	svc.ResetBudget("serpapi")
	if svc.BudgetStatus()["serpapi"].Spent != 0 {
		t.Fatal("reset did not zero spend")
	}
}

func TestUpdateCompliance_NarrowsSelection(t *testing.T) {
	svc := newService(t, nil)
	svc.RegisterProvider(serpProvider("serpapi"))
	svc.RegisterProvider(serpProvider("dataforseo"))

	svc.UpdateCompliance(ComplianceConfig{AllowedProviders: []string{"serpapi"}})

	pl, err := svc.Plan(context.Background(), "shop_1", &Request{Query: "x"})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for _, name := range pl.SelectedProviders {
		if name != "serpapi" {
			t.Fatalf("blocked provider selected: %v", pl.SelectedProviders)
		}
	}
}

func TestPresetPlans(t *testing.T) {
	svc := newService(t, nil)
	svc.RegisterProvider(serpProvider("serpapi"))

	disc, err := svc.DiscoveryPlans(context.Background(), "shop_1", "snowboards")
	if err != nil || len(disc) != 2 {
		t.Fatalf("discovery: %v (%d plans)", err, len(disc))
	}
	comp, err := svc.CompetitorPlans(context.Background(), "shop_1", "burton.com")
	if err != nil || len(comp) != 3 {
		t.Fatalf("competitor: %v (%d plans)", err, len(comp))
	}
	if _, err := svc.DiscoveryPlans(context.Background(), "shop_1", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("empty query: %v", err)
	}
}

func TestStartClose_Idempotent(t *testing.T) {
	svc := newService(t, nil)
	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx)
	svc.Close()
	svc.Close()
}
