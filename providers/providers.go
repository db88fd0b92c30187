package providers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/radar/intel/schema"
	"github.com/hazyhaar/radar/kit"
)

// Config is shared vendor configuration.
type Config struct {
	// HTTPClient used for API calls. Default: 30s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxRetries per fetch. Default: 2.
	MaxRetries int
	// Backoff is the initial retry wait, doubled each attempt. Default: 500ms.
	Backoff time.Duration
	// RespectRobots makes scraping vendors honor the target's robots.txt.
	// API vendors ignore it.
	RespectRobots bool
}

func (c *Config) defaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
}

// vendor carries the plumbing every integration shares. The inner fetch
// is wrapped with recovery, breaker, retry, and logging middleware at
// construction.
type vendor struct {
	name      string
	caps      []schema.Capability
	healthURL string
	secrets   schema.SecretsStore
	client    *Client
	http      *http.Client
	logger    *slog.Logger
	breaker   *CircuitBreaker
	fetch     Fetch
}

func newVendor(name string, caps []schema.Capability, healthURL string, secrets schema.SecretsStore, cfg Config, inner Fetch) *vendor {
	cfg.defaults()
	v := &vendor{
		name:      name,
		caps:      caps,
		healthURL: healthURL,
		secrets:   secrets,
		client:    NewClient(cfg.HTTPClient),
		http:      cfg.HTTPClient,
		logger:    cfg.Logger,
		breaker:   NewCircuitBreaker(),
	}
	v.fetch = Chain(
		Recovery(name, cfg.Logger),
		Logging(name, cfg.Logger),
		WithBreaker(v.breaker, name),
		Retry(cfg.MaxRetries, cfg.Backoff, cfg.Logger),
	)(inner)
	return v
}

func (v *vendor) Name() string                      { return v.name }
func (v *vendor) Capabilities() []schema.Capability { return v.caps }

func (v *vendor) IsConfigured(ctx context.Context, shopID string) (bool, error) {
	return v.secrets.IsProviderConfigured(ctx, shopID, v.name)
}

// Healthcheck probes the vendor endpoint without credentials. Any
// response below 500 counts as reachable; auth failures still prove the
// endpoint is up.
func (v *vendor) Healthcheck(ctx context.Context) schema.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.healthURL, nil)
	if err != nil {
		return schema.HealthStatus{OK: false, Details: map[string]any{"error": err.Error()}}
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return schema.HealthStatus{OK: false, Details: map[string]any{"error": err.Error()}}
	}
	defer resp.Body.Close()
	return schema.HealthStatus{
		OK:      resp.StatusCode < 500,
		Details: map[string]any{"status": resp.StatusCode},
	}
}

func (v *vendor) Fetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	return v.fetch(ctx, req)
}

// secret resolves the API key for the shop carried in ctx.
func (v *vendor) secret(ctx context.Context) (string, error) {
	return v.secrets.GetProviderSecret(ctx, kit.GetShopID(ctx), v.name)
}

// wants reports whether the request asks for the capability. An empty
// request capability list means everything the vendor offers.
func wants(req *schema.Request, cap schema.Capability) bool {
	if len(req.Capabilities) == 0 {
		return true
	}
	for _, c := range req.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// meta stamps a datum with vendor-reported provenance.
func meta(confidence float64, source, currency string) schema.Meta {
	return schema.Meta{
		Confidence: confidence,
		Timestamp:  time.Now().UTC(),
		Currency:   currency,
		Source:     source,
	}
}

// data builds one Datum per extracted item.
func data(provider string, cap schema.Capability, items []map[string]any, m schema.Meta) []schema.Datum {
	out := make([]schema.Datum, 0, len(items))
	for _, item := range items {
		out = append(out, schema.Datum{
			Provider:   provider,
			Capability: cap,
			Payload:    item,
			Meta:       m,
		})
	}
	return out
}
