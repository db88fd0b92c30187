// Package registry holds the set of registered intelligence providers and
// enforces the compliance allow-list that gates registration and lookup.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/hazyhaar/radar/intel/schema"
)

// ComplianceConfig gates provider registration and capability lookup.
// Process-wide, set at construction, mutable only through Update. Not
// persisted: it must be re-supplied on every process start.
type ComplianceConfig struct {
	AllowedProviders        []string `json:"allowed_providers" yaml:"allowed_providers"`
	BlockedRegions          []string `json:"blocked_regions" yaml:"blocked_regions"`
	RequiresExplicitConsent bool     `json:"requires_explicit_consent" yaml:"requires_explicit_consent"`
	RobotsTxtRespect        bool     `json:"robots_txt_respect" yaml:"robots_txt_respect"`
}

func (c ComplianceConfig) allows(name string) bool {
	if len(c.AllowedProviders) == 0 {
		return true
	}
	for _, p := range c.AllowedProviders {
		if p == name {
			return true
		}
	}
	return false
}

// ErrNotAllowed is returned when a provider outside the compliance
// allow-list is registered.
type ErrNotAllowed struct {
	Provider string
}

func (e *ErrNotAllowed) Error() string {
	return fmt.Sprintf("registry: provider not in compliance allow-list: %s", e.Provider)
}

// Registry is the provider registry. Thread-safe: reads use RLock,
// registration and compliance updates use a full Lock.
type Registry struct {
	mu         sync.RWMutex
	providers  map[string]schema.Provider
	compliance ComplianceConfig
	logger     *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry with the given compliance configuration.
func New(compliance ComplianceConfig, opts ...Option) *Registry {
	r := &Registry{
		providers:  make(map[string]schema.Provider),
		compliance: compliance,
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Add registers a provider. It fails with ErrNotAllowed if the provider's
// name is outside a non-empty allow-list. Re-registering the same name
// overwrites the prior entry.
func (r *Registry) Add(p schema.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.compliance.allows(p.Name()) {
		return &ErrNotAllowed{Provider: p.Name()}
	}
	if _, exists := r.providers[p.Name()]; exists {
		r.logger.Warn("registry: provider overwritten", "provider", p.Name())
	}
	r.providers[p.Name()] = p
	r.logger.Info("registry: provider registered",
		"provider", p.Name(), "capabilities", p.Capabilities())
	return nil
}

// Get returns a registered provider by name, or nil.
func (r *Registry) Get(name string) schema.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[name]
}

// ByCapability returns all allowed providers whose capability set contains
// the tag, sorted by name for deterministic iteration.
func (r *Registry) ByCapability(cap schema.Capability) []schema.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []schema.Provider
	for _, p := range r.providers {
		if !r.compliance.allows(p.Name()) {
			continue
		}
		for _, c := range p.Capabilities() {
			if c == cap {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// All returns every registered provider, sorted by name.
func (r *Registry) All() []schema.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]schema.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Configured filters all registered providers by IsConfigured for the shop.
// Each provider is checked independently: one failing check never skips the
// rest, it only excludes that provider.
func (r *Registry) Configured(ctx context.Context, shopID string) []schema.Provider {
	var out []schema.Provider
	for _, p := range r.All() {
		ok, err := p.IsConfigured(ctx, shopID)
		if err != nil {
			r.logger.Warn("registry: configured check failed",
				"provider", p.Name(), "shop_id", shopID, "error", err)
			continue
		}
		if ok {
			out = append(out, p)
		}
	}
	return out
}

// HealthChecks invokes every provider's healthcheck concurrently. A panic
// or failure in one provider is captured and reported as {ok:false} for
// that provider only — it never aborts the others.
func (r *Registry) HealthChecks(ctx context.Context) map[string]schema.HealthStatus {
	providers := r.All()

	type result struct {
		name   string
		status schema.HealthStatus
	}
	results := make(chan result, len(providers))

	for _, p := range providers {
		go func(p schema.Provider) {
			defer func() {
				if rec := recover(); rec != nil {
					results <- result{p.Name(), schema.HealthStatus{
						OK:      false,
						Details: map[string]any{"error": fmt.Sprintf("panic: %v", rec)},
					}}
				}
			}()
			results <- result{p.Name(), p.Healthcheck(ctx)}
		}(p)
	}

	out := make(map[string]schema.HealthStatus, len(providers))
	for range providers {
		res := <-results
		out[res.name] = res.status
	}
	return out
}

// Compliance returns a copy of the current compliance configuration.
func (r *Registry) Compliance() ComplianceConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.compliance
}

// UpdateCompliance replaces the compliance configuration. Providers already
// registered but no longer allowed stop being returned by ByCapability.
func (r *Registry) UpdateCompliance(cfg ComplianceConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compliance = cfg
	r.logger.Info("registry: compliance updated",
		"allowed", len(cfg.AllowedProviders), "blocked_regions", len(cfg.BlockedRegions))
}
