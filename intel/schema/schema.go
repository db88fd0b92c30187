// Package schema defines the data model shared by the intel engine:
// capabilities, requests, raw and normalized intelligence records, query
// plans, and the provider contract.
package schema

import (
	"context"
	"time"
)

// Capability is a tagged category of intelligence data that a provider can
// supply. Used as the unit of provider capability and routing.
type Capability string

const (
	CapKeywords       Capability = "keywords"
	CapTraffic        Capability = "traffic"
	CapPricing        Capability = "pricing"
	CapSERP           Capability = "serp"
	CapReviews        Capability = "reviews"
	CapSocial         Capability = "social"
	CapCompanyProfile Capability = "company_profile"
)

// AllCapabilities lists every known capability tag.
var AllCapabilities = []Capability{
	CapKeywords, CapTraffic, CapPricing, CapSERP,
	CapReviews, CapSocial, CapCompanyProfile,
}

// Valid reports whether c is a known capability tag.
func (c Capability) Valid() bool {
	for _, k := range AllCapabilities {
		if c == k {
			return true
		}
	}
	return false
}

// TimeRange bounds a request to an observation window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Request describes one intelligence gathering request. At least one of
// Query or Domain must be set; missing fields are synthesized by the
// planner (market default, MaxResults default 20).
type Request struct {
	Query              string       `json:"query,omitempty"`
	Domain             string       `json:"domain,omitempty"`
	Market             string       `json:"market,omitempty"`
	Locale             string       `json:"locale,omitempty"`
	MaxResults         int          `json:"max_results,omitempty"`
	ProductIdentifiers []string     `json:"product_identifiers,omitempty"`
	Capabilities       []Capability `json:"capabilities,omitempty"`
	HasUserConsent     bool         `json:"has_user_consent,omitempty"`
	TimeRange          *TimeRange   `json:"time_range,omitempty"`
}

// Meta carries provider-reported metadata for one datum.
type Meta struct {
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
	Currency   string    `json:"currency,omitempty"`
	Source     string    `json:"source"`
}

// Datum is raw provider output: one vendor-specific payload plus routing
// and provenance fields.
type Datum struct {
	Provider   string     `json:"provider"`
	Capability Capability `json:"capability"`
	Payload    any        `json:"payload"`
	Meta       Meta       `json:"meta"`
}

// NormalizedIntel is the canonical post-normalization record. It is the
// only type that crosses the cache boundary or reaches the caller.
type NormalizedIntel struct {
	Provider   string     `json:"provider"`
	Capability Capability `json:"capability"`
	Title      string     `json:"title,omitempty"`
	Text       string     `json:"text,omitempty"`
	URL        string     `json:"url,omitempty"`
	Value      float64    `json:"value,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
	Source     string     `json:"source"`
}

// CacheStrategy tells the executor whether to consult the cache before
// fanning out to providers.
type CacheStrategy string

const (
	CacheFirst   CacheStrategy = "cache_first"
	NetworkFirst CacheStrategy = "network_first"
	NoCache      CacheStrategy = "no_cache"
)

// QueryPlan is the output of planning: the precomputed capability set,
// provider selection, estimates, and cache strategy for one request.
// Immutable once produced; consumed exactly once by the executor.
type QueryPlan struct {
	RequestID         string        `json:"request_id"`
	Capabilities      []Capability  `json:"capabilities"`
	SelectedProviders []string      `json:"selected_providers"`
	EstimatedCost     float64       `json:"estimated_cost"`
	EstimatedDuration float64       `json:"estimated_duration_s"`
	CacheStrategy     CacheStrategy `json:"cache_strategy"`
	RateLimitWarnings []string      `json:"rate_limit_warnings,omitempty"`
}

// HealthStatus is the outcome of one provider health check.
type HealthStatus struct {
	OK      bool           `json:"ok"`
	Details map[string]any `json:"details,omitempty"`
}

// SecretsStore is the external collaborator holding per-shop provider API
// keys. The engine only ever derives booleans and header values from it;
// secret management itself lives outside the engine.
type SecretsStore interface {
	IsProviderConfigured(ctx context.Context, shopID, provider string) (bool, error)
	GetProviderSecret(ctx context.Context, shopID, provider string) (string, error)
}

// Provider is the contract every vendor integration implements. New
// vendors are added by implementing this interface and registering the
// instance, never by modifying the planner or coordinator.
type Provider interface {
	// Name returns the unique vendor name.
	Name() string
	// Capabilities returns the capability tags this vendor can supply.
	Capabilities() []Capability
	// IsConfigured reports whether the vendor is usable for the shop
	// (typically: an API key is present in the secret store).
	IsConfigured(ctx context.Context, shopID string) (bool, error)
	// Healthcheck probes the vendor endpoint.
	Healthcheck(ctx context.Context) HealthStatus
	// Fetch retrieves raw intelligence for the request.
	Fetch(ctx context.Context, req *Request) ([]Datum, error)
}
