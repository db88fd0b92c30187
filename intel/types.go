package intel

import (
	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/registry"
	"github.com/hazyhaar/radar/intel/schema"
	"github.com/hazyhaar/radar/intel/stream"
)

// Re-exported domain types. The subpackages own the definitions;
// callers only ever import intel.

type (
	Capability      = schema.Capability
	TimeRange       = schema.TimeRange
	Request         = schema.Request
	Meta            = schema.Meta
	Datum           = schema.Datum
	NormalizedIntel = schema.NormalizedIntel
	CacheStrategy   = schema.CacheStrategy
	QueryPlan       = schema.QueryPlan
	HealthStatus    = schema.HealthStatus
	SecretsStore    = schema.SecretsStore
	Provider        = schema.Provider

	ComplianceConfig = registry.ComplianceConfig
	Limits           = coordinate.Limits
	RateLimitState   = coordinate.RateLimitState
	BudgetState      = coordinate.BudgetState
	Decision         = coordinate.Decision

	Chunk = stream.Chunk
)

const (
	CapKeywords       = schema.CapKeywords
	CapTraffic        = schema.CapTraffic
	CapPricing        = schema.CapPricing
	CapSERP           = schema.CapSERP
	CapReviews        = schema.CapReviews
	CapSocial         = schema.CapSocial
	CapCompanyProfile = schema.CapCompanyProfile

	CacheFirst   = schema.CacheFirst
	NetworkFirst = schema.NetworkFirst
	NoCache      = schema.NoCache
)

// AllCapabilities lists every known capability tag.
var AllCapabilities = schema.AllCapabilities
