// Package plan maps an intelligence request to a QueryPlan: the required
// capabilities, the providers selected to supply them, cost and duration
// estimates, a cache strategy, and advisory rate/budget warnings.
//
// Planning performs no I/O beyond per-provider IsConfigured checks. It
// never calls a provider endpoint.
package plan

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/hazyhaar/radar/idgen"
	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/schema"
)

const (
	defaultMarket     = "us"
	defaultMaxResults = 20

	// unknownBaseCost prices a provider absent from the cost table.
	unknownBaseCost = 0.05
	// unknownDuration estimates a provider absent from the duration table.
	unknownDuration = 3.0
	// parallelOverhead covers planning and aggregation latency on top of
	// the slowest provider. Execution is parallel, so total latency is
	// bounded by the slowest provider, not the sum.
	parallelOverhead = 2.0

	perCapabilityCeiling = 2
	lowTokenThreshold    = 5
	highUtilizationPct   = 80
	lowRemainingBudget   = 10
)

// Tables is the static provider-quality lookup data. Ranked vendors sort
// before unranked ones; adding a provider is a data change, not a code
// change.
type Tables struct {
	// Rank lists vendors in preference order per capability.
	Rank map[schema.Capability][]string `yaml:"rank"`
	// BaseCost is dollars per call at maxResults=20.
	BaseCost map[string]float64 `yaml:"base_cost"`
	// Duration is the per-call latency estimate in seconds.
	Duration map[string]float64 `yaml:"duration_s"`
}

// DefaultTables returns the built-in ranking and estimate tables for the
// shipped vendor set.
func DefaultTables() Tables {
	return Tables{
		Rank: map[schema.Capability][]string{
			schema.CapSERP:           {"serpapi", "dataforseo", "serpscrape"},
			schema.CapKeywords:       {"dataforseo", "serpapi"},
			schema.CapTraffic:        {"similarweb"},
			schema.CapPricing:        {"priceapi", "dataforseo"},
			schema.CapReviews:        {"trustpilot"},
			schema.CapSocial:         {"socialsearcher"},
			schema.CapCompanyProfile: {"clearbit", "similarweb"},
		},
		BaseCost: map[string]float64{
			"serpapi":        0.10,
			"dataforseo":     0.06,
			"similarweb":     0.25,
			"trustpilot":     0.08,
			"socialsearcher": 0.04,
			"clearbit":       0.20,
			"priceapi":       0.12,
			"serpscrape":     0.01,
		},
		Duration: map[string]float64{
			"serpapi":        2,
			"dataforseo":     4,
			"similarweb":     3,
			"trustpilot":     3,
			"socialsearcher": 2,
			"clearbit":       1,
			"priceapi":       5,
			"serpscrape":     8,
		},
	}
}

// ProviderSource answers capability lookups. Satisfied by the registry.
type ProviderSource interface {
	ByCapability(cap schema.Capability) []schema.Provider
}

// StatusSource exposes the coordinator snapshots consulted for warnings.
type StatusSource interface {
	RateLimitStatus() map[string]coordinate.RateLimitState
	BudgetStatus() map[string]coordinate.BudgetState
}

// Planner builds QueryPlans. Construct once and share; all state is
// read-only after New.
type Planner struct {
	source ProviderSource
	status StatusSource
	tables Tables
	logger *slog.Logger
	newID  idgen.Generator
	now    func() time.Time // injectable clock for testing
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Planner) { p.logger = l }
}

// WithIDGenerator sets a custom request ID generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(p *Planner) { p.newID = g }
}

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(p *Planner) { p.now = fn }
}

// New creates a Planner over the given provider source and coordinator
// snapshots. Zero-valued tables fall back to DefaultTables.
func New(source ProviderSource, status StatusSource, tables Tables, opts ...Option) *Planner {
	def := DefaultTables()
	if tables.Rank == nil {
		tables.Rank = def.Rank
	}
	if tables.BaseCost == nil {
		tables.BaseCost = def.BaseCost
	}
	if tables.Duration == nil {
		tables.Duration = def.Duration
	}
	p := &Planner{
		source: source,
		status: status,
		tables: tables,
		logger: slog.Default(),
		newID:  idgen.Default,
		now:    time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PlanQueries builds the QueryPlan for one request. Missing request fields
// are synthesized (market default, maxResults default 20); the input is
// not mutated.
func (p *Planner) PlanQueries(ctx context.Context, shopID string, req *schema.Request) (*schema.QueryPlan, error) {
	if req == nil {
		return nil, fmt.Errorf("plan: nil request")
	}
	if req.Query == "" && req.Domain == "" && len(req.ProductIdentifiers) == 0 {
		return nil, fmt.Errorf("plan: request needs a query, a domain, or product identifiers")
	}

	r := *req
	if r.Market == "" {
		r.Market = defaultMarket
	}
	if r.MaxResults <= 0 {
		r.MaxResults = defaultMaxResults
	}

	caps := Capabilities(&r)
	selected := p.selectProviders(ctx, shopID, &r, caps)

	plan := &schema.QueryPlan{
		RequestID:         p.newID(),
		Capabilities:      caps,
		SelectedProviders: selected,
		EstimatedCost:     p.estimateCost(selected, r.MaxResults),
		EstimatedDuration: p.estimateDuration(selected),
		CacheStrategy:     p.cacheStrategy(&r),
		RateLimitWarnings: p.warnings(selected),
	}

	p.logger.Debug("plan: built",
		"request_id", plan.RequestID,
		"capabilities", len(plan.Capabilities),
		"providers", plan.SelectedProviders,
		"estimated_cost", plan.EstimatedCost,
		"cache_strategy", string(plan.CacheStrategy))
	return plan, nil
}

// Capabilities determines the required capability set for a request. The
// result is a pure function of the request: discovered capabilities are
// unioned with any explicitly requested ones, and serp is always included.
// Explicit capabilities never narrow the discovered set.
func Capabilities(req *schema.Request) []schema.Capability {
	set := make(map[schema.Capability]bool)
	if req.Domain != "" {
		for _, c := range []schema.Capability{
			schema.CapTraffic, schema.CapKeywords, schema.CapReviews,
			schema.CapCompanyProfile, schema.CapSocial,
		} {
			set[c] = true
		}
	}
	if req.Query != "" && req.Domain == "" {
		set[schema.CapSERP] = true
		set[schema.CapKeywords] = true
		set[schema.CapSocial] = true
	}
	if len(req.ProductIdentifiers) > 0 {
		set[schema.CapPricing] = true
		set[schema.CapReviews] = true
	}
	set[schema.CapSERP] = true
	for _, c := range req.Capabilities {
		if c.Valid() {
			set[c] = true
		}
	}

	// Canonical order keeps plans deterministic.
	out := make([]schema.Capability, 0, len(set))
	for _, c := range schema.AllCapabilities {
		if set[c] {
			out = append(out, c)
		}
	}
	return out
}

// selectProviders picks at most perCapabilityCeiling configured providers
// per capability, deduplicated across capabilities, and stops at the
// request-wide cap (2 below 50 results, 3 at or above).
func (p *Planner) selectProviders(ctx context.Context, shopID string, req *schema.Request, caps []schema.Capability) []string {
	requestCap := 2
	if req.MaxResults >= 50 {
		requestCap = 3
	}

	seen := make(map[string]bool)
	var selected []string
	for _, cap := range caps {
		if len(selected) >= requestCap {
			break
		}
		candidates := p.configured(ctx, shopID, cap)
		p.rank(cap, candidates)
		taken := 0
		for _, name := range candidates {
			if taken >= perCapabilityCeiling || len(selected) >= requestCap {
				break
			}
			taken++
			if seen[name] {
				continue
			}
			seen[name] = true
			selected = append(selected, name)
		}
	}
	return selected
}

// configured filters the capability's providers to those configured for
// the shop. Check failures count as not configured.
func (p *Planner) configured(ctx context.Context, shopID string, cap schema.Capability) []string {
	var names []string
	for _, prov := range p.source.ByCapability(cap) {
		ok, err := prov.IsConfigured(ctx, shopID)
		if err != nil {
			p.logger.Warn("plan: configuration check failed",
				"provider", prov.Name(), "shop_id", shopID, "error", err)
			continue
		}
		if ok {
			names = append(names, prov.Name())
		}
	}
	return names
}

// rank sorts names in place: vendors in the capability's rank table first,
// in table order, then unranked vendors alphabetically.
func (p *Planner) rank(cap schema.Capability, names []string) {
	pos := make(map[string]int)
	for i, name := range p.tables.Rank[cap] {
		pos[name] = i
	}
	const unranked = 1 << 30
	at := func(name string) int {
		if i, ok := pos[name]; ok {
			return i
		}
		return unranked
	}
	sort.SliceStable(names, func(i, j int) bool {
		pi, pj := at(names[i]), at(names[j])
		if pi != pj {
			return pi < pj
		}
		return names[i] < names[j]
	})
}

// estimateCost sums per-provider base cost scaled by result volume,
// rounded to cents.
func (p *Planner) estimateCost(selected []string, maxResults int) float64 {
	scale := math.Min(float64(maxResults)/float64(defaultMaxResults), 2)
	total := 0.0
	for _, name := range selected {
		base, ok := p.tables.BaseCost[name]
		if !ok {
			base = unknownBaseCost
		}
		total += base * scale
	}
	return math.Round(total*100) / 100
}

// estimateDuration is the slowest selected provider plus fixed overhead.
func (p *Planner) estimateDuration(selected []string) float64 {
	if len(selected) == 0 {
		return 0
	}
	slowest := 0.0
	for _, name := range selected {
		d, ok := p.tables.Duration[name]
		if !ok {
			d = unknownDuration
		}
		if d > slowest {
			slowest = d
		}
	}
	return slowest + parallelOverhead
}

// cacheStrategy prefers the network when freshness matters: product
// pricing must be live, and a sub-day observation window implies the
// caller wants current data.
func (p *Planner) cacheStrategy(req *schema.Request) schema.CacheStrategy {
	if len(req.ProductIdentifiers) > 0 {
		return schema.NetworkFirst
	}
	if req.TimeRange != nil && p.now().Sub(req.TimeRange.From) < 24*time.Hour {
		return schema.NetworkFirst
	}
	return schema.CacheFirst
}

// warnings consults coordinator snapshots for each selected provider.
// Advisory only: warnings never block plan construction.
func (p *Planner) warnings(selected []string) []string {
	if p.status == nil {
		return nil
	}
	rates := p.status.RateLimitStatus()
	budgets := p.status.BudgetStatus()
	var out []string
	for _, name := range selected {
		if st, ok := rates[name]; ok && st.AvailableTokens < lowTokenThreshold {
			out = append(out, fmt.Sprintf("%s: only %d rate-limit tokens left (resets %s)",
				name, st.AvailableTokens, st.ResetAt.Format(time.RFC3339)))
		}
		if b, ok := budgets[name]; ok {
			if b.UtilizationPercent > highUtilizationPct {
				out = append(out, fmt.Sprintf("%s: budget %.0f%% utilized ($%.2f of $%.2f)",
					name, b.UtilizationPercent, b.Spent, b.Limit))
			}
			if b.Remaining < lowRemainingBudget {
				out = append(out, fmt.Sprintf("%s: only $%.2f budget remaining", name, b.Remaining))
			}
		}
	}
	return out
}
