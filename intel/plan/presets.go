package plan

import (
	"context"

	"github.com/hazyhaar/radar/intel/schema"
)

// The preset constructors build small batches of related requests with
// fixed capability and result-count choices, then plan each one. They are
// composition helpers over PlanQueries, not separate algorithms.

// CreateDiscoveryPlan maps a free-text query to a market scan: a broad
// search-results pass plus a social/review listening pass.
func (p *Planner) CreateDiscoveryPlan(ctx context.Context, shopID, query string) ([]*schema.QueryPlan, error) {
	reqs := []*schema.Request{
		{Query: query, MaxResults: 20},
		{Query: query, MaxResults: 10, Capabilities: []schema.Capability{
			schema.CapSocial, schema.CapReviews,
		}},
	}
	return p.planAll(ctx, shopID, reqs)
}

// CreateCompetitorPlan profiles one competitor domain: overview, pricing
// watch, and reputation.
func (p *Planner) CreateCompetitorPlan(ctx context.Context, shopID, domain string) ([]*schema.QueryPlan, error) {
	reqs := []*schema.Request{
		{Domain: domain, MaxResults: 20},
		{Domain: domain, MaxResults: 50, Capabilities: []schema.Capability{
			schema.CapPricing,
		}},
		{Domain: domain, MaxResults: 10, Capabilities: []schema.Capability{
			schema.CapReviews, schema.CapSocial,
		}},
	}
	return p.planAll(ctx, shopID, reqs)
}

// CreateLocalPlan runs a market-scoped search for one query.
func (p *Planner) CreateLocalPlan(ctx context.Context, shopID, query, market, locale string) ([]*schema.QueryPlan, error) {
	reqs := []*schema.Request{
		{Query: query, Market: market, Locale: locale, MaxResults: 10, Capabilities: []schema.Capability{
			schema.CapSERP, schema.CapReviews,
		}},
	}
	return p.planAll(ctx, shopID, reqs)
}

func (p *Planner) planAll(ctx context.Context, shopID string, reqs []*schema.Request) ([]*schema.QueryPlan, error) {
	plans := make([]*schema.QueryPlan, 0, len(reqs))
	for _, req := range reqs {
		pl, err := p.PlanQueries(ctx, shopID, req)
		if err != nil {
			return nil, err
		}
		plans = append(plans, pl)
	}
	return plans, nil
}
