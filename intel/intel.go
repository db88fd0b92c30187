// Package intel is the intelligence aggregation engine: query planning,
// provider selection, rate/budget-gated execution, result normalization,
// caching, and streaming aggregation.
//
// Construct a Service explicitly and share it; there are no package-level
// singletons. Providers register at startup, the compliance configuration
// arrives at construction, and Start/Close bound the background work.
package intel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/radar/audit"
	"github.com/hazyhaar/radar/digest"
	"github.com/hazyhaar/radar/intel/cache"
	"github.com/hazyhaar/radar/intel/coordinate"
	"github.com/hazyhaar/radar/intel/normalize"
	"github.com/hazyhaar/radar/intel/plan"
	"github.com/hazyhaar/radar/intel/registry"
	"github.com/hazyhaar/radar/intel/stream"
	"github.com/hazyhaar/radar/notify"
)

// Service is the engine orchestrator.
type Service struct {
	registry *registry.Registry
	coord    *coordinate.Coordinator
	cache    *cache.Cache
	planner  *plan.Planner
	executor *stream.Executor

	secrets  SecretsStore
	digester *digest.Summarizer
	notifier *notify.Notifier
	audit    audit.Logger
	logger   *slog.Logger
	config   *Config

	done      chan struct{}
	closeOnce sync.Once
	started   bool
	mu        sync.Mutex
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithAudit sets the audit trail sink.
func WithAudit(l audit.Logger) ServiceOption {
	return func(svc *Service) { svc.audit = l }
}

// WithDigest enables LLM digests over aggregated results.
func WithDigest(s *digest.Summarizer) ServiceOption {
	return func(svc *Service) { svc.digester = s }
}

// WithNotifier enables operational alerts.
func WithNotifier(n *notify.Notifier) ServiceOption {
	return func(svc *Service) { svc.notifier = n }
}

// New creates the engine. secrets is the external per-shop key store;
// providers register afterwards via RegisterProvider.
func New(secrets SecretsStore, cfg *Config, logger *slog.Logger, opts ...ServiceOption) (*Service, error) {
	if secrets == nil {
		return nil, fmt.Errorf("intel: secrets store is required")
	}
	if cfg == nil {
		cfg = defaultConfig()
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}

	svc := &Service{
		secrets: secrets,
		logger:  logger,
		config:  cfg,
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(svc)
	}

	svc.registry = registry.New(cfg.Compliance, registry.WithLogger(logger))
	svc.coord = coordinate.New(cfg.ProviderLimits, cfg.DefaultLimits, coordinate.WithLogger(logger))
	svc.cache = cache.New()
	svc.planner = plan.New(svc.registry, svc.coord, cfg.Tables, plan.WithLogger(logger))
	svc.executor = stream.New(svc.planner, svc.coord, svc.registry, normalize.New(normalize.WithLogger(logger)),
		svc.cache, stream.WithLogger(logger), stream.WithResultTTL(cfg.ResultTTL))
	return svc, nil
}

// Start launches the background loops: cache eviction and, when
// configured, the provider health probe. Idempotent.
func (svc *Service) Start(ctx context.Context) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.started {
		return
	}
	svc.started = true

	svc.cache.StartSweeper(svc.done, svc.config.SweepInterval)
	if svc.config.HealthInterval > 0 {
		go svc.healthLoop(ctx)
	}
	svc.logger.Info("intel: started",
		"sweep_interval", svc.config.SweepInterval.String(),
		"health_interval", svc.config.HealthInterval.String())
}

// Close stops background work. Safe to call more than once.
func (svc *Service) Close() {
	svc.closeOnce.Do(func() { close(svc.done) })
}

// RegisterProvider adds a vendor to the registry, subject to the
// compliance allow-list.
func (svc *Service) RegisterProvider(p Provider) error {
	if err := svc.registry.Add(p); err != nil {
		return err
	}
	svc.auditLog("intel_register_provider", "", map[string]any{"provider": p.Name()})
	return nil
}

// Plan validates the request and builds its query plan without executing
// anything.
func (svc *Service) Plan(ctx context.Context, shopID string, req *Request) (*QueryPlan, error) {
	if err := svc.validateRequest(req); err != nil {
		return nil, err
	}
	return svc.planner.PlanQueries(ctx, shopID, req)
}

// Stream validates the request, then plans and executes it, returning the
// chunk channel the transport drains. The channel closes when the stream
// is over; cancelling ctx stops further work.
func (svc *Service) Stream(ctx context.Context, shopID string, req *Request) (<-chan Chunk, error) {
	if err := svc.validateRequest(req); err != nil {
		return nil, err
	}
	svc.auditLog("intel_stream", shopID, map[string]any{
		"query": req.Query, "domain": req.Domain,
		"product_identifiers": len(req.ProductIdentifiers),
	})
	return svc.executor.Run(ctx, shopID, req), nil
}

// Aggregate is the blocking result of a collected stream.
type Aggregate struct {
	Plan      *QueryPlan        `json:"plan"`
	Results   []NormalizedIntel `json:"results"`
	FromCache bool              `json:"from_cache"`
	TotalCost float64           `json:"total_cost"`
	DurationS float64           `json:"duration_s"`
	Errors    []string          `json:"errors,omitempty"`
	Digest    string            `json:"digest,omitempty"`
}

// Collect runs the request to completion and returns the aggregate in one
// piece, for callers that cannot consume a stream. When a digester is
// configured the aggregate carries an LLM digest; digest failures are
// logged, never fatal.
func (svc *Service) Collect(ctx context.Context, shopID string, req *Request) (*Aggregate, error) {
	ch, err := svc.Stream(ctx, shopID, req)
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{}
	for c := range ch {
		switch c.Type {
		case stream.ChunkPlan:
			agg.Plan = c.Plan
		case stream.ChunkCacheHit:
			agg.Results = c.Results
			agg.FromCache = true
		case stream.ChunkProviderError:
			agg.Errors = append(agg.Errors, fmt.Sprintf("%s: %s", c.Provider, c.Message))
		case stream.ChunkComplete:
			agg.Results = c.Results
			agg.TotalCost = c.TotalCost
			agg.DurationS = c.DurationS
		case stream.ChunkError:
			return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, c.Message)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if svc.digester != nil && len(agg.Results) > 0 {
		subject := req.Domain
		if subject == "" {
			subject = req.Query
		}
		d, err := svc.digester.Summarize(ctx, subject, agg.Results)
		if err != nil {
			svc.logger.Warn("intel: digest failed", "error", err)
		} else {
			agg.Digest = d
		}
	}
	return agg, nil
}

// DiscoveryPlans builds the preset plan batch for a free-text market scan.
func (svc *Service) DiscoveryPlans(ctx context.Context, shopID, query string) ([]*QueryPlan, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	return svc.planner.CreateDiscoveryPlan(ctx, shopID, query)
}

// CompetitorPlans builds the preset plan batch profiling one domain.
func (svc *Service) CompetitorPlans(ctx context.Context, shopID, domain string) ([]*QueryPlan, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrInvalidRequest)
	}
	return svc.planner.CreateCompetitorPlan(ctx, shopID, domain)
}

// LocalPlans builds the preset plan for a market-scoped search.
func (svc *Service) LocalPlans(ctx context.Context, shopID, query, market, locale string) ([]*QueryPlan, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidRequest)
	}
	return svc.planner.CreateLocalPlan(ctx, shopID, query, market, locale)
}

// HealthChecks probes every registered provider concurrently.
func (svc *Service) HealthChecks(ctx context.Context) map[string]HealthStatus {
	return svc.registry.HealthChecks(ctx)
}

// RateLimitStatus snapshots every provider's token bucket.
func (svc *Service) RateLimitStatus() map[string]RateLimitState {
	return svc.coord.RateLimitStatus()
}

// BudgetStatus snapshots every provider's budget.
func (svc *Service) BudgetStatus() map[string]BudgetState {
	return svc.coord.BudgetStatus()
}

// ResetBudget zeroes one provider's spend counter. Administrative.
func (svc *Service) ResetBudget(provider string) {
	svc.coord.ResetBudget(provider)
	svc.auditLog("intel_reset_budget", "", map[string]any{"provider": provider})
}

// Compliance returns the active compliance configuration.
func (svc *Service) Compliance() ComplianceConfig {
	return svc.registry.Compliance()
}

// UpdateCompliance replaces the compliance configuration. Administrative;
// already-registered providers outside a new allow-list stop resolving in
// capability lookups.
func (svc *Service) UpdateCompliance(cfg ComplianceConfig) {
	svc.registry.UpdateCompliance(cfg)
	svc.auditLog("intel_update_compliance", "", map[string]any{
		"allowed_providers": cfg.AllowedProviders,
		"requires_consent":  cfg.RequiresExplicitConsent,
	})
}

// healthLoop probes providers on a ticker and alerts on unhealthy ones.
func (svc *Service) healthLoop(ctx context.Context) {
	tick := time.NewTicker(svc.config.HealthInterval)
	defer tick.Stop()
	for {
		select {
		case <-svc.done:
			return
		case <-ctx.Done():
			return
		case <-tick.C:
			for name, hs := range svc.registry.HealthChecks(ctx) {
				if hs.OK {
					continue
				}
				detail := "unreachable"
				if e, ok := hs.Details["error"].(string); ok && e != "" {
					detail = e
				}
				svc.logger.Warn("intel: provider unhealthy", "provider", name, "detail", detail)
				svc.notifier.HealthAlert(name, detail)
			}
		}
	}
}

// auditLog records a mutating operation. Best-effort, like every audit
// write.
func (svc *Service) auditLog(action, shopID string, params map[string]any) {
	if svc.audit == nil {
		return
	}
	b, _ := json.Marshal(params)
	svc.audit.LogAsync(&audit.Entry{Action: action, ShopID: shopID, Parameters: string(b)})
}
