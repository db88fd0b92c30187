package intel

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/radar/kit"
)

// RegisterMCP registers the engine's tools on an MCP server.
func (svc *Service) RegisterMCP(srv *mcp.Server) {
	svc.registerPlan(srv)
	svc.registerCollect(srv)
	svc.registerHealth(srv)
	svc.registerBudgetStatus(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// mcpRequest is the shared argument shape of plan and collect tools.
type mcpRequest struct {
	ShopID             string   `json:"shop_id"`
	Query              string   `json:"query,omitempty"`
	Domain             string   `json:"domain,omitempty"`
	Market             string   `json:"market,omitempty"`
	Locale             string   `json:"locale,omitempty"`
	MaxResults         int      `json:"max_results,omitempty"`
	ProductIdentifiers []string `json:"product_identifiers,omitempty"`
	Capabilities       []string `json:"capabilities,omitempty"`
	HasUserConsent     bool     `json:"has_user_consent,omitempty"`
}

func (m *mcpRequest) toRequest() *Request {
	caps := make([]Capability, 0, len(m.Capabilities))
	for _, c := range m.Capabilities {
		caps = append(caps, Capability(c))
	}
	return &Request{
		Query:              m.Query,
		Domain:             m.Domain,
		Market:             m.Market,
		Locale:             m.Locale,
		MaxResults:         m.MaxResults,
		ProductIdentifiers: m.ProductIdentifiers,
		Capabilities:       caps,
		HasUserConsent:     m.HasUserConsent,
	}
}

var requestProperties = map[string]any{
	"shop_id":             map[string]any{"type": "string", "description": "Shop ID"},
	"query":               map[string]any{"type": "string", "description": "Free-text query"},
	"domain":              map[string]any{"type": "string", "description": "Competitor domain"},
	"market":              map[string]any{"type": "string", "description": "Market country code"},
	"locale":              map[string]any{"type": "string", "description": "Locale code"},
	"max_results":         map[string]any{"type": "integer", "description": "Result count per provider"},
	"product_identifiers": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "GTIN/SKU identifiers"},
	"capabilities":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Explicit capability tags"},
	"has_user_consent":    map[string]any{"type": "boolean", "description": "Explicit user consent flag"},
}

func decodeMCPRequest(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
	var p mcpRequest
	if err := json.Unmarshal(r.Params.Arguments, &p); err != nil {
		return nil, err
	}
	return &kit.MCPDecodeResult{
		Request: &p,
		EnrichCtx: func(ctx context.Context) context.Context {
			return kit.WithShopID(ctx, p.ShopID)
		},
	}, nil
}

func (svc *Service) registerPlan(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "radar_plan",
		Description: "Build the query plan for an intelligence request without executing it",
		InputSchema: inputSchema(requestProperties, []string{"shop_id"}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*mcpRequest)
		return svc.Plan(ctx, p.ShopID, p.toRequest())
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeMCPRequest)
}

func (svc *Service) registerCollect(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "radar_collect",
		Description: "Plan and execute an intelligence request, returning the full aggregate",
		InputSchema: inputSchema(requestProperties, []string{"shop_id"}),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		p := r.(*mcpRequest)
		return svc.Collect(ctx, p.ShopID, p.toRequest())
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decodeMCPRequest)
}

func (svc *Service) registerHealth(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "radar_health",
		Description: "Probe every registered provider's health",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return svc.HealthChecks(ctx), nil
	}
	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (svc *Service) registerBudgetStatus(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "radar_budget_status",
		Description: "Snapshot per-provider rate-limit tokens and budget utilization",
		InputSchema: inputSchema(map[string]any{}, nil),
	}
	endpoint := func(ctx context.Context, r any) (any, error) {
		return map[string]any{
			"rate_limits": svc.RateLimitStatus(),
			"budgets":     svc.BudgetStatus(),
		}, nil
	}
	decode := func(r *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: struct{}{}}, nil
	}
	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
