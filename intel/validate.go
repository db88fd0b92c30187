package intel

import (
	"fmt"
	"strings"
)

// validateRequest rejects requests the planner could only misinterpret.
// Field synthesis (market, maxResults) stays in the planner; validation
// only rejects, never mutates.
func (svc *Service) validateRequest(req *Request) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if req.Query == "" && req.Domain == "" && len(req.ProductIdentifiers) == 0 {
		return fmt.Errorf("%w: needs a query, a domain, or product identifiers", ErrInvalidRequest)
	}
	if req.MaxResults < 0 {
		return fmt.Errorf("%w: negative maxResults", ErrInvalidRequest)
	}
	if req.MaxResults > svc.config.MaxResultsCeiling {
		return fmt.Errorf("%w: maxResults %d exceeds ceiling %d",
			ErrInvalidRequest, req.MaxResults, svc.config.MaxResultsCeiling)
	}
	for _, c := range req.Capabilities {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown capability %q", ErrInvalidRequest, string(c))
		}
	}
	if tr := req.TimeRange; tr != nil && !tr.To.IsZero() && tr.From.After(tr.To) {
		return fmt.Errorf("%w: time range from after to", ErrInvalidRequest)
	}
	compliance := svc.registry.Compliance()
	if req.Market != "" {
		for _, region := range compliance.BlockedRegions {
			if strings.EqualFold(region, req.Market) {
				return fmt.Errorf("%w: market %q is blocked by compliance policy", ErrInvalidRequest, req.Market)
			}
		}
	}
	if compliance.RequiresExplicitConsent && !req.HasUserConsent {
		return ErrConsentRequired
	}
	return nil
}
