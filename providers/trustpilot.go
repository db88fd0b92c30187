package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hazyhaar/radar/intel/schema"
)

const trustpilotBaseURL = "https://api.trustpilot.com"

// Trustpilot integrates trustpilot.com consumer reviews. Lookup is
// two-step: resolve the business unit for the domain, then page its
// reviews.
type Trustpilot struct {
	*vendor
	baseURL string
}

// NewTrustpilot creates the trustpilot integration.
func NewTrustpilot(secrets schema.SecretsStore, cfg Config) *Trustpilot {
	return newTrustpilot(secrets, cfg, trustpilotBaseURL)
}

func newTrustpilot(secrets schema.SecretsStore, cfg Config, baseURL string) *Trustpilot {
	t := &Trustpilot{baseURL: baseURL}
	t.vendor = newVendor("trustpilot",
		[]schema.Capability{schema.CapReviews},
		baseURL+"/v1/resources/metadata/categories", secrets, cfg, t.doFetch)
	return t
}

func (t *Trustpilot) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	target := req.Domain
	if target == "" {
		target = req.Query
	}
	if target == "" {
		return nil, fmt.Errorf("providers: trustpilot: request has no domain or query")
	}
	key, err := t.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: trustpilot: api key: %w", err)
	}
	headers := map[string]string{"apikey": key}

	unit, err := t.client.Object(ctx, APIRequest{
		URL:     t.baseURL + "/v1/business-units/find?name=" + url.QueryEscape(target),
		Headers: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("providers: trustpilot: find business unit: %w", err)
	}
	unitID, _ := unit["id"].(string)
	if unitID == "" {
		return nil, fmt.Errorf("providers: trustpilot: no business unit for %q", target)
	}

	params := url.Values{"perPage": {fmt.Sprint(req.MaxResults)}, "orderBy": {"createdat.desc"}}
	items, err := t.client.Items(ctx, APIRequest{
		URL:        fmt.Sprintf("%s/v1/business-units/%s/reviews?%s", t.baseURL, unitID, params.Encode()),
		Headers:    headers,
		ResultPath: "reviews",
		Fields: map[string]string{
			"title":  "title",
			"text":   "text",
			"rating": "stars",
			"date":   "createdAt",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("providers: trustpilot: reviews: %w", err)
	}
	return data("trustpilot", schema.CapReviews, items, meta(0.8, t.baseURL, "")), nil
}
