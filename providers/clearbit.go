package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hazyhaar/radar/intel/schema"
)

const clearbitBaseURL = "https://company.clearbit.com"

// Clearbit integrates clearbit.com company enrichment.
type Clearbit struct {
	*vendor
	baseURL string
}

// NewClearbit creates the clearbit integration.
func NewClearbit(secrets schema.SecretsStore, cfg Config) *Clearbit {
	return newClearbit(secrets, cfg, clearbitBaseURL)
}

func newClearbit(secrets schema.SecretsStore, cfg Config, baseURL string) *Clearbit {
	c := &Clearbit{baseURL: baseURL}
	c.vendor = newVendor("clearbit",
		[]schema.Capability{schema.CapCompanyProfile},
		baseURL+"/v2/companies/find", secrets, cfg, c.doFetch)
	return c
}

func (c *Clearbit) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	if req.Domain == "" {
		return nil, fmt.Errorf("providers: clearbit: request has no domain")
	}
	key, err := c.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: clearbit: api key: %w", err)
	}

	obj, err := c.client.Object(ctx, APIRequest{
		URL:     c.baseURL + "/v2/companies/find?domain=" + url.QueryEscape(req.Domain),
		Headers: map[string]string{"Authorization": "Bearer " + key},
	})
	if err != nil {
		return nil, fmt.Errorf("providers: clearbit: %w", err)
	}

	// Flatten the nested fields the normalizer knows about.
	payload := map[string]any{
		"name":        obj["name"],
		"description": obj["description"],
		"url":         obj["domain"],
		"founded":     obj["foundedYear"],
	}
	if metrics, ok := obj["metrics"].(map[string]any); ok {
		payload["employees"] = metrics["employees"]
		payload["revenue"] = metrics["estimatedAnnualRevenue"]
	}
	if cat, ok := obj["category"].(map[string]any); ok {
		payload["industry"] = cat["industry"]
	}
	if geo, ok := obj["geo"].(map[string]any); ok {
		payload["location"] = geo["city"]
	}

	return []schema.Datum{{
		Provider:   "clearbit",
		Capability: schema.CapCompanyProfile,
		Payload:    payload,
		Meta:       meta(0.85, c.baseURL, ""),
	}}, nil
}
