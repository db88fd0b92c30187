package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/hazyhaar/radar/intel/schema"
)

const similarwebBaseURL = "https://api.similarweb.com"

// SimilarWeb integrates similarweb.com: monthly visit estimates and
// website general data.
type SimilarWeb struct {
	*vendor
	baseURL string
}

// NewSimilarWeb creates the similarweb integration.
func NewSimilarWeb(secrets schema.SecretsStore, cfg Config) *SimilarWeb {
	return newSimilarWeb(secrets, cfg, similarwebBaseURL)
}

func newSimilarWeb(secrets schema.SecretsStore, cfg Config, baseURL string) *SimilarWeb {
	s := &SimilarWeb{baseURL: baseURL}
	s.vendor = newVendor("similarweb",
		[]schema.Capability{schema.CapTraffic, schema.CapCompanyProfile},
		baseURL+"/v1/website/example.com/general-data/all", secrets, cfg, s.doFetch)
	return s
}

func (s *SimilarWeb) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	if req.Domain == "" {
		return nil, fmt.Errorf("providers: similarweb: request has no domain")
	}
	key, err := s.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: similarweb: api key: %w", err)
	}
	params := url.Values{"api_key": {key}, "granularity": {"monthly"}, "main_domain_only": {"true"}}

	var out []schema.Datum
	if wants(req, schema.CapTraffic) {
		items, err := s.client.Items(ctx, APIRequest{
			URL: fmt.Sprintf("%s/v1/website/%s/total-traffic-and-engagement/visits?%s",
				s.baseURL, url.PathEscape(req.Domain), params.Encode()),
			ResultPath: "visits",
			Fields: map[string]string{
				"visits": "visits",
				"period": "date",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("providers: similarweb: traffic: %w", err)
		}
		for _, item := range items {
			item["domain"] = req.Domain
		}
		out = append(out, data("similarweb", schema.CapTraffic, items, meta(0.75, s.baseURL, ""))...)
	}
	if wants(req, schema.CapCompanyProfile) {
		obj, err := s.client.Object(ctx, APIRequest{
			URL: fmt.Sprintf("%s/v1/website/%s/general-data/all?%s",
				s.baseURL, url.PathEscape(req.Domain), params.Encode()),
			Fields: map[string]string{
				"name":        "site_name",
				"description": "description",
				"url":         "site_name",
				"industry":    "category",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("providers: similarweb: profile: %w", err)
		}
		out = append(out, schema.Datum{
			Provider:   "similarweb",
			Capability: schema.CapCompanyProfile,
			Payload:    obj,
			Meta:       meta(0.7, s.baseURL, ""),
		})
	}
	return out, nil
}
