package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hazyhaar/radar/intel/schema"
)

const serpapiBaseURL = "https://serpapi.com"

// SerpAPI integrates serpapi.com: Google organic results and related
// search terms.
type SerpAPI struct {
	*vendor
	baseURL string
}

// NewSerpAPI creates the serpapi integration.
func NewSerpAPI(secrets schema.SecretsStore, cfg Config) *SerpAPI {
	return newSerpAPI(secrets, cfg, serpapiBaseURL)
}

func newSerpAPI(secrets schema.SecretsStore, cfg Config, baseURL string) *SerpAPI {
	s := &SerpAPI{baseURL: baseURL}
	s.vendor = newVendor("serpapi",
		[]schema.Capability{schema.CapSERP, schema.CapKeywords},
		baseURL+"/search.json", secrets, cfg, s.doFetch)
	return s
}

func (s *SerpAPI) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	key, err := s.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: serpapi: api key: %w", err)
	}

	q := req.Query
	if q == "" {
		q = "site:" + req.Domain
	}
	params := url.Values{
		"q":       {q},
		"num":     {strconv.Itoa(req.MaxResults)},
		"api_key": {key},
	}
	if req.Market != "" {
		params.Set("gl", req.Market)
	}
	if req.Locale != "" {
		params.Set("hl", req.Locale)
	}
	endpoint := s.baseURL + "/search.json?" + params.Encode()

	var out []schema.Datum
	if wants(req, schema.CapSERP) {
		items, err := s.client.Items(ctx, APIRequest{
			URL:        endpoint,
			ResultPath: "organic_results",
			Fields: map[string]string{
				"title":    "title",
				"snippet":  "snippet",
				"url":      "link",
				"position": "position",
			},
		})
		if err != nil {
			return nil, fmt.Errorf("providers: serpapi: serp: %w", err)
		}
		out = append(out, data("serpapi", schema.CapSERP, items, meta(0.9, s.baseURL, ""))...)
	}
	if wants(req, schema.CapKeywords) {
		items, err := s.client.Items(ctx, APIRequest{
			URL:        endpoint,
			ResultPath: "related_searches",
			Fields: map[string]string{
				"keyword": "query",
				"url":     "link",
			},
		})
		if err != nil {
			// Related searches are absent for many queries. Keep whatever
			// the serp pass produced.
			s.logger.DebugContext(ctx, "serpapi: no related searches", "error", err)
		} else {
			out = append(out, data("serpapi", schema.CapKeywords, items, meta(0.6, s.baseURL, ""))...)
		}
	}
	return out, nil
}
