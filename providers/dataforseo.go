package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hazyhaar/radar/intel/schema"
)

const dataforseoBaseURL = "https://api.dataforseo.com"

// DataForSEO integrates dataforseo.com: organic SERP, keyword search
// volume, and Google Shopping product pricing. The secret is stored as
// "login:password".
type DataForSEO struct {
	*vendor
	baseURL string
}

// NewDataForSEO creates the dataforseo integration.
func NewDataForSEO(secrets schema.SecretsStore, cfg Config) *DataForSEO {
	return newDataForSEO(secrets, cfg, dataforseoBaseURL)
}

func newDataForSEO(secrets schema.SecretsStore, cfg Config, baseURL string) *DataForSEO {
	d := &DataForSEO{baseURL: baseURL}
	d.vendor = newVendor("dataforseo",
		[]schema.Capability{schema.CapSERP, schema.CapKeywords, schema.CapPricing},
		baseURL+"/v3/appendix/status", secrets, cfg, d.doFetch)
	return d
}

func (d *DataForSEO) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	secret, err := d.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: dataforseo: credentials: %w", err)
	}
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(secret))

	q := req.Query
	if q == "" {
		q = req.Domain
	}

	var out []schema.Datum
	if wants(req, schema.CapSERP) {
		items, err := d.post(ctx, auth, "/v3/serp/google/organic/live/regular",
			map[string]any{"keyword": q, "depth": req.MaxResults, "language_code": req.Locale},
			"tasks.0.result.0.items",
			map[string]string{
				"title":    "title",
				"snippet":  "description",
				"url":      "url",
				"position": "rank_absolute",
			})
		if err != nil {
			return nil, fmt.Errorf("providers: dataforseo: serp: %w", err)
		}
		out = append(out, data("dataforseo", schema.CapSERP, items, meta(0.85, d.baseURL, ""))...)
	}
	if wants(req, schema.CapKeywords) {
		items, err := d.post(ctx, auth, "/v3/keywords_data/google_ads/search_volume/live",
			map[string]any{"keywords": []string{q}},
			"tasks.0.result",
			map[string]string{
				"keyword":     "keyword",
				"volume":      "search_volume",
				"cpc":         "cpc",
				"competition": "competition",
			})
		if err != nil {
			return nil, fmt.Errorf("providers: dataforseo: keywords: %w", err)
		}
		out = append(out, data("dataforseo", schema.CapKeywords, items, meta(0.9, d.baseURL, ""))...)
	}
	if wants(req, schema.CapPricing) && len(req.ProductIdentifiers) > 0 {
		for _, pid := range req.ProductIdentifiers {
			items, err := d.post(ctx, auth, "/v3/merchant/google/products/live",
				map[string]any{"keyword": pid, "depth": req.MaxResults},
				"tasks.0.result.0.items",
				map[string]string{
					"product":  "title",
					"price":    "price",
					"currency": "currency",
					"url":      "url",
					"seller":   "seller",
				})
			if err != nil {
				return nil, fmt.Errorf("providers: dataforseo: pricing %q: %w", pid, err)
			}
			out = append(out, data("dataforseo", schema.CapPricing, items, meta(0.8, d.baseURL, ""))...)
		}
	}
	return out, nil
}

// post wraps one dataforseo task call. The API takes an array with a
// single task object and nests results under tasks[0].result.
func (d *DataForSEO) post(ctx context.Context, auth, path string, task map[string]any, resultPath string, fields map[string]string) ([]map[string]any, error) {
	body, err := json.Marshal([]map[string]any{task})
	if err != nil {
		return nil, err
	}
	return d.client.Items(ctx, APIRequest{
		Method: http.MethodPost,
		URL:    d.baseURL + path,
		Headers: map[string]string{
			"Authorization": auth,
			"Content-Type":  "application/json",
		},
		Body:       bytes.NewReader(body),
		ResultPath: resultPath,
		Fields:     fields,
	})
}
