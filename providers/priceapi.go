package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/radar/intel/schema"
)

const priceapiBaseURL = "https://api.priceapi.com"

// PriceAPI integrates priceapi.com marketplace price lookups by product
// identifier (GTIN/ASIN/SKU).
type PriceAPI struct {
	*vendor
	baseURL string
}

// NewPriceAPI creates the priceapi integration.
func NewPriceAPI(secrets schema.SecretsStore, cfg Config) *PriceAPI {
	return newPriceAPI(secrets, cfg, priceapiBaseURL)
}

func newPriceAPI(secrets schema.SecretsStore, cfg Config, baseURL string) *PriceAPI {
	p := &PriceAPI{baseURL: baseURL}
	p.vendor = newVendor("priceapi",
		[]schema.Capability{schema.CapPricing},
		baseURL+"/v2/sources", secrets, cfg, p.doFetch)
	return p
}

func (p *PriceAPI) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	if len(req.ProductIdentifiers) == 0 {
		return nil, fmt.Errorf("providers: priceapi: request has no product identifiers")
	}
	token, err := p.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: priceapi: token: %w", err)
	}

	params := url.Values{
		"token":  {token},
		"source": {"google_shopping"},
		"key":    {"gtin"},
		"values": {strings.Join(req.ProductIdentifiers, ",")},
	}
	if req.Market != "" {
		params.Set("country", req.Market)
	}

	items, err := p.client.Items(ctx, APIRequest{
		URL:        p.baseURL + "/v2/products?" + params.Encode(),
		ResultPath: "products",
		Fields: map[string]string{
			"product":      "name",
			"price":        "price",
			"currency":     "currency",
			"url":          "url",
			"seller":       "shop_name",
			"gtin":         "gtin",
			"availability": "availability",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("providers: priceapi: %w", err)
	}
	return data("priceapi", schema.CapPricing, items, meta(0.85, p.baseURL, "")), nil
}
