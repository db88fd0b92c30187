package providers

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hazyhaar/radar/intel/schema"
)

const socialsearcherBaseURL = "https://api.social-searcher.com"

// SocialSearcher integrates social-searcher.com: cross-network social
// mention search.
type SocialSearcher struct {
	*vendor
	baseURL string
}

// NewSocialSearcher creates the social-searcher integration.
func NewSocialSearcher(secrets schema.SecretsStore, cfg Config) *SocialSearcher {
	return newSocialSearcher(secrets, cfg, socialsearcherBaseURL)
}

func newSocialSearcher(secrets schema.SecretsStore, cfg Config, baseURL string) *SocialSearcher {
	s := &SocialSearcher{baseURL: baseURL}
	s.vendor = newVendor("socialsearcher",
		[]schema.Capability{schema.CapSocial},
		baseURL+"/v2/search", secrets, cfg, s.doFetch)
	return s
}

func (s *SocialSearcher) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	q := req.Query
	if q == "" {
		q = req.Domain
	}
	key, err := s.secret(ctx)
	if err != nil {
		return nil, fmt.Errorf("providers: socialsearcher: api key: %w", err)
	}
	params := url.Values{
		"q":     {q},
		"key":   {key},
		"limit": {strconv.Itoa(req.MaxResults)},
	}
	if req.Locale != "" {
		params.Set("lang", req.Locale)
	}

	items, err := s.client.Items(ctx, APIRequest{
		URL:        s.baseURL + "/v2/search?" + params.Encode(),
		ResultPath: "posts",
		Fields: map[string]string{
			"platform":  "network",
			"text":      "text",
			"url":       "url",
			"date":      "posted",
			"author":    "user",
			"sentiment": "sentiment",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("providers: socialsearcher: %w", err)
	}
	// The author field arrives as a nested object; keep only its name so
	// the attribute stays a scalar.
	for _, item := range items {
		if u, ok := item["author"].(map[string]any); ok {
			if name, ok := u["name"].(string); ok {
				item["author"] = name
			} else {
				delete(item, "author")
			}
		}
	}
	return data("socialsearcher", schema.CapSocial, items, meta(0.6, s.baseURL, "")), nil
}
