// Package normalize flattens heterogeneous provider payloads into the
// canonical NormalizedIntel record.
//
// Normalization is best-effort: a malformed datum is logged and skipped,
// never fatal, so one bad vendor response cannot void an aggregation that
// other providers paid for.
package normalize

import (
	"encoding/json"
	"log/slog"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/radar/intel/schema"
)

// Normalizer converts raw provider data into canonical records.
type Normalizer struct {
	logger    *slog.Logger
	sanitizer *bluemonday.Policy
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// New creates a Normalizer with a strict HTML sanitization policy.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		logger:    slog.Default(),
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, o := range opts {
		o(n)
	}
	return n
}

// Results normalizes every datum it can and drops the rest. The output
// order follows the input order. Never returns an error and never panics;
// skipped records are logged at warn level.
func (n *Normalizer) Results(raw []schema.Datum) []schema.NormalizedIntel {
	out := make([]schema.NormalizedIntel, 0, len(raw))
	for _, d := range raw {
		rec, ok := n.one(d)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func (n *Normalizer) one(d schema.Datum) (schema.NormalizedIntel, bool) {
	fields, ok := asMap(d.Payload)
	if !ok {
		n.logger.Warn("normalize: unusable payload",
			"provider", d.Provider, "capability", string(d.Capability))
		return schema.NormalizedIntel{}, false
	}

	rec := schema.NormalizedIntel{
		Provider:   d.Provider,
		Capability: d.Capability,
		Confidence: d.Meta.Confidence,
		Timestamp:  d.Meta.Timestamp,
		Source:     d.Meta.Source,
	}

	switch d.Capability {
	case schema.CapKeywords:
		rec.Title = str(fields, "keyword", "term")
		rec.Value = num(fields, "volume", "search_volume")
		rec.Unit = "searches/month"
		rec.URL = str(fields, "url")
		rec.Attributes = attrs(fields, "cpc", "competition", "trend")
	case schema.CapTraffic:
		rec.Title = str(fields, "domain", "site")
		rec.Value = num(fields, "visits", "traffic")
		rec.Unit = "visits/month"
		rec.Attributes = attrs(fields, "channel", "period", "bounce_rate", "country")
	case schema.CapPricing:
		rec.Title = str(fields, "product", "name", "title")
		rec.Value = num(fields, "price", "amount")
		rec.Unit = firstNonEmpty(d.Meta.Currency, str(fields, "currency"))
		rec.URL = str(fields, "url", "link")
		rec.Attributes = attrs(fields, "seller", "availability", "gtin", "sku")
	case schema.CapSERP:
		rec.Title = n.cleanText(str(fields, "title"))
		rec.Text = n.cleanText(str(fields, "snippet", "description"))
		rec.URL = str(fields, "url", "link")
		rec.Value = num(fields, "position", "rank")
		rec.Unit = "position"
		rec.Attributes = attrs(fields, "displayed_url", "type")
	case schema.CapReviews:
		rec.Title = n.cleanText(str(fields, "title"))
		rec.Text = n.cleanText(str(fields, "text", "body", "content"))
		rec.URL = str(fields, "url", "link")
		rec.Value = num(fields, "rating", "stars")
		rec.Unit = "stars"
		rec.Attributes = attrs(fields, "author", "date", "verified")
	case schema.CapSocial:
		rec.Title = str(fields, "platform", "network")
		rec.Text = n.cleanText(str(fields, "text", "content", "post"))
		rec.URL = str(fields, "url", "link")
		rec.Value = num(fields, "engagement", "likes")
		rec.Unit = "interactions"
		rec.Attributes = attrs(fields, "author", "date", "sentiment")
	case schema.CapCompanyProfile:
		rec.Title = str(fields, "name", "company")
		rec.Text = n.cleanText(str(fields, "description", "about"))
		rec.URL = str(fields, "url", "website", "domain")
		rec.Value = num(fields, "employees", "headcount")
		rec.Unit = "employees"
		rec.Attributes = attrs(fields, "industry", "founded", "location", "revenue")
	default:
		n.logger.Warn("normalize: unknown capability",
			"provider", d.Provider, "capability", string(d.Capability))
		return schema.NormalizedIntel{}, false
	}

	if rec.Title == "" && rec.Text == "" && rec.Value == 0 {
		n.logger.Warn("normalize: empty record dropped",
			"provider", d.Provider, "capability", string(d.Capability))
		return schema.NormalizedIntel{}, false
	}
	return rec, true
}

// cleanText strips markup from vendor text. Fragments that look like HTML
// go through markdown conversion to preserve structure; everything else is
// sanitized in place.
func (n *Normalizer) cleanText(s string) string {
	if s == "" {
		return ""
	}
	if strings.ContainsRune(s, '<') && strings.ContainsRune(s, '>') {
		if md, err := htmltomarkdown.ConvertString(s); err == nil {
			return strings.TrimSpace(md)
		}
	}
	return strings.TrimSpace(n.sanitizer.Sanitize(s))
}

// asMap coerces a payload into field lookup form. Providers hand over
// decoded JSON objects; anything else is pushed through a JSON round-trip.
func asMap(payload any) (map[string]any, bool) {
	switch v := payload.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, true
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, false
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, false
		}
		return m, true
	}
}

// str returns the first non-empty string among the named fields.
func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// num returns the first numeric value among the named fields. JSON numbers
// decode as float64; integer and string forms are tolerated.
func num(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return v
		case int:
			return float64(v)
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return f
			}
		}
	}
	return 0
}

// attrs collects the named fields that are present, stringified.
func attrs(m map[string]any, keys ...string) map[string]string {
	var out map[string]string
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case float64, int, bool, json.Number:
			b, _ := json.Marshal(t)
			s = string(b)
		default:
			continue
		}
		if s == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = s
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
