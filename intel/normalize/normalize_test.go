package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/radar/intel/schema"
)

func datum(provider string, cap schema.Capability, payload any) schema.Datum {
	return schema.Datum{
		Provider:   provider,
		Capability: cap,
		Payload:    payload,
		Meta: schema.Meta{
			Confidence: 0.9,
			Timestamp:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			Source:     "https://api.example.com/v1",
		},
	}
}

func TestResults_SERP(t *testing.T) {
	n := New()
	out := n.Results([]schema.Datum{
		datum("serpapi", schema.CapSERP, map[string]any{
			"title":    "Burton Snowboards",
			"snippet":  "Shop snowboards and gear.",
			"link":     "https://burton.com",
			"position": float64(1),
		}),
	})
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	r := out[0]
	if r.Title != "Burton Snowboards" || r.URL != "https://burton.com" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.Value != 1 || r.Unit != "position" {
		t.Fatalf("position not mapped: %+v", r)
	}
	if r.Confidence != 0.9 || r.Source != "https://api.example.com/v1" {
		t.Fatalf("meta not carried over: %+v", r)
	}
}

func TestResults_PricingCurrencyFromMeta(t *testing.T) {
	n := New()
	d := datum("priceapi", schema.CapPricing, map[string]any{
		"product": "Custom 154",
		"price":   549.95,
		"seller":  "burton.com",
	})
	d.Meta.Currency = "USD"

	out := n.Results([]schema.Datum{d})
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	if out[0].Value != 549.95 || out[0].Unit != "USD" {
		t.Fatalf("price/currency not mapped: %+v", out[0])
	}
	if out[0].Attributes["seller"] != "burton.com" {
		t.Fatalf("seller attribute missing: %+v", out[0].Attributes)
	}
}

func TestResults_HTMLStripped(t *testing.T) {
	n := New()
	out := n.Results([]schema.Datum{
		datum("trustpilot", schema.CapReviews, map[string]any{
			"title":  "Great board",
			"text":   "<p>Rides <b>really</b> well in powder.</p><script>alert(1)</script>",
			"rating": 5.0,
		}),
	})
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	txt := out[0].Text
	if strings.Contains(txt, "<") || strings.Contains(txt, "alert(") {
		t.Fatalf("markup leaked through: %q", txt)
	}
	if !strings.Contains(txt, "powder") {
		t.Fatalf("content lost: %q", txt)
	}
}

func TestResults_MalformedSkippedOthersSurvive(t *testing.T) {
	n := New()
	out := n.Results([]schema.Datum{
		datum("broken", schema.CapKeywords, nil),
		datum("broken", schema.CapKeywords, map[string]any{}),
		datum("broken", "not_a_capability", map[string]any{"keyword": "x"}),
		datum("dataforseo", schema.CapKeywords, map[string]any{
			"keyword": "snowboard bindings",
			"volume":  12000.0,
			"cpc":     1.4,
		}),
	})
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1 survivor", len(out))
	}
	if out[0].Title != "snowboard bindings" || out[0].Value != 12000 {
		t.Fatalf("survivor mangled: %+v", out[0])
	}
}

func TestResults_StructPayloadRoundTrip(t *testing.T) {
	type profile struct {
		Name      string  `json:"name"`
		Website   string  `json:"website"`
		Employees float64 `json:"employees"`
	}
	n := New()
	out := n.Results([]schema.Datum{
		datum("clearbit", schema.CapCompanyProfile, profile{
			Name: "Burton", Website: "https://burton.com", Employees: 800,
		}),
	})
	if len(out) != 1 {
		t.Fatalf("got %d records, want 1", len(out))
	}
	if out[0].Title != "Burton" || out[0].Value != 800 {
		t.Fatalf("struct payload not normalized: %+v", out[0])
	}
}

func TestResults_OrderPreserved(t *testing.T) {
	n := New()
	out := n.Results([]schema.Datum{
		datum("a", schema.CapSERP, map[string]any{"title": "first"}),
		datum("b", schema.CapSERP, map[string]any{"title": "second"}),
	})
	if len(out) != 2 || out[0].Title != "first" || out[1].Title != "second" {
		t.Fatalf("order not preserved: %+v", out)
	}
}
