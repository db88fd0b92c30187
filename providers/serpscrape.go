package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/radar/intel/schema"
)

const serpscrapeSearchURL = "https://duckduckgo.com/html/?q="

// SerpScrape is the keyless fallback serp provider: a headless browser
// scrape of a public results page. Slow and low-confidence, ranked last,
// but it needs no vendor account. Registration is still subject to the
// compliance allow-list and robots policy.
type SerpScrape struct {
	*vendor
	searchURL     string
	respectRobots bool

	once      sync.Once
	browser   *rod.Browser
	launchErr error

	robotsOnce sync.Once
	robotsDeny bool
}

// NewSerpScrape creates the scraping fallback.
func NewSerpScrape(secrets schema.SecretsStore, cfg Config) *SerpScrape {
	s := &SerpScrape{
		searchURL:     serpscrapeSearchURL,
		respectRobots: cfg.RespectRobots,
	}
	s.vendor = newVendor("serpscrape",
		[]schema.Capability{schema.CapSERP},
		serpscrapeSearchURL, secrets, cfg, s.doFetch)
	return s
}

// IsConfigured always holds: scraping needs no API key.
func (s *SerpScrape) IsConfigured(ctx context.Context, shopID string) (bool, error) {
	return true, nil
}

// Healthcheck reports whether a browser could be launched.
func (s *SerpScrape) Healthcheck(ctx context.Context) schema.HealthStatus {
	if _, err := s.connect(); err != nil {
		return schema.HealthStatus{OK: false, Details: map[string]any{"error": err.Error()}}
	}
	return schema.HealthStatus{OK: true, Details: map[string]any{"mode": "browser"}}
}

// Close shuts the shared browser down.
func (s *SerpScrape) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// connect launches the shared headless browser once.
func (s *SerpScrape) connect() (*rod.Browser, error) {
	s.once.Do(func() {
		u, err := launcher.New().Headless(true).Launch()
		if err != nil {
			s.launchErr = fmt.Errorf("providers: serpscrape: launch browser: %w", err)
			return
		}
		b := rod.New().ControlURL(u)
		if err := b.Connect(); err != nil {
			s.launchErr = fmt.Errorf("providers: serpscrape: connect browser: %w", err)
			return
		}
		s.browser = b
	})
	return s.browser, s.launchErr
}

func (s *SerpScrape) doFetch(ctx context.Context, req *schema.Request) ([]schema.Datum, error) {
	q := req.Query
	if q == "" {
		q = req.Domain
	}
	if s.respectRobots && s.scrapingDisallowed(ctx) {
		return nil, fmt.Errorf("providers: serpscrape: target disallows scraping via robots.txt")
	}
	browser, err := s.connect()
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("providers: serpscrape: open page: %w", err)
	}
	defer page.Close()

	if err := page.Navigate(s.searchURL + url.QueryEscape(q)); err != nil {
		return nil, fmt.Errorf("providers: serpscrape: navigate: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("providers: serpscrape: wait load: %w", err)
	}
	html, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("providers: serpscrape: read html: %w", err)
	}

	items, err := parseSERP(html, req.MaxResults)
	if err != nil {
		return nil, err
	}
	return data("serpscrape", schema.CapSERP, items, meta(0.4, s.searchURL, "")), nil
}

// scrapingDisallowed probes the target's robots.txt once and caches the
// verdict. An unreachable or missing robots.txt counts as allowed.
func (s *SerpScrape) scrapingDisallowed(ctx context.Context) bool {
	s.robotsOnce.Do(func() {
		u, err := url.Parse(s.searchURL)
		if err != nil {
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.Scheme+"://"+u.Host+"/robots.txt", nil)
		if err != nil {
			return
		}
		resp, err := s.http.Do(req)
		if err != nil {
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return
		}
		s.robotsDeny = robotsDisallowed(string(body), u.Path)
		if s.robotsDeny {
			s.logger.Warn("providers: serpscrape: disabled by robots.txt", "host", u.Host)
		}
	})
	return s.robotsDeny
}

// robotsDisallowed reports whether path falls under a Disallow rule in
// the wildcard user-agent group. Prefix matching only.
func robotsDisallowed(body, path string) bool {
	applies := false
	for _, line := range strings.Split(body, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		val = strings.TrimSpace(val)
		switch key {
		case "user-agent":
			applies = val == "*"
		case "disallow":
			if applies && val != "" && strings.HasPrefix(path, val) {
				return true
			}
		}
	}
	return false
}

// parseSERP extracts result blocks from the scraped page.
func parseSERP(html string, limit int) ([]map[string]any, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("providers: serpscrape: parse html: %w", err)
	}
	var items []map[string]any
	doc.Find("div.result").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if limit > 0 && len(items) >= limit {
			return false
		}
		link := sel.Find("a.result__a")
		href, _ := link.Attr("href")
		title := strings.TrimSpace(link.Text())
		if title == "" || href == "" {
			return true
		}
		items = append(items, map[string]any{
			"title":    title,
			"url":      href,
			"snippet":  strings.TrimSpace(sel.Find(".result__snippet").Text()),
			"position": float64(i + 1),
		})
		return true
	})
	return items, nil
}
