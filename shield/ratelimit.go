package shield

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RateLimitRule defines the rate limit for a single endpoint
// ("METHOD /path"). The empty-string key is the default rule applied to
// endpoints without an explicit one.
type RateLimitRule struct {
	MaxRequests   int
	WindowSeconds int
}

type ipBucket struct {
	mu      sync.Mutex
	count   int
	resetAt time.Time
}

// RateLimiter provides per-IP, per-endpoint fixed-window rate limiting.
// Rules are static, supplied at construction; expired buckets are garbage
// collected by StartGC.
type RateLimiter struct {
	rules   map[string]RateLimitRule
	buckets sync.Map
	exclude []string // path prefixes excluded from rate limiting
}

// NewRateLimiter creates a rate limiter with the given rules.
// excludePrefixes lists path prefixes that bypass limiting (e.g. "/health").
func NewRateLimiter(rules map[string]RateLimitRule, excludePrefixes ...string) *RateLimiter {
	if rules == nil {
		rules = make(map[string]RateLimitRule)
	}
	return &RateLimiter{rules: rules, exclude: excludePrefixes}
}

// StartGC starts a background goroutine that removes expired buckets
// every 5 minutes. Stops when done is closed.
func (rl *RateLimiter) StartGC(done <-chan struct{}) {
	tick := time.NewTicker(5 * time.Minute)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				rl.gc()
			}
		}
	}()
}

func (rl *RateLimiter) gc() {
	now := time.Now()
	rl.buckets.Range(func(key, value any) bool {
		b := value.(*ipBucket)
		b.mu.Lock()
		expired := now.After(b.resetAt)
		b.mu.Unlock()
		if expired {
			rl.buckets.Delete(key)
		}
		return true
	})
}

func (rl *RateLimiter) allow(ip, endpoint string) bool {
	rule, ok := rl.rules[endpoint]
	if !ok {
		rule, ok = rl.rules[""]
	}
	if !ok || rule.MaxRequests <= 0 {
		return true
	}

	key := ip + ":" + endpoint
	window := time.Duration(rule.WindowSeconds) * time.Second
	now := time.Now()

	val, loaded := rl.buckets.LoadOrStore(key, &ipBucket{count: 1, resetAt: now.Add(window)})
	if !loaded {
		return true
	}

	b := val.(*ipBucket)
	b.mu.Lock()
	defer b.mu.Unlock()
	if now.After(b.resetAt) {
		b.count = 1
		b.resetAt = now.Add(window)
		return true
	}
	b.count++
	return b.count <= rule.MaxRequests
}

// Middleware is the HTTP middleware that enforces rate limits with a
// 429 JSON response.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, prefix := range rl.exclude {
			if len(r.URL.Path) >= len(prefix) && r.URL.Path[:len(prefix)] == prefix {
				next.ServeHTTP(w, r)
				return
			}
		}

		endpoint := r.Method + " " + r.URL.Path
		ip := ExtractIP(r)

		if rl.allow(ip, endpoint) {
			next.ServeHTTP(w, r)
			return
		}

		slog.Warn("ratelimit: request blocked", "ip", ip, "endpoint", endpoint)

		w.Header().Set("Retry-After", "60")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "rate limit exceeded",
		})
	})
}
