// Entry point for the radar HTTP service: chi router, shield middleware,
// SSE streaming, optional MCP over stdio.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/radar/audit"
	"github.com/hazyhaar/radar/dbopen"
	"github.com/hazyhaar/radar/digest"
	"github.com/hazyhaar/radar/intel"
	"github.com/hazyhaar/radar/kit"
	"github.com/hazyhaar/radar/notify"
	"github.com/hazyhaar/radar/observability"
	"github.com/hazyhaar/radar/providers"
	"github.com/hazyhaar/radar/secrets"
	"github.com/hazyhaar/radar/shield"
)

func main() {
	port := env("PORT", "8090")
	dbPath := env("RADAR_DB", "db/radar.db")
	configPath := env("CONFIG_FILE", "")
	mcpTransport := env("MCP_TRANSPORT", "")
	logLevel := env("LOG_LEVEL", "info")

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One SQLite file carries secrets, audit, and observability.
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := secrets.New(db, secrets.WithLogger(logger))
	if err != nil {
		slog.Error("secrets store", "error", err)
		os.Exit(1)
	}

	auditLogger := audit.NewSQLiteLogger(db)
	if err := auditLogger.Init(); err != nil {
		slog.Error("audit init", "error", err)
		os.Exit(1)
	}
	defer auditLogger.Close()

	if err := observability.Init(db); err != nil {
		slog.Error("observability init", "error", err)
		os.Exit(1)
	}
	metrics := observability.NewMetricsManager(db, 256, 10*time.Second)
	defer metrics.Close()
	events := observability.NewEventLogger(db)

	// Engine configuration: YAML file when supplied, defaults otherwise.
	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	// Optional LLM digests and Telegram alerts. Both disable themselves
	// when their credentials are absent.
	digester := digest.New(os.Getenv("OPENAI_API_KEY"), digest.WithLogger(logger))
	chatID, _ := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64)
	notifier, err := notify.New(os.Getenv("TELEGRAM_BOT_TOKEN"), chatID, notify.WithLogger(logger))
	if err != nil {
		slog.Warn("telegram notifier disabled", "error", err)
	}

	svc, err := intel.New(store, cfg, logger,
		intel.WithAudit(auditLogger),
		intel.WithDigest(digester),
		intel.WithNotifier(notifier))
	if err != nil {
		slog.Error("intel service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Providers. API vendors resolve per-shop keys from the secrets store;
	// the scraper is keyless and opt-in since it needs a local browser.
	pcfg := providers.Config{
		Logger:        logger,
		RespectRobots: svc.Compliance().RobotsTxtRespect,
	}
	vendors := []intel.Provider{
		providers.NewSerpAPI(store, pcfg),
		providers.NewDataForSEO(store, pcfg),
		providers.NewSimilarWeb(store, pcfg),
		providers.NewTrustpilot(store, pcfg),
		providers.NewSocialSearcher(store, pcfg),
		providers.NewClearbit(store, pcfg),
		providers.NewPriceAPI(store, pcfg),
	}
	if env("ENABLE_SERP_SCRAPE", "") == "1" {
		scraper := providers.NewSerpScrape(store, pcfg)
		defer scraper.Close()
		vendors = append(vendors, scraper)
	}
	for _, v := range vendors {
		if err := svc.RegisterProvider(v); err != nil {
			slog.Warn("provider rejected", "provider", v.Name(), "error", err)
		}
	}

	// Optional MCP over stdio.
	if mcpTransport == "stdio" {
		mcpSrv := mcp.NewServer(&mcp.Implementation{
			Name:    "radar",
			Version: "1.0.0",
		}, nil)
		svc.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				slog.Error("MCP stdio", "error", err)
			}
		}()
	}

	svc.Start(ctx)

	// Admin Basic Auth. A pre-computed bcrypt hash wins over a plaintext
	// password hashed at boot; with neither, admin routes stay locked.
	adminHash := os.Getenv("ADMIN_PASSWORD_HASH")
	if adminHash == "" {
		if pw := os.Getenv("ADMIN_PASSWORD"); pw != "" {
			h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
			if err != nil {
				slog.Error("hash admin password", "error", err)
				os.Exit(1)
			}
			adminHash = string(h)
		}
	}

	// Router.
	rl := shield.NewRateLimiter(map[string]shield.RateLimitRule{
		"":                        {MaxRequests: 120, WindowSeconds: 60},
		"GET /api/intel/stream":   {MaxRequests: 20, WindowSeconds: 60},
		"POST /api/intel/collect": {MaxRequests: 30, WindowSeconds: 60},
	}, "/health")
	rl.StartGC(ctx.Done())

	r := chi.NewRouter()
	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
	r.Use(rl.Middleware)
	r.Use(shield.MaxJSONBody(1 << 20))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})

	// Streaming aggregation over SSE.
	r.Get("/api/intel/stream", func(w http.ResponseWriter, r *http.Request) {
		sid := shopIDFrom(r)
		if sid == "" {
			writeJSON(w, 400, map[string]string{"error": "missing shop id"})
			return
		}
		req := parseStreamRequest(r)
		ctx := kit.WithShopID(r.Context(), sid)
		ch, err := svc.Stream(ctx, sid, req)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		events.LogEvent(ctx, observability.BusinessEvent{
			EventType: "intel_stream", ServiceName: "radar",
			EntityType: "request", ShopID: sid, Action: "stream", Success: true,
		})
		metrics.RecordSimple("intel_stream_requests", 1, "count")
		if err := intel.ServeSSE(w, ch); err != nil {
			slog.Warn("sse", "error", err)
		}
	})

	// Plan without executing.
	r.Post("/api/intel/plan", func(w http.ResponseWriter, r *http.Request) {
		sid, req, err := decodeBody(r)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		pl, err := svc.Plan(kit.WithShopID(r.Context(), sid), sid, req)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, 200, pl)
	})

	// Blocking aggregation for non-streaming clients.
	r.Post("/api/intel/collect", func(w http.ResponseWriter, r *http.Request) {
		sid, req, err := decodeBody(r)
		if err != nil {
			writeError(w, 400, err)
			return
		}
		ctx := kit.WithShopID(r.Context(), sid)
		agg, err := svc.Collect(ctx, sid, req)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		metrics.RecordSimple("intel_collect_cost_usd", agg.TotalCost, "usd")
		events.LogEvent(ctx, observability.BusinessEvent{
			EventType: "intel_collect", ServiceName: "radar",
			EntityType: "request", ShopID: sid, Action: "collect", Success: true,
		})
		writeJSON(w, 200, agg)
	})

	// Preset plan batches.
	r.Get("/api/intel/presets/discovery", func(w http.ResponseWriter, r *http.Request) {
		sid := shopIDFrom(r)
		plans, err := svc.DiscoveryPlans(r.Context(), sid, r.URL.Query().Get("query"))
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, 200, plans)
	})
	r.Get("/api/intel/presets/competitor", func(w http.ResponseWriter, r *http.Request) {
		sid := shopIDFrom(r)
		plans, err := svc.CompetitorPlans(r.Context(), sid, r.URL.Query().Get("domain"))
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, 200, plans)
	})
	r.Get("/api/intel/presets/local", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		sid := shopIDFrom(r)
		plans, err := svc.LocalPlans(r.Context(), sid, q.Get("query"), q.Get("market"), q.Get("locale"))
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, 200, plans)
	})

	// Status.
	r.Get("/api/status/providers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, svc.HealthChecks(r.Context()))
	})
	r.Get("/api/status/limits", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]any{
			"rate_limits": svc.RateLimitStatus(),
			"budgets":     svc.BudgetStatus(),
		})
	})

	// Admin.
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(requireAdmin(adminHash))

		r.Get("/compliance", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, 200, svc.Compliance())
		})
		r.Put("/compliance", func(w http.ResponseWriter, r *http.Request) {
			var cfg intel.ComplianceConfig
			if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
				writeError(w, 400, err)
				return
			}
			svc.UpdateCompliance(cfg)
			writeJSON(w, 200, map[string]string{"status": "updated"})
		})

		r.Post("/budget/{provider}/reset", func(w http.ResponseWriter, r *http.Request) {
			svc.ResetBudget(chi.URLParam(r, "provider"))
			writeJSON(w, 200, map[string]string{"status": "reset"})
		})

		r.Put("/shops/{shopID}/secrets/{provider}", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Value string `json:"value"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
				writeJSON(w, 400, map[string]string{"error": "value required"})
				return
			}
			sid, provider := chi.URLParam(r, "shopID"), chi.URLParam(r, "provider")
			if err := store.Set(r.Context(), sid, provider, req.Value); err != nil {
				writeError(w, 500, err)
				return
			}
			auditLogger.LogAsync(&audit.Entry{
				Action: "secret_set", ShopID: sid,
				Parameters: `{"provider":"` + provider + `"}`,
			})
			writeJSON(w, 200, map[string]string{"status": "stored"})
		})
		r.Delete("/shops/{shopID}/secrets/{provider}", func(w http.ResponseWriter, r *http.Request) {
			sid, provider := chi.URLParam(r, "shopID"), chi.URLParam(r, "provider")
			if err := store.Delete(r.Context(), sid, provider); err != nil {
				writeError(w, 500, err)
				return
			}
			auditLogger.LogAsync(&audit.Entry{
				Action: "secret_delete", ShopID: sid,
				Parameters: `{"provider":"` + provider + `"}`,
			})
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
		r.Get("/shops/{shopID}/secrets", func(w http.ResponseWriter, r *http.Request) {
			list, err := store.ConfiguredProviders(r.Context(), chi.URLParam(r, "shopID"))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, list)
		})

		r.Get("/audit", func(w http.ResponseWriter, r *http.Request) {
			entries, err := auditLogger.Recent(r.Context(), queryInt(r, "limit", 100))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, entries)
		})

		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			name := r.URL.Query().Get("name")
			if name == "" {
				writeJSON(w, 400, map[string]string{"error": "name required"})
				return
			}
			points, err := metrics.Query(name, nil, nil, queryInt(r, "limit", 100))
			if err != nil {
				writeError(w, 500, err)
				return
			}
			writeJSON(w, 200, points)
		})
	})

	// HTTP server. WriteTimeout stays generous for long SSE streams.
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
}

// --- Request decoding ---

// shopIDFrom reads the shop ID from the X-Shop-ID header, falling back
// to the shop_id query parameter.
func shopIDFrom(r *http.Request) string {
	if id := r.Header.Get("X-Shop-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("shop_id")
}

// parseStreamRequest builds an intelligence request from the SSE
// endpoint's query string. Repeated productId and capability parameters
// accumulate.
func parseStreamRequest(r *http.Request) *intel.Request {
	q := r.URL.Query()
	req := &intel.Request{
		Query:              q.Get("query"),
		Domain:             q.Get("domain"),
		Market:             q.Get("market"),
		Locale:             q.Get("locale"),
		MaxResults:         queryInt(r, "maxResults", 0),
		ProductIdentifiers: q["productId"],
		HasUserConsent:     q.Get("consent") == "true",
	}
	for _, c := range q["capability"] {
		req.Capabilities = append(req.Capabilities, intel.Capability(c))
	}
	from, fromErr := time.Parse(time.RFC3339, q.Get("from"))
	if fromErr == nil {
		tr := &intel.TimeRange{From: from}
		if to, err := time.Parse(time.RFC3339, q.Get("to")); err == nil {
			tr.To = to
		}
		req.TimeRange = tr
	}
	return req
}

type apiRequest struct {
	ShopID string `json:"shop_id"`
	intel.Request
}

func decodeBody(r *http.Request) (string, *intel.Request, error) {
	var body apiRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return "", nil, err
	}
	sid := body.ShopID
	if sid == "" {
		sid = shopIDFrom(r)
	}
	if sid == "" {
		return "", nil, errors.New("missing shop id")
	}
	return sid, &body.Request, nil
}

// --- Auth middleware ---

// requireAdmin enforces Basic Auth against a bcrypt hash. An empty hash
// locks the admin routes entirely.
func requireAdmin(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if hash == "" {
				writeJSON(w, 403, map[string]string{"error": "admin disabled"})
				return
			}
			_, pw, ok := r.BasicAuth()
			if !ok || bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="radar"`)
				writeJSON(w, 401, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Helpers ---

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeRequestError maps engine errors to HTTP status codes.
func writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, intel.ErrInvalidRequest):
		writeError(w, 400, err)
	case errors.Is(err, intel.ErrConsentRequired):
		writeError(w, 403, err)
	default:
		writeError(w, 500, err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
