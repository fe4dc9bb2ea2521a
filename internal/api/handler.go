package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nlquery/nlquery/internal/auth"
	"github.com/nlquery/nlquery/internal/catalog"
	"github.com/nlquery/nlquery/internal/config"
	"github.com/nlquery/nlquery/internal/history"
	"github.com/nlquery/nlquery/internal/observability"
	"github.com/nlquery/nlquery/internal/pipeline"
	"github.com/nlquery/nlquery/internal/query"
	"github.com/nlquery/nlquery/internal/ratelimit"
)

type ReadinessCheck func(ctx context.Context) error

// Pipeline is the question-to-result service behind the query routes.
type Pipeline interface {
	Schema(ctx context.Context) (catalog.Schema, error)
	Translate(ctx context.Context, req pipeline.Request) (pipeline.Translation, error)
	Ask(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type VoiceAssistant interface {
	Listen(ctx context.Context) (string, error)
	Announce(ctx context.Context, rows []query.Row)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          Pipeline
	Limiter           *ratelimit.Limiter
	Voice             VoiceAssistant
	History           history.Store
}

type route struct {
	pattern string
	role    string
	limited bool
	handle  func(Dependencies, config.Config, http.ResponseWriter, *http.Request)
}

var protectedRoutes = []route{
	{pattern: "GET /v1/schema", role: auth.RoleQueryReader, handle: handleSchema},
	{pattern: "POST /v1/query", role: auth.RoleQueryReader, limited: true, handle: handleQuery},
	{pattern: "POST /v1/query/translate", role: auth.RoleQueryReader, limited: true, handle: handleTranslate},
	{pattern: "POST /v1/voice-query", role: auth.RoleVoiceUser, limited: true, handle: handleVoiceQuery},
	{pattern: "GET /v1/history", role: auth.RoleHistoryReader, handle: handleHistory},
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, serviceInfo(cfg))
	})

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	limit := rateLimitMiddleware(deps.Limiter, deps.Logger)
	if !cfg.RateLimit.Enabled {
		limit = func(next http.Handler) http.Handler { return next }
	}
	authenticate := func(next http.Handler) http.Handler { return next }
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			authenticate = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		} else {
			authenticate = deps.AuthMiddleware
		}
	}

	for _, rt := range protectedRoutes {
		handle := rt.handle
		var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handle(deps, cfg, w, r)
		})
		h = auth.RequireRole(rt.role, h)
		if rt.limited {
			h = limit(h)
		}
		mux.Handle(rt.pattern, authenticate(h))
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func serviceInfo(cfg config.Config) map[string]any {
	endpoints := map[string]string{
		"/v1/schema":          "Get database schema",
		"/v1/query":           "Convert natural language to SQL and execute",
		"/v1/query/translate": "Convert natural language to SQL without executing it",
		"/v1/voice-query":     "Process a voice query and convert it to SQL",
		"/v1/history":         "List recent questions and their outcomes",
	}
	info := map[string]any{
		"name":      cfg.Service.Name,
		"endpoints": endpoints,
	}
	if cfg.RateLimit.Enabled {
		info["rate_limit"] = map[string]any{
			"requests_per_window": cfg.RateLimit.Max,
			"window_seconds":      int(cfg.RateLimit.Window.Seconds()),
		}
	}
	return info
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// CheckDatabase reports the database unready when it cannot be pinged.
func CheckDatabase(db pinger) ReadinessCheck {
	return func(ctx context.Context) error {
		if db == nil {
			return errors.New("database is not configured")
		}
		return db.PingContext(ctx)
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
