package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aquamitra/aquamitra/internal/chatlog"
	"github.com/aquamitra/aquamitra/internal/config"
	"github.com/aquamitra/aquamitra/internal/gateway"
	"github.com/aquamitra/aquamitra/internal/observability"
	"github.com/aquamitra/aquamitra/internal/schema"
	"github.com/aquamitra/aquamitra/internal/warehouse"
)

type ChatService interface {
	Chat(ctx context.Context, req gateway.Request) (gateway.Response, error)
	History(ctx context.Context, sessionID string, limit int) ([]chatlog.Entry, error)
}

type Warehouse interface {
	EnsureReady(ctx context.Context) error
	Reprovision(ctx context.Context) (warehouse.Stats, error)
	Schema(ctx context.Context) (schema.Schema, error)
	Stats() warehouse.Stats
}

type Dependencies struct {
	Logger         *slog.Logger
	Chat           ChatService
	Warehouse      Warehouse
	AuthMiddleware func(http.Handler) http.Handler
	// ReprovisionTimeout bounds an admin reprovision run. Zero means no limit
	// beyond the request context.
	ReprovisionTimeout time.Duration
	UI                 http.Handler
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.HandleFunc("GET /api/languages", handleLanguages)
	mux.HandleFunc("POST /api/chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(deps, w, r)
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		handleHistory(deps, w, r)
	})
	mux.HandleFunc("GET /api/schema", func(w http.ResponseWriter, r *http.Request) {
		handleSchema(deps, w, r)
	})
	mux.Handle("GET /api/metrics", promhttp.Handler())

	var reprovision http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handleReprovision(deps, w, r)
	})
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			deps.Logger.Error("auth required but auth middleware missing")
			reprovision = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration")
			})
		} else {
			reprovision = deps.AuthMiddleware(reprovision)
		}
	}
	mux.Handle("POST /api/admin/reprovision", reprovision)
	if deps.UI != nil {
		mux.Handle("GET /{path...}", deps.UI)
	}

	return chain(mux,
		observability.TraceMiddleware,
		observability.CORSMiddleware,
		observability.MetricsMiddleware,
		observability.LoggingMiddleware(deps.Logger),
	)
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

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]any{
		"detail":   detail,
		"code":     code,
		"trace_id": observability.TraceIDFromContext(ctx),
	})
}
