package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/otiai10/mapsync/internal/auth"
	"github.com/otiai10/mapsync/internal/config"
	"github.com/otiai10/mapsync/internal/facade"
	"github.com/otiai10/mapsync/internal/metrics"
	"github.com/otiai10/mapsync/internal/version"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	Facade             *facade.Facade
	TokenVerifier      auth.TokenVerifier // nil means no auth
	FirebaseConfig     config.FirebaseConfig
	Metrics            *metrics.Metrics // nil disables /metrics
	Logger             *zap.Logger
	CORSAllowedOrigins []string
	Static             *StaticFileServer // nil means API only

	// StreamContext ends every open users stream when done.
	// Defaults to context.Background().
	StreamContext context.Context
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	h := NewHandler(cfg.Facade, cfg.FirebaseConfig, logger)
	stream := NewStreamHandler(cfg.StreamContext, cfg.Facade, cfg.CORSAllowedOrigins, cfg.Metrics, logger)

	mux := http.NewServeMux()
	registerPublicRoutes(mux, h, cfg.Metrics)

	usersMux := http.NewServeMux()
	registerUserRoutes(usersMux, h, stream)

	var users http.Handler = usersMux
	if cfg.TokenVerifier != nil {
		// Websocket clients pass the token as ?access_token=
		users = auth.AuthMiddleware(cfg.TokenVerifier)(usersMux)
	}
	mux.Handle("/api/users", users)
	mux.Handle("/api/users/", users)

	if cfg.Static != nil {
		mux.Handle("/", cfg.Static)
	}

	middlewares := []Middleware{
		NewRecoveryMiddleware(logger),
		NewLoggingMiddleware(logger),
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, NewMetricsMiddleware(cfg.Metrics))
	}
	middlewares = append(middlewares, NewCORSMiddleware(CORSConfig{AllowedOrigins: cfg.CORSAllowedOrigins}))

	return Chain(middlewares...)(mux)
}

// registerPublicRoutes registers routes that don't require authentication
func registerPublicRoutes(mux *http.ServeMux, h *Handler, m *metrics.Metrics) {
	mux.Handle("/health", JSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf(`{"status":"ok","hash":"%s"}`, version.CommitHash)))
	})))

	if m != nil {
		mux.Handle("/metrics", m.Handler())
	}

	mux.Handle("/api/config", JSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetConfig(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/api/session", JSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			h.CreateSession(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	// Unknown API paths must not fall through to the SPA
	mux.Handle("/api/", JSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "not found", http.StatusNotFound)
	})))
}

// registerUserRoutes registers the users mapping routes
func registerUserRoutes(mux *http.ServeMux, h *Handler, stream http.Handler) {
	mux.Handle("/api/users", JSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListUsers(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))

	mux.Handle("/api/users/stream", stream)

	mux.Handle("/api/users/", JSONContentTypeMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimPrefix(r.URL.Path, "/api/users/")
		if uid == "" || strings.Contains(uid, "/") {
			writeError(w, "invalid path", http.StatusBadRequest)
			return
		}

		switch r.Method {
		case http.MethodPut:
			h.UpdateUser(w, r)
		case http.MethodOptions:
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})))
}
