// Package server provides HTTP server construction for authcore.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/authcore/internal/auth"
	"github.com/alexjbarnes/authcore/internal/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthTimeout bounds the readiness check.
const healthTimeout = 2 * time.Second

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Flow         *flow.Controller
	Users        auth.UserLookup
	Store        *auth.Store
	TokenLimiter *auth.ClientLimiter
	Metrics      *auth.Metrics
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// Health reports backing store reachability. Nil means always healthy.
	Health func(ctx context.Context) error
	Scopes []string
	Logger *slog.Logger
	Issuer string
}

// NewMux builds the HTTP mux with the OAuth2 endpoints, authorization
// server metadata, the bearer-protected userinfo and permission check
// endpoints, health and metrics.
func NewMux(cfg MuxConfig) *http.ServeMux {
	m := cfg.Metrics
	mux := http.NewServeMux()

	handle := func(path string, h http.Handler) {
		mux.Handle(path, m.Instrument(path, h))
	}

	handle(auth.PathMetadata, auth.HandleServerMetadata(cfg.Issuer, cfg.Scopes))
	handle(auth.PathAuthorize, auth.HandleAuthorize(cfg.Flow, cfg.Store, m, cfg.Logger))
	handle(auth.PathToken, auth.HandleToken(cfg.Flow, cfg.TokenLimiter, m, cfg.Logger))
	handle(auth.PathRevoke, auth.HandleRevoke(cfg.Flow, m, cfg.Logger))
	handle(auth.PathIntrospect, auth.HandleIntrospect(cfg.Flow, m, cfg.Logger))

	bearer := auth.Middleware(cfg.Flow, m, cfg.Logger)
	handle(auth.PathUserInfo, bearer(auth.HandleUserInfo(cfg.Users, m, cfg.Logger)))
	handle(auth.PathPermissions, bearer(auth.HandlePermissionCheck(cfg.Users, m, cfg.Logger)))

	mux.HandleFunc("/healthz", handleHealth(cfg.Health, cfg.Logger))

	if cfg.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func handleHealth(check func(ctx context.Context) error, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, body := http.StatusOK, map[string]string{"status": "ok"}

		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()

			if err := check(ctx); err != nil {
				logger.Warn("health check failed", slog.String("error", err.Error()))
				status, body = http.StatusServiceUnavailable, map[string]string{"status": "unavailable"}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
