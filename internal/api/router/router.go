// Package router assembles the HTTP surface: the gateway webhook,
// health probes, and the Prometheus scrape endpoint.
package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	httpmiddleware "github.com/lucasdmc/atendeai-lify-admin-sub001/internal/http/middleware"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/internal/messaging"
	"github.com/lucasdmc/atendeai-lify-admin-sub001/pkg/logging"
)

// Pinger reports backend liveness for the readiness probe.
type Pinger func(ctx context.Context) error

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	WebhookHandler *messaging.Handler
	MetricsHandler http.Handler

	// Readiness checks, keyed by dependency name.
	Pingers map[string]Pinger

	// Webhook rate limit; zero disables limiting.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(cfg.Pingers))

	r.Group(func(hooks chi.Router) {
		if cfg.WebhookRateLimit > 0 {
			burst := cfg.WebhookBurst
			if burst <= 0 {
				burst = int(cfg.WebhookRateLimit)
			}
			hooks.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, burst))
		}
		if cfg.WebhookHandler != nil {
			hooks.Post("/webhooks/gateway/messages", cfg.WebhookHandler.InboundWebhook)
		}
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func readyHandler(pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		checks := make(map[string]string, len(pingers))
		for name, ping := range pingers {
			if err := ping(ctx); err != nil {
				checks[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(checks)
	}
}
