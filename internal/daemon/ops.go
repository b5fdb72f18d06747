// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/stagecache/internal/health"
)

// The ops listener serves health probes and the metrics scrape, nothing
// else. Scrapers and probes are periodic, so a per-IP budget of one
// request per second averaged over the window is generous.
const (
	opsRequestLimit = 60
	opsRateWindow   = time.Minute
)

// newOpsRouter builds the handler behind the ops listener: /healthz and
// /readyz from the health manager, plus /metrics when enabled.
func newOpsRouter(h *health.Manager, metricsEnabled bool) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(httprate.Limit(
		opsRequestLimit,
		opsRateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(opsRateWindow.Seconds())))
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
		}),
	))

	r.Get("/healthz", h.ServeHealth)
	r.Get("/readyz", h.ServeReady)
	if metricsEnabled {
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	}

	return r
}
