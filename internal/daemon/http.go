// File: internal/daemon/http.go
// Author: momentics <momentics@gmail.com>

package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/momentics/hioload-qos/control"
)

type healthResponse struct {
	Status string   `json:"status"`
	Holds  []string `json:"holds"`
}

// NewRouter serves /healthz, /metrics from gatherer and /debug/state from
// probes.
func NewRouter(d *Daemon, gatherer prometheus.Gatherer, probes *control.DebugProbes) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthResponse{Status: "ok", Holds: d.Holds()})
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/debug/state", probes.ServeHTTP)
	return r
}
