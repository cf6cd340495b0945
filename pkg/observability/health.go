package observability

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus is the JSON body of the readiness probe.
type HealthStatus struct {
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
	Systems   map[string]bool `json:"systems,omitempty"`
}

// StatusFunc reports per-adapter liveness for the readiness probe.
type StatusFunc func() map[string]bool

// HealthChecker serves liveness and readiness for the bridge process.
type HealthChecker struct {
	status StatusFunc
}

// NewHealthChecker creates a health checker backed by the bridge's
// per-adapter liveness view.
func NewHealthChecker(status StatusFunc) *HealthChecker {
	return &HealthChecker{status: status}
}

// Liveness always returns 200 while the process is running.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness reports healthy while every configured adapter is live,
// degraded while at least one is, and unhealthy (503) when none are.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}

	if h.status != nil {
		status.Systems = h.status()
		live := 0
		for _, ok := range status.Systems {
			if ok {
				live++
			}
		}
		switch {
		case len(status.Systems) == 0 || live == 0:
			status.Status = StatusUnhealthy
		case live < len(status.Systems):
			status.Status = StatusDegraded
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if status.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(status)
}

// NewOpsRouter wires the operational endpoints: /health, /ready and
// /metrics. Served on a separate port from any data-plane traffic so probes
// stay cheap.
func NewOpsRouter(checker *HealthChecker, registry *prometheus.Registry) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", checker.Liveness).Methods(http.MethodGet)
	r.HandleFunc("/ready", checker.Readiness).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	return r
}
