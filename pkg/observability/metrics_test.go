package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.MessagesRoutedTotal.WithLabelValues("/pose", "ros", "cloud").Inc()
	m.CallsTotal.WithLabelValues("nav.Navigation", "cloud", "ros").Add(3)
	m.CallsInflight.Set(2)
	m.AdaptersLive.Set(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesRoutedTotal.WithLabelValues("/pose", "ros", "cloud")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CallsTotal.WithLabelValues("nav.Navigation", "cloud", "ros")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CallsInflight))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNopMetrics_Usable(t *testing.T) {
	m := NewNopMetrics()
	assert.NotPanics(t, func() {
		m.MessagesRoutedTotal.WithLabelValues("t", "a", "b").Inc()
		m.SpinDuration.Observe(0.001)
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		systems    map[string]bool
		wantStatus string
		wantCode   int
	}{
		{
			name:       "all live",
			systems:    map[string]bool{"ros": true, "cloud": true},
			wantStatus: StatusHealthy,
			wantCode:   http.StatusOK,
		},
		{
			name:       "one degraded",
			systems:    map[string]bool{"ros": true, "cloud": false},
			wantStatus: StatusDegraded,
			wantCode:   http.StatusOK,
		},
		{
			name:       "all down",
			systems:    map[string]bool{"ros": false},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
		{
			name:       "no systems",
			systems:    map[string]bool{},
			wantStatus: StatusUnhealthy,
			wantCode:   http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(func() map[string]bool { return tt.systems })

			rec := httptest.NewRecorder()
			checker.Readiness(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rec.Code)

			var status HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
			assert.Equal(t, tt.wantStatus, status.Status)
		})
	}
}

func TestOpsRouter_Endpoints(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)
	checker := NewHealthChecker(func() map[string]bool { return map[string]bool{"a": true} })

	router := NewOpsRouter(checker, registry)
	srv := httptest.NewServer(router)
	defer srv.Close()

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
