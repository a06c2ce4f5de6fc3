package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fastpubsub/fastpubsub/internal/broker"
	"github.com/fastpubsub/fastpubsub/internal/metrics"
)

type probeResponse struct {
	Status string `json:"status"`
}

// HandleLiveness returns a handler for GET /liveness. It only proves the
// process is serving requests.
func HandleLiveness() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, probeResponse{Status: "alive"})
	}
}

// HandleReadiness returns a handler for GET /readiness. Readiness requires a
// live database round trip.
func HandleReadiness(health HealthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := health.Ping(r.Context()); err != nil {
			writeServiceError(w, broker.Unavailable("database unreachable"))
			return
		}
		WriteJSON(w, http.StatusOK, probeResponse{Status: "ready"})
	}
}

// HandleMetrics returns the Prometheus scrape handler for GET /metrics.
func HandleMetrics(m *metrics.Metrics) http.Handler {
	return promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{})
}
