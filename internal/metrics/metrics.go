// Package metrics exposes the scheduler's and processor's health as
// prometheus series.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"enricher/internal/domain"
)

// Registry bundles the collectors so callers wire one value.
type Registry struct {
	registry *prometheus.Registry

	jobsPending  prometheus.Gauge
	jobsActive   prometheus.Gauge
	jobsDone     *prometheus.CounterVec
	wsClients    prometheus.Gauge
	httpRequests *prometheus.CounterVec
}

// New builds a registry with all collectors registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		registry: reg,
		jobsPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_jobs_pending",
			Help: "Jobs admitted but not yet running.",
		}),
		jobsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_jobs_active",
			Help: "Jobs currently running.",
		}),
		jobsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_jobs_completed_total",
			Help: "Jobs finished, labeled by terminal status.",
		}, []string{"status"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "enricher_ws_clients",
			Help: "Connected websocket clients.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "enricher_http_requests_total",
			Help: "HTTP requests served, labeled by route and status class.",
		}, []string{"route", "class"}),
	}
	reg.MustRegister(m.jobsPending, m.jobsActive, m.jobsDone, m.wsClients, m.httpRequests)
	return m
}

// ObserveQueue is the scheduler change hook.
func (m *Registry) ObserveQueue(pending, active int) {
	m.jobsPending.Set(float64(pending))
	m.jobsActive.Set(float64(active))
}

// ObserveOutcome counts terminal entity transitions. Wire it as a store
// listener; non-terminal transitions are ignored.
func (m *Registry) ObserveOutcome(e domain.Entity) {
	if !e.Status.Terminal() {
		return
	}
	m.jobsDone.WithLabelValues(string(e.Status)).Inc()
}

// SetWSClients records the current websocket client count.
func (m *Registry) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

// CountRequest tallies one served HTTP request.
func (m *Registry) CountRequest(route string, statusCode int) {
	class := "2xx"
	switch {
	case statusCode >= 500:
		class = "5xx"
	case statusCode >= 400:
		class = "4xx"
	case statusCode >= 300:
		class = "3xx"
	}
	m.httpRequests.WithLabelValues(route, class).Inc()
}

// Handler serves the scrape endpoint for this registry only.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
