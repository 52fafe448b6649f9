package service

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the
// participation core. All methods are nil-safe so services can run
// uninstrumented.
type MetricsService struct {
	registry       *prometheus.Registry
	handler        http.Handler
	transitions    *prometheus.CounterVec
	staleConflicts *prometheus.CounterVec
	eventsEmitted  *prometheus.CounterVec
	eventsFailed   *prometheus.CounterVec
}

// NewMetricsService registers the core collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_transitions_total",
		Help: "Committed state transitions by aggregate and target status",
	}, []string{"aggregate", "status"})

	staleConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_stale_conflicts_total",
		Help: "Optimistic-concurrency conflicts by operation",
	}, []string{"operation"})

	eventsEmitted := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_events_emitted_total",
		Help: "Domain events handed to the dispatcher",
	}, []string{"event_type"})

	eventsFailed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "participation_events_failed_total",
		Help: "Domain events the dispatcher refused",
	}, []string{"event_type"})

	registry.MustRegister(transitions, staleConflicts, eventsEmitted, eventsFailed)

	return &MetricsService{
		registry:       registry,
		handler:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		transitions:    transitions,
		staleConflicts: staleConflicts,
		eventsEmitted:  eventsEmitted,
		eventsFailed:   eventsFailed,
	}
}

// Handler exposes the scrape endpoint for the external driving layer.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return m.handler
}

// ObserveTransition records one committed state transition.
func (m *MetricsService) ObserveTransition(aggregate, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(aggregate, status).Inc()
}

// ObserveStaleConflict records one rejected stale write.
func (m *MetricsService) ObserveStaleConflict(operation string) {
	if m == nil {
		return
	}
	m.staleConflicts.WithLabelValues(operation).Inc()
}

// ObserveEvent records one emitted event, or a dispatch failure.
func (m *MetricsService) ObserveEvent(eventType string, ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.eventsEmitted.WithLabelValues(eventType).Inc()
		return
	}
	m.eventsFailed.WithLabelValues(eventType).Inc()
}
