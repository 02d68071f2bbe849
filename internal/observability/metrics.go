package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	ActiveCalls     prometheus.Gauge
	AdmissionEvents *prometheus.CounterVec
	CallEvents      *prometheus.CounterVec
	TriageLevels    *prometheus.CounterVec
	ModelTiers      *prometheus.CounterVec
	BackendFailures *prometheus.CounterVec
	WSMessages      *prometheus.CounterVec
	PhaseLatency    *prometheus.HistogramVec
	PhaseP95        *prometheus.GaugeVec
	HealthScore     prometheus.Gauge
	ActiveAlerts    *prometheus.GaugeVec
	APIErrorRate    prometheus.Gauge
	BackendHealthy  *prometheus.GaugeVec
}

// NewMetrics registers instruments on a private registry so that several
// instances (one per test) can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently holding an admission slot.",
		}),
		AdmissionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_events_total",
			Help:      "Admission decisions by outcome.",
		}, []string{"outcome"}),
		CallEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle and turn events by type.",
		}, []string{"event"}),
		TriageLevels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triage_results_total",
			Help:      "Triage results by urgency level.",
		}, []string{"level"}),
		ModelTiers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_tier_total",
			Help:      "Routed turns by model tier.",
		}, []string{"tier"}),
		BackendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_failures_total",
			Help:      "Speech backend failures by backend and reason.",
		}, []string{"backend", "reason"}),
		WSMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		PhaseLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_latency_ms",
			Help:      "Per-turn pipeline phase latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 200, 300, 500, 800, 1000, 1500, 2500},
		}, []string{"phase"}),
		PhaseP95: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_p95_ms",
			Help:      "Windowed p95 latency per phase from the last export.",
		}, []string{"phase"}),
		HealthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_score",
			Help:      "Pipeline health score (0-100) from the last export.",
		}),
		ActiveAlerts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_alerts",
			Help:      "Active latency alerts by severity from the last export.",
		}, []string{"severity"}),
		APIErrorRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "api_error_rate",
			Help:      "Fraction of API requests with status >= 400 over the last 5 minutes.",
		}),
		BackendHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backend_healthy",
			Help:      "1 when a speech backend is considered healthy.",
		}, []string{"backend"}),
	}
	reg.MustRegister(
		m.ActiveCalls,
		m.AdmissionEvents,
		m.CallEvents,
		m.TriageLevels,
		m.ModelTiers,
		m.BackendFailures,
		m.WSMessages,
		m.PhaseLatency,
		m.PhaseP95,
		m.HealthScore,
		m.ActiveAlerts,
		m.APIErrorRate,
		m.BackendHealthy,
	)
	return m
}

func (m *Metrics) IncBackendFailure(backend, reason string) {
	if m == nil {
		return
	}
	m.BackendFailures.WithLabelValues(backend, reason).Inc()
}

func (m *Metrics) IncTriageLevel(level string) {
	if m == nil {
		return
	}
	m.TriageLevels.WithLabelValues(level).Inc()
}

func (m *Metrics) IncModelTier(tier string) {
	if m == nil {
		return
	}
	m.ModelTiers.WithLabelValues(tier).Inc()
}

func (m *Metrics) IncWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) IncCallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetBackendHealthy(backend string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1
	}
	m.BackendHealthy.WithLabelValues(backend).Set(v)
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
