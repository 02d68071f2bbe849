package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metric keys for per-turn pipeline phases.
const (
	PhaseSTT   = "stt"
	PhaseLLM   = "llm"
	PhaseTTS   = "tts"
	PhaseTotal = "total"
	MetricAPI  = "api"
)

const (
	DefaultBufferSize = 10000
	exportWindow      = 5 * time.Minute
)

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
)

// Threshold fires when the windowed p95 of Metric exceeds P95MS.
type Threshold struct {
	Name     string
	Metric   string
	Severity Severity
	P95MS    float64
	Window   time.Duration
}

// Alert is a threshold that fired during CheckAlerts.
type Alert struct {
	Name          string   `json:"name"`
	Metric        string   `json:"metric"`
	Severity      Severity `json:"severity"`
	ThresholdMS   float64  `json:"threshold_ms"`
	ValueMS       float64  `json:"value_ms"`
	Samples       int      `json:"samples"`
	WindowMinutes float64  `json:"window_minutes"`
}

var defaultThresholds = []Threshold{
	{Name: "pipeline_total_p95", Metric: PhaseTotal, Severity: SeverityCritical, P95MS: 1000, Window: 5 * time.Minute},
	{Name: "stt_p95", Metric: PhaseSTT, Severity: SeverityWarning, P95MS: 500, Window: 5 * time.Minute},
	{Name: "llm_p95", Metric: PhaseLLM, Severity: SeverityWarning, P95MS: 800, Window: 5 * time.Minute},
	{Name: "tts_p95", Metric: PhaseTTS, Severity: SeverityWarning, P95MS: 400, Window: 5 * time.Minute},
	{Name: "api_p95", Metric: MetricAPI, Severity: SeverityCritical, P95MS: 2000, Window: 5 * time.Minute},
}

// Snapshot is the exported view handed to metrics sinks.
type Snapshot struct {
	GeneratedAt   time.Time              `json:"generated_at"`
	WindowMinutes float64                `json:"window_minutes"`
	Phases        map[string]Percentiles `json:"phases"`
	API           Percentiles            `json:"api"`
	APIEndpoints  map[string]Percentiles `json:"api_endpoints"`
	APIErrorRate  float64                `json:"api_error_rate"`
	HealthScore   int                    `json:"health_score"`
	Alerts        []Alert                `json:"alerts"`
}

// Monitor collects per-phase and per-endpoint latency samples in bounded
// rings and turns them into percentiles, alerts and a health score. It is
// safe for concurrent use.
type Monitor struct {
	mu         sync.RWMutex
	capacity   int
	series     map[string]*latencyRing
	thresholds []Threshold
	metrics    *Metrics
	now        func() time.Time
}

func NewMonitor(capacity int, metrics *Metrics) *Monitor {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	thresholds := make([]Threshold, len(defaultThresholds))
	copy(thresholds, defaultThresholds)
	return &Monitor{
		capacity:   capacity,
		series:     make(map[string]*latencyRing),
		thresholds: thresholds,
		metrics:    metrics,
		now:        time.Now,
	}
}

// RecordCallLatency appends one phase observation for a call.
func (m *Monitor) RecordCallLatency(callID, phase string, durationMS float64) {
	phase = strings.TrimSpace(phase)
	if phase == "" || durationMS < 0 {
		return
	}
	m.mu.Lock()
	m.appendLocked(phase, LatencyRecord{At: m.now(), MS: durationMS, Label: callID})
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.PhaseLatency.WithLabelValues(phase).Observe(durationMS)
	}
}

// RecordAPILatency appends one HTTP API observation to the aggregate API
// series and to the endpoint's own series.
func (m *Monitor) RecordAPILatency(endpoint, method string, durationMS float64, statusCode int) {
	if durationMS < 0 {
		return
	}
	label := apiSeriesKey(method, endpoint)
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := LatencyRecord{At: m.now(), MS: durationMS, Label: label, Status: statusCode}
	m.appendLocked(MetricAPI, rec)
	m.appendLocked(label, rec)
}

func (m *Monitor) appendLocked(key string, rec LatencyRecord) {
	ring, ok := m.series[key]
	if !ok {
		ring = newLatencyRing(m.capacity)
		m.series[key] = ring
	}
	ring.push(rec)
}

func apiSeriesKey(method, endpoint string) string {
	return MetricAPI + ":" + strings.ToUpper(strings.TrimSpace(method)) + " " + strings.TrimSpace(endpoint)
}

// LatencyPercentiles summarises samples of metric newer than now-window.
func (m *Monitor) LatencyPercentiles(metric string, window time.Duration) Percentiles {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.percentilesLocked(metric, window)
}

func (m *Monitor) percentilesLocked(metric string, window time.Duration) Percentiles {
	ring, ok := m.series[metric]
	if !ok {
		return Percentiles{}
	}
	return summarize(ring.since(m.now().Add(-window)))
}

// BufferLen reports how many records are retained for metric.
func (m *Monitor) BufferLen(metric string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ring, ok := m.series[metric]; ok {
		return ring.len()
	}
	return 0
}

// CheckAlerts evaluates the threshold table. A threshold fires only when its
// window holds at least one sample and the p95 exceeds the limit.
func (m *Monitor) CheckAlerts() []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkAlertsLocked()
}

func (m *Monitor) checkAlertsLocked() []Alert {
	alerts := make([]Alert, 0)
	for _, th := range m.thresholds {
		p := m.percentilesLocked(th.Metric, th.Window)
		if p.Count == 0 || p.P95 <= th.P95MS {
			continue
		}
		alerts = append(alerts, Alert{
			Name:          th.Name,
			Metric:        th.Metric,
			Severity:      th.Severity,
			ThresholdMS:   th.P95MS,
			ValueMS:       p.P95,
			Samples:       p.Count,
			WindowMinutes: th.Window.Minutes(),
		})
	}
	return alerts
}

// HealthScore is 100 minus 25 per critical and 10 per warning alert.
func (m *Monitor) HealthScore() int {
	return ScoreAlerts(m.CheckAlerts())
}

// ScoreAlerts applies the linear alert penalty, floored at 0.
func ScoreAlerts(alerts []Alert) int {
	score := 100
	for _, a := range alerts {
		switch a.Severity {
		case SeverityCritical:
			score -= 25
		case SeverityWarning:
			score -= 10
		}
	}
	if score < 0 {
		return 0
	}
	return score
}

// ExportMetrics assembles a single snapshot. It performs no I/O.
func (m *Monitor) ExportMetrics() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	phases := make(map[string]Percentiles, 4)
	for _, phase := range []string{PhaseSTT, PhaseLLM, PhaseTTS, PhaseTotal} {
		phases[phase] = m.percentilesLocked(phase, exportWindow)
	}

	endpoints := make(map[string]Percentiles)
	keys := make([]string, 0, len(m.series))
	for key := range m.series {
		if strings.HasPrefix(key, MetricAPI+":") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		endpoints[strings.TrimPrefix(key, MetricAPI+":")] = m.percentilesLocked(key, exportWindow)
	}

	alerts := m.checkAlertsLocked()
	return Snapshot{
		GeneratedAt:   m.now().UTC(),
		WindowMinutes: exportWindow.Minutes(),
		Phases:        phases,
		API:           m.percentilesLocked(MetricAPI, exportWindow),
		APIEndpoints:  endpoints,
		APIErrorRate:  m.apiErrorRateLocked(exportWindow),
		HealthScore:   ScoreAlerts(alerts),
		Alerts:        alerts,
	}
}

func (m *Monitor) apiErrorRateLocked(window time.Duration) float64 {
	ring, ok := m.series[MetricAPI]
	if !ok {
		return 0
	}
	records := ring.since(m.now().Add(-window))
	if len(records) == 0 {
		return 0
	}
	failed := 0
	for _, rec := range records {
		if rec.Status >= 400 {
			failed++
		}
	}
	return round2(float64(failed) / float64(len(records)) * 100) / 100
}
