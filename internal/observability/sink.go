package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Sink receives exported snapshots for external dashboards and alerting.
type Sink interface {
	Name() string
	Push(ctx context.Context, snap Snapshot) error
}

// PrometheusSink mirrors snapshot values onto gauges scraped from /metrics.
type PrometheusSink struct {
	metrics *Metrics
}

func NewPrometheusSink(metrics *Metrics) *PrometheusSink {
	return &PrometheusSink{metrics: metrics}
}

func (s *PrometheusSink) Name() string { return "prometheus" }

func (s *PrometheusSink) Push(_ context.Context, snap Snapshot) error {
	if s.metrics == nil {
		return nil
	}
	for phase, p := range snap.Phases {
		s.metrics.PhaseP95.WithLabelValues(phase).Set(p.P95)
	}
	s.metrics.PhaseP95.WithLabelValues(MetricAPI).Set(snap.API.P95)
	s.metrics.HealthScore.Set(float64(snap.HealthScore))
	s.metrics.APIErrorRate.Set(snap.APIErrorRate)

	counts := map[Severity]int{SeverityCritical: 0, SeverityWarning: 0}
	for _, a := range snap.Alerts {
		counts[a.Severity]++
	}
	for sev, n := range counts {
		s.metrics.ActiveAlerts.WithLabelValues(string(sev)).Set(float64(n))
	}
	return nil
}

// RedisSink publishes the latest snapshot under a key and keeps a short
// history of fired alerts in a capped list.
type RedisSink struct {
	rdb          *redis.Client
	keyPrefix    string
	ttl          time.Duration
	alertHistory int64
}

func NewRedisSink(rdb *redis.Client, keyPrefix string, ttl time.Duration) *RedisSink {
	if keyPrefix == "" {
		keyPrefix = "receptionist:perf"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisSink{rdb: rdb, keyPrefix: keyPrefix, ttl: ttl, alertHistory: 500}
}

// NewRedisClient accepts either a redis:// URL or a bare host:port.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	var rdb *redis.Client
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opt, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
	} else {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Push(ctx context.Context, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keyPrefix+":latest", b, s.ttl)
	alertsKey := s.keyPrefix + ":alerts"
	for _, a := range snap.Alerts {
		entry, err := json.Marshal(struct {
			Alert
			At time.Time `json:"at"`
		}{Alert: a, At: snap.GeneratedAt})
		if err != nil {
			continue
		}
		pipe.LPush(ctx, alertsKey, entry)
	}
	if len(snap.Alerts) > 0 {
		pipe.LTrim(ctx, alertsKey, 0, s.alertHistory-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push snapshot: %w", err)
	}
	return nil
}

// Exporter periodically exports the monitor snapshot to every sink.
type Exporter struct {
	monitor  *Monitor
	sinks    []Sink
	interval time.Duration
	log      zerolog.Logger
}

func NewExporter(monitor *Monitor, interval time.Duration, log zerolog.Logger, sinks ...Sink) *Exporter {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Exporter{
		monitor:  monitor,
		sinks:    sinks,
		interval: interval,
		log:      log.With().Str("component", "metrics_exporter").Logger(),
	}
}

// ExportOnce pushes one snapshot; sink failures are logged, not returned.
func (e *Exporter) ExportOnce(ctx context.Context) Snapshot {
	snap := e.monitor.ExportMetrics()
	for _, sink := range e.sinks {
		pushCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := sink.Push(pushCtx, snap); err != nil {
			e.log.Warn().Err(err).Str("sink", sink.Name()).Msg("metrics export failed")
		}
		cancel()
	}
	for _, a := range snap.Alerts {
		e.log.Warn().
			Str("alert", a.Name).
			Str("severity", string(a.Severity)).
			Float64("p95_ms", a.ValueMS).
			Float64("threshold_ms", a.ThresholdMS).
			Int("samples", a.Samples).
			Msg("latency threshold exceeded")
	}
	return snap
}

func (e *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.ExportOnce(ctx)
			}
		}
	}()
}
