package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/reliability"
)

type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
	HealthRetrying  HealthState = "retrying"
)

const healthProbeTimeout = 3 * time.Second

// HealthPolicy bounds the recovery loop.
type HealthPolicy struct {
	Base       time.Duration
	MaxRetries int
}

func DefaultHealthPolicy() HealthPolicy {
	return HealthPolicy{Base: 30 * time.Second, MaxRetries: 5}
}

// HealthStatus is an inspectable copy of supervisor state.
type HealthStatus struct {
	Backend   string      `json:"backend"`
	State     HealthState `json:"state"`
	Retries   int         `json:"retries"`
	LastError string      `json:"last_error,omitempty"`
	ChangedAt time.Time   `json:"changed_at"`
}

// HealthSupervisor tracks one backend. A reported failure marks the backend
// unhealthy and starts a single recovery loop that probes after
// HealthCheckDelay(attempt, base). The loop ends on the first healthy probe
// or after MaxRetries failed probes; in the second case the backend stays
// unhealthy until the next reported failure starts a new loop.
type HealthSupervisor struct {
	name   string
	probe  func(ctx context.Context) error
	policy HealthPolicy
	log    zerolog.Logger

	metrics *observability.Metrics

	mu        sync.Mutex
	state     HealthState
	retries   int
	lastErr   string
	changedAt time.Time
	looping   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewHealthSupervisor(name string, probe func(ctx context.Context) error, policy HealthPolicy, log zerolog.Logger, metrics *observability.Metrics) *HealthSupervisor {
	if policy.Base <= 0 {
		policy.Base = DefaultHealthPolicy().Base
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &HealthSupervisor{
		name:      name,
		probe:     probe,
		policy:    policy,
		log:       log.With().Str("component", "health").Str("backend", name).Logger(),
		metrics:   metrics,
		state:     HealthHealthy,
		changedAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
	}
	metrics.SetBackendHealthy(name, true)
	return h
}

// Healthy reports whether callers should use the backend.
func (h *HealthSupervisor) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state == HealthHealthy
}

func (h *HealthSupervisor) Status() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthStatus{
		Backend:   h.name,
		State:     h.state,
		Retries:   h.retries,
		LastError: h.lastErr,
		ChangedAt: h.changedAt,
	}
}

// ReportFailure marks the backend unhealthy and starts the recovery loop
// unless one is already running.
func (h *HealthSupervisor) ReportFailure(err error) {
	h.mu.Lock()
	if h.ctx.Err() != nil {
		h.mu.Unlock()
		return
	}
	if err != nil {
		h.lastErr = err.Error()
	}
	if h.looping {
		h.mu.Unlock()
		return
	}
	h.retries = 0
	h.looping = h.policy.MaxRetries > 0
	if h.looping {
		h.setStateLocked(HealthRetrying)
	} else {
		h.setStateLocked(HealthUnhealthy)
	}
	start := h.looping
	lastErr := h.lastErr
	if start {
		h.wg.Add(1)
	}
	h.mu.Unlock()

	h.log.Warn().Str("last_error", lastErr).Bool("recovery_scheduled", start).Msg("backend marked unhealthy")
	if start {
		go h.recover()
	}
}

func (h *HealthSupervisor) recover() {
	defer h.wg.Done()
	for attempt := 0; attempt < h.policy.MaxRetries; attempt++ {
		delay := reliability.HealthCheckDelay(attempt, h.policy.Base)
		timer := time.NewTimer(delay)
		select {
		case <-h.ctx.Done():
			timer.Stop()
			h.finish(HealthUnhealthy)
			return
		case <-timer.C:
		}

		probeCtx, cancel := context.WithTimeout(h.ctx, healthProbeTimeout)
		err := h.probe(probeCtx)
		cancel()
		if err == nil {
			h.log.Info().Int("attempt", attempt+1).Msg("backend recovered")
			h.finish(HealthHealthy)
			return
		}
		if errors.Is(err, context.Canceled) && h.ctx.Err() != nil {
			h.finish(HealthUnhealthy)
			return
		}

		h.mu.Lock()
		h.retries = attempt + 1
		h.lastErr = err.Error()
		h.mu.Unlock()
		h.log.Warn().Err(err).Int("attempt", attempt+1).Dur("waited", delay).Msg("health probe failed")
	}
	h.log.Error().Int("max_retries", h.policy.MaxRetries).Msg("health retries exhausted; backend left unhealthy")
	h.finish(HealthUnhealthy)
}

func (h *HealthSupervisor) finish(state HealthState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.looping = false
	if state == HealthHealthy {
		h.retries = 0
		h.lastErr = ""
	}
	h.setStateLocked(state)
}

func (h *HealthSupervisor) setStateLocked(state HealthState) {
	if h.state != state {
		h.changedAt = time.Now().UTC()
	}
	h.state = state
	h.metrics.SetBackendHealthy(h.name, state == HealthHealthy)
}

// Close stops a running recovery loop and waits for it to exit.
func (h *HealthSupervisor) Close() {
	h.mu.Lock()
	h.cancel()
	h.mu.Unlock()
	h.wg.Wait()
}
