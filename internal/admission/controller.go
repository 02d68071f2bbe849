// Package admission caps the number of concurrent calls one process accepts.
package admission

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mehulnahar/med-receptionist-ai-sub001/internal/observability"
)

const DefaultMaxConcurrent = 20

// Slot is one admitted call.
type Slot struct {
	CallID     string    `json:"call_id"`
	TenantID   string    `json:"tenant_id"`
	Caller     string    `json:"caller"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// CallSnapshot is a read-only view of an active slot.
type CallSnapshot struct {
	Slot
	DurationSeconds float64 `json:"duration_seconds"`
}

// Stats summarises controller occupancy.
type Stats struct {
	Active             int     `json:"active"`
	Max                int     `json:"max"`
	Peak               int     `json:"peak"`
	TotalHandled       int64   `json:"total_handled"`
	RejectedCount      int64   `json:"rejected_count"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
	UtilizationPct     float64 `json:"utilization_pct"`
}

// Controller is a non-queuing gate: callers either get a slot immediately or
// are rejected. The slot table and the semaphore are always changed together
// under mu, so they never disagree.
type Controller struct {
	max int
	sem *semaphore.Weighted

	mu    sync.Mutex
	slots map[string]Slot

	active        atomic.Int64
	peak          atomic.Int64
	totalHandled  atomic.Int64
	rejected      atomic.Int64
	released      atomic.Int64
	totalDuration atomic.Int64 // nanoseconds

	metrics *observability.Metrics
	log     zerolog.Logger
	now     func() time.Time
}

func NewController(maxConcurrent int, metrics *observability.Metrics, log zerolog.Logger) *Controller {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Controller{
		max:     maxConcurrent,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		slots:   make(map[string]Slot, maxConcurrent),
		metrics: metrics,
		log:     log.With().Str("component", "admission").Logger(),
		now:     time.Now,
	}
}

// AcquireSlot reserves capacity for a call without blocking. It returns false
// when the process is at capacity or the call id already holds a slot.
func (c *Controller) AcquireSlot(callID, tenantID, caller string) bool {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return false
	}

	c.mu.Lock()
	if _, dup := c.slots[callID]; dup {
		active := len(c.slots)
		c.mu.Unlock()
		c.log.Warn().
			Str("call_id", callID).
			Str("tenant_id", tenantID).
			Int("active", active).
			Int("max", c.max).
			Msg("duplicate slot request rejected")
		c.observe("duplicate")
		return false
	}
	if !c.sem.TryAcquire(1) {
		active := len(c.slots)
		c.mu.Unlock()
		rejected := c.rejected.Add(1)
		c.log.Warn().
			Str("call_id", callID).
			Str("tenant_id", tenantID).
			Str("caller", caller).
			Int("active", active).
			Int("max", c.max).
			Int64("rejected_total", rejected).
			Msg("call rejected: capacity exceeded")
		c.observe("rejected")
		return false
	}
	c.slots[callID] = Slot{
		CallID:     callID,
		TenantID:   tenantID,
		Caller:     caller,
		AcquiredAt: c.now(),
	}
	active := int64(len(c.slots))
	c.active.Store(active)
	c.mu.Unlock()

	c.totalHandled.Add(1)
	for {
		peak := c.peak.Load()
		if active <= peak || c.peak.CompareAndSwap(peak, active) {
			break
		}
	}

	c.log.Info().
		Str("call_id", callID).
		Str("tenant_id", tenantID).
		Int64("active", active).
		Int("max", c.max).
		Msg("call slot acquired")
	c.observe("admitted")
	if c.metrics != nil {
		c.metrics.ActiveCalls.Set(float64(active))
	}
	return true
}

// ReleaseSlot frees the call's capacity. Unknown or already released ids are
// ignored.
func (c *Controller) ReleaseSlot(callID string) {
	callID = strings.TrimSpace(callID)

	c.mu.Lock()
	slot, ok := c.slots[callID]
	if !ok {
		c.mu.Unlock()
		c.log.Debug().Str("call_id", callID).Msg("release for unknown call ignored")
		return
	}
	delete(c.slots, callID)
	c.sem.Release(1)
	active := int64(len(c.slots))
	c.active.Store(active)
	c.mu.Unlock()

	duration := c.now().Sub(slot.AcquiredAt)
	if duration < 0 {
		duration = 0
	}
	c.totalDuration.Add(int64(duration))
	c.released.Add(1)

	c.log.Info().
		Str("call_id", callID).
		Str("tenant_id", slot.TenantID).
		Dur("duration", duration).
		Int64("active", active).
		Int("max", c.max).
		Msg("call slot released")
	c.observe("released")
	if c.metrics != nil {
		c.metrics.ActiveCalls.Set(float64(active))
	}
}

// ActiveCalls returns a snapshot of admitted calls, oldest first.
func (c *Controller) ActiveCalls() []CallSnapshot {
	now := c.now()
	c.mu.Lock()
	out := make([]CallSnapshot, 0, len(c.slots))
	for _, s := range c.slots {
		out = append(out, CallSnapshot{Slot: s, DurationSeconds: round1(now.Sub(s.AcquiredAt).Seconds())})
	}
	c.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.Before(out[j].AcquiredAt) })
	return out
}

// Stats reads counters without taking the admission lock.
func (c *Controller) Stats() Stats {
	active := c.active.Load()
	released := c.released.Load()
	avg := 0.0
	if released > 0 {
		avg = time.Duration(c.totalDuration.Load() / released).Seconds()
	}
	return Stats{
		Active:             int(active),
		Max:                c.max,
		Peak:               int(c.peak.Load()),
		TotalHandled:       c.totalHandled.Load(),
		RejectedCount:      c.rejected.Load(),
		AvgDurationSeconds: round1(avg),
		UtilizationPct:     round1(float64(active) / float64(c.max) * 100),
	}
}

// Max returns the configured capacity.
func (c *Controller) Max() int { return c.max }

// Drain waits until every slot is released or ctx is done.
func (c *Controller) Drain(ctx context.Context) error {
	if err := c.sem.Acquire(ctx, int64(c.max)); err != nil {
		return err
	}
	c.sem.Release(int64(c.max))
	return nil
}

func (c *Controller) observe(outcome string) {
	if c.metrics == nil {
		return
	}
	c.metrics.AdmissionEvents.WithLabelValues(outcome).Inc()
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
