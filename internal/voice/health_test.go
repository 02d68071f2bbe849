package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func waitForState(t *testing.T, h *HealthSupervisor, want HealthState) HealthStatus {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st := h.Status(); st.State == want {
			return st
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", h.Status().State, want)
	return HealthStatus{}
}

func TestHealthSupervisorRecoversOnProbeSuccess(t *testing.T) {
	var probes atomic.Int32
	h := NewHealthSupervisor("whisper_http", func(context.Context) error {
		if probes.Add(1) < 3 {
			return errors.New("still down")
		}
		return nil
	}, HealthPolicy{Base: time.Millisecond, MaxRetries: 5}, zerolog.Nop(), nil)
	defer h.Close()

	if !h.Healthy() {
		t.Fatalf("new supervisor not healthy")
	}
	h.ReportFailure(errors.New("connection refused"))
	if h.Healthy() {
		t.Fatalf("Healthy() = true right after failure")
	}

	waitForState(t, h, HealthHealthy)
	if got := probes.Load(); got != 3 {
		t.Fatalf("probes = %d, want 3", got)
	}
	if st := h.Status(); st.Retries != 0 || st.LastError != "" {
		t.Fatalf("status after recovery = %+v", st)
	}
}

func TestHealthSupervisorGivesUpAfterMaxRetries(t *testing.T) {
	var probes atomic.Int32
	h := NewHealthSupervisor("whisper_http", func(context.Context) error {
		probes.Add(1)
		return errors.New("still down")
	}, HealthPolicy{Base: time.Millisecond, MaxRetries: 2}, zerolog.Nop(), nil)
	defer h.Close()

	h.ReportFailure(errors.New("boom"))
	st := waitForState(t, h, HealthUnhealthy)
	if probes.Load() != 2 || st.Retries != 2 {
		t.Fatalf("probes = %d retries = %d, want 2/2", probes.Load(), st.Retries)
	}

	// A later failure starts a fresh loop.
	h.ReportFailure(errors.New("boom again"))
	waitForState(t, h, HealthUnhealthy)
	deadline := time.Now().Add(2 * time.Second)
	for probes.Load() < 4 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if got := probes.Load(); got != 4 {
		t.Fatalf("probes after re-arm = %d, want 4", got)
	}
}

func TestHealthSupervisorSingleLoop(t *testing.T) {
	release := make(chan struct{})
	var probes atomic.Int32
	h := NewHealthSupervisor("tts_http", func(ctx context.Context) error {
		probes.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}, HealthPolicy{Base: time.Millisecond, MaxRetries: 3}, zerolog.Nop(), nil)
	defer h.Close()

	for i := 0; i < 10; i++ {
		h.ReportFailure(errors.New("boom"))
	}
	if st := h.Status(); st.State != HealthRetrying {
		t.Fatalf("state = %s, want retrying", st.State)
	}
	close(release)
	waitForState(t, h, HealthHealthy)
	if got := probes.Load(); got != 1 {
		t.Fatalf("probes = %d, want 1 from a single loop", got)
	}
}

func TestHealthSupervisorZeroRetriesStaysUnhealthy(t *testing.T) {
	h := NewHealthSupervisor("polly", func(context.Context) error { return nil },
		HealthPolicy{Base: time.Millisecond, MaxRetries: 0}, zerolog.Nop(), nil)
	defer h.Close()

	h.ReportFailure(errors.New("boom"))
	time.Sleep(10 * time.Millisecond)
	if st := h.Status(); st.State != HealthUnhealthy || st.LastError != "boom" {
		t.Fatalf("status = %+v, want unhealthy with last error", st)
	}
}

func TestHealthSupervisorCloseStopsLoop(t *testing.T) {
	h := NewHealthSupervisor("whisper_http", func(context.Context) error { return errors.New("down") },
		HealthPolicy{Base: time.Hour, MaxRetries: 5}, zerolog.Nop(), nil)
	h.ReportFailure(errors.New("boom"))

	done := make(chan struct{})
	go func() {
		h.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Close() did not stop the recovery loop")
	}
	h.ReportFailure(errors.New("after close"))
	if st := h.Status(); st.State != HealthUnhealthy {
		t.Fatalf("state after Close = %s, want unhealthy", st.State)
	}
}
