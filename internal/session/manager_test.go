package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestManagerCreateGetEnd(t *testing.T) {
	m := NewManager(time.Minute)
	s, err := m.Create(Session{ID: "call-1", TenantID: "t1", Language: "en", Clinic: ClinicContext{ClinicName: "Sunrise Family Care"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if s.Status != StatusActive || s.StartedAt.IsZero() {
		t.Fatalf("created session = %+v", s)
	}

	got, err := m.Get("call-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.TenantID != "t1" || got.Clinic.ClinicName != "Sunrise Family Care" || !got.Active() {
		t.Fatalf("unexpected session state: %+v", got)
	}

	ended, err := m.End("call-1")
	if err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if ended.Status != StatusEnded {
		t.Fatalf("ended status = %q, want %q", ended.Status, StatusEnded)
	}
	if _, err := m.Get("call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after End error = %v, want ErrNotFound", err)
	}
	if _, err := m.End("call-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second End() error = %v, want ErrNotFound", err)
	}
}

func TestManagerCreateRejectsDuplicate(t *testing.T) {
	m := NewManager(time.Minute)
	if _, err := m.Create(Session{ID: "call-1"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := m.Create(Session{ID: "call-1"}); !errors.Is(err, ErrExists) {
		t.Fatalf("duplicate Create() error = %v, want ErrExists", err)
	}
	if _, err := m.Create(Session{ID: "  "}); err == nil {
		t.Fatalf("Create() with blank id expected error")
	}
}

func TestManagerRecordTurnAndTransfer(t *testing.T) {
	m := NewManager(time.Minute)
	_, _ = m.Create(Session{ID: "call-1"})

	_ = m.RecordTurn("call-1", TurnLatency{STTMS: 100, LLMMS: 300, TTSMS: 80})
	_ = m.RecordTurn("call-1", TurnLatency{STTMS: 50, LLMMS: 0, TTSMS: 20})
	_ = m.RequestTransfer("call-1", "emergency:chest pain")
	_ = m.RequestTransfer("call-1", "emergency:overdose")

	got, _ := m.Get("call-1")
	if got.TurnCount != 2 || got.STTTotalMS != 150 || got.LLMTotalMS != 300 || got.TTSTotalMS != 100 {
		t.Fatalf("turn accounting = %+v", got)
	}
	if !got.TransferRequested || got.TransferReason != "emergency:chest pain" {
		t.Fatalf("transfer = %v %q", got.TransferRequested, got.TransferReason)
	}
	if err := m.RecordTurn("missing", TurnLatency{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("RecordTurn(missing) error = %v", err)
	}
}

func TestManagerListOldestFirst(t *testing.T) {
	m := NewManager(time.Minute)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	_, _ = m.Create(Session{ID: "b"})
	now = base.Add(time.Second)
	_, _ = m.Create(Session{ID: "a"})

	list := m.List()
	if len(list) != 2 || list[0].ID != "b" || list[1].ID != "a" {
		t.Fatalf("List() = %+v", list)
	}
	if m.ActiveCount() != 2 {
		t.Fatalf("ActiveCount() = %d, want 2", m.ActiveCount())
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	_, _ = m.Create(Session{ID: "idle"})

	var (
		mu      sync.Mutex
		expired []string
	)
	m.SetExpireHook(func(s *Session) {
		mu.Lock()
		expired = append(expired, s.ID)
		mu.Unlock()
		_, _ = m.End(s.ID)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(120 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "idle" {
		t.Fatalf("expired = %v, want [idle]", expired)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("ActiveCount() = %d after expiry", m.ActiveCount())
	}
}

func TestManagerJanitorWithoutHookDropsSession(t *testing.T) {
	m := NewManager(time.Minute)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	_, _ = m.Create(Session{ID: "idle"})
	now = base.Add(2 * time.Minute)
	m.expireInactive()

	if _, err := m.Get("idle"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}
