package session

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

var (
	ErrNotFound = errors.New("session not found")
	ErrExists   = errors.New("session already exists")
)

// Manager is the in-memory table of live calls. Callers always receive
// copies; mutation goes through the manager.
type Manager struct {
	mu                sync.RWMutex
	sessions          map[string]*Session
	inactivityTimeout time.Duration
	onExpire          func(*Session)
	now               func() time.Time
}

func NewManager(inactivityTimeout time.Duration) *Manager {
	if inactivityTimeout <= 0 {
		inactivityTimeout = 2 * time.Minute
	}
	return &Manager{
		sessions:          make(map[string]*Session),
		inactivityTimeout: inactivityTimeout,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// SetExpireHook registers the callback run for each session the janitor
// expires. When no hook is set expired sessions are dropped from the table.
func (m *Manager) SetExpireHook(hook func(*Session)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExpire = hook
}

func (m *Manager) Create(s Session) (*Session, error) {
	s.ID = strings.TrimSpace(s.ID)
	if s.ID == "" {
		return nil, errors.New("session id is required")
	}
	now := m.now()
	s.Status = StatusActive
	s.StartedAt = now
	s.LastActivityAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return nil, ErrExists
	}
	m.sessions[s.ID] = &s
	return clone(&s), nil
}

func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(s), nil
}

func (m *Manager) Touch(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.LastActivityAt = m.now()
	return nil
}

// RecordTurn counts one completed turn and adds its phase latencies.
func (m *Manager) RecordTurn(sessionID string, lat TurnLatency) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.TurnCount++
	s.STTTotalMS += lat.STTMS
	s.LLMTotalMS += lat.LLMMS
	s.TTSTotalMS += lat.TTSMS
	s.LastActivityAt = m.now()
	return nil
}

// RequestTransfer flags the call for a human handoff. The first reason wins.
func (m *Manager) RequestTransfer(sessionID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	if !s.TransferRequested {
		s.TransferRequested = true
		s.TransferReason = reason
	}
	s.LastActivityAt = m.now()
	return nil
}

// End removes the session from the table and returns its final state.
func (m *Manager) End(sessionID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, sessionID)
	s.Status = StatusEnded
	s.LastActivityAt = m.now()
	return clone(s), nil
}

// List returns active sessions, oldest first.
func (m *Manager) List() []Session {
	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			out = append(out, *s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, s := range m.sessions {
		if s.Status == StatusActive {
			count++
		}
	}
	return count
}

func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.expireInactive()
			}
		}
	}()
}

// expireInactive marks idle sessions ended so no further turn runs on them,
// then hands them to the expire hook, which is expected to End them.
func (m *Manager) expireInactive() {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	hook := m.onExpire
	for id, s := range m.sessions {
		if s.Status != StatusActive {
			continue
		}
		if now.Sub(s.LastActivityAt) < m.inactivityTimeout {
			continue
		}
		s.Status = StatusEnded
		expired = append(expired, clone(s))
		if hook == nil {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	if hook != nil {
		for _, s := range expired {
			hook(s)
		}
	}
}

func clone(s *Session) *Session {
	c := *s
	return &c
}
