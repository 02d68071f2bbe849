package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

const inMemoryCap = 5000

// InMemoryStore keeps records in process for local/dev use. Each list is
// capped, dropping the oldest entries.
type InMemoryStore struct {
	mu          sync.RWMutex
	escalations []EscalationEvent
	summaries   []CallSummary
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveEscalation(_ context.Context, evt EscalationEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = appendCapped(s.escalations, evt)
	return nil
}

func (s *InMemoryStore) SaveCallSummary(_ context.Context, summary CallSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = appendCapped(s.summaries, summary)
	return nil
}

// RecentEscalations returns newest first. An empty tenant matches all.
func (s *InMemoryStore) RecentEscalations(_ context.Context, tenantID string, limit int) ([]EscalationEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]EscalationEvent, 0, limit)
	for i := len(s.escalations) - 1; i >= 0 && len(out) < limit; i-- {
		if tenantID != "" && s.escalations[i].TenantID != tenantID {
			continue
		}
		out = append(out, s.escalations[i])
	}
	return out, nil
}

// Summaries returns a copy of stored call summaries, oldest first.
func (s *InMemoryStore) Summaries() []CallSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CallSummary, len(s.summaries))
	copy(out, s.summaries)
	return out
}

func (s *InMemoryStore) Close() error { return nil }

func appendCapped[T any](list []T, v T) []T {
	list = append(list, v)
	if over := len(list) - inMemoryCap; over > 0 {
		list = append(list[:0], list[over:]...)
	}
	return list
}
