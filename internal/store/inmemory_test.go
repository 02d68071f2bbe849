package store

import (
	"context"
	"fmt"
	"testing"
)

func TestNewStoreWithoutDatabaseURLIsInMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "  ")
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *InMemoryStore", s)
	}
}

func TestInMemoryStoreRecentEscalations(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = s.SaveEscalation(ctx, EscalationEvent{CallID: fmt.Sprintf("a-%d", i), TenantID: "a", Level: "EMERGENCY"})
	}
	_ = s.SaveEscalation(ctx, EscalationEvent{CallID: "b-0", TenantID: "b", Level: "HIGH"})

	got, err := s.RecentEscalations(ctx, "a", 2)
	if err != nil {
		t.Fatalf("RecentEscalations() error = %v", err)
	}
	if len(got) != 2 || got[0].CallID != "a-2" || got[1].CallID != "a-1" {
		t.Fatalf("RecentEscalations(a, 2) = %+v", got)
	}
	if got[0].ID == "" || got[0].CreatedAt.IsZero() {
		t.Fatalf("escalation id/time not filled: %+v", got[0])
	}

	all, _ := s.RecentEscalations(ctx, "", 0)
	if len(all) != 4 || all[0].CallID != "b-0" {
		t.Fatalf("RecentEscalations(all) = %+v", all)
	}
}

func TestInMemoryStoreCapsSummaries(t *testing.T) {
	s := NewInMemoryStore()
	for i := 0; i < inMemoryCap+10; i++ {
		_ = s.SaveCallSummary(context.Background(), CallSummary{CallID: fmt.Sprintf("c-%d", i)})
	}
	got := s.Summaries()
	if len(got) != inMemoryCap {
		t.Fatalf("summaries = %d, want %d", len(got), inMemoryCap)
	}
	if got[0].CallID != "c-10" {
		t.Fatalf("oldest summary = %q, want c-10", got[0].CallID)
	}
}
