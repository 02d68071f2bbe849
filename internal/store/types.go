// Package store persists escalation events and end-of-call summaries.
package store

import (
	"context"
	"time"
)

// EscalationEvent is one HIGH or EMERGENCY triage occurrence.
type EscalationEvent struct {
	ID             string    `json:"id"`
	CallID         string    `json:"call_id"`
	TenantID       string    `json:"tenant_id"`
	Level          string    `json:"level"`
	MatchedKeyword string    `json:"matched_keyword"`
	Action         string    `json:"action"`
	Transcript     string    `json:"transcript"`
	Language       string    `json:"language"`
	CreatedAt      time.Time `json:"created_at"`
}

// CallSummary is the durable record of a finished call.
type CallSummary struct {
	CallID            string    `json:"call_id"`
	TenantID          string    `json:"tenant_id"`
	Caller            string    `json:"caller,omitempty"`
	Language          string    `json:"language"`
	StartedAt         time.Time `json:"started_at"`
	EndedAt           time.Time `json:"ended_at"`
	DurationSeconds   float64   `json:"duration_seconds"`
	TurnCount         int       `json:"turn_count"`
	AvgSTTMS          float64   `json:"avg_stt_ms"`
	AvgLLMMS          float64   `json:"avg_llm_ms"`
	AvgTTSMS          float64   `json:"avg_tts_ms"`
	TransferRequested bool      `json:"transfer_requested"`
	TransferReason    string    `json:"transfer_reason,omitempty"`
}

// Store is the append-only sink for escalations and call summaries.
type Store interface {
	SaveEscalation(ctx context.Context, evt EscalationEvent) error
	SaveCallSummary(ctx context.Context, summary CallSummary) error
	RecentEscalations(ctx context.Context, tenantID string, limit int) ([]EscalationEvent, error)
	Close() error
}
