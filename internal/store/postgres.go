package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists escalations and call summaries in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS escalation_events (
			id TEXT PRIMARY KEY,
			call_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			level TEXT NOT NULL,
			matched_keyword TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL,
			transcript TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_escalation_events_tenant_created ON escalation_events (tenant_id, created_at);`,
		`CREATE TABLE IF NOT EXISTS call_summaries (
			call_id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			caller TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL DEFAULT 'en',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL,
			turn_count INTEGER NOT NULL,
			avg_stt_ms DOUBLE PRECISION NOT NULL,
			avg_llm_ms DOUBLE PRECISION NOT NULL,
			avg_tts_ms DOUBLE PRECISION NOT NULL,
			transfer_requested BOOLEAN NOT NULL DEFAULT FALSE,
			transfer_reason TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_summaries_tenant_ended ON call_summaries (tenant_id, ended_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) SaveEscalation(ctx context.Context, evt EscalationEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO escalation_events (id, call_id, tenant_id, level, matched_keyword, action, transcript, language, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		evt.ID,
		evt.CallID,
		evt.TenantID,
		evt.Level,
		evt.MatchedKeyword,
		evt.Action,
		evt.Transcript,
		evt.Language,
		evt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveCallSummary(ctx context.Context, c CallSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_summaries (call_id, tenant_id, caller, language, started_at, ended_at, duration_seconds,
			turn_count, avg_stt_ms, avg_llm_ms, avg_tts_ms, transfer_requested, transfer_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (call_id) DO NOTHING`,
		c.CallID,
		c.TenantID,
		c.Caller,
		c.Language,
		c.StartedAt,
		c.EndedAt,
		c.DurationSeconds,
		c.TurnCount,
		c.AvgSTTMS,
		c.AvgLLMMS,
		c.AvgTTSMS,
		c.TransferRequested,
		c.TransferReason,
	)
	if err != nil {
		return fmt.Errorf("save call summary: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentEscalations(ctx context.Context, tenantID string, limit int) ([]EscalationEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, call_id, tenant_id, level, matched_keyword, action, transcript, language, created_at
		 FROM escalation_events WHERE ($1 = '' OR tenant_id = $1) ORDER BY created_at DESC LIMIT $2`,
		tenantID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	items := make([]EscalationEvent, 0, limit)
	for rows.Next() {
		var e EscalationEvent
		if err := rows.Scan(&e.ID, &e.CallID, &e.TenantID, &e.Level, &e.MatchedKeyword, &e.Action, &e.Transcript, &e.Language, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan escalation row: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalation rows: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
