package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/keywarden/keywarden/internal/model"
)

// RecordUsage appends a usage event and bumps the per-key summary in one
// transaction, so the summary counts every attempt even when the raw success
// row is sampled away (storeEvent=false). markSampled latches the summary's
// sampled_used_events flag the first time sampling engages for the key.
func (s *Store) RecordUsage(ctx context.Context, ev *model.UsageEvent, storeEvent, markSampled bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if storeEvent {
		const q = `INSERT INTO usage_events
			(id, key_id, tenant_id, outcome, deny_reason, action, resource,
			 caller_ip, origin, method, path, occurred_at)
			VALUES
			(:id, :key_id, :tenant_id, :outcome, :deny_reason, :action, :resource,
			 :caller_ip, :origin, :method, :path, :occurred_at)`
		if _, err := tx.NamedExecContext(ctx, q, ev); err != nil {
			return fmt.Errorf("insert usage event: %w", err)
		}
	}

	success := ev.Outcome == model.OutcomeSuccess
	if err := s.bumpSummary(ctx, tx, ev, success); err != nil {
		return err
	}

	if markSampled {
		q := s.rebind(`UPDATE usage_summaries SET sampled_used_events = ? WHERE key_id = ?`)
		if _, err := tx.ExecContext(ctx, q, true, ev.KeyID); err != nil {
			return fmt.Errorf("mark summary sampled: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) bumpSummary(ctx context.Context, tx *sqlx.Tx, ev *model.UsageEvent, success bool) error {
	used, failed := 0, 0
	var lastSuccess, lastFailure *time.Time
	at := ev.OccurredAt.UTC()
	if success {
		used = 1
		lastSuccess = &at
	} else {
		failed = 1
		lastFailure = &at
	}

	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO usage_summaries
			(key_id, tenant_id, total_events, used_events, auth_failed_events, sampled_used_events,
			 last_seen_at, last_success_at, last_failure_at)
			VALUES (?, ?, 1, ?, ?, FALSE, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			 total_events = total_events + 1,
			 used_events = used_events + VALUES(used_events),
			 auth_failed_events = auth_failed_events + VALUES(auth_failed_events),
			 last_seen_at = VALUES(last_seen_at),
			 last_success_at = COALESCE(VALUES(last_success_at), last_success_at),
			 last_failure_at = COALESCE(VALUES(last_failure_at), last_failure_at)`
	default: // sqlite, postgres
		q = s.rebind(`INSERT INTO usage_summaries
			(key_id, tenant_id, total_events, used_events, auth_failed_events, sampled_used_events,
			 last_seen_at, last_success_at, last_failure_at)
			VALUES (?, ?, 1, ?, ?, FALSE, ?, ?, ?)
			ON CONFLICT (key_id) DO UPDATE SET
			 total_events = usage_summaries.total_events + 1,
			 used_events = usage_summaries.used_events + excluded.used_events,
			 auth_failed_events = usage_summaries.auth_failed_events + excluded.auth_failed_events,
			 last_seen_at = excluded.last_seen_at,
			 last_success_at = COALESCE(excluded.last_success_at, usage_summaries.last_success_at),
			 last_failure_at = COALESCE(excluded.last_failure_at, usage_summaries.last_failure_at)`)
	}

	if _, err := tx.ExecContext(ctx, q, ev.KeyID, ev.TenantID, used, failed, at, lastSuccess, lastFailure); err != nil {
		return fmt.Errorf("bump usage summary: %w", err)
	}
	return nil
}

// GetUsageSummary returns the rolled-up summary for a key without touching
// the event table. Keys that have never been presented get a zero summary.
func (s *Store) GetUsageSummary(ctx context.Context, keyID string) (*model.UsageSummary, error) {
	var sum model.UsageSummary
	q := s.rebind(`SELECT * FROM usage_summaries WHERE key_id = ?`)
	if err := s.db.GetContext(ctx, &sum, q, keyID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get usage summary: %w", err)
	}
	return &sum, nil
}

// ListUsageEvents pages through a key's raw events, newest first. The cursor
// is the id of the last event from the previous page; UUIDv7 ids sort in
// creation order so no timestamp tiebreak is needed.
func (s *Store) ListUsageEvents(ctx context.Context, keyID string, limit int, cursor string) ([]model.UsageEvent, string, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var events []model.UsageEvent
	var err error
	if cursor == "" {
		q := s.rebind(`SELECT * FROM usage_events WHERE key_id = ? ORDER BY id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &events, q, keyID, limit+1)
	} else {
		q := s.rebind(`SELECT * FROM usage_events WHERE key_id = ? AND id < ? ORDER BY id DESC LIMIT ?`)
		err = s.db.SelectContext(ctx, &events, q, keyID, cursor, limit+1)
	}
	if err != nil {
		return nil, "", fmt.Errorf("list usage events: %w", err)
	}

	next := ""
	if len(events) > limit {
		events = events[:limit]
		next = events[limit-1].ID
	}
	return events, next, nil
}
