package store

import (
	"context"
	"fmt"
	"time"
)

// RateBucket formats the hour bucket identifier for a point in time.
func RateBucket(t time.Time) string {
	return t.UTC().Format("2006010215")
}

// IncrementRateCounter atomically bumps the counter row for (keyID, bucket)
// and returns the post-increment count. The increment and read happen in one
// statement on every driver, so concurrent callers can never lose an update
// and overrun a budget.
func (s *Store) IncrementRateCounter(ctx context.Context, keyID, bucket string) (int64, error) {
	switch s.driver {
	case DriverMySQL:
		// LAST_INSERT_ID(expr) makes the updated count readable from the
		// result without a second, racy SELECT.
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO rate_counters (key_id, bucket, count) VALUES (?, ?, LAST_INSERT_ID(1))
			 ON DUPLICATE KEY UPDATE count = LAST_INSERT_ID(count + 1)`,
			keyID, bucket)
		if err != nil {
			return 0, fmt.Errorf("increment rate counter: %w", err)
		}
		count, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("read rate counter: %w", err)
		}
		return count, nil

	default: // sqlite, postgres
		q := s.rebind(`INSERT INTO rate_counters (key_id, bucket, count) VALUES (?, ?, 1)
			ON CONFLICT (key_id, bucket) DO UPDATE SET count = rate_counters.count + 1
			RETURNING count`)
		var count int64
		if err := s.db.GetContext(ctx, &count, q, keyID, bucket); err != nil {
			return 0, fmt.Errorf("increment rate counter: %w", err)
		}
		return count, nil
	}
}

// PruneRateCounters deletes buckets older than the given time. Stale buckets
// are dead weight only; correctness never depends on this running.
func (s *Store) PruneRateCounters(ctx context.Context, before time.Time) (int64, error) {
	q := s.rebind(`DELETE FROM rate_counters WHERE bucket < ?`)
	res, err := s.db.ExecContext(ctx, q, RateBucket(before))
	if err != nil {
		return 0, fmt.Errorf("prune rate counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rate counters rows affected: %w", err)
	}
	return n, nil
}
