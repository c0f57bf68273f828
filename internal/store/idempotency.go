package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// IdempotencyRecord is the stored outcome of a completed mutating request,
// replayed verbatim when the same token arrives again.
type IdempotencyRecord struct {
	Operation   string
	RequestHash string
	Status      int
	Response    []byte
}

// PutIdempotencyRecord stores the response for a client-supplied idempotency
// token. Returns ErrDuplicate if the token was already used, in which case
// the caller should replay the stored response instead.
func (s *Store) PutIdempotencyRecord(ctx context.Context, tenantID, token, operation, requestHash string, status int, response []byte) error {
	q := s.rebind(`INSERT INTO idempotency_keys (tenant_id, token, operation, request_hash, status, response_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, tenantID, token, operation, requestHash, status, string(response), time.Now().UTC()); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

// GetIdempotencyRecord returns the stored record for a token, or ErrNotFound.
// The operation name guards against a token being replayed across different
// endpoints; the request hash lets the caller reject a token reused with a
// different payload.
func (s *Store) GetIdempotencyRecord(ctx context.Context, tenantID, token, operation string) (*IdempotencyRecord, error) {
	var row struct {
		Operation    string `db:"operation"`
		RequestHash  string `db:"request_hash"`
		Status       int    `db:"status"`
		ResponseJSON string `db:"response_json"`
	}
	q := s.rebind(`SELECT operation, request_hash, status, response_json FROM idempotency_keys WHERE tenant_id = ? AND token = ?`)
	if err := s.db.GetContext(ctx, &row, q, tenantID, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get idempotency record: %w", err)
	}
	if row.Operation != operation {
		return nil, ErrConflict
	}
	return &IdempotencyRecord{
		Operation:   row.Operation,
		RequestHash: row.RequestHash,
		Status:      row.Status,
		Response:    []byte(row.ResponseJSON),
	}, nil
}

// PruneIdempotencyRecords deletes records older than maxAge.
func (s *Store) PruneIdempotencyRecords(ctx context.Context, maxAge time.Duration) (int64, error) {
	q := s.rebind(`DELETE FROM idempotency_keys WHERE created_at < ?`)
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("prune idempotency records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune idempotency records rows affected: %w", err)
	}
	return n, nil
}
