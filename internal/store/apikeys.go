package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/keywarden/keywarden/internal/model"
)

const apiKeyColumns = `id, tenant_id, label, key_type, key_hash, key_salt, key_prefix, key_suffix,
	permission, scope_type, scope_id, allowed_origins, allowed_ips, rate_limit,
	expires_at, suspended_at, suspended_reason, suspended_detail,
	revoked_at, revoked_reason, revoked_detail, rotation_grace_until, rotated_from_key_id,
	created_at, updated_at, last_used_at`

const insertAPIKeySQL = `INSERT INTO api_keys
	(id, tenant_id, label, key_type, key_hash, key_salt, key_prefix, key_suffix,
	 permission, scope_type, scope_id, allowed_origins, allowed_ips, rate_limit,
	 expires_at, rotation_grace_until, rotated_from_key_id, created_at, updated_at)
	VALUES
	(:id, :tenant_id, :label, :key_type, :key_hash, :key_salt, :key_prefix, :key_suffix,
	 :permission, :scope_type, :scope_id, :allowed_origins, :allowed_ips, :rate_limit,
	 :expires_at, :rotation_grace_until, :rotated_from_key_id, :created_at, :updated_at)`

// CreateAPIKey inserts a new key record. CreatedAt and UpdatedAt are set on
// the struct before the insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	now := time.Now().UTC()
	key.CreatedAt = now
	key.UpdatedAt = now

	if _, err := s.db.NamedExecContext(ctx, insertAPIKeySQL, key); err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert api key: %w", err)
	}
	return nil
}

// GetAPIKey returns a key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = ?`)
	if err := s.db.GetContext(ctx, &key, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// GetAPIKeyByPrefix resolves a key by its unique display prefix. This is the
// verification hot path: the prefix index makes it a point lookup, and the
// expensive hash comparison only ever runs against the single returned row.
func (s *Store) GetAPIKeyByPrefix(ctx context.Context, prefix string) (*model.APIKey, error) {
	var key model.APIKey
	q := s.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_prefix = ?`)
	if err := s.db.GetContext(ctx, &key, q, prefix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return &key, nil
}

// ListAPIKeys returns all keys for a tenant, newest first. Revoked and
// expired keys are included: key records are retained for audit, never
// physically deleted.
func (s *Store) ListAPIKeys(ctx context.Context, tenantID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	q := s.rebind(`SELECT ` + apiKeyColumns + ` FROM api_keys WHERE tenant_id = ? ORDER BY created_at DESC, id DESC`)
	if err := s.db.SelectContext(ctx, &keys, q, tenantID); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// SuspendAPIKey records a suspension. The WHERE clause is the lifecycle
// guard: only a live, unsuspended key can transition, so a concurrent
// suspend/revoke surfaces as ErrConflict rather than silently overwriting.
func (s *Store) SuspendAPIKey(ctx context.Context, id string, reason model.ReasonCode, detail *string) error {
	now := time.Now().UTC()
	q := s.rebind(`UPDATE api_keys
		SET suspended_at = ?, suspended_reason = ?, suspended_detail = ?, updated_at = ?
		WHERE id = ? AND suspended_at IS NULL AND revoked_at IS NULL`)
	res, err := s.db.ExecContext(ctx, q, now, reason, detail, now, id)
	if err != nil {
		return fmt.Errorf("suspend api key: %w", err)
	}
	return s.transitionResult(ctx, res, id)
}

// ReinstateAPIKey clears a suspension. Fails with ErrConflict if the key is
// not currently suspended (or was revoked in the meantime).
func (s *Store) ReinstateAPIKey(ctx context.Context, id string) error {
	now := time.Now().UTC()
	q := s.rebind(`UPDATE api_keys
		SET suspended_at = NULL, suspended_reason = NULL, suspended_detail = NULL, updated_at = ?
		WHERE id = ? AND suspended_at IS NOT NULL AND revoked_at IS NULL`)
	res, err := s.db.ExecContext(ctx, q, now, id)
	if err != nil {
		return fmt.Errorf("reinstate api key: %w", err)
	}
	return s.transitionResult(ctx, res, id)
}

// RevokeAPIKeys marks every listed key revoked in a single set-based update
// inside one transaction, which is what keeps a policy-driven cascade from
// deadlocking against concurrent rotations of the same chain.
func (s *Store) RevokeAPIKeys(ctx context.Context, ids []string, reason model.ReasonCode, detail *string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := `UPDATE api_keys
		SET revoked_at = ?, revoked_reason = ?, revoked_detail = ?, updated_at = ?
		WHERE revoked_at IS NULL AND id IN (` + placeholders + `)`

	args := make([]any, 0, len(ids)+4)
	args = append(args, now, reason, detail, now)
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return 0, fmt.Errorf("revoke api keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke api keys rows affected: %w", err)
	}
	return n, nil
}

// RotationChildren returns the keys whose rotated_from_key_id is any of the
// given ids. Used to walk a rotation chain one hop at a time.
func (s *Store) RotationChildren(ctx context.Context, ids []string) ([]model.APIKey, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	q := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE rotated_from_key_id IN (` + placeholders + `)`

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("rotation children: %w", err)
	}
	return keys, nil
}

// RotateAPIKey atomically inserts the successor key and stamps the
// predecessor's grace deadline. Committing both in one transaction guarantees
// there is never a window where neither secret verifies.
func (s *Store) RotateAPIKey(ctx context.Context, successor *model.APIKey, predecessorID string, graceUntil time.Time) error {
	now := time.Now().UTC()
	successor.CreatedAt = now
	successor.UpdatedAt = now

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.NamedExecContext(ctx, insertAPIKeySQL, successor); err != nil {
		return fmt.Errorf("insert successor key: %w", err)
	}

	q := s.rebind(`UPDATE api_keys SET rotation_grace_until = ?, updated_at = ?
		WHERE id = ? AND revoked_at IS NULL AND rotation_grace_until IS NULL`)
	res, err := tx.ExecContext(ctx, q, graceUntil.UTC(), now, predecessorID)
	if err != nil {
		return fmt.Errorf("stamp rotation grace: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("stamp rotation grace rows affected: %w", err)
	}
	if n == 0 {
		// Lost a race against a concurrent rotate or revoke of the predecessor.
		return ErrConflict
	}

	return tx.Commit()
}

// TouchAPIKeyLastUsed sets last_used_at. Called off the verification path.
func (s *Store) TouchAPIKeyLastUsed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	q := s.rebind(`UPDATE api_keys SET last_used_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, q, now, id); err != nil {
		return fmt.Errorf("touch api key last used: %w", err)
	}
	return nil
}

// MaterializeRotationRevocations physically records the revoked state for
// keys whose rotation grace window has elapsed. Purely a query optimization:
// the derived state is authoritative with or without this sweep.
func (s *Store) MaterializeRotationRevocations(ctx context.Context, now time.Time) (int64, error) {
	q := s.rebind(`UPDATE api_keys
		SET revoked_at = rotation_grace_until, revoked_reason = ?, updated_at = ?
		WHERE revoked_at IS NULL AND rotation_grace_until IS NOT NULL AND rotation_grace_until < ?`)
	res, err := s.db.ExecContext(ctx, q, model.ReasonRotationCompleted, now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("materialize rotation revocations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("materialize rotation revocations rows affected: %w", err)
	}
	return n, nil
}

// transitionResult maps a zero-row conditional update to ErrNotFound (the key
// doesn't exist) or ErrConflict (it exists but the guard failed).
func (s *Store) transitionResult(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetAPIKey(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrConflict
}
