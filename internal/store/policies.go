package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/keywarden/keywarden/internal/model"
)

// GetPolicy returns the stored policy for a tenant, or ErrNotFound when the
// tenant has never customized one (callers fall back to model.DefaultPolicy).
func (s *Store) GetPolicy(ctx context.Context, tenantID string) (*model.Policy, error) {
	var pol model.Policy
	q := s.rebind(`SELECT * FROM policies WHERE tenant_id = ?`)
	if err := s.db.GetContext(ctx, &pol, q, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get policy: %w", err)
	}
	return &pol, nil
}

// UpsertPolicy creates or replaces a tenant's policy.
func (s *Store) UpsertPolicy(ctx context.Context, pol *model.Policy) error {
	now := time.Now().UTC()
	pol.UpdatedAt = now
	if pol.CreatedAt.IsZero() {
		pol.CreatedAt = now
	}

	var q string
	switch s.driver {
	case DriverMySQL:
		q = `INSERT INTO policies
			(tenant_id, max_delegation_depth, revocation_cascade_enabled, require_expiration,
			 max_expiration_days, auto_expire_unused_days, default_rate_limit, max_rate_limit_override,
			 max_rotation_grace_hours, usage_sampling_threshold, usage_sampling_rate, created_at, updated_at)
			VALUES
			(:tenant_id, :max_delegation_depth, :revocation_cascade_enabled, :require_expiration,
			 :max_expiration_days, :auto_expire_unused_days, :default_rate_limit, :max_rate_limit_override,
			 :max_rotation_grace_hours, :usage_sampling_threshold, :usage_sampling_rate, :created_at, :updated_at)
			ON DUPLICATE KEY UPDATE
			 max_delegation_depth = VALUES(max_delegation_depth),
			 revocation_cascade_enabled = VALUES(revocation_cascade_enabled),
			 require_expiration = VALUES(require_expiration),
			 max_expiration_days = VALUES(max_expiration_days),
			 auto_expire_unused_days = VALUES(auto_expire_unused_days),
			 default_rate_limit = VALUES(default_rate_limit),
			 max_rate_limit_override = VALUES(max_rate_limit_override),
			 max_rotation_grace_hours = VALUES(max_rotation_grace_hours),
			 usage_sampling_threshold = VALUES(usage_sampling_threshold),
			 usage_sampling_rate = VALUES(usage_sampling_rate),
			 updated_at = VALUES(updated_at)`
	default: // sqlite, postgres
		q = `INSERT INTO policies
			(tenant_id, max_delegation_depth, revocation_cascade_enabled, require_expiration,
			 max_expiration_days, auto_expire_unused_days, default_rate_limit, max_rate_limit_override,
			 max_rotation_grace_hours, usage_sampling_threshold, usage_sampling_rate, created_at, updated_at)
			VALUES
			(:tenant_id, :max_delegation_depth, :revocation_cascade_enabled, :require_expiration,
			 :max_expiration_days, :auto_expire_unused_days, :default_rate_limit, :max_rate_limit_override,
			 :max_rotation_grace_hours, :usage_sampling_threshold, :usage_sampling_rate, :created_at, :updated_at)
			ON CONFLICT (tenant_id) DO UPDATE SET
			 max_delegation_depth = excluded.max_delegation_depth,
			 revocation_cascade_enabled = excluded.revocation_cascade_enabled,
			 require_expiration = excluded.require_expiration,
			 max_expiration_days = excluded.max_expiration_days,
			 auto_expire_unused_days = excluded.auto_expire_unused_days,
			 default_rate_limit = excluded.default_rate_limit,
			 max_rate_limit_override = excluded.max_rate_limit_override,
			 max_rotation_grace_hours = excluded.max_rotation_grace_hours,
			 usage_sampling_threshold = excluded.usage_sampling_threshold,
			 usage_sampling_rate = excluded.usage_sampling_rate,
			 updated_at = excluded.updated_at`
	}

	if _, err := s.db.NamedExecContext(ctx, q, pol); err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}
