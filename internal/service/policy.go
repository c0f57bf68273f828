package service

import (
	"context"
	"errors"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/store"
)

// Policy returns the tenant's stored policy, or the defaults when none was
// ever customized.
func (e *Engine) Policy(ctx context.Context, tenantID string) (*model.Policy, error) {
	pol, err := e.store.GetPolicy(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		def := model.DefaultPolicy(tenantID)
		return &def, nil
	}
	if err != nil {
		return nil, err
	}
	return pol, nil
}

// UpdatePolicy validates and persists a tenant policy.
func (e *Engine) UpdatePolicy(ctx context.Context, pol *model.Policy) (*model.Policy, error) {
	if pol.TenantID == "" {
		return nil, validationf("tenant_id", "required")
	}
	if pol.MaxDelegationDepth < 1 {
		return nil, validationf("max_delegation_depth", "must be at least 1")
	}
	if pol.MaxExpirationDays < 0 || pol.AutoExpireUnusedDays < 0 {
		return nil, validationf("expiration_days", "must not be negative")
	}
	if pol.DefaultRateLimit < 0 || pol.MaxRateLimitOverride < 0 {
		return nil, validationf("rate_limit", "must not be negative")
	}
	if pol.MaxRotationGraceHours < 1 {
		return nil, validationf("max_rotation_grace_hours", "must be at least 1")
	}
	if pol.UsageSamplingRate < 1 {
		return nil, validationf("usage_sampling_rate", "must be at least 1")
	}
	if err := e.store.UpsertPolicy(ctx, pol); err != nil {
		return nil, err
	}
	e.logger.Info("tenant policy updated", "tenant_id", pol.TenantID)
	return pol, nil
}
