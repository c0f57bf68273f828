package service

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/store"
)

// DefaultRotationGrace is the grace window applied when a rotation does not
// request one explicitly.
const DefaultRotationGrace = 24 * time.Hour

// Engine is the scoped API-key lifecycle and authorization engine. It is
// stateless per request: every method may run concurrently with any other,
// including against the same key, with the store's transactional guarantees
// carrying the atomicity.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine creates an Engine on top of the given store.
func NewEngine(st *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// CreateKeyInput carries the caller-controlled fields for key creation.
type CreateKeyInput struct {
	TenantID       string
	Label          string
	KeyType        model.KeyType
	Permission     model.Permission
	ScopeType      model.ScopeType
	ScopeID        *string
	AllowedOrigins []string
	AllowedIPs     []string
	ExpiresAt      *time.Time
	RateLimit      *int
}

// CreateKey validates the request against shape rules and the tenant policy,
// generates a fresh secret, and persists the key. The raw secret is returned
// exactly once and is never retrievable afterwards.
func (e *Engine) CreateKey(ctx context.Context, in CreateKeyInput) (*model.APIKey, string, error) {
	if err := e.validateCreate(&in); err != nil {
		return nil, "", err
	}

	pol, err := e.Policy(ctx, in.TenantID)
	if err != nil {
		return nil, "", err
	}
	if err := checkAgainstPolicy(pol, in.ExpiresAt, in.RateLimit, e.now()); err != nil {
		return nil, "", err
	}

	key, raw, err := e.mintKey(in)
	if err != nil {
		return nil, "", err
	}
	if err := e.store.CreateAPIKey(ctx, key); err != nil {
		return nil, "", err
	}
	e.logger.Info("api key created",
		"key_id", key.ID, "tenant_id", key.TenantID, "key_type", key.KeyType,
		"scope_type", key.ScopeType, "permission", key.Permission, "prefix", key.KeyPrefix)
	return key, raw, nil
}

// mintKey builds an unsaved key record plus its raw secret.
func (e *Engine) mintKey(in CreateKeyInput) (*model.APIKey, string, error) {
	raw, prefix, suffix, err := GenerateSecret(in.KeyType)
	if err != nil {
		return nil, "", err
	}
	salt, err := NewSalt()
	if err != nil {
		return nil, "", err
	}
	return &model.APIKey{
		ID:             uuid.Must(uuid.NewV7()).String(),
		TenantID:       in.TenantID,
		Label:          in.Label,
		KeyType:        in.KeyType,
		KeyHash:        HashSecret(raw, salt),
		KeySalt:        salt,
		KeyPrefix:      prefix,
		KeySuffix:      suffix,
		Permission:     in.Permission,
		ScopeType:      in.ScopeType,
		ScopeID:        in.ScopeID,
		AllowedOrigins: model.StringList(in.AllowedOrigins),
		AllowedIPs:     model.StringList(in.AllowedIPs),
		RateLimit:      in.RateLimit,
		ExpiresAt:      in.ExpiresAt,
	}, raw, nil
}

func (e *Engine) validateCreate(in *CreateKeyInput) error {
	if in.TenantID == "" {
		return validationf("tenant_id", "required")
	}
	if !in.KeyType.Valid() {
		return validationf("key_type", "must be %q or %q", model.KeyTypeSecret, model.KeyTypePublic)
	}
	if !in.Permission.Valid() {
		return validationf("permission", "must be read, write, or admin")
	}
	if !in.ScopeType.Valid() {
		return validationf("scope_type", "must be tenant, space, assistant, or app")
	}
	if in.ScopeType == model.ScopeTenant {
		if in.ScopeID != nil {
			return validationf("scope_id", "must be empty for tenant scope")
		}
	} else if in.ScopeID == nil || *in.ScopeID == "" {
		return validationf("scope_id", "required for %s scope", in.ScopeType)
	}

	if in.KeyType == model.KeyTypePublic {
		// Public keys live in browsers: read-only, origin-pinned, no IP list.
		if in.Permission != model.PermissionRead {
			return validationf("permission", "public keys are pinned to read")
		}
		if len(in.AllowedOrigins) == 0 {
			return validationf("allowed_origins", "required for public keys")
		}
	} else if len(in.AllowedOrigins) > 0 {
		return validationf("allowed_origins", "only meaningful for public keys")
	}

	if in.KeyType == model.KeyTypeSecret {
		for _, cidr := range in.AllowedIPs {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				if net.ParseIP(cidr) == nil {
					return validationf("allowed_ips", "%q is not a valid IP or CIDR", cidr)
				}
			}
		}
	} else if len(in.AllowedIPs) > 0 {
		return validationf("allowed_ips", "only meaningful for secret keys")
	}

	return nil
}

// checkAgainstPolicy enforces the tenant policy caps shared by create and
// rotate-with-overrides.
func checkAgainstPolicy(pol *model.Policy, expiresAt *time.Time, rateLimit *int, now time.Time) error {
	if pol.RequireExpiration && expiresAt == nil {
		return policyViolationf("require_expiration", "tenant policy requires an expiration")
	}
	if expiresAt != nil {
		if !expiresAt.After(now) {
			return validationf("expires_at", "must be in the future")
		}
		if pol.MaxExpirationDays > 0 {
			max := now.Add(time.Duration(pol.MaxExpirationDays) * 24 * time.Hour)
			if expiresAt.After(max) {
				return policyViolationf("max_expiration_days",
					"expiration exceeds tenant limit of %d days", pol.MaxExpirationDays)
			}
		}
	}
	if rateLimit != nil {
		if *rateLimit <= 0 {
			return validationf("rate_limit", "must be positive")
		}
		if pol.MaxRateLimitOverride > 0 && *rateLimit > pol.MaxRateLimitOverride {
			return policyViolationf("max_rate_limit_override",
				"rate limit exceeds tenant cap of %d requests/hour", pol.MaxRateLimitOverride)
		}
	}
	return nil
}

// GetKey returns a key by id.
func (e *Engine) GetKey(ctx context.Context, id string) (*model.APIKey, error) {
	return e.store.GetAPIKey(ctx, id)
}

// ListKeys returns all keys for a tenant, newest first.
func (e *Engine) ListKeys(ctx context.Context, tenantID string) ([]model.APIKey, error) {
	return e.store.ListAPIKeys(ctx, tenantID)
}

// KeyState derives the effective lifecycle state of a key under its tenant's
// policy at the current time.
func (e *Engine) KeyState(ctx context.Context, key *model.APIKey) (model.KeyState, error) {
	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil {
		return "", err
	}
	return EffectiveState(key, pol, e.now()), nil
}

// RotateKey replaces a key's secret while preserving continuity: a successor
// key is created with identical scope, permission, and constraints, and the
// predecessor keeps verifying until the grace window closes. Both writes
// commit in one transaction, so there is no instant where neither secret
// works.
func (e *Engine) RotateKey(ctx context.Context, keyID string, grace time.Duration) (*model.APIKey, string, error) {
	key, err := e.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, "", err
	}
	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil {
		return nil, "", err
	}

	switch st := EffectiveState(key, pol, e.now()); st {
	case model.StateActive:
	case model.StateSuspended:
		return nil, "", validationf("key_id", "cannot rotate a suspended key; reinstate it first")
	default:
		return nil, "", validationf("key_id", "cannot rotate a %s key", st)
	}
	if key.RotationGraceUntil != nil {
		return nil, "", ErrConflict // already rotated, successor exists
	}

	if grace <= 0 {
		grace = DefaultRotationGrace
	}
	if max := pol.MaxRotationGrace(); max > 0 && grace > max {
		return nil, "", policyViolationf("max_rotation_grace_hours",
			"grace period exceeds tenant cap of %dh", pol.MaxRotationGraceHours)
	}

	successor, raw, err := e.mintKey(CreateKeyInput{
		TenantID:       key.TenantID,
		Label:          key.Label,
		KeyType:        key.KeyType,
		Permission:     key.Permission,
		ScopeType:      key.ScopeType,
		ScopeID:        key.ScopeID,
		AllowedOrigins: []string(key.AllowedOrigins),
		AllowedIPs:     []string(key.AllowedIPs),
		ExpiresAt:      key.ExpiresAt,
		RateLimit:      key.RateLimit,
	})
	if err != nil {
		return nil, "", err
	}
	successor.RotatedFromKeyID = &key.ID

	graceUntil := e.now().Add(grace)
	if err := e.store.RotateAPIKey(ctx, successor, key.ID, graceUntil); err != nil {
		return nil, "", err
	}
	e.logger.Info("api key rotated",
		"key_id", key.ID, "successor_id", successor.ID, "grace_until", graceUntil.UTC())
	return successor, raw, nil
}

// SuspendKey transitions an active key to suspended with an audited reason.
func (e *Engine) SuspendKey(ctx context.Context, keyID string, reason model.ReasonCode, detail *string) (*model.APIKey, error) {
	if !reason.Valid() {
		return nil, validationf("reason_code", "unknown reason %q", reason)
	}
	key, err := e.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil {
		return nil, err
	}
	if st := EffectiveState(key, pol, e.now()); st.Terminal() {
		return nil, validationf("key_id", "cannot suspend a %s key", st)
	}
	if err := e.store.SuspendAPIKey(ctx, keyID, reason, detail); err != nil {
		return nil, err
	}
	e.logger.Info("api key suspended", "key_id", keyID, "reason", reason)
	return e.store.GetAPIKey(ctx, keyID)
}

// ReinstateKey transitions a suspended key back to active. Terminal keys can
// never be reinstated; a new key must be issued instead.
func (e *Engine) ReinstateKey(ctx context.Context, keyID string) (*model.APIKey, error) {
	key, err := e.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil {
		return nil, err
	}
	switch st := EffectiveState(key, pol, e.now()); st {
	case model.StateSuspended:
	case model.StateActive:
		return nil, ErrConflict
	default:
		return nil, validationf("key_id", "cannot reinstate a %s key", st)
	}
	if err := e.store.ReinstateAPIKey(ctx, keyID); err != nil {
		return nil, err
	}
	e.logger.Info("api key reinstated", "key_id", keyID)
	return e.store.GetAPIKey(ctx, keyID)
}

// RevokeKey permanently revokes a key. When the tenant policy enables cascade
// revocation, every key descended from it through rotation is revoked in the
// same set-based update, walked at most max_delegation_depth hops.
func (e *Engine) RevokeKey(ctx context.Context, keyID string, reason model.ReasonCode, detail *string) (*model.APIKey, error) {
	if !reason.Valid() {
		return nil, validationf("reason_code", "unknown reason %q", reason)
	}
	key, err := e.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if key.RevokedAt != nil {
		return nil, ErrConflict
	}
	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil {
		return nil, err
	}

	ids := []string{key.ID}
	if pol.RevocationCascadeEnabled {
		ids, err = e.collectRotationChain(ctx, key.ID, pol.MaxDelegationDepth)
		if err != nil {
			return nil, err
		}
	}

	n, err := e.store.RevokeAPIKeys(ctx, ids, reason, detail)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrConflict
	}
	e.logger.Info("api key revoked", "key_id", keyID, "reason", reason, "cascade_count", n-1)
	return e.store.GetAPIKey(ctx, keyID)
}

// collectRotationChain gathers keyID plus every descendant reachable through
// rotated_from_key_id back-references, bounded to maxDepth hops so a
// pathological chain cannot make the cascade unbounded.
func (e *Engine) collectRotationChain(ctx context.Context, keyID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	all := []string{keyID}
	seen := map[string]bool{keyID: true}
	frontier := []string{keyID}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		children, err := e.store.RotationChildren(ctx, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, child := range children {
			if seen[child.ID] {
				continue
			}
			seen[child.ID] = true
			all = append(all, child.ID)
			frontier = append(frontier, child.ID)
		}
	}
	return all, nil
}

// ListUsage returns the O(1) rolled-up summary plus one page of raw events
// for a key. A key that has never been presented yields a zero summary.
func (e *Engine) ListUsage(ctx context.Context, keyID string, limit int, cursor string) (*model.UsageSummary, []model.UsageEvent, string, error) {
	key, err := e.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return nil, nil, "", err
	}

	sum, err := e.store.GetUsageSummary(ctx, keyID)
	if errors.Is(err, store.ErrNotFound) {
		sum = &model.UsageSummary{KeyID: keyID, TenantID: key.TenantID}
	} else if err != nil {
		return nil, nil, "", err
	}

	events, next, err := e.store.ListUsageEvents(ctx, keyID, limit, cursor)
	if err != nil {
		return nil, nil, "", err
	}
	return sum, events, next, nil
}

// Sweep materializes derived states for query efficiency and prunes dead
// rows. Correctness never depends on it; the read-time derivation is
// authoritative.
func (e *Engine) Sweep(ctx context.Context) {
	now := e.now()
	if n, err := e.store.MaterializeRotationRevocations(ctx, now); err != nil {
		e.logger.Warn("sweep: materialize rotation revocations", "error", err)
	} else if n > 0 {
		e.logger.Info("sweep: materialized rotation revocations", "count", n)
	}
	if _, err := e.store.PruneRateCounters(ctx, now.Add(-48*time.Hour)); err != nil {
		e.logger.Warn("sweep: prune rate counters", "error", err)
	}
	if _, err := e.store.PruneIdempotencyRecords(ctx, 24*time.Hour); err != nil {
		e.logger.Warn("sweep: prune idempotency records", "error", err)
	}
}
