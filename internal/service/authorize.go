package service

import (
	"context"
	"errors"
	"net"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/store"
)

// Outcome classifies a verification decision for the caller. Every denial
// except rate limiting is uniform: the caller learns that the credential was
// rejected and nothing else. The precise reason lives only in the usage log.
type Outcome string

const (
	OutcomeAllow       Outcome = "allow"
	OutcomeDenied      Outcome = "denied"
	OutcomeRateLimited Outcome = "rate_limited"
)

// VerifyInput is one authorization attempt as seen by the platform's
// request-handling middleware.
type VerifyInput struct {
	RawSecret string
	Action    model.Permission
	Resource  model.Resource
	Origin    string // browser Origin header, public keys
	CallerIP  string
	Method    string // request metadata for the usage log
	Path      string
}

// Decision is the verification result. Key is populated only on allow.
type Decision struct {
	Outcome Outcome
	Key     *model.APIKey
}

func (d Decision) Allowed() bool { return d.Outcome == OutcomeAllow }

// VerifyAndAuthorize resolves a presented credential and decides whether the
// requested (action, resource) pair is allowed. Checks run in a fixed order:
// secret verification, lifecycle state (rotation grace counts as active),
// origin/IP constraints, permission ordering, scope containment, then the
// rate budget. Every attempt that resolves to a known key is recorded.
func (e *Engine) VerifyAndAuthorize(ctx context.Context, in VerifyInput) (Decision, error) {
	deny := Decision{Outcome: OutcomeDenied}

	prefix, _, ok := SplitSecret(in.RawSecret)
	if !ok {
		// Malformed secret: no key to attribute the attempt to.
		e.logger.Debug("rejected malformed credential", "caller_ip", in.CallerIP)
		return deny, nil
	}

	key, err := e.store.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Debug("rejected unknown credential prefix", "prefix", prefix, "caller_ip", in.CallerIP)
			return deny, nil
		}
		return deny, err
	}

	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil {
		return deny, err
	}

	if !VerifySecret(in.RawSecret, key) {
		return e.record(ctx, deny, key, in, model.DenyInvalidSecret)
	}

	switch EffectiveState(key, pol, e.now()) {
	case model.StateActive:
	case model.StateSuspended:
		return e.record(ctx, deny, key, in, model.DenyKeySuspended)
	case model.StateRevoked:
		return e.record(ctx, deny, key, in, model.DenyKeyRevoked)
	case model.StateExpired:
		return e.record(ctx, deny, key, in, model.DenyKeyExpired)
	}

	if key.KeyType == model.KeyTypePublic {
		if in.Origin == "" || !key.AllowedOrigins.Contains(in.Origin) {
			return e.record(ctx, deny, key, in, model.DenyOriginRejected)
		}
	} else if len(key.AllowedIPs) > 0 && !ipAllowed(in.CallerIP, key.AllowedIPs) {
		return e.record(ctx, deny, key, in, model.DenyIPRejected)
	}

	if !key.Permission.Allows(in.Action) {
		return e.record(ctx, deny, key, in, model.DenyPermissionDenied)
	}

	if !scopeContains(key, in.Resource) {
		return e.record(ctx, deny, key, in, model.DenyScopeMismatch)
	}

	withinBudget, err := e.consumeRateBudget(ctx, key, pol)
	if err != nil {
		return deny, err
	}
	if !withinBudget {
		return e.record(ctx, Decision{Outcome: OutcomeRateLimited}, key, in, model.DenyRateLimited)
	}

	// last_used_at feeds the unused-key expiry derivation, so the update is
	// synchronous best-effort; a write failure costs one timestamp, not the
	// decision.
	if err := e.store.TouchAPIKeyLastUsed(ctx, key.ID); err != nil {
		e.logger.Warn("touch last_used_at", "key_id", key.ID, "error", err)
	}

	return e.record(ctx, Decision{Outcome: OutcomeAllow, Key: key}, key, in, "")
}

// record appends the usage event for a resolved attempt, applying the
// tenant's sampling policy to successful events. Failures are always stored
// in full: they are the security-forensic record.
func (e *Engine) record(ctx context.Context, d Decision, key *model.APIKey, in VerifyInput, reason model.DenyReason) (Decision, error) {
	ev := &model.UsageEvent{
		ID:         uuid.Must(uuid.NewV7()).String(),
		KeyID:      key.ID,
		TenantID:   key.TenantID,
		Outcome:    model.OutcomeAuthFailed,
		Action:     string(in.Action),
		Resource:   in.Resource.String(),
		CallerIP:   in.CallerIP,
		Origin:     in.Origin,
		Method:     in.Method,
		Path:       in.Path,
		OccurredAt: e.now().UTC(),
	}

	storeEvent := true
	markSampled := false

	if d.Allowed() {
		ev.Outcome = model.OutcomeSuccess
		storeEvent, markSampled = e.sampleSuccess(ctx, key)
	} else {
		r := reason
		ev.DenyReason = &r
	}

	if err := e.store.RecordUsage(ctx, ev, storeEvent, markSampled); err != nil {
		// A verification decision stands even when the audit write fails,
		// but the failure is operator-visible.
		e.logger.Error("record usage event", "key_id", key.ID, "error", err)
	}
	return d, nil
}

// sampleSuccess decides whether this successful event's raw row is stored.
// Once a key's recorded successes cross the tenant threshold, only every Nth
// row is kept and the summary is flagged as sampled. The summary itself
// still counts every attempt.
func (e *Engine) sampleSuccess(ctx context.Context, key *model.APIKey) (storeEvent, markSampled bool) {
	pol, err := e.Policy(ctx, key.TenantID)
	if err != nil || pol.UsageSamplingThreshold <= 0 || pol.UsageSamplingRate <= 1 {
		return true, false
	}
	sum, err := e.store.GetUsageSummary(ctx, key.ID)
	if err != nil {
		return true, false // first event for this key, or summary unavailable
	}
	if sum.UsedEvents < int64(pol.UsageSamplingThreshold) {
		return true, false
	}
	return sum.UsedEvents%int64(pol.UsageSamplingRate) == 0, !sum.SampledUsedEvents
}

// ipAllowed reports whether callerIP is covered by any entry of the
// allow-list. Entries may be bare IPs or CIDR blocks.
func ipAllowed(callerIP string, allowed model.StringList) bool {
	ip := net.ParseIP(callerIP)
	if ip == nil {
		return false
	}
	for _, entry := range allowed {
		if _, cidr, err := net.ParseCIDR(entry); err == nil {
			if cidr.Contains(ip) {
				return true
			}
			continue
		}
		if listed := net.ParseIP(entry); listed != nil && listed.Equal(ip) {
			return true
		}
	}
	return false
}

// scopeContains implements the containment rules: a tenant scope covers every
// resource the tenant owns; a space scope covers the space itself and every
// assistant/app/document inside it; assistant and app scopes cover exactly
// one resource. Cross-tenant access is never allowed regardless of scope.
func scopeContains(key *model.APIKey, res model.Resource) bool {
	if res.TenantID == "" || res.TenantID != key.TenantID {
		return false
	}

	switch key.ScopeType {
	case model.ScopeTenant:
		return true
	case model.ScopeSpace:
		if key.ScopeID == nil {
			return false
		}
		if res.Type == model.ResourceSpace {
			return res.ID == *key.ScopeID
		}
		return res.SpaceID == *key.ScopeID
	case model.ScopeAssistant:
		return key.ScopeID != nil && res.Type == model.ResourceAssistant && res.ID == *key.ScopeID
	case model.ScopeApp:
		return key.ScopeID != nil && res.Type == model.ResourceApp && res.ID == *key.ScopeID
	}
	return false
}

// consumeRateBudget burns one unit of the key's hourly budget and reports
// whether it was still within limits. The per-key override applies when set,
// else the tenant default; zero disables limiting entirely.
func (e *Engine) consumeRateBudget(ctx context.Context, key *model.APIKey, pol *model.Policy) (bool, error) {
	limit := pol.DefaultRateLimit
	if key.RateLimit != nil {
		limit = *key.RateLimit
	}
	if limit <= 0 {
		return true, nil
	}
	count, err := e.store.IncrementRateCounter(ctx, key.ID, store.RateBucket(e.now()))
	if err != nil {
		return false, err
	}
	return count <= int64(limit), nil
}
