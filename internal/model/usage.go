package model

import "time"

// Outcome is the terminal result of a verification attempt as recorded in the
// usage log. Callers only ever see allow, denied, or rate_limited; the precise
// denial reason stays operator-side.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeAuthFailed Outcome = "auth_failed"
)

// DenyReason is the operator-side detail behind an auth_failed event. It is
// never surfaced to the caller being denied.
type DenyReason string

const (
	DenyInvalidSecret    DenyReason = "invalid_secret"
	DenyKeySuspended     DenyReason = "key_suspended"
	DenyKeyRevoked       DenyReason = "key_revoked"
	DenyKeyExpired       DenyReason = "key_expired"
	DenyOriginRejected   DenyReason = "origin_rejected"
	DenyIPRejected       DenyReason = "ip_rejected"
	DenyPermissionDenied DenyReason = "permission_denied"
	DenyScopeMismatch    DenyReason = "scope_mismatch"
	DenyRateLimited      DenyReason = "rate_limited"
)

// UsageEvent is one append-only record per authentication attempt. Rows are
// never mutated after insert.
type UsageEvent struct {
	ID         string      `json:"id" db:"id"` // UUIDv7, time-ordered: doubles as pagination cursor
	KeyID      string      `json:"key_id" db:"key_id"`
	TenantID   string      `json:"tenant_id" db:"tenant_id"`
	Outcome    Outcome     `json:"outcome" db:"outcome"`
	DenyReason *DenyReason `json:"deny_reason,omitempty" db:"deny_reason"`
	Action     string      `json:"action" db:"action"`
	Resource   string      `json:"resource" db:"resource"`
	CallerIP   string      `json:"caller_ip,omitempty" db:"caller_ip"`
	Origin     string      `json:"origin,omitempty" db:"origin"`
	Method     string      `json:"method,omitempty" db:"method"`
	Path       string      `json:"path,omitempty" db:"path"`
	OccurredAt time.Time   `json:"occurred_at" db:"occurred_at"`
}

// UsageSummary is the incrementally maintained per-key aggregate. It is
// updated in the same transaction as each recorded attempt so reads are O(1)
// and never scan the event table.
type UsageSummary struct {
	KeyID             string     `json:"key_id" db:"key_id"`
	TenantID          string     `json:"tenant_id" db:"tenant_id"`
	TotalEvents       int64      `json:"total_events" db:"total_events"`
	UsedEvents        int64      `json:"used_events" db:"used_events"`
	AuthFailedEvents  int64      `json:"auth_failed_events" db:"auth_failed_events"`
	SampledUsedEvents bool       `json:"sampled_used_events" db:"sampled_used_events"`
	LastSeenAt        *time.Time `json:"last_seen_at,omitempty" db:"last_seen_at"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty" db:"last_failure_at"`
}

// ResourceType identifies what kind of platform object a request targets.
type ResourceType string

const (
	ResourceSpace     ResourceType = "space"
	ResourceAssistant ResourceType = "assistant"
	ResourceApp       ResourceType = "app"
	ResourceDocument  ResourceType = "document"
)

// Resource describes the target of a verification request together with its
// position in the tenant/space hierarchy, which the scope resolver needs for
// containment checks.
type Resource struct {
	Type     ResourceType `json:"type"`
	ID       string       `json:"id"`
	TenantID string       `json:"tenant_id"`
	SpaceID  string       `json:"space_id,omitempty"` // owning space, when the resource lives inside one
}

func (r Resource) String() string {
	return string(r.Type) + ":" + r.ID
}
