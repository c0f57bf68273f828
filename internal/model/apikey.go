package model

import (
	"fmt"
	"time"
)

// KeyType classifies who a key is issued to. Secret keys are for server-side
// callers; public keys are embeddable in browsers and are pinned to read-only
// permission with mandatory origin allow-listing.
type KeyType string

const (
	KeyTypeSecret KeyType = "secret"
	KeyTypePublic KeyType = "public"
)

// Tag returns the display/type tag prepended to raw secrets of this type.
func (t KeyType) Tag() string {
	if t == KeyTypePublic {
		return "pk_"
	}
	return "sk_"
}

func (t KeyType) Valid() bool {
	return t == KeyTypeSecret || t == KeyTypePublic
}

// Permission is the action level a key is allowed, ordered read < write < admin.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
	PermissionAdmin Permission = "admin"
)

// Level returns the numeric ordering of the permission. Unknown permissions
// rank below read so they never satisfy any check.
func (p Permission) Level() int {
	switch p {
	case PermissionRead:
		return 1
	case PermissionWrite:
		return 2
	case PermissionAdmin:
		return 3
	}
	return 0
}

// Allows reports whether a key holding permission p may perform an action
// requiring permission req.
func (p Permission) Allows(req Permission) bool {
	return req.Level() > 0 && p.Level() >= req.Level()
}

func (p Permission) Valid() bool {
	return p.Level() > 0
}

// ScopeType is the resource boundary a key is authorized against.
type ScopeType string

const (
	ScopeTenant    ScopeType = "tenant"
	ScopeSpace     ScopeType = "space"
	ScopeAssistant ScopeType = "assistant"
	ScopeApp       ScopeType = "app"
)

func (s ScopeType) Valid() bool {
	switch s {
	case ScopeTenant, ScopeSpace, ScopeAssistant, ScopeApp:
		return true
	}
	return false
}

// KeyState is the lifecycle state of a key. It is always derivable from the
// persisted timestamps plus the current time; see service.EffectiveState.
type KeyState string

const (
	StateActive    KeyState = "active"
	StateSuspended KeyState = "suspended"
	StateRevoked   KeyState = "revoked"
	StateExpired   KeyState = "expired"
)

// Terminal reports whether the state permits no further transitions. A
// terminal key may only be superseded by creating a brand-new key.
func (s KeyState) Terminal() bool {
	return s == StateRevoked || s == StateExpired
}

// ReasonCode is the closed enumeration required on every transition into
// suspended or revoked. Free-form detail goes in the companion text field.
type ReasonCode string

const (
	ReasonSecurityConcern   ReasonCode = "security_concern"
	ReasonAbuseDetected     ReasonCode = "abuse_detected"
	ReasonUserRequest       ReasonCode = "user_request"
	ReasonAdminAction       ReasonCode = "admin_action"
	ReasonPolicyViolation   ReasonCode = "policy_violation"
	ReasonKeyCompromised    ReasonCode = "key_compromised"
	ReasonUserOffboarding   ReasonCode = "user_offboarding"
	ReasonRotationCompleted ReasonCode = "rotation_completed"
	ReasonScopeRemoved      ReasonCode = "scope_removed"
	ReasonOther             ReasonCode = "other"
)

func (r ReasonCode) Valid() bool {
	switch r {
	case ReasonSecurityConcern, ReasonAbuseDetected, ReasonUserRequest,
		ReasonAdminAction, ReasonPolicyViolation, ReasonKeyCompromised,
		ReasonUserOffboarding, ReasonRotationCompleted, ReasonScopeRemoved,
		ReasonOther:
		return true
	}
	return false
}

// APIKey is the central credential record. The raw secret is never stored;
// only a salted SHA-256 hash plus a display prefix/suffix are persisted. The
// prefix carries a unique index so verification resolves the candidate row
// without scanning the table.
type APIKey struct {
	ID        string  `json:"id" db:"id"`
	TenantID  string  `json:"tenant_id" db:"tenant_id"`
	Label     string  `json:"label" db:"label"`
	KeyType   KeyType `json:"key_type" db:"key_type"`
	KeyHash   string  `json:"-" db:"key_hash"`   // salted SHA-256, never expose
	KeySalt   string  `json:"-" db:"key_salt"`   // per-key random salt
	KeyPrefix string  `json:"key_prefix" db:"key_prefix"` // e.g. "sk_1a2b3c4d5" for display + lookup
	KeySuffix string  `json:"key_suffix" db:"key_suffix"` // last 4 chars for display

	Permission Permission `json:"permission" db:"permission"`
	ScopeType  ScopeType  `json:"scope_type" db:"scope_type"`
	ScopeID    *string    `json:"scope_id,omitempty" db:"scope_id"` // nil when scope_type = tenant

	AllowedOrigins StringList `json:"allowed_origins,omitempty" db:"allowed_origins"` // required for public keys
	AllowedIPs     StringList `json:"allowed_ips,omitempty" db:"allowed_ips"`         // optional CIDRs, secret keys only

	RateLimit *int `json:"rate_limit,omitempty" db:"rate_limit"` // requests/hour; nil = tenant default

	ExpiresAt         *time.Time  `json:"expires_at,omitempty" db:"expires_at"`
	SuspendedAt       *time.Time  `json:"suspended_at,omitempty" db:"suspended_at"`
	SuspendedReason   *ReasonCode `json:"suspended_reason,omitempty" db:"suspended_reason"`
	SuspendedDetail   *string     `json:"suspended_detail,omitempty" db:"suspended_detail"`
	RevokedAt         *time.Time  `json:"revoked_at,omitempty" db:"revoked_at"`
	RevokedReason     *ReasonCode `json:"revoked_reason,omitempty" db:"revoked_reason"`
	RevokedDetail     *string     `json:"revoked_detail,omitempty" db:"revoked_detail"`
	RotationGraceUntil *time.Time `json:"rotation_grace_until,omitempty" db:"rotation_grace_until"`
	RotatedFromKeyID  *string     `json:"rotated_from_key_id,omitempty" db:"rotated_from_key_id"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}

// Display returns the redacted human-readable form of the key, e.g.
// "sk_1a2b3c4d5...9f0e".
func (k *APIKey) Display() string {
	return fmt.Sprintf("%s...%s", k.KeyPrefix, k.KeySuffix)
}
