package model

import "time"

// Policy holds the per-tenant constraints every administrative operation is
// validated against before it is committed. Tenants without a stored row get
// DefaultPolicy.
type Policy struct {
	TenantID string `json:"tenant_id" db:"tenant_id"`

	// Lifecycle caps.
	MaxDelegationDepth       int  `json:"max_delegation_depth" db:"max_delegation_depth"`
	RevocationCascadeEnabled bool `json:"revocation_cascade_enabled" db:"revocation_cascade_enabled"`
	RequireExpiration        bool `json:"require_expiration" db:"require_expiration"`
	MaxExpirationDays        int  `json:"max_expiration_days" db:"max_expiration_days"`
	AutoExpireUnusedDays     int  `json:"auto_expire_unused_days" db:"auto_expire_unused_days"` // 0 = disabled

	// Throughput.
	DefaultRateLimit     int `json:"default_rate_limit" db:"default_rate_limit"`           // requests/hour when key has no override
	MaxRateLimitOverride int `json:"max_rate_limit_override" db:"max_rate_limit_override"` // cap on per-key overrides

	// Rotation.
	MaxRotationGraceHours int `json:"max_rotation_grace_hours" db:"max_rotation_grace_hours"`

	// Usage sampling. Successful events beyond the threshold are stored every
	// Nth; auth failures are always stored in full. Both are tunables rather
	// than constants because the intended production ratio is owner-defined.
	UsageSamplingThreshold int `json:"usage_sampling_threshold" db:"usage_sampling_threshold"`
	UsageSamplingRate      int `json:"usage_sampling_rate" db:"usage_sampling_rate"` // store 1 in N

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultPolicy returns the policy applied to tenants that have never stored
// an explicit one.
func DefaultPolicy(tenantID string) Policy {
	return Policy{
		TenantID:                 tenantID,
		MaxDelegationDepth:       5,
		RevocationCascadeEnabled: true,
		RequireExpiration:        false,
		MaxExpirationDays:        365,
		AutoExpireUnusedDays:     0,
		DefaultRateLimit:         1000,
		MaxRateLimitOverride:     10000,
		MaxRotationGraceHours:    72,
		UsageSamplingThreshold:   10000,
		UsageSamplingRate:        10,
	}
}

// MaxRotationGrace returns the policy cap as a duration.
func (p *Policy) MaxRotationGrace() time.Duration {
	return time.Duration(p.MaxRotationGraceHours) * time.Hour
}
