package service

import (
	"time"

	"github.com/keywarden/keywarden/internal/model"
)

// EffectiveState is the single derivation of a key's lifecycle state from its
// persisted fields plus the clock. Every read path — verification, admin
// reads, the sweep — goes through this function so the lazily derived state
// and any materialized timestamps can never diverge.
//
// Precedence: an explicit revocation always wins; an elapsed rotation grace
// window derives to revoked (rotation_completed); expiration beats
// suspension, since a suspended key keeps aging toward its expires_at.
// A key inside its rotation grace window stays active for verification even
// though a successor exists.
func EffectiveState(key *model.APIKey, pol *model.Policy, now time.Time) model.KeyState {
	if key.RevokedAt != nil {
		return model.StateRevoked
	}
	if key.RotationGraceUntil != nil && !now.Before(*key.RotationGraceUntil) {
		return model.StateRevoked
	}
	if key.ExpiresAt != nil && !now.Before(*key.ExpiresAt) {
		return model.StateExpired
	}
	if pol != nil && pol.AutoExpireUnusedDays > 0 {
		idleSince := key.CreatedAt
		if key.LastUsedAt != nil {
			idleSince = *key.LastUsedAt
		}
		if now.Sub(idleSince) > time.Duration(pol.AutoExpireUnusedDays)*24*time.Hour {
			return model.StateExpired
		}
	}
	if key.SuspendedAt != nil {
		return model.StateSuspended
	}
	return model.StateActive
}

// EffectiveRevocation reports the reason pair a derived-revoked key should
// present: explicit revocations carry their stored reason, elapsed-grace
// revocations derive rotation_completed.
func EffectiveRevocation(key *model.APIKey, now time.Time) (model.ReasonCode, bool) {
	if key.RevokedAt != nil && key.RevokedReason != nil {
		return *key.RevokedReason, true
	}
	if key.RotationGraceUntil != nil && !now.Before(*key.RotationGraceUntil) {
		return model.ReasonRotationCompleted, true
	}
	return "", false
}
