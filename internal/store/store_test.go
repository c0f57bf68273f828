package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Options{Driver: DriverSQLite})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func newID(t *testing.T) string {
	t.Helper()
	id, err := uuid.NewV7()
	if err != nil {
		t.Fatal(err)
	}
	return id.String()
}

func testKey(t *testing.T, tenant string) *model.APIKey {
	t.Helper()
	id := newID(t)
	return &model.APIKey{
		ID:         id,
		TenantID:   tenant,
		Label:      "store test key",
		KeyType:    model.KeyTypeSecret,
		KeyHash:    "hash-" + id,
		KeySalt:    "salt-" + id,
		KeyPrefix:  "sk_" + id[len(id)-9:],
		KeySuffix:  id[len(id)-4:],
		Permission: model.PermissionWrite,
		ScopeType:  model.ScopeTenant,
	}
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

func TestAPIKeyRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, "t1")
	key.AllowedIPs = model.StringList{"10.0.0.0/8", "192.0.2.1"}
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := st.GetAPIKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKey: %v", err)
	}
	if got.TenantID != "t1" || got.KeyHash != key.KeyHash || got.Permission != model.PermissionWrite {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if len(got.AllowedIPs) != 2 || got.AllowedIPs[0] != "10.0.0.0/8" {
		t.Errorf("allow-list did not round trip: %v", got.AllowedIPs)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at must be set on insert")
	}

	byPrefix, err := st.GetAPIKeyByPrefix(ctx, key.KeyPrefix)
	if err != nil {
		t.Fatalf("GetAPIKeyByPrefix: %v", err)
	}
	if byPrefix.ID != key.ID {
		t.Errorf("prefix lookup returned %s, want %s", byPrefix.ID, key.ID)
	}

	if _, err := st.GetAPIKey(ctx, newID(t)); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: expected ErrNotFound, got %v", err)
	}
	if _, err := st.GetAPIKeyByPrefix(ctx, "sk_nosuchpre"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown prefix: expected ErrNotFound, got %v", err)
	}
}

func TestCreateAPIKeyDuplicatePrefix(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, "t1")
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}

	clash := testKey(t, "t1")
	clash.KeyPrefix = key.KeyPrefix
	if err := st.CreateAPIKey(ctx, clash); !errors.Is(err, ErrDuplicate) {
		t.Errorf("expected ErrDuplicate on prefix clash, got %v", err)
	}
}

func TestListAPIKeysNewestFirst(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := st.CreateAPIKey(ctx, testKey(t, "t1")); err != nil {
			t.Fatal(err)
		}
	}
	if err := st.CreateAPIKey(ctx, testKey(t, "t2")); err != nil {
		t.Fatal(err)
	}

	keys, err := st.ListAPIKeys(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 3 {
		t.Fatalf("expected 3 keys for t1, got %d", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].CreatedAt.Before(keys[i].CreatedAt) {
			t.Error("keys must be ordered newest first")
		}
	}
}

func TestRotateAPIKeyAtomic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	old := testKey(t, "t1")
	if err := st.CreateAPIKey(ctx, old); err != nil {
		t.Fatal(err)
	}

	successor := testKey(t, "t1")
	successor.RotatedFromKeyID = &old.ID
	grace := time.Now().Add(time.Hour).UTC()
	if err := st.RotateAPIKey(ctx, successor, old.ID, grace); err != nil {
		t.Fatalf("RotateAPIKey: %v", err)
	}

	gotOld, err := st.GetAPIKey(ctx, old.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotOld.RotationGraceUntil == nil {
		t.Error("predecessor must carry the grace deadline")
	}
	gotNew, err := st.GetAPIKey(ctx, successor.ID)
	if err != nil {
		t.Fatal(err)
	}
	if gotNew.RotatedFromKeyID == nil || *gotNew.RotatedFromKeyID != old.ID {
		t.Error("successor must back-reference the predecessor")
	}

	children, err := st.RotationChildren(ctx, []string{old.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != successor.ID {
		t.Errorf("RotationChildren = %v", children)
	}
}

func TestTransitionGuards(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, "t1")
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}

	// Reinstating a key that is not suspended conflicts.
	if err := st.ReinstateAPIKey(ctx, key.ID); !errors.Is(err, ErrConflict) {
		t.Errorf("reinstate active: expected ErrConflict, got %v", err)
	}

	if err := st.SuspendAPIKey(ctx, key.ID, model.ReasonAdminAction, nil); err != nil {
		t.Fatal(err)
	}
	if err := st.SuspendAPIKey(ctx, key.ID, model.ReasonAdminAction, nil); !errors.Is(err, ErrConflict) {
		t.Errorf("double suspend: expected ErrConflict, got %v", err)
	}

	if _, err := st.RevokeAPIKeys(ctx, []string{key.ID}, model.ReasonUserRequest, nil); err != nil {
		t.Fatal(err)
	}
	// Revocation filters already-revoked rows, so the second call affects zero.
	n, err := st.RevokeAPIKeys(ctx, []string{key.ID}, model.ReasonUserRequest, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("re-revoke affected %d rows, want 0", n)
	}

	// Transitions on unknown ids report not found.
	if err := st.SuspendAPIKey(ctx, newID(t), model.ReasonAdminAction, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("suspend unknown: expected ErrNotFound, got %v", err)
	}
}

func TestMaterializeRotationRevocations(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	elapsed := testKey(t, "t1")
	if err := st.CreateAPIKey(ctx, elapsed); err != nil {
		t.Fatal(err)
	}
	successor := testKey(t, "t1")
	successor.RotatedFromKeyID = &elapsed.ID
	if err := st.RotateAPIKey(ctx, successor, elapsed.ID, time.Now().Add(-time.Minute).UTC()); err != nil {
		t.Fatal(err)
	}

	n, err := st.MaterializeRotationRevocations(ctx, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("materialized %d rows, want 1", n)
	}
	got, err := st.GetAPIKey(ctx, elapsed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.RevokedAt == nil || got.RevokedReason == nil || *got.RevokedReason != model.ReasonRotationCompleted {
		t.Errorf("expected materialized rotation_completed revocation, got %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Policies
// ---------------------------------------------------------------------------

func TestPolicyUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetPolicy(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before upsert, got %v", err)
	}

	pol := model.DefaultPolicy("t1")
	pol.DefaultRateLimit = 123
	if err := st.UpsertPolicy(ctx, &pol); err != nil {
		t.Fatalf("UpsertPolicy: %v", err)
	}
	got, err := st.GetPolicy(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultRateLimit != 123 {
		t.Errorf("default_rate_limit = %d", got.DefaultRateLimit)
	}

	pol.DefaultRateLimit = 456
	if err := st.UpsertPolicy(ctx, &pol); err != nil {
		t.Fatal(err)
	}
	got, err = st.GetPolicy(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.DefaultRateLimit != 456 {
		t.Errorf("after second upsert: default_rate_limit = %d", got.DefaultRateLimit)
	}
}

// ---------------------------------------------------------------------------
// Usage log
// ---------------------------------------------------------------------------

func usageEvent(t *testing.T, keyID string, outcome model.Outcome) *model.UsageEvent {
	t.Helper()
	return &model.UsageEvent{
		ID:         newID(t),
		KeyID:      keyID,
		TenantID:   "t1",
		Outcome:    outcome,
		Action:     "read",
		Resource:   "document:d1",
		OccurredAt: time.Now().UTC(),
	}
}

func TestRecordUsageMaintainsSummary(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, "t1")
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}

	if err := st.RecordUsage(ctx, usageEvent(t, key.ID, model.OutcomeSuccess), true, false); err != nil {
		t.Fatalf("RecordUsage: %v", err)
	}
	fail := usageEvent(t, key.ID, model.OutcomeAuthFailed)
	reason := model.DenyKeySuspended
	fail.DenyReason = &reason
	if err := st.RecordUsage(ctx, fail, true, false); err != nil {
		t.Fatal(err)
	}
	// Sampled-away success: row skipped, summary still counted.
	if err := st.RecordUsage(ctx, usageEvent(t, key.ID, model.OutcomeSuccess), false, true); err != nil {
		t.Fatal(err)
	}

	sum, err := st.GetUsageSummary(ctx, key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalEvents != 3 || sum.UsedEvents != 2 || sum.AuthFailedEvents != 1 {
		t.Errorf("summary = total %d used %d failed %d", sum.TotalEvents, sum.UsedEvents, sum.AuthFailedEvents)
	}
	if !sum.SampledUsedEvents {
		t.Error("summary must be flagged sampled")
	}
	if sum.LastSuccessAt == nil || sum.LastFailureAt == nil {
		t.Error("summary must track last success and failure timestamps")
	}

	events, _, err := st.ListUsageEvents(ctx, key.ID, 10, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 stored rows (one sampled away), got %d", len(events))
	}
}

func TestListUsageEventsPagination(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	key := testKey(t, "t1")
	if err := st.CreateAPIKey(ctx, key); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := st.RecordUsage(ctx, usageEvent(t, key.ID, model.OutcomeSuccess), true, false); err != nil {
			t.Fatal(err)
		}
	}

	page1, cursor, err := st.ListUsageEvents(ctx, key.ID, 2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || cursor == "" {
		t.Fatalf("page1: %d rows, cursor %q", len(page1), cursor)
	}

	page2, _, err := st.ListUsageEvents(ctx, key.ID, 2, cursor)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 2 {
		t.Fatalf("page2: %d rows", len(page2))
	}
	// UUIDv7 ids are time-ordered; newest first means each page descends.
	if page2[0].ID >= page1[1].ID {
		t.Error("pagination must continue past the cursor without overlap")
	}

	seen := map[string]bool{}
	for _, ev := range append(page1, page2...) {
		if seen[ev.ID] {
			t.Error("pages must not overlap")
		}
		seen[ev.ID] = true
	}
}

// ---------------------------------------------------------------------------
// Rate counters
// ---------------------------------------------------------------------------

func TestRateCounterIncrementsPerBucket(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	bucket := RateBucket(time.Date(2026, 8, 1, 10, 30, 0, 0, time.UTC))
	for want := int64(1); want <= 3; want++ {
		got, err := st.IncrementRateCounter(ctx, "key-1", bucket)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("count = %d, want %d", got, want)
		}
	}

	// A different hour is a fresh budget.
	other := RateBucket(time.Date(2026, 8, 1, 11, 0, 0, 0, time.UTC))
	got, err := st.IncrementRateCounter(ctx, "key-1", other)
	if err != nil {
		t.Fatal(err)
	}
	if got != 1 {
		t.Errorf("new bucket count = %d, want 1", got)
	}
}

func TestRateBucketFormat(t *testing.T) {
	at := time.Date(2026, 8, 1, 10, 30, 45, 0, time.UTC)
	b1 := RateBucket(at)
	b2 := RateBucket(at.Add(29 * time.Minute))
	b3 := RateBucket(at.Add(30 * time.Minute))
	if b1 != b2 {
		t.Errorf("same hour must share a bucket: %q vs %q", b1, b2)
	}
	if b1 == b3 {
		t.Errorf("different hours must not share a bucket: %q", b1)
	}
}

// ---------------------------------------------------------------------------
// Idempotency records
// ---------------------------------------------------------------------------

func TestIdempotencyRecordLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	body := []byte(`{"id":"k1","secret":"sk_abc"}`)
	if err := st.PutIdempotencyRecord(ctx, "t1", "tok-1", "create_key", "hash-1", 201, body); err != nil {
		t.Fatalf("PutIdempotencyRecord: %v", err)
	}

	got, err := st.GetIdempotencyRecord(ctx, "t1", "tok-1", "create_key")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Response) != string(body) {
		t.Errorf("stored response = %s", got.Response)
	}
	if got.Status != 201 {
		t.Errorf("stored status = %d, want 201", got.Status)
	}
	if got.RequestHash != "hash-1" {
		t.Errorf("stored request hash = %q", got.RequestHash)
	}

	// Same token reused for a different operation.
	if _, err := st.GetIdempotencyRecord(ctx, "t1", "tok-1", "rotate_key"); !errors.Is(err, ErrConflict) {
		t.Errorf("operation mismatch: expected ErrConflict, got %v", err)
	}
	// Unknown token.
	if _, err := st.GetIdempotencyRecord(ctx, "t1", "tok-2", "create_key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown token: expected ErrNotFound, got %v", err)
	}
	// Tokens are tenant-scoped.
	if _, err := st.GetIdempotencyRecord(ctx, "t2", "tok-1", "create_key"); !errors.Is(err, ErrNotFound) {
		t.Errorf("other tenant: expected ErrNotFound, got %v", err)
	}
	// Double put reports the duplicate for the caller to replay.
	if err := st.PutIdempotencyRecord(ctx, "t1", "tok-1", "create_key", "hash-1", 201, body); !errors.Is(err, ErrDuplicate) {
		t.Errorf("double put: expected ErrDuplicate, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Admins and settings
// ---------------------------------------------------------------------------

func TestAdminRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	has, err := st.HasAnyAdmin(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if has {
		t.Fatal("fresh store must have no admins")
	}

	admin := &model.Admin{
		ID:           newID(t),
		Email:        "ops@example.com",
		PasswordHash: "hash",
		IsActive:     true,
	}
	if err := st.CreateAdmin(ctx, admin); err != nil {
		t.Fatal(err)
	}
	if err := st.CreateAdmin(ctx, &model.Admin{ID: newID(t), Email: "ops@example.com"}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate email: expected ErrDuplicate, got %v", err)
	}

	got, err := st.GetAdminByEmail(ctx, "ops@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != admin.ID {
		t.Errorf("lookup returned %s", got.ID)
	}
	if got.LastLoginAt != nil {
		t.Error("fresh admin has no last login")
	}

	if err := st.UpdateAdminLastLogin(ctx, admin.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = st.GetAdminByEmail(ctx, "ops@example.com")
	if got.LastLoginAt == nil {
		t.Error("last login must be recorded")
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if _, err := st.GetSetting(ctx, "telemetry.enabled"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := st.SetSetting(ctx, "telemetry.enabled", "false"); err != nil {
		t.Fatal(err)
	}
	v, err := st.GetSetting(ctx, "telemetry.enabled")
	if err != nil {
		t.Fatal(err)
	}
	if v != "false" {
		t.Errorf("value = %q", v)
	}
	// Upsert overwrites.
	if err := st.SetSetting(ctx, "telemetry.enabled", "true"); err != nil {
		t.Fatal(err)
	}
	if v, _ := st.GetSetting(ctx, "telemetry.enabled"); v != "true" {
		t.Errorf("after overwrite: %q", v)
	}
}
