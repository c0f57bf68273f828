package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/keywarden/keywarden/internal/model"
	"github.com/keywarden/keywarden/internal/service"
	"github.com/keywarden/keywarden/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret  = "test-secret-for-jwt-integration-tests"
	testAdminEmail = "ops@example.com"
	testPassword   = "supersecretpassword"
	testTenant     = "tenant-acme"
)

// testEnv holds the shared state for integration tests.
type testEnv struct {
	server  *Server
	store   *store.Store
	engine  *service.Engine
	authSvc *service.AuthService
	token   string
}

// newTestEnv creates a fresh test environment with an in-memory store, one
// super-admin account, and a fully wired Server. The returned token is a
// valid session for that admin.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.Options{Driver: store.DriverSQLite})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := service.NewEngine(st, logger)
	authSvc := service.NewAuthService(st, testJWTSecret)

	id, err := uuid.NewV7()
	if err != nil {
		t.Fatalf("generate id: %v", err)
	}
	admin := &model.Admin{
		ID:           id.String(),
		Email:        testAdminEmail,
		PasswordHash: service.HashPassword(testPassword),
		Name:         "Test Admin",
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := st.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Version = "test"
	srv := New(cfg, st, engine, authSvc, logger)

	env := &testEnv{server: srv, store: st, engine: engine, authSvc: authSvc}
	env.token = env.login(t, testAdminEmail, testPassword)
	return env
}

// do performs a request against the server's router.
func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// authed performs an authenticated request using the test admin's token.
func (e *testEnv) authed(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + e.token,
	})
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/session", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Token string `json:"session_token"`
	}
	decode(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("login: expected non-empty session token")
	}
	return resp.Token
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), into); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

// createKey mints a key through the API and returns its id and raw secret.
func (e *testEnv) createKey(t *testing.T, body map[string]interface{}) (string, string) {
	t.Helper()
	if _, ok := body["tenant_id"]; !ok {
		body["tenant_id"] = testTenant
	}
	if _, ok := body["key_type"]; !ok {
		body["key_type"] = "secret"
	}
	rr := e.authed(t, "POST", "/api/v1/keys", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create key: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	decode(t, rr, &resp)
	if resp.ID == "" || resp.Secret == "" {
		t.Fatalf("create key: missing id or secret in %s", rr.Body.String())
	}
	return resp.ID, resp.Secret
}

// ---------------------------------------------------------------------------
// Health and session
// ---------------------------------------------------------------------------

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := env.do(t, "GET", path, nil, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rr.Code)
		}
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/session", map[string]string{
		"email":    testAdminEmail,
		"password": "wrong-password",
	}, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestLoginIsRateLimitedPerIP(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]string{
		"email":    testAdminEmail,
		"password": "wrong-password",
	}

	var unauthorized, limited int
	for i := 0; i < 30; i++ {
		rr := env.do(t, "POST", "/api/v1/session", body, nil)
		switch rr.Code {
		case http.StatusUnauthorized:
			unauthorized++
		case http.StatusTooManyRequests:
			limited++
		default:
			t.Fatalf("attempt %d: unexpected status %d", i, rr.Code)
		}
	}
	if unauthorized == 0 {
		t.Error("expected some attempts to reach the password check")
	}
	if limited == 0 {
		t.Error("expected sustained guessing to hit the login rate limit")
	}

	// The limit applies to the login route only.
	rr := env.authed(t, "GET", "/api/v1/session", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("authenticated request must not share the login limit, got %d", rr.Code)
	}
}

func TestSessionMeRequiresAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/session", nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rr.Code)
	}

	rr = env.authed(t, "GET", "/api/v1/session", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200 with token, got %d: %s", rr.Code, rr.Body.String())
	}
	var me struct {
		Email string `json:"email"`
	}
	decode(t, rr, &me)
	if me.Email != testAdminEmail {
		t.Errorf("expected %s, got %q", testAdminEmail, me.Email)
	}
}

// ---------------------------------------------------------------------------
// Key lifecycle over HTTP
// ---------------------------------------------------------------------------

func TestKeyEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/keys?tenant_id="+testTenant, nil, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestCreateAndGetKey(t *testing.T) {
	env := newTestEnv(t)

	keyID, secret := env.createKey(t, map[string]interface{}{
		"label":      "widget key",
		"key_type":   "secret",
		"permission": "write",
		"scope_type": "tenant",
	})
	if len(secret) < 20 {
		t.Errorf("secret looks too short: %q", secret)
	}

	rr := env.authed(t, "GET", "/api/v1/keys/"+keyID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get key: expected 200, got %d", rr.Code)
	}
	var key struct {
		ID     string `json:"id"`
		State  string `json:"state"`
		Secret string `json:"secret"`
	}
	decode(t, rr, &key)
	if key.State != "active" {
		t.Errorf("expected active, got %q", key.State)
	}
	if key.Secret != "" {
		t.Error("secret must not be returned after mint")
	}
}

func TestCreateKeyValidation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.authed(t, "POST", "/api/v1/keys", map[string]interface{}{
		"tenant_id":  testTenant,
		"key_type":   "secret",
		"permission": "write",
		"scope_type": "space", // non-tenant scope requires scope_id
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing scope_id, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestListKeysFiltersByTenant(t *testing.T) {
	env := newTestEnv(t)

	env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "read"})
	env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "read", "tenant_id": "tenant-other"})

	rr := env.authed(t, "GET", "/api/v1/keys?tenant_id="+testTenant, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Data []map[string]interface{} `json:"data"`
	}
	decode(t, rr, &resp)
	if len(resp.Data) != 1 {
		t.Errorf("expected 1 key for %s, got %d", testTenant, len(resp.Data))
	}
}

func TestSuspendReinstateRevoke(t *testing.T) {
	env := newTestEnv(t)

	keyID, _ := env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "admin"})

	rr := env.authed(t, "POST", "/api/v1/keys/"+keyID+"/suspend",
		map[string]string{"reason_code": "security_concern"})
	if rr.Code != http.StatusOK {
		t.Fatalf("suspend: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Suspending again converges rather than erroring.
	rr = env.authed(t, "POST", "/api/v1/keys/"+keyID+"/suspend",
		map[string]string{"reason_code": "security_concern"})
	if rr.Code != http.StatusOK {
		t.Fatalf("second suspend: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.authed(t, "POST", "/api/v1/keys/"+keyID+"/reinstate", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reinstate: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.authed(t, "POST", "/api/v1/keys/"+keyID+"/revoke",
		map[string]string{"reason_code": "user_request"})
	if rr.Code != http.StatusOK {
		t.Fatalf("revoke: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	// Reinstating a revoked key is a conflict, not a convergence.
	rr = env.authed(t, "POST", "/api/v1/keys/"+keyID+"/reinstate", nil)
	if rr.Code != http.StatusConflict {
		t.Errorf("reinstate revoked: expected 409, got %d", rr.Code)
	}
}

func TestRotateKey(t *testing.T) {
	env := newTestEnv(t)

	keyID, oldSecret := env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "write"})

	rr := env.authed(t, "POST", "/api/v1/keys/"+keyID+"/rotate",
		map[string]int{"grace_hours": 24})
	if rr.Code != http.StatusCreated {
		t.Fatalf("rotate: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var successor struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	decode(t, rr, &successor)
	if successor.ID == keyID {
		t.Error("successor must be a new key")
	}
	if successor.Secret == oldSecret {
		t.Error("successor must carry a new secret")
	}

	// Both secrets verify during the grace window.
	for _, secret := range []string{oldSecret, successor.Secret} {
		rr := env.do(t, "POST", "/api/v1/verify", verifyBody(secret, "read"), nil)
		if rr.Code != http.StatusOK {
			t.Errorf("verify during grace: expected 200, got %d: %s", rr.Code, rr.Body.String())
		}
	}
}

// ---------------------------------------------------------------------------
// Idempotency
// ---------------------------------------------------------------------------

func TestIdempotentCreateReplaysResponse(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]interface{}{
		"tenant_id":  testTenant,
		"label":      "replayed",
		"key_type":   "secret",
		"permission": "read",
		"scope_type": "tenant",
	}
	headers := map[string]string{
		"Authorization":   "Bearer " + env.token,
		"Idempotency-Key": "idem-12345",
	}

	first := env.do(t, "POST", "/api/v1/keys", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	second := env.do(t, "POST", "/api/v1/keys", body, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected the original 201, got %d: %s", second.Code, second.Body.String())
	}
	if second.Header().Get("Idempotent-Replay") != "true" {
		t.Error("replay: expected Idempotent-Replay header")
	}
	if first.Body.String() != second.Body.String() {
		t.Error("replay must return the stored response body verbatim")
	}
}

func TestIdempotencyKeyPayloadMismatch(t *testing.T) {
	env := newTestEnv(t)

	body := map[string]interface{}{
		"tenant_id":  testTenant,
		"label":      "original",
		"key_type":   "secret",
		"permission": "read",
		"scope_type": "tenant",
	}
	headers := map[string]string{
		"Authorization":   "Bearer " + env.token,
		"Idempotency-Key": "idem-pinned",
	}

	first := env.do(t, "POST", "/api/v1/keys", body, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}

	// Same token, different payload: must be rejected, never silently
	// replay the original response.
	body["permission"] = "admin"
	rr := env.do(t, "POST", "/api/v1/keys", body, headers)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for payload mismatch, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("Idempotent-Replay") == "true" {
		t.Error("payload mismatch must not be marked as a replay")
	}
}

func TestIdempotencyKeyOperationMismatch(t *testing.T) {
	env := newTestEnv(t)

	keyID, _ := env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "read"})

	headers := map[string]string{
		"Authorization":   "Bearer " + env.token,
		"Idempotency-Key": "idem-shared",
	}
	rr := env.do(t, "POST", "/api/v1/keys", map[string]interface{}{
		"tenant_id": testTenant, "key_type": "secret", "permission": "read", "scope_type": "tenant",
	}, headers)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	// Same idempotency key, different operation.
	rr = env.do(t, "POST", "/api/v1/keys/"+keyID+"/rotate", nil, headers)
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for operation mismatch, got %d: %s", rr.Code, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Verification
// ---------------------------------------------------------------------------

func verifyBody(secret, action string) map[string]interface{} {
	return map[string]interface{}{
		"secret": secret,
		"action": action,
		"resource": map[string]string{
			"type":      "document",
			"id":        "doc-1",
			"tenant_id": testTenant,
		},
	}
}

func TestVerifyAllows(t *testing.T) {
	env := newTestEnv(t)

	_, secret := env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "write"})

	rr := env.do(t, "POST", "/api/v1/verify", verifyBody(secret, "read"), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Outcome  string `json:"outcome"`
		TenantID string `json:"tenant_id"`
	}
	decode(t, rr, &resp)
	if resp.Outcome != "allow" {
		t.Errorf("expected allow, got %q", resp.Outcome)
	}
	if resp.TenantID != testTenant {
		t.Errorf("expected tenant %s, got %q", testTenant, resp.TenantID)
	}
}

func TestVerifyDenialsAreUniform(t *testing.T) {
	env := newTestEnv(t)

	keyID, secret := env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "read"})

	// Unknown credential.
	rr1 := env.do(t, "POST", "/api/v1/verify", verifyBody("sk_live_totally-unknown-credential", "read"), nil)

	// Known credential, insufficient permission.
	rr2 := env.do(t, "POST", "/api/v1/verify", verifyBody(secret, "admin"), nil)

	// Known credential, revoked.
	env.authed(t, "POST", "/api/v1/keys/"+keyID+"/revoke", map[string]string{"reason_code": "key_compromised"})
	rr3 := env.do(t, "POST", "/api/v1/verify", verifyBody(secret, "read"), nil)

	for i, rr := range []*httptest.ResponseRecorder{rr1, rr2, rr3} {
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("denial %d: expected 401, got %d", i, rr.Code)
		}
	}
	if rr1.Body.String() != rr2.Body.String() || rr2.Body.String() != rr3.Body.String() {
		t.Error("denial bodies must be indistinguishable")
	}
	for i, rr := range []*httptest.ResponseRecorder{rr1, rr2, rr3} {
		if bytes.Contains(rr.Body.Bytes(), []byte(keyID)) {
			t.Errorf("denial %d leaks the key id", i)
		}
	}
}

func TestVerifyWrongTenantDenied(t *testing.T) {
	env := newTestEnv(t)

	_, secret := env.createKey(t, map[string]interface{}{"scope_type": "tenant", "permission": "admin"})

	body := verifyBody(secret, "read")
	body["resource"] = map[string]string{
		"type": "document", "id": "doc-9", "tenant_id": "tenant-other",
	}
	rr := env.do(t, "POST", "/api/v1/verify", body, nil)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 across tenants, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Policy
// ---------------------------------------------------------------------------

func TestPolicyRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	rr := env.authed(t, "GET", "/api/v1/tenants/"+testTenant+"/policy", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get policy: expected 200, got %d", rr.Code)
	}
	var pol struct {
		DefaultRateLimit int `json:"default_rate_limit"`
	}
	decode(t, rr, &pol)
	if pol.DefaultRateLimit == 0 {
		t.Error("expected default policy to carry a rate limit")
	}

	rr = env.authed(t, "PUT", "/api/v1/tenants/"+testTenant+"/policy",
		map[string]int{"default_rate_limit": 42})
	if rr.Code != http.StatusOK {
		t.Fatalf("update policy: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = env.authed(t, "GET", "/api/v1/tenants/"+testTenant+"/policy", nil)
	decode(t, rr, &pol)
	if pol.DefaultRateLimit != 42 {
		t.Errorf("expected 42 after update, got %d", pol.DefaultRateLimit)
	}
}

// ---------------------------------------------------------------------------
// Operator management
// ---------------------------------------------------------------------------

func TestAdminEndpointsRequireSuperAdmin(t *testing.T) {
	env := newTestEnv(t)

	// Create a regular (non-super) operator via the super-admin.
	rr := env.authed(t, "POST", "/api/v1/admins", map[string]interface{}{
		"email":    "viewer@example.com",
		"password": "anothersecret",
		"name":     "Viewer",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create admin: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	viewerToken := env.login(t, "viewer@example.com", "anothersecret")
	rr = env.do(t, "GET", "/api/v1/admins", nil, map[string]string{
		"Authorization": "Bearer " + viewerToken,
	})
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-super admin, got %d", rr.Code)
	}
}

func TestCreateAdminDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)

	rr := env.authed(t, "POST", "/api/v1/admins", map[string]interface{}{
		"email": testAdminEmail, "password": "whatever123",
	})
	if rr.Code != http.StatusConflict {
		t.Errorf("expected 409 for duplicate email, got %d", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// OpenAPI
// ---------------------------------------------------------------------------

func TestOpenAPIDocument(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var doc struct {
		OpenAPI string                 `json:"openapi"`
		Paths   map[string]interface{} `json:"paths"`
	}
	decode(t, rr, &doc)
	if doc.OpenAPI == "" {
		t.Error("expected an openapi version field")
	}
	for _, p := range []string{"/api/v1/verify", "/api/v1/keys", "/api/v1/session"} {
		if _, ok := doc.Paths[p]; !ok {
			t.Errorf("missing path %s in document", p)
		}
	}
}
