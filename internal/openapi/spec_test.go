package openapi

import (
	"encoding/json"
	"testing"
)

func TestGenerateSpec(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080", "1.2.3")

	if doc.Info == nil || doc.Info.Version != "1.2.3" {
		t.Fatal("info block must carry the version")
	}
	if len(doc.Servers) == 0 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Error("server URL must match the argument")
	}

	paths := []string{
		"/api/v1/session",
		"/api/v1/verify",
		"/api/v1/keys",
		"/api/v1/keys/{keyID}",
		"/api/v1/keys/{keyID}/rotate",
		"/api/v1/keys/{keyID}/suspend",
		"/api/v1/keys/{keyID}/reinstate",
		"/api/v1/keys/{keyID}/revoke",
		"/api/v1/keys/{keyID}/usage",
		"/api/v1/tenants/{tenantID}/policy",
		"/api/v1/admins",
	}
	for _, p := range paths {
		if doc.Paths.Find(p) == nil {
			t.Errorf("missing path %s", p)
		}
	}

	// The verification endpoint carries no security requirement.
	verify := doc.Paths.Find("/api/v1/verify")
	if verify.Post == nil {
		t.Fatal("verify must define POST")
	}
	if verify.Post.Security == nil || len(*verify.Post.Security) != 0 {
		t.Error("verify must carry an explicit empty security requirement")
	}

	// Key management requires the bearer scheme.
	if _, ok := doc.Components.SecuritySchemes["bearerAuth"]; !ok {
		t.Error("missing bearerAuth security scheme")
	}

	// The document must serialize cleanly.
	if _, err := json.Marshal(doc); err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
}

func TestGenerateSpecComponents(t *testing.T) {
	doc := GenerateSpec("http://localhost:8080", "dev")

	for _, name := range []string{"ErrorResponse", "APIKey", "Policy", "UsageSummary", "UsageEvent", "VerifyResult"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Errorf("missing component schema %s", name)
		}
	}
}
