package model

import (
	"testing"
)

func TestStringListValueScan(t *testing.T) {
	l := StringList{"https://a.example", "https://b.example"}
	v, err := l.Value()
	if err != nil {
		t.Fatal(err)
	}

	var out StringList
	if err := out.Scan(v); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 || out[0] != "https://a.example" {
		t.Errorf("round trip = %v", out)
	}

	// Empty list persists as an empty JSON array, not NULL.
	v, err = StringList(nil).Value()
	if err != nil {
		t.Fatal(err)
	}
	if v != "[]" {
		t.Errorf("empty list value = %v", v)
	}

	var fromNil StringList
	if err := fromNil.Scan(nil); err != nil {
		t.Fatal(err)
	}
	if fromNil != nil {
		t.Errorf("scan nil = %v", fromNil)
	}

	var fromBytes StringList
	if err := fromBytes.Scan([]byte(`["x"]`)); err != nil {
		t.Fatal(err)
	}
	if len(fromBytes) != 1 || fromBytes[0] != "x" {
		t.Errorf("scan bytes = %v", fromBytes)
	}

	if err := fromBytes.Scan(42); err == nil {
		t.Error("scanning an int must fail")
	}
}

func TestStringListContains(t *testing.T) {
	l := StringList{"https://a.example"}
	if !l.Contains("https://a.example") {
		t.Error("exact match must hit")
	}
	if l.Contains("https://A.example") {
		t.Error("match is case-sensitive")
	}
	if StringList(nil).Contains("anything") {
		t.Error("empty list contains nothing")
	}
}

func TestPermissionAllows(t *testing.T) {
	tests := []struct {
		held, req Permission
		want      bool
	}{
		{PermissionRead, PermissionRead, true},
		{PermissionRead, PermissionWrite, false},
		{PermissionWrite, PermissionRead, true},
		{PermissionWrite, PermissionAdmin, false},
		{PermissionAdmin, PermissionAdmin, true},
		{PermissionAdmin, PermissionRead, true},
		{PermissionAdmin, "unknown", false},
		{"unknown", PermissionRead, false},
	}
	for _, tt := range tests {
		if got := tt.held.Allows(tt.req); got != tt.want {
			t.Errorf("%s.Allows(%s) = %t, want %t", tt.held, tt.req, got, tt.want)
		}
	}
}

func TestKeyTypeTag(t *testing.T) {
	if KeyTypeSecret.Tag() != "sk_" {
		t.Errorf("secret tag = %q", KeyTypeSecret.Tag())
	}
	if KeyTypePublic.Tag() != "pk_" {
		t.Errorf("public tag = %q", KeyTypePublic.Tag())
	}
}

func TestKeyStateTerminal(t *testing.T) {
	if StateActive.Terminal() || StateSuspended.Terminal() {
		t.Error("active and suspended are not terminal")
	}
	if !StateRevoked.Terminal() || !StateExpired.Terminal() {
		t.Error("revoked and expired are terminal")
	}
}

func TestReasonCodeValid(t *testing.T) {
	for _, r := range []ReasonCode{
		ReasonSecurityConcern, ReasonAbuseDetected, ReasonUserRequest,
		ReasonAdminAction, ReasonPolicyViolation, ReasonKeyCompromised,
		ReasonUserOffboarding, ReasonRotationCompleted, ReasonScopeRemoved,
		ReasonOther,
	} {
		if !r.Valid() {
			t.Errorf("%q must be valid", r)
		}
	}
	if ReasonCode("felt_like_it").Valid() {
		t.Error("unknown reason must be invalid")
	}
	if ReasonCode("").Valid() {
		t.Error("empty reason must be invalid")
	}
}

func TestAPIKeyDisplay(t *testing.T) {
	k := APIKey{KeyPrefix: "sk_1a2b3c4d5", KeySuffix: "9f0e"}
	if got := k.Display(); got != "sk_1a2b3c4d5...9f0e" {
		t.Errorf("Display() = %q", got)
	}
}
