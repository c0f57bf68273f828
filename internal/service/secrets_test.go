package service

import (
	"strings"
	"testing"

	"github.com/keywarden/keywarden/internal/model"
)

func TestGenerateSecretShape(t *testing.T) {
	for _, kt := range []model.KeyType{model.KeyTypeSecret, model.KeyTypePublic} {
		raw, prefix, suffix, err := GenerateSecret(kt)
		if err != nil {
			t.Fatalf("GenerateSecret(%s): %v", kt, err)
		}
		if !strings.HasPrefix(raw, kt.Tag()) {
			t.Errorf("%s secret %q missing tag %q", kt, raw, kt.Tag())
		}
		if len(prefix) != prefixLen {
			t.Errorf("prefix %q: expected length %d", prefix, prefixLen)
		}
		if !strings.HasPrefix(raw, prefix) {
			t.Errorf("prefix %q is not a prefix of the secret", prefix)
		}
		if !strings.HasSuffix(raw, suffix) {
			t.Errorf("suffix %q is not a suffix of the secret", suffix)
		}
	}
}

func TestGenerateSecretUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		raw, _, _, err := GenerateSecret(model.KeyTypeSecret)
		if err != nil {
			t.Fatal(err)
		}
		if seen[raw] {
			t.Fatal("duplicate secret generated")
		}
		seen[raw] = true
	}
}

func TestVerifySecret(t *testing.T) {
	raw, prefix, suffix, err := GenerateSecret(model.KeyTypeSecret)
	if err != nil {
		t.Fatal(err)
	}
	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	key := &model.APIKey{
		KeyHash:   HashSecret(raw, salt),
		KeySalt:   salt,
		KeyPrefix: prefix,
		KeySuffix: suffix,
	}

	if !VerifySecret(raw, key) {
		t.Error("correct secret must verify")
	}
	if VerifySecret(raw+"x", key) {
		t.Error("tampered secret must not verify")
	}
	if VerifySecret("", key) {
		t.Error("empty secret must not verify")
	}

	// Same raw secret under a different salt produces a different hash.
	otherSalt, _ := NewSalt()
	if HashSecret(raw, salt) == HashSecret(raw, otherSalt) {
		t.Error("hash must depend on the salt")
	}
}

func TestSplitSecret(t *testing.T) {
	raw, prefix, _, err := GenerateSecret(model.KeyTypePublic)
	if err != nil {
		t.Fatal(err)
	}

	gotPrefix, keyType, ok := SplitSecret(raw)
	if !ok {
		t.Fatal("well-formed secret rejected")
	}
	if gotPrefix != prefix {
		t.Errorf("prefix = %q, want %q", gotPrefix, prefix)
	}
	if keyType != model.KeyTypePublic {
		t.Errorf("keyType = %q, want public", keyType)
	}

	for _, bad := range []string{"", "sk_", "pk_short", "no-tag-at-all", "Bearer abc123"} {
		if _, _, ok := SplitSecret(bad); ok {
			t.Errorf("malformed secret %q accepted", bad)
		}
	}
}
