package service

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/keywarden/keywarden/internal/model"
)

const (
	secretBytes  = 32 // raw entropy per secret
	saltBytes    = 16
	prefixLen    = 12 // type tag + 9 hex chars, unique-indexed for lookup
	suffixLen    = 4
	minSecretLen = prefixLen + suffixLen
)

// GenerateSecret produces a fresh credential secret for the given key type
// and derives its display prefix and suffix. The full secret is returned to
// the caller exactly once; only the prefix, suffix, and a salted hash are
// ever persisted.
func GenerateSecret(keyType model.KeyType) (raw, prefix, suffix string, err error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate secret: %w", err)
	}
	raw = keyType.Tag() + hex.EncodeToString(buf)
	return raw, raw[:prefixLen], raw[len(raw)-suffixLen:], nil
}

// NewSalt returns a fresh random per-key salt, hex encoded.
func NewSalt() (string, error) {
	buf := make([]byte, saltBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret returns the hex-encoded salted SHA-256 of a raw secret.
func HashSecret(raw, salt string) string {
	h := sha256.Sum256([]byte(salt + raw))
	return hex.EncodeToString(h[:])
}

// VerifySecret recomputes the salted hash of the presented secret and
// compares it against the stored hash in constant time.
func VerifySecret(raw string, key *model.APIKey) bool {
	candidate := HashSecret(raw, key.KeySalt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(key.KeyHash)) == 1
}

// SplitSecret extracts the lookup prefix from a presented secret and reports
// whether its shape (type tag + length) is plausible at all. Malformed
// presentations are rejected before any store access.
func SplitSecret(raw string) (prefix string, keyType model.KeyType, ok bool) {
	switch {
	case strings.HasPrefix(raw, model.KeyTypeSecret.Tag()):
		keyType = model.KeyTypeSecret
	case strings.HasPrefix(raw, model.KeyTypePublic.Tag()):
		keyType = model.KeyTypePublic
	default:
		return "", "", false
	}
	if len(raw) < minSecretLen {
		return "", "", false
	}
	return raw[:prefixLen], keyType, true
}

// HashPassword returns the hex-encoded SHA-256 of an operator password.
func HashPassword(password string) string {
	h := sha256.Sum256([]byte(password))
	return hex.EncodeToString(h[:])
}
