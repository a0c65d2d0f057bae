package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Token types carried in the token_type claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// DenylistEntry records a token that must no longer verify. It can be pruned
// once ExpiresAt has passed.
type DenylistEntry struct {
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

func NewDenylistEntry(token string, expiresAt time.Time) *DenylistEntry {
	return &DenylistEntry{
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: time.Now().UTC(),
	}
}

// Expired reports whether the entry can be pruned at now.
func (e *DenylistEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// HashToken computes the SHA-256 hex digest of a raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
