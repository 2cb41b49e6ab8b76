// Package auth provides node secret generation and comparison utilities
// used by the store and the agent control channel.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
)

// GenerateSecret returns a cryptographically random, URL-safe node secret.
func GenerateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ConstantTimeEquals compares two secret strings in constant time.
func ConstantTimeEquals(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
