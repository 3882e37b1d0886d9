// Package auth validates API keys against configured SHA-256 hashes.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

// Key is one accepted API key, stored as its SHA-256 hash.
type Key struct {
	Hash        string
	Description string
}

// Authenticator validates API keys against the configured key set.
type Authenticator struct {
	keys map[string]Key // keyhash -> key
}

// NewAuthenticator creates an authenticator from the accepted keys.
func NewAuthenticator(keys []Key) *Authenticator {
	a := &Authenticator{
		keys: make(map[string]Key, len(keys)),
	}
	for _, k := range keys {
		a.keys[strings.ToLower(k.Hash)] = k
	}
	return a
}

// ValidateAPIKey checks an API key and returns its configured description.
func (a *Authenticator) ValidateAPIKey(apiKey string) (string, error) {
	keyHash := HashAPIKey(apiKey)

	k, ok := a.keys[keyHash]
	if !ok {
		return "", fmt.Errorf("invalid API key")
	}

	// Constant-time comparison to prevent timing attacks
	if subtle.ConstantTimeCompare([]byte(keyHash), []byte(strings.ToLower(k.Hash))) != 1 {
		return "", fmt.Errorf("invalid API key")
	}

	return k.Description, nil
}

// ExtractAPIKey extracts the API key from a request. Both the Authorization
// Bearer scheme and the X-Api-Key header are accepted.
func ExtractAPIKey(r *http.Request) (string, error) {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key, nil
	}

	authz := r.Header.Get("Authorization")
	if authz == "" {
		return "", fmt.Errorf("missing API key")
	}

	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// HashAPIKey creates the SHA-256 hash of an API key for storage.
func HashAPIKey(apiKey string) string {
	hash := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(hash[:])
}
