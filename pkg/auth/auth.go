// Package auth provides optional API key protection for the engine's
// management endpoints. Webhook routes stay open since the trigger token in
// the URL is the credential there.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// HeaderName is the request header carrying the API key.
const HeaderName = "X-API-Key"

// openPrefixes are routes reachable without a key.
var openPrefixes = []string{
	"/webhook/",
	"/health",
}

// APIKeyAuth validates requests against a single configured key.
type APIKeyAuth struct {
	key []byte
}

// NewAPIKeyAuth creates an authenticator. An empty key disables
// authentication entirely.
func NewAPIKeyAuth(key string) *APIKeyAuth {
	return &APIKeyAuth{key: []byte(key)}
}

// Enabled reports whether a key is configured
func (a *APIKeyAuth) Enabled() bool {
	return len(a.key) > 0
}

// Validate checks a presented key in constant time
func (a *APIKeyAuth) Validate(presented string) bool {
	if !a.Enabled() {
		return true
	}
	return SecureCompare(string(a.key), presented)
}

// Middleware rejects requests to protected routes that lack a valid key.
func (a *APIKeyAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || isOpenRoute(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if !a.Validate(r.Header.Get(HeaderName)) {
			http.Error(w, "Invalid or missing API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isOpenRoute(path string) bool {
	for _, prefix := range openPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// GenerateKey returns a random URL-safe API key
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return base64.URLEncoding.EncodeToString(buf), nil
}
