// Package auth guards the HTTP surface with the deployment's static API
// token. There is no user model: one token grants access to the whole engine.
package auth

import (
	"crypto/subtle"
	"log"
	"net/http"
	"strings"
)

// RequireToken returns middleware that rejects requests whose Authorization
// header does not carry the expected bearer token.
func RequireToken(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				log.Println("auth: missing or malformed Authorization header")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !TokenMatches(expected, token) {
				log.Println("auth: invalid API token")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns "" when the header is absent or malformed. The scheme is
// case-insensitive per RFC 7235.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}

	fields := strings.Fields(header)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(strings.Join(fields[1:], " "))
}

// TokenMatches compares a presented token against the expected one in
// constant time.
func TokenMatches(expected, presented string) bool {
	if expected == "" || presented == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(presented)) == 1
}
