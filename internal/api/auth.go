package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth guards every route except /health. The comparison is
// constant-time so the token cannot be probed byte by byte. An empty
// configured token fails closed instead of matching an empty header;
// failures use the same error envelope as the handlers in http.go.
func BearerAuth(token string) func(http.Handler) http.Handler {
	secret := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented, ok := bearerToken(r)
			if !ok || len(secret) == 0 || subtle.ConstantTimeCompare(presented, secret) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the credential from the Authorization header.
func bearerToken(r *http.Request) ([]byte, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return nil, false
	}
	return []byte(auth[len(prefix):]), true
}
