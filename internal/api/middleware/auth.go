package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// InternalAuth rejects any request to a /internal/... path whose
// X-Internal-Secret header does not constant-time-match the configured
// secret. It is the inbound half of the signed channel the preview package
// dials outbound with HMAC; this side only needs a shared-secret check
// because both ends are operated by the same deployment.
type InternalAuth struct {
	secret []byte
}

func NewInternalAuth(secret string) *InternalAuth {
	return &InternalAuth{secret: []byte(secret)}
}

func (a *InternalAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/internal/") {
			next.ServeHTTP(w, r)
			return
		}

		given := r.Header.Get("X-Internal-Secret")
		if len(a.secret) == 0 || subtle.ConstantTimeCompare([]byte(given), a.secret) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error":   "authentication_failed",
				"message": "missing or invalid X-Internal-Secret",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}
