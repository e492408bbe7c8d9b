package www

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashToken returns the bcrypt hash to store as web.collect_token_hash.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	return string(hash), err
}

func checkToken(hash, plain, presented string) bool {
	if presented == "" {
		return false
	}
	if hash != "" {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
	}
	if plain == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(plain), []byte(presented)) == 1
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || !strings.EqualFold(auth[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

// requireCollectToken rejects requests without the configured bearer token.
// With no token configured every request is rejected.
func (h *Handlers) requireCollectToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := h.engine.AppConfig()
		cfg.RLock()
		hash, plain := cfg.Web.CollectTokenHash, cfg.Web.CollectToken
		cfg.RUnlock()

		if !checkToken(hash, plain, bearerToken(r)) {
			h.jsonError(w, http.StatusUnauthorized, "Unauthorized", "A valid bearer token is required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
