package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyHeader is the header carrying the admin API key.
const APIKeyHeader = "X-API-Key"

// Middleware validates requests with either the admin API key or a bearer
// token previously issued by the token endpoint. When no admin key is
// configured the middleware is a pass-through, which keeps single-user local
// deployments friction-free.
type Middleware struct {
	jwtManager  *JWTManager
	adminAPIKey string
}

// NewMiddleware creates an authentication middleware
func NewMiddleware(jwtManager *JWTManager, adminAPIKey string) *Middleware {
	return &Middleware{
		jwtManager:  jwtManager,
		adminAPIKey: adminAPIKey,
	}
}

// Require wraps a handler with authentication.
func (m *Middleware) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.adminAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		if key := r.Header.Get(APIKeyHeader); key != "" {
			if subtle.ConstantTimeCompare([]byte(key), []byte(m.adminAPIKey)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing credentials", http.StatusUnauthorized)
			return
		}

		if _, err := m.jwtManager.ValidateToken(token); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ExchangeAPIKey validates the admin API key and returns a bearer token for
// subsequent requests. Returns false when the key does not match.
func (m *Middleware) ExchangeAPIKey(key string) (string, bool) {
	if m.adminAPIKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(m.adminAPIKey)) != 1 {
		return "", false
	}
	token, err := m.jwtManager.GenerateToken("admin")
	if err != nil {
		return "", false
	}
	return token, true
}
