package middleware

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	apiContext "propvest/internal/api/context"
	"propvest/internal/pkg/errors"
	"propvest/internal/platform/auth"
	"propvest/internal/platform/config"
)

// AuthMiddleware accepts either a platform-issued bearer token or an
// operator API key on X-API-Key. API keys are checked against the bcrypt
// hashes in config and grant the admin role.
type AuthMiddleware struct {
	tokenSvc  *auth.TokenService
	keyHashes []string
}

func NewAuthMiddleware(tokenSvc *auth.TokenService, keys config.AdminKeysConfig) *AuthMiddleware {
	return &AuthMiddleware{tokenSvc: tokenSvc, keyHashes: keys.Hashes}
}

func (m *AuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
			if m.matchAPIKey(apiKey) {
				claims := &auth.Claims{UserID: "operator", Role: "admin"}
				ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
				next(w, r.WithContext(ctx))
				return
			}
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid API key", nil)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing authorization header", nil)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid authorization header format", nil)
			return
		}

		claims, err := m.tokenSvc.ValidateToken(parts[1])
		if err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}

		ctx := context.WithValue(r.Context(), apiContext.Claims, claims)
		next(w, r.WithContext(ctx))
	}
}

func (m *AuthMiddleware) matchAPIKey(key string) bool {
	for _, hash := range m.keyHashes {
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil {
			return true
		}
	}
	return false
}
