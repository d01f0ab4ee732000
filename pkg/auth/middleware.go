// Package auth protects the HTTP API with bearer JWTs. The kernel itself
// never trusts these tokens for anything; they gate access to the service,
// while acceptances carry the actual execution authority.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arbiter-systems/arbiter/pkg/api"
)

// Claims are the JWT claims the API expects.
type Claims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles,omitempty"`
}

// Validator verifies HMAC-signed API tokens.
type Validator struct {
	secret []byte
}

// NewValidator wraps the shared API secret. Returns nil for an empty
// secret, which the middleware treats as fail-closed.
func NewValidator(secret []byte) *Validator {
	if len(secret) == 0 {
		return nil
	}
	return &Validator{secret: secret}
}

// Validate parses and verifies a token string.
func (v *Validator) Validate(tokenStr string) (*Claims, error) {
	if v == nil {
		return nil, fmt.Errorf("validator uninitialized")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// publicPaths do not require authentication.
var publicPaths = []string{"/healthz", "/readyz"}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

type contextKey struct{}

// SubjectFromContext returns the authenticated subject, if any.
func SubjectFromContext(ctx context.Context) string {
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}

// NewMiddleware builds the auth gate. A nil validator rejects all
// non-public requests.
func NewMiddleware(validator *Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				api.WriteUnauthorized(w, r, "Missing Authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				api.WriteUnauthorized(w, r, "Expected 'Bearer <token>'")
				return
			}

			if validator == nil {
				api.WriteUnauthorized(w, r, "Authentication not configured")
				return
			}
			claims, err := validator.Validate(parts[1])
			if err != nil {
				api.WriteUnauthorized(w, r, "Invalid or expired token")
				return
			}
			if claims.Subject == "" {
				api.WriteUnauthorized(w, r, "Token subject is required")
				return
			}

			next.ServeHTTP(w, r.WithContext(
				context.WithValue(r.Context(), contextKey{}, claims.Subject)))
		})
	}
}
