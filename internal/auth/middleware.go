package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/authgate/authgate/internal/httputil"
	"github.com/authgate/authgate/internal/user"
)

type contextKey string

const userContextKey contextKey = "auth_user"

// Middleware guards routes behind a valid bearer session token
type Middleware struct {
	service *Service
}

func NewMiddleware(service *Service) *Middleware {
	return &Middleware{service: service}
}

// RequireAuth validates the Authorization bearer token and puts the resolved
// (sanitized) user on the request context.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.RespondErrorWithCode(w, "missing authentication", httputil.CodeMissingAuth, http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondErrorWithCode(w, "invalid authorization header format", httputil.CodeInvalidAuthHeader, http.StatusUnauthorized)
			return
		}

		u, err := m.service.ValidateSession(r.Context(), parts[1])
		if err != nil {
			if errors.Is(err, user.ErrStoreUnavailable) {
				httputil.RespondErrorWithCode(w, "service temporarily unavailable", httputil.CodeStoreUnavailable, http.StatusServiceUnavailable)
				return
			}
			// ErrUserNotFound included: a token whose subject is gone is
			// still an invalid session
			httputil.RespondErrorWithCode(w, "invalid token", httputil.CodeInvalidToken, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, u)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserFromContext extracts the authenticated user from the request context
func UserFromContext(ctx context.Context) (*user.User, bool) {
	u, ok := ctx.Value(userContextKey).(*user.User)
	return u, ok
}
