package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/quayline/orchestrator/internal/models"
)

type contextKey string

const userContextKey contextKey = "user"

// Middleware authenticates HTTP requests and attaches the UserContext.
type Middleware struct {
	manager  *Manager
	skipAuth bool
	logger   *zap.Logger
}

// NewMiddleware creates the HTTP auth middleware.
func NewMiddleware(manager *Manager, logger *zap.Logger) *Middleware {
	return &Middleware{manager: manager, logger: logger}
}

// SkipAuth puts the middleware in development mode: requests without a token
// get a fixed operator identity instead of a 401.
func (m *Middleware) SkipAuth() { m.skipAuth = true }

// Wrap rejects requests without a valid bearer token.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if m.skipAuth && header == "" {
			ctx := context.WithValue(r.Context(), userContextKey, &UserContext{
				Subject: "dev",
				Role:    models.RoleOperator,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		user, err := m.manager.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			m.logger.Debug("token rejected", zap.Error(err))
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the authenticated user, if any.
func FromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}
