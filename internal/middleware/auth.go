package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"go-session-service/internal/metrics"
	"go-session-service/internal/model"
)

type tokenVerifier interface {
	Verify(raw string, kind model.TokenKind) (model.VerifiedToken, error)
}

type contextKey string

const identityContextKey contextKey = "identity"

// AuthMiddleware is the access guard. It never consults storage; an access
// token is valid when its signature and embedded expiry are.
type AuthMiddleware struct {
	verifier tokenVerifier
	log      *slog.Logger
}

func NewAuthMiddleware(verifier tokenVerifier, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{verifier: verifier, log: logger}
}

func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := m.authenticate(r)
		if err != nil {
			metrics.GuardDecisions.WithLabelValues(guardLabel(err)).Inc()
			writeGuardError(w, err)
			return
		}

		metrics.GuardDecisions.WithLabelValues("allowed").Inc()
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// OptionalAuth passes anonymous requests through unchanged. Once an
// Authorization header is sent it must verify, so an expired token still
// reports TOKEN_EXPIRED.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := m.authenticate(r)
		if err != nil {
			metrics.GuardDecisions.WithLabelValues(guardLabel(err)).Inc()
			writeGuardError(w, err)
			return
		}

		metrics.GuardDecisions.WithLabelValues("allowed").Inc()
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// RequireRoles builds a role gate for router setup. An empty role set is a
// programming error and panics while routes are being registered.
func (m *AuthMiddleware) RequireRoles(roles ...model.Role) func(http.Handler) http.Handler {
	gate, err := NewRoleGate(m.log, roles...)
	if err != nil {
		panic(err)
	}
	return gate.Handler
}

func (m *AuthMiddleware) authenticate(r *http.Request) (model.Identity, error) {
	token, ok := bearerToken(r)
	if !ok {
		return model.Identity{}, model.ErrAuthRequired
	}

	verified, err := m.verifier.Verify(token, model.TokenKindAccess)
	switch {
	case err == nil:
		return verified.Claims, nil
	case errors.Is(err, model.ErrTokenExpired):
		return model.Identity{}, model.ErrTokenExpired
	default:
		return model.Identity{}, model.ErrInvalidToken
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[7:])
	return token, token != ""
}

// RoleGate admits requests whose identity carries one of the allowed roles.
type RoleGate struct {
	allowed  map[model.Role]struct{}
	required []model.Role
	log      *slog.Logger
}

func NewRoleGate(logger *slog.Logger, roles ...model.Role) (*RoleGate, error) {
	if len(roles) == 0 {
		return nil, fmt.Errorf("role gate requires at least one role")
	}
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[model.Role]struct{}, len(roles))
	for _, raw := range roles {
		role, err := model.ParseRole(raw.String())
		if err != nil {
			return nil, fmt.Errorf("role gate: %w", err)
		}
		allowed[role] = struct{}{}
	}

	return &RoleGate{allowed: allowed, required: roles, log: logger}, nil
}

func (g *RoleGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			metrics.GuardDecisions.WithLabelValues("auth_required").Inc()
			writeGuardError(w, model.ErrAuthRequired)
			return
		}

		if _, permitted := g.allowed[identity.Role]; !permitted {
			metrics.GuardDecisions.WithLabelValues("forbidden").Inc()
			g.log.Warn("access denied",
				"user_id", identity.UserID,
				"role", identity.Role,
				"required_roles", g.required,
				"path", r.URL.Path,
			)
			writeGuardError(w, model.ErrForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func WithIdentity(ctx context.Context, identity model.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

func IdentityFromContext(ctx context.Context) (model.Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(model.Identity)
	return identity, ok
}

func writeGuardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden")
	case errors.Is(err, model.ErrTokenExpired):
		writeJSONError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token expired")
	case errors.Is(err, model.ErrInvalidToken):
		writeJSONError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid token")
	default:
		writeJSONError(w, http.StatusUnauthorized, "AUTH_REQUIRED", "Authentication required")
	}
}

func guardLabel(err error) string {
	switch {
	case errors.Is(err, model.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, model.ErrInvalidToken):
		return "invalid_token"
	default:
		return "auth_required"
	}
}
