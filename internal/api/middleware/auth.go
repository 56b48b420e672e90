package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"Sutian/internal/auth"
	"Sutian/internal/core/votes"
)

// Context keys for storing user information
type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	JWTClaimsKey contextKey = "jwt_claims"
)

// TokenVerifier validates a bearer token. *auth.Verifier implements it.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// AuthMiddleware authenticates requests with Bearer tokens from the
// Authorization header
type AuthMiddleware struct {
	verifier TokenVerifier
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{verifier: verifier, logger: logger}
}

// RequireAuth middleware ensures the user is authenticated with a valid JWT.
// If not authenticated, returns 401.
// If authenticated, injects the user id and JWT claims into context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeAuthError(w, "Missing Authorization header")
			return
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			writeAuthError(w, "Invalid Authorization header format. Expected: Bearer <token>")
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.logger.Warn("authentication failed",
				"type", "verification_failed",
				"ip", getClientIP(r),
				"method", r.Method,
				"path", r.URL.Path,
				"error", err)
			writeAuthError(w, "Invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// OptionalAuth middleware loads user info if authenticated, but doesn't require it.
// Useful for endpoints that work for both authenticated and anonymous users.
func (m *AuthMiddleware) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			// Invalid token - continue without user context
			m.logger.Debug("optional auth failed", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
	})
}

// RequireRole only lets through requests whose JWT role claim is one of roles.
// It must run after RequireAuth; requests without claims are rejected with 401,
// other roles with 403.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetJWTClaims(r)
			if claims == nil {
				writeAuthError(w, "Authentication required")
				return
			}
			if !slices.Contains(roles, claims.Role) {
				slog.Warn("access denied",
					"type", "role_mismatch",
					"user", claims.Subject,
					"role", claims.Role,
					"path", r.URL.Path)
				writeForbidden(w, "Insufficient role for this endpoint")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, claims.Subject)
	return context.WithValue(ctx, JWTClaimsKey, claims)
}

// GetUserID extracts the user's id from the request context.
// Returns empty string if not authenticated.
func GetUserID(r *http.Request) string {
	return GetAuthenticatedUserID(r.Context())
}

// GetAuthenticatedUserID extracts the authenticated user's id from the context
func GetAuthenticatedUserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}

// GetJWTClaims extracts the JWT claims from the request context.
// Returns nil if not authenticated.
func GetJWTClaims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(JWTClaimsKey).(*auth.Claims)
	return claims
}

// SetTestUserID sets the user id in the context for testing purposes.
// This function should ONLY be used in tests to mock authenticated users.
func SetTestUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// ContextIdentity resolves the vote service's current user from the request
// context populated by RequireAuth/OptionalAuth
type ContextIdentity struct{}

// CurrentUser implements votes.Identity. Anonymous requests yield (nil, nil).
func (ContextIdentity) CurrentUser(ctx context.Context) (*votes.User, error) {
	id := GetAuthenticatedUserID(ctx)
	if id == "" {
		return nil, nil
	}
	return &votes.User{ID: id}, nil
}

// writeAuthError writes a JSON error response for authentication failures
func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "AuthenticationRequired",
		"message": message,
	}); err != nil {
		slog.Error("failed to write auth error response", "error", err)
	}
}

// writeForbidden writes a JSON error response for authorization failures
func writeForbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"error":   "Forbidden",
		"message": message,
	}); err != nil {
		slog.Error("failed to write forbidden response", "error", err)
	}
}
