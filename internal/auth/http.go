// ABOUTME: HTTP middleware for JWT authentication on admin API endpoints
// ABOUTME: Extracts bearer tokens and resolves actors against the admin allow-list

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// logAuthFailure records a rejected request when a logger is configured.
func logAuthFailure(logger *slog.Logger, r *http.Request, reason string) {
	if logger == nil {
		return
	}
	logger.Warn("http auth failure",
		"reason", reason,
		"path", r.URL.Path,
		"remote", r.RemoteAddr)
}

// HTTPAuthMiddleware creates an HTTP middleware that extracts and validates
// JWT tokens. The verified actor ID and its allow-list standing are attached
// to the request context via WithAuth for handlers downstream.
func HTTPAuthMiddleware(verifier TokenVerifier, admins *Allowlist, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				logAuthFailure(logger, r, "token_extraction_failed")
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			actorID, err := verifier.Verify(token)
			if err != nil {
				logAuthFailure(logger, r, "token_verification_failed")
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			authCtx := &AuthContext{
				ActorID: actorID,
				Admin:   admins.IsAdmin(actorID),
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// RequireAdminHTTP creates an HTTP middleware that rejects actors not on the
// admin allow-list. Must be used after HTTPAuthMiddleware.
func RequireAdminHTTP(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := FromContext(r.Context())
			if authCtx == nil {
				logAuthFailure(logger, r, "not_authenticated")
				http.Error(w, `{"error":"not authenticated"}`, http.StatusUnauthorized)
				return
			}

			if !authCtx.Admin {
				logAuthFailure(logger, r, "admin_required")
				http.Error(w, `{"error":"admin access required"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
