package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticate is the first gate stage. A request without a credential
// passes through untouched so public routes keep working; a request with
// a bad credential is rejected outright. A valid token attaches the
// session for downstream stages and handlers.
func (a *API) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		header := strings.TrimSpace(r.Header.Get(authHeader))
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(header)
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		claims, err := a.tokens.ValidateAccessToken(token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrTokenExpired):
				unauthorized(w, r, "token expired")
			default:
				unauthorized(w, r, "invalid token")
			}
			return
		}

		ctx := auth.ContextWithSession(r.Context(), auth.Session{
			UserID:      claims.Subject,
			Username:    claims.Username,
			Email:       claims.Email,
			DisplayName: claims.DisplayName,
			Roles:       claims.Roles,
		})
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequirePermission is the second gate stage, parameterized per route.
// The literal "*" is the public escape hatch and skips every check. A
// missing session yields 401 (log in) and a denied permission 403 (you
// lack access): two distinct outcomes by contract.
func (a *API) RequirePermission(permission string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if permission == auth.PermPublic {
				next.ServeHTTP(w, r)
				return
			}
			session, ok := auth.SessionFromContext(r.Context())
			if !ok {
				unauthorized(w, r, "authentication required")
				return
			}
			if !a.evaluator.CheckPermissions(session.Roles, permission) {
				obs.PermissionDenialsTotal.Inc()
				_ = audit.LogEvent(r.Context(), "auth.permission.denied", map[string]any{
					"permission": permission,
					"roles":      session.Roles,
				})
				forbidden(w, r, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// requireSession guards self-service routes that need an authenticated
// caller but no specific permission.
func (a *API) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.SessionFromContext(r.Context()); !ok {
			unauthorized(w, r, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authgate"`)
	writeError(w, r, http.StatusUnauthorized, message)
}

func forbidden(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="authgate", error="insufficient_scope"`)
	writeError(w, r, http.StatusForbidden, message)
}

func extractBearerToken(header string) (string, error) {
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
