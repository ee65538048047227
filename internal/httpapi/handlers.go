package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"authgate.org/api/spec"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

// ReadyProbe checks downstream dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the auth core.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	tokens      *auth.Service
	credentials *auth.Credentials
	registry    *auth.Registry
	evaluator   *auth.Evaluator
}

// New wires routes over the injected auth components.
func New(rp ReadyProbe, version string, tokens *auth.Service, credentials *auth.Credentials, registry *auth.Registry, evaluator *auth.Evaluator) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  rp,
		version:     version,
		tokens:      tokens,
		credentials: credentials,
		registry:    registry,
		evaluator:   evaluator,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)
	a.mux.Handle("/metrics", obs.Handler())

	// Credential and token endpoints are the brute-force surface; they get
	// a per-IP limiter the rest of the API does not need.
	a.mux.Handle("POST /v1/auth/login", RateLimit(http.HandlerFunc(a.handleLogin), 5, 10))
	a.mux.Handle("POST /v1/auth/refresh", RateLimit(http.HandlerFunc(a.handleRefresh), 5, 10))
	a.mux.HandleFunc("POST /v1/auth/logout", a.handleLogout)
	a.mux.Handle("POST /v1/auth/logout_all", a.requireSession(http.HandlerFunc(a.handleLogoutAll)))
	a.mux.Handle("GET /v1/auth/me", a.requireSession(http.HandlerFunc(a.handleMe)))
	a.mux.Handle("POST /v1/auth/password", a.requireSession(http.HandlerFunc(a.handleChangePassword)))

	a.mux.Handle("POST /v1/users", a.RequirePermission(auth.PermUserCreate)(http.HandlerFunc(a.handleCreateUser)))

	a.mux.Handle("GET /v1/roles", a.RequirePermission(auth.PermRoleRead)(http.HandlerFunc(a.handleListRoles)))
	a.mux.Handle("POST /v1/roles", a.RequirePermission(auth.PermRoleCreate)(http.HandlerFunc(a.handleCreateRole)))
	a.mux.Handle("GET /v1/roles/{key}", a.RequirePermission(auth.PermRoleRead)(http.HandlerFunc(a.handleGetRole)))
	a.mux.Handle("PUT /v1/roles/{key}", a.RequirePermission(auth.PermRoleUpdate)(http.HandlerFunc(a.handleUpdateRole)))
	a.mux.Handle("DELETE /v1/roles/{key}", a.RequirePermission(auth.PermRoleDelete)(http.HandlerFunc(a.handleDeleteRole)))
	a.mux.Handle("POST /v1/roles/{key}/permissions", a.RequirePermission(auth.PermRoleUpdate)(http.HandlerFunc(a.handleAssignPermissions)))
	a.mux.Handle("DELETE /v1/roles/{key}/permissions", a.RequirePermission(auth.PermRoleUpdate)(http.HandlerFunc(a.handleRemovePermissions)))

	a.mux.Handle("GET /v1/resources", a.RequirePermission(auth.PermResourceRead)(http.HandlerFunc(a.handleListResources)))
	a.mux.Handle("GET /v1/resources/{path...}", a.RequirePermission(auth.PermResourceRead)(http.HandlerFunc(a.handleGetResource)))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics instrumentation on
// the outside, then request id, logging, hardening, and the
// authentication stage before routing.
func (a *API) Handler() http.Handler {
	h := a.Authenticate(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = SecurityHeaders(h)
	h = CORS(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- infrastructure handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "authgate-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "authgate-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, message string) {
	body := map[string]any{"error": message}
	if rid := requestIDFromContext(r.Context()); rid != "" {
		body["request_id"] = rid
	}
	writeJSON(w, code, body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// writeAuthError maps the core error taxonomy onto HTTP outcomes. Storage
// failures stay generic; credential failures never say which half failed.
func writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrUserInactive):
		writeError(w, r, http.StatusForbidden, "user inactive")
	case errors.Is(err, auth.ErrPasswordTooShort):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrTokenExpired):
		writeError(w, r, http.StatusUnauthorized, "token expired")
	case errors.Is(err, auth.ErrTokenRevoked):
		writeError(w, r, http.StatusUnauthorized, "token revoked")
	case errors.Is(err, auth.ErrTokenNotFound):
		writeError(w, r, http.StatusUnauthorized, "token not found")
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	case errors.Is(err, auth.ErrRoleExists):
		writeError(w, r, http.StatusConflict, "role already exists")
	case errors.Is(err, auth.ErrRoleNotFound):
		writeError(w, r, http.StatusNotFound, "role not found")
	case errors.Is(err, auth.ErrResourceNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, auth.ErrDuplicateResource):
		writeError(w, r, http.StatusConflict, "duplicate resource")
	default:
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	}
}

func pathValue(r *http.Request, name string) string {
	return strings.TrimSpace(r.PathValue(name))
}
