package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
	"authgate.org/internal/obs"
)

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type tokenPairResponse struct {
	auth.TokenPair
	User auth.PublicUser `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "identifier and password are required")
		return
	}

	pair, user, err := a.tokens.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		obs.LoginsTotal.WithLabelValues(loginResult(err)).Inc()
		writeAuthError(w, r, err)
		return
	}
	obs.LoginsTotal.WithLabelValues("success").Inc()
	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	writeJSON(w, http.StatusOK, tokenPairResponse{TokenPair: pair, User: user.Public()})
}

func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}

	pair, user, err := a.tokens.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		obs.TokenRefreshTotal.WithLabelValues(refreshResult(err)).Inc()
		if errors.Is(err, auth.ErrTokenRevoked) {
			// Replay of a rotated-out token. A legitimate client never
			// does this, so keep the trail for defenders.
			_ = audit.LogEvent(r.Context(), "auth.refresh.reuse_detected", map[string]any{
				"remote": clientIP(r),
			})
		}
		writeAuthError(w, r, err)
		return
	}
	obs.TokenRefreshTotal.WithLabelValues("success").Inc()
	_ = audit.LogEvent(r.Context(), "auth.refresh", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, tokenPairResponse{TokenPair: pair, User: user.Public()})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.RefreshToken) == "" {
		writeError(w, r, http.StatusBadRequest, "refresh_token is required")
		return
	}
	if err := a.tokens.Logout(r.Context(), req.RefreshToken); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())
	n, err := a.tokens.LogoutAll(r.Context(), session.UserID)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout_all", map[string]any{
		"revoked": n,
	})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "revoked": n})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())
	writeJSON(w, http.StatusOK, auth.PublicUser{
		ID:          session.UserID,
		Username:    session.Username,
		Email:       session.Email,
		DisplayName: session.DisplayName,
		Roles:       session.Roles,
	})
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	session, _ := auth.SessionFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.credentials.VerifyPassword(r.Context(), session.UserID, req.OldPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	if err := a.credentials.UpdatePassword(r.Context(), session.UserID, req.NewPassword); err != nil {
		writeAuthError(w, r, err)
		return
	}
	// A password change invalidates every outstanding refresh token.
	if _, err := a.tokens.LogoutAll(r.Context(), session.UserID); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", nil)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type createUserRequest struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Password    string   `json:"password"`
	Roles       []string `json:"roles"`
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.tokens.CreateUser(r.Context(), req.Username, req.Email, req.DisplayName, req.Password, req.Roles)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.user.created", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"roles":    user.Roles,
	})
	writeJSON(w, http.StatusCreated, user.Public())
}

func loginResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, auth.ErrUserInactive):
		return "inactive"
	default:
		return "error"
	}
}

func refreshResult(err error) string {
	switch {
	case errors.Is(err, auth.ErrTokenRevoked):
		return "revoked"
	case errors.Is(err, auth.ErrTokenExpired):
		return "expired"
	case errors.Is(err, auth.ErrTokenNotFound):
		return "not_found"
	case errors.Is(err, auth.ErrUserInactive):
		return "inactive"
	case errors.Is(err, auth.ErrInvalidToken):
		return "invalid"
	default:
		return "error"
	}
}
