package httpapi

import (
	"net/http"

	"authgate.org/internal/audit"
	"authgate.org/internal/auth"
)

type roleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type createRoleRequest struct {
	Key string `json:"key"`
	roleRequest
}

type permissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"roles": a.registry.ListRoles()})
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := a.registry.CreateRole(req.Key, auth.RoleConfig{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.created", map[string]any{"role": role.Key})
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	role, err := a.registry.GetRole(pathValue(r, "key"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	key := pathValue(r, "key")
	role, err := a.registry.UpdateRole(key, auth.RoleConfig{
		Name:        req.Name,
		Description: req.Description,
		Permissions: req.Permissions,
	})
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.updated", map[string]any{"role": key})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	key := pathValue(r, "key")
	if err := a.registry.DeleteRole(key); err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.deleted", map[string]any{"role": key})
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleAssignPermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	key := pathValue(r, "key")
	if err := a.registry.AssignPermissions(key, req.Permissions); err != nil {
		writeAuthError(w, r, err)
		return
	}
	role, err := a.registry.GetRole(key)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permissions.assigned", map[string]any{
		"role":        key,
		"permissions": req.Permissions,
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleRemovePermissions(w http.ResponseWriter, r *http.Request) {
	var req permissionsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	key := pathValue(r, "key")
	if err := a.registry.RemovePermissions(key, req.Permissions); err != nil {
		writeAuthError(w, r, err)
		return
	}
	role, err := a.registry.GetRole(key)
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permissions.removed", map[string]any{
		"role":        key,
		"permissions": req.Permissions,
	})
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleListResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"resources": a.registry.ListResources()})
}

func (a *API) handleGetResource(w http.ResponseWriter, r *http.Request) {
	resource, err := a.registry.GetResource(pathValue(r, "path"))
	if err != nil {
		writeAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resource)
}
