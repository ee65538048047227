package auth

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the canonical catalog of protectable resources and the
// role→permission mappings. It is constructed once at startup from builtin
// and deployment-supplied definitions and injected wherever permission
// decisions are made; roles may additionally be managed at runtime through
// the administrative surface.
type Registry struct {
	mu        sync.RWMutex
	resources []Resource
	roles     map[string]*Role
}

// NewRegistry merges builtin definitions with deployment extras. Extra
// definitions win on key collision in both catalogs; a duplicate key inside
// a single resource list is rejected.
func NewRegistry(resources []Resource, extraResources []Resource, roles map[string]RoleConfig, extraRoles map[string]RoleConfig) (*Registry, error) {
	merged, err := MergeResources(resources, extraResources)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		resources: merged,
		roles:     make(map[string]*Role),
	}
	for key, cfg := range MergeRoles(roles, extraRoles) {
		r.roles[key] = roleFromConfig(key, cfg)
	}
	return r, nil
}

// MergeResources combines two resource lists. Keys in extra replace builtin
// entries wholesale; order follows the builtin list with appended extras.
// Duplicate keys within one list mean a definition error, not an override.
func MergeResources(builtin, extra []Resource) ([]Resource, error) {
	seen := make(map[string]int, len(builtin))
	out := make([]Resource, 0, len(builtin)+len(extra))
	for _, res := range builtin {
		if _, ok := seen[res.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, res.Key)
		}
		seen[res.Key] = len(out)
		out = append(out, res)
	}
	extraSeen := make(map[string]struct{}, len(extra))
	for _, res := range extra {
		if _, ok := extraSeen[res.Key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, res.Key)
		}
		extraSeen[res.Key] = struct{}{}
		if idx, ok := seen[res.Key]; ok {
			out[idx] = res
			continue
		}
		seen[res.Key] = len(out)
		out = append(out, res)
	}
	return out, nil
}

// MergeRoles combines two keyed role maps into a new map. The extra
// definition wins on collision, which is how deployments customize the
// builtin admin/user roles. Neither input is mutated.
func MergeRoles(builtin, extra map[string]RoleConfig) map[string]RoleConfig {
	out := make(map[string]RoleConfig, len(builtin)+len(extra))
	for key, cfg := range builtin {
		out[key] = cfg
	}
	for key, cfg := range extra {
		out[key] = cfg
	}
	return out
}

func roleFromConfig(key string, cfg RoleConfig) *Role {
	name := cfg.Name
	if name == "" {
		name = key
	}
	return &Role{
		Key:         key,
		Name:        name,
		Description: cfg.Description,
		Permissions: dedupeStrings(cfg.Permissions),
	}
}

// CreateRole registers a new role under key.
func (r *Registry) CreateRole(key string, cfg RoleConfig) (Role, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Role{}, fmt.Errorf("%w: role key is required", ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[key]; ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleExists, key)
	}
	role := roleFromConfig(key, cfg)
	r.roles[key] = role
	return cloneRole(role), nil
}

// GetRole returns the role stored under key.
func (r *Registry) GetRole(key string) (Role, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[key]
	if !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, key)
	}
	return cloneRole(role), nil
}

// UpdateRole replaces the definition of an existing role.
func (r *Registry) UpdateRole(key string, cfg RoleConfig) (Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[key]; !ok {
		return Role{}, fmt.Errorf("%w: %s", ErrRoleNotFound, key)
	}
	role := roleFromConfig(key, cfg)
	r.roles[key] = role
	return cloneRole(role), nil
}

// DeleteRole removes a role. Tokens already issued to holders of the role
// are untouched: permission is re-evaluated per request, so removal takes
// effect on the next check.
func (r *Registry) DeleteRole(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roles[key]; !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, key)
	}
	delete(r.roles, key)
	return nil
}

// ListRoles returns all roles sorted by key.
func (r *Registry) ListRoles() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, cloneRole(role))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// AssignPermissions adds permissions to a role with set-union semantics.
// Re-assigning a present permission is a no-op.
func (r *Registry) AssignPermissions(roleKey string, permissions []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleKey)
	}
	have := make(map[string]struct{}, len(role.Permissions))
	for _, p := range role.Permissions {
		have[p] = struct{}{}
	}
	for _, p := range dedupeStrings(permissions) {
		if _, ok := have[p]; ok {
			continue
		}
		have[p] = struct{}{}
		role.Permissions = append(role.Permissions, p)
	}
	return nil
}

// RemovePermissions drops permissions from a role with set-difference
// semantics. Removing an absent permission is a no-op.
func (r *Registry) RemovePermissions(roleKey string, permissions []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	role, ok := r.roles[roleKey]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoleNotFound, roleKey)
	}
	drop := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		drop[p] = struct{}{}
	}
	kept := role.Permissions[:0]
	for _, p := range role.Permissions {
		if _, ok := drop[p]; ok {
			continue
		}
		kept = append(kept, p)
	}
	role.Permissions = kept
	return nil
}

// GetResource resolves a dot- or slash-separated path into the catalog,
// descending through sub-resources one segment at a time.
func (r *Registry) GetResource(path string) (Resource, error) {
	segments := splitResourcePath(path)
	if len(segments) == 0 {
		return Resource{}, fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	current := r.resources
	var found *Resource
	for _, seg := range segments {
		found = nil
		for i := range current {
			if current[i].Key == seg {
				found = &current[i]
				break
			}
		}
		if found == nil {
			return Resource{}, fmt.Errorf("%w: %s", ErrResourceNotFound, path)
		}
		current = found.Children
	}
	return *found, nil
}

// ListResources returns the top-level catalog. Sub-resources stay nested
// under their parents rather than being flattened.
func (r *Registry) ListResources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Resource, len(r.resources))
	copy(out, r.resources)
	return out
}

func splitResourcePath(path string) []string {
	path = strings.TrimSpace(path)
	sep := "."
	if strings.Contains(path, "/") {
		sep = "/"
	}
	var segments []string
	for _, seg := range strings.Split(path, sep) {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			return nil
		}
		segments = append(segments, seg)
	}
	return segments
}

func cloneRole(role *Role) Role {
	out := *role
	out.Permissions = make([]string, len(role.Permissions))
	copy(out.Permissions, role.Permissions)
	return out
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
