package auth

import "strings"

// Evaluator decides whether a set of role keys grants a permission string.
// It only answers concrete checks: the `"*"` public escape hatch on routes
// is handled by the request gate before the evaluator is consulted.
type Evaluator struct {
	registry *Registry
}

// NewEvaluator constructs an Evaluator over the given registry.
func NewEvaluator(registry *Registry) *Evaluator {
	return &Evaluator{registry: registry}
}

// CheckPermission reports whether a single role grants the permission.
// Unknown role keys grant nothing; absence is denial, not an error.
func (e *Evaluator) CheckPermission(roleKey, permission string) bool {
	role, err := e.registry.GetRole(roleKey)
	if err != nil {
		return false
	}
	for _, granted := range role.Permissions {
		if permissionMatches(granted, permission) {
			return true
		}
	}
	return false
}

// CheckPermissions reports whether any of the caller's roles grants the
// permission. An empty role set always evaluates to false.
func (e *Evaluator) CheckPermissions(roleKeys []string, permission string) bool {
	for _, key := range roleKeys {
		if e.CheckPermission(key, permission) {
			return true
		}
	}
	return false
}

// permissionMatches compares a granted permission against a requested one.
// Grants match exactly, via the bare `*`, or via a single-level trailing
// wildcard: `article.*` covers `article.create` but not
// `article.comment.create`.
func permissionMatches(granted, requested string) bool {
	if granted == "*" {
		return true
	}
	if granted == requested {
		return true
	}
	prefix, ok := strings.CutSuffix(granted, ".*")
	if !ok || prefix == "" {
		return false
	}
	rest, ok := strings.CutPrefix(requested, prefix+".")
	if !ok || rest == "" {
		return false
	}
	return !strings.Contains(rest, ".")
}
