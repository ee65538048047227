package auth

import "time"

// User lifecycle statuses. Anything other than active blocks login and
// refresh; the records stay in place so live tokens can still be resolved
// and rejected with the right error.
const (
	UserStatusActive    = "active"
	UserStatusInactive  = "inactive"
	UserStatusSuspended = "suspended"
)

// User is an identity record. PasswordHash is never serialized; every
// outward-facing representation goes through Public.
type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	PasswordHash string     `json:"-"`
	DisplayName  string     `json:"display_name,omitempty"`
	Roles        []string   `json:"roles"`
	Status       string     `json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// PublicUser is the profile shape returned by login/refresh/me.
type PublicUser struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
}

// Public strips credential material and internal fields.
func (u *User) Public() PublicUser {
	roles := make([]string, len(u.Roles))
	copy(roles, u.Roles)
	return PublicUser{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Roles:       roles,
	}
}

// Role is a named bundle of permission strings. Permissions may contain
// single-level wildcards (`article.*`) or the bare `*`.
type Role struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// RoleConfig is the deployment-facing role definition used when merging
// builtin and extra role sets.
type RoleConfig struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// Action is a verb scoped to one resource or sub-resource.
type Action struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Resource is a protectable noun. One level of sub-resource nesting is
// supported; a permission string is the dot-joined path of resource
// (and optional sub-resource) key plus action key.
type Resource struct {
	Key         string     `json:"key"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Actions     []Action   `json:"actions,omitempty"`
	Children    []Resource `json:"children,omitempty"`
}

// RefreshToken is the persisted, revocable half of a token pair. The
// presented secret is stored only as a SHA-256 hash; TokenHash carries a
// unique index so two concurrent rotations cannot both commit.
type RefreshToken struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenPair is what login and refresh hand back.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}
