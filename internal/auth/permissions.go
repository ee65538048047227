package auth

// Permission keys guarding the service's own administrative surface.
const (
	PermUserRead           = "user.read"
	PermUserCreate         = "user.create"
	PermUserUpdate         = "user.update"
	PermUserPasswordUpdate = "user.password.update"
	PermRoleRead           = "role.read"
	PermRoleCreate         = "role.create"
	PermRoleUpdate         = "role.update"
	PermRoleDelete         = "role.delete"
	PermResourceRead       = "resource.read"

	// PermPublic marks a route as exempt from the permission stage.
	PermPublic = "*"
)

// BuiltinResources is the default catalog. Deployments extend or override
// it through the registry merge at startup.
var BuiltinResources = []Resource{
	{
		Key:  "user",
		Name: "Users",
		Actions: []Action{
			{Key: "read", Name: "Read users"},
			{Key: "create", Name: "Create users"},
			{Key: "update", Name: "Update users"},
		},
		Children: []Resource{
			{
				Key:  "password",
				Name: "User passwords",
				Actions: []Action{
					{Key: "update", Name: "Change password"},
				},
			},
		},
	},
	{
		Key:  "role",
		Name: "Roles",
		Actions: []Action{
			{Key: "read", Name: "Read roles"},
			{Key: "create", Name: "Create roles"},
			{Key: "update", Name: "Update roles"},
			{Key: "delete", Name: "Delete roles"},
		},
	},
	{
		Key:  "resource",
		Name: "Resource catalog",
		Actions: []Action{
			{Key: "read", Name: "Read the resource catalog"},
		},
	},
}

// BuiltinRoles ships an all-access admin and an unprivileged default role.
// Extra role configs merged at startup override these per key.
var BuiltinRoles = map[string]RoleConfig{
	"admin": {
		Name:        "Administrator",
		Description: "Full access to every resource",
		Permissions: []string{"*"},
	},
	"user": {
		Name:        "User",
		Description: "Self-service access",
		Permissions: []string{PermUserRead, PermUserPasswordUpdate},
	},
}
