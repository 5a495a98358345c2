package models

// PermissionType classifies where a permission applies.
type PermissionType string

const (
	PermissionAPI    PermissionType = "API"
	PermissionUI     PermissionType = "UI"
	PermissionOAuth2 PermissionType = "OAUTH2"
)

// Permission grants Action on Resource. Scope is only meaningful for
// OAUTH2 permissions.
type Permission struct {
	ID       string         `json:"id"`
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Type     PermissionType `json:"type"`
	Scope    string         `json:"scope,omitempty"`
}

// Role groups permissions under a name.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Permissions []*Permission `json:"permissions"`
}

// User is a resource owner. A disabled user holds no permissions
// regardless of its roles.
type User struct {
	ID             string  `json:"id"`
	Username       string  `json:"username"`
	Name           string  `json:"name,omitempty"`
	Email          string  `json:"email,omitempty"`
	OrganizationID string  `json:"organization_id,omitempty"`
	PasswordHash   string  `json:"-"`
	Enabled        bool    `json:"enabled"`
	Roles          []*Role `json:"roles"`
}
