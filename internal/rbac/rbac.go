// Package rbac answers permission, role and scope questions about a
// user. Matching is exact string equality with no wildcards. Disabled
// and nil users hold nothing, and nil roles or permissions in the graph
// are skipped.
package rbac

import (
	"sort"

	"github.com/alexjbarnes/authcore/internal/models"
)

// HasPermission reports whether any of the user's roles grants action on
// resource.
func HasPermission(u *models.User, resource, action string) bool {
	found := false

	eachPermission(u, func(p *models.Permission) bool {
		if p.Resource == resource && p.Action == action {
			found = true
			return false
		}

		return true
	})

	return found
}

// HasRole reports whether the user holds a role named roleName.
func HasRole(u *models.User, roleName string) bool {
	if !active(u) {
		return false
	}

	for _, r := range u.Roles {
		if r != nil && r.Name == roleName {
			return true
		}
	}

	return false
}

// EffectiveScopes returns the sorted union of OAUTH2 permission scopes
// across the user's roles.
func EffectiveScopes(u *models.User) []string {
	set := make(map[string]struct{})

	eachPermission(u, func(p *models.Permission) bool {
		if p.Type == models.PermissionOAuth2 && p.Scope != "" {
			set[p.Scope] = struct{}{}
		}

		return true
	})

	scopes := make([]string, 0, len(set))
	for s := range set {
		scopes = append(scopes, s)
	}

	sort.Strings(scopes)

	return scopes
}

// HasScope reports whether scope is among the user's effective scopes.
func HasScope(u *models.User, scope string) bool {
	found := false

	eachPermission(u, func(p *models.Permission) bool {
		if p.Type == models.PermissionOAuth2 && p.Scope == scope {
			found = true
			return false
		}

		return true
	})

	return found
}

// RoleNames returns the names of the user's roles in declaration order.
func RoleNames(u *models.User) []string {
	if !active(u) {
		return nil
	}

	names := make([]string, 0, len(u.Roles))

	for _, r := range u.Roles {
		if r != nil {
			names = append(names, r.Name)
		}
	}

	return names
}

func active(u *models.User) bool {
	return u != nil && u.Enabled
}

// eachPermission walks every non-nil permission of an active user until
// fn returns false.
func eachPermission(u *models.User, fn func(*models.Permission) bool) {
	if !active(u) {
		return
	}

	for _, r := range u.Roles {
		if r == nil {
			continue
		}

		for _, p := range r.Permissions {
			if p == nil {
				continue
			}

			if !fn(p) {
				return
			}
		}
	}
}
