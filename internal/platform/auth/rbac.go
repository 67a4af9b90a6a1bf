package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

var roleLevels = map[string]int{
	RoleViewer: 1,
	RoleEditor: 2,
	RoleAdmin:  3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		level := roleLevels[strings.ToLower(strings.TrimSpace(role))]
		if level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

// RequiredRoleForRequest maps requests to the minimum role: reads need
// viewer, lifecycle writes need editor, and clearing the run lock is the one
// admin-only operation (it breaks the mutual-exclusion invariant).
func RequiredRoleForRequest(r *http.Request) string {
	if r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/lock") {
		return RoleAdmin
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleEditor
	}
}

// MethodRoleAuthorizer authorizes by request method and path alone.
func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if !HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return ErrForbidden
		}
		return nil
	}
}
