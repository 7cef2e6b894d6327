package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	// RoleViewer may list plans and invocation records.
	RoleViewer = "viewer"
	// RoleOperator may also start migrations.
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

var roleLevels = map[string]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

func HasAtLeast(roles []string, required string) bool {
	requiredLevel := roleLevels[strings.ToLower(required)]
	if requiredLevel == 0 {
		return false
	}
	maxLevel := 0
	for _, role := range roles {
		if level := roleLevels[strings.ToLower(strings.TrimSpace(role))]; level > maxLevel {
			maxLevel = level
		}
	}
	return maxLevel >= requiredLevel
}

func RequiredRoleForRequest(r *http.Request) string {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleOperator
	}
}

type AuthorizeFunc func(r *http.Request, identity Identity) error

func MethodRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return nil
		}
		return ErrForbidden
	}
}
