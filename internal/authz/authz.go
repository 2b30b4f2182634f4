// Package authz decides whether a role may call a path with a method.
// Path patterns use :param segments (exactly one non-slash segment) and
// a literal * segment (one or more of anything).
package authz

import (
	"regexp"
	"strings"

	"github.com/atelierhq/atelier/internal/apperr"
)

// AdminRole bypasses every path and method check.
const AdminRole = "Admin"

// PublicRole governs unauthenticated requests.
const PublicRole = "Public"

// Rule grants a set of HTTP methods on one path pattern.
type Rule struct {
	Path    string   `json:"path"`
	Methods []string `json:"methods"`
}

// Role is a named list of access rules loaded from the role collection.
type Role struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Access []Rule `json:"access"`
}

// CompilePattern turns a path pattern into an anchored regexp.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	parts := strings.Split(pattern, "/")
	for i, part := range parts {
		switch {
		case strings.HasPrefix(part, ":"):
			parts[i] = `[^\/]+`
		case part == "*":
			parts[i] = `.{1,}`
		default:
			parts[i] = regexp.QuoteMeta(part)
		}
	}
	return regexp.Compile(`^` + strings.Join(parts, `\/`) + `$`)
}

// MatchPattern reports whether path matches pattern. Invalid patterns
// match nothing.
func MatchPattern(pattern, path string) bool {
	re, err := CompilePattern(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(path)
}

// HasRoleAccess finds the first rule whose pattern matches path and
// checks its method set. No matching rule means no access.
func HasRoleAccess(role Role, path, method string) bool {
	for _, rule := range role.Access {
		if MatchPattern(rule.Path, path) {
			return containsMethod(rule.Methods, method)
		}
	}
	return false
}

// Permit is the terminal authorization decision for an authenticated
// principal. Admin passes unconditionally; everyone else needs a
// matching rule and a usable account status.
func Permit(role *Role, status, path, method string) error {
	if role == nil {
		return apperr.AccessForbidden()
	}
	if role.Name == AdminRole {
		return nil
	}
	if !HasRoleAccess(*role, path, method) || !UsableStatus(status) {
		return apperr.AccessForbidden()
	}
	return nil
}

// UsableStatus reports whether the account status allows authorization.
func UsableStatus(status string) bool {
	return status == "active" || status == "inactive"
}

func containsMethod(methods []string, method string) bool {
	for _, m := range methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}
