package packaging

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Domain errors
var (
	ErrProjectNotFound      = errors.New("project not found")
	ErrProjectAlreadyExists = errors.New("project already exists")
	ErrRoleNotFound         = errors.New("role not found")
	ErrAccessDenied         = errors.New("access denied")
)

// Project represents a package project on the index
type Project struct {
	ID string

	// Name is the display name as registered; Normalized is the canonical
	// lookup form.
	Name       string
	Normalized string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProjectID implements the project view caveat predicates inspect.
func (p *Project) ProjectID() string { return p.ID }

// NormalizedName implements the project view caveat predicates inspect.
func (p *Project) NormalizedName() string { return p.Normalized }

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName canonicalizes a project name: runs of dots, hyphens and
// underscores collapse to a single hyphen, lowercased. "Foo.Bar" and
// "foo__bar" are the same project.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// RoleName identifies what a user may do on a project
type RoleName string

const (
	RoleOwner      RoleName = "Owner"
	RoleMaintainer RoleName = "Maintainer"
)

// Role represents a user's role on a project
type Role struct {
	ID        string
	UserID    string
	ProjectID string
	Name      RoleName
	CreatedAt time.Time
}

// Permissions by role. Owners additionally manage collaborators and project
// settings; both may upload.
var rolePermissions = map[RoleName][]string{
	RoleOwner:      {"upload", "manage:project", "manage:roles"},
	RoleMaintainer: {"upload"},
}

// HasPermission checks if the role grants a specific permission
func (r *Role) HasPermission(permission string) bool {
	for _, p := range rolePermissions[r.Name] {
		if p == permission {
			return true
		}
	}
	return false
}
