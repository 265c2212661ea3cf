package access

import (
	"fmt"
	"time"
)

// Role is a closed enumeration of application roles. The zero value is
// RoleStaff, the least privileged role.
type Role uint8

const (
	RoleStaff Role = iota
	RoleSupervisor
	RoleManager
	RoleDirector
	RoleAdmin
	RoleSuperAdmin
)

// roleNames maps each role to its persisted representation.
var roleNames = map[Role]string{
	RoleStaff:      "staff",
	RoleSupervisor: "supervisor",
	RoleManager:    "manager",
	RoleDirector:   "director",
	RoleAdmin:      "admin",
	RoleSuperAdmin: "super_admin",
}

// String returns the persisted name of the role.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return "staff"
}

// ParseRole converts a stored role name into a Role. Unknown names are
// rejected so that invalid states never enter the domain.
func ParseRole(name string) (Role, error) {
	for role, n := range roleNames {
		if n == name {
			return role, nil
		}
	}
	return RoleStaff, fmt.Errorf("access: unknown role %q", name)
}

// AtLeast reports whether the role ranks at or above min in the role order.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// RoleAssignment ties a principal to a role, optionally scoped to a department.
type RoleAssignment struct {
	ID           string
	PrincipalID  string
	Role         Role
	DepartmentID string
}

// DepartmentGrant gives a principal visibility into a department without
// implying role elevation.
type DepartmentGrant struct {
	PrincipalID  string
	DepartmentID string
	GrantedBy    string
}

// Profile carries the display attributes stored alongside a principal.
type Profile struct {
	ID           string
	Email        string
	FullName     string
	AvatarURL    string
	DepartmentID string
	Phone        string
}

// Snapshot is the cached result of resolving a principal's entitlements.
type Snapshot struct {
	PrincipalID   string
	Roles         []RoleAssignment
	Grants        []DepartmentGrant
	Profile       *Profile
	EffectiveRole Role
	FetchedAt     time.Time
}

// EffectiveRole returns the highest-order role among the assignments.
// A principal without assignments holds RoleStaff.
func EffectiveRole(assignments []RoleAssignment) Role {
	for role := RoleSuperAdmin; role > RoleStaff; role-- {
		for _, a := range assignments {
			if a.Role == role {
				return role
			}
		}
	}
	return RoleStaff
}

// HasRole reports whether the snapshot holds the exact role.
func (s *Snapshot) HasRole(role Role) bool {
	for _, a := range s.Roles {
		if a.Role == role {
			return true
		}
	}
	return false
}

// HasMinRole reports whether the effective role ranks at or above min.
func (s *Snapshot) HasMinRole(min Role) bool {
	return s.EffectiveRole.AtLeast(min)
}

// PrimaryDepartment returns the department of the highest-priority role
// assignment, or empty when none carries a department.
func (s *Snapshot) PrimaryDepartment() string {
	var best RoleAssignment
	found := false
	for _, a := range s.Roles {
		if a.DepartmentID == "" {
			continue
		}
		if !found || a.Role > best.Role {
			best = a
			found = true
		}
	}
	if !found {
		return ""
	}
	return best.DepartmentID
}

// AccessibleDepartments returns the primary department plus every granted
// department. Callers must consult CanAccessDepartment for directors and
// super admins, who see all departments implicitly.
func (s *Snapshot) AccessibleDepartments() []string {
	seen := make(map[string]struct{})
	var out []string
	if dep := s.PrimaryDepartment(); dep != "" {
		seen[dep] = struct{}{}
		out = append(out, dep)
	}
	for _, g := range s.Grants {
		if _, ok := seen[g.DepartmentID]; ok {
			continue
		}
		seen[g.DepartmentID] = struct{}{}
		out = append(out, g.DepartmentID)
	}
	return out
}

// CanAccessDepartment reports whether the principal may see the department.
func (s *Snapshot) CanAccessDepartment(departmentID string) bool {
	if s.EffectiveRole == RoleDirector || s.EffectiveRole == RoleSuperAdmin {
		return true
	}
	for _, a := range s.Roles {
		if a.DepartmentID == departmentID {
			return true
		}
	}
	for _, g := range s.Grants {
		if g.DepartmentID == departmentID {
			return true
		}
	}
	return false
}
