package models

import "slices"

// Permission is a fine-grained capability granted to supervisors.
type Permission string

const (
	PermManageUsers       Permission = "manage_users"
	PermViewDashboard     Permission = "view_dashboard"
	PermManageDatabase    Permission = "manage_database"
	PermManageSpecialties Permission = "manage_specialties"
	PermViewReports       Permission = "view_reports"
)

// AllPermissions lists every known capability.
var AllPermissions = []Permission{
	PermManageUsers,
	PermViewDashboard,
	PermManageDatabase,
	PermManageSpecialties,
	PermViewReports,
}

var rolePermissions = map[Role][]Permission{
	RoleDoctor:  {PermViewDashboard, PermViewReports, PermManageUsers},
	RolePatient: {PermViewDashboard},
}

// Can reports whether the account holds p. Admins hold everything, supervisors
// only what was granted to them explicitly.
func (u *UserAccount) Can(p Permission) bool {
	switch u.Role {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return slices.Contains(u.Permissions, p)
	default:
		return slices.Contains(rolePermissions[u.Role], p)
	}
}

// ParsePermissions drops unknown names and duplicates.
func ParsePermissions(names []string) []Permission {
	var out []Permission
	for _, n := range names {
		p := Permission(n)
		if slices.Contains(AllPermissions, p) && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

// PermissionNames converts permissions back to plain strings.
func PermissionNames(ps []Permission) []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, string(p))
	}
	return out
}
