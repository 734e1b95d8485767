package models

import (
	"strings"
	"time"
)

// Role is the coarse access level of an account.
type Role string

const (
	RoleAdmin      Role = "Admin"
	RoleDoctor     Role = "Doctor"
	RoleSupervisor Role = "Supervisor"
	RolePatient    Role = "Patient"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDoctor, RoleSupervisor, RolePatient:
		return true
	}
	return false
}

// ParseRole accepts any letter case.
func ParseRole(s string) (Role, bool) {
	for _, r := range []Role{RoleAdmin, RoleDoctor, RoleSupervisor, RolePatient} {
		if strings.EqualFold(string(r), strings.TrimSpace(s)) {
			return r, true
		}
	}
	return "", false
}

// Status marks an account as usable or soft-disabled.
type Status string

const (
	StatusActive   Status = "Active"
	StatusInactive Status = "Inactive"
)

// UserAccount is a profile stored in the users collection and the remote
// profiles table.
//
// PasswordHash holds a bcrypt hash, never the raw secret. AssignedDoctorID is
// only read for patients and Permissions only for supervisors.
type UserAccount struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	Email            string       `json:"email"`
	PhoneNumber      string       `json:"phoneNumber,omitempty"`
	PasswordHash     string       `json:"password,omitempty"`
	Role             Role         `json:"role"`
	Status           Status       `json:"status"`
	LastLoginAt      time.Time    `json:"lastLoginAt"`
	AssignedDoctorID string       `json:"assignedDoctorId,omitempty"`
	Permissions      []Permission `json:"permissions,omitempty"`
	CreatedAt        time.Time    `json:"createdAt"`
}

func (u *UserAccount) IsActive() bool { return u.Status == StatusActive }

// CanTreat reports whether the account may be assigned patients.
func (u *UserAccount) CanTreat() bool {
	return u.Role == RoleDoctor || u.Role == RoleAdmin
}

// Public returns a copy without the password hash.
func (u UserAccount) Public() UserAccount {
	u.PasswordHash = ""
	u.Permissions = append([]Permission(nil), u.Permissions...)
	return u
}

// NormalizeEmail is the form used for uniqueness checks and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
