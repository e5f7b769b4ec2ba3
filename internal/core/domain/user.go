package domain

import (
	"strings"
	"time"
)

// Role enumerates the clinical roles a user can hold.
type Role string

const (
	RoleNurse          Role = "nurse"
	RolePhysician      Role = "physician"
	RoleAdmin          Role = "admin"
	RoleECMOSpecialist Role = "ecmo_specialist"
	RolePatient        Role = "patient"
)

// Roles returns every supported role in a stable order.
func Roles() []Role {
	return []Role{RoleNurse, RolePhysician, RoleAdmin, RoleECMOSpecialist, RolePatient}
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleNurse, RolePhysician, RoleAdmin, RoleECMOSpecialist, RolePatient:
		return true
	default:
		return false
	}
}

// ParseRole normalises textual input into a Role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", false
	}
	return role, true
}

// User mirrors the persisted representation in the users table.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	FullName            string
	Role                Role
	HospitalID          *string
	Department          *string
	IsActive            bool
	CreatedAt           time.Time
	LastLogin           *time.Time
	LastLoginIP         *string
	FailedLoginAttempts int
	LockedUntil         *time.Time
	PasswordChangedAt   time.Time
}

// Lockout returns the user's current lockout counters.
func (u User) Lockout() LockoutState {
	state := LockoutState{FailedAttempts: u.FailedLoginAttempts}
	if u.LockedUntil != nil {
		until := *u.LockedUntil
		state.LockedUntil = &until
	}
	return state
}

// ApplyLockout copies the lockout counters onto the user.
func (u *User) ApplyLockout(state LockoutState) {
	u.FailedLoginAttempts = state.FailedAttempts
	u.LockedUntil = nil
	if state.LockedUntil != nil {
		until := *state.LockedUntil
		u.LockedUntil = &until
	}
}

// RecordLogin stamps a successful login.
func (u *User) RecordLogin(at time.Time, ip string) {
	timeCopy := at
	u.LastLogin = &timeCopy
	ip = strings.TrimSpace(ip)
	if ip == "" {
		u.LastLoginIP = nil
		return
	}
	u.LastLoginIP = &ip
}

// Sanitized returns a copy without credential material.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	return u
}

// NormalizeEmail lower-cases and trims an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
