package models

import (
	"slices"
	"strings"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is the stored identity record. PasswordHash is a bcrypt hash and
// MFASecret is sealed; neither is ever logged.
type User struct {
	ID                string
	Email             string
	FullName          string
	PasswordHash      string
	MFASecret         []byte
	MFAEnabled        bool
	Roles             []string
	FailedAttempts    int
	Locked            bool
	LastLogin         *time.Time
	PasswordChangedAt time.Time
	CreatedAt         time.Time

	// Version is bumped by every successful update and guards
	// read-modify-write cycles.
	Version int64
}

// HasRole reports whether the user carries role.
func (u *User) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (u *User) Clone() *User {
	c := *u
	c.MFASecret = slices.Clone(u.MFASecret)
	c.Roles = slices.Clone(u.Roles)
	if u.LastLogin != nil {
		t := *u.LastLogin
		c.LastLogin = &t
	}
	return &c
}

// NormalizeEmail lower-cases and trims an address. Emails are unique in
// their normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// JoinRoles and SplitRoles convert between the role set and its stored
// comma-separated form.
func JoinRoles(roles []string) string {
	return strings.Join(roles, ",")
}

func SplitRoles(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
