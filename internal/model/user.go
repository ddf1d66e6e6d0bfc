// Package model defines the data structures used throughout the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// AccountStatus is the moderation state of an identity. Only Active accounts
// may log in or hold a session.
type AccountStatus string

const (
	StatusActive    AccountStatus = "active"
	StatusSuspended AccountStatus = "suspended"
	StatusBanned    AccountStatus = "banned"
)

// ParseAccountStatus converts a stored or user-supplied value into an
// AccountStatus. Matching is case-insensitive.
func ParseAccountStatus(s string) (AccountStatus, error) {
	switch AccountStatus(strings.ToLower(strings.TrimSpace(s))) {
	case StatusActive:
		return StatusActive, nil
	case StatusSuspended:
		return StatusSuspended, nil
	case StatusBanned:
		return StatusBanned, nil
	default:
		return "", fmt.Errorf("model: unknown account status %q", s)
	}
}

func (s AccountStatus) String() string { return string(s) }

// User is the stored identity record.
//
// PasswordHash never leaves the server: it is tagged json:"-" and handlers
// respond with PublicUser instead of User.
//
// SessionVersion counts password changes. Every token carries the version it
// was issued under, and the session resolver rejects tokens whose version no
// longer matches, so bumping it ends every older session at once.
type User struct {
	ID              string        `json:"id"              db:"id"`
	Email           string        `json:"email"           db:"email"`    // lower-cased at creation
	Username        string        `json:"username"        db:"username"` // case preserved, compared exactly
	PasswordHash    string        `json:"-"               db:"password_hash"`
	EmailVerifiedAt *time.Time    `json:"emailVerifiedAt" db:"email_verified_at"`
	Status          AccountStatus `json:"status"          db:"account_status"`
	SessionVersion  int           `json:"-"               db:"session_version"`
	CreatedAt       time.Time     `json:"createdAt"       db:"created_at"`
	UpdatedAt       time.Time     `json:"updatedAt"       db:"updated_at"`
	DeletedAt       *time.Time    `json:"-"               db:"deleted_at"`
}

// IsUsable reports whether the identity may authenticate: status Active and
// not soft-deleted.
func (u *User) IsUsable() bool {
	return u.Status == StatusActive && u.DeletedAt == nil
}

func (u *User) IsEmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// PublicUser is the only shape of a User ever serialised to a client.
type PublicUser struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Username      string `json:"username"`
	EmailVerified bool   `json:"email_verified"`
}

func (u *User) Public() PublicUser {
	return PublicUser{
		ID:            u.ID,
		Email:         u.Email,
		Username:      u.Username,
		EmailVerified: u.IsEmailVerified(),
	}
}
