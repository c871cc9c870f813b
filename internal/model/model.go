// Package model defines domain entities used by services and repositories.
package model

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// roleHome is the post-login routing table.
var roleHome = map[Role]string{
	RoleAdmin:    "/admin/dashboard",
	RoleStaff:    "/staff/dashboard",
	RoleCustomer: "/shop",
}

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleHome[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Home returns the landing path for the role, or "/" for an invalid role.
func (r Role) Home() string {
	if p, ok := roleHome[r]; ok {
		return p
	}
	return "/"
}

// Status is the account lifecycle state.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

// Account is a staff/customer account stored on the server.
type Account struct {
	ID           uuid.UUID // PK
	Username     string    // unique, case-sensitive
	PasswordHash string    // PHC argon2id or legacy bcrypt
	Role         Role
	Status       Status
	CreatedAt    time.Time
}

// Principal is the authenticated identity bound to a session.
type Principal struct {
	AccountID uuid.UUID `json:"account_id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
}

// ThrottleState tracks failed logins for one client session.
type ThrottleState struct {
	FailedAttempts  int        `json:"failed_attempts"`
	CooldownSeconds int        `json:"cooldown_seconds"` // duration of the last engaged lockout
	CooldownUntil   *time.Time `json:"cooldown_until,omitempty"`
}

// RecoverySession is the pending password-reset record of one client session.
type RecoverySession struct {
	AccountID    uuid.UUID `json:"account_id"`
	Username     string    `json:"username"`
	OTPCode      int       `json:"otp_code"`
	OTPExpiresAt time.Time `json:"otp_expires_at"`
	OTPVerified  bool      `json:"otp_verified"`
	Mismatches   int       `json:"mismatches"`
}

// SessionState is the per-client transient authentication state.
// It is loaded before and saved after every request by the transport layer.
type SessionState struct {
	Throttle  *ThrottleState   `json:"throttle,omitempty"`
	Recovery  *RecoverySession `json:"recovery,omitempty"`
	Principal *Principal       `json:"principal,omitempty"`
}

// Tokens collects issued access tokens.
type Tokens struct {
	AccessToken string
	ExpiresAt   time.Time // access token expiry (for diagnostics)
}
