package auth

import (
	"strings"
	"time"
)

// Role is the closed set of roles known to the service.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleAnalyst Role = "analyst"
	RoleViewer  Role = "viewer"
)

// ParseRole normalizes and validates a role string.
func ParseRole(raw string) (Role, bool) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleAnalyst:
		return RoleAnalyst, true
	case RoleViewer:
		return RoleViewer, true
	}
	return "", false
}

// User is an operator account. Accounts are never hard-deleted; deactivation
// clears Active.
type User struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	Role         Role       `json:"role"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	LoginCount   int        `json:"login_count"`
}

// RefreshToken is the persisted half of an issued refresh credential. The
// client holds "id.secret"; only SHA-256(secret) is stored.
type RefreshToken struct {
	ID         string
	UserID     string
	FamilyID   string
	TokenHash  string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	ConsumedAt *time.Time
	Revoked    bool
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// APIKey is a machine credential. The plaintext key ("fnk_" + secret) is
// shown once at issuance; only SHA-256(secret) is stored.
type APIKey struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Role      Role      `json:"role"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CallerContext is the resolved identity threaded through the request
// pipeline. Business handlers receive it and never inspect tokens directly.
type CallerContext struct {
	UserID   string
	Identity string
	Role     Role
	TokenID  string
	FamilyID string
	// Method is "token" for JWT bearers and "apikey" for machine clients.
	Method string
	// ExpiresAt is the credential's expiry, used to size deny-list TTLs.
	ExpiresAt time.Time
}
