package auth

import (
	"context"
	"time"
)

// UserStore is the credential-store capability the session manager consumes.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	// FindActiveByEmail returns ErrNotFound for unknown or deactivated
	// accounts alike.
	FindActiveByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]*User, error)
	UpdateRole(ctx context.Context, userID string, role Role) error
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	Deactivate(ctx context.Context, userID string) error
	RecordLogin(ctx context.Context, userID string, at time.Time) error
}

// RefreshTokenStore manages refresh-token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Consume atomically marks the token rotated. Returns ErrAlreadyConsumed
	// if another request rotated it first; that is the replay signal.
	Consume(ctx context.Context, id string, at time.Time) error
	Revoke(ctx context.Context, id string) error
	RevokeFamily(ctx context.Context, familyID string) error
}

// DenyList is a TTL-bounded set of revoked token and family identifiers,
// checked at verification time. Entries expire with the token they block so
// the set never grows unbounded.
type DenyList interface {
	Revoke(ctx context.Context, id string, ttl time.Duration) error
	IsRevoked(ctx context.Context, id string) (bool, error)
}

// APIKeyStore persists machine credentials, addressable by id and by the
// SHA-256 of the secret.
type APIKeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	FindByHash(ctx context.Context, hash string) (*APIKey, error)
	Delete(ctx context.Context, id string) error
}
