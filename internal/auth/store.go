package auth

import (
	"context"
	"time"
)

// Store describes the persistence operations required by the auth core.
// Implementations must enforce uniqueness on username, email and refresh
// token hash; the rotation single-use guarantee leans on those constraints.
type Store interface {
	Users() UserStore
	RefreshTokens() RefreshTokenStore
}

// UserStore manages identity records.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateRoles(ctx context.Context, userID string, roles []string) error
	UpdateStatus(ctx context.Context, userID, status string) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
}

// RefreshTokenStore manages the refresh token lifecycle.
type RefreshTokenStore interface {
	Create(ctx context.Context, tok *RefreshToken) error
	Find(ctx context.Context, id string) (*RefreshToken, error)
	// Rotate atomically revokes the old row and inserts its replacement.
	// At most one of two concurrent rotations of the same token may
	// succeed; the loser must come back with zero rows revoked.
	Rotate(ctx context.Context, oldID string, next *RefreshToken) error
	MarkRevoked(ctx context.Context, id string) error
	MarkRevokedByUser(ctx context.Context, userID string) (int64, error)
	// DeleteDead removes rows that are expired or revoked and older than
	// the cutoff. Safe to run concurrently with traffic: every row it
	// touches is already unusable by the protocol.
	DeleteDead(ctx context.Context, cutoff time.Time) (int64, error)
}
