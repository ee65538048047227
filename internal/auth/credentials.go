package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Credentials authenticates identifier+password pairs against persisted
// bcrypt hashes and manages password updates. It knows nothing about
// tokens or permissions.
type Credentials struct {
	store       Store
	hashCost    int
	minPassword int
	now         func() time.Time
}

// CredentialsOption configures Credentials.
type CredentialsOption func(*Credentials)

// WithHashCost sets the bcrypt work factor (clamped to 10..14).
func WithHashCost(cost int) CredentialsOption {
	return func(c *Credentials) {
		if cost > 0 {
			c.hashCost = clampCost(cost)
		}
	}
}

// WithMinPasswordLength sets the minimum accepted password length.
func WithMinPasswordLength(n int) CredentialsOption {
	return func(c *Credentials) {
		if n > 0 {
			c.minPassword = n
		}
	}
}

// WithCredentialsClock overrides the time source (tests).
func WithCredentialsClock(fn func() time.Time) CredentialsOption {
	return func(c *Credentials) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCredentials constructs the credential layer over a store.
func NewCredentials(store Store, opts ...CredentialsOption) *Credentials {
	c := &Credentials{
		store:       store,
		hashCost:    DefaultHashCost,
		minPassword: DefaultMinPasswordLength,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate verifies an identifier (username or email) and password.
// Unknown identifiers and wrong passwords both fail with
// ErrInvalidCredentials; a non-active user fails with ErrUserInactive only
// after the password checked out. The last-login timestamp update is
// best-effort and never blocks a successful login.
func (c *Credentials) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := c.lookup(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if user.Status != UserStatusActive {
		return nil, ErrUserInactive
	}

	now := c.now().UTC()
	if err := c.store.Users().TouchLastLogin(ctx, user.ID, now); err == nil {
		user.LastLoginAt = &now
	}
	return user, nil
}

func (c *Credentials) lookup(ctx context.Context, identifier string) (*User, error) {
	users := c.store.Users()
	if strings.Contains(identifier, "@") {
		user, err := users.FindByEmail(ctx, strings.ToLower(identifier))
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return users.FindByUsername(ctx, identifier)
}

// UpdatePassword validates and re-hashes a new password for the user.
func (c *Credentials) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	if len(newPassword) < c.minPassword {
		return fmt.Errorf("%w: minimum length is %d", ErrPasswordTooShort, c.minPassword)
	}
	hash, err := HashPassword(newPassword, c.hashCost)
	if err != nil {
		return err
	}
	if err := c.store.Users().UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return nil
}

// VerifyPassword checks a plaintext password against the user's stored
// hash. Any failure collapses into the single generic credentials error.
func (c *Credentials) VerifyPassword(ctx context.Context, userID, password string) error {
	user, err := c.store.Users().Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
