package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// Bcrypt cost is clamped to this range. Below 10 is too cheap to
	// matter, above 14 stalls login for seconds on commodity hardware.
	MinHashCost = 10
	MaxHashCost = 14

	DefaultHashCost          = 12
	DefaultMinPasswordLength = 8
)

// clampCost bounds the configured bcrypt work factor.
func clampCost(cost int) int {
	if cost < MinHashCost {
		return MinHashCost
	}
	if cost > MaxHashCost {
		return MaxHashCost
	}
	return cost
}

// HashPassword hashes a plaintext password with bcrypt at the given cost.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("%w: password is empty", ErrInvalidInput)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), clampCost(cost))
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword compares a plaintext password with a stored hash.
// bcrypt's comparison is constant-time over the digest.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
