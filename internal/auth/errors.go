package auth

import "errors"

// Credential / user errors.
var (
	// ErrInvalidCredentials covers both unknown identifier and wrong
	// password, so login failures never reveal which half was wrong.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrUserInactive       = errors.New("auth: user inactive")
	ErrPasswordTooShort   = errors.New("auth: password too short")
	ErrInvalidInput       = errors.New("auth: invalid input")
)

// Registry errors.
var (
	ErrRoleExists        = errors.New("auth: role already exists")
	ErrRoleNotFound      = errors.New("auth: role not found")
	ErrResourceNotFound  = errors.New("auth: resource not found")
	ErrDuplicateResource = errors.New("auth: duplicate resource")
)

// Token errors.
var (
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrTokenExpired  = errors.New("auth: token expired")
	ErrTokenRevoked  = errors.New("auth: token revoked")
	ErrTokenNotFound = errors.New("auth: token not found")

	// ErrOperationFailed shields callers from raw storage/infrastructure
	// errors. The underlying cause is wrapped for logs, never for clients.
	ErrOperationFailed = errors.New("auth: operation failed")
)

// ErrNotFound is the storage-boundary sentinel. Public operations translate
// it into the credential or token error a caller is allowed to see.
var ErrNotFound = errors.New("auth: not found")
