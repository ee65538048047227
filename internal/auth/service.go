package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"authgate.org/internal/ids"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "authgate"

	tokenTypeAccess = "access"
)

// Service issues, validates, rotates, and revokes token pairs. Access
// tokens are stateless HS256 JWTs; refresh tokens are persisted rows
// carrying a hash of the presented secret.
type Service struct {
	store       Store
	credentials *Credentials
	now         func() time.Time

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// Claims are the verified contents of an access token.
type Claims struct {
	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles"`
	TokenType   string   `json:"token_type"`
	jwt.RegisteredClaims
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSigningSecret sets the HS256 signing secret. Deployments must
// override any default; an empty secret is a construction error.
func WithSigningSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: signing secret is required")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service over a store and credential layer.
func NewService(store Store, credentials *Credentials, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:       store,
		credentials: credentials,
		now:         time.Now,
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: signing secret is required")
	}
	return svc, nil
}

// Login authenticates credentials and mints a fresh token pair.
func (s *Service) Login(ctx context.Context, identifier, password string) (TokenPair, *User, error) {
	user, err := s.credentials.Authenticate(ctx, identifier, password)
	if err != nil {
		return TokenPair{}, nil, err
	}
	pair, err := s.mintTokens(ctx, user)
	if err != nil {
		return TokenPair{}, nil, err
	}
	return pair, user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// brand-new pair is issued. At most one refresh per token value ever
// succeeds; replays observe ErrTokenRevoked, which callers should treat
// as a theft signal worth auditing.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, *User, error) {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return TokenPair{}, nil, ErrInvalidToken
	}

	tokens := s.store.RefreshTokens()
	record, err := tokens.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrTokenNotFound
		}
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if record.Revoked {
		return TokenPair{}, nil, ErrTokenRevoked
	}
	if s.expired(record.ExpiresAt) {
		return TokenPair{}, nil, ErrTokenExpired
	}
	if !secureCompareHash(record.TokenHash, secret) {
		// A forged secret against a live token id: burn the row.
		_ = tokens.MarkRevoked(ctx, record.ID)
		return TokenPair{}, nil, ErrInvalidToken
	}

	// Deliberate re-fetch: roles and status may have changed since the
	// token was issued, and stale claims must not survive rotation.
	user, err := s.store.Users().Find(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, nil, ErrInvalidToken
		}
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if user.Status != UserStatusActive {
		return TokenPair{}, nil, ErrUserInactive
	}

	now := s.now()
	refreshString, next, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	// Revoke-and-replace is one atomic transition; a concurrent rotation
	// of the same token loses with ErrTokenRevoked, never double-issues.
	if err := tokens.Rotate(ctx, record.ID, next); err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			return TokenPair{}, nil, ErrTokenRevoked
		}
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}

	accessToken, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return s.pair(accessToken, refreshString, accessExp, next.ExpiresAt), user, nil
}

// Logout revokes a single refresh token.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	tokenID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	tokens := s.store.RefreshTokens()
	record, err := tokens.Find(ctx, tokenID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTokenNotFound
		}
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if !secureCompareHash(record.TokenHash, secret) {
		return ErrInvalidToken
	}
	if err := tokens.MarkRevoked(ctx, record.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return nil
}

// LogoutAll revokes every active refresh token held by the user.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.RefreshTokens().MarkRevokedByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return n, nil
}

// ValidateAccessToken verifies signature and expiry only; access tokens
// are never looked up in storage. Revocation applies to refresh tokens
// alone, access tokens simply expire.
func (s *Service) ValidateAccessToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.TokenType != tokenTypeAccess {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	// Inclusive boundary: a token whose expiry equals now is expired.
	if claims.ExpiresAt != nil && !s.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

// CleanupExpiredTokens removes refresh token rows that are past expiry or
// revoked. Reclaims storage only; it never touches rows a client could
// still legitimately present.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.store.RefreshTokens().DeleteDead(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return n, nil
}

// CreateUser provisions a new identity record with hashed credentials.
func (s *Service) CreateUser(ctx context.Context, username, email, displayName, password string, roles []string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	if len(password) < s.credentials.minPassword {
		return nil, fmt.Errorf("%w: minimum length is %d", ErrPasswordTooShort, s.credentials.minPassword)
	}
	hash, err := HashPassword(password, s.credentials.hashCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Username:     username,
		Email:        strings.TrimSpace(strings.ToLower(email)),
		PasswordHash: hash,
		DisplayName:  strings.TrimSpace(displayName),
		Roles:        dedupeStrings(roles),
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users().Create(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return user, nil
}

// BootstrapAdmin provisions the default administrative account when it
// does not exist yet. Returns true when the account was created.
func (s *Service) BootstrapAdmin(ctx context.Context, password string) (bool, error) {
	_, err := s.store.Users().FindByUsername(ctx, "admin")
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if _, err := s.CreateUser(ctx, "admin", "", "Administrator", password, []string{"admin"}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) mintTokens(ctx context.Context, user *User) (TokenPair, error) {
	now := s.now()
	accessToken, accessExp, err := s.signAccessToken(user, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	refreshString, record, err := s.generateRefreshToken(user.ID, now)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrOperationFailed, err)
	}
	return s.pair(accessToken, refreshString, accessExp, record.ExpiresAt), nil
}

func (s *Service) pair(access, refresh string, accessExp, refreshExp time.Time) TokenPair {
	return TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "Bearer",
		ExpiresIn:        int64(s.accessTTL.Seconds()),
		AccessExpiresAt:  accessExp.UTC(),
		RefreshExpiresAt: refreshExp.UTC(),
	}
}

func (s *Service) signAccessToken(user *User, now time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Username:    user.Username,
		Email:       user.Email,
		DisplayName: user.DisplayName,
		Roles:       dedupeStrings(user.Roles),
		TokenType:   tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// generateRefreshToken builds a `<id>.<secret>` refresh string and the row
// persisting its SHA-256 hash. The plaintext secret exists only in the
// value returned to the client.
func (s *Service) generateRefreshToken(userID string, now time.Time) (string, *RefreshToken, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, err
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)
	sum := sha256.Sum256([]byte(secret))
	record := &RefreshToken{
		ID:        ids.New(),
		UserID:    userID,
		TokenHash: hex.EncodeToString(sum[:]),
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now.UTC(),
	}
	return record.ID + "." + secret, record, nil
}

// expired applies the inclusive boundary: now >= expiry means expired.
func (s *Service) expired(expiresAt time.Time) bool {
	return !s.now().Before(expiresAt)
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
