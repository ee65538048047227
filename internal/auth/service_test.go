package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store used across the package tests.
type memStore struct {
	mu     sync.Mutex
	users  map[string]*User
	tokens map[string]*RefreshToken
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]*User),
		tokens: make(map[string]*RefreshToken),
	}
}

func (m *memStore) Users() UserStore                 { return (*memUsers)(m) }
func (m *memStore) RefreshTokens() RefreshTokenStore { return (*memTokens)(m) }

type memUsers memStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrInvalidInput
		}
	}
	clone := *u
	m.users[u.ID] = &clone
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (m *memUsers) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email != "" && u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUsers) UpdateRoles(_ context.Context, userID string, roles []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Roles = append([]string(nil), roles...)
	return nil
}

func (m *memUsers) UpdateStatus(_ context.Context, userID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	return nil
}

func (m *memUsers) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type memTokens memStore

func (m *memTokens) Create(_ context.Context, tok *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *tok
	m.tokens[tok.ID] = &clone
	return nil
}

func (m *memTokens) Find(_ context.Context, id string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *tok
	return &clone, nil
}

func (m *memTokens) Rotate(_ context.Context, oldID string, next *RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.tokens[oldID]
	if !ok || old.Revoked {
		return ErrTokenRevoked
	}
	old.Revoked = true
	clone := *next
	m.tokens[next.ID] = &clone
	return nil
}

func (m *memTokens) MarkRevoked(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[id]
	if !ok {
		return ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (m *memTokens) MarkRevokedByUser(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, tok := range m.tokens {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

func (m *memTokens) DeleteDead(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, tok := range m.tokens {
		if tok.Revoked || !cutoff.Before(tok.ExpiresAt) {
			delete(m.tokens, id)
			n++
		}
	}
	return n, nil
}

// testService wires a Service over a fresh memStore with a controllable
// clock and a low bcrypt cost.
func testService(t *testing.T, now *time.Time) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	clock := func() time.Time { return *now }
	creds := NewCredentials(store, WithHashCost(MinHashCost), WithCredentialsClock(clock))
	svc, err := NewService(store, creds,
		WithSigningSecret("test-secret-please-rotate"),
		WithIssuer("authgate-test"),
		WithClock(clock),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func seedUser(t *testing.T, svc *Service, username, password string, roles []string) *User {
	t.Helper()
	user, err := svc.CreateUser(context.Background(), username, username+"@example.test", "", password, roles)
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", username, err)
	}
	return user
}

func TestNewServiceRequiresSecret(t *testing.T) {
	store := newMemStore()
	if _, err := NewService(store, NewCredentials(store)); err == nil {
		t.Fatal("expected error without signing secret")
	}
	if _, err := NewService(store, NewCredentials(store), WithSigningSecret("  ")); err == nil {
		t.Fatal("expected error for blank signing secret")
	}
}

func TestLoginIssuesValidPair(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := testService(t, &now)
	seedUser(t, svc, "alice", "hunter2secret", []string{"user"})

	pair, user, err := svc.Login(context.Background(), "alice", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("unexpected user: %s", user.Username)
	}
	if pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token type: %s", pair.TokenType)
	}
	if pair.ExpiresIn != int64(defaultAccessTTL.Seconds()) {
		t.Fatalf("unexpected expires_in: %d", pair.ExpiresIn)
	}

	claims, err := svc.ValidateAccessToken(pair.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if claims.Subject != user.ID {
		t.Fatalf("subject mismatch: %s != %s", claims.Subject, user.ID)
	}
	if claims.Username != "alice" || len(claims.Roles) != 1 || claims.Roles[0] != "user" {
		t.Fatalf("claims not carried: %+v", claims)
	}
	if claims.Issuer != "authgate-test" {
		t.Fatalf("unexpected issuer: %s", claims.Issuer)
	}
}

func TestLoginByEmail(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)
	seedUser(t, svc, "bob", "hunter2secret", nil)

	if _, _, err := svc.Login(context.Background(), "bob@example.test", "hunter2secret"); err != nil {
		t.Fatalf("Login by email: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "bob", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody", "hunter2secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	now := time.Now().UTC()
	svc, store := testService(t, &now)
	user := seedUser(t, svc, "carol", "hunter2secret", nil)

	if err := store.Users().UpdateStatus(context.Background(), user.ID, UserStatusSuspended); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "carol", "hunter2secret"); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
	// Wrong password on a suspended account must not reveal the status.
	if _, _, err := svc.Login(context.Background(), "carol", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := testService(t, &now)
	seedUser(t, svc, "dave", "hunter2secret", []string{"user"})

	pair, _, err := svc.Login(context.Background(), "dave", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	next, _, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}
	if _, err := svc.ValidateAccessToken(next.AccessToken); err != nil {
		t.Fatalf("new access token invalid: %v", err)
	}

	// Replaying the consumed token must fail with the revoked error, not
	// invalid or not-found, so callers can flag potential theft.
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked on replay, got %v", err)
	}
	// The replacement chain keeps working.
	if _, _, err := svc.Refresh(context.Background(), next.RefreshToken); err != nil {
		t.Fatalf("chained refresh: %v", err)
	}
}

func TestRefreshPicksUpRoleChanges(t *testing.T) {
	now := time.Now().UTC()
	svc, store := testService(t, &now)
	user := seedUser(t, svc, "erin", "hunter2secret", []string{"user"})

	pair, _, err := svc.Login(context.Background(), "erin", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := store.Users().UpdateRoles(context.Background(), user.ID, []string{"admin"}); err != nil {
		t.Fatalf("UpdateRoles: %v", err)
	}

	next, _, err := svc.Refresh(context.Background(), pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := svc.ValidateAccessToken(next.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken: %v", err)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "admin" {
		t.Fatalf("stale roles survived rotation: %v", claims.Roles)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := testService(t, &now)
	seedUser(t, svc, "frank", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "frank", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Exactly at expiry counts as expired.
	now = pair.RefreshExpiresAt
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at the boundary, got %v", err)
	}
}

func TestRefreshInactiveUser(t *testing.T) {
	now := time.Now().UTC()
	svc, store := testService(t, &now)
	user := seedUser(t, svc, "grace", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "grace", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := store.Users().UpdateStatus(context.Background(), user.ID, UserStatusInactive); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("expected ErrUserInactive, got %v", err)
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)

	for _, raw := range []string{"", "no-dot", "a.b.c", ".secret", "id."} {
		if _, _, err := svc.Refresh(context.Background(), raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Refresh(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
	if _, _, err := svc.Refresh(context.Background(), "01HUNKNOWN.secret"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}
}

func TestRefreshForgedSecretBurnsToken(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)
	seedUser(t, svc, "heidi", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "heidi", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	id, _, err := splitRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("splitRefreshToken: %v", err)
	}
	if _, _, err := svc.Refresh(context.Background(), id+".forged-secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for forged secret, got %v", err)
	}
	// The real token is gone too after the forgery attempt.
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after burn, got %v", err)
	}
}

func TestValidateAccessToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, _ := testService(t, &now)
	seedUser(t, svc, "ivan", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "ivan", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.ValidateAccessToken(""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty string, got %v", err)
	}
	if _, err := svc.ValidateAccessToken("not.a.jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for garbage, got %v", err)
	}
	// Refresh tokens never parse as access tokens.
	if _, err := svc.ValidateAccessToken(pair.RefreshToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for refresh token, got %v", err)
	}

	// Exactly at expiry counts as expired.
	now = pair.AccessExpiresAt
	if _, err := svc.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired at the boundary, got %v", err)
	}
}

func TestValidateAccessTokenWrongSecret(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)
	seedUser(t, svc, "judy", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "judy", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	store := newMemStore()
	other, err := NewService(store, NewCredentials(store),
		WithSigningSecret("a-different-secret"),
		WithIssuer("authgate-test"),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	if _, err := other.ValidateAccessToken(pair.AccessToken); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken across secrets, got %v", err)
	}
}

func TestLogout(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)
	seedUser(t, svc, "mallory", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "mallory", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(context.Background(), pair.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after logout, got %v", err)
	}
	if err := svc.Logout(context.Background(), "bogus"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLogoutAll(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)
	user := seedUser(t, svc, "nancy", "hunter2secret", nil)

	var pairs []TokenPair
	for i := 0; i < 3; i++ {
		pair, _, err := svc.Login(context.Background(), "nancy", "hunter2secret")
		if err != nil {
			t.Fatalf("Login #%d: %v", i, err)
		}
		pairs = append(pairs, pair)
	}

	n, err := svc.LogoutAll(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("LogoutAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	for _, pair := range pairs {
		if _, _, err := svc.Refresh(context.Background(), pair.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
			t.Fatalf("expected ErrTokenRevoked, got %v", err)
		}
	}
}

func TestCleanupExpiredTokens(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, store := testService(t, &now)
	seedUser(t, svc, "oscar", "hunter2secret", nil)

	live, _, err := svc.Login(context.Background(), "oscar", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	dead, _, err := svc.Login(context.Background(), "oscar", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := svc.Logout(context.Background(), dead.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	n, err := svc.CleanupExpiredTokens(context.Background())
	if err != nil {
		t.Fatalf("CleanupExpiredTokens: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 removed, got %d", n)
	}
	if len(store.tokens) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(store.tokens))
	}
	if _, _, err := svc.Refresh(context.Background(), live.RefreshToken); err != nil {
		t.Fatalf("live token must survive cleanup: %v", err)
	}
}

func TestRefreshTokenHashNeverStored(t *testing.T) {
	now := time.Now().UTC()
	svc, store := testService(t, &now)
	seedUser(t, svc, "peggy", "hunter2secret", nil)

	pair, _, err := svc.Login(context.Background(), "peggy", "hunter2secret")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, secret, err := splitRefreshToken(pair.RefreshToken)
	if err != nil {
		t.Fatalf("splitRefreshToken: %v", err)
	}
	for _, tok := range store.tokens {
		if tok.TokenHash == secret || strings.Contains(tok.TokenHash, secret) {
			t.Fatal("plaintext secret persisted")
		}
	}
}

func TestSensitiveFieldsNotSerialized(t *testing.T) {
	user := User{ID: "u1", Username: "alice", PasswordHash: "bcrypt-material"}
	raw, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	if strings.Contains(string(raw), "bcrypt-material") {
		t.Fatalf("password hash leaked: %s", raw)
	}
	tok := RefreshToken{ID: "t1", TokenHash: "hash-material"}
	raw, err = json.Marshal(tok)
	if err != nil {
		t.Fatalf("marshal token: %v", err)
	}
	if strings.Contains(string(raw), "hash-material") {
		t.Fatalf("token hash leaked: %s", raw)
	}
}

func TestBootstrapAdmin(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)

	created, err := svc.BootstrapAdmin(context.Background(), "bootstrap-pass")
	if err != nil {
		t.Fatalf("BootstrapAdmin: %v", err)
	}
	if !created {
		t.Fatal("expected account to be created")
	}
	created, err = svc.BootstrapAdmin(context.Background(), "bootstrap-pass")
	if err != nil {
		t.Fatalf("BootstrapAdmin (second): %v", err)
	}
	if created {
		t.Fatal("second bootstrap must be a no-op")
	}
	pair, user, err := svc.Login(context.Background(), "admin", "bootstrap-pass")
	if err != nil {
		t.Fatalf("Login as admin: %v", err)
	}
	if len(user.Roles) != 1 || user.Roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", user.Roles)
	}
	if pair.AccessToken == "" {
		t.Fatal("expected access token")
	}
}

func TestCreateUserValidation(t *testing.T) {
	now := time.Now().UTC()
	svc, _ := testService(t, &now)

	if _, err := svc.CreateUser(context.Background(), "", "", "", "hunter2secret", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.CreateUser(context.Background(), "quentin", "", "", "short", nil); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}
	user, err := svc.CreateUser(context.Background(), "quentin", "Q@Example.Test", "Quentin", "hunter2secret", []string{"user", "user", " admin "})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if user.Email != "q@example.test" {
		t.Fatalf("email not normalized: %s", user.Email)
	}
	if len(user.Roles) != 2 {
		t.Fatalf("roles not deduplicated: %v", user.Roles)
	}
}
