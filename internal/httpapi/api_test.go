package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"authgate.org/internal/auth"
)

// fakeStore is an in-memory auth.Store for handler tests.
type fakeStore struct {
	mu     sync.Mutex
	users  map[string]*auth.User
	tokens map[string]*auth.RefreshToken
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]*auth.User),
		tokens: make(map[string]*auth.RefreshToken),
	}
}

func (f *fakeStore) Users() auth.UserStore                 { return (*fakeUsers)(f) }
func (f *fakeStore) RefreshTokens() auth.RefreshTokenStore { return (*fakeTokens)(f) }

type fakeUsers fakeStore

func (f *fakeUsers) Create(_ context.Context, u *auth.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Username == u.Username {
			return auth.ErrInvalidInput
		}
	}
	clone := *u
	f.users[u.ID] = &clone
	return nil
}

func (f *fakeUsers) Find(_ context.Context, id string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *u
	return &clone, nil
}

func (f *fakeUsers) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Username == username {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Email != "" && u.Email == email {
			clone := *u
			return &clone, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (f *fakeUsers) UpdatePassword(_ context.Context, userID, passwordHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.PasswordHash = passwordHash
	return nil
}

func (f *fakeUsers) UpdateRoles(_ context.Context, userID string, roles []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Roles = append([]string(nil), roles...)
	return nil
}

func (f *fakeUsers) UpdateStatus(_ context.Context, userID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.Status = status
	return nil
}

func (f *fakeUsers) TouchLastLogin(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[userID]
	if !ok {
		return auth.ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

type fakeTokens fakeStore

func (f *fakeTokens) Create(_ context.Context, tok *auth.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *tok
	f.tokens[tok.ID] = &clone
	return nil
}

func (f *fakeTokens) Find(_ context.Context, id string) (*auth.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	clone := *tok
	return &clone, nil
}

func (f *fakeTokens) Rotate(_ context.Context, oldID string, next *auth.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	old, ok := f.tokens[oldID]
	if !ok || old.Revoked {
		return auth.ErrTokenRevoked
	}
	old.Revoked = true
	clone := *next
	f.tokens[next.ID] = &clone
	return nil
}

func (f *fakeTokens) MarkRevoked(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.tokens[id]
	if !ok {
		return auth.ErrNotFound
	}
	tok.Revoked = true
	return nil
}

func (f *fakeTokens) MarkRevokedByUser(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, tok := range f.tokens {
		if tok.UserID == userID && !tok.Revoked {
			tok.Revoked = true
			n++
		}
	}
	return n, nil
}

func (f *fakeTokens) DeleteDead(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, tok := range f.tokens {
		if tok.Revoked || !cutoff.Before(tok.ExpiresAt) {
			delete(f.tokens, id)
			n++
		}
	}
	return n, nil
}

// testAPI builds a full API with two seeded accounts.
type testAPI struct {
	api     *API
	handler http.Handler
	store   *fakeStore
	tokens  *auth.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := newFakeStore()
	credentials := auth.NewCredentials(store, auth.WithHashCost(auth.MinHashCost))
	tokens, err := auth.NewService(store, credentials,
		auth.WithSigningSecret("handler-test-secret"),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	registry, err := auth.NewRegistry(auth.BuiltinResources, nil, auth.BuiltinRoles, nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	api := New(ReadyProbe{}, "test", tokens, credentials, registry, auth.NewEvaluator(registry))

	ctx := context.Background()
	if _, err := tokens.CreateUser(ctx, "root", "root@example.test", "Root", "rootpass123", []string{"admin"}); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	if _, err := tokens.CreateUser(ctx, "alice", "alice@example.test", "Alice", "alicepass123", []string{"user"}); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	return &testAPI{api: api, handler: api.Handler(), store: store, tokens: tokens}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

// login runs the full HTTP login flow and returns the decoded pair.
func (ta *testAPI) login(t *testing.T, identifier, password string) tokenPairResponse {
	t.Helper()
	rec := ta.do(t, http.MethodPost, "/v1/auth/login", "", loginRequest{
		Identifier: identifier,
		Password:   password,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: status %d, body %s", identifier, rec.Code, rec.Body.String())
	}
	var pair tokenPairResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &pair); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return pair
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %s: %v", rec.Body.String(), err)
	}
	return v
}
