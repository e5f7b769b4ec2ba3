package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	uuid "github.com/google/uuid"

	"github.com/AdithyaSrivastava01/Somnium/internal/core/domain"
	"github.com/AdithyaSrivastava01/Somnium/internal/core/port"
	"github.com/AdithyaSrivastava01/Somnium/internal/infra/security"
	"github.com/AdithyaSrivastava01/Somnium/internal/repository"
)

// memStore is an in-memory users + refresh_tokens store. memTransactor
// snapshots it so a failed unit of work leaves no trace. Its methods assume mu
// is held; lockedUsers and lockedTokens take it for calls made outside a
// transaction.
type memStore struct {
	mu     sync.Mutex
	users  map[string]domain.User
	tokens map[string]domain.RefreshToken

	failRevokeAll error
}

func newMemStore() *memStore {
	return &memStore{
		users:  make(map[string]domain.User),
		tokens: make(map[string]domain.RefreshToken),
	}
}

func (m *memStore) snapshot() (map[string]domain.User, map[string]domain.RefreshToken) {
	users := make(map[string]domain.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	tokens := make(map[string]domain.RefreshToken, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = v
	}
	return users, tokens
}

func (m *memStore) Create(_ context.Context, user domain.User) error {
	for _, existing := range m.users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &user, nil
}

func (m *memStore) GetActiveByEmail(_ context.Context, email string) (*domain.User, error) {
	for _, user := range m.users {
		if user.Email == email && user.IsActive {
			u := user
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return m.GetByID(ctx, id)
}

func (m *memStore) EmailExists(_ context.Context, email string) (bool, error) {
	for _, user := range m.users {
		if user.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) UpdateLockout(_ context.Context, id string, state domain.LockoutState) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.ApplyLockout(state)
	m.users[id] = user
	return nil
}

func (m *memStore) RecordLogin(_ context.Context, id string, at time.Time, ip *string) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	value := ""
	if ip != nil {
		value = *ip
	}
	user.RecordLogin(at, value)
	m.users[id] = user
	return nil
}

func (m *memStore) UpgradePasswordHash(_ context.Context, id string, passwordHash string) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	m.users[id] = user
	return nil
}

func (m *memStore) UpdatePassword(_ context.Context, id string, passwordHash string, changedAt time.Time) error {
	user, ok := m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = passwordHash
	user.PasswordChangedAt = changedAt
	m.users[id] = user
	return nil
}

type memTokens struct{ *memStore }

func (m memTokens) Create(_ context.Context, token domain.RefreshToken) (string, error) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	m.tokens[token.ID] = token
	return token.ID, nil
}

func (m memTokens) FindActiveByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	for _, token := range m.tokens {
		if token.TokenHash == hash && !token.Revoked {
			t := token
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memTokens) FindByHash(_ context.Context, hash string) (*domain.RefreshToken, error) {
	for _, token := range m.tokens {
		if token.TokenHash == hash {
			t := token
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memTokens) Revoke(_ context.Context, id string, reason string, at time.Time) error {
	token, ok := m.tokens[id]
	if !ok {
		return nil
	}
	revokeToken(&token, at, reason)
	m.tokens[id] = token
	return nil
}

func (m memTokens) RevokeAllForUser(_ context.Context, userID string, reason string, at time.Time) (int, error) {
	if m.failRevokeAll != nil {
		return 0, m.failRevokeAll
	}
	count := 0
	for id, token := range m.tokens {
		if token.UserID == userID && revokeToken(&token, at, reason) {
			m.tokens[id] = token
			count++
		}
	}
	return count, nil
}

func (m memTokens) LinkReplacement(_ context.Context, oldID string, newID string) error {
	token, ok := m.tokens[oldID]
	if !ok {
		return repository.ErrNotFound
	}
	token.ReplacedByID = &newID
	m.tokens[oldID] = token
	return nil
}

func revokeToken(token *domain.RefreshToken, at time.Time, reason string) bool {
	if token.Revoked {
		return false
	}
	token.Revoked = true
	token.RevokedAt = &at
	token.RevokeReason = &reason
	return true
}

type lockedUsers struct{ store *memStore }

func (l lockedUsers) Create(ctx context.Context, user domain.User) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.Create(ctx, user)
}

func (l lockedUsers) GetByID(ctx context.Context, id string) (*domain.User, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.GetByID(ctx, id)
}

func (l lockedUsers) GetActiveByEmail(ctx context.Context, email string) (*domain.User, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.GetActiveByEmail(ctx, email)
}

func (l lockedUsers) GetByIDForUpdate(ctx context.Context, id string) (*domain.User, error) {
	return l.GetByID(ctx, id)
}

func (l lockedUsers) EmailExists(ctx context.Context, email string) (bool, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.EmailExists(ctx, email)
}

func (l lockedUsers) UpdateLockout(ctx context.Context, id string, state domain.LockoutState) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.UpdateLockout(ctx, id, state)
}

func (l lockedUsers) RecordLogin(ctx context.Context, id string, at time.Time, ip *string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.RecordLogin(ctx, id, at, ip)
}

func (l lockedUsers) UpdatePassword(ctx context.Context, id string, passwordHash string, changedAt time.Time) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.UpdatePassword(ctx, id, passwordHash, changedAt)
}

func (l lockedUsers) UpgradePasswordHash(ctx context.Context, id string, passwordHash string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return l.store.UpgradePasswordHash(ctx, id, passwordHash)
}

type lockedTokens struct{ store *memStore }

func (l lockedTokens) Create(ctx context.Context, token domain.RefreshToken) (string, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return memTokens{l.store}.Create(ctx, token)
}

func (l lockedTokens) FindActiveByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return memTokens{l.store}.FindActiveByHash(ctx, hash)
}

func (l lockedTokens) FindByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return memTokens{l.store}.FindByHash(ctx, hash)
}

func (l lockedTokens) Revoke(ctx context.Context, id string, reason string, at time.Time) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return memTokens{l.store}.Revoke(ctx, id, reason, at)
}

func (l lockedTokens) RevokeAllForUser(ctx context.Context, userID string, reason string, at time.Time) (int, error) {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return memTokens{l.store}.RevokeAllForUser(ctx, userID, reason, at)
}

func (l lockedTokens) LinkReplacement(ctx context.Context, oldID string, newID string) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	return memTokens{l.store}.LinkReplacement(ctx, oldID, newID)
}

func (m *memStore) activeTokens(userID string) []domain.RefreshToken {
	var active []domain.RefreshToken
	for _, token := range m.tokens {
		if token.UserID == userID && !token.Revoked {
			active = append(active, token)
		}
	}
	return active
}

type memTransactor struct {
	store   *memStore
	begins  int
	commits int
}

func (t *memTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos port.TxRepositories) error) error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	t.begins++
	users, tokens := t.store.snapshot()
	if err := fn(ctx, port.TxRepositories{Users: t.store, RefreshTokens: memTokens{t.store}}); err != nil {
		t.store.users, t.store.tokens = users, tokens
		return err
	}
	t.commits++
	return nil
}

// plainHasher keeps tests fast; Argon2 is covered in the security package.
type plainHasher struct{}

func (plainHasher) Hash(password string) (string, error) {
	return "plain$" + password, nil
}

func (plainHasher) Verify(password, encoded string) (bool, error) {
	if !strings.HasPrefix(encoded, "plain$") {
		return false, errors.New("unexpected hash format")
	}
	return strings.TrimPrefix(encoded, "plain$") == password, nil
}

type recordingSink struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (s *recordingSink) Record(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) events(eventType string) []domain.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AuditLog
	for _, entry := range s.entries {
		if entry.EventType == eventType {
			out = append(out, entry)
		}
	}
	return out
}

func (s *recordingSink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}

type failingSink struct{}

func (failingSink) Record(context.Context, domain.AuditLog) error {
	return errors.New("audit store unavailable")
}

type countingMetrics struct {
	noopMetrics
	mu            sync.Mutex
	logins        map[string]int
	lockouts      int
	reuse         int
	auditFailures map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{logins: map[string]int{}, auditFailures: map[string]int{}}
}

func (m *countingMetrics) ObserveLogin(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logins[outcome]++
}

func (m *countingMetrics) ObserveLockout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lockouts++
}

func (m *countingMetrics) ObserveTokenReuse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuse++
}

func (m *countingMetrics) ObserveAuditFailure(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.auditFailures[sink]++
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type authFixture struct {
	svc     *AuthService
	store   *memStore
	tx      *memTransactor
	audit   *recordingSink
	metrics *countingMetrics
	clock   *testClock
	codec   *security.JWTCodec
}

const (
	testPassword = "C0rrect!Horse#Battery"
	testEmail    = "nurse@stmary.example"
)

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	clock := &testClock{now: time.Date(2025, 11, 3, 8, 0, 0, 0, time.UTC)}
	codec, err := security.NewHS256Codec("test-secret", "somnium-test")
	if err != nil {
		t.Fatalf("NewHS256Codec: %v", err)
	}
	codec.WithClock(clock.Now)

	store := newMemStore()
	tx := &memTransactor{store: store}
	sink := &recordingSink{}
	metrics := newCountingMetrics()

	audit := NewAuditService(nil, metrics, AuditTarget{Name: "memory", Sink: sink}).WithClock(clock.Now)
	svc, err := NewAuthService(AuthConfig{}, AuthDependencies{
		Users:         lockedUsers{store},
		RefreshTokens: lockedTokens{store},
		Transactor:    tx,
		Hasher:        plainHasher{},
		Codec:         codec,
		Audit:         audit,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("NewAuthService: %v", err)
	}
	svc.WithClock(clock.Now)

	return &authFixture{svc: svc, store: store, tx: tx, audit: sink, metrics: metrics, clock: clock, codec: codec}
}

func (f *authFixture) seedUser(t *testing.T, role domain.Role) domain.User {
	t.Helper()
	user := domain.User{
		ID:                uuid.NewString(),
		Email:             testEmail,
		PasswordHash:      "plain$" + testPassword,
		FullName:          "Florence Nightingale",
		Role:              role,
		IsActive:          true,
		CreatedAt:         f.clock.Now().Add(-24 * time.Hour),
		PasswordChangedAt: f.clock.Now().Add(-24 * time.Hour),
	}
	f.store.users[user.ID] = user
	return user
}

func (f *authFixture) login(t *testing.T, remember bool) *LoginResult {
	t.Helper()
	result, err := f.svc.Login(context.Background(), LoginInput{
		Email:    testEmail,
		Password: testPassword,
		Role:     domain.RoleNurse,
		Remember: remember,
		IP:       "203.0.113.7",
	})
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	return result
}

func requireCode(t *testing.T, err error, code ErrorCode) *AuthError {
	t.Helper()
	authErr, ok := AsAuthError(err)
	if !ok {
		t.Fatalf("expected AuthError %s, got %v", code, err)
	}
	if authErr.Code() != code {
		t.Fatalf("expected code %s, got %s (%v)", code, authErr.Code(), err)
	}
	return authErr
}
