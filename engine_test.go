package authcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testUser struct {
	id     string
	secret string
	scope  []string
}

type memoryUsers struct {
	mu       sync.Mutex
	users    map[string]testUser
	banned   map[string]bool
	stateErr error
	verifies atomic.Int64
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{
		users: map[string]testUser{
			"alice": {id: "u-alice", secret: "correct horse", scope: []string{"read", "write"}},
			"bob":   {id: "u-bob", secret: "hunter2", scope: []string{"read"}},
		},
		banned: map[string]bool{},
	}
}

func (m *memoryUsers) VerifyCredential(_ context.Context, identifier, secret string) (Principal, error) {
	m.verifies.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[strings.ToLower(identifier)]
	if !ok || u.secret != secret {
		return Principal{}, ErrInvalidCredentials
	}
	return Principal{UserID: u.id, Scope: u.scope}, nil
}

func (m *memoryUsers) IsUserBanned(_ context.Context, _, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return false, m.stateErr
	}
	return m.banned[userID], nil
}

func (m *memoryUsers) setBanned(userID string, banned bool) {
	m.mu.Lock()
	m.banned[userID] = banned
	m.mu.Unlock()
}

type testEnv struct {
	engine *Engine
	mr     *miniredis.Miniredis
	rdb    *redis.Client
	users  *memoryUsers
	clock  *testClock
}

// advance moves both the engine clock and Redis TTLs forward.
func (env *testEnv) advance(d time.Duration) {
	env.clock.Advance(d)
	env.mr.FastForward(d)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.SigningMethod = "hs256"
	cfg.Token.AccessPrivateKey = []byte(strings.Repeat("A", 32))
	cfg.Token.RefreshPrivateKey = []byte(strings.Repeat("R", 32))
	cfg.Metrics.Enabled = true
	return cfg
}

func newTestEnv(t testing.TB, mutate func(*Config), extra ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	users := newMemoryUsers()
	clock := newTestClock()

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialVerifier(users).
		WithUserStateProvider(users).
		withClock(clock.Now)
	for _, fn := range extra {
		fn(b)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEnv{engine: engine, mr: mr, rdb: rdb, users: users, clock: clock}
}

func mustLogin(t testing.TB, env *testEnv, ctx context.Context, identifier, secret string) *TokenPair {
	t.Helper()
	pair, err := env.engine.Login(ctx, identifier, secret)
	if err != nil {
		t.Fatalf("Login(%s) failed: %v", identifier, err)
	}
	return pair
}

func TestLoginAuthorizeRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair := mustLogin(t, env, ctx, "alice", "correct horse")
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.SessionScope == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if want := env.clock.Now().Add(15 * time.Minute); !pair.AccessExpiresAt.Equal(want) {
		t.Fatalf("access expiry = %v, want %v", pair.AccessExpiresAt, want)
	}
	if pair.CSRFToken != "" {
		t.Fatal("csrf token issued while disabled")
	}

	res, err := env.engine.Authorize(ctx, pair.AccessToken)
	if err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	if res.UserID != "u-alice" || res.TenantID != "0" || res.SessionScope != pair.SessionScope {
		t.Fatalf("unexpected auth result %+v", res)
	}
	if !res.HasScope("read", "write") || res.HasScope("admin") {
		t.Fatalf("unexpected scope %v", res.Scope)
	}

	// a refresh token is never an access token
	if _, err := env.engine.Authorize(ctx, pair.RefreshToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for refresh token, got %v", err)
	}
}

func TestLoginInvalidCredentialsIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, errUnknown := env.engine.Login(ctx, "mallory", "whatever")
	_, errWrong := env.engine.Login(ctx, "alice", "wrong")
	if errUnknown != ErrInvalidCredentials || errWrong != ErrInvalidCredentials {
		t.Fatalf("expected identical ErrInvalidCredentials, got %v / %v", errUnknown, errWrong)
	}
}

func TestLoginWithDeviceScopeReplacesSession(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := WithDeviceScope(context.Background(), "laptop")

	first := mustLogin(t, env, ctx, "alice", "correct horse")
	second := mustLogin(t, env, ctx, "alice", "correct horse")
	if first.SessionScope != "laptop" || second.SessionScope != "laptop" {
		t.Fatalf("device scope not used: %q %q", first.SessionScope, second.SessionScope)
	}

	count, err := env.engine.SessionCount(ctx, "u-alice")
	if err != nil || count != 1 {
		t.Fatalf("SessionCount = %d, %v", count, err)
	}
	// the first pair is superseded, so presenting it counts as replay
	if _, err := env.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrStaleToken) {
		t.Fatalf("replaced session refresh should be stale, got %v", err)
	}
}

func TestRefreshRotatesAndDeniesPreviousAccess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair := mustLogin(t, env, ctx, "alice", "correct horse")
	env.advance(time.Second)

	next, err := env.engine.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if next.SessionScope != pair.SessionScope {
		t.Fatalf("scope changed across refresh: %q -> %q", pair.SessionScope, next.SessionScope)
	}
	if next.RefreshToken == pair.RefreshToken || next.AccessToken == pair.AccessToken {
		t.Fatal("refresh did not mint new tokens")
	}

	if _, err := env.engine.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous access token should be revoked, got %v", err)
	}
	if _, err := env.engine.Authorize(ctx, next.AccessToken); err != nil {
		t.Fatalf("new access token rejected: %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricRefreshSuccess]; got != 1 {
		t.Fatalf("refresh success counter = %d", got)
	}
}

func TestRefreshRejectsGarbageWithoutRegistryAccess(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Refresh(context.Background(), "not-a-token")
	if !errors.Is(err, ErrRefreshRejected) || !errors.Is(err, ErrMalformedToken) {
		t.Fatalf("expected rejected malformed token, got %v", err)
	}
}

func TestAccessTokenExpires(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	pair := mustLogin(t, env, ctx, "alice", "correct horse")
	env.advance(15*time.Minute + 29*time.Second)
	if _, err := env.engine.Authorize(ctx, pair.AccessToken); err != nil {
		t.Fatalf("token inside skew window rejected: %v", err)
	}
	env.advance(2 * time.Second)
	if _, err := env.engine.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expired token accepted: %v", err)
	}
}

func TestLogoutIsIdempotentAndRevokes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	laptop := mustLogin(t, env, WithDeviceScope(ctx, "laptop"), "alice", "correct horse")
	phone := mustLogin(t, env, WithDeviceScope(ctx, "phone"), "alice", "correct horse")

	if err := env.engine.Logout(ctx, "u-alice", "laptop"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if err := env.engine.Logout(ctx, "u-alice", "laptop"); err != nil {
		t.Fatalf("second Logout failed: %v", err)
	}

	if _, err := env.engine.Authorize(ctx, laptop.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("logged out access token accepted: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, laptop.RefreshToken); !errors.Is(err, ErrRefreshRejected) {
		t.Fatalf("logged out refresh accepted: %v", err)
	}

	// DenyUserOnLogout cuts off access tokens minted earlier on other
	// devices, but their refresh still works.
	if _, err := env.engine.Authorize(ctx, phone.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected phone access token to be cut off, got %v", err)
	}
	env.advance(time.Second)
	renewed, err := env.engine.Refresh(ctx, phone.RefreshToken)
	if err != nil {
		t.Fatalf("phone refresh failed: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, renewed.AccessToken); err != nil {
		t.Fatalf("renewed access token rejected: %v", err)
	}
}

func TestLogoutWithoutUserCutoff(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.DenyUserOnLogout = false })
	ctx := context.Background()

	mustLogin(t, env, WithDeviceScope(ctx, "laptop"), "alice", "correct horse")
	phone := mustLogin(t, env, WithDeviceScope(ctx, "phone"), "alice", "correct horse")

	if err := env.engine.Logout(ctx, "u-alice", "laptop"); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, phone.AccessToken); err != nil {
		t.Fatalf("other device should be unaffected: %v", err)
	}
}

func TestLogoutByAccessToken(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.DenyUserOnLogout = false })
	ctx := WithTenantID(context.Background(), "acme")

	pair := mustLogin(t, env, ctx, "alice", "correct horse")
	if err := env.engine.LogoutByAccessToken(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("LogoutByAccessToken failed: %v", err)
	}
	count, err := env.engine.SessionCount(ctx, "u-alice")
	if err != nil || count != 0 {
		t.Fatalf("SessionCount = %d, %v", count, err)
	}
	if err := env.engine.LogoutByAccessToken(context.Background(), "junk"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestLogoutAllAndRelogin(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a := mustLogin(t, env, ctx, "alice", "correct horse")
	b := mustLogin(t, env, ctx, "alice", "correct horse")
	if err := env.engine.LogoutAll(ctx, "u-alice"); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	for _, p := range []*TokenPair{a, b} {
		if _, err := env.engine.Authorize(ctx, p.AccessToken); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("access token survived LogoutAll: %v", err)
		}
		if _, err := env.engine.Refresh(ctx, p.RefreshToken); !errors.Is(err, ErrRefreshRejected) {
			t.Fatalf("refresh token survived LogoutAll: %v", err)
		}
	}

	// same millisecond as the cutoff
	fresh := mustLogin(t, env, ctx, "alice", "correct horse")
	if _, err := env.engine.Authorize(ctx, fresh.AccessToken); err != nil {
		t.Fatalf("token minted after cutoff rejected: %v", err)
	}
}

func TestReloginOnLaggingInstanceAfterLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	lagging := &testClock{now: env.clock.Now().Add(-2 * time.Second)}
	peer, err := New().
		WithConfig(testConfig()).
		WithRedis(env.rdb).
		WithCredentialVerifier(env.users).
		WithUserStateProvider(env.users).
		withClock(lagging.Now).
		Build()
	if err != nil {
		t.Fatalf("Build peer failed: %v", err)
	}
	t.Cleanup(peer.Close)

	old := mustLogin(t, env, ctx, "alice", "correct horse")
	if err := env.engine.Logout(ctx, "u-alice", old.SessionScope); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	fresh, err := peer.Login(ctx, "alice", "correct horse")
	if err != nil {
		t.Fatalf("Login on peer failed: %v", err)
	}
	for name, engine := range map[string]*Engine{"writer": env.engine, "peer": peer} {
		if _, err := engine.Authorize(ctx, fresh.AccessToken); err != nil {
			t.Fatalf("%s rejected a token minted after logout: %v", name, err)
		}
	}

	rotated, err := peer.Refresh(ctx, fresh.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh on peer failed: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, rotated.AccessToken); err != nil {
		t.Fatalf("rotated token rejected: %v", err)
	}
	if _, err := env.engine.Authorize(ctx, old.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("logged-out token still authorizes: %v", err)
	}
}

func TestBanPropagation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	a := mustLogin(t, env, ctx, "alice", "correct horse")
	bob := mustLogin(t, env, ctx, "bob", "hunter2")

	env.users.setBanned("u-alice", true)
	if err := env.engine.Ban(ctx, "u-alice"); err != nil {
		t.Fatalf("Ban failed: %v", err)
	}

	if _, err := env.engine.Authorize(ctx, a.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("banned user authorized: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, a.RefreshToken); err == nil {
		t.Fatal("banned user refreshed")
	}
	env.advance(time.Second)
	if _, err := env.engine.Login(ctx, "alice", "correct horse"); !errors.Is(err, ErrAccountBanned) {
		t.Fatalf("expected ErrAccountBanned, got %v", err)
	}
	if _, err := env.engine.Authorize(ctx, bob.AccessToken); err != nil {
		t.Fatalf("unrelated user affected by ban: %v", err)
	}
}

func TestAuthorizeConsultsUserState(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := mustLogin(t, env, ctx, "alice", "correct horse")

	env.users.setBanned("u-alice", true)
	if _, err := env.engine.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for banned user, got %v", err)
	}

	env.users.setBanned("u-alice", false)
	env.users.mu.Lock()
	env.users.stateErr = errors.New("user db down")
	env.users.mu.Unlock()
	if _, err := env.engine.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected fail closed on user state error, got %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "correct horse"); !errors.Is(err, ErrUserState) {
		t.Fatalf("expected ErrUserState, got %v", err)
	}
}

func TestTenantIsolation(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.DenyUserOnLogout = false })
	acme := WithTenantID(context.Background(), "acme")
	globex := WithTenantID(context.Background(), "globex")

	a := mustLogin(t, env, acme, "alice", "correct horse")
	g := mustLogin(t, env, globex, "alice", "correct horse")

	res, err := env.engine.Authorize(context.Background(), a.AccessToken)
	if err != nil || res.TenantID != "acme" {
		t.Fatalf("Authorize = %+v, %v", res, err)
	}

	if err := env.engine.LogoutAll(acme, "u-alice"); err != nil {
		t.Fatalf("LogoutAll failed: %v", err)
	}
	if _, err := env.engine.Authorize(context.Background(), g.AccessToken); err != nil {
		t.Fatalf("other tenant affected: %v", err)
	}
	if n, _ := env.engine.SessionCount(globex, "u-alice"); n != 1 {
		t.Fatalf("globex session count = %d", n)
	}
}

func TestCacheOutageFailsClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := mustLogin(t, env, ctx, "alice", "correct horse")

	env.mr.Close()

	if _, err := env.engine.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Authorize should fail closed, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("Refresh should report ErrCacheUnavailable, got %v", err)
	}
	// the lockout check fails open but the session cannot be stored
	if _, err := env.engine.Login(ctx, "alice", "correct horse"); !errors.Is(err, ErrCacheUnavailable) {
		t.Fatalf("Login should report ErrCacheUnavailable, got %v", err)
	}
	snap := env.engine.MetricsSnapshot()
	if snap.Counters[MetricLimiterFailOpen] == 0 {
		t.Fatal("expected limiter fail-open to be counted")
	}
	if snap.Counters[MetricAuthorizeBackendError] != 1 {
		t.Fatalf("authorize backend errors = %d", snap.Counters[MetricAuthorizeBackendError])
	}

	if h := env.engine.Health(ctx); h.SessionStoreOK || h.Err == nil {
		t.Fatalf("expected unhealthy status, got %+v", h)
	}
}

func TestSessionsAndHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	mustLogin(t, env, WithDeviceScope(ctx, "laptop"), "alice", "correct horse")
	mustLogin(t, env, WithDeviceScope(ctx, "phone"), "alice", "correct horse")

	sessions, err := env.engine.Sessions(ctx, "u-alice")
	if err != nil {
		t.Fatalf("Sessions failed: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}
	for _, s := range sessions {
		if s.Scope != "laptop" && s.Scope != "phone" {
			t.Fatalf("unexpected scope %q", s.Scope)
		}
		if s.CreatedAt.IsZero() || !s.ExpiresAt.After(s.CreatedAt) {
			t.Fatalf("bad session times %+v", s)
		}
	}

	h := env.engine.Health(ctx)
	if !h.SessionStoreOK || !h.DenylistOK || h.Err != nil {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestSessionLimit(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.Session.MaxSessionsPerUser = 1 })
	ctx := context.Background()

	mustLogin(t, env, WithDeviceScope(ctx, "laptop"), "alice", "correct horse")
	if _, err := env.engine.Login(WithDeviceScope(ctx, "phone"), "alice", "correct horse"); !errors.Is(err, ErrSessionLimitExceeded) {
		t.Fatalf("expected ErrSessionLimitExceeded, got %v", err)
	}
	// re-login on the same device replaces instead of adding
	mustLogin(t, env, WithDeviceScope(ctx, "laptop"), "alice", "correct horse")
}

func TestCSRFIssuedWithPair(t *testing.T) {
	secret := []byte(strings.Repeat("c", 32))
	env := newTestEnv(t, func(c *Config) {
		c.CSRF.Enabled = true
		c.CSRF.Secret = secret
	})
	ctx := context.Background()

	pair := mustLogin(t, env, ctx, "alice", "correct horse")
	if pair.CSRFToken == "" {
		t.Fatal("expected csrf token")
	}
	if err := env.engine.ValidateCSRF(pair.SessionScope, pair.CSRFToken, pair.CSRFToken); err != nil {
		t.Fatalf("ValidateCSRF failed: %v", err)
	}
	if err := env.engine.ValidateCSRF("other-scope", pair.CSRFToken, pair.CSRFToken); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch for wrong scope, got %v", err)
	}
	if err := env.engine.ValidateCSRF(pair.SessionScope, pair.CSRFToken, ""); !errors.Is(err, ErrCSRFMismatch) {
		t.Fatalf("expected ErrCSRFMismatch for missing cookie, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricCSRFRejected]; got != 2 {
		t.Fatalf("csrf rejected counter = %d", got)
	}
}

func TestCSRFDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.IssueCSRF("s"); !errors.Is(err, ErrCSRFDisabled) {
		t.Fatalf("expected ErrCSRFDisabled, got %v", err)
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Authorize(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	e.Close()
	if e.AuditDropped() != 0 {
		t.Fatal("nil engine reported drops")
	}
}

func TestClosedEngineNotReady(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	pair := mustLogin(t, env, ctx, "alice", "correct horse")

	env.engine.Close()
	if _, err := env.engine.Authorize(ctx, pair.AccessToken); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Authorize after Close: %v", err)
	}
	if _, err := env.engine.Login(ctx, "alice", "correct horse"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("Login after Close: %v", err)
	}
	env.engine.Close()
}
