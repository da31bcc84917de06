package flows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/denylist"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errBadCreds = errors.New("bad credentials")
	errBackend  = errors.New("backend down")
	testNow     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type fakeLimiter struct {
	decision  limiters.Decision
	checkErr  error
	failures  int
	successes int
}

func (f *fakeLimiter) Check(context.Context, string, string) (limiters.Decision, error) {
	return f.decision, f.checkErr
}

func (f *fakeLimiter) RecordFailure(context.Context, string, string) (int, error) {
	f.failures++
	return f.failures, nil
}

func (f *fakeLimiter) RecordSuccess(context.Context, string, string) error {
	f.successes++
	return nil
}

type fakeStore struct {
	started   []*session.Record
	startErr  error
	rotateErr error
	prev      *session.Record
	ended     *session.Record
	endedAll  []session.Record
	endErr    error
}

func (f *fakeStore) Start(_ context.Context, rec *session.Record) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started = append(f.started, rec)
	return nil
}

func (f *fakeStore) ValidateAndRotate(context.Context, string, string, string, string, session.Rotation) (*session.Record, error) {
	return f.prev, f.rotateErr
}

func (f *fakeStore) End(context.Context, string, string, string) (*session.Record, error) {
	return f.ended, f.endErr
}

func (f *fakeStore) EndAll(context.Context, string, string) ([]session.Record, error) {
	return f.endedAll, f.endErr
}

type fakeDenylist struct {
	verdict  denylist.Verdict
	checkErr error
	tokens   []string
	cutoffs  []time.Time
	denyErr  error
}

func (f *fakeDenylist) Check(context.Context, string, string, string) (denylist.Verdict, error) {
	return f.verdict, f.checkErr
}

func (f *fakeDenylist) DenyToken(_ context.Context, jti string, _ time.Duration) error {
	if f.denyErr != nil {
		return f.denyErr
	}
	f.tokens = append(f.tokens, jti)
	return nil
}

func (f *fakeDenylist) DenyUser(_ context.Context, _, _ string, cutoff time.Time) error {
	if f.denyErr != nil {
		return f.denyErr
	}
	f.cutoffs = append(f.cutoffs, cutoff)
	return nil
}

func fakeToken(jti string, kind token.Kind, ttl time.Duration) *token.Token {
	return &token.Token{
		Raw: "raw-" + jti,
		Claims: &token.Claims{
			Kind:    kind,
			Session: "scope-1",
			Tenant:  "t1",
			RegisteredClaims: jwt.RegisteredClaims{
				ID:        jti,
				Subject:   "u1",
				IssuedAt:  jwt.NewNumericDate(testNow),
				ExpiresAt: jwt.NewNumericDate(testNow.Add(ttl)),
			},
		},
	}
}

func issuePair(context.Context, string, string, string, []string) (*token.Token, *token.Token, error) {
	return fakeToken("a1", token.KindAccess, 15*time.Minute), fakeToken("r1", token.KindRefresh, time.Hour), nil
}

func notBanned(context.Context, string, string) (bool, error) { return false, nil }

func loginDeps(lim *fakeLimiter, store *fakeStore) LoginDeps {
	return LoginDeps{
		TenantIDFromContext:    func(context.Context) string { return "t1" },
		OriginFromContext:      func(context.Context) string { return "10.0.0.1" },
		DeviceScopeFromContext: func(context.Context) string { return "" },
		NewScopeID:             func() string { return "scope-1" },
		VerifyCredential: func(_ context.Context, id, secret string) (string, []string, error) {
			switch {
			case secret == "boom":
				return "", nil, errBackend
			case id != "alice" || secret != "pw":
				return "", nil, errBadCreds
			}
			return "u1", []string{"read"}, nil
		},
		InvalidCredentials: errBadCreds,
		IsUserBanned:       notBanned,
		IssuePair:          issuePair,
		Limiter:            lim,
		SessionStore:       store,
		SessionLimit:       session.ErrSessionLimit,
	}
}

func TestRunLoginSuccess(t *testing.T) {
	lim := &fakeLimiter{}
	store := &fakeStore{}

	res := RunLogin(context.Background(), "alice", "pw", loginDeps(lim, store))
	require.Equal(t, LoginFailureNone, res.Failure)
	assert.Equal(t, "u1", res.UserID)
	assert.Equal(t, "scope-1", res.Scope)
	require.Len(t, store.started, 1)
	assert.Equal(t, "r1", store.started[0].RefreshJTI)
	assert.Equal(t, "a1", store.started[0].AccessJTI)
	assert.Equal(t, 0, lim.successes, "a clean counter needs no reset")
}

func TestRunLoginResetsPriorFailures(t *testing.T) {
	lim := &fakeLimiter{decision: limiters.Decision{Attempts: 2}}

	res := RunLogin(context.Background(), "alice", "pw", loginDeps(lim, &fakeStore{}))
	require.Equal(t, LoginFailureNone, res.Failure)
	assert.Equal(t, 1, lim.successes)
}

func TestRunLoginLockedSkipsVerifier(t *testing.T) {
	lim := &fakeLimiter{decision: limiters.Decision{Locked: true, Remaining: time.Minute, Attempts: 5}}
	deps := loginDeps(lim, &fakeStore{})
	called := false
	deps.VerifyCredential = func(context.Context, string, string) (string, []string, error) {
		called = true
		return "u1", nil, nil
	}

	res := RunLogin(context.Background(), "alice", "pw", deps)
	assert.Equal(t, LoginFailureLockedOut, res.Failure)
	assert.Equal(t, time.Minute, res.Remaining)
	assert.False(t, called)
}

func TestRunLoginFailureKinds(t *testing.T) {
	t.Run("invalid credentials count", func(t *testing.T) {
		lim := &fakeLimiter{}
		res := RunLogin(context.Background(), "alice", "nope", loginDeps(lim, &fakeStore{}))
		assert.Equal(t, LoginFailureInvalidCredentials, res.Failure)
		assert.Equal(t, 1, res.Attempts)
	})
	t.Run("backend errors do not count", func(t *testing.T) {
		lim := &fakeLimiter{}
		res := RunLogin(context.Background(), "alice", "boom", loginDeps(lim, &fakeStore{}))
		assert.Equal(t, LoginFailureCredentialBackend, res.Failure)
		assert.Zero(t, lim.failures)
	})
	t.Run("banned", func(t *testing.T) {
		deps := loginDeps(&fakeLimiter{}, &fakeStore{})
		deps.IsUserBanned = func(context.Context, string, string) (bool, error) { return true, nil }
		assert.Equal(t, LoginFailureBanned, RunLogin(context.Background(), "alice", "pw", deps).Failure)
	})
	t.Run("session limit", func(t *testing.T) {
		store := &fakeStore{startErr: session.ErrSessionLimit}
		res := RunLogin(context.Background(), "alice", "pw", loginDeps(&fakeLimiter{}, store))
		assert.Equal(t, LoginFailureSessionLimit, res.Failure)
	})
	t.Run("limiter fails open", func(t *testing.T) {
		lim := &fakeLimiter{checkErr: errBackend}
		res := RunLogin(context.Background(), "alice", "pw", loginDeps(lim, &fakeStore{}))
		assert.Equal(t, LoginFailureNone, res.Failure)
		assert.True(t, res.LimiterFailOpen)
	})
}

func refreshDeps(store *fakeStore) RefreshDeps {
	return RefreshDeps{
		VerifyRefresh: func(raw string) (*token.Claims, error) {
			if raw != "good" {
				return nil, token.ErrMalformed
			}
			return fakeToken("r0", token.KindRefresh, time.Hour).Claims, nil
		},
		IsUserBanned: notBanned,
		IssuePair:    issuePair,
		SessionStore: store,
	}
}

func TestRunRefreshOutcomes(t *testing.T) {
	prev := &session.Record{Scope: "scope-1", AccessJTI: "a0", ExpiresAt: testNow.Add(time.Hour)}
	res := RunRefresh(context.Background(), "good", refreshDeps(&fakeStore{prev: prev}))
	require.Equal(t, RefreshFailureNone, res.Failure)
	assert.Same(t, prev, res.Previous)
	assert.Equal(t, "r1", res.Refresh.Claims.ID)

	cases := map[error]RefreshFailureKind{
		session.ErrStaleToken:     RefreshFailureStale,
		session.ErrNoSession:      RefreshFailureNoSession,
		session.ErrSessionExpired: RefreshFailureExpired,
		errBackend:                RefreshFailureRotate,
	}
	for err, want := range cases {
		res := RunRefresh(context.Background(), "good", refreshDeps(&fakeStore{rotateErr: err}))
		assert.Equal(t, want, res.Failure, err.Error())
		assert.Equal(t, "u1", res.UserID)
	}

	res = RunRefresh(context.Background(), "bad", refreshDeps(&fakeStore{}))
	assert.Equal(t, RefreshFailureToken, res.Failure)
}

func TestRunAuthorize(t *testing.T) {
	deps := AuthorizeDeps{
		VerifyAccess: func(string) (*token.Claims, error) {
			return fakeToken("a1", token.KindAccess, time.Minute).Claims, nil
		},
		Denylist:     &fakeDenylist{},
		IsUserBanned: notBanned,
	}
	assert.Equal(t, AuthorizeFailureNone, RunAuthorize(context.Background(), "x", deps).Failure)

	deps.Denylist = &fakeDenylist{verdict: denylist.UserRevoked}
	res := RunAuthorize(context.Background(), "x", deps)
	assert.Equal(t, AuthorizeFailureRevoked, res.Failure)
	assert.Equal(t, denylist.UserRevoked, res.Verdict)

	deps.Denylist = &fakeDenylist{checkErr: errBackend}
	assert.Equal(t, AuthorizeFailureBackend, RunAuthorize(context.Background(), "x", deps).Failure)

	deps.Denylist = &fakeDenylist{}
	deps.IsUserBanned = func(context.Context, string, string) (bool, error) { return true, nil }
	assert.Equal(t, AuthorizeFailureBanned, RunAuthorize(context.Background(), "x", deps).Failure)
}

func TestEndSessionDeniesRecord(t *testing.T) {
	rec := &session.Record{AccessJTI: "a1", RefreshJTI: "r1", AccessExpiresAt: testNow.Add(time.Minute), ExpiresAt: testNow.Add(time.Hour)}
	dl := &fakeDenylist{}
	deps := LogoutDeps{
		Now:              func() time.Time { return testNow },
		SessionStore:     &fakeStore{ended: rec},
		Denylist:         dl,
		DenyUserOnLogout: true,
	}

	res := RunEndSession(context.Background(), "t1", "u1", "scope-1", deps)
	require.NoError(t, res.Err)
	assert.Len(t, res.Ended, 1)
	assert.Equal(t, []string{"a1", "r1"}, dl.tokens)
	assert.Equal(t, []time.Time{testNow}, dl.cutoffs)

	dl = &fakeDenylist{}
	deps.Denylist = dl
	res = RunRevokeScope(context.Background(), "t1", "u1", "scope-1", deps)
	require.NoError(t, res.Err)
	assert.Empty(t, dl.cutoffs)
}

func TestEndSessionAbsentScope(t *testing.T) {
	dl := &fakeDenylist{}
	res := RunEndSession(context.Background(), "t1", "u1", "gone", LogoutDeps{
		Now:          func() time.Time { return testNow },
		SessionStore: &fakeStore{},
		Denylist:     dl,
	})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Ended)
	assert.Empty(t, dl.tokens)
}

func TestEndAllWritesCutoffEvenOnStoreError(t *testing.T) {
	dl := &fakeDenylist{}
	res := RunEndAll(context.Background(), "t1", "u1", LogoutDeps{
		Now:          func() time.Time { return testNow },
		SessionStore: &fakeStore{endErr: errBackend},
		Denylist:     dl,
	})
	assert.ErrorIs(t, res.Err, errBackend)
	assert.Equal(t, []time.Time{testNow}, dl.cutoffs)
}

func TestRunHealth(t *testing.T) {
	status := RunHealth(context.Background(), IntrospectionDeps{
		SessionStore: pingStore{latency: 2 * time.Millisecond},
		Denylist:     pingDenylist{err: errBackend},
	})
	assert.True(t, status.SessionStoreOK)
	assert.False(t, status.DenylistOK)
	assert.ErrorIs(t, status.Err, errBackend)
	assert.Equal(t, 2*time.Millisecond, status.Latency)
}

type pingStore struct {
	latency time.Duration
	err     error
}

func (p pingStore) List(context.Context, string, string) ([]session.Record, error) { return nil, nil }
func (p pingStore) Ping(context.Context) (time.Duration, error)                    { return p.latency, p.err }

type pingDenylist struct{ err error }

func (p pingDenylist) Ping(context.Context) error { return p.err }
