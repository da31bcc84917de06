package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureLockedOut
	LoginFailureInvalidCredentials
	LoginFailureCredentialBackend
	LoginFailureBanned
	LoginFailureUserState
	LoginFailureIssue
	LoginFailureSessionLimit
	LoginFailureSession
)

// LoginResult carries either the issued pair or failure metadata.
type LoginResult struct {
	Failure         LoginFailureKind
	Err             error
	TenantID        string
	UserID          string
	Scope           string
	Remaining       time.Duration
	Attempts        int
	LimiterFailOpen bool
	Access          *token.Token
	Refresh         *token.Token
	Record          *session.Record
}

type LoginLimiter interface {
	Check(ctx context.Context, identity, origin string) (limiters.Decision, error)
	RecordFailure(ctx context.Context, identity, origin string) (int, error)
	RecordSuccess(ctx context.Context, identity, origin string) error
}

type LoginSessionStore interface {
	Start(ctx context.Context, rec *session.Record) error
}

// LoginDeps captures login flow dependencies.
type LoginDeps struct {
	Timeouts
	TenantIDFromContext    func(context.Context) string
	OriginFromContext      func(context.Context) string
	DeviceScopeFromContext func(context.Context) string
	NewScopeID             func() string
	// VerifyCredential returns the user id and granted scopes. It must return
	// an error matching InvalidCredentials for unknown identifiers and wrong
	// secrets alike.
	VerifyCredential   func(ctx context.Context, identifier, secret string) (string, []string, error)
	InvalidCredentials error
	IsUserBanned       UserBanned
	IssuePair          func(ctx context.Context, userID, tenantID, scope string, roles []string) (*token.Token, *token.Token, error)
	Limiter            LoginLimiter
	SessionStore       LoginSessionStore
	SessionLimit       error
	Warn               func(string, ...any)
}

// RunLogin executes the lockout check, credential verification and session
// start.
func RunLogin(ctx context.Context, identifier, secret string, deps LoginDeps) LoginResult {
	tenantID := deps.TenantIDFromContext(ctx)
	origin := deps.OriginFromContext(ctx)
	res := LoginResult{TenantID: tenantID}

	// counterClean skips the reset when the check saw no failures.
	counterClean := false
	if deps.Limiter != nil {
		cctx, cancel := bound(ctx, deps.Cache)
		decision, err := deps.Limiter.Check(cctx, identifier, origin)
		cancel()
		switch {
		case err != nil:
			res.LimiterFailOpen = true
			warn(deps, "authcore: lockout check failed, allowing login", "error", err)
		case decision.Locked:
			res.Failure = LoginFailureLockedOut
			res.Remaining = decision.Remaining
			res.Attempts = decision.Attempts
			return res
		default:
			counterClean = decision.Attempts == 0
		}
	}

	vctx, cancel := bound(ctx, deps.Credential)
	userID, roles, err := deps.VerifyCredential(vctx, identifier, secret)
	cancel()
	if err != nil {
		if deps.InvalidCredentials != nil && !errors.Is(err, deps.InvalidCredentials) {
			res.Failure = LoginFailureCredentialBackend
			res.Err = err
			return res
		}
		res.Failure = LoginFailureInvalidCredentials
		res.Err = err
		if deps.Limiter != nil {
			cctx, cancel := bound(ctx, deps.Cache)
			attempts, recErr := deps.Limiter.RecordFailure(cctx, identifier, origin)
			cancel()
			if recErr != nil {
				res.LimiterFailOpen = true
				warn(deps, "authcore: lockout counter update failed", "error", recErr)
			}
			res.Attempts = attempts
		}
		return res
	}
	res.UserID = userID

	if deps.IsUserBanned != nil {
		sctx, cancel := bound(ctx, deps.Credential)
		banned, err := deps.IsUserBanned(sctx, tenantID, userID)
		cancel()
		if err != nil {
			res.Failure = LoginFailureUserState
			res.Err = err
			return res
		}
		if banned {
			res.Failure = LoginFailureBanned
			return res
		}
	}

	if deps.Limiter != nil && !counterClean {
		cctx, cancel := bound(ctx, deps.Cache)
		if err := deps.Limiter.RecordSuccess(cctx, identifier, origin); err != nil {
			warn(deps, "authcore: lockout reset failed", "error", err)
		}
		cancel()
	}

	scope := deps.DeviceScopeFromContext(ctx)
	if scope == "" {
		scope = deps.NewScopeID()
	}
	res.Scope = scope

	access, refresh, err := deps.IssuePair(ctx, userID, tenantID, scope, roles)
	if err != nil {
		res.Failure = LoginFailureIssue
		res.Err = err
		return res
	}

	rec := &session.Record{
		TenantID:        tenantID,
		UserID:          userID,
		Scope:           scope,
		RefreshJTI:      refresh.Claims.ID,
		AccessJTI:       access.Claims.ID,
		IssuedAt:        refresh.Claims.IssuedAtTime(),
		ExpiresAt:       refresh.Claims.ExpiresAtTime(),
		AccessExpiresAt: access.Claims.ExpiresAtTime(),
	}
	cctx, cancel := bound(ctx, deps.Cache)
	err = deps.SessionStore.Start(cctx, rec)
	cancel()
	if err != nil {
		res.Failure = LoginFailureSession
		if deps.SessionLimit != nil && errors.Is(err, deps.SessionLimit) {
			res.Failure = LoginFailureSessionLimit
		}
		res.Err = err
		return res
	}

	res.Access = access
	res.Refresh = refresh
	res.Record = rec
	return res
}

func warn(deps LoginDeps, msg string, args ...any) {
	if deps.Warn != nil {
		deps.Warn(msg, args...)
	}
}
