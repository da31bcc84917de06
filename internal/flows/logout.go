package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/session"
)

type LogoutSessionStore interface {
	End(ctx context.Context, tenantID, userID, scope string) (*session.Record, error)
	EndAll(ctx context.Context, tenantID, userID string) ([]session.Record, error)
}

type LogoutDenylist interface {
	DenyToken(ctx context.Context, jti string, remaining time.Duration) error
	DenyUser(ctx context.Context, tenantID, userID string, cutoff time.Time) error
}

// LogoutDeps captures session-ending dependencies.
type LogoutDeps struct {
	Timeouts
	Now              func() time.Time
	SessionStore     LogoutSessionStore
	Denylist         LogoutDenylist
	DenyUserOnLogout bool
}

// LogoutResult reports what an end-session call removed.
type LogoutResult struct {
	Err   error
	Ended []session.Record
}

// RunEndSession deletes one scope and denylists the identifiers of its last
// pair for their remaining lifetime. Ending an absent scope succeeds.
func RunEndSession(ctx context.Context, tenantID, userID, scope string, deps LogoutDeps) LogoutResult {
	return endSession(ctx, tenantID, userID, scope, deps.DenyUserOnLogout, deps)
}

// RunRevokeScope ends one scope without a user cutoff, leaving the user's
// other devices untouched. It is the replay response under RevokeSession.
func RunRevokeScope(ctx context.Context, tenantID, userID, scope string, deps LogoutDeps) LogoutResult {
	return endSession(ctx, tenantID, userID, scope, false, deps)
}

func endSession(ctx context.Context, tenantID, userID, scope string, denyUser bool, deps LogoutDeps) LogoutResult {
	cctx, cancel := bound(ctx, deps.Cache)
	defer cancel()

	rec, err := deps.SessionStore.End(cctx, tenantID, userID, scope)
	if err != nil {
		return LogoutResult{Err: err}
	}
	res := LogoutResult{}
	if rec != nil {
		res.Ended = append(res.Ended, *rec)
		if err := denyRecord(cctx, *rec, deps); err != nil {
			res.Err = err
			return res
		}
	}
	if denyUser {
		if err := deps.Denylist.DenyUser(cctx, tenantID, userID, deps.Now()); err != nil {
			res.Err = err
		}
	}
	return res
}

// RunEndAll deletes every scope of the user and writes a user cutoff so
// access tokens held on any device stop authorizing.
func RunEndAll(ctx context.Context, tenantID, userID string, deps LogoutDeps) LogoutResult {
	cctx, cancel := bound(ctx, deps.Cache)
	defer cancel()

	cutoff := deps.Now()
	ended, err := deps.SessionStore.EndAll(cctx, tenantID, userID)
	res := LogoutResult{Ended: ended, Err: err}

	if denyErr := deps.Denylist.DenyUser(cctx, tenantID, userID, cutoff); denyErr != nil && res.Err == nil {
		res.Err = denyErr
	}
	for _, rec := range ended {
		if denyErr := denyRecord(cctx, rec, deps); denyErr != nil && res.Err == nil {
			res.Err = denyErr
		}
	}
	return res
}

func denyRecord(ctx context.Context, rec session.Record, deps LogoutDeps) error {
	now := deps.Now()
	if rec.AccessJTI != "" {
		if err := deps.Denylist.DenyToken(ctx, rec.AccessJTI, rec.AccessExpiresAt.Sub(now)); err != nil {
			return err
		}
	}
	if rec.RefreshJTI != "" {
		if err := deps.Denylist.DenyToken(ctx, rec.RefreshJTI, rec.ExpiresAt.Sub(now)); err != nil {
			return err
		}
	}
	return nil
}
