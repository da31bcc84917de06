package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

// RefreshFailureKind classifies refresh flow failures for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureToken
	RefreshFailureBanned
	RefreshFailureUserState
	RefreshFailureIssue
	RefreshFailureNoSession
	RefreshFailureStale
	RefreshFailureExpired
	RefreshFailureRotate
)

// RefreshResult carries either the rotated pair or failure metadata.
type RefreshResult struct {
	Failure  RefreshFailureKind
	Err      error
	TenantID string
	UserID   string
	Scope    string
	Claims   *token.Claims
	Access   *token.Token
	Refresh  *token.Token
	// Previous is the record as it stood before rotation. Its ExpiresAt is
	// the new session expiry.
	Previous *session.Record
}

type RefreshSessionStore interface {
	ValidateAndRotate(ctx context.Context, tenantID, userID, scope, presentedJTI string, next session.Rotation) (*session.Record, error)
}

// RefreshDeps captures refresh flow dependencies.
type RefreshDeps struct {
	Timeouts
	VerifyRefresh func(string) (*token.Claims, error)
	IsUserBanned  UserBanned
	IssuePair     func(ctx context.Context, userID, tenantID, scope string, roles []string) (*token.Token, *token.Token, error)
	SessionStore  RefreshSessionStore
}

// RunRefresh verifies the presented refresh token and swaps it for a new
// pair through the registry's compare-and-swap. The new pair is minted
// before the swap so its jtis can be recorded atomically; it is discarded
// when the swap is refused.
func RunRefresh(ctx context.Context, refreshToken string, deps RefreshDeps) RefreshResult {
	claims, err := deps.VerifyRefresh(refreshToken)
	if err != nil {
		return RefreshResult{Failure: RefreshFailureToken, Err: err}
	}
	if claims.Session == "" {
		return RefreshResult{Failure: RefreshFailureToken, Err: token.ErrMalformed}
	}

	res := RefreshResult{
		TenantID: claims.Tenant,
		UserID:   claims.Subject,
		Scope:    claims.Session,
		Claims:   claims,
	}

	if deps.IsUserBanned != nil {
		sctx, cancel := bound(ctx, deps.Credential)
		banned, err := deps.IsUserBanned(sctx, res.TenantID, res.UserID)
		cancel()
		if err != nil {
			res.Failure = RefreshFailureUserState
			res.Err = err
			return res
		}
		if banned {
			res.Failure = RefreshFailureBanned
			return res
		}
	}

	access, refresh, err := deps.IssuePair(ctx, res.UserID, res.TenantID, res.Scope, claims.Scope)
	if err != nil {
		res.Failure = RefreshFailureIssue
		res.Err = err
		return res
	}

	cctx, cancel := bound(ctx, deps.Cache)
	prev, err := deps.SessionStore.ValidateAndRotate(cctx, res.TenantID, res.UserID, res.Scope, claims.ID, session.Rotation{
		RefreshJTI:      refresh.Claims.ID,
		AccessJTI:       access.Claims.ID,
		IssuedAt:        refresh.Claims.IssuedAtTime(),
		ExpiresAt:       refresh.Claims.ExpiresAtTime(),
		AccessExpiresAt: access.Claims.ExpiresAtTime(),
	})
	cancel()
	if err != nil {
		res.Err = err
		switch {
		case errors.Is(err, session.ErrStaleToken):
			res.Failure = RefreshFailureStale
		case errors.Is(err, session.ErrNoSession):
			res.Failure = RefreshFailureNoSession
		case errors.Is(err, session.ErrSessionExpired):
			res.Failure = RefreshFailureExpired
		default:
			res.Failure = RefreshFailureRotate
		}
		return res
	}

	res.Access = access
	res.Refresh = refresh
	res.Previous = prev
	return res
}
