package flows

import (
	"context"

	"github.com/MrEthical07/authcore/denylist"
	"github.com/MrEthical07/authcore/token"
)

// AuthorizeFailureKind classifies authorization failures. Callers only
// ever see "unauthorized"; the kind feeds logs and metrics.
type AuthorizeFailureKind int

const (
	AuthorizeFailureNone AuthorizeFailureKind = iota
	AuthorizeFailureToken
	AuthorizeFailureRevoked
	AuthorizeFailureBanned
	AuthorizeFailureBackend
)

// AuthorizeResult returns either verified claims or a classified failure.
type AuthorizeResult struct {
	Failure AuthorizeFailureKind
	Err     error
	Claims  *token.Claims
	Verdict denylist.Verdict
}

type AuthorizeDenylist interface {
	Check(ctx context.Context, tenantID, userID, jti string) (denylist.Verdict, error)
}

// AuthorizeDeps captures authorization dependencies.
type AuthorizeDeps struct {
	Timeouts
	VerifyAccess func(string) (*token.Claims, error)
	Denylist     AuthorizeDenylist
	IsUserBanned UserBanned
}

// RunAuthorize verifies an access token, then consults the denylist and the
// user-state collaborator. It never mutates state and fails closed on any
// backend error or timeout.
func RunAuthorize(ctx context.Context, accessToken string, deps AuthorizeDeps) AuthorizeResult {
	claims, err := deps.VerifyAccess(accessToken)
	if err != nil {
		return AuthorizeResult{Failure: AuthorizeFailureToken, Err: err}
	}
	res := AuthorizeResult{Claims: claims}

	if deps.Denylist != nil {
		cctx, cancel := bound(ctx, deps.Cache)
		verdict, err := deps.Denylist.Check(cctx, claims.Tenant, claims.Subject, claims.ID)
		cancel()
		if err != nil {
			res.Failure = AuthorizeFailureBackend
			res.Err = err
			return res
		}
		if verdict != denylist.Allowed {
			res.Failure = AuthorizeFailureRevoked
			res.Verdict = verdict
			return res
		}
	}

	if deps.IsUserBanned != nil {
		sctx, cancel := bound(ctx, deps.Credential)
		banned, err := deps.IsUserBanned(sctx, claims.Tenant, claims.Subject)
		cancel()
		if err != nil {
			res.Failure = AuthorizeFailureBackend
			res.Err = err
			return res
		}
		if banned {
			res.Failure = AuthorizeFailureBanned
			return res
		}
	}
	return res
}
