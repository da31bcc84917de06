package flows

import (
	"context"

	"github.com/MrEthical07/authcore/internal/limiters"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Authorize.VerifyAccess != nil
}

func (s Service) Login(ctx context.Context, identifier, secret string) LoginResult {
	return RunLogin(ctx, identifier, secret, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, refreshToken string) RefreshResult {
	return RunRefresh(ctx, refreshToken, s.deps.Refresh)
}

func (s Service) Authorize(ctx context.Context, accessToken string) AuthorizeResult {
	return RunAuthorize(ctx, accessToken, s.deps.Authorize)
}

func (s Service) EndSession(ctx context.Context, tenantID, userID, scope string) LogoutResult {
	return RunEndSession(ctx, tenantID, userID, scope, s.deps.Logout)
}

func (s Service) RevokeScope(ctx context.Context, tenantID, userID, scope string) LogoutResult {
	return RunRevokeScope(ctx, tenantID, userID, scope, s.deps.Logout)
}

func (s Service) EndAll(ctx context.Context, tenantID, userID string) LogoutResult {
	return RunEndAll(ctx, tenantID, userID, s.deps.Logout)
}

func (s Service) ListSessions(ctx context.Context, tenantID, userID string) ([]SessionInfo, error) {
	return RunListSessions(ctx, tenantID, userID, s.deps.Introspection)
}

func (s Service) LoginAttempts(ctx context.Context, identity, origin string) (limiters.Decision, error) {
	return RunLoginAttempts(ctx, identity, origin, s.deps.Introspection)
}

func (s Service) Health(ctx context.Context) HealthStatus {
	return RunHealth(ctx, s.deps.Introspection)
}
