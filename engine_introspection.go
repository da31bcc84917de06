package authcore

import (
	"context"
	"time"
)

// Sessions lists the live sessions of a user in the context tenant. Stale
// index entries are pruned as a side effect.
func (e *Engine) Sessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if userID == "" {
		return nil, ErrNoSession
	}
	out, err := e.flows.ListSessions(ctx, tenantIDFromContext(ctx), userID)
	if err != nil {
		return nil, e.cacheError("sessions", err)
	}
	return out, nil
}

// SessionCount returns the number of live sessions of a user.
func (e *Engine) SessionCount(ctx context.Context, userID string) (int, error) {
	sessions, err := e.Sessions(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// LoginAttempts reports the lockout counter of an (identity, origin) pair
// without changing it. An empty origin reads the "unknown" bucket used for
// logins without a client address.
func (e *Engine) LoginAttempts(ctx context.Context, identity, origin string) (LoginAttempts, error) {
	if !e.ready() {
		return LoginAttempts{}, ErrEngineNotReady
	}
	if origin == "" {
		origin = "unknown"
	}
	d, err := e.flows.LoginAttempts(ctx, identity, origin)
	if err != nil {
		return LoginAttempts{}, e.cacheError("login attempts", err)
	}
	return LoginAttempts{Attempts: d.Attempts, Locked: d.Locked, Remaining: d.Remaining}, nil
}

// Health probes the session registry and denylist backends.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if !e.ready() {
		return HealthStatus{Err: ErrEngineNotReady}
	}
	start := time.Now()
	st := e.flows.Health(ctx)
	out := HealthStatus{
		SessionStoreOK: st.SessionStoreOK,
		DenylistOK:     st.DenylistOK,
		Latency:        st.Latency,
		Err:            st.Err,
	}
	if out.Latency == 0 {
		out.Latency = time.Since(start)
	}
	if out.Err != nil {
		e.logger.Error("authcore: health check failed", "error", out.Err)
	}
	return out
}
