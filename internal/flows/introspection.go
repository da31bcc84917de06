package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/session"
)

type IntrospectionSessionStore interface {
	List(ctx context.Context, tenantID, userID string) ([]session.Record, error)
	Ping(ctx context.Context) (time.Duration, error)
}

type IntrospectionLimiter interface {
	Check(ctx context.Context, identity, origin string) (limiters.Decision, error)
}

type IntrospectionDenylist interface {
	Ping(ctx context.Context) error
}

// IntrospectionDeps captures read-only inspection dependencies.
type IntrospectionDeps struct {
	Timeouts
	SessionStore IntrospectionSessionStore
	Limiter      IntrospectionLimiter
	Denylist     IntrospectionDenylist
}

// SessionInfo is the caller-facing view of one session record. It omits
// token identifiers.
type SessionInfo struct {
	Scope           string
	CreatedAt       time.Time
	IssuedAt        time.Time
	ExpiresAt       time.Time
	AccessExpiresAt time.Time
}

// HealthStatus is a point-in-time backend probe.
type HealthStatus struct {
	SessionStoreOK bool
	DenylistOK     bool
	Latency        time.Duration
	Err            error
}

func RunListSessions(ctx context.Context, tenantID, userID string, deps IntrospectionDeps) ([]SessionInfo, error) {
	cctx, cancel := bound(ctx, deps.Cache)
	defer cancel()

	recs, err := deps.SessionStore.List(cctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionInfo{
			Scope:           rec.Scope,
			CreatedAt:       rec.CreatedAt,
			IssuedAt:        rec.IssuedAt,
			ExpiresAt:       rec.ExpiresAt,
			AccessExpiresAt: rec.AccessExpiresAt,
		})
	}
	return out, nil
}

func RunLoginAttempts(ctx context.Context, identity, origin string, deps IntrospectionDeps) (limiters.Decision, error) {
	if deps.Limiter == nil {
		return limiters.Decision{}, nil
	}
	cctx, cancel := bound(ctx, deps.Cache)
	defer cancel()
	return deps.Limiter.Check(cctx, identity, origin)
}

func RunHealth(ctx context.Context, deps IntrospectionDeps) HealthStatus {
	cctx, cancel := bound(ctx, deps.Cache)
	defer cancel()

	var status HealthStatus
	latency, err := deps.SessionStore.Ping(cctx)
	status.Latency = latency
	if err != nil {
		status.Err = err
	} else {
		status.SessionStoreOK = true
	}

	if deps.Denylist != nil {
		if err := deps.Denylist.Ping(cctx); err != nil {
			if status.Err == nil {
				status.Err = err
			}
		} else {
			status.DenylistOK = true
		}
	}
	return status
}
