package flows

import (
	"context"
	"time"
)

// Deps groups flow dependency sets. Root engine builds this once and delegates
// request methods to the matching flow implementation.
type Deps struct {
	Login         LoginDeps
	Refresh       RefreshDeps
	Authorize     AuthorizeDeps
	Logout        LogoutDeps
	Introspection IntrospectionDeps
}

// Timeouts bounds calls to external collaborators. Zero disables a bound.
type Timeouts struct {
	Cache      time.Duration
	Credential time.Duration
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// UserBanned reports whether the user is banned according to the external
// user-state collaborator.
type UserBanned func(ctx context.Context, tenantID, userID string) (bool, error)
