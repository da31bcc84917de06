package authcore

import "context"

type clientIPContextKey struct{}
type tenantIDContextKey struct{}
type userAgentContextKey struct{}
type originContextKey struct{}
type deviceScopeContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. It is the lockout
// origin when no explicit origin is set and is recorded in audit events.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithTenantID attaches a tenant identifier to ctx. Without one the default
// tenant "0" is used.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDContextKey{}, tenantID)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for audit events.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithOrigin sets the lockout origin for Login, overriding the client IP.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originContextKey{}, origin)
}

// WithDeviceScope makes Login reuse a known device scope instead of
// generating one. Logging in again on the same device replaces its session.
func WithDeviceScope(ctx context.Context, scope string) context.Context {
	return context.WithValue(ctx, deviceScopeContextKey{}, scope)
}

func stringFromContext(ctx context.Context, key any) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(key).(string)
	return v
}

func clientIPFromContext(ctx context.Context) string {
	return stringFromContext(ctx, clientIPContextKey{})
}

func userAgentFromContext(ctx context.Context) string {
	return stringFromContext(ctx, userAgentContextKey{})
}

func deviceScopeFromContext(ctx context.Context) string {
	return stringFromContext(ctx, deviceScopeContextKey{})
}

// TenantIDFromContext returns the tenant attached to ctx, or "0".
func TenantIDFromContext(ctx context.Context) string {
	return tenantIDFromContext(ctx)
}

func tenantIDFromContext(ctx context.Context) string {
	if tenantID := stringFromContext(ctx, tenantIDContextKey{}); tenantID != "" {
		return tenantID
	}
	return "0"
}

func originFromContext(ctx context.Context) string {
	if origin := stringFromContext(ctx, originContextKey{}); origin != "" {
		return origin
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		return ip
	}
	return "unknown"
}
