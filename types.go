package authcore

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
)

// Principal is the identity a CredentialVerifier vouches for.
type Principal struct {
	UserID string
	// Scope is copied into every token of the session.
	Scope []string
}

// CredentialVerifier checks a login secret. It must return an error matching
// ErrInvalidCredentials for an unknown identifier and for a wrong secret,
// without distinguishing the two. Any other error is treated as a backend
// failure.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, identifier, secret string) (Principal, error)
}

// CredentialVerifierFunc adapts a function to CredentialVerifier.
type CredentialVerifierFunc func(ctx context.Context, identifier, secret string) (Principal, error)

func (f CredentialVerifierFunc) VerifyCredential(ctx context.Context, identifier, secret string) (Principal, error) {
	return f(ctx, identifier, secret)
}

// UserStateProvider reports persistent user state owned by the application.
type UserStateProvider interface {
	IsUserBanned(ctx context.Context, tenantID, userID string) (bool, error)
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	SessionScope     string
	// CSRFToken is set when CSRF protection is enabled.
	CSRFToken string
}

// AuthResult is the verified identity behind an access token.
type AuthResult struct {
	UserID       string
	TenantID     string
	SessionScope string
	JTI          string
	Scope        []string
	ExpiresAt    time.Time
	Ext          map[string]any
}

// HasScope reports whether every requested scope was granted.
func (r *AuthResult) HasScope(required ...string) bool {
	for _, want := range required {
		found := false
		for _, have := range r.Scope {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// SessionInfo describes one live session. It carries no token material.
type SessionInfo = flows.SessionInfo

// HealthStatus is an on-demand backend probe.
type HealthStatus struct {
	SessionStoreOK bool
	DenylistOK     bool
	Latency        time.Duration
	Err            error
}

// LoginAttempts reports the lockout state of an (identity, origin) pair.
type LoginAttempts struct {
	Attempts  int
	Locked    bool
	Remaining time.Duration
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives AuditEvent values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based AuditSink.
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes one JSON object per event to an io.Writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a JSONWriterSink that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}
