package authcore

import (
	"context"
	"errors"

	internalaudit "github.com/MrEthical07/authcore/internal/audit"
)

const (
	auditEventLoginSuccess    = "login_success"
	auditEventLoginFailure    = "login_failure"
	auditEventLoginLockedOut  = "login_locked_out"
	auditEventRefreshSuccess  = "refresh_success"
	auditEventRefreshFailure  = "refresh_failure"
	auditEventReplayDetected  = "refresh_replay_detected"
	auditEventLogoutSession   = "logout_session"
	auditEventLogoutAll       = "logout_all"
	auditEventUserBanned      = "user_banned"
	auditEventAuthorizeDenied = "authorize_denied"
	auditEventCSRFRejected    = "csrf_rejected"
)

// AuditReason is the machine-readable failure cause carried by audit events.
type AuditReason string

const (
	auditReasonUnauthorized       AuditReason = "unauthorized"
	auditReasonInvalidCredentials AuditReason = "invalid_credentials"
	auditReasonLockedOut          AuditReason = "locked_out"
	auditReasonBanned             AuditReason = "banned"
	auditReasonInvalidToken       AuditReason = "invalid_token"
	auditReasonExpiredToken       AuditReason = "expired_token"
	auditReasonNoSession          AuditReason = "no_session"
	auditReasonStaleToken         AuditReason = "stale_token"
	auditReasonSessionExpired     AuditReason = "session_expired"
	auditReasonSessionLimit       AuditReason = "session_limit_exceeded"
	auditReasonCSRFMismatch       AuditReason = "csrf_mismatch"
	auditReasonUnavailable        AuditReason = "backend_unavailable"
	auditReasonInternal           AuditReason = "internal_error"
)

type auditFields struct {
	userID   string
	tenantID string
	scope    string
	reason   AuditReason
	metadata map[string]string
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, f auditFields) {
	if e == nil || e.audit == nil {
		return
	}
	event := internalaudit.NewEvent(eventType, success)
	event.UserID = f.userID
	event.TenantID = f.tenantID
	if event.TenantID == "" {
		event.TenantID = tenantIDFromContext(ctx)
	}
	event.SessionScope = f.scope
	event.IP = clientIPFromContext(ctx)
	event.UserAgent = userAgentFromContext(ctx)
	event.Reason = string(f.reason)
	event.Metadata = f.metadata
	e.audit.Emit(ctx, event)
}

func auditReason(err error) AuditReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLockedOut):
		return auditReasonLockedOut
	case errors.Is(err, ErrInvalidCredentials):
		return auditReasonInvalidCredentials
	case errors.Is(err, ErrAccountBanned):
		return auditReasonBanned
	case errors.Is(err, ErrExpiredToken):
		return auditReasonExpiredToken
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrWrongKind):
		return auditReasonInvalidToken
	case errors.Is(err, ErrStaleToken):
		return auditReasonStaleToken
	case errors.Is(err, ErrNoSession):
		return auditReasonNoSession
	case errors.Is(err, ErrSessionExpired):
		return auditReasonSessionExpired
	case errors.Is(err, ErrSessionLimitExceeded):
		return auditReasonSessionLimit
	case errors.Is(err, ErrCSRFMismatch):
		return auditReasonCSRFMismatch
	case errors.Is(err, ErrCacheUnavailable),
		errors.Is(err, ErrCredentialUnavailable),
		errors.Is(err, ErrUserState):
		return auditReasonUnavailable
	case errors.Is(err, ErrUnauthorized):
		return auditReasonUnauthorized
	default:
		return auditReasonInternal
	}
}
