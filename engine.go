package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/denylist"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine is the authentication service. It is safe for concurrent use and
// holds no per-session state in process; every instance sharing a Redis
// deployment and key material sees the same sessions and revocations.
type Engine struct {
	config    Config
	codec     *token.Codec
	sessions  *session.Store
	denylist  *denylist.Denylist
	lockout   *limiters.LockoutLimiter
	csrf      *csrf.Guard
	flows     flows.Service
	verifier  CredentialVerifier
	userState UserStateProvider
	metrics   *Metrics
	audit     *internalaudit.Dispatcher
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	closeOnce sync.Once
	closed    atomic.Bool
}

// Close flushes pending audit events and releases local caches. It does not
// close the Redis clients passed to the Builder. Operations on a closed
// Engine fail with ErrEngineNotReady.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	e.closeOnce.Do(func() {
		e.audit.Close()
		if e.denylist != nil {
			e.denylist.Close()
		}
	})
}

// AuditDropped returns how many audit events were dropped under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the in-process metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return (*Metrics)(nil).Snapshot()
	}
	return e.metrics.Snapshot()
}

func (e *Engine) ready() bool {
	return e != nil && !e.closed.Load() && e.flows.Initialized()
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "authcore."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// cacheError marks err as a shared-cache outage.
func (e *Engine) cacheError(op string, err error) error {
	e.metrics.Inc(MetricCacheUnavailable)
	e.logger.Error("authcore: cache unavailable", "op", op, "error", err)
	if errors.Is(err, ErrCacheUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
}

func (e *Engine) verifyCredential(ctx context.Context, identifier, secret string) (string, []string, error) {
	p, err := e.verifier.VerifyCredential(ctx, identifier, secret)
	if err != nil {
		return "", nil, err
	}
	if p.UserID == "" {
		return "", nil, errors.New("credential verifier returned an empty user id")
	}
	return p.UserID, p.Scope, nil
}

// issuePair mints an access/refresh pair whose jtis sort after the user's
// denylist cutoff. The cutoff comes from whichever instance wrote it, so a
// lagging local clock or a login in the same millisecond as a logout would
// otherwise mint tokens that are already revoked.
func (e *Engine) issuePair(ctx context.Context, userID, tenantID, scope string, grants []string) (*token.Token, *token.Token, error) {
	cctx, cancel := context.WithTimeout(ctx, e.config.Cache.OperationTimeout)
	floor, err := e.denylist.UserCutoff(cctx, tenantID, userID)
	cancel()
	if err != nil {
		e.logger.Warn("authcore: user cutoff read failed, minting on local clock", "error", err)
		floor = time.Time{}
	}

	opts := []token.MintOption{
		token.WithTenant(tenantID),
		token.WithSession(scope),
		token.WithScope(grants...),
	}
	access, err := e.codec.MintAfter(floor, userID, token.KindAccess, e.config.Token.AccessTTL, opts...)
	if err != nil {
		return nil, nil, err
	}
	refresh, err := e.codec.MintAfter(floor, userID, token.KindRefresh, e.config.Token.RefreshTTL, opts...)
	if err != nil {
		return nil, nil, err
	}
	return access, refresh, nil
}

func (e *Engine) pairFrom(access, refresh *token.Token, scope string, sessionExpiry time.Time) (*TokenPair, error) {
	pair := &TokenPair{
		AccessToken:      access.Raw,
		RefreshToken:     refresh.Raw,
		AccessExpiresAt:  access.Claims.ExpiresAtTime(),
		RefreshExpiresAt: refresh.Claims.ExpiresAtTime(),
		SessionScope:     scope,
	}
	if !sessionExpiry.IsZero() && sessionExpiry.Before(pair.RefreshExpiresAt) {
		pair.RefreshExpiresAt = sessionExpiry
	}
	if e.csrf != nil {
		tok, err := e.csrf.Issue(scope)
		if err != nil {
			return nil, err
		}
		pair.CSRFToken = tok
	}
	return pair, nil
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates identifier/secret and opens a session scope.
//
// A locked (identity, origin) pair fails with *LockedOutError before the
// credential verifier is consulted. Unknown identifiers and wrong secrets
// both yield ErrInvalidCredentials.
func (e *Engine) Login(ctx context.Context, identifier, secret string) (pair *TokenPair, err error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Login", attribute.String("authcore.tenant", tenantIDFromContext(ctx)))
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	res := e.flows.Login(ctx, identifier, secret)
	if res.LimiterFailOpen {
		e.metrics.Inc(MetricLimiterFailOpen)
	}
	if res.Failure != flows.LoginFailureNone {
		err = e.loginError(res)
		e.metrics.Inc(MetricLoginFailure)
		eventType := auditEventLoginFailure
		switch res.Failure {
		case flows.LoginFailureLockedOut:
			e.metrics.Inc(MetricLoginLockedOut)
			eventType = auditEventLoginLockedOut
		case flows.LoginFailureBanned:
			e.metrics.Inc(MetricLoginBanned)
		}
		e.emitAudit(ctx, eventType, false, auditFields{
			userID:   res.UserID,
			tenantID: res.TenantID,
			reason:   auditReason(err),
			metadata: map[string]string{
				"identifier": identifier,
				"attempts":   strconv.Itoa(res.Attempts),
			},
		})
		return nil, err
	}

	pair, err = e.pairFrom(res.Access, res.Refresh, res.Scope, res.Record.ExpiresAt)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.metrics.Inc(MetricSessionCreated)
	span.SetAttributes(attribute.String("authcore.session_scope", res.Scope))
	e.emitAudit(ctx, auditEventLoginSuccess, true, auditFields{
		userID:   res.UserID,
		tenantID: res.TenantID,
		scope:    res.Scope,
	})
	return pair, nil
}

func (e *Engine) loginError(res flows.LoginResult) error {
	switch res.Failure {
	case flows.LoginFailureLockedOut:
		return &LockedOutError{Remaining: res.Remaining}
	case flows.LoginFailureInvalidCredentials:
		return ErrInvalidCredentials
	case flows.LoginFailureCredentialBackend:
		e.logger.Error("authcore: credential verifier failed", "error", res.Err)
		return fmt.Errorf("%w: %w", ErrCredentialUnavailable, res.Err)
	case flows.LoginFailureBanned:
		return ErrAccountBanned
	case flows.LoginFailureUserState:
		e.logger.Error("authcore: user state lookup failed", "error", res.Err)
		return fmt.Errorf("%w: %w", ErrUserState, res.Err)
	case flows.LoginFailureSessionLimit:
		return ErrSessionLimitExceeded
	case flows.LoginFailureSession:
		if errors.Is(res.Err, session.ErrCacheUnavailable) {
			return e.cacheError("login", res.Err)
		}
		return res.Err
	default:
		return res.Err
	}
}

/*
====================================
REFRESH
====================================
*/

// Refresh exchanges a refresh token for a new pair. Each refresh token is
// accepted at most once; presenting a superseded one is treated as replay
// and revokes according to Session.ReplayPolicy.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (pair *TokenPair, err error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Refresh")
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer func() { e.metrics.Observe(MetricRefreshLatency, time.Since(start)) }()

	res := e.flows.Refresh(ctx, refreshToken)
	if res.Failure != flows.RefreshFailureNone {
		err = e.refreshError(ctx, res)
		e.metrics.Inc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshFailure, false, auditFields{
			userID:   res.UserID,
			tenantID: res.TenantID,
			scope:    res.Scope,
			reason:   auditReason(err),
		})
		return nil, err
	}

	prev := res.Previous
	if prev.AccessJTI != "" {
		cctx, cancel := context.WithTimeout(ctx, e.config.Cache.OperationTimeout)
		denyErr := e.denylist.DenyToken(cctx, prev.AccessJTI, prev.AccessExpiresAt.Sub(e.now()))
		cancel()
		if denyErr != nil {
			// the rotation is committed; the old access token lives out its TTL
			_ = e.cacheError("refresh deny previous access", denyErr)
		}
	}

	pair, err = e.pairFrom(res.Access, res.Refresh, res.Scope, prev.ExpiresAt)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, auditFields{
		userID:   res.UserID,
		tenantID: res.TenantID,
		scope:    res.Scope,
	})
	return pair, nil
}

func (e *Engine) refreshError(ctx context.Context, res flows.RefreshResult) error {
	switch res.Failure {
	case flows.RefreshFailureToken:
		return fmt.Errorf("%w: %w", ErrRefreshRejected, res.Err)
	case flows.RefreshFailureBanned:
		return ErrAccountBanned
	case flows.RefreshFailureUserState:
		e.logger.Error("authcore: user state lookup failed", "error", res.Err)
		return fmt.Errorf("%w: %w", ErrUserState, res.Err)
	case flows.RefreshFailureIssue:
		return res.Err
	case flows.RefreshFailureStale:
		e.handleReplay(ctx, res)
		return fmt.Errorf("%w: %w", ErrRefreshRejected, res.Err)
	case flows.RefreshFailureNoSession, flows.RefreshFailureExpired:
		return fmt.Errorf("%w: %w", ErrRefreshRejected, res.Err)
	default:
		return e.cacheError("refresh", res.Err)
	}
}

func (e *Engine) handleReplay(ctx context.Context, res flows.RefreshResult) {
	e.metrics.Inc(MetricReplayDetected)
	policy := e.config.Session.ReplayPolicy
	e.logger.Warn("authcore: refresh token replay detected",
		"tenant", res.TenantID,
		"user", res.UserID,
		"scope", res.Scope,
		"policy", string(policy),
	)

	// revocation must not be abandoned because the caller went away
	ctx = context.WithoutCancel(ctx)
	var out flows.LogoutResult
	if policy == RevokeAllSessions {
		out = e.flows.EndAll(ctx, res.TenantID, res.UserID)
	} else {
		out = e.flows.RevokeScope(ctx, res.TenantID, res.UserID, res.Scope)
	}
	if out.Err != nil {
		_ = e.cacheError("replay revoke", out.Err)
	}
	e.countEnded(out.Ended)

	e.emitAudit(ctx, auditEventReplayDetected, false, auditFields{
		userID:   res.UserID,
		tenantID: res.TenantID,
		scope:    res.Scope,
		reason:   auditReasonStaleToken,
		metadata: map[string]string{
			"policy":         string(policy),
			"ended_sessions": strconv.Itoa(len(out.Ended)),
		},
	})
}

func (e *Engine) countEnded(ended []session.Record) {
	for range ended {
		e.metrics.Inc(MetricSessionEnded)
	}
}

/*
====================================
LOGOUT / BAN
====================================
*/

// Logout ends one session scope of the user in the context tenant and
// revokes its outstanding tokens. Ending an unknown scope succeeds.
func (e *Engine) Logout(ctx context.Context, userID, scope string) (err error) {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" || scope == "" {
		return ErrNoSession
	}
	ctx, span := e.startSpan(ctx, "Logout", attribute.String("authcore.session_scope", scope))
	defer func() { endSpan(span, err) }()

	tenantID := tenantIDFromContext(ctx)
	res := e.flows.EndSession(ctx, tenantID, userID, scope)
	e.countEnded(res.Ended)
	if res.Err != nil {
		err = e.cacheError("logout", res.Err)
	}
	e.metrics.Inc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, err == nil, auditFields{
		userID:   userID,
		tenantID: tenantID,
		scope:    scope,
		reason:   auditReason(err),
	})
	return err
}

// LogoutByAccessToken ends the session the access token belongs to.
func (e *Engine) LogoutByAccessToken(ctx context.Context, accessToken string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	claims, err := e.codec.Verify(accessToken, token.KindAccess)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return e.Logout(WithTenantID(ctx, claims.Tenant), claims.Subject, claims.Session)
}

// LogoutAll ends every session of the user and revokes every token minted
// for them up to now.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (err error) {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrNoSession
	}
	ctx, span := e.startSpan(ctx, "LogoutAll")
	defer func() { endSpan(span, err) }()

	tenantID := tenantIDFromContext(ctx)
	ended, err := e.endAll(ctx, tenantID, userID, "logout all")
	e.metrics.Inc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, auditFields{
		userID:   userID,
		tenantID: tenantID,
		reason:   auditReason(err),
		metadata: map[string]string{"ended_sessions": strconv.Itoa(ended)},
	})
	return err
}

// Ban revokes everything the user holds. Keeping the user out afterwards is
// the job of the UserStateProvider, which the engine consults on Login,
// Refresh and Authorize.
func (e *Engine) Ban(ctx context.Context, userID string) (err error) {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if userID == "" {
		return ErrNoSession
	}
	ctx, span := e.startSpan(ctx, "Ban")
	defer func() { endSpan(span, err) }()

	tenantID := tenantIDFromContext(ctx)
	ended, err := e.endAll(ctx, tenantID, userID, "ban")
	e.metrics.Inc(MetricUserBanned)
	e.emitAudit(ctx, auditEventUserBanned, err == nil, auditFields{
		userID:   userID,
		tenantID: tenantID,
		reason:   auditReason(err),
		metadata: map[string]string{"ended_sessions": strconv.Itoa(ended)},
	})
	return err
}

func (e *Engine) endAll(ctx context.Context, tenantID, userID, op string) (int, error) {
	res := e.flows.EndAll(ctx, tenantID, userID)
	e.countEnded(res.Ended)
	if res.Err != nil {
		return len(res.Ended), e.cacheError(op, res.Err)
	}
	return len(res.Ended), nil
}

/*
====================================
AUTHORIZE
====================================
*/

// Authorize verifies an access token for a protected request. Every failure,
// including an unreachable cache, is ErrUnauthorized; the cause is logged at
// debug level. Authorize never mutates state.
func (e *Engine) Authorize(ctx context.Context, accessToken string) (*AuthResult, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ctx, span := e.startSpan(ctx, "Authorize")
	start := time.Now()
	res := e.flows.Authorize(ctx, accessToken)
	e.metrics.Observe(MetricAuthorizeLatency, time.Since(start))

	if res.Failure != flows.AuthorizeFailureNone {
		kind := authorizeFailureName(res.Failure)
		switch res.Failure {
		case flows.AuthorizeFailureRevoked:
			e.metrics.Inc(MetricAuthorizeRevoked)
		case flows.AuthorizeFailureBackend:
			e.metrics.Inc(MetricAuthorizeBackendError)
			e.logger.Error("authcore: authorize backend failure", "error", res.Err)
		default:
			e.metrics.Inc(MetricAuthorizeRejected)
		}
		e.logger.Debug("authcore: authorize rejected", "kind", kind, "verdict", res.Verdict.String(), "error", res.Err)
		span.SetAttributes(attribute.String("authcore.reject_kind", kind))

		if res.Failure == flows.AuthorizeFailureRevoked || res.Failure == flows.AuthorizeFailureBanned {
			e.emitAudit(ctx, auditEventAuthorizeDenied, false, auditFields{
				userID:   res.Claims.Subject,
				tenantID: res.Claims.Tenant,
				scope:    res.Claims.Session,
				reason:   AuditReason(kind),
			})
		}
		endSpan(span, ErrUnauthorized)
		return nil, ErrUnauthorized
	}
	endSpan(span, nil)

	e.metrics.Inc(MetricAuthorizeSuccess)
	claims := res.Claims
	return &AuthResult{
		UserID:       claims.Subject,
		TenantID:     claims.Tenant,
		SessionScope: claims.Session,
		JTI:          claims.ID,
		Scope:        claims.Scope,
		ExpiresAt:    claims.ExpiresAtTime(),
		Ext:          claims.Ext,
	}, nil
}

func authorizeFailureName(kind flows.AuthorizeFailureKind) string {
	switch kind {
	case flows.AuthorizeFailureToken:
		return "invalid_token"
	case flows.AuthorizeFailureRevoked:
		return "revoked"
	case flows.AuthorizeFailureBanned:
		return "banned"
	case flows.AuthorizeFailureBackend:
		return "backend_unavailable"
	default:
		return "unknown"
	}
}

/*
====================================
CSRF
====================================
*/

// IssueCSRF returns a double-submit token bound to a session scope.
func (e *Engine) IssueCSRF(scope string) (string, error) {
	if e == nil || e.csrf == nil {
		return "", ErrCSRFDisabled
	}
	return e.csrf.Issue(scope)
}

// ValidateCSRF checks the header and cookie copies of a CSRF token. Every
// failure matches ErrCSRFMismatch.
func (e *Engine) ValidateCSRF(scope, header, cookie string) error {
	if e == nil || e.csrf == nil {
		return ErrCSRFDisabled
	}
	if err := e.csrf.Validate(scope, header, cookie); err != nil {
		e.metrics.Inc(MetricCSRFRejected)
		e.logger.Debug("authcore: csrf rejected", "scope", scope, "error", err)
		e.emitAudit(context.Background(), auditEventCSRFRejected, false, auditFields{
			scope:  scope,
			reason: auditReasonCSRFMismatch,
		})
		return err
	}
	return nil
}
