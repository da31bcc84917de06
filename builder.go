package authcore

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/MrEthical07/authcore/csrf"
	"github.com/MrEthical07/authcore/denylist"
	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/flows"
	"github.com/MrEthical07/authcore/internal/limiters"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
	"github.com/redis/go-redis/v9"
	"github.com/redis/rueidis"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/MrEthical07/authcore"

// Builder collects collaborators and configuration for an Engine. A Builder
// is single use.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	rueid  rueidis.Client

	verifier  CredentialVerifier
	userState UserStateProvider
	auditSink AuditSink
	logger    *slog.Logger
	tracer    trace.TracerProvider
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is deep-copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared cache. It is required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRueidis routes denylist reads through a rueidis client with
// client-side caching bounded by Cache.DenylistClientCacheTTL. Sessions and
// lockout counters stay on the WithRedis client.
func (b *Builder) WithRueidis(client rueidis.Client) *Builder {
	b.rueid = client
	return b
}

// WithCredentialVerifier sets the login collaborator. It is required.
func (b *Builder) WithCredentialVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

// WithUserStateProvider enables ban checks on Login, Refresh and Authorize.
func (b *Builder) WithUserStateProvider(p UserStateProvider) *Builder {
	b.userState = p
	return b
}

// WithAuditSink sets where audit events go when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithTracerProvider enables spans for Login, Refresh, Logout and Authorize.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

func (b *Builder) withClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, constructs every component and probes
// the signing keys. It fails with an error wrapping ErrSigning on unusable
// key material.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.verifier == nil {
		return nil, errors.New("credential verifier required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tp := b.tracer
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	// -------- TOKEN CODEC --------
	codec, err := token.NewCodec(token.Config{
		SigningMethod: token.SigningMethod(cfg.Token.SigningMethod),
		Access: token.KeySet{
			PrivateKey: cloneBytes(cfg.Token.AccessPrivateKey),
			PublicKey:  cloneBytes(cfg.Token.AccessPublicKey),
			KeyID:      cfg.Token.KeyID,
			VerifyKeys: cfg.Token.VerifyKeys,
		},
		Refresh: token.KeySet{
			PrivateKey: cloneBytes(cfg.Token.RefreshPrivateKey),
			PublicKey:  cloneBytes(cfg.Token.RefreshPublicKey),
			KeyID:      cfg.Token.KeyID,
		},
		Issuer:       cfg.Token.Issuer,
		Audience:     cfg.Token.Audience,
		ClockSkew:    cfg.Token.ClockSkew,
		MaxFutureIAT: cfg.Token.MaxFutureIAT,
		Now:          now,
	})
	if err != nil {
		return nil, err
	}

	// -------- SESSION REGISTRY --------
	store := session.NewStore(b.redis, session.Options{
		Prefix:             cfg.Session.KeyPrefix,
		AbsoluteLifetime:   cfg.Session.AbsoluteLifetime,
		MaxSessionsPerUser: cfg.Session.MaxSessionsPerUser,
		Now:                now,
	})

	// -------- DENYLIST --------
	var backend denylist.Backend = denylist.NewRedisBackend(b.redis)
	if b.rueid != nil {
		backend = denylist.NewRueidisBackend(b.rueid, cfg.Cache.DenylistClientCacheTTL)
	}
	deny, err := denylist.New(backend, denylist.Options{
		Prefix:         cfg.Session.KeyPrefix,
		ClockSkew:      cfg.Token.ClockSkew,
		UserTTL:        cfg.Token.AccessTTL,
		LocalCacheSize: cfg.Cache.DenylistLocalCacheSize,
	})
	if err != nil {
		return nil, err
	}

	// -------- CSRF --------
	var guard *csrf.Guard
	if cfg.CSRF.Enabled {
		guard, err = csrf.New(cfg.CSRF.Secret, cfg.CSRF.TTL)
		if err != nil {
			deny.Close()
			return nil, err
		}
		guard = guard.WithClock(now)
	}

	engine := &Engine{
		config:    cfg,
		codec:     codec,
		sessions:  store,
		denylist:  deny,
		csrf:      guard,
		verifier:  b.verifier,
		userState: b.userState,
		logger:    logger,
		tracer:    tp.Tracer(tracerName),
		now:       now,
		metrics:   NewMetrics(cfg.Metrics),
		audit: internalaudit.NewDispatcher(internalaudit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		lockout: limiters.NewLockoutLimiter(b.redis, limiters.LockoutConfig{
			Enabled:   cfg.Lockout.Enabled,
			Threshold: cfg.Lockout.Threshold,
			Window:    cfg.Lockout.Window,
			Prefix:    cfg.Session.KeyPrefix,
		}),
	}
	engine.flows = flows.New(engine.buildFlowDeps())

	b.built = true
	return engine, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	timeouts := flows.Timeouts{
		Cache:      e.config.Cache.OperationTimeout,
		Credential: e.config.Security.CredentialTimeout,
	}
	var banned flows.UserBanned
	if e.userState != nil {
		banned = e.userState.IsUserBanned
	}
	var limiter flows.LoginLimiter
	if e.config.Lockout.Enabled {
		limiter = e.lockout
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			Timeouts:               timeouts,
			TenantIDFromContext:    tenantIDFromContext,
			OriginFromContext:      originFromContext,
			DeviceScopeFromContext: deviceScopeFromContext,
			NewScopeID:             internal.NewScopeID,
			VerifyCredential:       e.verifyCredential,
			InvalidCredentials:     ErrInvalidCredentials,
			IsUserBanned:           banned,
			IssuePair:              e.issuePair,
			Limiter:                limiter,
			SessionStore:           e.sessions,
			SessionLimit:           session.ErrSessionLimit,
			Warn:                   e.logger.Warn,
		},
		Refresh: flows.RefreshDeps{
			Timeouts: timeouts,
			VerifyRefresh: func(raw string) (*token.Claims, error) {
				return e.codec.Verify(raw, token.KindRefresh)
			},
			IsUserBanned: banned,
			IssuePair:    e.issuePair,
			SessionStore: e.sessions,
		},
		Authorize: flows.AuthorizeDeps{
			Timeouts: timeouts,
			VerifyAccess: func(raw string) (*token.Claims, error) {
				return e.codec.Verify(raw, token.KindAccess)
			},
			Denylist:     e.denylist,
			IsUserBanned: banned,
		},
		Logout: flows.LogoutDeps{
			Timeouts:         timeouts,
			Now:              e.now,
			SessionStore:     e.sessions,
			Denylist:         e.denylist,
			DenyUserOnLogout: e.config.Session.DenyUserOnLogout,
		},
		Introspection: flows.IntrospectionDeps{
			Timeouts:     timeouts,
			SessionStore: e.sessions,
			Limiter:      limiter,
			Denylist:     e.denylist,
		},
	}
}
