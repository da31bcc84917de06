package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Build deep-copies it, so later
// mutation by the caller has no effect on a running Engine.
type Config struct {
	Token    TokenConfig
	Session  SessionConfig
	Lockout  LockoutConfig
	CSRF     CSRFConfig
	Cache    CacheConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
	Security SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls minting and verification. Refresh keys are
// optional; when absent the access keys sign both kinds.
type TokenConfig struct {
	SigningMethod     string // "ed25519" (default) or "hs256"
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	AccessPrivateKey  []byte
	AccessPublicKey   []byte
	RefreshPrivateKey []byte
	RefreshPublicKey  []byte
	KeyID             string
	VerifyKeys        map[string][]byte
	Issuer            string
	Audience          string
	ClockSkew         time.Duration
	MaxFutureIAT      time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// ReplayPolicy decides how far a detected refresh-token replay revokes.
type ReplayPolicy string

const (
	// RevokeSession ends only the session the replayed token belonged to.
	RevokeSession ReplayPolicy = "revoke_session"
	// RevokeAllSessions ends every session of the user and writes a user cutoff.
	RevokeAllSessions ReplayPolicy = "revoke_all_sessions"
)

// SessionConfig controls the session registry.
type SessionConfig struct {
	KeyPrefix        string
	AbsoluteLifetime time.Duration
	ReplayPolicy     ReplayPolicy
	// DenyUserOnLogout writes a user cutoff on single-session logout in
	// addition to the session's own jtis, so access tokens minted earlier on
	// any device must be refreshed.
	DenyUserOnLogout   bool
	MaxSessionsPerUser int
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls failed-login lockout per (identity, origin).
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Window    time.Duration
}

/*
====================================
CSRF CONFIG
====================================
*/

// CSRFConfig controls double-submit token issuance.
type CSRFConfig struct {
	Enabled bool
	Secret  []byte
	TTL     time.Duration
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig bounds shared-cache calls and tunes denylist caching.
type CacheConfig struct {
	OperationTimeout time.Duration
	// DenylistLocalCacheSize enables an in-process cache of revoked jtis.
	DenylistLocalCacheSize int64
	// DenylistClientCacheTTL bounds rueidis client-side caching of denylist
	// reads. It only applies with WithRueidis.
	DenylistClientCacheTTL time.Duration
}

/*
====================================
AUDIT / METRICS / SECURITY CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig bounds calls to the external user collaborators.
type SecurityConfig struct {
	CredentialTimeout time.Duration
}

// DefaultConfig returns the baseline configuration. Key material and the
// CSRF secret must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			SigningMethod: "ed25519",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "authcore",
			ClockSkew:     30 * time.Second,
			MaxFutureIAT:  10 * time.Minute,
		},
		Session: SessionConfig{
			KeyPrefix:        "ac",
			AbsoluteLifetime: 30 * 24 * time.Hour,
			ReplayPolicy:     RevokeSession,
			DenyUserOnLogout: true,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Window:    10 * time.Minute,
		},
		CSRF: CSRFConfig{
			Enabled: false,
			TTL:     12 * time.Hour,
		},
		Cache: CacheConfig{
			OperationTimeout:       150 * time.Millisecond,
			DenylistClientCacheTTL: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			CredentialTimeout: 2 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.AccessPrivateKey = cloneBytes(cfg.Token.AccessPrivateKey)
	out.Token.AccessPublicKey = cloneBytes(cfg.Token.AccessPublicKey)
	out.Token.RefreshPrivateKey = cloneBytes(cfg.Token.RefreshPrivateKey)
	out.Token.RefreshPublicKey = cloneBytes(cfg.Token.RefreshPublicKey)
	if cfg.Token.VerifyKeys != nil {
		out.Token.VerifyKeys = make(map[string][]byte, len(cfg.Token.VerifyKeys))
		for kid, key := range cfg.Token.VerifyKeys {
			out.Token.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.CSRF.Secret = cloneBytes(cfg.CSRF.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks structural configuration. Key material is checked again,
// with a signing probe, when Build constructs the token codec.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be > AccessTTL")
	}
	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported Token signing method")
	}
	if len(c.Token.AccessPrivateKey) == 0 {
		return errors.New("Token AccessPrivateKey is required")
	}
	if c.Token.ClockSkew < 0 || c.Token.ClockSkew > 5*time.Minute {
		return errors.New("Token ClockSkew must be within [0, 5m]")
	}
	if c.Token.MaxFutureIAT < 0 {
		return errors.New("Token MaxFutureIAT must be >= 0")
	}

	// Session
	if c.Session.KeyPrefix == "" {
		return errors.New("Session KeyPrefix must not be empty")
	}
	if c.Session.AbsoluteLifetime < 0 {
		return errors.New("Session AbsoluteLifetime must be >= 0")
	}
	if c.Session.AbsoluteLifetime > 0 && c.Session.AbsoluteLifetime < c.Token.AccessTTL {
		return errors.New("Session AbsoluteLifetime must be >= Token AccessTTL")
	}
	switch c.Session.ReplayPolicy {
	case RevokeSession, RevokeAllSessions:
	default:
		return errors.New("Session ReplayPolicy is invalid")
	}
	if c.Session.MaxSessionsPerUser < 0 {
		return errors.New("Session MaxSessionsPerUser must be >= 0")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0")
		}
		if c.Lockout.Window <= 0 {
			return errors.New("Lockout Window must be > 0")
		}
	}

	// CSRF
	if c.CSRF.Enabled {
		if len(c.CSRF.Secret) < 32 {
			return errors.New("CSRF Secret must be at least 32 bytes")
		}
		if c.CSRF.TTL <= 0 {
			return errors.New("CSRF TTL must be > 0")
		}
	}

	// Cache
	if c.Cache.OperationTimeout <= 0 {
		return errors.New("Cache OperationTimeout must be > 0")
	}
	if c.Cache.DenylistLocalCacheSize < 0 {
		return errors.New("Cache DenylistLocalCacheSize must be >= 0")
	}
	if c.Cache.DenylistClientCacheTTL < 0 {
		return errors.New("Cache DenylistClientCacheTTL must be >= 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// Security
	if c.Security.CredentialTimeout <= 0 {
		return errors.New("Security CredentialTimeout must be > 0")
	}
	return nil
}
