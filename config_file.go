package authcore

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of Config. Key material is given inline
// (plain text, PEM, or "base64:" prefixed) or as a path via the *_file
// fields.
type fileConfig struct {
	Token struct {
		SigningMethod     string            `yaml:"signing_method"`
		AccessTTL         time.Duration     `yaml:"access_ttl"`
		RefreshTTL        time.Duration     `yaml:"refresh_ttl"`
		AccessKey         string            `yaml:"access_key"`
		AccessKeyFile     string            `yaml:"access_key_file"`
		AccessPublicFile  string            `yaml:"access_public_key_file"`
		RefreshKey        string            `yaml:"refresh_key"`
		RefreshKeyFile    string            `yaml:"refresh_key_file"`
		RefreshPublicFile string            `yaml:"refresh_public_key_file"`
		KeyID             string            `yaml:"key_id"`
		VerifyKeyFiles    map[string]string `yaml:"verify_key_files"`
		Issuer            string            `yaml:"issuer"`
		Audience          string            `yaml:"audience"`
		ClockSkew         time.Duration     `yaml:"clock_skew"`
		MaxFutureIAT      time.Duration     `yaml:"max_future_iat"`
	} `yaml:"token"`
	Session struct {
		KeyPrefix          string        `yaml:"key_prefix"`
		AbsoluteLifetime   time.Duration `yaml:"absolute_lifetime"`
		ReplayPolicy       string        `yaml:"replay_policy"`
		DenyUserOnLogout   bool          `yaml:"deny_user_on_logout"`
		MaxSessionsPerUser int           `yaml:"max_sessions_per_user"`
	} `yaml:"session"`
	Lockout struct {
		Enabled   bool          `yaml:"enabled"`
		Threshold int           `yaml:"threshold"`
		Window    time.Duration `yaml:"window"`
	} `yaml:"lockout"`
	CSRF struct {
		Enabled bool          `yaml:"enabled"`
		Secret  string        `yaml:"secret"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"csrf"`
	Cache struct {
		OperationTimeout       time.Duration `yaml:"operation_timeout"`
		DenylistLocalCacheSize int64         `yaml:"denylist_local_cache_size"`
		DenylistClientCacheTTL time.Duration `yaml:"denylist_client_cache_ttl"`
	} `yaml:"cache"`
	Audit struct {
		Enabled    bool `yaml:"enabled"`
		BufferSize int  `yaml:"buffer_size"`
		DropIfFull bool `yaml:"drop_if_full"`
	} `yaml:"audit"`
	Metrics struct {
		Enabled                 bool `yaml:"enabled"`
		EnableLatencyHistograms bool `yaml:"latency_histograms"`
	} `yaml:"metrics"`
	Security struct {
		CredentialTimeout time.Duration `yaml:"credential_timeout"`
	} `yaml:"security"`
}

func fileConfigFrom(cfg Config) *fileConfig {
	fc := &fileConfig{}
	fc.Token.SigningMethod = cfg.Token.SigningMethod
	fc.Token.AccessTTL = cfg.Token.AccessTTL
	fc.Token.RefreshTTL = cfg.Token.RefreshTTL
	fc.Token.KeyID = cfg.Token.KeyID
	fc.Token.Issuer = cfg.Token.Issuer
	fc.Token.Audience = cfg.Token.Audience
	fc.Token.ClockSkew = cfg.Token.ClockSkew
	fc.Token.MaxFutureIAT = cfg.Token.MaxFutureIAT
	fc.Session.KeyPrefix = cfg.Session.KeyPrefix
	fc.Session.AbsoluteLifetime = cfg.Session.AbsoluteLifetime
	fc.Session.ReplayPolicy = string(cfg.Session.ReplayPolicy)
	fc.Session.DenyUserOnLogout = cfg.Session.DenyUserOnLogout
	fc.Session.MaxSessionsPerUser = cfg.Session.MaxSessionsPerUser
	fc.Lockout.Enabled = cfg.Lockout.Enabled
	fc.Lockout.Threshold = cfg.Lockout.Threshold
	fc.Lockout.Window = cfg.Lockout.Window
	fc.CSRF.Enabled = cfg.CSRF.Enabled
	fc.CSRF.TTL = cfg.CSRF.TTL
	fc.Cache.OperationTimeout = cfg.Cache.OperationTimeout
	fc.Cache.DenylistLocalCacheSize = cfg.Cache.DenylistLocalCacheSize
	fc.Cache.DenylistClientCacheTTL = cfg.Cache.DenylistClientCacheTTL
	fc.Audit.Enabled = cfg.Audit.Enabled
	fc.Audit.BufferSize = cfg.Audit.BufferSize
	fc.Audit.DropIfFull = cfg.Audit.DropIfFull
	fc.Metrics.Enabled = cfg.Metrics.Enabled
	fc.Metrics.EnableLatencyHistograms = cfg.Metrics.EnableLatencyHistograms
	fc.Security.CredentialTimeout = cfg.Security.CredentialTimeout
	return fc
}

func (fc *fileConfig) toConfig() (Config, error) {
	cfg := defaultConfig()
	var err error

	cfg.Token.SigningMethod = strings.ToLower(fc.Token.SigningMethod)
	cfg.Token.AccessTTL = fc.Token.AccessTTL
	cfg.Token.RefreshTTL = fc.Token.RefreshTTL
	cfg.Token.KeyID = fc.Token.KeyID
	cfg.Token.Issuer = fc.Token.Issuer
	cfg.Token.Audience = fc.Token.Audience
	cfg.Token.ClockSkew = fc.Token.ClockSkew
	cfg.Token.MaxFutureIAT = fc.Token.MaxFutureIAT
	if cfg.Token.AccessPrivateKey, err = keyMaterial(fc.Token.AccessKey, fc.Token.AccessKeyFile); err != nil {
		return Config{}, fmt.Errorf("token access key: %w", err)
	}
	if cfg.Token.AccessPublicKey, err = keyMaterial("", fc.Token.AccessPublicFile); err != nil {
		return Config{}, fmt.Errorf("token access public key: %w", err)
	}
	if cfg.Token.RefreshPrivateKey, err = keyMaterial(fc.Token.RefreshKey, fc.Token.RefreshKeyFile); err != nil {
		return Config{}, fmt.Errorf("token refresh key: %w", err)
	}
	if cfg.Token.RefreshPublicKey, err = keyMaterial("", fc.Token.RefreshPublicFile); err != nil {
		return Config{}, fmt.Errorf("token refresh public key: %w", err)
	}
	if len(fc.Token.VerifyKeyFiles) > 0 {
		cfg.Token.VerifyKeys = make(map[string][]byte, len(fc.Token.VerifyKeyFiles))
		for kid, path := range fc.Token.VerifyKeyFiles {
			key, err := keyMaterial("", path)
			if err != nil {
				return Config{}, fmt.Errorf("token verify key %q: %w", kid, err)
			}
			cfg.Token.VerifyKeys[kid] = key
		}
	}

	cfg.Session.KeyPrefix = fc.Session.KeyPrefix
	cfg.Session.AbsoluteLifetime = fc.Session.AbsoluteLifetime
	cfg.Session.ReplayPolicy = ReplayPolicy(fc.Session.ReplayPolicy)
	cfg.Session.DenyUserOnLogout = fc.Session.DenyUserOnLogout
	cfg.Session.MaxSessionsPerUser = fc.Session.MaxSessionsPerUser

	cfg.Lockout.Enabled = fc.Lockout.Enabled
	cfg.Lockout.Threshold = fc.Lockout.Threshold
	cfg.Lockout.Window = fc.Lockout.Window

	cfg.CSRF.Enabled = fc.CSRF.Enabled
	cfg.CSRF.TTL = fc.CSRF.TTL
	if cfg.CSRF.Secret, err = keyMaterial(fc.CSRF.Secret, ""); err != nil {
		return Config{}, fmt.Errorf("csrf secret: %w", err)
	}

	cfg.Cache.OperationTimeout = fc.Cache.OperationTimeout
	cfg.Cache.DenylistLocalCacheSize = fc.Cache.DenylistLocalCacheSize
	cfg.Cache.DenylistClientCacheTTL = fc.Cache.DenylistClientCacheTTL

	cfg.Audit.Enabled = fc.Audit.Enabled
	cfg.Audit.BufferSize = fc.Audit.BufferSize
	cfg.Audit.DropIfFull = fc.Audit.DropIfFull

	cfg.Metrics.Enabled = fc.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = fc.Metrics.EnableLatencyHistograms

	cfg.Security.CredentialTimeout = fc.Security.CredentialTimeout
	return cfg, nil
}

func keyMaterial(inline, path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return data, nil
	}
	if inline == "" {
		return nil, nil
	}
	if rest, ok := strings.CutPrefix(inline, "base64:"); ok {
		return base64.StdEncoding.DecodeString(rest)
	}
	return []byte(inline), nil
}

// LoadConfig reads a YAML file into a Config. Loading starts from
// DefaultConfig, applies the file, then AUTHCORE_* environment overrides,
// then validates.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig over an in-memory YAML document.
func ParseConfig(data []byte) (Config, error) {
	return DecodeConfig(func(v any) error { return yaml.Unmarshal(data, v) })
}

// DecodeConfig runs the LoadConfig pipeline with a caller-supplied decoder,
// such as (*yaml.Node).Decode for a config embedded in a larger document.
func DecodeConfig(decode func(any) error) (Config, error) {
	fc := fileConfigFrom(defaultConfig())
	if err := decode(fc); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	applyEnvOverrides(fc)

	cfg, err := fc.toConfig()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(fc *fileConfig) {
	if v := os.Getenv("AUTHCORE_TOKEN_SIGNING_METHOD"); v != "" {
		fc.Token.SigningMethod = v
	}
	if v := os.Getenv("AUTHCORE_TOKEN_ACCESS_KEY"); v != "" {
		fc.Token.AccessKey = v
		fc.Token.AccessKeyFile = ""
	}
	if v := os.Getenv("AUTHCORE_TOKEN_REFRESH_KEY"); v != "" {
		fc.Token.RefreshKey = v
		fc.Token.RefreshKeyFile = ""
	}
	if v := os.Getenv("AUTHCORE_TOKEN_ISSUER"); v != "" {
		fc.Token.Issuer = v
	}
	if v := os.Getenv("AUTHCORE_CSRF_SECRET"); v != "" {
		fc.CSRF.Secret = v
	}
	if v := os.Getenv("AUTHCORE_SESSION_KEY_PREFIX"); v != "" {
		fc.Session.KeyPrefix = v
	}
	if v := os.Getenv("AUTHCORE_LOCKOUT_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			fc.Lockout.Threshold = n
		}
	}
	if v := os.Getenv("AUTHCORE_LOCKOUT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			fc.Lockout.Window = d
		}
	}
}
