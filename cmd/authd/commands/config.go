package commands

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/userdir"
	"github.com/MrEthical07/authcore/password"
)

// daemonConfig is the authd file layout. The auth section is the engine
// config and goes through authcore.DecodeConfig unchanged.
type daemonConfig struct {
	Server struct {
		Listen          string        `yaml:"listen"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		SecureCookies   bool          `yaml:"secure_cookies"`
		TenantHeader    string        `yaml:"tenant_header"`
		// TrustedProxies lists CIDRs or addresses whose X-Forwarded-For and
		// X-Real-IP headers are believed.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Redis struct {
		Addrs    []string `yaml:"addrs"`
		Username string   `yaml:"username"`
		Password string   `yaml:"password"`
		DB       int      `yaml:"db"`
		// ClientSideCache routes denylist reads through rueidis.
		ClientSideCache bool `yaml:"client_side_cache"`
	} `yaml:"redis"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Telemetry struct {
		Tracing     bool `yaml:"tracing"`
		OTelMetrics bool `yaml:"otel_metrics"`
	} `yaml:"telemetry"`
	RateLimit struct {
		RequestsPerWindow int           `yaml:"requests_per_window"`
		Window            time.Duration `yaml:"window"`
		Burst             int           `yaml:"burst"`
	} `yaml:"rate_limit"`
	Password password.Params `yaml:"password"`
	Users    []userdir.User  `yaml:"users"`
	Auth     yaml.Node       `yaml:"auth"`
}

func defaultDaemonConfig() daemonConfig {
	var dc daemonConfig
	dc.Server.Listen = ":8080"
	dc.Server.ReadTimeout = 10 * time.Second
	dc.Server.WriteTimeout = 10 * time.Second
	dc.Server.ShutdownTimeout = 15 * time.Second
	dc.Server.TenantHeader = "X-Tenant-ID"
	dc.Redis.Addrs = []string{"127.0.0.1:6379"}
	dc.Log.Level = "info"
	dc.Log.Format = "json"
	dc.RateLimit.RequestsPerWindow = 10
	dc.RateLimit.Window = time.Minute
	dc.RateLimit.Burst = 10
	dc.Password = password.DefaultParams()
	return dc
}

func loadDaemonConfig(path string) (daemonConfig, authcore.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return daemonConfig{}, authcore.Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return parseDaemonConfig(data)
}

func parseDaemonConfig(data []byte) (daemonConfig, authcore.Config, error) {
	dc := defaultDaemonConfig()
	if err := yaml.Unmarshal(data, &dc); err != nil {
		return daemonConfig{}, authcore.Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if dc.Auth.Kind == 0 {
		return daemonConfig{}, authcore.Config{}, errors.New("config: auth section is required")
	}
	if len(dc.Redis.Addrs) == 0 {
		return daemonConfig{}, authcore.Config{}, errors.New("config: redis.addrs is empty")
	}

	cfg, err := authcore.DecodeConfig(dc.Auth.Decode)
	if err != nil {
		return daemonConfig{}, authcore.Config{}, err
	}
	return dc, cfg, nil
}
