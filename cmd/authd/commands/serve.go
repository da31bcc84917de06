package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/redis/rueidis"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/internal/logx"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/userdir"
	"github.com/MrEthical07/authcore/middleware"
	otelexport "github.com/MrEthical07/authcore/metrics/export/otel"
	promexport "github.com/MrEthical07/authcore/metrics/export/prometheus"
	"github.com/MrEthical07/authcore/password"
)

// ServeCommand starts the HTTP daemon.
func ServeCommand() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authentication HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dc, cfg, err := loadDaemonConfig(configFile)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, dc, cfg)
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "authd.yaml", "path to the daemon config file")
	return cmd
}

func run(ctx context.Context, dc daemonConfig, cfg authcore.Config) error {
	logger := logx.New(logx.Config{
		Service: "authd",
		Version: version,
		Level:   dc.Log.Level,
		Format:  dc.Log.Format,
	})

	hasher, err := password.NewHasher(dc.Password)
	if err != nil {
		return fmt.Errorf("password params: %w", err)
	}
	users, err := userdir.New(hasher, dc.Users)
	if err != nil {
		return fmt.Errorf("user directory: %w", err)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    dc.Redis.Addrs,
		Username: dc.Redis.Username,
		Password: dc.Redis.Password,
		DB:       dc.Redis.DB,
	})
	defer rdb.Close()

	builder := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialVerifier(users).
		WithUserStateProvider(users).
		WithLogger(logger)

	if dc.Redis.ClientSideCache {
		rc, err := rueidis.NewClient(rueidis.ClientOption{
			InitAddress: dc.Redis.Addrs,
			Username:    dc.Redis.Username,
			Password:    dc.Redis.Password,
			SelectDB:    dc.Redis.DB,
		})
		if err != nil {
			return fmt.Errorf("rueidis client: %w", err)
		}
		defer rc.Close()
		builder = builder.WithRueidis(rc)
	}
	if cfg.Audit.Enabled {
		builder = builder.WithAuditSink(authcore.NewJSONWriterSink(os.Stdout))
	}
	if dc.Telemetry.Tracing {
		builder = builder.WithTracerProvider(otel.GetTracerProvider())
	}

	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}
	defer engine.Close()

	if dc.Telemetry.OTelMetrics {
		exp, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("authd"), engine)
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
		defer exp.Close()
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		if metricsHandler, err = promexport.Handler(engine); err != nil {
			return fmt.Errorf("prometheus metrics: %w", err)
		}
	}

	limiter, err := rate.New(rate.Config{
		RequestsPerWindow: dc.RateLimit.RequestsPerWindow,
		Window:            dc.RateLimit.Window,
		Burst:             dc.RateLimit.Burst,
	})
	if err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	proxies, err := middleware.ParseTrustedProxies(dc.Server.TrustedProxies)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}

	srv := &server{
		engine:  engine,
		users:   users,
		limiter: limiter,
		metrics: metricsHandler,
		logger:  logger,
		opts: serverOptions{
			SecureCookies: dc.Server.SecureCookies,
			TenantHeader:  dc.Server.TenantHeader,
			Proxies:       proxies,
		},
	}
	httpServer := &http.Server{
		Addr:              dc.Server.Listen,
		Handler:           srv.routes(),
		ReadTimeout:       dc.Server.ReadTimeout,
		ReadHeaderTimeout: dc.Server.ReadTimeout,
		WriteTimeout:      dc.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authd listening", "addr", dc.Server.Listen, "users", len(dc.Users))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("authd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), dc.Server.ShutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
