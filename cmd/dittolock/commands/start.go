package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittolock/internal/logger"
	"github.com/marmos91/dittolock/internal/telemetry"
	"github.com/marmos91/dittolock/pkg/api"
	"github.com/marmos91/dittolock/pkg/config"
	"github.com/marmos91/dittolock/pkg/lock/loopback"
	"github.com/marmos91/dittolock/pkg/metrics"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a lock node",
	Long: `Start a DittoLock node with the specified configuration.

The node runs an embedded lock server and one lock manager connected to it,
and serves the node API (health, lock diagnostics, metrics).

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/dittolock/config.yaml.

Examples:
  # Start with the default config
  dittolock start

  # Start with custom config file
  dittolock start --config /etc/dittolock/config.yaml

  # Start with environment variable overrides
  DITTOLOCK_LOGGING_LEVEL=DEBUG dittolock start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry (if enabled)
	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "dittolock",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	// Initialize Pyroscope profiling (if enabled)
	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "dittolock",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	fmt.Println("DittoLock - Greedy distributed lock client")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling enabled", "endpoint", cfg.Telemetry.Profiling.Endpoint, "profile_types", cfg.Telemetry.Profiling.ProfileTypes)
	}

	// Metrics must exist before the manager and gateway are created
	lockMetrics := config.InitializeMetrics(cfg)

	server := loopback.NewServer(cfg.LoopbackConfig())
	defer server.Close()

	manager, err := server.NewClient(cfg.ManagerConfig(), cfg.GatewayConfig(), lockMetrics)
	if err != nil {
		return fmt.Errorf("failed to connect lock manager: %w", err)
	}
	defer manager.Shutdown()

	logger.Info("Lock manager running",
		logger.ClientID(string(manager.ClientID())),
		logger.SessionID(uint64(manager.Session())))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, manager)
		g.Go(func() error { return apiServer.Start(gctx) })
	} else {
		logger.Info("API server disabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Port) })
	}

	// SIGHUP simulates a lock server failover; every node re-reports its
	// state in a reconnect handshake.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigChan:
				if sig == syscall.SIGHUP {
					logger.Info("Restarting lock server session")
					if err := server.Restart(gctx); err != nil {
						logger.Error("Lock server restart failed", logger.Err(err))
					}
					continue
				}
				logger.Info("Shutdown signal received, initiating graceful shutdown")
				cancel()
				return nil
			}
		}
	})

	logger.Info("Node is running. Press Ctrl+C to stop.")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		select {
		case runErr = <-done:
		case <-time.After(cfg.ShutdownTimeout):
			runErr = fmt.Errorf("shutdown timed out after %s", cfg.ShutdownTimeout)
		}
	}

	if runErr != nil {
		logger.Error("Node stopped with error", logger.Err(runErr))
		return runErr
	}
	logger.Info("Node stopped gracefully")
	return nil
}

// serveMetrics serves /metrics on a dedicated port until ctx is done.
func serveMetrics(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", logger.KeyAddress, srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}
