package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/resubd/resubd/pkg/config"
	"github.com/resubd/resubd/pkg/logging"
	"github.com/resubd/resubd/pkg/metrics"
	"github.com/resubd/resubd/pkg/proxy"
	"github.com/resubd/resubd/pkg/subscription"
)

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configPath string
	listen     string
	upstream   string
	logLevel   string
	logFormat  string
}

var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the subscription proxy",
	Long: `Run the proxy in the foreground until SIGINT/SIGTERM.

The proxy listens for WebSocket GraphQL clients, relays their traffic to the
upstream server, and tracks every subscription named in the configuration.
When the upstream leg drops, it reconnects with backoff and resumes each
tracked subscription from its last observed cursor.`,
	Example: `  # Start with a config file
  resubd serve --config resubd.yaml

  # Override the listen address and upstream from the command line
  resubd serve --config resubd.yaml --listen :8080 --upstream ws://api:4000/graphql

  # JSON logs for ingestion
  resubd serve --config resubd.yaml --log-format json`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML or JSON) [required]")
	serveCmd.Flags().StringVar(&f.listen, "listen", "", "Listen address (overrides config)")
	serveCmd.Flags().StringVar(&f.upstream, "upstream", "", "Upstream ws:// URL (overrides config)")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error; overrides config)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "", "Log format (text, json; overrides config)")

	_ = serveCmd.MarkFlagRequired("config")

	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	f := &serveFlagVals

	cfg, err := loadConfigWithOverrides(f)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: logging.ParseFormat(cfg.Log.Format),
	})

	registry := subscription.NewRegistry(cfg.Subscriptions, log)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsSrv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, m, log)
		if err := metricsSrv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(ctx)
		}()
	}

	srv := proxy.NewServer(proxy.Config{
		ListenAddr:       cfg.Listen,
		Path:             cfg.Path,
		UpstreamURL:      cfg.Upstream,
		HandshakeTimeout: cfg.HandshakeTimeout.Duration(),
		Reconnect: proxy.ReconnectConfig{
			InitialDelay: cfg.Reconnect.InitialDelay.Duration(),
			MaxDelay:     cfg.Reconnect.MaxDelay.Duration(),
			MaxAttempts:  cfg.Reconnect.MaxAttempts,
		},
	}, registry, m, log)

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start proxy: %w", err)
	}

	log.Info("resubd started",
		"listen", srv.Addr(),
		"path", cfg.Path,
		"upstream", cfg.Upstream,
		"subscriptions", len(cfg.Subscriptions),
	)

	// Wait for shutdown signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// loadConfigWithOverrides loads the config file and applies flag overrides
// before re-validating.
func loadConfigWithOverrides(f *serveFlags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f.listen != "" {
		cfg.Listen = f.listen
	}
	if f.upstream != "" {
		cfg.Upstream = f.upstream
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
