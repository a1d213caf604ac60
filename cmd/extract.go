package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/keboola/sklik-extractor/internal/apptracker"
	"github.com/keboola/sklik-extractor/internal/apptracker/dryrun"
	"github.com/keboola/sklik-extractor/internal/apptracker/sentry"
	"github.com/keboola/sklik-extractor/internal/config"
	"github.com/keboola/sklik-extractor/internal/extractor"
	"github.com/keboola/sklik-extractor/internal/metrics"
	"github.com/keboola/sklik-extractor/internal/sklik"
	"github.com/keboola/sklik-extractor/internal/storage"
	"github.com/keboola/sklik-extractor/internal/utils"
)

const sentryFlushSeconds = 5

type extractConfigs struct {
	DataDir     string
	ConfigPath  string
	APIURL      string
	LogLevel    string
	MetricsPort int
	SentryDSN   string
	Environment string
}

type extractCmd struct{}

func (c *extractCmd) Command() *cobra.Command {
	cfg := extractConfigs{}
	v := viper.New()
	v.SetEnvPrefix("SKLIK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run the report extraction",
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				return fmt.Errorf("binding flags: %w", err)
			}
			cfg.DataDir = v.GetString("data-dir")
			cfg.ConfigPath = v.GetString("config-path")
			cfg.APIURL = v.GetString("api-url")
			cfg.LogLevel = v.GetString("log-level")
			cfg.MetricsPort = v.GetInt("metrics-port")
			cfg.SentryDSN = v.GetString("sentry-dsn")
			cfg.Environment = v.GetString("environment")
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return c.Run(cfg)
		},
	}

	cmd.Flags().String("data-dir", "/data", "Directory holding config.json and receiving out/tables")
	cmd.Flags().String("config-path", "", "Path to the run configuration, defaults to <data-dir>/config.json")
	cmd.Flags().String("api-url", sklik.DefaultAPIURL, "Base URL of the Sklik API")
	cmd.Flags().String("log-level", "info", "Log severity (trace, debug, info, warn, error)")
	cmd.Flags().Int("metrics-port", 0, "Port to expose Prometheus metrics on, 0 disables the listener")
	cmd.Flags().String("sentry-dsn", "", "Sentry DSN, errors are only logged when empty")
	cmd.Flags().String("environment", "production", "Deployment environment reported to Sentry")

	return cmd
}

func (c *extractCmd) Run(cfg extractConfigs) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parsing log level %q: %w", cfg.LogLevel, err)
	}
	logger.SetLevel(level)

	configPath := cfg.ConfigPath
	if configPath == "" {
		configPath = filepath.Join(cfg.DataDir, "config.json")
	}
	runCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	var tracker apptracker.AppTracker
	if cfg.SentryDSN != "" {
		tracker, err = sentry.NewSentryTracker(cfg.SentryDSN, cfg.Environment, sentryFlushSeconds)
		if err != nil {
			return fmt.Errorf("setting up sentry: %w", err)
		}
	} else {
		tracker = &dryrun.DryRunTracker{Logger: logger}
	}

	metricsService := metrics.NewMetricsService()
	if cfg.MetricsPort > 0 {
		go serveMetrics(logger, metricsService, cfg.MetricsPort)
	}

	client, err := sklik.NewClient(cfg.APIURL, &http.Client{}, logger, metricsService)
	if err != nil {
		return fmt.Errorf("creating API client: %w", err)
	}

	outDir := filepath.Join(cfg.DataDir, "out", "tables")
	if err = os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory %s: %w", outDir, err)
	}
	store := storage.NewUserStorage(outDir)

	ctx := context.Background()
	if runCfg.UsesTokenLogin() {
		err = client.LoginByToken(ctx, runCfg.Token)
	} else {
		err = client.LoginWithPassword(ctx, runCfg.Username, runCfg.Password)
	}
	if err != nil {
		return fmt.Errorf("logging in: %w", err)
	}
	defer client.Logout(ctx)
	defer utils.DeferredClose(store, "closing storage")

	ext, err := extractor.NewExtractor(client, store, logger, tracker, metricsService)
	if err != nil {
		return fmt.Errorf("creating extractor: %w", err)
	}
	if err = ext.Run(ctx, runCfg); err != nil {
		return fmt.Errorf("running extraction: %w", err)
	}

	logger.Info("Extraction finished.")
	return nil
}

func serveMetrics(logger *logrus.Logger, metricsService metrics.MetricsService, port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metricsService.GetRegistry(), promhttp.HandlerOpts{}))
	if err := http.ListenAndServe(fmt.Sprintf(":%d", port), mux); err != nil {
		logger.WithError(err).Error("metrics listener stopped")
	}
}
