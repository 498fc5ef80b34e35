package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/apperrors"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/config"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/grafana"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/kibana"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/logging"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/metrics"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/report"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse(args, Version, os.Stderr, config.TerminalPasswordPrompt(os.Stdin, os.Stderr))
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfig
	}

	if cfg.ShowVersion {
		fmt.Printf("%s %s\n", config.CommandName, cfg.Version)
		return exitOK
	}

	logger, err := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	logger = logger.With(zap.String("run_id", uuid.New().String()))
	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("kibana", logging.SanitizeURL(cfg.Kibana.URL)),
		zap.String("grafana", logging.SanitizeURL(cfg.Grafana.URL)),
		zap.String("elasticsearch", logging.SanitizeURL(cfg.ElasticsearchURL)),
		zap.String("username", cfg.Kibana.Username),
		zap.Bool("dry_run", cfg.DryRun()),
		zap.Duration("timeout", cfg.HTTPTimeout))

	excludes, err := config.CompileIgnorePatterns(cfg.Ignore)
	if err != nil {
		logger.Error("Invalid ignore pattern", zap.Error(err))
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	m := metrics.New()

	kibanaClient := kibana.NewClient(cfg.Kibana.URL, cfg.Kibana.Username, cfg.Kibana.Password, httpClient, m, logger)
	grafanaClient := grafana.NewClient(cfg.Grafana.URL, cfg.Grafana.Token, httpClient, m, logger)

	svc := services.NewMigrationService(kibanaClient, grafanaClient, services.MigrationOptions{
		ElasticsearchURL: cfg.ElasticsearchURL,
		Username:         cfg.Kibana.Username,
		Password:         cfg.Kibana.Password,
		Excludes:         excludes,
		DryRun:           cfg.DryRun(),
	}, m, logger)

	summary, err := svc.Run(ctx)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrKibanaUnavailable), errors.Is(err, apperrors.ErrKibanaListing):
			logger.Error("Error verifying Kibana API", zap.String("error", logging.SanitizeError(err)))
		case errors.Is(err, apperrors.ErrGrafanaUnavailable):
			logger.Error("Error verifying Grafana API", zap.String("error", logging.SanitizeError(err)))
		default:
			logger.Error("Run failed", zap.String("error", logging.SanitizeError(err)))
		}
		writeMetrics(cfg, m, logger)
		return exitFatal
	}

	if cfg.PlanFile != "" {
		if err := report.WritePlanFile(cfg.PlanFile, summary); err != nil {
			logger.Error("Failed to write plan", zap.String("path", cfg.PlanFile), zap.Error(err))
		} else {
			logger.Info("Wrote plan", zap.String("path", cfg.PlanFile))
		}
	}
	writeMetrics(cfg, m, logger)

	return exitOK
}

// writeMetrics is best effort; a failure never changes the exit status.
func writeMetrics(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) {
	if cfg.MetricsFile == "" {
		return
	}
	if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
		logger.Error("Failed to write metrics", zap.Error(err))
		return
	}
	logger.Debug("Wrote metrics", zap.String("path", cfg.MetricsFile))
}
