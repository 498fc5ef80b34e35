package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/grafana"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/kibana"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/logging"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/metrics"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/models"
)

// IndexPatternSource is the Kibana side of a migration.
type IndexPatternSource interface {
	// DetectDialect probes which saved objects API the instance speaks.
	DetectDialect(ctx context.Context) (kibana.Dialect, error)

	// ListIndexPatterns returns every index pattern across all pages.
	ListIndexPatterns(ctx context.Context, dialect kibana.Dialect) ([]models.IndexPattern, error)
}

// DatasourceSink is the Grafana side of a migration.
type DatasourceSink interface {
	// CheckAPI verifies the datasources API is reachable.
	CheckAPI(ctx context.Context) error

	// CreateDatasource creates one datasource; it never updates an existing one.
	CreateDatasource(ctx context.Context, ds *models.Datasource) error
}

// MigrationOptions carries the already resolved run settings.
type MigrationOptions struct {
	ElasticsearchURL string
	Username         string
	Password         string
	Excludes         []*regexp.Regexp
	DryRun           bool
}

// Outcome of a single datasource in a run.
type Outcome string

const (
	OutcomePlanned Outcome = "planned"
	OutcomeCreated Outcome = "created"
	OutcomeFailed  Outcome = "failed"
)

// DatasourceResult records what happened to one retained index pattern.
type DatasourceResult struct {
	Pattern    models.IndexPattern
	Datasource *models.Datasource
	Outcome    Outcome
	StatusCode int    // Grafana status for failed creations, 0 on transport errors
	Error      string // Sanitized failure detail
}

// MigrationSummary is the result of a run.
// Created is Retained minus Failed in both modes, so a dry run reports every
// retained pattern as created even though Attempted is zero.
type MigrationSummary struct {
	DryRun     bool
	Dialect    kibana.Dialect
	Discovered int
	Retained   int
	Attempted  int
	Created    int
	Failed     int
	Skipped    []SkippedPattern
	Results    []DatasourceResult
}

// MigrationService runs the Kibana to Grafana migration.
type MigrationService interface {
	// Run probes both APIs, lists and filters index patterns and creates a
	// datasource per retained pattern (or only plans them in dry run).
	// Only probe and listing failures are returned as errors; per-datasource
	// failures are counted in the summary.
	Run(ctx context.Context) (*MigrationSummary, error)
}

type migrationService struct {
	source  IndexPatternSource
	sink    DatasourceSink
	opts    MigrationOptions
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewMigrationService creates a migration service. A nil m gets a fresh,
// unexported metrics set.
func NewMigrationService(
	source IndexPatternSource,
	sink DatasourceSink,
	opts MigrationOptions,
	m *metrics.Metrics,
	logger *zap.Logger,
) MigrationService {
	if m == nil {
		m = metrics.New()
	}
	return &migrationService{
		source:  source,
		sink:    sink,
		opts:    opts,
		metrics: m,
		logger:  logger.Named("migration"),
		now:     time.Now,
	}
}

func (s *migrationService) Run(ctx context.Context) (*MigrationSummary, error) {
	rules := make([]string, 0, len(s.opts.Excludes))
	for _, re := range s.opts.Excludes {
		rules = append(rules, re.String())
	}
	s.logger.Info("Using exclusion rules",
		zap.String("rules", strings.Join(rules, ", ")),
		zap.Bool("dry_run", s.opts.DryRun))

	dialect, err := s.source.DetectDialect(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.sink.CheckAPI(ctx); err != nil {
		return nil, err
	}

	patterns, err := s.source.ListIndexPatterns(ctx, dialect)
	if err != nil {
		return nil, err
	}
	s.metrics.PatternsDiscovered.Add(float64(len(patterns)))

	kept, skipped := FilterIndexPatterns(patterns, s.opts.Excludes, s.logger)
	for _, sp := range skipped {
		s.metrics.PatternsSkipped.WithLabelValues(sp.Metric).Inc()
	}

	summary := &MigrationSummary{
		DryRun:     s.opts.DryRun,
		Dialect:    dialect,
		Discovered: len(patterns),
		Retained:   len(kept),
		Skipped:    skipped,
		Results:    make([]DatasourceResult, 0, len(kept)),
	}

	for i, p := range kept {
		summary.Results = append(summary.Results, s.createOne(ctx, i+1, len(kept), p))
	}

	for _, r := range summary.Results {
		if r.Outcome == OutcomeFailed {
			summary.Failed++
		}
	}
	if !s.opts.DryRun {
		summary.Attempted = len(kept)
	}
	summary.Created = summary.Retained - summary.Failed

	s.metrics.MarkRunFinished(s.opts.DryRun, s.now())

	msg := "Finished"
	if s.opts.DryRun {
		msg = "Finished (dry run, nothing created)"
	}
	s.logger.Info(msg,
		zap.Int("created", summary.Created),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", len(skipped)),
		zap.Int("discovered", summary.Discovered))

	return summary, nil
}

// createOne builds the payload for one pattern and, outside dry run, POSTs it.
// Failures are recorded, never returned, so the loop always continues.
func (s *migrationService) createOne(ctx context.Context, index, total int, p models.IndexPattern) DatasourceResult {
	ds := models.NewElasticsearchDatasource(p, s.opts.ElasticsearchURL, s.opts.Username, s.opts.Password)
	result := DatasourceResult{Pattern: p, Datasource: ds}

	fields := []zap.Field{
		zap.String("progress", fmt.Sprintf("%d/%d", index, total)),
		zap.String("pattern", p.Name),
		zap.String("datasource", ds.Name),
	}

	if s.opts.DryRun {
		s.logger.Info("Creating source (dry run, nothing done)", fields...)
		s.metrics.DatasourcesPlanned.Inc()
		result.Outcome = OutcomePlanned
		return result
	}

	s.logger.Info("Creating source", fields...)

	err := s.sink.CreateDatasource(ctx, ds)
	if err == nil {
		s.logger.Info("Created datasource", zap.String("pattern", p.Name))
		s.metrics.DatasourcesCreated.Inc()
		result.Outcome = OutcomeCreated
		return result
	}

	s.metrics.DatasourcesFailed.Inc()
	result.Outcome = OutcomeFailed
	result.Error = logging.SanitizeError(err)

	var statusErr *grafana.StatusError
	if errors.As(err, &statusErr) {
		result.StatusCode = statusErr.StatusCode
		s.logger.Warn("Failed to create datasource",
			zap.String("pattern", p.Name),
			zap.Int("status", statusErr.StatusCode),
			zap.String("response", logging.SanitizeBody(statusErr.Body)))
		return result
	}

	s.logger.Warn("Failed to create datasource",
		zap.String("pattern", p.Name),
		zap.String("error", result.Error))
	return result
}
