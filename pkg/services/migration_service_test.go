package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/apperrors"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/grafana"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/kibana"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/metrics"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/models"
)

// mockIndexPatternSource is a configurable mock for testing.
type mockIndexPatternSource struct {
	dialect   kibana.Dialect
	patterns  []models.IndexPattern
	detectErr error
	listErr   error

	// Capture inputs for verification
	detectCalls     int
	listCalls       int
	capturedDialect kibana.Dialect
}

func (m *mockIndexPatternSource) DetectDialect(ctx context.Context) (kibana.Dialect, error) {
	m.detectCalls++
	return m.dialect, m.detectErr
}

func (m *mockIndexPatternSource) ListIndexPatterns(ctx context.Context, dialect kibana.Dialect) ([]models.IndexPattern, error) {
	m.listCalls++
	m.capturedDialect = dialect
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.patterns, nil
}

// mockDatasourceSink is a configurable mock for testing.
type mockDatasourceSink struct {
	checkErr error
	// createErrs maps datasource names to the error CreateDatasource returns
	createErrs map[string]error

	checkCalls int
	created    []*models.Datasource
}

func (m *mockDatasourceSink) CheckAPI(ctx context.Context) error {
	m.checkCalls++
	return m.checkErr
}

func (m *mockDatasourceSink) CreateDatasource(ctx context.Context, ds *models.Datasource) error {
	m.created = append(m.created, ds)
	return m.createErrs[ds.Name]
}

func defaultOptions() MigrationOptions {
	return MigrationOptions{
		ElasticsearchURL: "http://es.example.com:9200",
		Username:         "alice",
		Password:         "s3cret",
	}
}

func newTestService(source *mockIndexPatternSource, sink *mockDatasourceSink, opts MigrationOptions, m *metrics.Metrics, logger *zap.Logger) *migrationService {
	svc := NewMigrationService(source, sink, opts, m, logger).(*migrationService)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }
	return svc
}

func TestMigrationService_Run_LiveSingleSuccess(t *testing.T) {
	source := &mockIndexPatternSource{
		dialect:  kibana.DialectFind,
		patterns: []models.IndexPattern{{ID: "1", Name: "sales-logs", TimeField: "@timestamp"}},
	}
	sink := &mockDatasourceSink{}

	summary, err := newTestService(source, sink, defaultOptions(), nil, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 1, summary.Attempted)
	assert.Equal(t, kibana.DialectFind, source.capturedDialect)

	require.Len(t, sink.created, 1)
	ds := sink.created[0]
	assert.Equal(t, "ES - sales-logs", ds.Name)
	assert.Equal(t, "sales-logs", ds.Database)
	assert.Equal(t, "@timestamp", ds.JSONData.TimeField)
	assert.Equal(t, "alice", ds.BasicAuthUser)
	assert.Equal(t, "s3cret", ds.BasicAuthPassword)
	assert.Equal(t, "http://es.example.com:9200", ds.URL)

	require.Len(t, summary.Results, 1)
	assert.Equal(t, OutcomeCreated, summary.Results[0].Outcome)
}

func TestMigrationService_Run_FailureDoesNotAbortLoop(t *testing.T) {
	source := &mockIndexPatternSource{
		patterns: []models.IndexPattern{{Name: "a"}, {Name: "b"}, {Name: "c"}},
	}
	sink := &mockDatasourceSink{createErrs: map[string]error{
		"ES - b": &grafana.StatusError{StatusCode: http.StatusConflict, Body: []byte(`{"message":"data source with the same name already exists"}`)},
	}}
	core, logs := observer.New(zap.InfoLevel)
	m := metrics.New()

	summary, err := newTestService(source, sink, defaultOptions(), m, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sink.created, 3, "every retained pattern is attempted")
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, summary.Retained, summary.Created+summary.Failed)

	assert.Equal(t, OutcomeCreated, summary.Results[0].Outcome)
	assert.Equal(t, OutcomeFailed, summary.Results[1].Outcome)
	assert.Equal(t, http.StatusConflict, summary.Results[1].StatusCode)
	assert.Equal(t, OutcomeCreated, summary.Results[2].Outcome)

	failures := logs.FilterMessage("Failed to create datasource").All()
	require.Len(t, failures, 1)
	assert.Equal(t, int64(http.StatusConflict), failures[0].ContextMap()["status"])
	assert.Contains(t, failures[0].ContextMap()["response"], "already exists")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DatasourcesCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DatasourcesFailed))
}

func TestMigrationService_Run_TransportErrorCountsAsFailure(t *testing.T) {
	source := &mockIndexPatternSource{patterns: []models.IndexPattern{{Name: "a"}, {Name: "b"}}}
	sink := &mockDatasourceSink{createErrs: map[string]error{
		"ES - a": errors.New(`failed to call grafana: Post "http://admin:pw@grafana/api/datasources": connection refused`),
	}}

	summary, err := newTestService(source, sink, defaultOptions(), nil, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Results[0].StatusCode)
	assert.NotContains(t, summary.Results[0].Error, "admin:pw")
}

func TestMigrationService_Run_DryRunIssuesNoCreates(t *testing.T) {
	source := &mockIndexPatternSource{
		patterns: []models.IndexPattern{{Name: "a"}, {Name: ".kibana"}, {Name: "b", TimeField: "ts"}, {Name: "c"}},
	}
	sink := &mockDatasourceSink{}
	opts := defaultOptions()
	opts.DryRun = true
	m := metrics.New()
	core, logs := observer.New(zap.InfoLevel)

	summary, err := newTestService(source, sink, opts, m, zap.New(core)).Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.created)
	assert.Equal(t, 1, sink.checkCalls, "dry run still verifies Grafana")
	assert.True(t, summary.DryRun)
	assert.Equal(t, 4, summary.Discovered)
	assert.Equal(t, 3, summary.Retained)
	assert.Equal(t, 0, summary.Attempted)
	assert.Equal(t, 0, summary.Failed)
	// created mirrors retained even though nothing was attempted
	assert.Equal(t, 3, summary.Created)

	for _, r := range summary.Results {
		assert.Equal(t, OutcomePlanned, r.Outcome)
		assert.NotNil(t, r.Datasource)
	}
	assert.Equal(t, "ts", summary.Results[1].Datasource.JSONData.TimeField)

	assert.Equal(t, 3, logs.FilterMessage("Creating source (dry run, nothing done)").Len())
	assert.Equal(t, 1, logs.FilterMessage("Finished (dry run, nothing created)").Len())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.DatasourcesPlanned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DryRun))
}

func TestMigrationService_Run_LivePostsOncePerRetained(t *testing.T) {
	patterns := make([]models.IndexPattern, 0, 45)
	for i := 0; i < 45; i++ {
		patterns = append(patterns, models.IndexPattern{Name: fmt.Sprintf("logs-%02d", i)})
	}
	patterns = append(patterns, models.IndexPattern{Name: ".kibana_1"}, models.IndexPattern{Name: "tmp-1"})
	source := &mockIndexPatternSource{patterns: patterns}
	sink := &mockDatasourceSink{}
	opts := defaultOptions()
	opts.Excludes = mustCompile("^tmp")

	summary, err := newTestService(source, sink, opts, nil, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, sink.created, 45)
	assert.Equal(t, 45, summary.Created+summary.Failed)
	assert.Len(t, summary.Skipped, 2)
	for _, ds := range sink.created {
		assert.NotEqual(t, "ES - .kibana_1", ds.Name)
		assert.NotEqual(t, "ES - tmp-1", ds.Name)
	}
}

func TestMigrationService_Run_KibanaUnavailableIsFatal(t *testing.T) {
	source := &mockIndexPatternSource{detectErr: fmt.Errorf("%w: probe failed", apperrors.ErrKibanaUnavailable)}
	sink := &mockDatasourceSink{}

	summary, err := newTestService(source, sink, defaultOptions(), nil, zap.NewNop()).Run(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrKibanaUnavailable)
	assert.Nil(t, summary)
	assert.Equal(t, 0, sink.checkCalls)
	assert.Equal(t, 0, source.listCalls)
}

func TestMigrationService_Run_GrafanaUnavailableIsFatal(t *testing.T) {
	source := &mockIndexPatternSource{patterns: []models.IndexPattern{{Name: "a"}}}
	sink := &mockDatasourceSink{checkErr: fmt.Errorf("%w: status 401", apperrors.ErrGrafanaUnavailable)}

	summary, err := newTestService(source, sink, defaultOptions(), nil, zap.NewNop()).Run(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrGrafanaUnavailable)
	assert.Nil(t, summary)
	assert.Equal(t, 1, source.detectCalls)
	assert.Equal(t, 0, source.listCalls)
	assert.Empty(t, sink.created)
}

func TestMigrationService_Run_ListingErrorIsFatal(t *testing.T) {
	source := &mockIndexPatternSource{listErr: fmt.Errorf("%w: page 2", apperrors.ErrKibanaListing)}
	sink := &mockDatasourceSink{}

	_, err := newTestService(source, sink, defaultOptions(), nil, zap.NewNop()).Run(context.Background())

	assert.ErrorIs(t, err, apperrors.ErrKibanaListing)
	assert.Empty(t, sink.created)
}

func TestMigrationService_Run_RecordsDiscoveryMetrics(t *testing.T) {
	source := &mockIndexPatternSource{
		patterns: []models.IndexPattern{{Name: ".kibana-6"}, {Name: "tmp-a"}, {Name: "logs"}},
	}
	opts := defaultOptions()
	opts.Excludes = mustCompile("^tmp")
	m := metrics.New()

	_, err := newTestService(source, &mockDatasourceSink{}, opts, m, zap.NewNop()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PatternsDiscovered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatternsSkipped.WithLabelValues(metrics.SkipReasonKibana)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PatternsSkipped.WithLabelValues(metrics.SkipReasonExclusion)))
	assert.Equal(t, float64(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC).Unix()), testutil.ToFloat64(m.LastRunTimestamp))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.DryRun))
}
