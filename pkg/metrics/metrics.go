// Package metrics records what a bridge run did as Prometheus metrics so
// node_exporter's textfile collector can pick them up after the run.
package metrics

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "es_grafana_bridge"

// Skip reasons used as the reason label of PatternsSkipped.
const (
	SkipReasonKibana    = "kibana_internal"
	SkipReasonExclusion = "exclusion_rule"
)

type Metrics struct {
	registry *prometheus.Registry

	// PatternsDiscovered counts index patterns listed from Kibana
	PatternsDiscovered prometheus.Counter

	// PatternsSkipped counts index patterns dropped by the filter, by reason
	PatternsSkipped *prometheus.CounterVec

	// DatasourcesPlanned counts datasources that would be created in a dry run
	DatasourcesPlanned prometheus.Counter

	DatasourcesCreated prometheus.Counter
	DatasourcesFailed  prometheus.Counter

	// KibanaRequests counts Kibana API calls by endpoint and status code (0 on transport error)
	KibanaRequests *prometheus.CounterVec

	// GrafanaRequests counts Grafana API calls by endpoint and status code (0 on transport error)
	GrafanaRequests *prometheus.CounterVec

	DryRun           prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
}

// New creates the run metrics registered on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PatternsDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "kibana", "index_patterns_discovered_total"),
			Help: "Total number of index patterns listed from Kibana",
		}),
		PatternsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "kibana", "index_patterns_skipped_total"),
			Help: "Total number of index patterns skipped by the filter",
		}, []string{"reason"}),
		DatasourcesPlanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "grafana", "datasources_planned_total"),
			Help: "Total number of datasources a dry run would have created",
		}),
		DatasourcesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "grafana", "datasources_created_total"),
			Help: "Total number of datasources created in Grafana",
		}),
		DatasourcesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "grafana", "datasources_failed_total"),
			Help: "Total number of datasource creations Grafana rejected or that errored",
		}),
		KibanaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "kibana", "requests_total"),
			Help: "Total number of requests made to the Kibana API",
		}, []string{"endpoint", "code"}),
		GrafanaRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: prometheus.BuildFQName(namespace, "grafana", "requests_total"),
			Help: "Total number of requests made to the Grafana API",
		}, []string{"endpoint", "code"}),
		DryRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "", "dry_run"),
			Help: "1 if the last run was a dry run, 0 otherwise",
		}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: prometheus.BuildFQName(namespace, "", "last_run_timestamp_seconds"),
			Help: "Unix time the last run finished",
		}),
	}

	m.registry.MustRegister(
		m.PatternsDiscovered,
		m.PatternsSkipped,
		m.DatasourcesPlanned,
		m.DatasourcesCreated,
		m.DatasourcesFailed,
		m.KibanaRequests,
		m.GrafanaRequests,
		m.DryRun,
		m.LastRunTimestamp,
	)
	return m
}

// Registry returns the registry holding the run metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveKibanaRequest counts one Kibana call. A nil receiver is a no-op.
func (m *Metrics) ObserveKibanaRequest(endpoint string, code int) {
	if m == nil {
		return
	}
	m.KibanaRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// ObserveGrafanaRequest counts one Grafana call. A nil receiver is a no-op.
func (m *Metrics) ObserveGrafanaRequest(endpoint string, code int) {
	if m == nil {
		return
	}
	m.GrafanaRequests.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
}

// MarkRunFinished sets the dry run flag and the last run timestamp.
func (m *Metrics) MarkRunFinished(dryRun bool, at time.Time) {
	if m == nil {
		return
	}
	if dryRun {
		m.DryRun.Set(1)
	} else {
		m.DryRun.Set(0)
	}
	m.LastRunTimestamp.Set(float64(at.Unix()))
}

// WriteTextfile writes the metrics in the Prometheus text format, replacing
// the file atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
