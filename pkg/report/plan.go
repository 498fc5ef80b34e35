// Package report renders the outcome of a bridge run as a YAML plan.
package report

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/models"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/services"
)

const (
	ModeDryRun = "dry-run"
	ModeLive   = "live"
)

// Plan is the YAML document written for a run.
type Plan struct {
	Mode        string        `yaml:"mode"`
	Dialect     string        `yaml:"dialect"`
	Counts      Counts        `yaml:"counts"`
	Datasources []PlanEntry   `yaml:"datasources"`
	Skipped     []SkippedItem `yaml:"skipped,omitempty"`
}

type Counts struct {
	Discovered int `yaml:"discovered"`
	Retained   int `yaml:"retained"`
	Attempted  int `yaml:"attempted"`
	Created    int `yaml:"created"`
	Failed     int `yaml:"failed"`
	Skipped    int `yaml:"skipped"`
}

// PlanEntry is one datasource with its password masked.
type PlanEntry struct {
	Pattern    string             `yaml:"pattern"`
	Outcome    string             `yaml:"outcome"`
	Status     int                `yaml:"status,omitempty"`
	Error      string             `yaml:"error,omitempty"`
	Datasource *models.Datasource `yaml:"datasource"`
}

type SkippedItem struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
	Rule    string `yaml:"rule,omitempty"`
}

// NewPlan converts a run summary into a Plan.
func NewPlan(summary *services.MigrationSummary) *Plan {
	p := &Plan{
		Mode:    ModeLive,
		Dialect: summary.Dialect.String(),
		Counts: Counts{
			Discovered: summary.Discovered,
			Retained:   summary.Retained,
			Attempted:  summary.Attempted,
			Created:    summary.Created,
			Failed:     summary.Failed,
			Skipped:    len(summary.Skipped),
		},
		Datasources: make([]PlanEntry, 0, len(summary.Results)),
	}
	if summary.DryRun {
		p.Mode = ModeDryRun
	}

	for _, r := range summary.Results {
		entry := PlanEntry{
			Pattern: r.Pattern.Name,
			Outcome: string(r.Outcome),
			Status:  r.StatusCode,
			Error:   r.Error,
		}
		if r.Datasource != nil {
			entry.Datasource = r.Datasource.Redacted()
		}
		p.Datasources = append(p.Datasources, entry)
	}

	for _, s := range summary.Skipped {
		p.Skipped = append(p.Skipped, SkippedItem{Pattern: s.Pattern.Name, Reason: s.Reason, Rule: s.Rule})
	}

	return p
}

// WritePlan encodes the plan for summary as YAML to w.
func WritePlan(w io.Writer, summary *services.MigrationSummary) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(NewPlan(summary)); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	return nil
}

// WritePlanFile writes the plan to path, creating or truncating it.
func WritePlanFile(path string, summary *services.MigrationSummary) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plan file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close plan file: %w", cerr)
		}
	}()
	return WritePlan(f, summary)
}
