package services

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/metrics"
	"github.com/ekaya-inc/es-grafana-bridge/pkg/models"
)

// kibanaInternalMarker marks Kibana's own bookkeeping objects.
const kibanaInternalMarker = ".kibana"

// Human readable skip reasons.
const (
	ReasonKibanaInternal = "likely kibana related"
	ReasonExclusionRule  = "matches one of the exclusion rules"
)

// SkippedPattern is an index pattern the filter dropped, with the reason.
type SkippedPattern struct {
	Pattern models.IndexPattern
	Reason  string
	Metric  string // metrics.SkipReason* label
	Rule    string // Exclusion regex that matched, empty for Kibana internals
}

// FilterIndexPatterns drops Kibana internal patterns (name contains ".kibana")
// and patterns whose name matches any exclude regex anywhere in the name.
// Order is preserved and duplicates are kept. Every skip is logged.
func FilterIndexPatterns(
	patterns []models.IndexPattern,
	excludes []*regexp.Regexp,
	logger *zap.Logger,
) (kept []models.IndexPattern, skipped []SkippedPattern) {
	kept = make([]models.IndexPattern, 0, len(patterns))
	skipped = make([]SkippedPattern, 0)

	for _, p := range patterns {
		if strings.Contains(p.Name, kibanaInternalMarker) {
			logger.Info("Skipping index pattern",
				zap.String("id", p.ID),
				zap.String("name", p.Name),
				zap.String("reason", ReasonKibanaInternal))
			skipped = append(skipped, SkippedPattern{Pattern: p, Reason: ReasonKibanaInternal, Metric: metrics.SkipReasonKibana})
			continue
		}

		if re := firstMatch(excludes, p.Name); re != nil {
			logger.Info("Skipping index pattern",
				zap.String("id", p.ID),
				zap.String("name", p.Name),
				zap.String("reason", ReasonExclusionRule),
				zap.String("rule", re.String()))
			skipped = append(skipped, SkippedPattern{Pattern: p, Reason: ReasonExclusionRule, Metric: metrics.SkipReasonExclusion, Rule: re.String()})
			continue
		}

		kept = append(kept, p)
	}

	return kept, skipped
}

func firstMatch(excludes []*regexp.Regexp, name string) *regexp.Regexp {
	for _, re := range excludes {
		if re.MatchString(name) {
			return re
		}
	}
	return nil
}
