package apperrors

import "errors"

var (
	ErrKibanaUnavailable  = errors.New("kibana API unavailable")
	ErrGrafanaUnavailable = errors.New("grafana API unavailable")
	ErrKibanaListing      = errors.New("failed to list kibana index patterns")
	ErrMissingConfig      = errors.New("missing required configuration")
)
