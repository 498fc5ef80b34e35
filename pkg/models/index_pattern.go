// Package models contains domain types for es-grafana-bridge.
package models

// IndexPattern is a Kibana index-pattern saved object reduced to what a
// Grafana datasource needs.
type IndexPattern struct {
	ID        string `json:"id" yaml:"id"`
	Name      string `json:"name" yaml:"name"`
	TimeField string `json:"time_field,omitempty" yaml:"time_field,omitempty"` // Empty when the pattern has no time field
}

// HasTimeField reports whether the pattern declares a time field.
func (p IndexPattern) HasTimeField() bool {
	return p.TimeField != ""
}
