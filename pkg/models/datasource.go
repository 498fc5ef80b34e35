package models

// Datasource field values fixed for every datasource the bridge creates.
const (
	DatasourceAccessProxy       = "proxy"
	DatasourceTypeElasticsearch = "elasticsearch"
	DatasourceNamePrefix        = "ES - "

	redactedPassword = "[REDACTED]"
)

// Datasource is the body of a Grafana POST /api/datasources request for a
// proxy-mode, basic-auth Elasticsearch datasource bound to one index pattern.
// The user and password fields are always sent empty; credentials travel in
// the basicAuth* fields.
type Datasource struct {
	Access            string             `json:"access" yaml:"access"`
	BasicAuth         bool               `json:"basicAuth" yaml:"basic_auth"`
	Database          string             `json:"database" yaml:"database"`
	IsDefault         bool               `json:"isDefault" yaml:"is_default"`
	JSONData          DatasourceJSONData `json:"jsonData" yaml:"json_data"`
	BasicAuthUser     string             `json:"basicAuthUser" yaml:"basic_auth_user"`
	BasicAuthPassword string             `json:"basicAuthPassword" yaml:"basic_auth_password"`
	User              string             `json:"user" yaml:"user"`
	Password          string             `json:"password" yaml:"password"`
	Type              string             `json:"type" yaml:"type"`
	URL               string             `json:"url" yaml:"url"`
	Name              string             `json:"name" yaml:"name"`
}

// DatasourceJSONData holds the Elasticsearch specific settings. It encodes as
// {} when no time field is set.
type DatasourceJSONData struct {
	TimeField string `json:"timeField,omitempty" yaml:"time_field,omitempty"`
}

// NewElasticsearchDatasource builds the creation payload for one index pattern.
// username and password are the Kibana credentials, reused for basic auth
// against Elasticsearch.
func NewElasticsearchDatasource(pattern IndexPattern, elasticsearchURL, username, password string) *Datasource {
	ds := &Datasource{
		Access:            DatasourceAccessProxy,
		BasicAuth:         true,
		Database:          pattern.Name,
		IsDefault:         false,
		BasicAuthUser:     username,
		BasicAuthPassword: password,
		Type:              DatasourceTypeElasticsearch,
		URL:               elasticsearchURL,
		Name:              DatasourceNamePrefix + pattern.Name,
	}
	if pattern.HasTimeField() {
		ds.JSONData.TimeField = pattern.TimeField
	}
	return ds
}

// Redacted returns a copy safe to log or write to disk.
func (d *Datasource) Redacted() *Datasource {
	cp := *d
	if cp.BasicAuthPassword != "" {
		cp.BasicAuthPassword = redactedPassword
	}
	if cp.Password != "" {
		cp.Password = redactedPassword
	}
	return &cp
}
