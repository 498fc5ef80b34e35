package config

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/multierr"

	"github.com/ekaya-inc/es-grafana-bridge/pkg/apperrors"
)

// Config holds all configuration for es-grafana-bridge.
// Configuration can come from a YAML file (--config), environment variables
// and command line flags, in increasing order of precedence.
// Secrets (Kibana password, Grafana token) never come from the YAML file.
type Config struct {
	Kibana  KibanaConfig  `yaml:"kibana"`
	Grafana GrafanaConfig `yaml:"grafana"`

	// ElasticsearchURL is embedded in every datasource; Grafana's proxy
	// connects to it, so it is resolved from Grafana's point of view.
	ElasticsearchURL string `yaml:"elasticsearch_url" env:"ELASTICSEARCH_URL" env-description:"Elasticsearch URL Grafana should query"`

	// Ignore holds regular expressions; index patterns matching any of them are skipped.
	Ignore []string `yaml:"ignore" env:"IGNORE_PATTERNS" env-separator:";" env-description:"Semicolon separated regexes of index patterns to skip"`

	// ForReal disables dry run.
	ForReal bool `yaml:"for_real" env:"FOR_REAL" env-default:"false" env-description:"Create datasources instead of a dry run"`

	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT" env-default:"30s" env-description:"Timeout for each Kibana and Grafana request"`

	Log LogConfig `yaml:"log"`

	MetricsFile string `yaml:"metrics_file" env:"METRICS_FILE" env-description:"Write run metrics in Prometheus text format to this file"`
	PlanFile    string `yaml:"plan_file" env:"PLAN_FILE" env-description:"Write the datasource plan as YAML to this file"`

	Version     string `yaml:"-"` // Set at load time, not from config
	ShowVersion bool   `yaml:"-"`
}

// KibanaConfig holds the Kibana endpoint and basic auth credentials.
// The same credentials are embedded in each datasource for Elasticsearch.
type KibanaConfig struct {
	URL      string `yaml:"url" env:"KIBANA_URL" env-description:"Kibana base URL"`
	Username string `yaml:"username" env:"KIBANA_USERNAME" env-description:"Kibana basic auth user (default: current OS user)"`
	Password string `yaml:"-" env:"KIBANA_PASSWORD" env-description:"Kibana basic auth password (prompted if unset)"` // Secret - not in YAML
}

// GrafanaConfig holds the Grafana endpoint and API token.
type GrafanaConfig struct {
	URL   string `yaml:"url" env:"GRAFANA_URL" env-description:"Grafana base URL"`
	Token string `yaml:"-" env:"GRAFANA_TOKEN" env-description:"Grafana bearer token"` // Secret - not in YAML
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info" env-description:"debug, info, warn or error"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"console" env-description:"console or json"`
}

// DryRun reports whether the run must not create anything.
func (c *Config) DryRun() bool {
	return !c.ForReal
}

// Load reads configuration from the YAML file at path (if any) with
// environment variable overrides. The version parameter is injected at build
// time and set on the returned Config.
func Load(version, path string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
		return cfg, nil
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every missing or malformed setting at once.
// The Kibana username and password are not checked; ResolveCredentials fills them.
func (c *Config) Validate() error {
	var errs error

	required := []struct {
		value string
		name  string
	}{
		{c.Grafana.Token, "--token (GRAFANA_TOKEN)"},
		{c.ElasticsearchURL, "--elasticsearch (ELASTICSEARCH_URL)"},
		{c.Kibana.URL, "--kibana (KIBANA_URL)"},
		{c.Grafana.URL, "--grafana (GRAFANA_URL)"},
	}
	for _, r := range required {
		if r.value == "" {
			errs = multierr.Append(errs, fmt.Errorf("%w: %s", apperrors.ErrMissingConfig, r.name))
		}
	}

	for _, u := range []struct {
		value string
		name  string
	}{
		{c.ElasticsearchURL, "elasticsearch"},
		{c.Kibana.URL, "kibana"},
		{c.Grafana.URL, "grafana"},
	} {
		if u.value == "" {
			continue
		}
		if err := validateBaseURL(u.value); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("invalid %s URL %q: %w", u.name, u.value, err))
		}
	}

	if c.HTTPTimeout <= 0 {
		errs = multierr.Append(errs, fmt.Errorf("http timeout must be positive, got %s", c.HTTPTimeout))
	}

	if _, err := CompileIgnorePatterns(c.Ignore); err != nil {
		errs = multierr.Append(errs, err)
	}

	return errs
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is empty")
	}
	return nil
}

// CompileIgnorePatterns compiles the exclusion regexes. Matching is
// unanchored, so a pattern matches anywhere in an index pattern name.
func CompileIgnorePatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}
