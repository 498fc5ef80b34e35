package config

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// CommandName is the binary name used in usage output.
const CommandName = "es-grafana-bridge"

// cliFlags holds raw flag values; only flags present on the command line
// are copied onto the loaded Config.
type cliFlags struct {
	cfg         Config
	ignore      StringSliceFlag
	configPath  string
	showVersion bool
}

func newFlagSet(f *cliFlags, output io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(CommandName, flag.ContinueOnError)
	fs.SetOutput(output)

	fs.StringVar(&f.cfg.Grafana.Token, "token", "", "Grafana Bearer token (already base64'd)")
	stringFlag(fs, &f.cfg.Kibana.Username, "u", "username", "basic auth username for Kibana (default: current OS user)")
	stringFlag(fs, &f.cfg.Kibana.Password, "p", "password", "basic auth password for Kibana (prompted if omitted)")
	stringFlag(fs, &f.cfg.ElasticsearchURL, "e", "elasticsearch", "Elasticsearch API URL to embed in datasources")
	stringFlag(fs, &f.cfg.Kibana.URL, "k", "kibana", "Kibana host")
	stringFlag(fs, &f.cfg.Grafana.URL, "g", "grafana", "Grafana host")
	fs.Var(&f.ignore, "i", ignoreUsage)
	fs.Var(&f.ignore, "ignore", ignoreUsage)
	fs.BoolVar(&f.cfg.ForReal, "for-real", false, "create datasources (default is a dry run)")

	fs.StringVar(&f.configPath, "config", "", "optional YAML config file")
	fs.DurationVar(&f.cfg.HTTPTimeout, "timeout", 30*time.Second, "timeout for each Kibana and Grafana request")
	fs.StringVar(&f.cfg.Log.Level, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&f.cfg.Log.Format, "log-format", "console", "log format: console or json")
	fs.StringVar(&f.cfg.MetricsFile, "metrics-file", "", "write run metrics in Prometheus text format to this file")
	fs.StringVar(&f.cfg.PlanFile, "plan-file", "", "write the datasource plan as YAML to this file")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")

	header := "Environment variables:"
	fs.Usage = cleanenv.FUsage(output, &Config{}, &header, func() {
		fmt.Fprintf(output, "Usage of %s:\n", CommandName)
		fs.PrintDefaults()
	})

	return fs
}

// ignoreUsage documents that -i takes exactly one regex per occurrence.
const ignoreUsage = "regex of index patterns to exclude; takes one regex, repeat the flag for more (-i '^tmp' -i test)"

func stringFlag(fs *flag.FlagSet, p *string, short, long, usage string) {
	fs.StringVar(p, short, "", usage)
	fs.StringVar(p, long, "", usage)
}

// apply copies the value of the named flag onto cfg.
func (f *cliFlags) apply(cfg *Config, name string) {
	switch name {
	case "token":
		cfg.Grafana.Token = f.cfg.Grafana.Token
	case "u", "username":
		cfg.Kibana.Username = f.cfg.Kibana.Username
	case "p", "password":
		cfg.Kibana.Password = f.cfg.Kibana.Password
	case "e", "elasticsearch":
		cfg.ElasticsearchURL = f.cfg.ElasticsearchURL
	case "k", "kibana":
		cfg.Kibana.URL = f.cfg.Kibana.URL
	case "g", "grafana":
		cfg.Grafana.URL = f.cfg.Grafana.URL
	case "i", "ignore":
		cfg.Ignore = append([]string(nil), f.ignore...)
	case "for-real":
		cfg.ForReal = f.cfg.ForReal
	case "timeout":
		cfg.HTTPTimeout = f.cfg.HTTPTimeout
	case "log-level":
		cfg.Log.Level = f.cfg.Log.Level
	case "log-format":
		cfg.Log.Format = f.cfg.Log.Format
	case "metrics-file":
		cfg.MetricsFile = f.cfg.MetricsFile
	case "plan-file":
		cfg.PlanFile = f.cfg.PlanFile
	}
}

// Parse resolves the full configuration: flags in args override environment
// variables, which override the optional YAML file given by --config.
// It then fills in the username default, asks prompt for a missing password
// and validates the result. With --version only Version and ShowVersion are set.
// Errors from flag parsing (including flag.ErrHelp) are returned unchanged.
func Parse(args []string, version string, output io.Writer, prompt PasswordPrompter) (*Config, error) {
	var f cliFlags
	fs := newFlagSet(&f, output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v (repeat -i for multiple ignore patterns)", fs.Args())
	}

	if f.showVersion {
		return &Config{Version: version, ShowVersion: true}, nil
	}

	cfg, err := Load(version, f.configPath)
	if err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		f.apply(cfg, fl.Name)
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := cfg.ResolveCredentials(prompt); err != nil {
		return nil, err
	}

	cfg.Kibana.URL = ResolveURLForDocker(cfg.Kibana.URL)
	cfg.Grafana.URL = ResolveURLForDocker(cfg.Grafana.URL)

	return cfg, nil
}
