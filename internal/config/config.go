// Package config loads fxdj settings from flags, FX_* environment
// variables, an optional .env file and an optional YAML config file.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key; FX_PREP holds the
// preprocessor command template.
const EnvPrefix = "FX"

// Config holds all application configuration.
type Config struct {
	// Paths is a comma separated list of source roots.
	Paths         string        `mapstructure:"paths"`
	Target        string        `mapstructure:"target"`
	Alias         string        `mapstructure:"alias"`
	Output        string        `mapstructure:"output"`
	BindingHeader string        `mapstructure:"binding_header"`
	SDK           string        `mapstructure:"sdk"`
	IncludeDir    string        `mapstructure:"include_dir"`
	Prep          string        `mapstructure:"prep"`
	MetricsFile   string        `mapstructure:"metrics_file"`
	Verbose       bool          `mapstructure:"verbose"`
	Init          InitConfig    `mapstructure:"init"`
	Scan          ScanConfig    `mapstructure:"scan"`
	Oracle        OracleConfig  `mapstructure:"oracle"`
	Log           LogConfig     `mapstructure:"log"`
	Tracing       TracingConfig `mapstructure:"tracing"`
	Graph         GraphConfig   `mapstructure:"graph"`
}

type InitConfig struct {
	// Source is where the initializer C file is written; empty disables it.
	Source   string `mapstructure:"source"`
	OnceName string `mapstructure:"once_name"`
	EachName string `mapstructure:"each_name"`
}

type ScanConfig struct {
	HeaderExts []string `mapstructure:"header_exts"`
	SourceExts []string `mapstructure:"source_exts"`
	Exclude    []string `mapstructure:"exclude"`
}

type OracleConfig struct {
	Shell     string `mapstructure:"shell"`
	CacheSize int    `mapstructure:"cache_size"`
	SkipCheck bool   `mapstructure:"skip_check"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Endpoint   string  `mapstructure:"endpoint"`
	SampleRate float64 `mapstructure:"sample_rate"`
}

type GraphConfig struct {
	URI      string `mapstructure:"uri"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// flagKeys maps flag names whose config key is not the flag name with
// dashes turned into underscores.
var flagKeys = map[string]string{
	"init-source":   "init.source",
	"once-name":     "init.once_name",
	"each-name":     "init.each_name",
	"exclude":       "scan.exclude",
	"log-level":     "log.level",
	"log-format":    "log.format",
	"graph-uri":     "graph.uri",
	"no-prep-check": "oracle.skip_check",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("paths", "")
	v.SetDefault("target", "")
	v.SetDefault("alias", "")
	v.SetDefault("output", "sources")
	v.SetDefault("binding_header", "map.tmp")
	v.SetDefault("sdk", "")
	v.SetDefault("include_dir", "")
	v.SetDefault("prep", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("verbose", false)
	v.SetDefault("init.source", "")
	v.SetDefault("init.once_name", "fx_dj_init_once")
	v.SetDefault("init.each_name", "fx_dj_init_each")
	v.SetDefault("scan.header_exts", []string{".h"})
	v.SetDefault("scan.source_exts", []string{".S", ".c", ".cpp"})
	v.SetDefault("scan.exclude", []string{})
	v.SetDefault("oracle.shell", "sh")
	v.SetDefault("oracle.cache_size", 256)
	v.SetDefault("oracle.skip_check", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("graph.uri", "")
	v.SetDefault("graph.username", "neo4j")
	v.SetDefault("graph.password", "")
}

// Load reads configuration. path may be empty; flags may be nil. A .env
// file in the working directory is loaded into the environment first.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("binding flags: %w", bindErr)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// Roots splits Paths on commas, dropping empty entries.
func (c *Config) Roots() []string {
	var roots []string
	for _, p := range strings.Split(c.Paths, ",") {
		if p = strings.TrimSpace(p); p != "" {
			roots = append(roots, p)
		}
	}
	return roots
}

// Check returns an error for every setting a resolution cannot run without.
func (c *Config) Check() error {
	var errs []error
	if len(c.Roots()) == 0 {
		errs = append(errs, errors.New("no source paths given (-p)"))
	}
	if c.Target == "" {
		errs = append(errs, errors.New("no target interface given (-t)"))
	}
	if c.Alias == "" {
		errs = append(errs, errors.New("no alias file given (-a)"))
	}
	if strings.TrimSpace(c.Prep) == "" {
		errs = append(errs, fmt.Errorf("invalid preprocessor (check '%s_PREP' environment variable)", EnvPrefix))
	}
	if c.Output == "" {
		errs = append(errs, errors.New("empty output path (-o)"))
	}
	if c.BindingHeader == "" {
		errs = append(errs, errors.New("empty binding header path (-m)"))
	}
	return errors.Join(errs...)
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			warnings = append(warnings, fmt.Sprintf("log level '%s' is not recognised, using info", c.Log.Level))
		}
	}
	if c.Log.Format != "" && c.Log.Format != "text" && c.Log.Format != "json" {
		warnings = append(warnings, fmt.Sprintf("log format '%s' is not one of text, json", c.Log.Format))
	}

	if c.Oracle.CacheSize < 0 {
		warnings = append(warnings, fmt.Sprintf("oracle cache_size %d is negative, caching disabled", c.Oracle.CacheSize))
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	if c.Graph.URI != "" && c.Graph.Password == "" {
		warnings = append(warnings, "graph uri is configured but password is empty")
	}

	if c.Oracle.SkipCheck {
		warnings = append(warnings, "preprocessor self-test is disabled")
	}

	return warnings
}
