// Package config loads ftplan settings from ftplan.yaml and FTPLAN_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/chriserin/ftplan/internal/logging"
	"github.com/chriserin/ftplan/internal/tagexpr"
)

const (
	DefaultFile     = "ftplan.yaml"
	DefaultFeatures = "features/**/*.feature"
	DefaultDatabase = ".ftplan/ftplan.db"
	DefaultTimeout  = 30 * time.Second
	EnvPrefix       = "FTPLAN_"
)

type Config struct {
	// Features are globs relative to the working directory.
	Features       []string      `koanf:"features"`
	Exclude        []string      `koanf:"exclude"`
	DefaultTimeout time.Duration `koanf:"default_timeout"`
	Tags           string        `koanf:"tags"`
	Retries        int           `koanf:"retries"`
	// Database is the sqlite path for run results; empty disables storage.
	Database string         `koanf:"database"`
	Logging  logging.Config `koanf:"logging"`
}

func Default() *Config {
	return &Config{
		Features:       []string{DefaultFeatures},
		DefaultTimeout: DefaultTimeout,
		Database:       DefaultDatabase,
		Logging:        logging.DefaultConfig(),
	}
}

// Load reads path if it exists, then applies FTPLAN_* overrides:
//
//	FTPLAN_TAGS            -> tags
//	FTPLAN_DEFAULT_TIMEOUT -> default_timeout
//	FTPLAN_LOGGING_LEVEL   -> logging.level
//	FTPLAN_FEATURES        -> features (comma separated)
func Load(path string) (*Config, error) {
	var content []byte
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			content = data
		case !errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return load(content, true)
}

// Parse loads config from YAML bytes without consulting the environment.
func Parse(content []byte) (*Config, error) {
	return load(content, false)
}

func load(content []byte, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if withEnv {
		if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, fmt.Errorf("loading environment variables: %w", err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps FTPLAN_SECTION_FIELD_NAME to section.field_name for the
// logging section and to field_name otherwise.
func envKey(key, value string) (string, any) {
	name := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	if section, field, ok := strings.Cut(name, "_"); ok && section == "logging" {
		return section + "." + field, value
	}
	switch name {
	case "features", "exclude":
		var list []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				list = append(list, part)
			}
		}
		return name, list
	}
	return name, value
}

func applyDefaults(cfg *Config) {
	if len(cfg.Features) == 0 {
		cfg.Features = []string{DefaultFeatures}
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = logging.DefaultConfig().Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = logging.DefaultConfig().Format
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.DefaultTimeout < 0 {
		errs = append(errs, "default_timeout must not be negative")
	}
	if c.Retries < 0 {
		errs = append(errs, "retries must not be negative")
	}
	for _, f := range c.Features {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, "features must not contain empty globs")
			break
		}
	}
	if _, err := tagexpr.Parse(c.Tags); err != nil {
		errs = append(errs, fmt.Sprintf("tags: %v", err))
	}
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Filter parses Tags. Validate has already rejected bad expressions.
func (c *Config) Filter() *tagexpr.Filter {
	f, err := tagexpr.Parse(c.Tags)
	if err != nil {
		return &tagexpr.Filter{}
	}
	return f
}
