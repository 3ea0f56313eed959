// Package config loads exocortex settings from defaults, an optional YAML
// file and EXOCORTEX_ environment variables.
package config

import (
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coolbeans/exocortex/pkg/cache"
	exoerr "github.com/coolbeans/exocortex/pkg/errors"
	"github.com/coolbeans/exocortex/pkg/logging"
)

// Config is the top-level configuration.
type Config struct {
	Cache     CacheConfig       `mapstructure:"cache"`
	Optimizer OptimizerConfig   `mapstructure:"optimizer"`
	Prefixes  map[string]string `mapstructure:"prefixes"`
	Dataset   DatasetConfig     `mapstructure:"dataset"`
	Server    ServerConfig      `mapstructure:"server"`
	Log       LogConfig         `mapstructure:"log"`
}

// CacheConfig controls the query result cache.
type CacheConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	TTL        time.Duration `mapstructure:"ttl"`
	MaxEntries int           `mapstructure:"max_entries"`
}

// OptimizerConfig toggles optimizer rewrites.
type OptimizerConfig struct {
	FilterPushdown bool `mapstructure:"filter_pushdown"`
	JoinReordering bool `mapstructure:"join_reordering"`
}

// DatasetConfig lists the files loaded into the store at startup.
type DatasetConfig struct {
	Paths []string `mapstructure:"paths"`
	Watch bool     `mapstructure:"watch"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Listen      string   `mapstructure:"listen"`
	APIKey      string   `mapstructure:"api_key"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// QueryCache converts the cache section for the engine.
func (c CacheConfig) QueryCache() cache.Config {
	return cache.Config{Enabled: c.Enabled, TTL: c.TTL, MaxEntries: c.MaxEntries}
}

// Load reads configuration from path (or defaults only when path is
// empty) with environment variable overrides (prefix EXOCORTEX_).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", cache.DefaultTTL)
	v.SetDefault("cache.max_entries", cache.DefaultMaxEntries)
	v.SetDefault("optimizer.filter_pushdown", true)
	v.SetDefault("optimizer.join_reordering", true)
	v.SetDefault("prefixes", map[string]string{})
	v.SetDefault("dataset.paths", []string{})
	v.SetDefault("dataset.watch", false)
	v.SetDefault("server.listen", "127.0.0.1:27124")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("EXOCORTEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, exoerr.Errorf(exoerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validatePrefixes()...)
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateLog()...)

	return errs
}

func (c *Config) validateCache() []error {
	var errs []error

	if c.Cache.TTL <= 0 {
		errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: cache.ttl must be positive, got %s", c.Cache.TTL))
	}
	if c.Cache.MaxEntries <= 0 {
		errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: cache.max_entries must be positive, got %d", c.Cache.MaxEntries))
	}

	return errs
}

func (c *Config) validatePrefixes() []error {
	var errs []error

	for prefix, namespace := range c.Prefixes {
		if strings.ContainsAny(prefix, ": \t") {
			errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
				"config: prefix %q must not contain a colon or whitespace", prefix))
		}
		if !strings.Contains(namespace, ":") {
			errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
				"config: prefix %q must map to an absolute IRI, got %q", prefix, namespace))
		}
	}

	return errs
}

func (c *Config) validateServer() []error {
	var errs []error

	if c.Server.Listen == "" {
		return append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue, "config: server.listen must not be empty"))
	}

	_, portStr, err := net.SplitHostPort(c.Server.Listen)
	if err != nil {
		return append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: server.listen must be a valid host:port address, got %q: %w", c.Server.Listen, err))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be a number, got %q", portStr))
	} else if port < 1 || port > 65535 {
		errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: server.listen port must be between 1 and 65535, got %d", port))
	}

	return errs
}

func (c *Config) validateLog() []error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, exoerr.Errorf(exoerr.CodeConfigValidateInvalidValue,
			"config: log.format must be one of [text, json], got %q", c.Log.Format))
	}

	return errs
}
