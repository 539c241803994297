// Package config loads bidsmeta settings with Viper.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// config file (an explicit path, or bidsmeta.yaml in the working
// directory), BIDSMETA_* environment variables, and flags bound by the
// caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "bidsmeta"
	// EnvPrefix prefixes environment overrides, e.g. BIDSMETA_OUT_DIR.
	EnvPrefix = "BIDSMETA"
	// ConfigFileName is the config file looked up in the working directory.
	ConfigFileName = "bidsmeta.yaml"
)

// Config holds runtime settings.
type Config struct {
	OutDir   string         `mapstructure:"out_dir"`
	LogLevel string         `mapstructure:"log_level"`
	Index    IndexConfig    `mapstructure:"index"`
	Resolver ResolverConfig `mapstructure:"resolver"`
}

// ResolverConfig controls sidecar resolution.
type ResolverConfig struct {
	// CacheSize bounds the parsed sidecars kept for one invocation.
	// 0 disables the cache.
	CacheSize int `mapstructure:"cache_size"`
}

// IndexConfig controls the group index.
type IndexConfig struct {
	BatchSize int    `mapstructure:"batch_size"`
	Table     string `mapstructure:"table"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() *Config {
	return &Config{
		OutDir:   ".",
		LogLevel: "info",
		Index: IndexConfig{
			BatchSize: 1000,
			Table:     "iqms",
		},
		Resolver: ResolverConfig{CacheSize: 256},
	}
}

// LoadOptions defines explicit configuration loading inputs.
type LoadOptions struct {
	// ConfigFilePath forces loading from a specific file when set.
	ConfigFilePath string
	// Viper, when set, is used instead of a fresh instance so that flags
	// bound by the caller take part in resolution.
	Viper *viper.Viper
}

// Load resolves the configuration.
func Load(opts LoadOptions) (*Config, error) {
	v := opts.Viper
	if v == nil {
		v = viper.New()
	}

	defaults := DefaultConfig()
	v.SetDefault("out_dir", defaults.OutDir)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("index.batch_size", defaults.Index.BatchSize)
	v.SetDefault("index.table", defaults.Index.Table)
	v.SetDefault("resolver.cache_size", defaults.Resolver.CacheSize)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case opts.ConfigFilePath != "":
		v.SetConfigFile(opts.ConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFilePath, err)
		}
	case fileExists(ConfigFileName):
		v.SetConfigFile(ConfigFileName)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", ConfigFileName, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(cfg.OutDir)
	if err != nil {
		return nil, fmt.Errorf("resolve out_dir: %w", err)
	}
	cfg.OutDir = abs
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.OutDir == "" {
		errs = append(errs, errors.New("out_dir must not be empty"))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.Index.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("index.batch_size must be positive, got %d", c.Index.BatchSize))
	}
	if c.Resolver.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("resolver.cache_size must not be negative, got %d", c.Resolver.CacheSize))
	}
	return errors.Join(errs...)
}

// Level returns the parsed log level. Load has already validated it.
func (c *Config) Level() log.Level {
	lvl, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
