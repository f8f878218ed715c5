// Package config provides configuration management for livedev.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (LIVEDEV_ prefix)
//  3. Config file (.livedev.yaml)
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config represents the global configuration for livedev.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel" yaml:"log-level"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat" yaml:"log-format"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor" yaml:"no-color"`

	// Quiet suppresses all log output below error level.
	Quiet bool `mapstructure:"quiet" json:"quiet" yaml:"quiet"`

	// Root is the project directory.
	Root string `mapstructure:"root" json:"root" yaml:"root"`

	// Entry lists the bundle entry points, relative to Root.
	Entry []string `mapstructure:"entry" json:"entry" yaml:"entry"`

	// Outdir receives the built artifact, relative to Root.
	Outdir string `mapstructure:"outdir" json:"outdir" yaml:"outdir"`

	// Target is the language level of the output (es2020, esnext, ...).
	Target string `mapstructure:"target" json:"target" yaml:"target"`

	// External lists packages left out of the bundle.
	External []string `mapstructure:"external" json:"external" yaml:"external"`

	// Sourcemap enables linked source maps.
	Sourcemap bool `mapstructure:"sourcemap" json:"sourcemap" yaml:"sourcemap"`

	// Public holds index.html, relative to Root.
	Public string `mapstructure:"public" json:"public" yaml:"public"`

	// Exclude lists extra root-relative paths the watcher ignores.
	Exclude []string `mapstructure:"exclude" json:"exclude" yaml:"exclude"`

	// Host is the interface both servers bind to.
	Host string `mapstructure:"host" json:"host" yaml:"host"`

	// Port serves pages and artifact files.
	Port int `mapstructure:"port" json:"port" yaml:"port"`

	// WSPort serves the update websocket.
	WSPort int `mapstructure:"ws-port" json:"wsPort" yaml:"ws-port"`

	// Debounce collapses bursts of file notifications per path.
	Debounce time.Duration `mapstructure:"debounce" json:"debounce" yaml:"debounce"`

	// RetryInterval is the fixed client reconnect interval.
	RetryInterval time.Duration `mapstructure:"retry-interval" json:"retryInterval" yaml:"retry-interval"`

	// ReloadDelay lets the reload overlay render before a full reload.
	ReloadDelay time.Duration `mapstructure:"reload-delay" json:"reloadDelay" yaml:"reload-delay"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), not read from config itself.
	ConfigFile string `mapstructure:"-" json:"-" yaml:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:      LogLevelInfo,
		LogFormat:     LogFormatText,
		Root:          ".",
		Entry:         []string{"src/main.tsx"},
		Outdir:        "dist",
		Target:        "es2020",
		Sourcemap:     true,
		Public:        "public",
		Host:          "127.0.0.1",
		Port:          3000,
		WSPort:        35729,
		Debounce:      100 * time.Millisecond,
		RetryInterval: time.Second,
		ReloadDelay:   150 * time.Millisecond,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	for name, port := range map[string]int{"port": c.Port, "ws-port": c.WSPort} {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid %s %d: must be between 0 and 65535", name, port)
		}
	}

	if c.Port != 0 && c.Port == c.WSPort {
		return fmt.Errorf("port and ws-port must differ (both %d)", c.Port)
	}

	for name, d := range map[string]time.Duration{
		"debounce":       c.Debounce,
		"retry-interval": c.RetryInterval,
		"reload-delay":   c.ReloadDelay,
	} {
		if d < 0 {
			return fmt.Errorf("invalid %s %s: must not be negative", name, d)
		}
	}

	return nil
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log-level", d.LogLevel)
	v.SetDefault("log-format", d.LogFormat)
	v.SetDefault("no-color", d.NoColor)
	v.SetDefault("quiet", d.Quiet)
	v.SetDefault("root", d.Root)
	v.SetDefault("entry", d.Entry)
	v.SetDefault("outdir", d.Outdir)
	v.SetDefault("target", d.Target)
	v.SetDefault("external", []string{})
	v.SetDefault("sourcemap", d.Sourcemap)
	v.SetDefault("public", d.Public)
	v.SetDefault("exclude", []string{})
	v.SetDefault("host", d.Host)
	v.SetDefault("port", d.Port)
	v.SetDefault("ws-port", d.WSPort)
	v.SetDefault("debounce", d.Debounce)
	v.SetDefault("retry-interval", d.RetryInterval)
	v.SetDefault("reload-delay", d.ReloadDelay)
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("LIVEDEV")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".livedev")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "livedev"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}
