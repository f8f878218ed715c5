package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	sigsyaml "sigs.k8s.io/yaml"
)

// BuildConfig holds the compiler sections of the config file (.livedev.yaml)
// whose keys contain dots. Viper treats dots as key separators, so these
// sections are parsed from the raw file instead.
type BuildConfig struct {
	// Loaders maps file extensions to loader names (".svg": "file").
	Loaders map[string]string `json:"loaders,omitempty"`

	// Define replaces global identifiers with constant expressions
	// ("process.env.NODE_ENV": "\"development\"").
	Define map[string]string `json:"define,omitempty"`
}

// ParseBuildConfig parses the loaders and define sections from raw config
// file bytes.
func ParseBuildConfig(data []byte) (*BuildConfig, error) {
	var raw struct {
		Loaders map[string]string `json:"loaders,omitempty"`
		Define  map[string]string `json:"define,omitempty"`
	}

	if err := sigsyaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing build config: %w", err)
	}

	cfg := &BuildConfig{
		Loaders: raw.Loaders,
		Define:  raw.Define,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadBuildConfig reads and parses the config file at path. An empty path
// yields an empty config.
func LoadBuildConfig(path string) (*BuildConfig, error) {
	if path == "" {
		return &BuildConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &BuildConfig{}, nil
		}

		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	return ParseBuildConfig(data)
}

// extensionPattern matches file extensions such as ".svg" or ".d.ts".
var extensionPattern = regexp.MustCompile(`^(\.[A-Za-z0-9_-]+)+$`)

// definePattern matches identifiers and dotted member chains.
var definePattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// Validate checks the build config for correctness.
func (c *BuildConfig) Validate() error {
	for ext, loader := range c.Loaders {
		if !extensionPattern.MatchString(ext) {
			return fmt.Errorf("loaders[%s]: key must be a file extension starting with \".\"", ext)
		}

		if strings.TrimSpace(loader) == "" {
			return fmt.Errorf("loaders[%s]: loader name must not be empty", ext)
		}
	}

	for name, expr := range c.Define {
		if !definePattern.MatchString(name) {
			return fmt.Errorf("define[%s]: key must be an identifier or member chain", name)
		}

		if strings.TrimSpace(expr) == "" {
			return fmt.Errorf("define[%s]: value must not be empty", name)
		}
	}

	return nil
}

// IsEmpty returns true if the config has no sections set.
func (c *BuildConfig) IsEmpty() bool {
	return len(c.Loaders) == 0 && len(c.Define) == 0
}
