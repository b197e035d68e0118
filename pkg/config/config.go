// Package config provides YAML-based configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Validator is an interface for configuration validation.
type Validator interface {
	Validate() error
}

// Defaulter fills default values before the file is applied.
type Defaulter interface {
	SetDefaults() error
}

// EnvOverlay applies environment overrides after the file is applied.
type EnvOverlay interface {
	ApplyEnv()
}

// Load loads configuration from a YAML file with environment variable expansion.
func Load[T any](filename string, target *T) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return decode(filename, data, target)
}

// LoadOptional is Load, except that a missing or empty filename leaves the
// defaults and environment overrides in place.
func LoadOptional[T any](filename string, target *T) error {
	if filename == "" {
		return decode("", nil, target)
	}
	data, err := os.ReadFile(filename)
	if errors.Is(err, os.ErrNotExist) {
		return decode(filename, nil, target)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filename, err)
	}
	return decode(filename, data, target)
}

func decode[T any](filename string, data []byte, target *T) error {
	if d, ok := any(target).(Defaulter); ok {
		if err := d.SetDefaults(); err != nil {
			return fmt.Errorf("failed to set config defaults: %w", err)
		}
	}

	if len(data) > 0 {
		expandedData := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expandedData), target); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", filename, err)
		}
	}

	if e, ok := any(target).(EnvOverlay); ok {
		e.ApplyEnv()
	}

	if validator, ok := any(target).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	return nil
}
