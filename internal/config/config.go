// Copyright 2025 dotandev
// SPDX-License-Identifier: Apache-2.0

// Package config loads wasm-deobfuscator's general configuration: default
// input/output paths, the run cache location, log verbosity, and the
// opt-in crash-reporting sinks. Precedence, highest first: explicit CLI
// flags (applied by the caller on top of the returned Config), environment
// variables, a JSON config file, then built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dotandev/wasm-deobfuscator/internal/errors"
)

// Config represents the general configuration for wasm-deobfuscator.
type Config struct {
	DefaultInputPath  string `json:"default_input_path,omitempty"`
	DefaultOutputPath string `json:"default_output_path,omitempty"`
	EventsOutputPath  string `json:"events_output_path,omitempty"`
	CachePath         string `json:"cache_path,omitempty"`
	LogLevel          string `json:"log_level,omitempty"`
	// CrashReporting enables opt-in anonymous crash reporting.
	// Set via crash_reporting = true in config or WASMDEOB_CRASH_REPORTING=true.
	CrashReporting bool `json:"crash_reporting,omitempty"`
	// CrashEndpoint is a custom HTTPS URL that receives JSON crash reports.
	// Set via crash_endpoint in config or WASMDEOB_CRASH_ENDPOINT.
	CrashEndpoint string `json:"crash_endpoint,omitempty"`
}

var defaultConfig = &Config{
	DefaultInputPath:  "./assets/input.wasm",
	DefaultOutputPath: "./assets/output.wasm",
	EventsOutputPath:  "events.json",
	LogLevel:          "info",
	CachePath:         filepath.Join(os.ExpandEnv("$HOME"), ".wasm-deobfuscator", "cache.db"),
}

// DefaultConfig returns a copy of the built-in defaults.
func DefaultConfig() *Config {
	cfg := *defaultConfig
	return &cfg
}

// GetConfigDir returns the directory holding wasm-deobfuscator's config and
// cache files, creating it if necessary.
func GetConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.WrapConfigError("could not determine home directory", err)
	}
	dir := filepath.Join(home, ".wasm-deobfuscator")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.WrapConfigError("could not create config directory", err)
	}
	return dir, nil
}

// GetGeneralConfigPath returns the path to the general configuration file.
func GetGeneralConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadConfig loads the general configuration from disk (JSON format),
// falling back to defaults when no file is present.
func LoadConfig() (*Config, error) {
	configPath, err := GetGeneralConfigPath()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.WrapConfigError("failed to read config file", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.WrapConfigError("failed to parse config file", err)
	}

	return cfg, nil
}

// Load loads the configuration from environment variables layered on top
// of the on-disk JSON file and the built-in defaults.
func Load() (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	cfg.DefaultInputPath = getEnv("WASMDEOB_INPUT", cfg.DefaultInputPath)
	cfg.DefaultOutputPath = getEnv("WASMDEOB_OUTPUT", cfg.DefaultOutputPath)
	cfg.EventsOutputPath = getEnv("WASMDEOB_EVENTS_OUTPUT", cfg.EventsOutputPath)
	cfg.LogLevel = getEnv("WASMDEOB_LOG_LEVEL", cfg.LogLevel)
	cfg.CachePath = getEnv("WASMDEOB_CACHE_PATH", cfg.CachePath)
	cfg.CrashEndpoint = getEnv("WASMDEOB_CRASH_ENDPOINT", cfg.CrashEndpoint)

	switch strings.ToLower(os.Getenv("WASMDEOB_CRASH_REPORTING")) {
	case "1", "true", "yes":
		cfg.CrashReporting = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to disk (JSON format).
func SaveConfig(cfg *Config) error {
	configPath, err := GetGeneralConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return errors.WrapConfigError("failed to create config directory", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.WrapConfigError("failed to marshal config", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.WrapConfigError("failed to write config file", err)
	}

	return nil
}

// Validate checks invariants the pipeline depends on. LogLevel is checked
// loosely: any of the slog level names, case-insensitively.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return errors.WrapConfigError("log_level must be one of debug, info, warn, error", fmt.Errorf("got %q", c.LogLevel))
	}
	return nil
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Input: %s, Output: %s, LogLevel: %s, CachePath: %s}",
		c.DefaultInputPath, c.DefaultOutputPath, c.LogLevel, c.CachePath,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func (c *Config) WithLogLevel(level string) *Config {
	c.LogLevel = level
	return c
}

func (c *Config) WithCachePath(path string) *Config {
	c.CachePath = path
	return c
}
