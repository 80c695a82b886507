// Copyright 2025 dotandev
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotEmpty(t, cfg.DefaultInputPath)
	assert.NotEmpty(t, cfg.DefaultOutputPath)
	assert.NotEmpty(t, cfg.EventsOutputPath)
	assert.NotEmpty(t, cfg.CachePath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"empty log level defaults ok", &Config{LogLevel: ""}, false},
		{"debug level", &Config{LogLevel: "debug"}, false},
		{"case insensitive", &Config{LogLevel: "INFO"}, false},
		{"invalid level", &Config{LogLevel: "verbose"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().DefaultInputPath, cfg.DefaultInputPath)
}

func TestSaveThenLoadConfigRoundTrips(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := DefaultConfig()
	cfg.LogLevel = "debug"
	cfg.EventsOutputPath = "custom-events.json"

	require.NoError(t, SaveConfig(cfg))

	configPath, err := GetGeneralConfigPath()
	require.NoError(t, err)
	assert.FileExists(t, configPath)

	loaded, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "debug", loaded.LogLevel)
	assert.Equal(t, "custom-events.json", loaded.EventsOutputPath)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("WASMDEOB_LOG_LEVEL", "warn")
	t.Setenv("WASMDEOB_CRASH_REPORTING", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.CrashReporting)
}

func TestWithHelpers(t *testing.T) {
	cfg := DefaultConfig().WithLogLevel("debug").WithCachePath(filepath.Join(os.TempDir(), "x.db"))
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Contains(t, cfg.CachePath, "x.db")
}

func TestConfigString(t *testing.T) {
	cfg := DefaultConfig()
	assert.Contains(t, cfg.String(), "Config{")
}
