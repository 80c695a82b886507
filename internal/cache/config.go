// Copyright (c) 2026 dotandev
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dotandev/wasm-deobfuscator/internal/logger"
)

// GlobalConfig holds settings for the on-disk run cache that are not tied
// to any single invocation.
type GlobalConfig struct {
	// MaxEntries caps how many memoized runs are retained before the
	// oldest are evicted. Zero means unlimited.
	MaxEntries int `json:"max_entries"`
	// AutoEvict enables automatic eviction of the oldest entries once
	// MaxEntries is exceeded.
	AutoEvict bool `json:"auto_evict"`
}

// DefaultGlobalConfig returns the default cache configuration.
func DefaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		MaxEntries: 500,
		AutoEvict:  true,
	}
}

// getConfigPath returns the path to the cache config file.
func getConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".wasm-deobfuscator", "cache_config.json"), nil
}

// LoadConfig loads the cache configuration from disk, falling back to
// defaults if no file exists or it cannot be parsed.
func LoadConfig() (GlobalConfig, error) {
	configPath, err := getConfigPath()
	if err != nil {
		logger.Logger.Debug("failed to get cache config path, using defaults", "error", err)
		return DefaultGlobalConfig(), nil
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultGlobalConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		logger.Logger.Warn("failed to read cache config, using defaults", "error", err)
		return DefaultGlobalConfig(), nil
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		logger.Logger.Warn("failed to parse cache config, using defaults", "error", err)
		return DefaultGlobalConfig(), nil
	}

	return config, nil
}

// SaveConfig saves the cache configuration to disk.
func SaveConfig(config GlobalConfig) error {
	configPath, err := getConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get cache config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache config: %w", err)
	}

	logger.Logger.Info("cache config saved", "path", configPath)
	return nil
}

// EvictOldest deletes the oldest entries in store until at most maxEntries
// remain. It is a no-op when the cache is already within the limit.
func EvictOldest(s *Store, maxEntries int) error {
	if maxEntries <= 0 {
		return nil
	}

	rows, err := s.db.Query(`
		SELECT module_hash FROM runs
		ORDER BY created_at DESC
		LIMIT -1 OFFSET ?`, maxEntries)
	if err != nil {
		return fmt.Errorf("failed to list eviction candidates: %w", err)
	}
	defer rows.Close()

	var toEvict []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return fmt.Errorf("failed to scan eviction candidate: %w", err)
		}
		toEvict = append(toEvict, hash)
	}

	for _, hash := range toEvict {
		if err := s.Invalidate(hash); err != nil {
			return err
		}
	}

	if len(toEvict) > 0 {
		logger.Logger.Debug("evicted stale cache entries", "count", len(toEvict))
	}

	return nil
}

// CheckAndEvict loads the global cache config and evicts the oldest
// entries from store when AutoEvict is enabled and MaxEntries is exceeded.
func CheckAndEvict(s *Store) error {
	config, err := LoadConfig()
	if err != nil {
		logger.Logger.Warn("failed to load cache config", "error", err)
		config = DefaultGlobalConfig()
	}

	if !config.AutoEvict {
		return nil
	}

	return EvictOldest(s, config.MaxEntries)
}
