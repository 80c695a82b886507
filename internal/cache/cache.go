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

// Package cache memoizes the expensive early stages of the deobfuscation
// pipeline (helper classification, encryption-mode detection, data
// decryption) keyed by the SHA-256 of the input module. A run against an
// unchanged module skips straight to rewriting.
//
// Entries are stored in a SQLite database so the cache survives across
// invocations without requiring a daemon. Large blobs (the decrypted data
// segment, the serialized helper classification) are compressed with zstd
// before being written, since wasm-deobfuscator binaries are typically a
// few hundred KB to low MB and repeated analysis of the same binary is
// the common case during iterative reverse engineering sessions.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/dotandev/wasm-deobfuscator/internal/logger"
)

// Entry is the memoized result of running stages S1 through S3 against a
// given input module.
type Entry struct {
	ModuleHash      string    `json:"module_hash"`
	HelperKindsJSON []byte    `json:"-"`
	EncryptionMode  string    `json:"encryption_mode"`
	XorTableStart   int       `json:"xor_table_start"`
	StartPos        int64     `json:"start_pos"`
	DecryptedData   []byte    `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

// Store wraps a SQLite-backed cache of pipeline run results.
type Store struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (creating if necessary) the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache db: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &Store{db: db, encoder: enc, decoder: dec}, nil
}

// Close releases the underlying database handle and codec resources.
func (s *Store) Close() error {
	_ = s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		module_hash      TEXT PRIMARY KEY,
		helper_kinds     BLOB,
		encryption_mode  TEXT NOT NULL,
		xor_table_start  INTEGER NOT NULL,
		start_pos        INTEGER NOT NULL DEFAULT 0,
		decrypted_data   BLOB,
		created_at       DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := db.Exec(query)
	if err != nil {
		return fmt.Errorf("failed to init cache schema: %w", err)
	}
	return nil
}

// Get returns the cached entry for moduleHash, or (nil, nil) on a cache miss.
func (s *Store) Get(moduleHash string) (*Entry, error) {
	row := s.db.QueryRow(`
		SELECT module_hash, helper_kinds, encryption_mode, xor_table_start, start_pos, decrypted_data, created_at
		FROM runs WHERE module_hash = ?`, moduleHash)

	var e Entry
	var helperKindsCompressed, decryptedCompressed []byte
	if err := row.Scan(&e.ModuleHash, &helperKindsCompressed, &e.EncryptionMode, &e.XorTableStart, &e.StartPos, &decryptedCompressed, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("cache lookup failed: %w", err)
	}

	var err error
	e.HelperKindsJSON, err = s.decompress(helperKindsCompressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress helper classification: %w", err)
	}
	e.DecryptedData, err = s.decompress(decryptedCompressed)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress decrypted data segment: %w", err)
	}

	logger.Logger.Debug("cache hit", "module_hash", moduleHash)
	return &e, nil
}

// Put stores (or replaces) the entry for e.ModuleHash.
func (s *Store) Put(e *Entry) error {
	helperKindsCompressed := s.compress(e.HelperKindsJSON)
	decryptedCompressed := s.compress(e.DecryptedData)

	_, err := s.db.Exec(`
		INSERT INTO runs (module_hash, helper_kinds, encryption_mode, xor_table_start, start_pos, decrypted_data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module_hash) DO UPDATE SET
			helper_kinds = excluded.helper_kinds,
			encryption_mode = excluded.encryption_mode,
			xor_table_start = excluded.xor_table_start,
			start_pos = excluded.start_pos,
			decrypted_data = excluded.decrypted_data,
			created_at = excluded.created_at`,
		e.ModuleHash, helperKindsCompressed, e.EncryptionMode, e.XorTableStart, e.StartPos, decryptedCompressed, time.Now())
	if err != nil {
		return fmt.Errorf("failed to store cache entry: %w", err)
	}

	logger.Logger.Debug("cache store", "module_hash", e.ModuleHash, "encryption_mode", e.EncryptionMode)
	return nil
}

// Invalidate removes the cached entry for moduleHash, if any.
func (s *Store) Invalidate(moduleHash string) error {
	_, err := s.db.Exec(`DELETE FROM runs WHERE module_hash = ?`, moduleHash)
	if err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}

// Stats summarizes the current contents of the cache database.
type Stats struct {
	EntryCount int64
	SizeBytes  int64
}

// Stats reports the number of cached runs and the on-disk database size.
func (s *Store) Stats(dbPath string) (*Stats, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count cache entries: %w", err)
	}

	info, err := os.Stat(dbPath)
	var size int64
	if err == nil {
		size = info.Size()
	}

	return &Stats{EntryCount: count, SizeBytes: size}, nil
}

// Clear removes every entry from the cache.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM runs`)
	if err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

func (s *Store) compress(data []byte) []byte {
	if len(data) == 0 {
		return nil
	}
	return s.encoder.EncodeAll(data, nil)
}

func (s *Store) decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	return s.decoder.DecodeAll(data, nil)
}

// MarshalHelperKinds is a small convenience wrapper so callers in the
// pipeline package don't need to import encoding/json themselves just to
// populate an Entry.
func MarshalHelperKinds(v any) ([]byte, error) {
	return json.Marshal(v)
}

// UnmarshalHelperKinds decodes previously marshaled helper classification
// data back into v.
func UnmarshalHelperKinds(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal cached helper classification: %w", err)
	}
	return nil
}

// HashModule computes the cache key for a raw module's bytes.
func HashModule(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash module: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
