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
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)
	entry, err := s.Get("does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	s := openTestStore(t)

	e := &Entry{
		ModuleHash:      "abc123",
		HelperKindsJSON: []byte(`{"f12":"U8","f13":"S16"}`),
		EncryptionMode:  "xor",
		XorTableStart:   4096,
		StartPos:        -343,
		DecryptedData:   []byte("plaintext segment bytes"),
	}
	require.NoError(t, s.Put(e))

	got, err := s.Get("abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "abc123", got.ModuleHash)
	assert.Equal(t, "xor", got.EncryptionMode)
	assert.Equal(t, 4096, got.XorTableStart)
	assert.Equal(t, int64(-343), got.StartPos)
	assert.Equal(t, []byte(`{"f12":"U8","f13":"S16"}`), got.HelperKindsJSON)
	assert.Equal(t, []byte("plaintext segment bytes"), got.DecryptedData)
}

func TestPutOverwritesExistingEntry(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(&Entry{ModuleHash: "h", EncryptionMode: "xor", XorTableStart: 1}))
	require.NoError(t, s.Put(&Entry{ModuleHash: "h", EncryptionMode: "chacha20", XorTableStart: 2}))

	got, err := s.Get("h")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "chacha20", got.EncryptionMode)
	assert.Equal(t, 2, got.XorTableStart)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(&Entry{ModuleHash: "h", EncryptionMode: "xor"}))
	require.NoError(t, s.Invalidate("h"))

	got, err := s.Get("h")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStatsCountsEntries(t *testing.T) {
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "stats.db")

	require.NoError(t, s.Put(&Entry{ModuleHash: "a", EncryptionMode: "xor"}))
	require.NoError(t, s.Put(&Entry{ModuleHash: "b", EncryptionMode: "xor"}))

	stats, err := s.Stats(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntryCount)
}

func TestClearRemovesAllEntries(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(&Entry{ModuleHash: "a", EncryptionMode: "xor"}))
	require.NoError(t, s.Put(&Entry{ModuleHash: "b", EncryptionMode: "xor"}))
	require.NoError(t, s.Clear())

	got, err := s.Get("a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHashModuleIsDeterministic(t *testing.T) {
	h1, err := HashModule(strings.NewReader("\x00asm\x01\x00\x00\x00"))
	require.NoError(t, err)
	h2, err := HashModule(strings.NewReader("\x00asm\x01\x00\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64) // hex-encoded sha256
}

func TestHashModuleDiffersOnDifferentInput(t *testing.T) {
	h1, err := HashModule(strings.NewReader("module-a"))
	require.NoError(t, err)
	h2, err := HashModule(strings.NewReader("module-b"))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestMarshalUnmarshalHelperKindsRoundTrips(t *testing.T) {
	in := map[string]string{"f12": "U8", "f99": "S64"}
	data, err := MarshalHelperKinds(in)
	require.NoError(t, err)

	var out map[string]string
	require.NoError(t, UnmarshalHelperKinds(data, &out))
	assert.Equal(t, in, out)
}

func TestDefaultGlobalConfig(t *testing.T) {
	cfg := DefaultGlobalConfig()
	assert.Equal(t, 500, cfg.MaxEntries)
	assert.True(t, cfg.AutoEvict)
}

func TestEvictOldestRespectsLimit(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(&Entry{ModuleHash: "a", EncryptionMode: "xor"}))
	require.NoError(t, s.Put(&Entry{ModuleHash: "b", EncryptionMode: "xor"}))
	require.NoError(t, s.Put(&Entry{ModuleHash: "c", EncryptionMode: "xor"}))

	require.NoError(t, EvictOldest(s, 2))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestEvictOldestNoOpWhenZero(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put(&Entry{ModuleHash: "a", EncryptionMode: "xor"}))
	require.NoError(t, EvictOldest(s, 0))

	var count int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&count))
	assert.Equal(t, 1, count)
}
