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

package pipeline

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotandev/wasm-deobfuscator/internal/cache"
	"github.com/dotandev/wasm-deobfuscator/internal/encryption"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
)

// buildObfuscatedModule assembles a minimal but structurally faithful
// synthetic module: one exported U8 load helper whose body carries both the
// classification signature (a masked byte load) and the xor-mode detection
// signature (i32.rem_u, i32.const), plus one caller that reaches it through
// a (const, call) pair so the rewrite stage has something to do.
func buildObfuscatedModule(t *testing.T) []byte {
	t.Helper()

	maxMem := uint32(1)
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{Params: nil, Results: []wasm.ValType{wasm.ValI32}},
		},
		Memories: []wasm.Memory{{Limits: wasm.Limits{Min: 1, Max: &maxMem}}},
		Funcs: []wasm.Function{
			{
				Index:     0,
				TypeIndex: 0,
				Body: []*wasm.Instr{
					{Op: wasm.OpLocalGet, LocalIdx: 0, ID: 0},
					{Op: wasm.OpLocalGet, LocalIdx: 1, ID: 1},
					{Op: wasm.OpI32Add, ID: 2},
					wasm.NewLoad(wasm.OpI32Load8U, 0, 3),
					{Op: wasm.OpI32Const, I32: 0xff, ID: 4},
					{Op: wasm.OpI32And, ID: 5},
					{Op: wasm.OpLocalGet, LocalIdx: 0, ID: 6},
					{Op: wasm.OpI32Const, I32: 96, ID: 7},
					{Op: wasm.OpI32RemU, ID: 8},
					{Op: wasm.OpI32Const, I32: 40, ID: 9}, // xor table start
				},
			},
			{
				Index:     1,
				TypeIndex: 1,
				Body: []*wasm.Instr{
					{Op: wasm.OpI32Const, I32: 8, ID: 0}, // const offset
					{Op: wasm.OpCall, FuncIdx: 0, ID: 1}, // call the U8 helper
				},
			},
		},
		Exports: []wasm.Export{
			{Name: "loadU8", Kind: wasm.ExportKindFunc, Index: 0},
			{Name: "caller", Kind: wasm.ExportKindFunc, Index: 1},
		},
	}

	// The first active segment holds the XOR key table; the second holds
	// the obfuscated payload Decrypt reverses.
	tableBytes := make([]byte, 512)
	for i := range tableBytes {
		tableBytes[i] = byte(i * 13)
	}
	payloadBytes := make([]byte, 256)
	for i := range payloadBytes {
		payloadBytes[i] = byte(i * 7)
	}
	m.Data = []wasm.DataSegment{
		{
			Kind:   wasm.DataActive,
			Offset: []*wasm.Instr{{Op: wasm.OpI32Const, I32: 0}},
			Bytes:  tableBytes,
		},
		{
			Kind:   wasm.DataActive,
			Offset: []*wasm.Instr{{Op: wasm.OpI32Const, I32: 2048}},
			Bytes:  payloadBytes,
		},
	}

	return m.Encode()
}

func TestRunEndToEndWithoutCache(t *testing.T) {
	input := buildObfuscatedModule(t)

	res, err := Run(context.Background(), input, Options{SkipEvents: true})
	require.NoError(t, err)

	assert.Equal(t, encryption.ModeXor, res.Encryption)
	assert.Equal(t, int32(40), res.XorTableStart)
	assert.Equal(t, 1, res.HelperCount)
	assert.NotEmpty(t, res.Module)

	out, err := wasm.Decode(res.Module)
	require.NoError(t, err)

	// The helper body must have been replaced by the canonical 5-instruction
	// direct-load body.
	helperFn, ok := out.Function(0)
	require.True(t, ok)
	require.Len(t, helperFn.Body, 5)
	assert.Equal(t, wasm.OpI32Load8U, helperFn.Body[3].Op)

	// The caller's (const, call) pair must have become a direct load.
	callerFn, ok := out.Function(1)
	require.True(t, ok)
	require.Len(t, callerFn.Body, 1)
	assert.Equal(t, wasm.OpI32Load8U, callerFn.Body[0].Op)
	assert.Equal(t, uint32(8), callerFn.Body[0].MemArg.Offset)
}

func TestRunStripDeadCodeKeepsExportedFunctions(t *testing.T) {
	input := buildObfuscatedModule(t)

	res, err := Run(context.Background(), input, Options{SkipEvents: true, StripDeadCode: true})
	require.NoError(t, err)

	out, err := wasm.Decode(res.Module)
	require.NoError(t, err)

	// Both functions are exported, so dead-code elimination must keep them.
	_, ok := out.Function(0)
	assert.True(t, ok)
	_, ok = out.Function(1)
	assert.True(t, ok)
}

func TestRunPopulatesCacheOnMiss(t *testing.T) {
	input := buildObfuscatedModule(t)

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	hash, err := cache.HashModule(bytes.NewReader(input))
	require.NoError(t, err)

	_, err = Run(context.Background(), input, Options{Cache: store, SkipEvents: true})
	require.NoError(t, err)

	entry, err := store.Get(hash)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, encryption.ModeXor.String(), entry.EncryptionMode)
	assert.Equal(t, 40, entry.XorTableStart)
}

func TestRunReusesCacheOnHit(t *testing.T) {
	input := buildObfuscatedModule(t)

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	first, err := Run(context.Background(), input, Options{Cache: store, SkipEvents: true})
	require.NoError(t, err)

	second, err := Run(context.Background(), input, Options{Cache: store, SkipEvents: true})
	require.NoError(t, err)

	assert.Equal(t, first.Encryption, second.Encryption)
	assert.Equal(t, first.XorTableStart, second.XorTableStart)
	assert.Equal(t, first.HelperCount, second.HelperCount)
}
