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

// Package decrypt recovers the plaintext data segment from its XOR-obfuscated
// form using the magic-constant addressing scheme the obfuscator's runtime
// uses to walk it.
package decrypt

import (
	"github.com/dotandev/wasm-deobfuscator/internal/encryption"
	"github.com/dotandev/wasm-deobfuscator/internal/errors"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
)

const (
	xorTableSize = 96

	strideLen    = 320
	condStride   = 328
	condBase     = 1024
	dataBase     = 1032
	startPadding = 23
)

// ExtractXorTable reads the 96-byte repeating XOR key table out of the
// first active data segment, located at xorTableStart relative to that
// segment's own base address.
func ExtractXorTable(m *wasm.Module, xorTableStart int32) ([]byte, error) {
	seg, base, err := firstActiveSegment(m)
	if err != nil {
		return nil, err
	}

	rel := int(xorTableStart) - int(base)
	if rel < 0 || rel+xorTableSize > len(seg.Bytes) {
		return nil, errors.WrapMissingDataSegment("xor table range falls outside the first active data segment")
	}
	table := make([]byte, xorTableSize)
	copy(table, seg.Bytes[rel:rel+xorTableSize])
	return table, nil
}

// firstActiveSegment returns the module's first active data segment and its
// constant base offset. This segment holds the XOR key table.
func firstActiveSegment(m *wasm.Module) (*wasm.DataSegment, int64, error) {
	for i := range m.Data {
		seg := &m.Data[i]
		if seg.Kind != wasm.DataActive {
			continue
		}
		base, ok := seg.ConstI32()
		if !ok {
			return nil, 0, errors.WrapOffsetNotConstant("first active data segment")
		}
		return seg, base, nil
	}
	return nil, 0, errors.WrapMissingDataSegment("module has no active data segment")
}

// secondActiveSegment returns the module's second active data segment and
// its constant base offset. This segment holds the obfuscated payload D
// that Decrypt reverses; data_start is its declared address.
func secondActiveSegment(m *wasm.Module) (*wasm.DataSegment, int64, error) {
	seen := 0
	for i := range m.Data {
		seg := &m.Data[i]
		if seg.Kind != wasm.DataActive {
			continue
		}
		seen++
		if seen < 2 {
			continue
		}
		base, ok := seg.ConstI32()
		if !ok {
			return nil, 0, errors.WrapOffsetNotConstant("second active data segment")
		}
		return seg, base, nil
	}
	return nil, 0, errors.WrapMissingDataSegment("module has no second active data segment")
}

// Decrypt recovers the plaintext view of the second active data segment
// (the obfuscated payload D) given the detected encryption mode and the
// XOR table held in the first active data segment. Positions addressed
// outside D's recorded byte range halt iteration, and the result is zero
// padded up to D's declared length. It returns the new segment offset
// start_pos alongside the plaintext.
func Decrypt(m *wasm.Module, det *encryption.Detection) (int64, []byte, error) {
	if det.Mode != encryption.ModeXor {
		return 0, nil, errors.ErrChacha20Unsupported
	}

	table, err := ExtractXorTable(m, det.XorTableStart)
	if err != nil {
		return 0, nil, err
	}

	seg, base, err := secondActiveSegment(m)
	if err != nil {
		return 0, nil, err
	}
	dataStart := base

	out := make([]byte, len(seg.Bytes))
	startPos := dataStart - ((dataStart / strideLen) << 3) - strideLen - startPadding

	for pos := startPos; pos < startPos+int64(len(seg.Bytes)); pos++ {
		i := strideIndex(pos)
		j := (i << 3) + pos + dataBase
		condAddr := i*condStride + condBase
		k := table[mod(pos, xorTableSize)]

		condIdx := condAddr - dataStart
		dataIdx := j - dataStart
		writeIdx := pos - startPos

		if condIdx < 0 || condIdx >= int64(len(seg.Bytes)) || dataIdx < 0 || dataIdx >= int64(len(seg.Bytes)) {
			break
		}
		if seg.Bytes[condIdx] <= 0 {
			out[writeIdx] = 0
			continue
		}
		out[writeIdx] = seg.Bytes[dataIdx] ^ k
	}

	return startPos, out, nil
}

func strideIndex(pos int64) int64 { return pos / strideLen }

func mod(pos int64, m int64) int64 {
	r := pos % m
	if r < 0 {
		r += m
	}
	return r
}
