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

// Package encryption detects which scheme the obfuscator used to conceal
// the module's data segment.
package encryption

import (
	"github.com/dotandev/wasm-deobfuscator/internal/classify"
	"github.com/dotandev/wasm-deobfuscator/internal/errors"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
)

// Mode is the detected data-segment encryption scheme.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeXor
	ModeChacha20
)

func (m Mode) String() string {
	switch m {
	case ModeXor:
		return "xor"
	case ModeChacha20:
		return "chacha20"
	default:
		return "unknown"
	}
}

// Detection is the outcome of scanning the U8 load helper's body.
type Detection struct {
	Mode          Mode
	XorTableStart int32 // valid only when Mode == ModeXor
}

// Detect finds the unsigned-byte load helper classified in cls and inspects
// its body for the two adjacent-instruction-pair signatures that
// distinguish the encryption scheme in use.
func Detect(m *wasm.Module, cls *classify.Result) (*Detection, error) {
	var u8Helper *wasm.Function
	for idx, h := range cls.Loads {
		if h.Kind == classify.U8 {
			fn, ok := m.Function(idx)
			if !ok {
				continue
			}
			u8Helper = fn
			break
		}
	}
	if u8Helper == nil {
		return nil, errors.WrapNoU8Loader(nil)
	}

	det, found := scanBody(u8Helper.Body)
	if !found {
		return nil, errors.ErrChacha20Unsupported
	}
	return det, nil
}

// scanBody walks the instruction tree depth-first and inspects adjacent
// instruction pairs within each flat sequence (a block's own instructions,
// not across block boundaries) for the two recognized signatures:
//
//   - call, <anything>                         -> ChaCha20 (unsupported)
//   - i32.rem_u, i32.const k                    -> Xor{XorTableStart: k}
func scanBody(seq []*wasm.Instr) (*Detection, bool) {
	for i := 0; i < len(seq); i++ {
		in := seq[i]

		if in.Op == wasm.OpCall {
			return &Detection{Mode: ModeChacha20}, true
		}

		if in.Op == wasm.OpI32RemU && i+1 < len(seq) {
			next := seq[i+1]
			if next.Op == wasm.OpI32Const {
				return &Detection{Mode: ModeXor, XorTableStart: next.I32}, true
			}
		}

		if in.Body != nil {
			if det, ok := scanBody(in.Body); ok {
				return det, true
			}
		}
		if in.Else != nil {
			if det, ok := scanBody(in.Else); ok {
				return det, true
			}
		}
	}
	return nil, false
}
