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

package rewrite

import (
	"github.com/dotandev/wasm-deobfuscator/internal/classify"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
)

// HelperBodies replaces each classified helper function's body with the
// direct typed access it wraps, so the helper still works correctly for any
// remaining indirect caller (e.g. via a table) after call sites are inlined.
func HelperBodies(m *wasm.Module, cls *classify.Result) {
	for idx, helper := range cls.Loads {
		fn, ok := m.Function(idx)
		if !ok {
			continue
		}
		fn.Body = loadHelperBody(helper)
	}
	for idx, helper := range cls.Stores {
		fn, ok := m.Function(idx)
		if !ok {
			continue
		}
		fn.Body = storeHelperBody(helper)
	}
}

// loadHelperBody builds: local.get idx; local.get off; i32.add;
// typed-load(offset:0); return
func loadHelperBody(h classify.Helper) []*wasm.Instr {
	return []*wasm.Instr{
		wasm.NewLocalGet(0, 0),
		wasm.NewLocalGet(1, 1),
		wasm.NewBinOp(wasm.OpI32Add, 2),
		wasm.NewLoad(h.Kind.LoadOp(), 0, 3),
		wasm.NewReturn(4),
	}
}

// storeHelperBody builds: local.get idx; local.get off; i32.add;
// local.get value; typed-store(offset:0); return
//
// Store candidate params are (idx i32, value V, off i32): local 0 is the
// address index, local 1 is the value being stored, local 2 is the offset.
func storeHelperBody(h classify.Helper) []*wasm.Instr {
	return []*wasm.Instr{
		wasm.NewLocalGet(0, 0),
		wasm.NewLocalGet(2, 1),
		wasm.NewBinOp(wasm.OpI32Add, 2),
		wasm.NewLocalGet(1, 3),
		wasm.NewStore(h.Kind.StoreOp(), 0, 4),
		wasm.NewReturn(5),
	}
}
