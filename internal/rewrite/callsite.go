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

// CallSites replaces every (i32.const N, call H) pair in m's function bodies
// with a single typed load/store at offset N, where H is one of the
// classified helpers. Each block is scanned independently and edits within
// a block are applied in reverse index order so earlier indices in the same
// block stay valid as later ones are spliced out.
func CallSites(m *wasm.Module, cls *classify.Result) {
	helpers := newHelperMap(cls)
	for i := range m.Funcs {
		m.Funcs[i].Body = rewriteSeq(m.Funcs[i].Body, helpers)
	}
}

func rewriteSeq(seq []*wasm.Instr, helpers helperMap) []*wasm.Instr {
	for i := range seq {
		if seq[i].Body != nil {
			seq[i].Body = rewriteSeq(seq[i].Body, helpers)
		}
		if seq[i].Else != nil {
			seq[i].Else = rewriteSeq(seq[i].Else, helpers)
		}
	}

	type edit struct {
		at       int // index of the i32.const slot
		replace  *wasm.Instr
	}
	var edits []edit

	for i := 0; i+1 < len(seq); i++ {
		c := seq[i]
		call := seq[i+1]
		if !c.IsConstI32() || call.Op != wasm.OpCall {
			continue
		}
		helper, ok := helpers.lookup(call.FuncIdx)
		if !ok {
			continue
		}

		offset := uint32(c.I32)
		var replacement *wasm.Instr
		if helper.IsStore {
			replacement = wasm.NewStore(helper.Kind.StoreOp(), offset, c.ID)
		} else {
			replacement = wasm.NewLoad(helper.Kind.LoadOp(), offset, c.ID)
		}
		edits = append(edits, edit{at: i, replace: replacement})
		i++ // skip the call slot we just consumed
	}

	for k := len(edits) - 1; k >= 0; k-- {
		e := edits[k]
		tail := append([]*wasm.Instr{}, seq[e.at+2:]...)
		seq = append(seq[:e.at], e.replace)
		seq = append(seq, tail...)
	}

	return seq
}
