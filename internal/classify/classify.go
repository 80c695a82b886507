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

// Package classify identifies the memory-access helper functions the
// obfuscator generates in place of direct loads/stores, and recovers which
// typed access each one performs.
package classify

import (
	"github.com/dotandev/wasm-deobfuscator/internal/errors"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
)

// Kind is the typed memory access a helper function performs.
type Kind int

const (
	U8 Kind = iota
	U16
	S8
	S16
	S32
	S64
	F32
	F64
)

func (k Kind) String() string {
	switch k {
	case U8:
		return "u8"
	case U16:
		return "u16"
	case S8:
		return "s8"
	case S16:
		return "s16"
	case S32:
		return "s32"
	case S64:
		return "s64"
	case F32:
		return "f32"
	case F64:
		return "f64"
	default:
		return "unknown"
	}
}

// LoadOp returns the Wasm load opcode this kind corresponds to.
func (k Kind) LoadOp() byte {
	switch k {
	case U8:
		return wasm.OpI32Load8U
	case U16:
		return wasm.OpI32Load16U
	case S8:
		return wasm.OpI32Load8S
	case S16:
		return wasm.OpI32Load16S
	case S32:
		return wasm.OpI32Load
	case S64:
		return wasm.OpI64Load
	case F32:
		return wasm.OpF32Load
	case F64:
		return wasm.OpF64Load
	}
	return 0
}

// StoreOp returns the Wasm store opcode this kind corresponds to.
func (k Kind) StoreOp() byte {
	switch k {
	case U8, S8:
		return wasm.OpI32Store8
	case U16, S16:
		return wasm.OpI32Store16
	case S32:
		return wasm.OpI32Store
	case S64:
		return wasm.OpI64Store
	case F32:
		return wasm.OpF32Store
	case F64:
		return wasm.OpF64Store
	}
	return 0
}

// Helper is one classified memory-access helper function.
type Helper struct {
	FuncIndex uint32
	Name      string
	Kind      Kind
	IsStore   bool
}

// Result is the full classification output: every helper this module
// exposes, keyed by function index, split by direction for convenient
// lookup during call-site rewriting.
type Result struct {
	Loads  map[uint32]Helper
	Stores map[uint32]Helper
}

// Classify finds every exported helper function in m matching the
// load/store candidate shapes and determines its Kind.
func Classify(m *wasm.Module) (*Result, error) {
	res := &Result{
		Loads:  make(map[uint32]Helper),
		Stores: make(map[uint32]Helper),
	}

	for i := range m.Funcs {
		fn := &m.Funcs[i]
		name, exported := m.ExportedName(fn.Index)
		if !exported {
			continue
		}
		ft, ok := m.FuncType(fn.Index)
		if !ok {
			continue
		}

		if isLoadCandidate(ft) {
			kind, ok := classifyLoad(ft, fn)
			if !ok {
				continue // classification failure for a candidate is a silent drop
			}
			res.Loads[fn.Index] = Helper{FuncIndex: fn.Index, Name: name, Kind: kind}
			continue
		}

		if isStoreCandidate(ft) {
			kind, err := classifyStore(ft, fn)
			if err != nil {
				return nil, err
			}
			res.Stores[fn.Index] = Helper{FuncIndex: fn.Index, Name: name, Kind: kind, IsStore: true}
		}
	}

	return res, nil
}

// isLoadCandidate reports whether ft has the shape (i32,i32) -> T.
func isLoadCandidate(ft wasm.FuncType) bool {
	return len(ft.Params) == 2 &&
		ft.Params[0] == wasm.ValI32 && ft.Params[1] == wasm.ValI32 &&
		len(ft.Results) == 1
}

// isStoreCandidate reports whether ft has the shape (i32,V,i32) -> ().
func isStoreCandidate(ft wasm.FuncType) bool {
	return len(ft.Params) == 3 &&
		ft.Params[0] == wasm.ValI32 && ft.Params[2] == wasm.ValI32 &&
		len(ft.Results) == 0
}

func classifyLoad(ft wasm.FuncType, fn *wasm.Function) (Kind, bool) {
	switch ft.Results[0] {
	case wasm.ValF32:
		return F32, true
	case wasm.ValF64:
		return F64, true
	case wasm.ValI64:
		return S64, true
	case wasm.ValI32:
		return classifyI32Load(fn)
	}
	return 0, false
}

// i32LoadFeatures are the DFS-collected structural signals used to
// distinguish the five possible i32-returning access widths.
type i32LoadFeatures struct {
	hasLoad      bool
	hasMask16    bool // i32.const 0xffff (the 16-bit mask constant)
	hasMask8     bool // i32.const 0xff (the 8-bit mask constant)
	hasConst24   bool // i32.const 24
	hasShl       bool
	hasShrS      bool
}

func extractI32LoadFeatures(body []*wasm.Instr) i32LoadFeatures {
	var f i32LoadFeatures
	walkInstrs(body, func(in *wasm.Instr) {
		switch in.Op {
		case wasm.OpI32Load, wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U:
			f.hasLoad = true
		case wasm.OpI32Const:
			switch in.I32 {
			case 0xffff:
				f.hasMask16 = true
			case 0xff:
				f.hasMask8 = true
			case 24:
				f.hasConst24 = true
			}
		case wasm.OpI32Shl:
			f.hasShl = true
		case wasm.OpI32ShrS:
			f.hasShrS = true
		}
	})
	return f
}

func walkInstrs(seq []*wasm.Instr, visit func(*wasm.Instr)) {
	for _, in := range seq {
		visit(in)
		if in.Body != nil {
			walkInstrs(in.Body, visit)
		}
		if in.Else != nil {
			walkInstrs(in.Else, visit)
		}
	}
}

// classifyI32Load applies the decision tree over the DFS feature set to
// recover the exact sub-i32 access width and signedness.
func classifyI32Load(fn *wasm.Function) (Kind, bool) {
	f := extractI32LoadFeatures(fn.Body)
	if !f.hasLoad {
		return 0, false
	}

	if f.hasShl && f.hasConst24 {
		return S8, true
	}
	if f.hasShrS {
		if f.hasMask16 {
			return S16, true
		}
		if f.hasMask8 {
			return S8, true
		}
	}
	if f.hasMask16 {
		return U16, true
	}
	if f.hasMask8 {
		return U8, true
	}
	return S32, true
}

// classifyStore dispatches on the store helper's second parameter type,
// falling back to the first store opcode it observes in the body for i32
// helpers. A non-exhaustive match there is unreachable in a well-formed
// obfuscated module and is therefore a fatal error, not a silent drop.
func classifyStore(ft wasm.FuncType, fn *wasm.Function) (Kind, error) {
	switch ft.Params[1] {
	case wasm.ValI64:
		return S64, nil
	case wasm.ValF32:
		return F32, nil
	case wasm.ValF64:
		return F64, nil
	case wasm.ValI32:
		return classifyI32Store(fn)
	}
	return 0, errors.WrapUnreachableResult(ft.Params[1].String())
}

func classifyI32Store(fn *wasm.Function) (Kind, error) {
	var found Kind
	var ok bool
	walkInstrs(fn.Body, func(in *wasm.Instr) {
		if ok {
			return
		}
		switch in.Op {
		case wasm.OpI32Store8:
			found, ok = S8, true
		case wasm.OpI32Store16:
			found, ok = S16, true
		case wasm.OpI32Store:
			found, ok = S32, true
		case wasm.OpI64Store:
			found, ok = S64, true
		}
	})
	if !ok {
		return 0, errors.WrapUnreachableStoreKind("no recognized store opcode in i32 store helper body")
	}
	return found, nil
}
