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

// Package wasm is a small, special-purpose reader/writer for the WebAssembly
// binary format. It plays the role the deobfuscation pipeline needs from a
// Wasm AST library: parsing a module into typed sections plus a nested
// instruction tree per function body, and reassembling an edited module back
// into bytes.
//
// It is not a general-purpose Wasm toolkit: there is no validator, no
// interpreter, and encoding does not preserve the original byte encoding
// (the original LEB128 width of a value is not kept; values are always
// re-encoded in their canonical minimal form).
// That is sufficient for a rewriter that only ever replaces whole
// instructions, never mutates sub-fields of surviving ones.
package wasm

// ValType is a WebAssembly value type byte.
type ValType byte

const (
	ValI32 ValType = 0x7f
	ValI64 ValType = 0x7e
	ValF32 ValType = 0x7d
	ValF64 ValType = 0x7c
)

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	default:
		return "unknown"
	}
}

// FuncType is a function signature: parameter types followed by result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// ImportKind distinguishes the four importable entity kinds.
type ImportKind byte

const (
	ImportKindFunc   ImportKind = 0
	ImportKindTable  ImportKind = 1
	ImportKindMemory ImportKind = 2
	ImportKindGlobal ImportKind = 3
)

// Import is one entry of the import section.
type Import struct {
	Module     string
	Name       string
	Kind       ImportKind
	TypeIndex  uint32 // valid when Kind == ImportKindFunc
	Descriptor []byte // raw bytes for non-func imports, passed through unchanged
}

// ExportKind mirrors ImportKind for the export section.
type ExportKind byte

const (
	ExportKindFunc   ExportKind = 0
	ExportKindTable  ExportKind = 1
	ExportKindMemory ExportKind = 2
	ExportKindGlobal ExportKind = 3
)

// Export is one entry of the export section.
type Export struct {
	Name  string
	Kind  ExportKind
	Index uint32
}

// Limits is the {min, max?} pair shared by tables and memories.
type Limits struct {
	Min uint32
	Max *uint32
}

// Memory is one memory section (or memory import) entry.
type Memory struct {
	Limits Limits
}

// Global is one global section entry. Init is the constant-expression
// initializer; for the cases this pipeline cares about it is a single
// i32.const instruction.
type Global struct {
	Type    ValType
	Mutable bool
	Init    []*Instr
}

// DataKind distinguishes active data segments (placed into a memory at a
// constant offset at instantiation time) from passive ones (only
// addressable via memory.init).
type DataKind int

const (
	DataActive DataKind = iota
	DataPassive
)

// DataSegment is one entry of the data section.
type DataSegment struct {
	Kind     DataKind
	MemIndex uint32
	Offset   []*Instr // constant expression; Active only
	Bytes    []byte
}

// ConstI32 reports whether the offset expression is a single i32.const and
// returns its value.
func (d *DataSegment) ConstI32() (int64, bool) {
	return constI32(d.Offset)
}

// Function is one local (module-defined) function: its type index, its
// declared locals beyond the parameters, and its instruction tree.
type Function struct {
	Index     uint32 // global function index, including imported functions
	TypeIndex uint32
	Locals    []ValType // additional locals, in declaration order (post-params)
	Body      []*Instr
}

// Module is a parsed WebAssembly module, decomposed into the sections this
// pipeline reasons about. Sections not listed here (Table, Element, and
// every custom section, "name" included) are kept as opaque passthrough
// payloads; see Encode for where they are re-emitted.
type Module struct {
	Types   []FuncType
	Imports []Import
	Exports []Export
	Globals []Global
	Memories []Memory
	Data    []DataSegment

	// Funcs holds every local (non-imported) function, indexed the same
	// as NumImportedFuncs+i.
	Funcs []Function

	StartFunc *uint32

	NumImportedFuncs uint32

	passthrough []rawSection
}

type rawSection struct {
	id      byte
	payload []byte
}

// FuncType returns the signature of the function at the given global index,
// whether imported or local.
func (m *Module) FuncType(idx uint32) (FuncType, bool) {
	if idx < m.NumImportedFuncs {
		var seen uint32
		for _, imp := range m.Imports {
			if imp.Kind != ImportKindFunc {
				continue
			}
			if seen == idx {
				if int(imp.TypeIndex) >= len(m.Types) {
					return FuncType{}, false
				}
				return m.Types[imp.TypeIndex], true
			}
			seen++
		}
		return FuncType{}, false
	}
	local := idx - m.NumImportedFuncs
	if int(local) >= len(m.Funcs) {
		return FuncType{}, false
	}
	ft := m.Funcs[local].TypeIndex
	if int(ft) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[ft], true
}

// Function looks up the local function at global index idx.
func (m *Module) Function(idx uint32) (*Function, bool) {
	if idx < m.NumImportedFuncs {
		return nil, false
	}
	local := idx - m.NumImportedFuncs
	if int(local) >= len(m.Funcs) {
		return nil, false
	}
	return &m.Funcs[local], true
}

// ExportedName returns the export name for function idx, if exported as a func.
func (m *Module) ExportedName(idx uint32) (string, bool) {
	for _, exp := range m.Exports {
		if exp.Kind == ExportKindFunc && exp.Index == idx {
			return exp.Name, true
		}
	}
	return "", false
}
