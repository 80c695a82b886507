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

package wasm

import "encoding/binary"

// Encode reassembles m into a WebAssembly binary module, in canonical
// section order. Passthrough sections do not keep their original position:
// custom sections are emitted directly after the type section, and table
// and element sections at their canonical positions. Passthrough sections
// with any other id are not emitted.
func (m *Module) Encode() []byte {
	out := make([]byte, 0, 4096)
	out = append(out, magic...)
	var verBuf [4]byte
	binary.LittleEndian.PutUint32(verBuf[:], binaryVersion)
	out = append(out, verBuf[:]...)

	emit := func(id byte, payload []byte) {
		out = append(out, id)
		out = append(out, encodeULEB128(uint64(len(payload)))...)
		out = append(out, payload...)
	}

	emitRaw := func(id byte) {
		for _, raw := range m.passthrough {
			if raw.id == id {
				emit(raw.id, raw.payload)
			}
		}
	}

	if len(m.Types) > 0 {
		emit(secType, encodeTypeSection(m.Types))
	}
	emitRaw(secCustom)
	if len(m.Imports) > 0 {
		emit(secImport, encodeImportSection(m.Imports))
	}
	if len(m.Funcs) > 0 {
		idxs := make([]uint32, len(m.Funcs))
		for i, f := range m.Funcs {
			idxs[i] = f.TypeIndex
		}
		emit(secFunction, encodeIndexVec(idxs))
	}
	emitRaw(secTable)
	if len(m.Memories) > 0 {
		emit(secMemory, encodeMemorySection(m.Memories))
	}
	if len(m.Globals) > 0 {
		emit(secGlobal, encodeGlobalSection(m.Globals))
	}
	if len(m.Exports) > 0 {
		emit(secExport, encodeExportSection(m.Exports))
	}
	if m.StartFunc != nil {
		emit(secStart, encodeULEB128(uint64(*m.StartFunc)))
	}
	emitRaw(secElement)
	if len(m.Funcs) > 0 {
		emit(secCode, encodeCodeSection(m.Funcs))
	}
	if len(m.Data) > 0 {
		emit(secData, encodeDataSection(m.Data))
	}

	return out
}

func encodeTypeSection(types []FuncType) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(types)))...)
	for _, ft := range types {
		out = append(out, 0x60)
		out = append(out, encodeULEB128(uint64(len(ft.Params)))...)
		for _, p := range ft.Params {
			out = append(out, byte(p))
		}
		out = append(out, encodeULEB128(uint64(len(ft.Results)))...)
		for _, r := range ft.Results {
			out = append(out, byte(r))
		}
	}
	return out
}

func encodeLimits(l Limits) []byte {
	var out []byte
	if l.Max != nil {
		out = append(out, 1)
		out = append(out, encodeULEB128(uint64(l.Min))...)
		out = append(out, encodeULEB128(uint64(*l.Max))...)
	} else {
		out = append(out, 0)
		out = append(out, encodeULEB128(uint64(l.Min))...)
	}
	return out
}

func encodeString(s string) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(s)))...)
	out = append(out, []byte(s)...)
	return out
}

func encodeImportSection(imports []Import) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(imports)))...)
	for _, imp := range imports {
		out = append(out, encodeString(imp.Module)...)
		out = append(out, encodeString(imp.Name)...)
		out = append(out, byte(imp.Kind))
		switch imp.Kind {
		case ImportKindFunc:
			out = append(out, encodeULEB128(uint64(imp.TypeIndex))...)
		default:
			out = append(out, imp.Descriptor...)
		}
	}
	return out
}

func encodeIndexVec(idxs []uint32) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(idxs)))...)
	for _, idx := range idxs {
		out = append(out, encodeULEB128(uint64(idx))...)
	}
	return out
}

func encodeMemorySection(mems []Memory) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(mems)))...)
	for _, m := range mems {
		out = append(out, encodeLimits(m.Limits)...)
	}
	return out
}

func encodeGlobalSection(globals []Global) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(globals)))...)
	for _, g := range globals {
		out = append(out, byte(g.Type))
		if g.Mutable {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		out = append(out, encodeInstrSeq(g.Init)...)
	}
	return out
}

func encodeExportSection(exports []Export) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(exports)))...)
	for _, e := range exports {
		out = append(out, encodeString(e.Name)...)
		out = append(out, byte(e.Kind))
		out = append(out, encodeULEB128(uint64(e.Index))...)
	}
	return out
}

func encodeCodeSection(funcs []Function) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(funcs)))...)
	for _, f := range funcs {
		body := encodeFuncBody(f)
		out = append(out, encodeULEB128(uint64(len(body)))...)
		out = append(out, body...)
	}
	return out
}

// encodeFuncBody re-groups consecutive equal-typed locals into declaration
// runs, matching how a Wasm producer would re-emit them; this pipeline never
// introduces locals of differing adjacent types so each run is a single decl.
func encodeFuncBody(f Function) []byte {
	var out []byte
	type run struct {
		typ   ValType
		count uint64
	}
	var runs []run
	for _, l := range f.Locals {
		if len(runs) > 0 && runs[len(runs)-1].typ == l {
			runs[len(runs)-1].count++
		} else {
			runs = append(runs, run{typ: l, count: 1})
		}
	}
	out = append(out, encodeULEB128(uint64(len(runs)))...)
	for _, r := range runs {
		out = append(out, encodeULEB128(r.count)...)
		out = append(out, byte(r.typ))
	}
	out = append(out, encodeInstrSeq(f.Body)...)
	return out
}

func encodeDataSection(segs []DataSegment) []byte {
	var out []byte
	out = append(out, encodeULEB128(uint64(len(segs)))...)
	for _, seg := range segs {
		switch seg.Kind {
		case DataPassive:
			out = append(out, encodeULEB128(1)...)
		default:
			if seg.MemIndex == 0 {
				out = append(out, encodeULEB128(0)...)
			} else {
				out = append(out, encodeULEB128(2)...)
				out = append(out, encodeULEB128(uint64(seg.MemIndex))...)
			}
			out = append(out, encodeInstrSeq(seg.Offset)...)
		}
		out = append(out, encodeULEB128(uint64(len(seg.Bytes)))...)
		out = append(out, seg.Bytes...)
	}
	return out
}
