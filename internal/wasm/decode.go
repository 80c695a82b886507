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

import (
	"encoding/binary"

	"github.com/dotandev/wasm-deobfuscator/internal/errors"
)

var magic = []byte{0x00, 0x61, 0x73, 0x6d}

const binaryVersion = 1

const (
	secCustom   byte = 0
	secType     byte = 1
	secImport   byte = 2
	secFunction byte = 3
	secTable    byte = 4
	secMemory   byte = 5
	secGlobal   byte = 6
	secExport   byte = 7
	secStart    byte = 8
	secElement  byte = 9
	secCode     byte = 10
	secData     byte = 11
)

// Decode parses a WebAssembly binary module.
func Decode(data []byte) (*Module, error) {
	if len(data) < 8 {
		return nil, errors.WrapWasmInvalid("module too short")
	}
	for i := 0; i < 4; i++ {
		if data[i] != magic[i] {
			return nil, errors.WrapWasmInvalid("bad magic bytes")
		}
	}
	if binary.LittleEndian.Uint32(data[4:8]) != binaryVersion {
		return nil, errors.WrapWasmInvalid("unsupported binary version")
	}

	m := &Module{}
	pos := 8
	var funcTypeIdxs []uint32
	var bodies [][]byte

	for pos < len(data) {
		secID := data[pos]
		pos++

		size, n := decodeULEB128(data[pos:])
		pos += n
		if pos+int(size) > len(data) {
			return nil, errors.WrapWasmInvalid("section extends past end of module")
		}
		payload := data[pos : pos+int(size)]
		pos += int(size)

		var err error
		switch secID {
		case secType:
			m.Types, err = parseTypeSection(payload)
		case secImport:
			m.Imports, m.NumImportedFuncs, err = parseImportSection(payload)
		case secFunction:
			funcTypeIdxs, err = parseIndexVec(payload)
		case secMemory:
			m.Memories, err = parseMemorySection(payload)
		case secGlobal:
			m.Globals, err = parseGlobalSection(payload)
		case secExport:
			m.Exports, err = parseExportSection(payload)
		case secStart:
			idx, _ := decodeULEB128(payload)
			idx32 := uint32(idx)
			m.StartFunc = &idx32
		case secCode:
			bodies, err = parseCodeSection(payload)
		case secData:
			m.Data, err = parseDataSection(payload)
		default:
			raw := make([]byte, len(payload))
			copy(raw, payload)
			m.passthrough = append(m.passthrough, rawSection{id: secID, payload: raw})
		}
		if err != nil {
			return nil, err
		}
	}

	if len(funcTypeIdxs) != len(bodies) {
		return nil, errors.WrapWasmInvalid("function and code section entry counts differ")
	}
	m.Funcs = make([]Function, len(bodies))
	for i := range bodies {
		globalIdx := m.NumImportedFuncs + uint32(i)
		locals, body, err := decodeFuncBody(bodies[i])
		if err != nil {
			return nil, err
		}
		m.Funcs[i] = Function{
			Index:     globalIdx,
			TypeIndex: funcTypeIdxs[i],
			Locals:    locals,
			Body:      body,
		}
	}

	return m, nil
}

func parseValType(b byte) ValType { return ValType(b) }

func parseTypeSection(data []byte) ([]FuncType, error) {
	count, n := decodeULEB128(data)
	pos := n
	types := make([]FuncType, 0, count)
	for i := uint64(0); i < count; i++ {
		if pos >= len(data) || data[pos] != 0x60 {
			return nil, errors.WrapWasmInvalid("expected func type marker 0x60")
		}
		pos++
		paramCount, pn := decodeULEB128(data[pos:])
		pos += pn
		params := make([]ValType, paramCount)
		for j := range params {
			params[j] = parseValType(data[pos])
			pos++
		}
		resultCount, rn := decodeULEB128(data[pos:])
		pos += rn
		results := make([]ValType, resultCount)
		for j := range results {
			results[j] = parseValType(data[pos])
			pos++
		}
		types = append(types, FuncType{Params: params, Results: results})
	}
	return types, nil
}

func parseLimits(data []byte) (Limits, int) {
	flag := data[0]
	pos := 1
	min, n := decodeULEB128(data[pos:])
	pos += n
	lim := Limits{Min: uint32(min)}
	if flag == 1 {
		max, mn := decodeULEB128(data[pos:])
		pos += mn
		maxV := uint32(max)
		lim.Max = &maxV
	}
	return lim, pos
}

func parseImportSection(data []byte) ([]Import, uint32, error) {
	count, n := decodeULEB128(data)
	pos := n
	var imports []Import
	var numFuncs uint32
	for i := uint64(0); i < count; i++ {
		modLen, mn := decodeULEB128(data[pos:])
		pos += mn
		modName := string(data[pos : pos+int(modLen)])
		pos += int(modLen)

		nameLen, nn := decodeULEB128(data[pos:])
		pos += nn
		name := string(data[pos : pos+int(nameLen)])
		pos += int(nameLen)

		kind := ImportKind(data[pos])
		pos++

		entry := Import{Module: modName, Name: name, Kind: kind}
		switch kind {
		case ImportKindFunc:
			typeIdx, tn := decodeULEB128(data[pos:])
			pos += tn
			entry.TypeIndex = uint32(typeIdx)
			numFuncs++
		case ImportKindTable:
			start := pos
			pos++ // elem type
			_, ln := parseLimits(data[pos:])
			pos += ln
			entry.Descriptor = append([]byte(nil), data[start:pos]...)
		case ImportKindMemory:
			start := pos
			_, ln := parseLimits(data[pos:])
			pos += ln
			entry.Descriptor = append([]byte(nil), data[start:pos]...)
		case ImportKindGlobal:
			start := pos
			pos += 2
			entry.Descriptor = append([]byte(nil), data[start:pos]...)
		}
		imports = append(imports, entry)
	}
	return imports, numFuncs, nil
}

func parseIndexVec(data []byte) ([]uint32, error) {
	count, n := decodeULEB128(data)
	pos := n
	out := make([]uint32, 0, count)
	for i := uint64(0); i < count; i++ {
		idx, in_ := decodeULEB128(data[pos:])
		pos += in_
		out = append(out, uint32(idx))
	}
	return out, nil
}

func parseMemorySection(data []byte) ([]Memory, error) {
	count, n := decodeULEB128(data)
	pos := n
	mems := make([]Memory, 0, count)
	for i := uint64(0); i < count; i++ {
		lim, ln := parseLimits(data[pos:])
		pos += ln
		mems = append(mems, Memory{Limits: lim})
	}
	return mems, nil
}

func parseGlobalSection(data []byte) ([]Global, error) {
	count, n := decodeULEB128(data)
	pos := n
	globals := make([]Global, 0, count)
	for i := uint64(0); i < count; i++ {
		typ := parseValType(data[pos])
		pos++
		mutable := data[pos] == 1
		pos++
		exprStart := pos
		for pos < len(data) && data[pos] != 0x0b {
			pos++
		}
		if pos < len(data) {
			pos++ // consume end
		}
		init, _, err := decodeInstrSeq(data[exprStart:pos], 0)
		if err != nil {
			return nil, err
		}
		globals = append(globals, Global{Type: typ, Mutable: mutable, Init: init})
	}
	return globals, nil
}

func parseExportSection(data []byte) ([]Export, error) {
	count, n := decodeULEB128(data)
	pos := n
	exports := make([]Export, 0, count)
	for i := uint64(0); i < count; i++ {
		nameLen, nn := decodeULEB128(data[pos:])
		pos += nn
		name := string(data[pos : pos+int(nameLen)])
		pos += int(nameLen)
		kind := ExportKind(data[pos])
		pos++
		idx, in_ := decodeULEB128(data[pos:])
		pos += in_
		exports = append(exports, Export{Name: name, Kind: kind, Index: uint32(idx)})
	}
	return exports, nil
}

func parseCodeSection(data []byte) ([][]byte, error) {
	count, n := decodeULEB128(data)
	pos := n
	bodies := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		size, sn := decodeULEB128(data[pos:])
		pos += sn
		if pos+int(size) > len(data) {
			return nil, errors.WrapWasmInvalid("function body extends past code section")
		}
		body := make([]byte, size)
		copy(body, data[pos:pos+int(size)])
		bodies = append(bodies, body)
		pos += int(size)
	}
	return bodies, nil
}

func decodeFuncBody(raw []byte) ([]ValType, []*Instr, error) {
	pos := 0
	declCount, n := decodeULEB128(raw[pos:])
	pos += n
	var locals []ValType
	for i := uint64(0); i < declCount; i++ {
		cnt, cn := decodeULEB128(raw[pos:])
		pos += cn
		typ := parseValType(raw[pos])
		pos++
		for j := uint64(0); j < cnt; j++ {
			locals = append(locals, typ)
		}
	}

	body, _, err := decodeInstrSeq(raw[pos:], 0)
	if err != nil {
		return nil, nil, err
	}
	return locals, body, nil
}

func parseDataSection(data []byte) ([]DataSegment, error) {
	count, n := decodeULEB128(data)
	pos := n
	segs := make([]DataSegment, 0, count)
	for i := uint64(0); i < count; i++ {
		flag, fn := decodeULEB128(data[pos:])
		pos += fn

		seg := DataSegment{}
		switch flag {
		case 0: // active, memory 0, offset expr
			exprStart := pos
			for pos < len(data) && data[pos] != 0x0b {
				pos++
			}
			if pos < len(data) {
				pos++
			}
			offset, _, err := decodeInstrSeq(data[exprStart:pos], 0)
			if err != nil {
				return nil, err
			}
			seg.Kind = DataActive
			seg.MemIndex = 0
			seg.Offset = offset
		case 1: // passive
			seg.Kind = DataPassive
		case 2: // active, explicit memory index
			memIdx, mn := decodeULEB128(data[pos:])
			pos += mn
			exprStart := pos
			for pos < len(data) && data[pos] != 0x0b {
				pos++
			}
			if pos < len(data) {
				pos++
			}
			offset, _, err := decodeInstrSeq(data[exprStart:pos], 0)
			if err != nil {
				return nil, err
			}
			seg.Kind = DataActive
			seg.MemIndex = uint32(memIdx)
			seg.Offset = offset
		default:
			return nil, errors.WrapWasmInvalid("unsupported data segment flag")
		}

		size, sn := decodeULEB128(data[pos:])
		pos += sn
		seg.Bytes = make([]byte, size)
		copy(seg.Bytes, data[pos:pos+int(size)])
		pos += int(size)

		segs = append(segs, seg)
	}
	return segs, nil
}
