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
	"math"

	"github.com/dotandev/wasm-deobfuscator/internal/errors"
)

// decodeInstrSeq decodes a constant expression or top-level function body:
// a flat instruction sequence terminated by the implicit end byte.
func decodeInstrSeq(data []byte, idStart int) ([]*Instr, int, error) {
	counter := idStart
	instrs, consumed, _, err := decodeBlockBody(data, &counter)
	return instrs, consumed, err
}

// decodeBlockBody decodes instructions until a terminating end (0x0b) or
// else (0x05) opcode at the current nesting depth, returning the
// instructions, the number of bytes consumed (including the terminator),
// and which opcode terminated the sequence.
func decodeBlockBody(data []byte, counter *int) ([]*Instr, int, byte, error) {
	var out []*Instr
	pos := 0

	for {
		if pos >= len(data) {
			return nil, 0, 0, errors.WrapWasmInvalid("instruction sequence missing end marker")
		}
		op := data[pos]
		pos++

		if op == OpEnd || op == OpElse {
			return out, pos, op, nil
		}

		instr := &Instr{Op: op, ID: *counter}
		*counter++

		switch op {
		case OpBlock, OpLoop, OpIf:
			bt, n := decodeSLEB32(data[pos:])
			pos += n
			instr.BlockType = bt

			body, consumed, term, err := decodeBlockBody(data[pos:], counter)
			if err != nil {
				return nil, 0, 0, err
			}
			pos += consumed
			instr.Body = body

			if op == OpIf && term == OpElse {
				elseBody, elseConsumed, elseTerm, err := decodeBlockBody(data[pos:], counter)
				if err != nil {
					return nil, 0, 0, err
				}
				pos += elseConsumed
				instr.Else = elseBody
				if elseTerm != OpEnd {
					return nil, 0, 0, errors.WrapWasmInvalid("if/else block missing end marker")
				}
			}

		case OpBr, OpBrIf:
			depth, n := decodeULEB128(data[pos:])
			pos += n
			instr.BrDepth = uint32(depth)

		case OpBrTable:
			count, cn := decodeULEB128(data[pos:])
			pos += cn
			targets := make([]uint32, count)
			for i := uint64(0); i < count; i++ {
				t, tn := decodeULEB128(data[pos:])
				pos += tn
				targets[i] = uint32(t)
			}
			def, dn := decodeULEB128(data[pos:])
			pos += dn
			instr.BrTable = targets
			instr.BrDefault = uint32(def)

		case OpCall:
			idx, n := decodeULEB128(data[pos:])
			pos += n
			instr.FuncIdx = uint32(idx)

		case OpCallIndirect:
			typeIdx, n1 := decodeULEB128(data[pos:])
			pos += n1
			tableIdx, n2 := decodeULEB128(data[pos:])
			pos += n2
			instr.FuncIdx = uint32(typeIdx)
			instr.TableIdx = uint32(tableIdx)

		case OpLocalGet, OpLocalSet, OpLocalTee:
			idx, n := decodeULEB128(data[pos:])
			pos += n
			instr.LocalIdx = uint32(idx)

		case OpGlobalGet, OpGlobalSet:
			idx, n := decodeULEB128(data[pos:])
			pos += n
			instr.GlobalIdx = uint32(idx)

		case OpMemorySize, OpMemoryGrow:
			_, n := decodeULEB128(data[pos:]) // reserved byte
			pos += n

		case OpI32Const:
			v, n := decodeSLEB32(data[pos:])
			pos += n
			instr.I32 = v

		case OpI64Const:
			v, n := decodeSLEB64(data[pos:])
			pos += n
			instr.I64 = v

		case OpF32Const:
			bits := binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
			instr.F32 = math.Float32frombits(bits)

		case OpF64Const:
			bits := binary.LittleEndian.Uint64(data[pos : pos+8])
			pos += 8
			instr.F64 = math.Float64frombits(bits)

		default:
			if IsLoad(op) || IsStore(op) {
				align, n1 := decodeULEB128(data[pos:])
				pos += n1
				offset, n2 := decodeULEB128(data[pos:])
				pos += n2
				instr.MemArg = MemArg{Align: uint32(align), Offset: uint32(offset)}
			}
			// All remaining MVP opcodes (comparisons, arithmetic, conversions,
			// drop, select, nop, unreachable, return) take no immediates.
		}

		out = append(out, instr)
	}
}
