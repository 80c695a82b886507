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

// encodeInstrSeq encodes seq as a sequence terminated by an explicit end
// byte, the inverse of decodeInstrSeq.
func encodeInstrSeq(seq []*Instr) []byte {
	var out []byte
	for _, in := range seq {
		encodeInstr(in, &out)
	}
	out = append(out, OpEnd)
	return out
}

func encodeInstr(in *Instr, out *[]byte) {
	*out = append(*out, in.Op)

	switch in.Op {
	case OpBlock, OpLoop, OpIf:
		*out = append(*out, encodeSLEB32(in.BlockType)...)
		for _, child := range in.Body {
			encodeInstr(child, out)
		}
		if in.Op == OpIf && in.Else != nil {
			*out = append(*out, OpElse)
			for _, child := range in.Else {
				encodeInstr(child, out)
			}
		}
		*out = append(*out, OpEnd)

	case OpBr, OpBrIf:
		*out = append(*out, encodeULEB128(uint64(in.BrDepth))...)

	case OpBrTable:
		*out = append(*out, encodeULEB128(uint64(len(in.BrTable)))...)
		for _, t := range in.BrTable {
			*out = append(*out, encodeULEB128(uint64(t))...)
		}
		*out = append(*out, encodeULEB128(uint64(in.BrDefault))...)

	case OpCall:
		*out = append(*out, encodeULEB128(uint64(in.FuncIdx))...)

	case OpCallIndirect:
		*out = append(*out, encodeULEB128(uint64(in.FuncIdx))...)
		*out = append(*out, encodeULEB128(uint64(in.TableIdx))...)

	case OpLocalGet, OpLocalSet, OpLocalTee:
		*out = append(*out, encodeULEB128(uint64(in.LocalIdx))...)

	case OpGlobalGet, OpGlobalSet:
		*out = append(*out, encodeULEB128(uint64(in.GlobalIdx))...)

	case OpMemorySize, OpMemoryGrow:
		*out = append(*out, 0x00)

	case OpI32Const:
		*out = append(*out, encodeSLEB32(in.I32)...)

	case OpI64Const:
		*out = append(*out, encodeSLEB64(in.I64)...)

	case OpF32Const:
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], f32bits(in.F32))
		*out = append(*out, buf[:]...)

	case OpF64Const:
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], f64bits(in.F64))
		*out = append(*out, buf[:]...)

	default:
		if IsLoad(in.Op) || IsStore(in.Op) {
			*out = append(*out, encodeULEB128(uint64(in.MemArg.Align))...)
			*out = append(*out, encodeULEB128(uint64(in.MemArg.Offset))...)
		}
	}
}
