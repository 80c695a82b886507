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

import "math"

// Opcodes this package understands structurally. Everything else round-trips
// as an Op with no operands, which is sufficient: the rewriter never needs to
// inspect operands of opcodes outside this set.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpBlock       byte = 0x02
	OpLoop        byte = 0x03
	OpIf          byte = 0x04
	OpElse        byte = 0x05
	OpEnd         byte = 0x0b
	OpBr          byte = 0x0c
	OpBrIf        byte = 0x0d
	OpBrTable     byte = 0x0e
	OpReturn      byte = 0x0f
	OpCall        byte = 0x10
	OpCallIndirect byte = 0x11
	OpDrop        byte = 0x1a
	OpSelect      byte = 0x1b
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpLocalTee    byte = 0x22
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpMemorySize  byte = 0x3f
	OpMemoryGrow  byte = 0x40
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpI32Eqz      byte = 0x45

	OpI32Load    byte = 0x28
	OpI64Load    byte = 0x29
	OpF32Load    byte = 0x2a
	OpF64Load    byte = 0x2b
	OpI32Load8S  byte = 0x2c
	OpI32Load8U  byte = 0x2d
	OpI32Load16S byte = 0x2e
	OpI32Load16U byte = 0x2f
	OpI64Load8S  byte = 0x30
	OpI64Load8U  byte = 0x31
	OpI64Load16S byte = 0x32
	OpI64Load16U byte = 0x33
	OpI64Load32S byte = 0x34
	OpI64Load32U byte = 0x35

	OpI32Store   byte = 0x36
	OpI64Store   byte = 0x37
	OpF32Store   byte = 0x38
	OpF64Store   byte = 0x39
	OpI32Store8  byte = 0x3a
	OpI32Store16 byte = 0x3b
	OpI64Store8  byte = 0x3c
	OpI64Store16 byte = 0x3d
	OpI64Store32 byte = 0x3e

	OpI32RemU byte = 0x70
	OpI32Shl  byte = 0x74
	OpI32ShrS byte = 0x75
	OpI32ShrU byte = 0x76
	OpI32And  byte = 0x71
	OpI32Xor  byte = 0x73
	OpI32Add  byte = 0x6a
)

// loadOps and storeOps are the memory-access opcodes; each carries a
// memarg immediate.
var loadOps = map[byte]bool{
	OpI32Load: true, OpI64Load: true, OpF32Load: true, OpF64Load: true,
	OpI32Load8S: true, OpI32Load8U: true, OpI32Load16S: true, OpI32Load16U: true,
	OpI64Load8S: true, OpI64Load8U: true, OpI64Load16S: true, OpI64Load16U: true, OpI64Load32S: true, OpI64Load32U: true,
}

var storeOps = map[byte]bool{
	OpI32Store: true, OpI64Store: true, OpF32Store: true, OpF64Store: true,
	OpI32Store8: true, OpI32Store16: true, OpI64Store8: true, OpI64Store16: true, OpI64Store32: true,
}

// IsLoad reports whether op is one of the memory-load opcodes.
func IsLoad(op byte) bool { return loadOps[op] }

// IsStore reports whether op is one of the memory-store opcodes.
func IsStore(op byte) bool { return storeOps[op] }

// MemArg is the {align, offset} operand pair of a load/store instruction.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// Instr is one node of a function's instruction tree. Only the fields
// relevant to Op are populated; the rest are zero.
type Instr struct {
	Op byte
	ID int // stable location id, unique within the owning function

	I32 int32
	I64 int64
	F32 float32
	F64 float64

	LocalIdx  uint32
	GlobalIdx uint32
	FuncIdx   uint32 // call target, or call_indirect type index
	TableIdx  uint32 // call_indirect table index

	MemArg MemArg

	// BlockType follows the Wasm binary encoding directly: -64 means the
	// empty type, -1/-2/-3/-4 mean a single i32/i64/f32/f64 result, and any
	// non-negative value is a type-section index (multi-value blocks).
	BlockType int32
	Body      []*Instr // block/loop/if "then" body
	Else      []*Instr // if "else" body, nil if absent

	BrDepth   uint32   // br / br_if
	BrTable   []uint32 // br_table targets
	BrDefault uint32   // br_table default target
}

// IsConstI32 reports whether in is an i32.const instruction.
func (in *Instr) IsConstI32() bool { return in != nil && in.Op == OpI32Const }

func constI32(seq []*Instr) (int64, bool) {
	var val int64
	found := false
	for _, in := range seq {
		switch {
		case in.Op == OpEnd:
		case in.Op == OpI32Const && !found:
			val, found = int64(in.I32), true
		default:
			return 0, false
		}
	}
	return val, found
}

// naturalAlign returns the natural (log2) alignment immediate for a given
// load/store opcode, matching the widths the deobfuscation target uses.
func naturalAlign(op byte) uint32 {
	switch op {
	case OpI32Load8S, OpI32Load8U, OpI64Load8S, OpI64Load8U, OpI32Store8, OpI64Store8:
		return 0
	case OpI32Load16S, OpI32Load16U, OpI64Load16S, OpI64Load16U, OpI32Store16, OpI64Store16:
		return 1
	case OpI32Load, OpF32Load, OpI64Load32S, OpI64Load32U, OpI32Store, OpF32Store, OpI64Store32:
		return 2
	case OpI64Load, OpF64Load, OpI64Store, OpF64Store:
		return 3
	default:
		return 2
	}
}

// NewLoad builds a load instruction of the given opcode with offset off and
// natural alignment.
func NewLoad(op byte, off uint32, id int) *Instr {
	return &Instr{Op: op, ID: id, MemArg: MemArg{Align: naturalAlign(op), Offset: off}}
}

// NewStore builds a store instruction of the given opcode with offset off
// and natural alignment.
func NewStore(op byte, off uint32, id int) *Instr {
	return &Instr{Op: op, ID: id, MemArg: MemArg{Align: naturalAlign(op), Offset: off}}
}

// NewLocalGet builds a local.get instruction.
func NewLocalGet(idx uint32, id int) *Instr {
	return &Instr{Op: OpLocalGet, ID: id, LocalIdx: idx}
}

// NewReturn builds a return instruction.
func NewReturn(id int) *Instr {
	return &Instr{Op: OpReturn, ID: id}
}

// NewBinOp builds a zero-operand binary/unary opcode instruction (e.g. i32.add).
func NewBinOp(op byte, id int) *Instr {
	return &Instr{Op: op, ID: id}
}

// f32bits / f64bits round-trip helpers used by the decoder/encoder.
func f32frombits(b uint32) float32 { return math.Float32frombits(b) }
func f64frombits(b uint64) float64 { return math.Float64frombits(b) }
func f32bits(f float32) uint32     { return math.Float32bits(f) }
func f64bits(f float64) uint64     { return math.Float64bits(f) }
