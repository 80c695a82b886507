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

// Package events recovers the embedded event-name table the obfuscated
// module hides behind a second, independent XOR relationship between two
// offsets into the decrypted data segment.
package events

import (
	"strconv"

	"github.com/dotandev/wasm-deobfuscator/internal/errors"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
)

// constantSignature is the i32 constant set every event-table
// initialization function is known to embed.
var constantSignature = []int32{-1, 268435455, -2147483648, 0}

// Record is one decoded event table row: its numeric id and whether the
// runtime treats the name as pre-hashed.
type Record struct {
	ID   uint32 `json:"id"`
	Hash bool   `json:"hash"`
}

// Extract locates the event-initializing function, finds its xor-pair
// address pattern, and decodes the event name table out of the already
// decrypted data segment plaintext.
func Extract(m *wasm.Module, plaintext []byte, dataStart int64) (map[string]Record, error) {
	fn, err := findEventFunction(m)
	if err != nil {
		return nil, err
	}

	o1, o2, err := findXorPattern(fn.Body, int32(dataStart))
	if err != nil {
		return nil, err
	}

	raw := decodeXorPair(plaintext, int(o1-int32(dataStart)), int(o2-int32(dataStart)))
	return parseCSV(raw), nil
}

// findEventFunction returns the first local function whose i32 constant
// set is a superset of constantSignature.
func findEventFunction(m *wasm.Module) (*wasm.Function, error) {
	for i := range m.Funcs {
		fn := &m.Funcs[i]
		seen := collectI32Consts(fn.Body)
		if containsAll(seen, constantSignature) {
			return fn, nil
		}
	}
	return nil, errors.WrapNoEventFunction()
}

func collectI32Consts(body []*wasm.Instr) map[int32]bool {
	seen := make(map[int32]bool)
	var walk func([]*wasm.Instr)
	walk = func(seq []*wasm.Instr) {
		for _, in := range seq {
			if in.Op == wasm.OpI32Const {
				seen[in.I32] = true
			}
			if in.Body != nil {
				walk(in.Body)
			}
			if in.Else != nil {
				walk(in.Else)
			}
		}
	}
	walk(body)
	return seen
}

func containsAll(set map[int32]bool, want []int32) bool {
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}

// findXorPattern walks fn's body depth-first looking for the instruction
// sequence: i32.const A, <binop>, load, i32.xor, store, ..., i32.const B,
// where A is greater than dataStart. It returns the first such A and the
// next i32.const encountered afterward as B.
func findXorPattern(body []*wasm.Instr, dataStart int32) (int32, int32, error) {
	flat := flatten(body)

	for i := 0; i+4 < len(flat); i++ {
		a := flat[i]
		if a.Op != wasm.OpI32Const || a.I32 <= dataStart {
			continue
		}
		if !isBinOp(flat[i+1].Op) {
			continue
		}
		if !wasm.IsLoad(flat[i+2].Op) {
			continue
		}
		if flat[i+3].Op != wasm.OpI32Xor {
			continue
		}
		if !wasm.IsStore(flat[i+4].Op) {
			continue
		}

		for j := i + 5; j < len(flat); j++ {
			if flat[j].Op == wasm.OpI32Const {
				return a.I32, flat[j].I32, nil
			}
		}
	}

	return 0, 0, errors.WrapNoEventPattern()
}

func isBinOp(op byte) bool {
	switch op {
	case wasm.OpI32Add, wasm.OpI32And, wasm.OpI32Xor, wasm.OpI32Shl, wasm.OpI32ShrS, wasm.OpI32ShrU, wasm.OpI32RemU:
		return true
	default:
		return false
	}
}

func flatten(seq []*wasm.Instr) []*wasm.Instr {
	var out []*wasm.Instr
	for _, in := range seq {
		out = append(out, in)
		if in.Body != nil {
			out = append(out, flatten(in.Body)...)
		}
		if in.Else != nil {
			out = append(out, flatten(in.Else)...)
		}
	}
	return out
}

// decodeXorPair walks i = 0, 1, 2, ... computing
// plaintext[o1+i] XOR plaintext[o2+i], stopping at the first byte that is
// neither alphanumeric, a comma, nor a newline.
func decodeXorPair(plaintext []byte, o1, o2 int) []byte {
	var out []byte
	for i := 0; ; i++ {
		idx1, idx2 := o1+i, o2+i
		if idx1 < 0 || idx2 < 0 || idx1 >= len(plaintext) || idx2 >= len(plaintext) {
			break
		}
		c := plaintext[idx1] ^ plaintext[idx2]
		if !isEventChar(c) {
			break
		}
		out = append(out, c)
	}
	return out
}

func isEventChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= 'A' && c <= 'Z':
		return true
	case c == ',' || c == '\n':
		return true
	default:
		return false
	}
}

// parseCSV turns the decoded "name,id,hash\nname,id,hash\n..." byte stream
// into the {name: {id, hash}} table the CLI emits as events.json.
func parseCSV(raw []byte) map[string]Record {
	out := make(map[string]Record)
	lines := splitLines(raw)
	for _, line := range lines {
		fields := splitComma(line)
		if len(fields) < 2 {
			continue
		}
		name := fields[0]
		if name == "" {
			continue
		}
		id := parseUint(fields[1])
		hash := len(fields) >= 3 && fields[2] == "1"
		out[name] = Record{ID: id, Hash: hash}
	}
	return out
}

func splitLines(raw []byte) []string {
	var lines []string
	start := 0
	for i, b := range raw {
		if b == '\n' {
			lines = append(lines, string(raw[start:i]))
			start = i + 1
		}
	}
	if start < len(raw) {
		lines = append(lines, string(raw[start:]))
	}
	return lines
}

func splitComma(line string) []string {
	var fields []string
	start := 0
	for i := 0; i < len(line); i++ {
		if line[i] == ',' {
			fields = append(fields, line[start:i])
			start = i + 1
		}
	}
	fields = append(fields, line[start:])
	return fields
}

// parseUint hex-decodes the event id field (e.g. "deadbeef" -> 0xdeadbeef).
func parseUint(s string) uint32 {
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
