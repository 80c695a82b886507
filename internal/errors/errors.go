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

package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for comparison with errors.Is. These map onto the
// input-shape and unsupported-scheme failures the deobfuscation pipeline
// can hit: a missing collaborator in the module graph, or an obfuscation
// scheme this tool does not implement.
var (
	ErrNoMemory             = errors.New("module has no memory")
	ErrNoGlobal             = errors.New("module has no global")
	ErrMissingDataSegment   = errors.New("module is missing a required data segment")
	ErrOffsetNotConstant    = errors.New("data segment offset is not an i32 constant")
	ErrGlobalNotConstant    = errors.New("global initializer is not an i32 constant")
	ErrNoU8Loader           = errors.New("could not find an unsigned byte load helper")
	ErrChacha20Unsupported  = errors.New("ChaCha20 not supported")
	ErrNoEventFunction      = errors.New("could not find function that initializes events")
	ErrNoEventPattern       = errors.New("could not find xor event location in memory")
	ErrUnreachableStoreKind = errors.New("unreachable store kind")
	ErrUnreachableResult    = errors.New("unreachable result type")
	ErrConfigInvalid        = errors.New("invalid configuration")
	ErrWasmInvalid          = errors.New("invalid wasm module")
)

// Wrap functions for consistent error wrapping, mirroring the sentinel +
// fmt.Errorf("%w: ...") shape used throughout this codebase.

func WrapNoMemory(msg string) error {
	return fmt.Errorf("%w: %s", ErrNoMemory, msg)
}

func WrapNoGlobal(msg string) error {
	return fmt.Errorf("%w: %s", ErrNoGlobal, msg)
}

func WrapMissingDataSegment(msg string) error {
	return fmt.Errorf("%w: %s", ErrMissingDataSegment, msg)
}

func WrapOffsetNotConstant(where string) error {
	return fmt.Errorf("%w: %s", ErrOffsetNotConstant, where)
}

func WrapGlobalNotConstant(msg string) error {
	return fmt.Errorf("%w: %s", ErrGlobalNotConstant, msg)
}

func WrapNoU8Loader(err error) error {
	if err == nil {
		return ErrNoU8Loader
	}
	return fmt.Errorf("%w: %w", ErrNoU8Loader, err)
}

func WrapNoEventFunction() error {
	return ErrNoEventFunction
}

func WrapNoEventPattern() error {
	return ErrNoEventPattern
}

func WrapUnreachableStoreKind(kind string) error {
	return fmt.Errorf("%w: %s", ErrUnreachableStoreKind, kind)
}

func WrapUnreachableResult(valType string) error {
	return fmt.Errorf("%w: %s", ErrUnreachableResult, valType)
}

func WrapConfigError(msg string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConfigInvalid, msg, err)
}

func WrapWasmInvalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrWasmInvalid, msg)
}
