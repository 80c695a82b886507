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

// Package pipeline orchestrates the full deobfuscation run: classify the
// memory-access helpers, detect and reverse the data-segment encryption,
// rewrite every call site and helper body to use direct memory access, and
// recover the embedded event table. Each stage is a single-pass, synchronous
// operation over the decoded module; there is no concurrency within a run.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dotandev/wasm-deobfuscator/internal/cache"
	"github.com/dotandev/wasm-deobfuscator/internal/classify"
	"github.com/dotandev/wasm-deobfuscator/internal/decrypt"
	"github.com/dotandev/wasm-deobfuscator/internal/encryption"
	"github.com/dotandev/wasm-deobfuscator/internal/events"
	"github.com/dotandev/wasm-deobfuscator/internal/logger"
	"github.com/dotandev/wasm-deobfuscator/internal/rewrite"
	"github.com/dotandev/wasm-deobfuscator/internal/telemetry"
	"github.com/dotandev/wasm-deobfuscator/internal/wasm"
	"github.com/dotandev/wasm-deobfuscator/internal/wasmopt"
)

// Options controls optional behavior of a pipeline Run.
type Options struct {
	// Cache, when non-nil, is consulted for S1-S3 results keyed by the
	// input module's hash and updated with any freshly computed result.
	Cache *cache.Store

	// SkipEvents disables S6 event-table extraction entirely.
	SkipEvents bool

	// StripDeadCode runs a final dead-code-elimination pass over the
	// rewritten module, removing any non-exported function unreachable
	// from an export, the start function, or an element segment.
	StripDeadCode bool
}

// Result is the output of a full deobfuscation run.
type Result struct {
	RunID         string
	Module        []byte
	Events        map[string]events.Record
	HelperCount   int
	Encryption    encryption.Mode
	XorTableStart int32
	Duration      time.Duration
}

// Run executes the full S1-S6 pipeline against the raw input module bytes.
func Run(ctx context.Context, input []byte, opts Options) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()

	tracer := telemetry.GetTracer()
	ctx, span := tracer.Start(ctx, "deobfuscate")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()

	logger.Logger.Info("starting deobfuscation run", "run_id", runID)

	m, err := decodeStage(ctx, input)
	if err != nil {
		return nil, err
	}

	moduleHash, cached, err := lookupCache(ctx, opts.Cache, input)
	if err != nil {
		return nil, err
	}

	var cls *classify.Result
	var det *encryption.Detection
	var startPos int64
	var plaintext []byte

	if cached != nil {
		cls, det, startPos, plaintext, err = restoreFromCache(cached)
		if err != nil {
			return nil, err
		}
		logger.Logger.Info("pipeline cache hit", "module_hash", moduleHash)
	} else {
		cls, err = classifyStage(ctx, m)
		if err != nil {
			return nil, err
		}

		det, err = detectStage(ctx, m, cls)
		if err != nil {
			return nil, err
		}

		startPos, plaintext, err = decryptStage(ctx, m, det)
		if err != nil {
			return nil, err
		}

		if err := storeCache(opts.Cache, moduleHash, cls, det, startPos, plaintext); err != nil {
			logger.Logger.Warn("failed to write pipeline cache entry", "error", err)
		}
	}

	dataStart, err := rewritePayloadSegment(m, startPos, plaintext)
	if err != nil {
		return nil, err
	}

	rewriteStage(ctx, m, cls)

	var eventTable map[string]events.Record
	if !opts.SkipEvents {
		eventTable, err = eventsStage(ctx, m, plaintext, dataStart)
		if err != nil {
			return nil, err
		}
	}

	out := encodeStage(ctx, m)

	if opts.StripDeadCode {
		out, err = dceStage(ctx, out)
		if err != nil {
			return nil, err
		}
	}

	logger.Logger.Info("deobfuscation run complete", "run_id", runID, "duration", time.Since(start))

	return &Result{
		RunID:         runID,
		Module:        out,
		Events:        eventTable,
		HelperCount:   len(cls.Loads) + len(cls.Stores),
		Encryption:    det.Mode,
		XorTableStart: det.XorTableStart,
		Duration:      time.Since(start),
	}, nil
}

func decodeStage(ctx context.Context, input []byte) (*wasm.Module, error) {
	_, span := telemetry.GetTracer().Start(ctx, "decode")
	defer span.End()

	m, err := wasm.Decode(input)
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	logger.Logger.Debug("decoded module", "functions", len(m.Funcs), "data_segments", len(m.Data))
	return m, nil
}

func classifyStage(ctx context.Context, m *wasm.Module) (*classify.Result, error) {
	_, span := telemetry.GetTracer().Start(ctx, "classify")
	defer span.End()

	cls, err := classify.Classify(m)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	logger.Logger.Info("classified helpers", "loads", len(cls.Loads), "stores", len(cls.Stores))
	return cls, nil
}

func detectStage(ctx context.Context, m *wasm.Module, cls *classify.Result) (*encryption.Detection, error) {
	_, span := telemetry.GetTracer().Start(ctx, "detect-encryption")
	defer span.End()

	det, err := encryption.Detect(m, cls)
	if err != nil {
		return nil, fmt.Errorf("detect encryption: %w", err)
	}
	logger.Logger.Info("detected encryption mode", "mode", det.Mode.String())
	return det, nil
}

func decryptStage(ctx context.Context, m *wasm.Module, det *encryption.Detection) (int64, []byte, error) {
	_, span := telemetry.GetTracer().Start(ctx, "decrypt")
	defer span.End()

	startPos, plaintext, err := decrypt.Decrypt(m, det)
	if err != nil {
		return 0, nil, fmt.Errorf("decrypt: %w", err)
	}
	logger.Logger.Debug("decrypted data segment", "bytes", len(plaintext), "start_pos", startPos)
	return startPos, plaintext, nil
}

func rewriteStage(ctx context.Context, m *wasm.Module, cls *classify.Result) {
	_, span := telemetry.GetTracer().Start(ctx, "rewrite")
	defer span.End()

	rewrite.CallSites(m, cls)
	rewrite.HelperBodies(m, cls)
	logger.Logger.Info("rewrote call sites and helper bodies")
}

// eventsStage extracts the event table and, by default, propagates any
// failure as a hard pipeline error (matching the original tool's
// fetch_events behavior). Callers that only want the rewritten module and
// would rather tolerate a missing event table should set Options.SkipEvents
// instead of relying on this stage to swallow the error.
func eventsStage(ctx context.Context, m *wasm.Module, plaintext []byte, dataStart int64) (map[string]events.Record, error) {
	_, span := telemetry.GetTracer().Start(ctx, "extract-events")
	defer span.End()

	table, err := events.Extract(m, plaintext, dataStart)
	if err != nil {
		return nil, fmt.Errorf("extract events: %w", err)
	}
	logger.Logger.Info("extracted event table", "count", len(table))
	return table, nil
}

func encodeStage(ctx context.Context, m *wasm.Module) []byte {
	_, span := telemetry.GetTracer().Start(ctx, "encode")
	defer span.End()
	return m.Encode()
}

func dceStage(ctx context.Context, module []byte) ([]byte, error) {
	_, span := telemetry.GetTracer().Start(ctx, "strip-dead-code")
	defer span.End()

	optimized, report, err := wasmopt.EliminateDeadCode(module)
	if err != nil {
		return nil, fmt.Errorf("strip dead code: %w", err)
	}
	logger.Logger.Info("stripped dead code",
		"original_functions", report.OriginalDefinedFunctions,
		"removed_functions", report.RemovedDefinedFunctions)
	return optimized, nil
}

// rewritePayloadSegment finds the module's second active data segment (the
// obfuscated payload D) and replaces its bytes and offset with the decrypted
// plaintext and start_pos, per the wasm-output invariant that the emitted
// module carries the plaintext segment rather than the obfuscated one. It
// returns the segment's original declared address, which event extraction
// needs as data_start for its own offset arithmetic.
func rewritePayloadSegment(m *wasm.Module, startPos int64, plaintext []byte) (int64, error) {
	seen := 0
	for i := range m.Data {
		seg := &m.Data[i]
		if seg.Kind != wasm.DataActive {
			continue
		}
		seen++
		if seen < 2 {
			continue
		}
		dataStart, ok := seg.ConstI32()
		if !ok {
			return 0, fmt.Errorf("second active data segment: offset is not an i32 constant")
		}

		padded := make([]byte, len(seg.Bytes))
		copy(padded, plaintext)

		seg.Bytes = padded
		seg.Offset = []*wasm.Instr{{Op: wasm.OpI32Const, I32: int32(startPos)}}

		return dataStart, nil
	}
	return 0, fmt.Errorf("no second active data segment found")
}

func lookupCache(ctx context.Context, store *cache.Store, input []byte) (string, *cache.Entry, error) {
	if store == nil {
		return "", nil, nil
	}
	hash, err := cache.HashModule(bytes.NewReader(input))
	if err != nil {
		return "", nil, fmt.Errorf("hash module: %w", err)
	}
	entry, err := store.Get(hash)
	if err != nil {
		return hash, nil, fmt.Errorf("cache lookup: %w", err)
	}
	return hash, entry, nil
}

func storeCache(store *cache.Store, moduleHash string, cls *classify.Result, det *encryption.Detection, startPos int64, plaintext []byte) error {
	if store == nil || moduleHash == "" {
		return nil
	}
	kindsJSON, err := cache.MarshalHelperKinds(cls)
	if err != nil {
		return err
	}
	return store.Put(&cache.Entry{
		ModuleHash:      moduleHash,
		HelperKindsJSON: kindsJSON,
		EncryptionMode:  det.Mode.String(),
		XorTableStart:   int(det.XorTableStart),
		StartPos:        startPos,
		DecryptedData:   plaintext,
	})
}

func restoreFromCache(entry *cache.Entry) (*classify.Result, *encryption.Detection, int64, []byte, error) {
	cls := &classify.Result{}
	if err := cache.UnmarshalHelperKinds(entry.HelperKindsJSON, cls); err != nil {
		return nil, nil, 0, nil, fmt.Errorf("restore cached classification: %w", err)
	}

	var mode encryption.Mode
	switch entry.EncryptionMode {
	case encryption.ModeXor.String():
		mode = encryption.ModeXor
	case encryption.ModeChacha20.String():
		mode = encryption.ModeChacha20
	default:
		mode = encryption.ModeUnknown
	}
	det := &encryption.Detection{Mode: mode, XorTableStart: int32(entry.XorTableStart)}

	return cls, det, entry.StartPos, entry.DecryptedData, nil
}
