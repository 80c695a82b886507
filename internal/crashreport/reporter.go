// Copyright 2025 dotandev
// SPDX-License-Identifier: Apache-2.0

// Package crashreport provides opt-in anonymous crash reporting for the
// wasm-deobfuscator CLI.
//
// A single sink is supported: a custom HTTPS endpoint, supplied via
// Endpoint in Config or the WASMDEOB_CRASH_ENDPOINT environment variable.
// A JSON Report is POSTed to it.
//
// The sink is disabled by default. Users must explicitly opt in via the
// config file (crash_reporting = true) or the WASMDEOB_CRASH_REPORTING
// environment variable. No wasm module content is ever collected: only
// the error message, stack trace, OS/arch, Go version, and tool version.
package crashreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"time"
)

const (
	// DefaultEndpoint is the default anonymous crash collection endpoint
	// used when Endpoint is empty.
	DefaultEndpoint = "https://crash.wasm-deobfuscator.dev/v1/report"

	// defaultTimeout is the maximum time allowed for each outbound HTTP request.
	defaultTimeout = 5 * time.Second

	// envOptIn is the environment variable that enables crash reporting.
	envOptIn = "WASMDEOB_CRASH_REPORTING"

	// envEndpoint overrides the custom HTTP endpoint at runtime.
	envEndpoint = "WASMDEOB_CRASH_ENDPOINT"
)

// Report is the JSON payload delivered to the custom endpoint.
// Fields are deliberately minimal to preserve user privacy.
type Report struct {
	Version      string `json:"version"`
	CommitSHA    string `json:"commit_sha,omitempty"`
	OS           string `json:"os"`
	Arch         string `json:"arch"`
	GoVersion    string `json:"go_version"`
	CrashTime    string `json:"crash_time"`
	ErrorMessage string `json:"error_message"`
	StackTrace   string `json:"stack_trace,omitempty"`
	// Command is the cobra command path that was executing (e.g. "wasm-deobfuscator").
	Command string `json:"command,omitempty"`
}

// Config controls crash reporter behaviour.
type Config struct {
	// Enabled must be true for any report to be sent.
	Enabled bool
	// Endpoint is the URL that accepts POST application/json crash reports.
	// When empty, DefaultEndpoint is used. The WASMDEOB_CRASH_ENDPOINT
	// environment variable overrides this value at runtime.
	Endpoint string
	// Version and CommitSHA are injected from build-time ldflags.
	Version   string
	CommitSHA string
}

// Reporter dispatches crash reports to the configured sink.
type Reporter struct {
	cfg    Config
	client *http.Client
}

// New creates a Reporter from cfg.
//
// Environment variable precedence (highest to lowest):
//
//	WASMDEOB_CRASH_ENDPOINT    overrides cfg.Endpoint
//	WASMDEOB_CRASH_REPORTING   overrides cfg.Enabled (checked at send time)
func New(cfg Config) *Reporter {
	if ep := os.Getenv(envEndpoint); ep != "" {
		cfg.Endpoint = ep
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}

	return &Reporter{
		cfg:    cfg,
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// IsEnabled returns true when crash reporting is active.
// The WASMDEOB_CRASH_REPORTING environment variable takes precedence over
// the Enabled field, allowing users to opt in or out without editing
// config files.
func (r *Reporter) IsEnabled() bool {
	switch os.Getenv(envOptIn) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return r.cfg.Enabled
}

// Send constructs a Report from err and stack, then POSTs it to the
// configured endpoint.
//
// It returns without error if reporting is disabled. Callers on a crash
// path should treat a returned error as informational — the process is
// already exiting.
func (r *Reporter) Send(ctx context.Context, err error, stack []byte, command string) error {
	if !r.IsEnabled() {
		return nil
	}
	return r.sendToEndpoint(ctx, r.buildReport(err, stack, command))
}

// sendToEndpoint POSTs a JSON-encoded report to the custom HTTP endpoint.
func (r *Reporter) sendToEndpoint(ctx context.Context, report Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "wasm-deobfuscator/"+r.cfg.Version)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// buildReport constructs the Report value from the current process metadata.
func (r *Reporter) buildReport(err error, stack []byte, command string) Report {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}

	goVersion := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		goVersion = bi.GoVersion
	}

	return Report{
		Version:      r.cfg.Version,
		CommitSHA:    r.cfg.CommitSHA,
		OS:           runtime.GOOS,
		Arch:         runtime.GOARCH,
		GoVersion:    goVersion,
		CrashTime:    time.Now().UTC().Format(time.RFC3339),
		ErrorMessage: errMsg,
		StackTrace:   string(stack),
		Command:      command,
	}
}

// HandlePanic is intended to be deferred at the top of main or Execute.
// If a panic is in flight it captures the stack, sends a report (best-effort),
// then re-panics so the runtime still terminates with a non-zero exit code.
func (r *Reporter) HandlePanic(ctx context.Context, command string) {
	v := recover()
	if v == nil {
		return
	}

	stack := debug.Stack()

	var panicErr error
	switch e := v.(type) {
	case error:
		panicErr = e
	default:
		panicErr = fmt.Errorf("%v", e)
	}

	// Best-effort: ignore send errors — we are already in a fatal path.
	_ = r.Send(ctx, panicErr, stack, command)

	// Re-panic so Go's runtime prints the stack and exits non-zero.
	panic(v)
}
