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

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/dotandev/wasm-deobfuscator/internal/cache"
	"github.com/dotandev/wasm-deobfuscator/internal/config"
	"github.com/dotandev/wasm-deobfuscator/internal/events"
	"github.com/dotandev/wasm-deobfuscator/internal/logger"
	"github.com/dotandev/wasm-deobfuscator/internal/pipeline"
	"github.com/dotandev/wasm-deobfuscator/internal/telemetry"
	"github.com/dotandev/wasm-deobfuscator/internal/updater"
	"github.com/dotandev/wasm-deobfuscator/internal/wat"
)

// Version is set from main via ldflags-injected build metadata.
var Version = "dev"

var (
	outputFlag     string
	eventsJSONFlag string
	noEventsFlag   bool
	noCacheFlag    bool
	stripDeadCode  bool
	dumpWatFlag    string
	logLevelFlag   string
	logJSONFlag    bool
	verboseFlag    bool
	otelEndpoint   string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "wasm-deobfuscator [input.wasm] [output.wasm]",
	Short: "Reverses the memory-access obfuscation applied by anti-bot Wasm runtimes",
	Long: `wasm-deobfuscator statically analyzes an obfuscated WebAssembly module,
classifies its exported load/store helper functions, reverses the XOR
encryption applied to the data segment, rewrites every call site and
helper body to use direct memory access, and recovers the event-name
table hidden in the decrypted data.

Given no arguments it reads ./assets/input.wasm and writes
./assets/output.wasm, following the defaults in the config file.

Examples:
  wasm-deobfuscator                            Use the configured default paths
  wasm-deobfuscator challenge.wasm clean.wasm   Deobfuscate an explicit module
  wasm-deobfuscator --no-events in.wasm out.wasm   Skip event-table recovery`,
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDeobfuscate,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "output module path (default from config)")
	rootCmd.Flags().StringVar(&eventsJSONFlag, "events-json", "", "path to write the recovered event table (default from config)")
	rootCmd.Flags().BoolVar(&noEventsFlag, "no-events", false, "skip event-table extraction")
	rootCmd.Flags().BoolVar(&noCacheFlag, "no-cache", false, "disable the on-disk pipeline run cache")
	rootCmd.Flags().BoolVar(&stripDeadCode, "strip-dead-code", false, "remove functions unreachable from any export, start, or element segment")
	rootCmd.Flags().StringVar(&dumpWatFlag, "dump-wat", "", "write a WAT-style instruction listing of the rewritten module's code section")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn, or error (default from config)")
	rootCmd.PersistentFlags().BoolVar(&logJSONFlag, "log-json", true, "emit structured JSON logs instead of a plain handler")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "shorthand for --log-level=debug")
	rootCmd.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP/HTTP collector endpoint; tracing is disabled when empty")
}

func runDeobfuscate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configureLogging(resolveLogLevel(cfg.LogLevel, logLevelFlag, verboseFlag), logJSONFlag)

	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:     otelEndpoint != "",
		ExporterURL: otelEndpoint,
		ServiceName: "wasm-deobfuscator",
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer shutdown()

	checkForUpdatesAsync()

	inputPath := cfg.DefaultInputPath
	if len(args) > 0 {
		inputPath = args[0]
	}
	outputPath := cfg.DefaultOutputPath
	switch {
	case len(args) > 1:
		outputPath = args[1]
	case outputFlag != "":
		outputPath = outputFlag
	}
	eventsPath := cfg.EventsOutputPath
	if eventsJSONFlag != "" {
		eventsPath = eventsJSONFlag
	}

	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("read input module: %w", err)
	}

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("deobfuscating"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
	)
	done := make(chan struct{})
	go spin(bar, done)
	defer close(done)

	opts := pipeline.Options{SkipEvents: noEventsFlag, StripDeadCode: stripDeadCode}
	if !noCacheFlag {
		store, err := cache.Open(cfg.CachePath)
		if err != nil {
			logger.Logger.Warn("pipeline cache unavailable, continuing without it", "error", err)
		} else {
			defer store.Close()
			opts.Cache = store
		}
	}

	res, err := pipeline.Run(ctx, input, opts)
	if err != nil {
		return fmt.Errorf("deobfuscate: %w", err)
	}

	if err := os.WriteFile(outputPath, res.Module, 0o644); err != nil {
		return fmt.Errorf("write output module: %w", err)
	}
	green := color.New(color.FgGreen)
	green.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", outputPath, len(res.Module))

	if !noEventsFlag {
		if err := writeEventsJSON(eventsPath, res.Events); err != nil {
			return fmt.Errorf("write events table: %w", err)
		}
		green.Fprintf(os.Stderr, "wrote %s (%d events)\n", eventsPath, len(res.Events))
	}

	color.New(color.FgCyan).Fprintf(os.Stderr,
		"helpers classified: %d, encryption: %s\n", res.HelperCount, res.Encryption.String())

	if dumpWatFlag != "" {
		if err := writeWatDump(dumpWatFlag, res.Module); err != nil {
			return fmt.Errorf("write wat dump: %w", err)
		}
		green.Fprintf(os.Stderr, "wrote %s\n", dumpWatFlag)
	}

	if verboseFlag {
		color.New(color.FgYellow).Fprintf(os.Stderr,
			"run %s: took %s\n", res.RunID, res.Duration)
	}

	return nil
}

func spin(bar *progressbar.ProgressBar, done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = bar.Add(1)
		}
	}
}

func writeWatDump(path string, module []byte) error {
	d := wat.NewDisassembler(module)
	instrs, err := d.DecodeAll()
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, inst := range instrs {
		fmt.Fprintf(&b, "0x%04x: %s\n", inst.Offset, inst.String())
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeEventsJSON(path string, table map[string]events.Record) error {
	if table == nil {
		table = map[string]events.Record{}
	}
	data, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func resolveLogLevel(configured, flag string, verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	level := configured
	if flag != "" {
		level = flag
	}
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func configureLogging(level slog.Level, asJSON bool) {
	if asJSON {
		logger.Init(level, os.Stderr)
		return
	}
	logger.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logger.Level}))
	logger.Level.Set(level)
}

// checkForUpdatesAsync runs the update check in a goroutine to not block
// CLI startup.
func checkForUpdatesAsync() {
	go func() {
		checker := updater.NewChecker(Version)
		checker.CheckForUpdates()
	}()
}
