package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/loqalabs/loqa-speech-batch/internal/batch/batchfile"
	"github.com/loqalabs/loqa-speech-batch/internal/config"
	"github.com/loqalabs/loqa-speech-batch/internal/synth"
)

var version = "0.1.0-dev"

func main() {
	args := os.Args[1:]
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "run":
		os.Exit(cmdRun(args))
	case "validate":
		os.Exit(cmdValidate(args))
	case "voices":
		os.Exit(cmdVoices(args))
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q (expected run, validate, voices or version)\n", cmd)
		os.Exit(2)
	}
}

func cmdRun(args []string) int {
	var (
		configPath string
		opts       runOptions
	)
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	fs.StringVar(&opts.batchPath, "file", "", "Path to batch file")
	fs.StringVar(&opts.textsPath, "texts", "", "Path to a file with one text per line (- for stdin)")
	fs.IntVar(&opts.concurrency, "concurrency", 0, "Maximum concurrent requests (0 = one per text)")
	fs.StringVar(&opts.outDir, "out", "", "Output directory (overrides config)")
	_ = fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := newLogger(cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runBatch(ctx, cfg, opts, os.Stdin, os.Stdout, logger); err != nil {
		logger.Error("batch failed", slogError(err))
		return 1
	}
	return 0
}

func cmdValidate(args []string) int {
	var path string
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	fs.StringVar(&path, "file", "batch.yaml", "Path to batch file")
	_ = fs.Parse(args)

	f, err := batchfile.Load(path)
	if err == nil {
		err = batchfile.Validate(f)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Printf("batch file valid (%d texts)\n", len(f.Texts))
	return 0
}

func cmdVoices(args []string) int {
	var configPath string
	fs := flag.NewFlagSet("voices", flag.ExitOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file")
	_ = fs.Parse(args)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.Synthesis.Mode != "http" {
		fmt.Fprintf(os.Stderr, "voices requires synthesis.mode=http, got %q\n", cfg.Synthesis.Mode)
		return 1
	}
	client, err := synth.NewHTTPSynth(cfg.Synthesis.Endpoint, cfg.Synthesis.APIKey, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	voices, err := client.Voices(context.Background())
	if err != nil {
		var synthErr *synth.Error
		if errors.As(err, &synthErr) && synthErr.Kind != "" {
			fmt.Fprintf(os.Stderr, "server rejected request (%s): %s\n", synthErr.Kind, synthErr.Message)
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	for _, v := range voices {
		fmt.Println(v)
	}
	return 0
}

// newLogger writes JSON logs to stderr; stdout carries the result lines.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
