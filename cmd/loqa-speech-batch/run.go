package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/loqalabs/loqa-speech-batch/internal/batch"
	"github.com/loqalabs/loqa-speech-batch/internal/batch/batchfile"
	"github.com/loqalabs/loqa-speech-batch/internal/bus"
	"github.com/loqalabs/loqa-speech-batch/internal/config"
	"github.com/loqalabs/loqa-speech-batch/internal/dispatch"
	"github.com/loqalabs/loqa-speech-batch/internal/eventstore"
	"github.com/loqalabs/loqa-speech-batch/internal/natsserver"
	"github.com/loqalabs/loqa-speech-batch/internal/protocol"
	"github.com/loqalabs/loqa-speech-batch/internal/report"
	"github.com/loqalabs/loqa-speech-batch/internal/runtime"
	"github.com/loqalabs/loqa-speech-batch/internal/sink"
	"github.com/loqalabs/loqa-speech-batch/internal/synth"
)

// defaultTexts is the demo batch used when no input is given.
var defaultTexts = []string{
	"Hello world! 这是一条英文混合中文的句子。",
	"第二条请求，测试并发处理能力。",
	"第三条请求，包含一些标点符号！？，。",
	"第四条请求，用于压力测试。",
	"第五条请求，完成并记录耗时。",
}

type runOptions struct {
	batchPath   string
	textsPath   string
	concurrency int
	outDir      string
}

// plan is a resolved batch ready to dispatch.
type plan struct {
	name    string
	tasks   []batch.Task
	bound   int
	outDir  string
	pattern string
}

func buildPlan(cfg config.Config, opts runOptions, stdin io.Reader) (plan, error) {
	defaults := batch.Params{
		Voice:          cfg.Synthesis.Voice,
		Model:          cfg.Synthesis.Model,
		ResponseFormat: cfg.Synthesis.ResponseFormat,
	}
	p := plan{
		name:    "adhoc",
		bound:   cfg.Dispatch.Concurrency,
		outDir:  cfg.Dispatch.OutputDir,
		pattern: cfg.Dispatch.FilePattern,
	}

	switch {
	case opts.batchPath != "":
		f, err := batchfile.Load(opts.batchPath)
		if err != nil {
			return plan{}, fmt.Errorf("load batch file: %w", err)
		}
		if err := batchfile.Validate(f); err != nil {
			return plan{}, fmt.Errorf("invalid batch file: %w", err)
		}
		p.name = f.Metadata.Name
		p.tasks = f.Tasks(defaults)
		if f.Concurrency > 0 {
			p.bound = f.Concurrency
		}
		if f.Output.Dir != "" {
			p.outDir = f.Output.Dir
		}
		if f.Output.Pattern != "" {
			p.pattern = f.Output.Pattern
		}
	case opts.textsPath != "":
		r := stdin
		if opts.textsPath != "-" {
			file, err := os.Open(opts.textsPath)
			if err != nil {
				return plan{}, fmt.Errorf("open texts: %w", err)
			}
			defer file.Close()
			r = file
		}
		texts, err := batch.LoadTexts(r)
		if err != nil {
			return plan{}, fmt.Errorf("read texts: %w", err)
		}
		p.tasks = batch.Build(texts, defaults)
	default:
		p.name = "demo"
		p.tasks = batch.Build(defaultTexts, defaults)
	}

	if opts.concurrency < 0 {
		return plan{}, fmt.Errorf("%w: got %d", dispatch.ErrInvalidConcurrency, opts.concurrency)
	}
	if opts.concurrency > 0 {
		p.bound = opts.concurrency
	}
	if p.bound == 0 {
		p.bound = max(len(p.tasks), 1)
	}
	if opts.outDir != "" {
		p.outDir = opts.outDir
	}
	return p, nil
}

func runBatch(ctx context.Context, cfg config.Config, opts runOptions, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	p, err := buildPlan(cfg, opts, stdin)
	if err != nil {
		return err
	}

	tel, err := runtime.SetupTelemetry(ctx, cfg, os.Stderr, logger)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer shutdownWithTimeout(logger, "telemetry", tel.Shutdown)

	var ops *runtime.OpsServer
	if cfg.HTTP.Enabled {
		ops = runtime.NewOpsServer(cfg.HTTP, tel.Metrics, logger)
		if err := ops.Start(); err != nil {
			return err
		}
		defer shutdownWithTimeout(logger, "ops server", ops.Shutdown)
	}

	embedded, err := natsserver.Start(cfg.Bus, logger)
	if err != nil {
		return err
	}
	defer embedded.Shutdown()
	if embedded != nil {
		cfg.Bus.Servers = []string{embedded.ClientURL()}
	}

	batchID := uuid.NewString()
	var hooks []report.Hook

	var busClient *bus.Client
	if cfg.Bus.Enabled {
		busClient, err = bus.Connect(ctx, cfg.Bus, logger)
		if err != nil {
			return err
		}
		defer busClient.Close()
		hooks = append(hooks, busClient.Results(batchID))
	}

	store, err := eventstore.Open(ctx, cfg.EventStore, logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer store.Close()
	if err := store.AppendBatch(ctx, batchID, p.name, len(p.tasks)); err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	hooks = append(hooks, store.Recorder(batchID))

	s, err := synth.New(cfg.Synthesis)
	if err != nil {
		return fmt.Errorf("build synthesizer: %w", err)
	}
	d, err := dispatch.New(s, sink.NewFileSink(),
		dispatch.WithPathFunc(sink.Pattern(p.outDir, p.pattern)),
		dispatch.WithLogger(logger))
	if err != nil {
		return err
	}

	logger.Info("starting batch",
		slog.String("batch_id", batchID),
		slog.String("name", p.name),
		slog.Int("tasks", len(p.tasks)),
		slog.Int("concurrency", p.bound))

	results, err := d.Dispatch(ctx, p.tasks, p.bound)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Starting %d concurrent requests...\n\n", len(p.tasks))
	if ops != nil {
		ops.SetReady(true)
	}

	summary := drainResults(ctx, stdout, logger, hooks, results)
	fmt.Fprintf(stdout, "\n%s\n", summary)

	if busClient != nil {
		err := busClient.PublishSummary(protocol.BatchSummary{
			BatchID:   batchID,
			Name:      p.name,
			Total:     summary.Total,
			OK:        summary.OK,
			Failed:    summary.Failed,
			Bytes:     summary.Bytes,
			WallMS:    float64(summary.Wall) / float64(time.Millisecond),
			Timestamp: time.Now().UTC(),
		})
		if err == nil {
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			err = busClient.Flush(flushCtx)
			cancel()
		}
		if err != nil {
			logger.Warn("publish batch summary failed", slogError(err))
		}
	}

	logger.Info("batch finished",
		slog.String("batch_id", batchID),
		slog.Int("ok", summary.OK),
		slog.Int("failed", summary.Failed))
	return nil
}

// drainResults prints and records every result. Submitted tasks are never
// cancelled, so hooks run under a context detached from the shutdown signal.
func drainResults(ctx context.Context, stdout io.Writer, logger *slog.Logger, hooks []report.Hook, results <-chan dispatch.Result) report.Summary {
	printer := report.NewPrinter(stdout, logger, hooks...)
	_, summary := printer.Drain(context.WithoutCancel(ctx), results)
	return summary
}

func shutdownWithTimeout(logger *slog.Logger, what string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		logger.Error(what+" shutdown error", slogError(err))
	}
}
