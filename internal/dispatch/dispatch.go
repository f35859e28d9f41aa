// Package dispatch runs synthesis tasks against a Synthesizer with a bounded
// pool of workers and streams each task's outcome back as it completes.
//
// A task failure is data, not an error: it is reported in its Result with
// OK=false and never stops sibling tasks. Only a configuration that cannot
// schedule any work (non-positive bound, duplicate task indices) fails Dispatch.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-speech-batch/internal/batch"
	"github.com/loqalabs/loqa-speech-batch/internal/synth"
)

const instrumentationName = "github.com/loqalabs/loqa-speech-batch/internal/dispatch"

var (
	ErrInvalidConcurrency = errors.New("concurrency bound must be positive")
	ErrDuplicateIndex     = errors.New("duplicate task index")
	ErrNoSynthesizer      = errors.New("synthesizer is nil")
	ErrNoSink             = errors.New("sink is nil")
)

// Result is the outcome of one task. Exactly one of OutputPath and Error is set.
// Start and End are wall-clock times for display; Duration comes from the
// monotonic clock and is unaffected by wall-clock adjustments.
type Result struct {
	Index      int
	OK         bool
	OutputPath string
	Error      string
	Start      time.Time
	End        time.Time
	Duration   time.Duration
	Bytes      int64
	Text       string
}

// Sink persists a synthesized stream at path.
type Sink interface {
	WriteStream(r io.Reader, path string) (int64, error)
}

// PathFunc names the output file for a task. It must return distinct paths for
// distinct indices within a batch.
type PathFunc func(batch.Task) string

type Option func(*Dispatcher)

func WithPathFunc(fn PathFunc) Option {
	return func(d *Dispatcher) { d.path = fn }
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = log }
}

func WithMeter(m metric.Meter) Option {
	return func(d *Dispatcher) { d.meter = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

// WithClock replaces the wall clock used for Start/End and the monotonic
// source used for Duration.
func WithClock(wall, mono func() time.Time) Option {
	return func(d *Dispatcher) {
		d.wall = wall
		d.mono = mono
	}
}

type Dispatcher struct {
	synth  synth.Synthesizer
	sink   Sink
	path   PathFunc
	logger *slog.Logger
	meter  metric.Meter
	tracer trace.Tracer
	wall   func() time.Time
	mono   func() time.Time

	inflight metric.Int64UpDownCounter
	duration metric.Float64Histogram
	outcomes metric.Int64Counter
}

// New builds a Dispatcher. The synthesizer is shared by all workers and must
// be safe for concurrent use.
func New(s synth.Synthesizer, sink Sink, opts ...Option) (*Dispatcher, error) {
	if s == nil {
		return nil, ErrNoSynthesizer
	}
	if sink == nil {
		return nil, ErrNoSink
	}
	d := &Dispatcher{
		synth: s,
		sink:  sink,
		path:  defaultPath,
		wall:  time.Now,
		mono:  time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With(slog.String("component", "dispatcher"))
	if d.meter == nil {
		d.meter = otel.Meter(instrumentationName)
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer(instrumentationName)
	}

	var err error
	d.inflight, err = d.meter.Int64UpDownCounter("speech_batch.tasks.inflight",
		metric.WithDescription("Synthesis tasks currently executing"))
	if err != nil {
		return nil, fmt.Errorf("create inflight counter: %w", err)
	}
	d.duration, err = d.meter.Float64Histogram("speech_batch.task.duration",
		metric.WithDescription("Synthesis task duration"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	d.outcomes, err = d.meter.Int64Counter("speech_batch.tasks",
		metric.WithDescription("Completed synthesis tasks by outcome"))
	if err != nil {
		return nil, fmt.Errorf("create outcome counter: %w", err)
	}
	return d, nil
}

func defaultPath(t batch.Task) string {
	return fmt.Sprintf("temp_%d.%s", t.Index+1, t.ResponseFormat)
}

// Dispatch starts min(bound, len(tasks)) workers and returns a channel that
// yields one Result per task in completion order. The channel is closed once
// every task has finished. At most bound tasks execute at any moment.
func (d *Dispatcher) Dispatch(ctx context.Context, tasks []batch.Task, bound int) (<-chan Result, error) {
	if bound <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, bound)
	}
	seen := make(map[int]struct{}, len(tasks))
	for _, t := range tasks {
		if _, dup := seen[t.Index]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateIndex, t.Index)
		}
		seen[t.Index] = struct{}{}
	}

	results := make(chan Result, len(tasks))
	if len(tasks) == 0 {
		close(results)
		return results, nil
	}

	queue := make(chan batch.Task, len(tasks))
	for _, t := range tasks {
		queue <- t
	}
	close(queue)

	workers := min(bound, len(tasks))
	d.logger.Debug("dispatching batch", slog.Int("tasks", len(tasks)), slog.Int("workers", workers))

	var g errgroup.Group
	for range workers {
		g.Go(func() error {
			for task := range queue {
				results <- d.run(ctx, task)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	return results, nil
}

// Collect drains ch and returns the results in the order they arrived.
func Collect(ch <-chan Result) []Result {
	var out []Result
	for r := range ch {
		out = append(out, r)
	}
	return out
}

func (d *Dispatcher) run(ctx context.Context, task batch.Task) (res Result) {
	ctx, span := d.tracer.Start(ctx, "speech.task", trace.WithAttributes(
		attribute.Int("speech.task.index", task.Index),
		attribute.String("speech.voice", task.Voice),
		attribute.String("speech.model", task.Model),
		attribute.String("speech.format", task.ResponseFormat),
	))
	defer span.End()

	d.inflight.Add(ctx, 1)
	defer d.inflight.Add(ctx, -1)

	res = Result{Index: task.Index, Text: task.Text, Start: d.wall()}
	monoStart := d.mono()

	defer func() {
		if r := recover(); r != nil {
			res.OK = false
			res.OutputPath = ""
			res.Bytes = 0
			res.Error = fmt.Sprintf("panic: %v", r)
		}
		res.End = d.wall()
		res.Duration = max(d.mono().Sub(monoStart), 0)
		d.record(ctx, span, res)
	}()

	path := d.path(task)
	if path == "" {
		res.Error = "empty output path"
		return res
	}
	n, err := d.execute(ctx, task, path)
	if err != nil {
		res.Error = errorMessage(err)
		res.Bytes = n
		return res
	}
	res.OK = true
	res.OutputPath = path
	res.Bytes = n
	return res
}

func (d *Dispatcher) execute(ctx context.Context, task batch.Task, path string) (int64, error) {
	stream, err := d.synth.SynthesizeStream(ctx, task.Request())
	if err != nil {
		return 0, err
	}
	if stream == nil {
		return 0, errors.New("synthesizer returned no stream")
	}
	defer stream.Close()
	return d.sink.WriteStream(stream, path)
}

func (d *Dispatcher) record(ctx context.Context, span trace.Span, res Result) {
	outcome := "ok"
	if !res.OK {
		outcome = "error"
		span.SetStatus(codes.Error, res.Error)
		d.logger.Warn("speech task failed",
			slog.Int("index", res.Index),
			slog.Duration("duration", res.Duration),
			slog.String("error", res.Error))
	} else {
		span.SetAttributes(attribute.String("speech.output_path", res.OutputPath), attribute.Int64("speech.bytes", res.Bytes))
		d.logger.Debug("speech task completed",
			slog.Int("index", res.Index),
			slog.Duration("duration", res.Duration),
			slog.String("path", res.OutputPath))
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	d.duration.Record(ctx, res.Duration.Seconds(), attrs)
	d.outcomes.Add(ctx, 1, attrs)
}

func errorMessage(err error) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
