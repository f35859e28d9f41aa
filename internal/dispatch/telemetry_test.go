package dispatch

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/loqalabs/loqa-speech-batch/internal/batch"
)

func TestDispatchRecordsTelemetry(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	s := &stubSynth{failOn: map[string]bool{"B": true}}
	d := mustDispatcher(t, s, newMemSink(),
		WithMeter(mp.Meter("test")),
		WithTracer(tp.Tracer("test")))
	runBatch(t, d, batch.Build([]string{"A", "B", "C"}, params()), 2)

	if got := len(spans.Ended()); got != 3 {
		t.Fatalf("expected 3 task spans, got %d", got)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	outcomes := map[string]int64{}
	var inflight int64 = -1
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch m.Name {
			case "speech_batch.tasks":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected data type %T", m.Data)
				}
				for _, dp := range sum.DataPoints {
					v, _ := dp.Attributes.Value(attribute.Key("outcome"))
					outcomes[v.AsString()] += dp.Value
				}
			case "speech_batch.tasks.inflight":
				sum, ok := m.Data.(metricdata.Sum[int64])
				if !ok {
					t.Fatalf("unexpected data type %T", m.Data)
				}
				inflight = 0
				for _, dp := range sum.DataPoints {
					inflight += dp.Value
				}
			}
		}
	}
	if outcomes["ok"] != 2 || outcomes["error"] != 1 {
		t.Fatalf("unexpected outcome counts %v", outcomes)
	}
	if inflight != 0 {
		t.Fatalf("expected inflight gauge back at 0, got %d", inflight)
	}
}
