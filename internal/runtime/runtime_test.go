package runtime

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestOpsServerProbes(t *testing.T) {
	srv := NewOpsServer(config.HTTPConfig{Enabled: true, Bind: "127.0.0.1", Port: 0}, nil, newLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	base := "http://" + srv.Addr()

	if code, body := get(t, base+"/healthz"); code != http.StatusOK || body != "ok" {
		t.Fatalf("healthz: %d %q", code, body)
	}
	if code, _ := get(t, base+"/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("expected not ready before SetReady, got %d", code)
	}
	srv.SetReady(true)
	if code, body := get(t, base+"/readyz"); code != http.StatusOK || body != "ready" {
		t.Fatalf("readyz: %d %q", code, body)
	}
}

func TestTelemetryExposesMetrics(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Telemetry.TraceStdout = true
	var traces bytes.Buffer
	tel, err := SetupTelemetry(ctx, cfg, &traces, newLogger())
	if err != nil {
		t.Fatalf("setup telemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(ctx) })

	counter, err := otel.Meter("test").Int64Counter("ops_probe_total")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 3)
	_, span := otel.Tracer("test").Start(ctx, "probe")
	span.End()

	srv := NewOpsServer(config.HTTPConfig{Bind: "127.0.0.1"}, tel.Metrics, newLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(ctx) })

	code, body := get(t, "http://"+srv.Addr()+"/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
	if !strings.Contains(body, "ops_probe_total") {
		t.Fatalf("expected counter in metrics output:\n%s", body)
	}
	if !strings.Contains(traces.String(), `"Name": "probe"`) {
		t.Fatalf("expected span written to trace output, got %q", traces.String())
	}
}
