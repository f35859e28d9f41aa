package natsserver

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStartSkipsWhenNotEmbedded(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: false}, newLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv != nil {
		t.Fatalf("expected no server when embedded mode is off")
	}
	srv.Shutdown()
}

func TestStartRandomPort(t *testing.T) {
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1, StoreDir: t.TempDir()}, newLogger())
	if err != nil {
		t.Fatalf("start embedded server: %v", err)
	}
	t.Cleanup(srv.Shutdown)
	if url := srv.ClientURL(); !strings.HasPrefix(url, "nats://127.0.0.1:") {
		t.Fatalf("unexpected client url %q", url)
	}
}
