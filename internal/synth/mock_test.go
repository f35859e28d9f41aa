package synth

import (
	"context"
	"io"
	"testing"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
)

func TestMockSynthReturnsWAV(t *testing.T) {
	s := NewMockSynth(0)
	stream, err := s.SynthesizeStream(context.Background(), Request{Text: "A"})
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	defer stream.Close()
	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(data) != 44+mockSamples*2 {
		t.Fatalf("unexpected wav size %d", len(data))
	}
	if string(data[:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Fatalf("missing RIFF/WAVE header")
	}
}

func TestFactoryModes(t *testing.T) {
	cfg := config.Default().Synthesis
	for _, mode := range []string{"http", "mock"} {
		cfg.Mode = mode
		if _, err := New(cfg); err != nil {
			t.Fatalf("mode %s: %v", mode, err)
		}
	}
	cfg.Mode = "carrier-pigeon"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
