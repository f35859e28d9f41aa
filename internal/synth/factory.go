package synth

import (
	"fmt"
	"time"

	"github.com/loqalabs/loqa-speech-batch/internal/config"
)

// New builds the synthesizer selected by cfg.Mode.
func New(cfg config.SynthesisConfig) (Synthesizer, error) {
	switch cfg.Mode {
	case "http":
		s, err := NewHTTPSynth(cfg.Endpoint, cfg.APIKey, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "exec":
		return NewExecSynth(cfg.Command)
	case "mock":
		return NewMockSynth(time.Duration(cfg.MockDelayMS) * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported synthesis mode %q", cfg.Mode)
	}
}
