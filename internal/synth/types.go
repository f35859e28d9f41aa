package synth

import (
	"context"
	"fmt"
	"io"
)

// Request contains parameters to synthesize speech.
type Request struct {
	Text           string
	Voice          string
	Model          string
	ResponseFormat string
}

// Synthesizer is the contract for producing audio. The returned stream must be
// closed by the caller; implementations must be safe for concurrent use.
type Synthesizer interface {
	SynthesizeStream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Error is a failure reported by the synthesis backend.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Kind != "":
		return fmt.Sprintf("synthesis failed (%d %s): %s", e.StatusCode, e.Kind, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("synthesis failed (%d): %s", e.StatusCode, e.Message)
	default:
		return "synthesis failed: " + e.Message
	}
}
