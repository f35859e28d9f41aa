package synth

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"time"
)

const (
	mockSampleRate = 22050
	mockSamples    = mockSampleRate / 10
)

type mockSynth struct {
	delay time.Duration
}

// NewMockSynth returns a synthesizer that answers every request with a short
// silent mono WAV after delay.
func NewMockSynth(delay time.Duration) Synthesizer {
	return &mockSynth{delay: delay}
}

func (m *mockSynth) SynthesizeStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.delay):
	}
	return io.NopCloser(bytes.NewReader(silentWAV(mockSampleRate, mockSamples))), nil
}

// silentWAV builds a 16-bit PCM mono RIFF file of n zero samples.
func silentWAV(sampleRate, n int) []byte {
	dataLen := n * 2
	buf := bytes.NewBuffer(make([]byte, 0, 44+dataLen))
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2))
	binary.Write(buf, binary.LittleEndian, uint16(2))
	binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}
