package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is read for its message.
const maxErrorBody = 64 << 10

type speechRequest struct {
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	Model          string `json:"model"`
	ResponseFormat string `json:"response_format"`
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPSynth talks to an OpenAI-compatible speech endpoint.
type HTTPSynth struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSynth returns a synthesizer backed by a single shared http.Client.
// A nil client selects http.DefaultClient.
func NewHTTPSynth(endpoint, apiKey string, client *http.Client) (*HTTPSynth, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("synthesis endpoint empty")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSynth{endpoint: endpoint, apiKey: apiKey, client: client}, nil
}

func (h *HTTPSynth) SynthesizeStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	body, err := json.Marshal(speechRequest{
		Input:          req.Text,
		Voice:          req.Voice,
		Model:          req.Model,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	h.authorize(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("speech request: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp.Body, nil
}

// Voices lists the voices the server reports as supported.
func (h *HTTPSynth) Voices(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+"/voices", nil)
	if err != nil {
		return nil, err
	}
	h.authorize(httpReq)

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("voices request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, decodeError(resp)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var wrapped struct {
		Voices []string `json:"voices"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("decode voices: %w", err)
	}
	return wrapped.Voices, nil
}

func (h *HTTPSynth) authorize(req *http.Request) {
	if h.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+h.apiKey)
	}
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	synthErr := &Error{StatusCode: resp.StatusCode}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil && env.Error.Message != "" {
		synthErr.Kind = env.Error.Kind
		synthErr.Message = env.Error.Message
		return synthErr
	}
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = resp.Status
	}
	synthErr.Message = msg
	return synthErr
}
