package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSynth runs a local command per request. The command receives a JSON
// request on stdin and writes raw audio bytes to stdout.
type execSynth struct {
	cmd []string
}

type execRequest struct {
	Text           string `json:"text"`
	Voice          string `json:"voice"`
	Model          string `json:"model"`
	ResponseFormat string `json:"response_format"`
}

func NewExecSynth(command string) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &execSynth{cmd: args}, nil
}

func (e *execSynth) SynthesizeStream(ctx context.Context, req Request) (io.ReadCloser, error) {
	data, err := json.Marshal(execRequest{
		Text:           req.Text,
		Voice:          req.Voice,
		Model:          req.Model,
		ResponseFormat: req.ResponseFormat,
	})
	if err != nil {
		return nil, err
	}

	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, e.cmd[0], args...)
	cmd.Stdin = bytes.NewReader(data)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start synthesis command: %w", err)
	}
	return &execStream{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

// execStream reports a failed command exit in place of io.EOF, so a partial
// stream is never mistaken for a complete one.
type execStream struct {
	cmd     *exec.Cmd
	stdout  io.Reader
	stderr  *bytes.Buffer
	once    sync.Once
	waitErr error
}

func (s *execStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if err == io.EOF {
		if werr := s.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (s *execStream) Close() error {
	if s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Kill()
	}
	s.wait()
	return nil
}

func (s *execStream) wait() error {
	s.once.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(s.stderr.String())
			if msg == "" {
				msg = err.Error()
			} else {
				msg = fmt.Sprintf("%v: %s", err, msg)
			}
			s.waitErr = &Error{Kind: "exec", Message: msg}
		}
	})
	return s.waitErr
}
