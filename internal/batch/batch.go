// Package batch turns input texts into indexed synthesis tasks.
package batch

import (
	"bufio"
	"io"
	"strings"

	"github.com/loqalabs/loqa-speech-batch/internal/synth"
)

// Params are the synthesis parameters shared by a batch.
type Params struct {
	Voice          string `yaml:"voice"`
	Model          string `yaml:"model"`
	ResponseFormat string `yaml:"response_format"`
}

// Task is one unit of work. Index is zero-based and unique within a batch;
// it identifies the task regardless of completion order.
type Task struct {
	Index          int
	Text           string
	Voice          string
	Model          string
	ResponseFormat string
}

// Build returns one task per text, indexed 0..n-1 in input order.
func Build(texts []string, p Params) []Task {
	tasks := make([]Task, len(texts))
	for i, text := range texts {
		tasks[i] = Task{
			Index:          i,
			Text:           text,
			Voice:          p.Voice,
			Model:          p.Model,
			ResponseFormat: p.ResponseFormat,
		}
	}
	return tasks
}

// Request projects the task onto a synthesizer request.
func (t Task) Request() synth.Request {
	return synth.Request{
		Text:           t.Text,
		Voice:          t.Voice,
		Model:          t.Model,
		ResponseFormat: t.ResponseFormat,
	}
}

// LoadTexts reads one text per line, skipping blank lines. Lines are otherwise
// kept as written.
func LoadTexts(r io.Reader) ([]string, error) {
	var texts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		texts = append(texts, line)
	}
	return texts, scanner.Err()
}
