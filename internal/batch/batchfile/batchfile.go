package batchfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/loqalabs/loqa-speech-batch/internal/batch"
)

// File describes a batch of texts to synthesize.
type File struct {
	Metadata    Metadata     `yaml:"metadata"`
	Params      batch.Params `yaml:"params"`
	Concurrency int          `yaml:"concurrency"`
	Output      Output       `yaml:"output,omitempty"`
	Texts       []string     `yaml:"texts"`
}

type Metadata struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tags        []string `yaml:"tags,omitempty"`
}

type Output struct {
	Dir     string `yaml:"dir"`
	Pattern string `yaml:"pattern"`
}

// Load reads a batch file from disk.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, err
	}
	return f, nil
}

// Validate ensures the batch file contains required fields.
func Validate(f File) error {
	if f.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}
	if len(f.Texts) == 0 {
		return fmt.Errorf("texts must include at least one entry")
	}
	for i, text := range f.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("texts[%d] is blank", i)
		}
	}
	if f.Concurrency < 0 {
		return fmt.Errorf("concurrency must be >= 0")
	}
	if p := f.Output.Pattern; p != "" && !strings.Contains(p, "{n}") && !strings.Contains(p, "{index}") {
		return fmt.Errorf("output.pattern %q must contain {n} or {index}", p)
	}
	return nil
}

// Tasks builds the batch's tasks, filling unset params from defaults.
func (f File) Tasks(defaults batch.Params) []batch.Task {
	p := f.Params
	if p.Voice == "" {
		p.Voice = defaults.Voice
	}
	if p.Model == "" {
		p.Model = defaults.Model
	}
	if p.ResponseFormat == "" {
		p.ResponseFormat = defaults.ResponseFormat
	}
	return batch.Build(f.Texts, p)
}
