package batchfile_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-speech-batch/internal/batch"
	"github.com/loqalabs/loqa-speech-batch/internal/batch/batchfile"
)

const sampleBatch = `metadata:
  name: smoke
  description: five mixed-script requests
params:
  voice: dragon
concurrency: 2
output:
  dir: ./out
  pattern: "clip_{n}.{format}"
texts:
  - "Hello world! 这是一条英文混合中文的句子。"
  - "第二条请求，测试并发处理能力。"
`

func writeBatch(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "batch.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	return path
}

func TestLoadAndValidate(t *testing.T) {
	f, err := batchfile.Load(writeBatch(t, sampleBatch))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := batchfile.Validate(f); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if f.Concurrency != 2 || f.Output.Pattern != "clip_{n}.{format}" {
		t.Fatalf("unexpected file %+v", f)
	}

	tasks := f.Tasks(batch.Params{Voice: "default", Model: "tts-1", ResponseFormat: "wav"})
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[1].Index != 1 || tasks[1].Voice != "dragon" || tasks[1].Model != "tts-1" || tasks[1].ResponseFormat != "wav" {
		t.Fatalf("unexpected task %+v", tasks[1])
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]batchfile.File{
		"missing name": {Texts: []string{"a"}},
		"no texts":     {Metadata: batchfile.Metadata{Name: "x"}},
		"blank text":   {Metadata: batchfile.Metadata{Name: "x"}, Texts: []string{"a", "  "}},
		"bad pattern":  {Metadata: batchfile.Metadata{Name: "x"}, Texts: []string{"a"}, Output: batchfile.Output{Pattern: "out.wav"}},
		"negative":     {Metadata: batchfile.Metadata{Name: "x"}, Texts: []string{"a"}, Concurrency: -1},
	}
	for name, f := range cases {
		if err := batchfile.Validate(f); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := batchfile.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
