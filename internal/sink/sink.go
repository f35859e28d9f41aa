// Package sink streams synthesized audio onto the local filesystem.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-speech-batch/internal/batch"
)

const DefaultPattern = "temp_{n}.{format}"

// FileSink writes each stream to a temp file beside the destination and
// renames it into place once the stream ends cleanly, so a failed task never
// leaves a truncated file at its output path.
type FileSink struct {
	Perm os.FileMode
}

func NewFileSink() *FileSink {
	return &FileSink{Perm: 0o644}
}

// WriteStream copies r to path and returns the number of bytes written.
func (s *FileSink) WriteStream(r io.Reader, path string) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close %s: %w", path, err)
	}
	perm := s.Perm
	if perm == 0 {
		perm = 0o644
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return n, fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return n, fmt.Errorf("rename into %s: %w", path, err)
	}
	committed = true
	return n, nil
}

// Pattern returns a naming function placing each task's output under dir.
// {n} expands to Index+1, {index} to Index and {format} to the response format.
func Pattern(dir, pattern string) func(batch.Task) string {
	if pattern == "" {
		pattern = DefaultPattern
	}
	return func(t batch.Task) string {
		name := strings.NewReplacer(
			"{n}", strconv.Itoa(t.Index+1),
			"{index}", strconv.Itoa(t.Index),
			"{format}", t.ResponseFormat,
		).Replace(pattern)
		return filepath.Join(dir, name)
	}
}
