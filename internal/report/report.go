// Package report renders dispatcher results for humans and fans them out to
// optional result hooks.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/loqalabs/loqa-speech-batch/internal/dispatch"
)

const clockLayout = "15:04:05"

// Line formats one result, numbering tasks from 1.
func Line(r dispatch.Result) string {
	prefix := fmt.Sprintf("[#%d] start=%s, end=%s, duration=%.2fs",
		r.Index+1, r.Start.Format(clockLayout), r.End.Format(clockLayout), r.Duration.Seconds())
	if r.OK {
		return prefix + ", file=" + r.OutputPath
	}
	return prefix + ", error=" + r.Error
}

// Summary aggregates a batch.
type Summary struct {
	Total  int
	OK     int
	Failed int
	Bytes  uint64
	Wall   time.Duration
	// Slowest is the longest single task duration.
	Slowest time.Duration
}

func (s *Summary) Add(r dispatch.Result) {
	s.Total++
	if r.OK {
		s.OK++
		s.Bytes += uint64(max(r.Bytes, 0))
	} else {
		s.Failed++
	}
	if r.Duration > s.Slowest {
		s.Slowest = r.Duration
	}
}

func (s Summary) String() string {
	return fmt.Sprintf("%d requests: %d ok, %d failed, %s written, wall %.2fs, slowest %.2fs",
		s.Total, s.OK, s.Failed, humanize.Bytes(s.Bytes), s.Wall.Seconds(), s.Slowest.Seconds())
}

// Hook observes each result after it has been printed. Hook errors are logged
// and never affect the batch.
type Hook interface {
	OnResult(ctx context.Context, r dispatch.Result) error
}

// Printer writes one line per result as results arrive.
type Printer struct {
	out    io.Writer
	hooks  []Hook
	logger *slog.Logger
	now    func() time.Time
}

func NewPrinter(out io.Writer, log *slog.Logger, hooks ...Hook) *Printer {
	return &Printer{
		out:    out,
		hooks:  hooks,
		logger: log.With(slog.String("component", "report")),
		now:    time.Now,
	}
}

// Drain consumes ch until it closes. It returns the results sorted by index
// and the batch summary; Wall is measured from the call to Drain.
func (p *Printer) Drain(ctx context.Context, ch <-chan dispatch.Result) ([]dispatch.Result, Summary) {
	start := p.now()
	var (
		results []dispatch.Result
		summary Summary
	)
	for r := range ch {
		fmt.Fprintln(p.out, Line(r))
		summary.Add(r)
		results = append(results, r)
		for _, h := range p.hooks {
			if err := h.OnResult(ctx, r); err != nil {
				p.logger.Warn("result hook failed", slog.Int("index", r.Index), slog.String("error", err.Error()))
			}
		}
	}
	summary.Wall = p.now().Sub(start)
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, summary
}
