package ingestion

import (
	"fmt"
	"io"
	"time"
)

// progressLine renders a running Summary as a single carriage-return line,
// redrawn every n pages. It is not safe for concurrent use; the runner
// calls it while holding its summary lock.
type progressLine struct {
	out   io.Writer
	every int
	begun time.Time
	shown int
}

func newProgressLine(out io.Writer, every int) *progressLine {
	return &progressLine{out: out, every: max(every, 1), begun: time.Now()}
}

// observe redraws the line once at least every pages arrived since the last draw.
func (p *progressLine) observe(s *Summary) {
	if s.Read-p.shown < p.every {
		return
	}
	p.draw(s)
}

// finish draws the final totals and ends the line.
func (p *progressLine) finish(s *Summary) {
	p.draw(s)
	fmt.Fprintln(p.out)
}

func (p *progressLine) draw(s *Summary) {
	perSec := 0.0
	if secs := time.Since(p.begun).Seconds(); secs > 0 {
		perSec = float64(s.Read) / secs
	}
	fmt.Fprintf(p.out, "\r%d pages: %d created, %d updated, %d unchanged, %d invalid, %d failed (%.1f pages/s)",
		s.Read, s.Created, s.Updated, s.Unchanged, s.Invalid, s.Failed, perSec)
	p.shown = s.Read
}
