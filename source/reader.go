package source

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/poiesic/corpus/core"
)

const maxLineBytes = 64 << 20

// Reader decodes one FetchedPage per line. It implements ingestion.PageSource.
type Reader struct {
	name     string
	scanner  *bufio.Scanner
	closer   io.Closer
	lines    int
	badLines int
}

// NewReader reads JSON Lines from r. name identifies the input in errors.
func NewReader(name string, r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	reader := &Reader{name: name, scanner: scanner}
	if c, ok := r.(io.Closer); ok {
		reader.closer = c
	}
	return reader
}

// Next returns the next record. Blank lines are skipped. A line that does not
// decode yields an error wrapping core.ErrInvalidInput; reading can continue
// after it. io.EOF marks the end of input.
func (r *Reader) Next(ctx context.Context) (*core.FetchedPage, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				if errors.Is(err, bufio.ErrTooLong) {
					r.badLines++
					return nil, fmt.Errorf("%w: %s: line %d exceeds %d bytes", core.ErrInvalidInput, r.name, r.lines+1, maxLineBytes)
				}
				return nil, fmt.Errorf("reading %s: %w", r.name, err)
			}
			return nil, io.EOF
		}
		r.lines++

		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		var page core.FetchedPage
		if err := json.Unmarshal([]byte(line), &page); err != nil {
			r.badLines++
			if errors.Is(err, core.ErrInvalidInput) {
				return nil, fmt.Errorf("%s: line %d: %w", r.name, r.lines, err)
			}
			return nil, fmt.Errorf("%w: %s: line %d: %w", core.ErrInvalidInput, r.name, r.lines, err)
		}
		return &page, nil
	}
}

// Lines returns the number of lines consumed so far.
func (r *Reader) Lines() int {
	return r.lines
}

// BadLines returns the number of lines that failed to decode.
func (r *Reader) BadLines() int {
	return r.badLines
}

// Close closes the underlying input, if it is closable.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
