package chunking

import (
	"slices"

	"github.com/poiesic/corpus/core"
)

// Splitter turns document text into ordered chunk candidates.
type Splitter interface {
	Split(text string) ([]core.ChunkCandidate, error)
}

// Chunker is the boundary-aware sliding-window splitter.
// It is stateless and safe for concurrent use.
type Chunker struct {
	cfg        Config
	separators [][]rune
}

var _ Splitter = (*Chunker)(nil)

// New creates a Chunker. An empty Separators list selects DefaultSeparators;
// set BoundaryWindow to 0 to always cut at exactly MaxChunkChars.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	c := &Chunker{cfg: cfg}
	for _, sep := range seps {
		c.separators = append(c.separators, []rune(sep))
	}
	return c, nil
}

// Config returns the configuration the chunker was built with.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Split returns the chunk candidates for text. Empty text yields no candidates.
func (c *Chunker) Split(text string) ([]core.ChunkCandidate, error) {
	runes := []rune(text)
	spans := c.spans(runes)
	if len(spans) == 0 {
		return nil, nil
	}

	candidates := make([]core.ChunkCandidate, len(spans))
	for i, span := range spans {
		candidates[i] = core.ChunkCandidate{
			Index:         i,
			Content:       string(runes[span.Start:span.End]),
			Offsets:       &core.Span{Start: span.Start, End: span.End},
			TokenEstimate: EstimateTokens(span.Len(), c.cfg.CharsPerToken),
		}
	}
	return candidates, nil
}

func (c *Chunker) spans(runes []rune) []core.Span {
	n := len(runes)
	if n == 0 {
		return nil
	}

	var spans []core.Span
	start := 0
	for {
		hardEnd := min(start+c.cfg.MaxChunkChars, n)
		end := hardEnd
		if hardEnd < n {
			end = c.cutPoint(runes, start, hardEnd)
		}
		spans = append(spans, core.Span{Start: start, End: end})
		if end == n {
			break
		}

		next := end - c.cfg.OverlapChars
		if next <= start {
			next = end
		}
		start = next
	}

	if last := len(spans) - 1; last > 0 && spans[last].Len() < c.cfg.MinChunkChars {
		spans[last-1].End = spans[last].End
		spans = slices.Delete(spans, last, last+1)
	}
	return spans
}

// cutPoint finds where to end the window [start, hardEnd). It returns the
// position just after the latest occurrence of the most preferred separator
// in the search window, or hardEnd when no separator qualifies. The search
// never goes below start+OverlapChars+1 so the next window always advances.
func (c *Chunker) cutPoint(runes []rune, start, hardEnd int) int {
	lo := max(hardEnd-c.cfg.BoundaryWindow, start+c.cfg.OverlapChars+1)
	if lo > hardEnd {
		return hardEnd
	}
	for _, sep := range c.separators {
		for p := hardEnd; p >= lo; p-- {
			if p-len(sep) < start {
				break
			}
			if hasSuffixAt(runes, p, sep) {
				return p
			}
		}
	}
	return hardEnd
}

// hasSuffixAt reports whether runes[:p] ends with sep.
func hasSuffixAt(runes []rune, p int, sep []rune) bool {
	if p < len(sep) {
		return false
	}
	return slices.Equal(runes[p-len(sep):p], sep)
}
