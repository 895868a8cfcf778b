package chunking

import (
	"strings"
	"unicode/utf8"

	"github.com/poiesic/corpus/core"
	"github.com/tmc/langchaingo/textsplitter"
)

// Recursive splits text with langchaingo's recursive character splitter and
// maps each piece back onto the source text. Pieces the underlying splitter
// rewrote (for example by trimming or rejoining whitespace) and that no longer
// occur verbatim in the text are emitted without offsets.
type Recursive struct {
	cfg      Config
	splitter textsplitter.RecursiveCharacter
}

var _ Splitter = (*Recursive)(nil)

// NewRecursive creates a Recursive splitter. BoundaryWindow is ignored.
func NewRecursive(cfg Config) (*Recursive, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seps := cfg.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	// The recursive splitter needs a final catch-all separator.
	seps = append(append([]string(nil), seps...), "")

	return &Recursive{
		cfg: cfg,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.MaxChunkChars),
			textsplitter.WithChunkOverlap(cfg.OverlapChars),
			textsplitter.WithSeparators(seps),
			textsplitter.WithLenFunc(utf8.RuneCountInString),
		),
	}, nil
}

// Split returns the chunk candidates for text.
func (r *Recursive) Split(text string) ([]core.ChunkCandidate, error) {
	if text == "" {
		return nil, nil
	}
	pieces, err := r.splitter.SplitText(text)
	if err != nil {
		return nil, err
	}

	var candidates []core.ChunkCandidate
	cursor := 0 // byte offset where the search for the next piece begins
	for _, piece := range pieces {
		if piece == "" {
			continue
		}
		candidate := core.ChunkCandidate{
			Index:         len(candidates),
			Content:       piece,
			TokenEstimate: EstimateTokens(utf8.RuneCountInString(piece), r.cfg.CharsPerToken),
		}
		if at := strings.Index(text[cursor:], piece); at >= 0 {
			byteStart := cursor + at
			start := utf8.RuneCountInString(text[:byteStart])
			candidate.Offsets = &core.Span{Start: start, End: start + utf8.RuneCountInString(piece)}
			_, size := utf8.DecodeRuneInString(text[byteStart:])
			cursor = byteStart + size
		}
		candidates = append(candidates, candidate)
	}

	return r.mergeTrailing(text, candidates), nil
}

func (r *Recursive) mergeTrailing(text string, candidates []core.ChunkCandidate) []core.ChunkCandidate {
	last := len(candidates) - 1
	if last < 1 || utf8.RuneCountInString(candidates[last].Content) >= r.cfg.MinChunkChars {
		return candidates
	}

	prev, tail := candidates[last-1], candidates[last]
	merged := core.ChunkCandidate{Index: prev.Index}
	if prev.Offsets != nil && tail.Offsets != nil && tail.Offsets.End > prev.Offsets.Start {
		span := core.Span{Start: prev.Offsets.Start, End: tail.Offsets.End}
		merged.Content = string([]rune(text)[span.Start:span.End])
		merged.Offsets = &span
	} else {
		merged.Content = prev.Content + "\n" + tail.Content
	}
	merged.TokenEstimate = EstimateTokens(utf8.RuneCountInString(merged.Content), r.cfg.CharsPerToken)

	candidates[last-1] = merged
	return candidates[:last]
}
