package core

import (
	"fmt"
	"strings"
)

// ValidateDocument checks the fields a document must carry before it is stored.
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidInput)
	}

	if strings.TrimSpace(doc.URL) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyURL)
	}

	if strings.TrimSpace(doc.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidInput, ErrEmptyText)
	}

	return nil
}

// ValidateChunks checks that candidates are densely indexed from zero, are
// non-empty, and that tracked offsets address their content inside text.
func ValidateChunks(text string, candidates []ChunkCandidate) error {
	runes := []rune(text)
	for i, c := range candidates {
		if c.Index != i {
			return fmt.Errorf("%w: position %d has index %d", ErrSparseIndices, i, c.Index)
		}
		if c.Content == "" {
			return fmt.Errorf("%w: index %d", ErrEmptyChunk, i)
		}
		if c.TokenEstimate < 0 {
			return fmt.Errorf("%w: index %d has negative token estimate", ErrInvalidOffsets, i)
		}
		if c.Offsets == nil {
			continue
		}
		if err := ValidateSpan(*c.Offsets, len(runes)); err != nil {
			return fmt.Errorf("%w: index %d", err, i)
		}
		if string(runes[c.Offsets.Start:c.Offsets.End]) != c.Content {
			return fmt.Errorf("%w: index %d content does not match text[%d:%d]",
				ErrInvalidOffsets, i, c.Offsets.Start, c.Offsets.End)
		}
	}
	return nil
}

// ValidateSpan checks 0 <= start < end <= textLen.
func ValidateSpan(span Span, textLen int) error {
	if span.Start < 0 || span.Start >= span.End || span.End > textLen {
		return fmt.Errorf("%w: [%d, %d) outside text of length %d",
			ErrInvalidOffsets, span.Start, span.End, textLen)
	}
	return nil
}
