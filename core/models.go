package core

import (
	"reflect"
	"time"
	"unicode/utf8"
)

type ID uint64

// Span is a half-open range [Start, End) of code points in a document's text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of code points covered by the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Document is one fetched page, deduplicated by URL.
type Document struct {
	Id          ID
	URL         string
	Title       string
	Lang        string
	Domain      string
	FetchedAt   *time.Time
	Status      int    // HTTP status of the fetch, 0 when unknown
	ContentType string // Content-Type reported by the fetcher
	Text        string
	Meta        map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TextLen returns the length of the document text in code points.
func (d *Document) TextLen() int {
	return utf8.RuneCountInString(d.Text)
}

// SameContent reports whether every mutable field of d equals the one in other.
// Identity and timestamps of record are ignored.
func (d *Document) SameContent(other *Document) bool {
	if d == nil || other == nil {
		return d == other
	}
	if d.URL != other.URL ||
		d.Title != other.Title ||
		d.Lang != other.Lang ||
		d.Domain != other.Domain ||
		d.Status != other.Status ||
		d.ContentType != other.ContentType ||
		d.Text != other.Text {
		return false
	}
	if !timesEqual(d.FetchedAt, other.FetchedAt) {
		return false
	}
	if len(d.Meta) == 0 && len(other.Meta) == 0 {
		return true
	}
	return reflect.DeepEqual(d.Meta, other.Meta)
}

// CopyContent overwrites the mutable fields of d with those of src.
func (d *Document) CopyContent(src *Document) {
	d.Title = src.Title
	d.Lang = src.Lang
	d.Domain = src.Domain
	d.FetchedAt = src.FetchedAt
	d.Status = src.Status
	d.ContentType = src.ContentType
	d.Text = src.Text
	d.Meta = src.Meta
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Chunk is one positionally addressed slice of a document's text.
type Chunk struct {
	Id            ID
	DocumentId    ID
	Index         int
	Content       string
	Offsets       *Span // nil when the splitter does not track offsets
	TokenEstimate int
	ContentHash   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ChunkCandidate is a chunk produced by a splitter, before it has an owner or hash.
type ChunkCandidate struct {
	Index         int
	Content       string
	Offsets       *Span
	TokenEstimate int
}

// Matches reports whether the stored chunk already holds the candidate's
// content, position and token estimate under the given hash.
func (c *Chunk) Matches(candidate ChunkCandidate, hash string) bool {
	if c.ContentHash != hash || c.TokenEstimate != candidate.TokenEstimate {
		return false
	}
	if c.Offsets == nil || candidate.Offsets == nil {
		return c.Offsets == nil && candidate.Offsets == nil
	}
	return *c.Offsets == *candidate.Offsets
}
