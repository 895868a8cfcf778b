package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument_SameContent(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	base := func() *Document {
		fetched := ts
		return &Document{
			URL:       "https://example.com/a",
			Title:     "A",
			Lang:      "en",
			Domain:    "example.com",
			FetchedAt: &fetched,
			Text:      "hello",
			Meta:      map[string]any{"k": "v"},
		}
	}

	tests := []struct {
		name   string
		mutate func(d *Document)
		want   bool
	}{
		{name: "identical", mutate: func(d *Document) {}, want: true},
		{name: "timestamps of record ignored", mutate: func(d *Document) {
			d.Id = 9
			d.CreatedAt = time.Now()
			d.UpdatedAt = time.Now()
		}, want: true},
		{name: "same instant other zone", mutate: func(d *Document) {
			local := ts.In(time.FixedZone("x", 3600))
			d.FetchedAt = &local
		}, want: true},
		{name: "text differs", mutate: func(d *Document) { d.Text = "bye" }, want: false},
		{name: "title differs", mutate: func(d *Document) { d.Title = "B" }, want: false},
		{name: "status differs", mutate: func(d *Document) { d.Status = 404 }, want: false},
		{name: "fetched_at cleared", mutate: func(d *Document) { d.FetchedAt = nil }, want: false},
		{name: "meta differs", mutate: func(d *Document) { d.Meta = map[string]any{"k": "w"} }, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := base()
			tt.mutate(d)
			assert.Equal(t, tt.want, base().SameContent(d))
		})
	}

	t.Run("nil and empty meta are equal", func(t *testing.T) {
		a := base()
		b := base()
		a.Meta = nil
		b.Meta = map[string]any{}
		assert.True(t, a.SameContent(b))
	})
}

func TestDocument_CopyContent(t *testing.T) {
	dst := &Document{Id: 7, URL: "https://example.com/a", Text: "old", Title: "old"}
	src := &Document{Id: 0, URL: "https://example.com/a", Text: "new", Title: "new", Status: 200}

	dst.CopyContent(src)

	assert.Equal(t, ID(7), dst.Id)
	assert.Equal(t, "new", dst.Text)
	assert.Equal(t, "new", dst.Title)
	assert.Equal(t, 200, dst.Status)
	assert.True(t, dst.SameContent(src))
}

func TestChunk_Matches(t *testing.T) {
	stored := &Chunk{ContentHash: "h", TokenEstimate: 3, Offsets: &Span{Start: 0, End: 10}}

	assert.True(t, stored.Matches(ChunkCandidate{TokenEstimate: 3, Offsets: &Span{Start: 0, End: 10}}, "h"))
	assert.False(t, stored.Matches(ChunkCandidate{TokenEstimate: 3, Offsets: &Span{Start: 0, End: 10}}, "other"))
	assert.False(t, stored.Matches(ChunkCandidate{TokenEstimate: 3, Offsets: &Span{Start: 5, End: 15}}, "h"))
	assert.False(t, stored.Matches(ChunkCandidate{TokenEstimate: 4, Offsets: &Span{Start: 0, End: 10}}, "h"))
	assert.False(t, stored.Matches(ChunkCandidate{TokenEstimate: 3}, "h"))

	untracked := &Chunk{ContentHash: "h", TokenEstimate: 3}
	require.True(t, untracked.Matches(ChunkCandidate{TokenEstimate: 3}, "h"))
}

func TestValidateDocument(t *testing.T) {
	assert.ErrorIs(t, ValidateDocument(nil), ErrInvalidInput)
	assert.ErrorIs(t, ValidateDocument(&Document{Text: "x"}), ErrEmptyURL)
	assert.ErrorIs(t, ValidateDocument(&Document{URL: "https://a", Text: "  "}), ErrEmptyText)
	assert.NoError(t, ValidateDocument(&Document{URL: "https://a", Text: "x"}))
}

func TestValidateChunks(t *testing.T) {
	text := "héllo wörld"

	t.Run("valid", func(t *testing.T) {
		err := ValidateChunks(text, []ChunkCandidate{
			{Index: 0, Content: "héllo", Offsets: &Span{Start: 0, End: 5}, TokenEstimate: 2},
			{Index: 1, Content: "wörld", Offsets: &Span{Start: 6, End: 11}, TokenEstimate: 2},
		})
		assert.NoError(t, err)
	})

	t.Run("untracked offsets", func(t *testing.T) {
		assert.NoError(t, ValidateChunks(text, []ChunkCandidate{{Index: 0, Content: "x"}}))
	})

	t.Run("gap in indices", func(t *testing.T) {
		err := ValidateChunks(text, []ChunkCandidate{
			{Index: 0, Content: "h"},
			{Index: 2, Content: "w"},
		})
		assert.ErrorIs(t, err, ErrSparseIndices)
	})

	t.Run("empty content", func(t *testing.T) {
		assert.ErrorIs(t, ValidateChunks(text, []ChunkCandidate{{Index: 0}}), ErrEmptyChunk)
	})

	t.Run("offsets past end", func(t *testing.T) {
		err := ValidateChunks(text, []ChunkCandidate{{Index: 0, Content: "x", Offsets: &Span{Start: 5, End: 12}}})
		assert.ErrorIs(t, err, ErrInvalidOffsets)
	})

	t.Run("offsets do not address content", func(t *testing.T) {
		err := ValidateChunks(text, []ChunkCandidate{{Index: 0, Content: "wörld", Offsets: &Span{Start: 0, End: 5}}})
		assert.ErrorIs(t, err, ErrInvalidOffsets)
	})
}

func TestValidateSpan(t *testing.T) {
	assert.NoError(t, ValidateSpan(Span{Start: 0, End: 1}, 1))
	assert.Error(t, ValidateSpan(Span{Start: -1, End: 1}, 1))
	assert.Error(t, ValidateSpan(Span{Start: 1, End: 1}, 1))
	assert.Error(t, ValidateSpan(Span{Start: 0, End: 2}, 1))
}
