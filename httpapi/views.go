package httpapi

import (
	"time"

	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/ingestion"
)

type errorView struct {
	Error string `json:"error"`
}

type documentView struct {
	Id          core.ID        `json:"id"`
	URL         string         `json:"url"`
	Title       string         `json:"title,omitempty"`
	Lang        string         `json:"lang,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	FetchedAt   *time.Time     `json:"fetched_at,omitempty"`
	Status      int            `json:"status,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	TextLength  int            `json:"text_length"`
	Text        string         `json:"text,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// newDocumentView renders doc; the text itself is only included when withText is set.
func newDocumentView(doc *core.Document, withText bool) documentView {
	v := documentView{
		Id:          doc.Id,
		URL:         doc.URL,
		Title:       doc.Title,
		Lang:        doc.Lang,
		Domain:      doc.Domain,
		FetchedAt:   doc.FetchedAt,
		Status:      doc.Status,
		ContentType: doc.ContentType,
		TextLength:  doc.TextLen(),
		Meta:        doc.Meta,
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	if withText {
		v.Text = doc.Text
	}
	return v
}

type listView struct {
	Documents []documentView `json:"documents"`
	NextAfter core.ID        `json:"next_after,omitempty"`
}

type chunkView struct {
	Id            core.ID    `json:"id"`
	DocumentId    core.ID    `json:"document_id"`
	Index         int        `json:"index"`
	Content       string     `json:"content"`
	Offsets       *core.Span `json:"offsets,omitempty"`
	TokenEstimate int        `json:"token_estimate"`
	ContentHash   string     `json:"content_hash"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type chunksView struct {
	Chunks []chunkView `json:"chunks"`
}

func newChunksView(chunks []*core.Chunk) chunksView {
	v := chunksView{Chunks: make([]chunkView, 0, len(chunks))}
	for _, c := range chunks {
		v.Chunks = append(v.Chunks, chunkView{
			Id:            c.Id,
			DocumentId:    c.DocumentId,
			Index:         c.Index,
			Content:       c.Content,
			Offsets:       c.Offsets,
			TokenEstimate: c.TokenEstimate,
			ContentHash:   c.ContentHash,
			CreatedAt:     c.CreatedAt,
			UpdatedAt:     c.UpdatedAt,
		})
	}
	return v
}

type chunkCountsView struct {
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Deleted   int `json:"deleted"`
}

type ingestView struct {
	Outcome  ingestion.Outcome `json:"outcome"`
	Attempts int               `json:"attempts"`
	Chunks   chunkCountsView   `json:"chunks"`
	Document documentView      `json:"document"`
}

func newIngestView(res *ingestion.Result) ingestView {
	return ingestView{
		Outcome:  res.Outcome,
		Attempts: res.Attempts,
		Chunks: chunkCountsView{
			Inserted:  res.ChunksInserted,
			Updated:   res.ChunksUpdated,
			Unchanged: res.ChunksUnchanged,
			Deleted:   res.ChunksDeleted,
		},
		Document: newDocumentView(res.Document, false),
	}
}
