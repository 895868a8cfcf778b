package ingestion

import "github.com/poiesic/corpus/core"

// Outcome describes what happened to the document row.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeUnchanged Outcome = "unchanged"
)

// Result reports the effect of one ingestion.
type Result struct {
	Document        *core.Document
	Outcome         Outcome
	ChunksInserted  int
	ChunksUpdated   int
	ChunksUnchanged int
	ChunksDeleted   int
	Attempts        int // units of work run, including the successful one
}

// Changed reports whether the ingestion wrote anything.
func (r *Result) Changed() bool {
	return r.Outcome != OutcomeUnchanged || r.ChunksInserted > 0 || r.ChunksUpdated > 0 || r.ChunksDeleted > 0
}
