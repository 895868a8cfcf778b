package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/ingestion"
	"github.com/poiesic/corpus/normalize"
	"github.com/poiesic/corpus/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if _, err := s.repo.ListDocuments(r.Context(), 0, 1); err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) ingestDocument(w http.ResponseWriter, r *http.Request) {
	body := r.Body
	if s.config.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	}

	var page core.FetchedPage
	if err := json.NewDecoder(body).Decode(&page); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		s.writeFailure(w, r, fmt.Errorf("%w: %w", core.ErrInvalidInput, err))
		return
	}

	res, err := s.ingester.Ingest(r.Context(), &page)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Outcome == ingestion.OutcomeCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, newIngestView(res))
}

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if raw := q.Get("url"); raw != "" {
		canonical, err := normalize.CanonicalURL(raw)
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		doc, err := s.repo.GetDocumentByURL(r.Context(), canonical.String())
		if err != nil {
			s.writeFailure(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newDocumentView(doc, true))
		return
	}

	var after core.ID
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid after %q", v))
			return
		}
		after = core.ID(n)
	}
	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		var err error
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxListLimit {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be between 1 and %d", maxListLimit))
			return
		}
	}

	docs, err := s.repo.ListDocuments(r.Context(), after, limit)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	page := listView{Documents: make([]documentView, 0, len(docs))}
	for _, doc := range docs {
		page.Documents = append(page.Documents, newDocumentView(doc, false))
	}
	if len(docs) == limit {
		page.NextAfter = docs[len(docs)-1].Id
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	doc, err := s.repo.GetDocument(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDocumentView(doc, true))
}

func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.repo.DeleteDocument(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// Unknown documents have no chunks; report them as missing instead.
	if _, err := s.repo.GetDocument(r.Context(), id); err != nil {
		s.writeFailure(w, r, err)
		return
	}
	chunks, err := s.repo.GetChunks(r.Context(), id)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChunksView(chunks))
}

func (s *Server) chunksByHash(w http.ResponseWriter, r *http.Request) {
	hash := r.URL.Query().Get("hash")
	if hash == "" {
		writeError(w, http.StatusBadRequest, errors.New("hash is required"))
		return
	}
	chunks, err := s.repo.GetChunksByHash(r.Context(), hash)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newChunksView(chunks))
}

func pathID(w http.ResponseWriter, r *http.Request) (core.ID, bool) {
	raw := chi.URLParam(r, "id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid document id %q", raw))
		return 0, false
	}
	return core.ID(n), true
}

// statusFor maps an error from the ingester or repository to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, storage.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrIngestionConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrStorageUnavailable), errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "err", err)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorView{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
