package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/poiesic/corpus/chunking"
	"github.com/poiesic/corpus/config"
	"github.com/poiesic/corpus/core"
	"github.com/poiesic/corpus/ingestion"
	"github.com/poiesic/corpus/storage"
	"github.com/poiesic/corpus/storage/badger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	repo   *badger.Repository
	server *Server
	http   *httptest.Server
}

func newFixture(t *testing.T, ingester Ingester) *fixture {
	t.Helper()
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	if ingester == nil {
		splitter, err := chunking.New(chunking.Config{
			MaxChunkChars:  40,
			OverlapChars:   5,
			MinChunkChars:  10,
			BoundaryWindow: 15,
			CharsPerToken:  4,
		})
		require.NoError(t, err)
		ingester, err = ingestion.NewIngester(repo, ingestion.WithSplitter(splitter))
		require.NoError(t, err)
	}

	cfg := config.Default().HTTP
	cfg.MaxBodyBytes = 4096
	reg := prometheus.NewRegistry()
	srv, err := NewServer(repo, ingester, cfg, WithMetrics(reg, reg))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &fixture{repo: repo, server: srv, http: ts}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.http.URL+path, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

const pageJSON = `{"url":"https://example.com/a","title":"A","text":"First sentence here. Second sentence follows. Third one ends it.","crawler":"test"}`

func TestNewServer_Validation(t *testing.T) {
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	_, err = NewServer(nil, nil, config.HTTPConfig{})
	assert.ErrorIs(t, err, ErrRepositoryRequired)
	_, err = NewServer(repo, nil, config.HTTPConfig{})
	assert.ErrorIs(t, err, ErrIngesterRequired)
}

func TestIngestDocument(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodPost, "/v1/documents", pageJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var created ingestView
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, ingestion.OutcomeCreated, created.Outcome)
	assert.Equal(t, "https://example.com/a", created.Document.URL)
	assert.Equal(t, "test", created.Document.Meta["crawler"])
	assert.Greater(t, created.Chunks.Inserted, 1)
	assert.Empty(t, created.Document.Text)

	resp, body = f.do(t, http.MethodPost, "/v1/documents", pageJSON)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var again ingestView
	require.NoError(t, json.Unmarshal(body, &again))
	assert.Equal(t, ingestion.OutcomeUnchanged, again.Outcome)
	assert.Equal(t, created.Document.Id, again.Document.Id)
	assert.Equal(t, created.Chunks.Inserted, again.Chunks.Unchanged)
}

func TestIngestDocument_BadRequests(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"url":`, http.StatusBadRequest},
		{"missing url", `{"text":"hello"}`, http.StatusBadRequest},
		{"empty text", `{"url":"https://example.com/x","text":"   "}`, http.StatusBadRequest},
		{"too large", fmt.Sprintf(`{"url":"https://example.com/x","text":%q}`, strings.Repeat("a", 5000)), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := f.do(t, http.MethodPost, "/v1/documents", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			var e errorView
			require.NoError(t, json.Unmarshal(body, &e))
			assert.NotEmpty(t, e.Error)
		})
	}

	docs, err := f.repo.ListDocuments(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, docs, "rejected requests must not write")
}

func TestLookupByURL_AsIngested(t *testing.T) {
	f := newFixture(t, nil)
	const raw = "https://Example.COM/page#top"
	resp, body := f.do(t, http.MethodPost, "/v1/documents", `{"url":"`+raw+`","text":"Mixed case host with a fragment."}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created ingestView
	require.NoError(t, json.Unmarshal(body, &created))

	for _, lookup := range []string{raw, "https://example.com/page"} {
		resp, body := f.do(t, http.MethodGet, "/v1/documents?url="+url.QueryEscape(lookup), "")
		require.Equal(t, http.StatusOK, resp.StatusCode, lookup)
		var doc documentView
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, created.Document.Id, doc.Id, lookup)
	}
}

func TestReadEndpoints(t *testing.T) {
	f := newFixture(t, nil)
	resp, body := f.do(t, http.MethodPost, "/v1/documents", pageJSON)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created ingestView
	require.NoError(t, json.Unmarshal(body, &created))
	id := created.Document.Id

	t.Run("by id", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/v1/documents/%d", id), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var doc documentView
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, "A", doc.Title)
		assert.NotEmpty(t, doc.Text)
	})

	t.Run("by url", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/v1/documents?url=https://example.com/a", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var doc documentView
		require.NoError(t, json.Unmarshal(body, &doc))
		assert.Equal(t, id, doc.Id)
	})

	t.Run("list", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, "/v1/documents?limit=1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var page listView
		require.NoError(t, json.Unmarshal(body, &page))
		require.Len(t, page.Documents, 1)
		assert.Empty(t, page.Documents[0].Text)
		assert.Equal(t, id, page.NextAfter)

		resp, body = f.do(t, http.MethodGet, fmt.Sprintf("/v1/documents?after=%d", id), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &page))
		assert.Empty(t, page.Documents)
	})

	t.Run("chunks", func(t *testing.T) {
		resp, body := f.do(t, http.MethodGet, fmt.Sprintf("/v1/documents/%d/chunks", id), "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var chunks chunksView
		require.NoError(t, json.Unmarshal(body, &chunks))
		require.Len(t, chunks.Chunks, created.Chunks.Inserted)
		for i, c := range chunks.Chunks {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, id, c.DocumentId)
		}

		hash := chunks.Chunks[0].ContentHash
		resp, body = f.do(t, http.MethodGet, "/v1/chunks?hash="+hash, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var byHash chunksView
		require.NoError(t, json.Unmarshal(body, &byHash))
		require.NotEmpty(t, byHash.Chunks)
		assert.Equal(t, hash, byHash.Chunks[0].ContentHash)
	})

	t.Run("errors", func(t *testing.T) {
		tests := []struct {
			path string
			want int
		}{
			{"/v1/documents/999", http.StatusNotFound},
			{"/v1/documents/999/chunks", http.StatusNotFound},
			{"/v1/documents/abc", http.StatusBadRequest},
			{"/v1/documents/0", http.StatusBadRequest},
			{"/v1/documents?url=https://example.com/missing", http.StatusNotFound},
			{"/v1/documents?url=%2Frelative%2Fonly", http.StatusBadRequest},
			{"/v1/documents?limit=0", http.StatusBadRequest},
			{"/v1/documents?after=-1", http.StatusBadRequest},
			{"/v1/chunks", http.StatusBadRequest},
		}
		for _, tt := range tests {
			resp, _ := f.do(t, http.MethodGet, tt.path, "")
			assert.Equal(t, tt.want, resp.StatusCode, tt.path)
		}
	})

	t.Run("delete", func(t *testing.T) {
		resp, _ := f.do(t, http.MethodDelete, fmt.Sprintf("/v1/documents/%d", id), "")
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp, _ = f.do(t, http.MethodDelete, fmt.Sprintf("/v1/documents/%d", id), "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		chunks, err := f.repo.GetChunks(context.Background(), id)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	})
}

type stubIngester struct {
	err error
}

func (s stubIngester) Ingest(context.Context, *core.FetchedPage) (*ingestion.Result, error) {
	return nil, s.err
}

func TestIngestDocument_ErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad", core.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: busy", core.ErrIngestionConflict), http.StatusConflict},
		{fmt.Errorf("%w: down", core.ErrStorageUnavailable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: broken", core.ErrIntegrityViolation), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newFixture(t, stubIngester{err: tt.err})
			resp, body := f.do(t, http.MethodPost, "/v1/documents", pageJSON)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Contains(t, string(body), tt.err.Error())
			if tt.want == http.StatusServiceUnavailable {
				assert.Equal(t, "1", resp.Header.Get("Retry-After"))
			}
		})
	}
}

func TestStatusFor_StorageErrors(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("x: %w", storage.ErrNotFound)))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(storage.ErrUnavailable))
	assert.Equal(t, http.StatusBadRequest, statusFor(storage.ErrInvalidQuery))
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	resp, body = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `corpus_http_requests_total{code="200",method="GET",route="/healthz"} 1`)

}

type downRepo struct {
	storage.DocumentRepository
}

func (downRepo) ListDocuments(context.Context, core.ID, int) ([]*core.Document, error) {
	return nil, fmt.Errorf("%w: %w", storage.ErrUnavailable, storage.ErrStorageClosed)
}

func TestHealth_Unavailable(t *testing.T) {
	srv, err := NewServer(downRepo{}, stubIngester{}, config.Default().HTTP)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/documents", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORS(t *testing.T) {
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	cfg := config.Default().HTTP
	cfg.AllowedOrigins = []string{"https://ui.example.com"}
	srv, err := NewServer(repo, stubIngester{}, cfg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://ui.example.com")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "https://ui.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are only routed when configured")
}

func TestListenAndServe_Shutdown(t *testing.T) {
	repo, err := badger.NewMemoryRepository()
	require.NoError(t, err)
	defer repo.Close()

	cfg := config.Default().HTTP
	cfg.Addr = "127.0.0.1:0"
	srv, err := NewServer(repo, stubIngester{}, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()
	cancel()
	require.NoError(t, <-done)
}
