package source

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/poiesic/corpus/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"url": "https://example.com/a", "text": "alpha", "fetched_at": 1714557600}

{"url": "https://example.com/b", "text": "beta", "crawler": "v2"}
{not json
["an", "array"]
{"url": "https://example.com/c", "raw_html": "<p>gamma</p>"}
`

func readAll(t *testing.T, r *Reader) ([]*core.FetchedPage, []error) {
	t.Helper()
	var (
		pages []*core.FetchedPage
		errs  []error
	)
	for {
		page, err := r.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return pages, errs
		}
		if err != nil {
			require.ErrorIs(t, err, core.ErrInvalidInput)
			errs = append(errs, err)
			continue
		}
		pages = append(pages, page)
	}
}

func TestReader_DecodesAndCountsBadLines(t *testing.T) {
	r := NewReader("sample", strings.NewReader(sample))
	pages, errs := readAll(t, r)

	require.Len(t, pages, 3)
	assert.Equal(t, "https://example.com/a", pages[0].URL)
	assert.Equal(t, "1714557600", pages[0].FetchedAt)
	assert.Equal(t, "v2", pages[1].Meta["crawler"])
	assert.Equal(t, "<p>gamma</p>", pages[2].HTML)

	require.Len(t, errs, 2)
	assert.Contains(t, errs[0].Error(), "sample: line 4")
	assert.Equal(t, 2, r.BadLines())
	assert.Equal(t, 6, r.Lines())
	assert.NoError(t, r.Close())
}

func TestReader_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReader("x", strings.NewReader(sample)).Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_LocalAndGzip(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "pages.jsonl")
	require.NoError(t, os.WriteFile(plain, []byte(sample), 0o644))

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	compressed := filepath.Join(dir, "pages.jsonl.gz")
	require.NoError(t, os.WriteFile(compressed, buf.Bytes(), 0o644))

	for _, path := range []string{plain, compressed} {
		r, err := Open(context.Background(), path)
		require.NoError(t, err, path)
		pages, _ := readAll(t, r)
		assert.Len(t, pages, 3, path)
		assert.NoError(t, r.Close())
	}

	_, err = Open(context.Background(), filepath.Join(dir, "missing.jsonl"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen_Stdin(t *testing.T) {
	r, err := Open(context.Background(), Stdin, WithStdin(strings.NewReader(sample)))
	require.NoError(t, err)
	pages, _ := readAll(t, r)
	assert.Len(t, pages, 3)
}

type fakeS3 struct {
	bucket, key string
	body        string
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(f.body))}, nil
}

func TestOpen_S3(t *testing.T) {
	client := &fakeS3{body: sample}
	r, err := Open(context.Background(), "s3://crawl-bucket/2024/05/pages.jsonl", WithS3Client(client))
	require.NoError(t, err)
	pages, _ := readAll(t, r)
	assert.Len(t, pages, 3)
	assert.Equal(t, "crawl-bucket", client.bucket)
	assert.Equal(t, "2024/05/pages.jsonl", client.key)

	for _, bad := range []string{"s3://", "s3://bucket", "s3://bucket/"} {
		_, err := Open(context.Background(), bad, WithS3Client(client))
		assert.Error(t, err, bad)
	}
}
