package storage

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/corpus/core"
)

// MUS serializers for the key-value record formats. Fields are written in
// declaration order; times travel as varint Unix microseconds and meta as
// its JSON encoding.

type documentRecord struct {
	Id          core.ID
	URL         string
	Title       string
	Lang        string
	Domain      string
	FetchedAt   *time.Time
	Status      int
	ContentType string
	Text        string
	MetaJSON    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type chunkRecord struct {
	Id            core.ID
	DocumentId    core.ID
	Index         int
	Content       string
	Offsets       *core.Span
	TokenEstimate int
	ContentHash   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	documentMUS = documentSerializer{}
	chunkMUS    = chunkSerializer{}
)

type documentSerializer struct{}

func (documentSerializer) Size(v documentRecord) int {
	var s musSizer
	s.id(v.Id)
	s.str(v.URL)
	s.str(v.Title)
	s.str(v.Lang)
	s.str(v.Domain)
	s.optTime(v.FetchedAt)
	s.int(v.Status)
	s.str(v.ContentType)
	s.str(v.Text)
	s.str(v.MetaJSON)
	s.time(v.CreatedAt)
	s.time(v.UpdatedAt)
	return s.n
}

func (documentSerializer) Marshal(v documentRecord, bs []byte) int {
	w := musWriter{bs: bs}
	w.id(v.Id)
	w.str(v.URL)
	w.str(v.Title)
	w.str(v.Lang)
	w.str(v.Domain)
	w.optTime(v.FetchedAt)
	w.int(v.Status)
	w.str(v.ContentType)
	w.str(v.Text)
	w.str(v.MetaJSON)
	w.time(v.CreatedAt)
	w.time(v.UpdatedAt)
	return w.n
}

func (documentSerializer) Unmarshal(bs []byte) (v documentRecord, n int, err error) {
	r := musReader{bs: bs}
	v.Id = r.id()
	v.URL = r.str()
	v.Title = r.str()
	v.Lang = r.str()
	v.Domain = r.str()
	v.FetchedAt = r.optTime()
	v.Status = r.int()
	v.ContentType = r.str()
	v.Text = r.str()
	v.MetaJSON = r.str()
	v.CreatedAt = r.time()
	v.UpdatedAt = r.time()
	return v, r.n, r.err
}

type chunkSerializer struct{}

func (chunkSerializer) Size(v chunkRecord) int {
	var s musSizer
	s.id(v.Id)
	s.id(v.DocumentId)
	s.int(v.Index)
	s.str(v.Content)
	s.span(v.Offsets)
	s.int(v.TokenEstimate)
	s.str(v.ContentHash)
	s.time(v.CreatedAt)
	s.time(v.UpdatedAt)
	return s.n
}

func (chunkSerializer) Marshal(v chunkRecord, bs []byte) int {
	w := musWriter{bs: bs}
	w.id(v.Id)
	w.id(v.DocumentId)
	w.int(v.Index)
	w.str(v.Content)
	w.span(v.Offsets)
	w.int(v.TokenEstimate)
	w.str(v.ContentHash)
	w.time(v.CreatedAt)
	w.time(v.UpdatedAt)
	return w.n
}

func (chunkSerializer) Unmarshal(bs []byte) (v chunkRecord, n int, err error) {
	r := musReader{bs: bs}
	v.Id = r.id()
	v.DocumentId = r.id()
	v.Index = r.int()
	v.Content = r.str()
	v.Offsets = r.span()
	v.TokenEstimate = r.int()
	v.ContentHash = r.str()
	v.CreatedAt = r.time()
	v.UpdatedAt = r.time()
	return v, r.n, r.err
}

type musSizer struct{ n int }

func (s *musSizer) id(v core.ID) { s.n += varint.Uint64.Size(uint64(v)) }
func (s *musSizer) int(v int) { s.n += varint.Int64.Size(int64(v)) }
func (s *musSizer) str(v string) { s.n += ord.String.Size(v) }
func (s *musSizer) time(v time.Time) { s.n += varint.Int64.Size(v.UnixMicro()) }

func (s *musSizer) optTime(v *time.Time) {
	s.n += ord.Bool.Size(v != nil)
	if v != nil {
		s.time(*v)
	}
}

func (s *musSizer) span(v *core.Span) {
	s.n += ord.Bool.Size(v != nil)
	if v != nil {
		s.int(v.Start)
		s.int(v.End)
	}
}

type musWriter struct {
	bs []byte
	n  int
}

func (w *musWriter) id(v core.ID) { w.n += varint.Uint64.Marshal(uint64(v), w.bs[w.n:]) }
func (w *musWriter) int(v int) { w.n += varint.Int64.Marshal(int64(v), w.bs[w.n:]) }
func (w *musWriter) str(v string) { w.n += ord.String.Marshal(v, w.bs[w.n:]) }
func (w *musWriter) time(v time.Time) { w.n += varint.Int64.Marshal(v.UnixMicro(), w.bs[w.n:]) }

func (w *musWriter) optTime(v *time.Time) {
	w.n += ord.Bool.Marshal(v != nil, w.bs[w.n:])
	if v != nil {
		w.time(*v)
	}
}

func (w *musWriter) span(v *core.Span) {
	w.n += ord.Bool.Marshal(v != nil, w.bs[w.n:])
	if v != nil {
		w.int(v.Start)
		w.int(v.End)
	}
}

// musReader stops at the first error; later reads return zero values.
type musReader struct {
	bs  []byte
	n   int
	err error
}

func (r *musReader) id() core.ID {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return core.ID(v)
}

func (r *musReader) int64() int64 {
	if r.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) int() int {
	return int(r.int64())
}

func (r *musReader) str() string {
	if r.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) flag() bool {
	if r.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(r.bs[r.n:])
	r.n += n
	r.err = err
	return v
}

func (r *musReader) time() time.Time {
	micros := r.int64()
	if r.err != nil {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

func (r *musReader) optTime() *time.Time {
	if !r.flag() {
		return nil
	}
	t := r.time()
	return &t
}

func (r *musReader) span() *core.Span {
	if !r.flag() {
		return nil
	}
	return &core.Span{Start: r.int(), End: r.int()}
}
