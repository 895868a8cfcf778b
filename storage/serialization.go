package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/poiesic/corpus/core"
)

// MarshalID encodes an ID as 8 big-endian bytes so encoded IDs sort numerically.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(id))
	return buf
}

func UnmarshalID(data []byte) (core.ID, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("%w: id has %d bytes", ErrSerializationFailed, len(data))
	}
	return core.ID(binary.BigEndian.Uint64(data)), nil
}

func MarshalDocument(doc *core.Document) ([]byte, error) {
	meta, err := MarshalMeta(doc.Meta)
	if err != nil {
		return nil, err
	}
	rec := documentRecord{
		Id:          doc.Id,
		URL:         doc.URL,
		Title:       doc.Title,
		Lang:        doc.Lang,
		Domain:      doc.Domain,
		FetchedAt:   doc.FetchedAt,
		Status:      doc.Status,
		ContentType: doc.ContentType,
		Text:        doc.Text,
		MetaJSON:    string(meta),
		CreatedAt:   doc.CreatedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
	buf := make([]byte, documentMUS.Size(rec))
	documentMUS.Marshal(rec, buf)
	return buf, nil
}

func UnmarshalDocument(data []byte) (*core.Document, error) {
	rec, n, err := documentMUS.Unmarshal(data)
	if err = checkDecoded("document", data, n, err); err != nil {
		return nil, err
	}
	meta, err := UnmarshalMeta([]byte(rec.MetaJSON))
	if err != nil {
		return nil, err
	}
	return &core.Document{
		Id:          rec.Id,
		URL:         rec.URL,
		Title:       rec.Title,
		Lang:        rec.Lang,
		Domain:      rec.Domain,
		FetchedAt:   rec.FetchedAt,
		Status:      rec.Status,
		ContentType: rec.ContentType,
		Text:        rec.Text,
		Meta:        meta,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}, nil
}

func MarshalChunk(chunk *core.Chunk) ([]byte, error) {
	rec := chunkRecord{
		Id:            chunk.Id,
		DocumentId:    chunk.DocumentId,
		Index:         chunk.Index,
		Content:       chunk.Content,
		Offsets:       chunk.Offsets,
		TokenEstimate: chunk.TokenEstimate,
		ContentHash:   chunk.ContentHash,
		CreatedAt:     chunk.CreatedAt,
		UpdatedAt:     chunk.UpdatedAt,
	}
	buf := make([]byte, chunkMUS.Size(rec))
	chunkMUS.Marshal(rec, buf)
	return buf, nil
}

func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	rec, n, err := chunkMUS.Unmarshal(data)
	if err = checkDecoded("chunk", data, n, err); err != nil {
		return nil, err
	}
	return &core.Chunk{
		Id:            rec.Id,
		DocumentId:    rec.DocumentId,
		Index:         rec.Index,
		Content:       rec.Content,
		Offsets:       rec.Offsets,
		TokenEstimate: rec.TokenEstimate,
		ContentHash:   rec.ContentHash,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}, nil
}

func checkDecoded(kind string, data []byte, n int, err error) error {
	if err != nil {
		return fmt.Errorf("%w: decoding %s: %w", ErrSerializationFailed, kind, err)
	}
	if n != len(data) {
		return fmt.Errorf("%w: %s record has %d trailing bytes", ErrSerializationFailed, kind, len(data)-n)
	}
	return nil
}

// MarshalMeta encodes a metadata blob. Empty metadata encodes as nil.
func MarshalMeta(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return data, nil
}

// UnmarshalMeta decodes a metadata blob. Empty input and JSON null decode as nil.
func UnmarshalMeta(data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
