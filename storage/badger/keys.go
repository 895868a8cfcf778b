package badger

import (
	"encoding/binary"

	"github.com/poiesic/corpus/core"
)

// Key layout. Integers are big-endian so byte order is numeric order.
//
//	doc:<id u64>                          document record
//	docurl:<url>                          document id by url
//	chunk:<doc u64><index u32>            chunk record
//	chunkhash:<hash>:<doc u64><index u32> empty marker for hash lookup
const (
	documentPrefix    = "doc:"
	documentURLPrefix = "docurl:"
	chunkPrefix       = "chunk:"
	chunkHashPrefix   = "chunkhash:"
	documentIDSeq     = "docseq"
	chunkIDSeq        = "chunkseq"
)

const positionLen = 12

func appendPosition(key []byte, docID core.ID, index int) []byte {
	key = binary.BigEndian.AppendUint64(key, uint64(docID))
	return binary.BigEndian.AppendUint32(key, uint32(index))
}

func makeDocumentKey(id core.ID) []byte {
	return binary.BigEndian.AppendUint64([]byte(documentPrefix), uint64(id))
}

func documentIDFromKey(key []byte) core.ID {
	return core.ID(binary.BigEndian.Uint64(key[len(documentPrefix):]))
}

func makeDocumentURLKey(url string) []byte {
	return []byte(documentURLPrefix + url)
}

// makePartialChunkKey is the iteration prefix for every chunk of docID.
func makePartialChunkKey(docID core.ID) []byte {
	return binary.BigEndian.AppendUint64([]byte(chunkPrefix), uint64(docID))
}

func makeChunkKey(docID core.ID, index int) []byte {
	key := make([]byte, 0, len(chunkPrefix)+positionLen)
	return appendPosition(append(key, chunkPrefix...), docID, index)
}

func makePartialChunkHashKey(hash string) []byte {
	return []byte(chunkHashPrefix + hash + ":")
}

func makeChunkHashKey(hash string, docID core.ID, index int) []byte {
	return appendPosition(makePartialChunkHashKey(hash), docID, index)
}

func chunkPositionFromHashKey(key []byte) (core.ID, int) {
	pos := key[len(key)-positionLen:]
	return core.ID(binary.BigEndian.Uint64(pos)), int(binary.BigEndian.Uint32(pos[8:]))
}
