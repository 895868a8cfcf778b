// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package fingerprint computes stable content hashes for chunk text.
//
// Digests are hex encoded and depend only on the UTF-8 bytes of the content,
// so they are identical across processes, restarts and platforms.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/go-crypt/x/blake2b"
)

const (
	Blake2b256 = "blake2b-256"
	XXHash64   = "xxhash64"
	MD5        = "md5"

	Default = Blake2b256
)

// ErrUnknownAlgorithm indicates an unsupported fingerprint algorithm name.
var ErrUnknownAlgorithm = errors.New("unknown fingerprint algorithm")

// Fingerprinter hashes chunk content.
type Fingerprinter interface {
	// Algorithm returns the name the fingerprinter was selected by.
	Algorithm() string
	// Sum returns the hex digest of content.
	Sum(content string) string
}

// New returns the fingerprinter for the named algorithm.
// An empty name selects Default.
func New(name string) (Fingerprinter, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", Blake2b256, "blake2b":
		return blake2bFingerprinter{}, nil
	case XXHash64, "xxhash":
		return xxhashFingerprinter{}, nil
	case MD5:
		return md5Fingerprinter{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

type blake2bFingerprinter struct{}

func (blake2bFingerprinter) Algorithm() string { return Blake2b256 }

func (blake2bFingerprinter) Sum(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

type xxhashFingerprinter struct{}

func (xxhashFingerprinter) Algorithm() string { return XXHash64 }

func (xxhashFingerprinter) Sum(content string) string {
	s := strconv.FormatUint(xxhash.Sum64String(content), 16)
	// Fixed width so every digest has the same length.
	return strings.Repeat("0", 16-len(s)) + s
}

// md5Fingerprinter matches the content_md5 column written by the legacy importer.
type md5Fingerprinter struct{}

func (md5Fingerprinter) Algorithm() string { return MD5 }

func (md5Fingerprinter) Sum(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
