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


// Package chunking splits normalized document text into ordered, overlapping
// chunk candidates with code-point offsets.
//
// The default Chunker slides a window of at most MaxChunkChars over the text,
// cutting at the most preferred separator found near the end of the window and
// falling back to a hard cut when none is found. Consecutive chunks overlap by
// OverlapChars so that retrieval keeps context across boundaries. A trailing
// fragment shorter than MinChunkChars is merged into the previous chunk.
//
// Splitting is deterministic: the same text and Config always produce the same
// candidates, which is what lets re-ingestion of unchanged text skip writes.
package chunking
