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


// Package storage defines where documents and chunks live.
//
// DocumentRepository is the read surface plus WithTransaction, the only way to
// write. Inside the callback a Tx sees its own pending writes; an error from
// the callback or a done context throws all of them away. storage/badger and
// storage/sqlstore implement it, and storage/storagetest holds the suite both
// must pass.
//
// Backends keep three rules on the write path itself: one document per URL,
// one chunk per document and index, and no chunks outliving their document.
//
// Engine errors come back as this package's sentinels. Match them with
// errors.Is: ErrConflict means rerun the unit of work, ErrUnavailable means the
// engine is down or closed, ErrIntegrity means a bug wrote something it
// should not have. Repositories are safe for concurrent use.
package storage
