// Package normalize maps raw fetched-page records onto canonical documents.
//
// Normalization is pure: it performs no I/O, computes no hashes and does not
// chunk. Records that cannot be normalized are rejected with an error wrapping
// core.ErrInvalidInput before anything reaches the store.
package normalize
