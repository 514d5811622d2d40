// Package txn implements the per-collection document store (spec
// §4.2) and the transaction engine that applies multi-operation
// transactions against it atomically (spec §4.3).
package txn

import "crypto/sha256"

// Revision is a document's optimistic-concurrency stamp: a strictly
// increasing counter plus a content hash, so two writers racing on
// the same document can only have one of them win (spec §4.2
// "Revision is {1, sha256(bytes)}").
type Revision struct {
	Count  uint32
	SHA256 [32]byte
}

func newRevision(count uint32, contents []byte) Revision {
	return Revision{Count: count, SHA256: sha256.Sum256(contents)}
}

// Equal reports whether two revisions match exactly, the check every
// update/delete performs against the caller-supplied Header.
func (r Revision) Equal(other Revision) bool {
	return r.Count == other.Count && r.SHA256 == other.SHA256
}

// Header identifies one document and its current revision; it is
// what insert/update/delete exchange instead of raw document bytes.
type Header struct {
	ID       uint64
	Revision Revision
}

// Document is a header paired with its stored contents, as returned
// by Get/GetMultiple/List.
type Document struct {
	Header   Header
	Contents []byte
}
