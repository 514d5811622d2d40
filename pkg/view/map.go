// Package view implements the engine's secondary-index machinery: the
// map phase that turns documents into emitted (key, value) pairs, the
// entries/docmap persistence that backs queries, reduce, the
// integrity scanner, and the background mapper job (spec §4.4-§4.6).
package view

import (
	"github.com/bobboyms/docviewdb/pkg/types"
)

// Mapped is one (key, value) pair a MapFunc emits for a document. A
// single document may emit zero, one, or many pairs.
type Mapped struct {
	Key   types.Comparable
	Value []byte
}

// MapFunc computes the emitted pairs for one document's current
// contents. It must be pure: the same (documentID, contents) always
// produces the same emissions, since the mapper only re-runs it when
// a document changes.
type MapFunc func(documentID uint64, contents []byte) ([]Mapped, error)

// ReduceFunc folds a set of mapped values for one key (or folds
// already-reduced values, when rereduce is true) into a single value.
type ReduceFunc func(mappings []Mapped, rereduce bool) ([]byte, error)

// Definition is everything the view engine needs to maintain one view:
// its identity, its map function, and an optional reduce.
type Definition struct {
	Name       string
	Collection string
	Version    uint64
	Map        MapFunc
	Reduce     ReduceFunc
}
