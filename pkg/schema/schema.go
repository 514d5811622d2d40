// Package schema declares the static shape of a database: the
// collections it stores documents in and the views computed over
// them (spec §3 "Schema", "View name").
package schema

import (
	"github.com/bobboyms/docviewdb/pkg/errors"
)

// CollectionName identifies a collection within a schema. Collection
// names are unique within a schema and stable across opens — they are
// encoded into on-disk paths (spec §6).
type CollectionName string

// ViewName identifies a view within the collection it indexes.
type ViewName string

// AccessPolicy controls how stale a view's results are allowed to be
// when queried (spec §4.4).
type AccessPolicy int

const (
	// UpdateBefore brings the view fully up to date before returning
	// results. The default.
	UpdateBefore AccessPolicy = iota
	// UpdateAfter returns possibly-stale results immediately and
	// enqueues a background mapper job to catch the view up.
	UpdateAfter
	// NoUpdate returns whatever the view currently holds and starts no
	// background work; some other process is responsible for mapping.
	NoUpdate
)

// View declares one secondary index over a collection's documents: a
// name, the version that invalidates stored map output when bumped,
// and whether its reduce step is available.
type View struct {
	Name          ViewName
	Collection    CollectionName
	Version       uint64
	HasReduce     bool
	DefaultPolicy AccessPolicy
}

// Collection declares one document collection and the views defined
// over it.
type Collection struct {
	Name  CollectionName
	Views []View
}

// Schema is the full set of collections a database stores, keyed by
// name for O(1) lookup during transaction validation.
type Schema struct {
	Name        string
	Version     uint64
	collections map[CollectionName]Collection
}

// New builds a Schema from its collections, rejecting duplicate
// collection or view names.
func New(name string, version uint64, collections []Collection) (*Schema, error) {
	s := &Schema{
		Name:        name,
		Version:     version,
		collections: make(map[CollectionName]Collection, len(collections)),
	}
	seenViews := make(map[ViewName]struct{})

	for _, c := range collections {
		if _, exists := s.collections[c.Name]; exists {
			return nil, errors.Newf(errors.InvalidName, "schema.New", "duplicate collection name %q", c.Name)
		}
		for _, v := range c.Views {
			if _, exists := seenViews[v.Name]; exists {
				return nil, errors.Newf(errors.InvalidName, "schema.New", "duplicate view name %q", v.Name)
			}
			seenViews[v.Name] = struct{}{}
		}
		s.collections[c.Name] = c
	}
	return s, nil
}

// Collection looks up a declared collection by name.
func (s *Schema) Collection(name CollectionName) (Collection, bool) {
	c, ok := s.collections[name]
	return c, ok
}

// Collections returns every declared collection, in no particular
// order.
func (s *Schema) Collections() []Collection {
	out := make([]Collection, 0, len(s.collections))
	for _, c := range s.collections {
		out = append(out, c)
	}
	return out
}

// View looks up a view by name within a specific collection.
func (s *Schema) View(collection CollectionName, view ViewName) (View, bool) {
	c, ok := s.collections[collection]
	if !ok {
		return View{}, false
	}
	for _, v := range c.Views {
		if v.Name == view {
			return v, true
		}
	}
	return View{}, false
}

// ValidateUpgrade reports whether replacing the schema registered for
// a database with next is a legal upgrade: no collection may be
// removed, and no view's version may move backward (a version
// regression would make previously-computed map output look current
// when it is not — spec §9 open question, resolved as a programmer
// error rather than a recoverable one).
func ValidateUpgrade(previous, next *Schema) error {
	for name, prevColl := range previous.collections {
		nextColl, ok := next.collections[name]
		if !ok {
			return errors.Newf(errors.SchemaMismatch, "schema.ValidateUpgrade", "collection %q removed from schema", name)
		}
		prevViews := make(map[ViewName]View, len(prevColl.Views))
		for _, v := range prevColl.Views {
			prevViews[v.Name] = v
		}
		for _, nv := range nextColl.Views {
			if pv, existed := prevViews[nv.Name]; existed && nv.Version < pv.Version {
				return errors.New(errors.Internal, "schema.ValidateUpgrade", nil)
			}
		}
	}
	return nil
}
