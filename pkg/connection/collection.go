package connection

import (
	"github.com/bobboyms/docviewdb/pkg/keyrange"
	"github.com/bobboyms/docviewdb/pkg/schema"
	"github.com/bobboyms/docviewdb/pkg/storage"
	"github.com/bobboyms/docviewdb/pkg/txn"
)

// CollectionHandle routes single-collection operations straight to
// the transaction engine, autocommitting each one as its own
// single-operation transaction (spec §4.9). Callers needing several
// operations to commit atomically together should use
// Connection.Transaction/Apply instead.
type CollectionHandle struct {
	name string
	db   *storage.Database
}

// Push inserts contents with an auto-assigned id.
func (h *CollectionHandle) Push(contents []byte) (txn.Header, error) {
	return h.apply(txn.Insert(nil, contents))
}

// Insert inserts contents under an explicit id, failing AlreadyExists
// if that id is already taken.
func (h *CollectionHandle) Insert(id uint64, contents []byte) (txn.Header, error) {
	return h.apply(txn.Insert(&id, contents))
}

// Update replaces a document's contents, failing Conflict if header's
// revision no longer matches what's stored.
func (h *CollectionHandle) Update(header txn.Header, contents []byte) (txn.Header, error) {
	return h.apply(txn.Update(header, contents))
}

// Delete removes a document, failing Conflict if header's revision no
// longer matches what's stored.
func (h *CollectionHandle) Delete(header txn.Header) error {
	_, err := h.apply(txn.Delete(header))
	return err
}

func (h *CollectionHandle) apply(cmd txn.Command) (txn.Header, error) {
	results, err := h.db.Engine.Apply(txn.New().Push(h.name, cmd))
	if err != nil {
		return txn.Header{}, err
	}
	return results[0].Header, nil
}

// Get looks up one document by id.
func (h *CollectionHandle) Get(id uint64) (txn.Document, bool, error) {
	cs, err := h.db.Collection(schema.CollectionName(h.name))
	if err != nil {
		return txn.Document{}, false, err
	}
	return cs.Get(id)
}

// GetMultiple returns every document found among ids, silently
// skipping ids that do not exist.
func (h *CollectionHandle) GetMultiple(ids []uint64) ([]txn.Document, error) {
	cs, err := h.db.Collection(schema.CollectionName(h.name))
	if err != nil {
		return nil, err
	}
	return cs.GetMultiple(ids)
}

// List scans the collection in id order, optionally restricted to r
// (nil means unbounded).
func (h *CollectionHandle) List(r *keyrange.Range, descending bool, limit int) ([]txn.Document, error) {
	cs, err := h.db.Collection(schema.CollectionName(h.name))
	if err != nil {
		return nil, err
	}
	return cs.List(r, descending, limit)
}
