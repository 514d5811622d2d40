package txn

import (
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bobboyms/docviewdb/pkg/btree"
	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/heap"
	"github.com/bobboyms/docviewdb/pkg/keyrange"
	"github.com/bobboyms/docviewdb/pkg/types"
)

const collectionTreeOrder = 64

// CollectionStore is one collection's document tree: a unique
// id-keyed index over an append-only heap, rebuilt from the heap on
// open the same way pkg/view's entries/docmap trees are (spec §4.2).
type CollectionStore struct {
	tree   *btree.BPlusTree
	heap   *heap.HeapManager
	nextID atomic.Uint64

	// writeMu is the lock Engine.Apply acquires (in deterministic,
	// sorted-by-name order across collections) for the duration of a
	// transaction's validate-stage-commit sequence (spec §4.3 step 1).
	writeMu sync.Mutex
}

// OpenCollection opens (creating if absent) the heap backing a
// collection and rebuilds its in-memory tree from it.
func OpenCollection(dir, name string) (*CollectionStore, error) {
	hm, err := heap.NewHeapManager(filepath.Join(dir, name))
	if err != nil {
		return nil, errors.Wrap(errors.Io, "txn.OpenCollection", "open heap", err)
	}

	cs := &CollectionStore{tree: btree.NewUniqueTree(collectionTreeOrder), heap: hm}
	if err := cs.rebuild(); err != nil {
		return nil, errors.Wrap(errors.Internal, "txn.OpenCollection", "rebuild tree", err)
	}
	return cs, nil
}

func (cs *CollectionStore) rebuild() error {
	it, err := cs.heap.NewIterator()
	if err != nil {
		return nil
	}
	defer it.Close()

	var maxID uint64
	for {
		doc, header, offset, err := it.Next()
		if err == io.EOF {
			cs.nextID.Store(maxID + 1)
			return nil
		}
		if err != nil {
			return err
		}
		if !header.Valid {
			continue
		}
		h, _, err := decodeRecord(doc)
		if err != nil {
			return err
		}
		if h.ID > maxID {
			maxID = h.ID
		}
		if err := cs.tree.Replace(types.Uint64Key(h.ID), offset); err != nil {
			return err
		}
	}
}

// peekID returns the id an id-less insert would receive, without
// consuming it. The caller must hold whatever lock serializes writes
// to this collection for the duration between peekID and the matching
// commitInsert, so the id is not handed out twice.
func (cs *CollectionStore) peekID() uint64 {
	return cs.nextID.Load()
}

func (cs *CollectionStore) get(id uint64) (Document, bool, error) {
	offset, found := cs.tree.Get(types.Uint64Key(id))
	if !found {
		return Document{}, false, nil
	}
	raw, _, err := cs.heap.Read(offset)
	if err != nil {
		return Document{}, false, err
	}
	h, contents, err := decodeRecord(raw)
	if err != nil {
		return Document{}, false, err
	}
	return Document{Header: h, Contents: contents}, true, nil
}

// Get looks up one document by id.
func (cs *CollectionStore) Get(id uint64) (Document, bool, error) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()
	return cs.get(id)
}

// GetMultiple returns every document found among ids; missing ids are
// silently skipped (spec §4.2).
func (cs *CollectionStore) GetMultiple(ids []uint64) ([]Document, error) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		doc, found, err := cs.get(id)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, doc)
		}
	}
	return out, nil
}

// List scans the collection in id order, optionally restricted to r
// (nil means unbounded), sorted and limited as requested.
func (cs *CollectionStore) List(r *keyrange.Range, descending bool, limit int) ([]Document, error) {
	cs.writeMu.Lock()
	defer cs.writeMu.Unlock()

	var out []Document

	// FindLeafLowerBound returns its leaf already RLock'd; each
	// iteration locks the next leaf before releasing the current one so
	// the chain is never walked through an unlocked node.
	leaf, _ := cs.tree.FindLeafLowerBound(types.Uint64Key(0))
	for leaf != nil {
		keys := append([]types.Comparable(nil), leaf.Keys[:leaf.N]...)
		ptrs := append([]int64(nil), leaf.DataPtrs[:leaf.N]...)
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()

		for i, key := range keys {
			id := uint64(key.(types.Uint64Key))
			if r != nil && !r.Matches(keyrange.EncodeUint64(id)) {
				continue
			}
			raw, _, err := cs.heap.Read(ptrs[i])
			if err != nil {
				return nil, err
			}
			h, contents, err := decodeRecord(raw)
			if err != nil {
				return nil, err
			}
			out = append(out, Document{Header: h, Contents: contents})
		}
		leaf = next
	}

	if descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// planInsert validates an insert and returns the header it would
// produce, without writing anything yet. If id is nil, the next
// sequential id is reserved (peeked, not consumed).
func (cs *CollectionStore) planInsert(id *uint64, contents []byte) (Header, error) {
	var docID uint64
	if id == nil {
		docID = cs.peekID()
	} else {
		docID = *id
		if _, found := cs.tree.Get(types.Uint64Key(docID)); found {
			return Header{}, errors.Newf(errors.AlreadyExists, "txn.Insert", "document %d already exists", docID)
		}
	}
	return Header{ID: docID, Revision: newRevision(1, contents)}, nil
}

// commitInsert writes a previously-planned insert's heap record and
// tree pointer, and advances the id counter if this insert consumed
// the auto-assigned next id.
func (cs *CollectionStore) commitInsert(h Header, contents []byte, lsn uint64) error {
	offset, err := cs.heap.Write(encodeRecord(h, contents), lsn, -1)
	if err != nil {
		return err
	}
	if err := cs.tree.Insert(types.Uint64Key(h.ID), offset); err != nil {
		return err
	}
	if h.ID >= cs.nextID.Load() {
		cs.nextID.Store(h.ID + 1)
	}
	return nil
}

// planUpdate validates an update against the stored revision and
// returns the new header it would produce.
func (cs *CollectionStore) planUpdate(header Header, contents []byte) (Header, int64, error) {
	offset, found := cs.tree.Get(types.Uint64Key(header.ID))
	if !found {
		return Header{}, 0, errors.Newf(errors.NotFound, "txn.Update", "document %d not found", header.ID)
	}
	raw, _, err := cs.heap.Read(offset)
	if err != nil {
		return Header{}, 0, err
	}
	stored, _, err := decodeRecord(raw)
	if err != nil {
		return Header{}, 0, err
	}
	if !stored.Revision.Equal(header.Revision) {
		return Header{}, 0, errors.Newf(errors.Conflict, "txn.Update", "revision mismatch for document %d", header.ID)
	}
	next := Header{ID: header.ID, Revision: newRevision(stored.Revision.Count+1, contents)}
	return next, offset, nil
}

func (cs *CollectionStore) commitUpdate(h Header, contents []byte, prevOffset int64, lsn uint64) error {
	offset, err := cs.heap.Write(encodeRecord(h, contents), lsn, prevOffset)
	if err != nil {
		return err
	}
	return cs.tree.Replace(types.Uint64Key(h.ID), offset)
}

// planDelete validates a delete against the stored revision.
func (cs *CollectionStore) planDelete(header Header) (int64, error) {
	offset, found := cs.tree.Get(types.Uint64Key(header.ID))
	if !found {
		return 0, errors.Newf(errors.NotFound, "txn.Delete", "document %d not found", header.ID)
	}
	raw, _, err := cs.heap.Read(offset)
	if err != nil {
		return 0, err
	}
	stored, _, err := decodeRecord(raw)
	if err != nil {
		return 0, err
	}
	if !stored.Revision.Equal(header.Revision) {
		return 0, errors.Newf(errors.Conflict, "txn.Delete", "revision mismatch for document %d", header.ID)
	}
	return offset, nil
}

func (cs *CollectionStore) commitDelete(id uint64, offset int64, lsn uint64) error {
	if err := cs.heap.Delete(offset, lsn); err != nil {
		return err
	}
	cs.tree.Remove(types.Uint64Key(id))
	return nil
}

// Close releases the collection's heap file handle.
func (cs *CollectionStore) Close() error {
	return cs.heap.Close()
}
