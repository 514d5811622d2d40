package view

import (
	"io"
	"path/filepath"
	"sync"

	"github.com/bobboyms/docviewdb/pkg/btree"
	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/heap"
	"github.com/bobboyms/docviewdb/pkg/keyrange"
	"github.com/bobboyms/docviewdb/pkg/types"
)

// Store persists one view's computed index: the entries tree (emitted
// key -> list of (documentID, value) tuples) and the docmap (documentID
// -> list of keys that document currently has entries under, so a
// re-map or delete knows exactly what to retract).
//
// Both trees are purely in-memory, same as the document store's
// index (spec §4.2's heap has no index of its own). Unlike the
// document store, which recovers via the transaction log, a view's
// heap records are self-describing: each one carries its own tree key
// alongside the payload, so Open can rebuild both trees by iterating
// the heaps directly, without needing a log replay.
type Store struct {
	// writeMu serializes Put/Delete against a concurrent compaction
	// pass rewriting either heap (compactor.Target.Lock/Unlock).
	writeMu sync.Mutex

	entries     *btree.BPlusTree
	entriesHeap *heap.HeapManager

	docmap     *btree.BPlusTree
	docmapHeap *heap.HeapManager
}

const btreeOrder = 64

// newEntriesTree builds an empty entries tree. Not unique: several
// documents may emit the same key (spec §4.4).
func newEntriesTree() *btree.BPlusTree { return btree.NewTree(btreeOrder) }

// newDocmapTree builds an empty docmap tree. Unique: one record per
// document id.
func newDocmapTree() *btree.BPlusTree { return btree.NewUniqueTree(btreeOrder) }

// Open opens (creating if absent) the entries and docmap heaps under
// dir and rebuilds both in-memory trees from their contents.
func Open(dir string) (*Store, error) {
	entriesHeap, err := heap.NewHeapManager(filepath.Join(dir, "entries"))
	if err != nil {
		return nil, errors.Wrap(errors.Io, "view.Open", "open entries heap", err)
	}
	docmapHeap, err := heap.NewHeapManager(filepath.Join(dir, "docmap"))
	if err != nil {
		return nil, errors.Wrap(errors.Io, "view.Open", "open docmap heap", err)
	}

	s := &Store{
		entries:     newEntriesTree(),
		entriesHeap: entriesHeap,
		docmap:      newDocmapTree(),
		docmapHeap:  docmapHeap,
	}

	if err := rebuildTree(s.entries, entriesHeap, decodeRecordKey); err != nil {
		return nil, errors.Wrap(errors.Internal, "view.Open", "rebuild entries tree", err)
	}
	if err := rebuildTree(s.docmap, docmapHeap, decodeRecordKey); err != nil {
		return nil, errors.Wrap(errors.Internal, "view.Open", "rebuild docmap tree", err)
	}
	return s, nil
}

// encodeSelfDescribing is what every heap record in this package
// stores: the tree key the record belongs under, followed by the
// caller's payload. Storing the key alongside the value is what lets
// rebuildTree reconstruct the index from heap contents alone.
func encodeSelfDescribing(key []byte, payload []byte) []byte {
	buf := appendBytes(nil, key)
	return append(buf, payload...)
}

func decodeSelfDescribing(data []byte) (key []byte, payload []byte, err error) {
	key, rest, err := readBytes(data)
	if err != nil {
		return nil, nil, err
	}
	return key, rest, nil
}

func decodeRecordKey(data []byte) (types.Comparable, error) {
	key, _, err := decodeSelfDescribing(data)
	if err != nil {
		return nil, err
	}
	return types.BytesKey(key), nil
}

// rebuildTree iterates every live record in hm and upserts it into
// tree, latest offset wins. Deleted records (RecordHeader.Valid ==
// false) are skipped, mirroring how the heap iterator already reports
// tombstones for the document store's own recovery path.
func rebuildTree(tree *btree.BPlusTree, hm *heap.HeapManager, keyOf func([]byte) (types.Comparable, error)) error {
	it, err := hm.NewIterator()
	if err != nil {
		// No segments at all (a corrupt or foreign directory); nothing
		// to rebuild from.
		return nil
	}
	defer it.Close()

	for {
		doc, header, offset, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !header.Valid {
			continue
		}
		key, err := keyOf(doc)
		if err != nil {
			return err
		}
		if err := tree.Replace(key, offset); err != nil {
			return err
		}
	}
}

func readTuple(tree *btree.BPlusTree, hm *heap.HeapManager, key types.Comparable) ([]byte, bool, error) {
	offset, found := tree.Get(key)
	if !found {
		return nil, false, nil
	}
	raw, _, err := hm.Read(offset)
	if err != nil {
		return nil, false, err
	}
	_, payload, err := decodeSelfDescribing(raw)
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func writeTuple(tree *btree.BPlusTree, hm *heap.HeapManager, key types.Comparable, keyBytes []byte, payload []byte, lsn uint64) error {
	return tree.Upsert(key, func(prevOffset int64, exists bool) (int64, error) {
		if !exists {
			prevOffset = -1
		}
		record := encodeSelfDescribing(keyBytes, payload)
		offset, err := hm.Write(record, lsn, prevOffset)
		if err != nil {
			return 0, err
		}
		return offset, nil
	})
}

// Put applies one document's fresh emissions: it looks up what keys
// the document previously emitted (via the docmap), retracts this
// document's tuple from any key it no longer emits to, and writes the
// new tuples. lsn is the owning transaction's log sequence number,
// threaded through so the heap's MVCC chain lines up with the rest of
// the engine's storage.
func (s *Store) Put(documentID uint64, mapped []Mapped, lsn uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	docKey := types.Uint64Key(documentID)
	docKeyBytes := appendUint64(nil, documentID)

	previous, err := s.previousKeys(docKey)
	if err != nil {
		return err
	}

	encodedKeys := make([][]byte, len(mapped))
	stillEmitted := make(map[string]bool, len(mapped))
	for i, m := range mapped {
		encoded, err := keyrange.Encode(m.Key)
		if err != nil {
			return err
		}
		encodedKeys[i] = encoded
		stillEmitted[string(encoded)] = true
	}

	for _, old := range previous {
		if !stillEmitted[string(old)] {
			if err := s.retract(documentID, old, lsn); err != nil {
				return err
			}
		}
	}

	for i, m := range mapped {
		if err := s.upsertEntry(documentID, encodedKeys[i], m.Value, lsn); err != nil {
			return err
		}
	}

	return writeTuple(s.docmap, s.docmapHeap, docKey, docKeyBytes, encodeKeyList(encodedKeys), lsn)
}

// Delete retracts every entry documentID currently owns and removes
// its docmap record.
func (s *Store) Delete(documentID uint64, lsn uint64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	docKey := types.Uint64Key(documentID)

	previous, err := s.previousKeys(docKey)
	if err != nil {
		return err
	}
	for _, old := range previous {
		if err := s.retract(documentID, old, lsn); err != nil {
			return err
		}
	}

	if offset, found := s.docmap.Get(docKey); found {
		if err := s.docmapHeap.Delete(offset, lsn); err != nil {
			return err
		}
	}
	s.docmap.Remove(docKey)
	return nil
}

func (s *Store) previousKeys(docKey types.Comparable) ([][]byte, error) {
	payload, found, err := readTuple(s.docmap, s.docmapHeap, docKey)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return decodeKeyList(payload)
}

// retract removes documentID's tuple from the entry list stored under
// encodedKey, rewriting the list (or tombstoning the heap record and
// dropping the tree key outright if the document was the only
// emitter). The tombstone matters even though the tree entry is
// already gone: Open rebuilds the tree by replaying every *valid*
// heap record, so a left-behind valid record would resurrect the
// retracted entry on the next restart.
func (s *Store) retract(documentID uint64, encodedKey []byte, lsn uint64) error {
	treeKey := types.BytesKey(encodedKey)
	offset, found := s.entries.Get(treeKey)
	if !found {
		return nil
	}
	raw, _, err := s.entriesHeap.Read(offset)
	if err != nil {
		return err
	}
	_, payload, err := decodeSelfDescribing(raw)
	if err != nil {
		return err
	}
	tuples, err := decodeEntryList(payload)
	if err != nil {
		return err
	}
	kept := tuples[:0]
	for _, t := range tuples {
		if t.DocumentID != documentID {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		if err := s.entriesHeap.Delete(offset, lsn); err != nil {
			return err
		}
		s.entries.Remove(treeKey)
		return nil
	}
	return writeTuple(s.entries, s.entriesHeap, treeKey, encodedKey, encodeEntryList(kept), lsn)
}

func (s *Store) upsertEntry(documentID uint64, encodedKey []byte, value []byte, lsn uint64) error {
	treeKey := types.BytesKey(encodedKey)
	payload, found, err := readTuple(s.entries, s.entriesHeap, treeKey)
	if err != nil {
		return err
	}
	var tuples []entryTuple
	if found {
		tuples, err = decodeEntryList(payload)
		if err != nil {
			return err
		}
	}
	replaced := false
	for i, t := range tuples {
		if t.DocumentID == documentID {
			tuples[i].Value = value
			replaced = true
			break
		}
	}
	if !replaced {
		tuples = append(tuples, entryTuple{DocumentID: documentID, Value: value})
	}
	return writeTuple(s.entries, s.entriesHeap, treeKey, encodedKey, encodeEntryList(tuples), lsn)
}

// Entries returns every (documentID, value) tuple currently stored
// under encodedKey, for exact-key lookups during a query.
func (s *Store) Entries(encodedKey []byte) ([]entryTuple, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	payload, found, err := readTuple(s.entries, s.entriesHeap, types.BytesKey(encodedKey))
	if err != nil || !found {
		return nil, err
	}
	return decodeEntryList(payload)
}

// Close releases the underlying heap file handles.
func (s *Store) Close() error {
	err1 := s.entriesHeap.Close()
	err2 := s.docmapHeap.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
