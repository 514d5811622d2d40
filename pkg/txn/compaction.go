package txn

import (
	"github.com/bobboyms/docviewdb/pkg/btree"
	"github.com/bobboyms/docviewdb/pkg/heap"
	"github.com/bobboyms/docviewdb/pkg/types"
)

// CompactionTarget adapts a CollectionStore into compactor.Target
// (spec §4.8): compaction rebuilds the id-keyed tree from the
// rewritten heap the same way OpenCollection rebuilds it from the
// heap on process start.
type CompactionTarget struct {
	name   string
	cs     *CollectionStore
	minLSN uint64
	tree   *btree.BPlusTree
}

// CompactionTarget returns a Target compacting this collection's
// heap, dropping tombstones deleted before minLSN.
func (cs *CollectionStore) CompactionTarget(name string, minLSN uint64) *CompactionTarget {
	return &CompactionTarget{name: name, cs: cs, minLSN: minLSN}
}

func (t *CompactionTarget) Name() string { return t.name }

func (t *CompactionTarget) Lock()   { t.cs.writeMu.Lock() }
func (t *CompactionTarget) Unlock() { t.cs.writeMu.Unlock() }

func (t *CompactionTarget) Heap() *heap.HeapManager { return t.cs.heap }

func (t *CompactionTarget) MinLSN() uint64 { return t.minLSN }

func (t *CompactionTarget) Reindex(doc []byte, tombstone bool, newOffset int64) error {
	if t.tree == nil {
		t.tree = btree.NewUniqueTree(collectionTreeOrder)
	}
	if tombstone {
		return nil
	}
	h, _, err := decodeRecord(doc)
	if err != nil {
		return err
	}
	return t.tree.Replace(types.Uint64Key(h.ID), newOffset)
}

func (t *CompactionTarget) ReplaceHeap(newHeap *heap.HeapManager) {
	t.cs.heap = newHeap
	if t.tree != nil {
		t.cs.tree = t.tree
	}
}
