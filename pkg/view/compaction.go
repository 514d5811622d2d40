package view

import (
	"sync"

	"github.com/bobboyms/docviewdb/pkg/btree"
	"github.com/bobboyms/docviewdb/pkg/heap"
)

// treeCompactionTarget adapts one of Store's two heap+tree pairs
// (entries or docmap) into compactor.Target (spec §4.8). Both pairs
// use the same self-describing-record layout, so one implementation
// serves either by way of the accessor/installer closures below.
type treeCompactionTarget struct {
	name   string
	mu     *sync.Mutex
	getHeap func() *heap.HeapManager
	install func(*heap.HeapManager, *btree.BPlusTree)
	newTree func() *btree.BPlusTree
	minLSN  uint64
	tree    *btree.BPlusTree
}

func (t *treeCompactionTarget) Name() string { return t.name }

func (t *treeCompactionTarget) Lock()   { t.mu.Lock() }
func (t *treeCompactionTarget) Unlock() { t.mu.Unlock() }

func (t *treeCompactionTarget) Heap() *heap.HeapManager { return t.getHeap() }

func (t *treeCompactionTarget) MinLSN() uint64 { return t.minLSN }

func (t *treeCompactionTarget) Reindex(doc []byte, tombstone bool, newOffset int64) error {
	if t.tree == nil {
		t.tree = t.newTree()
	}
	if tombstone {
		return nil
	}
	key, err := decodeRecordKey(doc)
	if err != nil {
		return err
	}
	return t.tree.Replace(key, newOffset)
}

func (t *treeCompactionTarget) ReplaceHeap(newHeap *heap.HeapManager) {
	t.install(newHeap, t.tree)
}

// EntriesCompactionTarget compacts the entries tree+heap.
func (s *Store) EntriesCompactionTarget(name string, minLSN uint64) *treeCompactionTarget {
	return &treeCompactionTarget{
		name:    name,
		mu:      &s.writeMu,
		getHeap: func() *heap.HeapManager { return s.entriesHeap },
		install: func(h *heap.HeapManager, tr *btree.BPlusTree) {
			s.entriesHeap = h
			if tr != nil {
				s.entries = tr
			}
		},
		newTree: newEntriesTree,
		minLSN:  minLSN,
	}
}

// DocmapCompactionTarget compacts the docmap tree+heap.
func (s *Store) DocmapCompactionTarget(name string, minLSN uint64) *treeCompactionTarget {
	return &treeCompactionTarget{
		name:    name,
		mu:      &s.writeMu,
		getHeap: func() *heap.HeapManager { return s.docmapHeap },
		install: func(h *heap.HeapManager, tr *btree.BPlusTree) {
			s.docmapHeap = h
			if tr != nil {
				s.docmap = tr
			}
		},
		newTree: newDocmapTree,
		minLSN:  minLSN,
	}
}
