// Package compactor implements the engine's space-reclamation pass
// (spec §4.8): rewrite a heap file, dropping tombstones no longer
// visible to any active transaction, and repoint the owning index at
// the rewritten offsets. Grounded on the teacher's own
// StorageEngine.Vacuum (temp-heap rewrite, glob-rename segment swap,
// reopen) and original_source's tasks/compactor.rs (Target enum
// distinguishing collection/database/key-value scope, each scope
// fanning out into one job per underlying tree).
package compactor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/heap"
)

// Target is one heap-backed index a compaction pass can rewrite.
// Implementations (txn.CompactionTarget, and the entries/docmap targets
// returned by view.Store) hold the actual btree and know how to rebuild
// it from decoded records.
type Target interface {
	// Name identifies the target for logging and job keys.
	Name() string
	// Lock excludes concurrent writers for the duration of the
	// compaction; Unlock releases it once the new heap is installed.
	Lock()
	Unlock()
	// Heap returns the target's current heap, read under Lock.
	Heap() *heap.HeapManager
	// MinLSN is the visibility horizon: tombstones deleted before
	// this LSN are no longer observable by any active transaction and
	// are safe to drop.
	MinLSN() uint64
	// Reindex is called once per record kept in the rewritten heap,
	// in heap-iteration order, with its new offset. tombstone is true
	// for a still-visible delete marker, which the target should NOT
	// add back to its live index.
	Reindex(doc []byte, tombstone bool, newOffset int64) error
	// ReplaceHeap installs newHeap (and whatever index state Reindex
	// built up) as the target's active state. Called while still
	// locked; the caller must not touch the old heap afterward.
	ReplaceHeap(newHeap *heap.HeapManager)
}

// Compact rewrites target's heap in place.
func Compact(target Target) error {
	target.Lock()
	defer target.Unlock()

	oldHeap := target.Heap()
	oldPath := oldHeap.Path()
	minLSN := target.MinLSN()

	tmpPath := oldPath + "_compact"
	removeSegments(tmpPath)

	newHeap, err := heap.NewHeapManager(tmpPath)
	if err != nil {
		return errors.Wrap(errors.Io, "compactor.Compact", "create temp heap", err)
	}

	if err := rewrite(oldHeap, newHeap, minLSN, target); err != nil {
		newHeap.Close()
		removeSegments(tmpPath)
		return err
	}

	oldHeap.Close()
	newHeap.Close()

	if err := swapSegments(oldPath, tmpPath); err != nil {
		return err
	}

	finalHeap, err := heap.NewHeapManager(oldPath)
	if err != nil {
		return errors.Wrap(errors.Io, "compactor.Compact", "reopen compacted heap", err)
	}
	target.ReplaceHeap(finalHeap)
	return nil
}

func rewrite(oldHeap, newHeap *heap.HeapManager, minLSN uint64, target Target) error {
	it, err := oldHeap.NewIterator()
	if err != nil {
		return errors.Wrap(errors.Io, "compactor.rewrite", "iterate source heap", err)
	}
	defer it.Close()

	offsetMap := make(map[int64]int64)
	for {
		doc, header, oldOffset, err := it.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(errors.Io, "compactor.rewrite", "read source record", err)
		}

		if !header.Valid && header.DeleteLSN < minLSN {
			continue
		}

		prevOffset := int64(-1)
		if header.PrevOffset != -1 {
			if mapped, ok := offsetMap[header.PrevOffset]; ok {
				prevOffset = mapped
			}
		}

		newOffset, err := newHeap.Write(doc, header.CreateLSN, prevOffset)
		if err != nil {
			return errors.Wrap(errors.Io, "compactor.rewrite", "write kept record", err)
		}
		if !header.Valid {
			if err := newHeap.Delete(newOffset, header.DeleteLSN); err != nil {
				return errors.Wrap(errors.Io, "compactor.rewrite", "mark kept tombstone", err)
			}
		}
		offsetMap[oldOffset] = newOffset

		if err := target.Reindex(doc, !header.Valid, newOffset); err != nil {
			return errors.Wrap(errors.Internal, "compactor.rewrite", "reindex kept record", err)
		}
	}
}

func removeSegments(path string) {
	files, _ := filepath.Glob(path + "_[0-9][0-9][0-9].data")
	for _, f := range files {
		os.Remove(f)
	}
}

func swapSegments(oldPath, tmpPath string) error {
	removeSegments(oldPath)

	newFiles, _ := filepath.Glob(tmpPath + "_[0-9][0-9][0-9].data")
	for _, f := range newFiles {
		suffix := f[len(tmpPath):]
		if err := os.Rename(f, oldPath+suffix); err != nil {
			return errors.Wrap(errors.Io, "compactor.swapSegments", fmt.Sprintf("rename %s into place", f), err)
		}
	}
	return nil
}
