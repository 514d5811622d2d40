package view

import (
	"bytes"
	"sort"

	"github.com/bobboyms/docviewdb/pkg/keyrange"
	"github.com/bobboyms/docviewdb/pkg/types"
)

// Sort orders a query's results by key (spec §4.4, original's Sort
// enum on the View query builder).
type Sort int

const (
	Ascending Sort = iota
	Descending
)

// KeyFilter selects which emitted keys a query considers. Exactly one
// of the three should be set; zero value means "match everything"
// (mirrors original's QueryKey enum: Matches/Multiple/Range).
type KeyFilter struct {
	Exact    types.Comparable
	Multiple []types.Comparable
	Range    *keyrange.Range
}

// Query describes one read against a view's entries (original's View
// builder: with_key/with_keys/with_key_range, ascending/descending,
// limit).
type Query struct {
	Filter KeyFilter
	Order  Sort
	Limit  int // 0 means unlimited
}

// Result is one matched (key, documentID, value) row.
type Result struct {
	Key        types.Comparable
	DocumentID uint64
	Value      []byte
}

// Query scans the entries tree for every tuple matching q.Filter,
// ordered and limited as requested.
func (s *Store) Query(q Query) ([]Result, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var out []Result

	err := s.scanEntries(func(key types.Comparable, encodedKey []byte, tuples []entryTuple) (bool, error) {
		if !q.Filter.matches(key, encodedKey) {
			return true, nil
		}
		for _, t := range tuples {
			out = append(out, Result{Key: key, DocumentID: t.DocumentID, Value: t.Value})
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Key.Compare(out[j].Key) < 0
	})
	if q.Order == Descending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (f KeyFilter) matches(key types.Comparable, encodedKey []byte) bool {
	switch {
	case f.Exact != nil:
		want, err := keyrange.Encode(f.Exact)
		return err == nil && bytes.Equal(want, encodedKey)
	case len(f.Multiple) > 0:
		for _, m := range f.Multiple {
			want, err := keyrange.Encode(m)
			if err == nil && bytes.Equal(want, encodedKey) {
				return true
			}
		}
		return false
	case f.Range != nil:
		return f.Range.Matches(encodedKey)
	default:
		return true
	}
}

// scanEntries walks every leaf in the entries tree left to right,
// decoding each key's tuple list. The B+Tree only links leaves
// forward (Node.Next), so descending order is produced by sorting and
// reversing the collected results rather than by a reverse walk.
func (s *Store) scanEntries(fn func(key types.Comparable, encodedKey []byte, tuples []entryTuple) (bool, error)) error {
	// FindLeafLowerBound returns its leaf already RLock'd; each
	// iteration locks the next leaf before releasing the current one so
	// the chain is never walked through an unlocked node.
	leaf, _ := s.entries.FindLeafLowerBound(types.BytesKey(nil))
	for leaf != nil {
		keys := append([]types.Comparable(nil), leaf.Keys[:leaf.N]...)
		ptrs := append([]int64(nil), leaf.DataPtrs[:leaf.N]...)
		next := leaf.Next
		if next != nil {
			next.RLock()
		}
		leaf.RUnlock()

		for i, key := range keys {
			raw, _, err := s.entriesHeap.Read(ptrs[i])
			if err != nil {
				return err
			}
			encodedKey, payload, err := decodeSelfDescribing(raw)
			if err != nil {
				return err
			}
			tuples, err := decodeEntryList(payload)
			if err != nil {
				return err
			}
			cont, err := fn(key, encodedKey, tuples)
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		leaf = next
	}
	return nil
}
