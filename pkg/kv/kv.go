// Package kv implements the key/value namespace tree (spec §3, §6):
// a flat space of namespace-scoped keys that participates in
// transactions alongside collection documents, backed by pebble
// rather than the hand-rolled btree/heap pair used for documents,
// since it has no revision or view machinery to share with them.
package kv

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/bobboyms/docviewdb/pkg/errors"
	"github.com/bobboyms/docviewdb/pkg/txlog"
)

const separator = 0x00

// Store is the kv namespace tree for one database.
type Store struct {
	db *pebble.DB
}

// Open opens (creating if absent) the pebble-backed kv store rooted
// at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(errors.Io, "kv.Open", "open pebble store", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying pebble handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(errors.Io, "kv.Close", "close pebble store", err)
	}
	return nil
}

func namespacedKey(namespace string, key []byte) []byte {
	buf := make([]byte, 0, len(namespace)+1+len(key))
	buf = append(buf, namespace...)
	buf = append(buf, separator)
	buf = append(buf, key...)
	return buf
}

// Get reads key from namespace. found is false if the key is absent.
func (s *Store) Get(namespace string, key []byte) (value []byte, found bool, err error) {
	v, closer, err := s.db.Get(namespacedKey(namespace, key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.Io, "kv.Get", "read key", err)
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, true, nil
}

// Set writes key=value in namespace outside of any transaction
// (autocommit), mirroring the engine's top-level Put/Get convenience
// wrappers over a single-operation transaction.
func (s *Store) Set(namespace string, key, value []byte) error {
	if err := s.db.Set(namespacedKey(namespace, key), value, pebble.Sync); err != nil {
		return errors.Wrap(errors.Io, "kv.Set", "write key", err)
	}
	return nil
}

// Delete removes key from namespace outside of any transaction.
func (s *Store) Delete(namespace string, key []byte) error {
	if err := s.db.Delete(namespacedKey(namespace, key), pebble.Sync); err != nil {
		return errors.Wrap(errors.Io, "kv.Delete", "delete key", err)
	}
	return nil
}

// ApplyChangedKeys applies a transaction's kv mutations atomically, via
// a pebble batch, returning the ChangedKey records the caller should
// hand to the transaction log (spec §4.3 step 4).
func (s *Store) ApplyChangedKeys(namespace string, keys map[string][]byte, deletes [][]byte) ([]txlog.ChangedKey, error) {
	batch := s.db.NewBatch()
	defer batch.Close()

	changed := make([]txlog.ChangedKey, 0, len(keys)+len(deletes))
	for k, v := range keys {
		nk := namespacedKey(namespace, []byte(k))
		if err := batch.Set(nk, v, nil); err != nil {
			return nil, errors.Wrap(errors.Io, "kv.ApplyChangedKeys", "stage set", err)
		}
		changed = append(changed, txlog.ChangedKey{Namespace: namespace, Key: []byte(k), Deleted: false})
	}
	for _, k := range deletes {
		nk := namespacedKey(namespace, k)
		if err := batch.Delete(nk, nil); err != nil {
			return nil, errors.Wrap(errors.Io, "kv.ApplyChangedKeys", "stage delete", err)
		}
		changed = append(changed, txlog.ChangedKey{Namespace: namespace, Key: append([]byte(nil), k...), Deleted: true})
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return nil, errors.Wrap(errors.Io, "kv.ApplyChangedKeys", "commit batch", err)
	}
	return changed, nil
}

// Scan iterates every key in namespace in ascending order, calling fn
// with the unprefixed key and its value. Iteration stops at the first
// error fn returns, and that error is propagated to the caller.
func (s *Store) Scan(namespace string, fn func(key, value []byte) error) error {
	prefix := append([]byte(namespace), separator)
	upperBound := prefixUpperBound(prefix)

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound,
	})
	if err != nil {
		return errors.Wrap(errors.Io, "kv.Scan", "create iterator", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()[len(prefix):]
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// prefixUpperBound returns the smallest key greater than every key
// with the given prefix, or nil if the prefix is all 0xFF bytes (an
// unbounded upper bound, matching pebble's documented convention).
func prefixUpperBound(prefix []byte) []byte {
	upper := bytes.Clone(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] < 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}
