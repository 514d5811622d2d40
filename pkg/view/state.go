package view

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/bobboyms/docviewdb/pkg/errors"
)

// State is a view's small control block: the schema version it was
// last built against, and the set of document ids the mapper still
// owes a (re)map (spec §4.5, §4.6 "invalidated"). It is written
// atomically (temp file + rename), the same durability shape the
// compactor (§4.8) uses for whole trees, just sized for a handful of
// integers instead of gigabytes.
type State struct {
	mu          sync.Mutex
	Version     uint64
	invalidated map[uint64]struct{}
}

const stateFileName = "state"

// LoadState reads dir's state file, or returns a fresh zero-version
// State if none exists yet (a brand new view).
func LoadState(dir string) (*State, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFileName))
	if os.IsNotExist(err) {
		return &State{invalidated: make(map[uint64]struct{})}, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.Io, "view.LoadState", "read state file", err)
	}
	return decodeState(data)
}

// Save atomically persists s to dir's state file.
func (s *State) Save(dir string) error {
	s.mu.Lock()
	data := s.encode()
	s.mu.Unlock()

	path := filepath.Join(dir, stateFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(errors.Io, "view.State.Save", "write temp state file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(errors.Io, "view.State.Save", "rename state file into place", err)
	}
	return nil
}

// Reset clears the invalidated set and sets a new version, used by
// the scanner when a view's declared version no longer matches what
// was last built (spec §4.5).
func (s *State) Reset(version uint64, liveDocumentIDs []uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Version = version
	s.invalidated = make(map[uint64]struct{}, len(liveDocumentIDs))
	for _, id := range liveDocumentIDs {
		s.invalidated[id] = struct{}{}
	}
}

// MarkInvalidated adds ids to the set the mapper still owes work on.
func (s *State) MarkInvalidated(ids ...uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalidated == nil {
		s.invalidated = make(map[uint64]struct{})
	}
	for _, id := range ids {
		s.invalidated[id] = struct{}{}
	}
}

// TakeBatch removes and returns up to n ids from the invalidated set.
// Order is unspecified: the mapper treats all invalidated ids as
// equally due, per §4.6.
func (s *State) TakeBatch(n int) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n <= 0 || len(s.invalidated) == 0 {
		return nil
	}
	batch := make([]uint64, 0, n)
	for id := range s.invalidated {
		batch = append(batch, id)
		delete(s.invalidated, id)
		if len(batch) == n {
			break
		}
	}
	return batch
}

// IsEmpty reports whether every invalidation has been processed.
func (s *State) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.invalidated) == 0
}

func (s *State) encode() []byte {
	ids := make([]byte, 0, 8+4+8*len(s.invalidated))
	ids = appendUint64(ids, s.Version)
	ids = appendUint32(ids, uint32(len(s.invalidated)))
	for id := range s.invalidated {
		ids = appendUint64(ids, id)
	}
	return ids
}

func decodeState(data []byte) (*State, error) {
	version, rest, err := readUint64(data)
	if err != nil {
		return nil, err
	}
	count, rest, err := readUint32(rest)
	if err != nil {
		return nil, err
	}
	invalidated := make(map[uint64]struct{}, count)
	for i := uint32(0); i < count; i++ {
		var id uint64
		id, rest, err = readUint64(rest)
		if err != nil {
			return nil, err
		}
		invalidated[id] = struct{}{}
	}
	return &State{Version: version, invalidated: invalidated}, nil
}
