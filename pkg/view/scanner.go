package view

import "fmt"

// Scan runs the integrity check spec §4.5 describes for one view at
// database open: idle -> checking-version -> (ok | rebuilding) ->
// idle. If the state's recorded version already matches
// declaredVersion there is nothing to do; otherwise every entry and
// docmap record is discarded and every live document in the view's
// collection is marked invalidated, so the mapper rebuilds the view
// from scratch.
//
// liveDocumentIDs is supplied by the collection store; this package
// has no collection of its own to enumerate.
func Scan(store *Store, state *State, declaredVersion uint64, liveDocumentIDs []uint64) error {
	if state.Version == declaredVersion {
		return nil
	}

	if err := store.clear(); err != nil {
		return err
	}
	state.Reset(declaredVersion, liveDocumentIDs)
	return nil
}

// clear drops the in-memory entries and docmap indexes, starting the
// view over from nothing. Their heap files are left in place; the
// now-unreachable records they hold are reclaimed the next time the
// compactor runs over this view (spec §4.8), not here.
func (s *Store) clear() error {
	s.entries = newEntriesTree()
	s.docmap = newDocmapTree()
	return nil
}

// ScanJob runs Scan as a pkg/tasks job (spec §4.5, §4.7), keyed by
// "<database>/<view>" so concurrent opens of the same view coalesce
// into a single scan instead of racing to reset its store. It
// implements tasks.Job structurally (Key/Execute) without importing
// pkg/tasks' concrete types into its field list, only its method
// shape.
type ScanJob struct {
	Database        string
	View            string
	Store           *Store
	State           *State
	DeclaredVersion uint64
	LiveDocumentIDs []uint64
	Dir             string
}

// Key identifies this job for pkg/tasks.Pool coalescing.
func (j *ScanJob) Key() string {
	return fmt.Sprintf("%s/%s", j.Database, j.View)
}

// Execute runs Scan and, if it actually reset the view, persists the
// new state to Dir so a later open sees the reset rather than redoing
// it.
func (j *ScanJob) Execute() (interface{}, error) {
	changed := j.State.Version != j.DeclaredVersion
	if err := Scan(j.Store, j.State, j.DeclaredVersion, j.LiveDocumentIDs); err != nil {
		return nil, err
	}
	if changed {
		if err := j.State.Save(j.Dir); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
