package view

// DocumentFetcher returns a document's current contents, or
// found=false if it no longer exists (spec §4.6 step 2: a document
// that has vanished since invalidation is treated as deleted).
type DocumentFetcher func(documentID uint64) (contents []byte, found bool, err error)

// Mapper runs the batches spec §4.6 describes: read and clear a
// bounded batch of invalidated ids, remap or retract each one, repeat
// while work remains. It holds no goroutine of its own — the task
// manager (§4.7) is what schedules repeated calls to RunBatch as a
// job keyed by (database, view).
type Mapper struct {
	Def       Definition
	Store     *Store
	State     *State
	Fetch     DocumentFetcher
	BatchSize int
}

// RunBatch processes up to m.BatchSize invalidated ids and reports
// whether the view still has invalidated work left afterward (the
// caller re-enqueues itself in that case, per §4.6 step 3).
func (m *Mapper) RunBatch(lsn uint64) (more bool, err error) {
	batch := m.State.TakeBatch(m.BatchSize)
	for i, id := range batch {
		contents, found, fetchErr := m.Fetch(id)
		if fetchErr != nil {
			m.State.MarkInvalidated(batch[i:]...)
			return true, fetchErr
		}
		if !found {
			if err := m.Store.Delete(id, lsn); err != nil {
				m.State.MarkInvalidated(batch[i:]...)
				return true, err
			}
			continue
		}
		mapped, err := m.Def.Map(id, contents)
		if err != nil {
			m.State.MarkInvalidated(batch[i:]...)
			return true, err
		}
		if err := m.Store.Put(id, mapped, lsn); err != nil {
			m.State.MarkInvalidated(batch[i:]...)
			return true, err
		}
	}
	return !m.State.IsEmpty(), nil
}
