package storage

import (
	"time"

	"github.com/bobboyms/docviewdb/pkg/view"
)

// ViewState wraps a bound view's control block for callers outside
// this package (the connection facade's UpdateBefore access policy),
// without exposing view.State's invalidated-set internals.
type ViewState struct {
	state *view.State
}

// pollInterval is how often WaitUntilCaughtUp rechecks the
// invalidated set. The mapper's background job pool is what actually
// drains it; this just polls for that drain to finish.
const pollInterval = 2 * time.Millisecond

// WaitUntilCaughtUp blocks until the view has no invalidated document
// ids left to remap, implementing the UpdateBefore access policy
// (spec §4.4): a query under that policy must see the view fully
// caught up with every commit that preceded it, not whatever batch
// the background mapper happens to have reached.
func (vs *ViewState) WaitUntilCaughtUp() error {
	for !vs.state.IsEmpty() {
		time.Sleep(pollInterval)
	}
	return nil
}
