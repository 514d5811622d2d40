package compactor

import (
	"context"
	"fmt"

	"github.com/bobboyms/docviewdb/pkg/tasks"
)

// job adapts one Target into a tasks.Job keyed Compaction(database,
// target) (spec §4.8), so two requests to compact the same target
// while one is already running coalesce into a single pass.
type job struct {
	database string
	target   Target
}

func (j job) Key() string { return fmt.Sprintf("Compaction(%s,%s)", j.database, j.target.Name()) }

func (j job) Execute() (interface{}, error) {
	return nil, Compact(j.target)
}

// Enqueue schedules target's compaction on pool and returns its handle.
func Enqueue(pool *tasks.Pool, database string, target Target) *tasks.Handle {
	return pool.Enqueue(job{database: database, target: target})
}

// FanOut schedules every target concurrently and waits for all of
// them, for a collection- or database-scoped compaction request that
// covers more than one underlying tree. Returns the first error
// encountered, if any, after every target has finished.
func FanOut(ctx context.Context, pool *tasks.Pool, database string, targets []Target) error {
	handles := make([]*tasks.Handle, len(targets))
	for i, t := range targets {
		handles[i] = Enqueue(pool, database, t)
	}

	var firstErr error
	for _, h := range handles {
		if _, err := h.Wait(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
