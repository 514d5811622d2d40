// Package tasks implements the engine's bounded worker pool (spec
// §4.7): a fixed number of workers draining a queue of jobs, where
// jobs sharing a key coalesce into one execution shared by every
// caller that enqueued it. The integrity scanner keys its jobs
// `(database, view)` and the compactor keys its jobs
// `Compaction(database, target)`, both riding on this same pool.
package tasks

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Job is one unit of work. Key identifies it for coalescing: two jobs
// enqueued with the same key while one is pending or running share a
// single Execute call.
type Job interface {
	Key() string
	Execute() (interface{}, error)
}

// Result is what Execute produced, delivered to every waiter of a job.
type Result struct {
	Value interface{}
	Err   error
}

// Handle lets a caller await (or abandon) one enqueued job.
type Handle struct {
	ID    uuid.UUID
	pool  *Pool
	group *group
	ch    chan Result
}

// Wait blocks until the job's group finishes, or ctx is done.
func (h *Handle) Wait(ctx context.Context) (interface{}, error) {
	select {
	case r, ok := <-h.ch:
		if !ok {
			return nil, ctx.Err()
		}
		return r.Value, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel withdraws this handle's interest in the job. Per §4.7,
// cancelling one waiter never cancels the job for the others; the job
// is only actually cancelled if this was the last waiter and
// execution has not started yet.
func (h *Handle) Cancel() {
	h.pool.cancelWaiter(h.group, h.ch)
}

// group is one pending or running execution of a job, shared by every
// Handle whose Job had the same key at enqueue time.
type group struct {
	key       string
	job       Job
	mu        sync.Mutex
	started   bool
	cancelled bool
	finished  bool
	waiters   []chan Result
}

// Pool is a bounded pool of worker goroutines draining a FIFO queue.
// Ordering is FIFO within a key (a key's jobs coalesce into one
// group, so there is only ever one pending execution per key);
// across keys, whichever worker frees up next picks up whatever is
// at the head of the queue.
type Pool struct {
	mu      sync.Mutex
	pending map[string]*group
	queue   chan *group
	wg      sync.WaitGroup
	metrics *metrics
}

// New starts a pool with the given number of worker goroutines and a
// queue capacity of queueSize pending groups.
func New(workers, queueSize int) *Pool {
	p := &Pool{
		pending: make(map[string]*group),
		queue:   make(chan *group, queueSize),
		metrics: newMetrics(),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.workerLoop()
	}
	return p
}

// Enqueue submits job, returning a Handle for awaiting its result. If
// a job with the same key is already pending or running, the new
// Handle shares that execution instead of starting a new one.
func (p *Pool) Enqueue(job Job) *Handle {
	key := job.Key()
	ch := make(chan Result, 1)

	p.mu.Lock()
	g, coalesced := p.pending[key]
	if coalesced {
		// A group only leaves p.pending once its finish step (below)
		// has run, and that step holds p.mu for exactly this lookup,
		// so a group found here cannot be finished yet: it is always
		// safe to append another waiter to it.
		g.mu.Lock()
		g.waiters = append(g.waiters, ch)
		g.mu.Unlock()
	} else {
		g = &group{key: key, job: job, waiters: []chan Result{ch}}
		p.pending[key] = g
	}
	p.mu.Unlock()

	if !coalesced {
		p.metrics.jobsEnqueued.Inc()
		p.queue <- g
	} else {
		p.metrics.jobsCoalesced.Inc()
	}

	id, _ := uuid.NewV7()
	return &Handle{ID: id, pool: p, group: g, ch: ch}
}

// Close stops accepting new work from the queue and waits for every
// in-flight job to finish. It does not cancel pending jobs.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

func (p *Pool) workerLoop() {
	defer p.wg.Done()
	for g := range p.queue {
		g.mu.Lock()
		if g.cancelled {
			g.mu.Unlock()
			p.mu.Lock()
			delete(p.pending, g.key)
			p.mu.Unlock()
			continue
		}
		g.started = true
		g.mu.Unlock()

		p.metrics.jobsRunning.Inc()
		value, err := g.job.Execute()
		p.metrics.jobsRunning.Dec()
		p.metrics.jobsExecuted.Inc()

		// Hold p.mu across reading the final waiters list, marking
		// the group finished, and removing it from pending, so a
		// waiter that Enqueue's coalescing adds while Execute is
		// still running is never missed: once this runs, any later
		// Enqueue for the same key finds nothing in p.pending and
		// starts a fresh group instead of attaching to one that
		// already delivered.
		p.mu.Lock()
		g.mu.Lock()
		g.finished = true
		waiters := g.waiters
		g.mu.Unlock()
		delete(p.pending, g.key)
		p.mu.Unlock()

		for _, w := range waiters {
			w <- Result{Value: value, Err: err}
			close(w)
		}
	}
}

func (p *Pool) cancelWaiter(g *group, ch chan Result) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for i, w := range g.waiters {
		if w == ch {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			break
		}
	}
	if len(g.waiters) == 0 && !g.started {
		g.cancelled = true
	}
}
