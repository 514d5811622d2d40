package tasks

import "github.com/prometheus/client_golang/prometheus"

// metrics are per-Pool, not global: each Pool registers its own
// collectors against its own registry, matching the grain the teacher
// repo's pack sibling registers cluster-wide counters at, but scoped
// down since a process may open more than one database (and so more
// than one Pool).
type metrics struct {
	jobsEnqueued  prometheus.Counter
	jobsCoalesced prometheus.Counter
	jobsExecuted  prometheus.Counter
	jobsRunning   prometheus.Gauge
}

func newMetrics() *metrics {
	return &metrics{
		jobsEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docviewdb_tasks_jobs_enqueued_total",
			Help: "Jobs submitted to the pool that started a new execution group.",
		}),
		jobsCoalesced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docviewdb_tasks_jobs_coalesced_total",
			Help: "Jobs submitted that joined an already pending or running group for the same key.",
		}),
		jobsExecuted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docviewdb_tasks_jobs_executed_total",
			Help: "Job executions completed (one per group, not per waiter).",
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docviewdb_tasks_jobs_running",
			Help: "Job executions currently in progress.",
		}),
	}
}

// Collectors returns every metric so the caller can register them
// against a *prometheus.Registry of its choosing.
func (p *Pool) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		p.metrics.jobsEnqueued,
		p.metrics.jobsCoalesced,
		p.metrics.jobsExecuted,
		p.metrics.jobsRunning,
	}
}
