// File: loop/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Scheduler counters. Updated with atomics so operators can snapshot a
// running loop from another goroutine.

package loop

import (
	"sync/atomic"

	"github.com/momentics/hioload-loop/control"
)

// Stats is a snapshot of the loop's counters.
type Stats struct {
	Ticks          int64
	Wakeups        int64 // tasks woken by descriptor readiness
	Submitted      int64
	Completed      int64
	Failed         int64
	Cancelled      int64
	WatchReplaced  int64
	DeadlineFires  int64
}

type counters struct {
	ticks         atomic.Int64
	wakeups       atomic.Int64
	submitted     atomic.Int64
	completed     atomic.Int64
	failed        atomic.Int64
	cancelled     atomic.Int64
	watchReplaced atomic.Int64
	deadlineFires atomic.Int64
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:         l.counters.ticks.Load(),
		Wakeups:       l.counters.wakeups.Load(),
		Submitted:     l.counters.submitted.Load(),
		Completed:     l.counters.completed.Load(),
		Failed:        l.counters.failed.Load(),
		Cancelled:     l.counters.cancelled.Load(),
		WatchReplaced: l.counters.watchReplaced.Load(),
		DeadlineFires: l.counters.deadlineFires.Load(),
	}
}

// PublishStats copies the current counters into a metrics registry.
func (l *Loop) PublishStats(reg *control.MetricsRegistry) {
	s := l.Stats()
	reg.Set("loop.ticks", s.Ticks)
	reg.Set("loop.wakeups", s.Wakeups)
	reg.Set("loop.tasks.submitted", s.Submitted)
	reg.Set("loop.tasks.completed", s.Completed)
	reg.Set("loop.tasks.failed", s.Failed)
	reg.Set("loop.tasks.cancelled", s.Cancelled)
	reg.Set("loop.watch.replaced", s.WatchReplaced)
	reg.Set("loop.deadline.fires", s.DeadlineFires)
}
