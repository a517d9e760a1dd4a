// File: loop/deadline.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-task deadlines. Deadlines live in a btree ordered by expiry so the
// loop can clamp its blocking poll to the earliest one and expire the
// due prefix each tick. An expired deadline injects ErrDeadlineExceeded
// at the task's current suspension point; no helper thread is involved.

package loop

import (
	"time"

	"github.com/momentics/hioload-loop/api"
)

type deadlineEntry struct {
	when time.Time
	seq  uint64
	task *Task
}

func deadlineLess(a, b deadlineEntry) bool {
	if a.when.Equal(b.when) {
		return a.seq < b.seq
	}
	return a.when.Before(b.when)
}

// setDeadline installs or moves the deadline for t. Loop-side only.
func (l *Loop) setDeadline(t *Task, when time.Time) {
	if t.terminal() {
		return
	}
	l.clearDeadline(t)
	if when.IsZero() {
		return
	}
	l.deadlineSeq++
	t.deadline = when
	t.deadlineSeq = l.deadlineSeq
	t.hasDeadline = true
	l.deadlines.ReplaceOrInsert(deadlineEntry{when: when, seq: t.deadlineSeq, task: t})
}

// clearDeadline removes t's deadline entry if present. Loop-side only.
func (l *Loop) clearDeadline(t *Task) {
	if !t.hasDeadline {
		return
	}
	l.deadlines.Delete(deadlineEntry{when: t.deadline, seq: t.deadlineSeq, task: t})
	t.hasDeadline = false
}

// expireDeadlines cancels every task whose deadline is due at now.
func (l *Loop) expireDeadlines(now time.Time) {
	var due []deadlineEntry
	l.deadlines.Ascend(func(e deadlineEntry) bool {
		if e.when.After(now) {
			return false
		}
		due = append(due, e)
		return true
	})
	for _, e := range due {
		l.deadlines.Delete(e)
		e.task.hasDeadline = false
		l.cancelTask(e.task, api.ErrDeadlineExceeded)
	}
}

// nextDeadlineTimeout returns the poll timeout in milliseconds until the
// earliest deadline, or -1 (block forever) when none is pending.
// Sub-millisecond remainders round up so a due deadline is never slept
// past.
func (l *Loop) nextDeadlineTimeout(now time.Time) int {
	e, ok := l.deadlines.Min()
	if !ok {
		return -1
	}
	d := e.when.Sub(now)
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if d%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
