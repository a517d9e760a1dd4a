// File: loop/task.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Task: a suspendable unit of work driven by the Loop. The body runs on
// its own goroutine but never concurrently with the loop or another
// task; the unbuffered yield/resume channels enforce strict hand-off.

package loop

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-loop/api"
)

// TaskState is the lifecycle state of a Task.
type TaskState int32

const (
	// TaskNew means the task was created but never advanced.
	TaskNew TaskState = iota
	// TaskRunnable means the task is in the ready queue or being advanced.
	TaskRunnable
	// TaskWaiting means the task is parked on descriptor readiness or on
	// another task's completion.
	TaskWaiting
	// TaskFinished means the body returned a result.
	TaskFinished
	// TaskFailed means the body returned an error or panicked.
	TaskFailed
	// TaskCancelled means the task ended via Cancel or a deadline.
	TaskCancelled
)

// String returns a human-readable state name.
func (s TaskState) String() string {
	switch s {
	case TaskNew:
		return "new"
	case TaskRunnable:
		return "runnable"
	case TaskWaiting:
		return "waiting"
	case TaskFinished:
		return "finished"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	}
	return "unknown"
}

// TaskFunc is a task body. It runs cooperatively: it keeps the loop's
// only execution slot until it suspends inside a Ctx primitive or
// returns. The returned value and error become the task's result.
type TaskFunc func(*Ctx) (any, error)

type yieldKind uint8

const (
	yieldWait yieldKind = iota
	yieldAwait
	yieldDone
	yieldFail
)

// yieldOp is one message from a task goroutine to the loop: either a
// suspension request or the terminal outcome.
type yieldOp struct {
	kind     yieldKind
	fd       int
	interest api.Interest
	target   *Task
	result   any
	err      error
}

// Task is a suspendable unit of computation. All fields except state are
// owned by the loop goroutine (or by the task goroutine while the loop
// is blocked handing off to it).
type Task struct {
	id   uuid.UUID
	name string
	body TaskFunc

	state atomic.Int32

	resume chan error   // loop -> task: nil, or the error to raise at the suspension point
	yield  chan yieldOp // task -> loop

	started bool
	queued  bool
	inject  error // pending error to raise at the next advance

	result any
	err    error

	waitFD       int
	waitInterest api.Interest
	awaiting     *Task
	awaiters     []*Task

	deadline    time.Time
	hasDeadline bool
	deadlineSeq uint64
}

// NewTask wraps body as a schedulable task. The task does nothing until
// it is submitted to a Loop.
func NewTask(name string, body TaskFunc) *Task {
	return &Task{
		id:     uuid.New(),
		name:   name,
		body:   body,
		resume: make(chan error),
		yield:  make(chan yieldOp),
	}
}

// ID returns the task's unique identity.
func (t *Task) ID() uuid.UUID { return t.id }

// Name returns the task's display name.
func (t *Task) Name() string { return t.name }

// State returns the task's current lifecycle state.
func (t *Task) State() TaskState { return TaskState(t.state.Load()) }

func (t *Task) setState(s TaskState) { t.state.Store(int32(s)) }

func (t *Task) terminal() bool {
	switch t.State() {
	case TaskFinished, TaskFailed, TaskCancelled:
		return true
	}
	return false
}

// Result returns the task's outcome. Before the task reaches a terminal
// state it returns api.ErrTaskNotDone.
func (t *Task) Result() (any, error) {
	if !t.terminal() {
		return nil, api.ErrTaskNotDone
	}
	return t.result, t.err
}

// advance runs t until its next suspension point or termination and
// returns what the task yielded. inject, when non-nil, is raised inside
// the task at its current suspension point (cancellation, deadline,
// displaced watch).
func (l *Loop) advance(t *Task, inject error) yieldOp {
	if !t.started {
		t.started = true
		go t.run(l)
		// A fresh task has no suspension point yet; inject is handled by
		// the caller before the first advance.
		return <-t.yield
	}
	t.resume <- inject
	return <-t.yield
}

// run executes the body on the task goroutine and reports the terminal
// outcome. A panic in the body becomes a task failure, not a crash of
// the loop.
func (t *Task) run(l *Loop) {
	var op yieldOp
	func() {
		defer func() {
			if r := recover(); r != nil {
				op = yieldOp{kind: yieldFail, err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		res, err := t.body(&Ctx{loop: l, task: t})
		if err != nil {
			op = yieldOp{kind: yieldFail, err: err}
		} else {
			op = yieldOp{kind: yieldDone, result: res}
		}
	}()
	t.yield <- op
}
