// File: loop/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The scheduler. One tick: poll the multiplexer, turn ready descriptors
// into wakeups, then advance every task that was runnable at the start
// of the tick exactly one suspension step. Tasks that suspend on I/O are
// re-registered with the multiplexer and come back only through a later
// poll; tasks submitted during the tick run on the next one.

package loop

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/btree"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-loop/api"
	"github.com/momentics/hioload-loop/poller"
	"github.com/momentics/hioload-loop/sockio"
)

// Config tunes a Loop.
type Config struct {
	// MaxEvents caps how many readiness events one poll may deliver.
	MaxEvents int
	// Logger receives operator-facing reports (top-level task failures,
	// watch bookkeeping warnings). Defaults to a fresh logrus logger.
	Logger *logrus.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxEvents <= 0 {
		c.MaxEvents = 128
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c
}

type pendingKind uint8

const (
	opSubmit pendingKind = iota
	opCancel
	opDeadline
)

// pendingOp is a cross-thread request absorbed at the start of a tick.
type pendingOp struct {
	kind pendingKind
	task *Task
	when time.Time
}

// registration binds the tasks waiting on one descriptor. Each interest
// slot holds at most one task; both slots may be held by different tasks.
type registration struct {
	reader *Task
	writer *Task
}

func (r *registration) mask() api.Interest {
	var m api.Interest
	if r.reader != nil {
		m |= api.Readable
	}
	if r.writer != nil {
		m |= api.Writable
	}
	return m
}

// Loop is a single-threaded cooperative scheduler. Submit, Cancel and
// SetDeadline are safe from any goroutine; everything else belongs to
// the goroutine calling Run.
type Loop struct {
	poller api.Poller
	wake   *sockio.WakePipe
	log    *logrus.Logger

	mu      sync.Mutex
	pending []pendingOp

	ready       *queue.Queue
	regs        map[int]*registration
	deadlines   *btree.BTreeG[deadlineEntry]
	deadlineSeq uint64
	awaiting    map[*Task]*Task // awaiter -> target

	events  []api.Event
	running atomic.Bool
	stalled bool

	counters counters
}

// New constructs a Loop over the platform multiplexer.
func New(cfg Config) (*Loop, error) {
	cfg = cfg.withDefaults()

	p, err := poller.New()
	if err != nil {
		return nil, err
	}
	wake, err := sockio.NewWakePipe()
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := p.Register(wake.ReadFD(), api.Readable); err != nil {
		wake.Close()
		p.Close()
		return nil, err
	}

	return &Loop{
		poller:    p,
		wake:      wake,
		log:       cfg.Logger,
		ready:     queue.New(),
		regs:      make(map[int]*registration),
		deadlines: btree.NewG(8, deadlineLess),
		awaiting:  make(map[*Task]*Task),
		events:    make([]api.Event, cfg.MaxEvents),
	}, nil
}

// Close releases the multiplexer and the wake pipe. Do not call while
// Run is active.
func (l *Loop) Close() error {
	werr := l.wake.Close()
	if err := l.poller.Close(); err != nil {
		return err
	}
	return werr
}

// Submit appends a fresh task to the ready queue. It always succeeds:
// the task becomes eligible on the next tick. Safe from any goroutine.
func (l *Loop) Submit(t *Task) {
	if t == nil {
		return
	}
	l.counters.submitted.Add(1)
	l.push(pendingOp{kind: opSubmit, task: t})
}

// Cancel marks t cancelled. Its next resume raises api.ErrTaskCancelled
// at the current suspension point and its registration, if any, is
// removed. Safe from any goroutine.
func (l *Loop) Cancel(t *Task) {
	if t == nil {
		return
	}
	l.push(pendingOp{kind: opCancel, task: t})
}

// SetDeadline installs (or, with a zero time, clears) a deadline for t.
// If the deadline elapses before t completes, api.ErrDeadlineExceeded is
// raised at its suspension point. Safe from any goroutine.
func (l *Loop) SetDeadline(t *Task, when time.Time) {
	if t == nil {
		return
	}
	l.push(pendingOp{kind: opDeadline, task: t, when: when})
}

func (l *Loop) push(op pendingOp) {
	l.mu.Lock()
	l.pending = append(l.pending, op)
	l.mu.Unlock()
	l.wake.Wake()
}

// Run executes ticks until no task is queued, registered, awaited or
// holding a deadline. A multiplexer failure is fatal and returned as is;
// a stalled await graph drains with injected failures and Run returns
// api.ErrStalled.
func (l *Loop) Run() error {
	if !l.running.CompareAndSwap(false, true) {
		return fmt.Errorf("loop is already running")
	}
	defer l.running.Store(false)

	for {
		done, err := l.tick()
		if err != nil {
			return err
		}
		if done {
			if l.stalled {
				return api.ErrStalled
			}
			return nil
		}
	}
}

// tick runs one poll-and-drain cycle. The idle check happens before the
// poll so an empty loop terminates instead of blocking forever.
func (l *Loop) tick() (bool, error) {
	l.absorbPending()
	if l.checkIdle() {
		return true, nil
	}
	l.counters.ticks.Add(1)

	// Block only when nothing is runnable; otherwise drain what is
	// already ready without yielding the thread.
	timeout := 0
	if l.ready.Length() == 0 && !l.hasPending() {
		timeout = l.nextDeadlineTimeout(time.Now())
	}

	n, err := l.poller.Poll(timeout, l.events)
	if err != nil {
		return false, fmt.Errorf("readiness poll: %w", err)
	}
	for i := 0; i < n; i++ {
		if ferr := l.dispatchEvent(l.events[i]); ferr != nil {
			return false, ferr
		}
	}

	l.absorbPending()
	l.expireDeadlines(time.Now())

	// Snapshot drain: only tasks runnable at this point advance now.
	nready := l.ready.Length()
	for i := 0; i < nready; i++ {
		t := l.ready.Remove().(*Task)
		t.queued = false
		if t.terminal() {
			continue
		}
		inject := t.inject
		t.inject = nil

		if !t.started && inject != nil {
			// Cancelled before its first step: there is no suspension
			// point to raise at, so it ends without running.
			l.finalize(t, yieldOp{kind: yieldFail, err: inject})
			continue
		}

		op := l.advance(t, inject)
		switch op.kind {
		case yieldWait:
			if rerr := l.registerWait(t, op.fd, op.interest); rerr != nil {
				return false, rerr
			}
		case yieldAwait:
			l.parkAwait(t, op.target)
		default:
			l.finalize(t, op)
		}
	}

	return false, nil
}

// absorbPending applies cross-thread requests on the loop goroutine.
func (l *Loop) absorbPending() {
	l.mu.Lock()
	ops := l.pending
	l.pending = nil
	l.mu.Unlock()

	for _, op := range ops {
		switch op.kind {
		case opSubmit:
			if op.task.State() == TaskNew && !op.task.queued {
				l.enqueue(op.task, nil)
			}
		case opCancel:
			l.cancelTask(op.task, api.ErrTaskCancelled)
		case opDeadline:
			l.setDeadline(op.task, op.when)
		}
	}
}

func (l *Loop) hasPending() bool {
	l.mu.Lock()
	n := len(l.pending)
	l.mu.Unlock()
	return n > 0
}

// dispatchEvent wakes the tasks registered for a ready descriptor and
// removes the consumed interests from the multiplexer.
func (l *Loop) dispatchEvent(ev api.Event) error {
	if ev.FD == l.wake.ReadFD() {
		l.wake.Drain()
		return nil
	}
	r, ok := l.regs[ev.FD]
	if !ok {
		return nil
	}

	if ev.Interest.Has(api.Readable) && r.reader != nil {
		t := r.reader
		r.reader = nil
		l.counters.wakeups.Add(1)
		l.enqueue(t, nil)
	}
	if ev.Interest.Has(api.Writable) && r.writer != nil {
		t := r.writer
		r.writer = nil
		l.counters.wakeups.Add(1)
		l.enqueue(t, nil)
	}

	if r.reader == nil && r.writer == nil {
		delete(l.regs, ev.FD)
		if err := l.poller.Unregister(ev.FD); err != nil {
			l.log.WithField("fd", ev.FD).WithError(err).Warn("unregister after wakeup")
		}
		return nil
	}
	// One slot consumed, the other still waits: narrow the mask.
	if err := l.poller.Register(ev.FD, r.mask()); err != nil {
		return fmt.Errorf("narrow watch fd=%d: %w", ev.FD, err)
	}
	return nil
}

// enqueue appends t to the ready queue, recording inject to be raised at
// its next resume. A task is never queued twice.
func (l *Loop) enqueue(t *Task, inject error) {
	if t == nil || t.terminal() {
		return
	}
	if inject != nil && t.inject == nil {
		t.inject = inject
	}
	if t.queued {
		return
	}
	t.queued = true
	t.setState(TaskRunnable)
	l.ready.Add(t)
}

// registerWait binds t to (fd, interest). A task already holding the
// slot is displaced and woken with api.ErrWatchReplaced. A registration
// failure means the multiplexer lost a descriptor it needs and is fatal.
func (l *Loop) registerWait(t *Task, fd int, interest api.Interest) error {
	if interest != api.Readable && interest != api.Writable {
		l.enqueue(t, api.ErrInvalidInterest)
		return nil
	}

	r, ok := l.regs[fd]
	if !ok {
		r = &registration{}
		l.regs[fd] = r
	}
	slot := &r.reader
	if interest == api.Writable {
		slot = &r.writer
	}
	if prev := *slot; prev != nil && prev != t {
		*slot = nil
		l.counters.watchReplaced.Add(1)
		l.log.WithFields(logrus.Fields{
			"fd": fd, "interest": interest.String(),
			"displaced": prev.name, "by": t.name,
		}).Warn("descriptor watch replaced")
		l.enqueue(prev, api.ErrWatchReplaced)
	}
	*slot = t

	t.setState(TaskWaiting)
	t.waitFD = fd
	t.waitInterest = interest

	if err := l.poller.Register(fd, r.mask()); err != nil {
		return fmt.Errorf("register fd=%d: %w", fd, err)
	}
	return nil
}

// dropWatch removes t's registration slot. Used on cancellation.
func (l *Loop) dropWatch(t *Task) {
	r, ok := l.regs[t.waitFD]
	if !ok {
		return
	}
	if r.reader == t {
		r.reader = nil
	}
	if r.writer == t {
		r.writer = nil
	}
	if r.reader == nil && r.writer == nil {
		delete(l.regs, t.waitFD)
		if err := l.poller.Unregister(t.waitFD); err != nil {
			l.log.WithField("fd", t.waitFD).WithError(err).Warn("unregister on cancel")
		}
		return
	}
	if err := l.poller.Register(t.waitFD, r.mask()); err != nil {
		l.log.WithField("fd", t.waitFD).WithError(err).Warn("narrow watch on cancel")
	}
}

// parkAwait parks t until target completes. An unsubmitted target is
// enqueued implicitly.
func (l *Loop) parkAwait(t *Task, target *Task) {
	if target == nil || target == t {
		l.enqueue(t, fmt.Errorf("await: invalid target task"))
		return
	}
	if target.terminal() {
		l.enqueue(t, nil)
		return
	}
	if target.State() == TaskNew && !target.queued {
		l.enqueue(target, nil)
	}
	target.awaiters = append(target.awaiters, t)
	t.awaiting = target
	t.setState(TaskWaiting)
	l.awaiting[t] = target
}

// dropAwait unparks t from its await target without waking it.
func (l *Loop) dropAwait(t *Task) {
	target := t.awaiting
	if target == nil {
		return
	}
	for i, a := range target.awaiters {
		if a == t {
			target.awaiters = append(target.awaiters[:i], target.awaiters[i+1:]...)
			break
		}
	}
	t.awaiting = nil
	delete(l.awaiting, t)
}

// cancelTask injects cause into t wherever it currently is.
func (l *Loop) cancelTask(t *Task, cause error) {
	if t == nil || t.terminal() {
		return
	}
	if errors.Is(cause, api.ErrDeadlineExceeded) {
		l.counters.deadlineFires.Add(1)
	}
	switch {
	case !t.started && !t.queued:
		l.finalize(t, yieldOp{kind: yieldFail, err: cause})
	case t.queued:
		if t.inject == nil {
			t.inject = cause
		}
	case t.State() == TaskWaiting && t.awaiting != nil:
		l.dropAwait(t)
		l.enqueue(t, cause)
	case t.State() == TaskWaiting:
		l.dropWatch(t)
		l.enqueue(t, cause)
	default:
		if t.inject == nil {
			t.inject = cause
		}
	}
}

// finalize records a terminal outcome, releases the deadline and wakes
// every task awaiting this one. A failure with no awaiting caller is an
// operator concern and is logged; it never stops the loop.
func (l *Loop) finalize(t *Task, op yieldOp) {
	l.clearDeadline(t)
	switch op.kind {
	case yieldDone:
		t.result = op.result
		t.setState(TaskFinished)
		l.counters.completed.Add(1)
	case yieldFail:
		t.err = op.err
		if errors.Is(op.err, api.ErrTaskCancelled) || errors.Is(op.err, api.ErrDeadlineExceeded) {
			t.setState(TaskCancelled)
			l.counters.cancelled.Add(1)
		} else {
			t.setState(TaskFailed)
			l.counters.failed.Add(1)
			if len(t.awaiters) == 0 {
				l.log.WithFields(logrus.Fields{
					"task": t.name,
					"id":   t.id,
				}).WithError(op.err).Error("task failed with no awaiting caller")
			}
		}
	}
	l.wakeAwaiters(t)
}

// wakeAwaiters moves every task parked on t back to the ready queue.
func (l *Loop) wakeAwaiters(t *Task) {
	for _, a := range t.awaiters {
		a.awaiting = nil
		delete(l.awaiting, a)
		l.enqueue(a, nil)
	}
	t.awaiters = nil
}

// checkIdle decides whether the loop is done. When only parked awaiters
// remain with nothing left to wake them, the graph is stalled: each
// parked task is failed with api.ErrStalled so its goroutine unwinds,
// and Run reports the stall once everything drains.
func (l *Loop) checkIdle() bool {
	if l.ready.Length() > 0 || l.hasPending() || len(l.regs) > 0 || l.deadlines.Len() > 0 {
		return false
	}
	if len(l.awaiting) == 0 {
		return true
	}
	if !l.stalled {
		l.stalled = true
		parked := make([]*Task, 0, len(l.awaiting))
		for a := range l.awaiting {
			parked = append(parked, a)
		}
		for _, a := range parked {
			l.dropAwait(a)
			l.enqueue(a, api.ErrStalled)
		}
	}
	return false
}
