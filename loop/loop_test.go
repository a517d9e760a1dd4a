//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly
// +build linux darwin freebsd netbsd openbsd dragonfly

// File: loop/loop_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loop

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-loop/api"
	"github.com/momentics/hioload-loop/sockio"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	l, err := New(Config{Logger: logger})
	if err != nil {
		if errors.Is(err, api.ErrNotSupported) {
			t.Skip("no poll-mode backend on this platform")
		}
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func newTestPair(t *testing.T) (*sockio.Conn, *sockio.Conn) {
	t.Helper()
	c1, c2, err := sockio.Pair()
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	t.Cleanup(func() {
		c1.Close()
		c2.Close()
	})
	return c1, c2
}

func TestRunEmptyLoopTerminates(t *testing.T) {
	l := newTestLoop(t)
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run on empty loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate on an empty loop")
	}
}

func TestRunFIFOOrder(t *testing.T) {
	l := newTestLoop(t)
	var order []string
	mk := func(name string) *Task {
		return NewTask(name, func(c *Ctx) (any, error) {
			order = append(order, name)
			return nil, nil
		})
	}
	l.Submit(mk("t1"))
	l.Submit(mk("t2"))
	l.Submit(mk("t3"))
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(order) != 3 || order[0] != "t1" || order[1] != "t2" || order[2] != "t3" {
		t.Errorf("expected FIFO order [t1 t2 t3], got %v", order)
	}
}

// A connection already queued by the OS must be accepted on the first
// tick without the task ever suspending on readiness.
func TestAcceptPendingConnectionFirstTick(t *testing.T) {
	l := newTestLoop(t)
	ln, err := sockio.Listen("127.0.0.1:0", 0)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	client, err := net.Dial("tcp", ln.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	task := NewTask("acceptor", func(c *Ctx) (any, error) {
		conn, aerr := c.Accept(ln)
		if aerr != nil {
			return nil, aerr
		}
		defer conn.Close()
		return conn.FD(), nil
	})
	l.Submit(task)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.State() != TaskFinished {
		t.Fatalf("expected finished, got %v", task.State())
	}
	if got := l.Stats().Wakeups; got != 0 {
		t.Errorf("expected 0 readiness wakeups for a pending accept, got %d", got)
	}
}

// A recv with no data suspends; a byte fed from another goroutine must
// wake it within the next poll cycle.
func TestRecvResumesOnData(t *testing.T) {
	l := newTestLoop(t)
	c1, c2 := newTestPair(t)

	task := NewTask("reader", func(c *Ctx) (any, error) {
		buf := make([]byte, 16)
		n, err := c.Recv(c1, buf)
		if err != nil {
			return nil, err
		}
		return string(buf[:n]), nil
	})
	l.Submit(task)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(50 * time.Millisecond)
		_, err := c2.Send([]byte("x"))
		return err
	})

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("feeder: %v", err)
	}
	res, err := task.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.(string) != "x" {
		t.Errorf("expected %q, got %q", "x", res)
	}
	if got := l.Stats().Wakeups; got != 1 {
		t.Errorf("expected exactly 1 wakeup, got %d", got)
	}
}

// Two tasks waiting on two sockets: only the one whose socket became
// ready resumes; the other stays registered until its own data arrives.
func TestOnlyReadyTaskResumes(t *testing.T) {
	l := newTestLoop(t)
	a1, a2 := newTestPair(t)
	b1, b2 := newTestPair(t)

	var order []string
	var bStillRegistered bool

	reader := func(name string, conn *sockio.Conn, other *sockio.Conn) *Task {
		return NewTask(name, func(c *Ctx) (any, error) {
			buf := make([]byte, 1)
			if _, err := c.Recv(conn, buf); err != nil {
				return nil, err
			}
			if other != nil {
				// Runs under the loop hand-off, so the table is stable here.
				_, ok := l.regs[other.FD()]
				bStillRegistered = ok
			}
			order = append(order, name)
			return nil, nil
		})
	}
	ta := reader("a", a1, b1)
	tb := reader("b", b1, nil)
	l.Submit(ta)
	l.Submit(tb)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(30 * time.Millisecond)
		if _, err := a2.Send([]byte{1}); err != nil {
			return err
		}
		time.Sleep(100 * time.Millisecond)
		_, err := b2.Send([]byte{2})
		return err
	})

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("feeder: %v", err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Errorf("expected completion order [a b], got %v", order)
	}
	if !bStillRegistered {
		t.Error("task b should still be registered while a resumes")
	}
	if len(l.regs) != 0 {
		t.Errorf("registration table should be empty after Run, got %d entries", len(l.regs))
	}
}

// A task failing mid-protocol surfaces the failure to its awaiting
// caller and leaves no registration behind.
func TestFailurePropagatesToAwaiterAndUnregisters(t *testing.T) {
	l := newTestLoop(t)
	c1, c2 := newTestPair(t)
	errMalformed := fmt.Errorf("malformed payload")

	var awaitErr error
	parent := NewTask("parent", func(c *Ctx) (any, error) {
		child := c.Spawn("child", func(cc *Ctx) (any, error) {
			buf := make([]byte, 4)
			if _, err := cc.Recv(c1, buf); err != nil {
				return nil, err
			}
			return nil, errMalformed
		})
		_, awaitErr = c.Await(child)
		return nil, nil
	})
	l.Submit(parent)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(30 * time.Millisecond)
		_, err := c2.Send([]byte("??"))
		return err
	})

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("feeder: %v", err)
	}
	if !errors.Is(awaitErr, errMalformed) {
		t.Errorf("expected awaited error %v, got %v", errMalformed, awaitErr)
	}
	if len(l.regs) != 0 {
		t.Errorf("registration table should be empty after failure, got %d entries", len(l.regs))
	}
}

func TestAwaitReturnsResult(t *testing.T) {
	l := newTestLoop(t)
	var got any
	parent := NewTask("parent", func(c *Ctx) (any, error) {
		child := c.Spawn("child", func(*Ctx) (any, error) { return 42, nil })
		res, err := c.Await(child)
		if err != nil {
			return nil, err
		}
		got = res
		return nil, nil
	})
	l.Submit(parent)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != 42 {
		t.Errorf("expected awaited result 42, got %v", got)
	}
}

func TestAwaitSubmitsUnsubmittedTarget(t *testing.T) {
	l := newTestLoop(t)
	child := NewTask("child", func(*Ctx) (any, error) { return "done", nil })
	parent := NewTask("parent", func(c *Ctx) (any, error) {
		return c.Await(child)
	})
	l.Submit(parent)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res, err := parent.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if res.(string) != "done" {
		t.Errorf("expected %q, got %v", "done", res)
	}
}

func TestCancelWaitingTask(t *testing.T) {
	l := newTestLoop(t)
	c1, _ := newTestPair(t)

	task := NewTask("reader", func(c *Ctx) (any, error) {
		buf := make([]byte, 1)
		_, err := c.Recv(c1, buf)
		return nil, err
	})
	l.Submit(task)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	time.Sleep(50 * time.Millisecond)
	l.Cancel(task)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate after cancel")
	}
	if task.State() != TaskCancelled {
		t.Errorf("expected cancelled, got %v", task.State())
	}
	if _, err := task.Result(); !errors.Is(err, api.ErrTaskCancelled) {
		t.Errorf("expected ErrTaskCancelled, got %v", err)
	}
	if len(l.regs) != 0 {
		t.Errorf("registration table should be empty after cancel, got %d entries", len(l.regs))
	}
}

func TestDeadlineCancelsStuckRecv(t *testing.T) {
	l := newTestLoop(t)
	c1, _ := newTestPair(t)

	task := NewTask("reader", func(c *Ctx) (any, error) {
		buf := make([]byte, 1)
		_, err := c.Recv(c1, buf)
		return nil, err
	})
	l.Submit(task)
	l.SetDeadline(task, time.Now().Add(50*time.Millisecond))

	start := time.Now()
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("deadline took too long to fire: %v", elapsed)
	}
	if _, err := task.Result(); !errors.Is(err, api.ErrDeadlineExceeded) {
		t.Errorf("expected ErrDeadlineExceeded, got %v", err)
	}
	if got := l.Stats().DeadlineFires; got != 1 {
		t.Errorf("expected 1 deadline fire, got %d", got)
	}
}

func TestStalledAwaitCycle(t *testing.T) {
	l := newTestLoop(t)
	var ta, tb *Task
	ta = NewTask("a", func(c *Ctx) (any, error) { return c.Await(tb) })
	tb = NewTask("b", func(c *Ctx) (any, error) { return c.Await(ta) })
	l.Submit(ta)
	l.Submit(tb)

	err := l.Run()
	if !errors.Is(err, api.ErrStalled) {
		t.Fatalf("expected ErrStalled, got %v", err)
	}
	for _, task := range []*Task{ta, tb} {
		if !task.terminal() {
			t.Errorf("task %s should be terminal after stall, state %v", task.Name(), task.State())
		}
	}
}

// A later registration for the same (fd, interest) pair takes the slot;
// the displaced task is woken with ErrWatchReplaced instead of hanging.
func TestWatchReplacedDisplacesEarlierTask(t *testing.T) {
	l := newTestLoop(t)
	c1, c2 := newTestPair(t)

	mkReader := func(name string) *Task {
		return NewTask(name, func(c *Ctx) (any, error) {
			buf := make([]byte, 1)
			n, err := c.Recv(c1, buf)
			if err != nil {
				return nil, err
			}
			return buf[:n], nil
		})
	}
	t1 := mkReader("first")
	t2 := mkReader("second")
	l.Submit(t1)
	l.Submit(t2)

	var g errgroup.Group
	g.Go(func() error {
		time.Sleep(50 * time.Millisecond)
		_, err := c2.Send([]byte{7})
		return err
	})

	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("feeder: %v", err)
	}
	if _, err := t1.Result(); !errors.Is(err, api.ErrWatchReplaced) {
		t.Errorf("expected ErrWatchReplaced for displaced task, got %v", err)
	}
	if t2.State() != TaskFinished {
		t.Errorf("expected second task finished, got %v", t2.State())
	}
	if got := l.Stats().WatchReplaced; got != 1 {
		t.Errorf("expected 1 replaced watch, got %d", got)
	}
}

// Submitting from outside Run must interrupt a blocking poll.
func TestExternalSubmitWakesBlockedLoop(t *testing.T) {
	l := newTestLoop(t)
	c1, c2 := newTestPair(t)

	blocker := NewTask("blocker", func(c *Ctx) (any, error) {
		buf := make([]byte, 1)
		_, err := c.Recv(c1, buf)
		return nil, err
	})
	l.Submit(blocker)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	time.Sleep(50 * time.Millisecond)
	var ran bool
	l.Submit(NewTask("late", func(*Ctx) (any, error) {
		ran = true
		return nil, nil
	}))
	time.Sleep(50 * time.Millisecond)
	if _, err := c2.Send([]byte{1}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not terminate")
	}
	if !ran {
		t.Error("externally submitted task never ran")
	}
}

func TestPanicBecomesTaskFailure(t *testing.T) {
	l := newTestLoop(t)
	task := NewTask("bomb", func(*Ctx) (any, error) {
		panic("boom")
	})
	l.Submit(task)
	if err := l.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if task.State() != TaskFailed {
		t.Fatalf("expected failed, got %v", task.State())
	}
	_, err := task.Result()
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("expected panic failure, got %v", err)
	}
}
