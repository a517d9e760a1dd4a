// File: loop/ioctx.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ctx: the in-task handle exposing the suspension primitives. Each
// primitive is a restartable two-phase operation: attempt the
// non-blocking syscall, suspend on would-block, retry once the loop
// reports readiness. Would-block never escapes to the task body.

package loop

import (
	"errors"

	"github.com/momentics/hioload-loop/api"
	"github.com/momentics/hioload-loop/sockio"
)

// Ctx is handed to a task body and is only valid inside it. It must not
// be retained or used from other goroutines.
type Ctx struct {
	loop *Loop
	task *Task
}

// Task returns the task this context belongs to.
func (c *Ctx) Task() *Task { return c.task }

// wait parks the task until the loop reports fd ready for interest. The
// returned error is an injected condition (cancellation, deadline,
// displaced watch) raised at this suspension point.
func (c *Ctx) wait(fd int, interest api.Interest) error {
	c.task.yield <- yieldOp{kind: yieldWait, fd: fd, interest: interest}
	return <-c.task.resume
}

// Accept waits for and returns the next connection on l. If a connection
// is already queued by the OS the task never suspends.
func (c *Ctx) Accept(l *sockio.Listener) (*sockio.Conn, error) {
	for {
		conn, err := l.Accept()
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			return nil, err
		}
		if werr := c.wait(l.FD(), api.Readable); werr != nil {
			return nil, werr
		}
	}
}

// Recv reads available bytes from conn into buf, suspending until the
// socket is readable. A return of (0, nil) means the peer closed the
// connection.
func (c *Ctx) Recv(conn *sockio.Conn, buf []byte) (int, error) {
	for {
		n, err := conn.Recv(buf)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			return 0, err
		}
		if werr := c.wait(conn.FD(), api.Readable); werr != nil {
			return 0, werr
		}
	}
}

// Send writes p to conn, suspending until the socket is writable. It
// returns the number of bytes written by the one successful syscall; the
// caller loops on partial writes (or uses SendAll).
func (c *Ctx) Send(conn *sockio.Conn, p []byte) (int, error) {
	for {
		n, err := conn.Send(p)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			return 0, err
		}
		if werr := c.wait(conn.FD(), api.Writable); werr != nil {
			return 0, werr
		}
	}
}

// SendAll writes all of p, looping over Send across partial writes.
func (c *Ctx) SendAll(conn *sockio.Conn, p []byte) error {
	for len(p) > 0 {
		n, err := c.Send(conn, p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// Spawn submits a sub-task to the loop and returns its handle. The
// sub-task becomes runnable on the next tick.
func (c *Ctx) Spawn(name string, body TaskFunc) *Task {
	t := NewTask(name, body)
	c.loop.Submit(t)
	return t
}

// Await parks the current task until target reaches a terminal state and
// returns target's result. A failure of the target propagates to the
// caller here, at its own resume point. An unsubmitted target is
// submitted implicitly so delegation cannot deadlock on a forgotten
// Submit.
func (c *Ctx) Await(target *Task) (any, error) {
	if target.terminal() {
		return target.Result()
	}
	c.task.yield <- yieldOp{kind: yieldAwait, target: target}
	if err := <-c.task.resume; err != nil {
		return nil, err
	}
	return target.Result()
}
