//go:build darwin || freebsd || netbsd || openbsd || dragonfly
// +build darwin freebsd netbsd openbsd dragonfly

// File: poller/poller_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// BSD/Darwin readiness multiplexer built on kqueue.

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-loop/api"
)

// kqueuePoller implements api.Poller using kqueue. kqueue keeps one
// kevent per (fd, filter) pair, so interest changes are expressed as
// EV_ADD/EV_DELETE deltas against the stored mask.
type kqueuePoller struct {
	kq      int
	watched map[int]api.Interest
	scratch []unix.Kevent_t
}

func newPoller() (api.Poller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, fmt.Errorf("kqueue create: %w", err)
	}
	return &kqueuePoller{
		kq:      kq,
		watched: make(map[int]api.Interest),
	}, nil
}

func kevent(fd, filter, flags int) unix.Kevent_t {
	var ev unix.Kevent_t
	unix.SetKevent(&ev, fd, filter, flags)
	return ev
}

// Register adds or modifies the watch for fd.
func (p *kqueuePoller) Register(fd int, interest api.Interest) error {
	prev := p.watched[fd]
	var changes []unix.Kevent_t

	delta := func(bit api.Interest, filter int) {
		switch {
		case interest.Has(bit) && !prev.Has(bit):
			changes = append(changes, kevent(fd, filter, unix.EV_ADD))
		case !interest.Has(bit) && prev.Has(bit):
			changes = append(changes, kevent(fd, filter, unix.EV_DELETE))
		}
	}
	delta(api.Readable, unix.EVFILT_READ)
	delta(api.Writable, unix.EVFILT_WRITE)

	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			return fmt.Errorf("kevent change fd=%d: %w", fd, err)
		}
	}
	p.watched[fd] = interest
	return nil
}

// Unregister removes the watch for fd entirely; unknown descriptors and
// already-expired kevents are tolerated.
func (p *kqueuePoller) Unregister(fd int) error {
	prev, ok := p.watched[fd]
	if !ok {
		return nil
	}
	delete(p.watched, fd)

	var changes []unix.Kevent_t
	if prev.Has(api.Readable) {
		changes = append(changes, kevent(fd, unix.EVFILT_READ, unix.EV_DELETE))
	}
	if prev.Has(api.Writable) {
		changes = append(changes, kevent(fd, unix.EVFILT_WRITE, unix.EV_DELETE))
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return fmt.Errorf("kevent delete fd=%d: %w", fd, err)
	}
	return nil
}

// Poll reports ready descriptors. EV_EOF surfaces as readiness for the
// registered filter; the task's next syscall observes the close.
func (p *kqueuePoller) Poll(timeoutMs int, events []api.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(p.scratch) < len(events) {
		p.scratch = make([]unix.Kevent_t, len(events))
	}
	scratch := p.scratch[:len(events)]

	var ts *unix.Timespec
	if timeoutMs >= 0 {
		t := unix.NsecToTimespec(int64(timeoutMs) * 1e6)
		ts = &t
	}

	n, err := unix.Kevent(p.kq, nil, scratch, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("kevent wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := scratch[i]
		var interest api.Interest
		switch int64(ev.Filter) {
		case int64(unix.EVFILT_READ):
			interest = api.Readable
		case int64(unix.EVFILT_WRITE):
			interest = api.Writable
		default:
			continue
		}
		events[out] = api.Event{FD: int(ev.Ident), Interest: interest}
		out++
	}
	return out, nil
}

// Close releases the kqueue descriptor.
func (p *kqueuePoller) Close() error {
	return unix.Close(p.kq)
}
