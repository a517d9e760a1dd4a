//go:build linux
// +build linux

// File: poller/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux readiness multiplexer built on epoll.

package poller

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-loop/api"
)

// epollPoller implements api.Poller using Linux epoll in level-triggered
// mode. It keeps the registered interest per descriptor so that
// re-registration maps to EPOLL_CTL_MOD and error/hangup conditions can
// be folded back into the watched interests.
type epollPoller struct {
	epfd    int
	watched map[int]api.Interest
	scratch []unix.EpollEvent
}

func newPoller() (api.Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &epollPoller{
		epfd:    epfd,
		watched: make(map[int]api.Interest),
	}, nil
}

func epollMask(interest api.Interest) uint32 {
	var mask uint32
	if interest.Has(api.Readable) {
		mask |= unix.EPOLLIN
	}
	if interest.Has(api.Writable) {
		mask |= unix.EPOLLOUT
	}
	return mask
}

// Register adds or modifies the watch for fd.
func (p *epollPoller) Register(fd int, interest api.Interest) error {
	ev := unix.EpollEvent{Events: epollMask(interest), Fd: int32(fd)}
	op := unix.EPOLL_CTL_ADD
	if _, ok := p.watched[fd]; ok {
		op = unix.EPOLL_CTL_MOD
	}
	if err := unix.EpollCtl(p.epfd, op, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl fd=%d: %w", fd, err)
	}
	p.watched[fd] = interest
	return nil
}

// Unregister removes the watch for fd entirely. Unknown descriptors are
// tolerated so that abandoning a connection is never an error path.
func (p *epollPoller) Unregister(fd int) error {
	if _, ok := p.watched[fd]; !ok {
		return nil
	}
	delete(p.watched, fd)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		if err == unix.ENOENT || err == unix.EBADF {
			return nil
		}
		return fmt.Errorf("epoll ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Poll reports ready descriptors. EPOLLERR/EPOLLHUP are folded into the
// interests registered for the descriptor so the waiting task retries its
// operation and observes the concrete socket error itself.
func (p *epollPoller) Poll(timeoutMs int, events []api.Event) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}
	if cap(p.scratch) < len(events) {
		p.scratch = make([]unix.EpollEvent, len(events))
	}
	scratch := p.scratch[:len(events)]

	n, err := unix.EpollWait(p.epfd, scratch, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}

	out := 0
	for i := 0; i < n; i++ {
		ev := scratch[i]
		fd := int(ev.Fd)

		var interest api.Interest
		if ev.Events&unix.EPOLLIN != 0 {
			interest |= api.Readable
		}
		if ev.Events&unix.EPOLLOUT != 0 {
			interest |= api.Writable
		}
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			interest |= p.watched[fd]
		}
		if interest == 0 {
			continue
		}
		events[out] = api.Event{FD: fd, Interest: interest}
		out++
	}
	return out, nil
}

// Close releases the epoll descriptor.
func (p *epollPoller) Close() error {
	return unix.Close(p.epfd)
}
