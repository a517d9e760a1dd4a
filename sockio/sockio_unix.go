//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly
// +build linux darwin freebsd netbsd openbsd dragonfly

// File: sockio/sockio_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking socket operations shared by all unix platforms.

package sockio

import (
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-loop/api"
)

// Listen opens a non-blocking listening TCP socket on addr
// ("host:port"; an empty host or port 0 delegate to the OS).
func Listen(addr string, backlog int) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	sa, family, err := sockaddrFromTCPAddr(tcpAddr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket create: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	unix.CloseOnExec(fd)
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)

	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %q: %w", addr, err)
	}
	if backlog <= 0 {
		backlog = unix.SOMAXCONN
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("listen %q: %w", addr, err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return &Listener{fd: fd, addr: sockaddrString(bound)}, nil
}

// Accept attempts one non-blocking accept. It returns api.ErrWouldBlock
// when no connection is queued. Accepted sockets are non-blocking with
// TCP_NODELAY set, matching the listening socket's discipline.
func (l *Listener) Accept() (*Conn, error) {
	nfd, err := sysAccept(l.fd)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, api.ErrWouldBlock
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
	_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	return &Conn{fd: nfd}, nil
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

// Recv attempts one non-blocking read into buf. It returns
// api.ErrWouldBlock when no data is available and (0, nil) when the peer
// closed the connection.
func (c *Conn) Recv(buf []byte) (int, error) {
	n, err := unix.Read(c.fd, buf)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, api.ErrWouldBlock
		}
		return 0, fmt.Errorf("recv: %w", err)
	}
	return n, nil
}

// Send attempts one non-blocking write of p. It returns the number of
// bytes written (possibly short) or api.ErrWouldBlock when the socket
// buffer is full.
func (c *Conn) Send(p []byte) (int, error) {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, api.ErrWouldBlock
		}
		return 0, fmt.Errorf("send: %w", err)
	}
	return n, nil
}

// Close closes the socket.
func (c *Conn) Close() error {
	return unix.Close(c.fd)
}

// Pair returns two connected non-blocking unix stream sockets. Used by
// tests and as a general in-process byte channel.
func Pair() (*Conn, *Conn, error) {
	fds, err := sysPair()
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return &Conn{fd: fds[0]}, &Conn{fd: fds[1]}, nil
}

// WakePipe is a non-blocking self-pipe. The loop registers its read end
// with the multiplexer so cross-thread Submit/Cancel can interrupt a
// blocking poll.
type WakePipe struct {
	r, w int
}

// NewWakePipe opens a non-blocking pipe.
func NewWakePipe() (*WakePipe, error) {
	r, w, err := sysPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}
	return &WakePipe{r: r, w: w}, nil
}

// ReadFD returns the readable end for readiness registration.
func (p *WakePipe) ReadFD() int { return p.r }

// Wake makes the read end ready. A full pipe already guarantees a
// pending wakeup, so EAGAIN is ignored.
func (p *WakePipe) Wake() {
	_, _ = unix.Write(p.w, []byte{1})
}

// Drain discards all queued wakeup bytes.
func (p *WakePipe) Drain() {
	var buf [64]byte
	for {
		n, err := unix.Read(p.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close closes both ends.
func (p *WakePipe) Close() error {
	werr := unix.Close(p.w)
	rerr := unix.Close(p.r)
	if rerr != nil {
		return rerr
	}
	return werr
}

func sockaddrFromTCPAddr(a *net.TCPAddr) (unix.Sockaddr, int, error) {
	ip := a.IP
	if ip == nil || ip.To4() != nil {
		sa := &unix.SockaddrInet4{Port: a.Port}
		if ip4 := ip.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
		}
		return sa, unix.AF_INET, nil
	}
	if ip16 := ip.To16(); ip16 != nil {
		sa := &unix.SockaddrInet6{Port: a.Port}
		copy(sa.Addr[:], ip16)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, fmt.Errorf("unsupported address %q", a.String())
}

func sockaddrString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(v.Addr[:]).String(), strconv.Itoa(v.Port))
	}
	return ""
}
