// File: sockio/sockio.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable descriptor-owning types. All syscall paths live in the
// platform files.

package sockio

import (
	"errors"

	"github.com/momentics/hioload-loop/api"
)

// Listener owns a non-blocking listening TCP socket.
type Listener struct {
	fd   int
	addr string
}

// FD returns the raw descriptor, used for readiness registration.
func (l *Listener) FD() int { return l.fd }

// Addr returns the bound address in "host:port" form.
func (l *Listener) Addr() string { return l.addr }

// Conn owns one non-blocking connected socket. A Conn is operated on by
// exactly one task at a time; the loop itself never touches its buffers.
type Conn struct {
	fd int
}

// FD returns the raw descriptor, used for readiness registration.
func (c *Conn) FD() int { return c.fd }

// IsWouldBlock reports whether err is the transient would-block condition.
func IsWouldBlock(err error) bool {
	return errors.Is(err, api.ErrWouldBlock)
}
