//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly
// +build !linux,!darwin,!freebsd,!netbsd,!openbsd,!dragonfly

// File: sockio/sockio_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub for platforms without non-blocking unix socket primitives.

package sockio

import "github.com/momentics/hioload-loop/api"

// Listen is unsupported on this platform.
func Listen(addr string, backlog int) (*Listener, error) {
	return nil, api.ErrNotSupported
}

// Accept is unsupported on this platform.
func (l *Listener) Accept() (*Conn, error) { return nil, api.ErrNotSupported }

// Close is unsupported on this platform.
func (l *Listener) Close() error { return api.ErrNotSupported }

// Recv is unsupported on this platform.
func (c *Conn) Recv(buf []byte) (int, error) { return 0, api.ErrNotSupported }

// Send is unsupported on this platform.
func (c *Conn) Send(p []byte) (int, error) { return 0, api.ErrNotSupported }

// Close is unsupported on this platform.
func (c *Conn) Close() error { return api.ErrNotSupported }

// Pair is unsupported on this platform.
func Pair() (*Conn, *Conn, error) { return nil, nil, api.ErrNotSupported }

// WakePipe is unsupported on this platform.
type WakePipe struct{}

// NewWakePipe is unsupported on this platform.
func NewWakePipe() (*WakePipe, error) { return nil, api.ErrNotSupported }

// ReadFD is unsupported on this platform.
func (p *WakePipe) ReadFD() int { return -1 }

// Wake is unsupported on this platform.
func (p *WakePipe) Wake() {}

// Drain is unsupported on this platform.
func (p *WakePipe) Drain() {}

// Close is unsupported on this platform.
func (p *WakePipe) Close() error { return api.ErrNotSupported }
