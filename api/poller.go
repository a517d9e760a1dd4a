// File: api/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Defines the abstract interface for readiness multiplexers backed by
// poll-mode OS facilities (epoll on Linux, kqueue on BSD/Darwin).

package api

// Poller is the readiness multiplexer: it watches file descriptors for
// an Interest and reports the subset that is currently ready.
//
// A Poller instance is owned by a single Loop and is not safe for
// concurrent use; the loop drives it synchronously between task steps.
type Poller interface {
	// Register begins watching fd for interest. Re-registering an fd
	// replaces its stored interest ("modify" semantics, never an error).
	Register(fd int, interest Interest) error

	// Unregister stops watching fd entirely. Unregistering a descriptor
	// that is not watched is a no-op, not an error.
	Unregister(fd int) error

	// Poll fills events with descriptors that are ready and returns how
	// many were written. timeoutMs == 0 performs a non-blocking check;
	// timeoutMs < 0 blocks until at least one descriptor is ready.
	// A signal interruption is reported as zero events, not an error.
	Poll(timeoutMs int, events []Event) (int, error)

	// Close releases the underlying OS facility.
	Close() error
}
