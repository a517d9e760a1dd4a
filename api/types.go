// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness interest and event types shared by the poller and the loop.

package api

// Interest selects the readiness condition a descriptor is watched for.
// Values combine as a bitmask at the multiplexer level; a single task
// always waits on exactly one interest.
type Interest uint8

const (
	// Readable fires when a read/accept on the descriptor would not block.
	Readable Interest = 1 << iota
	// Writable fires when a write on the descriptor would not block.
	Writable
)

// Has reports whether i contains all bits of o.
func (i Interest) Has(o Interest) bool { return i&o == o }

// String returns a human-readable form for logging.
func (i Interest) String() string {
	switch {
	case i.Has(Readable) && i.Has(Writable):
		return "readable|writable"
	case i.Has(Readable):
		return "readable"
	case i.Has(Writable):
		return "writable"
	}
	return "none"
}

// Event is one readiness notification reported by a Poller.
// Interest may carry both bits when the descriptor became readable and
// writable in the same poll.
type Event struct {
	FD       int
	Interest Interest
}
