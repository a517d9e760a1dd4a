// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package loop implements a single-threaded cooperative scheduler for
// non-blocking socket I/O.
//
// A Loop owns a FIFO ready queue, a registration table binding waiting
// tasks to (descriptor, interest) pairs, and a readiness multiplexer.
// Each tick polls the multiplexer, wakes the tasks whose descriptors
// became ready, and advances every runnable task exactly one suspension
// step. The loop runs until no task is queued, registered, awaited or
// holding a deadline.
//
// Tasks are goroutine-backed coroutines with a strict unbuffered
// yield/resume handshake: at any instant either the loop or exactly one
// task executes, so the queue and table need no locking on the tick
// path. Suspension happens only inside the three I/O primitives
// (Accept, Recv, Send) and in Await.
package loop
