// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package api defines the shared contracts of hioload-loop: readiness
// interests, readiness events, the Poller (multiplexer) interface and the
// common error values used across the scheduler, poller and socket layers.
package api
