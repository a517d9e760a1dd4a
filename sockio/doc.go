// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package sockio is the non-blocking socket layer underneath the loop's
// suspension primitives. Every operation attempts its syscall exactly
// once and reports the would-block condition as api.ErrWouldBlock; the
// scheduler turns that condition into a suspension, never into a failure.
package sockio
