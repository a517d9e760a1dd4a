//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly
// +build !linux,!darwin,!freebsd,!netbsd,!openbsd,!dragonfly

// File: poller/poller_stub.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stub for platforms without a poll-mode readiness facility.

package poller

import "github.com/momentics/hioload-loop/api"

func newPoller() (api.Poller, error) {
	return nil, api.ErrNotSupported
}
