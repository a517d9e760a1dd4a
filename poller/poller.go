// File: poller/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package poller

import "github.com/momentics/hioload-loop/api"

// New returns the platform readiness multiplexer: epoll on Linux, kqueue
// on Darwin/BSD. On unsupported platforms it returns api.ErrNotSupported.
func New() (api.Poller, error) {
	return newPoller()
}
