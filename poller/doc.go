// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package poller provides the readiness multiplexer abstraction and its
// cross-platform implementations: epoll (Linux) and kqueue (Darwin/BSD).
package poller
