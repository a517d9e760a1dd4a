//go:build linux
// +build linux

// File: sockio/sockio_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux fast paths: accept4, SOCK_NONBLOCK socketpair, pipe2.

package sockio

import "golang.org/x/sys/unix"

func sysAccept(fd int) (int, error) {
	nfd, _, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, err
	}
	return nfd, nil
}

func sysPair() ([2]int, error) {
	return unix.Socketpair(unix.AF_UNIX,
		unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
}

func sysPipe() (int, int, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return -1, -1, err
	}
	return fds[0], fds[1], nil
}
