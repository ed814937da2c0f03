//go:build !windows

package fileio

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func isBusyErrno(errno syscall.Errno) bool {
	switch errno {
	case unix.EAGAIN, unix.EBUSY, unix.EACCES, unix.EPERM, unix.ETXTBSY, unix.EINTR:
		return true
	}
	return errno == unix.EWOULDBLOCK
}
