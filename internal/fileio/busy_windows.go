//go:build windows

package fileio

import (
	"syscall"

	"golang.org/x/sys/windows"
)

func isBusyErrno(errno syscall.Errno) bool {
	switch errno {
	case windows.ERROR_SHARING_VIOLATION, windows.ERROR_LOCK_VIOLATION,
		windows.ERROR_ACCESS_DENIED, windows.ERROR_BUSY:
		return true
	}
	return false
}
