package seccomp

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

func setFilter(filter []unix.SockFilter, flags Flags) error {
	prog := unix.SockFprog{
		Len:    uint16(len(filter)),
		Filter: &filter[0],
	}

	_, _, errno := unix.Syscall(unix.SYS_SECCOMP, unix.SECCOMP_SET_MODE_FILTER, uintptr(flags), uintptr(unsafe.Pointer(&prog)))

	runtime.KeepAlive(filter)

	if errno != 0 {
		return errno
	}

	return nil
}
