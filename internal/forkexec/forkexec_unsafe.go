package forkexec

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

//go:linkname beforeFork syscall.runtime_BeforeFork
func beforeFork()

//go:linkname afterFork syscall.runtime_AfterFork
func afterFork()

//go:linkname afterForkInChild syscall.runtime_AfterForkInChild
func afterForkInChild()

// forkAndVerify returns the child's pid in the parent and never returns in
// the child.
//
//go:noinline
//go:norace
func forkAndVerify(c *child) (int, unix.Errno) {
	beforeFork()

	r1, _, errno := unix.RawSyscall6(unix.SYS_CLONE, uintptr(unix.SIGCHLD), 0, 0, 0, 0, 0)
	if errno != 0 || r1 != 0 {
		afterFork()
		return int(r1), errno
	}

	afterForkInChild()

	runChild(c)

	return 0, 0
}

// runChild is the forked child. It only issues raw system calls.
//
//go:nosplit
//go:norace
func runChild(c *child) {
	if c.verify {
		var value uint64

		// x86 MSRs are little-endian, as is the host
		n, _, errno := unix.RawSyscall6(unix.SYS_PREAD64, c.fd, uintptr(unsafe.Pointer(&value)), 8, c.reg, 0, 0)
		if errno != 0 || n != 8 {
			childExit(c.readMsg)
		}

		if (value&c.mask != 0) != c.want {
			childExit(c.failMsg)
		}
	}

	unix.RawSyscall(unix.SYS_EXECVE,
		uintptr(unsafe.Pointer(c.path)),
		uintptr(unsafe.Pointer(&c.argv[0])),
		uintptr(unsafe.Pointer(&c.envv[0])))

	childExit(c.execMsg)
}

//go:nosplit
//go:norace
func childExit(msg []byte) {
	unix.RawSyscall(unix.SYS_WRITE, 2, uintptr(unsafe.Pointer(&msg[0])), uintptr(len(msg)))

	for {
		unix.RawSyscall(unix.SYS_EXIT_GROUP, 1, 0, 0)
	}
}
