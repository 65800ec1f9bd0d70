// Package forkexec forks the calling thread, checks the SSBD bit in the
// child before anything else happens there and then replaces the child
// image with execve(2).
//
// The check has to run between fork and exec in the child itself, which
// os/exec and syscall.ForkExec cannot do, so the fork is done here with a
// raw clone(2) the same way the syscall package does it.
package forkexec

import (
	"errors"
	"fmt"

	"github.com/tyhicks/ssbd-tools/internal/ssbd"

	"golang.org/x/sys/unix"
)

var (
	ErrFork = errors.New("fork failed")
	ErrExec = errors.New("exec failed")
	ErrWait = errors.New("wait failed")
)

// Request describes the single-shot check the child performs and the
// program it executes afterwards.
type Request struct {
	// Verify is false when the child has nothing to check and goes
	// straight to execve.
	Verify bool

	// Fd is an msr device descriptor. The child inherits it.
	Fd       int
	Location ssbd.Location
	Expected bool

	Path string
	Argv []string
	Env  []string
}

// child holds everything the forked child needs, prepared in the parent:
// the child must not allocate.
type child struct {
	verify bool

	fd   uintptr
	reg  uintptr
	mask uint64
	want bool

	path *byte
	argv []*byte
	envv []*byte

	failMsg []byte
	readMsg []byte
	execMsg []byte
}

// bytePtrSlice converts ss into the NULL-terminated array of C strings
// that execve expects.
func bytePtrSlice(ss []string) ([]*byte, error) {
	ptrs := make([]*byte, 0, len(ss)+1)

	for _, s := range ss {
		p, err := unix.BytePtrFromString(s)
		if err != nil {
			return nil, err
		}
		ptrs = append(ptrs, p)
	}

	return append(ptrs, nil), nil
}

func newChild(req *Request) (*child, error) {
	if len(req.Argv) == 0 {
		return nil, fmt.Errorf("%w: empty argument list", ErrExec)
	}

	path, err := unix.BytePtrFromString(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrExec, req.Path, err)
	}

	argv, err := bytePtrSlice(req.Argv)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExec, err)
	}

	envv, err := bytePtrSlice(req.Env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExec, err)
	}

	mismatch := ssbd.MismatchError{
		Location: req.Location,
		Expected: req.Expected,
		Actual:   !req.Expected,
	}

	return &child{
		verify:  req.Verify,
		fd:      uintptr(req.Fd),
		reg:     uintptr(req.Location.Register),
		mask:    req.Location.Mask(),
		want:    req.Expected,
		path:    path,
		argv:    argv,
		envv:    envv,
		failMsg: []byte(fmt.Sprintf("FAIL: %s in the forked child\n", mismatch.Error())),
		readMsg: []byte("ERROR: couldn't read the MSR in the forked child\n"),
		execMsg: []byte(fmt.Sprintf("ERROR: couldn't execute %s\n", req.Path)),
	}, nil
}

// ForkVerifyExec forks. Unless told otherwise, the child reads the SSBD bit once: on a mismatch it
// reports FAIL on stderr and exits with 1, otherwise it executes the
// requested program. The parent gets the child's pid.
//
// The caller must be locked to its OS thread: the child is a copy of the
// calling thread, with its prctl and seccomp state.
func ForkVerifyExec(req Request) (int, error) {
	c, err := newChild(&req)
	if err != nil {
		return 0, err
	}

	pid, errno := forkAndVerify(c)
	if errno != 0 {
		return 0, fmt.Errorf("%w: %w", ErrFork, errno)
	}

	return pid, nil
}

// Exec replaces the current process image. It only returns on failure.
func Exec(path string, argv, env []string) error {
	if err := unix.Exec(path, argv, env); err != nil {
		return fmt.Errorf("%w: couldn't execute %s: %w", ErrExec, path, err)
	}

	return nil
}

// Wait waits for the child to terminate.
func Wait(pid int) (unix.WaitStatus, error) {
	var ws unix.WaitStatus

	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		switch {
		case err == nil:
			return ws, nil
		case errors.Is(err, unix.EINTR):
			// Interrupted by a signal before the child changed state
			continue
		default:
			return ws, fmt.Errorf("%w: pid %d: %w", ErrWait, pid, err)
		}
	}
}
