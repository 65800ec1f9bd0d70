package helpers

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// ExitCode converts the wait status of a child into the exit code of
// the parent: the child's own code when it exited normally, 1 otherwise.
func ExitCode(ws unix.WaitStatus) int {
	if ws.Exited() {
		return ws.ExitStatus()
	}

	return 1
}

// ResolveExecutable returns the absolute path of the program to execute.
// A name without a slash is searched in PATH.
func ResolveExecutable(fname string) (string, error) {
	if !strings.Contains(fname, "/") {
		p, err := exec.LookPath(fname)
		if err != nil {
			return "", err
		}
		fname = p
	}

	st, err := os.Stat(fname)
	if err != nil {
		return "", err
	}

	if !st.Mode().IsRegular() {
		return "", fmt.Errorf("not a file: %s", fname)
	}

	if st.Mode()&0111 == 0 {
		return "", fmt.Errorf("not executable: %s", fname)
	}

	return filepath.Abs(fname)
}
