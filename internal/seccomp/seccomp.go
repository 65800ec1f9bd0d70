// Package seccomp installs a permissive seccomp filter. Loading any filter
// makes the kernel enable SSBD for the task unless SECCOMP_FILTER_FLAG_SPEC_ALLOW
// is passed, which is the side effect under test.
package seccomp

import (
	"errors"
	"fmt"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

var ErrInvalidFlags = errors.New("invalid seccomp filter flags")

// Flags are the flags of SECCOMP_SET_MODE_FILTER.
type Flags uint

const (
	FlagsEmpty    Flags = 0
	FlagSpecAllow Flags = unix.SECCOMP_FILTER_FLAG_SPEC_ALLOW
)

// ParseFlags converts a command line value into filter flags.
func ParseFlags(s string) (Flags, error) {
	switch s {
	case "empty":
		return FlagsEmpty, nil
	case "spec-allow":
		return FlagSpecAllow, nil
	}

	return 0, fmt.Errorf("%w: %q (valid values are empty, spec-allow)", ErrInvalidFlags, s)
}

func (f Flags) String() string {
	switch f {
	case FlagsEmpty:
		return "empty"
	case FlagSpecAllow:
		return "spec-allow"
	}

	return fmt.Sprintf("%#x", uint(f))
}

// Program returns the filter: load the syscall number and allow it,
// whatever it is.
func Program() ([]unix.SockFilter, error) {
	raw, err := bpf.Assemble([]bpf.Instruction{
		// offsetof(struct seccomp_data, nr)
		bpf.LoadAbsolute{Off: 0, Size: 4},
		bpf.RetConstant{Val: unix.SECCOMP_RET_ALLOW},
	})
	if err != nil {
		return nil, err
	}

	filter := make([]unix.SockFilter, 0, len(raw))

	for _, ins := range raw {
		filter = append(filter, unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		})
	}

	return filter, nil
}

// Install sets no_new_privs and loads the permissive filter with the given
// flags into the calling thread.
func Install(flags Flags) error {
	filter, err := Program()
	if err != nil {
		return fmt.Errorf("couldn't assemble the seccomp filter: %w", err)
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("couldn't set no new privs: %w", err)
	}

	if err := setFilter(filter, flags); err != nil {
		return fmt.Errorf("couldn't load the seccomp filter (flags: %s): %w", flags, err)
	}

	return nil
}
