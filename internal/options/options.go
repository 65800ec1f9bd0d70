// Package options holds the parsed command line of the harness tools.
package options

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyhicks/ssbd-tools/internal/seccomp"
	"github.com/tyhicks/ssbd-tools/internal/specctrl"
	"github.com/tyhicks/ssbd-tools/internal/ssbd"
)

var (
	ErrInvalidBit      = errors.New("invalid SSBD bit value (valid values are 0, 1)")
	ErrForkWithoutExec = errors.New(`-f is only valid with "-- ..."`)
	ErrUnexpectedArgs  = errors.New(`unexpected arguments: the program to execute must follow "--"`)
	ErrMissingBitValue = errors.New("the expected SSBD bit value is required")
)

// Options is the full set of choices of one run. It is built once by
// the command line layer and never modified afterwards.
type Options struct {
	// Pin restricts the process to CPU. Runs that read the msr device
	// of CPU are pinned regardless, see PinsCPU.
	CPU int
	Pin bool

	// SetControl applies Control with PR_SET_SPECULATION_CTRL.
	SetControl bool
	Control    specctrl.Value

	// InstallFilter loads the permissive seccomp filter with SeccompFlags.
	InstallFilter bool
	SeccompFlags  seccomp.Flags

	// CrossCheck prints the prctl state and checks the bit against it.
	CrossCheck bool

	// CheckControl compares the prctl value with ExpectedControl
	// before the cross check.
	CheckControl    bool
	ExpectedControl specctrl.Value

	// Verify compares the bit with Expected as long as Policy says.
	Verify   bool
	Expected bool
	Policy   ssbd.Policy

	// Fork runs Argv in a child process instead of replacing the image.
	Fork bool
	Argv []string

	// SkipEPERM downgrades a permission error on the msr device to a
	// warning and skips every bit check.
	SkipEPERM bool
}

// Validate checks the combinations the individual parsers cannot see.
func (o *Options) Validate() error {
	if o.Fork && len(o.Argv) == 0 {
		return ErrForkWithoutExec
	}
	if o.CPU < 0 {
		return fmt.Errorf("invalid CPU number: %d", o.CPU)
	}

	return nil
}

// NeedsMSR reports whether the run reads the SSBD bit at all.
func (o *Options) NeedsMSR() bool {
	return o.Verify || o.CrossCheck || o.CheckControl
}

// PinsCPU reports whether the process must be restricted to CPU. The SSBD
// bit is per CPU and reflects the task running there, so every run that
// reads it is pinned even when pinning was not requested.
func (o *Options) PinsCPU() bool {
	return o.Pin || o.NeedsMSR()
}

// Exec reports whether a program is to be executed.
func (o *Options) Exec() bool {
	return len(o.Argv) > 0
}

// SplitArgs splits the raw command line at the first "--". The part
// before it belongs to the tool, the part after it is the program to
// execute with its arguments.
func SplitArgs(args []string) (own, argv []string) {
	for idx, arg := range args {
		if arg == "--" {
			return args[:idx:idx], args[idx+1:]
		}
	}

	return args, nil
}

// ParseBit parses an expected SSBD bit value.
func ParseBit(s string) (bool, error) {
	switch s {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}

	return false, fmt.Errorf("%w: %q", ErrInvalidBit, s)
}

// ParseExpect parses VAL[:SECONDS]. Without SECONDS the bit is read
// once; SECONDS of 0 means until interrupted.
func ParseExpect(s string) (bool, ssbd.Policy, error) {
	val, secs, found := strings.Cut(s, ":")

	bit, err := ParseBit(val)
	if err != nil {
		return false, ssbd.Policy{}, err
	}

	if !found {
		return bit, ssbd.SingleShot(), nil
	}

	p, err := ssbd.ParsePolicy(secs)
	if err != nil {
		return false, ssbd.Policy{}, err
	}

	return bit, p, nil
}
