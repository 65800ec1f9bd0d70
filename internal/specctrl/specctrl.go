// Package specctrl gets and sets the store bypass speculation control of
// the calling thread through prctl(2).
package specctrl

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tyhicks/ssbd-tools/internal/version"

	"golang.org/x/sys/unix"
)

var (
	ErrNotSupported    = errors.New("this kernel does not support per-process speculation control")
	ErrNotControllable = errors.New("speculation cannot be controlled via prctl")
	ErrInvalidValue    = errors.New("invalid speculation control value")
)

// Value is the bitmask returned by PR_GET_SPECULATION_CTRL.
type Value uint

const (
	NotAffected  Value = unix.PR_SPEC_NOT_AFFECTED
	PRCTL        Value = unix.PR_SPEC_PRCTL
	Enable       Value = unix.PR_SPEC_ENABLE
	Disable      Value = unix.PR_SPEC_DISABLE
	ForceDisable Value = unix.PR_SPEC_FORCE_DISABLE
)

var names = map[string]Value{
	"enable":        Enable,
	"disable":       Disable,
	"force-disable": ForceDisable,
}

// ParseValue converts a command line value into a value accepted by Set.
func ParseValue(s string) (Value, error) {
	if v, ok := names[s]; ok {
		return v, nil
	}

	return 0, fmt.Errorf("%w: %q (valid values are enable, disable, force-disable)", ErrInvalidValue, s)
}

// State returns the human readable state of the value. The strings match
// the Speculation_Store_Bypass field of /proc/PID/status.
func (v Value) State() string {
	switch v {
	case NotAffected:
		return "not vulnerable"
	case PRCTL | Disable:
		return "thread mitigated"
	case PRCTL | ForceDisable:
		return "thread force mitigated"
	case PRCTL | Enable:
		return "thread vulnerable"
	case Disable:
		return "globally mitigated"
	}

	return "vulnerable"
}

func (v Value) String() string {
	if v == NotAffected {
		return "not-affected"
	}

	var parts []string

	for _, x := range []struct {
		bit  Value
		name string
	}{
		{PRCTL, "prctl"},
		{Enable, "enable"},
		{Disable, "disable"},
		{ForceDisable, "force-disable"},
	} {
		if v&x.bit != 0 {
			parts = append(parts, x.name)
		}
	}

	if rest := v &^ (PRCTL | Enable | Disable | ForceDisable); rest != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint(rest)))
	}

	return strings.Join(parts, "|")
}

// Controller gets and sets the store bypass speculation control.
type Controller interface {
	Get() (Value, error)
	Set(Value) error
}

// Prctl is the Controller backed by prctl(2). It acts on the calling
// thread only, so callers keep their goroutine locked to one OS thread.
type Prctl struct {
	call func(option int, arg2, arg3 uintptr) (int, error)
}

func (p *Prctl) prctl(option int, arg2, arg3 uintptr) (int, error) {
	if p.call != nil {
		return p.call(option, arg2, arg3)
	}

	return unix.PrctlRetInt(option, arg2, arg3, 0, 0)
}

// Get returns the current value. A value without the PRCTL flag is an
// error: such a value cannot be changed with Set.
func (p *Prctl) Get() (Value, error) {
	rc, err := p.prctl(unix.PR_GET_SPECULATION_CTRL, unix.PR_SPEC_STORE_BYPASS, 0)
	if err != nil {
		if errors.Is(err, unix.EINVAL) {
			return 0, ErrNotSupported
		}
		return 0, fmt.Errorf("couldn't get the value of the PR_SPEC_STORE_BYPASS prctl: %w", err)
	}

	v := Value(rc)

	if v&PRCTL == 0 {
		return v, fmt.Errorf("%w (value: %s)", ErrNotControllable, v)
	}

	return v, nil
}

// Set changes the value. The write is never issued when Get fails.
func (p *Prctl) Set(v Value) error {
	if _, err := p.Get(); err != nil {
		return fmt.Errorf("cannot set the PR_SPEC_STORE_BYPASS prctl: %w", err)
	}

	if _, err := p.prctl(unix.PR_SET_SPECULATION_CTRL, unix.PR_SPEC_STORE_BYPASS, uintptr(v)); err != nil {
		return fmt.Errorf("couldn't set the value of the PR_SPEC_STORE_BYPASS prctl to %s: %w", v, err)
	}

	return nil
}

// Explain adds the running kernel release to ErrNotSupported when the
// kernel is older than the first release with speculation control.
func Explain(err error) error {
	return explain(err, version.Kernel)
}

func explain(err error, kernel func() (*version.Version, string, error)) error {
	if !errors.Is(err, ErrNotSupported) {
		return err
	}

	v, release, kerr := kernel()
	if kerr != nil || !v.Less(version.SpeculationControl) {
		return err
	}

	return fmt.Errorf("%w (running %s, Linux %d.%d or newer is required)", err, release, version.SpeculationControl.Major, version.SpeculationControl.Minor)
}
