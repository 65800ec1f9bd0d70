package ssbd

import (
	"context"
	"errors"
	"fmt"

	"github.com/tyhicks/ssbd-tools/internal/cpu"
	"github.com/tyhicks/ssbd-tools/internal/msr"
	"github.com/tyhicks/ssbd-tools/internal/specctrl"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var (
	ErrInterrupted         = errors.New("SSBD bit verification was interrupted")
	ErrUnknownControlValue = errors.New("unknown SSBD prctl value; can't verify the MSR")
)

// MismatchError means the bit was read successfully but holds the wrong value.
// This is the verification failing, as opposed to erroring.
type MismatchError struct {
	Location Location
	Expected bool
	Actual   bool
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("SSBD bit verification failed (expected %d, got %d; %s)", b2i(e.Expected), b2i(e.Actual), e.Location)
}

// ValueMismatchError means the speculation control prctl reports another
// value than the one requested.
type ValueMismatchError struct {
	Expected specctrl.Value
	Actual   specctrl.Value
}

func (e *ValueMismatchError) Error() string {
	return fmt.Sprintf("expected SSBD prctl value (%s) does not match the actual value (%s)", e.Expected, e.Actual)
}

// IsMismatch reports whether err is (or wraps) a *MismatchError
// or a *ValueMismatchError.
func IsMismatch(err error) bool {
	var e1 *MismatchError
	var e2 *ValueMismatchError

	return errors.As(err, &e1) || errors.As(err, &e2)
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Verifier compares the SSBD bit of one CPU against expectations.
type Verifier struct {
	Reader   msr.Reader
	Identity cpu.Identity

	// Clock defaults to the real clock.
	Clock clock.PassiveClock

	// Logger defaults to the standard logrus logger.
	Logger log.FieldLogger
}

func (v *Verifier) clock() clock.PassiveClock {
	if v.Clock == nil {
		return clock.RealClock{}
	}
	return v.Clock
}

func (v *Verifier) logger() log.FieldLogger {
	if v.Logger == nil {
		return log.StandardLogger()
	}
	return v.Logger
}

// ReadBit reads the current SSBD bit.
func (v *Verifier) ReadBit() (bool, error) {
	return ReadBit(v.Reader, v.Identity)
}

// Verify reads the bit and compares it to expected, repeatedly as long as
// the policy says. The first mismatch ends the loop.
//
// Returns nil on success, a *MismatchError on a failed verification
// or any other error when the verification could not be performed.
func (v *Verifier) Verify(ctx context.Context, expected bool, p Policy) error {
	loc, err := Resolve(v.Identity)
	if err != nil {
		return err
	}

	clk := v.clock()

	stop := clk.Now().Add(p.duration)

	var reads int

	for {
		actual, err := readBit(v.Reader, loc)
		if err != nil {
			return fmt.Errorf("couldn't perform SSBD bit verification: %w", err)
		}

		reads++

		if actual != expected {
			return &MismatchError{Location: loc, Expected: expected, Actual: actual}
		}

		switch p.kind {
		case singleShot:
			return nil
		case bounded:
			// time.Time from the clock carries a monotonic reading,
			// so wall clock adjustments do not move the deadline.
			if !clk.Now().Before(stop) {
				v.logger().Debugf("SSBD bit matched %d times during %s", reads, p.duration)
				return nil
			}
		}

		select {
		case <-ctx.Done():
			v.logger().Debugf("SSBD bit matched %d times before the interruption", reads)
			return fmt.Errorf("%w: %s", ErrInterrupted, context.Cause(ctx))
		default:
		}
	}
}

// ExpectedBit returns the SSBD bit value implied by a prctl value.
func ExpectedBit(value specctrl.Value) (bool, error) {
	switch value {
	case specctrl.NotAffected, specctrl.PRCTL | specctrl.Enable:
		return false, nil
	case specctrl.PRCTL | specctrl.Disable, specctrl.PRCTL | specctrl.ForceDisable, specctrl.Disable:
		return true, nil
	}

	return false, fmt.Errorf("%w (%#x)", ErrUnknownControlValue, uint(value))
}

// VerifyControlValue checks the bit against the value reported by the
// speculation control prctl with a single read.
func (v *Verifier) VerifyControlValue(value specctrl.Value) error {
	expected, err := ExpectedBit(value)
	if err != nil {
		return err
	}

	if err := v.Verify(context.Background(), expected, SingleShot()); err != nil {
		if IsMismatch(err) {
			return fmt.Errorf("prctl reports %q: %w", value.State(), err)
		}
		return err
	}

	return nil
}

// CompareControlValue checks the value reported by prctl against the
// requested one. The PRCTL flag is ignored.
func CompareControlValue(expected, actual specctrl.Value) error {
	if adjusted := actual &^ specctrl.PRCTL; adjusted != expected {
		return &ValueMismatchError{Expected: expected, Actual: adjusted}
	}

	return nil
}
