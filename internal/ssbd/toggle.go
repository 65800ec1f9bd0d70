package ssbd

import (
	"errors"
	"fmt"

	"github.com/tyhicks/ssbd-tools/internal/cpu"
	"github.com/tyhicks/ssbd-tools/internal/msr"
)

// Toggle flips the SSBD bit by writing the register, checks that the new
// value sticks and then writes the original value back.
//
// The bit is read back right after each write, on the same CPU, without
// rescheduling in between; the kernel may rewrite the register on the next
// context switch.
func Toggle(rw msr.ReadWriter, id cpu.Identity) error {
	loc, err := Resolve(id)
	if err != nil {
		return err
	}

	orig, err := rw.Read(loc.Register)
	if err != nil {
		return err
	}

	set := func(value uint64) error {
		if err := rw.Write(loc.Register, value); err != nil {
			return err
		}

		actual, err := readBit(rw, loc)
		if err != nil {
			return err
		}

		if expected := value&loc.Mask() != 0; actual != expected {
			return &MismatchError{Location: loc, Expected: expected, Actual: actual}
		}

		return nil
	}

	if err := set(orig ^ loc.Mask()); err != nil {
		err = fmt.Errorf("couldn't toggle the SSBD bit: %w", err)

		// Leave the register the way we found it
		if rerr := rw.Write(loc.Register, orig); rerr != nil {
			err = errors.Join(err, fmt.Errorf("couldn't restore %s: %w", loc.Register, rerr))
		}

		return err
	}

	if err := set(orig); err != nil {
		return fmt.Errorf("couldn't restore the SSBD bit: %w", err)
	}

	return nil
}
