package ssbd

import (
	"errors"
	"fmt"

	"github.com/tyhicks/ssbd-tools/internal/cpu"
	"github.com/tyhicks/ssbd-tools/internal/msr"
)

var (
	ErrNoLocation  = errors.New("no SSBD bit is defined for this CPU")
	ErrUnsupported = errors.New("SSBD is unsupported by this CPU")
)

// Location is the register and the bit offset holding the SSBD state.
type Location struct {
	Register msr.Register `json:"register" yaml:"register"`
	Bit      uint         `json:"bit" yaml:"bit"`
}

func (l Location) Mask() uint64 {
	return 1 << l.Bit
}

func (l Location) String() string {
	return fmt.Sprintf("bit %d of %s", l.Bit, l.Register)
}

// Indexed by identity. Terminal identities come after all of these,
// so the array ends at the first terminal one.
var locations = [cpu.SSBUnaffected]Location{
	cpu.Intel:   {Register: msr.IA32_SPEC_CTRL, Bit: 2},
	cpu.AMDVirt: {Register: msr.AMD64_VIRT_SPEC_CTRL, Bit: 2},
	cpu.AMD15h:  {Register: msr.AMD64_LS_CFG, Bit: 54},
	cpu.AMD16h:  {Register: msr.AMD64_LS_CFG, Bit: 33},
	cpu.AMD17h:  {Register: msr.AMD64_LS_CFG, Bit: 10},
}

// Resolve returns the location of the SSBD bit for the identity.
func Resolve(id cpu.Identity) (Location, error) {
	if id < 0 || int(id) >= len(locations) {
		return Location{}, fmt.Errorf("%w (%s)", ErrNoLocation, id)
	}

	return locations[id], nil
}

// Applicable reports whether the SSBD bit of the identity can be checked.
// A processor that is not affected by Speculative Store Bypass has nothing
// to check, one without SSBD is an error.
func Applicable(id cpu.Identity) (bool, error) {
	switch id {
	case cpu.SSBDUnsupported:
		return false, ErrUnsupported
	case cpu.SSBUnaffected:
		return false, nil
	}

	return true, nil
}

// ReadBit reads the SSBD bit of the identity's register.
func ReadBit(r msr.Reader, id cpu.Identity) (bool, error) {
	loc, err := Resolve(id)
	if err != nil {
		return false, err
	}

	return readBit(r, loc)
}

func readBit(r msr.Reader, loc Location) (bool, error) {
	value, err := r.Read(loc.Register)
	if err != nil {
		return false, err
	}

	return value&loc.Mask() != 0, nil
}
