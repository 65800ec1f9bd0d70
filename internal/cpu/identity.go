package cpu

import (
	"fmt"
)

// Identity classifies a processor by the way it exposes the SSBD control.
type Identity int

const (
	Intel Identity = iota
	AMDVirt
	AMD15h
	AMD16h
	AMD17h
	SSBUnaffected
	SSBDUnsupported
)

func (id Identity) String() string {
	switch id {
	case Intel:
		return "intel"
	case AMDVirt:
		return "amd-virt"
	case AMD15h:
		return "amd-15h"
	case AMD16h:
		return "amd-16h"
	case AMD17h:
		return "amd-17h"
	case SSBUnaffected:
		return "ssb-unaffected"
	case SSBDUnsupported:
		return "ssbd-unsupported"
	}

	return fmt.Sprintf("Identity(%d)", int(id))
}

// Terminal reports whether there is no SSBD bit to check for this identity.
func (id Identity) Terminal() bool {
	return id == SSBUnaffected || id == SSBDUnsupported
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}
