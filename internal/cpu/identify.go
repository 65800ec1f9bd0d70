package cpu

import (
	"errors"
	"fmt"

	"github.com/tyhicks/ssbd-tools/internal/cpuid"
	"github.com/tyhicks/ssbd-tools/internal/msr"
)

var (
	ErrUnsupportedVendor = errors.New("unsupported CPU vendor")
	ErrUnsupportedFamily = errors.New("AMD family doesn't support SSBD")
)

// Intel: CPUID.(EAX=7,ECX=0):EDX
const (
	edxArchCapabilities uint32 = 1 << 29
	edxSpecCtrlSSBD     uint32 = 1 << 31
)

// IA32_ARCH_CAPABILITIES
const archCapSSBNo uint64 = 1 << 4

// AMD: CPUID.(EAX=0x80000008):EBX
const (
	ebxAMDSSBD  uint32 = 1 << 24
	ebxVirtSSBD uint32 = 1 << 25
	ebxSSBNo    uint32 = 1 << 26
)

// Identify classifies the processor described by q. The msr reader is only
// used on Intel processors that enumerate IA32_ARCH_CAPABILITIES.
func Identify(q cpuid.Querier, r msr.Reader) (Identity, error) {
	switch vendor := cpuid.Vendor(q); vendor {
	case cpuid.VendorIntel:
		return identifyIntel(q, r)
	case cpuid.VendorAMD:
		return identifyAMD(q)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedVendor, vendor)
	}
}

func identifyIntel(q cpuid.Querier, r msr.Reader) (Identity, error) {
	if cpuid.MaxLeaf(q) < cpuid.LeafExtendedFeature {
		return SSBDUnsupported, nil
	}

	edx := q.Query(cpuid.LeafExtendedFeature, 0).Edx

	if edx&edxSpecCtrlSSBD == 0 {
		return SSBDUnsupported, nil
	}

	if edx&edxArchCapabilities != 0 {
		value, err := r.Read(msr.IA32_ARCH_CAPABILITIES)
		if err != nil {
			return 0, err
		}

		if value&archCapSSBNo != 0 {
			return SSBUnaffected, nil
		}
	}

	return Intel, nil
}

func identifyAMD(q cpuid.Querier) (Identity, error) {
	var ebx uint32

	if cpuid.MaxExtendedLeaf(q) >= cpuid.LeafAddressSizes {
		ebx = q.Query(cpuid.LeafAddressSizes, 0).Ebx
	}

	switch {
	case ebx&ebxSSBNo != 0:
		return SSBUnaffected, nil
	case ebx&ebxAMDSSBD != 0:
		// Architectural IA32_SPEC_CTRL, same as Intel
		return Intel, nil
	case ebx&ebxVirtSSBD != 0:
		return AMDVirt, nil
	}

	base, extended := cpuid.FamilyFields(q)

	if base < 0xf {
		return 0, fmt.Errorf("%w: family %#x", ErrUnsupportedFamily, base)
	}

	switch family := base + extended; family {
	case 0x15:
		return AMD15h, nil
	case 0x16:
		return AMD16h, nil
	case 0x17:
		return AMD17h, nil
	default:
		return 0, fmt.Errorf("%w: family %#x", ErrUnsupportedFamily, family)
	}
}
