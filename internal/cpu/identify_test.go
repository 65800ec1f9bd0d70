package cpu

import (
	"errors"
	"testing"

	"github.com/tyhicks/ssbd-tools/internal/cpuid"
	"github.com/tyhicks/ssbd-tools/internal/msr"
)

type fakeMSR struct {
	values map[msr.Register]uint64
	err    error
	reads  int
}

func (f *fakeMSR) Read(reg msr.Register) (uint64, error) {
	f.reads++
	if f.err != nil {
		return 0, f.err
	}
	return f.values[reg], nil
}

func intelCPU(edx uint32) cpuid.Static {
	return cpuid.Static{
		cpuid.In{Leaf: cpuid.LeafVendorID}:        cpuid.VendorRegs(cpuid.VendorIntel, 0x16),
		cpuid.In{Leaf: cpuid.LeafExtendedFeature}: cpuid.Regs{Edx: edx},
	}
}

func amdCPU(ebx, eax1 uint32) cpuid.Static {
	return cpuid.Static{
		cpuid.In{Leaf: cpuid.LeafVendorID}:     cpuid.VendorRegs(cpuid.VendorAMD, 0xd),
		cpuid.In{Leaf: cpuid.LeafExtendedMax}:  cpuid.Regs{Eax: 0x8000001f},
		cpuid.In{Leaf: cpuid.LeafAddressSizes}: cpuid.Regs{Ebx: ebx},
		cpuid.In{Leaf: cpuid.LeafFeatureInfo}:  cpuid.Regs{Eax: eax1},
	}
}

func TestIdentify(t *testing.T) {
	tests := []struct {
		name    string
		q       cpuid.Querier
		archCap uint64
		want    Identity
		reads   int
	}{
		{"intel without ssbd", intelCPU(0), 0, SSBDUnsupported, 0},
		{"intel with ssbd", intelCPU(edxSpecCtrlSSBD), 0, Intel, 0},
		{"intel with arch caps", intelCPU(edxSpecCtrlSSBD | edxArchCapabilities), 0, Intel, 1},
		{"intel ssb_no", intelCPU(edxSpecCtrlSSBD | edxArchCapabilities), archCapSSBNo, SSBUnaffected, 1},
		{"amd ssb_no", amdCPU(ebxSSBNo|ebxAMDSSBD, 0), 0, SSBUnaffected, 0},
		{"amd ssbd", amdCPU(ebxAMDSSBD, 0), 0, Intel, 0},
		{"amd virt", amdCPU(ebxVirtSSBD, 0), 0, AMDVirt, 0},
		{"amd 15h", amdCPU(0, 0x00600f20), 0, AMD15h, 0},
		{"amd 16h", amdCPU(0, 0x00700f01), 0, AMD16h, 0},
		{"amd 17h", amdCPU(0, 0x00800f12), 0, AMD17h, 0},
	}

	for _, tt := range tests {
		r := &fakeMSR{values: map[msr.Register]uint64{msr.IA32_ARCH_CAPABILITIES: tt.archCap}}

		got, err := Identify(tt.q, r)
		if err != nil {
			t.Fatalf("%s: got unexpected error: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got invalid identity:\nwant:\t%s\ngot:\t%s", tt.name, tt.want, got)
		}
		if r.reads != tt.reads {
			t.Fatalf("%s: got %d MSR reads, want %d", tt.name, r.reads, tt.reads)
		}
	}
}

func TestIdentifyLowMaxLeaf(t *testing.T) {
	q := intelCPU(edxSpecCtrlSSBD)
	q[cpuid.In{Leaf: cpuid.LeafVendorID}] = cpuid.VendorRegs(cpuid.VendorIntel, 0x5)

	if got, err := Identify(q, &fakeMSR{}); err != nil || got != SSBDUnsupported {
		t.Fatalf("got (%s, %v), want (%s, nil)", got, err, SSBDUnsupported)
	}
}

func TestIdentifyUnsupportedFamily(t *testing.T) {
	for _, eax := range []uint32{0x000006a0, 0x00a00f11, 0x00100f22} {
		if _, err := Identify(amdCPU(0, eax), &fakeMSR{}); !errors.Is(err, ErrUnsupportedFamily) {
			t.Fatalf("eax=%#x: got unexpected error:\nwant:\tErrUnsupportedFamily\ngot:\t%v", eax, err)
		}
	}
}

func TestIdentifyUnsupportedVendor(t *testing.T) {
	r := &fakeMSR{}
	q := cpuid.Static{
		cpuid.In{Leaf: cpuid.LeafVendorID}: cpuid.VendorRegs("CentaurHauls", 0xd),
	}

	if _, err := Identify(q, r); !errors.Is(err, ErrUnsupportedVendor) {
		t.Fatalf("got unexpected error:\nwant:\tErrUnsupportedVendor\ngot:\t%v", err)
	}
	if r.reads != 0 {
		t.Fatalf("MSR was read %d times for an unsupported vendor", r.reads)
	}
}

func TestIdentifyReadError(t *testing.T) {
	r := &fakeMSR{err: msr.ErrShortRead}

	if _, err := Identify(intelCPU(edxSpecCtrlSSBD|edxArchCapabilities), r); !errors.Is(err, msr.ErrShortRead) {
		t.Fatalf("got unexpected error:\nwant:\tErrShortRead\ngot:\t%v", err)
	}
}

func TestTerminal(t *testing.T) {
	for id := Intel; id <= SSBDUnsupported; id++ {
		want := id == SSBUnaffected || id == SSBDUnsupported
		if id.Terminal() != want {
			t.Fatalf("%s: Terminal() = %v", id, id.Terminal())
		}
	}
}
