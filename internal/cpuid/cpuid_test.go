package cpuid

import (
	"testing"
)

func TestVendor(t *testing.T) {
	for _, want := range []string{VendorIntel, VendorAMD, "HygonGenuine"} {
		q := Static{
			In{Leaf: LeafVendorID}: VendorRegs(want, 0xd),
		}

		if got := Vendor(q); got != want {
			t.Fatalf("got invalid vendor:\nwant:\t%q\ngot:\t%q", want, got)
		}
		if got := MaxLeaf(q); got != 0xd {
			t.Fatalf("got invalid max leaf: %#x", got)
		}
	}
}

func TestVendorRegsLayout(t *testing.T) {
	// The well-known "Genu" "ineI" "ntel" words
	r := VendorRegs(VendorIntel, 0)

	if r.Ebx != 0x756e6547 || r.Edx != 0x49656e69 || r.Ecx != 0x6c65746e {
		t.Fatalf("got unexpected registers: %+v", r)
	}
}

func TestFamily(t *testing.T) {
	tests := []struct {
		eax      uint32
		base     uint32
		extended uint32
		family   uint32
	}{
		{eax: 0x00600f20, base: 0xf, extended: 0x6, family: 0x15},
		{eax: 0x00700f01, base: 0xf, extended: 0x7, family: 0x16},
		{eax: 0x00800f12, base: 0xf, extended: 0x8, family: 0x17},
		{eax: 0x000906ea, base: 0x6, extended: 0x0, family: 0x6},
		{eax: 0x00a00f11, base: 0xf, extended: 0xa, family: 0x19},
	}

	for _, tt := range tests {
		q := Static{In{Leaf: LeafFeatureInfo}: Regs{Eax: tt.eax}}

		base, extended := FamilyFields(q)
		if base != tt.base || extended != tt.extended {
			t.Fatalf("eax=%#x: got fields (%#x, %#x), want (%#x, %#x)", tt.eax, base, extended, tt.base, tt.extended)
		}
		if got := Family(q); got != tt.family {
			t.Fatalf("eax=%#x: got family %#x, want %#x", tt.eax, got, tt.family)
		}
	}
}

func TestStaticMissingLeaf(t *testing.T) {
	if got := (Static{}).Query(LeafAddressSizes, 0); got != (Regs{}) {
		t.Fatalf("got non-zero registers for a missing leaf: %+v", got)
	}
}
