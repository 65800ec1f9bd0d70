// Package cpuid executes the CPUID instruction and decodes the few leaves
// needed to tell which SSBD control a processor implements.
package cpuid

import (
	"encoding/binary"
)

// Leaves used by this package. Subleaves are zero unless noted.
const (
	LeafVendorID        uint32 = 0x0        // Vendor ID and the largest standard leaf.
	LeafFeatureInfo     uint32 = 0x1        // Processor signature (family, model, stepping).
	LeafExtendedFeature uint32 = 0x7        // Structured extended feature flags (subleaf 0).
	LeafExtendedMax     uint32 = 0x80000000 // Largest extended leaf.
	LeafAddressSizes    uint32 = 0x80000008 // Address sizes and AMD speculation control features.
)

const (
	VendorIntel = "GenuineIntel"
	VendorAMD   = "AuthenticAMD"
)

// Regs holds the output registers of a CPUID query.
type Regs struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// Querier executes a CPUID query.
//
// Native queries the running processor, Static is a fixed table.
type Querier interface {
	Query(leaf, subleaf uint32) Regs
}

// Native is the Querier of the running processor.
type Native struct{}

func (Native) Query(leaf, subleaf uint32) Regs {
	a, b, c, d := native(leaf, subleaf)

	return Regs{Eax: a, Ebx: b, Ecx: c, Edx: d}
}

// In is a key of the Static table.
type In struct {
	Leaf    uint32
	Subleaf uint32
}

// Static is a Querier backed by a table. Missing leaves read as zeros.
type Static map[In]Regs

func (s Static) Query(leaf, subleaf uint32) Regs {
	return s[In{Leaf: leaf, Subleaf: subleaf}]
}

// Vendor returns the 12-byte vendor identification string.
func Vendor(q Querier) string {
	r := q.Query(LeafVendorID, 0)

	var b [12]byte

	binary.LittleEndian.PutUint32(b[0:], r.Ebx)
	binary.LittleEndian.PutUint32(b[4:], r.Edx)
	binary.LittleEndian.PutUint32(b[8:], r.Ecx)

	return string(b[:])
}

// MaxLeaf returns the largest supported standard leaf.
func MaxLeaf(q Querier) uint32 {
	return q.Query(LeafVendorID, 0).Eax
}

// MaxExtendedLeaf returns the largest supported extended leaf.
func MaxExtendedLeaf(q Querier) uint32 {
	return q.Query(LeafExtendedMax, 0).Eax
}

// Family returns the display family built from the base and extended
// family fields of leaf 1. The extended field is only added when the
// base family is 0xf.
func Family(q Querier) uint32 {
	base, extended := FamilyFields(q)

	if base == 0xf {
		return base + extended
	}

	return base
}

// FamilyFields returns the raw base and extended family fields of leaf 1.
func FamilyFields(q Querier) (base, extended uint32) {
	eax := q.Query(LeafFeatureInfo, 0).Eax

	return (eax >> 8) & 0xf, (eax >> 20) & 0xff
}

// VendorRegs encodes a vendor string the way leaf 0 reports it.
// The largest standard leaf is set to maxLeaf.
func VendorRegs(vendor string, maxLeaf uint32) Regs {
	var b [12]byte

	copy(b[:], vendor)

	return Regs{
		Eax: maxLeaf,
		Ebx: binary.LittleEndian.Uint32(b[0:]),
		Edx: binary.LittleEndian.Uint32(b[4:]),
		Ecx: binary.LittleEndian.Uint32(b[8:]),
	}
}
