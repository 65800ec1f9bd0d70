//go:build amd64

package cpuid

// native is implemented in native_amd64.s.
//
//go:noescape
func native(eax, ecx uint32) (a, b, c, d uint32)
