//go:build !amd64

package cpuid

// CPUID is an x86 instruction. Other architectures report zeros, which
// decode to an empty vendor string.
func native(eax, ecx uint32) (a, b, c, d uint32) {
	return 0, 0, 0, 0
}
