// Package kernels embeds the compute kernels shipped with saxpy.
package kernels

import _ "embed"

// Saxpy computes z = a*x + y. Bindings: 0 x, 1 y, 2 z, 3 constants {a}.
//
//go:embed saxpy.wgsl
var Saxpy string

// Identity copies binding 0 into binding 1.
//
//go:embed identity.wgsl
var Identity string

const (
	SaxpyFile    = "saxpy.wgsl"
	IdentityFile = "identity.wgsl"

	// GroupSize is GROUP_SIZE_X in both kernels.
	GroupSize = 512
)

// Lookup returns the embedded source for a kernel file name.
func Lookup(file string) (string, bool) {
	switch file {
	case SaxpyFile:
		return Saxpy, true
	case IdentityFile:
		return Identity, true
	}
	return "", false
}
