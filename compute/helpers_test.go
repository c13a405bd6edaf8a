package compute_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/kernels"

	_ "github.com/openfluke/saxpy/backend/host"
)

func newHost(t *testing.T) *compute.Handle {
	t.Helper()
	h, err := compute.Acquire("host", compute.Options{Debug: true})
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	return h
}

func saxpySource() compute.KernelSource {
	return compute.KernelSource{Name: kernels.SaxpyFile, Text: kernels.Saxpy}
}

func identitySource() compute.KernelSource {
	return compute.KernelSource{Name: kernels.IdentityFile, Text: kernels.Identity}
}

func saxpyConfig(groups int) compute.SaxpyConfig {
	return compute.SaxpyConfig{
		Source:    saxpySource(),
		Entry:     "saxpy",
		Profile:   compute.ProfileWGSL,
		Elements:  groups * kernels.GroupSize,
		GroupSize: kernels.GroupSize,
		A:         2,
	}
}

// instantiate builds src and returns the kernel for entry; both are
// released at the end of the test.
func instantiate(t *testing.T, h *compute.Handle, src compute.KernelSource, entry string) *compute.Kernel {
	t.Helper()
	prog, err := compute.BuildProgram(h, src, entry, compute.ProfileWGSL)
	require.NoError(t, err)
	t.Cleanup(prog.Release)
	k, err := prog.Instantiate()
	require.NoError(t, err)
	t.Cleanup(k.Release)
	return k
}
