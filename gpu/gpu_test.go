package gpu

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openfluke/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/kernels"
)

func acquire(t *testing.T) *compute.Handle {
	t.Helper()
	h, err := compute.Acquire("webgpu", compute.Options{Debug: true})
	if err != nil {
		t.Skipf("no WebGPU adapter: %v", err)
	}
	t.Cleanup(func() { h.Release() })
	return h
}

func TestUsage(t *testing.T) {
	assert.NotZero(t, usage(compute.RoleInput)&wgpu.BufferUsageStorage)
	assert.NotZero(t, usage(compute.RoleStaging)&wgpu.BufferUsageMapRead)
	assert.Zero(t, usage(compute.RoleOutput)&wgpu.BufferUsageMapRead)
	assert.Equal(t, usage(compute.RoleInput), usage(compute.RoleOutput))
	assert.NotEqual(t, usage(compute.RoleConstant), usage(compute.RoleStaging))
}

func TestSaxpyOnDevice(t *testing.T) {
	h := acquire(t)
	rep, err := compute.RunSaxpy(h, compute.SaxpyConfig{
		Source:    compute.KernelSource{Name: kernels.SaxpyFile, Text: kernels.Saxpy},
		Entry:     "saxpy",
		Profile:   compute.ProfileWGSL,
		Elements:  16 * kernels.GroupSize,
		GroupSize: kernels.GroupSize,
		A:         2,
	})
	require.NoError(t, err)
	require.Len(t, rep.Observed, 8192)
	for i, v := range rep.Observed {
		if v != float32(i+100) {
			t.Fatalf("z[%d] = %v, expected %d", i, v, i+100)
		}
	}
}

func TestIdentityOnDevice(t *testing.T) {
	h := acquire(t)
	data := make([]float32, 2*kernels.GroupSize)
	for i := range data {
		data[i] = float32(i)*0.37 - 11
	}
	out, err := compute.RunIdentity(h, compute.IdentityConfig{
		Source:  compute.KernelSource{Name: kernels.IdentityFile, Text: kernels.Identity},
		Entry:   "identity",
		Profile: compute.ProfileWGSL,
		Data:    data,
	})
	require.NoError(t, err)
	if diff := cmp.Diff(data, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDriverBuildLog(t *testing.T) {
	h := acquire(t)
	_, err := compute.BuildProgram(h, compute.KernelSource{Name: "bad.wgsl", Text: "fn main( {"}, "main", compute.ProfileWGSL)
	require.Error(t, err)
	assert.Equal(t, compute.KindKernelBuildFailed, compute.KindOf(err))
	assert.NotEmpty(t, compute.BuildLog(err))
}
