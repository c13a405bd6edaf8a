package compute_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/kernels"
)

func TestKernelSignature(t *testing.T) {
	h := newHost(t)
	k := instantiate(t, h, saxpySource(), "saxpy")
	assert.Equal(t, "saxpy", k.Name())
	assert.Equal(t, uint32(kernels.GroupSize), k.GroupSize())
	assert.Equal(t, [3]uint32{kernels.GroupSize, 1, 1}, k.WorkgroupSize())
	require.Len(t, k.Params(), 4)

	a, ok := k.Param(compute.SlotA)
	require.True(t, ok)
	assert.Equal(t, "constants", a.Name)
	_, ok = k.Param(9)
	assert.False(t, ok)
}

func TestBindErrors(t *testing.T) {
	h := newHost(t)
	k := instantiate(t, h, saxpySource(), "saxpy")
	sess, err := compute.NewSession(h, k)
	require.NoError(t, err)
	defer sess.Close()

	in, err := compute.NewBuffer(h, "in", 8, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	out, err := compute.NewBuffer(h, "out", 8, compute.DeviceOnly, compute.RoleOutput)
	require.NoError(t, err)
	staging, err := compute.NewBuffer(h, "staging", 8, compute.HostRead, compute.RoleStaging)
	require.NoError(t, err)

	tests := []struct {
		name string
		slot uint32
		res  compute.Resource
	}{
		{"unknown slot", 7, in},
		{"output into read-only slot", compute.SlotX, out},
		{"input into storage slot", compute.SlotZ, in},
		{"staging buffer", compute.SlotY, staging},
		{"scalar into storage slot", compute.SlotX, compute.Scalar(1)},
		{"buffer into uniform slot", compute.SlotA, in},
		{"nil buffer", compute.SlotX, (*compute.Buffer)(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sess.Bind(tt.slot, tt.res)
			require.Error(t, err)
			assert.Equal(t, compute.KindInvalidBinding, compute.KindOf(err), err.Error())
		})
	}
}

func TestDispatchChecks(t *testing.T) {
	h := newHost(t)
	k := instantiate(t, h, identitySource(), "identity")
	sess, err := compute.NewSession(h, k)
	require.NoError(t, err)
	defer sess.Close()

	const n = 2 * kernels.GroupSize
	src, err := compute.NewBuffer(h, "src", n, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	dst, err := compute.NewBuffer(h, "dst", n, compute.DeviceOnly, compute.RoleOutput)
	require.NoError(t, err)
	desc, err := compute.NewDispatchDescriptor(n, kernels.GroupSize)
	require.NoError(t, err)

	require.NoError(t, sess.Bind(1, dst))
	err = sess.Dispatch(desc, desc.Groups())
	assert.Equal(t, compute.KindInvalidBinding, compute.KindOf(err), "unbound input slot")

	require.NoError(t, sess.Bind(0, src))
	err = sess.Dispatch(desc, desc.Groups())
	assert.Equal(t, compute.KindInvalidAccess, compute.KindOf(err), "input never written")

	require.NoError(t, src.Upload(make([]float32, n)))
	err = sess.Dispatch(desc, desc.Groups()+1)
	assert.Equal(t, compute.KindDimensionMismatch, compute.KindOf(err))
	err = sess.Dispatch(compute.DispatchDescriptor{}, 2)
	assert.Equal(t, compute.KindDimensionMismatch, compute.KindOf(err))

	small, err := compute.NewDispatchDescriptor(n, 256)
	require.NoError(t, err)
	err = sess.Dispatch(small, small.Groups())
	assert.Equal(t, compute.KindDimensionMismatch, compute.KindOf(err), "per-group count differs from the kernel")
	assert.Zero(t, sess.Stats().Dispatches)

	require.NoError(t, sess.Dispatch(desc, desc.Groups()))
	assert.Equal(t, 1, sess.Stats().Dispatches)
	assert.True(t, dst.Written())

	// bound buffers cannot be released until unbound
	assert.True(t, errors.Is(dst.Release(), compute.ErrInvalidAccess))
	sess.UnbindAll()
	require.NoError(t, dst.Release())
}

func TestRebindReplacesSlot(t *testing.T) {
	h := newHost(t)
	k := instantiate(t, h, identitySource(), "identity")
	sess, err := compute.NewSession(h, k)
	require.NoError(t, err)

	a, err := compute.NewBuffer(h, "a", 4, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	b, err := compute.NewBuffer(h, "b", 4, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)

	require.NoError(t, sess.Bind(0, a))
	require.NoError(t, sess.Bind(0, b))
	require.NoError(t, a.Release(), "a is no longer bound")
	assert.True(t, errors.Is(b.Release(), compute.ErrInvalidAccess))

	require.NoError(t, sess.Close())
	require.NoError(t, sess.Close())
	require.NoError(t, b.Release())
	assert.True(t, errors.Is(sess.Bind(0, b), compute.ErrInvalidAccess))
}

func TestKernelFaultSurfacesAsDispatchFailed(t *testing.T) {
	h := newHost(t)
	src := compute.KernelSource{Name: "oob.wgsl", Text: `
@group(0) @binding(0) var<storage, read_write> out: array<f32>;

@compute @workgroup_size(4)
fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
    out[gid.x + 1u] = 1.0;
}
`}
	k := instantiate(t, h, src, "main")
	sess, err := compute.NewSession(h, k)
	require.NoError(t, err)
	defer sess.Close()

	out, err := compute.NewBuffer(h, "out", 4, compute.DeviceOnly, compute.RoleOutput)
	require.NoError(t, err)
	require.NoError(t, sess.Bind(0, out))
	desc, err := compute.NewDispatchDescriptor(4, 4)
	require.NoError(t, err)

	// submission succeeds; the fault is reported at the next fence
	require.NoError(t, sess.Dispatch(desc, 1))
	err = h.Sync()
	require.Error(t, err)
	assert.Equal(t, compute.KindDispatchFailed, compute.KindOf(err))
	assert.Contains(t, err.Error(), "out of bounds write")
}
