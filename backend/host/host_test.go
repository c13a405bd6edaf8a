package host

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/compute/wgsl"
)

func floats(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func bytesOf(v ...float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func TestInfo(t *testing.T) {
	d := Open(compute.Options{})
	defer d.Close()
	info := d.Info()
	assert.Equal(t, "host", info.Backend)
	assert.Equal(t, Tier(), info.Tier)
	assert.Equal(t, uint32(MaxWorkgroupSize), info.MaxWorkgroupSize)
	assert.Contains(t, []string{"avx512", "avx2", "sse4.2", "neon", "generic"}, info.Tier)
}

func TestCommandsRunInOrder(t *testing.T) {
	d := Open(compute.Options{})
	defer d.Close()

	a, err := d.CreateBuffer(compute.BufferDesc{Label: "a", Size: 8})
	require.NoError(t, err)
	b, err := d.CreateBuffer(compute.BufferDesc{Label: "b", Size: 8})
	require.NoError(t, err)

	data := bytesOf(1, 2)
	require.NoError(t, d.WriteBuffer(a, data))
	// the write was snapshotted at submission
	data[0] = 0xff
	require.NoError(t, d.CopyBuffer(b, a))
	require.NoError(t, d.WriteBuffer(a, bytesOf(3, 4)))

	got, err := d.ReadBuffer(b)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, floats(got))
	got, err = d.ReadBuffer(a)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, floats(got))
}

func TestDebugPoisonsNewBuffers(t *testing.T) {
	d := Open(compute.Options{Debug: true})
	defer d.Close()
	buf, err := d.CreateBuffer(compute.BufferDesc{Label: "p", Size: 4})
	require.NoError(t, err)
	got, err := d.ReadBuffer(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff}, got)
}

func TestBufferLimits(t *testing.T) {
	d := Open(compute.Options{})
	defer d.Close()
	_, err := d.CreateBuffer(compute.BufferDesc{Label: "huge", Size: MaxBufferSize + 4})
	assert.Error(t, err)

	small, err := d.CreateBuffer(compute.BufferDesc{Label: "small", Size: 4})
	require.NoError(t, err)
	assert.Error(t, d.WriteBuffer(small, make([]byte, 8)))
	big, err := d.CreateBuffer(compute.BufferDesc{Label: "big", Size: 8})
	require.NoError(t, err)
	assert.Error(t, d.CopyBuffer(small, big))
}

const scale2Src = `
@group(0) @binding(0) var<storage, read> src: array<f32>;
@group(0) @binding(1) var<storage, read_write> dst: array<f32>;

@compute @workgroup_size(4)
fn scale2(@builtin(global_invocation_id) gid: vec3<u32>) {
    dst[gid.x] = 2.0 * src[gid.x];
}
`

func TestDispatchParallelGroups(t *testing.T) {
	d := Open(compute.Options{Debug: true})
	defer d.Close()

	prog, err := d.BuildProgram(compute.KernelSource{Name: "scale2.wgsl", Text: scale2Src})
	require.NoError(t, err)
	k, err := prog.Kernel("scale2")
	require.NoError(t, err)
	_, err = prog.Kernel("triple")
	assert.Error(t, err)

	const n = 64
	in := make([]float32, n)
	for i := range in {
		in[i] = float32(i)
	}
	src, _ := d.CreateBuffer(compute.BufferDesc{Label: "src", Size: 4 * n})
	dst, _ := d.CreateBuffer(compute.BufferDesc{Label: "dst", Size: 4 * n})
	require.NoError(t, d.WriteBuffer(src, bytesOf(in...)))

	bindings := []compute.SlotBinding{
		{Slot: 0, Kind: wgsl.BindingReadOnlyStorage, Buffer: src},
		{Slot: 1, Kind: wgsl.BindingStorage, Buffer: dst},
	}
	require.NoError(t, k.Dispatch(bindings, [3]uint32{n / 4, 1, 1}))
	got, err := d.ReadBuffer(dst)
	require.NoError(t, err)
	for i, v := range floats(got) {
		require.Equal(t, 2*float32(i), v, "dst[%d]", i)
	}

	assert.Error(t, k.Dispatch(bindings, [3]uint32{0, 1, 1}))
	assert.Error(t, k.Dispatch(bindings, [3]uint32{MaxWorkgroupsPerDim + 1, 1, 1}))
}

func TestFaultIsSticky(t *testing.T) {
	d := Open(compute.Options{Debug: true})

	prog, err := d.BuildProgram(compute.KernelSource{Name: "scale2.wgsl", Text: scale2Src})
	require.NoError(t, err)
	k, err := prog.Kernel("scale2")
	require.NoError(t, err)

	// four invocations over two-element buffers write out of bounds
	src, _ := d.CreateBuffer(compute.BufferDesc{Label: "src", Size: 8})
	dst, _ := d.CreateBuffer(compute.BufferDesc{Label: "dst", Size: 8})
	bindings := []compute.SlotBinding{
		{Slot: 0, Kind: wgsl.BindingReadOnlyStorage, Buffer: src},
		{Slot: 1, Kind: wgsl.BindingStorage, Buffer: dst},
	}
	require.NoError(t, k.Dispatch(bindings, [3]uint32{1, 1, 1}))

	first := d.Sync()
	require.Error(t, first)
	assert.Contains(t, first.Error(), "kernel scale2")
	_, err = d.ReadBuffer(dst)
	assert.Equal(t, first, err)

	assert.Equal(t, first, d.Close())
	assert.NoError(t, d.Close())
	_, err = d.CreateBuffer(compute.BufferDesc{Label: "late", Size: 4})
	assert.True(t, errors.Is(err, ErrClosed))
	assert.True(t, errors.Is(d.Sync(), ErrClosed))
}

func TestBuildProgramLimits(t *testing.T) {
	d := Open(compute.Options{})
	defer d.Close()

	_, err := d.BuildProgram(compute.KernelSource{Name: "wide.wgsl", Text: "@compute @workgroup_size(64, 32)\nfn main() {}\n"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wide.wgsl: error: entry point 'main' has 2048 invocations per workgroup")

	_, err = d.BuildProgram(compute.KernelSource{Name: "bad.wgsl", Text: "fn"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.wgsl:1:")

	_, err = d.BuildProgram(compute.KernelSource{Name: "deep.wgsl", Text: "@compute @workgroup_size(1, 1, 65)\nfn main() {}\n"})
	require.Error(t, err)
	assert.Equal(t, "deep.wgsl: error: entry point 'main' has workgroup size z=65, limit is 64", err.Error())

	prog, err := d.BuildProgram(compute.KernelSource{Name: "flat.wgsl", Text: "@compute @workgroup_size(1024)\nfn main() {}\n"})
	require.NoError(t, err)
	ep, ok := prog.Reflection().Entry("main")
	require.True(t, ok)
	assert.Equal(t, uint64(MaxWorkgroupSize), ep.Invocations())
}
