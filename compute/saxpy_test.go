package compute_test

import (
	"errors"
	"math/rand"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/backend/host"
	"github.com/openfluke/saxpy/compute"
	"github.com/openfluke/saxpy/kernels"
)

// countingDevice is a host device that counts buffer traffic.
type countingDevice struct {
	compute.Device
	creates atomic.Int32
	writes  atomic.Int32
}

func (d *countingDevice) CreateBuffer(desc compute.BufferDesc) (compute.DeviceBuffer, error) {
	d.creates.Add(1)
	return d.Device.CreateBuffer(desc)
}

func (d *countingDevice) WriteBuffer(buf compute.DeviceBuffer, data []byte) error {
	d.writes.Add(1)
	return d.Device.WriteBuffer(buf, data)
}

var lastCounting atomic.Pointer[countingDevice]

func init() {
	compute.Register("host-counting", func(opts compute.Options) (compute.Device, error) {
		d := &countingDevice{Device: host.Open(opts)}
		lastCounting.Store(d)
		return d, nil
	})
}

func TestSaxpyMultiplesOfGroupSize(t *testing.T) {
	h := newHost(t)
	for _, groups := range []int{1, 2, 16, 33} {
		cfg := saxpyConfig(groups)
		rep, err := compute.RunSaxpy(h, cfg)
		require.NoError(t, err, "groups=%d", groups)
		assert.Equal(t, uint32(groups), rep.Groups)
		assert.True(t, rep.Result.OK())
		assert.Equal(t, cfg.Elements, rep.Result.Compared)

		x, y := compute.SaxpyInputs(cfg.Elements)
		if diff := cmp.Diff(compute.SaxpyReference(2, x, y), rep.Observed); diff != "" {
			t.Errorf("groups=%d: output mismatch (-want +got):\n%s", groups, diff)
		}
	}
}

func TestSaxpyReferenceRun(t *testing.T) {
	h := newHost(t)
	rep, err := compute.RunSaxpy(h, saxpyConfig(16))
	require.NoError(t, err)
	require.Len(t, rep.Observed, 8192)
	// x[i] = i, y[i] = 100 - i, a = 2
	for _, i := range []int{0, 1, 511, 512, 8191} {
		assert.Equal(t, float32(i+100), rep.Observed[i], "z[%d]", i)
	}
}

func TestSaxpyIsAffineInA(t *testing.T) {
	h := newHost(t)
	run := func(a float32) []float32 {
		cfg := saxpyConfig(4)
		cfg.A = a
		rep, err := compute.RunSaxpy(h, cfg)
		require.NoError(t, err)
		return rep.Observed
	}
	x, _ := compute.SaxpyInputs(4 * kernels.GroupSize)
	z0, z1, z3 := run(0), run(1), run(3)
	for i := range x {
		// integer-valued inputs keep every step exact in float32
		require.Equal(t, x[i], z1[i]-z0[i], "index %d", i)
		require.Equal(t, 3*x[i], z3[i]-z0[i], "index %d", i)
	}
}

func TestSaxpyRejectsPartialGroups(t *testing.T) {
	h := newHost(t)
	for _, n := range []int{0, 1, 511, 8191, 8193} {
		cfg := saxpyConfig(0)
		cfg.Elements = n
		rep, err := compute.RunSaxpy(h, cfg)
		require.Error(t, err, "elements=%d", n)
		assert.Nil(t, rep)
		assert.True(t, errors.Is(err, compute.ErrDimensionMismatch), err.Error())
	}
}

func TestSaxpyCorruptionReportsExactlyOneMismatch(t *testing.T) {
	h := newHost(t)
	const bad = 4097
	cfg := saxpyConfig(16)
	cfg.Corrupt = func(observed []float32) { observed[bad] += 1 }

	rep, err := compute.RunSaxpy(h, cfg)
	require.Error(t, err)
	assert.Equal(t, compute.KindVerificationMismatch, compute.KindOf(err))
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Result.Count)

	var ce *compute.Error
	require.True(t, errors.As(err, &ce))
	want := []compute.Mismatch{{Index: bad, Expected: bad + 100, Observed: bad + 101}}
	if diff := cmp.Diff(want, ce.Mismatches); diff != "" {
		t.Errorf("mismatches (-want +got):\n%s", diff)
	}
	assert.Equal(t, "index 4097: expected 4.1970000e+03, observed 4.1980000e+03", ce.Mismatches[0].String())
}

func TestSaxpyMaxReported(t *testing.T) {
	h := newHost(t)
	cfg := saxpyConfig(2)
	cfg.MaxReported = 3
	cfg.Corrupt = func(observed []float32) {
		for i := 0; i < 10; i++ {
			observed[i*7] = -1
		}
	}
	rep, err := compute.RunSaxpy(h, cfg)
	require.Error(t, err)
	assert.Equal(t, 10, rep.Result.Count)
	assert.Len(t, rep.Result.Mismatches, 3)
	assert.Equal(t, 14, rep.Result.Mismatches[2].Index)
}

func TestSaxpyToleranceAcceptsDrift(t *testing.T) {
	h := newHost(t)
	cfg := saxpyConfig(1)
	cfg.Tolerance = compute.Tolerance{Abs: 0.01}
	cfg.Corrupt = func(observed []float32) { observed[3] += 0.005 }
	_, err := compute.RunSaxpy(h, cfg)
	require.NoError(t, err)
}

func TestSaxpySyntaxErrorAbortsBeforeDispatch(t *testing.T) {
	h := newHost(t)
	cfg := saxpyConfig(16)
	cfg.Source = compute.KernelSource{
		Name: "saxpy.wgsl",
		Text: "@compute @workgroup_size(512)\nfn saxpy() {\n    let a = 1.0\n}\n",
	}
	corrupted := false
	cfg.Corrupt = func([]float32) { corrupted = true }

	rep, err := compute.RunSaxpy(h, cfg)
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.False(t, corrupted)
	assert.True(t, errors.Is(err, compute.ErrKernelBuildFailed))
	assert.Contains(t, compute.BuildLog(err), "saxpy.wgsl:4:")
}

func TestSaxpyMissingEntryPoint(t *testing.T) {
	h := newHost(t)
	cfg := saxpyConfig(1)
	cfg.Entry = "axpy"
	_, err := compute.RunSaxpy(h, cfg)
	require.Error(t, err)
	assert.Equal(t, compute.KindEntryPointNotFound, compute.KindOf(err))
}

func TestSaxpyLeavesNoBuffers(t *testing.T) {
	var logs countingHook
	withLogHook(t, &logs)

	h := newHost(t)
	_, err := compute.RunSaxpy(h, saxpyConfig(1))
	require.NoError(t, err)
	require.NoError(t, h.Release())
	assert.Zero(t, logs.warnings, "buffers leaked past RunSaxpy")
}

func TestIdentityRoundTrip(t *testing.T) {
	h := newHost(t)
	rng := rand.New(rand.NewSource(7))
	for _, groups := range []int{1, 3} {
		data := make([]float32, groups*kernels.GroupSize)
		for i := range data {
			data[i] = float32(rng.NormFloat64() * 1e6)
		}
		out, err := compute.RunIdentity(h, compute.IdentityConfig{
			Source:  identitySource(),
			Entry:   "identity",
			Profile: compute.ProfileWGSL,
			Data:    data,
		})
		require.NoError(t, err)
		if diff := cmp.Diff(data, out); diff != "" {
			t.Errorf("groups=%d: round trip mismatch (-want +got):\n%s", groups, diff)
		}
	}
}

func TestIdentityRejectsPartialGroups(t *testing.T) {
	h := newHost(t)
	_, err := compute.RunIdentity(h, compute.IdentityConfig{
		Source:  identitySource(),
		Entry:   "identity",
		Profile: compute.ProfileWGSL,
		Data:    make([]float32, 700),
	})
	assert.True(t, errors.Is(err, compute.ErrDimensionMismatch))
}

func TestSaxpyGroupSizeMismatchFailsBeforeUpload(t *testing.T) {
	h, err := compute.Acquire("host-counting", compute.Options{Debug: true})
	require.NoError(t, err)
	t.Cleanup(func() { h.Release() })
	dev := lastCounting.Load()

	cfg := saxpyConfig(2)
	cfg.Source.Text = strings.Replace(kernels.Saxpy, "GROUP_SIZE_X: u32 = 512u", "GROUP_SIZE_X: u32 = 256u", 1)
	require.NotEqual(t, kernels.Saxpy, cfg.Source.Text)

	rep, err := compute.RunSaxpy(h, cfg)
	require.Error(t, err)
	assert.Nil(t, rep)
	assert.True(t, errors.Is(err, compute.ErrDimensionMismatch))
	assert.Contains(t, err.Error(), "kernel saxpy runs 256 items per group, configured group size is 512")
	assert.Zero(t, dev.creates.Load())
	assert.Zero(t, dev.writes.Load())
}
