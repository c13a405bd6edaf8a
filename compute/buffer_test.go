package compute_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/compute"
)

func TestNewBufferValidation(t *testing.T) {
	h := newHost(t)
	tests := []struct {
		name   string
		elems  int
		access compute.Access
		role   compute.Role
	}{
		{"zero elements", 0, compute.HostWrite, compute.RoleInput},
		{"negative elements", -4, compute.HostWrite, compute.RoleInput},
		{"readable input", 4, compute.HostRead, compute.RoleInput},
		{"device-only constant", 4, compute.DeviceOnly, compute.RoleConstant},
		{"writable staging", 4, compute.HostWrite, compute.RoleStaging},
		{"too large", 1 << 29, compute.HostWrite, compute.RoleInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := compute.NewBuffer(h, tt.name, tt.elems, tt.access, tt.role)
			require.Error(t, err)
			assert.Equal(t, compute.KindAllocationFailed, compute.KindOf(err))
		})
	}
}

func TestBufferByteSizeAlignment(t *testing.T) {
	h := newHost(t)
	tests := []struct {
		elems int
		role  compute.Role
		want  uint64
	}{
		{1, compute.RoleInput, 4},
		{3, compute.RoleOutput, 12},
		{1, compute.RoleConstant, 16},
		{5, compute.RoleConstant, 32},
	}
	for _, tt := range tests {
		access := compute.HostWrite
		b, err := compute.NewBuffer(h, "b", tt.elems, access, tt.role)
		require.NoError(t, err)
		assert.Equal(t, tt.want, b.ByteSize(), "%d %s elements", tt.elems, tt.role)
		assert.Equal(t, tt.elems, b.Len())
		require.NoError(t, b.Release())
	}
}

func TestReadBeforeWriteIsInvalidAccess(t *testing.T) {
	h := newHost(t)
	staging, err := compute.NewBuffer(h, "staging", 8, compute.HostRead, compute.RoleStaging)
	require.NoError(t, err)

	_, err = staging.Download()
	assert.True(t, errors.Is(err, compute.ErrInvalidAccess), "%v", err)

	// a copy of a never-written output stays unreadable
	out, err := compute.NewBuffer(h, "out", 8, compute.DeviceOnly, compute.RoleOutput)
	require.NoError(t, err)
	require.NoError(t, staging.CopyFrom(out))
	assert.False(t, staging.Written())
	_, err = staging.Download()
	assert.True(t, errors.Is(err, compute.ErrInvalidAccess), "%v", err)
}

func TestUploadCopyDownload(t *testing.T) {
	h := newHost(t)
	in, err := compute.NewBuffer(h, "in", 4, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	staging, err := compute.NewBuffer(h, "staging", 4, compute.HostRead, compute.RoleStaging)
	require.NoError(t, err)

	require.NoError(t, in.Upload([]float32{1, -2, 3.5, 0}))
	assert.True(t, in.Written())
	require.NoError(t, staging.CopyFrom(in))
	got, err := staging.Download()
	require.NoError(t, err)
	assert.Equal(t, []float32{1, -2, 3.5, 0}, got)

	// a read mapping is a snapshot; edits do not reach the buffer
	require.NoError(t, staging.WithMappedRegion(compute.MapRead, func(r []float32) error {
		r[0] = 42
		return nil
	}))
	got, err = staging.Download()
	require.NoError(t, err)
	assert.Equal(t, float32(1), got[0])
}

func TestWriteMappingStartsZeroed(t *testing.T) {
	h := newHost(t)
	in, err := compute.NewBuffer(h, "in", 3, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	require.NoError(t, in.Upload([]float32{9, 9, 9}))

	require.NoError(t, in.WithMappedRegion(compute.MapWrite, func(r []float32) error {
		assert.Equal(t, []float32{0, 0, 0}, r)
		r[1] = 5
		return nil
	}))
	staging, err := compute.NewBuffer(h, "staging", 3, compute.HostRead, compute.RoleStaging)
	require.NoError(t, err)
	require.NoError(t, staging.CopyFrom(in))
	got, err := staging.Download()
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 5, 0}, got)
}

func TestWriteMappingErrorDiscardsRegion(t *testing.T) {
	h := newHost(t)
	in, err := compute.NewBuffer(h, "in", 2, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	boom := errors.New("boom")
	err = in.WithMappedRegion(compute.MapWrite, func([]float32) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.False(t, in.Written())

	// the buffer is unmapped again on the error path
	require.NoError(t, in.Upload([]float32{1, 2}))
}

func TestMappingRules(t *testing.T) {
	h := newHost(t)
	dev, err := compute.NewBuffer(h, "dev", 2, compute.DeviceOnly, compute.RoleOutput)
	require.NoError(t, err)
	in, err := compute.NewBuffer(h, "in", 2, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)

	noop := func([]float32) error { return nil }
	assert.True(t, errors.Is(dev.WithMappedRegion(compute.MapWrite, noop), compute.ErrInvalidAccess))
	assert.True(t, errors.Is(dev.WithMappedRegion(compute.MapRead, noop), compute.ErrInvalidAccess))
	assert.True(t, errors.Is(in.WithMappedRegion(compute.MapRead, noop), compute.ErrInvalidAccess))
	assert.True(t, errors.Is(in.WithMappedRegion(compute.MapMode(9), noop), compute.ErrInvalidAccess))

	err = in.WithMappedRegion(compute.MapWrite, func([]float32) error {
		return in.WithMappedRegion(compute.MapWrite, noop)
	})
	assert.True(t, errors.Is(err, compute.ErrInvalidAccess), "nested mapping: %v", err)

	err = in.Upload([]float32{1})
	assert.True(t, errors.Is(err, compute.ErrSizeMismatch))
}

func TestCopyRules(t *testing.T) {
	h := newHost(t)
	newBuf := func(n int, access compute.Access, role compute.Role) *compute.Buffer {
		b, err := compute.NewBuffer(h, role.String(), n, access, role)
		require.NoError(t, err)
		return b
	}
	in4 := newBuf(4, compute.HostWrite, compute.RoleInput)
	out8 := newBuf(8, compute.DeviceOnly, compute.RoleOutput)
	stage4 := newBuf(4, compute.HostRead, compute.RoleStaging)
	konst := newBuf(4, compute.HostWrite, compute.RoleConstant)

	assert.True(t, errors.Is(stage4.CopyFrom(out8), compute.ErrSizeMismatch))
	assert.True(t, errors.Is(in4.CopyFrom(in4), compute.ErrInvalidAccess))
	assert.True(t, errors.Is(konst.CopyFrom(in4), compute.ErrInvalidAccess))
	assert.True(t, errors.Is(in4.CopyFrom(stage4), compute.ErrInvalidAccess))

	other, err := compute.Acquire("host", compute.Options{})
	require.NoError(t, err)
	defer other.Release()
	foreign, err := compute.NewBuffer(other, "foreign", 4, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	assert.True(t, errors.Is(stage4.CopyFrom(foreign), compute.ErrInvalidAccess))
}

func TestReleaseRules(t *testing.T) {
	h := newHost(t)
	b, err := compute.NewBuffer(h, "b", 4, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)
	require.NoError(t, b.Release())
	require.NoError(t, b.Release())
	assert.True(t, errors.Is(b.Upload(make([]float32, 4)), compute.ErrInvalidAccess))
}

func TestHandleRelease(t *testing.T) {
	var logs countingHook
	withLogHook(t, &logs)

	h, err := compute.Acquire("host", compute.Options{})
	require.NoError(t, err)
	_, err = compute.NewBuffer(h, "leaked", 4, compute.HostWrite, compute.RoleInput)
	require.NoError(t, err)

	require.NoError(t, h.Release())
	require.NoError(t, h.Release())
	assert.Equal(t, 1, logs.warnings)

	_, err = compute.NewBuffer(h, "late", 4, compute.HostWrite, compute.RoleInput)
	assert.True(t, errors.Is(err, compute.ErrInvalidAccess))
	assert.True(t, errors.Is(h.Sync(), compute.ErrInvalidAccess))
}
