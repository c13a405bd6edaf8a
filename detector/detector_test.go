package detector

import (
	"encoding/json"
	"testing"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfluke/saxpy/compute"

	_ "github.com/openfluke/saxpy/backend/host"
)

func TestChooseWorkgroup(t *testing.T) {
	tests := []struct {
		x, total uint32
		want     uint32
	}{
		{1024, 1024, 1024},
		{1024, 256, 256},
		{512, 1024, 512},
		{3, 3, 2},
		{0, 0, 1},
	}
	for _, tt := range tests {
		got := chooseWorkgroup(wgpu.Limits{MaxComputeWorkgroupSizeX: tt.x, MaxComputeInvocationsPerWorkgroup: tt.total})
		assert.Equal(t, tt.want, got, "x=%d total=%d", tt.x, tt.total)
	}
}

func TestMaxElements(t *testing.T) {
	l := wgpu.Limits{MaxComputeWorkgroupsPerDimension: 65535, MaxStorageBufferBindingSize: 1 << 27}
	// 1<<27 bytes is 1<<25 floats, below 512*65535.
	assert.Equal(t, uint64(1<<25), maxElements(l, 512))

	l.MaxStorageBufferBindingSize = 1 << 40
	assert.Equal(t, uint64(512*65535), maxElements(l, 512))
}

func TestBudgetEnv(t *testing.T) {
	t.Setenv(BudgetEnv, "64")
	assert.Equal(t, uint64(64<<20), budget())
	t.Setenv(BudgetEnv, "nope")
	assert.Equal(t, uint64(128<<20), budget())
}

func TestDetectHost(t *testing.T) {
	rep := Detect([]string{"host", "missing"}, compute.Options{})
	require.Len(t, rep.Devices, 2)

	host := rep.Devices[0]
	assert.True(t, host.Available)
	require.NotNil(t, host.Info)
	assert.Equal(t, "host", host.Info.Backend)
	assert.Nil(t, host.Adapter)

	assert.False(t, rep.Devices[1].Available)
	assert.Contains(t, rep.Devices[1].Error, "missing")

	out, err := DetectJSON([]string{"host"}, compute.Options{})
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal([]byte(out), &back))
	assert.Equal(t, "native", back.Runtime)
}
