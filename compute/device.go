package compute

import (
	"github.com/openfluke/saxpy/compute/wgsl"
)

// ElementSize is the byte width of the only element type, float32.
const ElementSize = 4

// DeviceInfo describes an acquired device.
type DeviceInfo struct {
	Name    string `json:"name"`
	Backend string `json:"backend"`
	// Tier is the capability tier: a CPU feature level for the host
	// adapter, the adapter type for WebGPU.
	Tier string `json:"tier"`
	// MaxWorkgroupSize is the largest invocation count per work-group.
	MaxWorkgroupSize uint32 `json:"max_workgroup_size"`
}

// Options configure device acquisition.
type Options struct {
	// Debug enables the backend's validation instrumentation.
	Debug bool
}

// BufferDesc is what a backend needs to allocate device memory.
type BufferDesc struct {
	Label string
	Size  uint64
	Role  Role
}

// Device is the capability set a backend adapter provides. Every command is
// executed in submission order on a single channel.
type Device interface {
	Info() DeviceInfo
	CreateBuffer(desc BufferDesc) (DeviceBuffer, error)
	// WriteBuffer replaces the contents of buf, ordered after prior commands.
	WriteBuffer(buf DeviceBuffer, data []byte) error
	// ReadBuffer blocks until every prior command has completed and returns
	// a copy of buf.
	ReadBuffer(buf DeviceBuffer) ([]byte, error)
	CopyBuffer(dst, src DeviceBuffer) error
	BuildProgram(src KernelSource) (DeviceProgram, error)
	// Sync blocks until the channel is idle.
	Sync() error
	Close() error
}

type DeviceBuffer interface {
	Size() uint64
	Release()
}

// DeviceProgram is a kernel module accepted by the backend's compiler.
type DeviceProgram interface {
	Reflection() *wgsl.Reflection
	// Kernel prepares the named entry point, which reflection has already
	// confirmed exists.
	Kernel(entry string) (DeviceKernel, error)
	Release()
}

// DeviceKernel is an invocable entry point.
type DeviceKernel interface {
	// Dispatch submits groups work-groups with the given slot bindings.
	Dispatch(bindings []SlotBinding, groups [3]uint32) error
	// Unbind drops any device views the kernel keeps for its last bindings.
	Unbind()
	Release()
}

// SlotBinding attaches a device buffer to a kernel parameter slot.
type SlotBinding struct {
	Slot   uint32
	Kind   wgsl.BindingKind
	Buffer DeviceBuffer
}
