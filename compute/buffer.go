package compute

import (
	"encoding/binary"
	"math"

	"github.com/openfluke/saxpy/internal/logging"
)

// Access is the host-access direction of a buffer.
type Access int

const (
	// HostWrite buffers are populated by the host before device use.
	HostWrite Access = iota
	// HostRead buffers are staging targets the host reads back.
	HostRead
	// DeviceOnly buffers are never mapped by the host.
	DeviceOnly
)

func (a Access) String() string {
	switch a {
	case HostWrite:
		return "host-write"
	case HostRead:
		return "host-read"
	case DeviceOnly:
		return "device-only"
	}
	return "unknown"
}

// Role is how a buffer participates in a dispatch.
type Role int

const (
	RoleInput Role = iota
	RoleOutput
	RoleConstant
	RoleStaging
)

func (r Role) String() string {
	switch r {
	case RoleInput:
		return "input"
	case RoleOutput:
		return "output"
	case RoleConstant:
		return "constant"
	case RoleStaging:
		return "staging"
	}
	return "unknown"
}

// alignment is the byte multiple a role's allocations are rounded up to.
// Constant buffers hold whole 4-float registers.
func (r Role) alignment() uint64 {
	if r == RoleConstant {
		return 4 * ElementSize
	}
	return ElementSize
}

// MapMode selects the direction of a host mapping.
type MapMode int

const (
	MapRead MapMode = iota + 1
	MapWrite
)

func (m MapMode) String() string {
	switch m {
	case MapRead:
		return "read"
	case MapWrite:
		return "write"
	}
	return "unknown"
}

func validUsage(a Access, r Role) bool {
	switch r {
	case RoleInput, RoleOutput:
		return a == HostWrite || a == DeviceOnly
	case RoleConstant:
		return a == HostWrite
	case RoleStaging:
		return a == HostRead
	}
	return false
}

// Buffer is a fixed-size float32 region of device memory. A Buffer is owned
// by the goroutine that created it and is not safe for concurrent use.
type Buffer struct {
	h      *Handle
	dev    DeviceBuffer
	label  string
	elems  int
	size   uint64
	access Access
	role   Role

	written  bool
	mapped   bool
	bound    int
	released bool
}

// NewBuffer allocates elements float32 values on the device. The byte size
// is rounded up to the role's alignment.
func NewBuffer(h *Handle, label string, elements int, access Access, role Role) (*Buffer, error) {
	const op = "buffer.create"
	if err := h.check(op); err != nil {
		return nil, err
	}
	if elements <= 0 {
		return nil, newError(KindAllocationFailed, op, "buffer %q: element count must be positive, got %d", label, elements)
	}
	if !validUsage(access, role) {
		return nil, newError(KindAllocationFailed, op, "buffer %q: %s access is not valid for a %s buffer", label, access, role)
	}
	align := role.alignment()
	size := (uint64(elements)*ElementSize + align - 1) / align * align

	dev, err := h.dev.CreateBuffer(BufferDesc{Label: label, Size: size, Role: role})
	if err != nil {
		return nil, wrapError(KindAllocationFailed, op, err)
	}
	b := &Buffer{h: h, dev: dev, label: label, elems: elements, size: size, access: access, role: role}
	h.track(b)
	logging.Debugf("allocated %s buffer %q: %d elements, %d bytes, %s", role, label, elements, size, access)
	return b, nil
}

func (b *Buffer) Label() string    { return b.label }
func (b *Buffer) Len() int         { return b.elems }
func (b *Buffer) ByteSize() uint64 { return b.size }
func (b *Buffer) Access() Access   { return b.access }
func (b *Buffer) Role() Role       { return b.role }

// Written reports whether the buffer holds defined contents: it was
// uploaded, written by a dispatch, or copied from a written buffer.
func (b *Buffer) Written() bool { return b.written }

func (b *Buffer) resource() {}

func (b *Buffer) usable(op string) error {
	if b.released {
		return newError(KindInvalidAccess, op, "buffer %q has been released", b.label)
	}
	return b.h.check(op)
}

// WithMappedRegion maps the buffer for the host, calls fn with a region of
// Len() elements and unmaps before returning, on every path.
//
// A MapWrite region starts zeroed and replaces the buffer contents when fn
// returns nil. A MapRead region is a snapshot taken after all prior commands
// on the channel completed; changes to it are discarded.
func (b *Buffer) WithMappedRegion(mode MapMode, fn func(region []float32) error) error {
	const op = "buffer.map"
	if err := b.usable(op); err != nil {
		return err
	}
	if b.mapped {
		return newError(KindInvalidAccess, op, "buffer %q is already mapped", b.label)
	}

	switch mode {
	case MapWrite:
		if b.access != HostWrite {
			return newError(KindInvalidAccess, op, "cannot map %s buffer %q for write", b.access, b.label)
		}
	case MapRead:
		if b.access != HostRead {
			return newError(KindInvalidAccess, op, "cannot map %s buffer %q for read", b.access, b.label)
		}
		if !b.written {
			return newError(KindInvalidAccess, op, "buffer %q has not been written by a completed upload, copy or dispatch", b.label)
		}
	default:
		return newError(KindInvalidAccess, op, "invalid map mode %d", mode)
	}

	b.mapped = true
	defer func() { b.mapped = false }()

	if mode == MapRead {
		data, err := b.h.dev.ReadBuffer(b.dev)
		if err != nil {
			return wrapError(KindDispatchFailed, op, err)
		}
		return fn(decodeFloats(data, b.elems))
	}

	region := make([]float32, b.elems)
	if err := fn(region); err != nil {
		return err
	}
	if err := b.h.dev.WriteBuffer(b.dev, encodeFloats(region, b.size)); err != nil {
		return wrapError(KindDispatchFailed, op, err)
	}
	b.written = true
	return nil
}

// Upload writes data into a HostWrite buffer. len(data) must equal Len().
func (b *Buffer) Upload(data []float32) error {
	if len(data) != b.elems {
		return newError(KindSizeMismatch, "buffer.upload", "buffer %q holds %d elements, got %d", b.label, b.elems, len(data))
	}
	return b.WithMappedRegion(MapWrite, func(region []float32) error {
		copy(region, data)
		return nil
	})
}

// Download reads back a HostRead buffer.
func (b *Buffer) Download() ([]float32, error) {
	var out []float32
	err := b.WithMappedRegion(MapRead, func(region []float32) error {
		out = append([]float32(nil), region...)
		return nil
	})
	return out, err
}

// CopyFrom records a device-side copy of src into b. Both buffers must have
// the same byte size. The copy is ordered after whatever produced src.
func (b *Buffer) CopyFrom(src *Buffer) error {
	const op = "buffer.copy"
	if err := b.usable(op); err != nil {
		return err
	}
	if err := src.usable(op); err != nil {
		return err
	}
	if src == b {
		return newError(KindInvalidAccess, op, "buffer %q cannot be copied onto itself", b.label)
	}
	if src.h != b.h {
		return newError(KindInvalidAccess, op, "buffers %q and %q belong to different devices", src.label, b.label)
	}
	if b.size != src.size {
		return newError(KindSizeMismatch, op, "cannot copy %d bytes from %q into %d-byte buffer %q", src.size, src.label, b.size, b.label)
	}
	if src.role != RoleInput && src.role != RoleOutput {
		return newError(KindInvalidAccess, op, "%s buffer %q cannot be a copy source", src.role, src.label)
	}
	if b.role == RoleConstant {
		return newError(KindInvalidAccess, op, "constant buffer %q cannot be a copy destination", b.label)
	}
	if b.mapped || src.mapped {
		return newError(KindInvalidAccess, op, "cannot copy while %q or %q is mapped", src.label, b.label)
	}
	if err := b.h.dev.CopyBuffer(b.dev, src.dev); err != nil {
		return wrapError(KindDispatchFailed, op, err)
	}
	b.written = src.written
	return nil
}

// Release frees the device memory. Releasing a buffer that is still bound to
// a session is an InvalidAccess error; releasing twice is a no-op.
func (b *Buffer) Release() error {
	const op = "buffer.release"
	if b.released {
		return nil
	}
	if b.bound > 0 {
		return newError(KindInvalidAccess, op, "buffer %q is still bound to %d session slot(s)", b.label, b.bound)
	}
	if b.mapped {
		return newError(KindInvalidAccess, op, "buffer %q is mapped", b.label)
	}
	b.released = true
	b.h.forget(b)
	b.dev.Release()
	return nil
}

func encodeFloats(v []float32, size uint64) []byte {
	out := make([]byte, size)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*ElementSize:], math.Float32bits(f))
	}
	return out
}

func decodeFloats(b []byte, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*ElementSize:]))
	}
	return out
}
