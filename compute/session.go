package compute

import (
	"fmt"
	"time"

	"github.com/openfluke/saxpy/compute/wgsl"
	"github.com/openfluke/saxpy/internal/logging"
)

// Resource is something a session slot can be bound to: a *Buffer or a Scalar.
type Resource interface {
	resource()
}

// Scalar is a float32 constant bound to a uniform slot. The session stages
// it in a constant buffer it owns.
type Scalar float32

func (Scalar) resource() {}

// Stats counts the dispatches a session has submitted.
type Stats struct {
	Dispatches int
	// LastSubmit is the host time spent submitting the last dispatch.
	LastSubmit time.Duration
}

// Session binds resources to a kernel's parameter slots and dispatches it.
type Session struct {
	h      *Handle
	kernel *Kernel
	slots  map[uint32]*Buffer
	consts map[uint32]*Buffer
	stats  Stats
	closed bool
}

func NewSession(h *Handle, k *Kernel) (*Session, error) {
	if err := h.check("session.create"); err != nil {
		return nil, err
	}
	return &Session{h: h, kernel: k, slots: map[uint32]*Buffer{}, consts: map[uint32]*Buffer{}}, nil
}

func roleFor(kind wgsl.BindingKind) Role {
	switch kind {
	case wgsl.BindingStorage:
		return RoleOutput
	case wgsl.BindingUniform:
		return RoleConstant
	}
	return RoleInput
}

// Bind associates r with slot, replacing any earlier binding. The slot must
// exist in the kernel signature and r must match its resource kind.
func (s *Session) Bind(slot uint32, r Resource) error {
	const op = "session.bind"
	if s.closed {
		return newError(KindInvalidAccess, op, "session is closed")
	}
	param, ok := s.kernel.Param(slot)
	if !ok {
		return newError(KindInvalidBinding, op, "kernel %s has no parameter slot %d", s.kernel.Name(), slot)
	}

	var buf *Buffer
	switch r := r.(type) {
	case *Buffer:
		if r == nil {
			return newError(KindInvalidBinding, op, "slot %d: nil buffer", slot)
		}
		if err := r.usable(op); err != nil {
			return err
		}
		if r.h != s.h {
			return newError(KindInvalidBinding, op, "slot %d: buffer %q belongs to a different device", slot, r.label)
		}
		if want := roleFor(param.Kind); r.role != want {
			return newError(KindInvalidBinding, op, "slot %d (%s '%s') expects a %s buffer, got %s buffer %q",
				slot, param.Kind, param.Name, want, r.role, r.label)
		}
		if r.size < param.MinSize {
			return newError(KindInvalidBinding, op, "slot %d ('%s') needs at least %d bytes, buffer %q has %d",
				slot, param.Name, param.MinSize, r.label, r.size)
		}
		buf = r
	case Scalar:
		if param.Kind != wgsl.BindingUniform {
			return newError(KindInvalidBinding, op, "slot %d (%s '%s') cannot hold a scalar constant", slot, param.Kind, param.Name)
		}
		if len(param.Fields) > 1 {
			return newError(KindInvalidBinding, op, "slot %d ('%s') has %d members; bind a constant buffer instead", slot, param.Name, len(param.Fields))
		}
		if param.Elem != "" && param.Elem != "f32" {
			return newError(KindInvalidBinding, op, "slot %d ('%s') is %s, not f32", slot, param.Name, param.Elem)
		}
		cb, err := s.constant(slot, param)
		if err != nil {
			return err
		}
		if err := cb.Upload([]float32{float32(r)}); err != nil {
			return err
		}
		buf = cb
	default:
		return newError(KindInvalidBinding, op, "slot %d: unsupported resource %T", slot, r)
	}

	if prev := s.slots[slot]; prev != nil {
		prev.bound--
	}
	buf.bound++
	s.slots[slot] = buf
	return nil
}

func (s *Session) constant(slot uint32, param wgsl.Binding) (*Buffer, error) {
	if cb := s.consts[slot]; cb != nil {
		return cb, nil
	}
	elems := int(param.MinSize / ElementSize)
	if elems == 0 {
		elems = 1
	}
	cb, err := NewBuffer(s.h, fmt.Sprintf("%s.%s", s.kernel.Name(), param.Name), elems, HostWrite, RoleConstant)
	if err != nil {
		return nil, err
	}
	s.consts[slot] = cb
	return cb, nil
}

// Dispatch checks the bindings and the decomposition, then submits groups
// work-groups. Nothing is submitted when a check fails.
func (s *Session) Dispatch(desc DispatchDescriptor, groups uint32) error {
	const op = "session.dispatch"
	if s.closed {
		return newError(KindInvalidAccess, op, "session is closed")
	}
	if err := s.h.check(op); err != nil {
		return err
	}
	if !desc.valid() {
		return newError(KindDimensionMismatch, op, "dispatch descriptor was not built with NewDispatchDescriptor")
	}
	perGroup := s.kernel.GroupSize()
	if desc.PerGroup() != perGroup {
		return newError(KindDimensionMismatch, op, "kernel %s runs %d items per group, descriptor declares %d",
			s.kernel.Name(), perGroup, desc.PerGroup())
	}
	if uint64(groups)*uint64(perGroup) != desc.Total() {
		return newError(KindDimensionMismatch, op, "%d groups x %d items = %d, problem declares %d elements",
			groups, perGroup, uint64(groups)*uint64(perGroup), desc.Total())
	}

	bindings := make([]SlotBinding, 0, len(s.kernel.Params()))
	for _, p := range s.kernel.Params() {
		b := s.slots[p.Slot]
		if b == nil {
			return newError(KindInvalidBinding, op, "slot %d ('%s') is not bound", p.Slot, p.Name)
		}
		if b.released {
			return newError(KindInvalidAccess, op, "buffer %q bound to slot %d has been released", b.label, p.Slot)
		}
		if b.role != RoleOutput && !b.written {
			return newError(KindInvalidAccess, op, "%s buffer %q bound to slot %d was never written", b.role, b.label, p.Slot)
		}
		bindings = append(bindings, SlotBinding{Slot: p.Slot, Kind: p.Kind, Buffer: b.dev})
	}

	start := time.Now()
	if err := s.kernel.dev.Dispatch(bindings, [3]uint32{groups, 1, 1}); err != nil {
		return wrapError(KindDispatchFailed, op, err)
	}
	for _, p := range s.kernel.Params() {
		if p.Kind == wgsl.BindingStorage {
			s.slots[p.Slot].written = true
		}
	}
	s.stats.Dispatches++
	s.stats.LastSubmit = time.Since(start)
	logging.Debugf("dispatched %s: %d groups x %d items in %v", s.kernel.Name(), groups, perGroup, s.stats.LastSubmit)
	return nil
}

// UnbindAll clears every slot and drops the device views of the last
// bindings. Buffers can be released afterwards.
func (s *Session) UnbindAll() {
	for slot, b := range s.slots {
		b.bound--
		delete(s.slots, slot)
	}
	s.kernel.dev.Unbind()
}

// Close unbinds everything and releases the constant buffers the session
// owns. It is safe to call more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.UnbindAll()
	s.closed = true
	var first error
	for slot, cb := range s.consts {
		if err := cb.Release(); err != nil && first == nil {
			first = err
		}
		delete(s.consts, slot)
	}
	return first
}

func (s *Session) Stats() Stats { return s.stats }
