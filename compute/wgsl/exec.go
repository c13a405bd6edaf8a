package wgsl

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/gogpu/naga/ir"
)

// Memory maps binding slots to the byte storage backing them.
type Memory struct {
	buffers map[uint32][]byte
}

func NewMemory() *Memory { return &Memory{buffers: map[uint32][]byte{}} }

// Bind attaches data to a binding slot. The slice is used in place.
func (m *Memory) Bind(slot uint32, data []byte) { m.buffers[slot] = data }

func (m *Memory) buffer(slot uint32) []byte { return m.buffers[slot] }

// invocation is the state shared by every call frame of one work item.
type invocation struct {
	mem    *Memory
	debug  bool
	gid    Value
	lid    Value
	wid    Value
	nwg    Value
	lindex uint32
	fault  error
}

func (inv *invocation) faultf(format string, args ...any) {
	if inv.fault == nil {
		inv.fault = fmt.Errorf("invocation %d: %s", inv.gid[0], fmt.Sprintf(format, args...))
	}
}

// ref addresses 32-bit words inside a resource buffer or a local variable.
type ref struct {
	buf  []byte
	off  uint64
	oob  bool
	name string
	// screened refs fault on non-finite f32 stores in debug mode
	screened bool
}

type frame struct {
	inv     *invocation
	vals    []Value
	set     []bool
	locals  [][]byte
	args    []Value
	argRefs []ref
	ret     Value
}

func (f *frame) reset() {
	clear(f.vals)
	clear(f.set)
	for _, l := range f.locals {
		clear(l)
	}
}

func (f *frame) load(r ref, n int) Value {
	var v Value
	if r.oob || r.off+uint64(4*n) > uint64(len(r.buf)) {
		if f.inv.debug {
			f.inv.faultf("out of bounds read of '%s'[%d] (length %d)", r.name, r.off/4, len(r.buf)/4)
		}
		return v
	}
	for i := 0; i < n; i++ {
		v[i] = binary.LittleEndian.Uint32(r.buf[r.off+uint64(4*i):])
	}
	return v
}

func (f *frame) store(r ref, v Value, s shape) {
	if r.oob || r.off+uint64(4*s.n) > uint64(len(r.buf)) {
		if f.inv.debug {
			f.inv.faultf("out of bounds write of '%s'[%d] (length %d)", r.name, r.off/4, len(r.buf)/4)
		}
		return
	}
	if f.inv.debug && r.screened && s.kind == ir.ScalarFloat {
		for i := 0; i < s.n; i++ {
			if x := math.Float32frombits(v[i]); math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
				f.inv.faultf("non-finite value %v written to '%s'[%d]", x, r.name, r.off/4+uint64(i))
				return
			}
		}
	}
	for i := 0; i < s.n; i++ {
		binary.LittleEndian.PutUint32(r.buf[r.off+uint64(4*i):], v[i])
	}
}

type flow uint8

const (
	flowNext flow = iota
	flowBreak
	flowContinue
	flowReturn
)

type (
	evalFn func(f *frame) Value
	refFn  func(f *frame) ref
	execFn func(f *frame) flow
)

type local struct {
	size int
	n    int
	init evalFn
}

// function is a compiled IR function body.
type function struct {
	name   string
	nexprs int
	nargs  int
	locals []local
	body   execFn
}

func (fn *function) frame(inv *invocation) *frame {
	f := &frame{
		inv:     inv,
		vals:    make([]Value, fn.nexprs),
		set:     make([]bool, fn.nexprs),
		locals:  make([][]byte, len(fn.locals)),
		args:    make([]Value, fn.nargs),
		argRefs: make([]ref, fn.nargs),
	}
	for i, l := range fn.locals {
		f.locals[i] = make([]byte, l.size)
	}
	return f
}

func (fn *function) run(f *frame) {
	for i, l := range fn.locals {
		if l.init == nil {
			continue
		}
		v := l.init(f)
		for j := 0; j < l.n; j++ {
			binary.LittleEndian.PutUint32(f.locals[i][4*j:], v[j])
		}
	}
	fn.body(f)
}

// Program is a fully checked kernel module ready for interpretation.
type Program struct {
	Reflection
	kernels map[string]*Kernel
}

// Kernel returns the compiled entry point with the given name.
func (p *Program) Kernel(entry string) (*Kernel, bool) {
	k, ok := p.kernels[entry]
	return k, ok
}

// Kernel is one compiled @compute entry point.
type Kernel struct {
	EntryPoint
	fn       *function
	builtins []ir.BuiltinValue
}

func (inv *invocation) builtin(b ir.BuiltinValue) Value {
	switch b {
	case ir.BuiltinGlobalInvocationID:
		return inv.gid
	case ir.BuiltinLocalInvocationID:
		return inv.lid
	case ir.BuiltinWorkGroupID:
		return inv.wid
	case ir.BuiltinNumWorkGroups:
		return inv.nwg
	}
	return Value{inv.lindex}
}

// RunWorkgroup executes every invocation of workgroup wid in order. With
// debug set, out-of-bounds accesses and non-finite float stores fault the
// dispatch instead of being discarded.
func (k *Kernel) RunWorkgroup(mem *Memory, wid, numGroups [3]uint32, debug bool) error {
	inv := &invocation{
		mem:   mem,
		debug: debug,
		wid:   Value{wid[0], wid[1], wid[2]},
		nwg:   Value{numGroups[0], numGroups[1], numGroups[2]},
	}
	f := k.fn.frame(inv)
	ws := k.WorkgroupSize
	for z := uint32(0); z < ws[2]; z++ {
		for y := uint32(0); y < ws[1]; y++ {
			for x := uint32(0); x < ws[0]; x++ {
				f.reset()
				inv.lid = Value{x, y, z}
				inv.gid = Value{wid[0]*ws[0] + x, wid[1]*ws[1] + y, wid[2]*ws[2] + z}
				inv.lindex = z*ws[0]*ws[1] + y*ws[0] + x
				for i, b := range k.builtins {
					f.args[i] = inv.builtin(b)
				}
				k.fn.run(f)
				if inv.fault != nil {
					return inv.fault
				}
			}
		}
	}
	return nil
}
