package wgsl

import (
	"fmt"
	"math"
	"sort"

	"github.com/gogpu/naga/ir"
)

// BindingKind is the resource class a kernel parameter slot expects.
type BindingKind int

const (
	BindingReadOnlyStorage BindingKind = iota
	BindingStorage
	BindingUniform
)

func (k BindingKind) String() string {
	switch k {
	case BindingReadOnlyStorage:
		return "read-only storage"
	case BindingStorage:
		return "read-write storage"
	case BindingUniform:
		return "uniform"
	}
	return "unknown"
}

// Binding describes one kernel parameter slot. Slots are @binding numbers
// within @group(0).
type Binding struct {
	Slot uint32
	Name string
	Kind BindingKind
	// Elem is the scalar element type for storage arrays and uniform scalars.
	Elem string
	// Fields lists uniform struct members in declaration order.
	Fields []string
	// MinSize is the smallest buffer size in bytes the slot accepts.
	MinSize uint64
}

// EntryPoint is a @compute function and its fixed workgroup extent.
type EntryPoint struct {
	Name          string
	WorkgroupSize [3]uint32
}

// Invocations is the work-item count of one workgroup. Reflection rejects
// extents whose product does not fit in a u32.
func (e EntryPoint) Invocations() uint64 {
	return uint64(e.WorkgroupSize[0]) * uint64(e.WorkgroupSize[1]) * uint64(e.WorkgroupSize[2])
}

// Reflection is the host-visible interface of a kernel module.
type Reflection struct {
	Bindings    []Binding
	EntryPoints []EntryPoint
	// Warnings are non-fatal front end messages, such as unused variables.
	Warnings []Diagnostic
}

func (r *Reflection) Entry(name string) (EntryPoint, bool) {
	for _, e := range r.EntryPoints {
		if e.Name == name {
			return e, true
		}
	}
	return EntryPoint{}, false
}

func (r *Reflection) Binding(slot uint32) (Binding, bool) {
	for _, b := range r.Bindings {
		if b.Slot == slot {
			return b, true
		}
	}
	return Binding{}, false
}

// Limits bound the workgroup extent a device accepts. Zero fields are
// unchecked.
type Limits struct {
	MaxInvocations uint32
	MaxSize        [3]uint32
}

// CheckLimits reports every entry point whose workgroup exceeds l, as a
// build log for source.
func (r *Reflection) CheckLimits(source string, l Limits) error {
	diags := &DiagnosticList{Source: source}
	for _, ep := range r.EntryPoints {
		for i, n := range ep.WorkgroupSize {
			if l.MaxSize[i] > 0 && n > l.MaxSize[i] {
				diags.add(Pos{}, "entry point '%s' has workgroup size %c=%d, limit is %d", ep.Name, "xyz"[i], n, l.MaxSize[i])
			}
		}
		if n := ep.Invocations(); l.MaxInvocations > 0 && n > uint64(l.MaxInvocations) {
			diags.add(Pos{}, "entry point '%s' has %d invocations per workgroup, limit is %d", ep.Name, n, l.MaxInvocations)
		}
	}
	return diags.err()
}

// Reflect lowers src with naga and extracts bindings and entry points
// without preparing function bodies for interpretation. It is meant for
// sources a device compiler will execute.
func Reflect(name, src string) (*Reflection, error) {
	mod, warnings, err := lower(name, src)
	if err != nil {
		return nil, err
	}
	diags := &DiagnosticList{Source: name}
	r := reflectModule(mod, diags)
	if err := diags.err(); err != nil {
		return nil, err
	}
	r.Warnings = warnings
	return r, nil
}

func reflectModule(mod *ir.Module, diags *DiagnosticList) *Reflection {
	r := &Reflection{}
	seen := map[uint32]string{}
	for _, g := range mod.GlobalVariables {
		if g.Binding == nil {
			continue
		}
		if g.Binding.Group != 0 {
			diags.add(Pos{}, "resource '%s' uses @group(%d); only @group(0) is supported", g.Name, g.Binding.Group)
			continue
		}
		if prev, dup := seen[g.Binding.Binding]; dup {
			diags.add(Pos{}, "@binding(%d) is used by both '%s' and '%s'", g.Binding.Binding, prev, g.Name)
			continue
		}
		seen[g.Binding.Binding] = g.Name
		b, err := bindingOf(mod, &g)
		if err != nil {
			diags.add(Pos{}, "%v", err)
			continue
		}
		r.Bindings = append(r.Bindings, b)
	}
	sort.Slice(r.Bindings, func(i, j int) bool { return r.Bindings[i].Slot < r.Bindings[j].Slot })

	for _, ep := range mod.EntryPoints {
		if ep.Stage != ir.StageCompute {
			continue
		}
		e := EntryPoint{Name: ep.Name, WorkgroupSize: ep.Workgroup}
		if e.WorkgroupSize[0] == 0 || e.WorkgroupSize[1] == 0 || e.WorkgroupSize[2] == 0 {
			diags.add(Pos{}, "entry point '%s': workgroup size must be greater than zero", ep.Name)
			continue
		}
		if n := e.Invocations(); n > math.MaxUint32 {
			ws := e.WorkgroupSize
			diags.add(Pos{}, "entry point '%s': workgroup size %dx%dx%d is %d invocations, more than %d",
				ep.Name, ws[0], ws[1], ws[2], n, uint64(math.MaxUint32))
			continue
		}
		r.EntryPoints = append(r.EntryPoints, e)
	}
	return r
}

// hostScalar names the 32-bit scalar types a host buffer can hold.
func hostScalar(inner ir.TypeInner) (string, bool) {
	s, ok := inner.(ir.ScalarType)
	if !ok || s.Width != 4 {
		return "", false
	}
	switch s.Kind {
	case ir.ScalarFloat:
		return "f32", true
	case ir.ScalarUint:
		return "u32", true
	case ir.ScalarSint:
		return "i32", true
	}
	return "", false
}

func bindingOf(mod *ir.Module, g *ir.GlobalVariable) (Binding, error) {
	b := Binding{Slot: g.Binding.Binding, Name: g.Name}
	inner := mod.Types[g.Type].Inner
	switch g.Space {
	case ir.SpaceStorage:
		b.Kind = BindingReadOnlyStorage
		if g.Access == ir.StorageReadWrite {
			b.Kind = BindingStorage
		}
		arr, ok := inner.(ir.ArrayType)
		if !ok {
			return b, fmt.Errorf("storage variable '%s' must be an array of f32, u32 or i32", g.Name)
		}
		elem, ok := hostScalar(mod.Types[arr.Base].Inner)
		if !ok {
			return b, fmt.Errorf("storage variable '%s' must be an array of f32, u32 or i32", g.Name)
		}
		b.Elem = elem
		b.MinSize = uint64(arr.Stride)
	case ir.SpaceUniform:
		b.Kind = BindingUniform
		if elem, ok := hostScalar(inner); ok {
			b.Elem = elem
			b.MinSize = 16
			break
		}
		st, ok := inner.(ir.StructType)
		if !ok {
			return b, fmt.Errorf("uniform variable '%s' must be a scalar or a struct of scalars", g.Name)
		}
		for _, m := range st.Members {
			if _, ok := hostScalar(mod.Types[m.Type].Inner); !ok {
				return b, fmt.Errorf("uniform struct '%s' member '%s' must be f32, u32 or i32", mod.Types[g.Type].Name, m.Name)
			}
			b.Fields = append(b.Fields, m.Name)
		}
		if len(b.Fields) == 0 {
			return b, fmt.Errorf("uniform struct '%s' has no members", mod.Types[g.Type].Name)
		}
		// uniform blocks are sized in 16 byte registers
		b.MinSize = (uint64(st.Span) + 15) / 16 * 16
	default:
		return b, fmt.Errorf("unsupported resource '%s': only storage and uniform buffers can be bound", g.Name)
	}
	return b, nil
}
