package wgsl

import (
	"fmt"
	"math"

	"github.com/gogpu/naga/ir"
)

// Value is a runtime scalar or vector. Components hold raw bits: f32 as
// IEEE bits, i32 as two's complement, bool as 0/1.
type Value [4]uint32

func (v Value) F32() float32 { return math.Float32frombits(v[0]) }
func (v Value) I32() int32   { return int32(v[0]) }
func (v Value) Bool() bool   { return v[0] != 0 }

func f32Bits(f float32) uint32 { return math.Float32bits(f) }

func boolBits(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// shape is the static type of a value: a 32-bit scalar kind and a
// component count, 1 for scalars.
type shape struct {
	kind ir.ScalarKind
	n    int
}

var (
	shapeBool = shape{kind: ir.ScalarBool, n: 1}
	shapeU32  = shape{kind: ir.ScalarUint, n: 1}
	shapeVec3 = shape{kind: ir.ScalarUint, n: 3}
)

func scalarName(k ir.ScalarKind) string {
	switch k {
	case ir.ScalarFloat:
		return "f32"
	case ir.ScalarUint:
		return "u32"
	case ir.ScalarSint:
		return "i32"
	case ir.ScalarBool:
		return "bool"
	}
	return "unknown"
}

func (s shape) String() string {
	if s.n == 1 {
		return scalarName(s.kind)
	}
	return fmt.Sprintf("vec%d<%s>", s.n, scalarName(s.kind))
}

func (s shape) scalar() shape { return shape{kind: s.kind, n: 1} }

func (s shape) isInt() bool { return s.kind == ir.ScalarUint || s.kind == ir.ScalarSint }

// concrete maps abstract literal kinds to their WGSL defaults.
func concrete(k ir.ScalarKind) ir.ScalarKind {
	switch k {
	case ir.ScalarAbstractInt:
		return ir.ScalarSint
	case ir.ScalarAbstractFloat:
		return ir.ScalarFloat
	}
	return k
}

// shapeOf maps an IR type to a shape. Only 32-bit scalars, bool and vectors
// of them are values to the interpreter.
func shapeOf(inner ir.TypeInner) (shape, error) {
	switch t := inner.(type) {
	case ir.ScalarType:
		k := concrete(t.Kind)
		if k != ir.ScalarBool && t.Width != 4 && t.Kind == k {
			return shape{}, fmt.Errorf("%d-bit scalars are not supported", int(t.Width)*8)
		}
		return shape{kind: k, n: 1}, nil
	case ir.VectorType:
		s, err := shapeOf(t.Scalar)
		if err != nil {
			return shape{}, err
		}
		s.n = int(t.Size)
		return s, nil
	}
	return shape{}, fmt.Errorf("values of type %T are not supported", inner)
}

func literal(v ir.LiteralValue) (Value, shape, error) {
	switch l := v.(type) {
	case ir.LiteralF32:
		return Value{f32Bits(float32(l))}, shape{kind: ir.ScalarFloat, n: 1}, nil
	case ir.LiteralU32:
		return Value{uint32(l)}, shapeU32, nil
	case ir.LiteralI32:
		return Value{uint32(int32(l))}, shape{kind: ir.ScalarSint, n: 1}, nil
	case ir.LiteralBool:
		return Value{boolBits(bool(l))}, shapeBool, nil
	case ir.LiteralAbstractInt:
		return Value{uint32(int32(l))}, shape{kind: ir.ScalarSint, n: 1}, nil
	case ir.LiteralAbstractFloat:
		return Value{f32Bits(float32(l))}, shape{kind: ir.ScalarFloat, n: 1}, nil
	}
	return Value{}, shape{}, fmt.Errorf("literal %T is not supported", v)
}

// f32ToU32 saturates like WGSL value conversion.
func f32ToU32(v float32) uint32 {
	switch {
	case v != v || v <= 0:
		return 0
	case v >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(v)
}

func f32ToI32(v float32) int32 {
	switch {
	case v != v:
		return 0
	case v <= math.MinInt32:
		return math.MinInt32
	case v >= math.MaxInt32:
		return math.MaxInt32
	}
	return int32(v)
}

// convert is a value conversion of one component between scalar kinds.
func convert(from, to ir.ScalarKind, x uint32) uint32 {
	switch to {
	case ir.ScalarFloat:
		switch from {
		case ir.ScalarSint:
			return f32Bits(float32(int32(x)))
		case ir.ScalarUint:
			return f32Bits(float32(x))
		case ir.ScalarBool:
			return f32Bits(float32(x))
		}
	case ir.ScalarUint:
		if from == ir.ScalarFloat {
			return f32ToU32(math.Float32frombits(x))
		}
	case ir.ScalarSint:
		if from == ir.ScalarFloat {
			return uint32(f32ToI32(math.Float32frombits(x)))
		}
	case ir.ScalarBool:
		if from == ir.ScalarFloat {
			return boolBits(math.Float32frombits(x) != 0)
		}
		return boolBits(x != 0)
	}
	return x
}
