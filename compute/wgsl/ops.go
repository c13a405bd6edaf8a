package wgsl

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gogpu/naga/ir"
)

var binaryNames = map[ir.BinaryOperator]string{
	ir.BinaryAdd: "+", ir.BinarySubtract: "-", ir.BinaryMultiply: "*", ir.BinaryDivide: "/",
	ir.BinaryModulo: "%", ir.BinaryEqual: "==", ir.BinaryNotEqual: "!=", ir.BinaryLess: "<",
	ir.BinaryLessEqual: "<=", ir.BinaryGreater: ">", ir.BinaryGreaterEqual: ">=",
	ir.BinaryAnd: "&", ir.BinaryExclusiveOr: "^", ir.BinaryInclusiveOr: "|",
	ir.BinaryLogicalAnd: "&&", ir.BinaryLogicalOr: "||",
	ir.BinaryShiftLeft: "<<", ir.BinaryShiftRight: ">>",
}

type scalarOp func(a, b uint32) uint32

// binaryOp checks operand shapes and returns the per-component operation and
// result shape. A scalar operand is broadcast against a vector.
func binaryOp(op ir.BinaryOperator, l, r shape) (scalarOp, shape, error) {
	mismatch := fmt.Errorf("no matching overload for operator %s (%s, %s)", binaryNames[op], l, r)
	n := l.n
	if l.n != r.n {
		if l.n != 1 && r.n != 1 {
			return nil, shape{}, mismatch
		}
		n = max(l.n, r.n)
	}
	k := l.kind
	switch op {
	case ir.BinaryShiftLeft, ir.BinaryShiftRight:
		if !l.isInt() || r.kind != ir.ScalarUint {
			return nil, shape{}, mismatch
		}
		return shiftOp(op, k), shape{kind: k, n: n}, nil
	}
	if l.kind != r.kind {
		return nil, shape{}, mismatch
	}
	res := shape{kind: k, n: n}
	switch op {
	case ir.BinaryEqual, ir.BinaryNotEqual, ir.BinaryLess, ir.BinaryLessEqual, ir.BinaryGreater, ir.BinaryGreaterEqual:
		if k == ir.ScalarBool && op != ir.BinaryEqual && op != ir.BinaryNotEqual {
			return nil, shape{}, mismatch
		}
		return compareOp(op, k), shape{kind: ir.ScalarBool, n: n}, nil
	case ir.BinaryLogicalAnd, ir.BinaryLogicalOr:
		if k != ir.ScalarBool {
			return nil, shape{}, mismatch
		}
		if op == ir.BinaryLogicalAnd {
			return func(a, b uint32) uint32 { return a & b }, res, nil
		}
		return func(a, b uint32) uint32 { return a | b }, res, nil
	case ir.BinaryAnd, ir.BinaryExclusiveOr, ir.BinaryInclusiveOr:
		if k == ir.ScalarFloat {
			return nil, shape{}, mismatch
		}
		switch op {
		case ir.BinaryAnd:
			return func(a, b uint32) uint32 { return a & b }, res, nil
		case ir.BinaryExclusiveOr:
			return func(a, b uint32) uint32 { return a ^ b }, res, nil
		}
		return func(a, b uint32) uint32 { return a | b }, res, nil
	}
	if k == ir.ScalarBool {
		return nil, shape{}, mismatch
	}
	fn := arithOp(op, k)
	if fn == nil {
		return nil, shape{}, mismatch
	}
	return fn, res, nil
}

func arithOp(op ir.BinaryOperator, k ir.ScalarKind) scalarOp {
	switch k {
	case ir.ScalarFloat:
		f := func(g func(x, y float32) float32) scalarOp {
			return func(a, b uint32) uint32 {
				return f32Bits(g(math.Float32frombits(a), math.Float32frombits(b)))
			}
		}
		switch op {
		case ir.BinaryAdd:
			return f(func(x, y float32) float32 { return x + y })
		case ir.BinarySubtract:
			return f(func(x, y float32) float32 { return x - y })
		case ir.BinaryMultiply:
			return f(func(x, y float32) float32 { return x * y })
		case ir.BinaryDivide:
			return f(func(x, y float32) float32 { return x / y })
		case ir.BinaryModulo:
			// truncated remainder, sign follows the dividend
			return f(func(x, y float32) float32 { return float32(math.Mod(float64(x), float64(y))) })
		}
	case ir.ScalarUint:
		switch op {
		case ir.BinaryAdd:
			return func(a, b uint32) uint32 { return a + b }
		case ir.BinarySubtract:
			return func(a, b uint32) uint32 { return a - b }
		case ir.BinaryMultiply:
			return func(a, b uint32) uint32 { return a * b }
		case ir.BinaryDivide:
			return func(a, b uint32) uint32 {
				if b == 0 {
					return a
				}
				return a / b
			}
		case ir.BinaryModulo:
			return func(a, b uint32) uint32 {
				if b == 0 {
					return 0
				}
				return a % b
			}
		}
	case ir.ScalarSint:
		switch op {
		case ir.BinaryAdd:
			return func(a, b uint32) uint32 { return a + b }
		case ir.BinarySubtract:
			return func(a, b uint32) uint32 { return a - b }
		case ir.BinaryMultiply:
			return func(a, b uint32) uint32 { return uint32(int32(a) * int32(b)) }
		case ir.BinaryDivide:
			return func(a, b uint32) uint32 {
				x, y := int32(a), int32(b)
				if y == 0 || (x == math.MinInt32 && y == -1) {
					return a
				}
				return uint32(x / y)
			}
		case ir.BinaryModulo:
			return func(a, b uint32) uint32 {
				x, y := int32(a), int32(b)
				if y == 0 || (x == math.MinInt32 && y == -1) {
					return 0
				}
				return uint32(x % y)
			}
		}
	}
	return nil
}

func shiftOp(op ir.BinaryOperator, k ir.ScalarKind) scalarOp {
	if op == ir.BinaryShiftLeft {
		return func(a, b uint32) uint32 { return a << (b & 31) }
	}
	if k == ir.ScalarSint {
		return func(a, b uint32) uint32 { return uint32(int32(a) >> (b & 31)) }
	}
	return func(a, b uint32) uint32 { return a >> (b & 31) }
}

func compareOp(op ir.BinaryOperator, k ir.ScalarKind) scalarOp {
	var cmp func(a, b uint32) int
	switch k {
	case ir.ScalarFloat:
		cmp = func(a, b uint32) int {
			x, y := math.Float32frombits(a), math.Float32frombits(b)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			case x == y:
				return 0
			}
			// unordered
			return 2
		}
	case ir.ScalarSint:
		cmp = func(a, b uint32) int {
			x, y := int32(a), int32(b)
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	default:
		cmp = func(a, b uint32) int {
			switch {
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		}
	}
	var test func(c int) bool
	switch op {
	case ir.BinaryEqual:
		test = func(c int) bool { return c == 0 }
	case ir.BinaryNotEqual:
		test = func(c int) bool { return c != 0 }
	case ir.BinaryLess:
		test = func(c int) bool { return c == -1 }
	case ir.BinaryLessEqual:
		test = func(c int) bool { return c == -1 || c == 0 }
	case ir.BinaryGreater:
		test = func(c int) bool { return c == 1 }
	default:
		test = func(c int) bool { return c == 1 || c == 0 }
	}
	return func(a, b uint32) uint32 { return boolBits(test(cmp(a, b))) }
}

func unaryOp(op ir.UnaryOperator, s shape) (func(uint32) uint32, error) {
	switch op {
	case ir.UnaryNegate:
		switch s.kind {
		case ir.ScalarFloat:
			return func(a uint32) uint32 { return a ^ 0x80000000 }, nil
		case ir.ScalarSint:
			return func(a uint32) uint32 { return uint32(-int32(a)) }, nil
		}
		return nil, fmt.Errorf("no matching overload for operator - (%s)", s)
	case ir.UnaryLogicalNot:
		if s.kind != ir.ScalarBool {
			return nil, fmt.Errorf("no matching overload for operator ! (%s)", s)
		}
		return func(a uint32) uint32 { return a ^ 1 }, nil
	default:
		if !s.isInt() {
			return nil, fmt.Errorf("no matching overload for operator ~ (%s)", s)
		}
		return func(a uint32) uint32 { return ^a }, nil
	}
}

type mathFn func(args []Value, n int) Value

func perComponent(g func(x float64) float64) mathFn {
	return func(args []Value, n int) Value {
		var out Value
		for i := 0; i < n; i++ {
			out[i] = f32Bits(float32(g(float64(math.Float32frombits(args[0][i])))))
		}
		return out
	}
}

func perComponent2(g func(x, y float64) float64) mathFn {
	return func(args []Value, n int) Value {
		var out Value
		for i := 0; i < n; i++ {
			x := float64(math.Float32frombits(args[0][i]))
			y := float64(math.Float32frombits(args[1][i]))
			out[i] = f32Bits(float32(g(x, y)))
		}
		return out
	}
}

func perComponent3(g func(x, y, z float64) float64) mathFn {
	return func(args []Value, n int) Value {
		var out Value
		for i := 0; i < n; i++ {
			x := float64(math.Float32frombits(args[0][i]))
			y := float64(math.Float32frombits(args[1][i]))
			z := float64(math.Float32frombits(args[2][i]))
			out[i] = f32Bits(float32(g(x, y, z)))
		}
		return out
	}
}

func perInt(g func(k ir.ScalarKind, x uint32) uint32, k ir.ScalarKind) mathFn {
	return func(args []Value, n int) Value {
		var out Value
		for i := 0; i < n; i++ {
			out[i] = g(k, args[0][i])
		}
		return out
	}
}

func dot(args []Value, n int) float64 {
	var s float64
	for i := 0; i < n; i++ {
		s += float64(math.Float32frombits(args[0][i])) * float64(math.Float32frombits(args[1][i]))
	}
	return s
}

func smoothstep(e0, e1, x float64) float64 {
	t := math.Min(math.Max((x-e0)/(e1-e0), 0), 1)
	return t * t * (3 - 2*t)
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}

// intMinMax covers the integer overloads of abs, min, max and clamp.
func intMinMax(fun ir.MathFunction, k ir.ScalarKind) mathFn {
	less := func(a, b uint32) bool { return a < b }
	if k == ir.ScalarSint {
		less = func(a, b uint32) bool { return int32(a) < int32(b) }
	}
	lo := func(a, b uint32) uint32 {
		if less(b, a) {
			return b
		}
		return a
	}
	hi := func(a, b uint32) uint32 {
		if less(a, b) {
			return b
		}
		return a
	}
	return func(args []Value, n int) Value {
		var out Value
		for i := 0; i < n; i++ {
			a := args[0][i]
			switch fun {
			case ir.MathAbs:
				if k == ir.ScalarSint && int32(a) < 0 {
					a = uint32(-int32(a))
				}
				out[i] = a
			case ir.MathMin:
				out[i] = lo(a, args[1][i])
			case ir.MathMax:
				out[i] = hi(a, args[1][i])
			case ir.MathClamp:
				out[i] = lo(hi(a, args[1][i]), args[2][i])
			}
		}
		return out
	}
}

// mathOp resolves a builtin function for the argument shapes. All arguments
// must share the first argument's shape.
func mathOp(fun ir.MathFunction, args []shape) (mathFn, shape, error) {
	s := args[0]
	for _, a := range args[1:] {
		if a != s {
			return nil, shape{}, fmt.Errorf("builtin function arguments must have the same type, found %s and %s", s, a)
		}
	}
	if s.kind == ir.ScalarBool {
		return nil, shape{}, fmt.Errorf("builtin function does not accept %s", s)
	}
	if s.isInt() {
		switch fun {
		case ir.MathAbs, ir.MathMin, ir.MathMax, ir.MathClamp:
			return intMinMax(fun, s.kind), s, nil
		case ir.MathCountOneBits:
			return perInt(func(_ ir.ScalarKind, x uint32) uint32 { return uint32(bits.OnesCount32(x)) }, s.kind), s, nil
		case ir.MathCountLeadingZeros:
			return perInt(func(_ ir.ScalarKind, x uint32) uint32 { return uint32(bits.LeadingZeros32(x)) }, s.kind), s, nil
		case ir.MathCountTrailingZeros:
			return perInt(func(_ ir.ScalarKind, x uint32) uint32 { return uint32(bits.TrailingZeros32(x)) }, s.kind), s, nil
		case ir.MathReverseBits:
			return perInt(func(_ ir.ScalarKind, x uint32) uint32 { return bits.Reverse32(x) }, s.kind), s, nil
		case ir.MathSign:
			return perInt(func(k ir.ScalarKind, x uint32) uint32 {
				if k == ir.ScalarUint {
					return boolBits(x != 0)
				}
				return uint32(int32(sign(float64(int32(x)))))
			}, s.kind), s, nil
		}
		return nil, shape{}, fmt.Errorf("builtin function does not accept %s", s)
	}

	switch fun {
	case ir.MathAbs:
		return perComponent(math.Abs), s, nil
	case ir.MathMin:
		return perComponent2(math.Min), s, nil
	case ir.MathMax:
		return perComponent2(math.Max), s, nil
	case ir.MathClamp:
		return perComponent3(func(x, lo, hi float64) float64 { return math.Min(math.Max(x, lo), hi) }), s, nil
	case ir.MathSaturate:
		return perComponent(func(x float64) float64 { return math.Min(math.Max(x, 0), 1) }), s, nil
	case ir.MathCos:
		return perComponent(math.Cos), s, nil
	case ir.MathCosh:
		return perComponent(math.Cosh), s, nil
	case ir.MathSin:
		return perComponent(math.Sin), s, nil
	case ir.MathSinh:
		return perComponent(math.Sinh), s, nil
	case ir.MathTan:
		return perComponent(math.Tan), s, nil
	case ir.MathTanh:
		return perComponent(math.Tanh), s, nil
	case ir.MathAcos:
		return perComponent(math.Acos), s, nil
	case ir.MathAsin:
		return perComponent(math.Asin), s, nil
	case ir.MathAtan:
		return perComponent(math.Atan), s, nil
	case ir.MathAtan2:
		return perComponent2(math.Atan2), s, nil
	case ir.MathAsinh:
		return perComponent(math.Asinh), s, nil
	case ir.MathAcosh:
		return perComponent(math.Acosh), s, nil
	case ir.MathAtanh:
		return perComponent(math.Atanh), s, nil
	case ir.MathRadians:
		return perComponent(func(x float64) float64 { return x * math.Pi / 180 }), s, nil
	case ir.MathDegrees:
		return perComponent(func(x float64) float64 { return x * 180 / math.Pi }), s, nil
	case ir.MathCeil:
		return perComponent(math.Ceil), s, nil
	case ir.MathFloor:
		return perComponent(math.Floor), s, nil
	case ir.MathRound:
		return perComponent(math.RoundToEven), s, nil
	case ir.MathFract:
		return perComponent(func(x float64) float64 { return x - math.Floor(x) }), s, nil
	case ir.MathTrunc:
		return perComponent(math.Trunc), s, nil
	case ir.MathExp:
		return perComponent(math.Exp), s, nil
	case ir.MathExp2:
		return perComponent(math.Exp2), s, nil
	case ir.MathLog:
		return perComponent(math.Log), s, nil
	case ir.MathLog2:
		return perComponent(math.Log2), s, nil
	case ir.MathPow:
		return perComponent2(math.Pow), s, nil
	case ir.MathSqrt:
		return perComponent(math.Sqrt), s, nil
	case ir.MathInverseSqrt:
		return perComponent(func(x float64) float64 { return 1 / math.Sqrt(x) }), s, nil
	case ir.MathSign:
		return perComponent(sign), s, nil
	case ir.MathFma:
		return perComponent3(func(a, b, c float64) float64 { return float64(float32(a)*float32(b)) + c }), s, nil
	case ir.MathMix:
		return perComponent3(func(a, b, t float64) float64 { return a*(1-t) + b*t }), s, nil
	case ir.MathStep:
		return perComponent2(func(edge, x float64) float64 {
			if x >= edge {
				return 1
			}
			return 0
		}), s, nil
	case ir.MathSmoothStep:
		return perComponent3(smoothstep), s, nil
	case ir.MathDot:
		return func(args []Value, n int) Value { return Value{f32Bits(float32(dot(args, n)))} }, s.scalar(), nil
	case ir.MathLength:
		return func(args []Value, n int) Value {
			return Value{f32Bits(float32(math.Sqrt(dot([]Value{args[0], args[0]}, n))))}
		}, s.scalar(), nil
	case ir.MathDistance:
		return func(args []Value, n int) Value {
			var d Value
			for i := 0; i < n; i++ {
				d[i] = f32Bits(math.Float32frombits(args[0][i]) - math.Float32frombits(args[1][i]))
			}
			return Value{f32Bits(float32(math.Sqrt(dot([]Value{d, d}, n))))}
		}, s.scalar(), nil
	case ir.MathNormalize:
		return func(args []Value, n int) Value {
			l := math.Sqrt(dot([]Value{args[0], args[0]}, n))
			var out Value
			for i := 0; i < n; i++ {
				out[i] = f32Bits(float32(float64(math.Float32frombits(args[0][i])) / l))
			}
			return out
		}, s, nil
	}
	return nil, shape{}, fmt.Errorf("builtin function %d is not supported", fun)
}
