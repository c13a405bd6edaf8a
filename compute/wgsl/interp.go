package wgsl

import (
	"fmt"

	"github.com/gogpu/naga/ir"
)

// Compile lowers src with naga and prepares every @compute entry point for
// interpretation. naga checks syntax, name resolution and IR structure; the
// interpreter compiler adds the checks it needs to execute safely, such as
// operand types and writes to read-only resources.
func Compile(name, src string) (*Program, error) {
	mod, warnings, err := lower(name, src)
	if err != nil {
		return nil, err
	}
	diags := &DiagnosticList{Source: name}
	refl := reflectModule(mod, diags)
	if err := diags.err(); err != nil {
		return nil, err
	}
	refl.Warnings = warnings

	c := &compiler{
		mod:   mod,
		diags: diags,
		slots: map[ir.GlobalVariableHandle]uint32{},
		funcs: map[ir.FunctionHandle]*function{},
	}
	for h, g := range mod.GlobalVariables {
		if g.Binding != nil {
			c.slots[ir.GlobalVariableHandle(h)] = g.Binding.Binding
		}
	}

	prog := &Program{Reflection: *refl, kernels: map[string]*Kernel{}}
	for i := range mod.EntryPoints {
		ep := &mod.EntryPoints[i]
		if ep.Stage != ir.StageCompute {
			diags.add(Pos{}, "entry point '%s' is not a compute shader; only @compute entry points are supported", ep.Name)
			continue
		}
		if k := c.entry(ep, refl); k != nil {
			prog.kernels[ep.Name] = k
		}
	}
	if err := diags.err(); err != nil {
		return nil, err
	}
	return prog, nil
}

type compiler struct {
	mod   *ir.Module
	diags *DiagnosticList
	slots map[ir.GlobalVariableHandle]uint32
	funcs map[ir.FunctionHandle]*function
}

func (c *compiler) entry(ep *ir.EntryPoint, refl *Reflection) *Kernel {
	fc := c.newFunction(&ep.Function, ep.Name)
	if ep.Function.Result != nil {
		fc.errorf("compute entry point cannot return a value")
	}
	k := &Kernel{}
	k.EntryPoint, _ = refl.Entry(ep.Name)
	for _, arg := range ep.Function.Arguments {
		bb, ok := arg.Binding.(ir.BuiltinBinding)
		if !ok {
			fc.errorf("entry point parameter '%s' must be a @builtin", arg.Name)
			continue
		}
		want, name := shapeVec3, ""
		switch bb.Builtin {
		case ir.BuiltinGlobalInvocationID:
			name = "global_invocation_id"
		case ir.BuiltinLocalInvocationID:
			name = "local_invocation_id"
		case ir.BuiltinWorkGroupID:
			name = "workgroup_id"
		case ir.BuiltinNumWorkGroups:
			name = "num_workgroups"
		case ir.BuiltinLocalInvocationIndex:
			want, name = shapeU32, "local_invocation_index"
		default:
			fc.errorf("entry point parameter '%s' uses a builtin that compute kernels do not provide", arg.Name)
			continue
		}
		if got, err := shapeOf(c.mod.Types[arg.Type].Inner); err != nil || got != want {
			fc.errorf("@builtin(%s) must have type %s", name, want)
			continue
		}
		k.builtins = append(k.builtins, bb.Builtin)
	}
	fn := fc.compile()
	if fc.failed {
		return nil
	}
	k.fn = fn
	return k
}

// function compiles a module function on first call. WGSL forbids
// recursion, so the call graph is acyclic.
func (c *compiler) function(h ir.FunctionHandle) (*function, bool) {
	if fn, ok := c.funcs[h]; ok {
		return fn, fn != nil
	}
	src := &c.mod.Functions[h]
	c.funcs[h] = nil
	fc := c.newFunction(src, src.Name)
	fn := fc.compile()
	if fc.failed {
		return nil, false
	}
	c.funcs[h] = fn
	return fn, true
}

type valueExpr struct {
	raw evalFn
	s   shape
	err error
}

type pointee struct {
	inner    ir.TypeInner
	name     string
	readOnly bool
	screened bool
}

type refExpr struct {
	fn  refFn
	p   pointee
	err error
}

// funcCompiler turns one IR function into closures. Expression results are
// memoized per handle so shared subexpressions compile once.
type funcCompiler struct {
	*compiler
	src      *ir.Function
	name     string
	values   map[ir.ExpressionHandle]*valueExpr
	refs     map[ir.ExpressionHandle]*refExpr
	reported map[string]bool
	failed   bool
}

func (c *compiler) newFunction(src *ir.Function, name string) *funcCompiler {
	return &funcCompiler{
		compiler: c,
		src:      src,
		name:     name,
		values:   map[ir.ExpressionHandle]*valueExpr{},
		refs:     map[ir.ExpressionHandle]*refExpr{},
		reported: map[string]bool{},
	}
}

func (fc *funcCompiler) errorf(format string, args ...any) {
	fc.failed = true
	msg := fmt.Sprintf("in function '%s': %s", fc.name, fmt.Sprintf(format, args...))
	if fc.reported[msg] {
		return
	}
	fc.reported[msg] = true
	fc.diags.add(Pos{}, "%s", msg)
}

func (fc *funcCompiler) compile() *function {
	fn := &function{
		name:   fc.name,
		nexprs: len(fc.src.Expressions),
		nargs:  len(fc.src.Arguments),
	}
	for _, lv := range fc.src.LocalVars {
		inner := fc.mod.Types[lv.Type].Inner
		l := local{size: int(ir.TypeSize(fc.mod, lv.Type))}
		if s, err := shapeOf(inner); err == nil {
			l.size, l.n = 4*s.n, s.n
			if lv.Init != nil {
				initFn, is, err := fc.valueAs(*lv.Init, s)
				if err == nil && is != s {
					err = fmt.Errorf("cannot initialize '%s' of type %s with %s", lv.Name, s, is)
				}
				if err != nil {
					fc.errorf("%v", err)
				}
				l.init = initFn
			}
		} else if lv.Init != nil {
			if _, zero := fc.src.Expressions[*lv.Init].Kind.(ir.ExprZeroValue); !zero {
				fc.errorf("local variable '%s': %v", lv.Name, err)
			}
		}
		fn.locals = append(fn.locals, l)
	}
	fn.body = fc.block(fc.src.Body)
	return fn
}

// isPointer reports whether h evaluates to a reference rather than a value.
func (fc *funcCompiler) isPointer(h ir.ExpressionHandle) bool {
	switch e := fc.src.Expressions[h].Kind.(type) {
	case ir.ExprGlobalVariable:
		return fc.mod.GlobalVariables[e.Variable].Space != ir.SpaceHandle
	case ir.ExprLocalVariable:
		return true
	case ir.ExprFunctionArgument:
		_, ok := fc.mod.Types[fc.src.Arguments[e.Index].Type].Inner.(ir.PointerType)
		return ok
	case ir.ExprAccess:
		return fc.isPointer(e.Base)
	case ir.ExprAccessIndex:
		return fc.isPointer(e.Base)
	}
	return false
}

// preEmitted kinds are never covered by an Emit statement.
func preEmitted(k ir.ExpressionKind) bool {
	switch k.(type) {
	case ir.Literal, ir.ExprConstant, ir.ExprZeroValue, ir.ExprFunctionArgument,
		ir.ExprGlobalVariable, ir.ExprLocalVariable, ir.ExprCallResult:
		return true
	}
	return false
}

// value returns an evaluator for h. Emitted expressions read the result
// computed at their Emit statement so loads observe memory at that point.
func (fc *funcCompiler) value(h ir.ExpressionHandle) (evalFn, shape, error) {
	ve := fc.valueExpr(h)
	if ve.err != nil {
		return nil, shape{}, ve.err
	}
	if preEmitted(fc.src.Expressions[h].Kind) {
		return ve.raw, ve.s, nil
	}
	raw := ve.raw
	return func(f *frame) Value {
		if f.set[h] {
			return f.vals[h]
		}
		return raw(f)
	}, ve.s, nil
}

// valueAs is value with abstract literals converted to want's scalar kind.
func (fc *funcCompiler) valueAs(h ir.ExpressionHandle, want shape) (evalFn, shape, error) {
	if lit, ok := fc.src.Expressions[h].Kind.(ir.Literal); ok {
		var bits uint32
		switch l := lit.Value.(type) {
		case ir.LiteralAbstractInt:
			switch want.kind {
			case ir.ScalarFloat:
				bits = f32Bits(float32(l))
			default:
				bits = uint32(int64(l))
			}
		case ir.LiteralAbstractFloat:
			if want.kind != ir.ScalarFloat {
				return fc.value(h)
			}
			bits = f32Bits(float32(l))
		default:
			return fc.value(h)
		}
		v := Value{bits}
		return func(*frame) Value { return v }, want.scalar(), nil
	}
	return fc.value(h)
}

func (fc *funcCompiler) valueExpr(h ir.ExpressionHandle) *valueExpr {
	if ve, ok := fc.values[h]; ok {
		return ve
	}
	ve := &valueExpr{}
	if fc.isPointer(h) {
		ve.err = fmt.Errorf("reference expression %d used as a value", h)
	} else {
		ve.raw, ve.s, ve.err = fc.compileValue(h)
	}
	fc.values[h] = ve
	return ve
}

func constFn(v Value) evalFn { return func(*frame) Value { return v } }

func (c *compiler) constant(ch ir.ConstantHandle) (Value, shape, error) {
	k := &c.mod.Constants[ch]
	s, err := shapeOf(c.mod.Types[k.Type].Inner)
	if err != nil {
		return Value{}, shape{}, fmt.Errorf("constant '%s': %v", k.Name, err)
	}
	switch v := k.Value.(type) {
	case ir.ScalarValue:
		// float constants, abstract ones included, hold f32 bits
		return Value{uint32(v.Bits)}, s, nil
	case ir.ZeroConstantValue:
		return Value{}, s, nil
	case ir.CompositeValue:
		var out Value
		i := 0
		for _, comp := range v.Components {
			cv, cs, err := c.constant(comp)
			if err != nil {
				return Value{}, shape{}, err
			}
			for j := 0; j < cs.n && i < 4; j++ {
				out[i] = cv[j]
				i++
			}
		}
		return out, s, nil
	}
	return Value{}, shape{}, fmt.Errorf("constant '%s' has no value", k.Name)
}

func (fc *funcCompiler) compileValue(h ir.ExpressionHandle) (evalFn, shape, error) {
	switch e := fc.src.Expressions[h].Kind.(type) {
	case ir.Literal:
		v, s, err := literal(e.Value)
		return constFn(v), s, err

	case ir.ExprConstant:
		v, s, err := fc.constant(e.Constant)
		return constFn(v), s, err

	case ir.ExprZeroValue:
		s, err := shapeOf(fc.mod.Types[e.Type].Inner)
		return constFn(Value{}), s, err

	case ir.ExprCompose:
		s, err := shapeOf(fc.mod.Types[e.Type].Inner)
		if err != nil {
			return nil, shape{}, err
		}
		var parts []evalFn
		var widths []int
		total := 0
		for _, ch := range e.Components {
			p, ps, err := fc.valueAs(ch, s.scalar())
			if err != nil {
				return nil, shape{}, err
			}
			if ps.kind != s.kind {
				return nil, shape{}, fmt.Errorf("cannot construct %s from %s", s, ps)
			}
			parts = append(parts, p)
			widths = append(widths, ps.n)
			total += ps.n
		}
		if total != s.n {
			return nil, shape{}, fmt.Errorf("%s constructor takes %d components, found %d", s, s.n, total)
		}
		return func(f *frame) Value {
			var out Value
			i := 0
			for j, p := range parts {
				v := p(f)
				i += copy(out[i:i+widths[j]], v[:widths[j]])
			}
			return out
		}, s, nil

	case ir.ExprSplat:
		v, vs, err := fc.value(e.Value)
		if err != nil {
			return nil, shape{}, err
		}
		if vs.n != 1 {
			return nil, shape{}, fmt.Errorf("cannot splat %s", vs)
		}
		n := int(e.Size)
		return func(f *frame) Value {
			x := v(f)[0]
			var out Value
			for i := 0; i < n; i++ {
				out[i] = x
			}
			return out
		}, shape{kind: vs.kind, n: n}, nil

	case ir.ExprSwizzle:
		v, vs, err := fc.value(e.Vector)
		if err != nil {
			return nil, shape{}, err
		}
		n := int(e.Size)
		pattern := e.Pattern
		for i := 0; i < n; i++ {
			if int(pattern[i]) >= vs.n {
				return nil, shape{}, fmt.Errorf("swizzle component %d is out of range for %s", pattern[i], vs)
			}
		}
		return func(f *frame) Value {
			x := v(f)
			var out Value
			for i := 0; i < n; i++ {
				out[i] = x[pattern[i]]
			}
			return out
		}, shape{kind: vs.kind, n: n}, nil

	case ir.ExprAccess:
		v, vs, err := fc.value(e.Base)
		if err != nil {
			return nil, shape{}, err
		}
		idx, is, err := fc.valueAs(e.Index, shapeU32)
		if err != nil {
			return nil, shape{}, err
		}
		if vs.n == 1 || !is.isInt() || is.n != 1 {
			return nil, shape{}, fmt.Errorf("cannot index %s with %s", vs, is)
		}
		last := uint32(vs.n - 1)
		signed := is.kind == ir.ScalarSint
		return func(f *frame) Value {
			i := idx(f)[0]
			if signed && int32(i) < 0 {
				i = 0
			}
			return Value{v(f)[min(i, last)]}
		}, vs.scalar(), nil

	case ir.ExprAccessIndex:
		v, vs, err := fc.value(e.Base)
		if err != nil {
			return nil, shape{}, err
		}
		if vs.n == 1 || int(e.Index) >= vs.n {
			return nil, shape{}, fmt.Errorf("component %d is out of range for %s", e.Index, vs)
		}
		i := e.Index
		return func(f *frame) Value { return Value{v(f)[i]} }, vs.scalar(), nil

	case ir.ExprFunctionArgument:
		s, err := shapeOf(fc.mod.Types[fc.src.Arguments[e.Index].Type].Inner)
		i := e.Index
		return func(f *frame) Value { return f.args[i] }, s, err

	case ir.ExprLoad:
		p, err := fc.pointer(e.Pointer)
		if err != nil {
			return nil, shape{}, err
		}
		s, err := shapeOf(p.p.inner)
		if err != nil {
			return nil, shape{}, fmt.Errorf("loading '%s': %v", p.p.name, err)
		}
		r, n := p.fn, s.n
		return func(f *frame) Value { return f.load(r(f), n) }, s, nil

	case ir.ExprUnary:
		v, vs, err := fc.value(e.Expr)
		if err != nil {
			return nil, shape{}, err
		}
		op, err := unaryOp(e.Op, vs)
		if err != nil {
			return nil, shape{}, err
		}
		n := vs.n
		return func(f *frame) Value {
			x := v(f)
			var out Value
			for i := 0; i < n; i++ {
				out[i] = op(x[i])
			}
			return out
		}, vs, nil

	case ir.ExprBinary:
		return fc.binary(e)

	case ir.ExprSelect:
		cond, cs, err := fc.value(e.Condition)
		if err != nil {
			return nil, shape{}, err
		}
		acc, as, err := fc.value(e.Accept)
		if err != nil {
			return nil, shape{}, err
		}
		rej, rs, err := fc.valueAs(e.Reject, as)
		if err != nil {
			return nil, shape{}, err
		}
		if as != rs || cs.kind != ir.ScalarBool || (cs.n != 1 && cs.n != as.n) {
			return nil, shape{}, fmt.Errorf("no matching overload for select(%s, %s, %s)", rs, as, cs)
		}
		n, wide := as.n, cs.n > 1
		return func(f *frame) Value {
			c, a, r := cond(f), acc(f), rej(f)
			if !wide {
				if c[0] != 0 {
					return a
				}
				return r
			}
			var out Value
			for i := 0; i < n; i++ {
				out[i] = r[i]
				if c[i] != 0 {
					out[i] = a[i]
				}
			}
			return out
		}, as, nil

	case ir.ExprRelational:
		v, vs, err := fc.value(e.Argument)
		if err != nil {
			return nil, shape{}, err
		}
		n := vs.n
		switch e.Fun {
		case ir.RelationalAll, ir.RelationalAny:
			if vs.kind != ir.ScalarBool {
				return nil, shape{}, fmt.Errorf("all and any take boolean vectors, found %s", vs)
			}
			all := e.Fun == ir.RelationalAll
			return func(f *frame) Value {
				x := v(f)
				for i := 0; i < n; i++ {
					if (x[i] != 0) != all {
						return Value{boolBits(!all)}
					}
				}
				return Value{boolBits(all)}
			}, shapeBool, nil
		}
		if vs.kind != ir.ScalarFloat {
			return nil, shape{}, fmt.Errorf("isNan and isInf take floats, found %s", vs)
		}
		nan := e.Fun == ir.RelationalIsNan
		return func(f *frame) Value {
			x := v(f)
			var out Value
			for i := 0; i < n; i++ {
				u := x[i] & 0x7fffffff
				if nan {
					out[i] = boolBits(u > 0x7f800000)
				} else {
					out[i] = boolBits(u == 0x7f800000)
				}
			}
			return out
		}, shape{kind: ir.ScalarBool, n: n}, nil

	case ir.ExprMath:
		return fc.math(e)

	case ir.ExprAs:
		v, vs, err := fc.value(e.Expr)
		if err != nil {
			return nil, shape{}, err
		}
		to := shape{kind: concrete(e.Kind), n: vs.n}
		n := vs.n
		if e.Convert == nil {
			if vs.kind == ir.ScalarBool || to.kind == ir.ScalarBool {
				return nil, shape{}, fmt.Errorf("cannot bitcast %s to %s", vs, to)
			}
			return v, to, nil
		}
		if w := *e.Convert; w != 4 && !(w == 1 && to.kind == ir.ScalarBool) {
			return nil, shape{}, fmt.Errorf("conversion to %d-bit %s is not supported", int(w)*8, scalarName(to.kind))
		}
		from, kind := vs.kind, to.kind
		return func(f *frame) Value {
			x := v(f)
			var out Value
			for i := 0; i < n; i++ {
				out[i] = convert(from, kind, x[i])
			}
			return out
		}, to, nil

	case ir.ExprCallResult:
		res := fc.mod.Functions[e.Function].Result
		if res == nil {
			return nil, shape{}, fmt.Errorf("function '%s' does not return a value", fc.mod.Functions[e.Function].Name)
		}
		s, err := shapeOf(fc.mod.Types[res.Type].Inner)
		return func(f *frame) Value { return f.vals[h] }, s, err

	case ir.ExprArrayLength:
		p, err := fc.pointer(e.Array)
		if err != nil {
			return nil, shape{}, err
		}
		arr, ok := p.p.inner.(ir.ArrayType)
		if !ok || arr.Size.Constant != nil || arr.Stride == 0 {
			return nil, shape{}, fmt.Errorf("arrayLength requires a runtime-sized array")
		}
		r, stride := p.fn, uint64(arr.Stride)
		return func(f *frame) Value {
			x := r(f)
			if x.off > uint64(len(x.buf)) {
				return Value{}
			}
			return Value{uint32((uint64(len(x.buf)) - x.off) / stride)}
		}, shapeU32, nil

	case ir.ExprAtomicResult:
		return nil, shape{}, fmt.Errorf("atomic operations are not supported")
	}
	return nil, shape{}, fmt.Errorf("unsupported expression %T", fc.src.Expressions[h].Kind)
}

func (fc *funcCompiler) binary(e ir.ExprBinary) (evalFn, shape, error) {
	var (
		l, r   evalFn
		ls, rs shape
		err    error
	)
	// an abstract literal takes the kind of the other operand
	_, labs := fc.abstractLiteral(e.Left)
	if labs {
		r, rs, err = fc.value(e.Right)
		if err == nil {
			l, ls, err = fc.valueAs(e.Left, rs)
		}
	} else {
		l, ls, err = fc.value(e.Left)
		if err == nil {
			want := ls
			if e.Op == ir.BinaryShiftLeft || e.Op == ir.BinaryShiftRight {
				want = shapeU32
			}
			r, rs, err = fc.valueAs(e.Right, want)
		}
	}
	if err != nil {
		return nil, shape{}, err
	}
	op, res, err := binaryOp(e.Op, ls, rs)
	if err != nil {
		return nil, shape{}, err
	}
	n := res.n
	lb, rb := ls.n == 1 && n > 1, rs.n == 1 && n > 1
	return func(f *frame) Value {
		a, b := l(f), r(f)
		var out Value
		for i := 0; i < n; i++ {
			x, y := a[i], b[i]
			if lb {
				x = a[0]
			}
			if rb {
				y = b[0]
			}
			out[i] = op(x, y)
		}
		return out
	}, res, nil
}

func (fc *funcCompiler) abstractLiteral(h ir.ExpressionHandle) (ir.LiteralValue, bool) {
	lit, ok := fc.src.Expressions[h].Kind.(ir.Literal)
	if !ok {
		return nil, false
	}
	switch lit.Value.(type) {
	case ir.LiteralAbstractInt, ir.LiteralAbstractFloat:
		return lit.Value, true
	}
	return nil, false
}

func (fc *funcCompiler) math(e ir.ExprMath) (evalFn, shape, error) {
	handles := []ir.ExpressionHandle{e.Arg}
	for _, a := range []*ir.ExpressionHandle{e.Arg1, e.Arg2, e.Arg3} {
		if a != nil {
			handles = append(handles, *a)
		}
	}
	// the first concrete argument fixes the kind of abstract literals
	want := shape{}
	for _, h := range handles {
		if _, abs := fc.abstractLiteral(h); !abs {
			ve := fc.valueExpr(h)
			if ve.err != nil {
				return nil, shape{}, ve.err
			}
			want = ve.s
			break
		}
	}
	args := make([]evalFn, len(handles))
	shapes := make([]shape, len(handles))
	for i, h := range handles {
		var err error
		if want.n == 0 {
			args[i], shapes[i], err = fc.value(h)
		} else {
			args[i], shapes[i], err = fc.valueAs(h, want)
		}
		if err != nil {
			return nil, shape{}, err
		}
	}
	// mix, clamp and friends accept a scalar where the first argument is a vector
	for i := range shapes {
		if shapes[i].n == 1 && shapes[0].n > 1 && shapes[i].kind == shapes[0].kind {
			a, n := args[i], shapes[0].n
			args[i] = func(f *frame) Value {
				x := a(f)[0]
				var out Value
				for j := 0; j < n; j++ {
					out[j] = x
				}
				return out
			}
			shapes[i] = shapes[0]
		}
	}
	op, res, err := mathOp(e.Fun, shapes)
	if err != nil {
		return nil, shape{}, err
	}
	n := shapes[0].n
	return func(f *frame) Value {
		var vals [4]Value
		for i, a := range args {
			vals[i] = a(f)
		}
		return op(vals[:len(args)], n)
	}, res, nil
}

// pointer compiles a reference expression.
func (fc *funcCompiler) pointer(h ir.ExpressionHandle) (*refExpr, error) {
	if re, ok := fc.refs[h]; ok {
		return re, re.err
	}
	re := &refExpr{}
	re.fn, re.p, re.err = fc.compilePointer(h)
	fc.refs[h] = re
	return re, re.err
}

func (fc *funcCompiler) compilePointer(h ir.ExpressionHandle) (refFn, pointee, error) {
	switch e := fc.src.Expressions[h].Kind.(type) {
	case ir.ExprGlobalVariable:
		g := &fc.mod.GlobalVariables[e.Variable]
		slot, ok := fc.slots[e.Variable]
		if !ok || (g.Space != ir.SpaceStorage && g.Space != ir.SpaceUniform) {
			return nil, pointee{}, fmt.Errorf("global variable '%s' is not a storage or uniform buffer; module-scope var<private> and var<workgroup> are not supported", g.Name)
		}
		p := pointee{
			inner:    fc.mod.Types[g.Type].Inner,
			name:     g.Name,
			readOnly: g.Space == ir.SpaceUniform || g.Access == ir.StorageRead,
			screened: true,
		}
		name := g.Name
		return func(f *frame) ref {
			return ref{buf: f.inv.mem.buffer(slot), name: name, screened: true}
		}, p, nil

	case ir.ExprLocalVariable:
		lv := fc.src.LocalVars[e.Variable]
		i, name := e.Variable, lv.Name
		return func(f *frame) ref { return ref{buf: f.locals[i], name: name} },
			pointee{inner: fc.mod.Types[lv.Type].Inner, name: name}, nil

	case ir.ExprFunctionArgument:
		arg := fc.src.Arguments[e.Index]
		pt, ok := fc.mod.Types[arg.Type].Inner.(ir.PointerType)
		if !ok {
			return nil, pointee{}, fmt.Errorf("parameter '%s' is not a pointer", arg.Name)
		}
		i := e.Index
		return func(f *frame) ref { return f.argRefs[i] },
			pointee{inner: fc.mod.Types[pt.Base].Inner, name: arg.Name}, nil

	case ir.ExprAccess:
		base, err := fc.pointer(e.Base)
		if err != nil {
			return nil, pointee{}, err
		}
		idx, is, err := fc.valueAs(e.Index, shapeU32)
		if err != nil {
			return nil, pointee{}, err
		}
		if !is.isInt() || is.n != 1 {
			return nil, pointee{}, fmt.Errorf("index into '%s' must be an integer, found %s", base.p.name, is)
		}
		stride, count, elem, err := fc.element(base.p)
		if err != nil {
			return nil, pointee{}, err
		}
		p := base.p
		p.inner = elem
		b, signed := base.fn, is.kind == ir.ScalarSint
		return func(f *frame) ref {
			r := b(f)
			i := idx(f)[0]
			if (signed && int32(i) < 0) || (count > 0 && i >= count) {
				r.oob = true
			}
			r.off += uint64(i) * stride
			return r
		}, p, nil

	case ir.ExprAccessIndex:
		base, err := fc.pointer(e.Base)
		if err != nil {
			return nil, pointee{}, err
		}
		p := base.p
		var off uint64
		if st, ok := p.inner.(ir.StructType); ok {
			if int(e.Index) >= len(st.Members) {
				return nil, pointee{}, fmt.Errorf("member %d is out of range for '%s'", e.Index, p.name)
			}
			m := st.Members[e.Index]
			off, p.inner = uint64(m.Offset), fc.mod.Types[m.Type].Inner
		} else {
			stride, count, elem, err := fc.element(p)
			if err != nil {
				return nil, pointee{}, err
			}
			if count > 0 && e.Index >= count {
				return nil, pointee{}, fmt.Errorf("index %d is out of range for '%s'", e.Index, p.name)
			}
			off, p.inner = uint64(e.Index)*stride, elem
		}
		b := base.fn
		return func(f *frame) ref {
			r := b(f)
			r.off += off
			return r
		}, p, nil
	}
	return nil, pointee{}, fmt.Errorf("unsupported reference expression %T", fc.src.Expressions[h].Kind)
}

// element describes indexing into an array or vector. count is zero for
// runtime-sized arrays, whose bound is the buffer length.
func (fc *funcCompiler) element(p pointee) (stride uint64, count uint32, elem ir.TypeInner, err error) {
	switch t := p.inner.(type) {
	case ir.ArrayType:
		if t.Size.Constant != nil {
			count = *t.Size.Constant
		}
		return uint64(t.Stride), count, fc.mod.Types[t.Base].Inner, nil
	case ir.VectorType:
		return 4, uint32(t.Size), t.Scalar, nil
	}
	return 0, 0, nil, fmt.Errorf("'%s' cannot be indexed", p.name)
}

func (fc *funcCompiler) block(b ir.Block) execFn {
	stmts := make([]execFn, 0, len(b))
	for _, s := range b {
		if fn := fc.statement(s); fn != nil {
			stmts = append(stmts, fn)
		}
	}
	return func(f *frame) flow {
		for _, s := range stmts {
			fl := s(f)
			if f.inv.fault != nil {
				return flowReturn
			}
			if fl != flowNext {
				return fl
			}
		}
		return flowNext
	}
}

func (fc *funcCompiler) statement(s ir.Statement) execFn {
	fn, err := fc.compileStatement(s)
	if err != nil {
		fc.errorf("%v", err)
		return nil
	}
	return fn
}

func (fc *funcCompiler) compileStatement(s ir.Statement) (execFn, error) {
	switch st := s.Kind.(type) {
	case ir.StmtEmit:
		type emitted struct {
			h   ir.ExpressionHandle
			raw evalFn
		}
		var list []emitted
		for h := st.Range.Start; h < st.Range.End; h++ {
			if fc.isPointer(h) || preEmitted(fc.src.Expressions[h].Kind) {
				continue
			}
			ve := fc.valueExpr(h)
			if ve.err != nil {
				return nil, ve.err
			}
			list = append(list, emitted{h, ve.raw})
		}
		return func(f *frame) flow {
			for _, e := range list {
				f.vals[e.h] = e.raw(f)
				f.set[e.h] = true
			}
			return flowNext
		}, nil

	case ir.StmtBlock:
		return fc.block(st.Block), nil

	case ir.StmtIf:
		cond, cs, err := fc.value(st.Condition)
		if err != nil {
			return nil, err
		}
		if cs != shapeBool {
			return nil, fmt.Errorf("if condition must be bool, found %s", cs)
		}
		accept, reject := fc.block(st.Accept), fc.block(st.Reject)
		return func(f *frame) flow {
			if cond(f)[0] != 0 {
				return accept(f)
			}
			return reject(f)
		}, nil

	case ir.StmtSwitch:
		return fc.switchStatement(st)

	case ir.StmtLoop:
		body, cont := fc.block(st.Body), fc.block(st.Continuing)
		var breakIf evalFn
		if st.BreakIf != nil {
			var bs shape
			var err error
			if breakIf, bs, err = fc.value(*st.BreakIf); err != nil {
				return nil, err
			}
			if bs != shapeBool {
				return nil, fmt.Errorf("break if condition must be bool, found %s", bs)
			}
		}
		return func(f *frame) flow {
			for {
				switch body(f) {
				case flowBreak:
					return flowNext
				case flowReturn:
					return flowReturn
				}
				if cont(f) == flowReturn {
					return flowReturn
				}
				if breakIf != nil && breakIf(f)[0] != 0 {
					return flowNext
				}
			}
		}, nil

	case ir.StmtBreak:
		return func(*frame) flow { return flowBreak }, nil

	case ir.StmtContinue:
		return func(*frame) flow { return flowContinue }, nil

	case ir.StmtReturn:
		if st.Value == nil {
			return func(*frame) flow { return flowReturn }, nil
		}
		v, _, err := fc.value(*st.Value)
		if err != nil {
			return nil, err
		}
		return func(f *frame) flow {
			f.ret = v(f)
			return flowReturn
		}, nil

	case ir.StmtStore:
		return fc.store(st)

	case ir.StmtCall:
		return fc.call(st)

	case ir.StmtKill:
		return nil, fmt.Errorf("discard is only valid in fragment shaders")

	case ir.StmtBarrier:
		return nil, fmt.Errorf("barriers are not supported; invocations of a workgroup run one after another")

	case ir.StmtAtomic:
		return nil, fmt.Errorf("atomic operations are not supported")
	}
	return nil, fmt.Errorf("unsupported statement %T", s.Kind)
}

func (fc *funcCompiler) switchStatement(st ir.StmtSwitch) (execFn, error) {
	sel, ss, err := fc.value(st.Selector)
	if err != nil {
		return nil, err
	}
	if !ss.isInt() || ss.n != 1 {
		return nil, fmt.Errorf("switch selector must be an integer, found %s", ss)
	}
	type arm struct {
		value       uint32
		isDefault   bool
		body        execFn
		fallThrough bool
	}
	arms := make([]arm, 0, len(st.Cases))
	for _, c := range st.Cases {
		a := arm{body: fc.block(c.Body), fallThrough: c.FallThrough}
		switch v := c.Value.(type) {
		case ir.SwitchValueI32:
			a.value = uint32(int32(v))
		case ir.SwitchValueU32:
			a.value = uint32(v)
		default:
			a.isDefault = true
		}
		arms = append(arms, a)
	}
	return func(f *frame) flow {
		x := sel(f)[0]
		start := -1
		for i, a := range arms {
			if !a.isDefault && a.value == x {
				start = i
				break
			}
		}
		if start < 0 {
			for i, a := range arms {
				if a.isDefault {
					start = i
					break
				}
			}
		}
		if start < 0 {
			return flowNext
		}
		for i := start; i < len(arms); i++ {
			switch fl := arms[i].body(f); fl {
			case flowBreak:
				return flowNext
			case flowNext:
			default:
				return fl
			}
			if !arms[i].fallThrough {
				break
			}
		}
		return flowNext
	}, nil
}

func (fc *funcCompiler) store(st ir.StmtStore) (execFn, error) {
	p, err := fc.pointer(st.Pointer)
	if err != nil {
		return nil, err
	}
	if p.p.readOnly {
		return nil, fmt.Errorf("cannot store to '%s': resource is read-only", p.p.name)
	}
	want, err := shapeOf(p.p.inner)
	if err != nil {
		return nil, fmt.Errorf("storing to '%s': %v", p.p.name, err)
	}
	v, vs, err := fc.valueAs(st.Value, want)
	if err != nil {
		return nil, err
	}
	if vs != want {
		return nil, fmt.Errorf("cannot store %s to '%s' of type %s", vs, p.p.name, want)
	}
	r := p.fn
	return func(f *frame) flow {
		f.store(r(f), v(f), want)
		return flowNext
	}, nil
}

func (fc *funcCompiler) call(st ir.StmtCall) (execFn, error) {
	callee, ok := fc.function(st.Function)
	if !ok {
		return nil, fmt.Errorf("call to '%s' failed to compile", fc.mod.Functions[st.Function].Name)
	}
	target := &fc.mod.Functions[st.Function]
	if len(st.Arguments) != len(target.Arguments) {
		return nil, fmt.Errorf("'%s' takes %d arguments, found %d", target.Name, len(target.Arguments), len(st.Arguments))
	}
	vals := make([]evalFn, len(st.Arguments))
	refs := make([]refFn, len(st.Arguments))
	for i, h := range st.Arguments {
		if fc.isPointer(h) {
			p, err := fc.pointer(h)
			if err != nil {
				return nil, err
			}
			refs[i] = p.fn
			continue
		}
		want, err := shapeOf(fc.mod.Types[target.Arguments[i].Type].Inner)
		if err != nil {
			return nil, fmt.Errorf("parameter '%s' of '%s': %v", target.Arguments[i].Name, target.Name, err)
		}
		v, vs, err := fc.valueAs(h, want)
		if err != nil {
			return nil, err
		}
		if vs != want {
			return nil, fmt.Errorf("parameter '%s' of '%s' has type %s, found %s", target.Arguments[i].Name, target.Name, want, vs)
		}
		vals[i] = v
	}
	result := st.Result
	return func(f *frame) flow {
		nf := callee.frame(f.inv)
		for i := range vals {
			if refs[i] != nil {
				nf.argRefs[i] = refs[i](f)
			} else {
				nf.args[i] = vals[i](f)
			}
		}
		callee.run(nf)
		if result != nil {
			f.vals[*result] = nf.ret
			f.set[*result] = true
		}
		return flowNext
	}, nil
}
