package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

func (f *funcState) lowerBinary(x ast.Binary) ir.Expr {
	if ast.IsArray(x.Typ) {
		return f.errorExpr(x.Loc, x.Typ, "array operation %s not implemented", x.Op)
	}
	return f.arith(x.Loc, x.Op, f.expr(x.Left), f.expr(x.Right), x.Typ)
}

// arith applies a binary operator to lowered operands at result type t.
func (f *funcState) arith(loc ast.Loc, op ast.BinOp, l, r ir.Expr, t ast.Type) ir.Expr {
	lt, rt := l.ExprType(), r.ExprType()

	// Pointer arithmetic: the integer operand is already a byte count.
	if _, ok := t.(ast.Tpointer); ok && (op == ast.OpAdd || op == ast.OpSub) {
		if _, ok := lt.(ast.Tpointer); !ok && op == ast.OpAdd {
			// n + p: evaluate n first
			pre, n := f.stabilize(l)
			return ir.SeqExpr(pre, ir.Eoffset{Ptr: f.convert(r, t), Offset: ir.Convert(n, ast.PtrdiffT()), Type: t})
		}
		off := ir.Convert(r, ast.PtrdiffT())
		if op == ast.OpSub {
			off = ir.Eunop{Op: ir.Oneg, Arg: off, Type: ast.PtrdiffT()}
		}
		return ir.Eoffset{Ptr: f.convert(l, t), Offset: off, Type: t}
	}
	if _, ok := lt.(ast.Tpointer); ok && op == ast.OpSub {
		if _, ok := rt.(ast.Tpointer); ok {
			diff := ir.Binop(ir.Osub, ir.Econvert{Arg: l, Type: ast.PtrdiffT()}, ir.Econvert{Arg: r, Type: ast.PtrdiffT()}, ast.PtrdiffT())
			return ir.Convert(diff, t)
		}
	}

	if op == ast.OpPow {
		return f.pow(loc, l, r, t)
	}

	_, lc := lt.(ast.Tcomplex)
	_, rc := rt.(ast.Tcomplex)
	if _, ok := t.(ast.Tcomplex); ok || lc || rc {
		return f.complexArith(loc, op, l, r, t)
	}
	if ast.IsFloating(t) || ast.IsFloating(lt) {
		return f.floatArith(loc, op, l, r, t)
	}

	var iop ir.BinaryOp
	switch op {
	case ast.OpAdd:
		iop = ir.Oadd
	case ast.OpSub:
		iop = ir.Osub
	case ast.OpMul:
		iop = ir.Omul
	case ast.OpDiv:
		iop = ir.Odiv
	case ast.OpMod:
		iop = ir.Omod
	case ast.OpAnd:
		iop = ir.Oand
	case ast.OpOr:
		iop = ir.Oor
	case ast.OpXor:
		iop = ir.Oxor
	case ast.OpShl:
		iop = ir.Oshl
	case ast.OpShr:
		iop = ir.Oshr
		if ast.IsUnsigned(t) {
			iop = ir.Oshru
		}
	case ast.OpUshr:
		iop = ir.Oshru
	}
	if op == ast.OpShl || op == ast.OpShr || op == ast.OpUshr {
		return ir.Binop(iop, f.convert(l, t), r, t)
	}
	return ir.Binop(iop, f.convert(l, t), f.convert(r, t), t)
}

// floatArith handles real and imaginary operands. The product or
// quotient of two imaginaries is real; mixing a real with an imaginary
// scales the imaginary.
func (f *funcState) floatArith(loc ast.Loc, op ast.BinOp, l, r ir.Expr, t ast.Type) ir.Expr {
	lt, rt := l.ExprType(), r.ExprType()
	_, li := lt.(ast.Timaginary)
	_, ri := rt.(ast.Timaginary)
	// magnitude conversions keep the value of an imaginary operand
	mag := func(e ir.Expr) ir.Expr {
		if ast.Equal(e.ExprType(), t) {
			return e
		}
		return ir.Econvert{Arg: e, Type: t}
	}
	operand := f.convert
	if li || ri {
		operand = func(e ir.Expr, _ ast.Type) ir.Expr { return mag(e) }
	}

	switch op {
	case ast.OpAdd:
		return ir.Binop(ir.Oadd, operand(l, t), operand(r, t), t)
	case ast.OpSub:
		return ir.Binop(ir.Osub, operand(l, t), operand(r, t), t)
	case ast.OpMul:
		prod := ir.Binop(ir.Omul, operand(l, t), operand(r, t), t)
		if li && ri {
			return ir.Eunop{Op: ir.Oneg, Arg: prod, Type: t}
		}
		return prod
	case ast.OpDiv:
		q := ir.Binop(ir.Ordiv, operand(l, t), operand(r, t), t)
		if !li && ri {
			// x / yi == -(x/y) i
			return ir.Eunop{Op: ir.Oneg, Arg: q, Type: t}
		}
		return q
	case ast.OpMod:
		return ir.Binop(ir.Ofmod, operand(l, t), operand(r, t), t)
	}
	return f.errorExpr(loc, t, "operator %s is not defined for %s", op, t)
}

// complexArith implements complex operators on (re, im) pairs.
func (f *funcState) complexArith(loc ast.Loc, op ast.BinOp, l, r ir.Expr, t ast.Type) ir.Expr {
	ct, ok := t.(ast.Tcomplex)
	if !ok {
		// comparison-like use of a complex result, e.g. real(c1 + c2)
		ct = ast.Tcomplex{Size: ast.F80}
		if s, ok := ast.FloatPrecision(l.ExprType()); ok {
			ct.Size = s
		}
		return f.convert(f.complexArith(loc, op, l, r, ct), t)
	}
	part := ast.Tfloat{Size: ct.Size}

	// real + imaginary builds the pair directly
	_, lf := l.ExprType().(ast.Tfloat)
	_, ri := r.ExprType().(ast.Timaginary)
	_, li := l.ExprType().(ast.Timaginary)
	_, rf := r.ExprType().(ast.Tfloat)
	if op == ast.OpAdd || op == ast.OpSub {
		neg := func(e ir.Expr) ir.Expr {
			if op == ast.OpSub {
				return ir.Eunop{Op: ir.Oneg, Arg: e, Type: part}
			}
			return e
		}
		switch {
		case lf && ri:
			return ir.Ecomplex{Re: ir.Convert(l, part), Im: neg(ir.Econvert{Arg: r, Type: part}), Type: t}
		case li && rf:
			// the imaginary part is written second but evaluated first
			pre, im := f.stabilize(ir.Econvert{Arg: l, Type: part})
			return ir.SeqExpr(pre, ir.Ecomplex{Re: neg(ir.Convert(r, part)), Im: im, Type: t})
		}
	}

	lpre, a := f.stabilize(f.convert(l, t))
	rpre, b := f.stabilize(f.convert(r, t))
	pre := ir.Compound(nil, lpre, rpre)
	are, aim, bre, bim := complexRe(a), complexIm(a), complexRe(b), complexIm(b)
	bin := func(op ir.BinaryOp, x, y ir.Expr) ir.Expr { return ir.Binop(op, x, y, part) }

	var res ir.Expr
	switch op {
	case ast.OpAdd:
		res = ir.Ecomplex{Re: bin(ir.Oadd, are, bre), Im: bin(ir.Oadd, aim, bim), Type: t}
	case ast.OpSub:
		res = ir.Ecomplex{Re: bin(ir.Osub, are, bre), Im: bin(ir.Osub, aim, bim), Type: t}
	case ast.OpMul:
		res = ir.Ecomplex{
			Re:   bin(ir.Osub, bin(ir.Omul, are, bre), bin(ir.Omul, aim, bim)),
			Im:   bin(ir.Oadd, bin(ir.Omul, are, bim), bin(ir.Omul, aim, bre)),
			Type: t,
		}
	case ast.OpDiv:
		dpre, den := f.stabilize(bin(ir.Oadd, bin(ir.Omul, bre, bre), bin(ir.Omul, bim, bim)))
		pre = ir.Compound(nil, pre, dpre)
		res = ir.Ecomplex{
			Re:   bin(ir.Ordiv, bin(ir.Oadd, bin(ir.Omul, are, bre), bin(ir.Omul, aim, bim)), den),
			Im:   bin(ir.Ordiv, bin(ir.Osub, bin(ir.Omul, aim, bre), bin(ir.Omul, are, bim)), den),
			Type: t,
		}
	default:
		return f.errorExpr(loc, t, "operator %s is not defined for %s", op, t)
	}
	return ir.SeqExpr(pre, res)
}

// pow lowers ^^ through the math primitives; integers go through double.
func (f *funcState) pow(loc ast.Loc, l, r ir.Expr, t ast.Type) ir.Expr {
	b, calc := ir.Bpow, ast.Double()
	if s, ok := ast.FloatPrecision(t); ok {
		switch s {
		case ast.F32:
			b, calc = ir.Bpowf, ast.Float()
		case ast.F80:
			b, calc = ir.Bpowl, ast.Real()
		}
	}
	if !f.u.tgt.Has(b) {
		return f.errorExpr(loc, t, "^^ is not supported on target %s", f.u.tgt)
	}
	call := ir.Ebuiltin{Builtin: b, Args: []ir.Expr{ir.Convert(l, calc), ir.Convert(r, calc)}, Type: calc}
	return ir.Convert(call, t)
}

// comparisonOf maps a source comparison to the IR comparison for
// floating operands (unordered forms kept) or other scalars.
func comparisonOf(op ast.CmpOp, floating bool) (ir.Comparison, bool) {
	switch op {
	case ast.OpEq, ast.OpIs:
		return ir.Ceq, true
	case ast.OpNe, ast.OpNotIs:
		return ir.Cne, true
	case ast.OpLt:
		return ir.Clt, true
	case ast.OpLe:
		return ir.Cle, true
	case ast.OpGt:
		return ir.Cgt, true
	case ast.OpGe:
		return ir.Cge, true
	}
	if !floating {
		// without NaNs the unordered forms reduce to plain ones
		switch op {
		case ast.OpUe:
			return ir.Ceq, true
		case ast.OpLg:
			return ir.Cne, true
		case ast.OpUle:
			return ir.Cle, true
		case ast.OpUl:
			return ir.Clt, true
		case ast.OpUge:
			return ir.Cge, true
		case ast.OpUg:
			return ir.Cgt, true
		}
		return 0, false
	}
	switch op {
	case ast.OpUe:
		return ir.Cuneq, true
	case ast.OpLg:
		return ir.Cltgt, true
	case ast.OpUle:
		return ir.Cunle, true
	case ast.OpUl:
		return ir.Cunlt, true
	case ast.OpUge:
		return ir.Cunge, true
	case ast.OpUg:
		return ir.Cungt, true
	case ast.OpLeg:
		return ir.Cordered, true
	case ast.OpUnord:
		return ir.Cunordered, true
	}
	return 0, false
}

func isEquality(op ast.CmpOp) bool {
	return op == ast.OpEq || op == ast.OpNe
}

func isIdentity(op ast.CmpOp) bool {
	return op == ast.OpIs || op == ast.OpNotIs
}

func negated(op ast.CmpOp) bool {
	return op == ast.OpNe || op == ast.OpNotIs
}

// not inverts a boolean expression.
func not(e ir.Expr) ir.Expr {
	if c, ok := e.(ir.Ecmp); ok {
		switch c.Op {
		case ir.Ceq:
			c.Op = ir.Cne
			return c
		case ir.Cne:
			c.Op = ir.Ceq
			return c
		}
	}
	return ir.Eunop{Op: ir.Onotbool, Arg: e, Type: ast.Bool()}
}

func (f *funcState) lowerCompare(x ast.Compare) ir.Expr {
	l, r := f.expr(x.Left), f.expr(x.Right)
	res := f.compare(x.Loc, x.Op, l, r, x.Left.ExprType(), x.Right.ExprType())
	return f.convert(res, x.Typ)
}

// compare lowers a comparison of two lowered operands of source types lt
// and rt.
func (f *funcState) compare(loc ast.Loc, op ast.CmpOp, l, r ir.Expr, lt, rt ast.Type) ir.Expr {
	if _, ok := lt.(ast.Tnull); ok {
		lt = rt
		l = f.convert(l, lt)
	}
	if _, ok := rt.(ast.Tnull); ok {
		r = f.convert(r, lt)
	}

	switch t := lt.(type) {
	case ast.Tdarray, ast.Tsarray:
		return f.compareArrays(loc, op, l, r, lt, rt)
	case ast.Taarray:
		if isEquality(op) {
			eq := ir.Cmp(ir.Cne, f.libcall(libcall.AAEqual, nil, f.typeinfo(t), voidPtrOf(l), voidPtrOf(f.convert(r, lt))), ir.IntConst(0, ast.Int()))
			if negated(op) {
				return not(eq)
			}
			return eq
		}
	case ast.Tstruct:
		var res ir.Expr
		if isIdentity(op) {
			res = f.memEqual(l, r, t.Decl.Size)
		} else if isEquality(op) {
			res = f.structEqual(t.Decl, l, r)
		} else {
			return f.errorExpr(loc, ast.Bool(), "comparison %s is not defined for %s", op, t)
		}
		if negated(op) {
			return not(res)
		}
		return res
	case ast.Tdelegate:
		lpre, a := f.stabilize(l)
		rpre, b := f.stabilize(f.convert(r, lt))
		eq := ir.Elogical{Op: ir.Oandif,
			Left:  ir.Cmp(ir.Ceq, delegateCtx(a), delegateCtx(b)),
			Right: ir.Cmp(ir.Ceq, delegateFunc(a), delegateFunc(b))}
		res := ir.Compound(ir.Expr(eq), lpre, rpre)
		if negated(op) {
			return not(res)
		}
		return res
	case ast.Tcomplex:
		if isIdentity(op) {
			lpre, a := f.stabilize(l)
			rpre, b := f.stabilize(f.convert(r, lt))
			n := ast.FloatPrecisionBytes(t.Size)
			eq := ir.Elogical{Op: ir.Oandif, Left: f.memEqual(complexRe(a), complexRe(b), n), Right: f.memEqual(complexIm(a), complexIm(b), n)}
			res := ir.Compound(ir.Expr(eq), lpre, rpre)
			if negated(op) {
				return not(res)
			}
			return res
		}
		if isEquality(op) {
			lpre, a := f.stabilize(l)
			rpre, b := f.stabilize(f.convert(r, lt))
			eq := ir.Elogical{Op: ir.Oandif, Left: ir.Cmp(ir.Ceq, complexRe(a), complexRe(b)), Right: ir.Cmp(ir.Ceq, complexIm(a), complexIm(b))}
			res := ir.Compound(ir.Expr(eq), lpre, rpre)
			if negated(op) {
				return not(res)
			}
			return res
		}
		return f.errorExpr(loc, ast.Bool(), "comparison %s is not defined for %s", op, t)
	case ast.Tfloat, ast.Timaginary:
		if isIdentity(op) {
			s, _ := ast.FloatPrecision(t)
			res := f.memEqual(l, f.convert(r, lt), ast.FloatPrecisionBytes(s))
			if negated(op) {
				return not(res)
			}
			return res
		}
	}

	floating := ast.IsFloating(lt)
	cmp, ok := comparisonOf(op, floating)
	if !ok {
		// <>= is always true and !<>= always false without NaNs
		return ir.Compound(ir.Expr(ir.BoolConst(op == ast.OpLeg)), l, r)
	}
	return ir.Cmp(cmp, l, f.convert(r, lt))
}

// memEqual compares the first n bytes of two objects.
func (f *funcState) memEqual(l, r ir.Expr, n int64) ir.Expr {
	call := ir.Ebuiltin{Builtin: ir.Bmemcmp, Args: []ir.Expr{
		voidPtrOf(addrOf(l)), voidPtrOf(addrOf(r)), ir.SizeConst(n),
	}, Type: ast.Int()}
	return ir.Cmp(ir.Ceq, call, ir.IntConst(0, ast.Int()))
}

// structEqual compares two structs. Small structs and structs holding
// floating or array fields compare field by field; the rest compare
// their bytes.
func (f *funcState) structEqual(sd *ast.StructDecl, l, r ir.Expr) ir.Expr {
	if !f.fieldwise(sd) {
		return f.memEqual(l, r, sd.Size)
	}
	lpre, a := f.stableLvalueOrValue(l)
	rpre, b := f.stableLvalueOrValue(r)
	var res ir.Expr
	for _, fld := range sd.Fields {
		if fld == sd.VThis {
			continue
		}
		fa := ir.Field(a, fld.Name, fld.Offset, fld.Type)
		fb := ir.Field(b, fld.Name, fld.Offset, fld.Type)
		eq := f.compare(ast.Loc{}, ast.OpEq, fa, fb, fld.Type, fld.Type)
		if res == nil {
			res = eq
		} else {
			res = ir.Elogical{Op: ir.Oandif, Left: res, Right: eq}
		}
	}
	if res == nil {
		res = ir.BoolConst(true)
	}
	return ir.Compound(res, lpre, rpre)
}

func (f *funcState) stableLvalueOrValue(e ir.Expr) (ir.Expr, ir.Expr) {
	if isLvalue(e) {
		return f.stableLvalue(e)
	}
	return f.stabilize(e)
}

func (f *funcState) fieldwise(sd *ast.StructDecl) bool {
	if sd.IsUnion {
		return false
	}
	if f.u.tgt.StructInRegisters(sd.Size) {
		return true
	}
	for _, fld := range sd.Fields {
		t := ast.BaseElemType(fld.Type)
		if ast.IsFloating(t) || ast.IsArray(fld.Type) {
			return true
		}
		if inner := ast.StructOf(t); inner != nil && f.fieldwise(inner) {
			return true
		}
	}
	return false
}

// compareArrays lowers comparisons with an array operand.
func (f *funcState) compareArrays(loc ast.Loc, op ast.CmpOp, l, r ir.Expr, lt, rt ast.Type) ir.Expr {
	elem := ast.ElemType(lt)
	lpre, a := f.stabilize(l)
	rpre, b := f.stabilize(r)
	pre := ir.Compound(nil, lpre, rpre)

	if isIdentity(op) {
		eq := ir.Elogical{Op: ir.Oandif,
			Left:  ir.Cmp(ir.Ceq, arrayLength(a), arrayLength(b)),
			Right: ir.Cmp(ir.Ceq, voidPtrOf(arrayPtr(a)), voidPtrOf(arrayPtr(b)))}
		res := ir.SeqExpr(pre, eq)
		if negated(op) {
			return not(res)
		}
		return res
	}

	if isEquality(op) {
		var eq ir.Expr
		if f.bytewiseElems(elem) && f.u.tgt.Has(ir.Bmemcmp) {
			size := ast.Sizeof(elem)
			bytes := ir.Binop(ir.Omul, arrayLength(a), ir.SizeConst(size), ast.SizeT())
			mem := ir.Ebuiltin{Builtin: ir.Bmemcmp, Args: []ir.Expr{voidPtrOf(arrayPtr(a)), voidPtrOf(arrayPtr(b)), bytes}, Type: ast.Int()}
			memEq := ir.Cmp(ir.Ceq, mem, ir.IntConst(0, ast.Int()))
			_, ls := lt.(ast.Tsarray)
			_, rs := rt.(ast.Tsarray)
			if ls && rs {
				eq = memEq
			} else {
				eq = ir.Elogical{Op: ir.Oandif, Left: ir.Cmp(ir.Ceq, arrayLength(a), arrayLength(b)), Right: memEq}
			}
		} else {
			call := f.libcall(libcall.ArrayEq2, nil, voidArrayOf(a), voidArrayOf(b), f.typeinfo(ast.DArray(elem)))
			eq = ir.Cmp(ir.Cne, call, ir.IntConst(0, ast.Int()))
		}
		res := ir.SeqExpr(pre, eq)
		if negated(op) {
			return not(res)
		}
		return res
	}

	cmp, ok := comparisonOf(op, false)
	if !ok {
		return f.errorExpr(loc, ast.Bool(), "comparison %s is not defined for arrays", op)
	}
	call := f.libcall(libcall.ArrayCmp2, nil, voidArrayOf(a), voidArrayOf(b), f.typeinfo(ast.DArray(elem)))
	return ir.SeqExpr(pre, ir.Cmp(cmp, call, ir.IntConst(0, ast.Int())))
}

// bytewiseElems reports element types whose equality is bit equality
func (f *funcState) bytewiseElems(t ast.Type) bool {
	switch tt := t.(type) {
	case ast.Tint, ast.Tchar, ast.Tbool, ast.Tpointer, ast.Tclass:
		return true
	case ast.Tsarray:
		return f.bytewiseElems(tt.Elem)
	case ast.Tstruct:
		if tt.Decl.IsUnion {
			return true
		}
		for _, fld := range tt.Decl.Fields {
			if !f.bytewiseElems(fld.Type) {
				return false
			}
		}
		// padding would compare too
		var used int64
		for _, fld := range tt.Decl.Fields {
			used += ast.Sizeof(fld.Type)
		}
		return used == tt.Decl.Size
	}
	return false
}

func (f *funcState) lowerLogical(x ast.Logical) ir.Expr {
	l := f.condition(x.Left)
	if ast.IsVoid(x.Typ) {
		// control-flow form: a && b() runs b only when a holds
		rhs := f.expr(x.Right)
		if x.Op == ast.OpAndAnd {
			return ir.Econd{Cond: l, Then: rhs, Else: nop(), Type: ast.Void()}
		}
		return ir.Econd{Cond: l, Then: nop(), Else: rhs, Type: ast.Void()}
	}
	op := ir.Oandif
	if x.Op == ast.OpOrOr {
		op = ir.Oorif
	}
	return f.convert(ir.Elogical{Op: op, Left: l, Right: f.condition(x.Right)}, x.Typ)
}
