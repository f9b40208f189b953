package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

func complexPart(t ast.Type) ast.Type {
	if s, ok := ast.FloatPrecision(t); ok {
		return ast.Tfloat{Size: s}
	}
	return ast.Double()
}

func complexRe(e ir.Expr) ir.Expr {
	if c, ok := e.(ir.Ecomplex); ok {
		return c.Re
	}
	return ir.Field(e, "re", 0, complexPart(e.ExprType()))
}

func complexIm(e ir.Expr) ir.Expr {
	if c, ok := e.(ir.Ecomplex); ok {
		return c.Im
	}
	part := complexPart(e.ExprType())
	return ir.Field(e, "im", ast.Sizeof(part), part)
}

// convert converts a lowered value to type to, following the value
// representation of each type kind.
func (f *funcState) convert(e ir.Expr, to ast.Type) ir.Expr {
	from := e.ExprType()
	if ast.Equal(from, to) || ast.IsVoid(to) {
		return e
	}
	if _, ok := e.(ir.Eerror); ok {
		return ir.Eerror{Type: to}
	}

	switch ft := from.(type) {
	case ast.Tnull:
		return f.nullOf(e, to)

	case ast.Tsarray:
		switch tt := to.(type) {
		case ast.Tdarray:
			length := ft.Len * ast.Sizeof(ft.Elem) / ast.Sizeof(tt.Elem)
			return darray(ir.SizeConst(length), ir.Econvert{Arg: addrOf(e), Type: ast.Pointer(tt.Elem)}, to)
		case ast.Tpointer:
			return ir.Econvert{Arg: addrOf(e), Type: to}
		}

	case ast.Tdarray:
		switch tt := to.(type) {
		case ast.Tdarray:
			fs, ts := ast.Sizeof(ft.Elem), ast.Sizeof(tt.Elem)
			if fs == ts {
				return ir.Eview{Arg: e, Type: to}
			}
			pre, s := f.stabilize(e)
			length := ir.Binop(ir.Odiv, ir.Binop(ir.Omul, arrayLength(s), ir.SizeConst(fs), ast.SizeT()), ir.SizeConst(ts), ast.SizeT())
			return ir.SeqExpr(pre, darray(length, ir.Econvert{Arg: arrayPtr(s), Type: ast.Pointer(tt.Elem)}, to))
		case ast.Tpointer:
			return ir.Convert(arrayPtr(e), to)
		case ast.Tsarray:
			return ir.Deref(ir.Econvert{Arg: arrayPtr(e), Type: ast.Pointer(to)}, to)
		case ast.Tbool:
			return f.toBool(e)
		}

	case ast.Tclass:
		if tt, ok := to.(ast.Tclass); ok {
			if tt.Decl == nil || tt.Decl.IsBaseOf(ft.Decl) {
				return ir.Econvert{Arg: e, Type: to}
			}
			id := libcall.DynamicCast
			if ft.Decl != nil && ft.Decl.Interface {
				id = libcall.InterfaceCast
			}
			return f.libcall(id, to, voidPtrOf(e), f.classinfo(tt.Decl))
		}

	case ast.Tfloat:
		switch tt := to.(type) {
		case ast.Timaginary:
			return ir.SeqExpr(e, ir.FloatConst(0, to))
		case ast.Tcomplex:
			part := ast.Tfloat{Size: tt.Size}
			return ir.Ecomplex{Re: ir.Convert(e, part), Im: ir.FloatConst(0, part), Type: to}
		}

	case ast.Timaginary:
		switch tt := to.(type) {
		case ast.Tfloat:
			return ir.SeqExpr(e, ir.FloatConst(0, to))
		case ast.Timaginary:
			return ir.Econvert{Arg: e, Type: to}
		case ast.Tcomplex:
			part := ast.Tfloat{Size: tt.Size}
			return ir.Ecomplex{Re: ir.FloatConst(0, part), Im: ir.Econvert{Arg: e, Type: part}, Type: to}
		}
		if ast.IsIntegral(to) {
			return ir.SeqExpr(e, ir.IntConst(0, to))
		}

	case ast.Tcomplex:
		switch tt := to.(type) {
		case ast.Tcomplex:
			pre, s := f.stabilize(e)
			part := ast.Tfloat{Size: tt.Size}
			return ir.SeqExpr(pre, ir.Ecomplex{Re: ir.Convert(complexRe(s), part), Im: ir.Convert(complexIm(s), part), Type: to})
		case ast.Tfloat:
			return ir.Convert(complexRe(e), to)
		case ast.Timaginary:
			return ir.Econvert{Arg: complexIm(e), Type: to}
		case ast.Tbool:
			return f.toBool(e)
		}
		if ast.IsIntegral(to) {
			return ir.Econvert{Arg: complexRe(e), Type: to}
		}

	case ast.Tdelegate:
		if _, ok := to.(ast.Tbool); ok {
			return f.toBool(e)
		}
	}

	if _, ok := to.(ast.Tbool); ok {
		return f.toBool(e)
	}
	if ast.IsScalar(from) || ast.IsReference(from) {
		if ast.IsScalar(to) || ast.IsReference(to) {
			if _, ok := to.(ast.Tcomplex); ok {
				part := complexPart(to)
				return ir.Ecomplex{Re: ir.Convert(e, part), Im: ir.FloatConst(0, part), Type: to}
			}
			return ir.Econvert{Arg: e, Type: to}
		}
	}
	if ast.Sizeof(from) == ast.Sizeof(to) {
		return ir.Eview{Arg: e, Type: to}
	}
	return f.errorExpr(ast.Loc{}, to, "cannot convert %s to %s", from, to)
}

// nullOf converts a null value to the representation of t, keeping the
// effects of e.
func (f *funcState) nullOf(e ir.Expr, t ast.Type) ir.Expr {
	var v ir.Expr
	switch t.(type) {
	case ast.Tdarray:
		v = darray(ir.SizeConst(0), ir.NullConst(elemPtrType(t)), t)
	case ast.Tdelegate:
		v = ir.Ector{Type: t}
	default:
		v = ir.NullConst(t)
	}
	if ir.IsPure(e) {
		return v
	}
	return ir.SeqExpr(e, v)
}

// toBool tests a value against zero.
func (f *funcState) toBool(e ir.Expr) ir.Expr {
	t := e.ExprType()
	switch tt := t.(type) {
	case ast.Tbool:
		return e
	case ast.Tdarray:
		pre, s := f.stabilize(e)
		word := ir.Binop(ir.Oor, arrayLength(s), ir.Econvert{Arg: arrayPtr(s), Type: ast.SizeT()}, ast.SizeT())
		return ir.SeqExpr(pre, ir.Cmp(ir.Cne, word, ir.SizeConst(0)))
	case ast.Tdelegate:
		pre, s := f.stabilize(e)
		fp := ir.Econvert{Arg: delegateFunc(s), Type: ast.SizeT()}
		ctx := ir.Econvert{Arg: delegateCtx(s), Type: ast.SizeT()}
		return ir.SeqExpr(pre, ir.Cmp(ir.Cne, ir.Binop(ir.Oor, ctx, fp, ast.SizeT()), ir.SizeConst(0)))
	case ast.Tcomplex:
		pre, s := f.stabilize(e)
		part := ast.Tfloat{Size: tt.Size}
		return ir.SeqExpr(pre, ir.Elogical{Op: ir.Oorif,
			Left:  ir.Cmp(ir.Cne, complexRe(s), ir.FloatConst(0, part)),
			Right: ir.Cmp(ir.Cne, complexIm(s), ir.FloatConst(0, part))})
	case ast.Tfloat, ast.Timaginary:
		return ir.Cmp(ir.Cne, e, ir.FloatConst(0, t))
	case ast.Tsarray:
		return ir.SeqExpr(e, ir.BoolConst(tt.Len != 0))
	}
	if ast.IsScalar(t) || ast.IsReference(t) {
		return ir.Cmp(ir.Cne, e, ir.IntConst(0, t))
	}
	return f.errorExpr(ast.Loc{}, ast.Bool(), "expression of type %s cannot be used as a condition", t)
}

// condition lowers an expression used as a branch condition.
func (f *funcState) condition(e ast.Expr) ir.Expr {
	return f.toBool(f.expr(e))
}
