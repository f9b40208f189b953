package irgen

import (
	"math"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

// Dynamic arrays are (length, ptr) pairs; delegates are (ctx, funcptr)
// pairs. Both are 16-byte aggregates built with Ector and taken apart
// with Efield.

const (
	lengthOffset  = 0
	ptrOffset     = ast.PtrSize
	ctxOffset     = 0
	funcptrOffset = ast.PtrSize
)

var voidArray = ast.DArray(ast.Void())

// darray builds a dynamic array value of type t.
func darray(length, ptr ir.Expr, t ast.Type) ir.Expr {
	return ir.Ector{Type: t, Elems: []ir.CtorElem{
		{Index: 0, Offset: lengthOffset, Value: ir.Convert(length, ast.SizeT())},
		{Index: 1, Offset: ptrOffset, Value: ptr},
	}}
}

// delegateValue builds a delegate value of type t.
func delegateValue(ctx, fptr ir.Expr, t ast.Type) ir.Expr {
	return ir.Ector{Type: t, Elems: []ir.CtorElem{
		{Index: 0, Offset: ctxOffset, Value: ir.Convert(ctx, ast.VoidPtr())},
		{Index: 1, Offset: funcptrOffset, Value: fptr},
	}}
}

func elemPtrType(t ast.Type) ast.Type {
	elem := ast.ElemType(t)
	if elem == nil {
		elem = ast.Void()
	}
	return ast.Pointer(elem)
}

// arrayLength is the length of an array value; e should be stable.
func arrayLength(e ir.Expr) ir.Expr {
	switch t := e.ExprType().(type) {
	case ast.Tsarray:
		return ir.SizeConst(t.Len)
	case ast.Tdarray:
		if c, ok := e.(ir.Ector); ok {
			for _, el := range c.Elems {
				if el.Offset == lengthOffset {
					return el.Value
				}
			}
			return ir.SizeConst(0)
		}
		return ir.Field(e, "length", lengthOffset, ast.SizeT())
	}
	return ir.SizeConst(0)
}

// arrayPtr is the pointer to the first element of an array value.
func arrayPtr(e ir.Expr) ir.Expr {
	t := e.ExprType()
	switch t.(type) {
	case ast.Tsarray:
		return ir.Econvert{Arg: ir.AddrOf(e), Type: elemPtrType(t)}
	case ast.Tdarray:
		if c, ok := e.(ir.Ector); ok {
			for _, el := range c.Elems {
				if el.Offset == ptrOffset {
					return el.Value
				}
			}
			return ir.NullConst(elemPtrType(t))
		}
		return ir.Field(e, "ptr", ptrOffset, elemPtrType(t))
	case ast.Tpointer:
		return e
	}
	return ir.Econvert{Arg: e, Type: ast.VoidPtr()}
}

func delegateCtx(e ir.Expr) ir.Expr {
	return ir.Field(e, "ptr", ctxOffset, ast.VoidPtr())
}

func delegateFunc(e ir.Expr) ir.Expr {
	fn := ast.Func(ast.Void())
	if dt, ok := e.ExprType().(ast.Tdelegate); ok && dt.Func != nil {
		fn = dt.Func
	}
	return ir.Field(e, "funcptr", funcptrOffset, ast.Pointer(*fn))
}

// voidArrayOf passes an array to a runtime entry point taking void[].
// The length keeps counting elements.
func voidArrayOf(e ir.Expr) ir.Expr {
	if _, ok := e.ExprType().(ast.Tsarray); ok {
		e = darray(arrayLength(e), arrayPtr(e), ast.DArray(ast.ElemType(e.ExprType())))
	}
	if ast.Equal(e.ExprType(), voidArray) {
		return e
	}
	return ir.Eview{Arg: e, Type: voidArray}
}

func voidPtrOf(e ir.Expr) ir.Expr {
	return ir.Convert(e, ast.VoidPtr())
}

// stabilize returns an expression that can be used several times, and
// the effect that must run first. Pure expressions need no temporary.
func (f *funcState) stabilize(e ir.Expr) (pre ir.Expr, stable ir.Expr) {
	if ir.IsPure(e) {
		return nil, e
	}
	if c, ok := e.(ir.Ector); ok {
		// Stabilize the components instead of the aggregate so the
		// fields of a freshly built array stay visible.
		var effects []ir.Expr
		elems := make([]ir.CtorElem, len(c.Elems))
		for i, el := range c.Elems {
			p, s := f.stabilize(el.Value)
			if p != nil {
				effects = append(effects, p)
			}
			elems[i] = ir.CtorElem{Index: el.Index, Offset: el.Offset, Value: s}
		}
		return ir.Compound(nil, effects...), ir.Ector{Type: c.Type, Elems: elems}
	}
	v := f.temp(e.ExprType(), "")
	return ir.Init(v.Ref(), e), v.Ref()
}

// stableLvalue returns a stable lvalue designating the same object as
// e. Non-trivial lvalues are reached through a pointer temporary.
func (f *funcState) stableLvalue(e ir.Expr) (pre ir.Expr, lv ir.Expr) {
	switch x := e.(type) {
	case ir.Evar, ir.Esymbol:
		return nil, e
	case ir.Efield:
		pre, arg := f.stableLvalue(x.Arg)
		return pre, ir.Efield{Arg: arg, Name: x.Name, Offset: x.Offset, Type: x.Type}
	case ir.Ederef:
		pre, ptr := f.stabilize(x.Ptr)
		return pre, ir.Ederef{Ptr: ptr, Type: x.Type, Volatile: x.Volatile}
	case ir.Eerror:
		return nil, e
	}
	p := f.temp(ast.Pointer(e.ExprType()), "")
	return ir.Init(p.Ref(), ir.AddrOf(e)), ir.Deref(p.Ref(), e.ExprType())
}

// addrOf returns the address of e. Dereferences fold away.
func addrOf(e ir.Expr) ir.Expr {
	switch x := e.(type) {
	case ir.Ederef:
		return x.Ptr
	case ir.Eseq:
		return ir.Eseq{First: x.First, Second: addrOf(x.Second)}
	}
	return ir.AddrOf(e)
}

// isLvalue reports IR expressions that designate storage.
func isLvalue(e ir.Expr) bool {
	switch x := e.(type) {
	case ir.Evar, ir.Esymbol, ir.Ederef:
		return true
	case ir.Efield:
		return isLvalue(x.Arg)
	case ir.Eseq:
		return isLvalue(x.Second)
	case ir.Eassign:
		return true
	}
	return false
}

// charInit is the default value of a code unit type
func charInit(t ast.Tchar) int64 {
	switch t.Size {
	case ast.C8:
		return 0xFF
	}
	return 0xFFFF
}

// defaultInit is the default value of t.
func (f *funcState) defaultInit(t ast.Type) ir.Expr {
	switch tt := t.(type) {
	case ast.Tfloat, ast.Timaginary:
		return ir.FloatConst(math.NaN(), t)
	case ast.Tcomplex:
		part := ast.Tfloat{Size: tt.Size}
		return ir.Ecomplex{Re: ir.FloatConst(math.NaN(), part), Im: ir.FloatConst(math.NaN(), part), Type: t}
	case ast.Tchar:
		return ir.IntConst(charInit(tt), t)
	case ast.Tint, ast.Tbool:
		return ir.IntConst(0, t)
	case ast.Tpointer, ast.Tclass, ast.Taarray, ast.Tnull:
		return ir.NullConst(t)
	case ast.Tsarray:
		if ast.IsZeroInit(t) || tt.Len == 0 {
			return ir.Ector{Type: t}
		}
		elem := f.defaultInit(tt.Elem)
		size := ast.Sizeof(tt.Elem)
		elems := make([]ir.CtorElem, tt.Len)
		for i := range elems {
			elems[i] = ir.CtorElem{Index: i, Offset: int64(i) * size, Value: elem}
		}
		return ir.Ector{Type: t, Elems: elems}
	case ast.Tstruct:
		return f.structInit(tt.Decl, nil)
	}
	return ir.Ector{Type: t}
}

// structInit is the default value of a struct; vthis, when given,
// fills the context field of a nested struct.
func (f *funcState) structInit(sd *ast.StructDecl, vthis ir.Expr) ir.Expr {
	ctor := ir.Ector{Type: ast.Tstruct{Decl: sd}}
	for _, fld := range sd.Fields {
		switch {
		case fld == sd.VThis:
			if vthis != nil {
				ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: vthis})
			}
		case !sd.IsUnion && !ast.IsZeroInit(fld.Type):
			ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: f.defaultInit(fld.Type)})
		}
	}
	return ctor
}

// isZeroValue reports constants and constructors that are all zero bits
func isZeroValue(e ir.Expr) bool {
	switch x := e.(type) {
	case ir.Econst:
		switch c := x.Const.(type) {
		case ir.Ointconst:
			return c.Value == 0
		case ir.Ofloatconst:
			return c.Value == 0 && !math.Signbit(c.Value)
		}
	case ir.Ector:
		for _, el := range x.Elems {
			if !isZeroValue(el.Value) {
				return false
			}
		}
		return true
	}
	return false
}
