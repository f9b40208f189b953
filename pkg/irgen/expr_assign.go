package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

// fillLoopThreshold is the largest static array filled with an unrolled
// constructor instead of a loop.
const fillLoopThreshold = 16

func (f *funcState) lowerAssign(x ast.Assign) ir.Expr {
	switch lhs := x.Left.(type) {
	case ast.ArrayLength:
		return f.setLength(x.Loc, lhs, func(ir.Expr) ir.Expr {
			return f.convert(f.expr(x.Right), ast.SizeT())
		})
	case ast.Slice:
		return f.sliceAssign(x, lhs)
	case ast.VarRef:
		if lhs.Var.IsRef() && x.Op == ast.AssignConstruct {
			// binding a reference: store the address of the referent
			slot := f.refSlot(lhs.Loc, lhs.Var)
			rhs := f.expr(x.Right)
			return ir.Deref(ir.Init(slot, addrOf(rhs)), lhs.Var.Type)
		}
	}

	lv := f.expr(x.Left)
	lt := x.Left.ExprType()
	init := x.Op != ast.AssignPlain

	if st, ok := lt.(ast.Tsarray); ok && !ast.IsArray(x.Right.ExprType()) {
		return f.fillStatic(lv, st, f.convert(f.expr(x.Right), st.Elem), init)
	}

	rhs := f.convert(f.expr(x.Right), lt)
	if sd := ast.StructOf(lt); sd != nil && sd.VThis != nil && init && !hasElemAt(rhs, sd.VThis.Offset) {
		// a nested struct built from its static initializer still needs
		// its context
		pre, slot := f.stableLvalue(lv)
		ctx := f.outerContext(x.Loc, sd.Outer)
		store := ir.Eassign{LHS: slot, RHS: rhs, Init: true}
		setCtx := ir.Assign(ir.Field(slot, sd.VThis.Name, sd.VThis.Offset, ast.VoidPtr()), ctx)
		return ir.Compound(slot, pre, store, setCtx)
	}
	return ir.Eassign{LHS: lv, RHS: rhs, Init: init}
}

func hasElemAt(e ir.Expr, off int64) bool {
	c, ok := e.(ir.Ector)
	if !ok {
		// a value built elsewhere carries its own context
		return true
	}
	for _, el := range c.Elems {
		if el.Offset == off {
			return true
		}
	}
	return false
}

// refSlot is the cell holding the address of a reference variable.
func (f *funcState) refSlot(loc ast.Loc, d *ast.VarDecl) ir.Expr {
	if d.Nonlocal && d.Owner != nil && d.Owner.Frame.CreatesFrame {
		return f.nonlocal(loc, d)
	}
	if !d.IsParameter() && !d.IsDataSeg() && d.Owner != nil {
		return f.declare(d).Ref()
	}
	return f.u.syms.Var(d).Ref()
}

// setLength assigns a dynamic array's length through the runtime and
// yields the new length. newLen receives the current array and lowers
// the right-hand side.
func (f *funcState) setLength(loc ast.Loc, al ast.ArrayLength, newLen func(cur ir.Expr) ir.Expr) ir.Expr {
	at := al.Array.ExprType()
	arr := f.expr(al.Array)
	if !isLvalue(arr) {
		return f.errorExpr(loc, ast.SizeT(), "cannot set the length of an rvalue array")
	}
	ppre, p := f.stabilize(addrOf(arr))
	n := newLen(ir.Deref(p, at))
	id := libcall.ArraySetLengthT
	if !ast.IsZeroInit(ast.ElemType(at)) {
		id = libcall.ArraySetLengthIT
	}
	call := f.libcall(id, at, f.typeinfo(at), n, ir.Econvert{Arg: p, Type: ast.Pointer(voidArray)})
	return ir.SeqExpr(ppre, ir.Field(call, "length", lengthOffset, ast.SizeT()))
}

// sliceAssign copies into or fills a slice.
func (f *funcState) sliceAssign(x ast.Assign, lhs ast.Slice) ir.Expr {
	elem := ast.ElemType(lhs.Typ)
	dst := f.expr(lhs)
	dpre, d := f.stabilize(dst)
	rt := x.Right.ExprType()
	construct := x.Op == ast.AssignConstruct

	if ast.IsArray(rt) && ast.Equal(ast.ElemType(rt), elem) {
		src := f.expr(x.Right)
		spre, s := f.stabilize(src)
		pre := ir.Compound(nil, dpre, spre)
		var cp ir.Expr
		switch {
		case ast.HasPostblit(elem) && x.Op != ast.AssignBlit:
			id := libcall.ArrayAssign
			if construct {
				id = libcall.ArrayCtor
			}
			cp = f.libcall(id, lhs.Typ, f.typeinfo(elem), voidArrayOf(s), voidArrayOf(d))
		case f.boundsCheck:
			cp = f.libcall(libcall.ArrayCopy, lhs.Typ, ir.SizeConst(ast.Sizeof(elem)), voidArrayOf(s), voidArrayOf(d))
		default:
			bytes := ir.Binop(ir.Omul, arrayLength(d), ir.SizeConst(ast.Sizeof(elem)), ast.SizeT())
			mc := ir.Ebuiltin{Builtin: ir.Bmemcpy, Args: []ir.Expr{voidPtrOf(arrayPtr(d)), voidPtrOf(arrayPtr(s)), bytes}, Type: ast.VoidPtr()}
			cp = ir.SeqExpr(mc, d)
		}
		return ir.SeqExpr(pre, cp)
	}

	vpre, v := f.stabilize(f.convert(f.expr(x.Right), elem))
	pre := ir.Compound(nil, dpre, vpre)
	if ast.HasPostblit(elem) && x.Op != ast.AssignBlit {
		id := libcall.ArraySetAssign
		if construct {
			id = libcall.ArraySetCtor
		}
		vaddr := addrOf(v)
		call := f.libcall(id, nil, voidPtrOf(arrayPtr(d)), voidPtrOf(vaddr),
			ir.Convert(arrayLength(d), ast.Int()), f.typeinfo(elem))
		return ir.Compound(d, pre, call)
	}
	return ir.Compound(d, pre, f.fillLoop(arrayPtr(d), arrayLength(d), v, elem))
}

// fillLoop stores v into n elements starting at ptr. Byte-sized
// integral elements use memset.
func (f *funcState) fillLoop(ptr, n, v ir.Expr, elem ast.Type) ir.Expr {
	if ast.Sizeof(elem) == 1 && ast.IsIntegral(elem) && f.u.tgt.Has(ir.Bmemset) {
		return ir.Ebuiltin{Builtin: ir.Bmemset, Args: []ir.Expr{voidPtrOf(ptr), ir.Convert(v, ast.Int()), n}, Type: ast.VoidPtr()}
	}
	p := f.temp(ast.Pointer(elem), "__p")
	end := f.temp(ast.Pointer(elem), "__end")
	body := ir.Seq(
		ir.Sexpr{Expr: ir.Init(p.Ref(), ptr)},
		ir.Sexpr{Expr: ir.Init(end.Ref(), ir.Eindex{Ptr: p.Ref(), Index: n, Type: ast.Pointer(elem)})},
		ir.Sloop{Body: ir.Seq(
			ir.Sexitif{Cond: ir.Cmp(ir.Cge, p.Ref(), end.Ref())},
			ir.Sexpr{Expr: ir.Assign(ir.Deref(p.Ref(), elem), v)},
			ir.Sexpr{Expr: ir.Assign(p.Ref(), ir.Eindex{Ptr: p.Ref(), Index: ir.SizeConst(1), Type: ast.Pointer(elem)})},
		)},
	)
	return ir.Eblock{Body: body}
}

// fillStatic stores one value into every element of a static array.
func (f *funcState) fillStatic(lv ir.Expr, st ast.Tsarray, v ir.Expr, init bool) ir.Expr {
	if st.Len <= fillLoopThreshold && ir.IsPure(v) {
		size := ast.Sizeof(st.Elem)
		elems := make([]ir.CtorElem, st.Len)
		for i := range elems {
			elems[i] = ir.CtorElem{Index: i, Offset: int64(i) * size, Value: v}
		}
		return ir.Eassign{LHS: lv, RHS: ir.Ector{Type: st, Elems: elems}, Init: init}
	}
	pre, slot := f.stableLvalue(lv)
	vpre, val := f.stabilize(v)
	return ir.Compound(slot, pre, vpre, f.fillLoop(arrayPtr(slot), ir.SizeConst(st.Len), val, st.Elem))
}

func (f *funcState) lowerOpAssign(x ast.OpAssign) ir.Expr {
	if al, ok := x.Left.(ast.ArrayLength); ok {
		return f.setLength(x.Loc, al, func(cur ir.Expr) ir.Expr {
			r := f.expr(x.Right)
			return f.arith(x.Loc, x.Op, ir.Field(cur, "length", lengthOffset, ast.SizeT()), f.convert(r, ast.SizeT()), ast.SizeT())
		})
	}
	if ast.IsArray(x.Typ) {
		return f.errorExpr(x.Loc, x.Typ, "array operation %s= not implemented", x.Op)
	}
	lt := x.Left.ExprType()
	pre, lv := f.stableLvalue(f.expr(x.Left))
	r := f.expr(x.Right)
	rt := x.Right.ExprType()

	calc := lt
	if ast.IsIntegral(lt) && ast.IsFloating(rt) {
		calc = rt
	}
	if _, ok := lt.(ast.Tfloat); ok {
		if _, ok := rt.(ast.Tcomplex); ok {
			calc = rt
		}
	}
	var cur ir.Expr = lv
	if !ast.Equal(calc, lt) {
		cur = f.convert(lv, calc)
	}
	val := f.arith(x.Loc, x.Op, cur, r, calc)
	return ir.SeqExpr(pre, ir.Assign(lv, f.convert(val, lt)))
}

// lowerPostIncDec yields the old value; the new one is stored first.
func (f *funcState) lowerPostIncDec(x ast.PostIncDec) ir.Expr {
	t := x.Arg.ExprType()
	pre, lv := f.stableLvalue(f.expr(x.Arg))
	old := f.temp(t, "")
	op := ast.OpAdd
	if x.Op == ast.OpPostDec {
		op = ast.OpSub
	}
	amount := f.expr(x.Amount)
	next := f.arith(x.Loc, op, old.Ref(), amount, t)
	return ir.Compound(old.Ref(), pre, ir.Init(old.Ref(), lv), ir.Assign(lv, f.convert(next, t)))
}

// lowerCatAssign appends to a dynamic array in place.
func (f *funcState) lowerCatAssign(x ast.CatAssign) ir.Expr {
	at := x.Left.ExprType()
	elem := ast.ElemType(at)
	arr := f.expr(x.Left)
	if !isLvalue(arr) {
		return f.errorExpr(x.Loc, at, "cannot append to an rvalue array")
	}
	ppre, p := f.stabilize(addrOf(arr))
	slot := ir.Deref(p, at)
	voidArrP := ir.Econvert{Arg: p, Type: ast.Pointer(voidArray)}
	rt := x.Right.ExprType()

	if ec, ok := elem.(ast.Tchar); ok && ec.Size != ast.C32 {
		if rc, ok := rt.(ast.Tchar); ok && rc.Size == ast.C32 {
			id := libcall.ArrayAppendCD
			if ec.Size == ast.C16 {
				id = libcall.ArrayAppendWD
			}
			call := f.libcall(id, at, ir.Econvert{Arg: p, Type: ast.Pointer(at)}, f.expr(x.Right))
			return ir.Compound(slot, ppre, call)
		}
	}

	if ast.IsArray(rt) && ast.Equal(ast.ElemType(rt), elem) {
		r := f.expr(x.Right)
		call := f.libcall(libcall.ArrayAppendT, at, f.typeinfo(at), voidArrP, voidArrayOf(r))
		return ir.Compound(slot, ppre, call)
	}

	// single element: evaluate the value before the slot exists, then
	// reserve and store into the last element
	vpre, v := f.stabilize(f.convert(f.expr(x.Right), elem))
	reserve := f.libcall(libcall.ArrayAppendCTX, at, f.typeinfo(at), voidArrP, ir.SizeConst(1))
	last := ir.Binop(ir.Osub, arrayLength(slot), ir.SizeConst(1), ast.SizeT())
	store := ir.Assign(ir.Deref(ir.Eindex{Ptr: arrayPtr(slot), Index: last, Type: ast.Pointer(elem)}, elem), v)
	return ir.Compound(slot, ppre, vpre, reserve, store)
}
