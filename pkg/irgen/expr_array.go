package irgen

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

// encodeString re-encodes UTF-8 text in code units of the given width,
// little endian.
func encodeString(s string, unit ast.CharSize) []byte {
	switch unit {
	case ast.C16:
		units := utf16.Encode([]rune(s))
		buf := make([]byte, 2*len(units))
		for i, u := range units {
			binary.LittleEndian.PutUint16(buf[2*i:], u)
		}
		return buf
	case ast.C32:
		runes := []rune(s)
		buf := make([]byte, 4*len(runes))
		for i, r := range runes {
			binary.LittleEndian.PutUint32(buf[4*i:], uint32(r))
		}
		return buf
	}
	return []byte(s)
}

func (f *funcState) lowerStringLit(x ast.StringLit) ir.Expr {
	return f.stringValue(x.Value, x.Typ)
}

// stringValue places a string in read-only data and yields it as t: a
// dynamic array, a static array or a pointer to the first code unit.
func (f *funcState) stringValue(s string, t ast.Type) ir.Expr {
	elem, ok := ast.ElemType(t).(ast.Tchar)
	if !ok {
		elem = ast.Tchar{Size: ast.C8}
	}
	data := encodeString(s, elem.Size)
	sym := f.u.syms.String(data, elem)
	n := int64(len(data)) / elem.Size.Bytes()
	ptr := ir.Econvert{Arg: ir.AddrOf(ir.Esymbol{Sym: sym}), Type: ast.Pointer(elem)}
	switch tt := t.(type) {
	case ast.Tdarray:
		return darray(ir.SizeConst(n), ptr, t)
	case ast.Tsarray:
		return ir.Deref(ir.Econvert{Arg: ptr, Type: ast.Pointer(tt)}, tt)
	}
	return ir.Convert(ptr, t)
}

// boundsFailure raises the out-of-bounds error, then yields v so the
// expression keeps its type.
func (f *funcState) boundsFailure(loc ast.Loc, v ir.Expr) ir.Expr {
	return ir.SeqExpr(f.failure(libcall.ArrayBounds, loc), v)
}

// bindLength declares the $ variable of an index or slice expression.
func (f *funcState) bindLength(d *ast.VarDecl, length ir.Expr) ir.Expr {
	if d == nil {
		return nil
	}
	if d.Nonlocal && d.Owner != nil && d.Owner.Frame.CreatesFrame {
		return ir.Init(f.nonlocal(d.Loc, d), length)
	}
	v := f.declare(d)
	return ir.Init(v.Ref(), ir.Convert(length, v.Type))
}

func (f *funcState) lowerIndex(x ast.Index) ir.Expr {
	switch at := x.Array.ExprType().(type) {
	case ast.Taarray:
		return f.indexAA(x, at)
	case ast.Tpointer:
		ptr := f.expr(x.Array)
		idx := f.expr(x.Index)
		return ir.Deref(ir.Eindex{Ptr: ptr, Index: idx, Type: at}, x.Typ)
	case ast.Tsarray, ast.Tdarray:
	default:
		return f.errorExpr(x.Loc, x.Typ, "cannot index %s", at)
	}

	at := x.Array.ExprType()
	elem := ast.ElemType(at)
	arr := f.expr(x.Array)
	var apre, a ir.Expr
	if isLvalue(arr) {
		apre, a = f.stableLvalue(arr)
	} else {
		apre, a = f.stabilize(arr)
	}
	lenBind := f.bindLength(x.LengthVar, arrayLength(a))
	idx := ir.Convert(f.expr(x.Index), ast.SizeT())

	check := f.boundsCheck && !x.InBounds
	if st, ok := at.(ast.Tsarray); ok {
		if c, ok := constIndex(idx); ok {
			if c < 0 || c >= st.Len {
				f.errorf(x.Loc, "array index %d is out of bounds [0 .. %d]", c, st.Len)
				return ir.Eerror{Type: x.Typ}
			}
			check = false
		}
	}
	var ipre ir.Expr
	if check {
		var i ir.Expr
		ipre, i = f.stabilize(idx)
		idx = ir.Econd{Cond: ir.Cmp(ir.Clt, i, arrayLength(a)), Then: i, Else: f.boundsFailure(x.Loc, i), Type: ast.SizeT()}
	}
	elemPtr := ir.Eindex{Ptr: arrayPtr(a), Index: idx, Type: ast.Pointer(elem)}
	return ir.Compound(ir.Expr(ir.Deref(elemPtr, elem)), apre, lenBind, ipre)
}

func constIndex(e ir.Expr) (int64, bool) {
	for {
		switch x := e.(type) {
		case ir.Econst:
			c, ok := x.Const.(ir.Ointconst)
			return c.Value, ok
		case ir.Econvert:
			e = x.Arg
		default:
			return 0, false
		}
	}
}

// indexAA looks a key up through the runtime. Writes insert the key;
// reads of a missing key fail like an out-of-bounds index.
func (f *funcState) indexAA(x ast.Index, at ast.Taarray) ir.Expr {
	aa := f.expr(x.Array)
	valueSize := ir.SizeConst(ast.Sizeof(at.Value))
	vptr := ast.Pointer(at.Value)
	if x.Modifiable {
		if !isLvalue(aa) {
			return f.errorExpr(x.Loc, x.Typ, "cannot insert into an rvalue associative array")
		}
		key := f.convert(f.expr(x.Index), at.Key)
		call := f.libcall(libcall.AAGetY, nil, ir.Econvert{Arg: addrOf(aa), Type: ast.Pointer(ast.VoidPtr())},
			f.typeinfo(at), valueSize, voidPtrOf(addrOf(key)))
		return ir.Deref(ir.Econvert{Arg: call, Type: vptr}, x.Typ)
	}
	key := f.convert(f.expr(x.Index), at.Key)
	call := ir.Econvert{Arg: f.libcall(libcall.AAGetRvalueX, nil, voidPtrOf(aa), f.typeinfo(at.Key), valueSize, voidPtrOf(addrOf(key))), Type: vptr}
	if !f.boundsCheck {
		return ir.Deref(call, x.Typ)
	}
	p := f.temp(vptr, "")
	checked := ir.Econd{
		Cond: ir.Cmp(ir.Cne, ir.Init(p.Ref(), call), ir.NullConst(vptr)),
		Then: p.Ref(),
		Else: f.boundsFailure(x.Loc, p.Ref()),
		Type: vptr,
	}
	return ir.Deref(checked, x.Typ)
}

func (f *funcState) lowerSlice(x ast.Slice) ir.Expr {
	at := x.Array.ExprType()
	arr := f.expr(x.Array)
	if x.Lower == nil && x.Upper == nil {
		return f.convert(arr, x.Typ)
	}
	elem := ast.ElemType(at)

	if _, ok := at.(ast.Tpointer); ok {
		apre, p := f.stabilize(arr)
		lpre, lo := f.stabilize(ir.Convert(f.expr(x.Lower), ast.SizeT()))
		hi := ir.Convert(f.expr(x.Upper), ast.SizeT())
		length := ir.Binop(ir.Osub, hi, lo, ast.SizeT())
		res := darray(length, ir.Eindex{Ptr: p, Index: lo, Type: at}, ast.DArray(elem))
		return ir.Compound(f.convert(res, x.Typ), apre, lpre)
	}

	var apre, a ir.Expr
	if isLvalue(arr) {
		apre, a = f.stableLvalue(arr)
	} else {
		apre, a = f.stabilize(arr)
	}
	length := arrayLength(a)
	lenBind := f.bindLength(x.LengthVar, length)

	var lo ir.Expr = ir.SizeConst(0)
	var lpre ir.Expr
	if x.Lower != nil {
		lpre, lo = f.stabilize(ir.Convert(f.expr(x.Lower), ast.SizeT()))
	}
	var hi ir.Expr = length
	var hpre ir.Expr
	if x.Upper != nil {
		hpre, hi = f.stabilize(ir.Convert(f.expr(x.Upper), ast.SizeT()))
	}

	var check ir.Expr
	if f.boundsCheck {
		var conds []ir.Expr
		if !x.UpperInBounds && x.Upper != nil {
			conds = append(conds, ir.Cmp(ir.Cle, hi, length))
		}
		if !x.LowerLEUpper && x.Lower != nil {
			conds = append(conds, ir.Cmp(ir.Cle, lo, hi))
		}
		if len(conds) > 0 {
			cond := conds[0]
			if len(conds) == 2 {
				cond = ir.Elogical{Op: ir.Oandif, Left: conds[0], Right: conds[1]}
			}
			check = ir.Econd{Cond: cond, Then: nop(), Else: f.failure(libcall.ArrayBounds, x.Loc), Type: ast.Void()}
		}
	}

	ptr := ir.Eindex{Ptr: arrayPtr(a), Index: lo, Type: ast.Pointer(elem)}
	var res ir.Expr
	if st, ok := x.Typ.(ast.Tsarray); ok {
		res = ir.Deref(ir.Econvert{Arg: ptr, Type: ast.Pointer(st)}, st)
	} else {
		res = darray(ir.Binop(ir.Osub, hi, lo, ast.SizeT()), ptr, x.Typ)
	}
	return ir.Compound(res, apre, lenBind, lpre, hpre, check)
}

func (f *funcState) lowerArrayLength(x ast.ArrayLength) ir.Expr {
	arr := f.expr(x.Array)
	if st, ok := x.Array.ExprType().(ast.Tsarray); ok {
		if ir.IsPure(arr) {
			return ir.SizeConst(st.Len)
		}
		return ir.SeqExpr(arr, ir.SizeConst(st.Len))
	}
	return f.convert(arrayLength(arr), x.Typ)
}

// catOperands flattens a ~ b ~ c into its operands, left to right.
func catOperands(e ast.Expr, t ast.Type) []ast.Expr {
	if c, ok := e.(ast.Cat); ok && ast.Equal(c.Typ, t) {
		return append(catOperands(c.Left, t), catOperands(c.Right, t)...)
	}
	return []ast.Expr{e}
}

// lowerCat concatenates every operand of a ~ chain with one runtime
// call. Single elements become one-element arrays over a temporary.
func (f *funcState) lowerCat(x ast.Cat) ir.Expr {
	t := x.Typ
	elem := ast.ElemType(t)
	ops := catOperands(x, t)
	var temps []*ir.Var
	args := make([]ir.Expr, 0, len(ops))
	for _, op := range ops {
		v := f.expr(op)
		ot := op.ExprType()
		if ast.IsArray(ot) && ast.Equal(ast.ElemType(ot), elem) {
			args = append(args, voidArrayOf(v))
			continue
		}
		if _, ok := ot.(ast.Tnull); ok {
			args = append(args, voidArrayOf(f.nullOf(v, t)))
			continue
		}
		tmp := f.temp(elem, "")
		temps = append(temps, tmp)
		one := darray(ir.SizeConst(1), ir.AddrOf(tmp.Ref()), ast.DArray(elem))
		args = append(args, ir.SeqExpr(ir.Init(tmp.Ref(), f.convert(v, elem)), voidArrayOf(one)))
	}

	var call ir.Expr
	if len(args) == 2 {
		call = f.libcall(libcall.ArrayCatT, t, f.typeinfo(t), args[0], args[1])
	} else {
		head := []ir.Expr{f.typeinfo(t), ir.IntConst(int64(len(args)), ast.UInt())}
		call = f.libcall(libcall.ArrayCatNT, t, append(head, args...)...)
	}
	if len(temps) == 0 {
		return call
	}
	return ir.Ebind{Vars: temps, Body: call}
}

func (f *funcState) lowerIn(x ast.In) ir.Expr {
	at, ok := x.Right.ExprType().(ast.Taarray)
	if !ok {
		return f.errorExpr(x.Loc, x.Typ, "'in' needs an associative array, not %s", x.Right.ExprType())
	}
	key := f.convert(f.expr(x.Left), at.Key)
	kpre, k := f.stabilize(key)
	aa := f.expr(x.Right)
	call := f.libcall(libcall.AAInX, nil, voidPtrOf(aa), f.typeinfo(at.Key), voidPtrOf(addrOf(k)))
	return ir.SeqExpr(kpre, f.convert(call, x.Typ))
}

func (f *funcState) lowerRemove(x ast.Remove) ir.Expr {
	at, ok := x.Left.ExprType().(ast.Taarray)
	if !ok {
		return f.errorExpr(x.Loc, x.Typ, "remove needs an associative array, not %s", x.Left.ExprType())
	}
	aa := f.expr(x.Left)
	key := f.convert(f.expr(x.Right), at.Key)
	call := f.libcall(libcall.AADelX, nil, voidPtrOf(aa), f.typeinfo(at.Key), voidPtrOf(addrOf(key)))
	return f.convert(call, x.Typ)
}

func isConstant(e ir.Expr) bool {
	switch x := e.(type) {
	case ir.Econst:
		return true
	case ir.Ector:
		for _, el := range x.Elems {
			if !isConstant(el.Value) {
				return false
			}
		}
		return true
	case ir.Ecomplex:
		return isConstant(x.Re) && isConstant(x.Im)
	case ir.Econvert:
		_, sym := x.Arg.(ir.Eaddrof)
		return sym || isConstant(x.Arg)
	}
	return false
}

// staticElems builds the constructor of a static array from elements.
func staticElems(elems []ir.Expr, elem ast.Type) ir.Ector {
	st := ast.SArray(elem, int64(len(elems)))
	size := ast.Sizeof(elem)
	ctor := ir.Ector{Type: st}
	for i, e := range elems {
		ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: i, Offset: int64(i) * size, Value: e})
	}
	return ctor
}

func (f *funcState) lowerArrayLiteral(x ast.ArrayLiteral) ir.Expr {
	t := x.Typ
	elem := ast.ElemType(t)
	elems := make([]ir.Expr, len(x.Elems))
	for i, e := range x.Elems {
		elems[i] = f.convert(f.expr(e), elem)
	}
	n := int64(len(elems))

	switch tt := t.(type) {
	case ast.Tsarray:
		ctor := staticElems(elems, tt.Elem)
		ctor.Type = t
		return ctor
	case ast.Tdarray:
	default:
		return f.errorExpr(x.Loc, t, "array literal of type %s", t)
	}
	if n == 0 {
		return f.nullOf(ir.NullConst(ast.VoidPtr()), t)
	}

	ctor := staticElems(elems, elem)
	ptrT := ast.Pointer(elem)
	if x.Immutable && isConstant(ctor) {
		sym := f.u.syms.ReadOnly("", ctor.Type, ctor)
		return darray(ir.SizeConst(n), ir.Econvert{Arg: ir.AddrOf(ir.Esymbol{Sym: sym}), Type: ptrT}, t)
	}

	p := f.temp(ptrT, "")
	alloc := ir.Init(p.Ref(), ir.Econvert{Arg: f.libcall(libcall.ArrayLiteralTX, nil, f.typeinfo(t), ir.SizeConst(n)), Type: ptrT})
	store := ir.Init(ir.Deref(ir.Econvert{Arg: p.Ref(), Type: ast.Pointer(ctor.Type)}, ctor.Type), ctor)
	return ir.Compound(darray(ir.SizeConst(n), p.Ref(), t), alloc, store)
}

// lowerAssocArrayLiteral stages keys and values in two static arrays,
// storing each pair in source order, then builds the table.
func (f *funcState) lowerAssocArrayLiteral(x ast.AssocArrayLiteral) ir.Expr {
	at, ok := x.Typ.(ast.Taarray)
	if !ok {
		return f.errorExpr(x.Loc, x.Typ, "associative array literal of type %s", x.Typ)
	}
	n := int64(len(x.Keys))
	if n == 0 {
		return ir.NullConst(at)
	}
	keys := f.temp(ast.SArray(at.Key, n), "__keys")
	vals := f.temp(ast.SArray(at.Value, n), "__vals")
	ksize, vsize := ast.Sizeof(at.Key), ast.Sizeof(at.Value)

	var stores []ir.Expr
	for i := range x.Keys {
		k := ir.Field(keys.Ref(), "", int64(i)*ksize, at.Key)
		v := ir.Field(vals.Ref(), "", int64(i)*vsize, at.Value)
		stores = append(stores,
			ir.Init(k, f.convert(f.expr(x.Keys[i]), at.Key)),
			ir.Init(v, f.convert(f.expr(x.Values[i]), at.Value)))
	}
	call := f.libcall(libcall.AssocArrayLiteralTX, nil, f.typeinfo(at),
		voidArrayOf(keys.Ref()), voidArrayOf(vals.Ref()))
	return ir.Compound(ir.Expr(ir.Econvert{Arg: call, Type: at}), stores...)
}

// lowerStructLiteral builds a struct value. Missing elements keep their
// default; the context of a nested struct is filled in.
func (f *funcState) lowerStructLiteral(x ast.StructLiteral) ir.Expr {
	sd := x.Struct
	ctor := ir.Ector{Type: ast.Tstruct{Decl: sd}}
	set := make(map[int]bool)
	for i, e := range x.Elems {
		if e == nil || i >= len(sd.Fields) {
			continue
		}
		fld := sd.Fields[i]
		v := f.expr(e)
		if st, ok := fld.Type.(ast.Tsarray); ok && !ast.IsArray(e.ExprType()) {
			vpre, val := f.stabilize(f.convert(v, st.Elem))
			elems := repeat(val, st.Len)
			if len(elems) > 0 {
				elems[0] = ir.SeqExpr(vpre, val)
			}
			bc := staticElems(elems, st.Elem)
			bc.Type = st
			ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: bc})
		} else {
			ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: f.convert(v, fld.Type)})
		}
		set[i] = true
		if sd.IsUnion {
			return ctor
		}
	}
	for i, fld := range sd.Fields {
		if set[i] || sd.IsUnion {
			continue
		}
		switch {
		case fld == sd.VThis:
			ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: f.outerContext(x.Loc, sd.Outer)})
		case !ast.IsZeroInit(fld.Type):
			ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: f.defaultInit(fld.Type)})
		}
	}
	return ctor
}

func repeat(e ir.Expr, n int64) []ir.Expr {
	out := make([]ir.Expr, n)
	for i := range out {
		out[i] = e
	}
	return out
}
