package irgen

import (
	"strings"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

// expr lowers one expression. Operands are lowered left to right and the
// IR preserves that order.
func (f *funcState) expr(e ast.Expr) ir.Expr {
	switch x := e.(type) {
	case ast.IntegerLit:
		return f.lowerIntegerLit(x)
	case ast.RealLit:
		return f.lowerRealLit(x)
	case ast.ComplexLit:
		return f.lowerComplexLit(x)
	case ast.StringLit:
		return f.lowerStringLit(x)
	case ast.NullLit:
		return f.nullOf(ir.NullConst(ast.VoidPtr()), x.Typ)
	case ast.VarRef:
		return f.lowerVarRef(x)
	case ast.SymOff:
		return f.lowerSymOff(x)
	case ast.FuncRef:
		return f.lowerFuncRef(x)
	case ast.ThisRef:
		return f.lowerThisRef(x)
	case ast.Unary:
		return f.lowerUnary(x)
	case ast.Binary:
		return f.lowerBinary(x)
	case ast.Compare:
		return f.lowerCompare(x)
	case ast.Logical:
		return f.lowerLogical(x)
	case ast.Cond:
		return f.lowerCond(x)
	case ast.Comma:
		return ir.SeqExpr(f.expr(x.Left), f.expr(x.Right))
	case ast.Assign:
		return f.lowerAssign(x)
	case ast.OpAssign:
		return f.lowerOpAssign(x)
	case ast.CatAssign:
		return f.lowerCatAssign(x)
	case ast.PostIncDec:
		return f.lowerPostIncDec(x)
	case ast.Cat:
		return f.lowerCat(x)
	case ast.Index:
		return f.lowerIndex(x)
	case ast.Slice:
		return f.lowerSlice(x)
	case ast.ArrayLength:
		return f.lowerArrayLength(x)
	case ast.ArrayLiteral:
		return f.lowerArrayLiteral(x)
	case ast.AssocArrayLiteral:
		return f.lowerAssocArrayLiteral(x)
	case ast.StructLiteral:
		return f.lowerStructLiteral(x)
	case ast.In:
		return f.lowerIn(x)
	case ast.Remove:
		return f.lowerRemove(x)
	case ast.Cast:
		return f.lowerCast(x)
	case ast.AddrOf:
		return f.lowerAddrOf(x)
	case ast.Deref:
		return f.lowerDeref(x)
	case ast.FieldRef:
		return f.lowerFieldRef(x)
	case ast.MethodRef:
		return f.errorExpr(x.Loc, x.Typ, "method %s must be called", x.Func.Name)
	case ast.Call:
		return f.lowerCall(x)
	case ast.Delegate:
		return f.lowerDelegate(x)
	case ast.FuncLit:
		return f.lowerFuncLit(x)
	case ast.New:
		return f.lowerNew(x)
	case ast.Delete:
		return f.lowerDelete(x)
	case ast.Assert:
		return f.lowerAssert(x)
	case ast.Declaration:
		return f.lowerDeclaration(x)
	case ast.Tuple:
		return f.lowerTuple(x)
	case ast.Halt:
		return f.lowerHalt(x)
	}
	diag.Fatalf(e.Pos(), "unhandled expression type %T", e)
	return nil
}

func (f *funcState) lowerIntegerLit(x ast.IntegerLit) ir.Expr {
	switch x.Typ.(type) {
	case ast.Tfloat, ast.Timaginary, ast.Tcomplex:
		return f.convert(ir.IntConst(x.Value, ast.Long()), x.Typ)
	}
	return ir.IntConst(x.Value, x.Typ)
}

func (f *funcState) lowerRealLit(x ast.RealLit) ir.Expr {
	switch t := x.Typ.(type) {
	case ast.Tcomplex:
		part := ast.Tfloat{Size: t.Size}
		return ir.Ecomplex{Re: ir.FloatConst(x.Value, part), Im: ir.FloatConst(0, part), Type: t}
	case ast.Tfloat, ast.Timaginary:
		return ir.FloatConst(x.Value, t)
	}
	return ir.Econvert{Arg: ir.FloatConst(x.Value, ast.Real()), Type: x.Typ}
}

func (f *funcState) lowerComplexLit(x ast.ComplexLit) ir.Expr {
	part := complexPart(x.Typ)
	return ir.Ecomplex{Re: ir.FloatConst(x.Re, part), Im: ir.FloatConst(x.Im, part), Type: x.Typ}
}

// lowerVarRef reads a variable. Reference cells are dereferenced and
// captured variables are reached through the closure frame.
func (f *funcState) lowerVarRef(x ast.VarRef) ir.Expr {
	d := x.Var
	if d.IsCtfe {
		// Code generation never runs at compile time.
		return ir.BoolConst(false)
	}
	if d.NeedThis {
		return f.errorExpr(x.Loc, x.Typ, "need 'this' to access member %s", d.Name)
	}
	return f.varValue(x.Loc, d)
}

func (f *funcState) varValue(loc ast.Loc, d *ast.VarDecl) ir.Expr {
	var slot ir.Expr
	switch {
	case d.Nonlocal && d.Owner != nil && d.Owner.Frame.CreatesFrame:
		slot = f.nonlocal(loc, d)
	case d.Storage.Has(ast.STCmanifest) && d.Init != nil:
		return f.expr(initValue(d))
	default:
		slot = f.u.syms.Var(d).Ref()
	}
	if d.IsRef() {
		return ir.Deref(slot, d.Type)
	}
	return slot
}

// initValue strips the construction wrapper of a declaration's
// initializer.
func initValue(d *ast.VarDecl) ast.Expr {
	if a, ok := d.Init.(ast.Assign); ok && a.Op != ast.AssignPlain {
		if ref, ok := a.Left.(ast.VarRef); ok && ref.Var == d {
			return a.Right
		}
	}
	return d.Init
}

// lowerSymOff is the address of a variable plus a byte offset.
func (f *funcState) lowerSymOff(x ast.SymOff) ir.Expr {
	base := addrOf(f.varValue(x.Loc, x.Var))
	return ir.Offset(ir.Econvert{Arg: base, Type: ast.Pointer(ast.UByte())}, x.Offset, x.Typ)
}

func (f *funcState) lowerFuncRef(x ast.FuncRef) ir.Expr {
	fd := x.Func
	if fd.IsNested() {
		f.u.enqueue(fd)
	}
	fn := ir.Efunc{Func: f.u.syms.Func(fd)}
	if _, ok := x.Typ.(ast.Tfunction); ok {
		return fn
	}
	return f.convert(fn, x.Typ)
}

// lowerThisRef reads the object of the current method. The object of an
// enclosing method is a captured variable.
func (f *funcState) lowerThisRef(x ast.ThisRef) ir.Expr {
	if x.Var != nil && (f.decl == nil || x.Var != f.decl.This) {
		return f.varValue(x.Loc, x.Var)
	}
	if f.fn.Ctx == nil {
		return f.errorExpr(x.Loc, x.Typ, "'this' is only defined in non-static member functions")
	}
	ctx := f.fn.Ctx.Ref()
	if _, ok := x.Typ.(ast.Tstruct); ok {
		// struct methods receive the object by address
		return ir.Deref(f.convert(ctx, ast.Pointer(x.Typ)), x.Typ)
	}
	return f.convert(ctx, x.Typ)
}

func (f *funcState) lowerUnary(x ast.Unary) ir.Expr {
	arg := f.expr(x.Arg)
	t := x.Typ
	switch x.Op {
	case ast.OpNot:
		return ir.Eunop{Op: ir.Onotbool, Arg: f.toBool(arg), Type: ast.Bool()}
	case ast.OpToBool:
		return f.convert(f.toBool(arg), t)
	case ast.OpCom:
		return ir.Eunop{Op: ir.Onot, Arg: f.convert(arg, t), Type: t}
	}
	if ct, ok := t.(ast.Tcomplex); ok {
		pre, s := f.stabilize(f.convert(arg, t))
		part := ast.Tfloat{Size: ct.Size}
		return ir.SeqExpr(pre, ir.Ecomplex{
			Re:   ir.Eunop{Op: ir.Oneg, Arg: complexRe(s), Type: part},
			Im:   ir.Eunop{Op: ir.Oneg, Arg: complexIm(s), Type: part},
			Type: t,
		})
	}
	if ast.IsArray(t) {
		return f.errorExpr(x.Loc, t, "array operation %s not implemented", x.Op)
	}
	return ir.Eunop{Op: ir.Oneg, Arg: f.convert(arg, t), Type: t}
}

func (f *funcState) lowerCond(x ast.Cond) ir.Expr {
	cond := f.condition(x.Cond)
	if ast.IsVoid(x.Typ) {
		return ir.Econd{Cond: cond, Then: f.voidExpr(x.Then), Else: f.voidExpr(x.Else), Type: ast.Void()}
	}
	return ir.Econd{Cond: cond, Then: f.convert(f.expr(x.Then), x.Typ), Else: f.convert(f.expr(x.Else), x.Typ), Type: x.Typ}
}

// voidExpr lowers an expression whose value is discarded. Missing
// expressions become a no-op.
func (f *funcState) voidExpr(e ast.Expr) ir.Expr {
	if e == nil {
		return nop()
	}
	return f.expr(e)
}

// nop is an expression with no effect and no value.
func nop() ir.Expr {
	return ir.Eblock{Body: ir.Sskip{}}
}

func (f *funcState) lowerCast(x ast.Cast) ir.Expr {
	arg := f.expr(x.Arg)
	if ast.IsVoid(x.Typ) {
		return arg
	}
	if ft, ok := x.Arg.ExprType().(ast.Tclass); ok {
		if tt, ok := x.Typ.(ast.Tclass); ok && ft.Decl != nil && tt.Decl != nil && !tt.Decl.IsBaseOf(ft.Decl) && !ft.Decl.IsBaseOf(tt.Decl) && !tt.Decl.Interface && !ft.Decl.Interface {
			// unrelated classes: the result is always null
			return f.nullOf(arg, x.Typ)
		}
	}
	return f.convert(arg, x.Typ)
}

func (f *funcState) lowerAddrOf(x ast.AddrOf) ir.Expr {
	if fr, ok := x.Arg.(ast.FuncRef); ok {
		if fr.Func.IsNested() {
			f.u.enqueue(fr.Func)
		}
		return f.convert(ir.Efunc{Func: f.u.syms.Func(fr.Func)}, x.Typ)
	}
	arg := f.expr(x.Arg)
	if _, ok := arg.(ir.Eerror); ok {
		return ir.Eerror{Type: x.Typ}
	}
	return f.convert(addrOf(arg), x.Typ)
}

// lowerDeref folds *(&v + off) into a field access when the offset lands
// on a field of v's type.
func (f *funcState) lowerDeref(x ast.Deref) ir.Expr {
	if so, ok := x.Arg.(ast.SymOff); ok {
		if fe := f.fieldAt(x.Loc, f.varValue(so.Loc, so.Var), so.Offset, x.Typ); fe != nil {
			return fe
		}
	}
	if b, ok := x.Arg.(ast.Binary); ok && b.Op == ast.OpAdd {
		if a, ok := b.Left.(ast.AddrOf); ok {
			if off, ok := b.Right.(ast.IntegerLit); ok {
				base := f.expr(a.Arg)
				if fe := f.fieldAt(x.Loc, base, off.Value, x.Typ); fe != nil {
					return fe
				}
				ptr := ir.Offset(ir.Econvert{Arg: addrOf(base), Type: ast.Pointer(ast.UByte())}, off.Value, ast.Pointer(x.Typ))
				return ir.Deref(ptr, x.Typ)
			}
		}
	}
	ptr := f.expr(x.Arg)
	if _, ok := ptr.ExprType().(ast.Tpointer); !ok {
		ptr = f.convert(ptr, ast.Pointer(x.Typ))
	}
	return ir.Deref(ptr, x.Typ)
}

// fieldAt returns the field of base at byte offset off with type t.
func (f *funcState) fieldAt(loc ast.Loc, base ir.Expr, off int64, t ast.Type) ir.Expr {
	if off == 0 && ast.Equal(base.ExprType(), t) {
		return base
	}
	var fields []*ast.Field
	switch bt := base.ExprType().(type) {
	case ast.Tstruct:
		fields = bt.Decl.Fields
	case ast.Tinstance:
		fields = bt.Decl.AllFields()
	default:
		return nil
	}
	for _, fld := range fields {
		if fld.Offset == off && ast.Equal(fld.Type, t) {
			return ir.Field(base, fld.Name, fld.Offset, fld.Type)
		}
	}
	return nil
}

func (f *funcState) lowerFieldRef(x ast.FieldRef) ir.Expr {
	obj := f.expr(x.Arg)
	switch t := x.Arg.ExprType().(type) {
	case ast.Tclass:
		obj = ir.Deref(obj, ast.Tinstance{Decl: t.Decl})
	case ast.Tpointer:
		obj = ir.Deref(obj, t.Elem)
	}
	return ir.Field(obj, x.Field.Name, x.Field.Offset, x.Field.Type)
}

// lowerDeclaration registers a local and initializes it. Variables with
// destructors join the pending cleanups of the enclosing expression.
func (f *funcState) lowerDeclaration(x ast.Declaration) ir.Expr {
	d := x.Var
	if d.Storage.Has(ast.STCmanifest) {
		return nop()
	}
	if d.IsDataSeg() {
		// static locals are globals initialized once, at load time
		v := f.u.syms.Var(d)
		if d.Init != nil && v.Init == nil {
			v.Init = f.u.staticInit(d)
		}
		return nop()
	}

	var v *ir.Var
	if f.decl != nil && d == f.decl.NRVOVar && f.decl.NRVOCan {
		v = f.u.syms.Var(d)
	} else if !d.Nonlocal {
		v = f.declare(d)
	}

	var init ir.Expr
	switch {
	case d.Init != nil:
		init = f.expr(d.Init)
		if _, isAssign := d.Init.(ast.Assign); !isAssign {
			init = f.initialize(x.Loc, d, v, f.convert(init, d.Type))
		}
	case d.IsRef():
		init = nop()
	default:
		init = f.initialize(x.Loc, d, v, f.defaultVarInit(x.Loc, d.Type))
	}
	if d.Dtor != nil && !d.NoScope {
		f.varsInScope = append(f.varsInScope, d)
	}
	return init
}

// defaultVarInit is the default value of a declared variable; nested
// structs capture their context.
func (f *funcState) defaultVarInit(loc ast.Loc, t ast.Type) ir.Expr {
	if sd := ast.StructOf(t); sd != nil && sd.VThis != nil {
		return f.structInit(sd, f.outerContext(loc, sd.Outer))
	}
	return f.defaultInit(t)
}

// initialize stores the first value of a declared variable.
func (f *funcState) initialize(loc ast.Loc, d *ast.VarDecl, v *ir.Var, value ir.Expr) ir.Expr {
	var slot ir.Expr
	if v != nil {
		slot = v.Ref()
	} else {
		slot = f.nonlocal(loc, d)
	}
	if d.IsRef() {
		return ir.Init(slot, addrOf(value))
	}
	return ir.Init(slot, value)
}

func (f *funcState) lowerTuple(x ast.Tuple) ir.Expr {
	var parts []ir.Expr
	if x.Pre != nil {
		parts = append(parts, f.expr(x.Pre))
	}
	for _, el := range x.Elems {
		parts = append(parts, f.expr(el))
	}
	if len(parts) == 0 {
		return nop()
	}
	return ir.Compound(parts[len(parts)-1], parts[:len(parts)-1]...)
}

// lowerHalt aborts, through the primitive when the target has it.
func (f *funcState) lowerHalt(x ast.Halt) ir.Expr {
	if f.u.tgt.Has(ir.Babort) {
		return ir.Ebuiltin{Builtin: ir.Babort, Type: ast.Void()}
	}
	return f.failure(libcall.Assert, x.Loc)
}

// lowerAssert checks a condition. Disabled asserts keep assert(0) as a
// halt.
func (f *funcState) lowerAssert(x ast.Assert) ir.Expr {
	if !f.u.opts.Asserts {
		if isFalseConst(x.Cond) {
			return f.lowerHalt(ast.Halt{Node: x.Node})
		}
		return nop()
	}
	if cd := ast.ClassOf(x.Cond.ExprType()); cd != nil {
		if !f.u.opts.Invariants {
			return nop()
		}
		return f.libcall(libcall.Invariant, nil, voidPtrOf(f.expr(x.Cond)))
	}
	cond := f.condition(x.Cond)
	unittest := f.decl != nil && isUnittest(f.decl)
	var fail ir.Expr
	if x.Msg != nil {
		id := libcall.AssertMsg
		if unittest {
			id = libcall.UnittestMsg
		}
		fail = f.failure(id, x.Loc, f.convert(f.expr(x.Msg), ast.String()))
	} else {
		id := libcall.Assert
		if unittest {
			id = libcall.Unittest
		}
		fail = f.failure(id, x.Loc)
	}
	return ir.Econd{Cond: cond, Then: nop(), Else: fail, Type: ast.Void()}
}

func isUnittest(fd *ast.FuncDecl) bool {
	for ; fd != nil; fd = fd.Parent {
		if strings.HasPrefix(fd.Name, "__unittest") {
			return true
		}
	}
	return false
}

func isFalseConst(e ast.Expr) bool {
	lit, ok := e.(ast.IntegerLit)
	return ok && lit.Value == 0
}
