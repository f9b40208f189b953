package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

// callee is a resolved call target: the code pointer, the hidden context
// argument and any effects that must run before the arguments.
type callee struct {
	fn   ir.Expr
	ctx  ir.Expr
	pre  ir.Expr
	typ  *ast.Tfunction
	decl *ast.FuncDecl
}

func (f *funcState) lowerCall(x ast.Call) ir.Expr {
	c, ok := f.resolveCallee(x)
	if !ok {
		return ir.Eerror{Type: x.Typ}
	}
	args := f.callArgs(c.typ, x.Args)
	if c.decl != nil && c.decl.Intrinsic != ast.IntrinsicNone {
		if e, ok := f.expandIntrinsic(x, c.decl, args); ok {
			return ir.SeqExpr(c.pre, e)
		}
	}

	ret := c.typ.Return
	if ret == nil {
		ret = ast.Void()
	}
	var call ir.Expr
	if c.typ.IsRef {
		call = ir.Deref(ir.Ecall{Func: c.fn, Ctx: c.ctx, Args: args, Type: ast.Pointer(ret)}, ret)
	} else {
		call = ir.Ecall{Func: c.fn, Ctx: c.ctx, Args: args, Type: ret}
	}
	if !ast.IsVoid(x.Typ) && !ast.Equal(ret, x.Typ) {
		call = f.convert(call, x.Typ)
	}
	return ir.SeqExpr(c.pre, call)
}

// resolveCallee works out what is called and with which context.
func (f *funcState) resolveCallee(x ast.Call) (callee, bool) {
	switch e := x.Callee.(type) {
	case ast.MethodRef:
		return f.methodCallee(e.Loc, e.Arg, e.Func, e.Direct), true
	case ast.FuncRef:
		fd := e.Func
		c := callee{fn: ir.Efunc{Func: f.u.syms.Func(fd)}, typ: fd.Type, decl: fd}
		switch {
		case fd.IsNested():
			f.u.enqueue(fd)
			c.ctx = f.contextFor(x.Loc, fd)
		case fd.NeedThis():
			f.errorf(x.Loc, "need 'this' to call %s", fd.Name)
			return c, false
		}
		return c, true
	}

	v := f.expr(x.Callee)
	switch t := x.Callee.ExprType().(type) {
	case ast.Tdelegate:
		pre, d := f.stabilize(v)
		return callee{fn: delegateFunc(d), ctx: delegateCtx(d), pre: pre, typ: t.Func}, true
	case ast.Tpointer:
		if ft, ok := t.Elem.(ast.Tfunction); ok {
			return callee{fn: v, typ: &ft}, true
		}
	case ast.Tfunction:
		return callee{fn: v, typ: &t}, true
	}
	f.errorf(x.Loc, "cannot call a value of type %s", x.Callee.ExprType())
	return callee{}, false
}

// methodCallee binds a method to its object. Struct methods take the
// object's address; virtual class methods load the code pointer from the
// object's vtable.
func (f *funcState) methodCallee(loc ast.Loc, arg ast.Expr, fd *ast.FuncDecl, direct bool) callee {
	obj := f.expr(arg)
	c := callee{fn: ir.Efunc{Func: f.u.syms.Func(fd)}, typ: fd.Type, decl: fd}
	if fd.IsStatic {
		if !ir.IsPure(obj) {
			c.pre = obj
		}
		return c
	}
	switch {
	case fd.InStruct != nil:
		if _, isPtr := arg.ExprType().(ast.Tpointer); isPtr {
			c.ctx = obj
		} else {
			c.ctx = addrOf(obj)
		}
	case fd.IsVirtual() && !direct:
		pre, o := f.stabilize(obj)
		c.pre = pre
		c.ctx = o
		c.fn = f.vtblSlot(o, fd)
	default:
		c.ctx = obj
	}
	return c
}

// vtblSlot loads the code pointer of a virtual method from obj's vtable.
func (f *funcState) vtblSlot(obj ir.Expr, fd *ast.FuncDecl) ir.Expr {
	slots := ast.Pointer(ast.VoidPtr())
	vptr := ir.Field(ir.Deref(obj, ast.Tinstance{Decl: fd.InClass}), "__vptr", 0, slots)
	slot := ir.Deref(ir.Eindex{Ptr: vptr, Index: ir.SizeConst(int64(fd.VtblIndex)), Type: slots}, ast.VoidPtr())
	return ir.Econvert{Arg: slot, Type: ast.Pointer(*fd.Type)}
}

// callArgs lowers arguments in order. Ref parameters receive addresses.
func (f *funcState) callArgs(ft *ast.Tfunction, args []ast.Expr) []ir.Expr {
	out := make([]ir.Expr, len(args))
	for i, a := range args {
		v := f.expr(a)
		if ft == nil || i >= len(ft.Params) {
			out[i] = v
			continue
		}
		p := ft.Params[i]
		if p.Storage.IsRef() {
			if !isLvalue(v) {
				f.errorf(a.Pos(), "%s is not an lvalue and cannot be passed by reference", a.ExprType())
			}
			out[i] = addrOf(v)
			continue
		}
		out[i] = f.convert(v, p.Type)
	}
	return out
}

// lowerDelegate builds &obj.method or &nested.
func (f *funcState) lowerDelegate(x ast.Delegate) ir.Expr {
	fd := x.Func
	var ctx, pre ir.Expr
	var fptr ir.Expr = ir.Efunc{Func: f.u.syms.Func(fd)}
	switch {
	case fd.NeedThis():
		c := f.methodCallee(x.Loc, x.Arg, fd, x.Direct)
		ctx, pre, fptr = c.ctx, c.pre, c.fn
	case fd.IsNested():
		f.u.enqueue(fd)
		ctx = f.contextFor(x.Loc, fd)
	default:
		ctx = ir.NullConst(ast.VoidPtr())
	}
	ft := fd.Type
	if dt, ok := x.Typ.(ast.Tdelegate); ok && dt.Func != nil {
		ft = dt.Func
	}
	return ir.SeqExpr(pre, delegateValue(ctx, ir.Convert(fptr, ast.Pointer(*ft)), x.Typ))
}

// lowerFuncLit defers the literal's body and yields its code pointer,
// paired with the current frame for delegate literals.
func (f *funcState) lowerFuncLit(x ast.FuncLit) ir.Expr {
	fd := x.Func
	f.u.enqueue(fd)
	fptr := ir.Efunc{Func: f.u.syms.Func(fd)}
	dt, ok := x.Typ.(ast.Tdelegate)
	if !ok {
		return ir.Convert(fptr, x.Typ)
	}
	var ctx ir.Expr = ir.NullConst(ast.VoidPtr())
	if fd.IsNested() {
		ctx = f.contextFor(x.Loc, fd)
	}
	ft := fd.Type
	if dt.Func != nil {
		ft = dt.Func
	}
	return delegateValue(ctx, ir.Convert(fptr, ast.Pointer(*ft)), x.Typ)
}

func (f *funcState) lowerNew(x ast.New) ir.Expr {
	switch nt := x.NewType.(type) {
	case ast.Tclass:
		return f.newClass(x, nt.Decl)
	case ast.Tdarray:
		return f.newArray(x, nt)
	}
	return f.newItem(x)
}

// newClass allocates an object, installs its context pointer and runs
// the constructor. The result is the object reference.
func (f *funcState) newClass(x ast.New, cd *ast.ClassDecl) ir.Expr {
	ct := ast.Tclass{Decl: cd}
	if cd.Interface {
		return f.errorExpr(x.Loc, x.Typ, "cannot create instance of interface %s", cd.Name)
	}
	f.u.classSymbols(cd)
	init := ir.Esymbol{Sym: f.u.syms.Initializer(cd)}
	obj := f.temp(ct, "__new")
	inst := ir.Deref(obj.Ref(), ast.Tinstance{Decl: cd})

	var effects []ir.Expr
	switch {
	case x.Allocator != nil:
		args := append([]ast.Expr(nil), x.AllocArgs...)
		alloc := ir.Ecall{
			Func: ir.Efunc{Func: f.u.syms.Func(x.Allocator)},
			Args: append([]ir.Expr{ir.SizeConst(cd.Size)}, f.callArgs(nil, args)...),
			Type: x.Allocator.ReturnType(),
		}
		effects = append(effects, ir.Init(obj.Ref(), ir.Convert(alloc, ct)), ir.Init(inst, init))
	case x.OnStack || cd.OnStack:
		rec := f.temp(ast.Tinstance{Decl: cd}, "__scoperec")
		effects = append(effects,
			ir.Init(rec.Ref(), init),
			ir.Init(obj.Ref(), ir.Econvert{Arg: ir.AddrOf(rec.Ref()), Type: ct}))
	default:
		alloc := f.libcall(libcall.NewClass, nil, f.classinfo(cd))
		effects = append(effects, ir.Init(obj.Ref(), ir.Econvert{Arg: alloc, Type: ct}))
	}

	if cd.VThis != nil {
		ctx := f.classContext(x, cd)
		slot := ir.Field(inst, cd.VThis.Name, cd.VThis.Offset, cd.VThis.Type)
		effects = append(effects, ir.Init(slot, ir.Convert(ctx, cd.VThis.Type)))
	}
	if x.Ctor != nil {
		call := ir.Ecall{
			Func: ir.Efunc{Func: f.u.syms.Func(x.Ctor)},
			Ctx:  obj.Ref(),
			Args: f.callArgs(x.Ctor.Type, x.Args),
			Type: x.Ctor.ReturnType(),
		}
		effects = append(effects, call)
	}
	return ir.Compound(ir.Expr(obj.Ref()), effects...)
}

// classContext is the context pointer of a new nested class object: the
// explicit outer instance, walked up to the class that encloses cd, or
// the current frame or object.
func (f *funcState) classContext(x ast.New, cd *ast.ClassDecl) ir.Expr {
	if cd.OuterFunc != nil {
		return f.outerContext(x.Loc, cd.OuterFunc)
	}
	var o ir.Expr
	var oc *ast.ClassDecl
	switch {
	case x.This != nil:
		o = f.expr(x.This)
		oc = ast.ClassOf(x.This.ExprType())
	case f.decl != nil && f.decl.InClass != nil && f.fn.Ctx != nil:
		o = f.fn.Ctx.Ref()
		oc = f.decl.InClass
	default:
		return f.errorExpr(x.Loc, ast.VoidPtr(), "outer class %s 'this' needed to 'new' nested class %s", cd.OuterClass.Name, cd.Name)
	}
	for oc != nil && !cd.OuterClass.IsBaseOf(oc) {
		if oc.VThis == nil || oc.OuterClass == nil {
			return f.errorExpr(x.Loc, ast.VoidPtr(), "no outer instance of %s reachable from %s", cd.OuterClass.Name, oc.Name)
		}
		link := ir.Field(ir.Deref(o, ast.Tinstance{Decl: oc}), oc.VThis.Name, oc.VThis.Offset, oc.VThis.Type)
		oc = oc.OuterClass
		o = ir.Convert(link, ast.Tclass{Decl: oc})
	}
	return voidPtrOf(o)
}

// newItem allocates one struct or scalar and initializes it.
func (f *funcState) newItem(x ast.New) ir.Expr {
	t := x.NewType
	pt := ast.Pointer(t)
	if ast.Sizeof(t) == 0 {
		return ir.NullConst(pt)
	}
	id := libcall.NewItemT
	if !ast.IsZeroInit(t) {
		id = libcall.NewItemIT
	}
	p := f.temp(pt, "__new")
	effects := []ir.Expr{ir.Init(p.Ref(), ir.Econvert{Arg: f.libcall(id, nil, f.typeinfo(t)), Type: pt})}
	obj := ir.Deref(p.Ref(), t)

	if sd := ast.StructOf(t); sd != nil && sd.VThis != nil {
		slot := ir.Field(obj, sd.VThis.Name, sd.VThis.Offset, sd.VThis.Type)
		effects = append(effects, ir.Init(slot, f.outerContext(x.Loc, sd.Outer)))
	}
	switch {
	case x.Ctor != nil:
		effects = append(effects, ir.Ecall{
			Func: ir.Efunc{Func: f.u.syms.Func(x.Ctor)},
			Ctx:  p.Ref(),
			Args: f.callArgs(x.Ctor.Type, x.Args),
			Type: x.Ctor.ReturnType(),
		})
	case len(x.Args) == 1:
		effects = append(effects, ir.Init(obj, f.convert(f.expr(x.Args[0]), t)))
	case len(x.Args) > 1:
		return f.errorExpr(x.Loc, x.Typ, "too many arguments to new %s", t)
	}
	return f.convert(ir.Compound(ir.Expr(p.Ref()), effects...), x.Typ)
}

// newArray allocates a dynamic array. Several dimensions are staged in a
// size_t array for the runtime.
func (f *funcState) newArray(x ast.New, at ast.Tdarray) ir.Expr {
	if len(x.Args) == 0 {
		return f.errorExpr(x.Loc, x.Typ, "new %s needs a length", at)
	}
	zero := ast.IsZeroInit(ast.BaseElemType(at))
	if len(x.Args) == 1 {
		n := ir.Convert(f.expr(x.Args[0]), ast.SizeT())
		if ast.Sizeof(at.Elem) == 0 {
			return darray(n, ir.NullConst(ast.Pointer(at.Elem)), x.Typ)
		}
		id := libcall.NewArrayT
		if !zero {
			id = libcall.NewArrayIT
		}
		return f.libcall(id, x.Typ, f.typeinfo(at), n)
	}

	k := int64(len(x.Args))
	dims := f.temp(ast.SArray(ast.SizeT(), k), "__dims")
	var stores []ir.Expr
	for i, a := range x.Args {
		slot := ir.Field(dims.Ref(), "", int64(i)*ast.PtrSize, ast.SizeT())
		stores = append(stores, ir.Init(slot, ir.Convert(f.expr(a), ast.SizeT())))
	}
	id := libcall.NewArrayMTX
	if !zero {
		id = libcall.NewArrayMITX
	}
	dimArr := darray(ir.SizeConst(k), ir.Econvert{Arg: ir.AddrOf(dims.Ref()), Type: ast.Pointer(ast.SizeT())}, ast.DArray(ast.SizeT()))
	return ir.Compound(f.libcall(id, x.Typ, f.typeinfo(at), dimArr), stores...)
}

// onStack reports a delete of a scope class variable.
func onStack(arg ast.Expr, cd *ast.ClassDecl) bool {
	vr, ok := arg.(ast.VarRef)
	return ok && (vr.Var.OnStack || cd.OnStack)
}

// lowerDelete frees an object, array or pointer through the runtime,
// which also nulls the reference. Scope objects are only finalized.
func (f *funcState) lowerDelete(x ast.Delete) ir.Expr {
	v := f.expr(x.Arg)
	var pre ir.Expr
	if isLvalue(v) {
		pre, v = f.stableLvalue(v)
	} else {
		tmp := f.temp(x.Arg.ExprType(), "")
		pre, v = ir.Init(tmp.Ref(), v), tmp.Ref()
	}
	switch t := x.Arg.ExprType().(type) {
	case ast.Tclass:
		if onStack(x.Arg, t.Decl) {
			// the storage belongs to the frame; only finalize
			id := libcall.CallFinalizer
			if t.Decl.Interface {
				id = libcall.CallInterfaceFinalizer
			}
			return ir.SeqExpr(pre, f.libcall(id, nil, ir.Convert(v, ast.VoidPtr())))
		}
		id := libcall.DelClass
		if t.Decl.Interface {
			id = libcall.DelInterface
		}
		return ir.SeqExpr(pre, f.libcall(id, nil, ir.Econvert{Arg: addrOf(v), Type: ast.Pointer(ast.VoidPtr())}))
	case ast.Tdarray:
		var ti ir.Expr = ir.NullConst(ast.VoidPtr())
		if ast.HasDtor(t.Elem) {
			ti = f.typeinfo(t.Elem)
		}
		return ir.SeqExpr(pre, f.libcall(libcall.DelArrayT, nil, ir.Econvert{Arg: addrOf(v), Type: ast.Pointer(voidArray)}, ti))
	case ast.Tpointer:
		del := f.libcall(libcall.DelMemory, nil, ir.Econvert{Arg: addrOf(v), Type: ast.Pointer(ast.VoidPtr())})
		if sd := ast.StructOf(t.Elem); sd != nil && sd.Dtor != nil {
			dtor := ir.Ecall{Func: ir.Efunc{Func: f.u.syms.Func(sd.Dtor)}, Ctx: v, Type: ast.Void()}
			guard := ir.Econd{Cond: ir.Cmp(ir.Cne, v, ir.NullConst(t)), Then: dtor, Else: nop(), Type: ast.Void()}
			return ir.Compound(del, pre, guard)
		}
		return ir.SeqExpr(pre, del)
	}
	return f.errorExpr(x.Loc, ast.Void(), "cannot delete type %s", x.Arg.ExprType())
}
