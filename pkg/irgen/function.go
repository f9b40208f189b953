package irgen

import (
	"fmt"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

// LowerModule lowers every function of mod, then the nested functions
// and literals they reference, and collects the static data they use.
// When user errors were reported the program is still returned, with
// error markers in place, together with ErrLoweringFailed.
func (u *Unit) LowerModule(mod *ast.Module) (*ir.Program, error) {
	u.module = mod.Name
	for _, g := range mod.Globals {
		v := u.syms.Var(g)
		if g.Init != nil && v.Init == nil {
			v.Init = u.staticInit(g)
		}
	}
	for _, sd := range mod.Structs {
		for _, m := range []*ast.FuncDecl{sd.Ctor, sd.Postblit, sd.Dtor} {
			if m != nil {
				u.enqueue(m)
			}
		}
	}
	for _, cd := range mod.Classes {
		u.classSymbols(cd)
	}
	for _, fd := range mod.Funcs {
		u.enqueue(fd)
		u.drain()
	}
	u.drain()

	prog := &ir.Program{
		Name:    mod.Name,
		Globals: u.syms.Globals(),
		Symbols: u.syms.Symbols(),
		Funcs:   u.funcs,
	}
	if n := u.diag.ErrorCount(); n > 0 {
		return prog, fmt.Errorf("%w: %d errors", ErrLoweringFailed, n)
	}
	return prog, nil
}

// LowerFunction lowers the body of fd and adds it to the program. The
// handle is shared with every reference to fd; a function is lowered at
// most once.
func (u *Unit) LowerFunction(fd *ast.FuncDecl) *ir.Func {
	fn := u.syms.Func(fd)
	if fd.Body == nil || fn.Body != nil {
		return fn
	}
	u.queued[fd] = true
	if fd.NRVOCan && fd.NRVOVar != nil && fn.Result != nil && !fd.Type.IsRef {
		u.syms.Alias(fd.NRVOVar, fn.Result)
	}

	f := newFuncState(u, fd, fn)
	f.registerLabels(fd.Body, nil)
	f.pushScope()
	frame := f.buildFrame()
	body := f.stmt(fd.Body)
	var ret ir.Stmt = ir.Sskip{}
	if fn.Result == nil {
		ret = ir.Sreturn{}
	}
	fn.Body = f.popScope(ir.Seq(frame, body, ret))
	u.funcs = append(u.funcs, fn)
	return fn
}

// staticFunc collects the temporaries of load-time initializers.
func (u *Unit) staticFunc() *ir.Func {
	name := "__modinit"
	if u.module != "" {
		name = u.module + ".__modinit"
	}
	return &ir.Func{Name: name, Type: ast.Func(ast.Void())}
}

// staticInit lowers the initializer of a global or static local. It is
// evaluated once, when the program is loaded.
func (u *Unit) staticInit(d *ast.VarDecl) ir.Expr {
	f := newFuncState(u, nil, u.staticFunc())
	init := initValue(d)
	if init == nil {
		return nil
	}
	v := f.convert(f.expr(init), d.Type)
	if len(f.fn.Locals) == 0 {
		return v
	}
	return ir.Ebind{Vars: f.fn.Locals, Body: v}
}

// classSymbols emits the descriptor, vtable and instance initializer of
// a class and queues its methods.
func (u *Unit) classSymbols(cd *ast.ClassDecl) {
	if u.initted[cd] {
		return
	}
	u.initted[cd] = true
	if cd.Base != nil {
		u.classSymbols(cd.Base)
	}
	u.syms.ClassInfo(cd)
	if cd.Interface {
		return
	}
	vtbl := u.syms.Vtable(cd)

	f := newFuncState(u, nil, u.staticFunc())
	inst := ast.Tinstance{Decl: cd}
	ctor := ir.Ector{Type: inst, Elems: []ir.CtorElem{{
		Index:  -1,
		Offset: 0,
		Value:  ir.Econvert{Arg: ir.AddrOf(ir.Esymbol{Sym: vtbl}), Type: ast.VoidPtr()},
	}}}
	for _, fld := range cd.AllFields() {
		if fld == cd.VThis || ast.IsZeroInit(fld.Type) {
			continue
		}
		ctor.Elems = append(ctor.Elems, ir.CtorElem{Index: fld.Index, Offset: fld.Offset, Value: f.defaultInit(fld.Type)})
	}
	u.syms.Initializer(cd).Init = ctor

	for _, m := range append([]*ast.FuncDecl{cd.Ctor, cd.Dtor, cd.Inv}, cd.Vtbl...) {
		if m != nil {
			u.enqueue(m)
		}
	}
}
