package irgen

import (
	"fmt"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/symtab"
)

// Closure frames
//
// A function whose locals are referenced by nested functions keeps those
// variables in a frame record. The first field links to the frame of the
// nearest enclosing function that has one, so a nested function reaches
// any captured variable by walking the chain from its context pointer.

const chainField = "__chain"

// frameDecl returns the frame record layout of fd, built once.
func (u *Unit) frameDecl(fd *ast.FuncDecl) *ast.StructDecl {
	if sd, ok := u.frames[fd]; ok {
		return sd
	}
	fields := []*ast.Field{ast.NewField(chainField, ast.VoidPtr())}
	seen := map[string]bool{}
	for i, v := range fd.Frame.Vars {
		name := v.Name
		if seen[name] {
			name = fmt.Sprintf("%s__%d", v.Name, i)
		}
		seen[name] = true
		fields = append(fields, ast.NewField(name, symtab.VarType(v)))
	}
	sd := ast.NewStruct("__frame_"+symtab.FuncName(fd), fields...)
	u.frames[fd] = sd
	return sd
}

// frameOf returns the nearest function, starting at fd, that creates a
// frame.
func frameOf(fd *ast.FuncDecl) *ast.FuncDecl {
	for ; fd != nil; fd = fd.Parent {
		if fd.Frame.CreatesFrame {
			return fd
		}
	}
	return nil
}

// frameSlot returns the field holding d. Slots follow Frame.Vars, so
// captured variables that share a name get distinct slots.
func frameSlot(owner *ast.FuncDecl, sd *ast.StructDecl, d *ast.VarDecl) *ast.Field {
	for i, v := range owner.Frame.Vars {
		if v == d {
			return sd.Fields[i+1]
		}
	}
	return nil
}

func framePtrType(u *Unit, fd *ast.FuncDecl) ast.Type {
	return ast.Pointer(ast.Tstruct{Decl: u.frameDecl(fd)})
}

// buildFrame allocates this function's frame, links it to the incoming
// chain and copies captured parameters into it.
func (f *funcState) buildFrame() ir.Stmt {
	fd := f.decl
	if !fd.Frame.CreatesFrame {
		return ir.Sskip{}
	}
	sd := f.u.frameDecl(fd)
	st := ast.Tstruct{Decl: sd}
	ptr := f.temp(ast.Pointer(st), "__frame")

	var alloc ir.Expr
	if fd.Frame.OnHeap {
		alloc = ir.Econvert{Arg: f.libcall(libcall.AllocMemory, nil, ir.SizeConst(sd.Size)), Type: ast.Pointer(st)}
	} else {
		rec := f.temp(st, "__framerec")
		alloc = ir.AddrOf(rec.Ref())
	}
	stmts := []ir.Stmt{ir.Sexpr{Expr: ir.Init(ptr.Ref(), alloc)}}
	f.frame = ptr.Ref()

	chain, _ := f.chainStart()
	if chain == nil {
		chain = ir.NullConst(ast.VoidPtr())
	}
	stmts = append(stmts, ir.Sexpr{Expr: ir.Init(f.frameField(ptr.Ref(), sd, sd.Fields[0]), chain)})

	for i, v := range fd.Frame.Vars {
		var src ir.Expr
		switch {
		case v.IsParameter():
			src = f.u.syms.Var(v).Ref()
		case v == fd.This && f.fn.Ctx != nil:
			src = f.fn.Ctx.Ref()
		default:
			continue
		}
		stmts = append(stmts, ir.Sexpr{Expr: ir.Init(f.frameField(ptr.Ref(), sd, sd.Fields[i+1]), src)})
	}
	return ir.Seq(stmts...)
}

func (f *funcState) frameField(ptr ir.Expr, sd *ast.StructDecl, fld *ast.Field) ir.Expr {
	return ir.Field(ir.Deref(ptr, ast.Tstruct{Decl: sd}), fld.Name, fld.Offset, fld.Type)
}

// chainStart returns the context pointer this function starts a chain
// walk from, and the function whose frame it points at.
func (f *funcState) chainStart() (ir.Expr, *ast.FuncDecl) {
	fd := f.decl
	if fd == nil {
		return nil, nil
	}
	switch {
	case fd.InStruct != nil && fd.InStruct.VThis != nil && f.fn.Ctx != nil:
		sd := fd.InStruct
		obj := ir.Deref(f.fn.Ctx.Ref(), ast.Tstruct{Decl: sd})
		return ir.Field(obj, sd.VThis.Name, sd.VThis.Offset, ast.VoidPtr()), frameOf(sd.Outer)
	case fd.InClass != nil && fd.InClass.VThis != nil && fd.InClass.OuterFunc != nil && f.fn.Ctx != nil:
		cd := fd.InClass
		obj := ir.Deref(f.fn.Ctx.Ref(), ast.Tinstance{Decl: cd})
		return ir.Field(obj, cd.VThis.Name, cd.VThis.Offset, ast.VoidPtr()), frameOf(cd.OuterFunc)
	case fd.IsNested() && f.fn.Ctx != nil:
		return f.fn.Ctx.Ref(), frameOf(fd.Parent)
	}
	return nil, nil
}

// frameContext returns a void* to the frame of owner, which must be a
// frame-creating function enclosing the current one.
func (f *funcState) frameContext(loc ast.Loc, owner *ast.FuncDecl) ir.Expr {
	if owner == nil {
		return ir.NullConst(ast.VoidPtr())
	}
	if owner == f.decl && f.frame != nil {
		return voidPtrOf(f.frame)
	}
	ptr, cur := f.chainStart()
	for ptr != nil && cur != nil && cur != owner {
		sd := f.u.frameDecl(cur)
		link := ir.Econvert{Arg: ptr, Type: ast.Pointer(ast.Tstruct{Decl: sd})}
		ptr = f.frameField(link, sd, sd.Fields[0])
		cur = frameOf(cur.Parent)
	}
	if ptr == nil || cur != owner {
		return f.errorExpr(loc, ast.VoidPtr(), "no frame of %s is reachable from %s", qualified(owner), qualified(f.decl))
	}
	return ptr
}

// nonlocal returns the frame slot of a captured variable.
func (f *funcState) nonlocal(loc ast.Loc, d *ast.VarDecl) ir.Expr {
	owner := d.Owner
	sd := f.u.frameDecl(owner)
	fld := frameSlot(owner, sd, d)
	if fld == nil {
		return f.errorExpr(loc, d.Type, "%s is not captured by %s", d.Name, qualified(owner))
	}
	var ptr ir.Expr
	if owner == f.decl && f.frame != nil {
		ptr = f.frame
	} else {
		ptr = ir.Econvert{Arg: f.frameContext(loc, owner), Type: framePtrType(f.u, owner)}
	}
	return f.frameField(ptr, sd, fld)
}

// contextFor is the hidden context argument of a call to a nested
// function.
func (f *funcState) contextFor(loc ast.Loc, callee *ast.FuncDecl) ir.Expr {
	return f.frameContext(loc, frameOf(callee.Parent))
}

// outerContext is the value of the context field of a nested aggregate
// created in the current function.
func (f *funcState) outerContext(loc ast.Loc, outer *ast.FuncDecl) ir.Expr {
	owner := frameOf(outer)
	if owner == nil {
		return ir.NullConst(ast.VoidPtr())
	}
	return f.frameContext(loc, owner)
}
