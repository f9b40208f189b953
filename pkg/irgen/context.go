// Package irgen implements the lowering pass: typed AST → IR.
// This file holds the per-unit and per-function state.
package irgen

import (
	"errors"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/config"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/symtab"
	"github.com/raymyers/ralph-dc/pkg/target"
)

// ErrLoweringFailed is returned when user errors were reported. The
// program is still complete, with error markers in place.
var ErrLoweringFailed = errors.New("lowering failed")

// Unit lowers one compilation unit. It owns everything shared between
// functions: options, the symbol table, the deferred function queue and
// the program being built.
type Unit struct {
	opts config.Options
	tgt  *target.Target
	diag diag.Reporter
	syms *symtab.Table

	module string
	funcs  []*ir.Func
	// queue holds nested functions and literals waiting to be lowered
	// once the enclosing function is complete.
	queue   []*ast.FuncDecl
	queued  map[*ast.FuncDecl]bool
	frames  map[*ast.FuncDecl]*ast.StructDecl
	initted map[*ast.ClassDecl]bool
}

// NewUnit creates a lowering unit. Options are used as given; apply
// Effective first for release builds.
func NewUnit(opts config.Options, tgt *target.Target, rep diag.Reporter) *Unit {
	return &Unit{
		opts:    opts.Effective(),
		tgt:     tgt,
		diag:    rep,
		syms:    symtab.New(),
		queued:  make(map[*ast.FuncDecl]bool),
		frames:  make(map[*ast.FuncDecl]*ast.StructDecl),
		initted: make(map[*ast.ClassDecl]bool),
	}
}

// Symbols returns the unit's declaration table.
func (u *Unit) Symbols() *symtab.Table {
	return u.syms
}

// enqueue defers lowering of a nested function or literal.
func (u *Unit) enqueue(fd *ast.FuncDecl) {
	if fd.Body == nil || u.queued[fd] {
		return
	}
	u.queued[fd] = true
	u.queue = append(u.queue, fd)
}

// drain lowers deferred functions until the queue is empty.
func (u *Unit) drain() {
	for len(u.queue) > 0 {
		fd := u.queue[0]
		u.queue = u.queue[1:]
		u.LowerFunction(fd)
	}
}

// jumpTarget is one entry of the break/continue stack
type jumpTarget struct {
	stmt ast.Stmt
	brk  *ir.Label
	// cont is nil for switches, which only catch break.
	cont *ir.Label
}

// scope is one lexical scope; vars become the binding list.
type scope struct {
	vars []*ir.Var
}

// switchState tracks the innermost switch while its body is lowered.
type switchState struct {
	stmt *ast.SwitchStmt
	// native switches emit Scase; jump tables emit plain labels.
	native bool
	// values maps each case to its lowered case value.
	values map[*ast.CaseStmt]ir.Expr
}

// funcState is the lowering context of one function. It is owned by the
// single LowerFunction call that created it.
type funcState struct {
	u    *Unit
	decl *ast.FuncDecl
	fn   *ir.Func

	scopes []*scope
	// varsInScope lists declarations whose destructors are pending in the
	// expression being lowered.
	varsInScope []*ast.VarDecl
	targets     []jumpTarget
	switches    []*switchState

	// frame points at this function's closure frame, when it has one.
	frame ir.Expr

	// regions for goto checking, filled by the label pass
	labelRegion map[*ast.LabelStmt]*region
	regions     map[regionKey]*region
	region      *region

	boundsCheck bool
}

func newFuncState(u *Unit, fd *ast.FuncDecl, fn *ir.Func) *funcState {
	return &funcState{
		u:           u,
		decl:        fd,
		fn:          fn,
		labelRegion: make(map[*ast.LabelStmt]*region),
		regions:     make(map[regionKey]*region),
		boundsCheck: u.opts.BoundsCheckFor(fd != nil && fd.IsSafe),
	}
}

func (f *funcState) errorf(loc ast.Loc, format string, args ...any) {
	f.u.diag.Errorf(loc, format, args...)
}

// errorExpr reports a user error and returns a marker of type t.
func (f *funcState) errorExpr(loc ast.Loc, t ast.Type, format string, args ...any) ir.Expr {
	f.errorf(loc, format, args...)
	return ir.Eerror{Type: t}
}

// temp registers a fresh temporary.
func (f *funcState) temp(t ast.Type, prefix string) *ir.Var {
	return f.u.syms.Temp(f.fn, t, prefix)
}

// declare registers a declared local with the function and the innermost
// scope.
func (f *funcState) declare(d *ast.VarDecl) *ir.Var {
	v := f.u.syms.Local(f.fn, d)
	if len(f.scopes) > 0 {
		sc := f.scopes[len(f.scopes)-1]
		for _, x := range sc.vars {
			if x == v {
				return v
			}
		}
		sc.vars = append(sc.vars, v)
	}
	return v
}

// libcall builds a call to a runtime entry point. The result is converted
// to t when the entry point returns a more generic type.
func (f *funcState) libcall(id libcall.ID, t ast.Type, args ...ir.Expr) ir.Expr {
	sig := libcall.Lookup(id)
	if len(args) < len(sig.Params) || (len(args) > len(sig.Params) && !sig.Variadic) {
		diag.Fatalf(ast.Loc{}, "%s called with %d arguments", sig.Name, len(args))
	}
	call := ir.Elibcall{Call: id, Args: args, Type: sig.Return}
	if t == nil || ast.Equal(t, sig.Return) {
		return call
	}
	return f.viewAs(call, t)
}

// viewAs reinterprets a runtime result of a generic type as t: pointers
// convert, two-word arrays are reinterpreted without rescaling.
func (f *funcState) viewAs(e ir.Expr, t ast.Type) ir.Expr {
	switch t.(type) {
	case ast.Tdarray, ast.Tdelegate:
		return ir.Eview{Arg: e, Type: t}
	}
	return ir.Convert(e, t)
}

// typeinfo is the address of the runtime descriptor of t.
func (f *funcState) typeinfo(t ast.Type) ir.Expr {
	return ir.Econvert{Arg: ir.AddrOf(ir.Esymbol{Sym: f.u.syms.TypeInfo(t)}), Type: ast.VoidPtr()}
}

// classinfo is the address of the runtime descriptor of a class.
func (f *funcState) classinfo(cd *ast.ClassDecl) ir.Expr {
	return ir.Econvert{Arg: ir.AddrOf(ir.Esymbol{Sym: f.u.syms.ClassInfo(cd)}), Type: ast.VoidPtr()}
}

// locArgs are the (file, line) arguments of failure entry points.
func (f *funcState) locArgs(loc ast.Loc) []ir.Expr {
	file := loc.File
	if file == "" {
		file = f.u.module
	}
	return []ir.Expr{f.stringValue(file, ast.String()), ir.IntConst(int64(loc.Line), ast.UInt())}
}

// failure is a call to a noreturn failure entry point at loc.
func (f *funcState) failure(id libcall.ID, loc ast.Loc, extra ...ir.Expr) ir.Expr {
	args := append(extra, f.locArgs(loc)...)
	return f.libcall(id, nil, args...)
}

func qualified(fd *ast.FuncDecl) string {
	if fd == nil {
		return "<module>"
	}
	return symtab.FuncName(fd)
}
