package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/symtab"
)

// stmt lowers one statement.
func (f *funcState) stmt(s ast.Stmt) ir.Stmt {
	switch st := s.(type) {
	case nil:
		return ir.Sskip{}
	case *ast.CompoundStmt:
		out := make([]ir.Stmt, len(st.Stmts))
		for i, x := range st.Stmts {
			out[i] = f.stmt(x)
		}
		return ir.Seq(out...)
	case *ast.ScopeStmt:
		return f.scoped(st.Body)
	case *ast.ExprStmt:
		return f.stmtExpr(st.X)
	case *ast.IfStmt:
		return f.lowerIf(st)
	case *ast.ForStmt:
		return f.lowerFor(st)
	case *ast.DoStmt:
		return f.lowerDo(st)
	case *ast.SwitchStmt:
		return f.lowerSwitch(st)
	case *ast.CaseStmt:
		return f.lowerCase(st)
	case *ast.DefaultStmt:
		return f.lowerDefault(st)
	case *ast.GotoCaseStmt:
		return f.jump(f.u.syms.Label(st.Case, symtab.LabelCase, ""))
	case *ast.GotoDefaultStmt:
		return f.jump(f.defaultLabel(st.Switch))
	case *ast.SwitchErrorStmt:
		return ir.Sexpr{Expr: f.failure(libcall.SwitchError, st.Loc)}
	case *ast.BreakStmt:
		return f.lowerBreak(st)
	case *ast.ContinueStmt:
		return f.lowerContinue(st)
	case *ast.GotoStmt:
		f.checkGoto(st.Loc, st.Label)
		return f.jump(f.userLabel(st.Label))
	case *ast.LabelStmt:
		return ir.Seq(ir.Slabel{Label: f.userLabel(st)}, f.stmt(st.Body))
	case *ast.ReturnStmt:
		return f.lowerReturn(st)
	case *ast.TryCatchStmt:
		return f.lowerTryCatch(st)
	case *ast.TryFinallyStmt:
		return f.lowerTryFinally(st)
	case *ast.ThrowStmt:
		return f.lowerThrow(st)
	case *ast.WithStmt:
		return f.lowerWith(st)
	case *ast.UnrolledLoopStmt:
		return f.lowerUnrolledLoop(st)
	case *ast.ExtAsmStmt:
		return f.lowerExtAsm(st)
	case *ast.AsmStmt:
		f.errorf(st.Loc, "D inline assembler statements are not supported")
		return ir.Sskip{}
	case *ast.OnScopeStmt, *ast.PragmaStmt, *ast.ImportStmt:
		return ir.Sskip{}
	case *ast.WhileStmt, *ast.ForeachStmt, *ast.SynchronizedStmt:
		diag.Fatalf(s.Pos(), "%T must be rewritten before lowering", s)
	}
	diag.Fatalf(s.Pos(), "unhandled statement type %T", s)
	return nil
}

// scoped lowers s in a new lexical scope.
func (f *funcState) scoped(s ast.Stmt) ir.Stmt {
	f.pushScope()
	body := f.stmt(s)
	return f.popScope(body)
}

func (f *funcState) jump(l *ir.Label) ir.Stmt {
	l.Used = true
	return ir.Sgoto{Label: l}
}

func (f *funcState) userLabel(l *ast.LabelStmt) *ir.Label {
	return f.u.syms.Label(l, symtab.LabelUser, l.Ident)
}

// cond lowers a condition with its temporaries' cleanup, as bool.
func (f *funcState) cond(e ast.Expr) ir.Expr {
	return f.toBool(f.exprWithCleanup(e))
}

func (f *funcState) lowerIf(st *ast.IfStmt) ir.Stmt {
	f.pushScope()
	cond := f.cond(st.Cond)
	then := f.scoped(st.Then)
	var els ir.Stmt = ir.Sskip{}
	if st.Else != nil {
		els = f.scoped(st.Else)
	}
	return f.popScope(ir.Sif{Cond: cond, Then: then, Else: els})
}

func (f *funcState) pushTarget(s ast.Stmt, brk, cont *ir.Label) {
	f.targets = append(f.targets, jumpTarget{stmt: s, brk: brk, cont: cont})
}

func (f *funcState) popTarget() {
	f.targets = f.targets[:len(f.targets)-1]
}

// lowerFor emits
//
//	init; loop { exitif !cond; body; continue: incr }; break:
func (f *funcState) lowerFor(st *ast.ForStmt) ir.Stmt {
	f.pushScope()
	init := f.stmt(st.Init)
	brk := f.u.syms.Label(st, symtab.LabelBreak, "")
	cont := f.u.syms.Label(st, symtab.LabelContinue, "")

	var exit ir.Stmt = ir.Sskip{}
	if st.Cond != nil {
		exit = ir.Sexitif{Cond: not(f.cond(st.Cond))}
	}
	f.pushTarget(st, brk, cont)
	body := f.scoped(st.Body)
	f.popTarget()
	incr := f.stmtExpr(st.Incr)

	loop := ir.Sloop{Body: ir.Seq(exit, body, ir.Slabel{Label: cont}, incr)}
	return f.popScope(ir.Seq(init, loop, ir.Slabel{Label: brk}))
}

// lowerDo emits loop { body; continue: exitif !cond }; break:
func (f *funcState) lowerDo(st *ast.DoStmt) ir.Stmt {
	brk := f.u.syms.Label(st, symtab.LabelBreak, "")
	cont := f.u.syms.Label(st, symtab.LabelContinue, "")
	f.pushTarget(st, brk, cont)
	body := f.scoped(st.Body)
	f.popTarget()
	exit := ir.Sexitif{Cond: not(f.cond(st.Cond))}
	loop := ir.Sloop{Body: ir.Seq(body, ir.Slabel{Label: cont}, exit)}
	return ir.Seq(loop, ir.Slabel{Label: brk})
}

// findTarget resolves a break or continue. A labeled jump goes to the
// statement under the label; otherwise the innermost eligible target.
func (f *funcState) findTarget(label *ast.LabelStmt, needCont bool) (jumpTarget, bool) {
	var want ast.Stmt
	if label != nil {
		want = ast.RelatedLabeled(label)
	}
	for i := len(f.targets) - 1; i >= 0; i-- {
		t := f.targets[i]
		if want != nil && t.stmt != want {
			continue
		}
		if needCont && t.cont == nil {
			if want != nil {
				return t, false
			}
			continue
		}
		return t, true
	}
	return jumpTarget{}, false
}

func (f *funcState) lowerBreak(st *ast.BreakStmt) ir.Stmt {
	t, ok := f.findTarget(st.Label, false)
	if !ok {
		f.errorf(st.Loc, "break is not inside a loop or switch")
		return ir.Sskip{}
	}
	return f.jump(t.brk)
}

func (f *funcState) lowerContinue(st *ast.ContinueStmt) ir.Stmt {
	t, ok := f.findTarget(st.Label, true)
	if !ok {
		f.errorf(st.Loc, "continue is not inside a loop")
		return ir.Sskip{}
	}
	return f.jump(t.cont)
}

// lowerReturn stores the result, runs the out contract and leaves. A
// named return value already lives in the result slot.
func (f *funcState) lowerReturn(st *ast.ReturnStmt) ir.Stmt {
	fd := f.decl
	if fd == nil {
		diag.Fatalf(st.Loc, "return outside of a function")
	}
	if st.X == nil {
		return ir.Seq(f.stmt(fd.Ensure), ir.Sreturn{})
	}
	if f.fn.Result == nil {
		// void function returning a void expression
		return ir.Seq(f.stmtExpr(st.X), f.stmt(fd.Ensure), ir.Sreturn{})
	}

	var store ir.Expr
	switch {
	case fd.Type.IsRef:
		v := f.exprWithCleanup(st.X)
		if !isLvalue(v) {
			f.errorf(st.Loc, "%s is not an lvalue and cannot be returned by reference", st.X.ExprType())
		}
		store = ir.Init(f.fn.Result.Ref(), addrOf(v))
	case fd.NRVOCan && isVarRef(st.X, fd.NRVOVar):
		return ir.Seq(f.stmt(fd.Ensure), ir.Sreturn{})
	default:
		ret := fd.ReturnType()
		if fd.Intro != nil {
			ret = fd.Intro
		}
		v := f.convert(f.exprWithCleanup(st.X), ret)
		store = ir.Init(f.fn.Result.Ref(), ir.Convert(v, f.fn.Result.Type))
	}
	if fd.Ensure != nil {
		return ir.Seq(ir.Sexpr{Expr: store}, f.stmt(fd.Ensure), ir.Sreturn{})
	}
	return ir.Sreturn{Value: store}
}

func isVarRef(e ast.Expr, d *ast.VarDecl) bool {
	r, ok := e.(ast.VarRef)
	return ok && d != nil && r.Var == d
}

func (f *funcState) lowerTryCatch(st *ast.TryCatchStmt) ir.Stmt {
	if !f.u.opts.Exceptions {
		f.errorf(st.Loc, "cannot use try-catch statements with -fno-exceptions")
	}
	body := f.inRegion(regionKey{st, bodyPart}, regionTry, func() ir.Stmt {
		return f.scoped(st.Body)
	})
	try := ir.Stry{Body: body}
	for i, c := range st.Catches {
		h := f.inRegion(regionKey{st, i}, regionCatch, func() ir.Stmt {
			f.pushScope()
			obj := f.libcall(libcall.BeginCatch, nil, ir.Ebuiltin{Builtin: ir.BehPointer, Args: []ir.Expr{ir.IntConst(0, ast.Int())}, Type: ast.VoidPtr()})
			var bind ir.Stmt
			if c.Var != nil {
				v := f.declare(c.Var)
				bind = ir.Sexpr{Expr: ir.Init(v.Ref(), ir.Convert(obj, c.Var.Type))}
			} else {
				bind = ir.Sexpr{Expr: obj}
			}
			return f.popScope(ir.Seq(bind, f.scoped(c.Handler)))
		})
		try.Handlers = append(try.Handlers, ir.Handler{Type: c.Type, Body: h})
	}
	return try
}

func (f *funcState) lowerTryFinally(st *ast.TryFinallyStmt) ir.Stmt {
	body := f.inRegion(regionKey{st, bodyPart}, regionTry, func() ir.Stmt {
		return f.scoped(st.Body)
	})
	fin := f.inRegion(regionKey{st, finallyPart}, regionFinally, func() ir.Stmt {
		return f.scoped(st.Finally)
	})
	return ir.Sfinally{Body: body, Finally: fin}
}

// lowerThrow hands a class object to the runtime. Foreign objects and
// non-class values cannot be thrown.
func (f *funcState) lowerThrow(st *ast.ThrowStmt) ir.Stmt {
	t := st.X.ExprType()
	cd := ast.ClassOf(t)
	switch {
	case !f.u.opts.Exceptions:
		f.errorf(st.Loc, "cannot throw exceptions with -fno-exceptions")
		return ir.Sskip{}
	case cd == nil:
		f.errorf(st.Loc, "can only throw class objects, not type %s", t)
		return ir.Sskip{}
	case cd.CPPClass:
		f.errorf(st.Loc, "cannot throw C++ classes")
		return ir.Sskip{}
	case cd.COMClass:
		f.errorf(st.Loc, "cannot throw COM objects")
		return ir.Sskip{}
	}
	obj := voidPtrOf(f.exprWithCleanup(st.X))
	return ir.Sexpr{Expr: f.libcall(libcall.Throw, nil, obj)}
}

func (f *funcState) lowerWith(st *ast.WithStmt) ir.Stmt {
	f.pushScope()
	var init ir.Stmt
	if st.This != nil {
		v := f.declare(st.This)
		init = ir.Sexpr{Expr: ir.Init(v.Ref(), f.convert(f.exprWithCleanup(st.X), symtab.VarType(st.This)))}
	} else {
		init = f.stmtExpr(st.X)
	}
	body := f.scoped(st.Body)
	return f.popScope(ir.Seq(init, body))
}

// lowerUnrolledLoop gives every iteration its own continue label, inside
// a loop that runs once so break has a target.
func (f *funcState) lowerUnrolledLoop(st *ast.UnrolledLoopStmt) ir.Stmt {
	brk := f.u.syms.Label(st, symtab.LabelBreak, "")
	var iters []ir.Stmt
	for _, s := range st.Stmts {
		cont := f.u.syms.NewLabel("continue")
		f.pushTarget(st, brk, cont)
		iters = append(iters, f.scoped(s), ir.Slabel{Label: cont})
		f.popTarget()
	}
	iters = append(iters, ir.Sexitif{Cond: ir.BoolConst(true)})
	return ir.Seq(ir.Sloop{Body: ir.Seq(iters...)}, ir.Slabel{Label: brk})
}

func (f *funcState) lowerExtAsm(st *ast.ExtAsmStmt) ir.Stmt {
	operands := func(ops []ast.AsmOperand) []ir.AsmOperand {
		out := make([]ir.AsmOperand, len(ops))
		for i, op := range ops {
			out[i] = ir.AsmOperand{Name: op.Name, Constraint: op.Constraint, Value: f.expr(op.X)}
		}
		return out
	}
	s := ir.Sasm{
		Template: st.Insn,
		Outputs:  operands(st.Outputs),
		Inputs:   operands(st.Inputs),
		Clobbers: st.Clobbers,
	}
	for _, l := range st.Labels {
		lbl := f.userLabel(l)
		lbl.Used = true
		s.Labels = append(s.Labels, lbl)
	}
	// asm without outputs is only kept for its side effects
	s.Volatile = len(s.Outputs) == 0
	s.Basic = len(s.Outputs) == 0 && len(s.Inputs) == 0 && len(s.Clobbers) == 0
	return s
}
