package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

func (f *funcState) pushScope() {
	f.scopes = append(f.scopes, &scope{})
}

// popScope closes the innermost scope, binding its variables around body.
func (f *funcState) popScope(body ir.Stmt) ir.Stmt {
	sc := f.scopes[len(f.scopes)-1]
	f.scopes = f.scopes[:len(f.scopes)-1]
	if len(sc.vars) == 0 {
		return body
	}
	return ir.Sbind{Vars: sc.vars, Body: body}
}

// exprWithCleanup lowers a full expression. Variables with destructors
// declared while lowering it are destroyed, in reverse order of
// declaration, when the expression is left by any path.
func (f *funcState) exprWithCleanup(e ast.Expr) ir.Expr {
	mark := len(f.varsInScope)
	r := f.expr(e)
	pending := f.varsInScope[mark:]
	if len(pending) == 0 {
		return r
	}
	vars := append([]*ast.VarDecl(nil), pending...)
	f.varsInScope = f.varsInScope[:mark]

	var dtors []ir.Expr
	for i := len(vars) - 1; i >= 0; i-- {
		dtors = append(dtors, f.expr(vars[i].Dtor))
	}
	// Destructor calls never declare more scoped variables.
	f.varsInScope = f.varsInScope[:mark]
	return ir.Ecleanup{Body: r, Cleanup: ir.Compound(nil, dtors...)}
}

// stmtExpr lowers an expression evaluated only for its effects.
func (f *funcState) stmtExpr(e ast.Expr) ir.Stmt {
	if e == nil {
		return ir.Sskip{}
	}
	return ir.Sexpr{Expr: f.exprWithCleanup(e)}
}

// regionKind tells which part of a try statement a region is
type regionKind int

const (
	regionTry regionKind = iota
	regionCatch
	regionFinally
)

// region is one protected part of a try statement. Jumps may leave a
// region but never enter one from outside.
type region struct {
	parent *region
	kind   regionKind
}

func (r *region) within(outer *region) bool {
	for ; r != nil; r = r.parent {
		if r == outer {
			return true
		}
	}
	return outer == nil
}

// regionKey names one protected part of a try statement: index -1 is
// the body, -2 the finally block, and i >= 0 the i-th catch handler.
type regionKey struct {
	stmt  ast.Stmt
	index int
}

const (
	bodyPart    = -1
	finallyPart = -2
)

// registerLabels is the first pass over a body: it records the region of
// every label so forward gotos can be checked.
func (f *funcState) registerLabels(s ast.Stmt, cur *region) {
	enter := func(key regionKey, kind regionKind) *region {
		r := &region{parent: cur, kind: kind}
		f.regions[key] = r
		return r
	}
	switch st := s.(type) {
	case nil:
	case *ast.CompoundStmt:
		for _, x := range st.Stmts {
			f.registerLabels(x, cur)
		}
	case *ast.UnrolledLoopStmt:
		for _, x := range st.Stmts {
			f.registerLabels(x, cur)
		}
	case *ast.ScopeStmt:
		f.registerLabels(st.Body, cur)
	case *ast.LabelStmt:
		f.labelRegion[st] = cur
		f.registerLabels(st.Body, cur)
	case *ast.IfStmt:
		f.registerLabels(st.Then, cur)
		f.registerLabels(st.Else, cur)
	case *ast.ForStmt:
		f.registerLabels(st.Init, cur)
		f.registerLabels(st.Body, cur)
	case *ast.DoStmt:
		f.registerLabels(st.Body, cur)
	case *ast.SwitchStmt:
		f.registerLabels(st.Body, cur)
	case *ast.CaseStmt:
		f.registerLabels(st.Body, cur)
	case *ast.DefaultStmt:
		f.registerLabels(st.Body, cur)
	case *ast.WithStmt:
		f.registerLabels(st.Body, cur)
	case *ast.TryCatchStmt:
		f.registerLabels(st.Body, enter(regionKey{st, bodyPart}, regionTry))
		for i, c := range st.Catches {
			f.registerLabels(c.Handler, enter(regionKey{st, i}, regionCatch))
		}
	case *ast.TryFinallyStmt:
		f.registerLabels(st.Body, enter(regionKey{st, bodyPart}, regionTry))
		f.registerLabels(st.Finally, enter(regionKey{st, finallyPart}, regionFinally))
	}
}

// checkGoto reports jumps into a try, catch or finally block.
func (f *funcState) checkGoto(loc ast.Loc, target *ast.LabelStmt) {
	to, ok := f.labelRegion[target]
	if !ok || f.region.within(to) {
		return
	}
	// to is not an ancestor of the current region: find the outermost
	// region the jump would enter.
	r := to
	for r.parent != nil && !f.region.within(r.parent) {
		r = r.parent
	}
	switch r.kind {
	case regionCatch:
		f.errorf(loc, "cannot goto into catch block")
	case regionFinally:
		f.errorf(loc, "cannot goto into finally block")
	default:
		f.errorf(loc, "cannot goto into try block")
	}
}

// inRegion lowers one part of a try statement inside its region.
func (f *funcState) inRegion(key regionKey, kind regionKind, body func() ir.Stmt) ir.Stmt {
	saved := f.region
	r, ok := f.regions[key]
	if !ok {
		r = &region{parent: saved, kind: kind}
		f.regions[key] = r
	}
	f.region = r
	defer func() { f.region = saved }()
	return body()
}
