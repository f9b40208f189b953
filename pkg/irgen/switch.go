package irgen

import (
	"bytes"
	"sort"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/symtab"
)

// Switch statements take one of three shapes:
//
//   - integral switches with constant cases become Sswitch;
//   - switches on strings look the value up in a sorted static table
//     through the runtime and jump on the returned index;
//   - switches with run-time case values compare case by case.
//
// A switch without a default gets one that raises a switch error.

func (f *funcState) defaultLabel(sw *ast.SwitchStmt) *ir.Label {
	if sw.Default != nil {
		return f.u.syms.Label(sw.Default, symtab.LabelDefault, "")
	}
	return f.u.syms.Label(sw, symtab.LabelDefault, "")
}

func (f *funcState) caseLabel(c *ast.CaseStmt) *ir.Label {
	return f.u.syms.Label(c, symtab.LabelCase, "")
}

func (f *funcState) lowerSwitch(st *ast.SwitchStmt) ir.Stmt {
	condT := st.Cond.ExprType()
	f.pushScope()
	cond := f.exprWithCleanup(st.Cond)
	brk := f.u.syms.Label(st, symtab.LabelBreak, "")

	var out ir.Stmt
	switch {
	case isStringType(condT) && !st.HasVars:
		out = f.stringSwitch(st, cond, brk)
	case st.HasVars || isStringType(condT):
		out = f.chainSwitch(st, cond, brk)
	case ast.IsIntegral(condT):
		out = f.nativeSwitch(st, cond, brk)
	default:
		f.errorf(st.Loc, "cannot switch on a value of type %s", condT)
		out = ir.Sexpr{Expr: cond}
	}
	return f.popScope(ir.Seq(out, ir.Slabel{Label: brk}))
}

func isStringType(t ast.Type) bool {
	at, ok := t.(ast.Tdarray)
	if !ok {
		return false
	}
	_, ok = at.Elem.(ast.Tchar)
	return ok
}

// switchBody lowers the body of a switch with its break target, and
// appends the implicit default.
func (f *funcState) switchBody(st *ast.SwitchStmt, ss *switchState, brk *ir.Label) ir.Stmt {
	f.switches = append(f.switches, ss)
	f.pushTarget(st, brk, nil)
	body := f.scoped(st.Body)
	f.popTarget()
	f.switches = f.switches[:len(f.switches)-1]
	if st.Default != nil {
		return body
	}

	l := f.defaultLabel(st)
	var entry ir.Stmt = ir.Slabel{Label: l}
	if ss.native {
		entry = ir.Scase{Label: l}
	}
	return ir.Seq(body, f.jump(brk), entry, ir.Sexpr{Expr: f.failure(libcall.SwitchError, st.Loc)})
}

func (f *funcState) currentSwitch() *switchState {
	if len(f.switches) == 0 {
		return nil
	}
	return f.switches[len(f.switches)-1]
}

func (f *funcState) nativeSwitch(st *ast.SwitchStmt, cond ir.Expr, brk *ir.Label) ir.Stmt {
	condT := st.Cond.ExprType()
	ss := &switchState{stmt: st, native: true, values: make(map[*ast.CaseStmt]ir.Expr)}
	for _, c := range st.Cases {
		ss.values[c] = f.convert(f.expr(c.Exp), condT)
	}
	body := f.switchBody(st, ss, brk)
	return ir.Sswitch{Cond: cond, Body: body}
}

// chainSwitch tests the cases in order and jumps to the first match.
func (f *funcState) chainSwitch(st *ast.SwitchStmt, cond ir.Expr, brk *ir.Label) ir.Stmt {
	condT := st.Cond.ExprType()
	pre, c := f.stabilize(cond)
	tests := []ir.Stmt{ir.Sexpr{Expr: pre}}
	if pre == nil {
		tests = nil
	}
	for _, cs := range st.Cases {
		v := f.expr(cs.Exp)
		eq := f.compare(cs.Loc, ast.OpEq, c, v, condT, cs.Exp.ExprType())
		tests = append(tests, ir.Sif{Cond: eq, Then: f.jump(f.caseLabel(cs)), Else: ir.Sskip{}})
	}
	tests = append(tests, f.jump(f.defaultLabel(st)))
	ss := &switchState{stmt: st}
	return ir.Seq(ir.Seq(tests...), f.switchBody(st, ss, brk))
}

// caseString is one string case with its encoded code units
type caseString struct {
	c    *ast.CaseStmt
	s    string
	data []byte
}

// stringSwitch sorts the case strings the way the runtime searches them:
// shorter strings first, equal lengths by code unit value.
func (f *funcState) stringSwitch(st *ast.SwitchStmt, cond ir.Expr, brk *ir.Label) ir.Stmt {
	strT := st.Cond.ExprType().(ast.Tdarray)
	elem := strT.Elem.(ast.Tchar)

	cases := make([]caseString, 0, len(st.Cases))
	for _, c := range st.Cases {
		lit, ok := c.Exp.(ast.StringLit)
		if !ok {
			f.errorf(c.Loc, "case value of a string switch must be a string literal")
			continue
		}
		cases = append(cases, caseString{c: c, s: lit.Value, data: encodeString(lit.Value, elem.Size)})
	}
	sort.SliceStable(cases, func(i, j int) bool {
		a, b := cases[i].data, cases[j].data
		if len(a) != len(b) {
			return len(a) < len(b)
		}
		return bytes.Compare(a, b) < 0
	})

	n := int64(len(cases))
	tableT := ast.SArray(strT, n)
	table := ir.Ector{Type: tableT}
	for i, cs := range cases {
		table.Elems = append(table.Elems, ir.CtorElem{Index: i, Offset: int64(i) * ast.Sizeof(strT), Value: f.stringValue(cs.s, strT)})
	}
	sym := f.u.syms.ReadOnly(".Lswitch", tableT, table)
	tablePtr := ir.Econvert{Arg: ir.AddrOf(ir.Esymbol{Sym: sym}), Type: ast.Pointer(strT)}
	tableArr := darray(ir.SizeConst(n), tablePtr, ast.DArray(strT))

	id := map[ast.CharSize]libcall.ID{ast.C8: libcall.SwitchString, ast.C16: libcall.SwitchUstring, ast.C32: libcall.SwitchDstring}[elem.Size]
	idx := f.temp(ast.Int(), "__case")
	tests := []ir.Stmt{ir.Sexpr{Expr: ir.Init(idx.Ref(), f.libcall(id, nil, tableArr, cond))}}
	for i, cs := range cases {
		hit := ir.Cmp(ir.Ceq, idx.Ref(), ir.IntConst(int64(i), ast.Int()))
		tests = append(tests, ir.Sif{Cond: hit, Then: f.jump(f.caseLabel(cs.c)), Else: ir.Sskip{}})
	}
	tests = append(tests, f.jump(f.defaultLabel(st)))
	ss := &switchState{stmt: st}
	return ir.Seq(ir.Seq(tests...), f.switchBody(st, ss, brk))
}

func (f *funcState) lowerCase(st *ast.CaseStmt) ir.Stmt {
	l := f.caseLabel(st)
	ss := f.currentSwitch()
	var entry ir.Stmt = ir.Slabel{Label: l}
	if ss != nil && ss.native {
		entry = ir.Scase{Value: ss.values[st], Label: l}
	}
	return ir.Seq(entry, f.stmt(st.Body))
}

func (f *funcState) lowerDefault(st *ast.DefaultStmt) ir.Stmt {
	l := f.u.syms.Label(st, symtab.LabelDefault, "")
	ss := f.currentSwitch()
	var entry ir.Stmt = ir.Slabel{Label: l}
	if ss != nil && ss.native {
		entry = ir.Scase{Label: l}
	}
	return ir.Seq(entry, f.stmt(st.Body))
}
