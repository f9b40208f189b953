package astyaml

import (
	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-dc/pkg/ast"
)

// block decodes a statement list, or a single statement, in a new name
// scope.
func (d *decoder) block(n *yaml.Node) ast.Stmt {
	if n == nil || isNull(n) {
		return ast.Stmts()
	}
	d.push()
	defer d.pop()
	if n.Kind != yaml.SequenceNode {
		return d.stmt(n)
	}
	return d.seq(n.Content)
}

// seq decodes statements in the current scope. A variable with a
// destructor is destroyed when the rest of the list is left, by any
// path.
func (d *decoder) seq(items []*yaml.Node) *ast.CompoundStmt {
	out := &ast.CompoundStmt{}
	if len(items) > 0 {
		out.Loc = d.loc(items[0])
	}
	for i, it := range items {
		s := d.stmt(it)
		out.Stmts = append(out.Stmts, s)
		v := declaredWithDtor(s)
		if v == nil {
			continue
		}
		v.NoScope = true
		out.Stmts = append(out.Stmts, &ast.TryFinallyStmt{
			StmtNode: ast.StmtNode{Loc: v.Loc},
			Body:     d.seq(items[i+1:]),
			Finally:  &ast.ExprStmt{StmtNode: ast.StmtNode{Loc: v.Loc}, X: v.Dtor},
		})
		break
	}
	return out
}

func declaredWithDtor(s ast.Stmt) *ast.VarDecl {
	es, ok := s.(*ast.ExprStmt)
	if !ok {
		return nil
	}
	decl, ok := es.X.(ast.Declaration)
	if !ok || decl.Var.Dtor == nil {
		return nil
	}
	return decl.Var
}

func (d *decoder) stmt(n *yaml.Node) ast.Stmt {
	sn := ast.StmtNode{Loc: d.loc(n)}
	switch n.Kind {
	case yaml.ScalarNode:
		switch n.Value {
		case "break":
			return &ast.BreakStmt{StmtNode: sn}
		case "continue":
			return &ast.ContinueStmt{StmtNode: sn}
		case "return":
			return &ast.ReturnStmt{StmtNode: sn}
		}
		return &ast.ExprStmt{StmtNode: sn, X: d.expr(n)}
	case yaml.SequenceNode:
		d.push()
		defer d.pop()
		return d.seq(n.Content)
	case yaml.MappingNode:
	default:
		d.addError(n, "expected a statement")
		return &ast.CompoundStmt{StmtNode: sn}
	}

	head, val, attrs := d.form(n)
	switch head {
	case "expr":
		return &ast.ExprStmt{StmtNode: sn, X: d.expr(val)}
	case "return":
		if isNull(val) {
			return &ast.ReturnStmt{StmtNode: sn}
		}
		return &ast.ReturnStmt{StmtNode: sn, X: d.expr(val)}
	case "var":
		return d.varStmt(n, sn, val, attrs)
	case "if":
		st := &ast.IfStmt{StmtNode: sn, Cond: d.expr(val), Then: d.block(attrs["then"])}
		if el, ok := attrs["else"]; ok {
			st.Else = d.block(el)
		}
		return st
	case "while":
		return &ast.ForStmt{StmtNode: sn, Cond: d.expr(val), Body: d.block(attrs["body"])}
	case "for":
		return d.forStmt(sn, val, attrs)
	case "do":
		body := d.block(val)
		cond, ok := attrs["while"]
		if !ok {
			d.addError(n, "do needs a while condition")
			return body
		}
		return &ast.DoStmt{StmtNode: sn, Body: body, Cond: d.expr(cond)}
	case "switch":
		return d.switchStmt(sn, val, attrs)
	case "break":
		return &ast.BreakStmt{StmtNode: sn, Label: d.label(val)}
	case "continue":
		return &ast.ContinueStmt{StmtNode: sn, Label: d.label(val)}
	case "goto":
		return &ast.GotoStmt{StmtNode: sn, Label: d.label(val)}
	case "label":
		if isNull(val) {
			d.addError(val, "label needs a name")
			return d.block(attrs["body"])
		}
		lbl := d.label(val)
		if d.defined[val.Value] {
			d.addError(val, "label %s is already defined", val.Value)
		}
		d.defined[val.Value] = true
		lbl.StmtNode = sn
		lbl.Body = d.block(attrs["body"])
		return lbl
	case "scope":
		return &ast.ScopeStmt{StmtNode: sn, Body: d.block(val)}
	case "try":
		return d.tryStmt(sn, val, attrs)
	case "throw":
		return &ast.ThrowStmt{StmtNode: sn, X: d.expr(val)}
	case "asm":
		return &ast.AsmStmt{StmtNode: sn, Text: val.Value}
	case "extasm":
		return d.extAsm(sn, val, attrs)
	}
	return &ast.ExprStmt{StmtNode: sn, X: d.expr(n)}
}

// label returns the label named by n, creating it on first mention so
// jumps may precede their target.
func (d *decoder) label(n *yaml.Node) *ast.LabelStmt {
	if isNull(n) {
		return nil
	}
	name := d.name(n)
	if lbl, ok := d.labels[name]; ok {
		return lbl
	}
	lbl := &ast.LabelStmt{Ident: name}
	d.labels[name] = lbl
	return lbl
}

func (d *decoder) varStmt(n *yaml.Node, sn ast.StmtNode, val *yaml.Node, attrs map[string]*yaml.Node) ast.Stmt {
	// the initializer cannot see the variable it initializes
	var init ast.Expr
	if in := attrs["init"]; in != nil {
		init = d.expr(in)
	}
	v := d.declareLocal(n, d.name(val), d.declType(n, attrs["type"], init))
	if d.flag(attrs["static"]) {
		v.Storage |= ast.STCstatic
	}
	if init != nil {
		v.Init = construct(v, d.coerce(init, v.Type), sn.Loc)
	}
	if dt := attrs["dtor"]; dt != nil {
		v.Dtor = d.expr(dt)
	}
	return &ast.ExprStmt{StmtNode: sn, X: ast.Declaration{Node: ast.Node{Typ: v.Type, Loc: sn.Loc}, Var: v}}
}

func (d *decoder) forStmt(sn ast.StmtNode, cond *yaml.Node, attrs map[string]*yaml.Node) ast.Stmt {
	d.push()
	defer d.pop()
	st := &ast.ForStmt{StmtNode: sn}
	if in := attrs["init"]; in != nil {
		st.Init = d.stmt(in)
	}
	if !isNull(cond) {
		st.Cond = d.expr(cond)
	}
	if inc := attrs["incr"]; inc != nil {
		st.Incr = d.expr(inc)
	}
	st.Body = d.block(attrs["body"])
	return st
}

func (d *decoder) switchStmt(sn ast.StmtNode, cond *yaml.Node, attrs map[string]*yaml.Node) ast.Stmt {
	st := &ast.SwitchStmt{StmtNode: sn, Cond: d.expr(cond), IsFinal: d.flag(attrs["final"])}
	d.push()
	defer d.pop()
	var body []ast.Stmt
	for _, cn := range d.items(attrs["cases"]) {
		head, val, ca := d.form(cn)
		switch head {
		case "case":
			values := []*yaml.Node{val}
			if val.Kind == yaml.SequenceNode {
				values = val.Content
			}
			for i, vn := range values {
				c := &ast.CaseStmt{StmtNode: ast.StmtNode{Loc: d.loc(vn)}, Exp: d.expr(vn), Body: ast.Stmts()}
				if !isConstant(c.Exp) {
					st.HasVars = true
				}
				// earlier values fall through to the last one's body
				if i == len(values)-1 {
					c.Body = d.seq(d.items(ca["body"]))
				}
				st.Cases = append(st.Cases, c)
				body = append(body, c)
			}
		case "default":
			if st.Default != nil {
				d.addError(cn, "switch has more than one default")
			}
			st.Default = &ast.DefaultStmt{StmtNode: ast.StmtNode{Loc: d.loc(cn)}, Body: d.seq(d.items(val))}
			body = append(body, st.Default)
		default:
			d.addError(cn, "expected case or default, got %s", head)
		}
	}
	st.Body = &ast.CompoundStmt{StmtNode: sn, Stmts: body}
	return st
}

func isConstant(e ast.Expr) bool {
	switch e.(type) {
	case ast.IntegerLit, ast.StringLit, ast.RealLit:
		return true
	}
	return false
}

func (d *decoder) tryStmt(sn ast.StmtNode, val *yaml.Node, attrs map[string]*yaml.Node) ast.Stmt {
	var s ast.Stmt = d.block(val)
	if cs, ok := attrs["catch"]; ok {
		tc := &ast.TryCatchStmt{StmtNode: sn, Body: s}
		for _, cn := range d.items(cs) {
			f := d.fields(cn)
			c := &ast.Catch{Loc: d.loc(cn), Type: d.typeAttr(cn, f["type"])}
			if ast.ClassOf(c.Type) == nil {
				d.addError(cn, "can only catch class objects, not %s", c.Type)
			}
			d.push()
			if vn := f["var"]; vn != nil {
				c.Var = d.declareLocal(vn, d.name(vn), c.Type)
			}
			c.Handler = d.block(f["body"])
			d.pop()
			tc.Catches = append(tc.Catches, c)
		}
		s = tc
	}
	if fin, ok := attrs["finally"]; ok {
		s = &ast.TryFinallyStmt{StmtNode: sn, Body: s, Finally: d.block(fin)}
	}
	return s
}

func (d *decoder) extAsm(sn ast.StmtNode, val *yaml.Node, attrs map[string]*yaml.Node) ast.Stmt {
	st := &ast.ExtAsmStmt{StmtNode: sn, Insn: val.Value}
	operands := func(n *yaml.Node) []ast.AsmOperand {
		var out []ast.AsmOperand
		for _, on := range d.items(n) {
			f := d.fields(on)
			op := ast.AsmOperand{Constraint: d.name(f["constraint"]), X: d.expr(f["value"])}
			if nn := f["name"]; nn != nil {
				op.Name = nn.Value
			}
			out = append(out, op)
		}
		return out
	}
	st.Outputs = operands(attrs["outputs"])
	st.Inputs = operands(attrs["inputs"])
	for _, c := range d.items(attrs["clobbers"]) {
		st.Clobbers = append(st.Clobbers, c.Value)
	}
	for _, l := range d.items(attrs["labels"]) {
		st.Labels = append(st.Labels, d.label(l))
	}
	return st
}
