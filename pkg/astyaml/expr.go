package astyaml

import (
	"math"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-dc/pkg/ast"
)

var binOps = map[string]ast.BinOp{
	"add": ast.OpAdd, "sub": ast.OpSub, "mul": ast.OpMul, "div": ast.OpDiv,
	"mod": ast.OpMod, "and": ast.OpAnd, "or": ast.OpOr, "xor": ast.OpXor,
	"shl": ast.OpShl, "shr": ast.OpShr, "ushr": ast.OpUshr, "pow": ast.OpPow,
}

var cmpOps = map[string]ast.CmpOp{
	"eq": ast.OpEq, "ne": ast.OpNe, "is": ast.OpIs, "nis": ast.OpNotIs,
	"lt": ast.OpLt, "le": ast.OpLe, "gt": ast.OpGt, "ge": ast.OpGe,
	"unord": ast.OpUnord, "ue": ast.OpUe, "lg": ast.OpLg,
}

var unaryOps = map[string]ast.UnaryOp{"neg": ast.OpNeg, "com": ast.OpCom, "not": ast.OpNot}

// bad is the placeholder for an expression that failed to decode; the
// module is discarded, so its type only has to be valid.
func bad(loc ast.Loc) ast.Expr {
	return ast.IntegerLit{Node: ast.Node{Typ: ast.Int(), Loc: loc}}
}

func (d *decoder) expr(n *yaml.Node) ast.Expr {
	if n == nil {
		d.errors = append(d.errors, "missing expression")
		return bad(ast.Loc{File: d.file})
	}
	loc := d.loc(n)
	switch n.Kind {
	case yaml.ScalarNode:
		return d.scalar(n)
	case yaml.MappingNode:
	default:
		d.addError(n, "expected an expression")
		return bad(loc)
	}

	head, val, attrs := d.form(n)
	node := func(t ast.Type) ast.Node {
		if tn, ok := attrs["type"]; ok {
			t = d.typeAttr(n, tn)
		}
		return ast.Node{Typ: t, Loc: loc}
	}
	if op, ok := binOps[head]; ok {
		l, r := d.pair(val)
		t := arithType(l.ExprType(), r.ExprType())
		if op == ast.OpShl || op == ast.OpShr || op == ast.OpUshr {
			t = promote(l.ExprType())
		}
		return ast.Binary{BinNode: ast.BinNode{Node: node(t), Left: l, Right: r}, Op: op}
	}
	if op, ok := cmpOps[head]; ok {
		l, r := d.pair(val)
		if ast.IsScalar(l.ExprType()) && ast.IsScalar(r.ExprType()) && op != ast.OpIs && op != ast.OpNotIs {
			t := arithType(l.ExprType(), r.ExprType())
			l, r = d.coerce(l, t), d.coerce(r, t)
		}
		return ast.Compare{BinNode: ast.BinNode{Node: node(ast.Bool()), Left: l, Right: r}, Op: op}
	}
	if op, ok := unaryOps[head]; ok {
		arg := d.expr(val)
		t := promote(arg.ExprType())
		if op == ast.OpNot {
			t = ast.Bool()
		}
		return ast.Unary{Node: node(t), Op: op, Arg: arg}
	}

	switch head {
	case "int":
		var v int64
		if err := val.Decode(&v); err != nil {
			d.addError(val, "expected an integer")
		}
		return ast.IntegerLit{Node: node(intType(v)), Value: v}
	case "char":
		r := []rune(val.Value)
		if len(r) != 1 {
			d.addError(val, "expected one character")
			return bad(loc)
		}
		return ast.IntegerLit{Node: node(charType(r[0])), Value: int64(r[0])}
	case "float":
		var v float64
		if err := val.Decode(&v); err != nil {
			d.addError(val, "expected a number")
		}
		return ast.RealLit{Node: node(ast.Double()), Value: v}
	case "str":
		return ast.StringLit{Node: node(ast.String()), Value: val.Value}
	case "null":
		return ast.NullLit{Node: ast.Node{Typ: d.typeAttr(n, val), Loc: loc}}
	case "andand", "oror":
		l, r := d.pair(val)
		op := ast.OpAndAnd
		if head == "oror" {
			op = ast.OpOrOr
		}
		return ast.Logical{BinNode: ast.BinNode{Node: node(ast.Bool()), Left: l, Right: r}, Op: op}
	case "assign":
		l, r := d.pair(val)
		if on, ok := attrs["op"]; ok {
			op, known := binOps[on.Value]
			if !known {
				d.addError(on, "unknown operator %s", on.Value)
			}
			return ast.OpAssign{BinNode: ast.BinNode{Node: ast.Node{Typ: l.ExprType(), Loc: loc}, Left: l, Right: r}, Op: op}
		}
		return ast.Assign{BinNode: ast.BinNode{Node: ast.Node{Typ: l.ExprType(), Loc: loc}, Left: l, Right: d.coerce(r, l.ExprType())}}
	case "append":
		l, r := d.pair(val)
		return ast.CatAssign{BinNode: ast.BinNode{Node: ast.Node{Typ: l.ExprType(), Loc: loc}, Left: l, Right: r}}
	case "cat":
		return d.cat(n, val, node)
	case "comma":
		parts := d.list(val)
		if len(parts) == 0 {
			d.addError(val, "comma needs operands")
			return bad(loc)
		}
		e := parts[len(parts)-1]
		for i := len(parts) - 2; i >= 0; i-- {
			e = ast.Comma{BinNode: ast.BinNode{Node: ast.Node{Typ: e.ExprType(), Loc: loc}, Left: parts[i], Right: e}}
		}
		return e
	case "cond":
		parts := d.list(val)
		if len(parts) != 3 {
			d.addError(val, "cond needs [condition, then, else]")
			return bad(loc)
		}
		t := parts[1].ExprType()
		return ast.Cond{Node: node(t), Cond: parts[0], Then: parts[1], Else: d.coerce(parts[2], t)}
	case "call":
		return d.call(n, val, attrs, node)
	case "index":
		a, i := d.pair(val)
		x := ast.IndexOf(a, i)
		x.Loc = loc
		x.InBounds = d.flag(attrs["inbounds"])
		if x.Typ == nil {
			d.addError(n, "cannot index %s", a.ExprType())
			return bad(loc)
		}
		return x
	case "slice":
		return d.slice(n, val)
	case "length":
		return ast.ArrayLength{Node: ast.Node{Typ: ast.SizeT(), Loc: loc}, Array: d.expr(val)}
	case "cast":
		if _, ok := attrs["type"]; !ok {
			d.addError(n, "cast needs a type")
			return bad(loc)
		}
		return ast.Cast{Node: node(nil), Arg: d.expr(val)}
	case "addr":
		arg := d.expr(val)
		return ast.AddrOf{Node: ast.Node{Typ: ast.Pointer(arg.ExprType()), Loc: loc}, Arg: arg}
	case "deref":
		arg := d.expr(val)
		pt, ok := arg.ExprType().(ast.Tpointer)
		if !ok {
			d.addError(n, "cannot dereference %s", arg.ExprType())
			return bad(loc)
		}
		return ast.Deref{Node: ast.Node{Typ: pt.Elem, Loc: loc}, Arg: arg}
	case "field":
		return d.field(n, val, attrs)
	case "array":
		return d.arrayLit(n, val, attrs, node)
	case "struct":
		return d.structLit(n, val, attrs)
	case "new":
		return d.newExpr(n, val, attrs)
	case "assert":
		x := ast.Assert{Node: ast.Node{Typ: ast.Void(), Loc: loc}, Cond: d.expr(val)}
		if mn, ok := attrs["msg"]; ok {
			x.Msg = d.expr(mn)
		}
		return x
	case "halt":
		return ast.Halt{Node: ast.Node{Typ: ast.Void(), Loc: loc}}
	case "postinc", "postdec":
		arg := d.expr(val)
		op := ast.OpPostInc
		if head == "postdec" {
			op = ast.OpPostDec
		}
		return ast.PostIncDec{Node: ast.Node{Typ: arg.ExprType(), Loc: loc}, Op: op, Arg: arg, Amount: step(arg.ExprType(), loc)}
	case "in":
		key, aa := d.pair(val)
		at, ok := aa.ExprType().(ast.Taarray)
		if !ok {
			d.addError(n, "in needs an associative array, not %s", aa.ExprType())
			return bad(loc)
		}
		return ast.In{BinNode: ast.BinNode{Node: ast.Node{Typ: ast.Pointer(at.Value), Loc: loc}, Left: key, Right: aa}}
	case "remove":
		aa, key := d.pair(val)
		return ast.Remove{BinNode: ast.BinNode{Node: ast.Node{Typ: ast.Bool(), Loc: loc}, Left: aa, Right: key}}
	}
	d.addError(n, "unknown expression form %q", head)
	return bad(loc)
}

// scalar decodes a literal or a name.
func (d *decoder) scalar(n *yaml.Node) ast.Expr {
	loc := d.loc(n)
	if n.Style&(yaml.DoubleQuotedStyle|yaml.SingleQuotedStyle) != 0 {
		return ast.StringLit{Node: ast.Node{Typ: ast.String(), Loc: loc}, Value: n.Value}
	}
	switch n.Tag {
	case "!!int":
		var v int64
		if err := n.Decode(&v); err != nil {
			d.addError(n, "integer %s out of range", n.Value)
		}
		return ast.IntegerLit{Node: ast.Node{Typ: intType(v), Loc: loc}, Value: v}
	case "!!float":
		var v float64
		if err := n.Decode(&v); err != nil {
			d.addError(n, "bad number %s", n.Value)
		}
		return ast.RealLit{Node: ast.Node{Typ: ast.Double(), Loc: loc}, Value: v}
	case "!!bool":
		var b bool
		_ = n.Decode(&b)
		lit := ast.BoolLit(b)
		lit.Loc = loc
		return lit
	case "!!null":
		d.addError(n, "null needs a type: write {null: T}")
		return bad(loc)
	}
	if v := d.lookupVar(n.Value); v != nil {
		return ast.VarRef{Node: ast.Node{Typ: v.Type, Loc: loc}, Var: v}
	}
	if fd := d.funcs[n.Value]; fd != nil {
		return ast.FuncRef{Node: ast.Node{Typ: *fd.Type, Loc: loc}, Func: fd}
	}
	d.addError(n, "undefined identifier %s", n.Value)
	return bad(loc)
}

func (d *decoder) list(n *yaml.Node) []ast.Expr {
	var out []ast.Expr
	for _, it := range d.items(n) {
		out = append(out, d.expr(it))
	}
	return out
}

func (d *decoder) pair(n *yaml.Node) (ast.Expr, ast.Expr) {
	if n.Kind != yaml.SequenceNode || len(n.Content) != 2 {
		d.addError(n, "expected two operands")
		return bad(d.loc(n)), bad(d.loc(n))
	}
	return d.expr(n.Content[0]), d.expr(n.Content[1])
}

// coerce converts a scalar to t; other values are left as written.
func (d *decoder) coerce(e ast.Expr, t ast.Type) ast.Expr {
	et := e.ExprType()
	if t == nil || ast.Equal(et, t) || !ast.IsScalar(et) || !ast.IsScalar(t) {
		return e
	}
	return ast.Cast{Node: ast.Node{Typ: t, Loc: e.Pos()}, Arg: e}
}

func intType(v int64) ast.Type {
	if v >= math.MinInt32 && v <= math.MaxInt32 {
		return ast.Int()
	}
	return ast.Long()
}

func charType(r rune) ast.Type {
	switch {
	case r < 0x80:
		return ast.Char()
	case r < 0x10000:
		return ast.WChar()
	}
	return ast.DChar()
}

// promote applies the integer promotions.
func promote(t ast.Type) ast.Type {
	switch t.(type) {
	case ast.Tbool, ast.Tchar:
		return ast.Int()
	case ast.Tint:
		if ast.Sizeof(t) < 4 {
			return ast.Int()
		}
	}
	return t
}

// arithType is the common type of two arithmetic operands. Pointer
// arithmetic keeps the pointer type.
func arithType(l, r ast.Type) ast.Type {
	if _, ok := l.(ast.Tpointer); ok {
		return l
	}
	if _, ok := r.(ast.Tpointer); ok {
		return r
	}
	lf, lok := l.(ast.Tfloat)
	rf, rok := r.(ast.Tfloat)
	switch {
	case lok && rok:
		if rf.Size > lf.Size {
			return r
		}
		return l
	case lok:
		return l
	case rok:
		return r
	}
	l, r = promote(l), promote(r)
	li, lok := l.(ast.Tint)
	ri, rok := r.(ast.Tint)
	if !lok || !rok {
		return l
	}
	switch {
	case li.Size > ri.Size:
		return l
	case ri.Size > li.Size:
		return r
	case ri.Sign == ast.Unsigned:
		return r
	}
	return l
}

// step is the amount a post-increment adds: one, or the element size
// for pointers.
func step(t ast.Type, loc ast.Loc) ast.Expr {
	if pt, ok := t.(ast.Tpointer); ok {
		return ast.IntegerLit{Node: ast.Node{Typ: ast.PtrdiffT(), Loc: loc}, Value: ast.Sizeof(pt.Elem)}
	}
	if ast.IsFloating(t) {
		return ast.RealLit{Node: ast.Node{Typ: t, Loc: loc}, Value: 1}
	}
	return ast.IntegerLit{Node: ast.Node{Typ: t, Loc: loc}, Value: 1}
}

// cat chains operands left to right: [a, b, c] is (a ~ b) ~ c.
func (d *decoder) cat(n, val *yaml.Node, node func(ast.Type) ast.Node) ast.Expr {
	parts := d.list(val)
	if len(parts) < 2 {
		d.addError(n, "cat needs at least two operands")
		return bad(d.loc(n))
	}
	var t ast.Type
	for _, p := range parts {
		if at, ok := p.ExprType().(ast.Tdarray); ok {
			t = at
			break
		}
		if st, ok := p.ExprType().(ast.Tsarray); ok && t == nil {
			t = ast.DArray(st.Elem)
		}
	}
	if t == nil {
		d.addError(n, "cat needs an array operand")
		return bad(d.loc(n))
	}
	nd := node(t)
	e := parts[0]
	for _, p := range parts[1:] {
		e = ast.Cat{BinNode: ast.BinNode{Node: nd, Left: e, Right: p}}
	}
	return e
}

func (d *decoder) call(n, val *yaml.Node, attrs map[string]*yaml.Node, node func(ast.Type) ast.Node) ast.Expr {
	callee := d.expr(val)
	var ft *ast.Tfunction
	switch ct := callee.ExprType().(type) {
	case ast.Tfunction:
		ft = &ct
	case ast.Tdelegate:
		ft = ct.Func
	case ast.Tpointer:
		if f, ok := ct.Elem.(ast.Tfunction); ok {
			ft = &f
		}
	}
	if ft == nil {
		d.addError(n, "cannot call a value of type %s", callee.ExprType())
		return bad(d.loc(n))
	}
	args := d.list(attrs["args"])
	if len(args) < len(ft.Params) || (len(args) > len(ft.Params) && !ft.Variadic) {
		d.addError(n, "call expects %d arguments, got %d", len(ft.Params), len(args))
	}
	for i := range args {
		if i < len(ft.Params) && !ft.Params[i].Storage.IsRef() {
			args[i] = d.coerce(args[i], ft.Params[i].Type)
		}
	}
	ret := ft.Return
	if ret == nil {
		ret = ast.Void()
	}
	return ast.Call{Node: node(ret), Callee: callee, Args: args}
}

func (d *decoder) slice(n, val *yaml.Node) ast.Expr {
	items := d.items(val)
	if len(items) != 3 {
		d.addError(n, "slice needs [array, lower, upper]")
		return bad(d.loc(n))
	}
	a := d.expr(items[0])
	elem := ast.ElemType(a.ExprType())
	if elem == nil {
		d.addError(n, "cannot slice %s", a.ExprType())
		return bad(d.loc(n))
	}
	x := ast.Slice{Node: ast.Node{Typ: ast.DArray(elem), Loc: d.loc(n)}, Array: a}
	if !isNull(items[1]) {
		x.Lower = d.expr(items[1])
	}
	if !isNull(items[2]) {
		x.Upper = d.expr(items[2])
	}
	return x
}

func (d *decoder) field(n, val *yaml.Node, attrs map[string]*yaml.Node) ast.Expr {
	obj := d.expr(val)
	name := d.name(attrs["name"])
	var f *ast.Field
	switch t := obj.ExprType().(type) {
	case ast.Tstruct:
		f = t.Decl.FieldByName(name)
	case ast.Tclass:
		f = t.Decl.FieldByName(name)
	case ast.Tpointer:
		if sd := ast.StructOf(t.Elem); sd != nil {
			obj = ast.Deref{Node: ast.Node{Typ: t.Elem, Loc: obj.Pos()}, Arg: obj}
			f = sd.FieldByName(name)
		}
	}
	if f == nil {
		d.addError(n, "%s has no field %s", obj.ExprType(), name)
		return bad(d.loc(n))
	}
	return ast.FieldRef{Node: ast.Node{Typ: f.Type, Loc: d.loc(n)}, Arg: obj, Field: f}
}

func (d *decoder) arrayLit(n, val *yaml.Node, attrs map[string]*yaml.Node, node func(ast.Type) ast.Node) ast.Expr {
	elems := d.list(val)
	var t ast.Type
	if len(elems) > 0 {
		t = ast.DArray(elems[0].ExprType())
	}
	nd := node(t)
	if nd.Typ == nil {
		d.addError(n, "an empty array literal needs a type")
		return bad(d.loc(n))
	}
	if elem := ast.ElemType(nd.Typ); elem != nil {
		for i := range elems {
			elems[i] = d.coerce(elems[i], elem)
		}
	}
	return ast.ArrayLiteral{Node: nd, Elems: elems, Immutable: d.flag(attrs["immutable"])}
}

func (d *decoder) structLit(n, val *yaml.Node, attrs map[string]*yaml.Node) ast.Expr {
	sd := d.structs[val.Value]
	if sd == nil {
		d.addError(val, "unknown struct %s", val.Value)
		return bad(d.loc(n))
	}
	elems := d.list(attrs["args"])
	if len(elems) > len(sd.Fields) {
		d.addError(n, "too many initializers for %s", sd.Name)
		return bad(d.loc(n))
	}
	for i := range elems {
		elems[i] = d.coerce(elems[i], sd.Fields[i].Type)
	}
	return ast.StructLiteral{Node: ast.Node{Typ: ast.Tstruct{Decl: sd}, Loc: d.loc(n)}, Struct: sd, Elems: elems}
}

// newExpr allocates a class object, a dynamic array of args[0]
// elements, or a single value behind a pointer.
func (d *decoder) newExpr(n, val *yaml.Node, attrs map[string]*yaml.Node) ast.Expr {
	nt := d.typeAttr(n, val)
	x := ast.New{NewType: nt, Args: d.list(attrs["args"])}
	switch nt.(type) {
	case ast.Tclass, ast.Tdarray:
		x.Node = ast.Node{Typ: nt, Loc: d.loc(n)}
	default:
		x.Node = ast.Node{Typ: ast.Pointer(nt), Loc: d.loc(n)}
	}
	return x
}
