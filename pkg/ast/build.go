package ast

// Shorthand constructors for building typed trees by hand (tests and the
// YAML loader). They fill in the obvious result type.

// NewLocal declares a local variable of the given type.
func NewLocal(name string, t Type) *VarDecl {
	return &VarDecl{Name: name, Type: t}
}

// NewParam declares a parameter; NewFunc marks its storage.
func NewParam(name string, t Type) *VarDecl {
	return &VarDecl{Name: name, Type: t}
}

// Int64Lit is an integer constant of type t.
func Int64Lit(v int64, t Type) IntegerLit {
	return IntegerLit{Node: Node{Typ: t}, Value: v}
}

// IntLit is an int constant.
func IntLit(v int64) IntegerLit {
	return Int64Lit(v, Int())
}

// BoolLit is a bool constant.
func BoolLit(b bool) IntegerLit {
	if b {
		return Int64Lit(1, Bool())
	}
	return Int64Lit(0, Bool())
}

// FloatLit is a real constant of type t.
func FloatLit(v float64, t Type) RealLit {
	return RealLit{Node: Node{Typ: t}, Value: v}
}

// Str is a string literal of type string.
func Str(s string) StringLit {
	return StringLit{Node: Node{Typ: String()}, Value: s}
}

// Null is null of type t.
func Null(t Type) NullLit {
	return NullLit{Node: Node{Typ: t}}
}

// Ref names a variable.
func Ref(v *VarDecl) VarRef {
	return VarRef{Node: Node{Typ: v.Type}, Var: v}
}

// Fn names a function.
func Fn(fd *FuncDecl) FuncRef {
	return FuncRef{Node: Node{Typ: *fd.Type}, Func: fd}
}

// Bin builds a binary operator of result type t.
func Bin(op BinOp, l, r Expr, t Type) Binary {
	return Binary{BinNode: BinNode{Node: Node{Typ: t}, Left: l, Right: r}, Op: op}
}

// Cmp builds a comparison yielding bool.
func Cmp(op CmpOp, l, r Expr) Compare {
	return Compare{BinNode: BinNode{Node: Node{Typ: Bool()}, Left: l, Right: r}, Op: op}
}

// AndAnd builds l && r of type t (bool, or void for control flow).
func AndAnd(l, r Expr, t Type) Logical {
	return Logical{BinNode: BinNode{Node: Node{Typ: t}, Left: l, Right: r}, Op: OpAndAnd}
}

// OrOr builds l || r of type t.
func OrOr(l, r Expr, t Type) Logical {
	return Logical{BinNode: BinNode{Node: Node{Typ: t}, Left: l, Right: r}, Op: OpOrOr}
}

// Set builds the plain assignment l = r.
func Set(l, r Expr) Assign {
	return Assign{BinNode: BinNode{Node: Node{Typ: l.ExprType()}, Left: l, Right: r}, Op: AssignPlain}
}

// Construct builds the initialization of v from init.
func Construct(v *VarDecl, init Expr) Assign {
	return Assign{BinNode: BinNode{Node: Node{Typ: v.Type}, Left: Ref(v), Right: init}, Op: AssignConstruct}
}

// Append builds l ~= r.
func Append(l, r Expr) CatAssign {
	return CatAssign{BinNode: BinNode{Node: Node{Typ: l.ExprType()}, Left: l, Right: r}}
}

// Concat builds l ~ r of array type t.
func Concat(l, r Expr, t Type) Cat {
	return Cat{BinNode: BinNode{Node: Node{Typ: t}, Left: l, Right: r}}
}

// CommaOf builds (l, r).
func CommaOf(l, r Expr) Comma {
	return Comma{BinNode: BinNode{Node: Node{Typ: r.ExprType()}, Left: l, Right: r}}
}

// CallOf builds a call returning t.
func CallOf(callee Expr, t Type, args ...Expr) Call {
	return Call{Node: Node{Typ: t}, Callee: callee, Args: args}
}

// Decl builds the declaration expression of v.
func Decl(v *VarDecl) Declaration {
	return Declaration{Node: Node{Typ: v.Type}, Var: v}
}

// IndexOf builds a[i] yielding the element type.
func IndexOf(a, i Expr) Index {
	t := ElemType(a.ExprType())
	if aa, ok := a.ExprType().(Taarray); ok {
		t = aa.Value
	}
	return Index{Node: Node{Typ: t}, Array: a, Index: i}
}

// SliceOf builds a[lwr .. upr] as a dynamic array.
func SliceOf(a, lwr, upr Expr) Slice {
	return Slice{Node: Node{Typ: DArray(ElemType(a.ExprType()))}, Array: a, Lower: lwr, Upper: upr}
}

// LengthOf builds a.length.
func LengthOf(a Expr) ArrayLength {
	return ArrayLength{Node: Node{Typ: SizeT()}, Array: a}
}

// CastTo converts e to t.
func CastTo(e Expr, t Type) Cast {
	return Cast{Node: Node{Typ: t}, Arg: e}
}

// Addr builds &e.
func Addr(e Expr) AddrOf {
	return AddrOf{Node: Node{Typ: Pointer(e.ExprType())}, Arg: e}
}

// FieldOf builds e.f.
func FieldOf(e Expr, f *Field) FieldRef {
	return FieldRef{Node: Node{Typ: f.Type}, Arg: e, Field: f}
}

// Stmts wraps statements in a compound statement.
func Stmts(stmts ...Stmt) *CompoundStmt {
	return &CompoundStmt{Stmts: stmts}
}

// Do wraps an expression as a statement.
func Do(e Expr) *ExprStmt {
	return &ExprStmt{X: e}
}

// Return builds a return statement.
func Return(e Expr) *ReturnStmt {
	return &ReturnStmt{X: e}
}

// DeclStmt declares v with its initializer as a statement.
func DeclStmt(v *VarDecl, init Expr) *ExprStmt {
	if init != nil {
		v.Init = Construct(v, init)
	}
	return &ExprStmt{X: Decl(v)}
}
