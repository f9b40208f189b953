package ir

import "github.com/raymyers/ralph-dc/pkg/ast"

// Seq chains statements, dropping Sskip and nil entries.
func Seq(stmts ...Stmt) Stmt {
	var out Stmt
	for i := len(stmts) - 1; i >= 0; i-- {
		s := stmts[i]
		if s == nil {
			continue
		}
		if _, ok := s.(Sskip); ok {
			continue
		}
		if out == nil {
			out = s
		} else {
			out = Sseq{First: s, Second: out}
		}
	}
	if out == nil {
		return Sskip{}
	}
	return out
}

// SeqExpr evaluates first for its effects then yields second; a nil
// first is dropped.
func SeqExpr(first, second Expr) Expr {
	if first == nil {
		return second
	}
	if second == nil {
		return first
	}
	return Eseq{First: first, Second: second}
}

// Compound chains several effect expressions before a result.
func Compound(result Expr, effects ...Expr) Expr {
	for i := len(effects) - 1; i >= 0; i-- {
		result = SeqExpr(effects[i], result)
	}
	return result
}

// IntConst is an integer constant of type t.
func IntConst(v int64, t ast.Type) Econst {
	return Econst{Const: Ointconst{Value: v}, Type: t}
}

// SizeConst is a size_t constant.
func SizeConst(v int64) Econst {
	return IntConst(v, ast.SizeT())
}

// BoolConst is true or false.
func BoolConst(b bool) Econst {
	if b {
		return IntConst(1, ast.Bool())
	}
	return IntConst(0, ast.Bool())
}

// FloatConst is a floating constant of type t.
func FloatConst(v float64, t ast.Type) Econst {
	return Econst{Const: Ofloatconst{Value: v}, Type: t}
}

// NullConst is a null pointer of type t.
func NullConst(t ast.Type) Econst {
	return IntConst(0, t)
}

// Ref reads a variable.
func (v *Var) Ref() Evar {
	return Evar{Var: v}
}

// Assign stores rhs into lhs.
func Assign(lhs, rhs Expr) Eassign {
	return Eassign{LHS: lhs, RHS: rhs}
}

// Init stores the first value into fresh storage.
func Init(lhs, rhs Expr) Eassign {
	return Eassign{LHS: lhs, RHS: rhs, Init: true}
}

// Deref reads the object of type t that ptr points at.
func Deref(ptr Expr, t ast.Type) Ederef {
	return Ederef{Ptr: ptr, Type: t}
}

// AddrOf takes the address of an lvalue.
func AddrOf(e Expr) Eaddrof {
	return Eaddrof{Arg: e, Type: ast.Pointer(e.ExprType())}
}

// Convert converts e to t, or returns e unchanged when already of type t.
func Convert(e Expr, t ast.Type) Expr {
	if ast.Equal(e.ExprType(), t) {
		return e
	}
	return Econvert{Arg: e, Type: t}
}

// Binop applies op at type t.
func Binop(op BinaryOp, l, r Expr, t ast.Type) Ebinop {
	return Ebinop{Op: op, Left: l, Right: r, Type: t}
}

// Cmp compares two values.
func Cmp(op Comparison, l, r Expr) Ecmp {
	return Ecmp{Op: op, Left: l, Right: r}
}

// Field selects a component of an aggregate value.
func Field(arg Expr, name string, offset int64, t ast.Type) Efield {
	return Efield{Arg: arg, Name: name, Offset: offset, Type: t}
}

// Offset adds a byte offset to a pointer, yielding a pointer of type t.
func Offset(ptr Expr, off int64, t ast.Type) Expr {
	if off == 0 && ast.Equal(ptr.ExprType(), t) {
		return ptr
	}
	return Eoffset{Ptr: ptr, Offset: SizeConst(off), Type: t}
}

// IsPure reports expressions that can be evaluated more than once
// without observable effects or cost.
func IsPure(e Expr) bool {
	switch x := e.(type) {
	case Econst, Evar, Esymbol, Efunc:
		return true
	case Eaddrof:
		return IsPure(x.Arg)
	case Efield:
		return IsPure(x.Arg)
	case Eoffset:
		return IsPure(x.Ptr) && IsPure(x.Offset)
	case Econvert:
		return IsPure(x.Arg)
	}
	return false
}
