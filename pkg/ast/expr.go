package ast

// Expr is the interface for all typed expression nodes
type Expr interface {
	implExpr()
	ExprType() Type
	Pos() Loc
}

// Node is the shape shared by every expression
type Node struct {
	Typ Type
	Loc Loc
}

// ExprType returns the resolved type of the expression
func (n Node) ExprType() Type { return n.Typ }

// Pos returns the source location
func (n Node) Pos() Loc { return n.Loc }

// BinNode is the shape shared by two-operand expressions
type BinNode struct {
	Node
	Left  Expr
	Right Expr
}

// UnaryOp represents unary operators
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpCom
	OpNot
	OpToBool
)

func (op UnaryOp) String() string {
	return [...]string{"-", "~", "!", "cast(bool)"}[op]
}

// BinOp represents arithmetic, bitwise and shift operators
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpMod
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpUshr
	OpPow
)

func (op BinOp) String() string {
	return [...]string{"+", "-", "*", "/", "%", "&", "|", "^", "<<", ">>", ">>>", "^^"}[op]
}

// CmpOp represents equality, identity and relational operators,
// including the floating-point unordered forms.
type CmpOp int

const (
	OpEq CmpOp = iota
	OpNe
	OpIs
	OpNotIs
	OpLt
	OpLe
	OpGt
	OpGe
	OpUe    // !<>
	OpLg    // <>
	OpUle   // !>
	OpUl    // !>=
	OpUge   // !<
	OpUg    // !<=
	OpLeg   // <>=
	OpUnord // !<>=
)

func (op CmpOp) String() string {
	return [...]string{"==", "!=", "is", "!is", "<", "<=", ">", ">=",
		"!<>", "<>", "!>", "!>=", "!<", "!<=", "<>=", "!<>="}[op]
}

// LogicalOp represents the short-circuit operators
type LogicalOp int

const (
	OpAndAnd LogicalOp = iota
	OpOrOr
)

func (op LogicalOp) String() string {
	if op == OpAndAnd {
		return "&&"
	}
	return "||"
}

// AssignOp distinguishes plain assignment from initialization
type AssignOp int

const (
	AssignPlain AssignOp = iota
	// AssignConstruct initializes fresh storage.
	AssignConstruct
	// AssignBlit copies raw bits without running copy hooks.
	AssignBlit
)

func (op AssignOp) String() string {
	return [...]string{"=", "=construct", "=blit"}[op]
}

// IncDecOp is post-increment or post-decrement
type IncDecOp int

const (
	OpPostInc IncDecOp = iota
	OpPostDec
)

// Expression variants

// IntegerLit is an integral, character or boolean constant
type IntegerLit struct {
	Node
	Value int64
}

// RealLit is a real or imaginary constant
type RealLit struct {
	Node
	Value float64
}

// ComplexLit is a complex constant
type ComplexLit struct {
	Node
	Re, Im float64
}

// StringLit is a string constant; Value holds UTF-8 text that is
// re-encoded to the code unit width of the literal's type.
type StringLit struct {
	Node
	Value string
}

// NullLit is null converted to a reference, array, or delegate type
type NullLit struct {
	Node
}

// VarRef names a variable
type VarRef struct {
	Node
	Var *VarDecl
}

// SymOff is the address of a variable plus a byte offset
type SymOff struct {
	Node
	Var    *VarDecl
	Offset int64
}

// FuncRef names a function
type FuncRef struct {
	Node
	Func *FuncDecl
}

// ThisRef is the hidden object parameter of the current method
type ThisRef struct {
	Node
	Var *VarDecl
}

// Unary is a prefix operator
type Unary struct {
	Node
	Op  UnaryOp
	Arg Expr
}

// Binary is an arithmetic, bitwise, shift or power operator
type Binary struct {
	BinNode
	Op BinOp
}

// Compare is an equality, identity or relational comparison
type Compare struct {
	BinNode
	Op CmpOp
}

// Logical is a short-circuit && or ||
type Logical struct {
	BinNode
	Op LogicalOp
}

// Cond is the ternary operator
type Cond struct {
	Node
	Cond, Then, Else Expr
}

// Comma evaluates Left then yields Right
type Comma struct {
	BinNode
}

// Assign is =, construction or blit
type Assign struct {
	BinNode
	Op AssignOp
}

// OpAssign is a compound assignment such as +=
type OpAssign struct {
	BinNode
	Op BinOp
}

// CatAssign is ~=
type CatAssign struct {
	BinNode
}

// PostIncDec is x++ or x--; Amount is already scaled for pointers
type PostIncDec struct {
	Node
	Op     IncDecOp
	Arg    Expr
	Amount Expr
}

// Cat is the ~ concatenation operator
type Cat struct {
	BinNode
}

// Index is a[i] over arrays, pointers and associative arrays
type Index struct {
	Node
	Array Expr
	Index Expr
	// Modifiable is set when the element is written (aa insertion).
	Modifiable bool
	// InBounds is set when the front end proved the index in range.
	InBounds bool
	// LengthVar is the $ variable bound to the array length, if used.
	LengthVar *VarDecl
}

// Slice is a[lwr .. upr]; both bounds may be absent
type Slice struct {
	Node
	Array     Expr
	Lower     Expr
	Upper     Expr
	LengthVar *VarDecl
	// UpperInBounds and LowerLEUpper record checks proved upstream.
	UpperInBounds bool
	LowerLEUpper  bool
}

// ArrayLength is a.length of a dynamic array
type ArrayLength struct {
	Node
	Array Expr
}

// ArrayLiteral is [e1, e2, ...]
type ArrayLiteral struct {
	Node
	Elems []Expr
	// Immutable is set for constant literals that may live in
	// read-only static data.
	Immutable bool
}

// AssocArrayLiteral is [k1: v1, ...]
type AssocArrayLiteral struct {
	Node
	Keys   []Expr
	Values []Expr
}

// StructLiteral is S(e1, e2, ...); nil elements keep the default
type StructLiteral struct {
	Node
	Struct *StructDecl
	Elems  []Expr
	// FillHoles zero-fills padding before storing fields.
	FillHoles bool
}

// In is key in aa
type In struct {
	BinNode
}

// Remove is aa.remove(key); Left is the aa, Right the key
type Remove struct {
	BinNode
}

// Cast converts Arg to the node type
type Cast struct {
	Node
	Arg Expr
}

// AddrOf is &e
type AddrOf struct {
	Node
	Arg Expr
}

// Deref is *e
type Deref struct {
	Node
	Arg Expr
}

// FieldRef is e.field
type FieldRef struct {
	Node
	Arg   Expr
	Field *Field
}

// MethodRef is e.method, valid as a callee
type MethodRef struct {
	Node
	Arg  Expr
	Func *FuncDecl
	// Direct bypasses virtual dispatch (super calls, final methods).
	Direct bool
}

// Call is a function, method, delegate or function pointer call
type Call struct {
	Node
	Callee Expr
	Args   []Expr
}

// Delegate is &obj.method or &nestedFunc
type Delegate struct {
	Node
	Arg    Expr
	Func   *FuncDecl
	Direct bool
}

// FuncLit is a function or delegate literal
type FuncLit struct {
	Node
	Func *FuncDecl
}

// New allocates a class, struct, array or scalar
type New struct {
	Node
	NewType Type
	// Args are constructor arguments, or dimensions for arrays.
	Args      []Expr
	Ctor      *FuncDecl
	Allocator *FuncDecl
	AllocArgs []Expr
	// This is the explicit outer instance of a nested class.
	This    Expr
	OnStack bool
}

// Delete is delete e
type Delete struct {
	Node
	Arg Expr
}

// Assert is assert(cond, msg)
type Assert struct {
	Node
	Cond Expr
	Msg  Expr
}

// Declaration introduces a local variable
type Declaration struct {
	Node
	Var *VarDecl
}

// Tuple evaluates Pre then each element
type Tuple struct {
	Node
	Pre   Expr
	Elems []Expr
}

// Halt aborts the program
type Halt struct {
	Node
}

// Marker methods for Expr interface
func (IntegerLit) implExpr()        {}
func (RealLit) implExpr()           {}
func (ComplexLit) implExpr()        {}
func (StringLit) implExpr()         {}
func (NullLit) implExpr()           {}
func (VarRef) implExpr()            {}
func (SymOff) implExpr()            {}
func (FuncRef) implExpr()           {}
func (ThisRef) implExpr()           {}
func (Unary) implExpr()             {}
func (Binary) implExpr()            {}
func (Compare) implExpr()           {}
func (Logical) implExpr()           {}
func (Cond) implExpr()              {}
func (Comma) implExpr()             {}
func (Assign) implExpr()            {}
func (OpAssign) implExpr()          {}
func (CatAssign) implExpr()         {}
func (PostIncDec) implExpr()        {}
func (Cat) implExpr()               {}
func (Index) implExpr()             {}
func (Slice) implExpr()             {}
func (ArrayLength) implExpr()       {}
func (ArrayLiteral) implExpr()      {}
func (AssocArrayLiteral) implExpr() {}
func (StructLiteral) implExpr()     {}
func (In) implExpr()                {}
func (Remove) implExpr()            {}
func (Cast) implExpr()              {}
func (AddrOf) implExpr()            {}
func (Deref) implExpr()             {}
func (FieldRef) implExpr()          {}
func (MethodRef) implExpr()         {}
func (Call) implExpr()              {}
func (Delegate) implExpr()          {}
func (FuncLit) implExpr()           {}
func (New) implExpr()               {}
func (Delete) implExpr()            {}
func (Assert) implExpr()            {}
func (Declaration) implExpr()       {}
func (Tuple) implExpr()             {}
func (Halt) implExpr()              {}
