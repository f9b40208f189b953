// Package ir defines the lowered tree handed to the code generator.
// Expressions are typed and their operands evaluate left to right;
// statements are structured, with labels and gotos for everything a
// loop/if/switch cannot express.
package ir

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

// Node is the base interface for all IR nodes
type Node interface {
	implIRNode()
}

// Expr represents IR value expressions
type Expr interface {
	Node
	implIRExpr()
	ExprType() ast.Type
}

// Stmt represents IR statements
type Stmt interface {
	Node
	implIRStmt()
}

// VarKind classifies variable handles
type VarKind int

const (
	VarLocal VarKind = iota
	VarParam
	VarTemp
	VarResult
	// VarContext is the hidden context parameter: the object of a method
	// or the static chain of a nested function.
	VarContext
	VarGlobal
)

func (k VarKind) String() string {
	return [...]string{"local", "param", "temp", "result", "context", "global"}[k]
}

// Var is the handle of a variable or temporary
type Var struct {
	Name string
	Type ast.Type
	Kind VarKind
	ID   int
	// Init is the static initializer of a global.
	Init     Expr
	Readonly bool
}

// Label is a jump target
type Label struct {
	Name string
	ID   int
	// Used is set once a jump to the label has been emitted.
	Used bool
}

// Func is the handle of a function and, once lowered, its body
type Func struct {
	Name string
	Type *ast.Tfunction
	// Ctx is the hidden first parameter (object or static chain).
	Ctx    *Var
	Params []*Var
	// Result is the return slot, nil for void functions.
	Result *Var
	// Locals lists every local and temporary registered for the body.
	Locals []*Var
	Body   Stmt
	// Intrinsic is the tag copied from the declaration; it is cleared
	// when the target cannot expand the call inline.
	Intrinsic ast.Intrinsic
	Extern    bool
	Nested    bool
}

// SymKind classifies read-only data symbols
type SymKind int

const (
	SymData SymKind = iota
	SymString
	SymTypeInfo
	SymClassInfo
	SymVtable
	SymInitializer
)

func (k SymKind) String() string {
	return [...]string{"data", "string", "typeinfo", "classinfo", "vtbl", "init"}[k]
}

// Symbol is a statically allocated object
type Symbol struct {
	Name string
	Kind SymKind
	// Type is the type of the symbol's storage.
	Type ast.Type
	// Data is the raw contents of string symbols.
	Data []byte
	// Init is a constant initializer expression for data symbols.
	Init Expr
	// Describes is the type a typeinfo symbol describes.
	Describes ast.Type
	// Class is set for classinfo, vtable and initializer symbols.
	Class *ast.ClassDecl
	// Vtbl holds the method handles of a vtable symbol, slot 1 onwards.
	Vtbl []*Func
}

// Program is a lowered compilation unit
type Program struct {
	Name    string
	Globals []*Var
	Symbols []*Symbol
	Funcs   []*Func
}

// FindFunc returns the function with the given name, or nil.
func (p *Program) FindFunc(name string) *Func {
	for _, fn := range p.Funcs {
		if fn.Name == name {
			return fn
		}
	}
	return nil
}

// Constant is the interface for constant literals
type Constant interface {
	implConstant()
}

// Ointconst is an integer, boolean, character or null pointer constant
type Ointconst struct {
	Value int64
}

// Ofloatconst is a floating-point constant
type Ofloatconst struct {
	Value float64
}

func (Ointconst) implConstant()   {}
func (Ofloatconst) implConstant() {}

// UnaryOp represents unary operators
type UnaryOp int

const (
	Oneg     UnaryOp = iota // arithmetic negation
	Onot                    // bitwise complement
	Onotbool                // logical not
)

func (op UnaryOp) String() string {
	return [...]string{"-", "~", "!"}[op]
}

// BinaryOp represents binary operators
type BinaryOp int

const (
	Oadd BinaryOp = iota
	// Osub is also the pointer difference in bytes.
	Osub
	Omul
	Odiv  // truncating integer division
	Ordiv // floating division
	Omod  // truncating integer remainder
	Ofmod // floating remainder
	Oand
	Oor
	Oxor
	Oshl
	Oshr  // arithmetic shift
	Oshru // logical shift
)

func (op BinaryOp) String() string {
	return [...]string{"+", "-", "*", "/", "/f", "%", "%f", "&", "|", "^", "<<", ">>", ">>>"}[op]
}

// Comparison represents comparison operators. The Cun* forms are true
// when either operand is NaN.
type Comparison int

const (
	Ceq Comparison = iota
	Cne
	Clt
	Cle
	Cgt
	Cge
	Cuneq
	Cltgt
	Cunlt
	Cunle
	Cungt
	Cunge
	Cordered
	Cunordered
)

func (c Comparison) String() string {
	return [...]string{"==", "!=", "<", "<=", ">", ">=", "uneq", "ltgt",
		"unlt", "unle", "ungt", "unge", "ordered", "unordered"}[c]
}

// LogicalOp is a short-circuit boolean operator
type LogicalOp int

const (
	Oandif LogicalOp = iota
	Oorif
)

func (op LogicalOp) String() string {
	if op == Oandif {
		return "&&"
	}
	return "||"
}

// Builtin names a primitive operation the backend expands inline
type Builtin int

const (
	Bmemcmp Builtin = iota
	Bmemcpy
	Bmemset
	Bpow
	Bpowf
	Bpowl
	Bctz
	Bctzll
	Bclz
	Bclzll
	Bbswap32
	Bbswap64
	Bsqrtf
	Bsqrt
	Bsqrtl
	Bcosl
	Bsinl
	Bfabsl
	Brintl
	Bllroundl
	Bldexpl
	BvaArg
	BvaStart
	BehPointer
	Babort
)

var builtinNames = []string{
	"memcmp", "memcpy", "memset", "pow", "powf", "powl", "ctz", "ctzll",
	"clz", "clzll", "bswap32", "bswap64", "sqrtf", "sqrt", "sqrtl", "cosl",
	"sinl", "fabsl", "rintl", "llroundl", "ldexpl", "va_arg", "va_start",
	"eh_pointer", "abort",
}

func (b Builtin) String() string {
	if int(b) < len(builtinNames) {
		return builtinNames[b]
	}
	return "?"
}

// Expression nodes

// Econst is a constant of scalar type
type Econst struct {
	Const Constant
	Type  ast.Type
}

// Evar reads (or, as an lvalue, names) a variable
type Evar struct {
	Var *Var
}

// Esymbol names the storage of a static symbol
type Esymbol struct {
	Sym *Symbol
}

// Efunc is the code address of a function
type Efunc struct {
	Func *Func
}

// Eaddrof takes the address of an lvalue; rvalues are materialized in a
// temporary first.
type Eaddrof struct {
	Arg  Expr
	Type ast.Type
}

// Ederef reads (or names) the object a pointer points at
type Ederef struct {
	Ptr      Expr
	Type     ast.Type
	Volatile bool
}

// Efield selects a component at a byte offset of an aggregate
type Efield struct {
	Arg    Expr
	Name   string
	Offset int64
	Type   ast.Type
}

// Eoffset adds a byte offset to a pointer
type Eoffset struct {
	Ptr    Expr
	Offset Expr
	Type   ast.Type
}

// Eindex adds Index elements to a pointer, scaled by the element size
type Eindex struct {
	Ptr   Expr
	Index Expr
	Type  ast.Type
}

// Eunop applies a unary operator
type Eunop struct {
	Op   UnaryOp
	Arg  Expr
	Type ast.Type
}

// Ebinop applies a binary operator
type Ebinop struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	Type  ast.Type
}

// Ecmp compares two scalars, yielding bool
type Ecmp struct {
	Op    Comparison
	Left  Expr
	Right Expr
}

// Elogical is a short-circuit boolean operator
type Elogical struct {
	Op    LogicalOp
	Left  Expr
	Right Expr
}

// Econvert converts a scalar value to another scalar type
type Econvert struct {
	Arg  Expr
	Type ast.Type
}

// Eview reinterprets the bits of a value as another type of equal size
type Eview struct {
	Arg  Expr
	Type ast.Type
}

// Ecomplex builds a complex value from its parts
type Ecomplex struct {
	Re   Expr
	Im   Expr
	Type ast.Type
}

// Eseq evaluates First for its effects, then yields Second
type Eseq struct {
	First  Expr
	Second Expr
}

// Econd evaluates Then or Else depending on Cond
type Econd struct {
	Cond Expr
	Then Expr
	Else Expr
	Type ast.Type
}

// Eassign stores RHS into LHS and yields LHS. Init marks the first
// store into fresh storage.
type Eassign struct {
	LHS  Expr
	RHS  Expr
	Init bool
}

// Ecall calls a code pointer; Ctx is the hidden context argument
type Ecall struct {
	Func Expr
	Ctx  Expr
	Args []Expr
	Type ast.Type
}

// Elibcall calls a runtime support entry point
type Elibcall struct {
	Call libcall.ID
	Args []Expr
	Type ast.Type
}

// Ebuiltin is a primitive the backend expands inline
type Ebuiltin struct {
	Builtin Builtin
	Args    []Expr
	Type    ast.Type
}

// CtorElem is one initialized component of an aggregate constructor
type CtorElem struct {
	Index  int
	Offset int64
	Value  Expr
}

// Ector builds an aggregate; components not listed are zero
type Ector struct {
	Type  ast.Type
	Elems []CtorElem
}

// Ebind scopes temporaries around an expression
type Ebind struct {
	Vars []*Var
	Body Expr
}

// Eblock runs statements and then yields Result (nil for void)
type Eblock struct {
	Body   Stmt
	Result Expr
}

// Ecleanup yields Body and runs Cleanup on every exit from it, normal or
// exceptional.
type Ecleanup struct {
	Body    Expr
	Cleanup Expr
}

// Eerror marks an expression that failed to lower
type Eerror struct {
	Type ast.Type
}

// Statement nodes

// Sskip does nothing
type Sskip struct{}

// Sexpr evaluates an expression for its effects
type Sexpr struct {
	Expr Expr
}

// Sseq runs First then Second
type Sseq struct {
	First  Stmt
	Second Stmt
}

// Sbind scopes local variables around a statement
type Sbind struct {
	Vars []*Var
	Body Stmt
}

// Sif is a two-way conditional
type Sif struct {
	Cond Expr
	Then Stmt
	Else Stmt
}

// Sloop repeats Body until an Sexitif fires or control jumps out
type Sloop struct {
	Body Stmt
}

// Sexitif leaves the innermost loop when Cond is true
type Sexitif struct {
	Cond Expr
}

// Slabel defines a jump target
type Slabel struct {
	Label *Label
}

// Sgoto jumps to a label in the same function
type Sgoto struct {
	Label *Label
}

// Sswitch jumps to the Scase inside Body whose value matches Cond
type Sswitch struct {
	Cond Expr
	Body Stmt
}

// Scase is a switch target; a nil Value marks the default
type Scase struct {
	Value Expr
	Label *Label
}

// Handler is one catch clause; Type is the class caught
type Handler struct {
	Type ast.Type
	Body Stmt
}

// Stry runs Body and dispatches exceptions to the first matching handler
type Stry struct {
	Body     Stmt
	Handlers []Handler
}

// Sfinally runs Finally on every exit from Body
type Sfinally struct {
	Body    Stmt
	Finally Stmt
}

// Sreturn leaves the function; Value stores the result (may be nil)
type Sreturn struct {
	Value Expr
}

// AsmOperand is one operand of an inline assembler statement
type AsmOperand struct {
	Name       string
	Constraint string
	Value      Expr
}

// Sasm is extended inline assembler
type Sasm struct {
	Template string
	Outputs  []AsmOperand
	Inputs   []AsmOperand
	Clobbers []string
	Labels   []*Label
	Volatile bool
	// Basic is set when there are no operands or clobbers.
	Basic bool
}

// Marker methods for Node interface
func (Econst) implIRNode()   {}
func (Evar) implIRNode()     {}
func (Esymbol) implIRNode()  {}
func (Efunc) implIRNode()    {}
func (Eaddrof) implIRNode()  {}
func (Ederef) implIRNode()   {}
func (Efield) implIRNode()   {}
func (Eoffset) implIRNode()  {}
func (Eindex) implIRNode()   {}
func (Eunop) implIRNode()    {}
func (Ebinop) implIRNode()   {}
func (Ecmp) implIRNode()     {}
func (Elogical) implIRNode() {}
func (Econvert) implIRNode() {}
func (Eview) implIRNode()    {}
func (Ecomplex) implIRNode() {}
func (Eseq) implIRNode()     {}
func (Econd) implIRNode()    {}
func (Eassign) implIRNode()  {}
func (Ecall) implIRNode()    {}
func (Elibcall) implIRNode() {}
func (Ebuiltin) implIRNode() {}
func (Ector) implIRNode()    {}
func (Ebind) implIRNode()    {}
func (Eblock) implIRNode()   {}
func (Ecleanup) implIRNode() {}
func (Eerror) implIRNode()   {}
func (Sskip) implIRNode()    {}
func (Sexpr) implIRNode()    {}
func (Sseq) implIRNode()     {}
func (Sbind) implIRNode()    {}
func (Sif) implIRNode()      {}
func (Sloop) implIRNode()    {}
func (Sexitif) implIRNode()  {}
func (Slabel) implIRNode()   {}
func (Sgoto) implIRNode()    {}
func (Sswitch) implIRNode()  {}
func (Scase) implIRNode()    {}
func (Stry) implIRNode()     {}
func (Sfinally) implIRNode() {}
func (Sreturn) implIRNode()  {}
func (Sasm) implIRNode()     {}

// Marker methods for Expr interface
func (Econst) implIRExpr()   {}
func (Evar) implIRExpr()     {}
func (Esymbol) implIRExpr()  {}
func (Efunc) implIRExpr()    {}
func (Eaddrof) implIRExpr()  {}
func (Ederef) implIRExpr()   {}
func (Efield) implIRExpr()   {}
func (Eoffset) implIRExpr()  {}
func (Eindex) implIRExpr()   {}
func (Eunop) implIRExpr()    {}
func (Ebinop) implIRExpr()   {}
func (Ecmp) implIRExpr()     {}
func (Elogical) implIRExpr() {}
func (Econvert) implIRExpr() {}
func (Eview) implIRExpr()    {}
func (Ecomplex) implIRExpr() {}
func (Eseq) implIRExpr()     {}
func (Econd) implIRExpr()    {}
func (Eassign) implIRExpr()  {}
func (Ecall) implIRExpr()    {}
func (Elibcall) implIRExpr() {}
func (Ebuiltin) implIRExpr() {}
func (Ector) implIRExpr()    {}
func (Ebind) implIRExpr()    {}
func (Eblock) implIRExpr()   {}
func (Ecleanup) implIRExpr() {}
func (Eerror) implIRExpr()   {}

// Marker methods for Stmt interface
func (Sskip) implIRStmt()    {}
func (Sexpr) implIRStmt()    {}
func (Sseq) implIRStmt()     {}
func (Sbind) implIRStmt()    {}
func (Sif) implIRStmt()      {}
func (Sloop) implIRStmt()    {}
func (Sexitif) implIRStmt()  {}
func (Slabel) implIRStmt()   {}
func (Sgoto) implIRStmt()    {}
func (Sswitch) implIRStmt()  {}
func (Scase) implIRStmt()    {}
func (Stry) implIRStmt()     {}
func (Sfinally) implIRStmt() {}
func (Sreturn) implIRStmt()  {}
func (Sasm) implIRStmt()     {}

// ExprType methods

func (e Econst) ExprType() ast.Type   { return e.Type }
func (e Evar) ExprType() ast.Type     { return e.Var.Type }
func (e Esymbol) ExprType() ast.Type  { return e.Sym.Type }
func (e Efunc) ExprType() ast.Type    { return ast.Pointer(*e.Func.Type) }
func (e Eaddrof) ExprType() ast.Type  { return e.Type }
func (e Ederef) ExprType() ast.Type   { return e.Type }
func (e Efield) ExprType() ast.Type   { return e.Type }
func (e Eoffset) ExprType() ast.Type  { return e.Type }
func (e Eindex) ExprType() ast.Type   { return e.Type }
func (e Eunop) ExprType() ast.Type    { return e.Type }
func (e Ebinop) ExprType() ast.Type   { return e.Type }
func (Ecmp) ExprType() ast.Type       { return ast.Bool() }
func (Elogical) ExprType() ast.Type   { return ast.Bool() }
func (e Econvert) ExprType() ast.Type { return e.Type }
func (e Eview) ExprType() ast.Type    { return e.Type }
func (e Ecomplex) ExprType() ast.Type { return e.Type }
func (e Eseq) ExprType() ast.Type     { return e.Second.ExprType() }
func (e Econd) ExprType() ast.Type    { return e.Type }
func (e Eassign) ExprType() ast.Type  { return e.LHS.ExprType() }
func (e Ecall) ExprType() ast.Type    { return e.Type }
func (e Elibcall) ExprType() ast.Type { return e.Type }
func (e Ebuiltin) ExprType() ast.Type { return e.Type }
func (e Ector) ExprType() ast.Type    { return e.Type }
func (e Ebind) ExprType() ast.Type    { return e.Body.ExprType() }
func (e Ecleanup) ExprType() ast.Type { return e.Body.ExprType() }
func (e Eerror) ExprType() ast.Type   { return e.Type }

func (e Eblock) ExprType() ast.Type {
	if e.Result == nil {
		return ast.Void()
	}
	return e.Result.ExprType()
}
