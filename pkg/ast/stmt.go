package ast

// Stmt is the interface for statement nodes. Statements are pointers:
// their identity keys labels and break/continue targets.
type Stmt interface {
	implStmt()
	Pos() Loc
}

// StmtNode carries the location shared by every statement
type StmtNode struct {
	Loc Loc
}

// Pos returns the source location
func (n StmtNode) Pos() Loc { return n.Loc }

// CompoundStmt is a sequence of statements without a new scope
type CompoundStmt struct {
	StmtNode
	Stmts []Stmt
}

// ScopeStmt introduces a lexical scope
type ScopeStmt struct {
	StmtNode
	Body Stmt
}

// ExprStmt evaluates an expression for its side effects
type ExprStmt struct {
	StmtNode
	X Expr
}

// IfStmt is if (Cond) Then else Else
type IfStmt struct {
	StmtNode
	Cond Expr
	Then Stmt
	Else Stmt
}

// ForStmt is the canonical loop every loop form is lowered to
type ForStmt struct {
	StmtNode
	Init Stmt
	Cond Expr
	Incr Expr
	Body Stmt
}

// DoStmt is do Body while (Cond)
type DoStmt struct {
	StmtNode
	Body Stmt
	Cond Expr
}

// WhileStmt must be rewritten to ForStmt before lowering
type WhileStmt struct {
	StmtNode
	Cond Expr
	Body Stmt
}

// ForeachStmt must be rewritten to ForStmt before lowering
type ForeachStmt struct {
	StmtNode
	Body Stmt
}

// SynchronizedStmt must be rewritten to try/finally before lowering
type SynchronizedStmt struct {
	StmtNode
	Body Stmt
}

// SwitchStmt dispatches on Cond to the case statements inside Body
type SwitchStmt struct {
	StmtNode
	Cond    Expr
	Body    Stmt
	Cases   []*CaseStmt
	Default *DefaultStmt
	// HasVars is set when a case value is not a compile-time constant.
	HasVars bool
	IsFinal bool
}

// CaseStmt is case Exp: Body
type CaseStmt struct {
	StmtNode
	Exp  Expr
	Body Stmt
}

// DefaultStmt is default: Body
type DefaultStmt struct {
	StmtNode
	Body Stmt
}

// GotoCaseStmt jumps to a case of the enclosing switch
type GotoCaseStmt struct {
	StmtNode
	Case *CaseStmt
}

// GotoDefaultStmt jumps to the default of a switch
type GotoDefaultStmt struct {
	StmtNode
	Switch *SwitchStmt
}

// SwitchErrorStmt is reached when a final switch matches no case
type SwitchErrorStmt struct {
	StmtNode
}

// BreakStmt leaves the innermost loop or switch, or the labeled one
type BreakStmt struct {
	StmtNode
	Label *LabelStmt
}

// ContinueStmt restarts the innermost loop, or the labeled one
type ContinueStmt struct {
	StmtNode
	Label *LabelStmt
}

// GotoStmt jumps to a label in the same function
type GotoStmt struct {
	StmtNode
	Label *LabelStmt
}

// LabelStmt is Ident: Body
type LabelStmt struct {
	StmtNode
	Ident string
	Body  Stmt
}

// ReturnStmt returns X (nil for void)
type ReturnStmt struct {
	StmtNode
	X Expr
}

// Catch is one catch clause
type Catch struct {
	Loc     Loc
	Type    Type
	Var     *VarDecl
	Handler Stmt
}

// TryCatchStmt runs Body and dispatches exceptions to Catches in order
type TryCatchStmt struct {
	StmtNode
	Body    Stmt
	Catches []*Catch
}

// TryFinallyStmt runs Finally on every exit from Body
type TryFinallyStmt struct {
	StmtNode
	Body    Stmt
	Finally Stmt
}

// ThrowStmt throws an exception object
type ThrowStmt struct {
	StmtNode
	X Expr
}

// WithStmt evaluates X into This and runs Body with it in scope
type WithStmt struct {
	StmtNode
	This *VarDecl
	X    Expr
	Body Stmt
}

// UnrolledLoopStmt is a foreach over a tuple expanded at compile time
type UnrolledLoopStmt struct {
	StmtNode
	Stmts []Stmt
}

// AsmStmt is raw inline assembler, which is not supported
type AsmStmt struct {
	StmtNode
	Text string
}

// AsmOperand is one operand of an extended asm statement
type AsmOperand struct {
	Name       string
	Constraint string
	X          Expr
}

// ExtAsmStmt is GNU-style extended inline assembler
type ExtAsmStmt struct {
	StmtNode
	Insn     string
	Outputs  []AsmOperand
	Inputs   []AsmOperand
	Clobbers []string
	Labels   []*LabelStmt
}

// OnScopeStmt has already been rewritten to try/finally upstream
type OnScopeStmt struct {
	StmtNode
}

// PragmaStmt carries no code
type PragmaStmt struct {
	StmtNode
}

// ImportStmt carries no code
type ImportStmt struct {
	StmtNode
}

// Marker methods for Stmt interface
func (*CompoundStmt) implStmt()     {}
func (*ScopeStmt) implStmt()        {}
func (*ExprStmt) implStmt()         {}
func (*IfStmt) implStmt()           {}
func (*ForStmt) implStmt()          {}
func (*DoStmt) implStmt()           {}
func (*WhileStmt) implStmt()        {}
func (*ForeachStmt) implStmt()      {}
func (*SynchronizedStmt) implStmt() {}
func (*SwitchStmt) implStmt()       {}
func (*CaseStmt) implStmt()         {}
func (*DefaultStmt) implStmt()      {}
func (*GotoCaseStmt) implStmt()     {}
func (*GotoDefaultStmt) implStmt()  {}
func (*SwitchErrorStmt) implStmt()  {}
func (*BreakStmt) implStmt()        {}
func (*ContinueStmt) implStmt()     {}
func (*GotoStmt) implStmt()         {}
func (*LabelStmt) implStmt()        {}
func (*ReturnStmt) implStmt()       {}
func (*TryCatchStmt) implStmt()     {}
func (*TryFinallyStmt) implStmt()   {}
func (*ThrowStmt) implStmt()        {}
func (*WithStmt) implStmt()         {}
func (*UnrolledLoopStmt) implStmt() {}
func (*AsmStmt) implStmt()          {}
func (*ExtAsmStmt) implStmt()       {}
func (*OnScopeStmt) implStmt()      {}
func (*PragmaStmt) implStmt()       {}
func (*ImportStmt) implStmt()       {}

// RelatedLabeled returns the loop or switch a labeled break or continue
// refers to, looking through scope and label wrappers.
func RelatedLabeled(s Stmt) Stmt {
	for {
		switch st := s.(type) {
		case *ScopeStmt:
			if st.Body == nil {
				return s
			}
			s = st.Body
		case *LabelStmt:
			if st.Body == nil {
				return s
			}
			s = st.Body
		default:
			return s
		}
	}
}
