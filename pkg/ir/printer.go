package ir

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Printer outputs the lowered tree in a human-readable format
type Printer struct {
	w      io.Writer
	indent int
}

// NewPrinter creates a new IR printer
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, indent: 0}
}

// PrintProgram prints a complete lowered program
func (p *Printer) PrintProgram(prog *Program) {
	for _, sym := range prog.Symbols {
		p.printSymbol(sym)
	}
	for _, g := range prog.Globals {
		fmt.Fprintf(p.w, "var %s : %s", g.Name, g.Type)
		if g.Init != nil {
			fmt.Fprint(p.w, " = ")
			p.printExpr(g.Init)
		}
		fmt.Fprintln(p.w, ";")
	}
	if len(prog.Symbols) > 0 || len(prog.Globals) > 0 {
		fmt.Fprintln(p.w)
	}

	for _, fn := range prog.Funcs {
		if fn.Body == nil {
			continue
		}
		p.PrintFunc(fn)
		fmt.Fprintln(p.w)
	}
}

func (p *Printer) printSymbol(sym *Symbol) {
	fmt.Fprintf(p.w, "%s %s : %s", sym.Kind, sym.Name, sym.Type)
	switch {
	case sym.Data != nil:
		fmt.Fprintf(p.w, " = %s", strconv.Quote(string(sym.Data)))
	case sym.Init != nil:
		fmt.Fprint(p.w, " = ")
		p.printExpr(sym.Init)
	case sym.Kind == SymVtable:
		names := make([]string, len(sym.Vtbl))
		for i, fn := range sym.Vtbl {
			names[i] = fn.Name
		}
		fmt.Fprintf(p.w, " = [%s]", strings.Join(names, ", "))
	}
	fmt.Fprintln(p.w, ";")
}

// PrintFunc prints one function definition
func (p *Printer) PrintFunc(fn *Func) {
	ret := "void"
	if fn.Type != nil && fn.Type.Return != nil {
		ret = fn.Type.Return.String()
	}
	fmt.Fprintf(p.w, "%s %s(", ret, fn.Name)
	params := fn.Params
	if fn.Ctx != nil {
		params = append([]*Var{fn.Ctx}, params...)
	}
	for i, param := range params {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		fmt.Fprintf(p.w, "%s %s", param.Type, param.Name)
	}
	fmt.Fprintln(p.w, ")")
	fmt.Fprintln(p.w, "{")
	p.indent++

	for _, local := range fn.Locals {
		p.writeIndent()
		fmt.Fprintf(p.w, "%s %s %s;\n", local.Kind, local.Type, local.Name)
	}
	if len(fn.Locals) > 0 {
		fmt.Fprintln(p.w)
	}

	p.printStmt(fn.Body)

	p.indent--
	fmt.Fprintln(p.w, "}")
}

func (p *Printer) writeIndent() {
	fmt.Fprint(p.w, strings.Repeat("  ", p.indent))
}

func (p *Printer) block(head string, body Stmt) {
	p.writeIndent()
	fmt.Fprintln(p.w, head+" {")
	p.indent++
	p.printStmt(body)
	p.indent--
	p.writeIndent()
	fmt.Fprintln(p.w, "}")
}

// printStmt prints a statement
func (p *Printer) printStmt(stmt Stmt) {
	switch s := stmt.(type) {
	case nil, Sskip:
		// Skip produces no output

	case Sexpr:
		p.writeIndent()
		p.printExpr(s.Expr)
		fmt.Fprintln(p.w, ";")

	case Sseq:
		p.printStmt(s.First)
		p.printStmt(s.Second)

	case Sbind:
		p.block("bind ("+varNames(s.Vars)+")", s.Body)

	case Sif:
		p.writeIndent()
		fmt.Fprint(p.w, "if (")
		p.printExpr(s.Cond)
		fmt.Fprintln(p.w, ") {")
		p.indent++
		p.printStmt(s.Then)
		p.indent--
		if _, empty := s.Else.(Sskip); !empty && s.Else != nil {
			p.writeIndent()
			fmt.Fprintln(p.w, "} else {")
			p.indent++
			p.printStmt(s.Else)
			p.indent--
		}
		p.writeIndent()
		fmt.Fprintln(p.w, "}")

	case Sloop:
		p.block("loop", s.Body)

	case Sexitif:
		p.writeIndent()
		fmt.Fprint(p.w, "exit if (")
		p.printExpr(s.Cond)
		fmt.Fprintln(p.w, ");")

	case Slabel:
		// Labels are not indented
		fmt.Fprintf(p.w, "%s:\n", s.Label.Name)

	case Sgoto:
		p.writeIndent()
		fmt.Fprintf(p.w, "goto %s;\n", s.Label.Name)

	case Sswitch:
		p.writeIndent()
		fmt.Fprint(p.w, "switch (")
		p.printExpr(s.Cond)
		fmt.Fprintln(p.w, ") {")
		p.indent++
		p.printStmt(s.Body)
		p.indent--
		p.writeIndent()
		fmt.Fprintln(p.w, "}")

	case Scase:
		p.writeIndent()
		if s.Value == nil {
			fmt.Fprint(p.w, "default")
		} else {
			fmt.Fprint(p.w, "case ")
			p.printExpr(s.Value)
		}
		fmt.Fprintf(p.w, ": %s\n", s.Label.Name)

	case Stry:
		p.block("try", s.Body)
		for _, h := range s.Handlers {
			p.block(fmt.Sprintf("catch (%s)", h.Type), h.Body)
		}

	case Sfinally:
		p.block("try", s.Body)
		p.block("finally", s.Finally)

	case Sreturn:
		p.writeIndent()
		fmt.Fprint(p.w, "return")
		if s.Value != nil {
			fmt.Fprint(p.w, " ")
			p.printExpr(s.Value)
		}
		fmt.Fprintln(p.w, ";")

	case Sasm:
		p.writeIndent()
		fmt.Fprintf(p.w, "asm %s", strconv.Quote(s.Template))
		if !s.Basic {
			p.printAsmOperands(s.Outputs)
			p.printAsmOperands(s.Inputs)
			fmt.Fprintf(p.w, " : %s", strings.Join(s.Clobbers, ", "))
		}
		fmt.Fprintln(p.w, ";")

	default:
		p.writeIndent()
		fmt.Fprintf(p.w, "/* unknown stmt %T */\n", stmt)
	}
}

func (p *Printer) printAsmOperands(ops []AsmOperand) {
	fmt.Fprint(p.w, " :")
	for i, op := range ops {
		if i > 0 {
			fmt.Fprint(p.w, ",")
		}
		fmt.Fprintf(p.w, " %q(", op.Constraint)
		p.printExpr(op.Value)
		fmt.Fprint(p.w, ")")
	}
}

func varNames(vars []*Var) string {
	names := make([]string, len(vars))
	for i, v := range vars {
		names[i] = v.Name
	}
	return strings.Join(names, ", ")
}

func (p *Printer) printArgs(args []Expr) {
	fmt.Fprint(p.w, "(")
	for i, arg := range args {
		if i > 0 {
			fmt.Fprint(p.w, ", ")
		}
		p.printExpr(arg)
	}
	fmt.Fprint(p.w, ")")
}

// printExpr prints an expression
func (p *Printer) printExpr(expr Expr) {
	switch e := expr.(type) {
	case Econst:
		p.printConst(e.Const)

	case Evar:
		fmt.Fprint(p.w, e.Var.Name)

	case Esymbol:
		fmt.Fprint(p.w, e.Sym.Name)

	case Efunc:
		fmt.Fprintf(p.w, "&%s", e.Func.Name)

	case Eaddrof:
		fmt.Fprint(p.w, "&")
		p.printExpr(e.Arg)

	case Ederef:
		if e.Volatile {
			fmt.Fprint(p.w, "volatile ")
		}
		fmt.Fprintf(p.w, "%s[", e.Type)
		p.printExpr(e.Ptr)
		fmt.Fprint(p.w, "]")

	case Efield:
		p.printExpr(e.Arg)
		fmt.Fprintf(p.w, ".%s", e.Name)

	case Eoffset:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Ptr)
		fmt.Fprint(p.w, " +b ")
		p.printExpr(e.Offset)
		fmt.Fprint(p.w, ")")

	case Eindex:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Ptr)
		fmt.Fprint(p.w, " +e ")
		p.printExpr(e.Index)
		fmt.Fprint(p.w, ")")

	case Eunop:
		fmt.Fprint(p.w, e.Op)
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Arg)
		fmt.Fprint(p.w, ")")

	case Ebinop:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Left)
		fmt.Fprintf(p.w, " %s ", e.Op)
		p.printExpr(e.Right)
		fmt.Fprint(p.w, ")")

	case Ecmp:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Left)
		fmt.Fprintf(p.w, " %s ", e.Op)
		p.printExpr(e.Right)
		fmt.Fprint(p.w, ")")

	case Elogical:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Left)
		fmt.Fprintf(p.w, " %s ", e.Op)
		p.printExpr(e.Right)
		fmt.Fprint(p.w, ")")

	case Econvert:
		fmt.Fprintf(p.w, "(%s)", e.Type)
		p.printExpr(e.Arg)

	case Eview:
		fmt.Fprintf(p.w, "view<%s>(", e.Type)
		p.printExpr(e.Arg)
		fmt.Fprint(p.w, ")")

	case Ecomplex:
		fmt.Fprintf(p.w, "%s", e.Type)
		p.printArgs([]Expr{e.Re, e.Im})

	case Eseq:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.First)
		fmt.Fprint(p.w, ", ")
		p.printExpr(e.Second)
		fmt.Fprint(p.w, ")")

	case Econd:
		fmt.Fprint(p.w, "(")
		p.printExpr(e.Cond)
		fmt.Fprint(p.w, " ? ")
		p.printExpr(e.Then)
		fmt.Fprint(p.w, " : ")
		p.printExpr(e.Else)
		fmt.Fprint(p.w, ")")

	case Eassign:
		op := "="
		if e.Init {
			op = ":="
		}
		fmt.Fprint(p.w, "(")
		p.printExpr(e.LHS)
		fmt.Fprintf(p.w, " %s ", op)
		p.printExpr(e.RHS)
		fmt.Fprint(p.w, ")")

	case Ecall:
		p.printExpr(e.Func)
		if e.Ctx != nil {
			fmt.Fprint(p.w, "[")
			p.printExpr(e.Ctx)
			fmt.Fprint(p.w, "]")
		}
		p.printArgs(e.Args)

	case Elibcall:
		fmt.Fprint(p.w, e.Call)
		p.printArgs(e.Args)

	case Ebuiltin:
		fmt.Fprintf(p.w, "__builtin_%s", e.Builtin)
		p.printArgs(e.Args)

	case Ector:
		fmt.Fprintf(p.w, "%s{", e.Type)
		for i, el := range e.Elems {
			if i > 0 {
				fmt.Fprint(p.w, ", ")
			}
			fmt.Fprintf(p.w, "@%d: ", el.Offset)
			p.printExpr(el.Value)
		}
		fmt.Fprint(p.w, "}")

	case Ebind:
		fmt.Fprintf(p.w, "bind(%s; ", varNames(e.Vars))
		p.printExpr(e.Body)
		fmt.Fprint(p.w, ")")

	case Eblock:
		fmt.Fprintln(p.w, "({")
		p.indent++
		p.printStmt(e.Body)
		if e.Result != nil {
			p.writeIndent()
			p.printExpr(e.Result)
			fmt.Fprintln(p.w)
		}
		p.indent--
		p.writeIndent()
		fmt.Fprint(p.w, "})")

	case Ecleanup:
		fmt.Fprint(p.w, "cleanup(")
		p.printExpr(e.Body)
		fmt.Fprint(p.w, "; ")
		p.printExpr(e.Cleanup)
		fmt.Fprint(p.w, ")")

	case Eerror:
		fmt.Fprint(p.w, "<error>")

	default:
		fmt.Fprintf(p.w, "/* unknown expr %T */", expr)
	}
}

// printConst prints a constant value
func (p *Printer) printConst(c Constant) {
	switch v := c.(type) {
	case Ointconst:
		fmt.Fprintf(p.w, "%d", v.Value)
	case Ofloatconst:
		fmt.Fprintf(p.w, "%g", v.Value)
	default:
		fmt.Fprintf(p.w, "/* unknown const %T */", c)
	}
}

// String renders an expression on one line, for diagnostics and tests.
func String(e Expr) string {
	var sb strings.Builder
	NewPrinter(&sb).printExpr(e)
	return sb.String()
}
