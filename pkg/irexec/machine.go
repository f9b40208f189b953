// Package irexec executes lowered programs. It is a reference
// interpreter for the IR with an in-process double of the runtime
// library, used to check that lowered code behaves like the source.
//
// Memory is a set of independent blocks; addresses carry their block
// number, so stale pointers into a reallocated array keep reading the
// old block. Local variables live in blocks allocated on first use.
package irexec

import (
	"errors"
	"fmt"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

var (
	// ErrStepLimit stops programs that run longer than MaxSteps.
	ErrStepLimit = errors.New("irexec: step limit exceeded")
	// ErrUndefined reports a call to a function with no body and no
	// extern binding.
	ErrUndefined = errors.New("irexec: undefined function")
	// ErrUnsupported reports IR the interpreter cannot execute, such as
	// inline assembly.
	ErrUnsupported = errors.New("irexec: unsupported operation")
	// ErrAbort is raised by the abort builtin.
	ErrAbort = errors.New("irexec: abort")
)

// DefaultMaxSteps bounds the statements and calls one Call may execute.
const DefaultMaxSteps = 1 << 22

// Failure is a call to a noreturn runtime failure entry point: a failed
// assertion, an out-of-bounds index, an unmatched switch.
type Failure struct {
	Call libcall.ID
	Msg  string
	File string
	Line int
}

func (f *Failure) Error() string {
	what := map[libcall.ID]string{
		libcall.Assert:      "assertion failure",
		libcall.AssertMsg:   "assertion failure",
		libcall.Unittest:    "unittest failure",
		libcall.UnittestMsg: "unittest failure",
		libcall.ArrayBounds: "array index out of bounds",
		libcall.SwitchError: "no appropriate switch clause found",
		libcall.ArrayCopy:   "array copy",
	}[f.Call]
	if what == "" {
		what = f.Call.String()
	}
	s := fmt.Sprintf("%s@%s(%d)", what, f.File, f.Line)
	if f.Msg != "" {
		s += ": " + f.Msg
	}
	return s
}

// Thrown is an exception object propagating out of a call.
type Thrown struct {
	Obj   Addr
	Class *ast.ClassDecl
}

func (t *Thrown) Error() string {
	name := "?"
	if t.Class != nil {
		name = t.Class.Name
	}
	return fmt.Sprintf("uncaught exception %s at %s", name, t.Obj)
}

// Fault is an access outside any allocated block.
type Fault struct {
	Addr Addr
	Size int64
}

func (f *Fault) Error() string {
	return fmt.Sprintf("irexec: invalid access of %d bytes at %s", f.Size, f.Addr)
}

// Extern implements a function that has no body in the program.
type Extern func(m *Machine, args []Value) Value

// Machine runs one program.
type Machine struct {
	prog *ir.Program
	mem  *memory

	globals map[*ir.Var]Addr
	syms    map[*ir.Symbol]Addr
	symAt   map[uint32]*ir.Symbol
	funcs   map[*ir.Func]Addr
	funcAt  map[uint32]*ir.Func
	aas     map[Addr]*assocArray

	// caught holds the exceptions whose handlers are running
	caught []*Thrown
	steps  int

	// Calls counts runtime library calls by entry point.
	Calls map[libcall.ID]int
	// Externs binds functions declared without a body, by IR name.
	Externs map[string]Extern
	// MaxSteps bounds each Call; zero means unlimited.
	MaxSteps int
}

// frame holds the variables of one activation
type frame struct {
	fn   *ir.Func
	vars map[*ir.Var]Addr
}

// New loads prog and evaluates the initializers of its globals.
func New(prog *ir.Program) (m *Machine, err error) {
	m = &Machine{
		prog:     prog,
		mem:      newMemory(),
		globals:  make(map[*ir.Var]Addr),
		syms:     make(map[*ir.Symbol]Addr),
		symAt:    make(map[uint32]*ir.Symbol),
		funcs:    make(map[*ir.Func]Addr),
		funcAt:   make(map[uint32]*ir.Func),
		aas:      make(map[Addr]*assocArray),
		Calls:    make(map[libcall.ID]int),
		Externs:  make(map[string]Extern),
		MaxSteps: DefaultMaxSteps,
	}
	defer m.recoverError(&err)
	for _, g := range prog.Globals {
		m.globalAddr(g)
	}
	return m, nil
}

// Call runs the function named name with args and returns its result.
// Runtime failures, uncaught exceptions and faults are returned as
// *Failure, *Thrown and *Fault errors.
func (m *Machine) Call(name string, args ...Value) (res Value, err error) {
	fn := m.prog.FindFunc(name)
	if fn == nil {
		return Value{}, fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	defer m.recoverError(&err)
	m.steps = 0
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = a.Bytes
	}
	out := m.call(fn, nil, raw)
	return Value{Type: resultType(fn), Bytes: out}, nil
}

func resultType(fn *ir.Func) ast.Type {
	if fn.Result != nil {
		return fn.Result.Type
	}
	return ast.Void()
}

func (m *Machine) recoverError(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(error); ok {
		*err = e
		return
	}
	*err = fmt.Errorf("irexec: %v", r)
}

func (m *Machine) tick() {
	m.steps++
	if m.MaxSteps > 0 && m.steps > m.MaxSteps {
		panic(ErrStepLimit)
	}
}

func (m *Machine) call(fn *ir.Func, ctx []byte, args [][]byte) []byte {
	m.tick()
	if fn.Body == nil {
		return m.callExtern(fn, args)
	}
	fr := &frame{fn: fn, vars: make(map[*ir.Var]Addr)}
	if fn.Ctx != nil {
		fr.vars[fn.Ctx] = m.mem.allocBytes(resize(ctx, sizeOf(fn.Ctx.Type)))
	}
	for i, p := range fn.Params {
		var a []byte
		if i < len(args) {
			a = args[i]
		}
		fr.vars[p] = m.mem.allocBytes(resize(a, sizeOf(p.Type)))
	}
	switch fl, l := m.exec(fr, fn.Body, nil); fl {
	case flowGoto:
		panic(fmt.Sprintf("goto %s leaves %s", l.Name, fn.Name))
	case flowExit:
		panic(fmt.Sprintf("loop exit outside a loop in %s", fn.Name))
	}
	if fn.Result == nil {
		return nil
	}
	return m.mem.load(m.varAddr(fr, fn.Result), sizeOf(fn.Result.Type))
}

func (m *Machine) callExtern(fn *ir.Func, args [][]byte) []byte {
	ext, ok := m.Externs[fn.Name]
	if !ok {
		panic(fmt.Errorf("%w: %s", ErrUndefined, fn.Name))
	}
	vals := make([]Value, len(args))
	for i, a := range args {
		var t ast.Type = ast.Void()
		if i < len(fn.Type.Params) {
			t = fn.Type.Params[i].Type
		}
		vals[i] = Value{Type: t, Bytes: a}
	}
	out := ext(m, vals)
	if fn.Type.Return == nil || ast.IsVoid(fn.Type.Return) {
		return nil
	}
	return resize(out.Bytes, sizeOf(fn.Type.Return))
}

// varAddr returns the storage of v, allocating it on first use.
func (m *Machine) varAddr(fr *frame, v *ir.Var) Addr {
	if v.Kind == ir.VarGlobal {
		return m.globalAddr(v)
	}
	if fr == nil {
		panic(fmt.Sprintf("local %s used outside a function", v.Name))
	}
	if a, ok := fr.vars[v]; ok {
		return a
	}
	a := m.mem.alloc(sizeOf(v.Type))
	fr.vars[v] = a
	return a
}

func (m *Machine) globalAddr(v *ir.Var) Addr {
	if a, ok := m.globals[v]; ok {
		return a
	}
	a := m.mem.alloc(sizeOf(v.Type))
	m.globals[v] = a
	if v.Init != nil {
		m.mem.store(a, resize(m.eval(m.staticFrame(), v.Init), sizeOf(v.Type)))
	}
	return a
}

func (m *Machine) staticFrame() *frame {
	return &frame{vars: make(map[*ir.Var]Addr)}
}

// symAddr returns the storage of a symbol, filling it on first use.
func (m *Machine) symAddr(sym *ir.Symbol) Addr {
	if a, ok := m.syms[sym]; ok {
		return a
	}
	a := m.mem.alloc(sizeOf(sym.Type))
	m.syms[sym] = a
	m.symAt[a.block()] = sym

	switch {
	case sym.Kind == ir.SymVtable:
		slots := make([]byte, sizeOf(sym.Type))
		putUint(slots[0:8], uint64(m.classInfoAddr(sym.Class)))
		for i, fn := range sym.Vtbl {
			off := (i + 1) * ast.PtrSize
			if off+ast.PtrSize <= len(slots) {
				putUint(slots[off:off+ast.PtrSize], uint64(m.funcAddr(fn)))
			}
		}
		m.mem.store(a, slots)
	case sym.Data != nil:
		m.mem.store(a, resize(sym.Data, sizeOf(sym.Type)))
	case sym.Init != nil:
		m.mem.store(a, resize(m.eval(m.staticFrame(), sym.Init), sizeOf(sym.Type)))
	}
	return a
}

func (m *Machine) classInfoAddr(cd *ast.ClassDecl) Addr {
	for _, sym := range m.prog.Symbols {
		if sym.Kind == ir.SymClassInfo && sym.Class == cd {
			return m.symAddr(sym)
		}
	}
	sym := &ir.Symbol{Name: "__classinfo_" + cd.Name, Kind: ir.SymClassInfo, Type: ast.SArray(ast.ULong(), 2), Describes: ast.Tclass{Decl: cd}, Class: cd}
	m.prog.Symbols = append(m.prog.Symbols, sym)
	return m.symAddr(sym)
}

// symbolAt finds the symbol a descriptor pointer designates.
func (m *Machine) symbolAt(a Addr) *ir.Symbol {
	sym, ok := m.symAt[a.block()]
	if !ok || a == 0 {
		panic(&Fault{Addr: a, Size: 1})
	}
	return sym
}

func (m *Machine) describes(ti Addr) ast.Type {
	sym := m.symbolAt(ti)
	if sym.Describes == nil {
		panic(fmt.Sprintf("%s is not a type descriptor", sym.Name))
	}
	return sym.Describes
}

func (m *Machine) funcAddr(fn *ir.Func) Addr {
	if a, ok := m.funcs[fn]; ok {
		return a
	}
	a := m.mem.alloc(1)
	m.funcs[fn] = a
	m.funcAt[a.block()] = fn
	return a
}

func (m *Machine) funcAtAddr(a Addr) *ir.Func {
	fn, ok := m.funcAt[a.block()]
	if !ok || a.off() != 0 {
		panic(&Fault{Addr: a, Size: 1})
	}
	return fn
}

// classOf reads the dynamic class of an object through its vtable.
func (m *Machine) classOf(obj Addr) *ast.ClassDecl {
	if obj == 0 {
		return nil
	}
	vptr := Addr(getUint(m.mem.load(obj, ast.PtrSize)))
	sym, ok := m.symAt[vptr.block()]
	if !ok || sym.Kind != ir.SymVtable {
		return nil
	}
	return sym.Class
}
