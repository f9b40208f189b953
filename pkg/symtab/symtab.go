// Package symtab maps source declarations to IR handles. Every lookup is
// idempotent per declaration identity, and the table only grows: handles
// for temporaries, labels and static data are registered but never
// retracted.
package symtab

import (
	"fmt"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

// LabelKind distinguishes the labels synthesized for one statement
type LabelKind int

const (
	LabelUser LabelKind = iota
	LabelBreak
	LabelContinue
	LabelCase
	LabelDefault
	LabelEnd
)

func (k LabelKind) String() string {
	return [...]string{"L", "break", "continue", "case", "default", "end"}[k]
}

type labelKey struct {
	stmt ast.Stmt
	kind LabelKind
}

type stringKey struct {
	data string
	elem string
}

// Table is the declaration and symbol table of one compilation unit
type Table struct {
	vars      map[*ast.VarDecl]*ir.Var
	funcs     map[*ast.FuncDecl]*ir.Func
	labels    map[labelKey]*ir.Label
	typeinfos map[string]*ir.Symbol
	classes   map[*ast.ClassDecl]*ir.Symbol
	vtables   map[*ast.ClassDecl]*ir.Symbol
	inits     map[*ast.ClassDecl]*ir.Symbol
	strings   map[stringKey]*ir.Symbol

	symbols []*ir.Symbol
	globals []*ir.Var
	nextID  int
}

// New creates an empty table.
func New() *Table {
	return &Table{
		vars:      make(map[*ast.VarDecl]*ir.Var),
		funcs:     make(map[*ast.FuncDecl]*ir.Func),
		labels:    make(map[labelKey]*ir.Label),
		typeinfos: make(map[string]*ir.Symbol),
		classes:   make(map[*ast.ClassDecl]*ir.Symbol),
		vtables:   make(map[*ast.ClassDecl]*ir.Symbol),
		inits:     make(map[*ast.ClassDecl]*ir.Symbol),
		strings:   make(map[stringKey]*ir.Symbol),
	}
}

func (t *Table) id() int {
	t.nextID++
	return t.nextID
}

// Symbols returns every static symbol in registration order.
func (t *Table) Symbols() []*ir.Symbol {
	return t.symbols
}

// Globals returns every global variable in registration order.
func (t *Table) Globals() []*ir.Var {
	return t.globals
}

func (t *Table) addSymbol(sym *ir.Symbol) *ir.Symbol {
	t.symbols = append(t.symbols, sym)
	return sym
}

// VarType is the type of the handle for d: ref and out parameters are
// reference cells holding the address of the referent.
func VarType(d *ast.VarDecl) ast.Type {
	if d.IsRef() {
		return ast.Pointer(d.Type)
	}
	return d.Type
}

// Var returns the handle for a variable declaration.
func (t *Table) Var(d *ast.VarDecl) *ir.Var {
	if v, ok := t.vars[d]; ok {
		return v
	}
	v := &ir.Var{Name: d.Name, Type: VarType(d), Kind: ir.VarLocal, ID: t.id()}
	switch {
	case d.IsParameter():
		v.Kind = ir.VarParam
	case d.IsDataSeg() || d.Owner == nil:
		v.Kind = ir.VarGlobal
		v.Readonly = d.Storage&(ast.STCimmutable|ast.STCmanifest) != 0
		t.globals = append(t.globals, v)
	}
	t.vars[d] = v
	return v
}

// Alias makes d resolve to an existing handle, as the named return
// value does to the result slot. It panics if d already has a handle.
func (t *Table) Alias(d *ast.VarDecl, v *ir.Var) {
	if old, ok := t.vars[d]; ok && old != v {
		panic(fmt.Sprintf("symtab: %s already has a handle", d.Name))
	}
	t.vars[d] = v
}

// FuncName returns the symbol name of a function; nested functions are
// qualified by their parents.
func FuncName(d *ast.FuncDecl) string {
	switch {
	case d.Parent != nil:
		return FuncName(d.Parent) + "." + d.Name
	case d.InStruct != nil:
		return d.InStruct.Name + "." + d.Name
	case d.InClass != nil:
		return d.InClass.Name + "." + d.Name
	}
	return d.QualifiedName()
}

// Func returns the handle for a function declaration. The handle carries
// the parameter, context and result variables but no body.
func (t *Table) Func(d *ast.FuncDecl) *ir.Func {
	if fn, ok := t.funcs[d]; ok {
		return fn
	}
	fn := &ir.Func{
		Name:      FuncName(d),
		Type:      d.Type,
		Intrinsic: d.Intrinsic,
		Extern:    d.Body == nil,
		Nested:    d.IsNested(),
	}
	t.funcs[d] = fn

	switch {
	case d.NeedThis() && d.This != nil:
		ctx, ok := t.vars[d.This]
		if !ok {
			ctx = &ir.Var{Name: d.This.Name, Type: VarType(d.This), ID: t.id()}
			t.vars[d.This] = ctx
		}
		ctx.Kind = ir.VarContext
		fn.Ctx = ctx
	case d.NeedThis() || d.IsNested():
		fn.Ctx = &ir.Var{Name: "__chain", Type: ast.VoidPtr(), Kind: ir.VarContext, ID: t.id()}
	}
	for _, p := range d.Params {
		fn.Params = append(fn.Params, t.Var(p))
	}
	if ret := d.ReturnType(); !ast.IsVoid(ret) {
		rt := ret
		if d.Type.IsRef {
			rt = ast.Pointer(ret)
		}
		fn.Result = &ir.Var{Name: "__result", Type: rt, Kind: ir.VarResult, ID: t.id()}
	}
	return fn
}

// Temp registers a fresh temporary of type typ in fn.
func (t *Table) Temp(fn *ir.Func, typ ast.Type, prefix string) *ir.Var {
	if prefix == "" {
		prefix = "__tmp"
	}
	id := t.id()
	v := &ir.Var{Name: fmt.Sprintf("%s%d", prefix, id), Type: typ, Kind: ir.VarTemp, ID: id}
	if fn != nil {
		fn.Locals = append(fn.Locals, v)
	}
	return v
}

// Local registers the handle of a local declaration with fn once. A
// declaration first seen here is a local even without an owner.
func (t *Table) Local(fn *ir.Func, d *ast.VarDecl) *ir.Var {
	v, ok := t.vars[d]
	if !ok {
		v = &ir.Var{Name: d.Name, Type: VarType(d), Kind: ir.VarLocal, ID: t.id()}
		t.vars[d] = v
	}
	for _, l := range fn.Locals {
		if l == v {
			return v
		}
	}
	fn.Locals = append(fn.Locals, v)
	return v
}

// Label returns the label of the given kind for stmt. User labels keep
// their identifier; synthesized ones are numbered.
func (t *Table) Label(stmt ast.Stmt, kind LabelKind, ident string) *ir.Label {
	key := labelKey{stmt: stmt, kind: kind}
	if l, ok := t.labels[key]; ok {
		return l
	}
	id := t.id()
	name := ident
	if name == "" {
		name = fmt.Sprintf(".%s%d", kind, id)
	}
	l := &ir.Label{Name: name, ID: id}
	t.labels[key] = l
	return l
}

// NewLabel creates a label not tied to any statement.
func (t *Table) NewLabel(prefix string) *ir.Label {
	id := t.id()
	return &ir.Label{Name: fmt.Sprintf(".%s%d", prefix, id), ID: id}
}

// opaque storage of runtime type descriptors
var typeInfoType = ast.SArray(ast.ULong(), 2)

// TypeInfo returns the runtime type descriptor of typ, shared by every
// structurally equal type.
func (t *Table) TypeInfo(typ ast.Type) *ir.Symbol {
	key := ast.Mangle(typ)
	if sym, ok := t.typeinfos[key]; ok {
		return sym
	}
	sym := t.addSymbol(&ir.Symbol{
		Name:      "__typeinfo_" + key,
		Kind:      ir.SymTypeInfo,
		Type:      typeInfoType,
		Describes: typ,
	})
	t.typeinfos[key] = sym
	return sym
}

// ClassInfo returns the runtime descriptor of a class.
func (t *Table) ClassInfo(c *ast.ClassDecl) *ir.Symbol {
	if sym, ok := t.classes[c]; ok {
		return sym
	}
	sym := t.addSymbol(&ir.Symbol{
		Name:      "__classinfo_" + c.Name,
		Kind:      ir.SymClassInfo,
		Type:      typeInfoType,
		Describes: ast.Tclass{Decl: c},
		Class:     c,
	})
	t.classes[c] = sym
	return sym
}

// Vtable returns the virtual table of a class: slot 0 is the classinfo,
// methods follow in slot order.
func (t *Table) Vtable(c *ast.ClassDecl) *ir.Symbol {
	if sym, ok := t.vtables[c]; ok {
		return sym
	}
	sym := &ir.Symbol{
		Name:  "__vtbl_" + c.Name,
		Kind:  ir.SymVtable,
		Type:  ast.SArray(ast.VoidPtr(), int64(c.VtblSlots())),
		Class: c,
	}
	t.vtables[c] = sym
	for _, m := range c.Vtbl {
		sym.Vtbl = append(sym.Vtbl, t.Func(m))
	}
	return t.addSymbol(sym)
}

// Initializer returns the static instance pattern copied into every new
// object of c. Its Init is filled in by the first caller.
func (t *Table) Initializer(c *ast.ClassDecl) *ir.Symbol {
	if sym, ok := t.inits[c]; ok {
		return sym
	}
	sym := t.addSymbol(&ir.Symbol{
		Name:  "__init_" + c.Name,
		Kind:  ir.SymInitializer,
		Type:  ast.Tinstance{Decl: c},
		Class: c,
	})
	t.inits[c] = sym
	return sym
}

// String returns the read-only symbol holding data, a string already
// encoded in elem-sized code units. A zero terminator follows the data.
// Equal literals share one symbol.
func (t *Table) String(data []byte, elem ast.Type) *ir.Symbol {
	key := stringKey{data: string(data), elem: ast.Mangle(elem)}
	if sym, ok := t.strings[key]; ok {
		return sym
	}
	unit := ast.Sizeof(elem)
	buf := make([]byte, len(data)+int(unit))
	copy(buf, data)
	sym := t.addSymbol(&ir.Symbol{
		Name: fmt.Sprintf(".Lstr%d", len(t.strings)),
		Kind: ir.SymString,
		Type: ast.SArray(elem, int64(len(data))/unit+1),
		Data: buf,
	})
	t.strings[key] = sym
	return sym
}

// ReadOnly registers a new constant data symbol.
func (t *Table) ReadOnly(prefix string, typ ast.Type, init ir.Expr) *ir.Symbol {
	if prefix == "" {
		prefix = ".Lconst"
	}
	return t.addSymbol(&ir.Symbol{
		Name: fmt.Sprintf("%s%d", prefix, t.id()),
		Kind: ir.SymData,
		Type: typ,
		Init: init,
	})
}
