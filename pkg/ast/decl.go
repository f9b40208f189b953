package ast

import (
	"fmt"
	"strings"
)

// Loc is a source position
type Loc struct {
	File string
	Line int
	Col  int
}

func (l Loc) String() string {
	if l.File == "" {
		return "<unknown>"
	}
	if l.Col > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// StorageClass is a bit set of declaration storage attributes
type StorageClass uint32

const (
	STCref StorageClass = 1 << iota
	STCout
	STClazy
	STCstatic
	STCextern
	STCtls
	STCgshared
	STCmanifest
	STCparameter
	STCscope
	STCimmutable
	STCconst
)

// Has reports whether all bits of mask are set.
func (s StorageClass) Has(mask StorageClass) bool {
	return s&mask == mask
}

// IsRef reports ref or out parameters, which are passed by address.
func (s StorageClass) IsRef() bool {
	return s&(STCref|STCout) != 0
}

func (s StorageClass) String() string {
	names := []struct {
		bit  StorageClass
		name string
	}{
		{STCref, "ref"}, {STCout, "out"}, {STClazy, "lazy"}, {STCstatic, "static"},
		{STCextern, "extern"}, {STCtls, "tls"}, {STCgshared, "__gshared"},
		{STCmanifest, "enum"}, {STCscope, "scope"}, {STCimmutable, "immutable"},
		{STCconst, "const"},
	}
	var parts []string
	for _, n := range names {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, " ")
}

// VarDecl is a variable, parameter or field-less local declaration.
type VarDecl struct {
	Name    string
	Type    Type
	Storage StorageClass
	Loc     Loc

	// Init is the full initializing expression, usually an Assign with
	// Op == AssignConstruct targeting this variable.
	Init Expr

	// Dtor destroys the variable when its scope ends (nil if none).
	Dtor Expr
	// NoScope is set when an enclosing try/finally already destroys it.
	NoScope bool
	// OnStack marks a scope class reference whose object lives in the
	// declaring function's frame.
	OnStack bool

	// Owner is the function whose frame holds the variable.
	Owner *FuncDecl
	// Nonlocal marks variables captured by a nested function; they live
	// in the owner's closure frame instead of its stack.
	Nonlocal bool
	// NeedThis marks a member field referenced without an object.
	NeedThis bool
	// IsCtfe marks the __ctfe pseudo variable.
	IsCtfe bool
}

// IsParameter reports whether v is a function parameter.
func (v *VarDecl) IsParameter() bool {
	return v.Storage.Has(STCparameter)
}

// IsRef reports whether v is a reference cell (ref/out parameter or ref local).
func (v *VarDecl) IsRef() bool {
	return v.Storage.IsRef()
}

// IsDataSeg reports whether v lives in static storage.
func (v *VarDecl) IsDataSeg() bool {
	return v.Storage&(STCstatic|STCextern|STCtls|STCgshared) != 0
}

// Intrinsic enumerates functions the lowering pass may expand inline
type Intrinsic int

const (
	IntrinsicNone Intrinsic = iota
	IntrinsicBsf
	IntrinsicBsr
	IntrinsicBt
	IntrinsicBtc
	IntrinsicBtr
	IntrinsicBts
	IntrinsicBswap
	IntrinsicCos
	IntrinsicSin
	IntrinsicRndtol
	IntrinsicSqrt
	IntrinsicSqrtf
	IntrinsicSqrtl
	IntrinsicLdexp
	IntrinsicFabs
	IntrinsicRint
	IntrinsicVaArg
	IntrinsicCVaArg
	IntrinsicVaStart
	IntrinsicVolatileLoad
	IntrinsicVolatileStore
)

var intrinsicNames = []string{
	"none", "bsf", "bsr", "bt", "btc", "btr", "bts", "bswap", "cos", "sin",
	"rndtol", "sqrt", "sqrtf", "sqrtl", "ldexp", "fabs", "rint", "va_arg",
	"c_va_arg", "va_start", "volatileLoad", "volatileStore",
}

func (i Intrinsic) String() string {
	if int(i) < len(intrinsicNames) {
		return intrinsicNames[i]
	}
	return "?"
}

// FrameInfo describes the closure frame a function creates for its
// nested functions.
type FrameInfo struct {
	// CreatesFrame is set when nested functions reference locals.
	CreatesFrame bool
	// OnHeap is set when the frame escapes (a closure); otherwise it
	// lives on the stack.
	OnHeap bool
	// Vars lists the captured variables in frame order.
	Vars []*VarDecl
}

// FuncDecl is a function, method or nested function declaration.
type FuncDecl struct {
	Name   string
	Module string
	Type   *Tfunction
	Loc    Loc
	Params []*VarDecl
	Body   Stmt

	// This is the hidden object parameter of methods.
	This *VarDecl
	// Parent is the lexically enclosing function of a nested function.
	Parent *FuncDecl
	// InStruct or InClass is the aggregate a method belongs to.
	InStruct *StructDecl
	InClass  *ClassDecl
	IsStatic bool

	Frame FrameInfo

	// NRVO: when NRVOCan is set, NRVOVar is constructed directly in the
	// result slot.
	NRVOVar *VarDecl
	NRVOCan bool

	// Intro overrides the return type used for conversions (auto return).
	Intro Type

	IsMain  bool
	IsCtor  bool
	IsSafe  bool
	IsFinal bool
	// VtblIndex is the vtable slot of a virtual method, or -1. Slot 0
	// holds the classinfo, so methods start at 1.
	VtblIndex int

	Intrinsic Intrinsic

	// Ensure is the out contract run before returning.
	Ensure Stmt
}

// NewFunc creates a function declaration with its parameters marked.
func NewFunc(name string, typ *Tfunction, params ...*VarDecl) *FuncDecl {
	fd := &FuncDecl{Name: name, Type: typ, Params: params, VtblIndex: -1}
	for i, p := range params {
		p.Storage |= STCparameter
		if i < len(typ.Params) {
			p.Storage |= typ.Params[i].Storage
		}
		p.Owner = fd
	}
	return fd
}

// IsNested reports functions that need a static chain from their parent.
func (f *FuncDecl) IsNested() bool {
	return f.Parent != nil && !f.IsStatic
}

// NeedThis reports methods that take an object.
func (f *FuncDecl) NeedThis() bool {
	return (f.InStruct != nil || f.InClass != nil) && !f.IsStatic
}

// IsVirtual reports methods dispatched through the vtable.
func (f *FuncDecl) IsVirtual() bool {
	return f.InClass != nil && f.VtblIndex >= 0 && !f.IsFinal
}

// ReturnType returns the declared return type, or void.
func (f *FuncDecl) ReturnType() Type {
	if f.Type == nil || f.Type.Return == nil {
		return Tvoid{}
	}
	return f.Type.Return
}

// QualifiedName returns module.name for diagnostics and intrinsic lookup.
func (f *FuncDecl) QualifiedName() string {
	if f.Module == "" {
		return f.Name
	}
	return f.Module + "." + f.Name
}

// Field is a member of a struct or class record
type Field struct {
	Name   string
	Type   Type
	Offset int64
	// Index is the position in the owning aggregate's field list.
	Index int
}

// StructDecl is a struct or union declaration with a fixed layout.
type StructDecl struct {
	Name    string
	Fields  []*Field
	IsUnion bool
	Size    int64
	Align   int64

	Ctor     *FuncDecl
	Postblit *FuncDecl
	Dtor     *FuncDecl
	// ZeroInit is set when the default initializer is all zero bits.
	ZeroInit bool

	// VThis is the hidden context field of nested structs.
	VThis *Field
	// Outer is the function enclosing a nested struct.
	Outer *FuncDecl
}

// IsNested reports structs carrying an enclosing context pointer.
func (s *StructDecl) IsNested() bool {
	return s.VThis != nil
}

// FieldByName finds a field, or returns nil.
func (s *StructDecl) FieldByName(name string) *Field {
	for _, f := range s.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// ClassDecl is a class or interface declaration with a fixed layout.
type ClassDecl struct {
	Name      string
	Base      *ClassDecl
	Fields    []*Field
	Interface bool
	// CPPClass and COMClass mark foreign object models, which cannot be
	// thrown.
	CPPClass bool
	COMClass bool

	// Size is the record size including the vtbl pointer and monitor.
	Size  int64
	Align int64

	Ctor *FuncDecl
	Dtor *FuncDecl
	Inv  *FuncDecl
	// Vtbl lists virtual methods; slot 0 is reserved for the classinfo.
	Vtbl []*FuncDecl

	// VThis is the hidden context field of nested classes.
	VThis *Field
	// OuterFunc or OuterClass encloses a nested class.
	OuterFunc  *FuncDecl
	OuterClass *ClassDecl

	// OnStack marks scope classes allocated in the caller's frame.
	OnStack bool
}

// IsBaseOf reports whether c is cd or one of its ancestors.
func (c *ClassDecl) IsBaseOf(cd *ClassDecl) bool {
	for ; cd != nil; cd = cd.Base {
		if cd == c {
			return true
		}
	}
	return false
}

// AllFields returns base fields before own fields.
func (c *ClassDecl) AllFields() []*Field {
	if c.Base == nil {
		return c.Fields
	}
	return append(append([]*Field(nil), c.Base.AllFields()...), c.Fields...)
}

// FieldByName searches the class and its bases.
func (c *ClassDecl) FieldByName(name string) *Field {
	for cd := c; cd != nil; cd = cd.Base {
		for _, f := range cd.Fields {
			if f.Name == name {
				return f
			}
		}
	}
	return nil
}

// Module is one compilation unit
type Module struct {
	Name    string
	Structs []*StructDecl
	Classes []*ClassDecl
	Globals []*VarDecl
	Funcs   []*FuncDecl
}
