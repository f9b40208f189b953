// Package ast defines the typed input tree handed to the lowering pass:
// resolved types, declarations, expressions and statements.
package ast

import (
	"fmt"
	"strings"
)

// Type is the interface for all resolved types
type Type interface {
	implType()
	String() string
}

// Signedness represents signed/unsigned for integer types
type Signedness int

const (
	Signed Signedness = iota
	Unsigned
)

func (s Signedness) String() string {
	if s == Signed {
		return "signed"
	}
	return "unsigned"
}

// IntSize represents the width of integer types
type IntSize int

const (
	I8 IntSize = iota
	I16
	I32
	I64
)

func (s IntSize) String() string {
	names := []string{"i8", "i16", "i32", "i64"}
	if int(s) < len(names) {
		return names[s]
	}
	return "?"
}

// Bytes returns the storage size of the integer width.
func (s IntSize) Bytes() int64 {
	return 1 << uint(s)
}

// CharSize is the code unit width of a character type
type CharSize int

const (
	C8 CharSize = iota
	C16
	C32
)

// Bytes returns the code unit size.
func (s CharSize) Bytes() int64 {
	return 1 << uint(s)
}

// FloatSize represents the precision of floating-point types
type FloatSize int

const (
	F32 FloatSize = iota
	F64
	F80
)

func (s FloatSize) String() string {
	switch s {
	case F32:
		return "f32"
	case F64:
		return "f64"
	}
	return "f80"
}

// Tvoid represents the void type
type Tvoid struct{}

// Tbool is the one-byte boolean type
type Tbool struct{}

// Tint represents integer types (byte .. ulong)
type Tint struct {
	Size IntSize
	Sign Signedness
}

// Tchar represents code unit types (char, wchar, dchar)
type Tchar struct {
	Size CharSize
}

// Tfloat represents real floating-point types
type Tfloat struct {
	Size FloatSize
}

// Timaginary represents imaginary floating-point types
type Timaginary struct {
	Size FloatSize
}

// Tcomplex represents complex floating-point types
type Tcomplex struct {
	Size FloatSize
}

// Tpointer represents pointer types
type Tpointer struct {
	Elem Type
}

// Tdarray is a dynamic array: a (length, ptr) pair
type Tdarray struct {
	Elem Type
}

// Tsarray is a fixed-length array stored inline
type Tsarray struct {
	Elem Type
	Len  int64
}

// Taarray is an associative array, an opaque runtime handle
type Taarray struct {
	Key   Type
	Value Type
}

// Tstruct is a struct or union value type
type Tstruct struct {
	Decl *StructDecl
}

// Tclass is a reference to a class or interface instance
type Tclass struct {
	Decl *ClassDecl
}

// Tinstance is the class record itself, the storage a Tclass points at
type Tinstance struct {
	Decl *ClassDecl
}

// Param is a function parameter type with its storage class
type Param struct {
	Type    Type
	Storage StorageClass
}

// Tfunction represents function types
type Tfunction struct {
	Params   []Param
	Return   Type
	IsRef    bool
	Variadic bool
}

// Tdelegate is a (context, function pointer) pair
type Tdelegate struct {
	Func *Tfunction
}

// Ttuple is a compile-time sequence of types
type Ttuple struct {
	Elems []Type
}

// Tnull is the type of the null literal before conversion
type Tnull struct{}

// Marker methods for Type interface
func (Tvoid) implType()      {}
func (Tbool) implType()      {}
func (Tint) implType()       {}
func (Tchar) implType()      {}
func (Tfloat) implType()     {}
func (Timaginary) implType() {}
func (Tcomplex) implType()   {}
func (Tpointer) implType()   {}
func (Tdarray) implType()    {}
func (Tsarray) implType()    {}
func (Taarray) implType()    {}
func (Tstruct) implType()    {}
func (Tclass) implType()     {}
func (Tinstance) implType()  {}
func (Tfunction) implType()  {}
func (Tdelegate) implType()  {}
func (Ttuple) implType()     {}
func (Tnull) implType()      {}

// String methods for types
func (Tvoid) String() string { return "void" }
func (Tbool) String() string { return "bool" }
func (Tnull) String() string { return "typeof(null)" }

func (t Tint) String() string {
	names := []string{"byte", "short", "int", "long"}
	name := "int"
	if int(t.Size) < len(names) {
		name = names[t.Size]
	}
	if t.Sign == Unsigned {
		return "u" + name
	}
	return name
}

func (t Tchar) String() string {
	switch t.Size {
	case C16:
		return "wchar"
	case C32:
		return "dchar"
	}
	return "char"
}

func (t Tfloat) String() string {
	switch t.Size {
	case F32:
		return "float"
	case F64:
		return "double"
	}
	return "real"
}

func (t Timaginary) String() string {
	return "i" + Tfloat{Size: t.Size}.String()
}

func (t Tcomplex) String() string {
	return "c" + Tfloat{Size: t.Size}.String()
}

func (t Tpointer) String() string {
	if t.Elem == nil {
		return "void*"
	}
	return t.Elem.String() + "*"
}

func (t Tdarray) String() string {
	return t.Elem.String() + "[]"
}

func (t Tsarray) String() string {
	return fmt.Sprintf("%s[%d]", t.Elem, t.Len)
}

func (t Taarray) String() string {
	return fmt.Sprintf("%s[%s]", t.Value, t.Key)
}

func (t Tstruct) String() string {
	if t.Decl == nil || t.Decl.Name == "" {
		return "struct <anonymous>"
	}
	return t.Decl.Name
}

func (t Tclass) String() string {
	if t.Decl == nil {
		return "Object"
	}
	return t.Decl.Name
}

func (t Tinstance) String() string {
	return "__record " + Tclass(t).String()
}

func (t Tfunction) String() string {
	var sb strings.Builder
	if t.IsRef {
		sb.WriteString("ref ")
	}
	sb.WriteString(typeString(t.Return))
	sb.WriteString(" function(")
	for i, p := range t.Params {
		if i > 0 {
			sb.WriteString(", ")
		}
		if s := p.Storage.String(); s != "" {
			sb.WriteString(s + " ")
		}
		sb.WriteString(p.Type.String())
	}
	if t.Variadic {
		sb.WriteString(", ...")
	}
	sb.WriteString(")")
	return sb.String()
}

func (t Tdelegate) String() string {
	if t.Func == nil {
		return "delegate"
	}
	return strings.Replace(t.Func.String(), " function(", " delegate(", 1)
}

func (t Ttuple) String() string {
	parts := make([]string, len(t.Elems))
	for i, e := range t.Elems {
		parts[i] = e.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func typeString(t Type) string {
	if t == nil {
		return "void"
	}
	return t.String()
}

// Common type constructors

// Void returns the void type
func Void() Type { return Tvoid{} }

// Bool returns the boolean type
func Bool() Type { return Tbool{} }

// Byte returns a signed 8-bit integer type
func Byte() Type { return Tint{Size: I8, Sign: Signed} }

// UByte returns an unsigned 8-bit integer type
func UByte() Type { return Tint{Size: I8, Sign: Unsigned} }

// Short returns a signed 16-bit integer type
func Short() Type { return Tint{Size: I16, Sign: Signed} }

// Int returns a signed 32-bit int type
func Int() Type { return Tint{Size: I32, Sign: Signed} }

// UInt returns an unsigned 32-bit int type
func UInt() Type { return Tint{Size: I32, Sign: Unsigned} }

// Long returns a signed 64-bit integer type
func Long() Type { return Tint{Size: I64, Sign: Signed} }

// ULong returns an unsigned 64-bit integer type
func ULong() Type { return Tint{Size: I64, Sign: Unsigned} }

// SizeT returns the unsigned machine word type
func SizeT() Type { return ULong() }

// PtrdiffT returns the signed machine word type
func PtrdiffT() Type { return Long() }

// Char returns the UTF-8 code unit type
func Char() Type { return Tchar{Size: C8} }

// WChar returns the UTF-16 code unit type
func WChar() Type { return Tchar{Size: C16} }

// DChar returns the UTF-32 code unit type
func DChar() Type { return Tchar{Size: C32} }

// Float returns a float (32-bit) type
func Float() Type { return Tfloat{Size: F32} }

// Double returns a double (64-bit) type
func Double() Type { return Tfloat{Size: F64} }

// Real returns the extended precision type
func Real() Type { return Tfloat{Size: F80} }

// Pointer returns a pointer to the given type
func Pointer(elem Type) Type { return Tpointer{Elem: elem} }

// VoidPtr returns void*
func VoidPtr() Type { return Tpointer{Elem: Tvoid{}} }

// DArray returns a dynamic array type
func DArray(elem Type) Type { return Tdarray{Elem: elem} }

// SArray returns a fixed-length array type
func SArray(elem Type, n int64) Type { return Tsarray{Elem: elem, Len: n} }

// AArray returns an associative array type
func AArray(key, value Type) Type { return Taarray{Key: key, Value: value} }

// String returns immutable(char)[]
func String() Type { return Tdarray{Elem: Tchar{Size: C8}} }

// Func builds a function type with plain (value) parameters.
func Func(ret Type, params ...Type) *Tfunction {
	fn := &Tfunction{Return: ret}
	for _, p := range params {
		fn.Params = append(fn.Params, Param{Type: p})
	}
	return fn
}

// Equal checks if two types are equal
func Equal(a, b Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	switch ta := a.(type) {
	case Tvoid:
		_, ok := b.(Tvoid)
		return ok
	case Tbool:
		_, ok := b.(Tbool)
		return ok
	case Tnull:
		_, ok := b.(Tnull)
		return ok
	case Tint:
		tb, ok := b.(Tint)
		return ok && ta.Size == tb.Size && ta.Sign == tb.Sign
	case Tchar:
		tb, ok := b.(Tchar)
		return ok && ta.Size == tb.Size
	case Tfloat:
		tb, ok := b.(Tfloat)
		return ok && ta.Size == tb.Size
	case Timaginary:
		tb, ok := b.(Timaginary)
		return ok && ta.Size == tb.Size
	case Tcomplex:
		tb, ok := b.(Tcomplex)
		return ok && ta.Size == tb.Size
	case Tpointer:
		tb, ok := b.(Tpointer)
		return ok && Equal(ta.Elem, tb.Elem)
	case Tdarray:
		tb, ok := b.(Tdarray)
		return ok && Equal(ta.Elem, tb.Elem)
	case Tsarray:
		tb, ok := b.(Tsarray)
		return ok && ta.Len == tb.Len && Equal(ta.Elem, tb.Elem)
	case Taarray:
		tb, ok := b.(Taarray)
		return ok && Equal(ta.Key, tb.Key) && Equal(ta.Value, tb.Value)
	case Tstruct:
		tb, ok := b.(Tstruct)
		return ok && ta.Decl == tb.Decl
	case Tclass:
		tb, ok := b.(Tclass)
		return ok && ta.Decl == tb.Decl
	case Tinstance:
		tb, ok := b.(Tinstance)
		return ok && ta.Decl == tb.Decl
	case Tdelegate:
		tb, ok := b.(Tdelegate)
		return ok && funcEqual(ta.Func, tb.Func)
	case Tfunction:
		tb, ok := b.(Tfunction)
		return ok && funcEqual(&ta, &tb)
	case Ttuple:
		tb, ok := b.(Ttuple)
		if !ok || len(ta.Elems) != len(tb.Elems) {
			return false
		}
		for i := range ta.Elems {
			if !Equal(ta.Elems[i], tb.Elems[i]) {
				return false
			}
		}
		return true
	}
	return false
}

func funcEqual(a, b *Tfunction) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Variadic != b.Variadic || a.IsRef != b.IsRef || len(a.Params) != len(b.Params) {
		return false
	}
	if !Equal(typeOrVoid(a.Return), typeOrVoid(b.Return)) {
		return false
	}
	for i, p := range a.Params {
		if p.Storage != b.Params[i].Storage || !Equal(p.Type, b.Params[i].Type) {
			return false
		}
	}
	return true
}

func typeOrVoid(t Type) Type {
	if t == nil {
		return Tvoid{}
	}
	return t
}

// Type predicates

// IsVoid reports whether t is void (or absent).
func IsVoid(t Type) bool {
	if t == nil {
		return true
	}
	_, ok := t.(Tvoid)
	return ok
}

// IsIntegral reports integer, character and boolean types.
func IsIntegral(t Type) bool {
	switch t.(type) {
	case Tint, Tchar, Tbool:
		return true
	}
	return false
}

// IsUnsigned reports whether integral t has unsigned arithmetic.
func IsUnsigned(t Type) bool {
	switch tt := t.(type) {
	case Tint:
		return tt.Sign == Unsigned
	case Tchar, Tbool, Tpointer:
		return true
	}
	return false
}

// IsFloating reports real, imaginary and complex types.
func IsFloating(t Type) bool {
	switch t.(type) {
	case Tfloat, Timaginary, Tcomplex:
		return true
	}
	return false
}

// IsScalar reports types a native switch or comparison can handle.
func IsScalar(t Type) bool {
	if IsIntegral(t) || IsFloating(t) {
		return true
	}
	switch t.(type) {
	case Tpointer, Tnull:
		return true
	}
	return false
}

// IsArray reports dynamic and fixed-length arrays.
func IsArray(t Type) bool {
	switch t.(type) {
	case Tdarray, Tsarray:
		return true
	}
	return false
}

// IsReference reports types whose values are a single machine pointer.
func IsReference(t Type) bool {
	switch t.(type) {
	case Tpointer, Tclass, Taarray, Tnull:
		return true
	}
	return false
}

// ElemType returns the element type of an array or pointer, or nil.
func ElemType(t Type) Type {
	switch tt := t.(type) {
	case Tdarray:
		return tt.Elem
	case Tsarray:
		return tt.Elem
	case Tpointer:
		return tt.Elem
	}
	return nil
}

// BaseElemType strips all fixed-length array levels.
func BaseElemType(t Type) Type {
	for {
		sa, ok := t.(Tsarray)
		if !ok {
			return t
		}
		t = sa.Elem
	}
}

// FloatPrecision returns the floating size of any floating type.
func FloatPrecision(t Type) (FloatSize, bool) {
	switch tt := t.(type) {
	case Tfloat:
		return tt.Size, true
	case Timaginary:
		return tt.Size, true
	case Tcomplex:
		return tt.Size, true
	}
	return 0, false
}

// StructOf returns the declaration of a struct type, or nil.
func StructOf(t Type) *StructDecl {
	if st, ok := t.(Tstruct); ok {
		return st.Decl
	}
	return nil
}

// ClassOf returns the declaration of a class reference, or nil.
func ClassOf(t Type) *ClassDecl {
	if ct, ok := t.(Tclass); ok {
		return ct.Decl
	}
	return nil
}

// HasPostblit reports whether copies of t must run a copy hook.
func HasPostblit(t Type) bool {
	sd := StructOf(BaseElemType(t))
	return sd != nil && sd.Postblit != nil
}

// HasDtor reports whether values of t need destruction.
func HasDtor(t Type) bool {
	sd := StructOf(BaseElemType(t))
	return sd != nil && sd.Dtor != nil
}

// IsZeroInit reports whether the default value of t is all zero bits.
func IsZeroInit(t Type) bool {
	switch tt := BaseElemType(t).(type) {
	case Tfloat, Timaginary, Tcomplex:
		return false
	case Tchar:
		// char.init is 0xFF, wchar.init 0xFFFF, dchar.init 0xFFFF
		return false
	case Tstruct:
		return tt.Decl == nil || tt.Decl.ZeroInit
	}
	return true
}
