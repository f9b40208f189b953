package irexec

import (
	"unicode/utf16"

	"github.com/raymyers/ralph-dc/pkg/ast"
)

// Value is a typed byte image of an argument or result.
type Value struct {
	Type  ast.Type
	Bytes []byte
}

// Int makes an int value.
func Int(v int64) Value { return MakeInt(ast.Int(), v) }

// MakeInt makes an integral value of type t.
func MakeInt(t ast.Type, v int64) Value {
	return Value{Type: t, Bytes: encodeUint(uint64(v), ast.Sizeof(t))}
}

// MakeFloat makes a floating value of type t.
func MakeFloat(t ast.Type, v float64) Value {
	return Value{Type: t, Bytes: encodeFloat(v, t)}
}

// Bool makes a bool value.
func Bool(b bool) Value {
	return Value{Type: ast.Bool(), Bytes: encodeBool(b)}
}

// Pointer makes a pointer value of type t.
func Pointer(t ast.Type, a Addr) Value {
	return Value{Type: t, Bytes: encodeUint(uint64(a), ast.PtrSize)}
}

// Int reads an integral value, extended by the signedness of its type.
func (v Value) Int() int64 { return intValue(v.Bytes, v.Type) }

// Uint reads an integral value without sign extension.
func (v Value) Uint() uint64 { return getUint(v.Bytes) }

// Float reads a floating value.
func (v Value) Float() float64 {
	s, ok := floatSize(v.Type)
	if !ok {
		return float64(v.Int())
	}
	return getFloat(v.Bytes, s)
}

// Bool reads a truth value.
func (v Value) Bool() bool {
	for _, b := range v.Bytes {
		if b != 0 {
			return true
		}
	}
	return false
}

// Addr reads a pointer value.
func (v Value) Addr() Addr { return Addr(getUint(v.Bytes)) }

// Array splits a dynamic array into its length and pointer.
func (v Value) Array() (length uint64, ptr Addr) {
	b := resize(v.Bytes, 2*ast.PtrSize)
	return getUint(b[:ast.PtrSize]), Addr(getUint(b[ast.PtrSize:]))
}

func arrayValue(t ast.Type, length uint64, ptr Addr) Value {
	b := make([]byte, 2*ast.PtrSize)
	putUint(b[:ast.PtrSize], length)
	putUint(b[ast.PtrSize:], uint64(ptr))
	return Value{Type: t, Bytes: b}
}

// Load reads a value of type t at a.
func (m *Machine) Load(a Addr, t ast.Type) Value {
	return Value{Type: t, Bytes: m.mem.load(a, sizeOf(t))}
}

// Store writes v at a.
func (m *Machine) Store(a Addr, v Value) {
	m.mem.store(a, v.Bytes)
}

// Elements returns the elements of a dynamic or static array value.
func (m *Machine) Elements(v Value) []Value {
	switch t := v.Type.(type) {
	case ast.Tsarray:
		size := sizeOf(t.Elem)
		out := make([]Value, t.Len)
		for i := range out {
			out[i] = Value{Type: t.Elem, Bytes: v.Bytes[int64(i)*size : int64(i+1)*size]}
		}
		return out
	case ast.Tdarray:
		n, p := v.Array()
		size := sizeOf(t.Elem)
		out := make([]Value, n)
		for i := range out {
			out[i] = m.Load(p.add(int64(i)*size), t.Elem)
		}
		return out
	}
	return nil
}

// ReadString decodes a character array value.
func (m *Machine) ReadString(v Value) string {
	at, ok := v.Type.(ast.Tdarray)
	if !ok {
		return ""
	}
	n, p := v.Array()
	if n == 0 {
		return ""
	}
	ct, _ := at.Elem.(ast.Tchar)
	unit := ct.Size.Bytes()
	raw := m.mem.load(p, int64(n)*unit)
	switch ct.Size {
	case ast.C16:
		units := make([]uint16, n)
		for i := range units {
			units[i] = uint16(getUint(raw[2*i : 2*i+2]))
		}
		return string(utf16.Decode(units))
	case ast.C32:
		runes := make([]rune, n)
		for i := range runes {
			runes[i] = rune(getUint(raw[4*i : 4*i+4]))
		}
		return string(runes)
	}
	return string(raw)
}

// NewString allocates a UTF-8 string and returns it as a string value.
func (m *Machine) NewString(s string) Value {
	if s == "" {
		return arrayValue(ast.String(), 0, 0)
	}
	return arrayValue(ast.String(), uint64(len(s)), m.mem.allocBytes([]byte(s)))
}

// NewArray allocates a dynamic array holding elems.
func (m *Machine) NewArray(t ast.Type, elems ...Value) Value {
	if len(elems) == 0 {
		return arrayValue(t, 0, 0)
	}
	size := sizeOf(ast.ElemType(t))
	p := m.mem.alloc(size * int64(len(elems)))
	for i, e := range elems {
		m.mem.store(p.add(int64(i)*size), resize(e.Bytes, size))
	}
	return arrayValue(t, uint64(len(elems)), p)
}

// Global reads the current value of the global variable named name.
func (m *Machine) Global(name string) (Value, bool) {
	for _, g := range m.prog.Globals {
		if g.Name == name {
			return m.Load(m.globalAddr(g), g.Type), true
		}
	}
	return Value{}, false
}
