package ast

// PtrSize is the machine word and pointer size; layouts assume 64-bit targets.
const PtrSize = 8

// Sizeof returns the storage size of a type in bytes.
func Sizeof(t Type) int64 {
	switch typ := t.(type) {
	case Tvoid:
		return 1
	case Tbool:
		return 1
	case Tint:
		return typ.Size.Bytes()
	case Tchar:
		return typ.Size.Bytes()
	case Tfloat:
		return floatBytes(typ.Size)
	case Timaginary:
		return floatBytes(typ.Size)
	case Tcomplex:
		return 2 * floatBytes(typ.Size)
	case Tpointer, Tclass, Taarray, Tnull, Tfunction:
		return PtrSize
	case Tdarray, Tdelegate:
		return 2 * PtrSize
	case Tsarray:
		return typ.Len * Sizeof(typ.Elem)
	case Tstruct:
		return typ.Decl.Size
	case Tinstance:
		return typ.Decl.Size
	case Ttuple:
		var size int64
		for _, e := range typ.Elems {
			size = alignUp(size, Alignof(e)) + Sizeof(e)
		}
		return size
	}
	return PtrSize
}

// Alignof returns the alignment of a type in bytes.
func Alignof(t Type) int64 {
	switch typ := t.(type) {
	case Tsarray:
		return Alignof(typ.Elem)
	case Tcomplex:
		return floatAlign(typ.Size)
	case Tfloat:
		return floatAlign(typ.Size)
	case Timaginary:
		return floatAlign(typ.Size)
	case Tdarray, Tdelegate:
		return PtrSize
	case Tstruct:
		return typ.Decl.Align
	case Tinstance:
		return typ.Decl.Align
	case Ttuple:
		var a int64 = 1
		for _, e := range typ.Elems {
			if ea := Alignof(e); ea > a {
				a = ea
			}
		}
		return a
	}
	return Sizeof(t)
}

// FloatPrecisionBytes is the number of significant bytes of a float
// format; the extended format pads 10 bytes of data to 16.
func FloatPrecisionBytes(s FloatSize) int64 {
	if s == F80 {
		return 10
	}
	return floatBytes(s)
}

func floatBytes(s FloatSize) int64 {
	switch s {
	case F32:
		return 4
	case F64:
		return 8
	}
	return 16
}

func floatAlign(s FloatSize) int64 {
	return floatBytes(s)
}

// alignUp rounds offset up to a multiple of align
func alignUp(offset, align int64) int64 {
	if align <= 1 {
		return offset
	}
	return (offset + align - 1) / align * align
}

// NewField creates an unplaced field.
func NewField(name string, t Type) *Field {
	return &Field{Name: name, Type: t}
}

// NewStruct creates a struct declaration and fixes its layout.
func NewStruct(name string, fields ...*Field) *StructDecl {
	sd := &StructDecl{Name: name, Fields: fields, ZeroInit: true}
	sd.Layout()
	return sd
}

// NewUnion creates a union declaration and fixes its layout.
func NewUnion(name string, fields ...*Field) *StructDecl {
	sd := &StructDecl{Name: name, Fields: fields, IsUnion: true, ZeroInit: true}
	sd.Layout()
	return sd
}

// Layout assigns field offsets, size and alignment. It is called once
// while the declaration is built; lowering never changes the result.
func (s *StructDecl) Layout() {
	var offset, maxAlign int64 = 0, 1
	for i, f := range s.Fields {
		f.Index = i
		a := Alignof(f.Type)
		if a > maxAlign {
			maxAlign = a
		}
		if s.IsUnion {
			f.Offset = 0
			if sz := Sizeof(f.Type); sz > offset {
				offset = sz
			}
			continue
		}
		offset = alignUp(offset, a)
		f.Offset = offset
		offset += Sizeof(f.Type)
		if !IsZeroInit(f.Type) {
			s.ZeroInit = false
		}
	}
	if offset == 0 {
		// Empty structs still occupy one byte.
		offset = 1
	}
	s.Align = maxAlign
	s.Size = alignUp(offset, maxAlign)
}

// AddContext appends the hidden enclosing-context field of a nested
// struct and recomputes the layout.
func (s *StructDecl) AddContext(outer *FuncDecl) *Field {
	f := NewField("this", VoidPtr())
	s.Fields = append(s.Fields, f)
	s.VThis = f
	s.Outer = outer
	s.Layout()
	return f
}

// classHeader is the vtbl pointer plus the monitor
const classHeader = 2 * PtrSize

// NewClass creates a class declaration; fields are placed after the
// header and the base class fields.
func NewClass(name string, base *ClassDecl, fields ...*Field) *ClassDecl {
	cd := &ClassDecl{Name: name, Base: base, Fields: fields}
	cd.Layout()
	return cd
}

// Layout assigns class field offsets.
func (c *ClassDecl) Layout() {
	offset := int64(classHeader)
	if c.Base != nil {
		offset = c.Base.Size
	}
	var maxAlign int64 = PtrSize
	for i, f := range c.Fields {
		f.Index = i
		a := Alignof(f.Type)
		if a > maxAlign {
			maxAlign = a
		}
		offset = alignUp(offset, a)
		f.Offset = offset
		offset += Sizeof(f.Type)
	}
	c.Align = maxAlign
	c.Size = alignUp(offset, maxAlign)
}

// AddContext appends the hidden outer-context field of a nested class.
func (c *ClassDecl) AddContext(outerFunc *FuncDecl, outerClass *ClassDecl) *Field {
	f := NewField("this", VoidPtr())
	c.Fields = append(c.Fields, f)
	c.VThis = f
	c.OuterFunc = outerFunc
	c.OuterClass = outerClass
	c.Layout()
	return f
}

// VtblSlots returns the number of vtable entries including the classinfo.
func (c *ClassDecl) VtblSlots() int {
	return len(c.Vtbl) + 1
}
