package ast

import "testing"

func TestSizeofScalars(t *testing.T) {
	tests := []struct {
		typ  Type
		size int64
	}{
		{Bool(), 1},
		{Short(), 2},
		{Int(), 4},
		{Long(), 8},
		{DChar(), 4},
		{Double(), 8},
		{Real(), 16},
		{Tcomplex{Size: F64}, 16},
		{Pointer(Int()), 8},
		{DArray(Int()), 16},
		{AArray(Int(), Int()), 8},
		{Tdelegate{Func: Func(Void())}, 16},
		{SArray(Short(), 5), 10},
	}
	for _, tt := range tests {
		if got := Sizeof(tt.typ); got != tt.size {
			t.Errorf("Sizeof(%v) = %d, want %d", tt.typ, got, tt.size)
		}
	}
}

func TestStructLayout(t *testing.T) {
	a := NewField("a", Byte())
	b := NewField("b", Long())
	c := NewField("c", Short())
	sd := NewStruct("S", a, b, c)

	if a.Offset != 0 || b.Offset != 8 || c.Offset != 16 {
		t.Errorf("offsets = %d, %d, %d; want 0, 8, 16", a.Offset, b.Offset, c.Offset)
	}
	if sd.Size != 24 || sd.Align != 8 {
		t.Errorf("size/align = %d/%d, want 24/8", sd.Size, sd.Align)
	}
	if c.Index != 2 {
		t.Errorf("expected field index 2, got %d", c.Index)
	}
	if !sd.ZeroInit {
		t.Error("integer-only struct should be zero-init")
	}
}

func TestUnionLayout(t *testing.T) {
	ud := NewUnion("U", NewField("i", Int()), NewField("d", Double()))
	for _, f := range ud.Fields {
		if f.Offset != 0 {
			t.Errorf("union field %s at offset %d", f.Name, f.Offset)
		}
	}
	if ud.Size != 8 {
		t.Errorf("expected union size 8, got %d", ud.Size)
	}
}

func TestEmptyStructOccupiesOneByte(t *testing.T) {
	if sd := NewStruct("E"); sd.Size != 1 {
		t.Errorf("expected size 1, got %d", sd.Size)
	}
}

func TestNestedStructContext(t *testing.T) {
	outer := NewFunc("outer", Func(Void()))
	sd := NewStruct("N", NewField("x", Int()))
	f := sd.AddContext(outer)
	if !sd.IsNested() || f.Offset != 8 || sd.Size != 16 {
		t.Errorf("nested layout wrong: nested=%v offset=%d size=%d", sd.IsNested(), f.Offset, sd.Size)
	}
}

func TestClassLayout(t *testing.T) {
	base := NewClass("Base", nil, NewField("x", Int()))
	derived := NewClass("Derived", base, NewField("y", Long()))

	if base.Fields[0].Offset != 16 {
		t.Errorf("expected first field after header at 16, got %d", base.Fields[0].Offset)
	}
	if base.Size != 24 {
		t.Errorf("expected base size 24, got %d", base.Size)
	}
	if derived.Fields[0].Offset != 24 || derived.Size != 32 {
		t.Errorf("derived: offset %d size %d, want 24/32", derived.Fields[0].Offset, derived.Size)
	}
	if !base.IsBaseOf(derived) || derived.IsBaseOf(base) {
		t.Error("IsBaseOf is wrong")
	}
	if got := len(derived.AllFields()); got != 2 {
		t.Errorf("expected 2 fields, got %d", got)
	}
	if derived.FieldByName("x") == nil {
		t.Error("expected to find inherited field x")
	}
}
