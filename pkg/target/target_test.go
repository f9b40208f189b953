package target

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raymyers/ralph-dc/pkg/ir"
)

func TestBuiltinTargets(t *testing.T) {
	tests := []struct {
		name   string
		prim   ir.Builtin
		want   bool
		regMax int64
	}{
		{"x86_64", ir.Bctzll, true, 16},
		{"x86_64", ir.Bsqrtl, true, 16},
		{"aarch64", ir.Bcosl, false, 16},
		{"x86", ir.Bctz, true, 8},
		{"x86", ir.Bctzll, false, 8},
		{"generic", ir.Bbswap32, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name+"/"+tt.prim.String(), func(t *testing.T) {
			tgt, err := Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if got := tgt.Has(tt.prim); got != tt.want {
				t.Errorf("Has(%s) = %v, want %v", tt.prim, got, tt.want)
			}
			if tgt.StructRegisterMax != tt.regMax {
				t.Errorf("StructRegisterMax = %d, want %d", tgt.StructRegisterMax, tt.regMax)
			}
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("pdp11")
	if !errors.Is(err, ErrUnknownTarget) {
		t.Fatalf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestLookupReturnsCopies(t *testing.T) {
	a, _ := Lookup("x86_64")
	delete(a.Primitives, ir.Bctz)
	b, _ := Lookup("x86_64")
	if !b.Has(ir.Bctz) {
		t.Error("mutating one table must not affect another")
	}
}

func TestStructInRegisters(t *testing.T) {
	tgt, _ := Lookup("x86_64")
	if !tgt.StructInRegisters(16) || tgt.StructInRegisters(24) {
		t.Error("16-byte limit not honoured")
	}
	var none *Target
	if none.StructInRegisters(1) || none.Has(ir.Bctz) {
		t.Error("nil target has no capabilities")
	}
}

func TestLoad(t *testing.T) {
	src := `
name: tiny
base: x86_64
remove: [ctzll, clzll]
primitives: [cosl]
struct_register_max: 8
`
	tgt, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if tgt.Name != "tiny" || tgt.StructRegisterMax != 8 {
		t.Errorf("unexpected header %s/%d", tgt.Name, tgt.StructRegisterMax)
	}
	if tgt.Has(ir.Bctzll) || !tgt.Has(ir.Bctz) || !tgt.Has(ir.Bcosl) {
		t.Errorf("primitives wrong: %v", tgt.PrimitiveNames())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"bad primitive", "primitives: [teleport]"},
		{"bad base", "base: vax"},
		{"not yaml", "primitives: [unterminated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tt.src)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.yaml")
	if err := os.WriteFile(path, []byte("primitives: [bswap32]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tgt, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if tgt.Name != "custom" || !tgt.Has(ir.Bbswap32) || tgt.Has(ir.Bbswap64) {
		t.Errorf("unexpected table %s %v", tgt.Name, tgt.PrimitiveNames())
	}
}

func TestNames(t *testing.T) {
	got := strings.Join(Names(), ",")
	if got != "aarch64,generic,x86,x86_64" {
		t.Errorf("Names() = %s", got)
	}
}
