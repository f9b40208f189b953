package libcall

import (
	"strings"
	"testing"
)

func TestEveryEntryHasSignature(t *testing.T) {
	for _, id := range All() {
		sig := Lookup(id)
		if sig.Name == "" {
			t.Errorf("id %d has no name", int(id))
		}
		if sig.Return == nil {
			t.Errorf("%s has no return type", sig.Name)
		}
	}
}

func TestLookupUnknownPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for unknown id")
		}
	}()
	Lookup(numIDs + 3)
}

func TestNamesAreUnique(t *testing.T) {
	seen := map[string]ID{}
	for _, id := range All() {
		name := Lookup(id).Name
		if prev, ok := seen[name]; ok {
			t.Errorf("%s used by %d and %d", name, prev, id)
		}
		seen[name] = id
	}
}

func TestByName(t *testing.T) {
	id, ok := ByName("_d_arraycatnT")
	if !ok || id != ArrayCatNT {
		t.Fatalf("expected ArrayCatNT, got %v %v", id, ok)
	}
	if _, ok := ByName("no_such_entry"); ok {
		t.Error("expected lookup failure")
	}
}

func TestSignatureString(t *testing.T) {
	got := Lookup(Throw).String()
	if !strings.Contains(got, "_d_throw") || !strings.HasPrefix(got, "extern(C)") {
		t.Errorf("unexpected signature %q", got)
	}
	if !Lookup(ArrayBounds).NoReturn {
		t.Error("array bounds failure must not return")
	}
	if !Lookup(ArrayCatNT).Variadic {
		t.Error("n-ary concatenation is variadic")
	}
}
