// Package target describes what the backend can do natively on a given
// machine: which builtin primitives it expands inline and how large an
// aggregate may be while still travelling in registers.
package target

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-dc/pkg/ir"
)

// ErrUnknownTarget is returned for a target name with no built-in table
var ErrUnknownTarget = errors.New("unknown target")

// Target is a per-machine capability table
type Target struct {
	Name string
	// Primitives lists builtins the backend expands inline.
	Primitives map[ir.Builtin]bool
	// StructRegisterMax is the largest aggregate, in bytes, passed in
	// registers. Such aggregates may carry garbage in their padding and
	// must be compared field by field.
	StructRegisterMax int64
}

// Has reports whether b is available as an inline primitive.
func (t *Target) Has(b ir.Builtin) bool {
	return t != nil && t.Primitives[b]
}

// StructInRegisters reports whether an aggregate of the given size is
// passed in registers.
func (t *Target) StructInRegisters(size int64) bool {
	return t != nil && size <= t.StructRegisterMax
}

func (t *Target) String() string {
	return t.Name
}

// PrimitiveNames returns the available primitives, sorted.
func (t *Target) PrimitiveNames() []string {
	var names []string
	for b, ok := range t.Primitives {
		if ok {
			names = append(names, b.String())
		}
	}
	sort.Strings(names)
	return names
}

var common = []ir.Builtin{
	ir.Bmemcmp, ir.Bmemcpy, ir.Bmemset, ir.Bpow, ir.Bpowf, ir.Bpowl,
	ir.Bbswap32, ir.Bbswap64, ir.Bsqrtf, ir.Bsqrt, ir.Bsqrtl,
	ir.BvaArg, ir.BvaStart, ir.BehPointer, ir.Babort,
}

func set(groups ...[]ir.Builtin) map[ir.Builtin]bool {
	m := make(map[ir.Builtin]bool)
	for _, g := range groups {
		for _, b := range g {
			m[b] = true
		}
	}
	return m
}

// builtin tables, by name
var builtins = map[string]func() *Target{
	"x86_64": func() *Target {
		return &Target{
			Name: "x86_64",
			Primitives: set(common,
				[]ir.Builtin{ir.Bctz, ir.Bctzll, ir.Bclz, ir.Bclzll,
					ir.Bcosl, ir.Bsinl, ir.Bfabsl, ir.Brintl, ir.Bllroundl, ir.Bldexpl}),
			StructRegisterMax: 16,
		}
	},
	"aarch64": func() *Target {
		return &Target{
			Name: "aarch64",
			Primitives: set(common,
				[]ir.Builtin{ir.Bctz, ir.Bctzll, ir.Bclz, ir.Bclzll, ir.Bfabsl, ir.Brintl, ir.Bllroundl}),
			StructRegisterMax: 16,
		}
	},
	"x86": func() *Target {
		// No 64-bit bit-scan on 32-bit x86.
		return &Target{
			Name: "x86",
			Primitives: set(common,
				[]ir.Builtin{ir.Bctz, ir.Bclz, ir.Bcosl, ir.Bsinl, ir.Bfabsl, ir.Brintl}),
			StructRegisterMax: 8,
		}
	},
	"generic": func() *Target {
		return &Target{Name: "generic", Primitives: map[ir.Builtin]bool{}, StructRegisterMax: 0}
	},
}

// Names returns the built-in target names, sorted.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for n := range builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Lookup returns a fresh copy of a built-in target table.
func Lookup(name string) (*Target, error) {
	mk, ok := builtins[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownTarget, name)
	}
	return mk(), nil
}

// fileTarget is the YAML shape of a custom capability table
type fileTarget struct {
	Name              string   `yaml:"name"`
	Base              string   `yaml:"base"`
	Primitives        []string `yaml:"primitives"`
	Remove            []string `yaml:"remove"`
	StructRegisterMax *int64   `yaml:"struct_register_max"`
}

// Load decodes a capability table. A table may start from a built-in
// base and add or remove primitives.
func Load(r io.Reader) (*Target, error) {
	var ft fileTarget
	if err := yaml.NewDecoder(r).Decode(&ft); err != nil {
		return nil, fmt.Errorf("decode target: %w", err)
	}
	t := &Target{Name: ft.Name, Primitives: map[ir.Builtin]bool{}}
	if ft.Base != "" {
		base, err := Lookup(ft.Base)
		if err != nil {
			return nil, err
		}
		t.Primitives = base.Primitives
		t.StructRegisterMax = base.StructRegisterMax
		if t.Name == "" {
			t.Name = base.Name
		}
	}
	for _, name := range ft.Primitives {
		b, err := builtinByName(name)
		if err != nil {
			return nil, err
		}
		t.Primitives[b] = true
	}
	for _, name := range ft.Remove {
		b, err := builtinByName(name)
		if err != nil {
			return nil, err
		}
		delete(t.Primitives, b)
	}
	if ft.StructRegisterMax != nil {
		t.StructRegisterMax = *ft.StructRegisterMax
	}
	if t.Name == "" {
		t.Name = "custom"
	}
	return t, nil
}

// LoadFile reads a capability table from a YAML file.
func LoadFile(path string) (*Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func builtinByName(name string) (ir.Builtin, error) {
	for b := ir.Bmemcmp; b <= ir.Babort; b++ {
		if b.String() == name {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown primitive %q", name)
}
