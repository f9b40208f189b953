package astyaml

import (
	"errors"
	"strings"
	"testing"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/config"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/irexec"
	"github.com/raymyers/ralph-dc/pkg/irgen"
	"github.com/raymyers/ralph-dc/pkg/target"
)

func decode(t *testing.T, src string) *ast.Module {
	t.Helper()
	mod, err := Decode([]byte(src), "test.yaml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return mod
}

// run lowers mod and loads it into a machine.
func run(t *testing.T, mod *ast.Module) *irexec.Machine {
	t.Helper()
	tgt, err := target.Lookup("x86_64")
	if err != nil {
		t.Fatal(err)
	}
	opts := config.Default()
	rep := &diag.Collector{Policy: diag.PolicyFrom(opts)}
	prog, err := irgen.NewUnit(opts, tgt, rep).LowerModule(mod)
	if err != nil {
		t.Fatalf("LowerModule: %v %v", err, rep.Diags)
	}
	m, err := irexec.New(prog)
	if err != nil {
		t.Fatalf("irexec.New: %v", err)
	}
	return m
}

func TestParseType(t *testing.T) {
	d := newDecoder("t")
	point := ast.NewStruct("Point", ast.NewField("x", ast.Int()))
	d.structs["Point"] = point

	tests := []struct {
		in   string
		want ast.Type
	}{
		{"int", ast.Int()},
		{"string", ast.String()},
		{"int[]", ast.DArray(ast.Int())},
		{"int[4]", ast.SArray(ast.Int(), 4)},
		{"int[][3]", ast.SArray(ast.DArray(ast.Int()), 3)},
		{"int[string]", ast.AArray(ast.String(), ast.Int())},
		{"Point*", ast.Pointer(ast.Tstruct{Decl: point})},
		{"wchar[]", ast.DArray(ast.WChar())},
		{"double[int[]]", ast.AArray(ast.DArray(ast.Int()), ast.Double())},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := d.parseType(tt.in)
			if err != nil {
				t.Fatalf("parseType(%q): %v", tt.in, err)
			}
			if !ast.Equal(got, tt.want) {
				t.Errorf("parseType(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}

	for _, in := range []string{"Pointless", "int[", "int]", "int&"} {
		if _, err := d.parseType(in); err == nil {
			t.Errorf("parseType(%q) succeeded", in)
		}
	}
}

const arith = `
module: calc
globals:
  - {name: total, type: long, init: 10}
funcs:
  - name: add
    params: [{name: a, type: int}, {name: b, type: int}]
    result: int
    body:
      - return: {add: [a, b]}
  - name: sumTo
    params: [{name: n, type: int}]
    result: long
    body:
      - var: acc
        type: long
        init: 0
      - for: {lt: [i, n]}
        init: {var: i, type: int, init: 0}
        incr: {postinc: i}
        body:
          - {assign: [acc, i], op: add}
      - {assign: [total, {add: [total, acc]}]}
      - return: acc
`

func TestDecodeAndRun(t *testing.T) {
	mod := decode(t, arith)
	if mod.Name != "calc" || len(mod.Funcs) != 2 || len(mod.Globals) != 1 {
		t.Fatalf("module = %s with %d funcs, %d globals", mod.Name, len(mod.Funcs), len(mod.Globals))
	}
	m := run(t, mod)
	if got, err := m.Call("add", irexec.Int(2), irexec.Int(40)); err != nil || got.Int() != 42 {
		t.Errorf("add(2, 40) = %v, %v; want 42", got.Int(), err)
	}
	got, err := m.Call("sumTo", irexec.Int(5))
	if err != nil || got.Int() != 10 {
		t.Errorf("sumTo(5) = %v, %v; want 10", got.Int(), err)
	}
	if total, ok := m.Global("total"); !ok || total.Int() != 20 {
		t.Errorf("total = %d, want 20", total.Int())
	}
}

const control = `
funcs:
  - name: classify
    params: [{name: s, type: string}]
    result: int
    body:
      - switch: s
        cases:
          - case: ["red", "crimson"]
            body: [{return: 1}]
          - case: "green"
            body: [{return: 2}]
          - default: [{return: 0}]
  - name: firstNeg
    params: [{name: a, type: "int[]"}]
    result: int
    body:
      - var: r
        init: -1
      - label: scan
        body:
          for: {lt: [i, {length: a}]}
          init: {var: i, type: size_t, init: 0}
          incr: {postinc: i}
          body:
            - if: {lt: [{index: [a, i]}, 0]}
              then:
                - {assign: [r, {cast: i, type: int}]}
                - break: scan
      - return: r
`

func TestControlFlow(t *testing.T) {
	m := run(t, decode(t, control))
	for in, want := range map[string]int64{"red": 1, "crimson": 1, "green": 2, "blue": 0, "": 0} {
		got, err := m.Call("classify", m.NewString(in))
		if err != nil || got.Int() != want {
			t.Errorf("classify(%q) = %d, %v; want %d", in, got.Int(), err, want)
		}
	}

	arr := m.NewArray(ast.DArray(ast.Int()), irexec.Int(3), irexec.Int(1), irexec.Int(-4), irexec.Int(-2))
	if got, err := m.Call("firstNeg", arr); err != nil || got.Int() != 2 {
		t.Errorf("firstNeg = %d, %v; want 2", got.Int(), err)
	}
	none := m.NewArray(ast.DArray(ast.Int()), irexec.Int(1))
	if got, err := m.Call("firstNeg", none); err != nil || got.Int() != -1 {
		t.Errorf("firstNeg without negatives = %d, %v; want -1", got.Int(), err)
	}
}

const scoped = `
globals:
  - {name: log, type: int, init: 0}
classes:
  - {name: Oops}
funcs:
  - name: note
    params: [{name: k, type: int}]
    body:
      - {assign: [log, {add: [{mul: [log, 10]}, k]}]}
  - name: work
    params: [{name: fail, type: bool}]
    body:
      - var: a
        type: int
        dtor: {call: note, args: [1]}
      - var: b
        type: int
        dtor: {call: note, args: [2]}
      - if: fail
        then: {throw: {new: Oops}}
      - {call: note, args: [3]}
  - name: guarded
    result: int
    body:
      - try: [{call: work, args: [true]}]
        catch:
          - {type: Oops, var: e, body: [{call: note, args: [9]}]}
      - return: log
`

func TestDestructorScopes(t *testing.T) {
	mod := decode(t, scoped)
	work := mod.Funcs[1]
	body := work.Body.(*ast.CompoundStmt)
	if len(body.Stmts) != 2 {
		t.Fatalf("work body has %d statements, want declaration and try/finally", len(body.Stmts))
	}
	if _, ok := body.Stmts[1].(*ast.TryFinallyStmt); !ok {
		t.Fatalf("rest of scope is %T, want *ast.TryFinallyStmt", body.Stmts[1])
	}

	t.Run("normal exit", func(t *testing.T) {
		m := run(t, mod)
		if _, err := m.Call("work", irexec.Bool(false)); err != nil {
			t.Fatal(err)
		}
		if log, _ := m.Global("log"); log.Int() != 321 {
			t.Errorf("log = %d, want 321", log.Int())
		}
	})
	t.Run("exception", func(t *testing.T) {
		m := run(t, mod)
		got, err := m.Call("guarded")
		if err != nil {
			t.Fatal(err)
		}
		if got.Int() != 219 {
			t.Errorf("guarded() = %d, want 219", got.Int())
		}
	})
}

func TestIntrinsicTagging(t *testing.T) {
	mod := decode(t, `
funcs:
  - name: sqrt
    module: core.math
    params: [{name: x, type: double}]
    result: double
  - name: hyp
    params: [{name: a, type: double}, {name: b, type: double}]
    result: double
    body:
      - return: {call: sqrt, args: [{add: [{mul: [a, a]}, {mul: [b, b]}]}]}
`)
	if in := mod.Funcs[0].Intrinsic; in != ast.IntrinsicSqrt {
		t.Fatalf("sqrt intrinsic = %v, want %v", in, ast.IntrinsicSqrt)
	}
	m := run(t, mod)
	got, err := m.Call("hyp", irexec.MakeFloat(ast.Double(), 3), irexec.MakeFloat(ast.Double(), 4))
	if err != nil || got.Float() != 5 {
		t.Errorf("hyp(3, 4) = %v, %v; want 5", got.Float(), err)
	}
}

func TestLocations(t *testing.T) {
	mod := decode(t, `funcs:
  - name: get
    params: [{name: a, type: "int[]"}]
    result: int
    body:
      - return: {index: [a, 7]}
`)
	m := run(t, mod)
	_, err := m.Call("get", m.NewArray(ast.DArray(ast.Int()), irexec.Int(1)))
	var fail *irexec.Failure
	if !errors.As(err, &fail) {
		t.Fatalf("got %v, want a bounds failure", err)
	}
	if fail.File != "test.yaml" || fail.Line != 6 {
		t.Errorf("failure at %s:%d, want test.yaml:6", fail.File, fail.Line)
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []string
	}{
		{"undefined name", "funcs:\n  - name: f\n    body:\n      - return: nope\n", []string{"line 4", "undefined identifier nope"}},
		{"unknown type", "globals:\n  - {name: g, type: quux}\n", []string{"line 2", `unknown type "quux"`}},
		{"missing label", "funcs:\n  - name: f\n    body:\n      - goto: out\n", []string{"label out is not defined in f"}},
		{"bad form", "funcs:\n  - name: f\n    body:\n      - {frobnicate: 1}\n", []string{`unknown expression form "frobnicate"`}},
		{"duplicate struct", "structs:\n  - {name: S}\n  - {name: S}\n", []string{"S is already declared"}},
		{"catch non-class", "funcs:\n  - name: f\n    body:\n      - try: []\n        catch: [{type: int, body: []}]\n", []string{"can only catch class objects"}},
		{"several at once", "funcs:\n  - name: f\n    body:\n      - return: a\n      - return: b\n", []string{"identifier a", "identifier b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.src), "bad.yaml")
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("err = %v, want ErrInvalid", err)
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestSyntaxError(t *testing.T) {
	_, err := Decode([]byte("funcs: [\n"), "broken.yaml")
	if err == nil || !strings.Contains(err.Error(), "broken.yaml") {
		t.Errorf("err = %v, want a yaml error naming the file", err)
	}
}
