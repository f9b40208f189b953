package irgen

import (
	"errors"
	"math"
	"testing"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/config"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/irexec"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/target"
)

var intArr = ast.DArray(ast.Int())

func newUnit(t *testing.T, opts config.Options) (*Unit, *diag.Collector) {
	t.Helper()
	tgt, err := target.Lookup("x86_64")
	if err != nil {
		t.Fatalf("target: %v", err)
	}
	rep := &diag.Collector{Policy: diag.PolicyFrom(opts)}
	return NewUnit(opts, tgt, rep), rep
}

// lowerOK lowers mod and fails the test on any reported error.
func lowerOK(t *testing.T, opts config.Options, mod *ast.Module) *ir.Program {
	t.Helper()
	u, rep := newUnit(t, opts)
	prog, err := u.LowerModule(mod)
	if err != nil {
		t.Fatalf("LowerModule: %v %v", err, rep.Diags)
	}
	return prog
}

// exec lowers mod with the default options and loads it.
func exec(t *testing.T, mod *ast.Module) *irexec.Machine {
	t.Helper()
	return load(t, lowerOK(t, config.Default(), mod))
}

func load(t *testing.T, prog *ir.Program) *irexec.Machine {
	t.Helper()
	m, err := irexec.New(prog)
	if err != nil {
		t.Fatalf("irexec.New: %v", err)
	}
	return m
}

func module(globals []*ast.VarDecl, funcs ...*ast.FuncDecl) *ast.Module {
	return &ast.Module{Name: "t", Globals: globals, Funcs: funcs}
}

func call(t *testing.T, m *irexec.Machine, name string, args ...irexec.Value) irexec.Value {
	t.Helper()
	v, err := m.Call(name, args...)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return v
}

func global(t *testing.T, m *irexec.Machine, name string) irexec.Value {
	t.Helper()
	v, ok := m.Global(name)
	if !ok {
		t.Fatalf("no global %s", name)
	}
	return v
}

func ints(m *irexec.Machine, v irexec.Value) []int64 {
	var out []int64
	for _, e := range m.Elements(v) {
		out = append(out, e.Int())
	}
	return out
}

func equalInts(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tracer is a global int and a function mark(k) that appends the digit
// k to it and returns k.
type tracer struct {
	log  *ast.VarDecl
	mark *ast.FuncDecl
}

func newTracer() tracer {
	log := &ast.VarDecl{Name: "trace", Type: ast.Int()}
	k := ast.NewParam("k", ast.Int())
	mark := ast.NewFunc("mark", ast.Func(ast.Int(), ast.Int()), k)
	next := ast.Bin(ast.OpAdd, ast.Bin(ast.OpMul, ast.Ref(log), ast.IntLit(10), ast.Int()), ast.Ref(k), ast.Int())
	mark.Body = ast.Stmts(ast.Do(ast.Set(ast.Ref(log), next)), ast.Return(ast.Ref(k)))
	return tracer{log: log, mark: mark}
}

func (tr tracer) call(k int64) ast.Expr {
	return ast.CallOf(ast.Fn(tr.mark), ast.Int(), ast.IntLit(k))
}

func (tr tracer) module(funcs ...*ast.FuncDecl) *ast.Module {
	return module([]*ast.VarDecl{tr.log}, append([]*ast.FuncDecl{tr.mark}, funcs...)...)
}

func (tr tracer) read(t *testing.T, m *irexec.Machine) int64 {
	t.Helper()
	return global(t, m, "trace").Int()
}

func TestEvaluationOrder(t *testing.T) {
	tr := newTracer()
	l, r := tr.call(1), tr.call(2)
	a, b := ast.NewParam("a", ast.Int()), ast.NewParam("b", ast.Int())
	pair := ast.NewFunc("pair", ast.Func(ast.Int(), ast.Int(), ast.Int()), a, b)
	pair.Body = ast.Return(ast.Bin(ast.OpSub, ast.Ref(a), ast.Ref(b), ast.Int()))
	asInt := func(e ast.Expr) ast.Expr { return ast.CastTo(e, ast.Int()) }

	tests := []struct {
		name string
		expr ast.Expr
	}{
		{"add", ast.Bin(ast.OpAdd, l, r, ast.Int())},
		{"sub", ast.Bin(ast.OpSub, l, r, ast.Int())},
		{"mul", ast.Bin(ast.OpMul, l, r, ast.Int())},
		{"div", ast.Bin(ast.OpDiv, l, r, ast.Int())},
		{"mod", ast.Bin(ast.OpMod, l, r, ast.Int())},
		{"and", ast.Bin(ast.OpAnd, l, r, ast.Int())},
		{"or", ast.Bin(ast.OpOr, l, r, ast.Int())},
		{"xor", ast.Bin(ast.OpXor, l, r, ast.Int())},
		{"shl", ast.Bin(ast.OpShl, l, r, ast.Int())},
		{"shr", ast.Bin(ast.OpShr, l, r, ast.Int())},
		{"lt", asInt(ast.Cmp(ast.OpLt, l, r))},
		{"eq", asInt(ast.Cmp(ast.OpEq, l, r))},
		{"andand", asInt(ast.AndAnd(l, r, ast.Bool()))},
		{"comma", ast.CommaOf(l, r)},
		{"call", ast.CallOf(ast.Fn(pair), ast.Int(), l, r)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := ast.NewFunc("run", ast.Func(ast.Int()))
			run.Body = ast.Return(tt.expr)
			m := exec(t, tr.module(pair, run))
			call(t, m, "run")
			if got := tr.read(t, m); got != 12 {
				t.Errorf("trace = %d, want 12", got)
			}
		})
	}
}

func TestArrayEquality(t *testing.T) {
	a, b := ast.NewParam("a", intArr), ast.NewParam("b", intArr)
	eq := ast.NewFunc("eq", ast.Func(ast.Bool(), intArr, intArr), a, b)
	eq.Body = ast.Return(ast.Cmp(ast.OpEq, ast.Ref(a), ast.Ref(b)))

	c, d := ast.NewParam("c", intArr), ast.NewParam("d", intArr)
	mutEq := ast.NewFunc("mutEq", ast.Func(ast.Bool(), intArr, intArr), c, d)
	mutEq.Body = ast.Stmts(
		ast.Do(ast.Set(ast.IndexOf(ast.Ref(c), ast.IntLit(1)), ast.IntLit(9))),
		ast.Return(ast.Cmp(ast.OpEq, ast.Ref(c), ast.Ref(d))),
	)
	m := exec(t, module(nil, eq, mutEq))
	arr := func(vs ...int64) irexec.Value {
		elems := make([]irexec.Value, len(vs))
		for i, v := range vs {
			elems[i] = irexec.Int(v)
		}
		return m.NewArray(intArr, elems...)
	}

	tests := []struct {
		name string
		fn   string
		a, b irexec.Value
		want bool
	}{
		{"same", "eq", arr(1, 2, 3), arr(1, 2, 3), true},
		{"different element", "eq", arr(1, 2, 3), arr(1, 5, 3), false},
		{"shorter left", "eq", arr(1, 2), arr(1, 2, 3), false},
		{"shorter right", "eq", arr(1, 2, 3), arr(1, 2), false},
		{"both empty", "eq", arr(), arr(), true},
		{"mutated", "mutEq", arr(1, 2, 3), arr(1, 2, 3), false},
		{"mutated to match", "mutEq", arr(1, 2, 3), arr(1, 9, 3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := call(t, m, tt.fn, tt.a, tt.b).Bool(); got != tt.want {
				t.Errorf("%s = %v, want %v", tt.fn, got, tt.want)
			}
		})
	}
}

func TestFloatArrayEqualityUsesRuntime(t *testing.T) {
	dblArr := ast.DArray(ast.Double())
	a, b := ast.NewParam("a", dblArr), ast.NewParam("b", dblArr)
	eq := ast.NewFunc("feq", ast.Func(ast.Bool(), dblArr, dblArr), a, b)
	eq.Body = ast.Return(ast.Cmp(ast.OpEq, ast.Ref(a), ast.Ref(b)))
	m := exec(t, module(nil, eq))
	arr := func(vs ...float64) irexec.Value {
		elems := make([]irexec.Value, len(vs))
		for i, v := range vs {
			elems[i] = irexec.MakeFloat(ast.Double(), v)
		}
		return m.NewArray(dblArr, elems...)
	}

	tests := []struct {
		name string
		a, b irexec.Value
		want bool
	}{
		{"signed zeros", arr(0, math.Copysign(0, -1)), arr(0, 0), true},
		{"nan", arr(math.NaN()), arr(math.NaN()), false},
		{"values", arr(1.5, 2.5), arr(1.5, 2.5), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clear(m.Calls)
			if got := call(t, m, "feq", tt.a, tt.b).Bool(); got != tt.want {
				t.Errorf("feq = %v, want %v", got, tt.want)
			}
			if n := m.Calls[libcall.ArrayEq2]; n != 1 {
				t.Errorf("%s called %d times, want 1", libcall.ArrayEq2, n)
			}
		})
	}
}

func TestBoundsCheck(t *testing.T) {
	a, i := ast.NewParam("a", intArr), ast.NewParam("i", ast.Int())
	get := ast.NewFunc("get", ast.Func(ast.Int(), intArr, ast.Int()), a, i)
	ix := ast.IndexOf(ast.Ref(a), ast.Ref(i))
	ix.Loc = ast.Loc{File: "bounds.d", Line: 12}
	get.Body = ast.Return(ix)
	m := exec(t, module(nil, get))

	const n = 5
	elems := make([]irexec.Value, n)
	for k := range elems {
		elems[k] = irexec.Int(int64(100 + k))
	}
	arr := m.NewArray(intArr, elems...)

	for k := int64(0); k < n; k++ {
		if got := call(t, m, "get", arr, irexec.Int(k)).Int(); got != 100+k {
			t.Errorf("get(%d) = %d, want %d", k, got, 100+k)
		}
	}
	for _, k := range []int64{n, n + 1, 1000, -1} {
		_, err := m.Call("get", arr, irexec.Int(k))
		var fail *irexec.Failure
		if !errors.As(err, &fail) {
			t.Errorf("get(%d): got %v, want an array bounds failure", k, err)
			continue
		}
		if fail.Call != libcall.ArrayBounds || fail.File != "bounds.d" || fail.Line != 12 {
			t.Errorf("get(%d): failure %+v", k, fail)
		}
	}
}

func TestSliceLength(t *testing.T) {
	a := ast.NewParam("a", intArr)
	lo, hi := ast.NewParam("lo", ast.Int()), ast.NewParam("hi", ast.Int())
	slice := ast.NewFunc("slice", ast.Func(intArr, intArr, ast.Int(), ast.Int()), a, lo, hi)
	slice.Body = ast.Return(ast.SliceOf(ast.Ref(a), ast.Ref(lo), ast.Ref(hi)))

	b := ast.NewParam("b", intArr)
	lo2, hi2 := ast.NewParam("lo", ast.Int()), ast.NewParam("hi", ast.Int())
	length := ast.NewFunc("sliceLen", ast.Func(ast.SizeT(), intArr, ast.Int(), ast.Int()), b, lo2, hi2)
	length.Body = ast.Return(ast.LengthOf(ast.SliceOf(ast.Ref(b), ast.Ref(lo2), ast.Ref(hi2))))

	m := exec(t, module(nil, slice, length))
	const n = 6
	src := make([]int64, n)
	elems := make([]irexec.Value, n)
	for k := range elems {
		src[k] = int64(10 * (k + 1))
		elems[k] = irexec.Int(src[k])
	}
	arr := m.NewArray(intArr, elems...)

	for l := int64(0); l <= n; l++ {
		for h := l; h <= n; h++ {
			got := ints(m, call(t, m, "slice", arr, irexec.Int(l), irexec.Int(h)))
			if !equalInts(got, src[l:h]) {
				t.Errorf("a[%d..%d] = %v, want %v", l, h, got, src[l:h])
			}
			if n := call(t, m, "sliceLen", arr, irexec.Int(l), irexec.Int(h)).Uint(); n != uint64(h-l) {
				t.Errorf("a[%d..%d].length = %d, want %d", l, h, n, h-l)
			}
		}
	}

	for _, bad := range [][2]int64{{3, 2}, {0, n + 1}, {n + 1, n + 2}} {
		_, err := m.Call("slice", arr, irexec.Int(bad[0]), irexec.Int(bad[1]))
		var fail *irexec.Failure
		if !errors.As(err, &fail) || fail.Call != libcall.ArrayBounds {
			t.Errorf("a[%d..%d]: got %v, want an array bounds failure", bad[0], bad[1], err)
		}
	}
}

func TestDestructorOrdering(t *testing.T) {
	tr := newTracer()
	oops := ast.NewClass("Oops", nil)
	boom := ast.NewFunc("boom", ast.Func(ast.Int()))
	boom.Body = ast.Stmts(&ast.ThrowStmt{X: ast.New{Node: ast.Node{Typ: ast.Tclass{Decl: oops}}, NewType: ast.Tclass{Decl: oops}}})

	// scoped declares A, B and C, each destroyed by mark(1..3), then
	// evaluates last.
	scoped := func(last ast.Expr) ast.Expr {
		decl := func(name string, k int64) ast.Expr {
			v := ast.NewLocal(name, ast.Int())
			v.Dtor = tr.call(k)
			return ast.Decl(v)
		}
		return ast.CommaOf(decl("A", 1), ast.CommaOf(decl("B", 2), ast.CommaOf(decl("C", 3), last)))
	}
	raise := ast.CommaOf(tr.call(4), ast.CallOf(ast.Fn(boom), ast.Int()))

	normal := ast.NewFunc("normal", ast.Func(ast.Int()))
	normal.Body = ast.Return(scoped(tr.call(4)))
	uncaught := ast.NewFunc("uncaught", ast.Func(ast.Int()))
	uncaught.Body = ast.Return(scoped(raise))
	caught := ast.NewFunc("caught", ast.Func(ast.Int()))
	caught.Body = ast.Stmts(
		&ast.TryCatchStmt{
			Body:    ast.Do(scoped(raise)),
			Catches: []*ast.Catch{{Type: ast.Tclass{Decl: oops}, Handler: ast.Do(tr.call(9))}},
		},
		ast.Return(ast.IntLit(0)),
	)
	mod := tr.module(boom, normal, uncaught, caught)
	mod.Classes = []*ast.ClassDecl{oops}
	prog := lowerOK(t, config.Default(), mod)

	t.Run("normal exit", func(t *testing.T) {
		m := load(t, prog)
		if got := call(t, m, "normal").Int(); got != 4 {
			t.Errorf("normal() = %d, want 4", got)
		}
		if got := tr.read(t, m); got != 4321 {
			t.Errorf("trace = %d, want 4321", got)
		}
	})
	t.Run("exception", func(t *testing.T) {
		m := load(t, prog)
		_, err := m.Call("uncaught")
		var thrown *irexec.Thrown
		if !errors.As(err, &thrown) || thrown.Class != oops {
			t.Fatalf("uncaught(): got %v, want an Oops exception", err)
		}
		if got := tr.read(t, m); got != 4321 {
			t.Errorf("trace = %d, want 4321", got)
		}
	})
	t.Run("exception caught", func(t *testing.T) {
		m := load(t, prog)
		call(t, m, "caught")
		if got := tr.read(t, m); got != 43219 {
			t.Errorf("trace = %d, want 43219", got)
		}
	})
}

func TestAppendSlotSafety(t *testing.T) {
	t.Run("many appends", func(t *testing.T) {
		arr := &ast.VarDecl{Name: "arr", Type: intArr}
		n := ast.NewParam("n", ast.Int())
		i := ast.NewLocal("i", ast.Int())
		fill := ast.NewFunc("fill", ast.Func(ast.SizeT(), ast.Int()), n)
		fill.Body = ast.Stmts(
			&ast.ForStmt{
				Init: ast.DeclStmt(i, ast.IntLit(0)),
				Cond: ast.Cmp(ast.OpLt, ast.Ref(i), ast.Ref(n)),
				Incr: ast.Set(ast.Ref(i), ast.Bin(ast.OpAdd, ast.Ref(i), ast.IntLit(1), ast.Int())),
				Body: ast.Do(ast.Append(ast.Ref(arr), ast.Bin(ast.OpMul, ast.Ref(i), ast.IntLit(3), ast.Int()))),
			},
			ast.Return(ast.LengthOf(ast.Ref(arr))),
		)
		m := exec(t, module([]*ast.VarDecl{arr}, fill))

		const count = 2000
		if got := call(t, m, "fill", irexec.Int(count)).Uint(); got != count {
			t.Fatalf("fill(%d) = %d", count, got)
		}
		got := ints(m, global(t, m, "arr"))
		if len(got) != count {
			t.Fatalf("len(arr) = %d, want %d", len(got), count)
		}
		for k, v := range got {
			if v != int64(3*k) {
				t.Fatalf("arr[%d] = %d, want %d", k, v, 3*k)
			}
		}
		if n := m.Calls[libcall.ArrayAppendCTX]; n != count {
			t.Errorf("%s called %d times, want %d", libcall.ArrayAppendCTX, n, count)
		}
	})

	t.Run("value appends first", func(t *testing.T) {
		arr := &ast.VarDecl{Name: "arr", Type: intArr}
		push := ast.NewFunc("push", ast.Func(ast.Int()))
		push.Body = ast.Stmts(ast.Do(ast.Append(ast.Ref(arr), ast.IntLit(5))), ast.Return(ast.IntLit(7)))
		nest := ast.NewFunc("nest", ast.Func(ast.Void()))
		nest.Body = ast.Do(ast.Append(ast.Ref(arr), ast.CallOf(ast.Fn(push), ast.Int())))
		m := exec(t, module([]*ast.VarDecl{arr}, push, nest))

		call(t, m, "nest")
		if got := ints(m, global(t, m, "arr")); !equalInts(got, []int64{5, 7}) {
			t.Errorf("arr = %v, want [5 7]", got)
		}
	})
}

// stringSwitch builds int name(s) { switch (s) { ... default: 0 } } with
// the given cases in source order.
func stringSwitch(name string, strT ast.Type, cases map[string]int64, order []string) *ast.FuncDecl {
	s := ast.NewParam("s", strT)
	r := ast.NewLocal("r", ast.Int())
	fd := ast.NewFunc(name, ast.Func(ast.Int(), strT), s)
	set := func(v int64) ast.Stmt {
		return ast.Stmts(ast.Do(ast.Set(ast.Ref(r), ast.IntLit(v))), &ast.BreakStmt{})
	}
	sw := &ast.SwitchStmt{Cond: ast.Ref(s)}
	var body []ast.Stmt
	for _, k := range order {
		c := &ast.CaseStmt{Exp: ast.Str(k), Body: set(cases[k])}
		sw.Cases = append(sw.Cases, c)
		body = append(body, c)
	}
	sw.Default = &ast.DefaultStmt{Body: set(0)}
	sw.Body = ast.Stmts(append(body, sw.Default)...)
	fd.Body = ast.Stmts(ast.DeclStmt(r, ast.IntLit(-1)), sw, ast.Return(ast.Ref(r)))
	return fd
}

func TestStringSwitch(t *testing.T) {
	cases := map[string]int64{"a": 1, "bb": 2, "ccc": 3}
	narrow := stringSwitch("pick", ast.String(), cases, []string{"ccc", "a", "bb"})
	wstring := ast.DArray(ast.WChar())
	wide := stringSwitch("wpick", wstring, cases, []string{"bb", "ccc", "a"})
	m := exec(t, module(nil, narrow, wide))

	wstr := func(s string) irexec.Value {
		var elems []irexec.Value
		for _, r := range s {
			elems = append(elems, irexec.MakeInt(ast.WChar(), int64(r)))
		}
		return m.NewArray(wstring, elems...)
	}
	tests := []struct {
		in   string
		want int64
	}{
		{"a", 1}, {"bb", 2}, {"ccc", 3}, {"zzz", 0}, {"", 0}, {"b", 0}, {"cc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			clear(m.Calls)
			if got := call(t, m, "pick", m.NewString(tt.in)).Int(); got != tt.want {
				t.Errorf("pick(%q) = %d, want %d", tt.in, got, tt.want)
			}
			if got := call(t, m, "wpick", wstr(tt.in)).Int(); got != tt.want {
				t.Errorf("wpick(%q) = %d, want %d", tt.in, got, tt.want)
			}
			if m.Calls[libcall.SwitchString] != 1 || m.Calls[libcall.SwitchUstring] != 1 {
				t.Errorf("runtime calls = %v, want one lookup per switch", m.Calls)
			}
		})
	}
}

func TestCatFlattening(t *testing.T) {
	tr := newTracer()
	k, s := ast.NewParam("k", ast.Int()), ast.NewParam("s", ast.String())
	word := ast.NewFunc("word", ast.Func(ast.String(), ast.Int(), ast.String()), k, s)
	word.Body = ast.Stmts(
		ast.Do(ast.CallOf(ast.Fn(tr.mark), ast.Int(), ast.Ref(k))),
		ast.Return(ast.Ref(s)),
	)
	a, b, c := ast.NewParam("a", ast.String()), ast.NewParam("b", ast.String()), ast.NewParam("c", ast.String())
	w := func(n int64, v *ast.VarDecl) ast.Expr {
		return ast.CallOf(ast.Fn(word), ast.String(), ast.IntLit(n), ast.Ref(v))
	}
	cat3 := ast.NewFunc("cat3", ast.Func(ast.String(), ast.String(), ast.String(), ast.String()), a, b, c)
	cat3.Body = ast.Return(ast.Concat(ast.Concat(w(1, a), w(2, b), ast.String()), w(3, c), ast.String()))

	x, y := ast.NewParam("x", ast.String()), ast.NewParam("y", ast.String())
	dash := ast.NewFunc("dash", ast.Func(ast.String(), ast.String(), ast.String()), x, y)
	dash.Body = ast.Return(ast.Concat(ast.Concat(ast.Ref(x), ast.Int64Lit('-', ast.Char()), ast.String()), ast.Ref(y), ast.String()))

	p, q := ast.NewParam("p", ast.String()), ast.NewParam("q", ast.String())
	cat2 := ast.NewFunc("cat2", ast.Func(ast.String(), ast.String(), ast.String()), p, q)
	cat2.Body = ast.Return(ast.Concat(ast.Ref(p), ast.Ref(q), ast.String()))

	prog := lowerOK(t, config.Default(), tr.module(word, cat3, dash, cat2))

	tests := []struct {
		name  string
		fn    string
		args  []string
		want  string
		nary  int
		binop int
	}{
		{"three arrays", "cat3", []string{"ab", "cd", "e"}, "abcde", 1, 0},
		{"empty operands", "cat3", []string{"", "x", ""}, "x", 1, 0},
		{"element operand", "dash", []string{"ab", "cd"}, "ab-cd", 1, 0},
		{"two arrays", "cat2", []string{"ab", "cd"}, "abcd", 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := load(t, prog)
			args := make([]irexec.Value, len(tt.args))
			for i, s := range tt.args {
				args[i] = m.NewString(s)
			}
			if got := m.ReadString(call(t, m, tt.fn, args...)); got != tt.want {
				t.Errorf("%s = %q, want %q", tt.fn, got, tt.want)
			}
			if m.Calls[libcall.ArrayCatNT] != tt.nary || m.Calls[libcall.ArrayCatT] != tt.binop {
				t.Errorf("runtime calls = %v", m.Calls)
			}
			if tt.fn == "cat3" {
				if got := tr.read(t, m); got != 123 {
					t.Errorf("operands evaluated in order %d, want 123", got)
				}
			}
		})
	}
}

// collectVars appends the variables read in e.
func collectVars(e ir.Expr, out []*ir.Var) []*ir.Var {
	switch x := e.(type) {
	case ir.Evar:
		out = append(out, x.Var)
	case ir.Eassign:
		out = collectVars(x.RHS, collectVars(x.LHS, out))
	case ir.Ebinop:
		out = collectVars(x.Right, collectVars(x.Left, out))
	case ir.Econvert:
		out = collectVars(x.Arg, out)
	case ir.Eseq:
		out = collectVars(x.Second, collectVars(x.First, out))
	}
	return out
}

func findReturn(s ir.Stmt) (ir.Sreturn, bool) {
	switch st := s.(type) {
	case ir.Sreturn:
		return st, st.Value != nil
	case ir.Sseq:
		if r, ok := findReturn(st.First); ok {
			return r, true
		}
		return findReturn(st.Second)
	case ir.Sbind:
		return findReturn(st.Body)
	}
	return ir.Sreturn{}, false
}

func TestIdempotentLookup(t *testing.T) {
	x := ast.NewParam("x", ast.Int())
	y := ast.NewLocal("y", ast.Int())
	fd := ast.NewFunc("twice", ast.Func(ast.Int(), ast.Int()), x)
	fd.Body = ast.Stmts(
		ast.DeclStmt(y, ast.Ref(x)),
		ast.Return(ast.Bin(ast.OpAdd, ast.Ref(y), ast.Ref(y), ast.Int())),
	)
	u, _ := newUnit(t, config.Default())
	fn := u.LowerFunction(fd)

	if again := u.LowerFunction(fd); again != fn {
		t.Error("lowering twice returned a new function handle")
	}
	if u.Symbols().Func(fd) != fn {
		t.Error("function handle differs from the lowered function")
	}
	hy := u.Symbols().Var(y)
	if u.Symbols().Var(y) != hy {
		t.Error("variable lookup is not idempotent")
	}

	n := 0
	for _, l := range fn.Locals {
		if l.Name == "y" {
			n++
		}
	}
	if n != 1 {
		t.Errorf("y registered %d times, want once", n)
	}

	ret, ok := findReturn(fn.Body)
	if !ok {
		t.Fatal("no return with a value")
	}
	var reads int
	for _, v := range collectVars(ret.Value, nil) {
		if v.Name != "y" {
			continue
		}
		reads++
		if v != hy {
			t.Errorf("read of y uses handle %p, want %p", v, hy)
		}
	}
	if reads != 2 {
		t.Errorf("found %d reads of y, want 2", reads)
	}

	m := load(t, &ir.Program{Funcs: []*ir.Func{fn}})
	if got := call(t, m, "twice", irexec.Int(21)).Int(); got != 42 {
		t.Errorf("twice(21) = %d, want 42", got)
	}
}
