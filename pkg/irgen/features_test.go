package irgen

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/config"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/irexec"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/target"
)

// closureModule builds
//
//	int outer(int n) {
//	    int acc = 1;
//	    void inner() { acc = acc + n; }
//	    inner(); inner();
//	    return acc;
//	}
func closureModule(heap bool) *ast.Module {
	n := ast.NewParam("n", ast.Int())
	outer := ast.NewFunc("outer", ast.Func(ast.Int(), ast.Int()), n)
	acc := ast.NewLocal("acc", ast.Int())
	acc.Owner = outer
	for _, v := range []*ast.VarDecl{n, acc} {
		v.Nonlocal = true
	}
	outer.Frame = ast.FrameInfo{CreatesFrame: true, OnHeap: heap, Vars: []*ast.VarDecl{n, acc}}

	inner := ast.NewFunc("inner", ast.Func(ast.Void()))
	inner.Parent = outer
	inner.Body = ast.Stmts(
		ast.Do(ast.Set(ast.Ref(acc), ast.Bin(ast.OpAdd, ast.Ref(acc), ast.Ref(n), ast.Int()))),
	)

	outer.Body = ast.Stmts(
		ast.DeclStmt(acc, ast.IntLit(1)),
		ast.Do(ast.CallOf(ast.Fn(inner), ast.Void())),
		ast.Do(ast.CallOf(ast.Fn(inner), ast.Void())),
		ast.Return(ast.Ref(acc)),
	)
	return module(nil, outer)
}

func TestClosureFrames(t *testing.T) {
	for _, heap := range []bool{false, true} {
		name := "stack"
		if heap {
			name = "heap"
		}
		t.Run(name, func(t *testing.T) {
			prog := lowerOK(t, config.Default(), closureModule(heap))
			if prog.FindFunc("outer.inner") == nil {
				t.Fatal("nested function was not lowered")
			}
			m := load(t, prog)
			for _, n := range []int64{0, 5, -3} {
				if got := call(t, m, "outer", irexec.Int(n)).Int(); got != 1+2*n {
					t.Errorf("outer(%d) = %d, want %d", n, got, 1+2*n)
				}
			}
		})
	}
}

// TestClosureSameNameSlots captures two locals named x from sibling
// scopes. A delegate bound while the first is live must keep reading it
// after the second is initialized.
func TestClosureSameNameSlots(t *testing.T) {
	outer := ast.NewFunc("outer", ast.Func(ast.Int()))
	x1, x2 := ast.NewLocal("x", ast.Int()), ast.NewLocal("x", ast.Int())
	for _, v := range []*ast.VarDecl{x1, x2} {
		v.Owner = outer
		v.Nonlocal = true
	}
	outer.Frame = ast.FrameInfo{CreatesFrame: true, Vars: []*ast.VarDecl{x1, x2}}

	getX := ast.NewFunc("getX", ast.Func(ast.Int()))
	getX.Parent = outer
	getX.Body = ast.Return(ast.Ref(x1))

	dt := ast.Tdelegate{Func: getX.Type}
	dg := ast.NewLocal("dg", dt)
	outer.Body = ast.Stmts(
		ast.DeclStmt(dg, ast.Null(dt)),
		ast.Stmts(
			ast.DeclStmt(x1, ast.IntLit(10)),
			ast.Do(ast.Set(ast.Ref(dg), ast.Delegate{Node: ast.Node{Typ: dt}, Func: getX})),
		),
		ast.Stmts(ast.DeclStmt(x2, ast.IntLit(100))),
		ast.Return(ast.CallOf(ast.Ref(dg), ast.Int())),
	)

	prog := lowerOK(t, config.Default(), module(nil, outer))
	if got := call(t, load(t, prog), "outer").Int(); got != 10 {
		t.Errorf("outer() = %d, want 10 from the first x", got)
	}
}

// method declares int kind() returning val in cd's first vtable slot.
func method(cd *ast.ClassDecl, val int64) *ast.FuncDecl {
	m := ast.NewFunc("kind", ast.Func(ast.Int()))
	m.InClass = cd
	m.This = ast.NewLocal("this", ast.Tclass{Decl: cd})
	m.VtblIndex = 1
	m.Body = ast.Stmts(ast.Return(ast.IntLit(val)))
	cd.Vtbl = []*ast.FuncDecl{m}
	return m
}

func newObject(cd *ast.ClassDecl) ast.New {
	t := ast.Tclass{Decl: cd}
	return ast.New{Node: ast.Node{Typ: t}, NewType: t}
}

func TestVirtualDispatch(t *testing.T) {
	base := ast.NewClass("Base", nil)
	derived := ast.NewClass("Derived", base)
	kind := method(base, 1)
	method(derived, 2)

	caller := func(name string, direct bool) *ast.FuncDecl {
		o := ast.NewParam("o", ast.Tclass{Decl: base})
		fd := ast.NewFunc(name, ast.Func(ast.Int(), ast.Tclass{Decl: base}), o)
		ref := ast.MethodRef{Node: ast.Node{Typ: *kind.Type}, Arg: ast.Ref(o), Func: kind, Direct: direct}
		fd.Body = ast.Stmts(ast.Return(ast.CallOf(ref, ast.Int())))
		return fd
	}
	virtual := caller("virtual", false)
	direct := caller("direct", true)

	run := func(name string, fd *ast.FuncDecl, cd *ast.ClassDecl) *ast.FuncDecl {
		main := ast.NewFunc(name, ast.Func(ast.Int()))
		main.Body = ast.Stmts(ast.Return(ast.CallOf(ast.Fn(fd), ast.Int(), newObject(cd))))
		return main
	}
	mod := module(nil, virtual, direct,
		run("virtualBase", virtual, base),
		run("virtualDerived", virtual, derived),
		run("directDerived", direct, derived))
	mod.Classes = []*ast.ClassDecl{base, derived}
	m := exec(t, mod)

	tests := []struct {
		name string
		want int64
	}{
		{"virtualBase", 1},
		{"virtualDerived", 2},
		{"directDerived", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := call(t, m, tt.name).Int(); got != tt.want {
				t.Errorf("%s() = %d, want %d", tt.name, got, tt.want)
			}
		})
	}
}

func TestIntrinsicFallback(t *testing.T) {
	newModule := func() (*ast.Module, *ast.FuncDecl) {
		sqrt := ast.NewFunc("sqrt", ast.Func(ast.Double(), ast.Double()), ast.NewParam("x", ast.Double()))
		sqrt.Module = "core.math"
		sqrt.Intrinsic = RecognizeIntrinsic(sqrt)
		x := ast.NewParam("x", ast.Double())
		root := ast.NewFunc("root", ast.Func(ast.Double(), ast.Double()), x)
		root.Body = ast.Stmts(ast.Return(ast.CallOf(ast.Fn(sqrt), ast.Double(), ast.Ref(x))))
		return module(nil, root), sqrt
	}

	tests := []struct {
		target  string
		builtin bool
	}{
		{"x86_64", true},
		{"generic", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			mod, sqrt := newModule()
			if sqrt.Intrinsic != ast.IntrinsicSqrt {
				t.Fatalf("sqrt tagged %v", sqrt.Intrinsic)
			}
			tgt, err := target.Lookup(tt.target)
			if err != nil {
				t.Fatal(err)
			}
			u := NewUnit(config.Default(), tgt, &diag.Collector{})
			prog, err := u.LowerModule(mod)
			if err != nil {
				t.Fatalf("LowerModule: %v", err)
			}
			var buf bytes.Buffer
			ir.NewPrinter(&buf).PrintProgram(prog)
			if got := strings.Contains(buf.String(), "__builtin_sqrt("); got != tt.builtin {
				t.Errorf("inline sqrt = %v, want %v\n%s", got, tt.builtin, buf.String())
			}
			stripped := u.Symbols().Func(sqrt).Intrinsic == ast.IntrinsicNone
			if stripped == tt.builtin {
				t.Errorf("handle intrinsic stripped = %v on %s", stripped, tt.target)
			}
			if !tt.builtin {
				return
			}
			m := load(t, prog)
			if got := call(t, m, "root", irexec.MakeFloat(ast.Double(), 16)).Float(); got != 4 {
				t.Errorf("root(16) = %v, want 4", got)
			}
		})
	}
}

func TestDeleteClass(t *testing.T) {
	tests := []struct {
		name     string
		varScope bool
		clsScope bool
		iface    bool
		want     string
		not      string
	}{
		{"heap object", false, false, false, "_d_delclass(", "_d_callfinalizer"},
		{"scope variable", true, false, false, "_d_callfinalizer(", "_d_delclass"},
		{"scope class", false, true, false, "_d_callfinalizer(", "_d_delclass"},
		{"scope interface", true, false, true, "_d_callinterfacefinalizer(", "_d_delinterface"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cd := ast.NewClass("C", nil)
			cd.OnStack = tt.clsScope
			cd.Interface = tt.iface
			ct := ast.Tclass{Decl: cd}
			o := ast.NewLocal("o", ct)
			o.OnStack = tt.varScope

			var init ast.Expr = ast.Null(ct)
			if !tt.iface {
				n := newObject(cd)
				n.OnStack = tt.varScope || tt.clsScope
				init = n
			}
			fd := ast.NewFunc("drop", ast.Func(ast.Int()))
			fd.Body = ast.Stmts(
				ast.DeclStmt(o, init),
				ast.Do(ast.Delete{Node: ast.Node{Typ: ast.Void()}, Arg: ast.Ref(o)}),
				ast.Return(ast.IntLit(7)),
			)
			mod := module(nil, fd)
			mod.Classes = []*ast.ClassDecl{cd}
			prog := lowerOK(t, config.Default(), mod)
			text := irText(prog)
			if !strings.Contains(text, tt.want) || strings.Contains(text, tt.not) {
				t.Errorf("want %q and no %q in\n%s", tt.want, tt.not, text)
			}
			if tt.iface {
				return
			}
			m := load(t, prog)
			if got := call(t, m, "drop").Int(); got != 7 {
				t.Errorf("drop() = %d, want 7", got)
			}
			if scope := tt.varScope || tt.clsScope; scope != (m.Calls[libcall.CallFinalizer] == 1) {
				t.Errorf("finalizer calls = %d", m.Calls[libcall.CallFinalizer])
			}
		})
	}
}

func TestOpAssignEvaluatesLvalueOnce(t *testing.T) {
	tr := newTracer()
	a := ast.NewParam("a", intArr)
	run := ast.NewFunc("run", ast.Func(ast.Int(), intArr), a)
	lhs := ast.IndexOf(ast.Ref(a), tr.call(1))
	run.Body = ast.Stmts(
		ast.Do(ast.OpAssign{BinNode: ast.BinNode{Node: ast.Node{Typ: ast.Int()}, Left: lhs, Right: tr.call(2)}, Op: ast.OpAdd}),
		ast.Return(ast.IndexOf(ast.Ref(a), ast.IntLit(1))),
	)
	m := exec(t, tr.module(run))
	arr := m.NewArray(intArr, irexec.Int(10), irexec.Int(20), irexec.Int(30))
	if got := call(t, m, "run", arr).Int(); got != 22 {
		t.Errorf("a[1] = %d, want 22", got)
	}
	if got := tr.read(t, m); got != 12 {
		t.Errorf("trace = %d, want 12 (index once, then value)", got)
	}
}

// bitop declares an extern core.bitop function and tags it.
func bitop(name string, ret ast.Type, params ...ast.Type) *ast.FuncDecl {
	vars := make([]*ast.VarDecl, len(params))
	for i, p := range params {
		vars[i] = ast.NewParam(string(rune('a'+i)), p)
	}
	fd := ast.NewFunc(name, ast.Func(ret, params...), vars...)
	fd.Module = "core.bitop"
	fd.Intrinsic = RecognizeIntrinsic(fd)
	return fd
}

func TestBitIntrinsics(t *testing.T) {
	wordP := ast.Pointer(ast.SizeT())

	// bitTest returns r*100 + w for r = op(&w, n) with w starting at 10.
	bitTest := func(op string, n int64) func() (*ast.FuncDecl, ast.Stmt, ast.Type) {
		return func() (*ast.FuncDecl, ast.Stmt, ast.Type) {
			fd := bitop(op, ast.Int(), wordP, ast.SizeT())
			w := ast.NewLocal("w", ast.SizeT())
			r := ast.CallOf(ast.Fn(fd), ast.Int(), ast.Addr(ast.Ref(w)), ast.Int64Lit(n, ast.SizeT()))
			res := ast.Bin(ast.OpAdd,
				ast.Bin(ast.OpMul, r, ast.IntLit(100), ast.Int()),
				ast.CastTo(ast.Ref(w), ast.Int()), ast.Int())
			return fd, ast.Stmts(ast.DeclStmt(w, ast.Int64Lit(10, ast.SizeT())), ast.Return(res)), ast.Int()
		}
	}
	unary := func(op string, at, ret ast.Type, arg int64) func() (*ast.FuncDecl, ast.Stmt, ast.Type) {
		return func() (*ast.FuncDecl, ast.Stmt, ast.Type) {
			fd := bitop(op, ret, at)
			return fd, ast.Return(ast.CallOf(ast.Fn(fd), ret, ast.Int64Lit(arg, at))), ret
		}
	}

	tests := []struct {
		name  string
		build func() (*ast.FuncDecl, ast.Stmt, ast.Type)
		want  int64
	}{
		{"bt set", bitTest("bt", 1), -100 + 10},
		{"bt clear", bitTest("bt", 0), 10},
		{"bts clear bit", bitTest("bts", 0), 11},
		{"bts reports old value", bitTest("bts", 1), -100 + 10},
		{"btr", bitTest("btr", 3), -100 + 2},
		{"btc", bitTest("btc", 2), 14},
		{"bsf 32", unary("bsf", ast.UInt(), ast.Int(), 0x90), 4},
		{"bsr 32", unary("bsr", ast.UInt(), ast.Int(), 0x90), 7},
		{"bsf 64", unary("bsf", ast.ULong(), ast.Int(), 1<<40), 40},
		{"bsr 64", unary("bsr", ast.ULong(), ast.Int(), 1<<40|1), 40},
		{"bswap 32", unary("bswap", ast.UInt(), ast.UInt(), 0x01020304), 0x04030201},
		{"bswap 64", unary("bswap", ast.ULong(), ast.ULong(), 0x0102030405060708), 0x0807060504030201},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fd, body, ret := tt.build()
			if fd.Intrinsic == ast.IntrinsicNone {
				t.Fatalf("%s %s is not recognized", fd.Name, ast.Mangle(*fd.Type))
			}
			run := ast.NewFunc("run", ast.Func(ret))
			run.Body = body
			prog := lowerOK(t, config.Default(), module(nil, run))
			if text := irText(prog); strings.Contains(text, "core.bitop."+fd.Name) {
				t.Errorf("%s was not expanded:\n%s", fd.Name, text)
			}
			if got := call(t, load(t, prog), "run").Int(); got != tt.want {
				t.Errorf("run() = %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestAssociativeArrays(t *testing.T) {
	aat := ast.AArray(ast.Int(), ast.Int())
	literal := func() ast.Expr {
		return ast.AssocArrayLiteral{
			Node:   ast.Node{Typ: aat},
			Keys:   []ast.Expr{ast.IntLit(1), ast.IntLit(2)},
			Values: []ast.Expr{ast.IntLit(10), ast.IntLit(20)},
		}
	}

	k := ast.NewParam("k", ast.Int())
	lookup := ast.NewFunc("lookup", ast.Func(ast.Int(), ast.Int()), k)
	aa := ast.NewLocal("aa", aat)
	insert := ast.IndexOf(ast.Ref(aa), ast.IntLit(3))
	insert.Modifiable = true
	get := ast.IndexOf(ast.Ref(aa), ast.Ref(k))
	get.Loc = ast.Loc{File: "aa.d", Line: 4}
	lookup.Body = ast.Stmts(
		ast.DeclStmt(aa, literal()),
		ast.Do(ast.Set(insert, ast.IntLit(30))),
		ast.Return(get),
	)

	k2 := ast.NewParam("k", ast.Int())
	has := ast.NewFunc("has", ast.Func(ast.Bool(), ast.Int()), k2)
	aa2 := ast.NewLocal("aa", aat)
	in := ast.In{BinNode: ast.BinNode{Node: ast.Node{Typ: ast.Pointer(ast.Int())}, Left: ast.Ref(k2), Right: ast.Ref(aa2)}}
	has.Body = ast.Stmts(
		ast.DeclStmt(aa2, literal()),
		ast.Return(ast.Cmp(ast.OpNe, in, ast.Null(ast.Pointer(ast.Int())))),
	)

	m := exec(t, module(nil, lookup, has))
	for key, want := range map[int64]int64{1: 10, 2: 20, 3: 30} {
		if got := call(t, m, "lookup", irexec.Int(key)).Int(); got != want {
			t.Errorf("aa[%d] = %d, want %d", key, got, want)
		}
	}
	_, err := m.Call("lookup", irexec.Int(9))
	var fail *irexec.Failure
	if !errors.As(err, &fail) || fail.Call != libcall.ArrayBounds || fail.Line != 4 {
		t.Errorf("missing key: got %v, want a range failure at line 4", err)
	}
	for key, want := range map[int64]bool{1: true, 2: true, 3: false} {
		if got := call(t, m, "has", irexec.Int(key)).Bool(); got != want {
			t.Errorf("%d in aa = %v, want %v", key, got, want)
		}
	}
}

func TestSliceAssignment(t *testing.T) {
	byteArr := ast.DArray(ast.Byte())
	assign := func(l ast.Slice, r ast.Expr) ast.Expr {
		return ast.Assign{BinNode: ast.BinNode{Node: ast.Node{Typ: l.Typ}, Left: l, Right: r}, Op: ast.AssignPlain}
	}

	a, b := ast.NewParam("a", intArr), ast.NewParam("b", intArr)
	copyFn := ast.NewFunc("copy", ast.Func(intArr, intArr, intArr), a, b)
	copyFn.Body = ast.Stmts(
		ast.Do(assign(ast.SliceOf(ast.Ref(a), ast.IntLit(1), ast.IntLit(3)), ast.SliceOf(ast.Ref(b), ast.IntLit(0), ast.IntLit(2)))),
		ast.Return(ast.Ref(a)),
	)

	c, d := ast.NewParam("a", intArr), ast.NewParam("b", intArr)
	mismatch := ast.NewFunc("mismatch", ast.Func(ast.Void(), intArr, intArr), c, d)
	mismatch.Body = ast.Do(assign(ast.SliceOf(ast.Ref(c), ast.IntLit(0), ast.IntLit(2)), ast.SliceOf(ast.Ref(d), ast.IntLit(0), ast.IntLit(3))))

	e := ast.NewParam("a", intArr)
	fill := ast.NewFunc("fill", ast.Func(intArr, intArr), e)
	fill.Body = ast.Stmts(
		ast.Do(assign(ast.SliceOf(ast.Ref(e), ast.IntLit(0), ast.IntLit(3)), ast.IntLit(7))),
		ast.Return(ast.Ref(e)),
	)

	g := ast.NewParam("a", byteArr)
	fillBytes := ast.NewFunc("fillBytes", ast.Func(byteArr, byteArr), g)
	fillBytes.Body = ast.Stmts(
		ast.Do(assign(ast.SliceOf(ast.Ref(g), ast.IntLit(1), ast.IntLit(4)), ast.Int64Lit(5, ast.Byte()))),
		ast.Return(ast.Ref(g)),
	)

	prog := lowerOK(t, config.Default(), module(nil, copyFn, mismatch, fill, fillBytes))
	if text := irText(prog); !strings.Contains(text, "__builtin_memset(") {
		t.Errorf("byte fill does not use memset:\n%s", text)
	}
	m := load(t, prog)
	arr := func(et ast.Type, vs ...int64) irexec.Value {
		elems := make([]irexec.Value, len(vs))
		for i, v := range vs {
			elems[i] = irexec.MakeInt(et, v)
		}
		return m.NewArray(ast.DArray(et), elems...)
	}

	tests := []struct {
		name string
		fn   string
		args []irexec.Value
		want []int64
	}{
		{"copy", "copy", []irexec.Value{arr(ast.Int(), 1, 2, 3, 4), arr(ast.Int(), 8, 9, 10)}, []int64{1, 8, 9, 4}},
		{"fill", "fill", []irexec.Value{arr(ast.Int(), 1, 2, 3, 4)}, []int64{7, 7, 7, 4}},
		{"fill bytes", "fillBytes", []irexec.Value{arr(ast.Byte(), 1, 2, 3, 4, 5)}, []int64{1, 5, 5, 5, 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ints(m, call(t, m, tt.fn, tt.args...)); !equalInts(got, tt.want) {
				t.Errorf("%s = %v, want %v", tt.fn, got, tt.want)
			}
		})
	}

	_, err := m.Call("mismatch", arr(ast.Int(), 1, 2, 3), arr(ast.Int(), 4, 5, 6))
	var fail *irexec.Failure
	if !errors.As(err, &fail) || fail.Call != libcall.ArrayCopy {
		t.Errorf("length mismatch: got %v, want an array copy failure", err)
	}
}

func TestNew(t *testing.T) {
	n := ast.NewParam("n", ast.Int())
	makeArr := ast.NewFunc("makeArr", ast.Func(intArr, ast.Int()), n)
	makeArr.Body = ast.Return(ast.New{Node: ast.Node{Typ: intArr}, NewType: intArr, Args: []ast.Expr{ast.Ref(n)}})

	grid := ast.DArray(intArr)
	g := ast.NewLocal("g", grid)
	dims := ast.NewFunc("dims", ast.Func(ast.SizeT()))
	dims.Body = ast.Stmts(
		ast.DeclStmt(g, ast.New{Node: ast.Node{Typ: grid}, NewType: grid, Args: []ast.Expr{ast.IntLit(2), ast.IntLit(3)}}),
		ast.Return(ast.Bin(ast.OpAdd,
			ast.Bin(ast.OpMul, ast.LengthOf(ast.Ref(g)), ast.Int64Lit(10, ast.SizeT()), ast.SizeT()),
			ast.LengthOf(ast.IndexOf(ast.Ref(g), ast.IntLit(1))), ast.SizeT())),
	)

	pi := ast.Pointer(ast.Int())
	p := ast.NewLocal("p", pi)
	item := ast.NewFunc("item", ast.Func(ast.Int()))
	item.Body = ast.Stmts(
		ast.DeclStmt(p, ast.New{Node: ast.Node{Typ: pi}, NewType: ast.Int(), Args: []ast.Expr{ast.IntLit(5)}}),
		ast.Return(ast.Deref{Node: ast.Node{Typ: ast.Int()}, Arg: ast.Ref(p)}),
	)

	cd := ast.NewClass("Box", nil, ast.NewField("v", ast.Int()))
	o := ast.NewLocal("o", ast.Tclass{Decl: cd})
	object := ast.NewFunc("object", ast.Func(ast.Int()))
	object.Body = ast.Stmts(
		ast.DeclStmt(o, newObject(cd)),
		ast.Do(ast.Set(ast.FieldOf(ast.Ref(o), cd.Fields[0]), ast.IntLit(6))),
		ast.Return(ast.FieldOf(ast.Ref(o), cd.Fields[0])),
	)

	m := exec(t, module(nil, makeArr, dims, item, object))
	if got := ints(m, call(t, m, "makeArr", irexec.Int(3))); !equalInts(got, []int64{0, 0, 0}) {
		t.Errorf("new int[3] = %v", got)
	}
	if got := call(t, m, "dims").Uint(); got != 23 {
		t.Errorf("new int[][](2, 3) dimensions = %d, want 23", got)
	}
	if got := call(t, m, "item").Int(); got != 5 {
		t.Errorf("*new int(5) = %d", got)
	}
	if got := call(t, m, "object").Int(); got != 6 {
		t.Errorf("object field = %d, want 6", got)
	}
	for id, want := range map[libcall.ID]int{libcall.NewArrayT: 1, libcall.NewArrayMTX: 1, libcall.NewItemT: 1, libcall.NewClass: 1} {
		if got := m.Calls[id]; got != want {
			t.Errorf("%s called %d times, want %d", id, got, want)
		}
	}
}

func TestStructEquality(t *testing.T) {
	small := ast.NewStruct("Small", ast.NewField("a", ast.Int()), ast.NewField("b", ast.Int()))
	big := ast.NewStruct("Big", ast.NewField("a", ast.Long()), ast.NewField("b", ast.Long()), ast.NewField("c", ast.Long()))
	floating := ast.NewStruct("Floating", ast.NewField("a", ast.Long()), ast.NewField("b", ast.Long()), ast.NewField("c", ast.Double()))
	union := ast.NewUnion("U", ast.NewField("i", ast.Int()), ast.NewField("f", ast.Float()))

	// eqFunc compares two locals whose last field holds +0.0 and -0.0
	// for floating structs.
	eqFunc := func(sd *ast.StructDecl) *ast.FuncDecl {
		st := ast.Tstruct{Decl: sd}
		x, y := ast.NewLocal("x", st), ast.NewLocal("y", st)
		body := []ast.Stmt{ast.DeclStmt(x, nil), ast.DeclStmt(y, nil)}
		if sd == floating {
			c := sd.Fields[2]
			body = append(body,
				ast.Do(ast.Set(ast.FieldOf(ast.Ref(x), c), ast.FloatLit(0, ast.Double()))),
				ast.Do(ast.Set(ast.FieldOf(ast.Ref(y), c), ast.FloatLit(math.Copysign(0, -1), ast.Double()))))
		}
		body = append(body, ast.Return(ast.Cmp(ast.OpEq, ast.Ref(x), ast.Ref(y))))
		fd := ast.NewFunc("eq"+sd.Name, ast.Func(ast.Bool()))
		fd.Body = ast.Stmts(body...)
		return fd
	}

	tests := []struct {
		sd        *ast.StructDecl
		fieldwise bool
	}{
		{small, true},
		{big, false},
		{floating, true},
		{union, false},
	}
	for _, tt := range tests {
		t.Run(tt.sd.Name, func(t *testing.T) {
			fd := eqFunc(tt.sd)
			prog := lowerOK(t, config.Default(), module(nil, fd))
			memcmp := strings.Contains(irText(prog), "__builtin_memcmp(")
			if memcmp == tt.fieldwise {
				t.Errorf("memcmp used = %v, want fieldwise = %v\n%s", memcmp, tt.fieldwise, irText(prog))
			}
			if !call(t, load(t, prog), fd.Name).Bool() {
				t.Errorf("%s() = false, want true", fd.Name)
			}
		})
	}
}

func TestVoidLogical(t *testing.T) {
	tr := newTracer()
	x := ast.NewParam("x", ast.Int())
	run := ast.NewFunc("run", ast.Func(ast.Void(), ast.Int()), x)
	pos := ast.Cmp(ast.OpGt, ast.Ref(x), ast.IntLit(0))
	run.Body = ast.Stmts(
		ast.Do(ast.AndAnd(pos, tr.call(1), ast.Void())),
		ast.Do(ast.OrOr(pos, tr.call(2), ast.Void())),
	)
	for _, tt := range []struct {
		x, want int64
	}{{1, 1}, {0, 2}, {-4, 2}} {
		m := exec(t, tr.module(run))
		call(t, m, "run", irexec.Int(tt.x))
		if got := tr.read(t, m); got != tt.want {
			t.Errorf("run(%d) trace = %d, want %d", tt.x, got, tt.want)
		}
	}
}

func TestUnrolledLoop(t *testing.T) {
	n := ast.NewLocal("n", ast.Int())
	step := func(d int64) ast.Stmt {
		next := ast.Bin(ast.OpAdd, ast.Bin(ast.OpMul, ast.Ref(n), ast.IntLit(10), ast.Int()), ast.IntLit(d), ast.Int())
		return ast.Do(ast.Set(ast.Ref(n), next))
	}
	run := ast.NewFunc("run", ast.Func(ast.Int()))
	run.Body = ast.Stmts(
		ast.DeclStmt(n, ast.IntLit(0)),
		&ast.UnrolledLoopStmt{Stmts: []ast.Stmt{
			step(1),
			ast.Stmts(&ast.IfStmt{Cond: ast.Cmp(ast.OpGt, ast.Ref(n), ast.IntLit(0)), Then: &ast.ContinueStmt{}}, step(9)),
			ast.Stmts(step(3), &ast.BreakStmt{}),
			step(7),
		}},
		ast.Return(ast.Ref(n)),
	)
	m := exec(t, module(nil, run))
	if got := call(t, m, "run").Int(); got != 13 {
		t.Errorf("run() = %d, want 13", got)
	}
}

func TestCatchBinding(t *testing.T) {
	errC := ast.NewClass("Err", nil, ast.NewField("code", ast.Int()))
	other := ast.NewClass("Other", nil)
	code := errC.Fields[0]

	e := ast.NewLocal("e", ast.Tclass{Decl: errC})
	c := ast.NewLocal("c", ast.Tclass{Decl: errC})
	run := ast.NewFunc("run", ast.Func(ast.Int()))
	run.Body = ast.Stmts(
		&ast.TryCatchStmt{
			Body: ast.Stmts(
				ast.DeclStmt(e, newObject(errC)),
				ast.Do(ast.Set(ast.FieldOf(ast.Ref(e), code), ast.IntLit(7))),
				&ast.ThrowStmt{X: ast.Ref(e)},
			),
			Catches: []*ast.Catch{
				{Type: ast.Tclass{Decl: other}, Handler: ast.Return(ast.IntLit(-1))},
				{Type: ast.Tclass{Decl: errC}, Var: c, Handler: ast.Return(ast.FieldOf(ast.Ref(c), code))},
			},
		},
		ast.Return(ast.IntLit(0)),
	)
	mod := module(nil, run)
	mod.Classes = []*ast.ClassDecl{errC, other}
	m := exec(t, mod)
	if got := call(t, m, "run").Int(); got != 7 {
		t.Errorf("run() = %d, want the thrown object's code 7", got)
	}
}

func TestNRVO(t *testing.T) {
	big := ast.NewStruct("Big", ast.NewField("a", ast.Long()), ast.NewField("b", ast.Long()), ast.NewField("c", ast.Long()))
	st := ast.Tstruct{Decl: big}
	r := ast.NewLocal("r", st)
	mk := ast.NewFunc("mk", ast.Func(st))
	mk.NRVOVar, mk.NRVOCan = r, true
	mk.Body = ast.Stmts(
		ast.DeclStmt(r, nil),
		ast.Do(ast.Set(ast.FieldOf(ast.Ref(r), big.Fields[0]), ast.Int64Lit(1, ast.Long()))),
		ast.Do(ast.Set(ast.FieldOf(ast.Ref(r), big.Fields[2]), ast.Int64Lit(3, ast.Long()))),
		ast.Return(ast.Ref(r)),
	)
	sum := ast.NewFunc("sum", ast.Func(ast.Long()))
	sum.Body = ast.Return(ast.Bin(ast.OpAdd,
		ast.Bin(ast.OpMul, ast.FieldOf(ast.CallOf(ast.Fn(mk), st), big.Fields[0]), ast.Int64Lit(10, ast.Long()), ast.Long()),
		ast.FieldOf(ast.CallOf(ast.Fn(mk), st), big.Fields[2]), ast.Long()))

	u, rep := newUnit(t, config.Default())
	prog, err := u.LowerModule(module(nil, mk, sum))
	if err != nil {
		t.Fatalf("LowerModule: %v %v", err, rep.Diags)
	}
	fn := u.Symbols().Func(mk)
	if u.Symbols().Var(r) != fn.Result {
		t.Error("named return value is not the result slot")
	}
	for _, l := range fn.Locals {
		if l.Name == "r" {
			t.Error("named return value has its own local")
		}
	}
	if got := call(t, load(t, prog), "sum").Int(); got != 13 {
		t.Errorf("sum() = %d, want 13", got)
	}
}
