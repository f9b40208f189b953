package irexec

import (
	"fmt"
	"math"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

// designates reports expressions that denote storage and can be
// evaluated to an address.
func designates(e ir.Expr) bool {
	switch x := e.(type) {
	case ir.Evar, ir.Esymbol, ir.Ederef, ir.Eassign:
		return true
	case ir.Efield:
		return designates(x.Arg)
	case ir.Eview:
		return designates(x.Arg)
	case ir.Eseq:
		return designates(x.Second)
	case ir.Ebind:
		return designates(x.Body)
	case ir.Ecleanup:
		return designates(x.Body)
	case ir.Eblock:
		return x.Result != nil && designates(x.Result)
	case ir.Econd:
		return designates(x.Then) && designates(x.Else)
	}
	return false
}

// addr evaluates an lvalue to the address of its storage. Values that
// do not designate storage are materialized in a fresh block.
func (m *Machine) addr(fr *frame, e ir.Expr) Addr {
	switch x := e.(type) {
	case ir.Evar:
		return m.varAddr(fr, x.Var)
	case ir.Esymbol:
		return m.symAddr(x.Sym)
	case ir.Ederef:
		return Addr(getUint(m.eval(fr, x.Ptr)))
	case ir.Efield:
		if designates(x.Arg) {
			return m.addr(fr, x.Arg).add(x.Offset)
		}
	case ir.Eview:
		if designates(x.Arg) {
			return m.addr(fr, x.Arg)
		}
	case ir.Eseq:
		m.eval(fr, x.First)
		return m.addr(fr, x.Second)
	case ir.Ebind:
		return m.addr(fr, x.Body)
	case ir.Eassign:
		return m.assign(fr, x)
	case ir.Ecleanup:
		var a Addr
		m.withCleanup(fr, x.Cleanup, func() { a = m.addr(fr, x.Body) })
		return a
	case ir.Eblock:
		if x.Result != nil && designates(x.Result) {
			m.block(fr, x.Body)
			return m.addr(fr, x.Result)
		}
	case ir.Econd:
		if designates(x.Then) && designates(x.Else) {
			if truth(m.eval(fr, x.Cond)) {
				return m.addr(fr, x.Then)
			}
			return m.addr(fr, x.Else)
		}
	}
	return m.mem.allocBytes(m.eval(fr, e))
}

func truth(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return true
		}
	}
	return false
}

// eval computes the value of e as a byte image of its type.
func (m *Machine) eval(fr *frame, e ir.Expr) []byte {
	switch x := e.(type) {
	case ir.Econst:
		return constBytes(x)
	case ir.Evar, ir.Esymbol, ir.Ederef:
		return m.mem.load(m.addr(fr, e), sizeOf(e.ExprType()))
	case ir.Efunc:
		return encodeUint(uint64(m.funcAddr(x.Func)), ast.PtrSize)
	case ir.Eaddrof:
		return encodeUint(uint64(m.addr(fr, x.Arg)), ast.PtrSize)
	case ir.Efield:
		if designates(x.Arg) {
			return m.mem.load(m.addr(fr, e), sizeOf(x.Type))
		}
		v := m.eval(fr, x.Arg)
		return resize(v[min(int(x.Offset), len(v)):], sizeOf(x.Type))
	case ir.Eoffset:
		p := Addr(getUint(m.eval(fr, x.Ptr)))
		off := getInt(m.eval(fr, x.Offset))
		return encodeUint(uint64(p.add(off)), ast.PtrSize)
	case ir.Eindex:
		p := Addr(getUint(m.eval(fr, x.Ptr)))
		it := x.Index.ExprType()
		i := intValue(m.eval(fr, x.Index), it)
		return encodeUint(uint64(p.add(i*elemSize(x.Ptr.ExprType()))), ast.PtrSize)
	case ir.Eunop:
		return unop(x.Op, m.eval(fr, x.Arg), x.Type)
	case ir.Ebinop:
		l := m.eval(fr, x.Left)
		r := m.eval(fr, x.Right)
		return binop(x.Op, l, x.Left.ExprType(), r, x.Right.ExprType(), x.Type)
	case ir.Ecmp:
		l := m.eval(fr, x.Left)
		r := m.eval(fr, x.Right)
		return encodeBool(compare(x.Op, l, r, x.Left.ExprType()))
	case ir.Elogical:
		l := truth(m.eval(fr, x.Left))
		if x.Op == ir.Oandif && !l || x.Op == ir.Oorif && l {
			return encodeBool(l)
		}
		return encodeBool(truth(m.eval(fr, x.Right)))
	case ir.Econvert:
		return convert(m.eval(fr, x.Arg), x.Arg.ExprType(), x.Type)
	case ir.Eview:
		return resize(m.eval(fr, x.Arg), sizeOf(x.Type))
	case ir.Ecomplex:
		s, _ := floatSize(x.Type)
		ps := partSize(s)
		out := make([]byte, 2*ps)
		copy(out, m.eval(fr, x.Re))
		copy(out[ps:], m.eval(fr, x.Im))
		return out
	case ir.Eseq:
		m.eval(fr, x.First)
		return m.eval(fr, x.Second)
	case ir.Econd:
		var v []byte
		if truth(m.eval(fr, x.Cond)) {
			v = m.eval(fr, x.Then)
		} else {
			v = m.eval(fr, x.Else)
		}
		if ast.IsVoid(x.Type) {
			return nil
		}
		return resize(v, sizeOf(x.Type))
	case ir.Eassign:
		a := m.assign(fr, x)
		return m.mem.load(a, sizeOf(x.LHS.ExprType()))
	case ir.Ecall:
		return m.evalCall(fr, x)
	case ir.Elibcall:
		args := make([][]byte, len(x.Args))
		for i, a := range x.Args {
			args[i] = m.eval(fr, a)
		}
		m.Calls[x.Call]++
		return resize(m.runtime(x.Call, args), sizeOf(x.Type))
	case ir.Ebuiltin:
		args := make([][]byte, len(x.Args))
		for i, a := range x.Args {
			args[i] = m.eval(fr, a)
		}
		return resize(m.builtin(x, args), sizeOf(x.Type))
	case ir.Ector:
		out := make([]byte, sizeOf(x.Type))
		for _, el := range x.Elems {
			v := m.eval(fr, el.Value)
			if el.Offset < int64(len(out)) {
				copy(out[el.Offset:], v)
			}
		}
		return out
	case ir.Ebind:
		return m.eval(fr, x.Body)
	case ir.Eblock:
		m.block(fr, x.Body)
		if x.Result == nil {
			return nil
		}
		return m.eval(fr, x.Result)
	case ir.Ecleanup:
		var v []byte
		m.withCleanup(fr, x.Cleanup, func() { v = m.eval(fr, x.Body) })
		return v
	case ir.Eerror:
		panic("error marker reached at run time")
	}
	panic(fmt.Sprintf("cannot evaluate %T", e))
}

// assign stores the right-hand side into the left-hand side's storage,
// whose address is computed first, and returns that address.
func (m *Machine) assign(fr *frame, x ir.Eassign) Addr {
	a := m.addr(fr, x.LHS)
	v := m.eval(fr, x.RHS)
	m.mem.store(a, resize(v, sizeOf(x.LHS.ExprType())))
	return a
}

// withCleanup runs body, then cleanup, also when body unwinds.
func (m *Machine) withCleanup(fr *frame, cleanup ir.Expr, body func()) {
	done := false
	func() {
		defer func() {
			if done {
				return
			}
			if r := recover(); r != nil {
				m.eval(fr, cleanup)
				panic(r)
			}
		}()
		body()
		done = true
	}()
	m.eval(fr, cleanup)
}

// block runs a statement embedded in an expression.
func (m *Machine) block(fr *frame, s ir.Stmt) {
	switch fl, l := m.exec(fr, s, nil); fl {
	case flowGoto:
		panic(fmt.Sprintf("goto %s leaves an expression block", l.Name))
	case flowReturn:
		panic("return inside an expression block")
	case flowExit:
		panic("loop exit outside a loop")
	}
}

func (m *Machine) evalCall(fr *frame, x ir.Ecall) []byte {
	fp := Addr(getUint(m.eval(fr, x.Func)))
	var ctx []byte
	if x.Ctx != nil {
		ctx = m.eval(fr, x.Ctx)
	}
	args := make([][]byte, len(x.Args))
	for i, a := range x.Args {
		args[i] = m.eval(fr, a)
	}
	fn := m.funcAtAddr(fp)
	return resize(m.call(fn, ctx, args), sizeOf(x.Type))
}

func constBytes(x ir.Econst) []byte {
	size := sizeOf(x.Type)
	switch c := x.Const.(type) {
	case ir.Ointconst:
		if _, ok := floatSize(x.Type); ok {
			return encodeFloat(float64(c.Value), x.Type)
		}
		return encodeUint(uint64(c.Value), size)
	case ir.Ofloatconst:
		if _, ok := floatSize(x.Type); ok {
			return encodeFloat(c.Value, x.Type)
		}
		return encodeUint(uint64(int64(c.Value)), size)
	}
	return make([]byte, size)
}

func elemSize(t ast.Type) int64 {
	pt, ok := t.(ast.Tpointer)
	if !ok || ast.IsVoid(pt.Elem) {
		return 1
	}
	if _, ok := pt.Elem.(ast.Tfunction); ok {
		return 1
	}
	return ast.Sizeof(pt.Elem)
}

func isFloat(t ast.Type) bool {
	switch t.(type) {
	case ast.Tfloat, ast.Timaginary:
		return true
	}
	return false
}

func unop(op ir.UnaryOp, v []byte, t ast.Type) []byte {
	size := sizeOf(t)
	if isFloat(t) {
		s, _ := floatSize(t)
		f := getFloat(v, s)
		if op == ir.Oneg {
			return encodeFloat(-f, t)
		}
		return encodeBool(f == 0)
	}
	switch op {
	case ir.Oneg:
		return encodeUint(uint64(-getInt(v)), size)
	case ir.Onot:
		return encodeUint(^getUint(v), size)
	}
	return resize(encodeBool(!truth(v)), size)
}

func binop(op ir.BinaryOp, l []byte, lt ast.Type, r []byte, rt ast.Type, t ast.Type) []byte {
	size := sizeOf(t)
	if isFloat(t) {
		s, _ := floatSize(t)
		a, b := getFloat(l, s), getFloat(r, s)
		var v float64
		switch op {
		case ir.Oadd:
			v = a + b
		case ir.Osub:
			v = a - b
		case ir.Omul:
			v = a * b
		case ir.Odiv, ir.Ordiv:
			v = a / b
		case ir.Omod, ir.Ofmod:
			v = math.Mod(a, b)
		default:
			panic(fmt.Sprintf("float operation %s", op))
		}
		return encodeFloat(v, t)
	}

	signed := isSigned(t)
	a, b := intValue(l, lt), intValue(r, rt)
	ua, ub := uint64(a), uint64(b)
	var v uint64
	switch op {
	case ir.Oadd:
		v = ua + ub
	case ir.Osub:
		v = ua - ub
	case ir.Omul:
		v = ua * ub
	case ir.Odiv, ir.Ordiv:
		if signed {
			v = uint64(a / b)
		} else {
			v = truncate(ua, size) / truncate(ub, size)
		}
	case ir.Omod, ir.Ofmod:
		if signed {
			v = uint64(a % b)
		} else {
			v = truncate(ua, size) % truncate(ub, size)
		}
	case ir.Oand:
		v = ua & ub
	case ir.Oor:
		v = ua | ub
	case ir.Oxor:
		v = ua ^ ub
	case ir.Oshl:
		v = ua << (ub & 63)
	case ir.Oshr:
		v = uint64(getInt(resize(l, size)) >> (ub & 63))
	case ir.Oshru:
		v = truncate(ua, size) >> (ub & 63)
	}
	return encodeUint(v, size)
}

func truncate(v uint64, size int64) uint64 {
	if size >= 8 {
		return v
	}
	return v & (1<<(8*uint(size)) - 1)
}

func compare(op ir.Comparison, l, r []byte, t ast.Type) bool {
	if isFloat(t) {
		s, _ := floatSize(t)
		a, b := getFloat(l, s), getFloat(r, s)
		un := math.IsNaN(a) || math.IsNaN(b)
		switch op {
		case ir.Ceq:
			return a == b
		case ir.Cne:
			return a != b
		case ir.Clt:
			return a < b
		case ir.Cle:
			return a <= b
		case ir.Cgt:
			return a > b
		case ir.Cge:
			return a >= b
		case ir.Cuneq:
			return un || a == b
		case ir.Cltgt:
			return !un && a != b
		case ir.Cunlt:
			return un || a < b
		case ir.Cunle:
			return un || a <= b
		case ir.Cungt:
			return un || a > b
		case ir.Cunge:
			return un || a >= b
		case ir.Cordered:
			return !un
		case ir.Cunordered:
			return un
		}
		return false
	}

	if isSigned(t) {
		a, b := getInt(l), getInt(r)
		switch op {
		case ir.Ceq, ir.Cuneq:
			return a == b
		case ir.Cne, ir.Cltgt:
			return a != b
		case ir.Clt, ir.Cunlt:
			return a < b
		case ir.Cle, ir.Cunle:
			return a <= b
		case ir.Cgt, ir.Cungt:
			return a > b
		case ir.Cge, ir.Cunge:
			return a >= b
		}
		return op == ir.Cordered
	}
	a, b := getUint(l), getUint(r)
	switch op {
	case ir.Ceq, ir.Cuneq:
		return a == b
	case ir.Cne, ir.Cltgt:
		return a != b
	case ir.Clt, ir.Cunlt:
		return a < b
	case ir.Cle, ir.Cunle:
		return a <= b
	case ir.Cgt, ir.Cungt:
		return a > b
	case ir.Cge, ir.Cunge:
		return a >= b
	}
	return op == ir.Cordered
}

// convert changes the representation of a scalar. Aggregates and
// pointers keep their bytes.
func convert(v []byte, from, to ast.Type) []byte {
	size := sizeOf(to)
	if ast.IsVoid(to) {
		return nil
	}
	if _, ok := to.(ast.Tbool); ok && !isFloat(from) {
		return encodeBool(truth(v))
	}
	fs, fromFloat := floatSize(from)
	if _, ok := from.(ast.Tcomplex); ok {
		fromFloat = false
	}
	switch {
	case isFloat(to) && fromFloat:
		return encodeFloat(getFloat(v, fs), to)
	case isFloat(to):
		if isSigned(from) {
			return encodeFloat(float64(getInt(v)), to)
		}
		return encodeFloat(float64(getUint(v)), to)
	case fromFloat:
		f := getFloat(v, fs)
		if _, ok := to.(ast.Tbool); ok {
			return encodeBool(f != 0)
		}
		if !isSigned(to) && f >= math.MaxInt64 {
			return encodeUint(uint64(f), size)
		}
		return encodeUint(uint64(int64(f)), size)
	}
	if _, ok := to.(ast.Tcomplex); ok {
		return resize(v, size)
	}
	if len(v) < int(size) && isSigned(from) {
		return encodeUint(uint64(getInt(v)), size)
	}
	return resize(v, size)
}
