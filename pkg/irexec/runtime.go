package irexec

import (
	"bytes"
	"fmt"
	"math"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/libcall"
)

// assocArray is the run-time representation of an associative array.
// Keys are compared by content; each value lives in its own block so
// slot addresses stay valid while the table grows.
type assocArray struct {
	key, val ast.Type
	slots    map[string]Addr
}

func addrArg(b []byte) Addr { return Addr(getUint(b)) }

func arrayArg(b []byte) (uint64, Addr) {
	return Value{Bytes: b}.Array()
}

func arrayBytes(n uint64, p Addr) []byte {
	return arrayValue(nil, n, p).Bytes
}

// runtime implements one runtime library entry point.
func (m *Machine) runtime(id libcall.ID, args [][]byte) []byte {
	switch id {
	case libcall.Assert, libcall.Unittest, libcall.ArrayBounds, libcall.SwitchError:
		panic(&Failure{Call: id, File: m.utf8Arg(args[0]), Line: int(getUint(args[1]))})
	case libcall.AssertMsg, libcall.UnittestMsg:
		panic(&Failure{Call: id, Msg: m.utf8Arg(args[0]), File: m.utf8Arg(args[1]), Line: int(getUint(args[2]))})
	case libcall.Throw:
		obj := addrArg(args[0])
		panic(&Thrown{Obj: obj, Class: m.classOf(obj)})
	case libcall.BeginCatch:
		return args[0]

	case libcall.NewClass:
		return encodeUint(uint64(m.newObject(m.symbolAt(addrArg(args[0])).Class)), ast.PtrSize)
	case libcall.NewItemT:
		return encodeUint(uint64(m.mem.alloc(sizeOf(m.describes(addrArg(args[0]))))), ast.PtrSize)
	case libcall.NewItemIT:
		return encodeUint(uint64(m.mem.allocBytes(m.initBytes(m.describes(addrArg(args[0]))))), ast.PtrSize)
	case libcall.NewArrayT, libcall.NewArrayIT:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		n := getUint(args[1])
		return arrayBytes(n, m.newElems(elem, n, id == libcall.NewArrayIT))
	case libcall.NewArrayMTX, libcall.NewArrayMITX:
		at := m.describes(addrArg(args[0]))
		nd, pd := arrayArg(args[1])
		dims := make([]uint64, nd)
		for i := range dims {
			dims[i] = getUint(m.mem.load(pd.add(int64(i)*ast.PtrSize), ast.PtrSize))
		}
		return m.newMulti(at, dims, id == libcall.NewArrayMITX)

	case libcall.DelClass, libcall.DelInterface, libcall.DelMemory:
		if p := addrArg(args[0]); p != 0 {
			m.mem.store(p, make([]byte, ast.PtrSize))
		}
		return nil
	case libcall.DelArrayT:
		if p := addrArg(args[0]); p != 0 {
			m.mem.store(p, make([]byte, 2*ast.PtrSize))
		}
		return nil
	case libcall.CallFinalizer, libcall.CallInterfaceFinalizer, libcall.Invariant:
		return nil

	case libcall.ArrayLiteralTX:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		return encodeUint(uint64(m.newElems(elem, getUint(args[1]), false)), ast.PtrSize)
	case libcall.AssocArrayLiteralTX:
		at := m.describes(addrArg(args[0])).(ast.Taarray)
		aa, h := m.newAA(at)
		nk, pk := arrayArg(args[1])
		_, pv := arrayArg(args[2])
		ks, vs := sizeOf(at.Key), sizeOf(at.Value)
		for i := uint64(0); i < nk; i++ {
			slot := m.aaSlot(aa, m.mem.load(pk.add(int64(i)*ks), ks), true)
			m.mem.store(slot, m.mem.load(pv.add(int64(i)*vs), vs))
		}
		return encodeUint(uint64(h), ast.PtrSize)
	case libcall.AAGetY:
		pp := addrArg(args[0])
		at := m.describes(addrArg(args[1])).(ast.Taarray)
		h := addrArg(m.mem.load(pp, ast.PtrSize))
		if h == 0 {
			_, h = m.newAA(at)
			m.mem.store(pp, encodeUint(uint64(h), ast.PtrSize))
		}
		aa := m.aaAt(h)
		key := m.mem.load(addrArg(args[3]), sizeOf(aa.key))
		return encodeUint(uint64(m.aaSlot(aa, key, true)), ast.PtrSize)
	case libcall.AAGetRvalueX:
		return encodeUint(uint64(m.aaLookup(args[0], args[1], args[3])), ast.PtrSize)
	case libcall.AAInX:
		return encodeUint(uint64(m.aaLookup(args[0], args[1], args[2])), ast.PtrSize)
	case libcall.AADelX:
		h := addrArg(args[0])
		if h == 0 {
			return encodeBool(false)
		}
		aa := m.aaAt(h)
		k := m.keyString(aa.key, m.mem.load(addrArg(args[2]), sizeOf(aa.key)))
		if _, ok := aa.slots[k]; !ok {
			return encodeBool(false)
		}
		delete(aa.slots, k)
		return encodeBool(true)
	case libcall.AAEqual:
		at := m.describes(addrArg(args[0])).(ast.Taarray)
		return encodeUint(b2u(m.aaEqual(at, addrArg(args[1]), addrArg(args[2]))), 4)

	case libcall.ArrayAppendT:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		pp := addrArg(args[1])
		n, p := arrayArg(m.mem.load(pp, 2*ast.PtrSize))
		yn, yp := arrayArg(args[2])
		out := m.concat(elem, [][2]uint64{{n, uint64(p)}, {yn, uint64(yp)}})
		m.mem.store(pp, out)
		return out
	case libcall.ArrayAppendCTX:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		pp := addrArg(args[1])
		n, p := arrayArg(m.mem.load(pp, 2*ast.PtrSize))
		out := m.resizeArray(elem, n, p, n+getUint(args[2]), false)
		m.mem.store(pp, out)
		return out
	case libcall.ArrayAppendCD, libcall.ArrayAppendWD:
		pp := addrArg(args[0])
		n, p := arrayArg(m.mem.load(pp, 2*ast.PtrSize))
		r := rune(getUint(args[1]))
		var units []byte
		var elem ast.Type = ast.Char()
		if id == libcall.ArrayAppendCD {
			units = utf8.AppendRune(nil, r)
		} else {
			elem = ast.WChar()
			for _, u := range utf16.Encode([]rune{r}) {
				units = append(units, byte(u), byte(u>>8))
			}
		}
		tmp := m.mem.allocBytes(units)
		out := m.concat(elem, [][2]uint64{{n, uint64(p)}, {uint64(len(units)) / uint64(sizeOf(elem)), uint64(tmp)}})
		m.mem.store(pp, out)
		return out
	case libcall.ArrayCatT:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		an, ap := arrayArg(args[1])
		bn, bp := arrayArg(args[2])
		return m.concat(elem, [][2]uint64{{an, uint64(ap)}, {bn, uint64(bp)}})
	case libcall.ArrayCatNT:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		count := int(getUint(args[1]))
		parts := make([][2]uint64, 0, count)
		for _, a := range args[2 : 2+count] {
			n, p := arrayArg(a)
			parts = append(parts, [2]uint64{n, uint64(p)})
		}
		return m.concat(elem, parts)
	case libcall.ArraySetLengthT, libcall.ArraySetLengthIT:
		elem := ast.ElemType(m.describes(addrArg(args[0])))
		pp := addrArg(args[2])
		n, p := arrayArg(m.mem.load(pp, 2*ast.PtrSize))
		out := m.resizeArray(elem, n, p, getUint(args[1]), id == libcall.ArraySetLengthIT)
		m.mem.store(pp, out)
		return out

	case libcall.ArrayCopy:
		return m.arrayCopy(int64(getUint(args[0])), args[1], args[2], true)
	case libcall.ArrayAssign, libcall.ArrayCtor:
		return m.arrayCopy(sizeOf(m.describes(addrArg(args[0]))), args[1], args[2], false)
	case libcall.ArraySetAssign, libcall.ArraySetCtor:
		p := addrArg(args[0])
		elem := m.describes(addrArg(args[3]))
		size := sizeOf(elem)
		v := m.mem.load(addrArg(args[1]), size)
		count := getInt(args[2][:4])
		for i := int64(0); i < count; i++ {
			m.mem.store(p.add(i*size), v)
		}
		return args[0]
	case libcall.ArrayEq2:
		elem := ast.ElemType(m.describes(addrArg(args[2])))
		return encodeUint(b2u(m.equal(ast.DArray(elem), args[0], args[1])), 4)
	case libcall.ArrayCmp2:
		elem := ast.ElemType(m.describes(addrArg(args[2])))
		return encodeUint(uint64(int64(m.order(ast.DArray(elem), args[0], args[1]))), 4)

	case libcall.SwitchString, libcall.SwitchUstring, libcall.SwitchDstring:
		unit := map[libcall.ID]int64{libcall.SwitchString: 1, libcall.SwitchUstring: 2, libcall.SwitchDstring: 4}[id]
		return encodeUint(uint64(int64(m.switchIndex(unit, args[0], args[1]))), 4)

	case libcall.AllocMemory:
		return encodeUint(uint64(m.mem.alloc(int64(getUint(args[0])))), ast.PtrSize)
	case libcall.DynamicCast, libcall.InterfaceCast:
		obj := addrArg(args[0])
		cd := m.symbolAt(addrArg(args[1])).Class
		if obj != 0 && cd != nil && cd.IsBaseOf(m.classOf(obj)) {
			return args[0]
		}
		return make([]byte, ast.PtrSize)
	}
	panic(fmt.Errorf("%w: runtime entry %s", ErrUnsupported, id))
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (m *Machine) utf8Arg(b []byte) string {
	n, p := arrayArg(b)
	if n == 0 {
		return ""
	}
	return string(m.mem.load(p, int64(n)))
}

// newObject copies the class's static initializer into a fresh block.
func (m *Machine) newObject(cd *ast.ClassDecl) Addr {
	for _, sym := range m.prog.Symbols {
		if sym.Kind == ir.SymInitializer && sym.Class == cd {
			return m.mem.allocBytes(m.mem.load(m.symAddr(sym), cd.Size))
		}
	}
	panic(fmt.Sprintf("class %s has no initializer", cd.Name))
}

func (m *Machine) newElems(elem ast.Type, n uint64, init bool) Addr {
	if n == 0 {
		return 0
	}
	size := sizeOf(elem)
	p := m.mem.alloc(size * int64(n))
	if init {
		iv := m.initBytes(elem)
		for i := uint64(0); i < n; i++ {
			m.mem.store(p.add(int64(i)*size), iv)
		}
	}
	return p
}

func (m *Machine) newMulti(at ast.Type, dims []uint64, init bool) []byte {
	elem := ast.ElemType(at)
	if len(dims) == 1 {
		return arrayBytes(dims[0], m.newElems(elem, dims[0], init))
	}
	p := m.newElems(elem, dims[0], false)
	for i := uint64(0); i < dims[0]; i++ {
		m.mem.store(p.add(int64(i)*2*ast.PtrSize), m.newMulti(elem, dims[1:], init))
	}
	return arrayBytes(dims[0], p)
}

// concat copies several arrays into one new block.
func (m *Machine) concat(elem ast.Type, parts [][2]uint64) []byte {
	size := sizeOf(elem)
	var total uint64
	for _, pt := range parts {
		total += pt[0]
	}
	if total == 0 {
		return arrayBytes(0, 0)
	}
	dst := m.mem.alloc(int64(total) * size)
	off := int64(0)
	for _, pt := range parts {
		n := int64(pt[0]) * size
		if n > 0 {
			m.mem.store(dst.add(off), m.mem.load(Addr(pt[1]), n))
		}
		off += n
	}
	return arrayBytes(total, dst)
}

// resizeArray always moves a growing array to a new block, so code
// holding the old pointer keeps seeing the old contents.
func (m *Machine) resizeArray(elem ast.Type, n uint64, p Addr, newLen uint64, init bool) []byte {
	if newLen <= n {
		if newLen == 0 {
			return arrayBytes(0, 0)
		}
		return arrayBytes(newLen, p)
	}
	size := sizeOf(elem)
	dst := m.newElems(elem, newLen, init)
	if n > 0 {
		m.mem.store(dst, m.mem.load(p, int64(n)*size))
	}
	return arrayBytes(newLen, dst)
}

func (m *Machine) arrayCopy(size int64, from, to []byte, checked bool) []byte {
	fn, fp := arrayArg(from)
	tn, tp := arrayArg(to)
	if fn != tn {
		panic(&Failure{Call: libcall.ArrayCopy, Msg: fmt.Sprintf("lengths don't match for array copy, %d = %d", tn, fn)})
	}
	nb := int64(fn) * size
	if checked && fp.block() == tp.block() && fp != 0 {
		lo, hi := int64(fp.off()), int64(tp.off())
		if lo < hi+nb && hi < lo+nb {
			panic(&Failure{Call: libcall.ArrayCopy, Msg: "overlapping array copy"})
		}
	}
	if nb > 0 {
		m.mem.store(tp, m.mem.load(fp, nb))
	}
	return to
}

// initBytes is the default value of t.
func (m *Machine) initBytes(t ast.Type) []byte {
	size := sizeOf(t)
	switch tt := t.(type) {
	case ast.Tfloat, ast.Timaginary:
		return encodeFloat(math.NaN(), t)
	case ast.Tcomplex:
		ps := partSize(tt.Size)
		out := make([]byte, size)
		putFloat(out[:ps], math.NaN(), tt.Size)
		putFloat(out[ps:], math.NaN(), tt.Size)
		return out
	case ast.Tchar:
		if tt.Size == ast.C8 {
			return encodeUint(0xFF, size)
		}
		return encodeUint(0xFFFF, size)
	case ast.Tsarray:
		out := make([]byte, size)
		es := sizeOf(tt.Elem)
		iv := m.initBytes(tt.Elem)
		for i := int64(0); i < tt.Len; i++ {
			copy(out[i*es:], iv)
		}
		return out
	case ast.Tstruct:
		out := make([]byte, size)
		for _, f := range tt.Decl.Fields {
			copy(out[f.Offset:], m.initBytes(f.Type))
			if tt.Decl.IsUnion {
				break
			}
		}
		return out
	}
	return make([]byte, size)
}

// equal compares two values of type t the way the language's == does:
// floats by value, arrays by content.
func (m *Machine) equal(t ast.Type, a, b []byte) bool {
	switch tt := t.(type) {
	case ast.Tfloat, ast.Timaginary:
		return compare(ir.Ceq, a, b, t)
	case ast.Tcomplex:
		ps := partSize(tt.Size)
		part := ast.Tfloat{Size: tt.Size}
		return compare(ir.Ceq, a[:ps], b[:ps], part) && compare(ir.Ceq, a[ps:], b[ps:], part)
	case ast.Tdarray:
		an, ap := arrayArg(a)
		bn, bp := arrayArg(b)
		if an != bn {
			return false
		}
		es := sizeOf(tt.Elem)
		for i := int64(0); i < int64(an); i++ {
			if !m.equal(tt.Elem, m.mem.load(ap.add(i*es), es), m.mem.load(bp.add(i*es), es)) {
				return false
			}
		}
		return true
	case ast.Tsarray:
		es := sizeOf(tt.Elem)
		for i := int64(0); i < tt.Len; i++ {
			if !m.equal(tt.Elem, a[i*es:(i+1)*es], b[i*es:(i+1)*es]) {
				return false
			}
		}
		return true
	case ast.Tstruct:
		if tt.Decl.IsUnion {
			return bytes.Equal(a, b)
		}
		for _, f := range tt.Decl.Fields {
			fs := sizeOf(f.Type)
			if !m.equal(f.Type, a[f.Offset:f.Offset+fs], b[f.Offset:f.Offset+fs]) {
				return false
			}
		}
		return true
	}
	return bytes.Equal(a, b)
}

// order compares two values of type t, returning -1, 0 or 1.
func (m *Machine) order(t ast.Type, a, b []byte) int {
	switch tt := t.(type) {
	case ast.Tdarray:
		an, ap := arrayArg(a)
		bn, bp := arrayArg(b)
		es := sizeOf(tt.Elem)
		for i := int64(0); i < int64(min(an, bn)); i++ {
			if c := m.order(tt.Elem, m.mem.load(ap.add(i*es), es), m.mem.load(bp.add(i*es), es)); c != 0 {
				return c
			}
		}
		return cmp3(an, bn)
	case ast.Tfloat:
		switch {
		case compare(ir.Clt, a, b, t):
			return -1
		case compare(ir.Cgt, a, b, t):
			return 1
		}
		return 0
	}
	if isSigned(t) {
		return cmp3(getInt(a), getInt(b))
	}
	return cmp3(getUint(a), getUint(b))
}

func cmp3[T int64 | uint64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// switchIndex binary-searches a table of strings sorted by length, then
// by code units, and returns the index of s or -1.
func (m *Machine) switchIndex(unit int64, table, s []byte) int {
	tn, tp := arrayArg(table)
	sn, sp := arrayArg(s)
	key := m.mem.load(sp, int64(sn)*unit)
	lo, hi := 0, int(tn)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		cn, cp := arrayArg(m.mem.load(tp.add(int64(mid)*2*ast.PtrSize), 2*ast.PtrSize))
		c := cmp3(int64(cn), int64(sn))
		if c == 0 {
			c = bytes.Compare(m.mem.load(cp, int64(cn)*unit), key)
		}
		switch {
		case c == 0:
			return mid
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return -1
}

func (m *Machine) newAA(at ast.Taarray) (*assocArray, Addr) {
	aa := &assocArray{key: at.Key, val: at.Value, slots: make(map[string]Addr)}
	h := m.mem.alloc(1)
	m.aas[h] = aa
	return aa, h
}

func (m *Machine) aaAt(h Addr) *assocArray {
	aa, ok := m.aas[h]
	if !ok {
		panic(&Fault{Addr: h, Size: 1})
	}
	return aa
}

// keyString is the identity of a key: arrays by content.
func (m *Machine) keyString(t ast.Type, key []byte) string {
	if at, ok := t.(ast.Tdarray); ok {
		n, p := arrayArg(key)
		if n == 0 {
			return "[]"
		}
		return "[" + string(m.mem.load(p, int64(n)*sizeOf(at.Elem)))
	}
	return string(key)
}

func (m *Machine) aaSlot(aa *assocArray, key []byte, create bool) Addr {
	k := m.keyString(aa.key, key)
	if slot, ok := aa.slots[k]; ok || !create {
		return slot
	}
	slot := m.mem.allocBytes(m.initBytes(aa.val))
	aa.slots[k] = slot
	return slot
}

func (m *Machine) aaLookup(handle, ti, keyPtr []byte) Addr {
	h := addrArg(handle)
	if h == 0 {
		return 0
	}
	aa := m.aaAt(h)
	kt := m.describes(addrArg(ti))
	return m.aaSlot(aa, m.mem.load(addrArg(keyPtr), sizeOf(kt)), false)
}

func (m *Machine) aaEqual(at ast.Taarray, a, b Addr) bool {
	size := func(h Addr) int {
		if h == 0 {
			return 0
		}
		return len(m.aaAt(h).slots)
	}
	if size(a) != size(b) {
		return false
	}
	if size(a) == 0 {
		return true
	}
	x, y := m.aaAt(a), m.aaAt(b)
	vs := sizeOf(at.Value)
	for k, sa := range x.slots {
		sb, ok := y.slots[k]
		if !ok || !m.equal(at.Value, m.mem.load(sa, vs), m.mem.load(sb, vs)) {
			return false
		}
	}
	return true
}

// AALength reports the number of entries of an associative array value.
func (m *Machine) AALength(v Value) int {
	h := v.Addr()
	if h == 0 {
		return 0
	}
	return len(m.aaAt(h).slots)
}
