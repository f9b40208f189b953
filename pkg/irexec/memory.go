package irexec

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/raymyers/ralph-dc/pkg/ast"
)

// Addr is a machine address: the block number in the high 32 bits and
// the byte offset in the low 32. Block 0 is never allocated, so the
// zero address is null.
type Addr uint64

func makeAddr(block uint32, off uint32) Addr {
	return Addr(uint64(block)<<32 | uint64(off))
}

func (a Addr) block() uint32 { return uint32(a >> 32) }
func (a Addr) off() uint32   { return uint32(a) }

func (a Addr) add(n int64) Addr {
	return Addr(int64(a) + n)
}

func (a Addr) String() string {
	if a == 0 {
		return "null"
	}
	return fmt.Sprintf("%d:%d", a.block(), a.off())
}

// memory is a list of independent blocks. Blocks are never freed.
type memory struct {
	blocks [][]byte
}

func newMemory() *memory {
	return &memory{blocks: [][]byte{nil}}
}

// alloc returns a fresh zeroed block of n bytes.
func (m *memory) alloc(n int64) Addr {
	if n <= 0 {
		n = 1
	}
	m.blocks = append(m.blocks, make([]byte, n))
	return makeAddr(uint32(len(m.blocks)-1), 0)
}

// allocBytes returns a fresh block holding a copy of b.
func (m *memory) allocBytes(b []byte) Addr {
	a := m.alloc(int64(len(b)))
	copy(m.blocks[a.block()], b)
	return a
}

func (m *memory) span(a Addr, n int64) []byte {
	if n == 0 {
		return nil
	}
	b := int(a.block())
	if a == 0 || b >= len(m.blocks) {
		panic(&Fault{Addr: a, Size: n})
	}
	blk := m.blocks[b]
	off := int64(a.off())
	if off+n > int64(len(blk)) {
		panic(&Fault{Addr: a, Size: n})
	}
	return blk[off : off+n]
}

func (m *memory) load(a Addr, n int64) []byte {
	out := make([]byte, n)
	copy(out, m.span(a, n))
	return out
}

func (m *memory) store(a Addr, v []byte) {
	copy(m.span(a, int64(len(v))), v)
}

// Scalars are stored little-endian. The extended float format keeps a
// float64 in its first eight bytes.

func getUint(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}

func putUint(b []byte, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	copy(b, buf[:])
}

// getInt sign-extends a value of len(b) bytes.
func getInt(b []byte) int64 {
	n := len(b)
	if n >= 8 {
		return int64(getUint(b))
	}
	shift := 64 - 8*uint(n)
	return int64(getUint(b)<<shift) >> shift
}

func encodeUint(v uint64, size int64) []byte {
	b := make([]byte, size)
	putUint(b, v)
	return b
}

func isSigned(t ast.Type) bool {
	it, ok := t.(ast.Tint)
	return ok && it.Sign == ast.Signed
}

// intValue reads an integral or pointer-like value as int64, extended
// according to the signedness of t.
func intValue(b []byte, t ast.Type) int64 {
	if isSigned(t) {
		return getInt(b)
	}
	return int64(getUint(b))
}

func floatSize(t ast.Type) (ast.FloatSize, bool) {
	switch ft := t.(type) {
	case ast.Tfloat:
		return ft.Size, true
	case ast.Timaginary:
		return ft.Size, true
	case ast.Tcomplex:
		return ft.Size, true
	}
	return 0, false
}

func getFloat(b []byte, s ast.FloatSize) float64 {
	if s == ast.F32 {
		return float64(math.Float32frombits(uint32(getUint(b[:4]))))
	}
	return math.Float64frombits(getUint(b[:8]))
}

func putFloat(b []byte, v float64, s ast.FloatSize) {
	if s == ast.F32 {
		putUint(b[:4], uint64(math.Float32bits(float32(v))))
		return
	}
	putUint(b[:8], math.Float64bits(v))
}

func encodeFloat(v float64, t ast.Type) []byte {
	s, _ := floatSize(t)
	b := make([]byte, ast.Sizeof(t))
	putFloat(b, v, s)
	return b
}

func encodeBool(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

func partSize(s ast.FloatSize) int64 {
	return ast.Sizeof(ast.Tfloat{Size: s})
}

// sizeOf is the storage size of a value of type t; void values are
// empty.
func sizeOf(t ast.Type) int64 {
	if ast.IsVoid(t) {
		return 0
	}
	return ast.Sizeof(t)
}

// resize returns b truncated or zero-extended to n bytes.
func resize(b []byte, n int64) []byte {
	if int64(len(b)) == n {
		return b
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
