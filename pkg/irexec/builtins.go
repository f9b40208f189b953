package irexec

import (
	"bytes"
	"fmt"
	"math"
	"math/bits"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

func (m *Machine) builtin(x ir.Ebuiltin, args [][]byte) []byte {
	arg := func(i int) ast.Type { return x.Args[i].ExprType() }
	fl := func(i int) float64 {
		if s, ok := floatSize(arg(i)); ok {
			return getFloat(args[i], s)
		}
		return float64(intValue(args[i], arg(i)))
	}
	switch x.Builtin {
	case ir.Bmemcmp:
		n := int64(getUint(args[2]))
		c := bytes.Compare(m.mem.load(addrArg(args[0]), n), m.mem.load(addrArg(args[1]), n))
		return encodeUint(uint64(int64(c)), 4)
	case ir.Bmemcpy:
		n := int64(getUint(args[2]))
		m.mem.store(addrArg(args[0]), m.mem.load(addrArg(args[1]), n))
		return args[0]
	case ir.Bmemset:
		n := int64(getUint(args[2]))
		m.mem.store(addrArg(args[0]), bytes.Repeat([]byte{args[1][0]}, int(n)))
		return args[0]
	case ir.Bpow, ir.Bpowf, ir.Bpowl:
		return encodeFloat(math.Pow(fl(0), fl(1)), x.Type)
	case ir.Bctz:
		return encodeUint(uint64(bits.TrailingZeros32(uint32(getUint(args[0])))), 4)
	case ir.Bctzll:
		return encodeUint(uint64(bits.TrailingZeros64(getUint(args[0]))), 4)
	case ir.Bclz:
		return encodeUint(uint64(bits.LeadingZeros32(uint32(getUint(args[0])))), 4)
	case ir.Bclzll:
		return encodeUint(uint64(bits.LeadingZeros64(getUint(args[0]))), 4)
	case ir.Bbswap32:
		return encodeUint(uint64(bits.ReverseBytes32(uint32(getUint(args[0])))), 4)
	case ir.Bbswap64:
		return encodeUint(bits.ReverseBytes64(getUint(args[0])), 8)
	case ir.Bsqrtf, ir.Bsqrt, ir.Bsqrtl:
		return encodeFloat(math.Sqrt(fl(0)), x.Type)
	case ir.Bcosl:
		return encodeFloat(math.Cos(fl(0)), x.Type)
	case ir.Bsinl:
		return encodeFloat(math.Sin(fl(0)), x.Type)
	case ir.Bfabsl:
		return encodeFloat(math.Abs(fl(0)), x.Type)
	case ir.Brintl:
		return encodeFloat(math.RoundToEven(fl(0)), x.Type)
	case ir.Bllroundl:
		return encodeUint(uint64(int64(math.Round(fl(0)))), 8)
	case ir.Bldexpl:
		return encodeFloat(math.Ldexp(fl(0), int(intValue(args[1], arg(1)))), x.Type)
	case ir.BehPointer:
		if len(m.caught) == 0 {
			panic("no exception is being handled")
		}
		return encodeUint(uint64(m.caught[len(m.caught)-1].Obj), ast.PtrSize)
	case ir.Babort:
		panic(ErrAbort)
	}
	panic(fmt.Errorf("%w: builtin %s", ErrUnsupported, x.Builtin))
}
