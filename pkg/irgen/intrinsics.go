package irgen

import (
	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

// Intrinsics are library functions whose calls are replaced by a target
// primitive. A call whose operand width has no primitive on the target
// stays a real call.

type intrinsicKey struct {
	module, name, sig string
}

var intrinsicTable = map[intrinsicKey]ast.Intrinsic{
	{"core.bitop", "bsf", "FkZi"}:             ast.IntrinsicBsf,
	{"core.bitop", "bsf", "FmZi"}:             ast.IntrinsicBsf,
	{"core.bitop", "bsr", "FkZi"}:             ast.IntrinsicBsr,
	{"core.bitop", "bsr", "FmZi"}:             ast.IntrinsicBsr,
	{"core.bitop", "bt", "FPmmZi"}:            ast.IntrinsicBt,
	{"core.bitop", "btc", "FPmmZi"}:           ast.IntrinsicBtc,
	{"core.bitop", "btr", "FPmmZi"}:           ast.IntrinsicBtr,
	{"core.bitop", "bts", "FPmmZi"}:           ast.IntrinsicBts,
	{"core.bitop", "bswap", "FkZk"}:           ast.IntrinsicBswap,
	{"core.bitop", "bswap", "FmZm"}:           ast.IntrinsicBswap,
	{"core.bitop", "volatileLoad", "FPhZh"}:   ast.IntrinsicVolatileLoad,
	{"core.bitop", "volatileLoad", "FPtZt"}:   ast.IntrinsicVolatileLoad,
	{"core.bitop", "volatileLoad", "FPkZk"}:   ast.IntrinsicVolatileLoad,
	{"core.bitop", "volatileLoad", "FPmZm"}:   ast.IntrinsicVolatileLoad,
	{"core.bitop", "volatileStore", "FPhhZv"}: ast.IntrinsicVolatileStore,
	{"core.bitop", "volatileStore", "FPttZv"}: ast.IntrinsicVolatileStore,
	{"core.bitop", "volatileStore", "FPkkZv"}: ast.IntrinsicVolatileStore,
	{"core.bitop", "volatileStore", "FPmmZv"}: ast.IntrinsicVolatileStore,
	{"core.math", "cos", "FeZe"}:              ast.IntrinsicCos,
	{"core.math", "sin", "FeZe"}:              ast.IntrinsicSin,
	{"core.math", "fabs", "FeZe"}:             ast.IntrinsicFabs,
	{"core.math", "rint", "FeZe"}:             ast.IntrinsicRint,
	{"core.math", "rndtol", "FeZl"}:           ast.IntrinsicRndtol,
	{"core.math", "ldexp", "FeiZe"}:           ast.IntrinsicLdexp,
	{"core.math", "sqrt", "FfZf"}:             ast.IntrinsicSqrtf,
	{"core.math", "sqrt", "FdZd"}:             ast.IntrinsicSqrt,
	{"core.math", "sqrt", "FeZe"}:             ast.IntrinsicSqrtl,
}

// Templates are matched by name alone.
var intrinsicTemplates = map[[2]string]ast.Intrinsic{
	{"core.vararg", "va_arg"}:        ast.IntrinsicVaArg,
	{"core.stdc.stdarg", "va_arg"}:   ast.IntrinsicCVaArg,
	{"core.stdc.stdarg", "va_start"}: ast.IntrinsicVaStart,
}

// RecognizeIntrinsic returns the intrinsic a declaration implements, by
// module, name and signature, or IntrinsicNone.
func RecognizeIntrinsic(fd *ast.FuncDecl) ast.Intrinsic {
	if fd == nil || fd.Parent != nil || fd.InStruct != nil || fd.InClass != nil {
		return ast.IntrinsicNone
	}
	if in, ok := intrinsicTemplates[[2]string{fd.Module, fd.Name}]; ok {
		return in
	}
	if fd.Type == nil {
		return ast.IntrinsicNone
	}
	return intrinsicTable[intrinsicKey{fd.Module, fd.Name, ast.Mangle(*fd.Type)}]
}

// expandIntrinsic replaces a call to an intrinsic. When the target has
// no primitive for the operand, the tag is stripped from the function
// handle and false is returned so the call is emitted as is.
func (f *funcState) expandIntrinsic(x ast.Call, fd *ast.FuncDecl, args []ir.Expr) (ir.Expr, bool) {
	e := f.intrinsic(x, fd.Intrinsic, args)
	if e == nil {
		f.u.syms.Func(fd).Intrinsic = ast.IntrinsicNone
		return nil, false
	}
	return e, true
}

func (f *funcState) builtin(b ir.Builtin, t ast.Type, args ...ir.Expr) ir.Expr {
	if !f.u.tgt.Has(b) {
		return nil
	}
	return ir.Ebuiltin{Builtin: b, Args: args, Type: t}
}

func argWidth(args []ir.Expr) int64 {
	if len(args) == 0 {
		return 0
	}
	return ast.Sizeof(args[0].ExprType())
}

func (f *funcState) intrinsic(x ast.Call, in ast.Intrinsic, args []ir.Expr) ir.Expr {
	t := x.Typ
	switch in {
	case ast.IntrinsicBsf, ast.IntrinsicBsr:
		return f.bitScan(in == ast.IntrinsicBsr, args, t)
	case ast.IntrinsicBt, ast.IntrinsicBtc, ast.IntrinsicBtr, ast.IntrinsicBts:
		if len(args) != 2 {
			return nil
		}
		return f.bitTest(in, args[0], args[1], t)
	case ast.IntrinsicBswap:
		switch argWidth(args) {
		case 4:
			return f.builtin(ir.Bbswap32, t, args[0])
		case 8:
			return f.builtin(ir.Bbswap64, t, args[0])
		}
		return nil
	case ast.IntrinsicSqrt, ast.IntrinsicSqrtf, ast.IntrinsicSqrtl:
		return f.sqrt(args, t)
	case ast.IntrinsicCos:
		return f.realBuiltin(ir.Bcosl, t, args...)
	case ast.IntrinsicSin:
		return f.realBuiltin(ir.Bsinl, t, args...)
	case ast.IntrinsicFabs:
		return f.realBuiltin(ir.Bfabsl, t, args...)
	case ast.IntrinsicRint:
		return f.realBuiltin(ir.Brintl, t, args...)
	case ast.IntrinsicRndtol:
		if len(args) != 1 {
			return nil
		}
		return f.convertBuiltin(f.builtin(ir.Bllroundl, ast.Long(), ir.Convert(args[0], ast.Real())), t)
	case ast.IntrinsicLdexp:
		if len(args) != 2 {
			return nil
		}
		return f.convertBuiltin(f.builtin(ir.Bldexpl, ast.Real(), ir.Convert(args[0], ast.Real()), ir.Convert(args[1], ast.Int())), t)
	case ast.IntrinsicVaArg, ast.IntrinsicCVaArg:
		return f.vaArg(args, t)
	case ast.IntrinsicVaStart:
		return f.builtin(ir.BvaStart, ast.Void(), args...)
	case ast.IntrinsicVolatileLoad:
		if len(args) != 1 {
			return nil
		}
		return ir.Ederef{Ptr: args[0], Type: t, Volatile: true}
	case ast.IntrinsicVolatileStore:
		if len(args) != 2 {
			return nil
		}
		pt, ok := args[0].ExprType().(ast.Tpointer)
		if !ok {
			return nil
		}
		return ir.SeqExpr(ir.Assign(ir.Ederef{Ptr: args[0], Type: pt.Elem, Volatile: true}, args[1]), nop())
	}
	return nil
}

func (f *funcState) convertBuiltin(e ir.Expr, t ast.Type) ir.Expr {
	if e == nil {
		return nil
	}
	return ir.Convert(e, t)
}

// realBuiltin applies an extended-precision math primitive.
func (f *funcState) realBuiltin(b ir.Builtin, t ast.Type, args ...ir.Expr) ir.Expr {
	if len(args) != 1 {
		return nil
	}
	return f.convertBuiltin(f.builtin(b, ast.Real(), ir.Convert(args[0], ast.Real())), t)
}

// bitScan counts trailing zeros (bsf) or returns the index of the
// highest set bit (bsr). A zero operand gives an undefined result.
func (f *funcState) bitScan(reverse bool, args []ir.Expr, t ast.Type) ir.Expr {
	if len(args) != 1 {
		return nil
	}
	var b ir.Builtin
	var bits int64
	var opT ast.Type
	switch argWidth(args) {
	case 4:
		b, bits, opT = ir.Bctz, 32, ast.UInt()
		if reverse {
			b = ir.Bclz
		}
	case 8:
		b, bits, opT = ir.Bctzll, 64, ast.ULong()
		if reverse {
			b = ir.Bclzll
		}
	default:
		return nil
	}
	count := f.builtin(b, ast.Int(), ir.Convert(args[0], opT))
	if count == nil {
		return nil
	}
	if reverse {
		count = ir.Binop(ir.Osub, ir.IntConst(bits-1, ast.Int()), count, ast.Int())
	}
	return ir.Convert(count, t)
}

// bitTest tests bit n of the word array at p, yielding -1 when set and 0
// otherwise. The mutating forms store the updated word after the test.
func (f *funcState) bitTest(in ast.Intrinsic, p, n ir.Expr, t ast.Type) ir.Expr {
	pt, ok := p.ExprType().(ast.Tpointer)
	if !ok {
		return nil
	}
	wordT := pt.Elem
	bits := ast.Sizeof(wordT) * 8
	ppre, p := f.stabilize(p)
	npre, num := f.stabilize(ir.Convert(n, ast.SizeT()))

	wp := f.temp(pt, "")
	wordPtr := ir.Eindex{Ptr: p, Index: ir.Binop(ir.Odiv, num, ir.SizeConst(bits), ast.SizeT()), Type: pt}
	word := ir.Deref(wp.Ref(), wordT)
	shift := ir.Binop(ir.Omod, num, ir.SizeConst(bits), ast.SizeT())
	mask := ir.Binop(ir.Oshl, ir.IntConst(1, wordT), shift, wordT)

	set := ir.Cmp(ir.Cne, ir.Binop(ir.Oand, word, mask, wordT), ir.IntConst(0, wordT))
	test := ir.Econd{Cond: set, Then: ir.IntConst(-1, t), Else: ir.IntConst(0, t), Type: t}
	effects := []ir.Expr{ppre, npre, ir.Init(wp.Ref(), wordPtr)}
	if in == ast.IntrinsicBt {
		return ir.Compound(test, effects...)
	}

	var updated ir.Expr
	switch in {
	case ast.IntrinsicBtc:
		updated = ir.Binop(ir.Oxor, word, mask, wordT)
	case ast.IntrinsicBtr:
		updated = ir.Binop(ir.Oand, word, ir.Eunop{Op: ir.Onot, Arg: mask, Type: wordT}, wordT)
	default:
		updated = ir.Binop(ir.Oor, word, mask, wordT)
	}
	res := f.temp(t, "")
	effects = append(effects, ir.Init(res.Ref(), test), ir.Assign(word, updated))
	return ir.Compound(ir.Expr(res.Ref()), effects...)
}

// sqrt selects the primitive by operand precision. Integers are widened
// to double.
func (f *funcState) sqrt(args []ir.Expr, t ast.Type) ir.Expr {
	if len(args) != 1 {
		return nil
	}
	arg := args[0]
	at := arg.ExprType()
	if ast.IsIntegral(at) {
		arg, at = ir.Convert(arg, ast.Double()), ast.Double()
	}
	prec, ok := ast.FloatPrecision(at)
	if !ok {
		return nil
	}
	b := map[ast.FloatSize]ir.Builtin{ast.F32: ir.Bsqrtf, ast.F64: ir.Bsqrt, ast.F80: ir.Bsqrtl}[prec]
	return f.convertBuiltin(f.builtin(b, at, arg), t)
}

// vaArg fetches the next variadic argument. The two-argument form stores
// it through its out parameter.
func (f *funcState) vaArg(args []ir.Expr, t ast.Type) ir.Expr {
	switch len(args) {
	case 1:
		return f.builtin(ir.BvaArg, t, args[0])
	case 2:
		pt, ok := args[1].ExprType().(ast.Tpointer)
		if !ok {
			return nil
		}
		fetch := f.builtin(ir.BvaArg, pt.Elem, args[0])
		if fetch == nil {
			return nil
		}
		return ir.SeqExpr(ir.Assign(ir.Deref(args[1], pt.Elem), fetch), nop())
	}
	return nil
}
