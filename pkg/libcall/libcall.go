// Package libcall is the catalog of runtime support entry points the
// lowering pass may call. The table is the ABI contract with the runtime
// library: argument order and types must not change.
package libcall

import (
	"fmt"

	"github.com/raymyers/ralph-dc/pkg/ast"
)

// ID identifies a runtime operation
type ID int

const (
	Assert ID = iota
	AssertMsg
	Unittest
	UnittestMsg
	ArrayBounds
	SwitchError
	Throw
	BeginCatch
	NewClass
	NewItemT
	NewItemIT
	NewArrayT
	NewArrayIT
	NewArrayMTX
	NewArrayMITX
	DelClass
	DelInterface
	CallFinalizer
	CallInterfaceFinalizer
	DelArrayT
	DelMemory
	ArrayLiteralTX
	AssocArrayLiteralTX
	AAGetY
	AAGetRvalueX
	AAInX
	AADelX
	AAEqual
	ArrayAppendT
	ArrayAppendCTX
	ArrayAppendCD
	ArrayAppendWD
	ArrayCatT
	ArrayCatNT
	ArraySetLengthT
	ArraySetLengthIT
	ArrayCopy
	ArrayAssign
	ArrayCtor
	ArraySetAssign
	ArraySetCtor
	ArrayEq2
	ArrayCmp2
	SwitchString
	SwitchUstring
	SwitchDstring
	AllocMemory
	Invariant
	DynamicCast
	InterfaceCast
	numIDs
)

// Linkage is the calling convention of an entry point
type Linkage int

const (
	LinkC Linkage = iota
	LinkD
)

func (l Linkage) String() string {
	if l == LinkC {
		return "C"
	}
	return "D"
}

// Signature describes one runtime entry point
type Signature struct {
	Name    string
	Params  []ast.Type
	Return  ast.Type
	Linkage Linkage
	// NoReturn entry points never return normally.
	NoReturn bool
	// Variadic entry points take extra arguments after Params.
	Variadic bool
}

// FuncType returns the signature as a function type.
func (s Signature) FuncType() *ast.Tfunction {
	return &ast.Tfunction{Params: paramsOf(s.Params), Return: s.Return, Variadic: s.Variadic}
}

func (s Signature) String() string {
	return fmt.Sprintf("extern(%s) %s %s", s.Linkage, s.FuncType(), s.Name)
}

func paramsOf(ts []ast.Type) []ast.Param {
	ps := make([]ast.Param, len(ts))
	for i, t := range ts {
		ps[i] = ast.Param{Type: t}
	}
	return ps
}

// Types shared by the signatures.
var (
	voidT    = ast.Void()
	boolT    = ast.Bool()
	intT     = ast.Int()
	uintT    = ast.UInt()
	sizeT    = ast.SizeT()
	voidPtr  = ast.VoidPtr()
	voidArr  = ast.DArray(ast.Void())
	stringT  = ast.String()
	wstringT = ast.DArray(ast.WChar())
	dstringT = ast.DArray(ast.DChar())
	dcharT   = ast.DChar()
	// Object and TypeInfo references are opaque pointers at this level.
	objectT   = ast.VoidPtr()
	typeinfoT = ast.VoidPtr()
	classinfo = ast.VoidPtr()
	aaT       = ast.VoidPtr()
)

var catalog = [numIDs]Signature{
	Assert:                 {Name: "_d_assert", Params: []ast.Type{stringT, uintT}, Return: voidT, NoReturn: true},
	AssertMsg:              {Name: "_d_assert_msg", Params: []ast.Type{stringT, stringT, uintT}, Return: voidT, NoReturn: true},
	Unittest:               {Name: "_d_unittest", Params: []ast.Type{stringT, uintT}, Return: voidT, NoReturn: true},
	UnittestMsg:            {Name: "_d_unittest_msg", Params: []ast.Type{stringT, stringT, uintT}, Return: voidT, NoReturn: true},
	ArrayBounds:            {Name: "_d_arraybounds", Params: []ast.Type{stringT, uintT}, Return: voidT, NoReturn: true},
	SwitchError:            {Name: "_d_switch_error", Params: []ast.Type{stringT, uintT}, Return: voidT, NoReturn: true},
	Throw:                  {Name: "_d_throw", Params: []ast.Type{objectT}, Return: voidT, Linkage: LinkC, NoReturn: true},
	BeginCatch:             {Name: "__gdc_begin_catch", Params: []ast.Type{voidPtr}, Return: objectT, Linkage: LinkC},
	NewClass:               {Name: "_d_newclass", Params: []ast.Type{classinfo}, Return: objectT},
	NewItemT:               {Name: "_d_newitemT", Params: []ast.Type{typeinfoT}, Return: voidPtr},
	NewItemIT:              {Name: "_d_newitemiT", Params: []ast.Type{typeinfoT}, Return: voidPtr},
	NewArrayT:              {Name: "_d_newarrayT", Params: []ast.Type{typeinfoT, sizeT}, Return: voidArr},
	NewArrayIT:             {Name: "_d_newarrayiT", Params: []ast.Type{typeinfoT, sizeT}, Return: voidArr},
	NewArrayMTX:            {Name: "_d_newarraymTX", Params: []ast.Type{typeinfoT, ast.DArray(sizeT)}, Return: voidArr},
	NewArrayMITX:           {Name: "_d_newarraymiTX", Params: []ast.Type{typeinfoT, ast.DArray(sizeT)}, Return: voidArr},
	DelClass:               {Name: "_d_delclass", Params: []ast.Type{ast.Pointer(objectT)}, Return: voidT},
	DelInterface:           {Name: "_d_delinterface", Params: []ast.Type{ast.Pointer(voidPtr)}, Return: voidT},
	CallFinalizer:          {Name: "_d_callfinalizer", Params: []ast.Type{voidPtr}, Return: voidT},
	CallInterfaceFinalizer: {Name: "_d_callinterfacefinalizer", Params: []ast.Type{voidPtr}, Return: voidT},
	DelArrayT:              {Name: "_d_delarray_t", Params: []ast.Type{ast.Pointer(voidArr), typeinfoT}, Return: voidT},
	DelMemory:              {Name: "_d_delmemory", Params: []ast.Type{ast.Pointer(voidPtr)}, Return: voidT},
	ArrayLiteralTX:         {Name: "_d_arrayliteralTX", Params: []ast.Type{typeinfoT, sizeT}, Return: voidPtr},
	AssocArrayLiteralTX:    {Name: "_d_assocarrayliteralTX", Params: []ast.Type{typeinfoT, voidArr, voidArr}, Return: aaT},
	AAGetY:                 {Name: "_aaGetY", Params: []ast.Type{ast.Pointer(aaT), typeinfoT, sizeT, voidPtr}, Return: voidPtr},
	AAGetRvalueX:           {Name: "_aaGetRvalueX", Params: []ast.Type{aaT, typeinfoT, sizeT, voidPtr}, Return: voidPtr},
	AAInX:                  {Name: "_aaInX", Params: []ast.Type{aaT, typeinfoT, voidPtr}, Return: voidPtr},
	AADelX:                 {Name: "_aaDelX", Params: []ast.Type{aaT, typeinfoT, voidPtr}, Return: boolT},
	AAEqual:                {Name: "_aaEqual", Params: []ast.Type{typeinfoT, aaT, aaT}, Return: intT},
	ArrayAppendT:           {Name: "_d_arrayappendT", Params: []ast.Type{typeinfoT, ast.Pointer(voidArr), voidArr}, Return: voidArr},
	ArrayAppendCTX:         {Name: "_d_arrayappendcTX", Params: []ast.Type{typeinfoT, ast.Pointer(voidArr), sizeT}, Return: voidArr},
	ArrayAppendCD:          {Name: "_d_arrayappendcd", Params: []ast.Type{ast.Pointer(ast.DArray(ast.Char())), dcharT}, Return: voidArr},
	ArrayAppendWD:          {Name: "_d_arrayappendwd", Params: []ast.Type{ast.Pointer(wstringT), dcharT}, Return: voidArr},
	ArrayCatT:              {Name: "_d_arraycatT", Params: []ast.Type{typeinfoT, voidArr, voidArr}, Return: voidArr},
	ArrayCatNT:             {Name: "_d_arraycatnT", Params: []ast.Type{typeinfoT, uintT}, Return: voidArr, Variadic: true},
	ArraySetLengthT:        {Name: "_d_arraysetlengthT", Params: []ast.Type{typeinfoT, sizeT, ast.Pointer(voidArr)}, Return: voidArr},
	ArraySetLengthIT:       {Name: "_d_arraysetlengthiT", Params: []ast.Type{typeinfoT, sizeT, ast.Pointer(voidArr)}, Return: voidArr},
	ArrayCopy:              {Name: "_d_arraycopy", Params: []ast.Type{sizeT, voidArr, voidArr}, Return: voidArr},
	ArrayAssign:            {Name: "_d_arrayassign", Params: []ast.Type{typeinfoT, voidArr, voidArr}, Return: voidArr},
	ArrayCtor:              {Name: "_d_arrayctor", Params: []ast.Type{typeinfoT, voidArr, voidArr}, Return: voidArr},
	ArraySetAssign:         {Name: "_d_arraysetassign", Params: []ast.Type{voidPtr, voidPtr, intT, typeinfoT}, Return: voidPtr},
	ArraySetCtor:           {Name: "_d_arraysetctor", Params: []ast.Type{voidPtr, voidPtr, intT, typeinfoT}, Return: voidPtr},
	ArrayEq2:               {Name: "_adEq2", Params: []ast.Type{voidArr, voidArr, typeinfoT}, Return: intT},
	ArrayCmp2:              {Name: "_adCmp2", Params: []ast.Type{voidArr, voidArr, typeinfoT}, Return: intT},
	SwitchString:           {Name: "_d_switch_string", Params: []ast.Type{ast.DArray(stringT), stringT}, Return: intT},
	SwitchUstring:          {Name: "_d_switch_ustring", Params: []ast.Type{ast.DArray(wstringT), wstringT}, Return: intT},
	SwitchDstring:          {Name: "_d_switch_dstring", Params: []ast.Type{ast.DArray(dstringT), dstringT}, Return: intT},
	AllocMemory:            {Name: "_d_allocmemory", Params: []ast.Type{sizeT}, Return: voidPtr},
	Invariant:              {Name: "_D9invariant12_d_invariantFC6ObjectZv", Params: []ast.Type{objectT}, Return: voidT, Linkage: LinkD},
	DynamicCast:            {Name: "_d_dynamic_cast", Params: []ast.Type{objectT, classinfo}, Return: objectT},
	InterfaceCast:          {Name: "_d_interface_cast", Params: []ast.Type{voidPtr, classinfo}, Return: objectT},
}

// Lookup returns the signature of a runtime operation. An unknown id is
// an internal inconsistency and panics.
func Lookup(id ID) Signature {
	if id < 0 || id >= numIDs || catalog[id].Name == "" {
		panic(fmt.Sprintf("libcall: unknown runtime operation %d", int(id)))
	}
	return catalog[id]
}

func (id ID) String() string {
	if id < 0 || id >= numIDs {
		return fmt.Sprintf("libcall(%d)", int(id))
	}
	return catalog[id].Name
}

// All returns every catalog id in declaration order.
func All() []ID {
	ids := make([]ID, 0, numIDs)
	for id := ID(0); id < numIDs; id++ {
		ids = append(ids, id)
	}
	return ids
}

// ByName finds an entry point by its symbol name.
func ByName(name string) (ID, bool) {
	for id := ID(0); id < numIDs; id++ {
		if catalog[id].Name == name {
			return id, true
		}
	}
	return 0, false
}
