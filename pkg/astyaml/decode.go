// Package astyaml reads typed modules written as YAML, the input format
// of the ralph-dc driver and its fixture tests.
//
// A document is a mapping with the keys module, structs, classes,
// globals and funcs:
//
//	module: app
//	structs:
//	  - {name: Point, fields: [{name: x, type: int}, {name: y, type: int}]}
//	classes:
//	  - {name: Oops, base: Error, fields: [{name: code, type: int}]}
//	globals:
//	  - {name: count, type: int, init: 0}
//	funcs:
//	  - name: add
//	    params: [{name: a, type: int}, {name: b, type: int}]
//	    result: int
//	    body:
//	      - return: {add: [a, b]}
//
// Statements and expressions are mappings whose first key names the
// form; later keys are its attributes. Plain scalars are names or
// numbers, quoted scalars are string literals. Types are written in
// source syntax: int, string, int[], int[4], int[string], Point*.
package astyaml

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/irgen"
)

// ErrInvalid is returned for documents that do not describe a module.
var ErrInvalid = errors.New("invalid module")

// Load decodes the module read from r. file names the source in
// locations.
func Load(r io.Reader, file string) (*ast.Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Decode(data, file)
}

// LoadFile decodes the module stored at path.
func LoadFile(path string) (*ast.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(data, path)
}

// Decode decodes a module from YAML text. All problems found are
// reported together, each with its line and column.
func Decode(data []byte, file string) (*ast.Module, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%s: %w", file, err)
	}
	d := newDecoder(file)
	if len(doc.Content) == 0 {
		return nil, fmt.Errorf("%w: %s: empty document", ErrInvalid, file)
	}
	mod := d.module(doc.Content[0])
	if len(d.errors) > 0 {
		return nil, fmt.Errorf("%w: %s: %s", ErrInvalid, file, strings.Join(d.errors, "; "))
	}
	return mod, nil
}

type decoder struct {
	file   string
	errors []string

	structs map[string]*ast.StructDecl
	classes map[string]*ast.ClassDecl
	globals map[string]*ast.VarDecl
	funcs   map[string]*ast.FuncDecl

	// state of the function being decoded
	fn      *ast.FuncDecl
	scopes  []map[string]*ast.VarDecl
	labels  map[string]*ast.LabelStmt
	defined map[string]bool
}

func newDecoder(file string) *decoder {
	return &decoder{
		file:    file,
		structs: make(map[string]*ast.StructDecl),
		classes: make(map[string]*ast.ClassDecl),
		globals: make(map[string]*ast.VarDecl),
		funcs:   make(map[string]*ast.FuncDecl),
	}
}

func (d *decoder) addError(n *yaml.Node, format string, args ...any) {
	d.errors = append(d.errors, fmt.Sprintf("line %d, col %d: %s", n.Line, n.Column, fmt.Sprintf(format, args...)))
}

func (d *decoder) loc(n *yaml.Node) ast.Loc {
	return ast.Loc{File: d.file, Line: n.Line, Col: n.Column}
}

// form splits a mapping into its first key, that key's value and the
// remaining attributes.
func (d *decoder) form(n *yaml.Node) (string, *yaml.Node, map[string]*yaml.Node) {
	if n.Kind != yaml.MappingNode || len(n.Content) < 2 {
		d.addError(n, "expected a mapping")
		return "", n, nil
	}
	attrs := make(map[string]*yaml.Node)
	for i := 2; i+1 < len(n.Content); i += 2 {
		attrs[n.Content[i].Value] = n.Content[i+1]
	}
	return n.Content[0].Value, n.Content[1], attrs
}

// fields returns every key of a mapping.
func (d *decoder) fields(n *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node)
	if n.Kind != yaml.MappingNode {
		d.addError(n, "expected a mapping")
		return out
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		out[n.Content[i].Value] = n.Content[i+1]
	}
	return out
}

// items returns the elements of a sequence; nil and null are empty.
func (d *decoder) items(n *yaml.Node) []*yaml.Node {
	switch {
	case n == nil || isNull(n):
		return nil
	case n.Kind == yaml.SequenceNode:
		return n.Content
	}
	d.addError(n, "expected a sequence")
	return nil
}

func isNull(n *yaml.Node) bool {
	return n.Kind == yaml.ScalarNode && n.Tag == "!!null"
}

func (d *decoder) name(n *yaml.Node) string {
	if n == nil || n.Kind != yaml.ScalarNode || n.Value == "" {
		if n != nil {
			d.addError(n, "expected a name")
		}
		return "_"
	}
	return n.Value
}

func (d *decoder) flag(n *yaml.Node) bool {
	if n == nil {
		return false
	}
	var b bool
	if err := n.Decode(&b); err != nil {
		d.addError(n, "expected true or false")
	}
	return b
}

func (d *decoder) module(n *yaml.Node) *ast.Module {
	top := d.fields(n)
	mod := &ast.Module{Name: "main"}
	if v, ok := top["module"]; ok {
		mod.Name = d.name(v)
	}
	for _, sn := range d.items(top["structs"]) {
		if sd := d.structDecl(sn); sd != nil {
			mod.Structs = append(mod.Structs, sd)
		}
	}
	for _, cn := range d.items(top["classes"]) {
		if cd := d.classDecl(cn); cd != nil {
			mod.Classes = append(mod.Classes, cd)
		}
	}

	// Signatures first so bodies may call functions declared later.
	funcNodes := d.items(top["funcs"])
	for _, fnode := range funcNodes {
		mod.Funcs = append(mod.Funcs, d.funcSignature(fnode))
	}
	for _, gn := range d.items(top["globals"]) {
		mod.Globals = append(mod.Globals, d.global(gn))
	}
	for i, fnode := range funcNodes {
		d.funcBody(mod.Funcs[i], d.fields(fnode)["body"])
	}
	return mod
}

func (d *decoder) fieldList(n *yaml.Node) []*ast.Field {
	var out []*ast.Field
	for _, fn := range d.items(n) {
		f := d.fields(fn)
		out = append(out, ast.NewField(d.name(f["name"]), d.typeAttr(fn, f["type"])))
	}
	return out
}

func (d *decoder) structDecl(n *yaml.Node) *ast.StructDecl {
	f := d.fields(n)
	name := d.name(f["name"])
	if d.typeNameTaken(name) {
		d.addError(n, "%s is already declared", name)
		return nil
	}
	fields := d.fieldList(f["fields"])
	var sd *ast.StructDecl
	if d.flag(f["union"]) {
		sd = ast.NewUnion(name, fields...)
	} else {
		sd = ast.NewStruct(name, fields...)
	}
	d.structs[name] = sd
	return sd
}

func (d *decoder) classDecl(n *yaml.Node) *ast.ClassDecl {
	f := d.fields(n)
	name := d.name(f["name"])
	if d.typeNameTaken(name) {
		d.addError(n, "%s is already declared", name)
		return nil
	}
	var base *ast.ClassDecl
	if bn := f["base"]; bn != nil {
		if base = d.classes[bn.Value]; base == nil {
			d.addError(bn, "unknown base class %s", bn.Value)
		}
	}
	// register before the fields so a class may refer to itself
	cd := &ast.ClassDecl{Name: name, Base: base}
	d.classes[name] = cd
	fields := d.fieldList(f["fields"])
	*cd = *ast.NewClass(name, base, fields...)
	cd.Interface = d.flag(f["interface"])
	cd.CPPClass = d.flag(f["cpp"])
	cd.COMClass = d.flag(f["com"])
	return cd
}

func (d *decoder) typeNameTaken(name string) bool {
	return d.structs[name] != nil || d.classes[name] != nil
}

func (d *decoder) global(n *yaml.Node) *ast.VarDecl {
	f := d.fields(n)
	v := &ast.VarDecl{Name: d.name(f["name"]), Loc: d.loc(n)}
	if d.flag(f["immutable"]) {
		v.Storage |= ast.STCimmutable
	}
	var init ast.Expr
	if in := f["init"]; in != nil {
		init = d.expr(in)
	}
	v.Type = d.declType(n, f["type"], init)
	if init != nil {
		v.Init = construct(v, d.coerce(init, v.Type), d.loc(f["init"]))
	}
	if _, dup := d.globals[v.Name]; dup {
		d.addError(n, "global %s is already declared", v.Name)
	}
	d.globals[v.Name] = v
	return v
}

// declType is the declared type, or the type of the initializer.
func (d *decoder) declType(n, typ *yaml.Node, init ast.Expr) ast.Type {
	switch {
	case typ != nil:
		return d.typeAttr(n, typ)
	case init != nil:
		return init.ExprType()
	}
	d.addError(n, "declaration needs a type or an initializer")
	return ast.Int()
}

func construct(v *ast.VarDecl, init ast.Expr, loc ast.Loc) ast.Expr {
	ref := ast.VarRef{Node: ast.Node{Typ: v.Type, Loc: loc}, Var: v}
	return ast.Assign{BinNode: ast.BinNode{Node: ast.Node{Typ: v.Type, Loc: loc}, Left: ref, Right: init}, Op: ast.AssignConstruct}
}

func (d *decoder) funcSignature(n *yaml.Node) *ast.FuncDecl {
	f := d.fields(n)
	name := d.name(f["name"])
	ret := ast.Void()
	if rn := f["result"]; rn != nil {
		ret = d.typeAttr(n, rn)
	}
	typ := &ast.Tfunction{Return: ret, IsRef: d.flag(f["ref"]), Variadic: d.flag(f["variadic"])}
	var params []*ast.VarDecl
	for _, pn := range d.items(f["params"]) {
		pf := d.fields(pn)
		p := &ast.VarDecl{Name: d.name(pf["name"]), Type: d.typeAttr(pn, pf["type"]), Loc: d.loc(pn)}
		var stc ast.StorageClass
		if d.flag(pf["ref"]) {
			stc = ast.STCref
		}
		typ.Params = append(typ.Params, ast.Param{Type: p.Type, Storage: stc})
		params = append(params, p)
	}
	fd := ast.NewFunc(name, typ, params...)
	fd.Loc = d.loc(n)
	if mn := f["module"]; mn != nil {
		fd.Module = d.name(mn)
	}
	fd.IsSafe = d.flag(f["safe"])
	fd.IsMain = d.flag(f["main"])
	fd.Intrinsic = irgen.RecognizeIntrinsic(fd)
	key := fd.QualifiedName()
	if _, dup := d.funcs[key]; dup {
		d.addError(n, "function %s is already declared", key)
	}
	d.funcs[key] = fd
	if _, ok := d.funcs[name]; !ok {
		d.funcs[name] = fd
	}
	return fd
}

func (d *decoder) funcBody(fd *ast.FuncDecl, body *yaml.Node) {
	if body == nil {
		return
	}
	d.fn = fd
	d.labels = make(map[string]*ast.LabelStmt)
	d.defined = make(map[string]bool)
	d.scopes = []map[string]*ast.VarDecl{{}}
	for _, p := range fd.Params {
		d.scopes[0][p.Name] = p
	}
	fd.Body = d.block(body)
	for name := range d.labels {
		if !d.defined[name] {
			d.addError(body, "label %s is not defined in %s", name, fd.Name)
		}
	}
	d.fn, d.scopes = nil, nil
}

func (d *decoder) push() {
	d.scopes = append(d.scopes, map[string]*ast.VarDecl{})
}

func (d *decoder) pop() {
	d.scopes = d.scopes[:len(d.scopes)-1]
}

func (d *decoder) declareLocal(n *yaml.Node, name string, t ast.Type) *ast.VarDecl {
	v := &ast.VarDecl{Name: name, Type: t, Loc: d.loc(n), Owner: d.fn}
	d.scopes[len(d.scopes)-1][name] = v
	return v
}

// lookupVar resolves a name to the innermost local, then a global.
func (d *decoder) lookupVar(name string) *ast.VarDecl {
	for i := len(d.scopes) - 1; i >= 0; i-- {
		if v, ok := d.scopes[i][name]; ok {
			return v
		}
	}
	return d.globals[name]
}

// typeAttr parses the type written in n, reporting errors at owner when
// the attribute is missing.
func (d *decoder) typeAttr(owner, n *yaml.Node) ast.Type {
	if n == nil {
		d.addError(owner, "missing type")
		return ast.Int()
	}
	if n.Kind != yaml.ScalarNode {
		d.addError(n, "expected a type")
		return ast.Int()
	}
	t, err := d.parseType(n.Value)
	if err != nil {
		d.addError(n, "%v", err)
		return ast.Int()
	}
	return t
}

var basicTypes = map[string]ast.Type{
	"void":      ast.Void(),
	"bool":      ast.Bool(),
	"byte":      ast.Byte(),
	"ubyte":     ast.UByte(),
	"short":     ast.Short(),
	"ushort":    ast.Tint{Size: ast.I16, Sign: ast.Unsigned},
	"int":       ast.Int(),
	"uint":      ast.UInt(),
	"long":      ast.Long(),
	"ulong":     ast.ULong(),
	"size_t":    ast.SizeT(),
	"ptrdiff_t": ast.PtrdiffT(),
	"char":      ast.Char(),
	"wchar":     ast.WChar(),
	"dchar":     ast.DChar(),
	"float":     ast.Float(),
	"double":    ast.Double(),
	"real":      ast.Real(),
	"string":    ast.String(),
	"wstring":   ast.DArray(ast.WChar()),
	"dstring":   ast.DArray(ast.DChar()),
}

// parseType reads a base type name followed by *, [], [N] and [K]
// suffixes, applied left to right.
func (d *decoder) parseType(s string) (ast.Type, error) {
	s = strings.TrimSpace(s)
	end := strings.IndexAny(s, "*[")
	if end < 0 {
		end = len(s)
	}
	base := strings.TrimSpace(s[:end])
	var t ast.Type
	switch {
	case basicTypes[base] != nil:
		t = basicTypes[base]
	case d.structs[base] != nil:
		t = ast.Tstruct{Decl: d.structs[base]}
	case d.classes[base] != nil:
		t = ast.Tclass{Decl: d.classes[base]}
	default:
		return nil, fmt.Errorf("unknown type %q", base)
	}

	rest := s[end:]
	for rest != "" {
		switch rest[0] {
		case '*':
			t = ast.Pointer(t)
			rest = rest[1:]
		case '[':
			closeAt := matchBracket(rest)
			if closeAt < 0 {
				return nil, fmt.Errorf("unbalanced brackets in %q", s)
			}
			inner := strings.TrimSpace(rest[1:closeAt])
			rest = rest[closeAt+1:]
			switch n, err := strconv.ParseInt(inner, 10, 64); {
			case inner == "":
				t = ast.DArray(t)
			case err == nil:
				t = ast.SArray(t, n)
			default:
				key, err := d.parseType(inner)
				if err != nil {
					return nil, err
				}
				t = ast.AArray(key, t)
			}
		case ' ':
			rest = rest[1:]
		default:
			return nil, fmt.Errorf("unexpected %q in type %q", rest[0], s)
		}
	}
	return t, nil
}

func matchBracket(s string) int {
	depth := 0
	for i, c := range s {
		switch c {
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
