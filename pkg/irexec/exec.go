package irexec

import (
	"fmt"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/ir"
)

// flow is how a statement completed
type flow int

const (
	flowNext   flow = iota // fall through
	flowGoto               // jump to a label not yet found
	flowExit               // leave the innermost loop
	flowReturn             // leave the function
)

// exec runs s. When seek is set, execution resumes at that label inside
// s, skipping everything before it.
func (m *Machine) exec(fr *frame, s ir.Stmt, seek *ir.Label) (flow, *ir.Label) {
	m.tick()
	switch x := s.(type) {
	case ir.Sskip, ir.Slabel, ir.Scase:
		return flowNext, nil
	case ir.Sexpr:
		if seek == nil {
			m.eval(fr, x.Expr)
		}
		return flowNext, nil
	case ir.Sseq:
		return m.execSeq(fr, flatten(s, nil), seek)
	case ir.Sbind:
		return m.exec(fr, x.Body, seek)
	case ir.Sif:
		switch {
		case seek != nil && contains(x.Then, seek):
			return m.exec(fr, x.Then, seek)
		case seek != nil:
			return m.exec(fr, x.Else, seek)
		case truth(m.eval(fr, x.Cond)):
			return m.exec(fr, x.Then, nil)
		}
		return m.exec(fr, x.Else, nil)
	case ir.Sloop:
		for {
			fl, l := m.exec(fr, x.Body, seek)
			seek = nil
			switch fl {
			case flowExit:
				return flowNext, nil
			case flowGoto:
				if !contains(x.Body, l) {
					return fl, l
				}
				seek = l
			case flowReturn:
				return fl, nil
			}
		}
	case ir.Sexitif:
		if seek == nil && truth(m.eval(fr, x.Cond)) {
			return flowExit, nil
		}
		return flowNext, nil
	case ir.Sgoto:
		if seek != nil {
			return flowNext, nil
		}
		return flowGoto, x.Label
	case ir.Sswitch:
		if seek == nil {
			seek = m.selectCase(fr, x)
			if seek == nil {
				return flowNext, nil
			}
		}
		return m.exec(fr, x.Body, seek)
	case ir.Stry:
		return m.execTry(fr, x, seek)
	case ir.Sfinally:
		return m.execFinally(fr, x, seek)
	case ir.Sreturn:
		if seek != nil {
			return flowNext, nil
		}
		if x.Value != nil {
			m.eval(fr, x.Value)
		}
		return flowReturn, nil
	case ir.Sasm:
		panic(fmt.Errorf("%w: inline assembly", ErrUnsupported))
	}
	panic(fmt.Sprintf("cannot execute %T", s))
}

// execSeq runs a flattened sequence. Jumps to labels inside the
// sequence restart it at the statement holding the label.
func (m *Machine) execSeq(fr *frame, items []ir.Stmt, seek *ir.Label) (flow, *ir.Label) {
	i := 0
	if seek != nil {
		i = indexOf(items, seek)
		if i < 0 {
			return flowNext, nil
		}
	}
	for i < len(items) {
		fl, l := m.exec(fr, items[i], seek)
		seek = nil
		if fl == flowGoto {
			if j := indexOf(items, l); j >= 0 {
				i, seek = j, l
				continue
			}
		}
		if fl != flowNext {
			return fl, l
		}
		i++
	}
	return flowNext, nil
}

func indexOf(items []ir.Stmt, l *ir.Label) int {
	for i, s := range items {
		if contains(s, l) {
			return i
		}
	}
	return -1
}

func flatten(s ir.Stmt, out []ir.Stmt) []ir.Stmt {
	if seq, ok := s.(ir.Sseq); ok {
		return flatten(seq.Second, flatten(seq.First, out))
	}
	return append(out, s)
}

// contains reports whether label l is defined inside s. Case labels
// count; nested switches are searched too since gotos may enter them.
func contains(s ir.Stmt, l *ir.Label) bool {
	switch x := s.(type) {
	case ir.Slabel:
		return x.Label == l
	case ir.Scase:
		return x.Label == l
	case ir.Sseq:
		return contains(x.First, l) || contains(x.Second, l)
	case ir.Sbind:
		return contains(x.Body, l)
	case ir.Sif:
		return contains(x.Then, l) || contains(x.Else, l)
	case ir.Sloop:
		return contains(x.Body, l)
	case ir.Sswitch:
		return contains(x.Body, l)
	case ir.Stry:
		if contains(x.Body, l) {
			return true
		}
		for _, h := range x.Handlers {
			if contains(h.Body, l) {
				return true
			}
		}
	case ir.Sfinally:
		return contains(x.Body, l) || contains(x.Finally, l)
	}
	return false
}

// selectCase picks the case label a switch enters, or nil when no case
// matches and there is no default.
func (m *Machine) selectCase(fr *frame, x ir.Sswitch) *ir.Label {
	v := m.eval(fr, x.Cond)
	t := x.Cond.ExprType()
	var def *ir.Label
	var found *ir.Label
	walkCases(x.Body, func(c ir.Scase) bool {
		if c.Value == nil {
			def = c.Label
			return true
		}
		cv := convert(m.eval(fr, c.Value), c.Value.ExprType(), t)
		if compare(ir.Ceq, v, cv, t) {
			found = c.Label
			return false
		}
		return true
	})
	if found != nil {
		return found
	}
	return def
}

// walkCases visits the cases of one switch, not those of switches
// nested in it.
func walkCases(s ir.Stmt, visit func(ir.Scase) bool) bool {
	switch x := s.(type) {
	case ir.Scase:
		return visit(x)
	case ir.Sseq:
		return walkCases(x.First, visit) && walkCases(x.Second, visit)
	case ir.Sbind:
		return walkCases(x.Body, visit)
	case ir.Sif:
		return walkCases(x.Then, visit) && walkCases(x.Else, visit)
	case ir.Sloop:
		return walkCases(x.Body, visit)
	case ir.Stry:
		return walkCases(x.Body, visit)
	case ir.Sfinally:
		return walkCases(x.Body, visit) && walkCases(x.Finally, visit)
	}
	return true
}

// execTry runs the body; a thrown object whose class derives from a
// handler's class runs that handler.
func (m *Machine) execTry(fr *frame, x ir.Stry, seek *ir.Label) (fl flow, l *ir.Label) {
	var caught *Thrown
	var handler ir.Stmt
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			th, ok := r.(*Thrown)
			if !ok {
				panic(r)
			}
			for _, h := range x.Handlers {
				if handles(h.Type, th.Class) {
					caught, handler = th, h.Body
					return
				}
			}
			panic(r)
		}()
		fl, l = m.exec(fr, x.Body, seek)
	}()
	if handler == nil {
		return fl, l
	}
	m.caught = append(m.caught, caught)
	defer func() { m.caught = m.caught[:len(m.caught)-1] }()
	return m.exec(fr, handler, nil)
}

func handles(t ast.Type, thrown *ast.ClassDecl) bool {
	cd := ast.ClassOf(t)
	if cd == nil || thrown == nil {
		return cd == nil
	}
	return cd == thrown || cd.IsBaseOf(thrown)
}

// execFinally runs the finally block after the body however the body
// completes. A jump out of the finally block replaces the body's
// outcome.
func (m *Machine) execFinally(fr *frame, x ir.Sfinally, seek *ir.Label) (fl flow, l *ir.Label) {
	if seek != nil && !contains(x.Body, seek) {
		return m.exec(fr, x.Finally, seek)
	}
	var pending any
	func() {
		defer func() { pending = recover() }()
		fl, l = m.exec(fr, x.Body, seek)
	}()
	if ffl, fl2 := m.exec(fr, x.Finally, nil); ffl != flowNext {
		return ffl, fl2
	}
	if pending != nil {
		panic(pending)
	}
	return fl, l
}
