// Package diag reports user-facing compiler diagnostics.
package diag

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/config"
)

// Severity of a diagnostic
type Severity int

const (
	Error Severity = iota
	Warning
	Deprecation
)

func (s Severity) String() string {
	return [...]string{"error", "warning", "deprecation"}[s]
}

// Reporter is the diagnostics collaborator of the lowering pass. User
// errors are reported and never abort lowering.
type Reporter interface {
	Errorf(loc ast.Loc, format string, args ...any)
	Warningf(loc ast.Loc, format string, args ...any)
	Deprecationf(loc ast.Loc, format string, args ...any)
	ErrorCount() int
}

// Diagnostic is one reported message
type Diagnostic struct {
	Severity Severity
	Loc      ast.Loc
	Message  string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s: %s", d.Loc, d.Severity, d.Message)
}

// Policy maps warnings and deprecations to their effective severity
type Policy struct {
	WarningsAsErrors bool
	Deprecations     config.DeprecationMode
}

// PolicyFrom extracts the reporting policy from options.
func PolicyFrom(o config.Options) Policy {
	return Policy{WarningsAsErrors: o.WarningsAsErrors, Deprecations: o.Deprecations}
}

// resolve returns the severity to report and whether to report at all.
func (p Policy) resolve(s Severity) (Severity, bool) {
	switch s {
	case Warning:
		if p.WarningsAsErrors {
			return Error, true
		}
	case Deprecation:
		switch p.Deprecations {
		case config.DeprecationsAllow:
			return s, false
		case config.DeprecationsError:
			return Error, true
		}
	}
	return s, true
}

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[1;31m"
	colorMagenta = "\x1b[1;35m"
	colorCyan    = "\x1b[1;36m"
)

// Printer writes diagnostics as they are reported
type Printer struct {
	w      io.Writer
	color  bool
	policy Policy

	errors   int
	warnings int
	gag      int
	gagged   int
}

// NewPrinter creates a printer writing to w. Colour is used only when w
// is a terminal.
func NewPrinter(w io.Writer, policy Policy) *Printer {
	return &Printer{w: w, color: isTerminal(w), policy: policy}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Gag suppresses output until the matching Ungag; errors still count.
func (p *Printer) Gag() { p.gag++ }

// Ungag ends one level of Gag.
func (p *Printer) Ungag() {
	if p.gag > 0 {
		p.gag--
	}
}

// GaggedErrors returns the number of errors reported while gagged.
func (p *Printer) GaggedErrors() int { return p.gagged }

func (p *Printer) report(s Severity, loc ast.Loc, format string, args []any) {
	s, ok := p.policy.resolve(s)
	if !ok {
		return
	}
	if s == Error {
		p.errors++
	} else {
		p.warnings++
	}
	if p.gag > 0 {
		if s == Error {
			p.gagged++
		}
		return
	}
	label := s.String()
	if p.color {
		label = [...]string{colorRed, colorMagenta, colorCyan}[s] + label + colorReset
	}
	fmt.Fprintf(p.w, "%s: %s: %s\n", loc, label, fmt.Sprintf(format, args...))
}

func (p *Printer) Errorf(loc ast.Loc, format string, args ...any) {
	p.report(Error, loc, format, args)
}

func (p *Printer) Warningf(loc ast.Loc, format string, args ...any) {
	p.report(Warning, loc, format, args)
}

func (p *Printer) Deprecationf(loc ast.Loc, format string, args ...any) {
	p.report(Deprecation, loc, format, args)
}

func (p *Printer) ErrorCount() int { return p.errors }

// WarningCount returns the number of warnings and deprecations shown.
func (p *Printer) WarningCount() int { return p.warnings }

// Collector records diagnostics in memory
type Collector struct {
	Policy Policy
	Diags  []Diagnostic
}

func (c *Collector) add(s Severity, loc ast.Loc, format string, args []any) {
	s, ok := c.Policy.resolve(s)
	if !ok {
		return
	}
	c.Diags = append(c.Diags, Diagnostic{Severity: s, Loc: loc, Message: fmt.Sprintf(format, args...)})
}

func (c *Collector) Errorf(loc ast.Loc, format string, args ...any) {
	c.add(Error, loc, format, args)
}

func (c *Collector) Warningf(loc ast.Loc, format string, args ...any) {
	c.add(Warning, loc, format, args)
}

func (c *Collector) Deprecationf(loc ast.Loc, format string, args ...any) {
	c.add(Deprecation, loc, format, args)
}

func (c *Collector) ErrorCount() int {
	n := 0
	for _, d := range c.Diags {
		if d.Severity == Error {
			n++
		}
	}
	return n
}

// Messages returns the message text of every diagnostic of severity s.
func (c *Collector) Messages(s Severity) []string {
	var out []string
	for _, d := range c.Diags {
		if d.Severity == s {
			out = append(out, d.Message)
		}
	}
	return out
}

// InternalError is the panic value for internal consistency failures:
// input the lowering pass was promised never to see.
type InternalError struct {
	Loc     ast.Loc
	Message string
}

func (e InternalError) Error() string {
	return fmt.Sprintf("%s: internal compiler error: %s", e.Loc, e.Message)
}

// Fatalf panics with an InternalError.
func Fatalf(loc ast.Loc, format string, args ...any) {
	panic(InternalError{Loc: loc, Message: fmt.Sprintf(format, args...)})
}
