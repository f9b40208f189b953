package diag

import (
	"bytes"
	"strings"
	"testing"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/config"
)

var here = ast.Loc{File: "app.d", Line: 3, Col: 7}

func TestPrinterFormat(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, Policy{Deprecations: config.DeprecationsWarn})
	p.Errorf(here, "cannot throw %s", "int")
	p.Warningf(ast.Loc{File: "app.d", Line: 4}, "statement is not reachable")

	out := buf.String()
	if !strings.Contains(out, "app.d:3:7: error: cannot throw int\n") {
		t.Errorf("unexpected output %q", out)
	}
	if !strings.Contains(out, "app.d:4: warning: statement is not reachable\n") {
		t.Errorf("unexpected output %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("a buffer is not a terminal; no colour expected")
	}
	if p.ErrorCount() != 1 || p.WarningCount() != 1 {
		t.Errorf("counts %d/%d", p.ErrorCount(), p.WarningCount())
	}
}

func TestGag(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, Policy{})
	p.Gag()
	p.Errorf(here, "hidden")
	p.Ungag()
	if buf.Len() != 0 {
		t.Errorf("expected no output while gagged, got %q", buf.String())
	}
	if p.ErrorCount() != 1 || p.GaggedErrors() != 1 {
		t.Error("gagged errors must still count")
	}
	p.Ungag()
	p.Errorf(here, "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Error("expected output after ungag")
	}
}

func TestPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		report func(Reporter)
		errors int
		total  int
	}{
		{"warning", Policy{}, func(r Reporter) { r.Warningf(here, "w") }, 0, 1},
		{"werror", Policy{WarningsAsErrors: true}, func(r Reporter) { r.Warningf(here, "w") }, 1, 1},
		{"deprecation allowed", Policy{Deprecations: config.DeprecationsAllow}, func(r Reporter) { r.Deprecationf(here, "d") }, 0, 0},
		{"deprecation error", Policy{Deprecations: config.DeprecationsError}, func(r Reporter) { r.Deprecationf(here, "d") }, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Collector{Policy: tt.policy}
			tt.report(c)
			if c.ErrorCount() != tt.errors || len(c.Diags) != tt.total {
				t.Errorf("errors %d total %d, want %d %d", c.ErrorCount(), len(c.Diags), tt.errors, tt.total)
			}
		})
	}
}

func TestPolicyFrom(t *testing.T) {
	o := config.Default()
	o.WarningsAsErrors = true
	if p := PolicyFrom(o); !p.WarningsAsErrors || p.Deprecations != config.DeprecationsWarn {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestCollectorMessages(t *testing.T) {
	c := &Collector{}
	c.Errorf(here, "one")
	c.Warningf(here, "two")
	c.Errorf(here, "three")
	got := strings.Join(c.Messages(Error), ",")
	if got != "one,three" {
		t.Errorf("Messages(Error) = %s", got)
	}
	if s := c.Diags[1].String(); s != "app.d:3:7: warning: two" {
		t.Errorf("String() = %q", s)
	}
}

func TestFatalf(t *testing.T) {
	defer func() {
		r := recover()
		ie, ok := r.(InternalError)
		if !ok {
			t.Fatalf("expected InternalError, got %T", r)
		}
		if !strings.Contains(ie.Error(), "internal compiler error: while statement") {
			t.Errorf("unexpected message %q", ie.Error())
		}
	}()
	Fatalf(here, "%s statement must be rewritten before lowering", "while")
}
