package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/astyaml"
	"github.com/raymyers/ralph-dc/pkg/config"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/irgen"
	"github.com/raymyers/ralph-dc/pkg/target"
)

// resetFlags restores every package-level flag variable between runs.
func resetFlags() {
	dAST, dIR, dCatalog = false, false, false
	configFile, targetName, boundsCheck, runFunc = "", "", "", ""
	release, werror, noExceptions = false, false, false
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(normalizeFlags(args))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

const answer = `
module: demo
funcs:
  - name: answer
    result: int
    body:
      - return: {mul: [6, 7]}
`

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestFlagsExist(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)

	for _, name := range []string{"dast", "dir", "dcatalog", "config", "target", "bounds-check", "release", "werror", "fno-exceptions", "run"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("expected flag --%s to exist", name)
		}
	}
}

func TestNormalizeFlags(t *testing.T) {
	tests := []struct {
		in   []string
		want []string
	}{
		{[]string{"-dir", "a.yaml"}, []string{"--dir", "a.yaml"}},
		{[]string{"-fno-exceptions", "-dast"}, []string{"--fno-exceptions", "--dast"}},
		{[]string{"--run", "main", "-release"}, []string{"--run", "main", "--release"}},
		{[]string{"-d", "-dirx"}, []string{"-d", "-dirx"}},
	}
	for _, tt := range tests {
		got := normalizeFlags(tt.in)
		if strings.Join(got, " ") != strings.Join(tt.want, " ") {
			t.Errorf("normalizeFlags(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"user error", irgen.ErrLoweringFailed, 1},
		{"bad input", astyaml.ErrInvalid, 1},
		{"internal", ErrInternal, 2},
		{"wrapped internal", errors.Join(errors.New("context"), ErrInternal), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestNoArgsShowsHelp(t *testing.T) {
	out, _, err := runCLI(t)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !strings.Contains(out, "ralph-dc") || !strings.Contains(out, "--bounds-check") {
		t.Errorf("expected usage text, got %q", out)
	}
}

func TestCatalog(t *testing.T) {
	out, _, err := runCLI(t, "-dcatalog")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	for _, want := range []string{"_d_arraybounds", "_d_throw", "_d_switch_string", "extern(C)"} {
		if !strings.Contains(out, want) {
			t.Errorf("catalog does not list %q", want)
		}
	}
}

func TestRun(t *testing.T) {
	file := writeFile(t, "demo.yaml", answer)
	out, errOut, err := runCLI(t, "--run", "answer", file)
	if err != nil {
		t.Fatalf("ralph-dc failed: %v\nStderr: %s", err, errOut)
	}
	if strings.TrimSpace(out) != "42" {
		t.Errorf("expected 42, got %q", out)
	}
}

func TestRunRejectsParameters(t *testing.T) {
	file := writeFile(t, "p.yaml", `
funcs:
  - name: id
    params: [{name: x, type: int}]
    result: int
    body: [{return: x}]
`)
	_, errOut, err := runCLI(t, "--run", "id", file)
	if err == nil || !strings.Contains(errOut, "takes 1 parameters") {
		t.Errorf("expected a parameter error, got %v / %q", err, errOut)
	}
}

func TestDumps(t *testing.T) {
	file := writeFile(t, "demo.yaml", `
structs:
  - name: Pair
    fields: [{name: a, type: byte}, {name: b, type: int}]
funcs:
  - name: first
    params: [{name: p, type: Pair}]
    result: byte
    body: [{return: {field: p, name: a}}]
`)
	out, errOut, err := runCLI(t, "-dast", "-dir", file)
	if err != nil {
		t.Fatalf("ralph-dc failed: %v\nStderr: %s", err, errOut)
	}
	for _, want := range []string{"struct Pair size=8 align=4", "int b @4", "func first", "byte first("} {
		if !strings.Contains(out, want) {
			t.Errorf("expected output to contain %q\nGot:\n%s", want, out)
		}
	}
}

func TestLoweringErrors(t *testing.T) {
	file := writeFile(t, "bad.yaml", `
funcs:
  - name: f
    body:
      - break
      - try: []
        catch: [{type: E, body: []}]
classes:
  - {name: E}
`)
	out, errOut, err := runCLI(t, "-dir", "-fno-exceptions", file)
	if !errors.Is(err, irgen.ErrLoweringFailed) {
		t.Fatalf("expected ErrLoweringFailed, got %v", err)
	}
	if out != "" {
		t.Errorf("expected no IR after errors, got %q", out)
	}
	for _, want := range []string{"bad.yaml:5:9: error: break is not inside a loop or switch", "lowering failed: 2 errors"} {
		if !strings.Contains(errOut, want) {
			t.Errorf("expected stderr to contain %q\nGot:\n%s", want, errOut)
		}
	}
	if exitCode(err) != 1 {
		t.Errorf("exit code = %d, want 1", exitCode(err))
	}
}

func TestInvalidInput(t *testing.T) {
	file := writeFile(t, "bad.yaml", "funcs:\n  - name: f\n    body: [{return: nowhere}]\n")
	_, errOut, err := runCLI(t, file)
	if !errors.Is(err, astyaml.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if !strings.Contains(errOut, "undefined identifier nowhere") {
		t.Errorf("unexpected stderr %q", errOut)
	}
}

func TestInternalError(t *testing.T) {
	tgt, _ := target.Lookup("x86_64")
	fd := ast.NewFunc("f", ast.Func(ast.Void()))
	fd.Body = ast.Stmts(&ast.ForeachStmt{})
	mod := &ast.Module{Name: "m", Funcs: []*ast.FuncDecl{fd}}

	_, err := lower(config.Default(), tgt, &diag.Collector{}, mod)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if exitCode(err) != 2 {
		t.Errorf("exit code = %d, want 2", exitCode(err))
	}
}

func TestOptionLayers(t *testing.T) {
	cfg := writeFile(t, "opts.yaml", "bounds_check: off\nasserts: false\ntarget: aarch64\n")
	t.Setenv("RALPHDC_WERROR", "true")

	resetFlags()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	if err := cmd.ParseFlags([]string{"--config", cfg, "--bounds-check", "safeonly", "--fno-exceptions"}); err != nil {
		t.Fatal(err)
	}
	opts, err := buildOptions(cmd.Flags())
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	want := config.Default()
	want.BoundsCheck = config.BoundsSafeOnly
	want.Asserts = false
	want.Target = "aarch64"
	want.WarningsAsErrors = true
	want.Exceptions = false
	if opts != want {
		t.Errorf("options = %+v, want %+v", opts, want)
	}
}

func TestReleaseOption(t *testing.T) {
	resetFlags()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	if err := cmd.ParseFlags(normalizeFlags([]string{"-release"})); err != nil {
		t.Fatal(err)
	}
	opts, err := buildOptions(cmd.Flags())
	if err != nil {
		t.Fatalf("buildOptions: %v", err)
	}
	if !opts.Release || opts.Asserts || opts.Invariants || opts.BoundsCheck != config.BoundsSafeOnly {
		t.Errorf("release not applied: %+v", opts)
	}
}

func TestOptionErrors(t *testing.T) {
	file := writeFile(t, "demo.yaml", answer)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bounds mode", []string{"--bounds-check", "sometimes", file}, "invalid option"},
		{"target", []string{"--target", "no-such-target.yaml", file}, "no-such-target.yaml"},
		{"config", []string{"--config", "missing.yaml", file}, "missing.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errOut, err := runCLI(t, tt.args...)
			if err == nil {
				t.Fatalf("expected an error")
			}
			if !strings.Contains(errOut, tt.want) {
				t.Errorf("expected stderr to contain %q, got %q", tt.want, errOut)
			}
		})
	}
}
