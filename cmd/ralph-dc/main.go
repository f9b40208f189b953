package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/raymyers/ralph-dc/pkg/ast"
	"github.com/raymyers/ralph-dc/pkg/astyaml"
	"github.com/raymyers/ralph-dc/pkg/config"
	"github.com/raymyers/ralph-dc/pkg/diag"
	"github.com/raymyers/ralph-dc/pkg/ir"
	"github.com/raymyers/ralph-dc/pkg/irexec"
	"github.com/raymyers/ralph-dc/pkg/irgen"
	"github.com/raymyers/ralph-dc/pkg/libcall"
	"github.com/raymyers/ralph-dc/pkg/target"
)

var version = "0.1.0"

// Debug flags for dumping intermediate forms
var (
	dAST     bool
	dIR      bool
	dCatalog bool
)

// Lowering options; each overrides the config file and environment
// only when given on the command line.
var (
	configFile   string
	targetName   string
	boundsCheck  string
	release      bool
	werror       bool
	noExceptions bool
	runFunc      string
)

// ErrInternal marks an internal compiler error; the process exits with
// status 2 instead of 1.
var ErrInternal = errors.New("internal compiler error")

func main() {
	os.Exit(run())
}

func run() int {
	rootCmd := newRootCmd(os.Stdout, os.Stderr)
	rootCmd.SetArgs(normalizeFlags(os.Args[1:]))
	return exitCode(rootCmd.Execute())
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInternal):
		return 2
	}
	return 1
}

// singleDashFlags accept the compiler-style single dash (-dir, -fno-exceptions)
var singleDashFlags = []string{"dast", "dir", "dcatalog", "fno-exceptions", "release", "werror"}

// normalizeFlags converts single-dash long flags like -dir to --dir
func normalizeFlags(args []string) []string {
	result := make([]string, len(args))
	for i, arg := range args {
		result[i] = arg
		for _, name := range singleDashFlags {
			if arg == "-"+name {
				result[i] = "--" + name
				break
			}
		}
	}
	return result
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralph-dc [file.yaml]",
		Short: "ralph-dc lowers a typed D syntax tree to a C-like IR",
		Long: `ralph-dc reads a type-checked D module, written as YAML, and
lowers its statements and expressions to the backend IR: runtime
calls, bounds checks, exception scaffolding and all. The IR can be
dumped or executed on a reference interpreter.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dCatalog {
				printCatalog(out)
				if len(args) == 0 {
					return nil
				}
			}
			if len(args) == 0 {
				return cmd.Help()
			}
			opts, err := buildOptions(cmd.Flags())
			if err != nil {
				fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
				return err
			}
			return compile(args[0], opts, out, errOut)
		},
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)

	rootCmd.Flags().BoolVar(&dAST, "dast", false, "Dump declarations after loading")
	rootCmd.Flags().BoolVar(&dIR, "dir", false, "Dump the lowered IR")
	rootCmd.Flags().BoolVar(&dCatalog, "dcatalog", false, "Print the runtime entry point catalog")

	rootCmd.Flags().StringVar(&configFile, "config", "", "Read options from a YAML file")
	rootCmd.Flags().StringVar(&targetName, "target", "", "Target name ("+strings.Join(target.Names(), ", ")+") or capability table file")
	rootCmd.Flags().StringVar(&boundsCheck, "bounds-check", "", "Array bounds checks: on, safeonly or off")
	rootCmd.Flags().BoolVar(&release, "release", false, "Release build: no asserts, invariants or unsafe bounds checks")
	rootCmd.Flags().BoolVar(&werror, "werror", false, "Treat warnings as errors")
	rootCmd.Flags().BoolVar(&noExceptions, "fno-exceptions", false, "Disallow try, catch and throw")
	rootCmd.Flags().StringVar(&runFunc, "run", "", "Execute FUNC on the reference interpreter and print its result")

	return rootCmd
}

// buildOptions layers defaults, the config file, the environment and
// explicitly set flags.
func buildOptions(flags *pflag.FlagSet) (config.Options, error) {
	opts := config.Default()
	if configFile != "" {
		var err error
		if opts, err = config.LoadFile(configFile); err != nil {
			return opts, err
		}
	}
	opts.ApplyEnv()

	if flags.Changed("target") {
		if _, err := target.Lookup(targetName); err == nil {
			opts.Target, opts.TargetFile = targetName, ""
		} else {
			opts.TargetFile = targetName
		}
	}
	if flags.Changed("bounds-check") {
		opts.BoundsCheck = config.BoundsCheck(boundsCheck)
	}
	if flags.Changed("release") {
		opts.Release = release
	}
	if flags.Changed("werror") {
		opts.WarningsAsErrors = werror
	}
	if flags.Changed("fno-exceptions") {
		opts.Exceptions = !noExceptions
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts.Effective(), nil
}

func loadTarget(opts config.Options) (*target.Target, error) {
	if opts.TargetFile != "" {
		return target.LoadFile(opts.TargetFile)
	}
	return target.Lookup(opts.Target)
}

// compile loads filename, lowers it and writes the requested dumps, or
// runs --run on the result.
func compile(filename string, opts config.Options, out, errOut io.Writer) error {
	tgt, err := loadTarget(opts)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
		return err
	}
	mod, err := astyaml.LoadFile(filename)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
		return err
	}
	if dAST {
		printDecls(out, mod)
	}

	rep := diag.NewPrinter(errOut, diag.PolicyFrom(opts))
	prog, err := lower(opts, tgt, rep, mod)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
		return err
	}
	if dIR {
		ir.NewPrinter(out).PrintProgram(prog)
	}
	if runFunc != "" {
		return execute(prog, runFunc, out, errOut)
	}
	if !dAST && !dIR {
		fmt.Fprintf(errOut, "ralph-dc: lowered %s: %d functions\n", filename, len(prog.Funcs))
	}
	return nil
}

// lower runs the lowering pass, turning an internal consistency panic
// into ErrInternal.
func lower(opts config.Options, tgt *target.Target, rep diag.Reporter, mod *ast.Module) (prog *ir.Program, err error) {
	defer func() {
		if r := recover(); r != nil {
			ice, ok := r.(diag.InternalError)
			if !ok {
				panic(r)
			}
			prog, err = nil, fmt.Errorf("%w: %s", ErrInternal, ice.Error())
		}
	}()
	return irgen.NewUnit(opts, tgt, rep).LowerModule(mod)
}

func execute(prog *ir.Program, name string, out, errOut io.Writer) error {
	fn := prog.FindFunc(name)
	if fn == nil {
		err := fmt.Errorf("%w: %s", irexec.ErrUndefined, name)
		fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
		return err
	}
	if len(fn.Params) > 0 {
		err := fmt.Errorf("--run: %s takes %d parameters, want none", name, len(fn.Params))
		fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
		return err
	}
	m, err := irexec.New(prog)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-dc: %v\n", err)
		return err
	}
	res, err := m.Call(name)
	if err != nil {
		fmt.Fprintf(errOut, "ralph-dc: %s: %v\n", name, err)
		return err
	}
	fmt.Fprintln(out, formatResult(m, fn.Type.Return, res))
	return nil
}

func formatResult(m *irexec.Machine, t ast.Type, v irexec.Value) string {
	switch {
	case t == nil || ast.Equal(t, ast.Void()):
		return "void"
	case ast.Equal(t, ast.Bool()):
		return fmt.Sprint(v.Bool())
	case ast.IsFloating(t):
		return fmt.Sprint(v.Float())
	case ast.Equal(t, ast.String()):
		return fmt.Sprintf("%q", m.ReadString(v))
	}
	switch t.(type) {
	case ast.Tint, ast.Tchar:
		return fmt.Sprint(v.Int())
	case ast.Tpointer, ast.Tclass, ast.Tnull:
		return fmt.Sprintf("%#x", uint64(v.Addr()))
	case ast.Tdarray:
		n, p := v.Array()
		return fmt.Sprintf("[%d @ %#x]", n, uint64(p))
	}
	return fmt.Sprintf("%x", v.Bytes)
}

func printCatalog(w io.Writer) {
	for _, id := range libcall.All() {
		fmt.Fprintln(w, libcall.Lookup(id))
	}
}

// printDecls writes the module outline with computed layouts.
func printDecls(w io.Writer, mod *ast.Module) {
	fmt.Fprintf(w, "module %s\n", mod.Name)
	for _, sd := range mod.Structs {
		kind := "struct"
		if sd.IsUnion {
			kind = "union"
		}
		fmt.Fprintf(w, "%s %s size=%d align=%d\n", kind, sd.Name, sd.Size, sd.Align)
		printFields(w, sd.Fields)
	}
	for _, cd := range mod.Classes {
		fmt.Fprintf(w, "class %s", cd.Name)
		if cd.Base != nil {
			fmt.Fprintf(w, " : %s", cd.Base.Name)
		}
		fmt.Fprintf(w, " size=%d\n", cd.Size)
		printFields(w, cd.Fields)
	}
	for _, g := range mod.Globals {
		fmt.Fprintf(w, "var %s %s\n", g.Type, g.Name)
	}
	for _, fd := range mod.Funcs {
		fmt.Fprintf(w, "func %s %s", fd.QualifiedName(), ast.Mangle(*fd.Type))
		if fd.Intrinsic != ast.IntrinsicNone {
			fmt.Fprintf(w, " intrinsic=%s", fd.Intrinsic)
		}
		if fd.Body == nil {
			fmt.Fprint(w, " extern")
		}
		fmt.Fprintln(w)
	}
}

func printFields(w io.Writer, fields []*ast.Field) {
	for _, f := range fields {
		fmt.Fprintf(w, "  %s %s @%d\n", f.Type, f.Name, f.Offset)
	}
}
