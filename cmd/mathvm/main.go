// Command mathvm is the §6 CLI driver: `mathvm [-t|-i|-j] [-v] [script]`.
// It wires parsing -> function analysis -> type annotation -> translation -> a backend
// (interpreter or JIT, falling back to the interpreter when a program
// uses something the JIT doesn't lower) exactly the way the teacher's
// main.go strings its own assemble-then-run pipeline together, with the
// same GC-disable-during-the-hot-loop trick vm/run.go uses around
// execInstructions.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strconv"

	"github.com/dzharkov/mathvm-impl/internal/analysis"
	"github.com/dzharkov/mathvm-impl/internal/code"
	"github.com/dzharkov/mathvm-impl/internal/config"
	"github.com/dzharkov/mathvm-impl/internal/interpreter"
	"github.com/dzharkov/mathvm-impl/internal/jit"
	"github.com/dzharkov/mathvm-impl/internal/mvlog"
	"github.com/dzharkov/mathvm-impl/internal/parser"
	"github.com/dzharkov/mathvm-impl/internal/runtime"
	"github.com/dzharkov/mathvm-impl/internal/translator"
	"github.com/dzharkov/mathvm-impl/internal/types"
)

// builtinExample runs when no script argument is given (§6: "with no
// script, a built-in example program is used").
const builtinExample = `
native int fib(int n);
int i;
for (i in 0..5) {
    print(i, ' ');
}
print('\n');
double a;
a = 2;
a = a + 0.5;
print(a, '\n');
`

func main() {
	translateOnly := flag.Bool("t", false, "translate and disassemble bytecode")
	useInterp := flag.Bool("i", false, "use the interpreter")
	useJIT := flag.Bool("j", false, "use the JIT (default)")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	mvlog.SetVerbose(*verbose)

	src := builtinExample
	if flag.NArg() > 0 {
		data, err := os.ReadFile(flag.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		src = string(data)
	}

	cfg := config.Default()
	cfg.Disassemble = *translateOnly
	cfg.UseJIT = !*useInterp
	if *useJIT {
		cfg.UseJIT = true
	}
	cfg.Verbose = *verbose

	if err := run(src, cfg, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(src string, cfg config.Config, stdout io.Writer) error {
	top, err := parser.Parse(src)
	if err != nil {
		return err
	}

	result, err := analysis.Analyze(top)
	if err != nil {
		return err
	}

	if errs := types.Annotate(top); errs.HasErrors() {
		return errs.Err()
	}

	reg, err := translator.Translate(result, top)
	if err != nil {
		return err
	}

	if cfg.Disassemble {
		w := bufio.NewWriter(stdout)
		defer w.Flush()
		for _, fn := range reg.Functions() {
			reg.Disassemble(w, fn)
		}
		return nil
	}

	return execute(reg, cfg, stdout)
}

// execute runs the translated program through the JIT when requested and
// possible, otherwise the interpreter — mirroring vm/run.go's
// debug.SetGCPercent(-1) trick around the hot dispatch loop, since neither
// backend allocates once past setup.
func execute(reg *code.Registry, cfg config.Config, stdout io.Writer) error {
	w := bufio.NewWriter(stdout)
	defer w.Flush()

	gcPercent := currentGCPercent()
	debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	top, ok := reg.FunctionByName(parser.TopFunctionName)
	if !ok {
		return fmt.Errorf("no top-level function in registry")
	}

	if cfg.UseJIT {
		prog, err := jit.CompileProgram(reg)
		if err == nil {
			defer prog.Close()
			prog.Run()
			return nil
		}
		mvlog.Warnf("jit: falling back to interpreter: %v", err)
	}

	in := interpreter.New(reg, runtime.Default(), w, cfg)
	return in.Execute(top.ID)
}

func currentGCPercent() int {
	if v, ok := os.LookupEnv("GOGC"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 100
}
