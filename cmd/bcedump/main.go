// Command bcedump runs the bounds check elimination pass over methods and
// prints the result.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/nickng/bcelim/bce"
	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/dom"
	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/interp"
	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/loop"
)

const (
	Usage = `bcedump runs array bounds check elimination over YAML methods.

Usage:

  bcedump [options] method.yaml [methods.yaml...]

Options:

`
)

var (
	configPath string
	logPath    string
	runArgs    string
	noColor    bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "TOML configuration of the pass")
	flag.StringVar(&logPath, "log", "", "Specify pass log file (use '-' for stderr)")
	flag.StringVar(&runArgs, "run", "", "Run each method before and after the pass with these locals, e.g. '[1,2,3] 0 null'")
	flag.BoolVar(&noColor, "no-color", false, "Disable coloured output")
}

func main() {
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprint(os.Stderr, Usage)
		flag.PrintDefaults()
		os.Exit(0)
	}

	cfg := bce.DefaultConfig()
	if configPath != "" {
		c, err := bce.LoadConfig(configPath)
		if err != nil {
			log.Fatal("Cannot load config: ", err)
		}
		cfg = c
	}
	var args []interp.Value
	if runArgs != "" {
		a, err := parseArgs(runArgs)
		if err != nil {
			log.Fatal("Bad -run arguments: ", err)
		}
		args = a
	}

	pass := bce.New(cfg)
	var logger *logging.Logger
	switch logPath {
	case "":
	case "-":
		logger = bce.NewLogger()
	default:
		logger = bce.NewFileLogger(logPath)
	}
	if logger != nil {
		pass.SetLogger(logger)
		defer logger.Sync()
	}
	if noColor {
		color.NoColor = true
	}

	failed := false
	for _, path := range flag.Args() {
		if err := dump(pass, path, args, logger); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed = true
		}
	}
	fmt.Println("==== totals")
	if err := pass.Stats.Fprint(os.Stdout); err != nil {
		log.Fatal(err)
	}
	if failed {
		os.Exit(1)
	}
}

func dump(pass *bce.Pass, path string, args []interp.Value, logger *logging.Logger) error {
	m, err := ir.LoadFile(path)
	if err != nil {
		return err
	}
	orig := m.Clone()
	if err := orig.ResolveExceptions(); err != nil {
		return err
	}
	if err := printLoops(orig); err != nil {
		return err
	}
	if err := pass.Run(m); err != nil {
		return err
	}
	if err := ir.Fprint(os.Stdout, m, levelString); err != nil {
		return err
	}
	if args == nil {
		return nil
	}
	return compare(orig, m, args, logger)
}

func printLoops(m *ir.Method) error {
	b := block.NewBuilder(m)
	if err := b.Check(); err != nil {
		return err
	}
	g := b.Graph()
	f := loop.NewDetector(m, g, dom.Compute(g)).Detect()
	fmt.Printf("==== %s: %d loops\n%s", m.Name, len(f.Loops), f)
	return nil
}

func levelString(l ir.OptLevel) string {
	switch l {
	case ir.Full:
		return color.GreenString(l.String())
	case ir.LowerOnly, ir.UpperOnly:
		return color.YellowString(l.String())
	case ir.None:
		return color.RedString(l.String())
	}
	return l.String()
}

// compare runs the original with every check and the optimized method with
// the computed levels, and reports any difference.
func compare(orig, opt *ir.Method, args []interp.Value, logger *logging.Logger) error {
	run := func(mode interp.Mode, m *ir.Method) (*interp.Result, []interp.Value, error) {
		locals := make([]interp.Value, len(args))
		for i, a := range args {
			locals[i] = a.Copy()
		}
		it := interp.New(mode)
		if logger != nil {
			it.SetLogger(logger)
		}
		res, err := it.Run(m, locals)
		return res, locals, err
	}
	want, wantLocals, err := run(interp.Reference, orig)
	if err != nil {
		return err
	}
	got, gotLocals, err := run(interp.Optimized, opt)
	if err != nil {
		return err
	}
	fmt.Printf("==== run %v\n", args)
	fmt.Printf("reference: %s\n", outcome(want, wantLocals))
	fmt.Printf("optimized: %s\n", outcome(got, gotLocals))
	if outcome(want, wantLocals) != outcome(got, gotLocals) {
		return errors.New("optimized method behaves differently")
	}
	return nil
}

func outcome(r *interp.Result, locals []interp.Value) string {
	var sb strings.Builder
	switch {
	case r.Exception != "":
		fmt.Fprintf(&sb, "throws %s", r.Exception)
	case r.Returned:
		fmt.Fprintf(&sb, "returns %s", r.Value)
	default:
		sb.WriteString("returns")
	}
	for _, c := range r.Calls {
		fmt.Fprintf(&sb, " %s", c)
	}
	fmt.Fprintf(&sb, " locals %v", locals)
	return sb.String()
}

// parseArgs reads space separated locals: an int, null, or an int array
// written [1,2,3].
func parseArgs(s string) ([]interp.Value, error) {
	var vals []interp.Value
	for _, f := range strings.Fields(s) {
		switch {
		case f == "null":
			vals = append(vals, interp.Null)
		case strings.HasPrefix(f, "[") && strings.HasSuffix(f, "]"):
			var elems []int64
			for _, e := range strings.Split(f[1:len(f)-1], ",") {
				if e == "" {
					continue
				}
				n, err := strconv.ParseInt(e, 10, 32)
				if err != nil {
					return nil, err
				}
				elems = append(elems, n)
			}
			vals = append(vals, interp.NewArray(elems...))
		default:
			n, err := strconv.ParseInt(f, 10, 32)
			if err != nil {
				return nil, err
			}
			vals = append(vals, interp.Int(n))
		}
	}
	return vals, nil
}
