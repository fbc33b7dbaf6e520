// Package bce is the loop based array bounds check elimination pass.
//
// For every loop of a method, innermost first, the pass works out which
// bounds checks of the loop's array accesses are redundant given a few tests
// on the values the loop starts with. If such tests exist, the loop is
// preceded by a guard evaluating them, and an unoptimized copy of the loop is
// kept for when the guard fails. Every array access of an analysed loop ends
// up with an ir.OptLevel the code generator can rely on.
package bce

import (
	"github.com/pkg/errors"

	"github.com/nickng/bcelim/analysis"
	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/dom"
	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/loop"
	"github.com/nickng/bcelim/trace"
	"github.com/nickng/bcelim/transform"
)

// Pass runs the elimination over methods.
type Pass struct {
	Config Config
	Stats  Stats // Totals over every method run.

	logger *logging.Logger
}

// New returns a pass with configuration cfg.
func New(cfg Config) *Pass {
	return &Pass{Config: cfg.normalize(), Stats: newStats(), logger: logging.Nop()}
}

// SetLogger sets the logger of the pass and of every component it runs.
func (p *Pass) SetLogger(l *logging.Logger) {
	p.logger = l
}

// Run optimizes m in place. The only errors are malformed methods: an
// exception table not matching the blocks, or blocks that cannot be reached.
func (p *Pass) Run(m *ir.Method) error {
	if !p.Config.Enabled {
		return nil
	}
	log := p.logger.For(logging.Pass, "bce")
	if err := m.ResolveExceptions(); err != nil {
		return errors.Wrapf(err, "method %s", m.Name)
	}
	b := p.builder(m)
	if err := b.Check(); err != nil {
		return err
	}
	g := b.Graph()
	det := loop.NewDetector(m, g, dom.ComputeWithLogger(g, p.logger))
	p.attach(det)
	f := det.Detect()
	log.Debugf("%s %s: loops\n%s", log.Module(), m.Name, f)

	st := newStats()
	st.Methods = 1
	st.Loops = len(f.Loops)
	tr := trace.New(p.Config.MaxTraceDepth)
	tf := transform.New(m, f)
	p.attach(tf)
	for _, l := range f.Order {
		if !p.Config.OptimizeNested && len(l.Children) > 0 {
			log.Debugf("%s loop@%s has nested loops, skipped", log.Module(), m.BlockName(l.Header))
			st.Skipped++
			continue
		}
		a := analysis.New(m, b, tr)
		p.attach(a)
		r := a.Analyze(l)
		switch {
		case r.Skipped:
			st.Skipped++
		case r.Bailout != "":
			st.Bailouts++
			r.Apply(m, false)
		case r.Constraints.Len() > p.Config.MaxConstraints:
			log.Debugf("%s loop@%s needs %d constraints, more than %d",
				log.Module(), m.BlockName(l.Header), r.Constraints.Len(), p.Config.MaxConstraints)
			st.TooCostly++
			r.Apply(m, false)
		default:
			r.Apply(m, true)
			if r.Improved() > 0 {
				st.Optimized++
			}
			if r.Constraints.Len() == 0 {
				break
			}
			rw, err := tf.Transform(r)
			if err != nil {
				return errors.Wrapf(err, "method %s", m.Name)
			}
			st.Guarded++
			st.Constraints += r.Constraints.Len()
			st.GuardInstrs += rw.Instrs
			b = p.builder(m)
		}
		if l.Parent != nil {
			l.Parent.Constraints += l.Constraints
			l.Parent.GuardInstrs += l.GuardInstrs
		}
	}
	st.countLevels(m)
	p.Stats.add(st)
	log.Infof("%s %s: %s", log.Module(), m.Name, st)
	return nil
}

func (p *Pass) builder(m *ir.Method) *block.Builder {
	b := block.NewBuilder(m)
	p.attach(b)
	return b
}

// attach hands the logger of the pass to the components.
func (p *Pass) attach(cs ...logging.LogSetter) {
	for _, c := range cs {
		c.SetLogger(p.logger)
	}
}
