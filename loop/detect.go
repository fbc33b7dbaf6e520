package loop

import (
	"sort"

	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/dom"
	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
)

// Detector finds the natural loops of a method.
type Detector struct {
	m   *ir.Method
	g   *block.Graph
	dom *dom.Info

	scope  *Stack
	loops  map[ir.BlockID]*Loop // By header, holds the merged loops.
	logger *logging.Logger
}

func NewDetector(m *ir.Method, g *block.Graph, d *dom.Info) *Detector {
	return &Detector{
		m:      m,
		g:      g,
		dom:    d,
		scope:  NewStack(),
		loops:  make(map[ir.BlockID]*Loop),
		logger: logging.Nop(),
	}
}

func (d *Detector) SetLogger(l *logging.Logger) {
	d.logger = l.For(logging.Loop, "loop")
}

// Detect finds every loop of the graph and returns their nesting forest.
// Members of the loops are flagged ir.FlagInLoop.
func (d *Detector) Detect() *Forest {
	block.TraverseEdges(d.g, func(from, to ir.BlockID) {
		if from == ir.NoBlock || !d.dom.IsBackEdge(from, to) {
			return
		}
		d.logger.Debugf("%s back edge %s → %s", d.logger.Module(), d.m.BlockName(from), d.m.BlockName(to))
		d.addLoop(d.createLoop(to, from))
	})

	f := &Forest{}
	for _, l := range d.loops {
		f.Loops = append(f.Loops, l)
	}
	sort.Slice(f.Loops, func(i, j int) bool { return f.Loops[i].Header < f.Loops[j].Header })
	f.nest(len(d.m.Blocks))
	f.sort()
	f.attach(d.m.Exceptions)
	for _, l := range f.Loops {
		for _, b := range l.Members() {
			d.m.Block(b).Flags |= ir.FlagInLoop
		}
		d.logger.Debugf("%s %s", d.logger.Module(), l)
	}
	return f
}

// createLoop collects the blocks reaching tail without passing through
// head.
func (d *Detector) createLoop(head, tail ir.BlockID) *Loop {
	l := New(head)
	if tail != head {
		d.scope.Push(tail)
	}
	for !d.scope.IsEmpty() {
		n, _ := d.scope.Pop()
		if l.Contains(n) {
			continue
		}
		l.members.Insert(int(n))
		for _, p := range d.g.Preds[n] {
			if !l.Contains(p) {
				d.scope.Push(p)
			}
		}
	}
	return l
}

// addLoop records l, merging it with an earlier loop of the same header.
func (d *Detector) addLoop(l *Loop) {
	if prev, ok := d.loops[l.Header]; ok {
		d.logger.Debugf("%s merge loops at %s", d.logger.Module(), d.m.BlockName(l.Header))
		prev.merge(l)
		return
	}
	d.loops[l.Header] = l
}

// Merge returns the loop with the members of both loops, which must share
// their header.
func Merge(a, b *Loop) *Loop {
	l := New(a.Header)
	l.merge(a)
	l.merge(b)
	return l
}
