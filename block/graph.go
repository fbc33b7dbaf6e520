// Package block builds the control flow graphs of a method: the primary
// graph reached by normal control flow from the entry block, and one
// exception graph per handler covering the handler code until it rejoins
// normal flow.
package block

import (
	"fmt"

	"golang.org/x/tools/container/intsets"

	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
)

// UnreachableError is returned when a block can be reached neither from the
// entry nor from any exception handler.
type UnreachableError struct {
	Method string
	Blocks []ir.BlockID
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("method %s: blocks %v are unreachable", e.Method, e.Blocks)
}

// Graph is the result of a depth first walk over blocks.
type Graph struct {
	Root   ir.BlockID
	Order  []ir.BlockID // Blocks in preorder.
	Pre    []int        // Preorder number by BlockID, -1 if not in the graph.
	Parent []ir.BlockID // DFS tree parent by BlockID.
	Succs  [][]ir.BlockID
	Preds  [][]ir.BlockID

	// SelfLoops are the blocks with an edge to themselves.
	SelfLoops []ir.BlockID

	// Exits are the blocks of another graph this graph stops at (exception
	// graphs only), with the edges into them kept in Succs.
	Exits []ir.BlockID

	nodes intsets.Sparse
}

func newGraph(n int, root ir.BlockID) *Graph {
	g := &Graph{
		Root:   root,
		Pre:    make([]int, n),
		Parent: make([]ir.BlockID, n),
		Succs:  make([][]ir.BlockID, n),
		Preds:  make([][]ir.BlockID, n),
	}
	for i := range g.Pre {
		g.Pre[i] = -1
		g.Parent[i] = ir.NoBlock
	}
	return g
}

// Contains is true if b was visited by the walk that built g.
func (g *Graph) Contains(b ir.BlockID) bool {
	return g.nodes.Has(int(b))
}

// Len returns the number of blocks in g.
func (g *Graph) Len() int { return len(g.Order) }

// Nodes returns the blocks of g in ascending id order.
func (g *Graph) Nodes() []ir.BlockID {
	var ids []ir.BlockID
	for _, n := range g.nodes.AppendTo(nil) {
		ids = append(ids, ir.BlockID(n))
	}
	return ids
}

// addEdge records from → to once.
func (g *Graph) addEdge(from, to ir.BlockID) {
	for _, s := range g.Succs[from] {
		if s == to {
			return
		}
	}
	g.Succs[from] = append(g.Succs[from], to)
	g.Preds[to] = append(g.Preds[to], from)
	if from == to {
		g.SelfLoops = append(g.SelfLoops, from)
	}
}

// Builder walks the blocks of one method.
type Builder struct {
	m    *ir.Method
	rets map[ir.BlockID][]ir.BlockID // ret block → return points.

	primary  *Graph
	handlers map[ir.BlockID]*Graph

	logger *logging.Logger
}

// NewBuilder returns a Builder for m. The exception table of m must be
// resolved.
func NewBuilder(m *ir.Method) *Builder {
	b := &Builder{
		m:        m,
		handlers: make(map[ir.BlockID]*Graph),
		logger:   logging.Nop(),
	}
	b.rets = b.subroutineReturns()
	return b
}

func (b *Builder) SetLogger(l *logging.Logger) {
	b.logger = l.For(logging.Block, "block")
}

// Graph returns the primary graph of the method, rooted at its entry.
func (b *Builder) Graph() *Graph {
	if b.primary == nil {
		b.primary = b.walk(b.m.Entry, nil)
		b.logger.Debugf("%s %s: %d of %d blocks reachable from %s",
			b.logger.Module(), b.m.Name, b.primary.Len(), len(b.m.Blocks), b.m.BlockName(b.m.Entry))
	}
	return b.primary
}

// ExceptionGraph returns the graph of handler h. The walk stops at blocks of
// the primary graph.
func (b *Builder) ExceptionGraph(h ir.BlockID) *Graph {
	if g, ok := b.handlers[h]; ok {
		return g
	}
	g := b.walk(h, b.Graph())
	b.handlers[h] = g
	b.logger.Debugf("%s handler %s: %d blocks, rejoins at %v",
		b.logger.Module(), b.m.BlockName(h), g.Len(), g.Exits)
	return g
}

// Check returns an *UnreachableError if some block is in neither the
// primary graph nor any exception graph.
func (b *Builder) Check() error {
	var reached intsets.Sparse
	reached.Copy(&b.Graph().nodes)
	for _, e := range b.m.Exceptions {
		reached.UnionWith(&b.ExceptionGraph(e.Handler).nodes)
	}
	var missing []ir.BlockID
	for _, blk := range b.m.Blocks {
		if !reached.Has(int(blk.ID)) {
			missing = append(missing, blk.ID)
		}
	}
	if len(missing) > 0 {
		return &UnreachableError{Method: b.m.Name, Blocks: missing}
	}
	return nil
}

// walk builds a graph by depth first search from root. Blocks in stop are
// not entered.
func (b *Builder) walk(root ir.BlockID, stop *Graph) *Graph {
	g := newGraph(len(b.m.Blocks), root)
	var exits intsets.Sparse
	if stop != nil && stop.Contains(root) {
		// Handler code that is also reached normally.
		g.Exits = []ir.BlockID{root}
		return g
	}
	var visit func(n ir.BlockID)
	visit = func(n ir.BlockID) {
		g.Pre[n] = len(g.Order)
		g.Order = append(g.Order, n)
		g.nodes.Insert(int(n))
		for _, s := range b.Successors(n) {
			g.addEdge(n, s)
			if stop != nil && stop.Contains(s) {
				if exits.Insert(int(s)) {
					g.Exits = append(g.Exits, s)
				}
				continue
			}
			if g.Pre[s] < 0 {
				g.Parent[s] = n
				visit(s)
			}
		}
	}
	visit(root)
	return g
}

// Successors returns the distinct normal-flow successors of block n.
func (b *Builder) Successors(n ir.BlockID) []ir.BlockID {
	blk := b.m.Block(n)
	t := blk.Terminator()
	var succs []ir.BlockID
	switch {
	case t == nil:
	case t.Op == ir.OpRet:
		return b.rets[n]
	case t.HasTargets():
		succs = t.BranchTargets()
	}
	if blk.FallsThrough() {
		for _, s := range succs {
			if s == blk.Next {
				return succs
			}
		}
		succs = append(succs, blk.Next)
	}
	return succs
}

// subroutineReturns maps every ret block to the return points of the jsr
// blocks whose subroutine reaches it.
func (b *Builder) subroutineReturns() map[ir.BlockID][]ir.BlockID {
	rets := make(map[ir.BlockID][]ir.BlockID)
	for _, blk := range b.m.Blocks {
		t := blk.Terminator()
		if t == nil || t.Op != ir.OpJSR || blk.Next == ir.NoBlock {
			continue
		}
		var seen intsets.Sparse
		work := []ir.BlockID{t.Target}
		for len(work) > 0 {
			n := work[len(work)-1]
			work = work[:len(work)-1]
			if !seen.Insert(int(n)) {
				continue
			}
			sb := b.m.Block(n)
			st := sb.Terminator()
			switch {
			case st != nil && st.Op == ir.OpRet:
				if !containsID(rets[n], blk.Next) {
					rets[n] = append(rets[n], blk.Next)
				}
				continue
			case st != nil && st.Op == ir.OpJSR:
				// Nested call, continue after it returns.
				if sb.Next != ir.NoBlock {
					work = append(work, sb.Next)
				}
				continue
			case st != nil && st.HasTargets():
				work = append(work, st.BranchTargets()...)
			}
			if sb.FallsThrough() {
				work = append(work, sb.Next)
			}
		}
	}
	return rets
}

func containsID(ids []ir.BlockID, id ir.BlockID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
