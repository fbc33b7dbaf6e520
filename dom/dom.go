// Package dom computes the dominator tree of a block graph with the simple
// variant of the Lengauer-Tarjan algorithm.
package dom

import (
	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
)

// Info holds the immediate dominators of the blocks in a graph.
type Info struct {
	g    *block.Graph
	idom []ir.BlockID // By BlockID, NoBlock for the root and foreign blocks.

	logger *logging.Logger
}

// ltState is the per-node state of the algorithm, indexed by preorder
// number.
type ltState struct {
	semi     []int
	idom     []int
	ancestor []int
	label    []int
	parent   []int
	bucket   [][]int
}

// Compute returns the dominator information of g.
func Compute(g *block.Graph) *Info {
	return ComputeWithLogger(g, nil)
}

// ComputeWithLogger is Compute logging the resulting tree to l, which may
// be nil.
func ComputeWithLogger(g *block.Graph, l *logging.Logger) *Info {
	n := g.Len()
	lt := &ltState{
		semi:     make([]int, n),
		idom:     make([]int, n),
		ancestor: make([]int, n),
		label:    make([]int, n),
		parent:   make([]int, n),
		bucket:   make([][]int, n),
	}
	for v := 0; v < n; v++ {
		lt.semi[v] = v
		lt.label[v] = v
		lt.ancestor[v] = -1
		lt.idom[v] = -1
		lt.parent[v] = -1
		if p := g.Parent[g.Order[v]]; v > 0 && p != ir.NoBlock {
			lt.parent[v] = g.Pre[p]
		}
	}

	for w := n - 1; w > 0; w-- {
		for _, p := range g.Preds[g.Order[w]] {
			v := g.Pre[p]
			if v < 0 {
				continue
			}
			if u := lt.eval(v); lt.semi[u] < lt.semi[w] {
				lt.semi[w] = lt.semi[u]
			}
		}
		lt.bucket[lt.semi[w]] = append(lt.bucket[lt.semi[w]], w)
		pw := lt.parent[w]
		lt.ancestor[w] = pw // link

		for _, v := range lt.bucket[pw] {
			if u := lt.eval(v); lt.semi[u] < lt.semi[v] {
				lt.idom[v] = u
			} else {
				lt.idom[v] = pw
			}
		}
		lt.bucket[pw] = nil
	}
	for w := 1; w < n; w++ {
		if lt.idom[w] != lt.semi[w] {
			lt.idom[w] = lt.idom[lt.idom[w]]
		}
	}

	d := &Info{g: g, idom: make([]ir.BlockID, len(g.Pre)), logger: l.For(logging.Dom, "dom")}
	for i := range d.idom {
		d.idom[i] = ir.NoBlock
	}
	for w := 1; w < n; w++ {
		d.idom[g.Order[w]] = g.Order[lt.idom[w]]
	}
	d.logger.Debugf("%s idom %v", d.logger.Module(), d.idom)
	return d
}

// eval returns the node with the smallest semidominator on the path from v
// to the root of its linked tree, compressing the path on the way.
func (lt *ltState) eval(v int) int {
	if lt.ancestor[v] < 0 {
		return v
	}
	lt.compress(v)
	return lt.label[v]
}

func (lt *ltState) compress(v int) {
	a := lt.ancestor[v]
	if lt.ancestor[a] < 0 {
		return
	}
	lt.compress(a)
	if lt.semi[lt.label[a]] < lt.semi[lt.label[v]] {
		lt.label[v] = lt.label[a]
	}
	lt.ancestor[v] = lt.ancestor[a]
}

// Idom returns the immediate dominator of b, or ir.NoBlock for the root and
// blocks outside the graph.
func (d *Info) Idom(b ir.BlockID) ir.BlockID {
	if int(b) >= len(d.idom) || b < 0 {
		return ir.NoBlock
	}
	return d.idom[b]
}

// Dominates is true if every path from the root to b passes through a.
func (d *Info) Dominates(a, b ir.BlockID) bool {
	if !d.g.Contains(a) || !d.g.Contains(b) {
		return false
	}
	for n := b; n != ir.NoBlock; n = d.idom[n] {
		if n == a {
			return true
		}
	}
	return false
}

// IsBackEdge is true if to dominates from.
func (d *Info) IsBackEdge(from, to ir.BlockID) bool {
	return d.Dominates(to, from)
}
