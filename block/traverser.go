package block

import (
	"golang.org/x/tools/container/intsets"

	"github.com/nickng/bcelim/ir"
)

// TraverseEdges takes a Graph and apply visit to each edge, breadth first
// from the root. The root itself is visited with from = ir.NoBlock.
func TraverseEdges(g *Graph, visit func(from, to ir.BlockID)) {
	if g.Len() == 0 {
		return
	}
	var visited intsets.Sparse
	type Edge struct {
		From, To ir.BlockID
	}
	queue := []Edge{{From: ir.NoBlock, To: g.Root}}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]
		visit(e.From, e.To)
		if visited.Insert(int(e.To)) {
			for _, succ := range g.Succs[e.To] {
				if g.Contains(succ) {
					queue = append(queue, Edge{From: e.To, To: succ})
				}
			}
		}
	}
}
