package block

import (
	"reflect"
	"strings"
	"testing"

	"github.com/nickng/bcelim/ir"
)

func load(t *testing.T, src string) *ir.Method {
	m, err := ir.Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("cannot load method: %v", err)
	}
	if err := m.ResolveExceptions(); err != nil {
		t.Fatalf("cannot resolve exceptions: %v", err)
	}
	return m
}

func TestGraphPreorder(t *testing.T) {
	m := load(t, `
blocks:
  - label: b0
    code: [iload 0, ifeq b2]
  - label: b1
    code: [goto b3]
  - label: b2
    code: [iload 0, tableswitch 0 b3 b3 b4 default b3]
  - label: b3
    code: [iinc 0 1, goto b3]
  - label: b4
    code: [return]
`)
	g := NewBuilder(m).Graph()
	if want, got := []ir.BlockID{0, 2, 3, 4, 1}, g.Order; !reflect.DeepEqual(want, got) {
		t.Errorf("preorder want %v got %v", want, got)
	}
	if want, got := []ir.BlockID{3, 4}, g.Succs[2]; !reflect.DeepEqual(want, got) {
		t.Errorf("switch successors should be distinct, want %v got %v", want, got)
	}
	if want, got := []ir.BlockID{3}, g.SelfLoops; !reflect.DeepEqual(want, got) {
		t.Errorf("self loops want %v got %v", want, got)
	}
	if want, got := ir.BlockID(0), g.Parent[1]; want != got {
		t.Errorf("DFS parent of b1 want %d got %d", want, got)
	}
	if want, got := 3, len(g.Preds[3]); want != got {
		t.Errorf("b3 should have %d predecessors, got %v", want, g.Preds[3])
	}
}

func TestGraphSubroutine(t *testing.T) {
	m := load(t, `
maxlocals: 2
blocks:
  - label: b0
    code: [jsr sub]
  - label: b1
    code: [jsr sub]
  - label: b2
    code: [return]
  - label: sub
    code: [astore 1]
  - label: subret
    code: [ret 1]
`)
	b := NewBuilder(m)
	g := b.Graph()
	if want, got := []ir.BlockID{3}, g.Succs[0]; !reflect.DeepEqual(want, got) {
		t.Errorf("jsr successors want %v got %v", want, got)
	}
	if want, got := []ir.BlockID{1, 2}, g.Succs[4]; !reflect.DeepEqual(want, got) {
		t.Errorf("ret should return to every caller, want %v got %v", want, got)
	}
	if err := b.Check(); err != nil {
		t.Errorf("all blocks are reachable, got %v", err)
	}
}

func TestExceptionGraph(t *testing.T) {
	m := load(t, `
blocks:
  - label: b0
    code: [iconst 0, istore 0]
  - label: body
    code: [iinc 0 1, goto done]
  - label: done
    code: [return]
  - label: catch
    code: [pop, iinc 0 2]
  - label: rethrow
    code: [goto done]
  - label: dead
    code: [return]
exceptions:
  - {start: body, end: body, handler: catch}
`)
	b := NewBuilder(m)
	eg := b.ExceptionGraph(3)
	if want, got := []ir.BlockID{3, 4}, eg.Order; !reflect.DeepEqual(want, got) {
		t.Errorf("handler blocks want %v got %v", want, got)
	}
	if want, got := []ir.BlockID{2}, eg.Exits; !reflect.DeepEqual(want, got) {
		t.Errorf("handler should rejoin at %v, got %v", want, got)
	}
	if eg.Contains(2) {
		t.Errorf("exception graph should stop at primary graph blocks")
	}
	err := b.Check()
	ue, ok := err.(*UnreachableError)
	if !ok {
		t.Fatalf("expects *UnreachableError but got %v", err)
	}
	if want, got := []ir.BlockID{5}, ue.Blocks; !reflect.DeepEqual(want, got) {
		t.Errorf("unreachable blocks want %v got %v", want, got)
	}
}

func TestTraverseEdges(t *testing.T) {
	m := load(t, `
blocks:
  - label: b0
    code: [iload 0, ifeq b2]
  - label: b1
    code: [nop]
  - label: b2
    code: [iload 0, ifne b0]
  - label: b3
    code: [return]
`)
	g := NewBuilder(m).Graph()
	type edge struct{ from, to ir.BlockID }
	var edges []edge
	TraverseEdges(g, func(from, to ir.BlockID) {
		edges = append(edges, edge{from, to})
	})
	want := []edge{{ir.NoBlock, 0}, {0, 2}, {0, 1}, {2, 0}, {2, 3}, {1, 2}}
	if !reflect.DeepEqual(want, edges) {
		t.Errorf("edges want %v got %v", want, edges)
	}
}
