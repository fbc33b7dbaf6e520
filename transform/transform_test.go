package transform

import (
	"reflect"
	"strings"
	"testing"

	"github.com/nickng/bcelim/analysis"
	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/dom"
	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/loop"
	"github.com/nickng/bcelim/trace"
)

// countDown is for (i = a.length-1; i >= 0; i--) a[i], protected by a
// handler that leaves the loop.
const countDown = `
maxlocals: 3
blocks:
  - {label: entry, code: [aload 0, arraylength, iconst 1, isub, istore 1]}
  - {label: head, code: [iload 1, iflt done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 -1, goto head]}
  - {label: done, code: [return]}
  - {label: catch, code: [pop, return]}
exceptions:
  - {start: head, end: body, handler: catch, type: ArrayIndexOutOfBounds}
`

func rewrite(t *testing.T, src string) (*ir.Method, *loop.Forest, *Rewrite) {
	m, err := ir.Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("cannot load method: %v", err)
	}
	if err := m.ResolveExceptions(); err != nil {
		t.Fatalf("cannot resolve exceptions: %v", err)
	}
	b := block.NewBuilder(m)
	g := b.Graph()
	f := loop.NewDetector(m, g, dom.Compute(g)).Detect()
	var l *loop.Loop
	for _, blk := range m.Blocks {
		if blk.Label == "head" {
			l = f.ByHeader(blk.ID)
		}
	}
	r := analysis.New(m, b, trace.New(0)).Analyze(l)
	r.Apply(m, true)
	rw, err := New(m, f).Transform(r)
	if err != nil {
		t.Fatalf("cannot transform: %v", err)
	}
	return m, f, rw
}

func TestGuard(t *testing.T) {
	m, _, rw := rewrite(t, countDown)
	if want, got := 2, len(rw.Guards); want != got {
		t.Fatalf("expects %d guard blocks but got %d", want, got)
	}
	if want, got := rw.Guard, m.Blocks[0].Next; want != got {
		t.Errorf("entry should fall into guard %d but falls into %d", want, got)
	}
	null := m.Block(rw.Guards[0])
	if want, got := "aload 0; ifnull head'", instrs(m, null); want != got {
		t.Errorf("null check: want %q got %q", want, got)
	}
	cons := m.Block(rw.Guards[1])
	if want, got := "iload 1; aload 0; arraylength; iconst 0; isub; if_icmpge head'", instrs(m, cons); want != got {
		t.Errorf("constraint check: want %q got %q", want, got)
	}
	if want, got := ir.BlockID(1), cons.Next; want != got {
		t.Errorf("guard should continue at header %d but got %d", want, got)
	}
	if want, got := 8, rw.Instrs; want != got {
		t.Errorf("expects %d guard instructions but got %d", want, got)
	}
	for _, g := range rw.Guards {
		if !m.Block(g).Has(ir.FlagGuard) || m.Block(g).PC != -1 {
			t.Errorf("guard block %d should be flagged and have no pc", g)
		}
	}
	if want, got := 1, rw.Loop.Constraints; want != got {
		t.Errorf("loop should account %d constraint but got %d", want, got)
	}
}

func TestFallbackCopy(t *testing.T) {
	m, _, rw := rewrite(t, countDown)
	if want, got := map[ir.BlockID]ir.BlockID{1: 5, 2: 6, 4: 7}, rw.Copies; !reflect.DeepEqual(want, got) {
		t.Fatalf("copies: want %v got %v", want, got)
	}
	head, body := m.Block(5), m.Block(6)
	if !head.Has(ir.FlagFallback) || !body.Has(ir.FlagFallback) {
		t.Errorf("copies should be flagged fallback")
	}
	if want, got := ir.BlockID(3), head.Terminator().Target; want != got {
		t.Errorf("copied exit should stay at %d but got %d", want, got)
	}
	if want, got := ir.BlockID(6), head.Next; want != got {
		t.Errorf("copied header should fall into copied body %d but got %d", want, got)
	}
	if want, got := ir.BlockID(5), body.Terminator().Target; want != got {
		t.Errorf("copied back edge should reach copied header %d but got %d", want, got)
	}
	if want, got := ir.None, body.Instrs[2].Level; want != got {
		t.Errorf("copied access should be %s but got %s", want, got)
	}
	if want, got := ir.Full, m.Blocks[2].Instrs[2].Level; want != got {
		t.Errorf("original access should be %s but got %s", want, got)
	}
	// The back edge of the original loop does not go through the guard.
	if want, got := ir.BlockID(1), m.Blocks[2].Terminator().Target; want != got {
		t.Errorf("original back edge should reach %d but got %d", want, got)
	}
	if !m.Block(7).Has(ir.FlagFallback | ir.FlagInHandler) {
		t.Errorf("handler copy should be flagged fallback and handler")
	}
}

func TestExceptionsExtended(t *testing.T) {
	m, _, _ := rewrite(t, countDown)
	want := []ir.Entry{
		{Start: 1, Last: 2, Handler: 4, CatchType: ir.ExcIndexOutOfBounds},
		{Start: 5, Last: 6, Handler: 7, CatchType: ir.ExcIndexOutOfBounds},
	}
	if !reflect.DeepEqual(want, m.Exceptions) {
		t.Errorf("exception table: want %+v got %+v", want, m.Exceptions)
	}
}

func TestHeaderIsEntry(t *testing.T) {
	m, _, _ := rewrite(t, `
maxlocals: 3
blocks:
  - {label: head, code: [iload 1, iload 2, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	if m.Entry == 0 {
		t.Fatalf("method entry should move to the guard")
	}
	if !m.Block(m.Entry).Has(ir.FlagGuard) {
		t.Errorf("method entry %d should be a guard block", m.Entry)
	}
}

func TestNestedForest(t *testing.T) {
	m, err := ir.Load(strings.NewReader(`
maxlocals: 4
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: outer, code: [iload 1, iconst 10, if_icmpge done]}
  - {label: init, code: [iload 3, istore 2]}
  - {label: inner, code: [iload 2, aload 0, arraylength, if_icmpge latch]}
  - {label: ibody, code: [aload 0, iload 2, iaload, pop, iinc 2 1, goto inner]}
  - {label: latch, code: [iinc 1 1, goto outer]}
  - {label: done, code: [return]}
`))
	if err != nil {
		t.Fatalf("cannot load method: %v", err)
	}
	b := block.NewBuilder(m)
	g := b.Graph()
	f := loop.NewDetector(m, g, dom.Compute(g)).Detect()
	inner, outer := f.ByHeader(3), f.ByHeader(1)
	r := analysis.New(m, b, trace.New(0)).Analyze(inner)
	r.Apply(m, true)
	if r.Constraints.Len() != 1 {
		t.Fatalf("inner loop should need a single constraint, got %s", r.Constraints)
	}
	rw, err := New(m, f).Transform(r)
	if err != nil {
		t.Fatalf("cannot transform: %v", err)
	}
	for orig, cp := range rw.Copies {
		if !outer.Contains(cp) || f.Innermost(cp) != outer {
			t.Errorf("copy %d of %d should belong to the outer loop", cp, orig)
		}
		if inner.Contains(cp) {
			t.Errorf("copy %d of %d should not belong to the inner loop", cp, orig)
		}
	}
	for _, g := range rw.Guards {
		if f.Innermost(g) != outer {
			t.Errorf("guard %d should belong to the outer loop", g)
		}
	}
	if want, got := rw.Guard, m.Blocks[2].Next; want != got {
		t.Errorf("init should fall into the guard %d but falls into %d", want, got)
	}
}

func TestNoConstraints(t *testing.T) {
	m, err := ir.Load(strings.NewReader(`
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`))
	if err != nil {
		t.Fatalf("cannot load method: %v", err)
	}
	b := block.NewBuilder(m)
	g := b.Graph()
	f := loop.NewDetector(m, g, dom.Compute(g)).Detect()
	r := analysis.New(m, b, trace.New(0)).Analyze(f.Loops[0])
	if _, err := New(m, f).Transform(r); err == nil {
		t.Errorf("expects error for a loop without constraints")
	}
	if want, got := 4, len(m.Blocks); want != got {
		t.Errorf("method should be unchanged with %d blocks, got %d", want, got)
	}
}

func instrs(m *ir.Method, b *ir.Block) string {
	var s []string
	for _, in := range b.Instrs {
		s = append(s, in.Format(m.BlockName))
	}
	return strings.Join(s, "; ")
}
