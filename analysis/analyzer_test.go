package analysis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/dom"
	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/loop"
	"github.com/nickng/bcelim/trace"
)

// analyze loads src and analyses the loop headed by the block labelled head.
func analyze(t *testing.T, src string) (*ir.Method, *Result) {
	m, err := ir.Load(strings.NewReader(src))
	require.NoError(t, err)
	require.NoError(t, m.ResolveExceptions())
	b := block.NewBuilder(m)
	g := b.Graph()
	f := loop.NewDetector(m, g, dom.Compute(g)).Detect()
	var header ir.BlockID = ir.NoBlock
	for _, blk := range m.Blocks {
		if blk.Label == "head" {
			header = blk.ID
		}
	}
	l := f.ByHeader(header)
	require.NotNil(t, l, "no loop at head")
	return m, New(m, b, trace.New(trace.DefaultMaxDepth)).Analyze(l)
}

// level returns the level of the only array access of the block labelled
// body after applying r.
func level(t *testing.T, m *ir.Method, r *Result) ir.OptLevel {
	r.Apply(m, true)
	for _, blk := range m.Blocks {
		if blk.Label != "body" {
			continue
		}
		for _, in := range blk.Instrs {
			if in.IsArrayAccess() {
				return in.Level
			}
		}
	}
	t.Fatalf("no array access in body")
	return ir.Unchecked
}

const countUp = `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`

func TestCountUp(t *testing.T) {
	m, r := analyze(t, countUp)
	require.Empty(t, r.Bailout)
	require.NotNil(t, r.Cond)
	assert.Equal(t, 1, r.Cond.Var)
	assert.Equal(t, ir.CondLT, r.Cond.Cond)
	assert.Equal(t, trace.ArrayLen{Array: 0}, r.Cond.RHS)
	assert.True(t, r.Vars[1].UsedAsIndex)
	assert.True(t, r.Vars[1].NeverDecremented())
	assert.False(t, r.Vars[1].NeverIncremented())
	assert.Equal(t, 0, r.Constraints.Len(), "constraints: %s", r.Constraints)
	assert.Equal(t, ir.Full, level(t, m, r))
}

func TestCountDown(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [aload 0, arraylength, iconst 1, isub, istore 1]}
  - {label: head, code: [iload 1, iflt done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 -1, goto head]}
  - {label: done, code: [return]}
`)
	require.Empty(t, r.Bailout)
	require.NotNil(t, r.Cond)
	assert.Equal(t, ir.CondGE, r.Cond.Cond)
	assert.Equal(t, ir.Full, level(t, m, r))
	require.Equal(t, 1, r.Constraints.Len())
	c := r.Constraints.List()[0]
	assert.Equal(t, VarUpper, c.Kind)
	assert.Equal(t, Operand{Kind: VarOperand, Var: 1}, c.Left)
	assert.Equal(t, int64(0), c.Offset)
	assert.Equal(t, 0, c.Array)
}

func TestConstantIndex(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, iload 2, if_icmpge done]}
  - {label: body, code: [aload 0, iconst 3, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	assert.Equal(t, ir.Full, level(t, m, r))
	require.Equal(t, 1, r.Constraints.Len())
	assert.Equal(t, Constraint{Kind: ConstUpper, Array: 0, Offset: 3}, r.Constraints.List()[0])
}

func TestUnmodifiedIndex(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, iconst 100, if_icmpge done]}
  - {label: body, code: [aload 0, iload 2, iconst 1, iadd, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	assert.Equal(t, ir.Full, level(t, m, r))
	want := []Constraint{
		{Kind: UnmodLower, Left: Operand{Kind: VarOperand, Var: 2}, Array: -1, Offset: 1},
		{Kind: UnmodUpper, Left: Operand{Kind: VarOperand, Var: 2}, Array: 0, Offset: 1},
	}
	assert.Equal(t, want, r.Constraints.List())
}

func TestConstantBound(t *testing.T) {
	// for (i = 0; i < 10; i++) a[i+1]
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, iconst 10, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iconst 1, iadd, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	assert.Equal(t, ir.Full, level(t, m, r))
	assert.Equal(t, []Constraint{{Kind: ConstUpper, Array: 0, Offset: 10}}, r.Constraints.List())
}

func TestUnknownStart(t *testing.T) {
	// for (i = k; i < a.length; i++) a[i]
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iload 2, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	assert.Equal(t, ir.Full, level(t, m, r))
	assert.Equal(t, []Constraint{{Kind: VarLower, Left: Operand{Kind: VarOperand, Var: 1}, Array: -1}}, r.Constraints.List())
}

func TestStartOverwrittenByHandler(t *testing.T) {
	// i = 0 is followed by a throwing access whose handler sets i = -1 and
	// rejoins in front of the loop.
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1, aload 0, iconst 100, iaload, pop]}
  - {label: pre, code: [nop]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
  - {label: catch, code: [pop, iconst -1, istore 1, goto pre]}
exceptions:
  - {start: entry, end: entry, handler: catch}
`)
	require.Empty(t, r.Bailout)
	assert.Equal(t, ir.Full, level(t, m, r))
	assert.Equal(t, []Constraint{{Kind: VarLower, Left: Operand{Kind: VarOperand, Var: 1}, Array: -1}}, r.Constraints.List())
}

func TestAccessBeforeTest(t *testing.T) {
	// The index is read in the header before the loop condition.
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [aload 0, iload 1, iaload, pop, iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	require.Empty(t, r.Bailout)
	r.Apply(m, true)
	assert.Equal(t, ir.LowerOnly, m.Blocks[1].Instrs[2].Level)
}

func TestModifiedArray(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, aload 2, astore 0, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	assert.Equal(t, ir.None, level(t, m, r))
}

func TestNonLinearStore(t *testing.T) {
	// i = i * 2 loses every bound.
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 1, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iload 1, iconst 2, imul, istore 1, goto head]}
  - {label: done, code: [return]}
`)
	assert.True(t, r.Vars[1].Modified)
	assert.False(t, r.Vars[1].NeverDecremented())
	// The test is still in force at the access, the delta at the load is 0.
	assert.Equal(t, ir.UpperOnly, level(t, m, r))
}

func TestOrExit(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, iload 2, if_icmpge other]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: other, code: [iinc 1 1, goto head]}
`)
	assert.NotEmpty(t, r.Bailout)
	assert.Equal(t, ir.None, level(t, m, r))
}

func TestHandlerModifiesIndex(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
  - {label: catch, code: [pop, iinc 1 1, goto head]}
exceptions:
  - {start: body, end: body, handler: catch}
`)
	assert.Contains(t, r.Bailout, "v1")
	assert.Equal(t, []ir.BlockID{4}, r.Handlers)
	assert.True(t, m.Blocks[4].Has(ir.FlagInHandler))
	assert.Equal(t, ir.None, level(t, m, r))
}

func TestHandlerKeepsIndex(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
  - {label: catch, code: [pop, iinc 2 1, goto head]}
exceptions:
  - {start: body, end: body, handler: catch}
`)
	assert.Empty(t, r.Bailout)
	assert.Equal(t, ir.Full, level(t, m, r))
}

func TestHandlerEntersFromOutside(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
  - {label: catch, code: [pop, goto body]}
exceptions:
  - {start: entry, end: body, handler: catch}
`)
	assert.Contains(t, r.Bailout, "enters the loop")
	assert.Equal(t, ir.None, level(t, m, r))
}

func TestSubroutineInLoop(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 4
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, jsr sub]}
  - {label: latch, code: [iinc 1 1, goto head]}
  - {label: done, code: [return]}
  - {label: sub, code: [astore 3, ret 3]}
`)
	assert.Contains(t, r.Bailout, "subroutine")
	assert.Equal(t, ir.None, level(t, m, r))
}

func TestFallbackSkipped(t *testing.T) {
	m, err := ir.Load(strings.NewReader(countUp))
	require.NoError(t, err)
	b := block.NewBuilder(m)
	g := b.Graph()
	f := loop.NewDetector(m, g, dom.Compute(g)).Detect()
	m.Blocks[1].Flags |= ir.FlagFallback
	r := New(m, b, trace.New(0)).Analyze(f.Loops[0])
	assert.True(t, r.Skipped)
	r.Apply(m, true)
	assert.Equal(t, ir.Unchecked, m.Blocks[2].Instrs[2].Level)
}

func TestApplyWithoutUpgrade(t *testing.T) {
	m, r := analyze(t, countUp)
	require.Equal(t, 1, r.Improved())
	r.Apply(m, false)
	assert.Equal(t, ir.None, m.Blocks[2].Instrs[2].Level)
}

func TestLevelsOnlyUpgrade(t *testing.T) {
	m, r := analyze(t, `
maxlocals: 3
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, iload 2, if_icmpge done]}
  - {label: body, code: [aload 0, iload 1, iaload upper, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	// Upper is already omitted, only the lower check is left to prove.
	assert.Equal(t, ir.Full, level(t, m, r))
	assert.Equal(t, 0, r.Constraints.Len())
}

func TestNestedInnerLoopWidens(t *testing.T) {
	// The inner loop advances i by an unknown amount, so after it nothing
	// bounds i from above within the outer iteration.
	m, r := analyze(t, `
maxlocals: 4
blocks:
  - {label: entry, code: [iconst 0, istore 1]}
  - {label: head, code: [iload 1, aload 0, arraylength, if_icmpge done]}
  - {label: inner, code: [iload 2, ifle body]}
  - {label: step, code: [iinc 1 1, iinc 2 -1, goto inner]}
  - {label: body, code: [aload 0, iload 1, iaload, pop, iinc 1 1, goto head]}
  - {label: done, code: [return]}
`)
	require.Empty(t, r.Bailout)
	// Lower still holds: i only ever grows from 0.
	assert.Equal(t, ir.LowerOnly, level(t, m, r))
}
