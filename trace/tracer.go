package trace

import "github.com/nickng/bcelim/ir"

// DefaultMaxDepth is the default number of instructions a single trace may
// walk over.
const DefaultMaxDepth = 32

// Tracer walks blocks backwards to classify stack values. It holds no state
// besides its limit and is safe to reuse.
type Tracer struct {
	MaxDepth int
}

// New returns a Tracer walking at most maxDepth instructions per trace.
func New(maxDepth int) *Tracer {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Tracer{MaxDepth: maxDepth}
}

// Trace returns the origin of the value n slots below the top of the operand
// stack right after b.Instrs[idx] has executed. Values produced before the
// start of b are Unknown.
func (t *Tracer) Trace(b *ir.Block, idx, n int) Trace {
	budget := t.MaxDepth
	return t.walk(b, idx, n, &budget)
}

// Operand returns the origin of the value n slots below the top of the
// operand stack right before b.Instrs[idx] executes.
func (t *Tracer) Operand(b *ir.Block, idx, n int) Trace {
	return t.Trace(b, idx-1, n)
}

func (t *Tracer) walk(b *ir.Block, idx, n int, budget *int) Trace {
	for ; idx >= 0; idx-- {
		if *budget <= 0 {
			return Unknown{}
		}
		*budget--

		in := b.Instrs[idx]
		if in.Op == ir.OpInvoke || in.IsTerminator() {
			return Unknown{}
		}
		switch in.Op {
		case ir.OpDup:
			if n < 2 {
				n = 0
				continue
			}
		case ir.OpDupX1:
			switch {
			case n == 2:
				n = 0
				continue
			case n < 2:
				continue
			}
		case ir.OpDupX2:
			switch {
			case n == 3:
				n = 0
				continue
			case n < 3:
				continue
			}
		case ir.OpDup2:
			if n < 4 {
				n %= 2
				continue
			}
		case ir.OpSwap:
			if n < 2 {
				n = 1 - n
				continue
			}
		}

		pushes, pops := in.Pushes(), in.Pops()
		if n >= pushes {
			n += pops - pushes
			continue
		}
		if pushes != 1 {
			// Part of a long value.
			return Unknown{}
		}
		switch in.Op {
		case ir.OpIConst:
			return IntConst{Value: in.Const}
		case ir.OpILoad:
			return IntVar{Var: in.Var, LoadAt: idx}
		case ir.OpALoad:
			return ArrayVar{Var: in.Var}
		case ir.OpArrayLength:
			return arrayLength(t.walk(b, idx-1, 0, budget))
		case ir.OpIAdd:
			y := t.walk(b, idx-1, 0, budget)
			x := t.walk(b, idx-1, 1, budget)
			return add(x, y)
		case ir.OpISub:
			y := t.walk(b, idx-1, 0, budget)
			x := t.walk(b, idx-1, 1, budget)
			return sub(x, y)
		case ir.OpINeg:
			return negate(t.walk(b, idx-1, 0, budget))
		}
		return Unknown{}
	}
	return Unknown{}
}
