package analysis

import (
	"fmt"

	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/trace"
)

// Bound is a relation Var Cond RHS holding at the loop header whenever the
// loop continues. RHS is an IntConst, an ArrayLen of an unmodified array or
// an IntVar of an unmodified variable, with the offset of the compared
// variable already moved to the right.
type Bound struct {
	Cond ir.Cond
	RHS  trace.Trace
}

func (b *Bound) String() string {
	return fmt.Sprintf("%s %s", b.Cond, b.RHS)
}

// slack returns the constant k such that Var <= RHS + k (upper) or
// Var >= RHS + k (lower) follows from b.
func (b *Bound) slack() int64 {
	switch b.Cond {
	case ir.CondLT:
		return -1
	case ir.CondGT:
		return 1
	}
	return 0
}

// Condition is the normalized exit test of a loop header.
type Condition struct {
	Var   int
	Cond  ir.Cond // Holds on the edge to Stay.
	RHS   trace.Trace
	Stay  ir.BlockID
	Bound *Bound // Nil for == and !=.
}

func (c *Condition) String() string {
	return fmt.Sprintf("v%d %s %s", c.Var, c.Cond, c.RHS)
}

// analyzeCondition normalizes the conditional branch ending the header into
// v cond rhs where v is modified by the loop, and records the implied bound
// on v. It returns nil if the branch has no such form.
func (c *loopContext) analyzeCondition() *Condition {
	h := c.m.Block(c.loop.Header)
	t := h.Terminator()
	if t == nil || (t.Op != ir.OpIf && t.Op != ir.OpIfICmp) {
		return nil
	}
	stayTaken, stayNext := c.loop.Contains(t.Target), c.loop.Contains(h.Next)
	if stayTaken == stayNext {
		return nil
	}
	cond, stay := t.Cond, t.Target
	if !stayTaken {
		cond, stay = cond.Negate(), h.Next
	}

	idx := len(h.Instrs) - 1
	var x, y trace.Trace
	if t.Op == ir.OpIfICmp {
		x, y = c.tr.Operand(h, idx, 1), c.tr.Operand(h, idx, 0)
	} else {
		x, y = c.tr.Operand(h, idx, 0), trace.IntConst{Value: 0}
	}
	if !c.modifiedVar(x) {
		if !c.modifiedVar(y) {
			return nil
		}
		x, y, cond = y, x, cond.Swap()
	}
	iv := x.(trace.IntVar)
	if iv.Neg {
		return nil
	}
	for _, in := range h.Instrs {
		for _, s := range stores(in) {
			if s == iv.Var {
				return nil
			}
		}
	}
	rhs := c.invariantValue(y, -iv.Offset)
	if rhs == nil {
		return nil
	}

	cd := &Condition{Var: iv.Var, Cond: cond, RHS: rhs, Stay: stay}
	lv := c.vars.get(iv.Var)
	switch cond {
	case ir.CondLT, ir.CondLE:
		cd.Bound = &Bound{Cond: cond, RHS: rhs}
		lv.Upper = cd.Bound
	case ir.CondGT, ir.CondGE:
		cd.Bound = &Bound{Cond: cond, RHS: rhs}
		lv.Lower = cd.Bound
	}
	return cd
}

func (c *loopContext) modifiedVar(t trace.Trace) bool {
	iv, ok := t.(trace.IntVar)
	return ok && c.vars.Modified(iv.Var)
}

// invariantValue returns t+off if t does not change inside the loop.
func (c *loopContext) invariantValue(t trace.Trace, off int64) trace.Trace {
	switch t := t.(type) {
	case trace.IntConst:
		return trace.IntConst{Value: t.Value + off}
	case trace.ArrayLen:
		if c.vars.Modified(t.Array) {
			return nil
		}
		t.Offset += off
		return t
	case trace.IntVar:
		if t.Neg || c.vars.Modified(t.Var) {
			return nil
		}
		t.Offset += off
		return t
	}
	return nil
}
