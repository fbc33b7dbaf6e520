package analysis

import (
	"fmt"
	"sort"

	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/trace"
)

// LoopVar is what a loop does with one local variable slot.
type LoopVar struct {
	Var         int
	UsedAsIndex bool // Indexes an array access in the loop.
	UsedAsArray bool // Holds an accessed array.
	Modified    bool

	// Increased and Decreased are set when some store in the loop may
	// increase (decrease) the variable. A modified variable never
	// decreased has a static lower bound, one never increased has a static
	// upper bound.
	Increased bool
	Decreased bool

	// Lower and Upper are the bounds implied by the loop condition on the
	// edge staying in the loop, nil if there is none.
	Lower, Upper *Bound
}

// NeverDecremented is true if the variable is at least its loop entry value
// throughout the loop.
func (v *LoopVar) NeverDecremented() bool { return !v.Decreased }

// NeverIncremented is true if the variable is at most its loop entry value
// throughout the loop.
func (v *LoopVar) NeverIncremented() bool { return !v.Increased }

func (v *LoopVar) String() string {
	s := fmt.Sprintf("v%d", v.Var)
	if v.UsedAsIndex {
		s += " index"
	}
	if v.UsedAsArray {
		s += " array"
	}
	if v.Modified {
		s += " modified"
		if v.NeverDecremented() {
			s += " up"
		}
		if v.NeverIncremented() {
			s += " down"
		}
	}
	if v.Lower != nil {
		s += " lower(" + v.Lower.String() + ")"
	}
	if v.Upper != nil {
		s += " upper(" + v.Upper.String() + ")"
	}
	return s
}

// Vars is the variable table of one loop analysis.
type Vars map[int]*LoopVar

func (vs Vars) get(v int) *LoopVar {
	if lv, ok := vs[v]; ok {
		return lv
	}
	lv := &LoopVar{Var: v}
	vs[v] = lv
	return lv
}

// Modified is true if some block of the loop stores to v.
func (vs Vars) Modified(v int) bool {
	lv, ok := vs[v]
	return ok && lv.Modified
}

// Sorted returns the variables by slot.
func (vs Vars) Sorted() []*LoopVar {
	lvs := make([]*LoopVar, 0, len(vs))
	for _, lv := range vs {
		lvs = append(lvs, lv)
	}
	sort.Slice(lvs, func(i, j int) bool { return lvs[i].Var < lvs[j].Var })
	return lvs
}

// stores returns the slots written by in.
func stores(in *ir.Instr) []int {
	switch in.Op {
	case ir.OpIStore, ir.OpAStore, ir.OpIInc:
		return []int{in.Var}
	case ir.OpLStore:
		return []int{in.Var, in.Var + 1}
	}
	return nil
}

// modifiedBetween is true if b.Instrs[from+1:to] writes v.
func modifiedBetween(b *ir.Block, from, to, v int) bool {
	for i := from + 1; i < to; i++ {
		for _, s := range stores(b.Instrs[i]) {
			if s == v {
				return true
			}
		}
	}
	return false
}

// scanModifications records every store of block b in vs, classifying the
// direction of int stores.
func scanModifications(vs Vars, b *ir.Block, tr *trace.Tracer) {
	for i, in := range b.Instrs {
		switch in.Op {
		case ir.OpIInc:
			lv := vs.get(in.Var)
			lv.Modified = true
			if in.Const > 0 {
				lv.Increased = true
			} else if in.Const < 0 {
				lv.Decreased = true
			}
		case ir.OpIStore:
			lv := vs.get(in.Var)
			lv.Modified = true
			iv, ok := tr.Operand(b, i, 0).(trace.IntVar)
			if !ok || iv.Var != in.Var || iv.Neg || modifiedBetween(b, iv.LoadAt, i, in.Var) {
				lv.Increased, lv.Decreased = true, true
				continue
			}
			if iv.Offset > 0 {
				lv.Increased = true
			} else if iv.Offset < 0 {
				lv.Decreased = true
			}
		default:
			for _, s := range stores(in) {
				lv := vs.get(s)
				lv.Modified, lv.Increased, lv.Decreased = true, true, true
			}
		}
	}
}
