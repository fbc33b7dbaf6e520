// Package transform rewrites an analysed loop into a guarded fast path and
// an unoptimized fallback copy.
//
// The guard is a chain of blocks evaluating the loop's constraints in front
// of the header. Every entry into the loop from outside goes through the
// guard; if a constraint fails control continues in the copy, which keeps
// every bounds check.
package transform

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/nickng/bcelim/analysis"
	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/loop"
)

// ErrNoConstraints is returned when asked to guard a loop that needs no
// guard.
var ErrNoConstraints = errors.New("loop has no constraints")

// Transformer rewrites the loops of one method.
type Transformer struct {
	m      *ir.Method
	f      *loop.Forest
	logger *logging.Logger
}

func New(m *ir.Method, f *loop.Forest) *Transformer {
	return &Transformer{m: m, f: f, logger: logging.Nop()}
}

func (t *Transformer) SetLogger(l *logging.Logger) {
	t.logger = l.For(logging.Transform, "transform")
}

// Rewrite is the record of one transformed loop.
type Rewrite struct {
	Loop   *loop.Loop
	Guard  ir.BlockID                // First guard block.
	Guards []ir.BlockID              // Guard blocks in evaluation order.
	Copies map[ir.BlockID]ir.BlockID // Original → fallback copy.

	Instrs int // Instructions in the guard.
}

// FallbackHeader returns the copy of the loop header.
func (rw *Rewrite) FallbackHeader() ir.BlockID {
	return rw.Copies[rw.Loop.Header]
}

// Transform guards the loop of r with its constraints. The levels of r must
// have been applied to the method already.
func (t *Transformer) Transform(r *analysis.Result) (*Rewrite, error) {
	l := r.Loop
	if r.Constraints.Len() == 0 {
		return nil, errors.Wrapf(ErrNoConstraints, "loop@%s", t.m.BlockName(l.Header))
	}
	region := append(l.Members(), r.Handlers...)
	sort.Slice(region, func(i, j int) bool { return region[i] < region[j] })
	table := append([]ir.Entry(nil), t.m.Exceptions...)

	rw := &Rewrite{Loop: l, Copies: make(map[ir.BlockID]ir.BlockID, len(region))}
	t.duplicate(rw, region)
	t.buildGuard(rw, r.Constraints)
	t.redirect(rw, region)
	t.extendExceptions(rw, table)
	t.updateForest(rw, region)

	l.Constraints += r.Constraints.Len()
	l.GuardInstrs += rw.Instrs
	t.logger.Debugf("%s loop@%s guarded by %d blocks (%d instructions), fallback at %s",
		t.logger.Module(), t.m.BlockName(l.Header), len(rw.Guards), rw.Instrs, t.m.BlockName(rw.FallbackHeader()))
	return rw, nil
}

// duplicate appends a fallback copy of every region block to the method.
// Branches between region blocks are redirected to the copies, branches
// leaving the region are kept.
func (t *Transformer) duplicate(rw *Rewrite, region []ir.BlockID) {
	for _, id := range region {
		orig := t.m.Block(id)
		cp := t.m.NewBlock()
		if orig.Label != "" {
			cp.Label = orig.Label + "'"
		}
		cp.Next = orig.Next
		cp.Flags = orig.Flags | ir.FlagFallback
		for _, in := range orig.Instrs {
			c := in.Clone()
			if c.IsArrayAccess() {
				c.Level = ir.None
			}
			cp.Append(c)
		}
		rw.Copies[id] = cp.ID
	}
	remap := func(b ir.BlockID) ir.BlockID {
		if cp, ok := rw.Copies[b]; ok {
			return cp
		}
		return b
	}
	for _, cp := range rw.Copies {
		blk := t.m.Block(cp)
		if blk.Next != ir.NoBlock {
			blk.Next = remap(blk.Next)
		}
		if term := blk.Terminator(); term != nil {
			term.RewriteTargets(remap)
		}
	}
}

// buildGuard appends the guard chain: a null check of every array the
// constraints read, then one block per constraint. The last block falls
// through to the original header.
func (t *Transformer) buildGuard(rw *Rewrite, set *analysis.Set) {
	fail := rw.FallbackHeader()
	var chain [][]*ir.Instr
	for _, a := range set.Arrays() {
		chain = append(chain, []*ir.Instr{ir.ALoad(a), ir.IfNull(fail)})
	}
	for _, c := range set.List() {
		chain = append(chain, guardCode(c, fail))
	}
	for i, code := range chain {
		b := t.m.NewBlock()
		b.Flags = ir.FlagGuard
		b.Append(code...)
		rw.Guards = append(rw.Guards, b.ID)
		rw.Instrs += len(code)
		if i > 0 {
			t.m.Block(rw.Guards[i-1]).Next = b.ID
		}
	}
	t.m.Block(rw.Guards[len(rw.Guards)-1]).Next = rw.Loop.Header
	rw.Guard = rw.Guards[0]
}

// guardCode returns the instructions branching to fail unless c holds.
func guardCode(c analysis.Constraint, fail ir.BlockID) []*ir.Instr {
	var code []*ir.Instr
	push := func(o analysis.Operand) {
		switch o.Kind {
		case analysis.VarOperand:
			code = append(code, ir.ILoad(o.Var))
		case analysis.LengthOperand:
			code = append(code, ir.ALoad(o.Var), ir.ArrayLength())
		}
	}
	switch {
	case c.Kind.IsLower():
		// left + k >= 0, as left >= -k.
		push(c.Left)
		code = append(code, ir.IConst(-c.Offset), ir.IfICmp(ir.CondLT, fail))
	case c.Kind == analysis.ConstUpper:
		// k < a.length
		code = append(code, ir.IConst(c.Offset), ir.ALoad(c.Array), ir.ArrayLength(), ir.IfICmp(ir.CondGE, fail))
	default:
		// left + k < a.length, as left < a.length - k.
		push(c.Left)
		code = append(code, ir.ALoad(c.Array), ir.ArrayLength(), ir.IConst(c.Offset), ir.Simple(ir.OpISub),
			ir.IfICmp(ir.CondGE, fail))
	}
	return code
}

// redirect sends every edge entering the header from outside the region to
// the guard.
func (t *Transformer) redirect(rw *Rewrite, region []ir.BlockID) {
	h := rw.Loop.Header
	inRegion := make(map[ir.BlockID]bool, len(region))
	for _, id := range region {
		inRegion[id] = true
	}
	for _, id := range rw.Copies {
		inRegion[id] = true
	}
	for _, id := range rw.Guards {
		inRegion[id] = true
	}
	to := func(b ir.BlockID) ir.BlockID {
		if b == h {
			return rw.Guard
		}
		return b
	}
	for _, blk := range t.m.Blocks {
		if inRegion[blk.ID] {
			continue
		}
		if blk.Next == h {
			t.logger.Debugf("%s %s falls into the guard", t.logger.Module(), t.m.BlockName(blk.ID))
			blk.Next = rw.Guard
		}
		if term := blk.Terminator(); term != nil && term.HasTargets() {
			term.RewriteTargets(to)
		}
	}
	if t.m.Entry == h {
		t.m.Entry = rw.Guard
	}
}

// extendExceptions protects the copies like the originals. New entries are
// appended in table order so the first matching entry stays the same.
func (t *Transformer) extendExceptions(rw *Rewrite, table []ir.Entry) {
	for _, e := range table {
		var ids []int
		for orig, cp := range rw.Copies {
			if e.Covers(orig) {
				ids = append(ids, int(cp))
			}
		}
		if len(ids) == 0 {
			continue
		}
		sort.Ints(ids)
		handler := e.Handler
		if cp, ok := rw.Copies[handler]; ok {
			handler = cp
		}
		start := ids[0]
		for i := 1; i <= len(ids); i++ {
			if i < len(ids) && ids[i] == ids[i-1]+1 {
				continue
			}
			t.m.Exceptions = append(t.m.Exceptions, ir.Entry{
				Start:     ir.BlockID(start),
				Last:      ir.BlockID(ids[i-1]),
				Handler:   handler,
				CatchType: e.CatchType,
			})
			if i < len(ids) {
				start = ids[i]
			}
		}
	}
}

// updateForest records the new blocks in the enclosing loops. Copies of
// the loop and of the loops nested in it are not loops of their own, they
// belong to the parent of the transformed loop. Their block flags are those
// of the originals.
func (t *Transformer) updateForest(rw *Rewrite, region []ir.BlockID) {
	l := rw.Loop
	place := func(b ir.BlockID, in *loop.Loop) {
		if in == nil {
			t.f.SetInnermost(b, nil)
			return
		}
		in.AddMember(b)
		t.f.SetInnermost(b, in)
		t.m.Block(b).Flags |= ir.FlagInLoop
	}
	for _, id := range region {
		in := t.f.Innermost(id)
		if in == nil || within(in, l) {
			in = l.Parent
		}
		place(rw.Copies[id], in)
	}
	for _, g := range rw.Guards {
		place(g, l.Parent)
	}
}

// within is true if inner is l or nested in it.
func within(inner, l *loop.Loop) bool {
	for p := inner; p != nil; p = p.Parent {
		if p == l {
			return true
		}
	}
	return false
}
