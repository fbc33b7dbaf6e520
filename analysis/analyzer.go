// Package analysis decides, loop by loop, which array bounds checks can be
// omitted and which guard constraints justify omitting them.
//
// A loop is analysed as a region made of its member blocks and of the
// handler blocks of the exception table entries protecting them. Changes of
// integer variables are propagated from the header through the region, each
// array access is then classified from the trace of its index and the
// changes at the point the index was loaded.
package analysis

import (
	"fmt"
	"sort"

	"golang.org/x/tools/container/intsets"

	"github.com/nickng/bcelim/block"
	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
	"github.com/nickng/bcelim/loop"
	"github.com/nickng/bcelim/trace"
)

// maxEntryWalk is the number of single-predecessor blocks searched backward
// from the loop header for the entry value of a variable. Guard blocks are
// not counted.
const maxEntryWalk = 8

// Analyzer analyses the loops of one method.
type Analyzer struct {
	m      *ir.Method
	b      *block.Builder
	tr     *trace.Tracer
	logger *logging.Logger
}

// New returns an Analyzer for m. The graphs of b must reflect the current
// blocks of m.
func New(m *ir.Method, b *block.Builder, tr *trace.Tracer) *Analyzer {
	return &Analyzer{m: m, b: b, tr: tr, logger: logging.Nop()}
}

func (a *Analyzer) SetLogger(l *logging.Logger) {
	a.logger = l.For(logging.Analysis, "analysis")
}

// Access is an array load or store of a loop.
type Access struct {
	Pos   ir.Pos
	Array trace.Trace
	Index trace.Trace
}

// Result is the outcome of analysing one loop.
type Result struct {
	Loop *loop.Loop

	// Skipped is set for loops the pass must leave alone entirely (the
	// fallback copy of an optimized loop).
	Skipped bool
	// Bailout is the reason the loop cannot be optimized, if any.
	Bailout string

	Vars     Vars
	Cond     *Condition
	Accesses []Access
	Handlers []ir.BlockID // Handler blocks protecting the loop.

	Constraints *Set
	Levels      map[ir.Pos]ir.OptLevel // Upgraded levels.
}

// Improved returns the number of accesses whose level the loop upgrades.
func (r *Result) Improved() int { return len(r.Levels) }

// Apply writes the result to m. With upgrade set the levels computed for the
// loop are applied. Every other access of the loop still Unchecked becomes
// None.
func (r *Result) Apply(m *ir.Method, upgrade bool) {
	if r.Skipped {
		return
	}
	for _, acc := range r.Accesses {
		in := m.Block(acc.Pos.Block).Instrs[acc.Pos.Index]
		if l, ok := r.Levels[acc.Pos]; ok && upgrade {
			in.Level = l
			continue
		}
		if in.Level == ir.Unchecked {
			in.Level = ir.None
		}
	}
}

// loopContext is the scratch state of the analysis of a single loop.
type loopContext struct {
	m      *ir.Method
	b      *block.Builder
	tr     *trace.Tracer
	loop   *loop.Loop
	logger *logging.Logger

	handlers intsets.Sparse // Handler blocks of the region.
	vars     Vars
	cond     *Condition
	entry    map[int]*int64 // Memoized entry values.

	in        map[ir.BlockID]*state
	processed intsets.Sparse
}

// Analyze analyses loop l.
func (a *Analyzer) Analyze(l *loop.Loop) *Result {
	r := &Result{Loop: l, Vars: make(Vars), Constraints: NewSet(), Levels: make(map[ir.Pos]ir.OptLevel)}
	if a.m.Block(l.Header).Has(ir.FlagFallback) {
		a.logger.Debugf("%s loop@%s is a fallback copy", a.logger.Module(), a.m.BlockName(l.Header))
		r.Skipped = true
		return r
	}
	c := &loopContext{
		m:      a.m,
		b:      a.b,
		tr:     a.tr,
		loop:   l,
		logger: a.logger,
		vars:   r.Vars,
		entry:  make(map[int]*int64),
		in:     make(map[ir.BlockID]*state),
	}
	c.collectHandlers()
	for _, h := range c.handlerList() {
		a.m.Block(h).Flags |= ir.FlagInHandler
	}
	r.Handlers = c.handlerList()

	for _, n := range l.Members() {
		blk := a.m.Block(n)
		scanModifications(c.vars, blk, c.tr)
		if blk.Has(ir.FlagFallback) {
			continue
		}
		blk.ArrayAccesses(func(i int, in *ir.Instr) {
			r.Accesses = append(r.Accesses, c.access(blk, i, in))
		})
	}

	if reason := c.bailout(); reason != "" {
		a.logger.Debugf("%s loop@%s bails out: %s", a.logger.Module(), a.m.BlockName(l.Header), reason)
		r.Bailout = reason
		return r
	}
	r.Cond = c.analyzeCondition()
	c.cond = r.Cond
	if reason := c.handlerBailout(); reason != "" {
		a.logger.Debugf("%s loop@%s bails out: %s", a.logger.Module(), a.m.BlockName(l.Header), reason)
		r.Bailout = reason
		return r
	}
	if r.Cond != nil {
		a.logger.Debugf("%s loop@%s condition %s", a.logger.Module(), a.m.BlockName(l.Header), r.Cond)
	}

	c.propagate()
	c.classify(r)
	a.logger.Debugf("%s loop@%s improves %d of %d accesses with %d constraints: %s",
		a.logger.Module(), a.m.BlockName(l.Header), r.Improved(), len(r.Accesses), r.Constraints.Len(), r.Constraints)
	return r
}

func (c *loopContext) access(b *ir.Block, i int, in *ir.Instr) Access {
	depth := 0 // Index on top for iaload, below the value for iastore.
	if in.Op == ir.OpIAStore {
		depth = 1
	}
	acc := Access{
		Pos:   ir.Pos{Block: b.ID, Index: i},
		Index: c.tr.Operand(b, i, depth),
		Array: c.tr.Operand(b, i, depth+1),
	}
	if iv, ok := acc.Index.(trace.IntVar); ok {
		c.vars.get(iv.Var).UsedAsIndex = true
	}
	if av, ok := acc.Array.(trace.ArrayVar); ok {
		c.vars.get(av.Var).UsedAsArray = true
	}
	return acc
}

// inRegion is true for loop members and the handler blocks protecting them.
func (c *loopContext) inRegion(b ir.BlockID) bool {
	return c.loop.Contains(b) || c.handlers.Has(int(b))
}

// collectHandlers adds the exception graph blocks of every entry protecting
// the region, until no new handler is found.
func (c *loopContext) collectHandlers() {
	work := c.loop.Members()
	var seen intsets.Sparse
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]
		for _, i := range c.m.Protecting(n) {
			h := c.m.Exceptions[i].Handler
			if !seen.Insert(int(h)) {
				continue
			}
			for _, hn := range c.b.ExceptionGraph(h).Order {
				if !c.loop.Contains(hn) && c.handlers.Insert(int(hn)) {
					work = append(work, hn)
				}
			}
		}
	}
}

func (c *loopContext) handlerList() []ir.BlockID {
	var ids []ir.BlockID
	for _, n := range c.handlers.AppendTo(nil) {
		ids = append(ids, ir.BlockID(n))
	}
	return ids
}

// bailout returns why the loop cannot be optimized regardless of its
// variables, or "".
func (c *loopContext) bailout() string {
	inLoop := 0
	for _, s := range c.b.Successors(c.loop.Header) {
		if c.loop.Contains(s) {
			inLoop++
		}
	}
	if inLoop > 1 {
		return "header branches within the loop"
	}
	region := append(c.loop.Members(), c.handlerList()...)
	for _, n := range region {
		if t := c.m.Block(n).Terminator(); t != nil && (t.Op == ir.OpJSR || t.Op == ir.OpRet) {
			return fmt.Sprintf("subroutine call in %s", c.m.BlockName(n))
		}
	}
	for _, e := range c.m.Exceptions {
		if !c.entersLoop(e.Handler) {
			continue
		}
		for b := e.Start; b <= e.Last; b++ {
			if !c.loop.Contains(b) {
				return fmt.Sprintf("handler %s enters the loop from %s", c.m.BlockName(e.Handler), c.m.BlockName(b))
			}
		}
	}
	return ""
}

// entersLoop is true if handler h continues inside the loop.
func (c *loopContext) entersLoop(h ir.BlockID) bool {
	if c.loop.Contains(h) {
		return true
	}
	for _, x := range c.b.ExceptionGraph(h).Exits {
		if c.loop.Contains(x) {
			return true
		}
	}
	return false
}

// handlerBailout returns why a handler of the loop prevents optimizing it,
// or "".
func (c *loopContext) handlerBailout() string {
	hv := make(Vars)
	for _, h := range c.handlerList() {
		scanModifications(hv, c.m.Block(h), c.tr)
	}
	interesting := make(map[int]bool)
	for v, lv := range c.vars {
		if lv.UsedAsIndex || lv.UsedAsArray {
			interesting[v] = true
		}
	}
	if c.cond != nil {
		interesting[c.cond.Var] = true
		switch rhs := c.cond.RHS.(type) {
		case trace.IntVar:
			interesting[rhs.Var] = true
		case trace.ArrayLen:
			interesting[rhs.Array] = true
		}
	}
	for _, lv := range hv.Sorted() {
		if lv.Modified && interesting[lv.Var] {
			return fmt.Sprintf("handler modifies v%d", lv.Var)
		}
	}
	return ""
}

// edges returns the normal and exceptional successors of n within the
// region. Edges back to the header start a new iteration and are left out.
func (c *loopContext) edges(n ir.BlockID) (normal, exceptional []ir.BlockID) {
	for _, s := range c.b.Successors(n) {
		if s != c.loop.Header && c.inRegion(s) {
			normal = append(normal, s)
		}
	}
	for _, i := range c.m.Protecting(n) {
		h := c.m.Exceptions[i].Handler
		if h != c.loop.Header && c.inRegion(h) {
			exceptional = append(exceptional, h)
		}
	}
	return normal, exceptional
}

// order returns the region blocks reachable from the header in reverse
// postorder.
func (c *loopContext) order() []ir.BlockID {
	var seen intsets.Sparse
	var post []ir.BlockID
	var visit func(n ir.BlockID)
	visit = func(n ir.BlockID) {
		seen.Insert(int(n))
		normal, exceptional := c.edges(n)
		for _, s := range append(normal, exceptional...) {
			if !seen.Has(int(s)) {
				visit(s)
			}
		}
		post = append(post, n)
	}
	visit(c.loop.Header)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}

// propagate computes the state at the start of every region block.
func (c *loopContext) propagate() {
	rpo := c.order()
	dirty := make(map[ir.BlockID]bool)
	c.in[c.loop.Header] = newState(c.m.MaxLocals)
	dirty[c.loop.Header] = true

	flow := func(to ir.BlockID, st *state) {
		if prev, ok := c.in[to]; ok {
			if prev.join(st, c.processed.Has(int(to))) {
				dirty[to] = true
			}
			return
		}
		c.in[to] = st.copy()
		dirty[to] = true
	}
	for changed := true; changed; {
		changed = false
		for _, n := range rpo {
			if !dirty[n] {
				continue
			}
			dirty[n], changed = false, true
			out, thrown := c.transfer(c.m.Block(n), c.in[n].copy(), nil)
			c.processed.Insert(int(n))
			normal, exceptional := c.edges(n)
			for _, s := range normal {
				st := out
				if n == c.loop.Header && c.cond != nil && s == c.cond.Stay {
					st = out.copy()
					st.tested = true
				}
				flow(s, st)
			}
			for _, h := range exceptional {
				flow(h, thrown)
			}
		}
	}
}

// transfer applies block b to st. It returns the state at the end of b and
// the union of all states inside b, which is the state of exceptions thrown
// from b. If loads is not nil the Delta of each loaded variable is recorded
// by instruction index.
func (c *loopContext) transfer(b *ir.Block, st *state, loads map[int]Delta) (out, thrown *state) {
	thrown = st.copy()
	snap := make(map[int]Delta)
	for i, in := range b.Instrs {
		switch in.Op {
		case ir.OpILoad:
			snap[i] = st.get(in.Var)
			if loads != nil {
				loads[i] = snap[i]
			}
		case ir.OpIInc:
			st.set(in.Var, st.get(in.Var).Add(in.Const))
		case ir.OpIStore:
			d := Unbounded
			if iv, ok := c.tr.Operand(b, i, 0).(trace.IntVar); ok && iv.Var == in.Var && !iv.Neg {
				d = snap[iv.LoadAt].Add(iv.Offset)
			}
			st.set(in.Var, d)
		case ir.OpLStore, ir.OpAStore:
			for _, s := range stores(in) {
				st.set(s, Unbounded)
			}
		default:
			continue
		}
		thrown.join(st, false)
	}
	return st, thrown
}

// classify decides the level of every access of the loop.
func (c *loopContext) classify(r *Result) {
	loads := make(map[ir.BlockID]map[int]Delta)
	for _, n := range c.loop.Members() {
		if st, ok := c.in[n]; ok && !c.m.Block(n).Has(ir.FlagFallback) {
			loads[n] = make(map[int]Delta)
			c.transfer(c.m.Block(n), st.copy(), loads[n])
		}
	}
	for _, acc := range r.Accesses {
		st, ok := c.in[acc.Pos.Block]
		if !ok {
			continue
		}
		in := c.m.Block(acc.Pos.Block).Instrs[acc.Pos.Index]
		cur := in.Level
		lower, upper, cs := c.decide(acc, st.tested, loads[acc.Pos.Block], !cur.OmitsLower(), !cur.OmitsUpper())
		if l := cur.Upgrade(lower, upper); l != cur && l != ir.None {
			r.Levels[acc.Pos] = l
			for _, con := range cs {
				if r.Constraints.Add(con) {
					c.logger.Debugf("%s %s requires %s", c.logger.Module(), acc.Pos, con.String())
				}
			}
		}
	}
}

// decide returns which of the wanted checks of acc can be omitted and the
// constraints that must hold for it.
func (c *loopContext) decide(acc Access, tested bool, loads map[int]Delta, wantLower, wantUpper bool) (lower, upper bool, cs []Constraint) {
	av, ok := acc.Array.(trace.ArrayVar)
	if !ok || c.vars.Modified(av.Var) {
		return false, false, nil
	}
	a := av.Var
	var lo, up []choice
	switch idx := acc.Index.(type) {
	case trace.IntConst:
		if idx.Value < 0 {
			return false, false, nil
		}
		lo = []choice{free()}
		up = []choice{c.constUpper(idx.Value, a)}
	case trace.ArrayLen:
		if c.vars.Modified(idx.Array) {
			return false, false, nil
		}
		lo = []choice{c.lowerOf(Operand{Kind: LengthOperand, Var: idx.Array}, idx.Offset, UnmodLower)}
		if idx.Array == a {
			if idx.Offset < 0 {
				up = []choice{free()}
			}
		} else {
			up = []choice{need(Constraint{Kind: UnmodUpper, Left: Operand{Kind: LengthOperand, Var: idx.Array}, Array: a, Offset: idx.Offset})}
		}
	case trace.IntVar:
		if idx.Neg {
			return false, false, nil
		}
		if !c.vars.Modified(idx.Var) {
			lo = []choice{c.lowerOf(Operand{Kind: VarOperand, Var: idx.Var}, idx.Offset, UnmodLower)}
			up = []choice{c.upperOf(Operand{Kind: VarOperand, Var: idx.Var}, idx.Offset, a, UnmodUpper)}
			break
		}
		lv := c.vars[idx.Var]
		d := loads[idx.LoadAt]
		v := Operand{Kind: VarOperand, Var: idx.Var}
		if lv.NeverDecremented() && d.HasLo() {
			lo = append(lo, c.lowerOf(v, idx.Offset+d.Lo, VarLower))
		}
		if b := lv.Lower; b != nil && tested && d.HasLo() {
			lo = append(lo, c.rhsLower(b, idx.Offset+d.Lo+b.slack()))
		}
		if b := lv.Upper; b != nil && tested && d.HasHi() {
			up = append(up, c.rhsUpper(b, idx.Offset+d.Hi+b.slack(), a))
		}
		if lv.NeverIncremented() && d.HasHi() {
			up = append(up, c.upperOf(v, idx.Offset+d.Hi, a, VarUpper))
		}
	default:
		return false, false, nil
	}
	if wantLower {
		if ch, ok := best(lo); ok {
			lower = true
			cs = append(cs, ch.cons...)
		}
	}
	if wantUpper {
		if ch, ok := best(up); ok {
			upper = true
			cs = append(cs, ch.cons...)
		}
	}
	return lower, upper, cs
}

// choice is one way of proving a bound: impossible, free, or at the cost of
// a constraint.
type choice struct {
	ok   bool
	cons []Constraint
}

func free() choice               { return choice{ok: true} }
func need(con Constraint) choice { return choice{ok: true, cons: []Constraint{con}} }

// best picks the cheapest possible choice, the first among equals.
func best(chs []choice) (choice, bool) {
	var pick *choice
	for i := range chs {
		if !chs[i].ok {
			continue
		}
		if pick == nil || len(chs[i].cons) < len(pick.cons) {
			pick = &chs[i]
		}
	}
	if pick == nil {
		return choice{}, false
	}
	return *pick, true
}

// lowerOf proves x+off >= 0 for a value x fixed at loop entry.
func (c *loopContext) lowerOf(x Operand, off int64, kind Kind) choice {
	if x.Kind == LengthOperand && off >= 0 {
		return free()
	}
	if x.Kind == VarOperand {
		if e, ok := c.entryConst(x.Var); ok {
			return choice{ok: e+off >= 0}
		}
	}
	return need(Constraint{Kind: kind, Left: x, Offset: off})
}

// upperOf proves x+off < a.length for a value x fixed at loop entry.
func (c *loopContext) upperOf(x Operand, off int64, a int, kind Kind) choice {
	if x.Kind == VarOperand {
		if e, ok := c.entryConst(x.Var); ok {
			return c.constUpper(e+off, a)
		}
	}
	if x.Kind == LengthOperand && x.Var == a {
		return choice{ok: off < 0}
	}
	return need(Constraint{Kind: kind, Left: x, Array: a, Offset: off})
}

// constUpper proves k < a.length.
func (c *loopContext) constUpper(k int64, a int) choice {
	if k < 0 {
		return free()
	}
	return need(Constraint{Kind: ConstUpper, Array: a, Offset: k})
}

// rhsLower proves rhs+off >= 0 for the right hand side of the loop
// condition.
func (c *loopContext) rhsLower(b *Bound, off int64) choice {
	switch rhs := b.RHS.(type) {
	case trace.IntConst:
		return choice{ok: rhs.Value+off >= 0}
	case trace.ArrayLen:
		return c.lowerOf(Operand{Kind: LengthOperand, Var: rhs.Array}, rhs.Offset+off, RSLower)
	case trace.IntVar:
		return c.lowerOf(Operand{Kind: VarOperand, Var: rhs.Var}, rhs.Offset+off, RSLower)
	}
	return choice{}
}

// rhsUpper proves rhs+off < a.length for the right hand side of the loop
// condition.
func (c *loopContext) rhsUpper(b *Bound, off int64, a int) choice {
	switch rhs := b.RHS.(type) {
	case trace.IntConst:
		return c.constUpper(rhs.Value+off, a)
	case trace.ArrayLen:
		return c.upperOf(Operand{Kind: LengthOperand, Var: rhs.Array}, rhs.Offset+off, a, RSUpper)
	case trace.IntVar:
		return c.upperOf(Operand{Kind: VarOperand, Var: rhs.Var}, rhs.Offset+off, a, RSUpper)
	}
	return choice{}
}

// entryConst returns the constant v holds when the loop is entered, found
// by walking back from the only block entering the header.
func (c *loopContext) entryConst(v int) (int64, bool) {
	if e, ok := c.entry[v]; ok {
		if e == nil {
			return 0, false
		}
		return *e, true
	}
	e := c.findEntryConst(v)
	c.entry[v] = e
	if e == nil {
		return 0, false
	}
	return *e, true
}

func (c *loopContext) findEntryConst(v int) *int64 {
	g := c.b.Graph()
	var outside []ir.BlockID
	for _, p := range g.Preds[c.loop.Header] {
		if !c.loop.Contains(p) {
			outside = append(outside, p)
		}
	}
	if len(outside) != 1 || c.m.Entry == c.loop.Header {
		return nil
	}
	var rejoins intsets.Sparse
	for _, e := range c.m.Exceptions {
		for _, x := range c.b.ExceptionGraph(e.Handler).Exits {
			rejoins.Insert(int(x))
		}
	}
	n := outside[0]
	for step := 0; step < maxEntryWalk; {
		if rejoins.Has(int(n)) {
			return nil
		}
		blk := c.m.Block(n)
		if !blk.Has(ir.FlagGuard) {
			step++
		}
		for i := len(blk.Instrs) - 1; i >= 0; i-- {
			in := blk.Instrs[i]
			for _, s := range stores(in) {
				if s != v {
					continue
				}
				if in.Op != ir.OpIStore {
					return nil
				}
				if k, ok := c.tr.Operand(blk, i, 0).(trace.IntConst); ok {
					return &k.Value
				}
				return nil
			}
		}
		if len(g.Preds[n]) != 1 || n == c.m.Entry {
			return nil
		}
		n = g.Preds[n][0]
	}
	return nil
}

// SortedLevels returns the upgraded positions of r in block order.
func (r *Result) SortedLevels() []ir.Pos {
	ps := make([]ir.Pos, 0, len(r.Levels))
	for p := range r.Levels {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Block != ps[j].Block {
			return ps[i].Block < ps[j].Block
		}
		return ps[i].Index < ps[j].Index
	})
	return ps
}
