package bce

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/nickng/bcelim/ir"
)

// Stats counts what the pass did.
type Stats struct {
	Methods int
	Loops   int

	Optimized int // Loops with at least one improved access.
	Guarded   int // Loops given a guard and a fallback copy.
	Bailouts  int
	TooCostly int // Loops needing more constraints than allowed.
	Skipped   int

	Constraints int
	GuardInstrs int

	// Levels counts the array accesses outside fallback copies by level.
	Levels map[ir.OptLevel]int
}

func newStats() Stats {
	return Stats{Levels: make(map[ir.OptLevel]int)}
}

func (s *Stats) countLevels(m *ir.Method) {
	for _, b := range m.Blocks {
		if b.Has(ir.FlagFallback) {
			continue
		}
		b.ArrayAccesses(func(_ int, in *ir.Instr) {
			s.Levels[in.Level]++
		})
	}
}

func (s *Stats) add(o Stats) {
	s.Methods += o.Methods
	s.Loops += o.Loops
	s.Optimized += o.Optimized
	s.Guarded += o.Guarded
	s.Bailouts += o.Bailouts
	s.TooCostly += o.TooCostly
	s.Skipped += o.Skipped
	s.Constraints += o.Constraints
	s.GuardInstrs += o.GuardInstrs
	if s.Levels == nil {
		s.Levels = make(map[ir.OptLevel]int)
	}
	for l, n := range o.Levels {
		s.Levels[l] += n
	}
}

func (s Stats) String() string {
	return fmt.Sprintf("%d loops, %d optimized, %d guarded, %d bailed out, %d constraints, %d guard instructions, accesses full=%d lower=%d upper=%d none=%d",
		s.Loops, s.Optimized, s.Guarded, s.Bailouts, s.Constraints, s.GuardInstrs,
		s.Levels[ir.Full], s.Levels[ir.LowerOnly], s.Levels[ir.UpperOnly], s.Levels[ir.None])
}

// Fprint writes s as a table.
func (s Stats) Fprint(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := []struct {
		name string
		n    int
	}{
		{"methods", s.Methods},
		{"loops", s.Loops},
		{"optimized", s.Optimized},
		{"guarded", s.Guarded},
		{"bailed out", s.Bailouts},
		{"too costly", s.TooCostly},
		{"skipped", s.Skipped},
		{"constraints", s.Constraints},
		{"guard instructions", s.GuardInstrs},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%d\n", r.name, r.n)
	}
	for l := ir.Unchecked; l <= ir.UpperOnly; l++ {
		fmt.Fprintf(tw, "accesses %s\t%d\n", l, s.Levels[l])
	}
	return tw.Flush()
}
