package analysis

import (
	"fmt"
	"math"
)

const (
	negInf int64 = math.MinInt64
	posInf int64 = math.MaxInt64
)

// Delta is the range of the accumulated change of an integer variable since
// the start of the current loop iteration. Lo is negInf when the variable
// may have decreased without bound, Hi is posInf when it may have increased
// without bound.
type Delta struct {
	Lo, Hi int64
}

// Unbounded is the Delta of a variable nothing is known about.
var Unbounded = Delta{Lo: negInf, Hi: posInf}

// HasLo is true if the decrease of the variable is bounded.
func (d Delta) HasLo() bool { return d.Lo != negInf }

// HasHi is true if the increase of the variable is bounded.
func (d Delta) HasHi() bool { return d.Hi != posInf }

// Add shifts d by c.
func (d Delta) Add(c int64) Delta {
	return Delta{Lo: satAdd(d.Lo, c), Hi: satAdd(d.Hi, c)}
}

// Union returns the smallest range containing d and o.
func (d Delta) Union(o Delta) Delta {
	if o.Lo < d.Lo {
		d.Lo = o.Lo
	}
	if o.Hi > d.Hi {
		d.Hi = o.Hi
	}
	return d
}

// Widen returns the union of d and o, with every bound o extends replaced
// by infinity.
func (d Delta) Widen(o Delta) Delta {
	if o.Lo < d.Lo {
		d.Lo = negInf
	}
	if o.Hi > d.Hi {
		d.Hi = posInf
	}
	return d
}

func (d Delta) String() string {
	lo, hi := "-inf", "+inf"
	if d.HasLo() {
		lo = fmt.Sprint(d.Lo)
	}
	if d.HasHi() {
		hi = fmt.Sprint(d.Hi)
	}
	return "[" + lo + "," + hi + "]"
}

// satAdd adds c to x, keeping infinities and saturating on overflow.
func satAdd(x, c int64) int64 {
	switch {
	case x == negInf || x == posInf:
		return x
	case c > 0 && x > posInf-c:
		return posInf
	case c < 0 && x < negInf-c:
		return negInf
	}
	return x + c
}

// state is the data flow fact at a program point: the Delta of every local
// and whether the loop condition has been tested in this iteration.
type state struct {
	deltas []Delta
	tested bool
}

func newState(nlocals int) *state {
	return &state{deltas: make([]Delta, nlocals)}
}

func (s *state) copy() *state {
	return &state{deltas: append([]Delta(nil), s.deltas...), tested: s.tested}
}

func (s *state) get(v int) Delta {
	if v < 0 || v >= len(s.deltas) {
		return Unbounded
	}
	return s.deltas[v]
}

func (s *state) set(v int, d Delta) {
	if v >= 0 && v < len(s.deltas) {
		s.deltas[v] = d
	}
}

// join merges o into s and reports whether s changed. Once a point has been
// processed, growing bounds are widened so that loops nested in the region
// reach a fixed point.
func (s *state) join(o *state, widen bool) bool {
	changed := false
	for v, d := range s.deltas {
		n := d.Union(o.deltas[v])
		if widen {
			n = d.Widen(o.deltas[v])
		}
		if n != d {
			s.deltas[v] = n
			changed = true
		}
	}
	if s.tested && !o.tested {
		s.tested = false
		changed = true
	}
	return changed
}
