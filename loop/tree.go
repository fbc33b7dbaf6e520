package loop

import (
	"bytes"
	"strings"

	"github.com/nickng/bcelim/ir"
)

// Forest is the nesting forest of the loops of a method.
type Forest struct {
	Loops []*Loop // Ordered by header.
	Roots []*Loop // Top level loops.

	// Order is a topological order of Loops: every loop comes after all
	// loops nested in it.
	Order []*Loop

	innermost []*Loop // By BlockID.
}

// Innermost returns the innermost loop containing b, or nil.
func (f *Forest) Innermost(b ir.BlockID) *Loop {
	if b < 0 || int(b) >= len(f.innermost) {
		return nil
	}
	return f.innermost[b]
}

// ByHeader returns the loop headed by h, or nil.
func (f *Forest) ByHeader(h ir.BlockID) *Loop {
	for _, l := range f.Loops {
		if l.Header == h {
			return l
		}
	}
	return nil
}

// SetInnermost records l as the innermost loop of b, used for blocks added
// after detection.
func (f *Forest) SetInnermost(b ir.BlockID, l *Loop) {
	for int(b) >= len(f.innermost) {
		f.innermost = append(f.innermost, nil)
	}
	f.innermost[b] = l
}

// nest computes the innermost loop of every block and the parent of every
// loop. Natural loops with distinct headers are either disjoint or nested,
// so the smallest loop containing a header is its parent.
func (f *Forest) nest(nblocks int) {
	f.innermost = make([]*Loop, nblocks)
	for _, l := range f.Loops {
		for _, b := range l.Members() {
			if in := f.innermost[b]; in == nil || l.Len() < in.Len() {
				f.innermost[b] = l
			}
		}
	}
	for _, l := range f.Loops {
		var parent *Loop
		for _, o := range f.Loops {
			if o == l || !o.Contains(l.Header) {
				continue
			}
			if parent == nil || o.Len() < parent.Len() {
				parent = o
			}
		}
		if parent == nil {
			f.Roots = append(f.Roots, l)
			continue
		}
		invariant(parent.contains(l), "loop@%d overlaps loop@%d without nesting", l.Header, parent.Header)
		invariant(parent.Len() > l.Len(), "loops @%d and @%d collide", l.Header, parent.Header)
		l.Parent = parent
		parent.Children = append(parent.Children, l)
	}
	for _, l := range f.Loops {
		l.InDegree = len(l.Children)
	}
}

// sort fills Order by repeatedly removing loops whose children have all
// been removed.
func (f *Forest) sort() {
	pending := make(map[*Loop]int)
	var ready []*Loop
	for _, l := range f.Loops {
		pending[l] = l.InDegree
		if l.InDegree == 0 {
			ready = append(ready, l)
		}
	}
	for len(ready) > 0 {
		l := ready[0]
		ready = ready[1:]
		f.Order = append(f.Order, l)
		if p := l.Parent; p != nil {
			pending[p]--
			if pending[p] == 0 {
				ready = append(ready, p)
			}
		}
	}
	invariant(len(f.Order) == len(f.Loops), "loop nesting has a cycle")
}

// attach assigns every exception table entry to the innermost loop
// containing its first block.
func (f *Forest) attach(entries []ir.Entry) {
	for i, e := range entries {
		if l := f.Innermost(e.Start); l != nil {
			l.Entries = append(l.Entries, i)
		}
	}
}

func (f *Forest) String() string {
	var buf bytes.Buffer
	var walk func(l *Loop)
	walk = func(l *Loop) {
		buf.WriteString(strings.Repeat("  ", l.Depth()))
		buf.WriteString(l.String())
		buf.WriteByte('\n')
		for _, c := range l.Children {
			walk(c)
		}
	}
	for _, r := range f.Roots {
		walk(r)
	}
	return buf.String()
}
