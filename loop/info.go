package loop

import (
	"bytes"
	"fmt"

	"golang.org/x/tools/container/intsets"

	"github.com/nickng/bcelim/ir"
)

// Loop is a natural loop, identified by its header block.
type Loop struct {
	Header ir.BlockID

	members intsets.Sparse

	Parent   *Loop   // Immediately enclosing loop, nil at top level.
	Children []*Loop // Loops immediately nested in this one.

	// InDegree is the number of child loops, which are processed before
	// this one.
	InDegree int

	// Entries are the indices of the exception table entries starting in
	// this loop (and in no inner loop).
	Entries []int

	// Constraints and GuardInstrs account for the guards inserted for this
	// loop and the loops nested in it.
	Constraints int
	GuardInstrs int
}

// New returns a loop with header as its only member.
func New(header ir.BlockID) *Loop {
	invariant(header >= 0, "loop header %d is negative", header)
	l := &Loop{Header: header}
	l.members.Insert(int(header))
	return l
}

// Members returns the member blocks in ascending order, without duplicates.
func (l *Loop) Members() []ir.BlockID {
	var ids []ir.BlockID
	for _, n := range l.members.AppendTo(nil) {
		ids = append(ids, ir.BlockID(n))
	}
	return ids
}

// Len returns the number of members.
func (l *Loop) Len() int { return l.members.Len() }

// Contains is true if b is a member of l.
func (l *Loop) Contains(b ir.BlockID) bool {
	return l.members.Has(int(b))
}

// AddMember adds b to l and every loop enclosing l.
func (l *Loop) AddMember(b ir.BlockID) {
	for p := l; p != nil; p = p.Parent {
		p.members.Insert(int(b))
	}
}

// merge adds the members of o to l.
func (l *Loop) merge(o *Loop) {
	invariant(l.Header == o.Header, "merging loops with headers %d and %d", l.Header, o.Header)
	l.members.UnionWith(&o.members)
}

// contains is true if o is nested (not necessarily immediately) in l.
func (l *Loop) contains(o *Loop) bool {
	return o.members.SubsetOf(&l.members)
}

// Depth returns the nesting depth of l, 0 for top level loops.
func (l *Loop) Depth() int {
	d := 0
	for p := l.Parent; p != nil; p = p.Parent {
		d++
	}
	return d
}

func (l *Loop) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "loop@%d %v", l.Header, l.Members())
	if l.Parent != nil {
		fmt.Fprintf(&buf, " in loop@%d", l.Parent.Header)
	}
	if len(l.Entries) > 0 {
		fmt.Fprintf(&buf, " entries %v", l.Entries)
	}
	return buf.String()
}

func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("loop: "+format, args...))
	}
}
