package analysis

import (
	"bytes"
	"fmt"
	"sort"
)

// Kind is the kind of a guard Constraint.
type Kind int

const (
	// VarLower: a loop variable never decremented starts high enough,
	// Left + Offset >= 0 at loop entry.
	VarLower Kind = iota
	// VarUpper: a loop variable never incremented starts low enough,
	// Left + Offset < Array.length at loop entry.
	VarUpper
	// ConstUpper: Offset < Array.length.
	ConstUpper
	// UnmodLower: Left + Offset >= 0 for a value the loop does not modify.
	UnmodLower
	// UnmodUpper: Left + Offset < Array.length for a value the loop does not
	// modify.
	UnmodUpper
	// RSLower: the right hand side of the loop condition is high enough,
	// Left + Offset >= 0.
	RSLower
	// RSUpper: the right hand side of the loop condition is low enough,
	// Left + Offset < Array.length.
	RSUpper
)

var kindNames = [...]string{"var-lower", "var-upper", "const-upper", "unmod-lower", "unmod-upper", "rs-lower", "rs-upper"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsLower is true for the kinds constraining a value against zero.
func (k Kind) IsLower() bool {
	return k == VarLower || k == UnmodLower || k == RSLower
}

// OperandKind distinguishes the values a Constraint can refer to.
type OperandKind int

const (
	NoOperand     OperandKind = iota
	VarOperand                // The int local Var.
	LengthOperand             // The length of the array local Var.
)

// Operand is the left hand side of a Constraint.
type Operand struct {
	Kind OperandKind
	Var  int
}

func (o Operand) String() string {
	switch o.Kind {
	case VarOperand:
		return fmt.Sprintf("v%d", o.Var)
	case LengthOperand:
		return fmt.Sprintf("a%d.length", o.Var)
	}
	return "0"
}

// Constraint is a test the guard of an optimized loop performs before
// entering it.
type Constraint struct {
	Kind   Kind
	Left   Operand
	Array  int // Array local of upper kinds, -1 for lower kinds.
	Offset int64
}

type constraintKey struct {
	kind  Kind
	left  Operand
	array int
}

func (c *Constraint) key() constraintKey {
	return constraintKey{kind: c.Kind, left: c.Left, array: c.Array}
}

func (c *Constraint) String() string {
	lhs := c.Left.String()
	switch {
	case c.Left.Kind == NoOperand:
		lhs = fmt.Sprint(c.Offset)
	case c.Offset > 0:
		lhs = fmt.Sprintf("%s+%d", lhs, c.Offset)
	case c.Offset < 0:
		lhs = fmt.Sprintf("%s%d", lhs, c.Offset)
	}
	if c.Kind.IsLower() {
		return fmt.Sprintf("%s: %s >= 0", c.Kind, lhs)
	}
	return fmt.Sprintf("%s: %s < a%d.length", c.Kind, lhs, c.Array)
}

// Arrays returns the array locals c reads the length of.
func (c *Constraint) Arrays() []int {
	var as []int
	if c.Left.Kind == LengthOperand {
		as = append(as, c.Left.Var)
	}
	if !c.Kind.IsLower() {
		as = append(as, c.Array)
	}
	return as
}

// Set is a set of constraints where each (kind, operand, array) appears
// once with the tightest offset requested.
type Set struct {
	list  []*Constraint
	index map[constraintKey]*Constraint
}

func NewSet() *Set {
	return &Set{index: make(map[constraintKey]*Constraint)}
}

// Add merges c into s. It returns true if s changed.
func (s *Set) Add(c Constraint) bool {
	if c.Kind.IsLower() {
		c.Array = -1
	}
	if prev, ok := s.index[c.key()]; ok {
		switch {
		case c.Kind.IsLower() && c.Offset < prev.Offset:
			prev.Offset = c.Offset
		case !c.Kind.IsLower() && c.Offset > prev.Offset:
			prev.Offset = c.Offset
		default:
			return false
		}
		return true
	}
	nc := c
	s.list = append(s.list, &nc)
	s.index[c.key()] = &nc
	return true
}

// Union merges every constraint of o into s.
func (s *Set) Union(o *Set) {
	for _, c := range o.list {
		s.Add(*c)
	}
}

// Len returns the number of constraints.
func (s *Set) Len() int { return len(s.list) }

// List returns the constraints in the order they were first added.
func (s *Set) List() []Constraint {
	cs := make([]Constraint, len(s.list))
	for i, c := range s.list {
		cs[i] = *c
	}
	return cs
}

// Arrays returns the array locals referenced by s in ascending order.
func (s *Set) Arrays() []int {
	seen := make(map[int]bool)
	var as []int
	for _, c := range s.list {
		for _, a := range c.Arrays() {
			if !seen[a] {
				seen[a] = true
				as = append(as, a)
			}
		}
	}
	sort.Ints(as)
	return as
}

func (s *Set) String() string {
	var buf bytes.Buffer
	for i, c := range s.list {
		if i > 0 {
			buf.WriteString("; ")
		}
		buf.WriteString(c.String())
	}
	return buf.String()
}
