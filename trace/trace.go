// Package trace classifies the provenance of operand stack values by walking
// a block's instructions backwards.
package trace

import (
	"fmt"
)

// Trace is the symbolic origin of a stack value.
type Trace interface {
	fmt.Stringer
	isTrace()
}

// Unknown is a value with no usable provenance.
type Unknown struct{}

// IntConst is an integer constant.
type IntConst struct {
	Value int64
}

// ArrayLen is the length of the array held in local Array, plus Offset.
type ArrayLen struct {
	Array  int
	Offset int64
}

// IntVar is the affine term ±Var + Offset. The variable was read by the
// instruction at LoadAt in the traced block.
type IntVar struct {
	Var    int
	Offset int64
	Neg    bool
	LoadAt int
}

// ArrayVar is the array reference held in local Var.
type ArrayVar struct {
	Var int
}

func (Unknown) isTrace()  {}
func (IntConst) isTrace() {}
func (ArrayLen) isTrace() {}
func (IntVar) isTrace()   {}
func (ArrayVar) isTrace() {}

func (Unknown) String() string    { return "?" }
func (c IntConst) String() string { return fmt.Sprintf("%d", c.Value) }
func (a ArrayVar) String() string { return fmt.Sprintf("a%d", a.Var) }

func (l ArrayLen) String() string {
	return withOffset(fmt.Sprintf("a%d.length", l.Array), l.Offset)
}

func (v IntVar) String() string {
	s := fmt.Sprintf("v%d", v.Var)
	if v.Neg {
		s = "-" + s
	}
	return withOffset(s, v.Offset)
}

func withOffset(s string, off int64) string {
	switch {
	case off > 0:
		return fmt.Sprintf("%s+%d", s, off)
	case off < 0:
		return fmt.Sprintf("%s%d", s, off)
	}
	return s
}

// add folds x+y when one side is a constant.
func add(x, y Trace) Trace {
	if c, ok := y.(IntConst); ok {
		return addConst(x, c.Value)
	}
	if c, ok := x.(IntConst); ok {
		return addConst(y, c.Value)
	}
	return Unknown{}
}

func addConst(t Trace, c int64) Trace {
	switch t := t.(type) {
	case IntConst:
		return IntConst{Value: t.Value + c}
	case IntVar:
		t.Offset += c
		return t
	case ArrayLen:
		t.Offset += c
		return t
	}
	return Unknown{}
}

// sub folds x-y.
func sub(x, y Trace) Trace {
	if c, ok := y.(IntConst); ok {
		return addConst(x, -c.Value)
	}
	if c, ok := x.(IntConst); ok {
		return addConst(negate(y), c.Value)
	}
	return Unknown{}
}

func negate(t Trace) Trace {
	switch t := t.(type) {
	case IntConst:
		return IntConst{Value: -t.Value}
	case IntVar:
		t.Neg = !t.Neg
		t.Offset = -t.Offset
		return t
	}
	return Unknown{}
}

func arrayLength(t Trace) Trace {
	if a, ok := t.(ArrayVar); ok {
		return ArrayLen{Array: a.Var}
	}
	return Unknown{}
}
