package interp

import (
	"fmt"
	"strings"

	"github.com/nickng/bcelim/ir"
)

// Kind is the type of a Value.
type Kind uint8

const (
	KindInt Kind = iota
	KindLong
	KindRef     // Array, exception or null.
	KindRetAddr // Return address pushed by jsr.
	KindTop     // Second slot of a long.
)

// Array is a heap allocated int array.
type Array struct {
	Elems []int64
}

// Value is the content of one local or stack slot.
type Value struct {
	Kind Kind
	Int  int64      // int and long value.
	Arr  *Array     // Non-nil for array references.
	Exc  string     // Exception kind of an exception reference.
	Ret  ir.BlockID // Return address.
}

// Int returns an int value.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }

// Long returns a long value.
func Long(v int64) Value { return Value{Kind: KindLong, Int: v} }

// Null is the null reference.
var Null = Value{Kind: KindRef}

var top = Value{Kind: KindTop}

// NewArray returns a reference to a new array holding elems.
func NewArray(elems ...int64) Value {
	return Value{Kind: KindRef, Arr: &Array{Elems: append([]int64(nil), elems...)}}
}

// IsNull is true for the null reference.
func (v Value) IsNull() bool {
	return v.Kind == KindRef && v.Arr == nil && v.Exc == ""
}

// Copy returns v with its array, if any, copied.
func (v Value) Copy() Value {
	if v.Arr != nil {
		return NewArray(v.Arr.Elems...)
	}
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprint(v.Int)
	case KindLong:
		return fmt.Sprintf("%dL", v.Int)
	case KindRef:
		switch {
		case v.Arr != nil:
			s := make([]string, len(v.Arr.Elems))
			for i, e := range v.Arr.Elems {
				s[i] = fmt.Sprint(e)
			}
			return "[" + strings.Join(s, " ") + "]"
		case v.Exc != "":
			return "exception " + v.Exc
		}
		return "null"
	case KindRetAddr:
		return fmt.Sprintf("ret B%d", v.Ret)
	}
	return "top"
}
