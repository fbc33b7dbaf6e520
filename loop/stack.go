package loop

import (
	"github.com/pkg/errors"

	"github.com/nickng/bcelim/ir"
)

var ErrEmptyStack = errors.New("error: empty stack")

// Stack is a stack of blocks, used as the worklist of membership walks.
type Stack struct {
	s []ir.BlockID
}

// NewStack creates a new Stack.
func NewStack() *Stack {
	return &Stack{s: []ir.BlockID{}}
}

// Push adds a new block to the top of stack.
func (s *Stack) Push(b ir.BlockID) {
	s.s = append(s.s, b)
}

// Pop removes a block from top of stack.
func (s *Stack) Pop() (ir.BlockID, error) {
	size := len(s.s)
	if size == 0 {
		return ir.NoBlock, ErrEmptyStack
	}
	b := s.s[size-1]
	s.s = s.s[:size-1]
	return b, nil
}

// IsEmpty returns true if stack is empty.
func (s *Stack) IsEmpty() bool {
	return len(s.s) == 0
}
