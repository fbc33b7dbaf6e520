package ir

import (
	"fmt"

	"github.com/pkg/errors"
)

// RawEntry is an exception table entry keyed by instruction index.
// EndPC is exclusive.
type RawEntry struct {
	StartPC, EndPC, HandlerPC int
	CatchType                 string
}

// Entry is a resolved exception table entry. It protects every block whose
// layout position is within [Start, Last].
type Entry struct {
	Start, Last BlockID
	Handler     BlockID
	CatchType   string
}

// Covers is true if e protects block b.
func (e Entry) Covers(b BlockID) bool {
	return e.Start <= b && b <= e.Last
}

// Catches is true if e handles an exception of the given kind.
func (e Entry) Catches(kind string) bool {
	return e.CatchType == CatchAny || e.CatchType == kind
}

var ErrAlreadyResolved = errors.New("exception table already resolved")

// ExceptionRangeError is returned for an exception table entry that does not
// line up with the method's blocks.
type ExceptionRangeError struct {
	Entry  int
	PC     int
	Reason string
}

func (e *ExceptionRangeError) Error() string {
	return fmt.Sprintf("exception table entry %d: pc %d %s", e.Entry, e.PC, e.Reason)
}

// ResolveExceptions converts RawExceptions into Exceptions.
// It does nothing if there is no raw table left to resolve.
func (m *Method) ResolveExceptions() error {
	if len(m.RawExceptions) == 0 {
		return nil
	}
	if len(m.Exceptions) > 0 {
		return ErrAlreadyResolved
	}
	length := m.CodeLength()
	startAt := make(map[int]BlockID)
	endAt := make(map[int]BlockID)
	for _, b := range m.Blocks {
		if b.PC < 0 {
			continue
		}
		startAt[b.PC] = b.ID
		endAt[b.PC+len(b.Instrs)] = b.ID
	}
	resolved := make([]Entry, 0, len(m.RawExceptions))
	for i, raw := range m.RawExceptions {
		for _, pc := range []int{raw.StartPC, raw.EndPC, raw.HandlerPC} {
			if pc < 0 || pc > length {
				return &ExceptionRangeError{Entry: i, PC: pc, Reason: "outside of code"}
			}
		}
		start, ok := startAt[raw.StartPC]
		if !ok {
			return &ExceptionRangeError{Entry: i, PC: raw.StartPC, Reason: "is not a block start"}
		}
		last, ok := endAt[raw.EndPC]
		if !ok {
			return &ExceptionRangeError{Entry: i, PC: raw.EndPC, Reason: "is not a block end"}
		}
		if raw.EndPC <= raw.StartPC || last < start {
			return &ExceptionRangeError{Entry: i, PC: raw.EndPC, Reason: "ends before start"}
		}
		handler, ok := startAt[raw.HandlerPC]
		if !ok {
			return &ExceptionRangeError{Entry: i, PC: raw.HandlerPC, Reason: "handler is not a block start"}
		}
		resolved = append(resolved, Entry{Start: start, Last: last, Handler: handler, CatchType: raw.CatchType})
	}
	m.Exceptions = resolved
	m.RawExceptions = nil
	return nil
}

// Protecting returns the indices of the entries covering b, in table order.
func (m *Method) Protecting(b BlockID) []int {
	var es []int
	for i, e := range m.Exceptions {
		if e.Covers(b) {
			es = append(es, i)
		}
	}
	return es
}
