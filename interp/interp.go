// Package interp executes methods of the stack machine IR.
//
// It is the reference semantics the bounds check elimination is tested
// against: the same method can be run with every bounds check performed, or
// honouring the levels computed by the pass, in which case a check that was
// omitted but would have failed is reported instead of silently reading out
// of bounds.
package interp

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nickng/bcelim/internal/logging"
	"github.com/nickng/bcelim/ir"
)

// Mode selects how array accesses are checked.
type Mode int

const (
	// Reference checks both bounds of every access.
	Reference Mode = iota
	// Optimized omits the checks allowed by the OptLevel of the access.
	Optimized
)

// DefaultMaxSteps is the default number of instructions executed before
// giving up.
const DefaultMaxSteps = 100000

var (
	ErrStepLimit = errors.New("step limit exceeded")
	ErrUnderflow = errors.New("operand stack underflow")
	ErrType      = errors.New("operand type mismatch")
	ErrFellOff   = errors.New("control fell off a block without successor")
	ErrLocal     = errors.New("local variable out of range")
)

// UnsafeAccessError is returned in Optimized mode when an access whose check
// was omitted is out of bounds.
type UnsafeAccessError struct {
	Pos    ir.Pos
	Level  ir.OptLevel
	Index  int64
	Length int
}

func (e *UnsafeAccessError) Error() string {
	return fmt.Sprintf("unsafe access at %s (%s): index %d, length %d", e.Pos, e.Level, e.Index, e.Length)
}

// Call is an invoke executed by the method.
type Call struct {
	Callee string
	Args   []Value
}

func (c Call) String() string { return fmt.Sprintf("%s%v", c.Callee, c.Args) }

// Result is the observable outcome of a run.
type Result struct {
	Returned  bool
	Value     Value  // Value of ireturn.
	Exception string // Kind of the uncaught exception, if any.
	Calls     []Call
	Steps     int
}

// Interpreter runs methods.
type Interpreter struct {
	Mode     Mode
	MaxSteps int
	logger   *logging.Logger
}

func New(mode Mode) *Interpreter {
	return &Interpreter{Mode: mode, MaxSteps: DefaultMaxSteps, logger: logging.Nop()}
}

func (it *Interpreter) SetLogger(l *logging.Logger) {
	it.logger = l.For(logging.Interp, "interp")
}

// frame is the state of one run.
type frame struct {
	m      *ir.Method
	locals []Value
	stack  []Value
	blk    *ir.Block
	idx    int
	res    *Result
}

// Run executes m with the given initial locals. Missing locals are int 0.
// The exception table of m must be resolved.
func (it *Interpreter) Run(m *ir.Method, args []Value) (*Result, error) {
	f := &frame{
		m:      m,
		locals: make([]Value, m.MaxLocals),
		blk:    m.Block(m.Entry),
		res:    &Result{},
	}
	for i := range f.locals {
		f.locals[i] = Int(0)
	}
	copy(f.locals, args)
	max := it.MaxSteps
	if max <= 0 {
		max = DefaultMaxSteps
	}
	for {
		if f.idx >= len(f.blk.Instrs) {
			if f.blk.Next == ir.NoBlock {
				return f.res, errors.Wrapf(ErrFellOff, "%s", f.m.BlockName(f.blk.ID))
			}
			f.jump(f.blk.Next)
			continue
		}
		if f.res.Steps >= max {
			return f.res, errors.Wrapf(ErrStepLimit, "after %d steps in %s", f.res.Steps, m.Name)
		}
		f.res.Steps++
		pos := ir.Pos{Block: f.blk.ID, Index: f.idx}
		in := f.blk.Instrs[f.idx]
		f.idx++
		exc, done, err := it.step(f, in, pos)
		if err != nil {
			return f.res, errors.Wrapf(err, "%s at %s", in, pos)
		}
		if done {
			return f.res, nil
		}
		if exc != "" && !it.throw(f, exc, Value{Kind: KindRef, Exc: exc}) {
			return f.res, nil
		}
	}
}

// throw transfers control to the first entry of the table protecting the
// current block and catching kind. It returns false if there is none.
func (it *Interpreter) throw(f *frame, kind string, exc Value) bool {
	for _, e := range f.m.Exceptions {
		if e.Covers(f.blk.ID) && e.Catches(kind) {
			it.logger.Debugf("%s %s in %s caught by %s", it.logger.Module(), kind, f.m.BlockName(f.blk.ID), f.m.BlockName(e.Handler))
			f.stack = append(f.stack[:0], exc)
			f.jump(e.Handler)
			return true
		}
	}
	it.logger.Debugf("%s %s in %s uncaught", it.logger.Module(), kind, f.m.BlockName(f.blk.ID))
	f.res.Exception = kind
	return false
}

func (f *frame) jump(b ir.BlockID) {
	f.blk = f.m.Block(b)
	f.idx = 0
}

func (f *frame) push(vs ...Value) { f.stack = append(f.stack, vs...) }

func (f *frame) pop() (Value, error) {
	if len(f.stack) == 0 {
		return Value{}, ErrUnderflow
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) popKind(k Kind) (Value, error) {
	v, err := f.pop()
	if err != nil {
		return v, err
	}
	if v.Kind != k {
		return v, errors.Wrapf(ErrType, "got %s", v)
	}
	return v, nil
}

func (f *frame) popInt() (int64, error) {
	v, err := f.popKind(KindInt)
	return v.Int, err
}

func (f *frame) popLong() (int64, error) {
	if _, err := f.popKind(KindTop); err != nil {
		return 0, err
	}
	v, err := f.popKind(KindLong)
	return v.Int, err
}

func (f *frame) local(v int) (Value, error) {
	if v < 0 || v >= len(f.locals) {
		return Value{}, errors.Wrapf(ErrLocal, "v%d", v)
	}
	return f.locals[v], nil
}

func (f *frame) setLocal(v int, val Value) error {
	if v < 0 || v >= len(f.locals) {
		return errors.Wrapf(ErrLocal, "v%d", v)
	}
	f.locals[v] = val
	return nil
}

// step executes in. It returns the kind of exception raised, or done once
// the method returned.
func (it *Interpreter) step(f *frame, in *ir.Instr, pos ir.Pos) (exc string, done bool, err error) {
	switch in.Op {
	case ir.OpNop:
	case ir.OpIConst:
		f.push(Int(in.Const))
	case ir.OpLConst:
		f.push(Long(in.Const), top)
	case ir.OpILoad, ir.OpALoad:
		v, err := f.local(in.Var)
		if err != nil {
			return "", false, err
		}
		want := KindInt
		if in.Op == ir.OpALoad {
			want = KindRef
		}
		if v.Kind != want {
			return "", false, errors.Wrapf(ErrType, "v%d is %s", in.Var, v)
		}
		f.push(v)
	case ir.OpLLoad:
		v, err := f.local(in.Var)
		if err != nil {
			return "", false, err
		}
		if v.Kind != KindLong {
			return "", false, errors.Wrapf(ErrType, "v%d is %s", in.Var, v)
		}
		f.push(v, top)
	case ir.OpIStore:
		v, err := f.popKind(KindInt)
		if err != nil {
			return "", false, err
		}
		return "", false, f.setLocal(in.Var, v)
	case ir.OpAStore:
		v, err := f.pop()
		if err != nil {
			return "", false, err
		}
		if v.Kind != KindRef && v.Kind != KindRetAddr {
			return "", false, errors.Wrapf(ErrType, "astore of %s", v)
		}
		return "", false, f.setLocal(in.Var, v)
	case ir.OpLStore:
		l, err := f.popLong()
		if err != nil {
			return "", false, err
		}
		if err := f.setLocal(in.Var, Long(l)); err != nil {
			return "", false, err
		}
		return "", false, f.setLocal(in.Var+1, top)
	case ir.OpIInc:
		v, err := f.local(in.Var)
		if err != nil {
			return "", false, err
		}
		if v.Kind != KindInt {
			return "", false, errors.Wrapf(ErrType, "v%d is %s", in.Var, v)
		}
		f.locals[in.Var] = Int(v.Int + in.Const)
	case ir.OpIAdd, ir.OpISub, ir.OpIMul, ir.OpIDiv:
		y, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		x, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		switch in.Op {
		case ir.OpIAdd:
			f.push(Int(x + y))
		case ir.OpISub:
			f.push(Int(x - y))
		case ir.OpIMul:
			f.push(Int(x * y))
		case ir.OpIDiv:
			if y == 0 {
				return ir.ExcArithmetic, false, nil
			}
			f.push(Int(x / y))
		}
	case ir.OpINeg:
		x, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		f.push(Int(-x))
	case ir.OpLAdd:
		y, err := f.popLong()
		if err != nil {
			return "", false, err
		}
		x, err := f.popLong()
		if err != nil {
			return "", false, err
		}
		f.push(Long(x+y), top)
	case ir.OpI2L:
		x, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		f.push(Long(x), top)
	case ir.OpL2I:
		x, err := f.popLong()
		if err != nil {
			return "", false, err
		}
		f.push(Int(int64(int32(x))))
	case ir.OpArrayLength:
		a, err := f.popKind(KindRef)
		if err != nil {
			return "", false, err
		}
		if a.Arr == nil {
			return ir.ExcNullPointer, false, nil
		}
		f.push(Int(int64(len(a.Arr.Elems))))
	case ir.OpNewArray:
		n, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		if n < 0 {
			return ir.ExcArithmetic, false, nil
		}
		f.push(NewArray(make([]int64, n)...))
	case ir.OpIALoad, ir.OpIAStore:
		return it.access(f, in, pos)
	case ir.OpPop:
		_, err := f.pop()
		return "", false, err
	case ir.OpPop2:
		if _, err := f.pop(); err != nil {
			return "", false, err
		}
		_, err := f.pop()
		return "", false, err
	case ir.OpDup, ir.OpDupX1, ir.OpDupX2, ir.OpDup2, ir.OpSwap:
		return "", false, f.shuffle(in.Op)
	case ir.OpGoto:
		f.jump(in.Target)
	case ir.OpIf:
		x, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		if in.Cond.Eval(x, 0) {
			f.jump(in.Target)
		}
	case ir.OpIfICmp:
		y, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		x, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		if in.Cond.Eval(x, y) {
			f.jump(in.Target)
		}
	case ir.OpIfNull, ir.OpIfNonNull:
		r, err := f.popKind(KindRef)
		if err != nil {
			return "", false, err
		}
		if r.IsNull() == (in.Op == ir.OpIfNull) {
			f.jump(in.Target)
		}
	case ir.OpTableSwitch:
		k, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		t := in.Target
		if i := k - in.Low; i >= 0 && i < int64(len(in.Targets)) {
			t = in.Targets[i]
		}
		f.jump(t)
	case ir.OpLookupSwitch:
		k, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		t := in.Target
		for i, key := range in.Keys {
			if key == k {
				t = in.Targets[i]
				break
			}
		}
		f.jump(t)
	case ir.OpJSR:
		f.push(Value{Kind: KindRetAddr, Ret: f.blk.Next})
		f.jump(in.Target)
	case ir.OpRet:
		v, err := f.local(in.Var)
		if err != nil {
			return "", false, err
		}
		if v.Kind != KindRetAddr {
			return "", false, errors.Wrapf(ErrType, "ret through %s", v)
		}
		f.jump(v.Ret)
	case ir.OpInvoke:
		if len(f.stack) < in.Args {
			return "", false, ErrUnderflow
		}
		args := append([]Value(nil), f.stack[len(f.stack)-in.Args:]...)
		f.stack = f.stack[:len(f.stack)-in.Args]
		f.res.Calls = append(f.res.Calls, Call{Callee: in.Callee, Args: args})
		for i := 0; i < in.Results; i++ {
			f.push(Int(0))
		}
	case ir.OpReturn:
		f.res.Returned = true
		return "", true, nil
	case ir.OpIReturn:
		v, err := f.popKind(KindInt)
		if err != nil {
			return "", false, err
		}
		f.res.Returned, f.res.Value = true, v
		return "", true, nil
	case ir.OpAThrow:
		v, err := f.popKind(KindRef)
		if err != nil {
			return "", false, err
		}
		switch {
		case v.IsNull():
			return ir.ExcNullPointer, false, nil
		case v.Exc != "":
			return v.Exc, false, nil
		}
		return ir.ExcThrown, false, nil
	default:
		return "", false, errors.Errorf("cannot execute %s", in.Op)
	}
	return "", false, nil
}

// access executes iaload or iastore.
func (it *Interpreter) access(f *frame, in *ir.Instr, pos ir.Pos) (string, bool, error) {
	var val int64
	if in.Op == ir.OpIAStore {
		v, err := f.popInt()
		if err != nil {
			return "", false, err
		}
		val = v
	}
	idx, err := f.popInt()
	if err != nil {
		return "", false, err
	}
	a, err := f.popKind(KindRef)
	if err != nil {
		return "", false, err
	}
	if a.Arr == nil {
		return ir.ExcNullPointer, false, nil
	}
	n := len(a.Arr.Elems)
	lowFail, highFail := idx < 0, idx >= int64(n)
	if lowFail || highFail {
		if it.Mode == Optimized && ((lowFail && in.Level.OmitsLower()) || (highFail && in.Level.OmitsUpper())) {
			return "", false, &UnsafeAccessError{Pos: pos, Level: in.Level, Index: idx, Length: n}
		}
		return ir.ExcIndexOutOfBounds, false, nil
	}
	if in.Op == ir.OpIAStore {
		a.Arr.Elems[idx] = val
		return "", false, nil
	}
	f.push(Int(a.Arr.Elems[idx]))
	return "", false, nil
}

// shuffle executes the stack manipulation instructions.
func (f *frame) shuffle(op ir.Opcode) error {
	need := map[ir.Opcode]int{ir.OpDup: 1, ir.OpDupX1: 2, ir.OpDupX2: 3, ir.OpDup2: 2, ir.OpSwap: 2}[op]
	n := len(f.stack)
	if n < need {
		return ErrUnderflow
	}
	s := f.stack
	switch op {
	case ir.OpDup:
		f.push(s[n-1])
	case ir.OpDupX1:
		v1, v2 := s[n-1], s[n-2]
		f.stack = append(s[:n-2], v1, v2, v1)
	case ir.OpDupX2:
		v1, v2, v3 := s[n-1], s[n-2], s[n-3]
		f.stack = append(s[:n-3], v1, v3, v2, v1)
	case ir.OpDup2:
		f.push(s[n-2], s[n-1])
	case ir.OpSwap:
		s[n-1], s[n-2] = s[n-2], s[n-1]
	}
	return nil
}
