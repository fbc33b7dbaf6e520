package ir

import "fmt"

// Opcode is the operation of an Instr.
type Opcode int

const (
	OpNop Opcode = iota
	OpIConst
	OpLConst
	OpILoad
	OpLLoad
	OpALoad
	OpIStore
	OpLStore
	OpAStore
	OpIInc
	OpIAdd
	OpISub
	OpIMul
	OpIDiv
	OpINeg
	OpLAdd
	OpI2L
	OpL2I
	OpArrayLength
	OpNewArray
	OpIALoad
	OpIAStore
	OpPop
	OpPop2
	OpDup
	OpDupX1
	OpDupX2
	OpDup2
	OpSwap
	OpGoto
	OpIf     // compare top of stack against zero
	OpIfICmp // compare two ints
	OpIfNull
	OpIfNonNull
	OpTableSwitch
	OpLookupSwitch
	OpJSR
	OpRet
	OpInvoke
	OpReturn
	OpIReturn
	OpAThrow

	numOpcodes
)

var opNames = [...]string{
	OpNop:          "nop",
	OpIConst:       "iconst",
	OpLConst:       "lconst",
	OpILoad:        "iload",
	OpLLoad:        "lload",
	OpALoad:        "aload",
	OpIStore:       "istore",
	OpLStore:       "lstore",
	OpAStore:       "astore",
	OpIInc:         "iinc",
	OpIAdd:         "iadd",
	OpISub:         "isub",
	OpIMul:         "imul",
	OpIDiv:         "idiv",
	OpINeg:         "ineg",
	OpLAdd:         "ladd",
	OpI2L:          "i2l",
	OpL2I:          "l2i",
	OpArrayLength:  "arraylength",
	OpNewArray:     "newarray",
	OpIALoad:       "iaload",
	OpIAStore:      "iastore",
	OpPop:          "pop",
	OpPop2:         "pop2",
	OpDup:          "dup",
	OpDupX1:        "dup_x1",
	OpDupX2:        "dup_x2",
	OpDup2:         "dup2",
	OpSwap:         "swap",
	OpGoto:         "goto",
	OpIf:           "if",
	OpIfICmp:       "if_icmp",
	OpIfNull:       "ifnull",
	OpIfNonNull:    "ifnonnull",
	OpTableSwitch:  "tableswitch",
	OpLookupSwitch: "lookupswitch",
	OpJSR:          "jsr",
	OpRet:          "ret",
	OpInvoke:       "invoke",
	OpReturn:       "return",
	OpIReturn:      "ireturn",
	OpAThrow:       "athrow",
}

func (op Opcode) String() string {
	if op >= 0 && op < numOpcodes {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// stack effect in operand slots; long values take two slots.
type effect struct{ pops, pushes int }

var effects = [...]effect{
	OpNop:          {0, 0},
	OpIConst:       {0, 1},
	OpLConst:       {0, 2},
	OpILoad:        {0, 1},
	OpLLoad:        {0, 2},
	OpALoad:        {0, 1},
	OpIStore:       {1, 0},
	OpLStore:       {2, 0},
	OpAStore:       {1, 0},
	OpIInc:         {0, 0},
	OpIAdd:         {2, 1},
	OpISub:         {2, 1},
	OpIMul:         {2, 1},
	OpIDiv:         {2, 1},
	OpINeg:         {1, 1},
	OpLAdd:         {4, 2},
	OpI2L:          {1, 2},
	OpL2I:          {2, 1},
	OpArrayLength:  {1, 1},
	OpNewArray:     {1, 1},
	OpIALoad:       {2, 1},
	OpIAStore:      {3, 0},
	OpPop:          {1, 0},
	OpPop2:         {2, 0},
	OpDup:          {1, 2},
	OpDupX1:        {2, 3},
	OpDupX2:        {3, 4},
	OpDup2:         {2, 4},
	OpSwap:         {2, 2},
	OpGoto:         {0, 0},
	OpIf:           {1, 0},
	OpIfICmp:       {2, 0},
	OpIfNull:       {1, 0},
	OpIfNonNull:    {1, 0},
	OpTableSwitch:  {1, 0},
	OpLookupSwitch: {1, 0},
	OpJSR:          {0, 1},
	OpRet:          {0, 0},
	OpInvoke:       {0, 0}, // see Instr.Pops/Pushes
	OpReturn:       {0, 0},
	OpIReturn:      {1, 0},
	OpAThrow:       {1, 0},
}

// Cond is the comparison of a conditional branch.
type Cond int

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondGE
	CondGT
	CondLE
)

var condNames = [...]string{"eq", "ne", "lt", "ge", "gt", "le"}

func (c Cond) String() string {
	if c >= 0 && int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", int(c))
}

// Negate returns the condition that holds exactly when c does not.
func (c Cond) Negate() Cond {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondLT:
		return CondGE
	case CondGE:
		return CondLT
	case CondGT:
		return CondLE
	case CondLE:
		return CondGT
	}
	return c
}

// Swap returns the condition with its operands exchanged (a < b ⇔ b > a).
func (c Cond) Swap() Cond {
	switch c {
	case CondLT:
		return CondGT
	case CondGT:
		return CondLT
	case CondLE:
		return CondGE
	case CondGE:
		return CondLE
	}
	return c
}

// Eval applies c to x and y.
func (c Cond) Eval(x, y int64) bool {
	switch c {
	case CondEQ:
		return x == y
	case CondNE:
		return x != y
	case CondLT:
		return x < y
	case CondGE:
		return x >= y
	case CondGT:
		return x > y
	case CondLE:
		return x <= y
	}
	return false
}

func parseCond(s string) (Cond, bool) {
	for i, n := range condNames {
		if n == s {
			return Cond(i), true
		}
	}
	return 0, false
}
