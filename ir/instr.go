package ir

import (
	"bytes"
	"fmt"
)

// BlockID is the stable index of a Block in its Method.
type BlockID int

// NoBlock marks an absent block reference.
const NoBlock BlockID = -1

// CatchAny is the catch type of a handler that catches everything.
const CatchAny = ""

// Exception kinds raised by the instruction set.
const (
	ExcIndexOutOfBounds = "ArrayIndexOutOfBounds"
	ExcNullPointer      = "NullPointer"
	ExcArithmetic       = "Arithmetic"
	ExcThrown           = "Thrown"
)

// Instr is a single stack-machine instruction.
type Instr struct {
	Op Opcode

	Var    int   // Local variable slot (loads, stores, iinc, ret).
	Const  int64 // Constant (iconst, lconst) or increment (iinc).
	Cond   Cond  // Comparison of if / if_icmp.
	Target BlockID

	// Switch operands. Target is the default target.
	Low     int64     // tableswitch: key of Targets[0].
	Keys    []int64   // lookupswitch: key of Targets[i].
	Targets []BlockID // Switch targets.

	// invoke operands.
	Callee  string
	Args    int // Slots popped.
	Results int // Slots pushed.

	// Level is the bounds check annotation of iaload/iastore.
	Level OptLevel
}

// Constructors for the common instructions.

func Nop() *Instr                 { return &Instr{Op: OpNop} }
func IConst(c int64) *Instr       { return &Instr{Op: OpIConst, Const: c} }
func LConst(c int64) *Instr       { return &Instr{Op: OpLConst, Const: c} }
func ILoad(v int) *Instr          { return &Instr{Op: OpILoad, Var: v} }
func LLoad(v int) *Instr          { return &Instr{Op: OpLLoad, Var: v} }
func ALoad(v int) *Instr          { return &Instr{Op: OpALoad, Var: v} }
func IStore(v int) *Instr         { return &Instr{Op: OpIStore, Var: v} }
func LStore(v int) *Instr         { return &Instr{Op: OpLStore, Var: v} }
func AStore(v int) *Instr         { return &Instr{Op: OpAStore, Var: v} }
func IInc(v int, c int64) *Instr  { return &Instr{Op: OpIInc, Var: v, Const: c} }
func Simple(op Opcode) *Instr     { return &Instr{Op: op} }
func IALoad() *Instr              { return &Instr{Op: OpIALoad} }
func IAStore() *Instr             { return &Instr{Op: OpIAStore} }
func ArrayLength() *Instr         { return &Instr{Op: OpArrayLength} }
func Goto(t BlockID) *Instr       { return &Instr{Op: OpGoto, Target: t} }
func If(c Cond, t BlockID) *Instr { return &Instr{Op: OpIf, Cond: c, Target: t} }
func IfNull(t BlockID) *Instr     { return &Instr{Op: OpIfNull, Target: t} }
func JSR(t BlockID) *Instr        { return &Instr{Op: OpJSR, Target: t} }
func Ret(v int) *Instr            { return &Instr{Op: OpRet, Var: v} }
func Return() *Instr              { return &Instr{Op: OpReturn} }
func IReturn() *Instr             { return &Instr{Op: OpIReturn} }
func AThrow() *Instr              { return &Instr{Op: OpAThrow} }

func IfICmp(c Cond, t BlockID) *Instr {
	return &Instr{Op: OpIfICmp, Cond: c, Target: t}
}

func TableSwitch(low int64, def BlockID, targets ...BlockID) *Instr {
	return &Instr{Op: OpTableSwitch, Low: low, Target: def, Targets: targets}
}

func LookupSwitch(keys []int64, def BlockID, targets ...BlockID) *Instr {
	return &Instr{Op: OpLookupSwitch, Keys: keys, Target: def, Targets: targets}
}

func Invoke(callee string, args, results int) *Instr {
	return &Instr{Op: OpInvoke, Callee: callee, Args: args, Results: results}
}

// Pops returns the number of operand slots consumed.
func (in *Instr) Pops() int {
	if in.Op == OpInvoke {
		return in.Args
	}
	return effects[in.Op].pops
}

// Pushes returns the number of operand slots produced.
func (in *Instr) Pushes() int {
	if in.Op == OpInvoke {
		return in.Results
	}
	return effects[in.Op].pushes
}

// IsArrayAccess is true for instructions carrying an OptLevel.
func (in *Instr) IsArrayAccess() bool {
	return in.Op == OpIALoad || in.Op == OpIAStore
}

// IsConditional is true for two-way branches (taken: Target, else: Next).
func (in *Instr) IsConditional() bool {
	switch in.Op {
	case OpIf, OpIfICmp, OpIfNull, OpIfNonNull:
		return true
	}
	return false
}

// IsTerminator is true for instructions that may only end a block.
func (in *Instr) IsTerminator() bool {
	switch in.Op {
	case OpGoto, OpIf, OpIfICmp, OpIfNull, OpIfNonNull, OpTableSwitch,
		OpLookupSwitch, OpJSR, OpRet, OpReturn, OpIReturn, OpAThrow:
		return true
	}
	return false
}

// FallsThrough is true if control may continue at the block's Next after in.
// A jsr block's Next is only reached through the subroutine's ret.
func (in *Instr) FallsThrough() bool {
	switch in.Op {
	case OpGoto, OpTableSwitch, OpLookupSwitch, OpJSR, OpRet, OpReturn, OpIReturn, OpAThrow:
		return false
	}
	return true
}

// HasTargets is true if in references other blocks.
func (in *Instr) HasTargets() bool {
	switch in.Op {
	case OpGoto, OpIf, OpIfICmp, OpIfNull, OpIfNonNull, OpTableSwitch, OpLookupSwitch, OpJSR:
		return true
	}
	return false
}

// BranchTargets returns the distinct explicit targets of in, in operand order.
func (in *Instr) BranchTargets() []BlockID {
	if !in.HasTargets() {
		return nil
	}
	var ts []BlockID
	add := func(t BlockID) {
		for _, x := range ts {
			if x == t {
				return
			}
		}
		ts = append(ts, t)
	}
	for _, t := range in.Targets {
		add(t)
	}
	add(in.Target)
	return ts
}

// RewriteTargets replaces every target t of in with f(t).
func (in *Instr) RewriteTargets(f func(BlockID) BlockID) {
	if !in.HasTargets() {
		return
	}
	in.Target = f(in.Target)
	for i := range in.Targets {
		in.Targets[i] = f(in.Targets[i])
	}
}

// Clone returns a deep copy of in.
func (in *Instr) Clone() *Instr {
	c := *in
	if in.Keys != nil {
		c.Keys = append([]int64(nil), in.Keys...)
	}
	if in.Targets != nil {
		c.Targets = append([]BlockID(nil), in.Targets...)
	}
	return &c
}

// Format writes the assembler form of in; name renders block references.
func (in *Instr) Format(name func(BlockID) string) string {
	var buf bytes.Buffer
	switch in.Op {
	case OpIConst, OpLConst:
		fmt.Fprintf(&buf, "%s %d", in.Op, in.Const)
	case OpILoad, OpLLoad, OpALoad, OpIStore, OpLStore, OpAStore, OpRet:
		fmt.Fprintf(&buf, "%s %d", in.Op, in.Var)
	case OpIInc:
		fmt.Fprintf(&buf, "iinc %d %d", in.Var, in.Const)
	case OpIf:
		fmt.Fprintf(&buf, "if%s %s", in.Cond, name(in.Target))
	case OpIfICmp:
		fmt.Fprintf(&buf, "if_icmp%s %s", in.Cond, name(in.Target))
	case OpGoto, OpIfNull, OpIfNonNull, OpJSR:
		fmt.Fprintf(&buf, "%s %s", in.Op, name(in.Target))
	case OpTableSwitch:
		fmt.Fprintf(&buf, "tableswitch %d", in.Low)
		for _, t := range in.Targets {
			fmt.Fprintf(&buf, " %s", name(t))
		}
		fmt.Fprintf(&buf, " default %s", name(in.Target))
	case OpLookupSwitch:
		buf.WriteString("lookupswitch")
		for i, t := range in.Targets {
			fmt.Fprintf(&buf, " %d:%s", in.Keys[i], name(t))
		}
		fmt.Fprintf(&buf, " default %s", name(in.Target))
	case OpInvoke:
		fmt.Fprintf(&buf, "invoke %s %d %d", in.Callee, in.Args, in.Results)
	case OpIALoad, OpIAStore:
		buf.WriteString(in.Op.String())
		if in.Level != Unchecked {
			fmt.Fprintf(&buf, " %s", in.Level)
		}
	default:
		buf.WriteString(in.Op.String())
	}
	return buf.String()
}

func (in *Instr) String() string {
	return in.Format(func(b BlockID) string { return fmt.Sprintf("B%d", b) })
}
