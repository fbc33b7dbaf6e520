package ir

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownOp    = errors.New("unknown instruction")
	ErrBadOperand   = errors.New("bad operand")
	ErrUnknownLabel = errors.New("unknown label")
)

// ParseInstr parses the assembler form of an instruction, as written by
// Instr.Format. Block references are resolved through label.
func ParseInstr(s string, label func(string) (BlockID, bool)) (*Instr, error) {
	f := strings.Fields(s)
	if len(f) == 0 {
		return nil, errors.Wrapf(ErrUnknownOp, "empty instruction")
	}
	op, args := f[0], f[1:]
	p := &asmParser{src: s, args: args, label: label}

	var in *Instr
	switch {
	case op == "iconst":
		in = IConst(p.int(0))
	case op == "lconst":
		in = LConst(p.int(0))
	case op == "iload":
		in = ILoad(p.slot(0))
	case op == "lload":
		in = LLoad(p.slot(0))
	case op == "aload":
		in = ALoad(p.slot(0))
	case op == "istore":
		in = IStore(p.slot(0))
	case op == "lstore":
		in = LStore(p.slot(0))
	case op == "astore":
		in = AStore(p.slot(0))
	case op == "ret":
		in = Ret(p.slot(0))
	case op == "iinc":
		in = IInc(p.slot(0), p.int(1))
	case op == "goto":
		in = Goto(p.target(0))
	case op == "jsr":
		in = JSR(p.target(0))
	case op == "ifnull":
		in = IfNull(p.target(0))
	case op == "ifnonnull":
		in = &Instr{Op: OpIfNonNull, Target: p.target(0)}
	case strings.HasPrefix(op, "if_icmp"):
		c, ok := parseCond(strings.TrimPrefix(op, "if_icmp"))
		if !ok {
			return nil, errors.Wrapf(ErrUnknownOp, "%q", s)
		}
		in = IfICmp(c, p.target(0))
	case strings.HasPrefix(op, "if") && len(op) == 4:
		c, ok := parseCond(op[2:])
		if !ok {
			return nil, errors.Wrapf(ErrUnknownOp, "%q", s)
		}
		in = If(c, p.target(0))
	case op == "tableswitch":
		// tableswitch low T0 T1 ... default D
		in = &Instr{Op: OpTableSwitch, Low: p.int(0)}
		i := 1
		for ; i < len(args) && args[i] != "default"; i++ {
			in.Targets = append(in.Targets, p.target(i))
		}
		in.Target = p.target(i + 1)
	case op == "lookupswitch":
		// lookupswitch k0:T0 k1:T1 ... default D
		in = &Instr{Op: OpLookupSwitch}
		i := 0
		for ; i < len(args) && args[i] != "default"; i++ {
			kv := strings.SplitN(args[i], ":", 2)
			if len(kv) != 2 {
				p.fail(i)
				break
			}
			k, err := strconv.ParseInt(kv[0], 10, 64)
			if err != nil {
				p.fail(i)
				break
			}
			t, ok := label(kv[1])
			if !ok {
				p.err = errors.Wrapf(ErrUnknownLabel, "%q in %q", kv[1], s)
				break
			}
			in.Keys = append(in.Keys, k)
			in.Targets = append(in.Targets, t)
		}
		in.Target = p.target(i + 1)
	case op == "invoke":
		in = Invoke(p.word(0), int(p.int(1)), int(p.int(2)))
	case op == "iaload" || op == "iastore":
		in = Simple(OpIALoad)
		if op == "iastore" {
			in = Simple(OpIAStore)
		}
		if len(args) > 0 {
			l, ok := parseLevel(args[0])
			if !ok {
				p.fail(0)
			}
			in.Level = l
		}
	default:
		o, ok := plainOps[op]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownOp, "%q", s)
		}
		in = Simple(o)
	}
	if p.err != nil {
		return nil, p.err
	}
	return in, nil
}

// plainOps are the opcodes without operands.
var plainOps = func() map[string]Opcode {
	ops := make(map[string]Opcode)
	for _, o := range []Opcode{OpNop, OpIAdd, OpISub, OpIMul, OpIDiv, OpINeg, OpLAdd,
		OpI2L, OpL2I, OpArrayLength, OpNewArray, OpPop, OpPop2, OpDup, OpDupX1,
		OpDupX2, OpDup2, OpSwap, OpReturn, OpIReturn, OpAThrow} {
		ops[o.String()] = o
	}
	return ops
}()

type asmParser struct {
	src   string
	args  []string
	label func(string) (BlockID, bool)
	err   error
}

func (p *asmParser) fail(i int) {
	if p.err == nil {
		p.err = errors.Wrapf(ErrBadOperand, "operand %d of %q", i, p.src)
	}
}

func (p *asmParser) word(i int) string {
	if i >= len(p.args) {
		p.fail(i)
		return ""
	}
	return p.args[i]
}

func (p *asmParser) int(i int) int64 {
	w := p.word(i)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseInt(w, 10, 64)
	if err != nil {
		p.fail(i)
	}
	return v
}

func (p *asmParser) slot(i int) int {
	v := p.int(i)
	if v < 0 {
		p.fail(i)
	}
	return int(v)
}

func (p *asmParser) target(i int) BlockID {
	w := p.word(i)
	if p.err != nil {
		return NoBlock
	}
	t, ok := p.label(w)
	if !ok {
		p.err = errors.Wrapf(ErrUnknownLabel, "%q in %q", w, p.src)
		return NoBlock
	}
	return t
}
