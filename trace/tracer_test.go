package trace

import (
	"testing"

	"github.com/nickng/bcelim/ir"
)

func block(instrs ...*ir.Instr) *ir.Block {
	return &ir.Block{Instrs: instrs, Next: ir.NoBlock}
}

func TestTraceIndex(t *testing.T) {
	tests := []struct {
		name string
		b    *ir.Block
		want Trace
	}{
		{"const", block(ir.ALoad(0), ir.IConst(3), ir.IALoad()), IntConst{Value: 3}},
		{"var", block(ir.ALoad(0), ir.ILoad(1), ir.IALoad()), IntVar{Var: 1, LoadAt: 1}},
		{"var plus const", block(ir.ALoad(0), ir.ILoad(1), ir.IConst(2), ir.Simple(ir.OpIAdd), ir.IALoad()),
			IntVar{Var: 1, Offset: 2, LoadAt: 1}},
		{"const plus var", block(ir.ALoad(0), ir.IConst(2), ir.ILoad(1), ir.Simple(ir.OpIAdd), ir.IALoad()),
			IntVar{Var: 1, Offset: 2, LoadAt: 2}},
		{"var minus const", block(ir.ALoad(0), ir.ILoad(1), ir.IConst(1), ir.Simple(ir.OpISub), ir.IALoad()),
			IntVar{Var: 1, Offset: -1, LoadAt: 1}},
		{"const minus var", block(ir.ALoad(0), ir.IConst(9), ir.ILoad(1), ir.Simple(ir.OpISub), ir.IALoad()),
			IntVar{Var: 1, Offset: 9, Neg: true, LoadAt: 2}},
		{"length minus one", block(ir.ALoad(0), ir.ALoad(0), ir.ArrayLength(), ir.IConst(1), ir.Simple(ir.OpISub), ir.IALoad()),
			ArrayLen{Array: 0, Offset: -1}},
		{"var plus var", block(ir.ALoad(0), ir.ILoad(1), ir.ILoad(2), ir.Simple(ir.OpIAdd), ir.IALoad()), Unknown{}},
		{"product", block(ir.ALoad(0), ir.ILoad(1), ir.IConst(2), ir.Simple(ir.OpIMul), ir.IALoad()), Unknown{}},
		{"through store", block(ir.ALoad(0), ir.ILoad(1), ir.IConst(7), ir.IStore(3), ir.IALoad()), IntVar{Var: 1, LoadAt: 1}},
		{"through swap", block(ir.ILoad(1), ir.ALoad(0), ir.Simple(ir.OpSwap), ir.IALoad()), IntVar{Var: 1, LoadAt: 0}},
		{"through dup", block(ir.ALoad(0), ir.ILoad(1), ir.Simple(ir.OpDup), ir.IStore(2), ir.IALoad()), IntVar{Var: 1, LoadAt: 1}},
		{"long below", block(ir.ALoad(0), ir.ILoad(1), ir.LConst(5), ir.Simple(ir.OpPop2), ir.IALoad()), IntVar{Var: 1, LoadAt: 1}},
		{"from long", block(ir.ALoad(0), ir.LLoad(1), ir.Simple(ir.OpL2I), ir.IALoad()), Unknown{}},
		{"block start", block(ir.ALoad(0), ir.Simple(ir.OpSwap), ir.IALoad()), Unknown{}},
		{"call", block(ir.ALoad(0), ir.ILoad(1), ir.Invoke("f", 0, 0), ir.IALoad()), Unknown{}},
	}
	tr := New(0)
	for _, test := range tests {
		idx := len(test.b.Instrs) - 1
		if got := tr.Operand(test.b, idx, 0); got != test.want {
			t.Errorf("%s: trace of index want %v got %v", test.name, test.want, got)
		}
	}
}

func TestTraceArray(t *testing.T) {
	tr := New(0)
	b := block(ir.ALoad(4), ir.ILoad(1), ir.IConst(0), ir.IAStore())
	if want, got := (ArrayVar{Var: 4}), tr.Operand(b, 3, 2); got != want {
		t.Errorf("array of iastore want %v got %v", want, got)
	}
	if want, got := (IntVar{Var: 1, LoadAt: 1}), tr.Operand(b, 3, 1); got != want {
		t.Errorf("index of iastore want %v got %v", want, got)
	}
	// dup_x1 places a copy of the top below the second value.
	b = block(ir.ALoad(0), ir.ILoad(1), ir.Simple(ir.OpDupX1), ir.Simple(ir.OpPop), ir.Simple(ir.OpPop))
	if want, got := (IntVar{Var: 1, LoadAt: 1}), tr.Trace(b, 2, 2); got != want {
		t.Errorf("dup_x1 copy want %v got %v", want, got)
	}
	if want, got := (ArrayVar{Var: 0}), tr.Trace(b, 2, 1); got != want {
		t.Errorf("dup_x1 middle want %v got %v", want, got)
	}
}

func TestTraceDepthLimit(t *testing.T) {
	instrs := []*ir.Instr{ir.ALoad(0), ir.ILoad(1)}
	for i := 0; i < 10; i++ {
		instrs = append(instrs, ir.Nop())
	}
	instrs = append(instrs, ir.IALoad())
	b := block(instrs...)
	idx := len(instrs) - 1
	if got := New(5).Operand(b, idx, 0); got != (Unknown{}) {
		t.Errorf("trace beyond limit should be unknown, got %v", got)
	}
	if want, got := (IntVar{Var: 1, LoadAt: 1}), New(20).Operand(b, idx, 0); got != want {
		t.Errorf("trace within limit want %v got %v", want, got)
	}
}

func TestTraceString(t *testing.T) {
	for want, tr := range map[string]Trace{
		"?":           Unknown{},
		"-v2+4":       IntVar{Var: 2, Offset: 4, Neg: true},
		"a0.length-1": ArrayLen{Array: 0, Offset: -1},
		"v1":          IntVar{Var: 1},
		"-3":          IntConst{Value: -3},
		"a5":          ArrayVar{Var: 5},
	} {
		if got := tr.String(); got != want {
			t.Errorf("want %q got %q", want, got)
		}
	}
}
