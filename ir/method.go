// Package ir defines the stack-machine intermediate representation consumed
// and rewritten by the bounds check elimination pass.
//
// A Method owns an arena of Blocks addressed by BlockID. Blocks are never
// freed; the arena order is also the layout order used by exception ranges.
// Control falls through from a block to its Next block explicitly, so
// inserting blocks never changes the meaning of existing ones.
package ir

import "fmt"

// Flag is a set of block-scoped markers.
type Flag uint8

const (
	FlagInLoop    Flag = 1 << iota // Member of an analysed loop body.
	FlagInHandler                  // Part of a protecting exception handler.
	FlagGuard                      // Synthesized guard block.
	FlagFallback                   // Unoptimized duplicate of a loop or handler.
)

// Block is a basic block.
type Block struct {
	ID     BlockID
	Label  string // Optional name, used by the printer and the loader.
	PC     int    // Instruction index of Instrs[0], -1 for synthesized blocks.
	Instrs []*Instr
	Next   BlockID // Fall-through successor (or jsr return point).
	Flags  Flag
}

// Has reports whether all flags in f are set on b.
func (b *Block) Has(f Flag) bool { return b.Flags&f == f }

// Terminator returns the last instruction if it is a terminator, or nil.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	if last := b.Instrs[len(b.Instrs)-1]; last.IsTerminator() {
		return last
	}
	return nil
}

// FallsThrough is true if control may continue at Next after b.
func (b *Block) FallsThrough() bool {
	if t := b.Terminator(); t != nil {
		return t.FallsThrough() && b.Next != NoBlock
	}
	return b.Next != NoBlock
}

// Append adds instructions to b.
func (b *Block) Append(instrs ...*Instr) *Block {
	b.Instrs = append(b.Instrs, instrs...)
	return b
}

// Method is the compilation unit the pass works on.
type Method struct {
	Name      string
	MaxLocals int
	Entry     BlockID
	Blocks    []*Block // Arena, indexed by BlockID.

	// RawExceptions is the exception table as produced by the bytecode
	// translator, keyed by instruction index. Resolve turns it into
	// Exceptions.
	RawExceptions []RawEntry
	Exceptions    []Entry
}

// NewMethod returns an empty method.
func NewMethod(name string, maxLocals int) *Method {
	return &Method{Name: name, MaxLocals: maxLocals}
}

// NewBlock allocates a new block at the end of the arena.
func (m *Method) NewBlock() *Block {
	b := &Block{ID: BlockID(len(m.Blocks)), PC: -1, Next: NoBlock}
	m.Blocks = append(m.Blocks, b)
	return b
}

// Block returns the block with the given id.
func (m *Method) Block(id BlockID) *Block {
	return m.Blocks[id]
}

// Valid is true if id refers to a block of m.
func (m *Method) Valid(id BlockID) bool {
	return id >= 0 && int(id) < len(m.Blocks)
}

// NumberPCs assigns consecutive instruction indices to all blocks in layout
// order and returns the code length.
func (m *Method) NumberPCs() int {
	pc := 0
	for _, b := range m.Blocks {
		b.PC = pc
		pc += len(b.Instrs)
	}
	return pc
}

// CodeLength returns the number of instructions covered by PC-numbered blocks.
func (m *Method) CodeLength() int {
	n := 0
	for _, b := range m.Blocks {
		if b.PC >= 0 && b.PC+len(b.Instrs) > n {
			n = b.PC + len(b.Instrs)
		}
	}
	return n
}

// ArrayAccesses calls f for every iaload/iastore in b.
func (b *Block) ArrayAccesses(f func(idx int, in *Instr)) {
	for i, in := range b.Instrs {
		if in.IsArrayAccess() {
			f(i, in)
		}
	}
}

// Clone returns a deep copy of m sharing nothing with the original.
func (m *Method) Clone() *Method {
	c := &Method{
		Name:          m.Name,
		MaxLocals:     m.MaxLocals,
		Entry:         m.Entry,
		Blocks:        make([]*Block, len(m.Blocks)),
		RawExceptions: append([]RawEntry(nil), m.RawExceptions...),
		Exceptions:    append([]Entry(nil), m.Exceptions...),
	}
	for i, b := range m.Blocks {
		nb := *b
		nb.Instrs = make([]*Instr, len(b.Instrs))
		for j, in := range b.Instrs {
			nb.Instrs[j] = in.Clone()
		}
		c.Blocks[i] = &nb
	}
	return c
}

// Levels returns the OptLevel of every array access, keyed by position.
func (m *Method) Levels() map[Pos]OptLevel {
	levels := make(map[Pos]OptLevel)
	for _, b := range m.Blocks {
		b.ArrayAccesses(func(i int, in *Instr) {
			levels[Pos{Block: b.ID, Index: i}] = in.Level
		})
	}
	return levels
}

// Pos identifies an instruction.
type Pos struct {
	Block BlockID
	Index int
}

func (p Pos) String() string {
	return fmt.Sprintf("B%d:%d", p.Block, p.Index)
}
