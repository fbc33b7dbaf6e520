package ir

import (
	"bytes"
	"fmt"
	"io"
)

// BlockName returns the printable name of block id.
func (m *Method) BlockName(id BlockID) string {
	if id == NoBlock {
		return "-"
	}
	if m.Valid(id) && m.Blocks[id].Label != "" {
		return m.Blocks[id].Label
	}
	return fmt.Sprintf("B%d", id)
}

func flagString(f Flag) string {
	var buf bytes.Buffer
	for _, fl := range []struct {
		f Flag
		s string
	}{{FlagInLoop, "loop"}, {FlagInHandler, "handler"}, {FlagGuard, "guard"}, {FlagFallback, "fallback"}} {
		if f&fl.f != 0 {
			if buf.Len() > 0 {
				buf.WriteByte(',')
			}
			buf.WriteString(fl.s)
		}
	}
	return buf.String()
}

// Fprint writes the assembler listing of m to w. Levels of array accesses are
// rendered through level, which may colourise them.
func Fprint(w io.Writer, m *Method, level func(OptLevel) string) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "method %s locals=%d entry=%s\n", m.Name, m.MaxLocals, m.BlockName(m.Entry))
	for _, b := range m.Blocks {
		fmt.Fprintf(&buf, "%s:", m.BlockName(b.ID))
		if b.PC >= 0 {
			fmt.Fprintf(&buf, " pc=%d", b.PC)
		}
		if b.Flags != 0 {
			fmt.Fprintf(&buf, " [%s]", flagString(b.Flags))
		}
		if b.FallsThrough() {
			fmt.Fprintf(&buf, " next=%s", m.BlockName(b.Next))
		}
		buf.WriteByte('\n')
		for _, in := range b.Instrs {
			if in.IsArrayAccess() && level != nil {
				fmt.Fprintf(&buf, "\t%s %s\n", in.Op, level(in.Level))
				continue
			}
			fmt.Fprintf(&buf, "\t%s\n", in.Format(m.BlockName))
		}
	}
	if len(m.Exceptions) > 0 {
		buf.WriteString("exceptions:\n")
		for _, e := range m.Exceptions {
			fmt.Fprintf(&buf, "\t%s..%s -> %s %s\n", m.BlockName(e.Start), m.BlockName(e.Last), m.BlockName(e.Handler), catchName(e.CatchType))
		}
	}
	for _, e := range m.RawExceptions {
		fmt.Fprintf(&buf, "\traw %d..%d -> %d %s\n", e.StartPC, e.EndPC, e.HandlerPC, catchName(e.CatchType))
	}
	_, err := w.Write(buf.Bytes())
	return err
}

func catchName(t string) string {
	if t == CatchAny {
		return "any"
	}
	return t
}

func (m *Method) String() string {
	var buf bytes.Buffer
	Fprint(&buf, m, nil)
	return buf.String()
}
