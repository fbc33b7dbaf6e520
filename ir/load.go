package ir

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// methodDoc is the YAML form of a Method.
//
//	name: sum
//	maxlocals: 3
//	blocks:
//	  - label: head
//	    code: [iload 1, aload 0, arraylength, if_icmpge done]
//	    next: body   # defaults to the following block
//	exceptions:
//	  - {start: body, end: body, handler: catch, type: ArrayIndexOutOfBounds}
type methodDoc struct {
	Name       string         `yaml:"name"`
	MaxLocals  int            `yaml:"maxlocals"`
	Blocks     []blockDoc     `yaml:"blocks"`
	Exceptions []exceptionDoc `yaml:"exceptions"`
}

type blockDoc struct {
	Label string   `yaml:"label"`
	Code  []string `yaml:"code"`
	Next  string   `yaml:"next"` // "-" for none.
}

// exceptionDoc refers to blocks by label (end inclusive) or, when PCs is
// given, to raw instruction indices (start, end exclusive, handler).
type exceptionDoc struct {
	Start   string `yaml:"start"`
	End     string `yaml:"end"`
	Handler string `yaml:"handler"`
	Type    string `yaml:"type"`
	PCs     []int  `yaml:"pcs"`
}

// LoadFile reads a YAML method description from path.
func LoadFile(path string) (*Method, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return m, nil
}

// Load reads a YAML method description. The exception table of the result
// is left raw, keyed by instruction index.
func Load(r io.Reader) (*Method, error) {
	var doc methodDoc
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode method")
	}
	return doc.build()
}

func (doc *methodDoc) build() (*Method, error) {
	m := NewMethod(doc.Name, doc.MaxLocals)
	labels := make(map[string]BlockID)
	for i, bd := range doc.Blocks {
		b := m.NewBlock()
		b.Label = bd.Label
		if b.Label == "" {
			b.Label = fmt.Sprintf("B%d", i)
		}
		if _, dup := labels[b.Label]; dup {
			return nil, errors.Errorf("duplicate label %q", b.Label)
		}
		labels[b.Label] = b.ID
	}
	lookup := func(l string) (BlockID, bool) {
		id, ok := labels[l]
		return id, ok
	}
	for i, bd := range doc.Blocks {
		b := m.Blocks[i]
		for j, src := range bd.Code {
			in, err := ParseInstr(src, lookup)
			if err != nil {
				return nil, errors.Wrapf(err, "block %s", b.Label)
			}
			if in.IsTerminator() && j != len(bd.Code)-1 {
				return nil, errors.Errorf("block %s: %q must end the block", b.Label, src)
			}
			b.Append(in)
		}
		switch bd.Next {
		case "":
			t := b.Terminator()
			if (t == nil || t.FallsThrough() || t.Op == OpJSR) && i+1 < len(doc.Blocks) {
				b.Next = BlockID(i + 1)
			}
		case "-":
		default:
			id, ok := labels[bd.Next]
			if !ok {
				return nil, errors.Wrapf(ErrUnknownLabel, "next %q of block %s", bd.Next, b.Label)
			}
			b.Next = id
		}
	}
	m.NumberPCs()
	for _, ed := range doc.Exceptions {
		raw, err := ed.raw(m, labels)
		if err != nil {
			return nil, err
		}
		m.RawExceptions = append(m.RawExceptions, raw)
	}
	return m, nil
}

func (ed exceptionDoc) raw(m *Method, labels map[string]BlockID) (RawEntry, error) {
	if len(ed.PCs) > 0 {
		if len(ed.PCs) != 3 {
			return RawEntry{}, errors.Errorf("exception pcs %v: want [start end handler]", ed.PCs)
		}
		return RawEntry{StartPC: ed.PCs[0], EndPC: ed.PCs[1], HandlerPC: ed.PCs[2], CatchType: ed.Type}, nil
	}
	var ids [3]BlockID
	for i, l := range []string{ed.Start, ed.End, ed.Handler} {
		id, ok := labels[l]
		if !ok {
			return RawEntry{}, errors.Wrapf(ErrUnknownLabel, "exception range %q", l)
		}
		ids[i] = id
	}
	last := m.Blocks[ids[1]]
	return RawEntry{
		StartPC:   m.Blocks[ids[0]].PC,
		EndPC:     last.PC + len(last.Instrs),
		HandlerPC: m.Blocks[ids[2]].PC,
		CatchType: ed.Type,
	}, nil
}
