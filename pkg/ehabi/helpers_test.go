package ehabi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testIndexAddr = 0x3000
	testExtabAddr = 0x4000
	testStackAddr = 0x80000000
	testStackSize = 0x1000
)

var testText = AddrRange{Start: 0x1000, End: 0x2000}

// fn describes an index entry: either insn is used verbatim or, if tab is
// non zero, the entry points to the out of line table at tab.
type fn struct {
	addr uint32
	insn uint32
	tab  uint32
}

func indexSection(base uint32, fns []fn) Section {
	data := make([]byte, len(fns)*EntrySize)
	for i, f := range fns {
		slot := base + uint32(i*EntrySize)
		binary.LittleEndian.PutUint32(data[i*EntrySize:], EncodePrel31(int32(f.addr-slot)))
		insn := f.insn
		if f.tab != 0 {
			insn = EncodePrel31(int32(f.tab - (slot + 4)))
		}
		binary.LittleEndian.PutUint32(data[i*EntrySize+4:], insn)
	}
	return Section{Addr: base, Data: data}
}

func buildIndex(t *testing.T, base uint32, fns []fn) *Index {
	t.Helper()
	idx, err := NewIndex(indexSection(base, fns))
	require.NoError(t, err)
	return idx
}

// program packs unwind instruction bytes into words, most significant byte
// first, padding the last word with finish instructions.
func program(code ...byte) []byte {
	for len(code)%4 != 0 {
		code = append(code, opFinish)
	}
	out := make([]byte, len(code))
	for i := 0; i < len(code); i += 4 {
		w := uint32(code[i])<<24 | uint32(code[i+1])<<16 | uint32(code[i+2])<<8 | uint32(code[i+3])
		binary.LittleEndian.PutUint32(out[i:], w)
	}
	return out
}

// inline returns an index instruction word holding a personality routine 0
// program of up to three bytes.
func inline(code ...byte) uint32 {
	w := program(append([]byte{0x80}, code...)...)
	return binary.LittleEndian.Uint32(w)
}

func words(ws ...uint32) []byte {
	out := make([]byte, len(ws)*4)
	for i, w := range ws {
		binary.LittleEndian.PutUint32(out[i*4:], w)
	}
	return out
}

// newStack returns a testStackSize bytes stack at testStackAddr with ws
// stored starting at sp.
func newStack(sp uint32, ws ...uint32) Section {
	s := Section{Addr: testStackAddr, Data: make([]byte, testStackSize)}
	copy(s.Data[sp-testStackAddr:], words(ws...))
	return s
}

// newBlock returns a control block executing code with the given stack.
func newBlock(stack MemoryReader, code ...byte) *ControlBlock {
	w := program(code...)
	return &ControlBlock{
		stream: NewStream(w, binary.LittleEndian, len(w)/4, 3),
		stack:  stack,
		order:  binary.LittleEndian,
	}
}

func newUnwinder(t *testing.T, fns []fn, extab []byte, stack Section) *Unwinder {
	t.Helper()
	u, err := New(Config{
		Tables: Tables{
			Index: buildIndex(t, testIndexAddr, fns),
			Extab: Section{Addr: testExtabAddr, Data: extab},
		},
		Text:      testText,
		Stack:     stack,
		StackSize: testStackSize,
	})
	require.NoError(t, err)
	return u
}
