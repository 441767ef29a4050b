package ehabi

import (
	"fmt"
	"sort"

	"github.com/go-delve/armbt/pkg/logflags"
)

// CantUnwind is the EXIDX_CANTUNWIND value of an index entry instruction
// word. The value is fixed by the EHABI.
const CantUnwind uint32 = 1

// EntrySize is the size of an unwind index entry in bytes.
const EntrySize = 8

// negative prel31 offsets have bit 30 set once bit 31 is masked away.
const negativeOffsetMin = 0x40000000

// Entry is an entry of the unwind index.
type Entry struct {
	// Addr is the address of the entry itself.
	Addr uint32
	// Offset is the prel31 offset of the function start from Addr.
	Offset uint32
	// Insn is EXIDX_CANTUNWIND, a prel31 offset (from Addr+4) of the unwind
	// table or an inline personality routine 0 table.
	Insn uint32
}

// FuncAddr returns the address of the first instruction covered by the
// entry.
func (e Entry) FuncAddr() uint32 {
	return Prel31ToAddr(e.Addr, e.Offset)
}

// CantUnwind returns true if the compiler marked the function as not
// unwindable.
func (e Entry) CantUnwind() bool {
	return e.Insn == CantUnwind
}

// Inline returns true if the unwind program is stored in the entry itself.
func (e Entry) Inline() bool {
	return e.Insn&0xff000000 == 0x80000000
}

// TableAddr returns the address of the out of line unwind table referenced
// by the entry.
func (e Entry) TableAddr() (uint32, bool) {
	if e.Insn == CantUnwind || e.Insn&0x80000000 != 0 {
		return 0, false
	}
	return Prel31ToAddr(e.Addr+4, e.Insn), true
}

func (e Entry) String() string {
	switch {
	case e.CantUnwind():
		return fmt.Sprintf("%#08x: cantunwind", e.FuncAddr())
	case e.Inline():
		return fmt.Sprintf("%#08x: inline %#08x", e.FuncAddr(), e.Insn)
	}
	if addr, ok := e.TableAddr(); ok {
		return fmt.Sprintf("%#08x: table @%#08x", e.FuncAddr(), addr)
	}
	return fmt.Sprintf("%#08x: unknown %#08x", e.FuncAddr(), e.Insn)
}

// Index is a loaded .ARM.exidx section. It is immutable and safe for
// concurrent use.
type Index struct {
	sec    Section
	n      int
	origin int
}

// NewIndex validates sec and locates the origin of the index, the first
// entry with a non-negative function offset.
func NewIndex(sec Section) (*Index, error) {
	if sec.Addr%4 != 0 {
		return nil, fmt.Errorf("%w: index at %#08x is not word aligned", ErrCorruptTable, sec.Addr)
	}
	if len(sec.Data)%EntrySize != 0 {
		return nil, fmt.Errorf("%w: index size %#x is not a multiple of %d", ErrCorruptTable, len(sec.Data), EntrySize)
	}
	idx := &Index{sec: sec, n: len(sec.Data) / EntrySize}
	idx.origin = idx.findOrigin()
	if logflags.Index() {
		logflags.IndexLogger().Debugf("index at %#08x: %d entries, origin %d", sec.Addr, idx.n, idx.origin)
	}
	return idx, nil
}

// Addr returns the address of the first entry.
func (idx *Index) Addr() uint32 {
	return idx.sec.Addr
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return idx.n
}

// Origin returns the position of the first entry with a non-negative
// offset, Len() if all offsets are negative.
func (idx *Index) Origin() int {
	return idx.origin
}

// Section returns the section backing the index.
func (idx *Index) Section() Section {
	return idx.sec
}

func (idx *Index) slot(i int) uint32 {
	return idx.sec.Addr + uint32(i)*EntrySize
}

func (idx *Index) offset(i int) uint32 {
	return idx.sec.order().Uint32(idx.sec.Data[i*EntrySize:]) & prel31Mask
}

// Entry returns the i-th entry.
func (idx *Index) Entry(i int) Entry {
	off := i * EntrySize
	return Entry{
		Addr:   idx.slot(i),
		Offset: idx.offset(i),
		Insn:   idx.sec.order().Uint32(idx.sec.Data[off+4:]),
	}
}

// Entries returns all entries in address order.
func (idx *Index) Entries() []Entry {
	r := make([]Entry, idx.n)
	for i := range r {
		r[i] = idx.Entry(i)
	}
	return r
}

func (idx *Index) findOrigin() int {
	return sort.Search(idx.n, func(i int) bool {
		return idx.offset(i) < negativeOffsetMin
	})
}

// Lookup returns the entry covering pc, the last entry whose function
// address is not greater than pc.
//
// Offsets are only comparable as unsigned numbers within the same sign
// class, so the search is restricted to the entries before the origin
// when pc is below the index and to the ones after it otherwise.
func (idx *Index) Lookup(pc uint32) (Entry, error) {
	start, stop := idx.origin, idx.n
	if pc < idx.sec.Addr {
		start, stop = 0, idx.origin
	}
	if start >= stop {
		return Entry{}, &IndexNotFoundError{PC: pc}
	}

	// pc relative to the entry at start
	rel := (pc - idx.slot(start)) & prel31Mask

	for stop-start > 1 {
		mid := start + (stop-start)/2
		delta := uint32(mid-start) * EntrySize
		if rel-delta < idx.offset(mid) {
			stop = mid
		} else {
			rel -= delta
			start = mid
		}
	}

	if idx.offset(start) > rel {
		return Entry{}, &IndexNotFoundError{PC: pc}
	}
	return idx.Entry(start), nil
}
