package ehabi

import (
	"encoding/binary"
	"fmt"
)

// MemoryReader is like io.ReaderAt, but the offset is a target address.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// CodeRegion answers whether a program counter belongs to the code the
// unwind index was generated for.
type CodeRegion interface {
	Contains(pc uint32) bool
}

// AddrRange is the half open address range [Start, End).
type AddrRange struct {
	Start, End uint32
}

// Contains returns true if Start <= pc < End.
func (r AddrRange) Contains(pc uint32) bool {
	return pc >= r.Start && pc < r.End
}

func (r AddrRange) String() string {
	return fmt.Sprintf("[%#08x, %#08x)", r.Start, r.End)
}

// Section is the contents of a linked section together with the address it
// is loaded at. Every access is bounds checked against Data.
type Section struct {
	Addr  uint32
	Data  []byte
	Order binary.ByteOrder
}

func (s Section) order() binary.ByteOrder {
	if s.Order == nil {
		return binary.LittleEndian
	}
	return s.Order
}

// Size returns the size of the section in bytes.
func (s Section) Size() uint32 {
	return uint32(len(s.Data))
}

// Contains returns true if addr is inside the section.
func (s Section) Contains(addr uint32) bool {
	return addr-s.Addr < s.Size()
}

// Word returns the 32 bit word at addr.
func (s Section) Word(addr uint32) (uint32, error) {
	off := addr - s.Addr
	if !s.Contains(addr) || uint64(off)+4 > uint64(len(s.Data)) {
		return 0, fmt.Errorf("%w: word at %#08x outside of section at %#08x (size %#x)", ErrCorruptTable, addr, s.Addr, len(s.Data))
	}
	return s.order().Uint32(s.Data[off:]), nil
}

// Tail returns the part of the section that starts at addr.
func (s Section) Tail(addr uint32) (Section, error) {
	if !s.Contains(addr) {
		return Section{}, fmt.Errorf("%w: address %#08x outside of section at %#08x (size %#x)", ErrCorruptTable, addr, s.Addr, len(s.Data))
	}
	return Section{Addr: addr, Data: s.Data[addr-s.Addr:], Order: s.Order}, nil
}

// ReadMemory implements MemoryReader over the section contents.
func (s Section) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < uint64(s.Addr) || addr+uint64(len(buf)) > uint64(s.Addr)+uint64(len(s.Data)) {
		return 0, fmt.Errorf("read of %d bytes at %#x outside of section at %#08x (size %#x)", len(buf), addr, s.Addr, len(s.Data))
	}
	return copy(buf, s.Data[addr-uint64(s.Addr):]), nil
}
