// Package memdump provides memory readers over RAM dumps and ELF
// segments, used to feed the unwinder the stack words it pops.
package memdump

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Segment is a contiguous range of target memory.
type Segment struct {
	Addr uint64
	Data []byte
}

// Contains returns true if the n bytes at addr are inside the segment.
func (s *Segment) Contains(addr uint64, n int) bool {
	return addr >= s.Addr && addr+uint64(n) <= s.Addr+uint64(len(s.Data))
}

// End returns the address following the last byte of the segment.
func (s *Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

// ReadMemory is just like io.ReaderAt.ReadAt.
func (s *Segment) ReadMemory(buf []byte, addr uint64) (int, error) {
	if !s.Contains(addr, len(buf)) {
		return 0, &UnmappedError{Addr: addr, Len: len(buf)}
	}
	return copy(buf, s.Data[addr-s.Addr:]), nil
}

// UnmappedError is returned when reading memory that is not part of any
// segment.
type UnmappedError struct {
	Addr uint64
	Len  int
}

func (err *UnmappedError) Error() string {
	return fmt.Sprintf("could not read %d bytes at %#x: address not mapped", err.Len, err.Addr)
}

// Dump is a RAM dump file loaded at a base address.
type Dump struct {
	Segment
	Path  string
	unmap func() error
}

// Open maps the file at path read-only, as the memory found at base.
func Open(path string, base uint64) (*Dump, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	fi, err := fh.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("memory dump %s is empty", path)
	}
	data, unmap, err := mapFile(fh, fi.Size())
	if err != nil {
		return nil, fmt.Errorf("could not map %s: %w", path, err)
	}
	return &Dump{Segment: Segment{Addr: base, Data: data}, Path: path, unmap: unmap}, nil
}

// Close releases the memory backing the dump.
func (d *Dump) Close() error {
	if d.unmap == nil {
		return nil
	}
	err := d.unmap()
	d.unmap = nil
	d.Data = nil
	return err
}

// ParseSpec parses a dump specification of the form path@address. The
// address is hexadecimal with an optional 0x prefix.
func ParseSpec(spec string) (path string, base uint64, err error) {
	i := strings.LastIndexByte(spec, '@')
	if i <= 0 || i == len(spec)-1 {
		return "", 0, fmt.Errorf("malformed memory dump %q, expected file@address", spec)
	}
	addr := strings.TrimPrefix(strings.ToLower(spec[i+1:]), "0x")
	base, err = strconv.ParseUint(addr, 16, 64)
	if err != nil {
		return "", 0, fmt.Errorf("malformed address in memory dump %q: %w", spec, err)
	}
	return spec[:i], base, nil
}

// MemoryReader is the interface satisfied by everything Composite reads
// from.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
	Contains(addr uint64, n int) bool
}

// Composite reads from the first of its regions that contains the
// requested range.
type Composite []MemoryReader

// ReadMemory is just like io.ReaderAt.ReadAt.
func (c Composite) ReadMemory(buf []byte, addr uint64) (int, error) {
	for _, r := range c {
		if r.Contains(addr, len(buf)) {
			return r.ReadMemory(buf, addr)
		}
	}
	return 0, &UnmappedError{Addr: addr, Len: len(buf)}
}

// Contains returns true if any region contains the range.
func (c Composite) Contains(addr uint64, n int) bool {
	for _, r := range c {
		if r.Contains(addr, n) {
			return true
		}
	}
	return false
}
