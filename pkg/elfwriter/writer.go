// elfwriter is a package to write small 32-bit ELF files, holding only the
// sections needed to unwind and symbolize a firmware image.
// This package is incomplete, only features needed by armbt are
// implemented, notably missing:
// - program headers
// - relocations

package elfwriter

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

const (
	ehsize    = 52
	phentsize = 32
	shentsize = 40
	symsize   = 16
)

// Section is a section of the output file.
type Section struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Addr  uint32
	Align uint32
	// Link is the name of the section referenced by sh_link.
	Link string
	Data []byte
	// Size is used instead of len(Data) for SHT_NOBITS sections.
	Size uint32
}

// Symbol is an entry of the output symbol table.
type Symbol struct {
	Name  string
	Value uint32
	Size  uint32
	Type  elf.SymType
	Bind  elf.SymBind
	// Section is the name of the section defining the symbol, empty for
	// absolute symbols.
	Section string
}

// File describes an ELF file to write. The .symtab, .strtab and .shstrtab
// sections are generated.
type File struct {
	Header   elf.FileHeader
	Flags    uint32
	Sections []Section
	Symbols  []Symbol
}

// Writer writes ELF files.
type Writer struct {
	w     io.Writer
	Err   error
	order binary.ByteOrder
	off   int64
}

func (w *Writer) Write(buf []byte) (int, error) {
	if w.Err != nil {
		return 0, w.Err
	}
	n, err := w.w.Write(buf)
	w.off += int64(n)
	w.Err = err
	return n, err
}

func (w *Writer) u16(n uint16) {
	var buf [2]byte
	w.order.PutUint16(buf[:], n)
	w.Write(buf[:])
}

func (w *Writer) u32(n uint32) {
	var buf [4]byte
	w.order.PutUint32(buf[:], n)
	w.Write(buf[:])
}

// padTo writes zeroes until the file is off bytes long.
func (w *Writer) padTo(off int64) {
	if off > w.off {
		w.Write(make([]byte, off-w.off))
	}
}

type strtab struct {
	data []byte
	idx  map[string]uint32
}

func newStrtab() *strtab {
	return &strtab{data: []byte{0}, idx: map[string]uint32{"": 0}}
}

func (t *strtab) add(s string) uint32 {
	if i, ok := t.idx[s]; ok {
		return i
	}
	i := uint32(len(t.data))
	t.data = append(append(t.data, s...), 0)
	t.idx[s] = i
	return i
}

func align(off int64, a uint32) int64 {
	if a <= 1 {
		return off
	}
	return (off + int64(a) - 1) &^ (int64(a) - 1)
}

// WriteTo writes the file to out.
func (f *File) WriteTo(out io.Writer) (int64, error) {
	if f.Header.Class != elf.ELFCLASS32 {
		return 0, errors.New("elfwriter: only ELFCLASS32 is supported")
	}
	w := &Writer{w: out}
	switch f.Header.Data {
	case elf.ELFDATA2LSB:
		w.order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		w.order = binary.BigEndian
	default:
		return 0, fmt.Errorf("elfwriter: unknown data encoding %v", f.Header.Data)
	}
	version := f.Header.Version
	if version == elf.EV_NONE {
		version = elf.EV_CURRENT
	}

	secIndex := make(map[string]int, len(f.Sections))
	for i := range f.Sections {
		secIndex[f.Sections[i].Name] = i + 1
	}

	symtab, strs, firstGlobal, err := f.symtab(w.order, secIndex)
	if err != nil {
		return 0, err
	}

	sections := append([]Section{}, f.Sections...)
	sections = append(sections,
		Section{Name: ".symtab", Type: elf.SHT_SYMTAB, Align: 4, Link: ".strtab", Data: symtab},
		Section{Name: ".strtab", Type: elf.SHT_STRTAB, Align: 1, Data: strs.data})
	secIndex[".symtab"] = len(sections) - 1
	secIndex[".strtab"] = len(sections)

	shstrtab := newStrtab()
	names := make([]uint32, len(sections)+1)
	for i := range sections {
		names[i] = shstrtab.add(sections[i].Name)
	}
	names[len(sections)] = shstrtab.add(".shstrtab")
	sections = append(sections, Section{Name: ".shstrtab", Type: elf.SHT_STRTAB, Align: 1, Data: shstrtab.data})

	// layout
	offs := make([]int64, len(sections))
	off := int64(ehsize)
	for i := range sections {
		if sections[i].Type != elf.SHT_NOBITS {
			off = align(off, sections[i].Align)
		}
		offs[i] = off
		if sections[i].Type != elf.SHT_NOBITS {
			off += int64(len(sections[i].Data))
		}
	}
	shoff := align(off, 4)

	// e_ident
	w.Write([]byte{0x7f, 'E', 'L', 'F', byte(f.Header.Class), byte(f.Header.Data), byte(version), byte(f.Header.OSABI), f.Header.ABIVersion, 0, 0, 0, 0, 0, 0, 0})

	w.u16(uint16(f.Header.Type))     // e_type
	w.u16(uint16(f.Header.Machine))  // e_machine
	w.u32(uint32(version))           // e_version
	w.u32(uint32(f.Header.Entry))    // e_entry
	w.u32(0)                         // e_phoff
	w.u32(uint32(shoff))             // e_shoff
	w.u32(f.Flags)                   // e_flags
	w.u16(ehsize)                    // e_ehsize
	w.u16(phentsize)                 // e_phentsize
	w.u16(0)                         // e_phnum
	w.u16(shentsize)                 // e_shentsize
	w.u16(uint16(len(sections) + 1)) // e_shnum
	w.u16(uint16(len(sections)))     // e_shstrndx

	for i := range sections {
		if sections[i].Type == elf.SHT_NOBITS {
			continue
		}
		w.padTo(offs[i])
		w.Write(sections[i].Data)
	}
	w.padTo(shoff)

	// null section header
	w.Write(make([]byte, shentsize))
	for i := range sections {
		s := &sections[i]
		size := uint32(len(s.Data))
		if s.Type == elf.SHT_NOBITS {
			size = s.Size
		}
		link := 0
		if s.Link != "" {
			var ok bool
			link, ok = secIndex[s.Link]
			if !ok {
				return w.off, fmt.Errorf("elfwriter: section %s links to unknown section %s", s.Name, s.Link)
			}
		}
		info, entsize := uint32(0), uint32(0)
		if s.Type == elf.SHT_SYMTAB {
			info, entsize = firstGlobal, symsize
		}
		w.u32(names[i])        // sh_name
		w.u32(uint32(s.Type))  // sh_type
		w.u32(uint32(s.Flags)) // sh_flags
		w.u32(s.Addr)          // sh_addr
		w.u32(uint32(offs[i])) // sh_offset
		w.u32(size)            // sh_size
		w.u32(uint32(link))    // sh_link
		w.u32(info)            // sh_info
		w.u32(s.Align)         // sh_addralign
		w.u32(entsize)         // sh_entsize
	}
	return w.off, w.Err
}

// symtab encodes the symbol table, local symbols first as required by the
// ELF specification, and returns the index of the first global symbol.
func (f *File) symtab(order binary.ByteOrder, secIndex map[string]int) ([]byte, *strtab, uint32, error) {
	syms := append([]Symbol{}, f.Symbols...)
	sort.SliceStable(syms, func(i, j int) bool {
		return syms[i].Bind == elf.STB_LOCAL && syms[j].Bind != elf.STB_LOCAL
	})

	strs := newStrtab()
	data := make([]byte, symsize*(len(syms)+1))
	firstGlobal := uint32(len(syms) + 1)
	for i, sym := range syms {
		shndx := uint16(elf.SHN_ABS)
		if sym.Section != "" {
			idx, ok := secIndex[sym.Section]
			if !ok {
				return nil, nil, 0, fmt.Errorf("elfwriter: symbol %s defined in unknown section %s", sym.Name, sym.Section)
			}
			shndx = uint16(idx)
		}
		if sym.Bind != elf.STB_LOCAL && firstGlobal > uint32(len(syms)) {
			firstGlobal = uint32(i + 1)
		}
		b := data[symsize*(i+1):]
		order.PutUint32(b[0:], strs.add(sym.Name))
		order.PutUint32(b[4:], sym.Value)
		order.PutUint32(b[8:], sym.Size)
		b[12] = elf.ST_INFO(sym.Bind, sym.Type)
		b[13] = 0
		order.PutUint16(b[14:], shndx)
	}
	return data, strs, firstGlobal, nil
}
