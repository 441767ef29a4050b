// Package image loads the unwind tables, text bounds and function symbols
// of a 32-bit ARM ELF image.
package image

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/derekparker/trie"
	lru "github.com/hashicorp/golang-lru"

	"github.com/go-delve/armbt/pkg/ehabi"
	"github.com/go-delve/armbt/pkg/logflags"
	"github.com/go-delve/armbt/pkg/memdump"
)

// SHT_ARM_EXIDX is the section type of .ARM.exidx, missing from debug/elf.
const SHT_ARM_EXIDX = elf.SHT_LOPROC + 1

const (
	exidxName = ".ARM.exidx"
	extabName = ".ARM.extab"
)

// DefaultSymbolCacheSize is the number of symbolized addresses kept by an
// Image when no size is given.
const DefaultSymbolCacheSize = 1024

// ErrNoUnwindIndex is returned when loading an image without a .ARM.exidx
// section.
var ErrNoUnwindIndex = errors.New("no .ARM.exidx section")

// Function is a function symbol of the image.
type Function struct {
	Name       string
	Entry, End uint32
	// Thumb is true if the symbol value had bit 0 set.
	Thumb bool
}

// Contains returns true if pc is inside the function.
func (fn *Function) Contains(pc uint32) bool {
	return pc >= fn.Entry && pc < fn.End
}

// Image is a loaded ELF image.
type Image struct {
	Path      string
	Order     binary.ByteOrder
	Entry     uint32
	Tables    ehabi.Tables
	Text      ehabi.AddrRange
	Functions []Function // sorted by Entry

	names    *trie.Trie
	cache    *lru.Cache
	segments memdump.Composite
	closer   io.Closer
}

type symbolized struct {
	fn  *Function
	off uint32
}

// Open opens and loads the ELF file at path.
func Open(path string, cacheSize int) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	img, err := Load(f, cacheSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("could not load %s: %w", path, err)
	}
	img.Path = path
	img.closer = f
	return img, nil
}

// Load loads the image described by f. The caller keeps ownership of f.
func Load(f *elf.File, cacheSize int) (*Image, error) {
	if f.Class != elf.ELFCLASS32 {
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}
	if f.Machine != elf.EM_ARM {
		return nil, fmt.Errorf("unsupported machine %v", f.Machine)
	}
	if cacheSize <= 0 {
		cacheSize = DefaultSymbolCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	img := &Image{
		Order: f.ByteOrder,
		Entry: uint32(f.Entry),
		names: trie.New(),
		cache: cache,
	}
	log := logflags.ImageLogger()

	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 || sec.Type == elf.SHT_NOBITS || sec.Size == 0 {
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("could not read section %s: %w", sec.Name, err)
		}
		img.segments = append(img.segments, &memdump.Segment{Addr: sec.Addr, Data: data})
	}

	exidx := findSection(f, exidxName, SHT_ARM_EXIDX)
	if exidx == nil {
		return nil, ErrNoUnwindIndex
	}
	idxsec, err := img.section(exidx)
	if err != nil {
		return nil, err
	}
	img.Tables.Index, err = ehabi.NewIndex(idxsec)
	if err != nil {
		return nil, fmt.Errorf("bad %s section: %w", exidxName, err)
	}
	if extab := f.Section(extabName); extab != nil {
		img.Tables.Extab, err = img.section(extab)
		if err != nil {
			return nil, err
		}
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, err
	}
	img.loadFunctions(syms)
	img.Text = textRange(f, syms)

	if logflags.Image() {
		log.Debugf("text %s, %d index entries at %#08x, %d functions", img.Text, img.Tables.Index.Len(), img.Tables.Index.Addr(), len(img.Functions))
	}
	return img, nil
}

func findSection(f *elf.File, name string, typ elf.SectionType) *elf.Section {
	if sec := f.Section(name); sec != nil {
		return sec
	}
	for _, sec := range f.Sections {
		if sec.Type == typ {
			return sec
		}
	}
	return nil
}

func (img *Image) section(sec *elf.Section) (ehabi.Section, error) {
	data, err := sec.Data()
	if err != nil {
		return ehabi.Section{}, fmt.Errorf("could not read section %s: %w", sec.Name, err)
	}
	return ehabi.Section{Addr: uint32(sec.Addr), Data: data, Order: img.Order}, nil
}

func (img *Image) loadFunctions(syms []elf.Symbol) {
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF || sym.Section == elf.SHN_ABS {
			continue
		}
		fn := Function{
			Name:  sym.Name,
			Entry: uint32(sym.Value) &^ 1,
			Thumb: sym.Value&1 != 0,
		}
		fn.End = fn.Entry + uint32(sym.Size)
		img.Functions = append(img.Functions, fn)
	}
	sort.SliceStable(img.Functions, func(i, j int) bool {
		return img.Functions[i].Entry < img.Functions[j].Entry
	})
	// assembly routines are often emitted without a size
	for i := range img.Functions {
		fn := &img.Functions[i]
		if fn.End != fn.Entry {
			continue
		}
		if i+1 < len(img.Functions) {
			fn.End = img.Functions[i+1].Entry
		} else {
			fn.End = fn.Entry + 4
		}
	}
	for i := range img.Functions {
		img.names.Add(img.Functions[i].Name, i)
	}
}

// textRange returns the code region covered by the unwind index, bounded by
// the _stext and _etext symbols if present, by the executable sections
// otherwise.
func textRange(f *elf.File, syms []elf.Symbol) ehabi.AddrRange {
	var r ehabi.AddrRange
	var haveStart, haveEnd bool
	for _, sym := range syms {
		switch sym.Name {
		case "_stext":
			r.Start, haveStart = uint32(sym.Value), true
		case "_etext":
			r.End, haveEnd = uint32(sym.Value), true
		}
	}
	if haveStart && haveEnd && r.Start < r.End {
		return r
	}
	r = ehabi.AddrRange{}
	for _, sec := range f.Sections {
		if sec.Flags&elf.SHF_EXECINSTR == 0 || sec.Size == 0 {
			continue
		}
		start, end := uint32(sec.Addr), uint32(sec.Addr+sec.Size)
		if r.End == 0 || start < r.Start {
			r.Start = start
		}
		if end > r.End {
			r.End = end
		}
	}
	return r
}

// PCToFunc returns the function containing pc or nil.
func (img *Image) PCToFunc(pc uint32) *Function {
	i := sort.Search(len(img.Functions), func(i int) bool {
		return img.Functions[i].End > pc
	})
	if i < len(img.Functions) && img.Functions[i].Contains(pc) {
		return &img.Functions[i]
	}
	return nil
}

// Symbolize returns the function containing addr and the offset of addr
// from its entry point.
func (img *Image) Symbolize(addr uint32) (*Function, uint32, bool) {
	if v, ok := img.cache.Get(addr); ok {
		s := v.(symbolized)
		return s.fn, s.off, s.fn != nil
	}
	var s symbolized
	if fn := img.PCToFunc(addr); fn != nil {
		s = symbolized{fn: fn, off: addr - fn.Entry}
	}
	img.cache.Add(addr, s)
	return s.fn, s.off, s.fn != nil
}

// Symbol formats addr as name+offset/size, the way the kernel prints
// symbols in a backtrace.
func (img *Image) Symbol(addr uint32) string {
	fn, off, ok := img.Symbolize(addr)
	if !ok {
		return "?"
	}
	return fmt.Sprintf("%s+%#x/%#x", fn.Name, off, fn.End-fn.Entry)
}

// LookupFunc returns the function called name.
func (img *Image) LookupFunc(name string) (*Function, bool) {
	n, ok := img.names.Find(name)
	if !ok {
		return nil, false
	}
	return &img.Functions[n.Meta().(int)], true
}

// FuncsWithPrefix returns the functions whose name starts with prefix,
// sorted by address.
func (img *Image) FuncsWithPrefix(prefix string) []*Function {
	var r []*Function
	for _, name := range img.names.PrefixSearch(prefix) {
		if n, ok := img.names.Find(name); ok {
			r = append(r, &img.Functions[n.Meta().(int)])
		}
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Entry < r[j].Entry })
	return r
}

// ReadMemory reads the contents of the allocated sections of the image.
func (img *Image) ReadMemory(buf []byte, addr uint64) (int, error) {
	return img.segments.ReadMemory(buf, addr)
}

// Contains returns true if the n bytes at addr belong to an allocated
// section of the image.
func (img *Image) Contains(addr uint64, n int) bool {
	return img.segments.Contains(addr, n)
}

// Unwinder returns an unwinder over the tables of the image, popping stack
// words from stack.
func (img *Image) Unwinder(stack ehabi.MemoryReader, stackSize uint32) (*ehabi.Unwinder, error) {
	return ehabi.New(ehabi.Config{
		Tables:    img.Tables,
		Text:      img.Text,
		Stack:     stack,
		StackSize: stackSize,
	})
}

// String describes the image.
func (img *Image) String() string {
	return fmt.Sprintf("%s: entry %#08x, text %s, %d unwind entries", img.Path, img.Entry, img.Text, img.Tables.Index.Len())
}

// Close closes the underlying ELF file, if the image was opened by Open.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	err := img.closer.Close()
	img.closer = nil
	return err
}
