package image

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/armbt/pkg/ehabi"
	"github.com/go-delve/armbt/pkg/elfwriter"
)

const (
	textAddr  = 0x1000
	exidxAddr = 0x3000
)

// exidx encodes one inline "pop {r4, lr}; finish" entry per function.
func exidx(funcs ...uint32) []byte {
	buf := make([]byte, 8*len(funcs))
	for i, fn := range funcs {
		slot := uint32(exidxAddr + 8*i)
		binary.LittleEndian.PutUint32(buf[8*i:], ehabi.EncodePrel31(int32(fn-slot)))
		binary.LittleEndian.PutUint32(buf[8*i+4:], 0x80a8b0b0)
	}
	return buf
}

func testELF() *elfwriter.File {
	return &elfwriter.File{
		Header: elf.FileHeader{
			Class:   elf.ELFCLASS32,
			Data:    elf.ELFDATA2LSB,
			Type:    elf.ET_EXEC,
			Machine: elf.EM_ARM,
			Entry:   textAddr,
		},
		Sections: []elfwriter.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: textAddr, Align: 4, Data: make([]byte, 0x400)},
			{Name: exidxName, Type: SHT_ARM_EXIDX, Flags: elf.SHF_ALLOC | elf.SHF_LINK_ORDER, Addr: exidxAddr, Align: 4, Link: ".text", Data: exidx(0x1000, 0x1100, 0x1200)},
			{Name: ".data", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x4000, Align: 4, Data: []byte{1, 2, 3, 4}},
		},
		Symbols: []elfwriter.Symbol{
			{Name: "$a", Value: textAddr, Type: elf.STT_NOTYPE, Bind: elf.STB_LOCAL, Section: ".text"},
			{Name: "main", Value: 0x1000, Size: 0x100, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"},
			{Name: "memcpy", Value: 0x1100, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"},
			{Name: "memset", Value: 0x1201, Size: 0x20, Type: elf.STT_FUNC, Bind: elf.STB_LOCAL, Section: ".text"},
			{Name: "putchar", Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL},
		},
	}
}

func encode(t *testing.T, ef *elfwriter.File) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := ef.WriteTo(&buf)
	require.NoError(t, err)
	return buf.Bytes()
}

func load(t *testing.T, ef *elfwriter.File) *Image {
	t.Helper()
	f, err := elf.NewFile(bytes.NewReader(encode(t, ef)))
	require.NoError(t, err)
	img, err := Load(f, 16)
	require.NoError(t, err)
	return img
}

func TestLoad(t *testing.T) {
	img := load(t, testELF())
	assert.Equal(t, uint32(textAddr), img.Entry)
	assert.Equal(t, ehabi.AddrRange{Start: 0x1000, End: 0x1400}, img.Text)
	assert.Equal(t, 3, img.Tables.Index.Len())
	assert.Equal(t, uint32(exidxAddr), img.Tables.Index.Addr())
	assert.Empty(t, img.Tables.Extab.Data)

	// putchar is absolute and not a function of the image
	require.Len(t, img.Functions, 3)
	assert.Equal(t, Function{Name: "main", Entry: 0x1000, End: 0x1100}, img.Functions[0])
	assert.Equal(t, Function{Name: "memcpy", Entry: 0x1100, End: 0x1200}, img.Functions[1])
	assert.Equal(t, Function{Name: "memset", Entry: 0x1200, End: 0x1220, Thumb: true}, img.Functions[2])
}

func TestLoadErrors(t *testing.T) {
	ef := testELF()
	ef.Sections = append(ef.Sections[:1], ef.Sections[2:]...)
	f, err := elf.NewFile(bytes.NewReader(encode(t, ef)))
	require.NoError(t, err)
	_, err = Load(f, 0)
	assert.True(t, errors.Is(err, ErrNoUnwindIndex))

	ef = testELF()
	ef.Header.Machine = elf.EM_AARCH64
	f, err = elf.NewFile(bytes.NewReader(encode(t, ef)))
	require.NoError(t, err)
	_, err = Load(f, 0)
	assert.Error(t, err)

	ef = testELF()
	ef.Sections[1].Data = ef.Sections[1].Data[:12]
	f, err = elf.NewFile(bytes.NewReader(encode(t, ef)))
	require.NoError(t, err)
	_, err = Load(f, 0)
	assert.True(t, errors.Is(err, ehabi.ErrCorruptTable))
}

func TestTextSymbols(t *testing.T) {
	ef := testELF()
	ef.Symbols = append(ef.Symbols,
		elfwriter.Symbol{Name: "_stext", Value: 0x1100, Bind: elf.STB_GLOBAL, Section: ".text"},
		elfwriter.Symbol{Name: "_etext", Value: 0x1300, Bind: elf.STB_GLOBAL, Section: ".text"})
	img := load(t, ef)
	assert.Equal(t, ehabi.AddrRange{Start: 0x1100, End: 0x1300}, img.Text)
}

func TestSymbolize(t *testing.T) {
	img := load(t, testELF())

	for _, tc := range []struct {
		addr uint32
		name string
		off  uint32
	}{
		{0x1000, "main", 0},
		{0x10fc, "main", 0xfc},
		{0x1100, "memcpy", 0},
		{0x1204, "memset", 4},
		{0x1220, "", 0},
		{0x0ffc, "", 0},
	} {
		// twice, the second answer comes from the cache
		for i := 0; i < 2; i++ {
			fn, off, ok := img.Symbolize(tc.addr)
			if tc.name == "" {
				assert.False(t, ok, "%#x", tc.addr)
				assert.Nil(t, fn)
				continue
			}
			require.True(t, ok, "%#x", tc.addr)
			assert.Equal(t, tc.name, fn.Name)
			assert.Equal(t, tc.off, off)
		}
	}
	assert.Equal(t, "main+0x10/0x100", img.Symbol(0x1010))
	assert.Equal(t, "?", img.Symbol(0x2000))
}

func TestLookupFunc(t *testing.T) {
	img := load(t, testELF())
	fn, ok := img.LookupFunc("memcpy")
	require.True(t, ok)
	assert.Equal(t, uint32(0x1100), fn.Entry)
	_, ok = img.LookupFunc("mem")
	assert.False(t, ok)

	var names []string
	for _, fn := range img.FuncsWithPrefix("mem") {
		names = append(names, fn.Name)
	}
	assert.Equal(t, []string{"memcpy", "memset"}, names)
	assert.Empty(t, img.FuncsWithPrefix("x"))
}

func TestReadMemory(t *testing.T) {
	img := load(t, testELF())
	buf := make([]byte, 4)
	_, err := img.ReadMemory(buf, 0x4000)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, buf)
	assert.True(t, img.Contains(exidxAddr, 24))
	_, err = img.ReadMemory(buf, 0x4002)
	assert.Error(t, err)
}

func TestUnwinder(t *testing.T) {
	img := load(t, testELF())
	stack := &ehabi.Section{Addr: 0x80000ff0, Data: make([]byte, 16)}
	binary.LittleEndian.PutUint32(stack.Data[4:], 0x1104)
	u, err := img.Unwinder(stack, 0x1000)
	require.NoError(t, err)

	frame := ehabi.Frame{PC: 0x1204, SP: 0x80000ff0}
	require.NoError(t, u.Step(&frame))
	assert.Equal(t, uint32(0x1104), frame.PC)
	assert.Equal(t, uint32(0x80000ff8), frame.SP)
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "barebox")
	require.NoError(t, os.WriteFile(path, encode(t, testELF()), 0o600))
	img, err := Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, path, img.Path)
	assert.Contains(t, img.String(), "3 unwind entries")
	require.NoError(t, img.Close())
	require.NoError(t, img.Close())

	_, err = Open(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}
