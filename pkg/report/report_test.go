package report

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-delve/armbt/pkg/ehabi"
	"github.com/go-delve/armbt/pkg/elfwriter"
	"github.com/go-delve/armbt/pkg/image"
)

func testImage(t *testing.T) *image.Image {
	t.Helper()
	text := make([]byte, 0x200)
	// bl at 0x1100, returning to 0x1104
	binary.LittleEndian.PutUint32(text[0x100:], 0xebfffffe)
	exidx := make([]byte, 8)
	binary.LittleEndian.PutUint32(exidx, ehabi.EncodePrel31(0x1000-0x3000))
	binary.LittleEndian.PutUint32(exidx[4:], ehabi.CantUnwind)

	ef := &elfwriter.File{
		Header: elf.FileHeader{Class: elf.ELFCLASS32, Data: elf.ELFDATA2LSB, Type: elf.ET_EXEC, Machine: elf.EM_ARM},
		Sections: []elfwriter.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x1000, Align: 4, Data: text},
			{Name: ".ARM.exidx", Type: image.SHT_ARM_EXIDX, Flags: elf.SHF_ALLOC, Addr: 0x3000, Align: 4, Link: ".text", Data: exidx},
		},
		Symbols: []elfwriter.Symbol{
			{Name: "start", Value: 0x1000, Size: 0x100, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"},
			{Name: "main", Value: 0x1100, Size: 0x80, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"},
			{Name: "thumb_fn", Value: 0x1181, Size: 0x80, Type: elf.STT_FUNC, Bind: elf.STB_GLOBAL, Section: ".text"},
		},
	}
	var buf bytes.Buffer
	_, err := ef.WriteTo(&buf)
	require.NoError(t, err)
	f, err := elf.NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	img, err := image.Load(f, 0)
	require.NoError(t, err)
	return img
}

func TestPrinter(t *testing.T) {
	img := testImage(t)
	var out bytes.Buffer
	p := NewPrinter(&out, img, Config{})
	require.NoError(t, p.Report(ehabi.Report{Where: 0x1010, From: 0x1104, SP: 0x80000ff0}))
	require.NoError(t, p.Report(ehabi.Report{Where: 0x1104, From: 0x500, SP: 0x80000ff8}))
	require.NoError(t, p.Done(2, nil))

	assert.Equal(t, "[<00001010>] (start+0x10/0x100) from [<00001104>] (main+0x4/0x80)\n"+
		"[<00001104>] (main+0x4/0x80) from [<00000500>] (?)\n", out.String())
}

func TestPrinterDisassemble(t *testing.T) {
	img := testImage(t)
	var out bytes.Buffer
	p := NewPrinter(&out, img, Config{Disassemble: true})
	require.NoError(t, p.Report(ehabi.Report{Where: 0x1010, From: 0x1104}))
	require.NoError(t, p.Report(ehabi.Report{Where: 0x1104, From: 0x1184}))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[1], "\t00001100:\tebfffffe\tbl"), lines[1])
	// thumb code is not disassembled
	assert.Equal(t, "\t00001180:\t00000000\t?", lines[3])
}

func TestPrinterColorAndDone(t *testing.T) {
	img := testImage(t)
	var out bytes.Buffer
	p := NewPrinter(&out, img, Config{Color: true})
	require.NoError(t, p.Report(ehabi.Report{Where: 0x1010, From: 0x1104}))
	assert.Contains(t, out.String(), ansiAddr+"[<00001010>]"+ansiReset)
	assert.Contains(t, out.String(), "("+ansiSymbol+"start+0x10/0x100"+ansiReset+")")

	out.Reset()
	require.NoError(t, p.Done(1, errors.New("boom")))
	assert.Contains(t, out.String(), "backtrace stopped")
	assert.Contains(t, out.String(), "after 1 frames: boom")
}
