// Package report prints backtraces produced by the unwinder.
package report

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/arch/arm/armasm"

	"github.com/go-delve/armbt/pkg/ehabi"
	"github.com/go-delve/armbt/pkg/image"
)

const (
	ansiReset  = "\033[0m"
	ansiAddr   = "\033[34m"
	ansiSymbol = "\033[32m"
	ansiInsn   = "\033[33m"
	ansiError  = "\033[31m"
)

// Stdout returns the writer backtraces should be printed to and whether it
// accepts color escapes. Color is only used if requested and standard
// output is a terminal.
func Stdout(color bool) (io.Writer, bool) {
	if !color || !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, false
	}
	return colorable.NewColorableStdout(), true
}

// Config changes the way frames are printed.
type Config struct {
	// Color enables ANSI color escapes.
	Color bool
	// Disassemble prints the call instruction of every frame.
	Disassemble bool
}

// Printer is an ehabi.Sink that prints every frame in the format used by
// the Linux and barebox unwinders:
//
//	[<where>] (symbol) from [<from>] (symbol)
type Printer struct {
	w   *bufio.Writer
	img *image.Image
	cfg Config
}

// NewPrinter returns a printer writing to out, resolving addresses with
// img.
func NewPrinter(out io.Writer, img *image.Image, cfg Config) *Printer {
	return &Printer{w: bufio.NewWriter(out), img: img, cfg: cfg}
}

func (p *Printer) color(code, s string) string {
	if !p.cfg.Color {
		return s
	}
	return code + s + ansiReset
}

func (p *Printer) addr(a uint32) string {
	return p.color(ansiAddr, fmt.Sprintf("[<%08x>]", a))
}

func (p *Printer) symbol(a uint32) string {
	return "(" + p.color(ansiSymbol, p.img.Symbol(a)) + ")"
}

// Report implements ehabi.Sink.
func (p *Printer) Report(r ehabi.Report) error {
	fmt.Fprintf(p.w, "%s %s from %s %s\n", p.addr(r.Where), p.symbol(r.Where), p.addr(r.From), p.symbol(r.From))
	if p.cfg.Disassemble {
		p.callSite(r.From)
	}
	return p.w.Flush()
}

// callSite prints the instruction preceding the return address from.
func (p *Printer) callSite(from uint32) {
	if from < 4 {
		return
	}
	pc := from - 4
	var buf [4]byte
	if _, err := p.img.ReadMemory(buf[:], uint64(pc)); err != nil {
		return
	}
	word := p.img.Order.Uint32(buf[:])
	text := "?"
	if fn := p.img.PCToFunc(pc); fn == nil || !fn.Thumb {
		// armasm only reads little endian words
		var le [4]byte
		binary.LittleEndian.PutUint32(le[:], word)
		if inst, err := armasm.Decode(le[:], armasm.ModeARM); err == nil {
			text = armasm.GNUSyntax(inst)
		}
	}
	fmt.Fprintf(p.w, "\t%08x:\t%08x\t%s\n", pc, word, p.color(ansiInsn, text))
}

// Done prints the end of a backtrace of n frames that ended with err.
func (p *Printer) Done(n int, err error) error {
	if err != nil {
		fmt.Fprintf(p.w, "%s after %d frames: %v\n", p.color(ansiError, "backtrace stopped"), n, err)
	}
	return p.w.Flush()
}
