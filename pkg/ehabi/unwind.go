package ehabi

import (
	"errors"
	"fmt"

	"github.com/go-delve/armbt/pkg/logflags"
)

// DefaultStackSize is the granularity of stack regions used when
// Config.StackSize is zero. It matches THREAD_SIZE on 32-bit ARM Linux.
const DefaultStackSize = 8192

// Frame is the register state the walker needs to unwind a frame.
type Frame struct {
	FP, SP, LR, PC uint32
}

func (f Frame) String() string {
	return fmt.Sprintf("pc=%#08x lr=%#08x sp=%#08x fp=%#08x", f.PC, f.LR, f.SP, f.FP)
}

// WalkState is a state of the frame walker.
type WalkState uint8

const (
	StateStart WalkState = iota
	StateLookupIndex
	StateSelectPersonality
	StateInterpreting
	StateDone
	StateFailed
)

func (s WalkState) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateLookupIndex:
		return "lookup-index"
	case StateSelectPersonality:
		return "select-personality"
	case StateInterpreting:
		return "interpreting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("WalkState(%d)", uint8(s))
}

// Tables groups the unwind index with the instruction table its entries
// refer to.
type Tables struct {
	Index *Index
	// Extab is the .ARM.extab section. It may be empty if every entry is
	// inline or EXIDX_CANTUNWIND.
	Extab Section
}

// Program returns a stream over the unwind program of e, positioned after
// the personality routine header.
func (t *Tables) Program(e Entry) (*Stream, error) {
	var tab Section
	switch {
	case e.CantUnwind():
		return nil, ErrCannotUnwind
	case e.Insn&0x80000000 == 0:
		addr, _ := e.TableAddr()
		var err error
		tab, err = t.Extab.Tail(addr)
		if err != nil {
			return nil, fmt.Errorf("unwind table of %#08x: %w", e.FuncAddr(), err)
		}
	case e.Inline():
		// the instruction word of the entry is a one word table
		var err error
		tab, err = t.Index.Section().Tail(e.Addr + 4)
		if err != nil {
			return nil, err
		}
		tab.Data = tab.Data[:4]
	default:
		return nil, fmt.Errorf("%w %#08x in the index at %#08x", ErrUnsupportedPersonality, e.Insn, e.Addr)
	}

	hdr, err := tab.Word(tab.Addr)
	if err != nil {
		return nil, err
	}
	switch hdr & 0xff000000 {
	case 0x80000000:
		return NewStream(tab.Data, tab.order(), 1, 2), nil
	case 0x81000000:
		return NewStream(tab.Data, tab.order(), 1+int(hdr&0x00ff0000>>16), 1), nil
	}
	return nil, fmt.Errorf("%w %#08x at %#08x", ErrUnsupportedPersonality, hdr, tab.Addr)
}

// Ops decodes the unwind program of e without executing it. Decoding stops
// at the first finish instruction.
func (t *Tables) Ops(e Entry) ([]Op, error) {
	s, err := t.Program(e)
	if err != nil {
		return nil, err
	}
	var ops []Op
	for s.Remaining() > 0 {
		op, err := DecodeOp(s)
		if err != nil {
			return ops, err
		}
		ops = append(ops, op)
		if op.Kind == OpFinish {
			break
		}
	}
	return ops, nil
}

// Config describes what the Unwinder walks over.
type Config struct {
	Tables
	// Text is the code region covered by the index.
	Text CodeRegion
	// Stack is used to read the words popped by unwind instructions.
	Stack MemoryReader
	// StackSize is the granularity of stack regions, a power of two. The
	// stack pointer of a frame is never unwound past the end of the region
	// it starts in.
	StackSize uint32
}

// Unwinder unwinds frames described by a set of EHABI tables. It holds no
// per-walk state and is safe for concurrent use.
type Unwinder struct {
	cfg Config
	log logflags.Logger
}

// New returns an Unwinder for cfg.
func New(cfg Config) (*Unwinder, error) {
	if cfg.Index == nil {
		return nil, errors.New("no unwind index")
	}
	if cfg.Text == nil {
		return nil, errors.New("no text region")
	}
	if cfg.Stack == nil {
		return nil, errors.New("no stack memory")
	}
	if cfg.StackSize == 0 {
		cfg.StackSize = DefaultStackSize
	}
	if cfg.StackSize&(cfg.StackSize-1) != 0 {
		return nil, fmt.Errorf("stack size %#x is not a power of two", cfg.StackSize)
	}
	return &Unwinder{cfg: cfg, log: logflags.UnwindLogger()}, nil
}

// Tables returns the tables the unwinder was created with.
func (u *Unwinder) Tables() *Tables {
	return &u.cfg.Tables
}

// Step unwinds frame by one level, replacing its contents with the
// register state of the caller. On failure frame is left unchanged and the
// returned error is a *FrameError.
func (u *Unwinder) Step(frame *Frame) error {
	state := StateStart
	fail := func(err error) error {
		if logflags.Unwind() {
			u.log.WithError(err).Debugf("%s -> %s: %s", state, StateFailed, frame)
		}
		return &FrameError{PC: frame.PC, State: state, Err: err}
	}

	// only go to a higher address on the stack
	low := frame.SP
	high := (low + u.cfg.StackSize - 1) &^ (u.cfg.StackSize - 1)

	if !u.cfg.Text.Contains(frame.PC) {
		return fail(ErrNotInMonitoredRegion)
	}

	state = StateLookupIndex
	e, err := u.cfg.Index.Lookup(frame.PC)
	if err != nil {
		return fail(err)
	}

	state = StateSelectPersonality
	s, err := u.cfg.Program(e)
	if err != nil {
		return fail(err)
	}

	state = StateInterpreting
	cb := ControlBlock{
		stream: s,
		stack:  stackWindow{mem: u.cfg.Stack, low: low, high: high},
		order:  u.cfg.Index.Section().order(),
	}
	cb.VRS[FP] = frame.FP
	cb.VRS[SP] = frame.SP
	cb.VRS[LR] = frame.LR
	cb.VRS[PC] = 0

	for cb.Entries() > 0 {
		if err := cb.Step(); err != nil {
			return fail(err)
		}
		if sp := cb.VRS[SP]; sp < low || sp >= high {
			return fail(fmt.Errorf("%w: sp %#08x outside of [%#08x, %#08x)", ErrStackRangeViolation, sp, low, high))
		}
	}

	if cb.VRS[PC] == 0 {
		cb.VRS[PC] = cb.VRS[LR]
	}

	if cb.VRS[PC] == frame.PC {
		return fail(ErrInfiniteLoopDetected)
	}

	if logflags.Unwind() {
		u.log.Debugf("%s -> %s: entry %s, caller pc=%#08x sp=%#08x", frame, StateDone, e, cb.VRS[PC], cb.VRS[SP])
	}

	frame.FP = cb.VRS[FP]
	frame.SP = cb.VRS[SP]
	frame.LR = cb.VRS[LR]
	frame.PC = cb.VRS[PC]
	return nil
}

// stackWindow refuses reads outside of [low, high), so that pop
// instructions never dereference memory outside of the stack region of
// the frame being unwound.
type stackWindow struct {
	mem       MemoryReader
	low, high uint32
}

func (w stackWindow) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < uint64(w.low) || addr+uint64(len(buf)) > uint64(w.high) {
		return 0, fmt.Errorf("%w: read at %#08x outside of [%#08x, %#08x)", ErrStackRangeViolation, addr, w.low, w.high)
	}
	return w.mem.ReadMemory(buf, addr)
}
