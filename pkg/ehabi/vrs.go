package ehabi

import (
	"encoding/binary"
	"fmt"

	"github.com/go-delve/armbt/pkg/regnum"
)

// Virtual register set indexes.
const (
	FP = regnum.ARM_FP
	SP = regnum.ARM_SP
	LR = regnum.ARM_LR
	PC = regnum.ARM_PC
)

// ControlBlock is the state of the interpretation of one unwind program:
// the virtual register set and the instruction stream. A new ControlBlock
// is used for every frame.
type ControlBlock struct {
	VRS [regnum.ARMNumRegs]uint32

	stream *Stream
	stack  MemoryReader
	order  binary.ByteOrder
}

// Entries returns the number of program words left to execute.
func (cb *ControlBlock) Entries() int {
	return cb.stream.Remaining()
}

// Step decodes and executes the next instruction.
func (cb *ControlBlock) Step() error {
	op, err := DecodeOp(cb.stream)
	if err != nil {
		return err
	}
	return cb.Exec(op)
}

// Exec executes op against the virtual register set. Stack words are read
// through the control block's stack reader, bounds are not checked here.
func (cb *ControlBlock) Exec(op Op) error {
	switch op.Kind {
	case OpVSPAdd:
		cb.VRS[SP] += op.Imm
	case OpVSPSub:
		cb.VRS[SP] -= op.Imm
	case OpPopMask, OpPopRange, OpPopLow:
		return cb.pop(op.Regs)
	case OpSetVSP:
		cb.VRS[SP] = cb.VRS[op.Reg]
	case OpFinish:
		if cb.VRS[PC] == 0 {
			cb.VRS[PC] = cb.VRS[LR]
		}
		cb.stream.finish()
	default:
		return fmt.Errorf("%w: %s", ErrUnhandledInstruction, op)
	}
	return nil
}

// pop loads the registers in regs, lowest numbered first, from ascending
// stack addresses starting at vsp. Unless sp itself is popped vsp is left
// past the last word read.
func (cb *ControlBlock) pop(regs uint16) error {
	vsp := cb.VRS[SP]
	loadSP := regs&(1<<SP) != 0
	for reg := 0; regs != 0; reg, regs = reg+1, regs>>1 {
		if regs&1 == 0 {
			continue
		}
		v, err := cb.readWord(vsp)
		if err != nil {
			return err
		}
		cb.VRS[reg] = v
		vsp += 4
	}
	if !loadSP {
		cb.VRS[SP] = vsp
	}
	return nil
}

func (cb *ControlBlock) readWord(addr uint32) (uint32, error) {
	var buf [4]byte
	n, err := cb.stack.ReadMemory(buf[:], uint64(addr))
	if err != nil {
		return 0, err
	}
	if n != len(buf) {
		return 0, fmt.Errorf("short read at %#08x: %d bytes", addr, n)
	}
	return cb.order.Uint32(buf[:]), nil
}
