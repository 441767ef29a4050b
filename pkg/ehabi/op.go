package ehabi

import (
	"fmt"
	"io"
	"strings"

	"github.com/go-delve/armbt/pkg/leb128"
	"github.com/go-delve/armbt/pkg/regnum"
)

// Unwind instruction encodings, see EHABI section 10.3.
const (
	opVSPAdd     = 0x00 // 00xxxxxx: vsp = vsp + (xxxxxx << 2) + 4
	opVSPSub     = 0x40 // 01xxxxxx: vsp = vsp - (xxxxxx << 2) - 4
	opPopMask    = 0x80 // 1000iiii iiiiiiii: pop r4-r15 under mask
	opSetVSP     = 0x90 // 1001nnnn: vsp = r[nnnn]
	opPopRange   = 0xa0 // 1010Lnnn: pop r4-r[4+nnn], r14 if L
	opFinish     = 0xb0 // 10110000
	opPopLow     = 0xb1 // 10110001 0000iiii: pop r0-r3 under mask
	opVSPAddLong = 0xb2 // 10110010 uleb128: vsp = vsp + 0x204 + (uleb128 << 2)
)

// OpKind is the kind of a decoded unwind instruction.
type OpKind uint8

const (
	OpVSPAdd   OpKind = iota // vsp = vsp + Imm
	OpVSPSub                 // vsp = vsp - Imm
	OpPopMask                // pop Regs, r13 in Regs replaces vsp
	OpSetVSP                 // vsp = r[Reg]
	OpPopRange               // pop Regs
	OpFinish                 // pc = lr if pc is still zero, end of program
	OpPopLow                 // pop Regs (r0-r3)
)

// Op is a decoded unwind instruction.
type Op struct {
	Kind OpKind
	// Imm is the stack adjustment of OpVSPAdd and OpVSPSub.
	Imm uint32
	// Regs has bit n set if register n is popped.
	Regs uint16
	// Reg is the source register of OpSetVSP.
	Reg uint8
}

// DecodeOp reads one unwind instruction from r.
func DecodeOp(r io.ByteReader) (Op, error) {
	insn, err := r.ReadByte()
	if err != nil {
		return Op{}, err
	}

	switch {
	case insn&0xc0 == opVSPAdd:
		return Op{Kind: OpVSPAdd, Imm: uint32(insn&0x3f)<<2 + 4}, nil

	case insn&0xc0 == opVSPSub:
		return Op{Kind: OpVSPSub, Imm: uint32(insn&0x3f)<<2 + 4}, nil

	case insn&0xf0 == opPopMask:
		lo, err := r.ReadByte()
		if err != nil {
			return Op{}, err
		}
		mask := uint16(insn&0x0f)<<8 | uint16(lo)
		if mask == 0 {
			return Op{}, &OpcodeError{Code: uint32(insn)<<8 | uint32(lo), Len: 2, Err: ErrRefuseToUnwind}
		}
		return Op{Kind: OpPopMask, Regs: mask << regnum.ARM_R4}, nil

	case insn&0xf0 == opSetVSP:
		// 10011101 and 10011111 are reserved
		if insn&0x0d == 0x0d {
			return Op{}, &OpcodeError{Code: uint32(insn), Len: 1, Err: ErrUnhandledInstruction}
		}
		return Op{Kind: OpSetVSP, Reg: insn & 0x0f}, nil

	case insn&0xf0 == opPopRange:
		regs := uint16(1)<<(insn&0x07+1) - 1
		regs <<= regnum.ARM_R4
		if insn&0x08 != 0 {
			regs |= 1 << regnum.ARM_LR
		}
		return Op{Kind: OpPopRange, Regs: regs}, nil

	case insn == opFinish:
		return Op{Kind: OpFinish}, nil

	case insn == opPopLow:
		mask, err := r.ReadByte()
		if err != nil {
			return Op{}, err
		}
		if mask == 0 || mask&0xf0 != 0 {
			return Op{}, &OpcodeError{Code: uint32(insn)<<8 | uint32(mask), Len: 2, Err: ErrSpareEncoding}
		}
		return Op{Kind: OpPopLow, Regs: uint16(mask)}, nil

	case insn == opVSPAddLong:
		// operand bytes of 0x80 and above continue into the next byte
		v, _, err := leb128.DecodeUnsigned(r)
		if err != nil {
			return Op{}, err
		}
		return Op{Kind: OpVSPAdd, Imm: 0x204 + uint32(v)<<2}, nil
	}

	return Op{}, &OpcodeError{Code: uint32(insn), Len: 1, Err: ErrUnhandledInstruction}
}

func (op Op) String() string {
	switch op.Kind {
	case OpVSPAdd:
		return fmt.Sprintf("vsp = vsp + %d", op.Imm)
	case OpVSPSub:
		return fmt.Sprintf("vsp = vsp - %d", op.Imm)
	case OpSetVSP:
		return fmt.Sprintf("vsp = %s", regnum.ARMToName(uint64(op.Reg)))
	case OpPopMask, OpPopRange, OpPopLow:
		var names []string
		for reg := 0; reg < regnum.ARMNumRegs; reg++ {
			if op.Regs&(1<<reg) != 0 {
				names = append(names, regnum.ARMToName(uint64(reg)))
			}
		}
		return fmt.Sprintf("pop {%s}", strings.Join(names, ", "))
	case OpFinish:
		return "finish"
	}
	return fmt.Sprintf("unknown op kind %d", op.Kind)
}

// Disassemble returns a textual representation of an unwind program.
func Disassemble(ops []Op) string {
	s := make([]string, len(ops))
	for i := range ops {
		s[i] = ops[i].String()
	}
	return strings.Join(s, "; ")
}
