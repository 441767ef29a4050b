package regnum

import (
	"fmt"
)

// The mapping between hardware registers and DWARF registers is specified
// in the DWARF for the ARM® Architecture page 7, Table 1.
// For the core registers the DWARF number is the register number, which
// is also the index the EHABI unwinder uses for its virtual register set.
// http://infocenter.arm.com/help/topic/com.arm.doc.ihi0040b/IHI0040B_aadwarf.pdf

const (
	ARM_R0 = 0 // R1 through R12 follow
	ARM_R4 = 4
	ARM_FP = 11 // also R11
	ARM_IP = 12
	ARM_SP = 13
	ARM_LR = 14
	ARM_PC = 15

	ARMNumRegs = 16
)

// ARMToName returns the assembler name of a core register.
func ARMToName(num uint64) string {
	switch {
	case num <= 10:
		return fmt.Sprintf("r%d", num)
	case num == ARM_FP:
		return "fp"
	case num == ARM_IP:
		return "ip"
	case num == ARM_SP:
		return "sp"
	case num == ARM_LR:
		return "lr"
	case num == ARM_PC:
		return "pc"
	default:
		return fmt.Sprintf("unknown%d", num)
	}
}
