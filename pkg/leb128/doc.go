// Package leb128 provides encoders and decoders for The Little Endian Base 128 format.
// The format is defined in the DWARF v4 standard, section 7.6, and is
// reused by the ARM EHABI for the operand of the "vsp = vsp + 0x204 +
// (uleb128 << 2)" unwind opcode.
package leb128
