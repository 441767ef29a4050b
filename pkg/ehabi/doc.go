// Package ehabi unwinds 32-bit ARM stack frames using the exception
// handling tables described by the ARM EHABI ("Exception Handling ABI for
// the ARM Architecture", IHI 0038).
//
// The linker emits two sections for this purpose:
//
//   - .ARM.exidx, the unwind index: a sorted array of 8-byte entries, one
//     per function, mapping a code address to an unwind program.
//   - .ARM.extab, the unwind instruction table, holding the programs that
//     do not fit inline in the index.
//
// Unwind programs are byte-coded instructions that describe how to undo
// the effects of a function prologue on a virtual register set. This
// package decodes and interprets them without relying on a frame pointer
// convention, so it can produce backtraces of firmware and bootloader
// code compiled with -fomit-frame-pointer.
package ehabi
