package ehabi

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInMonitoredRegion is returned when the program counter is outside
	// of the code region covered by the unwind index. Reaching a caller in
	// foreign code is the normal way for a backtrace to end.
	ErrNotInMonitoredRegion = errors.New("pc outside of monitored text region")
	// ErrIndexEntryNotFound is returned when no index entry covers a pc.
	ErrIndexEntryNotFound = errors.New("unwind index entry not found")
	// ErrCannotUnwind is returned for functions marked EXIDX_CANTUNWIND.
	ErrCannotUnwind = errors.New("function can not be unwound")
	// ErrUnsupportedPersonality is returned for unwind tables that do not use
	// personality routine 0 or 1.
	ErrUnsupportedPersonality = errors.New("unsupported personality routine")
	// ErrRefuseToUnwind is returned for pop instructions with an empty
	// register mask.
	ErrRefuseToUnwind = errors.New("refuse to unwind")
	// ErrSpareEncoding is returned for the reserved encodings of the
	// "pop r0-r3" instruction. It is also a ErrRefuseToUnwind.
	ErrSpareEncoding = fmt.Errorf("%w: spare encoding", ErrRefuseToUnwind)
	// ErrUnhandledInstruction is returned for opcodes the unwinder does not
	// implement.
	ErrUnhandledInstruction = errors.New("unhandled unwind instruction")
	// ErrCorruptTable is returned when an unwind program reads past its end or
	// a table lies outside of its section.
	ErrCorruptTable = errors.New("corrupt unwind table")
	// ErrStackRangeViolation is returned when the virtual stack pointer
	// leaves the stack region of the frame being unwound.
	ErrStackRangeViolation = errors.New("stack pointer out of range")
	// ErrInfiniteLoopDetected is returned when unwinding a frame does not
	// change the program counter.
	ErrInfiniteLoopDetected = errors.New("infinite loop detected")
)

// IndexNotFoundError is returned by Index.Lookup when no entry covers PC.
type IndexNotFoundError struct {
	PC uint32
}

func (err *IndexNotFoundError) Error() string {
	return fmt.Sprintf("could not find unwind index entry for PC %#x", err.PC)
}

// Is makes errors.Is(err, ErrIndexEntryNotFound) hold.
func (err *IndexNotFoundError) Is(target error) bool {
	return target == ErrIndexEntryNotFound
}

// OpcodeError describes an unwind instruction that could not be executed.
// Code holds the instruction bytes, most significant byte first.
type OpcodeError struct {
	Code uint32
	Len  int
	Err  error
}

func (err *OpcodeError) Error() string {
	return fmt.Sprintf("unwind instruction %#0*x: %v", err.Len*2, err.Code, err.Err)
}

func (err *OpcodeError) Unwrap() error {
	return err.Err
}

// FrameError is returned by Unwinder.Step. State is the walker state in
// which the failure happened and PC the program counter of the frame that
// could not be unwound.
type FrameError struct {
	PC    uint32
	State WalkState
	Err   error
}

func (err *FrameError) Error() string {
	return fmt.Sprintf("unwinding frame at %#08x (%s): %v", err.PC, err.State, err.Err)
}

func (err *FrameError) Unwrap() error {
	return err.Err
}
