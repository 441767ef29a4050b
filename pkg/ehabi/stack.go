package ehabi

import (
	"errors"
	"fmt"
)

// DefaultMaxDepth is the number of frames Backtrace reports when called
// with a zero depth.
const DefaultMaxDepth = 64

// Report describes one unwound frame: Where is the program counter of the
// callee, From the return address into its caller and SP the address
// just below the caller's stack pointer.
type Report struct {
	Where, From, SP uint32
}

// Sink receives the frames of a backtrace, innermost first.
type Sink interface {
	Report(Report) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Report) error

// Report calls f(r).
func (f SinkFunc) Report(r Report) error {
	return f(r)
}

// Iterator walks a stack one frame at a time.
type Iterator struct {
	u      *Unwinder
	frame  Frame
	report Report
	top    bool
	atend  bool
	err    error
}

// Iterator returns an iterator over the callers of frame.
func (u *Unwinder) Iterator(frame Frame) *Iterator {
	return &Iterator{u: u, frame: frame, top: true}
}

// Next unwinds the next frame. It returns false when the walk is over,
// after which Err reports why it stopped.
func (it *Iterator) Next() bool {
	if it.err != nil || it.atend {
		return false
	}
	where := it.frame.PC
	if err := it.u.Step(&it.frame); err != nil {
		it.atend = true
		// Leaving the monitored region after the first frame is how every
		// backtrace that does not hit a broken table ends.
		if !errors.Is(err, ErrNotInMonitoredRegion) || it.top {
			it.err = err
		}
		return false
	}
	it.top = false
	it.report = Report{Where: where, From: it.frame.PC, SP: it.frame.SP - 4}
	return true
}

// Frame returns the register state of the caller reached by the last call
// to Next.
func (it *Iterator) Frame() Frame {
	return it.frame
}

// Report returns the frame reached by the last call to Next.
func (it *Iterator) Report() Report {
	return it.report
}

// Err returns the error that stopped the iteration, nil if it stopped
// because it reached code outside of the monitored region.
func (it *Iterator) Err() error {
	return it.err
}

// Backtrace unwinds at most depth frames starting at frame and delivers
// them to sink. Zero depth means DefaultMaxDepth. It returns the number of
// frames reported and the error that ended the walk, if any.
func (u *Unwinder) Backtrace(frame Frame, depth int, sink Sink) (int, error) {
	if depth < 0 {
		return 0, errors.New("negative maximum stack depth")
	}
	if depth == 0 {
		depth = DefaultMaxDepth
	}
	it := u.Iterator(frame)
	n := 0
	for n < depth && it.Next() {
		if err := sink.Report(it.Report()); err != nil {
			return n, fmt.Errorf("reporting frame %d: %w", n, err)
		}
		n++
	}
	return n, it.Err()
}
