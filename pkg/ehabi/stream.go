package ehabi

import (
	"encoding/binary"
	"fmt"
)

// Stream serves the bytes of an unwind program. Instructions are packed
// in 32 bit words, most significant byte first. The number of words the
// program spans comes from the personality routine header, and Stream
// also refuses to read past the end of the backing slice, whatever the
// header claims.
//
// A Stream is consumed by reading, it can not be rewound.
type Stream struct {
	words   []byte
	order   binary.ByteOrder
	word    int // current word
	entries int // words left, including the current one
	byte    int // next byte of the current word, 3 is the most significant
}

// NewStream returns a stream over words that spans entries words and
// starts at byte first (0 to 3) of the first word.
func NewStream(words []byte, order binary.ByteOrder, entries, first int) *Stream {
	if order == nil {
		order = binary.LittleEndian
	}
	return &Stream{words: words, order: order, entries: entries, byte: first}
}

// Remaining returns the number of words left in the program.
func (s *Stream) Remaining() int {
	return s.entries
}

// ReadByte returns the next instruction byte.
func (s *Stream) ReadByte() (byte, error) {
	if s.entries <= 0 {
		return 0, fmt.Errorf("%w: read past the end of the unwind program", ErrCorruptTable)
	}
	off := s.word * 4
	if off+4 > len(s.words) {
		return 0, fmt.Errorf("%w: unwind program word %d past the end of its table (%d bytes)", ErrCorruptTable, s.word, len(s.words))
	}
	w := s.order.Uint32(s.words[off:])
	b := byte(w >> (uint(s.byte) * 8))
	if s.byte == 0 {
		s.word++
		s.entries--
		s.byte = 3
	} else {
		s.byte--
	}
	return b, nil
}

// finish discards the rest of the program.
func (s *Stream) finish() {
	s.entries = 0
}
