package leb128

import (
	"errors"
	"io"
)

// ErrOverflow is returned when an encoded value does not fit in 64 bits.
var ErrOverflow = errors.New("leb128: value overflows 64 bits")

// DecodeUnsigned decodes an unsigned Little Endian Base 128
// represented number. It returns the value and the number of bytes
// consumed.
func DecodeUnsigned(buf io.ByteReader) (uint64, uint32, error) {
	var (
		result uint64
		shift  uint64
		length uint32
	)

	for {
		b, err := buf.ReadByte()
		if err != nil {
			return 0, length, err
		}
		length++

		if shift >= 64 {
			return 0, length, ErrOverflow
		}
		result |= uint64(b&0x7f) << shift

		// If high order bit is 1.
		if b&0x80 == 0 {
			break
		}

		shift += 7
	}

	return result, length, nil
}
