package leb128

import (
	"io"
)

// EncodeUnsigned encodes x to the unsigned Little Endian Base 128 format
// into out.
func EncodeUnsigned(out io.ByteWriter, x uint64) {
	for {
		b := byte(x & 0x7f)
		x = x >> 7
		if x != 0 {
			b = b | 0x80
		}
		out.WriteByte(b)
		if x == 0 {
			break
		}
	}
}
