package ehabi

const prel31Mask = 0x7fffffff

// Prel31ToOffset sign extends the 31 bit place-relative offset stored in
// the low bits of v. Bit 31 is a format flag and is ignored.
func Prel31ToOffset(v uint32) int32 {
	return int32(v<<1) >> 1
}

// Prel31ToAddr returns the address referenced by the prel31 word v stored
// at address at. Arithmetic wraps modulo 2^32.
func Prel31ToAddr(at, v uint32) uint32 {
	return at + uint32(Prel31ToOffset(v))
}

// EncodePrel31 encodes off as a prel31 word with bit 31 clear. Offsets
// outside of [-2^30, 2^30) do not round trip.
func EncodePrel31(off int32) uint32 {
	return uint32(off) & prel31Mask
}
