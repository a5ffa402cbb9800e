package eval

import "golang.org/x/exp/constraints"

// packLE little-endian-encodes any sized integer into exactly as many
// bytes as its width, used by packScalar's fixed-width cases instead of
// repeating the same shift-and-mask per width (spec.md §4.C pack()).
func packLE[T constraints.Integer](v T, width int) []byte {
	u := uint64(v)
	b := make([]byte, width)
	for i := 0; i < width; i++ {
		b[i] = byte(u >> (8 * i))
	}
	return b
}

// unpackLEUnsigned is packLE's inverse for the unsigned read side shared
// by unpackScalar's UInt*/SInt* cases (sign interpretation happens in the
// caller once the raw width-bound magnitude is known).
func unpackLEUnsigned[T constraints.Unsigned](raw []byte) T {
	var u T
	for i := len(raw) - 1; i >= 0; i-- {
		u = u<<8 | T(raw[i])
	}
	return u
}
