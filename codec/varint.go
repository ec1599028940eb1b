package codec

import "github.com/asadovsky/wavedoc/waveerr"

// maxVarintBytes bounds a base-128 varint to a 49-bit payload, per spec.md
// §4.4's overflow guard.
const maxVarintBytes = 7

// appendVarint appends v's little-endian base-128 encoding to buf.
func appendVarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// readVarint decodes a varint starting at buf[pos], returning its value and
// the position just past it. It fails with waveerr.ErrMalformed if the
// varint runs past maxVarintBytes or off the end of buf.
func readVarint(buf []byte, pos int) (uint64, int, error) {
	var v uint64
	for i := 0; i < maxVarintBytes; i++ {
		if pos >= len(buf) {
			return 0, 0, waveerr.ErrMalformed
		}
		b := buf[pos]
		pos++
		v |= uint64(b&0x7f) << (7 * i)
		if b&0x80 == 0 {
			return v, pos, nil
		}
	}
	return 0, 0, waveerr.ErrMalformed
}
