// Package codec implements the integer compression used by index postings:
// variable byte codes, the Modified-9 word packing and the posting layout
// built on top of it.
package codec

// VByteEncode encodes v low 7 bits first. Every byte after the first carries
// the 0x80 continuation bit.
func VByteEncode(v uint64) []byte {
	out := make([]byte, 0, 5)
	var cont byte
	for {
		out = append(out, byte(v&0x7F)|cont)
		v >>= 7
		cont = 0x80
		if v == 0 {
			return out
		}
	}
}

// VByteDecode reads one value starting at offset and returns it along with
// the offset just past it. ok is false when offset is out of range.
func VByteDecode(buf []byte, offset int) (uint64, int, bool) {
	if offset < 0 || offset >= len(buf) {
		return 0, offset, false
	}
	v := uint64(buf[offset] & 0x7F)
	offset++
	shift := uint(7)
	for offset < len(buf) && buf[offset]&0x80 != 0 && shift < 64 {
		v |= uint64(buf[offset]&0x7F) << shift
		offset++
		shift += 7
	}
	return v, offset, true
}
