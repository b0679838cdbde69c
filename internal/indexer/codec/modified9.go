package codec

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// MaxModified9Value is the largest integer a Modified-9 word can hold.
const MaxModified9Value = 1<<28 - 1

const (
	continueSingle = 0
	continueEnd    = 1
	continueMore   = 2
	continueStart  = 3

	flagMask          = 0xC0
	continueThreshold = 0x80
)

// capacityByBits[n] is the number of n-bit values that fit in one word.
var capacityByBits = [29]int{
	0: 24, 1: 24, 2: 12, 3: 7, 4: 6, 5: 5, 6: 4,
	7: 3, 8: 3, 9: 3,
	10: 2, 11: 2, 12: 2, 13: 2, 14: 2,
	15: 1, 16: 1, 17: 1, 18: 1, 19: 1, 20: 1, 21: 1,
	22: 1, 23: 1, 24: 1, 25: 1, 26: 1, 27: 1, 28: 1,
}

type wordFormat struct {
	code  uint32 // format bits as they sit in the top byte
	count int
	width uint
}

// formats are ordered from the longest code prefix to the shortest so a
// top-byte lookup can stop at the first match.
var formats = []wordFormat{
	{code: 0x3F, count: 24, width: 1},
	{code: 0x3E, count: 12, width: 2},
	{code: 0x3C, count: 7, width: 3},
	{code: 0x38, count: 6, width: 4},
	{code: 0x34, count: 5, width: 5},
	{code: 0x30, count: 4, width: 6},
	{code: 0x20, count: 3, width: 9},
	{code: 0x10, count: 2, width: 14},
	{code: 0x00, count: 1, width: 28},
}

func formatFor(count int) wordFormat {
	for i := len(formats) - 1; i >= 0; i-- {
		if formats[i].count >= count {
			return formats[i]
		}
	}
	return formats[0]
}

// EncodeModified9 packs values into big-endian 4-byte words. Values must lie
// in [1, MaxModified9Value]; zero is reserved as the in-word terminator.
func EncodeModified9(values []uint32) ([]byte, error) {
	out := make([]byte, 0, 4*(len(values)/2+1))
	if len(values) == 0 {
		return out, nil
	}
	bucket := make([]uint32, 0, 24)
	curLen := 1
	words := 0
	for i, v := range values {
		if v == 0 || v > MaxModified9Value {
			return nil, fmt.Errorf("modified9 value %d at %d out of range", v, i)
		}
		newLen := max(curLen, bits.Len32(v))
		if len(bucket) < capacityByBits[newLen] {
			bucket = append(bucket, v)
			curLen = newLen
			continue
		}
		cont := uint32(continueMore)
		if words == 0 {
			cont = continueStart
		}
		out = packWord(out, cont, bucket, curLen)
		words++
		bucket = append(bucket[:0], v)
		curLen = bits.Len32(v)
	}
	cont := uint32(continueEnd)
	if words == 0 {
		cont = continueSingle
	}
	return packWord(out, cont, bucket, curLen), nil
}

func packWord(out []byte, cont uint32, vals []uint32, bitLen int) []byte {
	f := formatFor(capacityByBits[bitLen])
	var w uint32
	for _, v := range vals {
		w = w<<f.width | v
	}
	w |= f.code<<24 | cont<<30
	return binary.BigEndian.AppendUint32(out, w)
}

// UnpackWord decodes the values held in a single word. The continuation bits
// are ignored.
func UnpackWord(w uint32) []uint32 {
	w &= 0x3FFFFFFF
	var f wordFormat
	switch w & 0x30000000 {
	case 0:
		if v := w & 0x0FFFFFFF; v != 0 {
			return []uint32{v}
		}
		return nil
	case 0x10000000:
		f = formats[7]
	case 0x20000000:
		f = formats[6]
	default:
		top := w >> 24
		for _, cand := range formats[:6] {
			if top&cand.code == cand.code {
				f = cand
				break
			}
		}
	}
	w -= f.code << 24
	mask := uint32(1)<<f.width - 1
	out := make([]uint32, f.count)
	n := f.count
	for i := 0; i < f.count; i++ {
		v := w & mask
		if v == 0 {
			break
		}
		n--
		out[n] = v
		w >>= f.width
	}
	return out[n:]
}

// DecodeModified9 decodes one Modified-9 sequence beginning at offset and
// returns the values and the offset just past the last word consumed.
// Short or malformed input decodes to an empty list; trailing bytes that do
// not make up a whole word are ignored.
func DecodeModified9(buf []byte, offset int) ([]uint32, int) {
	if offset < 0 || offset+4 > len(buf) {
		return nil, offset
	}
	flag := buf[offset] & flagMask
	if flag != 0 && flag != flagMask {
		return nil, offset
	}
	var out []uint32
	for offset+4 <= len(buf) {
		flag = buf[offset] & flagMask
		out = append(out, UnpackWord(binary.BigEndian.Uint32(buf[offset:]))...)
		offset += 4
		if flag < continueThreshold {
			break
		}
	}
	return out, offset
}

// SkipModified9 returns the offset just past the sequence starting at offset
// without decoding its values.
func SkipModified9(buf []byte, offset int) int {
	if offset < 0 || offset+4 > len(buf) {
		return offset
	}
	for offset+4 <= len(buf) {
		flag := buf[offset] & flagMask
		offset += 4
		if flag < continueThreshold {
			break
		}
	}
	return offset
}
