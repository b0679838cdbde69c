package codec

import (
	"encoding/binary"
	"fmt"

	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

const (
	// MaxDocIndex bounds doc indexes so that docIndex+1 never sets the
	// merged-layout marker bit.
	MaxDocIndex = (2 << 26) - 2

	mergedMarker   = 2 << 26
	mergedMinDoc   = 2 << 14
	mergedMaxDoc   = 2 << 17
	mergedMaxDelta = 1 << mergedShift
	mergedShift    = 9
)

// Posting is a doc index together with the positions of a word in that
// document.
type Posting struct {
	DocIndex  uint32
	Positions []uint32
}

// DeltaList returns the differences of adjacent values of a nondecreasing
// list, the first value kept as is.
func DeltaList(list []uint32) []uint32 {
	out := make([]uint32, len(list))
	var last uint32
	for i, v := range list {
		out[i] = v - last
		last = v
	}
	return out
}

// DeDeltaList undoes DeltaList in place.
func DeDeltaList(list []uint32) {
	for i := 1; i < len(list); i++ {
		list[i] += list[i-1]
	}
}

// PackPosting encodes a doc index and its strictly increasing positions.
// Large doc indexes with a small first position share one 28-bit element.
func PackPosting(docIndex uint32, positions []uint32) ([]byte, error) {
	if docIndex > MaxDocIndex {
		return nil, fmt.Errorf("packing posting for doc %d: %w", docIndex, apperrors.ErrDocIndexRange)
	}
	deltas := DeltaList(positions)
	if len(deltas) > 0 {
		deltas[0]++
	}
	var list []uint32
	if docIndex >= mergedMinDoc && len(deltas) > 0 && deltas[0] < mergedMaxDelta && docIndex < mergedMaxDoc {
		deltas[0] += (mergedMaxDoc + docIndex) << mergedShift
		list = deltas
	} else {
		list = make([]uint32, 0, len(deltas)+1)
		list = append(list, docIndex+1)
		list = append(list, deltas...)
	}
	buf, err := EncodeModified9(list)
	if err != nil {
		return nil, fmt.Errorf("packing posting for doc %d: %w", docIndex, err)
	}
	return buf, nil
}

// UnpackPosting decodes the posting at offset. ok is false if no posting
// could be read there.
func UnpackPosting(buf []byte, offset int) (Posting, int, bool) {
	list, next := DecodeModified9(buf, offset)
	if len(list) == 0 {
		return Posting{}, offset, false
	}
	first := list[0]
	var p Posting
	if first&mergedMarker != 0 {
		delta0 := first & (mergedMaxDelta - 1)
		p.DocIndex = (first - delta0 - mergedMarker) >> mergedShift
		list[0] = delta0
		p.Positions = list
	} else {
		p.DocIndex = first - 1
		p.Positions = list[1:]
	}
	if len(p.Positions) > 0 {
		p.Positions[0]--
	}
	DeDeltaList(p.Positions)
	return p, next, true
}

// PostingDocIndex reads the doc index of the posting at offset from its
// first word only.
func PostingDocIndex(buf []byte, offset int) (uint32, bool) {
	if offset < 0 || offset+4 > len(buf) {
		return 0, false
	}
	vals := UnpackWord(binary.BigEndian.Uint32(buf[offset:]))
	if len(vals) == 0 {
		return 0, false
	}
	first := vals[0]
	if first&mergedMarker != 0 {
		return (first - first&(mergedMaxDelta-1) - mergedMarker) >> mergedShift, true
	}
	return first - 1, true
}

// SkipPosting returns the offset of the posting following the one at offset.
func SkipPosting(buf []byte, offset int) int {
	return SkipModified9(buf, offset)
}
