package hash

import (
	"crypto/md5"
	"encoding/binary"
	"strings"
)

// Wildcard marks a path segment that matches any word.
const Wildcard = "*"

// PathKey is a hash path together with the number of low bits to ignore when
// looking it up.
type PathKey struct {
	Hash  WordHash
	Shift uint
}

var pathShifts = [...]uint{24, 22, 11, 7, 5, 4, 3, 2, 2, 2, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}

// Path hashes s split at byte pathStart. The first five bytes are the crawl
// hash of s[:pathStart]; the last three pack a few bits of the hash of each
// space separated segment after it, with a code for the number of segments.
// A pathStart of zero hashes the whole string.
func Path(s string, pathStart int) WordHash {
	if pathStart <= 0 || pathStart > len(s) {
		return Crawl(s)
	}
	parts := strings.Split(s[pathStart:], " ")
	front := Crawl(s[:pathStart])
	ints := make([]uint32, len(parts))
	for i, part := range parts {
		if part == Wildcard {
			continue
		}
		sum := md5.Sum([]byte(part))
		ints[i] = binary.BigEndian.Uint32(sum[:4])
	}
	out := packPathInts(ints)
	var h WordHash
	copy(h[:5], front[:5])
	h[5] = byte(out >> 16)
	h[6] = byte(out >> 8)
	h[7] = byte(out)
	return h
}

func packPathInts(ints []uint32) uint32 {
	at := func(i int) uint32 {
		if i < len(ints) {
			return ints[i]
		}
		return 0
	}
	pack := func(prefix uint32, width uint, n int) uint32 {
		mask := uint32(1)<<width - 1
		out := prefix
		for i := 0; i < n; i++ {
			out = out<<width | at(i)&mask
		}
		return out
	}
	switch len(ints) {
	case 1:
		return ints[0] & (1<<22 - 1)
	case 2:
		return pack(1, 11, 2)
	case 3:
		return pack(1<<2, 7, 3)
	case 4:
		return pack(3<<2, 5, 4)
	case 5:
		return pack(13, 4, 5)
	case 6:
		return pack(7<<3, 3, 6)
	case 7, 8, 9:
		return pack(60, 2, 9)
	default:
		return pack(62, 1, 18)
	}
}

// wildcardShift is the number of low path bits covered by the trailing
// wildcards of a path with pathLen segments.
func wildcardShift(pathLen, wildcards int) uint {
	if pathLen >= len(pathShifts) {
		pathLen = len(pathShifts) - 1
	}
	shift := uint(wildcards) * pathShifts[pathLen]
	switch {
	case pathLen == 7:
		shift += 4
	case pathLen == 8:
		shift += 2
	case pathLen > 9:
		shift += uint(18 - pathLen)
	}
	return shift
}

// SubtreeKey returns the key matching every path that starts with the words
// of prefix followed by wildcards more words.
func SubtreeKey(prefix string, wildcards int) PathKey {
	words := strings.Fields(prefix)
	if len(words) == 0 || wildcards <= 0 {
		return PathKey{Hash: Crawl(prefix)}
	}
	front := words[0]
	rest := append(words[1:len(words):len(words)], repeatWildcard(wildcards)...)
	s := front + " " + strings.Join(rest, " ")
	return PathKey{
		Hash:  Path(s, len(front)+1),
		Shift: wildcardShift(len(rest), wildcards),
	}
}

func repeatWildcard(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = Wildcard
	}
	return out
}

// AllPaths returns the plain hash of s followed by, for every split point
// between its words, the path hash of the split with zero or more trailing
// wildcards appended, up to maxQueryTerms words in total.
func AllPaths(s string, maxQueryTerms int) []PathKey {
	keys := []PathKey{{Hash: Crawl(s)}}
	numSpaces := strings.Count(s, " ")
	num := maxQueryTerms - numSpaces
	j := 1
	for pos := strings.IndexByte(s, ' '); pos > 0; j++ {
		path := s
		for i := 0; i < num; i++ {
			key := PathKey{Hash: Path(path, pos+1)}
			if i > 0 {
				key.Shift = wildcardShift(numSpaces-j+1+i, i)
			}
			keys = append(keys, key)
			path += " " + Wildcard
		}
		next := strings.IndexByte(s[pos+1:], ' ')
		if next < 0 {
			break
		}
		pos += next + 1
	}
	return keys
}
