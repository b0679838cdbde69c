// Package hash computes the 8-byte fingerprints used as keys throughout the
// index: word hashes, hash paths for phrase completion, partition numbers
// and salted blob fingerprints.
package hash

import (
	"bytes"
	"crypto/md5"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// Size is the length of a WordHash in bytes.
const Size = 8

// WordHash is the fingerprint of a term, meta word or URL.
type WordHash [Size]byte

// Crawl hashes s by folding the two halves of its MD5 digest together.
func Crawl(s string) WordHash {
	sum := md5.Sum([]byte(s))
	var h WordHash
	for i := range h {
		h[i] = sum[i] ^ sum[i+Size]
	}
	return h
}

func (h WordHash) String() string {
	return Base64(h[:])
}

// Bytes returns the hash as a slice.
func (h WordHash) Bytes() []byte {
	return h[:]
}

// Base64 encodes b with the path safe alphabet used for hashes: no padding,
// '/' becomes '_' and '+' becomes '-'.
func Base64(b []byte) string {
	s := base64.RawStdEncoding.EncodeToString(b)
	return strings.NewReplacer("/", "_", "+", "-").Replace(s)
}

// DecodeBase64 reverses Base64.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("_", "/", "-", "+").Replace(s)
	b, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding hash %q: %w", s, err)
	}
	return b, nil
}

// ParseBase64 decodes the textual form of a WordHash.
func ParseBase64(s string) (WordHash, error) {
	var h WordHash
	b, err := DecodeBase64(s)
	if err != nil {
		return h, err
	}
	if len(b) != Size {
		return h, fmt.Errorf("decoding hash %q: got %d bytes want %d", s, len(b), Size)
	}
	copy(h[:], b)
	return h, nil
}

// FromBytes copies the first Size bytes of b into a WordHash.
func FromBytes(b []byte) WordHash {
	var h WordHash
	copy(h[:], b)
	return h
}

// Compare orders two hashes by their first four bytes and then by the
// big-endian integer in bytes 4..8 with its low shift bits ignored. A
// positive shift turns the comparison into a hash-path subtree match.
func Compare(a, b WordHash, shift uint) int {
	if c := bytes.Compare(a[:4], b[:4]); c != 0 {
		return c
	}
	x := binary.BigEndian.Uint32(a[4:]) >> shift
	y := binary.BigEndian.Uint32(b[4:]) >> shift
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

// Partition maps input to one of n partitions.
func Partition(input string, n int) int {
	if n <= 1 {
		return 0
	}
	h := Crawl(input)
	return int(binary.BigEndian.Uint32(h[:4]) % uint32(n))
}

// Crypt returns a salted fingerprint of s. Only the last five characters of
// salt are used; an empty salt picks a random five digit one.
func Crypt(s, salt string) string {
	if salt == "" {
		salt = strconv.Itoa(10000 + rand.IntN(90000))
	} else if len(salt) > 5 {
		salt = salt[len(salt)-5:]
	}
	h := Crawl(s + salt)
	return Base64(h[:]) + salt
}

// CheckCrypt reports whether digest was produced by Crypt for s.
func CheckCrypt(s, digest string) bool {
	if len(digest) < 5 {
		return false
	}
	return Crypt(s, digest[len(digest)-5:]) == digest
}
