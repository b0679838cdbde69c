package index

import (
	"github.com/quarrysearch/quarry/internal/indexer/hash"
)

// DocKey identifies a row of a shard. Content documents use the 24-byte form
// doc hash + host hash + extra hash; shorter keys of 8 or 16 bytes are also
// accepted.
type DocKey string

func NewDocKey(doc, host, extra hash.WordHash) DocKey {
	b := make([]byte, 0, 3*hash.Size)
	b = append(b, doc[:]...)
	b = append(b, host[:]...)
	b = append(b, extra[:]...)
	return DocKey(b)
}

func (k DocKey) part(i int) hash.WordHash {
	start := i * hash.Size
	if len(k) < start+hash.Size {
		return hash.WordHash{}
	}
	return hash.FromBytes([]byte(k[start : start+hash.Size]))
}

// DocHash is the hash of the document URL.
func (k DocKey) DocHash() hash.WordHash { return k.part(0) }

// HostHash is the hash of the host the row was found on.
func (k DocKey) HostHash() hash.WordHash { return k.part(1) }

// ExtraHash is the content hash of a document or the anchor hash of a link.
func (k DocKey) ExtraHash() hash.WordHash { return k.part(2) }

func (k DocKey) String() string {
	return hash.Base64([]byte(k))
}

// DocRow is one entry of a shard's document table.
type DocRow struct {
	Key           DocKey
	Length        uint32
	SummaryOffset uint64
	Aux           string
	IsDoc         bool
}

// OffsetUpdate replaces the stored summary location of a row.
type OffsetUpdate struct {
	SummaryOffset uint64
	Aux           string
}

// PostingInfo is a decoded posting joined with its document row.
type PostingInfo struct {
	Key           DocKey
	DocIndex      uint32
	Positions     []uint32
	Length        uint32
	SummaryOffset uint64
	Aux           string
	IsDoc         bool
}

// WordEntry is one word of a shard: its hash, posting count and the
// concatenated encoded postings.
type WordEntry struct {
	Hash     hash.WordHash
	Count    uint32
	Postings []byte
}

// WordStat summarises a word in one generation for dictionary lookups.
type WordStat struct {
	Hash       hash.WordHash
	Generation int
	Count      uint32
}
