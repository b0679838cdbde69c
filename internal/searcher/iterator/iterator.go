// Package iterator implements the cursors queries are evaluated with. Leaf
// iterators walk the postings of one word, or every row, across the
// generations of an index; combinators intersect, unite and negate them;
// Group collapses the rows of a document and Network fans a query out to
// remote partitions.
//
// Local iterators move forward in DocPos order and never revisit a row.
// Next moves to the following result and Advance to the first result at or
// after a position; both report false once the iterator is exhausted.
package iterator

import (
	"math"
	"strconv"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/index"
)

// DocPos orders the rows of an index: by generation, then by doc index.
type DocPos struct {
	Gen int    `json:"gen"`
	Doc uint32 `json:"doc"`
}

// End is past every row; an exhausted iterator reports it as save point.
var End = DocPos{Gen: math.MaxInt32}

func (p DocPos) Compare(q DocPos) int {
	switch {
	case p.Gen < q.Gen:
		return -1
	case p.Gen > q.Gen:
		return 1
	case p.Doc < q.Doc:
		return -1
	case p.Doc > q.Doc:
		return 1
	}
	return 0
}

func (p DocPos) Less(q DocPos) bool { return p.Compare(q) < 0 }

func (p DocPos) next() DocPos { return DocPos{Gen: p.Gen, Doc: p.Doc + 1} }

func (p DocPos) String() string {
	return strconv.Itoa(p.Gen) + ":" + strconv.FormatUint(uint64(p.Doc), 10)
}

// Iterator is a cursor over query results.
type Iterator interface {
	Next() bool
	Advance(target DocPos) bool
	// Current is the result at the cursor, nil before the first move and
	// after exhaustion.
	Current() *Result
	// Count estimates the number of results.
	Count() int
	// SavePoint is where a new iterator over the same query resumes.
	SavePoint() DocPos
}

// Result is one row produced by an iterator.
type Result struct {
	Pos           DocPos
	Key           index.DocKey
	IndexName     string
	SummaryOffset uint64
	Aux           string
	IsDoc         bool
	Length        uint32
	Positions     []uint32
	DocRank       float64
	Relevance     float64
	Proximity     float64
	Score         float64
	MachineID     string
}

func (r *Result) SortScore() float64 { return r.Score }

func (r *Result) SortKey() string { return r.IndexName + "/" + string(r.Key) }

// Source is an index whose generations iterators read.
type Source interface {
	Name() string
	// Shards returns the searchable generations, oldest first.
	Shards() []*index.Shard
}

// Options apply to leaf iterators.
type Options struct {
	// Filter holds host hashes whose rows are skipped.
	Filter map[hash.WordHash]struct{}
	// BlockSize bounds the postings decoded at a time.
	BlockSize int
}

const defaultBlockSize = 64

func (o Options) blockSize() int {
	if o.BlockSize <= 0 {
		return defaultBlockSize
	}
	return o.BlockSize
}

func (o Options) filtered(key index.DocKey) bool {
	if len(o.Filter) == 0 {
		return false
	}
	_, ok := o.Filter[key.HostHash()]
	return ok
}

// docRank favours rows added early in a generation; crawls add pages in
// priority order.
func docRank(doc uint32) float64 {
	return math.Max(0, 16-math.Log2(float64(doc)+1))
}

func newResult(src Source, gen int, info index.PostingInfo) *Result {
	return &Result{
		Pos:           DocPos{Gen: gen, Doc: info.DocIndex},
		Key:           info.Key,
		IndexName:     src.Name(),
		SummaryOffset: info.SummaryOffset,
		Aux:           info.Aux,
		IsDoc:         info.IsDoc,
		Length:        info.Length,
		Positions:     info.Positions,
		DocRank:       docRank(info.DocIndex),
		Proximity:     1,
	}
}

// Collect moves it forward at most n times and returns the results.
func Collect(it Iterator, n int) []*Result {
	out := make([]*Result, 0, min(n, 256))
	for len(out) < n && it.Next() {
		out = append(out, it.Current())
	}
	return out
}

// Resume positions it at savePoint and collects at most n results from
// there.
func Resume(it Iterator, savePoint DocPos, n int) []*Result {
	if n <= 0 || !it.Advance(savePoint) {
		return nil
	}
	out := []*Result{it.Current()}
	for len(out) < n && it.Next() {
		out = append(out, it.Current())
	}
	return out
}

// From starts it at pos: the first Next moves to the first result at or
// after pos. It resumes a query from a save point.
func From(it Iterator, pos DocPos) Iterator {
	return &from{Iterator: it, pos: pos}
}

type from struct {
	Iterator
	pos     DocPos
	started bool
}

func (f *from) Next() bool {
	if !f.started {
		f.started = true
		return f.Iterator.Advance(f.pos)
	}
	return f.Iterator.Next()
}

func (f *from) Advance(target DocPos) bool {
	f.started = true
	if target.Less(f.pos) {
		target = f.pos
	}
	return f.Iterator.Advance(target)
}

func (f *from) SavePoint() DocPos {
	if !f.started {
		return f.pos
	}
	return f.Iterator.SavePoint()
}
