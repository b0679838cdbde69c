package iterator

import (
	"sort"

	"github.com/quarrysearch/quarry/internal/searcher/parser"
	"github.com/quarrysearch/quarry/internal/searcher/ranker"
)

// Intersect yields the rows every child holds. The child with the fewest
// results leads and the others are advanced to it. Quote phrases further
// require the positions of their terms to keep the quoted offsets.
type Intersect struct {
	children []Iterator
	lead     Iterator
	keyMap   []int
	quotes   [][]parser.QuoteTerm
	weight   float64

	cur  *Result
	done bool
}

// NewIntersect intersects children. keyMap maps the key indexes used by
// quotes to child indexes.
func NewIntersect(children []Iterator, keyMap []int, quotes [][]parser.QuoteTerm, weight float64) *Intersect {
	lead := children[0]
	for _, c := range children[1:] {
		if c.Count() < lead.Count() {
			lead = c
		}
	}
	if weight == 0 {
		weight = 1
	}
	return &Intersect{
		children: children,
		lead:     lead,
		keyMap:   keyMap,
		quotes:   quotes,
		weight:   weight,
	}
}

func (it *Intersect) Next() bool {
	if it.done {
		return false
	}
	if !it.lead.Next() {
		return it.finish()
	}
	return it.align(it.lead.Current().Pos)
}

func (it *Intersect) Advance(target DocPos) bool {
	if it.done {
		return false
	}
	if it.cur != nil && !it.cur.Pos.Less(target) {
		return true
	}
	if !it.lead.Advance(target) {
		return it.finish()
	}
	return it.align(it.lead.Current().Pos)
}

func (it *Intersect) finish() bool {
	it.cur, it.done = nil, true
	return false
}

// align advances the children until all of them agree on a row that also
// satisfies the quote phrases.
func (it *Intersect) align(target DocPos) bool {
	for {
		aligned := true
		for _, child := range it.children {
			if child == it.lead {
				continue
			}
			if !child.Advance(target) {
				return it.finish()
			}
			if pos := child.Current().Pos; target.Less(pos) {
				if !it.lead.Advance(pos) {
					return it.finish()
				}
				target = it.lead.Current().Pos
				aligned = false
				break
			}
		}
		if !aligned {
			continue
		}
		if it.quotesMatch() {
			it.cur = it.combine()
			return true
		}
		if !it.lead.Next() {
			return it.finish()
		}
		target = it.lead.Current().Pos
	}
}

func (it *Intersect) quotesMatch() bool {
	for _, phrase := range it.quotes {
		if !it.phraseMatches(phrase) {
			return false
		}
	}
	return true
}

func (it *Intersect) phraseMatches(phrase []parser.QuoteTerm) bool {
	if len(phrase) < 2 {
		return true
	}
	positions := make([][]uint32, len(phrase))
	for i, t := range phrase {
		if t.Key >= len(it.keyMap) {
			return true
		}
		positions[i] = it.children[it.keyMap[t.Key]].Current().Positions
	}
	first := phrase[0]
	for _, p := range positions[0] {
		start := int64(p) - int64(first.Offset)
		ok := true
		for i := 1; i < len(phrase) && ok; i++ {
			ok = containsPos(positions[i], start+int64(phrase[i].Offset))
		}
		if ok {
			return true
		}
	}
	return false
}

func containsPos(sorted []uint32, v int64) bool {
	if v < 0 {
		return false
	}
	i := sort.Search(len(sorted), func(i int) bool { return int64(sorted[i]) >= v })
	return i < len(sorted) && int64(sorted[i]) == v
}

func (it *Intersect) combine() *Result {
	l := it.lead.Current()
	out := *l
	out.Positions = nil
	out.Relevance = 0
	positions := make([][]uint32, 0, len(it.children))
	for _, c := range it.children {
		r := c.Current()
		out.Relevance += r.Relevance
		positions = append(positions, r.Positions)
	}
	out.Relevance *= it.weight
	out.Proximity = ranker.Proximity(positions)
	return &out
}

func (it *Intersect) Current() *Result { return it.cur }

func (it *Intersect) Count() int { return it.lead.Count() }

func (it *Intersect) SavePoint() DocPos {
	switch {
	case it.done:
		return End
	case it.cur == nil:
		return DocPos{}
	}
	return it.cur.Pos.next()
}
