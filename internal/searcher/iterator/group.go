package iterator

import (
	"math"
	"strings"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
)

// GroupOptions control how Group collapses rows.
type GroupOptions struct {
	// BlockSize is the number of inner results grouped at a time.
	BlockSize int
	// GroupsWithDocs drops groups made only of links.
	GroupsWithDocs bool
	// Keep decides whether a row may be shown. Nil keeps rows allowed by
	// their robot flags.
	Keep func(*Result) bool
	// MachineID is stamped on every result.
	MachineID string
}

// Robot flags stored in the Aux field of a row.
const (
	RobotNoIndex    = "NOINDEX"
	RobotNone       = "NONE"
	RobotJustFollow = "JUSTFOLLOW"
)

// KeepIndexable rejects rows flagged NOINDEX, NONE or JUSTFOLLOW.
func KeepIndexable(r *Result) bool {
	for _, f := range strings.Fields(r.Aux) {
		switch strings.ToUpper(f) {
		case RobotNoIndex, RobotNone, RobotJustFollow:
			return false
		}
	}
	return true
}

// Group collapses the rows of one document: the document row itself and
// the link rows pointing at it, which share its doc hash. A group is shown
// as its document row, or as its first link when the document is not in the
// block; every link in a group raises its doc rank. Documents shown in an
// earlier block are not shown again.
type Group struct {
	inner   Iterator
	opts    GroupOptions
	pending bool

	buf []*Result
	// firsts holds the position of the earliest row of each buffered group.
	firsts []DocPos
	cur    *Result
	seen   map[hash.WordHash]struct{}
	done   bool
}

func NewGroup(inner Iterator, opts GroupOptions) *Group {
	if opts.BlockSize <= 0 {
		opts.BlockSize = defaultBlockSize
	}
	if opts.Keep == nil {
		opts.Keep = KeepIndexable
	}
	return &Group{
		inner: inner,
		opts:  opts,
		seen:  make(map[hash.WordHash]struct{}),
	}
}

func (g *Group) Next() bool {
	if g.done {
		return false
	}
	for len(g.buf) == 0 {
		if !g.fill() {
			g.cur, g.done = nil, true
			return false
		}
	}
	g.cur, g.buf, g.firsts = g.buf[0], g.buf[1:], g.firsts[1:]
	return true
}

// fill groups the next block of inner results. It reports false once the
// inner iterator is exhausted.
func (g *Group) fill() bool {
	block := make([]*Result, 0, g.opts.BlockSize)
	if g.pending {
		g.pending = false
		if r := g.inner.Current(); r != nil {
			block = append(block, r)
		}
	}
	for len(block) < g.opts.BlockSize && g.inner.Next() {
		block = append(block, g.inner.Current())
	}
	if len(block) == 0 {
		return false
	}
	g.buf, g.firsts = g.group(block)
	return true
}

type docGroup struct {
	rep   *Result
	first DocPos
	links int
}

func (g *Group) group(block []*Result) ([]*Result, []DocPos) {
	groups := make(map[hash.WordHash]*docGroup)
	var order []hash.WordHash
	for _, r := range block {
		if !g.opts.Keep(r) {
			continue
		}
		h := r.Key.DocHash()
		if _, shown := g.seen[h]; shown {
			continue
		}
		dg, ok := groups[h]
		if !ok {
			groups[h] = &docGroup{rep: r, first: r.Pos, links: linkCount(r)}
			order = append(order, h)
			continue
		}
		dg.links += linkCount(r)
		if r.IsDoc && !dg.rep.IsDoc {
			dg.rep = r
		} else if r.Relevance > dg.rep.Relevance && r.IsDoc == dg.rep.IsDoc {
			dg.rep = r
		}
	}
	out := make([]*Result, 0, len(order))
	firsts := make([]DocPos, 0, len(order))
	for _, h := range order {
		dg := groups[h]
		if g.opts.GroupsWithDocs && !dg.rep.IsDoc {
			continue
		}
		g.seen[h] = struct{}{}
		r := *dg.rep
		r.DocRank += math.Log10(1 + float64(dg.links))
		r.MachineID = g.opts.MachineID
		out = append(out, &r)
		firsts = append(firsts, dg.first)
	}
	return out, firsts
}

func linkCount(r *Result) int {
	if r.IsDoc {
		return 0
	}
	return 1
}

func (g *Group) Advance(target DocPos) bool {
	if g.done {
		return false
	}
	g.buf, g.firsts = nil, nil
	if !g.inner.Advance(target) {
		g.cur, g.done = nil, true
		return false
	}
	g.pending = true
	return g.Next()
}

func (g *Group) Current() *Result { return g.cur }

func (g *Group) Count() int { return g.inner.Count() }

// SavePoint is the earliest row of the first group not yet returned, so a
// resumed query shows it again. Without buffered groups it is the inner save
// point.
func (g *Group) SavePoint() DocPos {
	if len(g.buf) > 0 {
		return g.firsts[0]
	}
	return g.inner.SavePoint()
}
