package iterator

import (
	"container/heap"
	"slices"
)

// merge walks several iterators in position order. Children sitting on the
// same row are combined into one result.
type merge struct {
	children []Iterator
	h        iterHeap
	started  bool
	cur      *Result
	done     bool
	combine  func(rs []*Result) *Result
}

func (m *merge) start() {
	m.started = true
	for _, c := range m.children {
		if c.Next() {
			m.h = append(m.h, c)
		}
	}
	heap.Init(&m.h)
}

func (m *merge) Next() bool {
	if m.done {
		return false
	}
	if !m.started {
		m.start()
	} else {
		m.pop()
	}
	return m.take()
}

// pop moves every child on the current row forward.
func (m *merge) pop() {
	if m.cur == nil {
		return
	}
	for len(m.h) > 0 && sameRow(m.h[0].Current(), m.cur) {
		top := m.h[0]
		if top.Next() {
			heap.Fix(&m.h, 0)
		} else {
			heap.Pop(&m.h)
		}
	}
}

// take combines the children on the smallest row.
func (m *merge) take() bool {
	if len(m.h) == 0 {
		m.cur, m.done = nil, true
		return false
	}
	first := m.h[0].Current()
	rs := []*Result{first}
	for _, c := range m.h[1:] {
		if r := c.Current(); sameRow(r, first) {
			rs = append(rs, r)
		}
	}
	m.cur = m.combine(rs)
	return true
}

func (m *merge) Advance(target DocPos) bool {
	if m.done {
		return false
	}
	if !m.started {
		m.start()
	}
	if m.cur != nil && !m.cur.Pos.Less(target) {
		return true
	}
	for len(m.h) > 0 && m.h[0].Current().Pos.Less(target) {
		top := m.h[0]
		if top.Advance(target) {
			heap.Fix(&m.h, 0)
		} else {
			heap.Pop(&m.h)
		}
	}
	return m.take()
}

func (m *merge) Current() *Result { return m.cur }

func (m *merge) Count() int {
	n := 0
	for _, c := range m.children {
		n += c.Count()
	}
	return n
}

func (m *merge) SavePoint() DocPos {
	switch {
	case m.done:
		return End
	case m.cur == nil:
		return DocPos{}
	}
	return m.cur.Pos.next()
}

func sameRow(a, b *Result) bool {
	return a.Pos == b.Pos && a.IndexName == b.IndexName
}

type iterHeap []Iterator

func (h iterHeap) Len() int { return len(h) }

func (h iterHeap) Less(i, j int) bool {
	a, b := h[i].Current(), h[j].Current()
	if c := a.Pos.Compare(b.Pos); c != 0 {
		return c < 0
	}
	return a.IndexName < b.IndexName
}

func (h iterHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *iterHeap) Push(x any)   { *h = append(*h, x.(Iterator)) }
func (h *iterHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Union yields the rows of any child. It combines the parsed disjuncts of a
// query, which may search different indexes; a row found by several
// disjuncts keeps its best scoring result.
type Union struct {
	merge
}

func NewUnion(children []Iterator) *Union {
	u := &Union{merge{children: children}}
	u.combine = func(rs []*Result) *Result {
		best := rs[0]
		for _, r := range rs[1:] {
			if r.Relevance > best.Relevance {
				best = r
			}
		}
		return best
	}
	return u
}

// Disjoint yields the rows of any child with the relevance of all children
// on a row summed. Its children are the dictionary words matching a phrase
// path, so a row can hold several of them.
type Disjoint struct {
	merge
}

func NewDisjoint(children []Iterator) *Disjoint {
	d := &Disjoint{merge{children: children}}
	d.combine = func(rs []*Result) *Result {
		if len(rs) == 1 {
			return rs[0]
		}
		out := *rs[0]
		out.Positions = nil
		out.Relevance = 0
		for _, r := range rs {
			out.Relevance += r.Relevance
			out.Positions = append(out.Positions, r.Positions...)
		}
		slices.Sort(out.Positions)
		out.Positions = slices.Compact(out.Positions)
		return &out
	}
	return d
}
