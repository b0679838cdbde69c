package iterator

// Negation yields every row of a source that excluded does not. Inside an
// Intersect it removes the excluded rows from the other terms' results.
type Negation struct {
	universe          *Doc
	excluded          Iterator
	exhaustedExcluded bool
	cur               *Result
}

func NewNegation(src Source, excluded Iterator, opts Options) *Negation {
	return &Negation{
		universe: NewDoc(src, false, opts),
		excluded: excluded,
	}
}

func (n *Negation) Next() bool {
	if !n.universe.Next() {
		n.cur = nil
		return false
	}
	return n.settle()
}

func (n *Negation) Advance(target DocPos) bool {
	if n.cur != nil && !n.cur.Pos.Less(target) {
		return true
	}
	if !n.universe.Advance(target) {
		n.cur = nil
		return false
	}
	return n.settle()
}

// settle moves the universe past rows the excluded iterator holds.
func (n *Negation) settle() bool {
	for {
		r := n.universe.Current()
		if !n.isExcluded(r.Pos) {
			n.cur = &Result{
				Pos:           r.Pos,
				Key:           r.Key,
				IndexName:     r.IndexName,
				SummaryOffset: r.SummaryOffset,
				Aux:           r.Aux,
				IsDoc:         r.IsDoc,
				Length:        r.Length,
				DocRank:       r.DocRank,
				Proximity:     1,
			}
			return true
		}
		if !n.universe.Next() {
			n.cur = nil
			return false
		}
	}
}

func (n *Negation) isExcluded(pos DocPos) bool {
	if n.exhaustedExcluded {
		return false
	}
	if !n.excluded.Advance(pos) {
		n.exhaustedExcluded = true
		return false
	}
	return n.excluded.Current().Pos == pos
}

func (n *Negation) Current() *Result { return n.cur }

func (n *Negation) Count() int {
	return max(0, n.universe.Count()-n.excluded.Count())
}

func (n *Negation) SavePoint() DocPos { return n.universe.SavePoint() }
