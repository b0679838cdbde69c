package iterator

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/quarrysearch/quarry/internal/indexer/codec"
	"github.com/quarrysearch/quarry/internal/indexer/index"
)

// Doc iterates every row of a source, or with docsOnly every content
// document. It answers site:any and site:doc.
type Doc struct {
	src      Source
	shards   []*index.Shard
	opts     Options
	docsOnly bool
	content  []*roaring.Bitmap

	cur   *Result
	done  bool
	count int
}

func NewDoc(src Source, docsOnly bool, opts Options) *Doc {
	d := &Doc{
		src:      src,
		shards:   src.Shards(),
		opts:     opts,
		docsOnly: docsOnly,
	}
	if docsOnly {
		d.content = make([]*roaring.Bitmap, len(d.shards))
		for i, s := range d.shards {
			d.content[i] = s.ContentDocs()
			d.count += int(d.content[i].GetCardinality())
		}
	} else {
		for _, s := range d.shards {
			d.count += s.NumDocs()
		}
	}
	return d
}

func (d *Doc) Next() bool {
	if d.done {
		return false
	}
	from := DocPos{}
	if d.cur != nil {
		from = d.cur.Pos.next()
	}
	return d.seek(from)
}

func (d *Doc) Advance(target DocPos) bool {
	if d.done {
		return false
	}
	if d.cur != nil && !d.cur.Pos.Less(target) {
		return true
	}
	return d.seek(target)
}

// seek moves to the first kept row at or after from.
func (d *Doc) seek(from DocPos) bool {
	gen, doc := from.Gen, from.Doc
	for gen < len(d.shards) {
		next, ok := d.nextRow(gen, doc)
		if !ok {
			gen, doc = gen+1, 0
			continue
		}
		info, _ := d.shards[gen].Info(codec.Posting{DocIndex: next})
		if d.opts.filtered(info.Key) {
			doc = next + 1
			continue
		}
		d.cur = newResult(d.src, gen, info)
		d.cur.Relevance = 1
		return true
	}
	d.cur, d.done = nil, true
	return false
}

func (d *Doc) nextRow(gen int, doc uint32) (uint32, bool) {
	if d.docsOnly {
		it := d.content[gen].Iterator()
		it.AdvanceIfNeeded(doc)
		if !it.HasNext() {
			return 0, false
		}
		return it.Next(), true
	}
	if int(doc) >= d.shards[gen].NumDocs() {
		return 0, false
	}
	return doc, true
}

func (d *Doc) Current() *Result { return d.cur }

func (d *Doc) Count() int { return d.count }

func (d *Doc) SavePoint() DocPos {
	switch {
	case d.done:
		return End
	case d.cur == nil:
		return DocPos{}
	}
	return d.cur.Pos.next()
}
