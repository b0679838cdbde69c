package iterator

import (
	"github.com/quarrysearch/quarry/internal/indexer/codec"
	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/index"
	"github.com/quarrysearch/quarry/internal/searcher/ranker"
)

// Word iterates the postings of one word hash through every generation of
// a source, decoding at most Options.BlockSize postings at a time.
type Word struct {
	src    Source
	shards []*index.Shard
	key    hash.WordHash
	opts   Options

	gen    int
	offset int
	buf    []codec.Posting
	bufIdx int
	cur    *Result
	done   bool

	count    int
	docFreqs []int64
}

func NewWord(src Source, key hash.WordHash, opts Options) *Word {
	w := &Word{
		src:    src,
		shards: src.Shards(),
		key:    key,
		opts:   opts,
	}
	w.docFreqs = make([]int64, len(w.shards))
	for i, s := range w.shards {
		c := s.WordCount(key)
		w.docFreqs[i] = int64(c)
		w.count += int(c)
	}
	return w
}

// Found reports whether any generation has postings for the word.
func (w *Word) Found() bool { return w.count > 0 }

func (w *Word) Next() bool {
	if w.done {
		return false
	}
	for {
		if w.bufIdx >= len(w.buf) && !w.fill() {
			w.cur, w.done = nil, true
			return false
		}
		p := w.buf[w.bufIdx]
		w.bufIdx++
		if r, ok := w.result(p); ok {
			w.cur = r
			return true
		}
	}
}

func (w *Word) fill() bool {
	for w.gen < len(w.shards) {
		postings, next := w.shards[w.gen].Postings(w.key, w.offset, w.opts.blockSize())
		if len(postings) > 0 {
			w.buf, w.bufIdx, w.offset = postings, 0, next
			return true
		}
		w.gen++
		w.offset = 0
	}
	return false
}

func (w *Word) result(p codec.Posting) (*Result, bool) {
	s := w.shards[w.gen]
	info, ok := s.Info(p)
	if !ok || w.opts.filtered(info.Key) {
		return nil, false
	}
	r := newResult(w.src, w.gen, info)
	tf := float64(max(1, len(p.Positions)))
	r.Relevance = ranker.BM25(tf, float64(info.Length), s.AvgDocLength(), int64(s.NumDocs()), w.docFreqs[w.gen])
	return r, true
}

func (w *Word) Advance(target DocPos) bool {
	if w.done {
		return false
	}
	if w.cur != nil && !w.cur.Pos.Less(target) {
		return true
	}
	if target.Gen > w.gen {
		w.gen, w.offset, w.buf, w.bufIdx = target.Gen, 0, nil, 0
	}
	if target.Gen == w.gen && w.gen < len(w.shards) {
		for w.bufIdx < len(w.buf) && w.buf[w.bufIdx].DocIndex < target.Doc {
			w.bufIdx++
		}
		if w.bufIdx >= len(w.buf) {
			w.buf, w.bufIdx = nil, 0
			w.offset = w.shards[w.gen].SkipTo(w.key, w.offset, target.Doc)
		}
	}
	return w.Next()
}

func (w *Word) Current() *Result { return w.cur }

func (w *Word) Count() int { return w.count }

func (w *Word) SavePoint() DocPos {
	switch {
	case w.done:
		return End
	case w.cur == nil:
		return DocPos{}
	}
	return w.cur.Pos.next()
}
