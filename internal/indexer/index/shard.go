package index

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/quarrysearch/quarry/internal/indexer/codec"
	"github.com/quarrysearch/quarry/internal/indexer/hash"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
)

var postingsDecoded atomic.Uint64

// PostingsDecoded returns the number of postings decoded by Postings since
// the process started.
func PostingsDecoded() uint64 { return postingsDecoded.Load() }

// Shard is one generation of indexed documents: a document table, a word to
// postings map and length counters. Postings of a word are kept encoded and
// sorted by doc index.
type Shard struct {
	mu             sync.RWMutex
	docs           []DocRow
	docIndexByKey  map[DocKey]uint32
	words          map[hash.WordHash][]byte
	wordCounts     map[hash.WordHash]uint32
	contentDocs    *roaring.Bitmap
	lenAllDocs     uint64
	lenAllLinkDocs uint64
	sortedWords    []hash.WordHash
}

func NewShard() *Shard {
	return &Shard{
		docIndexByKey: make(map[DocKey]uint32),
		words:         make(map[hash.WordHash][]byte),
		wordCounts:    make(map[hash.WordHash]uint32),
		contentDocs:   roaring.New(),
	}
}

// AddDocumentWords appends a row for key and a posting for every word and
// meta word. wordLists maps terms to their positions in the document; meta
// words are posted without positions. The document length is the number of
// word positions.
func (s *Shard) AddDocumentWords(key DocKey, summaryOffset uint64, wordLists map[string][]uint32, metaIDs []string, isDoc bool) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.docs) > codec.MaxDocIndex {
		return 0, fmt.Errorf("adding document %s: %w", key, apperrors.ErrDocIndexRange)
	}
	docIndex := uint32(len(s.docs))
	var length uint32
	encoded := make(map[hash.WordHash][]byte, len(wordLists)+len(metaIDs))
	for term, positions := range wordLists {
		length += uint32(len(positions))
		buf, err := codec.PackPosting(docIndex, positions)
		if err != nil {
			return 0, fmt.Errorf("adding word %q: %w", term, err)
		}
		encoded[hash.Crawl(term)] = buf
	}
	for _, meta := range metaIDs {
		h := hash.Crawl(meta)
		if _, ok := encoded[h]; ok {
			continue
		}
		buf, err := codec.PackPosting(docIndex, nil)
		if err != nil {
			return 0, fmt.Errorf("adding meta word %q: %w", meta, err)
		}
		encoded[h] = buf
	}
	for h, buf := range encoded {
		s.appendPosting(h, buf)
	}

	s.docs = append(s.docs, DocRow{
		Key:           key,
		Length:        length,
		SummaryOffset: summaryOffset,
		IsDoc:         isDoc,
	})
	s.docIndexByKey[key] = docIndex
	if isDoc {
		s.contentDocs.Add(docIndex)
		s.lenAllDocs += uint64(length)
	} else {
		s.lenAllLinkDocs += uint64(length)
	}
	return docIndex, nil
}

// AddPositions posts positions for an already hashed word to an existing
// row. It is used for phrase paths, whose keys are not crawl hashes of a
// term. Postings must still be added in increasing doc index order.
func (s *Shard) AddPositions(word hash.WordHash, docIndex uint32, positions []uint32) error {
	buf, err := codec.PackPosting(docIndex, positions)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if int(docIndex) >= len(s.docs) {
		return fmt.Errorf("adding positions for doc %d: %w", docIndex, apperrors.ErrDocIndexRange)
	}
	s.appendPosting(word, buf)
	return nil
}

func (s *Shard) appendPosting(h hash.WordHash, buf []byte) {
	if _, ok := s.words[h]; !ok {
		s.sortedWords = nil
	}
	s.words[h] = append(s.words[h], buf...)
	s.wordCounts[h]++
}

// PostingsSliceByID decodes at most sliceSize postings of word and returns
// them keyed by document key.
func (s *Shard) PostingsSliceByID(word hash.WordHash, sliceSize int) map[DocKey]PostingInfo {
	postings, _ := s.Postings(word, 0, sliceSize)
	out := make(map[DocKey]PostingInfo, len(postings))
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range postings {
		info, ok := s.infoLocked(p)
		if !ok {
			continue
		}
		out[info.Key] = info
	}
	return out
}

// Postings decodes up to limit postings of word starting at byte offset and
// returns them with the offset of the next undecoded posting.
func (s *Shard) Postings(word hash.WordHash, offset, limit int) ([]codec.Posting, int) {
	s.mu.RLock()
	buf := s.words[word]
	s.mu.RUnlock()
	out := make([]codec.Posting, 0, max(0, min(limit, 64)))
	for len(out) < limit {
		p, next, ok := codec.UnpackPosting(buf, offset)
		if !ok {
			break
		}
		out = append(out, p)
		offset = next
	}
	postingsDecoded.Add(uint64(len(out)))
	return out, offset
}

// SkipTo returns the offset of the first posting of word at or after offset
// whose doc index is at least docIndex. Only the first word of each posting
// is decoded.
func (s *Shard) SkipTo(word hash.WordHash, offset int, docIndex uint32) int {
	s.mu.RLock()
	buf := s.words[word]
	s.mu.RUnlock()
	for offset < len(buf) {
		d, ok := codec.PostingDocIndex(buf, offset)
		if !ok || d >= docIndex {
			return offset
		}
		offset = codec.SkipPosting(buf, offset)
	}
	return offset
}

// PostingsLen is the size in bytes of the encoded postings of word.
func (s *Shard) PostingsLen(word hash.WordHash) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.words[word])
}

// Info joins a decoded posting with its row.
func (s *Shard) Info(p codec.Posting) (PostingInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked(p)
}

func (s *Shard) infoLocked(p codec.Posting) (PostingInfo, bool) {
	if int(p.DocIndex) >= len(s.docs) {
		return PostingInfo{}, false
	}
	row := s.docs[p.DocIndex]
	return PostingInfo{
		Key:           row.Key,
		DocIndex:      p.DocIndex,
		Positions:     p.Positions,
		Length:        row.Length,
		SummaryOffset: row.SummaryOffset,
		Aux:           row.Aux,
		IsDoc:         row.IsDoc,
	}, true
}

// Row returns the document row at docIndex.
func (s *Shard) Row(docIndex uint32) (DocRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if int(docIndex) >= len(s.docs) {
		return DocRow{}, false
	}
	return s.docs[docIndex], true
}

// Lookup returns the doc index of key.
func (s *Shard) Lookup(key DocKey) (uint32, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.docIndexByKey[key]
	return i, ok
}

// AppendIndexShard merges other after the rows of s. Doc indexes of other
// are shifted by the current row count and its postings are appended after
// the existing postings of each word. Every posting of other is repacked
// before s changes, so a failed merge leaves s as it was.
func (s *Shard) AppendIndexShard(other *Shard) error {
	if other == s {
		return fmt.Errorf("appending shard to itself: %w", apperrors.ErrInvalidInput)
	}
	other.mu.RLock()
	defer other.mu.RUnlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	shift := uint32(len(s.docs))
	if int(shift)+len(other.docs) > codec.MaxDocIndex+1 {
		return fmt.Errorf("appending %d rows after %d: %w", len(other.docs), shift, apperrors.ErrDocIndexRange)
	}
	shifted := make(map[hash.WordHash][]byte, len(other.words))
	for word, buf := range other.words {
		var out []byte
		for offset := 0; offset < len(buf); {
			p, next, ok := codec.UnpackPosting(buf, offset)
			if !ok {
				return fmt.Errorf("decoding postings at %d: %w", offset, apperrors.ErrShardCorrupt)
			}
			enc, err := codec.PackPosting(p.DocIndex+shift, p.Positions)
			if err != nil {
				return fmt.Errorf("repacking posting: %w", err)
			}
			out = append(out, enc...)
			offset = next
		}
		shifted[word] = out
	}

	for word, out := range shifted {
		if _, ok := s.words[word]; !ok {
			s.sortedWords = nil
		}
		s.words[word] = append(s.words[word], out...)
		s.wordCounts[word] += other.wordCounts[word]
	}
	for i, row := range other.docs {
		docIndex := shift + uint32(i)
		s.docs = append(s.docs, row)
		s.docIndexByKey[row.Key] = docIndex
		if row.IsDoc {
			s.contentDocs.Add(docIndex)
		}
	}
	s.lenAllDocs += other.lenAllDocs
	s.lenAllLinkDocs += other.lenAllLinkDocs
	return nil
}

// ChangeDocumentOffsets rewrites the summary location of the given rows.
// Keys not present in the shard are ignored. It returns the number of rows
// changed.
func (s *Shard) ChangeDocumentOffsets(updates map[DocKey]OffsetUpdate) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for key, u := range updates {
		i, ok := s.docIndexByKey[key]
		if !ok {
			continue
		}
		s.docs[i].SummaryOffset = u.SummaryOffset
		s.docs[i].Aux = u.Aux
		changed++
	}
	return changed
}

// MatchingWords returns the words equal to id under hash.Compare with the
// given shift, in hash order.
func (s *Shard) MatchingWords(id hash.WordHash, shift uint) []WordEntry {
	s.mu.Lock()
	if s.sortedWords == nil {
		s.sortedWords = make([]hash.WordHash, 0, len(s.words))
		for w := range s.words {
			s.sortedWords = append(s.sortedWords, w)
		}
		sort.Slice(s.sortedWords, func(i, j int) bool {
			return bytes.Compare(s.sortedWords[i][:], s.sortedWords[j][:]) < 0
		})
	}
	sorted := s.sortedWords
	s.mu.Unlock()

	start := sort.Search(len(sorted), func(i int) bool {
		return hash.Compare(sorted[i], id, shift) >= 0
	})
	var out []WordEntry
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := start; i < len(sorted) && hash.Compare(sorted[i], id, shift) == 0; i++ {
		out = append(out, WordEntry{Hash: sorted[i], Count: s.wordCounts[sorted[i]]})
	}
	return out
}

// WordCount is the number of postings of word.
func (s *Shard) WordCount(word hash.WordHash) uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.wordCounts[word]
}

// NumWords is the number of distinct words in the shard.
func (s *Shard) NumWords() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.words)
}

// NumDocs is the number of rows, documents and links together.
func (s *Shard) NumDocs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// NumContentDocs is the number of rows that are documents.
func (s *Shard) NumContentDocs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.contentDocs.GetCardinality())
}

// NumLinkDocs is the number of link rows.
func (s *Shard) NumLinkDocs() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs) - int(s.contentDocs.GetCardinality())
}

func (s *Shard) LenAllDocs() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenAllDocs
}

func (s *Shard) LenAllLinkDocs() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lenAllLinkDocs
}

// AvgDocLength is the mean length of document rows, or of link rows when
// the shard holds no documents.
func (s *Shard) AvgDocLength() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := s.contentDocs.GetCardinality()
	if n > 0 {
		return float64(s.lenAllDocs) / float64(n)
	}
	if links := uint64(len(s.docs)); links > 0 {
		return float64(s.lenAllLinkDocs) / float64(links)
	}
	return 0
}

// ContentDocs returns a copy of the bitmap of doc indexes that are documents
// rather than links.
func (s *Shard) ContentDocs() *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contentDocs.Clone()
}

// Snapshot holds the persistent state of a shard.
type Snapshot struct {
	Docs           []DocRow
	Words          []WordEntry
	LenAllDocs     uint64
	LenAllLinkDocs uint64
}

// Snapshot copies the shard state with words in hash order.
func (s *Shard) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Docs:           append([]DocRow(nil), s.docs...),
		Words:          make([]WordEntry, 0, len(s.words)),
		LenAllDocs:     s.lenAllDocs,
		LenAllLinkDocs: s.lenAllLinkDocs,
	}
	for h, buf := range s.words {
		snap.Words = append(snap.Words, WordEntry{
			Hash:     h,
			Count:    s.wordCounts[h],
			Postings: append([]byte(nil), buf...),
		})
	}
	sort.Slice(snap.Words, func(i, j int) bool {
		return bytes.Compare(snap.Words[i].Hash[:], snap.Words[j].Hash[:]) < 0
	})
	return snap
}

// FromSnapshot rebuilds a shard, including its key map and content bitmap.
func FromSnapshot(snap Snapshot) (*Shard, error) {
	if len(snap.Docs) > codec.MaxDocIndex+1 {
		return nil, fmt.Errorf("restoring %d rows: %w", len(snap.Docs), apperrors.ErrDocIndexRange)
	}
	s := NewShard()
	s.docs = snap.Docs
	for i, row := range snap.Docs {
		s.docIndexByKey[row.Key] = uint32(i)
		if row.IsDoc {
			s.contentDocs.Add(uint32(i))
		}
	}
	for _, w := range snap.Words {
		s.words[w.Hash] = w.Postings
		s.wordCounts[w.Hash] = w.Count
	}
	s.lenAllDocs = snap.LenAllDocs
	s.lenAllLinkDocs = snap.LenAllLinkDocs
	return s, nil
}
