package indexer

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/index"
	"github.com/quarrysearch/quarry/internal/indexer/segment"
	"github.com/quarrysearch/quarry/internal/indexer/tokenizer"
	"github.com/quarrysearch/quarry/pkg/config"
	apperrors "github.com/quarrysearch/quarry/pkg/errors"
	"github.com/quarrysearch/quarry/pkg/urlparser"
)

const generationExt = ".qshd"

// mergeSuffix marks a merged generation that has not replaced the two
// generations it was built from yet.
const mergeSuffix = ".merging"

// Link is an outgoing link of a crawled page.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// CrawlDocument is a fetched page as the crawler hands it to the indexer.
type CrawlDocument struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Language      string    `json:"language,omitempty"`
	HTTPCode      int       `json:"http_code,omitempty"`
	Modified      time.Time `json:"modified,omitempty"`
	Robots        []string  `json:"robots,omitempty"`
	Links         []Link    `json:"links,omitempty"`
	SummaryOffset uint64    `json:"summary_offset"`
}

// FlushEvent describes a generation written to disk.
type FlushEvent struct {
	IndexName  string `json:"index_name"`
	Generation int    `json:"generation"`
	Docs       int    `json:"docs"`
	Merged     bool   `json:"merged"`
}

// Stats summarises an engine.
type Stats struct {
	IndexName   string `json:"index_name"`
	Generations int    `json:"generations"`
	Docs        int    `json:"docs"`
	LinkDocs    int    `json:"link_docs"`
	Words       int    `json:"words"`
	ActiveDocs  int    `json:"active_docs"`
}

type genFile struct {
	path    string
	modTime time.Time
	size    int64
}

// Engine is one index: the sealed generations saved under its directory and
// the active generation still being filled. Queries only see sealed
// generations.
type Engine struct {
	name   string
	dir    string
	cfg    config.IndexerConfig
	logger *slog.Logger

	mu      sync.RWMutex
	sealed  []*index.Shard
	files   []genFile
	active  *index.Shard
	onFlush func(FlushEvent)
}

// NewEngine opens the index stored in dir, loading every saved generation.
func NewEngine(name, dir string, cfg config.IndexerConfig) (*Engine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating index data directory: %w", err)
	}
	e := &Engine{
		name:   name,
		dir:    dir,
		cfg:    cfg,
		logger: slog.Default().With("component", "indexer", "index_name", name),
		active: index.NewShard(),
	}
	if err := e.finishMerges(); err != nil {
		return nil, err
	}
	if _, err := e.ReloadGenerations(); err != nil {
		return nil, fmt.Errorf("loading generations: %w", err)
	}
	return e, nil
}

func (e *Engine) Name() string { return e.name }

// Shards returns the sealed generations, oldest first.
func (e *Engine) Shards() []*index.Shard {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*index.Shard(nil), e.sealed...)
}

// OnFlush registers fn to be called after every flush or merge.
func (e *Engine) OnFlush(fn func(FlushEvent)) {
	e.mu.Lock()
	e.onFlush = fn
	e.mu.Unlock()
}

// AddDocument indexes doc and its outgoing links into the active
// generation, flushing it once it holds generationMaxDocs rows.
func (e *Engine) AddDocument(doc CrawlDocument) error {
	if !urlparser.IsHTTP(doc.URL) || !urlparser.HasHost(doc.URL) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "document url %q is not an absolute http url", doc.URL)
	}
	text := doc.Title + " " + doc.Body
	tokens, _ := tokenizer.TokenizeSpan(text)
	wordLists := positionLists(tokens)
	hostName := urlparser.HostName(doc.URL)
	key := index.NewDocKey(hash.Crawl(doc.URL), hash.Crawl(hostName), hash.Crawl(tokenizer.Normalize(doc.Body)))

	e.mu.Lock()
	docIndex, err := e.active.AddDocumentWords(key, doc.SummaryOffset, wordLists, documentMetas(doc, text), true)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("indexing %s: %w", doc.URL, err)
	}
	if len(doc.Robots) > 0 {
		e.active.ChangeDocumentOffsets(map[index.DocKey]index.OffsetUpdate{
			key: {SummaryOffset: doc.SummaryOffset, Aux: strings.ToUpper(strings.Join(doc.Robots, " "))},
		})
	}
	for h, positions := range bigramPaths(tokens) {
		if err := e.active.AddPositions(h, docIndex, positions); err != nil {
			e.mu.Unlock()
			return fmt.Errorf("indexing phrase paths of %s: %w", doc.URL, err)
		}
	}
	links := e.addLinks(doc, hostName)
	full := e.active.NumDocs() >= e.cfg.GenerationMaxDocs
	e.mu.Unlock()

	e.logger.Debug("document indexed",
		"url", doc.URL,
		"doc_index", docIndex,
		"token_count", len(tokens),
		"links", links,
	)
	if full {
		e.logger.Info("active generation full, flushing", "threshold", e.cfg.GenerationMaxDocs)
		if err := e.Flush(); err != nil {
			return fmt.Errorf("flushing full generation: %w", err)
		}
	}
	return nil
}

// addLinks adds a link row for every followable outgoing link. Link rows
// are keyed by the target so they group with the target's document row.
func (e *Engine) addLinks(doc CrawlDocument, sourceHost string) int {
	added := 0
	for _, l := range doc.Links {
		target, ok := urlparser.CanonicalLink(l.URL, doc.URL)
		if !ok || !urlparser.IsHTTP(target) {
			continue
		}
		tokens, _ := tokenizer.TokenizeSpan(l.Text)
		metas := []string{"link:" + strings.ToLower(target)}
		if urlparser.HostName(target) != sourceHost {
			metas = append(metas, "elink:"+strings.ToLower(target))
		}
		key := index.NewDocKey(hash.Crawl(target), hash.Crawl(sourceHost), hash.Crawl(doc.URL))
		if _, err := e.active.AddDocumentWords(key, 0, positionLists(tokens), metas, false); err != nil {
			e.logger.Warn("skipping link", "url", doc.URL, "target", target, "error", err)
			continue
		}
		added++
	}
	return added
}

func positionLists(tokens []tokenizer.Token) map[string][]uint32 {
	out := make(map[string][]uint32, len(tokens))
	for _, t := range tokens {
		out[t.Term] = append(out[t.Term], uint32(t.Position))
	}
	return out
}

// bigramPaths maps the path hash of every pair of adjacent terms to the
// positions of the first term, so "w *" completions find the pair.
func bigramPaths(tokens []tokenizer.Token) map[hash.WordHash][]uint32 {
	out := make(map[hash.WordHash][]uint32)
	for i := 1; i < len(tokens); i++ {
		prev, cur := tokens[i-1], tokens[i]
		if cur.Position != prev.Position+1 {
			continue
		}
		h := hash.Path(prev.Term+" "+cur.Term, len(prev.Term)+1)
		out[h] = append(out[h], uint32(prev.Position))
	}
	return out
}

// documentMetas lists the meta words a page is found under.
func documentMetas(doc CrawlDocument, text string) []string {
	url := strings.ToLower(doc.URL)
	metas := []string{"info:" + url, "filetype:" + urlparser.DocumentType(doc.URL)}
	if host, ok := urlparser.Host(doc.URL); ok {
		metas = append(metas, "site:"+strings.ToLower(host))
	}
	for _, sub := range urlparser.HostSubdomains(doc.URL) {
		metas = append(metas, "site:"+sub)
	}
	lang := doc.Language
	if lang == "" {
		lang = urlparser.Lang(doc.URL)
	}
	lang = strings.ToLower(tokenizer.GuessLocale(text, lang))
	if lang != "" {
		metas = append(metas, "lang:"+lang)
		if base, _, ok := strings.Cut(lang, "-"); ok {
			metas = append(metas, "lang:"+base)
		}
	}
	if doc.HTTPCode != 0 {
		metas = append(metas, fmt.Sprintf("code:%d", doc.HTTPCode))
	}
	if !doc.Modified.IsZero() {
		m := doc.Modified.UTC()
		metas = append(metas, "date:"+m.Format("2006"), "date:"+m.Format("200601"), "date:"+m.Format("20060102"))
	}
	return metas
}

func (e *Engine) generationPath(gen int) string {
	return filepath.Join(e.dir, fmt.Sprintf("gen-%06d%s", gen, generationExt))
}

func (e *Engine) segmentOptions() segment.Options {
	return segment.Options{Compress: e.cfg.Compression}
}

// Flush seals the active generation and saves it. An empty active
// generation is not written.
func (e *Engine) Flush() error {
	e.mu.Lock()
	if e.active.NumDocs() == 0 {
		e.mu.Unlock()
		return nil
	}
	gen := len(e.sealed)
	path := e.generationPath(gen)
	if err := segment.WriteFile(path, e.active, e.segmentOptions()); err != nil {
		e.mu.Unlock()
		return fmt.Errorf("writing generation %d: %w", gen, err)
	}
	flushed := e.active
	e.sealed = append(e.sealed, flushed)
	e.files = append(e.files, statGeneration(path))
	e.active = index.NewShard()
	hook := e.onFlush
	numSealed := len(e.sealed)
	e.mu.Unlock()

	e.logger.Info("generation flushed",
		"generation", gen,
		"docs", flushed.NumDocs(),
		"words", flushed.NumWords(),
		"generations", numSealed,
	)
	if hook != nil {
		hook(FlushEvent{IndexName: e.name, Generation: gen, Docs: flushed.NumDocs()})
	}
	if limit := e.cfg.MaxGenerationsBeforeMerge; limit > 0 && numSealed >= limit {
		if _, err := e.MergeTail(); err != nil {
			return fmt.Errorf("merging after flush: %w", err)
		}
	}
	return nil
}

// MergeTail appends the newest generation to the one before it when both
// fit in one generation. It reports whether a merge happened.
func (e *Engine) MergeTail() (bool, error) {
	e.mu.Lock()
	n := len(e.sealed)
	if n < 2 || e.sealed[n-2].NumDocs()+e.sealed[n-1].NumDocs() > e.cfg.GenerationMaxDocs {
		e.mu.Unlock()
		return false, nil
	}
	// merge into a fresh copy so running queries keep a stable view
	merged, err := segment.ReadFile(e.files[n-2].path)
	if err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("reloading generation %d: %w", n-2, err)
	}
	if err := merged.AppendIndexShard(e.sealed[n-1]); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("appending generation %d: %w", n-1, err)
	}
	path := e.generationPath(n - 2)
	if err := segment.WriteFile(path+mergeSuffix, merged, e.segmentOptions()); err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("writing merged generation: %w", err)
	}
	if err := e.finishMerge(n - 2); err != nil {
		e.mu.Unlock()
		return false, err
	}
	e.sealed = append(e.sealed[:n-2], merged)
	e.files = append(e.files[:n-2], statGeneration(path))
	hook := e.onFlush
	e.mu.Unlock()

	e.logger.Info("generations merged", "generation", n-2, "docs", merged.NumDocs())
	if hook != nil {
		hook(FlushEvent{IndexName: e.name, Generation: n - 2, Docs: merged.NumDocs(), Merged: true})
	}
	return true, nil
}

// finishMerge replaces generation gen by its merged copy once generation
// gen+1 is gone. A merge interrupted at any point is finished by running it
// again.
func (e *Engine) finishMerge(gen int) error {
	if err := os.Remove(e.generationPath(gen + 1)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing merged generation %d: %w", gen+1, err)
	}
	path := e.generationPath(gen)
	if err := os.Rename(path+mergeSuffix, path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("installing merged generation %d: %w", gen, err)
	}
	return nil
}

// finishMerges completes merges left behind by a crash.
func (e *Engine) finishMerges() error {
	pending, err := filepath.Glob(filepath.Join(e.dir, "gen-*"+generationExt+mergeSuffix))
	if err != nil {
		return fmt.Errorf("listing pending merges: %w", err)
	}
	for _, p := range pending {
		var gen int
		if _, err := fmt.Sscanf(filepath.Base(p), "gen-%06d"+generationExt, &gen); err != nil {
			return fmt.Errorf("parsing pending merge %s: %w", filepath.Base(p), err)
		}
		if err := e.finishMerge(gen); err != nil {
			return err
		}
		e.logger.Warn("finished interrupted merge", "generation", gen)
	}
	return nil
}

// ChangeDocumentOffsets rewrites summary offsets and aux fields of rows in
// a sealed generation and saves it.
func (e *Engine) ChangeDocumentOffsets(gen int, updates map[index.DocKey]index.OffsetUpdate) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen < 0 || gen >= len(e.sealed) {
		return 0, fmt.Errorf("generation %d of %s: %w", gen, e.name, apperrors.ErrIndexNotFound)
	}
	changed := e.sealed[gen].ChangeDocumentOffsets(updates)
	if changed == 0 {
		return 0, nil
	}
	path := e.generationPath(gen)
	if err := segment.WriteFile(path, e.sealed[gen], e.segmentOptions()); err != nil {
		return changed, fmt.Errorf("saving generation %d: %w", gen, err)
	}
	e.files[gen] = statGeneration(path)
	return changed, nil
}

// WordInfo returns the dictionary words matching id under shift across the
// sealed generations, most frequent first, at most limit of them. Counts are
// summed over generations; Generation is the first one holding the word.
func (e *Engine) WordInfo(id hash.WordHash, shift uint, limit int) []index.WordStat {
	shards := e.Shards()
	byHash := make(map[hash.WordHash]*index.WordStat)
	var order []hash.WordHash
	for gen, s := range shards {
		for _, w := range s.MatchingWords(id, shift) {
			if st, ok := byHash[w.Hash]; ok {
				st.Count += w.Count
				continue
			}
			byHash[w.Hash] = &index.WordStat{Hash: w.Hash, Generation: gen, Count: w.Count}
			order = append(order, w.Hash)
		}
	}
	out := make([]index.WordStat, 0, len(order))
	for _, h := range order {
		out = append(out, *byHash[h])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return bytes.Compare(out[i].Hash[:], out[j].Hash[:]) < 0
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Stats reports the size of the engine.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := Stats{IndexName: e.name, Generations: len(e.sealed), ActiveDocs: e.active.NumDocs()}
	for _, s := range e.sealed {
		st.Docs += s.NumContentDocs()
		st.LinkDocs += s.NumLinkDocs()
		st.Words += s.NumWords()
	}
	return st
}

// ReloadGenerations picks up generations written by another process. New
// files are appended; if an already loaded file changed, every generation
// is reloaded. It returns the number of generations loaded.
func (e *Engine) ReloadGenerations() (int, error) {
	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading data directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), generationExt) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	current := make([]genFile, len(names))
	for i, name := range names {
		current[i] = statGeneration(filepath.Join(e.dir, name))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	start := len(e.files)
	if len(current) < start || !sameFiles(e.files, current[:start]) {
		start = 0
	}
	if start == len(current) {
		return 0, nil
	}
	shards := append([]*index.Shard(nil), e.sealed[:start]...)
	for _, f := range current[start:] {
		s, err := segment.ReadFile(f.path)
		if err != nil {
			return 0, fmt.Errorf("loading %s: %w", filepath.Base(f.path), err)
		}
		shards = append(shards, s)
	}
	e.sealed = shards
	e.files = current
	e.logger.Info("generations loaded", "loaded", len(current)-start, "generations", len(current))
	return len(current) - start, nil
}

func sameFiles(a, b []genFile) bool {
	for i := range a {
		if a[i].path != b[i].path || a[i].size != b[i].size || !a[i].modTime.Equal(b[i].modTime) {
			return false
		}
	}
	return true
}

func statGeneration(path string) genFile {
	f := genFile{path: path}
	if info, err := os.Stat(path); err == nil {
		f.modTime, f.size = info.ModTime(), info.Size()
	}
	return f
}

// Close flushes the active generation.
func (e *Engine) Close() error {
	if err := e.Flush(); err != nil {
		return fmt.Errorf("final flush of %s: %w", e.name, err)
	}
	return nil
}
