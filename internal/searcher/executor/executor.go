// Package executor evaluates parsed queries. A Model builds an iterator tree
// for the word structs of a query, pulls a window of results out of it,
// ranks them and caches the ranked window in pages of ten.
package executor

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/searcher/iterator"
	"github.com/quarrysearch/quarry/internal/searcher/parser"
	"github.com/quarrysearch/quarry/internal/searcher/ranker"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/tracing"
	"github.com/quarrysearch/quarry/pkg/urlparser"
)

// cachePageSize is the granularity results are retrieved and cached in.
const cachePageSize = 10

// Indexes resolves index names to open engines.
type Indexes interface {
	Lookup(name string) (*indexer.Engine, error)
	DefaultIndex() string
}

// PageCache stores ranked result windows. compute runs at most once per key
// at a time; the bool reports a cache hit.
type PageCache interface {
	GetOrCompute(ctx context.Context, key string, compute func() (*iterator.PartitionResponse, error)) (*iterator.PartitionResponse, bool, error)
}

// SavePoints persists where a named query stopped.
type SavePoints interface {
	Get(name string) (iterator.DocPos, bool, error)
	Put(name string, pos iterator.DocPos) error
}

// Model answers queries against local indexes or, when partitions are
// configured, against remote index partitions.
type Model struct {
	indexes     Indexes
	partitions  []iterator.PartitionClient
	onPartition func(partition string, err error)
	cache       PageCache
	savePoints  SavePoints
	cfg         config.SearchConfig
	logger      *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithCache caches ranked windows in c.
func WithCache(c PageCache) Option {
	return func(m *Model) { m.cache = c }
}

// WithSavePoints keeps the save points of named queries in s.
func WithSavePoints(s SavePoints) Option {
	return func(m *Model) { m.savePoints = s }
}

// WithPartitions sends queries to remote partitions instead of local
// indexes. observe, if set, is told the outcome of every partition request.
func WithPartitions(clients []iterator.PartitionClient, observe func(partition string, err error)) Option {
	return func(m *Model) {
		m.partitions = clients
		m.onPartition = observe
	}
}

func New(indexes Indexes, cfg config.SearchConfig, opts ...Option) *Model {
	if cfg.ResultsPerPage <= 0 {
		cfg.ResultsPerPage = 10
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 1000
	}
	if cfg.MinResultsToGroup <= 0 {
		cfg.MinResultsToGroup = 200
	}
	if cfg.ServerAlpha < 1 {
		cfg.ServerAlpha = 1.6
	}
	if cfg.DisjointFanIn <= 0 {
		cfg.DisjointFanIn = 50
	}
	m := &Model{
		indexes: indexes,
		cfg:     cfg,
		logger:  slog.Default().With("component", "query-executor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// PageRequest asks for one page of results of a query.
type PageRequest struct {
	Query string
	// Low is the rank of the first result on the page.
	Low            int
	ResultsPerPage int
	// Raw > 0 returns ungrouped rows in index order without fusion.
	Raw int
	// Filter lists hosts whose rows are left out.
	Filter   []string
	SaveName string
	// Mix, when set, rewrites the query into one part per mix group.
	Mix *parser.Mix
	// IndexName is searched by disjuncts that name no index.
	IndexName string
}

// Page is one page of results.
type Page struct {
	Query          string                `json:"query"`
	TotalRows      int                   `json:"total_rows"`
	Low            int                   `json:"low"`
	ResultsPerPage int                   `json:"results_per_page"`
	Results        []iterator.WireResult `json:"results"`
	Words          []string              `json:"words"`
}

// SummaryRequest asks for a window of ranked results of parsed word
// structs.
type SummaryRequest struct {
	// Query is the text the word structs were parsed from. Partitions are
	// sent the text and parse it themselves.
	Query    string
	Words    []*parser.WordStruct
	Limit    int
	Num      int
	Raw      int
	Filter   []string
	SaveName string
	// Local searches local indexes even when partitions are configured.
	Local bool
}

// GetPhrasePageResults answers a full query. The query is split into
// presentation parts, each part into disjuncts; every part fills the result
// slots of the page its #N# marker assigns to it.
func (m *Model) GetPhrasePageResults(ctx context.Context, req PageRequest) (*Page, error) {
	num := req.ResultsPerPage
	if num <= 0 {
		num = m.cfg.ResultsPerPage
	}
	low := max(req.Low, 0)
	page := &Page{
		Query:          req.Query,
		Low:            low,
		ResultsPerPage: num,
		Results:        []iterator.WireResult{},
	}
	if low >= m.cfg.MaxResults {
		return page, nil
	}
	num = min(num, m.cfg.MaxResults-low)

	_, parseSpan := tracing.StartChildSpan(ctx, "parse")
	query := req.Query
	if req.Mix != nil {
		query = parser.RewriteMixQuery(query, *req.Mix)
	}
	type plannedPart struct {
		phrase string
		words  []*parser.WordStruct
		slots  []int
		local  int
	}
	var parts []plannedPart
	var highlight []string
	high := low + num
	for _, p := range parser.SplitPresentation(query, low, num) {
		words, hl := m.parseDisjuncts(p.Phrase, req.IndexName)
		highlight = append(highlight, hl...)
		if len(words) == 0 {
			continue
		}
		part := plannedPart{phrase: p.Phrase, words: words, local: -1}
		local := 0
		for _, b := range p.Bounds {
			for s := b.Start; s < b.Start+b.Count && s < high; s, local = s+1, local+1 {
				if s < low {
					continue
				}
				if part.local < 0 {
					part.local = local
				}
				part.slots = append(part.slots, s-low)
			}
		}
		if len(part.slots) > 0 {
			parts = append(parts, part)
		}
	}
	parseSpan.SetAttr("parts", len(parts))
	parseSpan.End()

	slots := make([]*iterator.WireResult, num)
	for _, part := range parts {
		resp, err := m.GetSummariesByHash(ctx, SummaryRequest{
			Query:    part.phrase,
			Words:    part.words,
			Limit:    part.local,
			Num:      len(part.slots),
			Raw:      req.Raw,
			Filter:   req.Filter,
			SaveName: req.SaveName,
		})
		if err != nil {
			return nil, err
		}
		page.TotalRows += resp.TotalRows
		for i := range resp.Results {
			if i < len(part.slots) {
				slots[part.slots[i]] = &resp.Results[i]
			}
		}
	}
	for _, r := range slots {
		if r != nil {
			page.Results = append(page.Results, *r)
		}
	}
	page.Words = dedupeWords(highlight)
	m.logger.Info("query executed",
		"query", req.Query,
		"parts", len(parts),
		"results", len(page.Results),
		"total_rows", page.TotalRows,
	)
	return page, nil
}

// Partition answers a request from a coordinator: the query is parsed
// locally and searched against local indexes only.
func (m *Model) Partition(ctx context.Context, req iterator.PartitionRequest) (*iterator.PartitionResponse, error) {
	words, _ := m.parseDisjuncts(req.Query, req.IndexName)
	return m.GetSummariesByHash(ctx, SummaryRequest{
		Query:    req.Query,
		Words:    words,
		Limit:    req.Offset,
		Num:      req.Num,
		Filter:   req.Filter,
		SaveName: req.SaveName,
		Local:    true,
	})
}

func (m *Model) parseDisjuncts(phrase, indexName string) ([]*parser.WordStruct, []string) {
	if indexName == "" {
		indexName = m.cfg.DefaultIndex
	}
	if indexName == "" && m.indexes != nil {
		indexName = m.indexes.DefaultIndex()
	}
	opts := parser.Options{
		GuessSemantics: true,
		Locale:         m.cfg.Locale,
		IndexName:      indexName,
		MaxQueryTerms:  m.cfg.MaxQueryTerms,
	}
	var words []*parser.WordStruct
	var highlight []string
	for _, d := range parser.SplitDisjuncts(phrase) {
		ws, hl := parser.ParseConjunctive(d, opts)
		if ws == nil {
			continue
		}
		words = append(words, ws)
		highlight = append(highlight, hl...)
	}
	return words, highlight
}

// GetSummariesByHash returns results Limit to Limit+Num of the word
// structs. Without a save name the results are retrieved in whole cache
// pages and the ranked window is cached; with one the query continues from
// where the last request under that name stopped and nothing is cached.
func (m *Model) GetSummariesByHash(ctx context.Context, req SummaryRequest) (*iterator.PartitionResponse, error) {
	if len(req.Words) == 0 || req.Num <= 0 {
		return &iterator.PartitionResponse{Results: []iterator.WireResult{}}, nil
	}
	ctx, pageSpan := tracing.StartChildSpan(ctx, "page")
	defer pageSpan.End()
	if req.SaveName != "" {
		pageSpan.SetAttr("save_name", req.SaveName)
		return m.savedSummaries(ctx, req)
	}
	limit := max(req.Limit, 0)
	toRetrieve := (limit + req.Num + cachePageSize - 1) / cachePageSize * cachePageSize
	startSlice := limit / cachePageSize * cachePageSize

	compute := func() (*iterator.PartitionResponse, error) {
		return m.rankedWindow(ctx, req, startSlice, toRetrieve)
	}
	var (
		window *iterator.PartitionResponse
		hit    bool
		err    error
	)
	if m.cache != nil {
		window, hit, err = m.cache.GetOrCompute(ctx, m.cacheKey(req, startSlice, toRetrieve), compute)
		pageSpan.SetAttr("cache_hit", hit)
	} else {
		window, err = compute()
	}
	if err != nil {
		return nil, err
	}

	out := &iterator.PartitionResponse{TotalRows: window.TotalRows, Results: []iterator.WireResult{}}
	from := limit - startSlice
	if from < len(window.Results) {
		out.Results = append(out.Results, window.Results[from:min(from+req.Num, len(window.Results))]...)
	}
	return out, nil
}

// rankedWindow retrieves the first toRetrieve results and returns the
// ranked ones from startSlice on.
func (m *Model) rankedWindow(ctx context.Context, req SummaryRequest, startSlice, toRetrieve int) (*iterator.PartitionResponse, error) {
	lookupCtx, lookupSpan := tracing.StartChildSpan(ctx, "lookup")
	it, err := m.QueryIterator(lookupCtx, req, max(toRetrieve, m.cfg.MinResultsToGroup))
	if err != nil {
		lookupSpan.End()
		return nil, err
	}
	results := iterator.Collect(it, toRetrieve)
	retrieved := len(results)
	lookupSpan.SetAttr("retrieved", retrieved)
	lookupSpan.End()

	_, rankSpan := tracing.StartChildSpan(ctx, "rank")
	results = m.rank(req, results)
	rankSpan.End()

	total := len(results)
	if retrieved >= toRetrieve {
		total = max(it.Count(), total)
	}
	window := &iterator.PartitionResponse{TotalRows: total, Results: []iterator.WireResult{}}
	for i := startSlice; i < len(results); i++ {
		window.Results = append(window.Results, iterator.ToWire(results[i]))
	}
	return window, nil
}

// savedSummaries continues a named query from its save point and stores
// where it stopped. Partitions keep the save points of network queries.
func (m *Model) savedSummaries(ctx context.Context, req SummaryRequest) (*iterator.PartitionResponse, error) {
	network := m.network(req)
	name := req.SaveName + ":" + fingerprint(req.Words)
	var (
		pos   iterator.DocPos
		found bool
		err   error
	)
	if m.savePoints != nil && !network {
		pos, found, err = m.savePoints.Get(name)
		if err != nil {
			return nil, fmt.Errorf("loading save point %s: %w", req.SaveName, err)
		}
	}
	out := &iterator.PartitionResponse{Results: []iterator.WireResult{}}
	if found && pos == iterator.End {
		return out, nil
	}

	lookupCtx, lookupSpan := tracing.StartChildSpan(ctx, "lookup")
	it, err := m.QueryIterator(lookupCtx, req, max(req.Num, m.cfg.MinResultsToGroup))
	if err != nil {
		lookupSpan.End()
		return nil, err
	}
	if found {
		it = iterator.From(it, pos)
	}
	results := iterator.Collect(it, req.Num)
	lookupSpan.End()

	if m.savePoints != nil && !network {
		if err := m.savePoints.Put(name, it.SavePoint()); err != nil {
			return nil, fmt.Errorf("storing save point %s: %w", req.SaveName, err)
		}
	}
	for _, r := range m.rank(req, results) {
		out.Results = append(out.Results, iterator.ToWire(r))
	}
	out.TotalRows = max(it.Count(), len(out.Results))
	return out, nil
}

// rank orders results best first by fusing their doc rank, relevance and,
// for multi-term queries, proximity ranks. Results merged from partitions
// are fused again over the whole window. Rows of a document already shown,
// copies of a shown page and rows robots forbid are dropped. Raw results are
// left in index order.
func (m *Model) rank(req SummaryRequest, results []*iterator.Result) []*iterator.Result {
	if req.Raw > 0 {
		for _, r := range results {
			r.Score = r.Relevance
		}
		return results
	}
	useProximity := len(req.Words) > 1 || len(req.Words[0].Keys) > 1
	signals := make([]ranker.Signals, len(results))
	for i, r := range results {
		if !useProximity {
			r.Proximity = 1
		}
		signals[i] = ranker.Signals{DocRank: r.DocRank, Relevance: r.Relevance, Proximity: r.Proximity}
	}
	for i, score := range ranker.Fuse(signals, useProximity) {
		results[i].Score = score
	}
	slices.SortStableFunc(results, func(a, b *iterator.Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.SortKey(), b.SortKey())
	})

	docs := make(map[hash.WordHash]struct{}, len(results))
	pages := make(map[hash.WordHash]struct{}, len(results))
	out := results[:0]
	for _, r := range results {
		if !iterator.KeepIndexable(r) {
			continue
		}
		if _, ok := docs[r.Key.DocHash()]; ok {
			continue
		}
		if r.IsDoc {
			if _, ok := pages[r.Key.ExtraHash()]; ok {
				continue
			}
			pages[r.Key.ExtraHash()] = struct{}{}
		}
		docs[r.Key.DocHash()] = struct{}{}
		out = append(out, r)
	}
	return out
}

func (m *Model) network(req SummaryRequest) bool {
	return len(m.partitions) > 0 && !req.Local
}

// QueryIterator builds the iterator tree of req. blockSize bounds the rows
// grouped, or asked of partitions, at a time.
func (m *Model) QueryIterator(ctx context.Context, req SummaryRequest, blockSize int) (iterator.Iterator, error) {
	if m.network(req) {
		indexName := ""
		if len(req.Words) > 0 {
			indexName = req.Words[0].IndexName
		}
		return iterator.NewNetwork(ctx, req.Query, m.partitions, iterator.NetworkOptions{
			IndexName:       indexName,
			Filter:          req.Filter,
			SaveName:        req.SaveName,
			ResultsPerBlock: blockSize,
			Alpha:           m.cfg.ServerAlpha,
			Timeout:         m.cfg.TimeoutPerPartition,
			OnPartition:     m.onPartition,
		}), nil
	}

	opts := iterator.Options{Filter: hostFilter(req.Filter), BlockSize: blockSize}
	conjuncts := make([]iterator.Iterator, 0, len(req.Words))
	groupsWithDocs := false
	for _, ws := range req.Words {
		engine, err := m.indexes.Lookup(ws.IndexName)
		if err != nil {
			return nil, fmt.Errorf("building iterator: %w", err)
		}
		for _, k := range ws.Keys {
			if k.Word == parser.DocSite {
				groupsWithDocs = true
			}
		}
		if it := m.conjunctIterator(engine, ws, opts); it != nil {
			conjuncts = append(conjuncts, it)
		}
	}

	var it iterator.Iterator
	if len(conjuncts) == 1 {
		it = conjuncts[0]
	} else {
		it = iterator.NewUnion(conjuncts)
	}
	if req.Raw == 0 {
		it = iterator.NewGroup(it, iterator.GroupOptions{
			BlockSize:      blockSize,
			GroupsWithDocs: groupsWithDocs,
			MachineID:      m.cfg.MachineID,
		})
	}
	return it, nil
}

// conjunctIterator intersects the terms of one word struct. It returns nil
// when a term occurs nowhere in the index, so the conjunct has no results.
func (m *Model) conjunctIterator(src *indexer.Engine, ws *parser.WordStruct, opts iterator.Options) iterator.Iterator {
	keys, keyMap := ws.DistinctKeys()
	children := make([]iterator.Iterator, 0, len(keys)+len(ws.DisallowKeys))
	for _, k := range keys {
		switch {
		case k.Word == parser.AnySite:
			children = append(children, iterator.NewDoc(src, false, opts))
		case k.Word == parser.DocSite:
			children = append(children, iterator.NewDoc(src, true, opts))
		case k.IsPath():
			stats := src.WordInfo(k.Hash, k.Shift, m.cfg.DisjointFanIn)
			if len(stats) == 0 {
				return nil
			}
			words := make([]iterator.Iterator, 0, len(stats))
			for _, st := range stats {
				words = append(words, iterator.NewWord(src, st.Hash, opts))
			}
			if len(words) == 1 {
				children = append(children, words[0])
			} else {
				children = append(children, iterator.NewDisjoint(words))
			}
		default:
			w := iterator.NewWord(src, k.Hash, opts)
			if !w.Found() {
				return nil
			}
			children = append(children, w)
		}
	}
	for _, d := range ws.DisallowKeys {
		w := iterator.NewWord(src, d.Hash, opts)
		if !w.Found() {
			continue
		}
		children = append(children, iterator.NewNegation(src, w, opts))
	}
	if len(children) == 1 && len(ws.QuotePhrases) == 0 && (ws.Weight == 0 || ws.Weight == 1) {
		return children[0]
	}
	return iterator.NewIntersect(children, keyMap, ws.QuotePhrases, ws.Weight)
}

func hostFilter(hosts []string) map[hash.WordHash]struct{} {
	if len(hosts) == 0 {
		return nil
	}
	out := make(map[hash.WordHash]struct{}, len(hosts))
	for _, h := range hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if strings.Contains(h, "://") {
			h = urlparser.HostName(h)
		}
		if h == "" {
			continue
		}
		out[hash.Crawl(h)] = struct{}{}
	}
	return out
}

func (m *Model) cacheKey(req SummaryRequest, startSlice, toRetrieve int) string {
	var b strings.Builder
	b.WriteString(fingerprint(req.Words))
	b.WriteString(":raw=")
	b.WriteString(strconv.Itoa(req.Raw))
	for _, f := range req.Filter {
		b.WriteString(":-")
		b.WriteString(f)
	}
	if m.network(req) {
		b.WriteString(":net")
	}
	fmt.Fprintf(&b, ":%d:%d", startSlice, toRetrieve)
	return b.String()
}

// fingerprint serializes the parts of word structs that decide their
// results.
func fingerprint(words []*parser.WordStruct) string {
	var b strings.Builder
	for i, ws := range words {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(ws.IndexName)
		b.WriteByte('@')
		b.WriteString(strconv.FormatFloat(ws.Weight, 'g', -1, 64))
		for _, k := range ws.Keys {
			fmt.Fprintf(&b, " %s/%d", k.Hash, k.Shift)
		}
		for _, q := range ws.QuotePhrases {
			b.WriteString(" \"")
			for _, t := range q {
				fmt.Fprintf(&b, "%d+%d,", t.Key, t.Offset)
			}
		}
		for _, d := range ws.DisallowKeys {
			fmt.Fprintf(&b, " -%s", d.Hash)
		}
	}
	return b.String()
}

func dedupeWords(words []string) []string {
	seen := make(map[string]struct{}, len(words))
	out := make([]string, 0, len(words))
	for _, w := range words {
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}
