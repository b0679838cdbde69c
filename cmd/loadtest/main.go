// Command loadtest drives a searcher with concurrent workers that page
// through query results, then reports latency by page depth, the queries
// that found nothing and the status codes seen.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// options is one load test run.
type options struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Queries     []string
	// Pages bounds how deep a worker pages into one query's results. It
	// stops earlier when total_rows runs out.
	Pages int
	Num   int
	Index string
	Mix   string
	Raw   int
	// Rate caps the pages requested per second across all workers; zero
	// means no cap.
	Rate int
}

var defaultQueries = []string{
	"search engine",
	`"inverted index"`,
	"ranking -spam",
	"site:example.com crawler",
	"distributed systems | consensus",
	"zebra w:2 | lion",
	"filetype:pdf bm25",
	"lang:en web archive",
	"news #3# weather",
	"cache invalidation",
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "searcher base URL")
	concurrency := flag.Int("concurrency", 10, "concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	queriesFile := flag.String("queries", "", "file of queries, one per line; # starts a comment")
	pages := flag.Int("pages", 3, "deepest result page requested per query")
	num := flag.Int("num", 10, "results per page")
	index := flag.String("index", "", "index to query instead of the default")
	mix := flag.String("mix", "", "crawl mix to query")
	raw := flag.Int("raw", 0, "raw mode: 0 grouped and fused, 1 grouped, 2 ungrouped")
	rate := flag.Int("rate", 0, "page requests per second across workers, 0 for no limit")
	flag.Parse()

	queries := defaultQueries
	if *queriesFile != "" {
		loaded, err := loadQueries(*queriesFile)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		queries = loaded
	}
	opts := options{
		BaseURL:     strings.TrimRight(*baseURL, "/"),
		Concurrency: max(*concurrency, 1),
		Duration:    *duration,
		Queries:     queries,
		Pages:       max(*pages, 1),
		Num:         max(*num, 1),
		Index:       *index,
		Mix:         *mix,
		Raw:         *raw,
		Rate:        max(*rate, 0),
	}

	fmt.Printf("load testing %s: %d workers for %s, %d queries, up to %d pages of %d\n",
		opts.BaseURL, opts.Concurrency, opts.Duration, len(opts.Queries), opts.Pages, opts.Num)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	start := time.Now()
	rec := run(ctx, opts)
	rep := rec.report(time.Since(start))
	rep.print(os.Stdout)
	if rep.Total == 0 {
		fmt.Fprintln(os.Stderr, "no request completed; is the searcher running?")
		os.Exit(1)
	}
}

func loadQueries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening queries: %w", err)
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if q := strings.TrimSpace(sc.Text()); q != "" && !strings.HasPrefix(q, "#") {
			out = append(out, q)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading queries: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no queries in %s", path)
	}
	return out, nil
}
