// Command arctool inspects and rewrites saved index generations offline.
//
//	arctool info FILE...
//	arctool postings -word WORD [-limit N] FILE
//	arctool dict -dir INDEXDIR -word WORD [-shift BITS] [-limit N]
//	arctool merge -dir INDEXDIR [-max-docs N] [-compress]
//	arctool offsets -dir INDEXDIR -gen N -updates FILE.json
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/quarrysearch/quarry/internal/indexer"
	"github.com/quarrysearch/quarry/internal/indexer/hash"
	"github.com/quarrysearch/quarry/internal/indexer/index"
	"github.com/quarrysearch/quarry/internal/indexer/segment"
	"github.com/quarrysearch/quarry/pkg/config"
	"github.com/quarrysearch/quarry/pkg/logger"
)

// fingerprintSalt keeps info output stable between runs.
const fingerprintSalt = "arc00"

var errUsage = errors.New("usage: arctool info|postings|dict|merge|offsets [flags] [files]")

func main() {
	logger.Setup("", "warn", "text")
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) || errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "info":
		return runInfo(rest, out)
	case "postings":
		return runPostings(rest, out)
	case "dict":
		return runDict(rest, out)
	case "merge":
		return runMerge(rest, out)
	case "offsets":
		return runOffsets(rest, out)
	}
	return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
}

func runInfo(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("info needs at least one file: %w", errUsage)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "FILE\tVERSION\tDOCS\tLINKS\tWORDS\tBYTES\tZSTD\tCREATED\tFINGERPRINT")
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		h, err := segment.ReadHeader(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		s, err := segment.Decode(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%t\t%s\t%s\n",
			filepath.Base(path),
			h.Version,
			s.NumContentDocs(),
			s.NumLinkDocs(),
			h.WordCount,
			len(data),
			h.Flags&segment.FlagZstd != 0,
			time.Unix(h.CreatedAt, 0).UTC().Format(time.RFC3339),
			hash.Crypt(string(data), fingerprintSalt),
		)
	}
	return w.Flush()
}

func runPostings(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("postings", flag.ContinueOnError)
	word := fs.String("word", "", "term or meta word as indexed")
	limit := fs.Int("limit", 100, "maximum postings to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *word == "" || fs.NArg() != 1 {
		return fmt.Errorf("postings needs -word and one file: %w", errUsage)
	}
	s, err := segment.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	id := hash.Crawl(*word)
	postings, _ := s.Postings(id, 0, *limit)

	fmt.Fprintf(out, "word %q hash %s: %d postings, %d bytes\n", *word, id, s.WordCount(id), s.PostingsLen(id))
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DOC\tKEY\tLENGTH\tDOC?\tPOSITIONS")
	for _, p := range postings {
		row, ok := s.Row(p.DocIndex)
		if !ok {
			return fmt.Errorf("posting for doc %d has no row", p.DocIndex)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%v\n", p.DocIndex, row.Key, row.Length, row.IsDoc, p.Positions)
	}
	return w.Flush()
}

func runDict(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("dict", flag.ContinueOnError)
	dir := fs.String("dir", "", "index directory")
	word := fs.String("word", "", "word to look up")
	shift := fs.Uint("shift", 0, "low bits of the hash to ignore")
	limit := fs.Int("limit", 20, "maximum words to print")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" || *word == "" {
		return fmt.Errorf("dict needs -dir and -word: %w", errUsage)
	}
	e, err := openIndex(*dir, config.IndexerConfig{})
	if err != nil {
		return err
	}
	stats := e.WordInfo(hash.Crawl(*word), *shift, *limit)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "HASH\tGENERATION\tCOUNT")
	for _, st := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\n", st.Hash, st.Generation, st.Count)
	}
	return w.Flush()
}

func runMerge(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("merge", flag.ContinueOnError)
	dir := fs.String("dir", "", "index directory")
	maxDocs := fs.Int("max-docs", 50000, "largest generation a merge may produce")
	compress := fs.Bool("compress", false, "zstd-compress merged generations")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("merge needs -dir: %w", errUsage)
	}
	e, err := openIndex(*dir, config.IndexerConfig{GenerationMaxDocs: *maxDocs, Compression: *compress})
	if err != nil {
		return err
	}
	before := e.Stats().Generations
	merges := 0
	for {
		merged, err := e.MergeTail()
		if err != nil {
			return err
		}
		if !merged {
			break
		}
		merges++
	}
	fmt.Fprintf(out, "%s: %d merges, %d -> %d generations\n", e.Name(), merges, before, e.Stats().Generations)
	return nil
}

// offsetUpdate is one entry of an offsets update file, keyed by the
// document key as printed by postings.
type offsetUpdate struct {
	SummaryOffset uint64 `json:"summary_offset"`
	Aux           string `json:"aux"`
}

func runOffsets(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("offsets", flag.ContinueOnError)
	dir := fs.String("dir", "", "index directory")
	gen := fs.Int("gen", -1, "generation to rewrite")
	updatesPath := fs.String("updates", "", "JSON object of document key to {summary_offset, aux}")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dir == "" || *gen < 0 || *updatesPath == "" {
		return fmt.Errorf("offsets needs -dir, -gen and -updates: %w", errUsage)
	}
	data, err := os.ReadFile(*updatesPath)
	if err != nil {
		return fmt.Errorf("reading updates: %w", err)
	}
	var raw map[string]offsetUpdate
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing updates: %w", err)
	}
	updates := make(map[index.DocKey]index.OffsetUpdate, len(raw))
	for k, u := range raw {
		b, err := hash.DecodeBase64(k)
		if err != nil {
			return err
		}
		updates[index.DocKey(b)] = index.OffsetUpdate{SummaryOffset: u.SummaryOffset, Aux: u.Aux}
	}
	e, err := openIndex(*dir, config.IndexerConfig{})
	if err != nil {
		return err
	}
	changed, err := e.ChangeDocumentOffsets(*gen, updates)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s generation %d: %d of %d rows changed\n", e.Name(), *gen, changed, len(updates))
	return nil
}

func openIndex(dir string, cfg config.IndexerConfig) (*indexer.Engine, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	e, err := indexer.NewEngine(filepath.Base(dir), dir, cfg)
	if err != nil {
		return nil, err
	}
	slog.Debug("index opened", "dir", dir, "generations", e.Stats().Generations)
	return e, nil
}
