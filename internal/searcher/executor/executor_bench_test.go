package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/quarrysearch/quarry/internal/indexer"
)

var benchTerms = []string{"distributed", "search", "analytics", "platform", "indexing", "query", "engine", "ranking"}

func benchDocs(n int) []indexer.CrawlDocument {
	docs := make([]indexer.CrawlDocument, n)
	for i := range docs {
		docs[i] = indexer.CrawlDocument{
			URL:   fmt.Sprintf("http://host%d.example.com/doc/%d", i%50, i),
			Title: fmt.Sprintf("document about %s and %s", benchTerms[i%len(benchTerms)], benchTerms[(i+1)%len(benchTerms)]),
			Body: fmt.Sprintf("this document covers %s %s %s in production systems",
				benchTerms[i%len(benchTerms)], benchTerms[(i+2)%len(benchTerms)], benchTerms[(i+3)%len(benchTerms)]),
		}
	}
	return docs
}

func BenchmarkGetPhrasePageResults(b *testing.B) {
	m := newTestModel(b, benchDocs(5000))
	queries := map[string]string{
		"term":        "search",
		"conjunction": "search engine",
		"phrase":      `"production systems"`,
		"disjunction": "ranking | analytics",
		"negation":    "search -platform",
	}
	for name, q := range queries {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := m.GetPhrasePageResults(context.Background(), PageRequest{Query: q}); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkGetPhrasePageResultsParallel(b *testing.B) {
	m := newTestModel(b, benchDocs(5000))
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			q := benchTerms[i%len(benchTerms)]
			i++
			if _, err := m.GetPhrasePageResults(context.Background(), PageRequest{Query: q}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkDeepPage(b *testing.B) {
	m := newTestModel(b, benchDocs(5000))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := m.GetPhrasePageResults(context.Background(), PageRequest{Query: "search", Low: 500}); err != nil {
			b.Fatal(err)
		}
	}
}
