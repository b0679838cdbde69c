package ranker

import (
	"math"
	"sort"
)

const (
	k1 = 1.2
	b  = 0.75

	// fusionOffset is the rank offset of reciprocal rank fusion.
	fusionOffset = 59
	// fusionTotal is split evenly between the fused fields.
	fusionTotal = 600
)

// BM25 scores one term in one document.
func BM25(termFreq, docLength, avgDocLength float64, totalDocs, docFreq int64) float64 {
	return computeIDF(totalDocs, docFreq) * computeTFNorm(termFreq, docLength, avgDocLength)
}

func computeIDF(totalDocs int64, docFreq int64) float64 {
	numerator := float64(totalDocs) - float64(docFreq)
	if numerator < 0 {
		numerator = 0
	}
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

// Signals are the independently ranked fields of a result.
type Signals struct {
	DocRank   float64
	Relevance float64
	Proximity float64
}

// Fuse combines the signals of results by reciprocal rank fusion. For every
// field the results are ordered by that field, descending, and each result
// gets alpha/(59+rank) where rank counts the distinct values above it and
// alpha is 600 divided by the number of fields. Proximity is only a field
// when useProximity is set. The returned scores are in input order.
func Fuse(signals []Signals, useProximity bool) []float64 {
	fields := []func(Signals) float64{
		func(s Signals) float64 { return s.DocRank },
		func(s Signals) float64 { return s.Relevance },
	}
	if useProximity {
		fields = append(fields, func(s Signals) float64 { return s.Proximity })
	}
	alpha := float64(fusionTotal) / float64(len(fields))
	scores := make([]float64, len(signals))
	order := make([]int, len(signals))
	for _, field := range fields {
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(i, j int) bool {
			return field(signals[order[i]]) > field(signals[order[j]])
		})
		rank := 0
		for i, idx := range order {
			if i > 0 && field(signals[order[i-1]]) != field(signals[idx]) {
				rank++
			}
			scores[idx] += alpha / float64(fusionOffset+rank)
		}
	}
	return scores
}

// Proximity measures how close together the terms of a document are. Each
// list holds the positions of one term; empty lists are ignored. The result
// is the number of terms divided by the width of the smallest window
// holding one position of each, so adjacent terms give 1.
func Proximity(positions [][]uint32) float64 {
	lists := make([][]uint32, 0, len(positions))
	for _, p := range positions {
		if len(p) > 0 {
			lists = append(lists, p)
		}
	}
	if len(lists) < 2 {
		return 1
	}
	idx := make([]int, len(lists))
	best := uint32(math.MaxUint32)
	for {
		lo, hi := uint32(math.MaxUint32), uint32(0)
		minList := 0
		for i, l := range lists {
			v := l[idx[i]]
			if v < lo {
				lo, minList = v, i
			}
			if v > hi {
				hi = v
			}
		}
		if w := hi - lo + 1; w < best {
			best = w
		}
		idx[minList]++
		if idx[minList] >= len(lists[minList]) {
			break
		}
	}
	if best < uint32(len(lists)) {
		best = uint32(len(lists))
	}
	return float64(len(lists)) / float64(best)
}
