// Package merger merges score ordered result blocks, such as the blocks
// returned by index partitions, into one list.
package merger

import (
	"container/heap"
)

// Scored is anything with a score and a key that breaks ties between equal
// scores.
type Scored interface {
	SortScore() float64
	SortKey() string
}

// Merge returns the limit highest scored items of all blocks, best first.
// Items with equal scores are ordered by key. A limit of zero or less keeps
// every item.
func Merge[T Scored](blocks [][]T, limit int) []T {
	if limit <= 0 {
		for _, b := range blocks {
			limit += len(b)
		}
	}
	h := &scoredHeap[T]{}
	heap.Init(h)
	for _, results := range blocks {
		for _, item := range results {
			heap.Push(h, item)
			if h.Len() > limit {
				heap.Pop(h)
			}
		}
	}
	result := make([]T, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(T)
	}
	return result
}

type scoredHeap[T Scored] []T

func (h scoredHeap[T]) Len() int { return len(h) }

func (h scoredHeap[T]) Less(i, j int) bool {
	if si, sj := h[i].SortScore(), h[j].SortScore(); si != sj {
		return si < sj
	}
	return h[i].SortKey() > h[j].SortKey()
}

func (h scoredHeap[T]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoredHeap[T]) Push(x any) {
	*h = append(*h, x.(T))
}

func (h *scoredHeap[T]) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
