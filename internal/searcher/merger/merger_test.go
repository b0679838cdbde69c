package merger

import (
	"reflect"
	"testing"
)

type item struct {
	key   string
	score float64
}

func (i item) SortScore() float64 { return i.score }
func (i item) SortKey() string    { return i.key }

func keys(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.key
	}
	return out
}

func TestMerge(t *testing.T) {
	blocks := [][]item{
		{{"a", 9}, {"b", 5}, {"c", 1}},
		{{"d", 7}, {"e", 5}},
		nil,
	}
	tests := []struct {
		name  string
		limit int
		want  []string
	}{
		{"all", 0, []string{"a", "d", "b", "e", "c"}},
		{"top three", 3, []string{"a", "d", "b"}},
		{"limit above size", 10, []string{"a", "d", "b", "e", "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := keys(Merge(blocks, tt.limit)); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Merge = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMergeEmpty(t *testing.T) {
	if got := Merge[item](nil, 5); len(got) != 0 {
		t.Errorf("Merge(nil) = %v", got)
	}
}
