package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var presentationMarker = regexp.MustCompile(`#(\d+)#`)

// Bound is a run of result slots filled by one presentation part.
type Bound struct {
	Start int
	Count int
}

// Presentation is one #N# delimited part of a query together with the
// result slots of the requested window it fills.
type Presentation struct {
	Phrase string
	Bounds []Bound
	// Last marks the part whose results also fill the rest of the window.
	Last bool
}

// SplitPresentation splits query on #N# markers, where N is the number of
// results the text before the marker contributes (1 when there is no
// marker). Parts repeat in the order they appear, so "a #2# b #1#" fills
// slots 0 and 1 from a and slot 2 from b; the last part takes every slot
// after that. Only parts with slots in [low, low+resultsPerPage) are
// returned.
func SplitPresentation(query string, low, resultsPerPage int) []Presentation {
	type raw struct {
		phrase string
		bounds []Bound
	}
	var order []string
	parts := make(map[string]*raw)
	count := 0
	lastPart := ""
	add := func(text string, n int) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		p, ok := parts[text]
		if !ok {
			p = &raw{phrase: text}
			parts[text] = p
			order = append(order, text)
		}
		p.bounds = append(p.bounds, Bound{Start: count, Count: n})
		lastPart = text
		count += n
	}
	pos := 0
	for _, m := range presentationMarker.FindAllStringSubmatchIndex(query, -1) {
		n, err := strconv.Atoi(query[m[2]:m[3]])
		if err != nil || n < 1 {
			n = 1
		}
		add(query[pos:m[0]], n)
		pos = m[1]
	}
	add(query[pos:], 1)
	if len(order) == 0 {
		return nil
	}

	high := low + resultsPerPage
	last := parts[lastPart]
	if lb := &last.bounds[len(last.bounds)-1]; lb.Start+lb.Count < low {
		lb.Count = high
	}
	var out []Presentation
	for _, phrase := range order {
		p := parts[phrase]
		var bounds []Bound
		for _, b := range p.bounds {
			if b.Start > high {
				break
			}
			if b.Start+b.Count < low {
				continue
			}
			bounds = append(bounds, b)
		}
		isLast := phrase == lastPart
		if isLast && len(bounds) > 0 {
			if lb := &bounds[len(bounds)-1]; lb.Start+lb.Count < high {
				lb.Count = high - lb.Start
			}
		}
		if len(bounds) == 0 {
			continue
		}
		out = append(out, Presentation{Phrase: phrase, Bounds: bounds, Last: isLast})
	}
	return out
}
