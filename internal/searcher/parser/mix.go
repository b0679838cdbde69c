package parser

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MixComponent is one index contributing to a mix group.
type MixComponent struct {
	IndexName string  `json:"index_name" yaml:"indexName"`
	Weight    float64 `json:"weight" yaml:"weight"`
	Keywords  string  `json:"keywords" yaml:"keywords"`
}

// MixGroup is a run of results drawn from several indexes at once.
type MixGroup struct {
	ResultBound int            `json:"result_bound" yaml:"resultBound"`
	Components  []MixComponent `json:"components" yaml:"components"`
}

// Mix combines results of several indexes into one result page.
type Mix struct {
	Name   string     `json:"name" yaml:"name"`
	Groups []MixGroup `json:"groups" yaml:"groups"`
}

// LoadMixes reads a YAML list of mixes. Every mix needs a distinct name.
func LoadMixes(path string) ([]Mix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mixes file: %w", err)
	}
	var mixes []Mix
	if err := yaml.Unmarshal(data, &mixes); err != nil {
		return nil, fmt.Errorf("parsing mixes file: %w", err)
	}
	seen := make(map[string]bool, len(mixes))
	for _, m := range mixes {
		if m.Name == "" {
			return nil, fmt.Errorf("mix without a name in %s", path)
		}
		if seen[m.Name] {
			return nil, fmt.Errorf("duplicate mix %q in %s", m.Name, path)
		}
		seen[m.Name] = true
	}
	return mixes, nil
}

// RewriteMixQuery expands query so that each mix group becomes one
// presentation part whose disjuncts are the query against every component
// index. Disjuncts that already name an index are left alone; a weight in a
// disjunct scales the component weights.
func RewriteMixQuery(query string, mix Mix) string {
	disjuncts := SplitDisjuncts(query)
	var b strings.Builder
	for _, g := range mix.Groups {
		var alts []string
		for _, d := range disjuncts {
			fields := strings.Fields(d)
			if namesIndex(fields) {
				alts = append(alts, strings.Join(fields, " "))
				continue
			}
			base := 1.0
			rest := fields[:0:0]
			for _, f := range fields {
				if w, ok := weightOf(f); ok {
					base = w
					continue
				}
				rest = append(rest, f)
			}
			for _, c := range g.Components {
				alt := strings.Join(rest, " ")
				if c.Keywords != "" {
					alt += " " + c.Keywords
				}
				alt += " w:" + strconv.FormatFloat(c.Weight*base, 'f', -1, 64)
				if c.IndexName != "" && c.IndexName != "0" && c.IndexName != "1" {
					alt += " i:" + c.IndexName
				}
				alts = append(alts, strings.TrimSpace(alt))
			}
		}
		if len(alts) == 0 {
			continue
		}
		bound := g.ResultBound
		if bound < 1 {
			bound = 1
		}
		b.WriteString(strings.Join(alts, " | "))
		b.WriteString(" #" + strconv.Itoa(bound) + "# ")
	}
	return b.String()
}

func namesIndex(fields []string) bool {
	for _, f := range fields {
		if (strings.HasPrefix(f, "i:") && len(f) > 2) || (strings.HasPrefix(f, "index:") && len(f) > 6) {
			return true
		}
	}
	return false
}

func weightOf(f string) (float64, bool) {
	var body string
	switch {
	case strings.HasPrefix(f, "w:"):
		body = f[2:]
	case strings.HasPrefix(f, "weight:"):
		body = f[7:]
	default:
		return 0, false
	}
	w, err := strconv.ParseFloat(body, 64)
	if err != nil {
		return 0, false
	}
	return w, true
}
