package roster

import (
	"slices"
	"sort"
	"strings"

	"github.com/bskygeo/listkeeper/models"
)

// Filter selects active members. Empty fields match everything; matching is
// case insensitive.
type Filter struct {
	Category   string
	EntityType string
	Source     string
	NoBots     bool
}

type Entry struct {
	DID string
	*models.Member
}

func (f Filter) Match(m *models.Member) bool {
	if !m.Active() {
		return false
	}
	if f.Category != "" && !slices.ContainsFunc(m.Categories, func(c string) bool {
		return strings.EqualFold(c, f.Category)
	}) {
		return false
	}
	if f.EntityType != "" && !strings.EqualFold(m.EntityType, f.EntityType) {
		return false
	}
	if f.Source != "" && !strings.EqualFold(m.Source, f.Source) {
		return false
	}
	return !(f.NoBots && m.IsBot)
}

// Apply returns the matching members ordered by handle.
func (f Filter) Apply(members models.Members) []Entry {
	var out []Entry
	for did, m := range members {
		if f.Match(m) {
			out = append(out, Entry{DID: did, Member: m})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Handle != out[j].Handle {
			return out[i].Handle < out[j].Handle
		}
		return out[i].DID < out[j].DID
	})
	return out
}

type Count struct {
	Name  string
	Count int
}

type Stats struct {
	Total      int
	Bots       int
	BySource   []Count
	ByType     []Count
	ByCategory []Count
}

const topCategories = 20

// ComputeStats summarises a set of entries.
func ComputeStats(entries []Entry) *Stats {
	s := &Stats{Total: len(entries)}
	sources := map[string]int{}
	types := map[string]int{}
	categories := map[string]int{}

	for _, e := range entries {
		if e.IsBot {
			s.Bots++
		}
		source := e.Source
		if source == "" {
			source = models.Unknown
		}
		sources[source]++

		entityType := e.EntityType
		if entityType == "" {
			entityType = "unclassified"
		}
		types[entityType]++

		for _, c := range e.Categories {
			categories[c]++
		}
	}

	s.BySource = CountsOf(sources)
	s.ByType = CountsOf(types)
	s.ByCategory = CountsOf(categories)
	if len(s.ByCategory) > topCategories {
		s.ByCategory = s.ByCategory[:topCategories]
	}
	return s
}

// CountsOf orders a tally by count descending, then by name.
func CountsOf(m map[string]int) []Count {
	out := make([]Count, 0, len(m))
	for name, n := range m {
		out = append(out, Count{Name: name, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
