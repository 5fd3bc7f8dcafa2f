package symbols

import (
	"cmp"
	"slices"
	"strings"

	"github.com/hbollon/go-edlib"
)

const (
	// DefaultSearchLimit caps Search results when limit <= 0.
	DefaultSearchLimit = 50
	searchThreshold    = 0.75
)

// Search ranks every key against query by Jaro-Winkler similarity of the
// key and of its last name segment. Substring hits always qualify and rank
// above fuzzy ones of the same similarity. Matching is case-insensitive.
func (idx *Index) Search(query string, limit int) []SearchResult {
	query = strings.ToLower(normalizeName(query))
	if query == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	var results []SearchResult
	for key := range idx.AllKeys() {
		score, ok := matchScore(query, key)
		if !ok {
			continue
		}
		results = append(results, SearchResult{Key: key, Score: score})
	}
	slices.SortFunc(results, func(a, b SearchResult) int {
		return cmp.Or(cmp.Compare(b.Score, a.Score), cmp.Compare(len(a.Key), len(b.Key)), cmp.Compare(a.Key, b.Key))
	})
	if len(results) > limit {
		results = results[:limit]
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for i := range results {
		key := results[i].Key
		results[i].Locations = slices.Clone(idx.entries[key])
		if metas := idx.meta[key]; len(metas) > 0 {
			results[i].Kind = string(metas[0].Kind)
		}
	}
	return results
}

func matchScore(query, key string) (float64, bool) {
	lower := strings.ToLower(key)
	name := shortName(lower)
	if _, member, _, ok := SplitMemberKey(lower); ok {
		name = strings.TrimPrefix(member, "$")
	}

	best := similarity(query, name)
	if s := similarity(query, lower); s > best {
		best = s
	}
	switch {
	case name == query:
		return 2, true
	case strings.HasPrefix(name, query):
		return 1.5 + best/10, true
	case strings.Contains(lower, query):
		return 1 + best/10, true
	case best >= searchThreshold:
		return best, true
	}
	return 0, false
}

func similarity(a, b string) float64 {
	s, err := edlib.StringsSimilarity(a, b, edlib.JaroWinkler)
	if err != nil {
		return 0
	}
	return float64(s)
}
