// Package translation maps source-language terms to ranked target-language
// translation candidates. Entries come from a precomputed table, a persisted
// store, or are derived on demand from word embeddings.
package translation

import (
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/nectic/terrier-core/pkg/metrics"
)

// Candidate is one translation of a source term with its weight.
type Candidate struct {
	Term  string  `json:"term"`
	Score float64 `json:"score"`
}

// Index holds, per source term, its candidates ordered by descending score
// with ties broken by candidate term. An entry is written at most once.
type Index struct {
	mu      sync.RWMutex
	entries map[string][]Candidate

	source *Matrix
	target *Matrix
	group  singleflight.Group

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewIndex creates an empty Index.
func NewIndex(m *metrics.Metrics) *Index {
	return &Index{
		entries: make(map[string][]Candidate),
		metrics: m,
		logger:  slog.Default().With("component", "translation-index"),
	}
}

// SetEmbeddings enables on-demand entries: a term missing from the index but
// present in source gets a distribution over every term in target.
func (ix *Index) SetEmbeddings(source, target *Matrix) {
	ix.mu.Lock()
	ix.source, ix.target = source, target
	ix.mu.Unlock()
}

// Put stores the candidate distribution for term unless one already exists.
// It reports whether this call stored it.
func (ix *Index) Put(term string, scores map[string]float64) bool {
	ranked := rank(scores)
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, exists := ix.entries[term]; exists {
		return false
	}
	ix.entries[term] = ranked
	return true
}

// Len returns the number of source terms with an entry.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Table returns a copy of every entry.
func (ix *Index) Table() map[string][]Candidate {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string][]Candidate, len(ix.entries))
	for term, cands := range ix.entries {
		out[term] = append([]Candidate(nil), cands...)
	}
	return out
}

// LoadTable adds entries from table. Existing entries are kept.
func (ix *Index) LoadTable(table map[string][]Candidate) int {
	added := 0
	for term, cands := range table {
		scores := make(map[string]float64, len(cands))
		for _, c := range cands {
			scores[c.Term] = c.Score
		}
		if ix.Put(term, scores) {
			added++
		}
	}
	return added
}

// TopK returns up to k candidates for term in rank order, with weights
// renormalised to sum to one. A term with no entry and no embedding
// translates to itself with weight 1.
func (ix *Index) TopK(term string, k int) []Candidate {
	cands, ok := ix.candidates(term)
	if !ok {
		return []Candidate{{Term: term, Score: 1.0}}
	}
	if k <= 0 || len(cands) == 0 {
		return nil
	}
	if k > len(cands) {
		k = len(cands)
	}
	top := append([]Candidate(nil), cands[:k]...)

	var sum float64
	for _, c := range top {
		sum += c.Score
	}
	for i := range top {
		if sum == 0 {
			top[i].Score = 1 / float64(len(top))
		} else {
			top[i].Score /= sum
		}
	}
	return top
}

// LookupTopK is TopK as a term-to-weight map.
func (ix *Index) LookupTopK(term string, k int) map[string]float64 {
	top := ix.TopK(term, k)
	out := make(map[string]float64, len(top))
	for _, c := range top {
		out[c.Term] = c.Score
	}
	return out
}

func (ix *Index) candidates(term string) ([]Candidate, bool) {
	ix.mu.RLock()
	cands, ok := ix.entries[term]
	source, target := ix.source, ix.target
	ix.mu.RUnlock()
	if ok {
		ix.metrics.TranslationLookup("hit")
		return cands, true
	}
	if source == nil || target == nil || !source.Has(term) {
		ix.metrics.TranslationLookup("fallback")
		return nil, false
	}

	v, _, _ := ix.group.Do(term, func() (any, error) {
		ix.mu.RLock()
		cached, ok := ix.entries[term]
		ix.mu.RUnlock()
		if ok {
			return cached, nil
		}
		ix.Put(term, Distribution(source.Vector(term), target))
		ix.mu.RLock()
		defer ix.mu.RUnlock()
		return ix.entries[term], nil
	})
	ix.metrics.TranslationLookup("computed")
	ix.logger.Debug("translation entry computed", "term", term)
	return v.([]Candidate), true
}

func rank(scores map[string]float64) []Candidate {
	out := make([]Candidate, 0, len(scores))
	for term, score := range scores {
		out = append(out, Candidate{Term: term, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Term < out[j].Term
	})
	return out
}
