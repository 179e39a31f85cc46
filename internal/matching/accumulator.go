package matching

import (
	"math"
	"sort"
)

// Accumulator sums per-document scores for one query. It is never shared.
type Accumulator struct {
	scores      map[int]float64
	occurrences map[int]int
}

func NewAccumulator() *Accumulator {
	return &Accumulator{
		scores:      make(map[int]float64),
		occurrences: make(map[int]int),
	}
}

// Add adds score to docID and counts one more matching term for it.
func (a *Accumulator) Add(docID int, score float64) {
	a.scores[docID] += score
	a.occurrences[docID]++
}

// Veto forces docID to negative infinity if it is already present.
func (a *Accumulator) Veto(docID int) {
	if _, ok := a.scores[docID]; ok {
		a.scores[docID] = math.Inf(-1)
	}
}

// Score returns the accumulated score of docID.
func (a *Accumulator) Score(docID int) (float64, bool) {
	s, ok := a.scores[docID]
	return s, ok
}

// Occurrences returns how many terms contributed to docID.
func (a *Accumulator) Occurrences(docID int) int {
	return a.occurrences[docID]
}

// Len is the number of documents touched.
func (a *Accumulator) Len() int {
	return len(a.scores)
}

// DocIDs returns every touched document in ascending order.
func (a *Accumulator) DocIDs() []int {
	ids := make([]int, 0, len(a.scores))
	for id := range a.scores {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Finalize orders documents by descending score, ties by ascending docid,
// and drops every document whose score is negative infinity or NaN. It
// returns the result and the number of documents dropped.
func (a *Accumulator) Finalize() (*ResultSet, int) {
	ids := make([]int, 0, len(a.scores))
	pruned := 0
	for id, s := range a.scores {
		if math.IsInf(s, -1) || math.IsNaN(s) {
			pruned++
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := a.scores[ids[i]], a.scores[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	scores := make([]float64, len(ids))
	for i, id := range ids {
		scores[i] = a.scores[id]
	}
	return NewResultSet(ids, scores, len(ids)), pruned
}
