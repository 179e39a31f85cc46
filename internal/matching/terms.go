package matching

import (
	"math"

	"github.com/nectic/terrier-core/internal/index"
)

// Requirement marks a term as required present, required absent, or neither.
type Requirement int

const (
	Optional Requirement = iota
	Required
	Prohibited
)

// QueryTerm is one term of a query after normalisation. Raw is the term as
// typed, which is what translation lookups use. Term is the normalised form
// and is empty when the normaliser eliminated it.
type QueryTerm struct {
	Raw         string
	Term        string
	Eliminated  bool
	Field       string
	Weight      float64
	Requirement Requirement
}

// Key is the lexicon key of the normalised term, qualified by its field.
func (t QueryTerm) Key() string {
	return lexiconKey(t.Field, t.Term)
}

func lexiconKey(field, term string) string {
	if field == "" {
		return term
	}
	return index.FieldTerm(field, term)
}

// Gated reports whether the term takes part in the boolean gate.
func (t QueryTerm) Gated() bool {
	return t.Requirement == Required || t.Field != ""
}

// Query is what a Strategy scores.
type Query struct {
	ID    string
	Terms []QueryTerm
	// Weighting is a fresh weighting model for this query. Variants that
	// use their own language-model formula ignore it.
	Weighting WeightingModel
	// C overrides the variant's smoothing constant when CSet is true.
	C    float64
	CSet bool
}

// scoredTerms returns the terms that add to scores, with weights normalised
// so they sum to their count. Zero, NaN and +Inf weights score nothing.
func scoredTerms(terms []QueryTerm) []QueryTerm {
	out := make([]QueryTerm, 0, len(terms))
	var sum float64
	for _, t := range terms {
		if t.vetoes() || t.Weight == 0 || math.IsNaN(t.Weight) || math.IsInf(t.Weight, 1) {
			continue
		}
		out = append(out, t)
		sum += t.Weight
	}
	if len(out) == 0 || sum == 0 {
		return out
	}
	scale := float64(len(out)) / sum
	for i := range out {
		out[i].Weight *= scale
	}
	return out
}

// gateTerms returns the positive-requirement and field terms, deduplicated
// by field and raw term.
func gateTerms(terms []QueryTerm) []QueryTerm {
	seen := make(map[string]bool)
	var out []QueryTerm
	for _, t := range terms {
		if !t.Gated() || t.vetoes() {
			continue
		}
		key := t.Field + "\x00" + t.Raw
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

// vetoes reports whether documents containing the term must be dropped.
func (t QueryTerm) vetoes() bool {
	return t.Requirement == Prohibited || math.IsInf(t.Weight, -1)
}

func prohibitedTerms(terms []QueryTerm) []QueryTerm {
	var out []QueryTerm
	for _, t := range terms {
		if t.vetoes() {
			out = append(out, t)
		}
	}
	return out
}
