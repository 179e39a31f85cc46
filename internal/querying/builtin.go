package querying

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching"
)

// MetadataDocNo is the result metadata column holding external docnos.
const MetadataDocNo = "docno"

func init() {
	RegisterPreProcess("NoNegative", func() PreProcess { return noNegative{} })
	RegisterPreProcess("TermDedup", func() PreProcess { return termDedup{} })
	RegisterPostProcess("Decorate", func() PostProcess { return decorate{} })
	RegisterPostProcess("ScoreNormalise", func() PostProcess { return scoreNormalise{} })
	RegisterPostFilter("Scope", func() PostFilter { return &scopeFilter{} })
	RegisterPostFilter("MinScore", func() PostFilter { return &minScoreFilter{} })
}

// noNegative turns prohibited terms into ordinary ones.
type noNegative struct{}

func (noNegative) Process(_ context.Context, r *Request) {
	for i := range r.Terms {
		if r.Terms[i].Requirement == matching.Prohibited {
			r.Terms[i].Requirement = matching.Optional
		}
	}
}

// termDedup merges repeated terms, summing their weights. The first
// occurrence keeps its position and requirement.
type termDedup struct{}

func (termDedup) Process(_ context.Context, r *Request) {
	seen := make(map[string]int, len(r.Terms))
	out := r.Terms[:0]
	for _, t := range r.Terms {
		key := t.Field + "\x00" + t.Raw
		if i, ok := seen[key]; ok {
			out[i].Weight += t.Weight
			continue
		}
		seen[key] = len(out)
		out = append(out, t)
	}
	r.Terms = out
}

// decorate attaches docnos when the index keeps them.
type decorate struct{}

func (decorate) Info() string { return "Decorate" }

func (decorate) Process(_ context.Context, r *Request) {
	meta, ok := r.Index.(index.MetaSource)
	rs := r.ResultSet()
	if !ok || rs == nil {
		return
	}
	docnos := make([]string, rs.Size())
	for i, id := range rs.DocIDs {
		docnos[i], _ = meta.DocNo(id)
	}
	rs.AddMetadata(MetadataDocNo, docnos)
}

// scoreNormalise rescales scores into [0,1] by min-max.
type scoreNormalise struct{}

func (scoreNormalise) Info() string { return "ScoreNormalise" }

func (scoreNormalise) Process(_ context.Context, r *Request) {
	rs := r.ResultSet()
	if rs.Size() == 0 {
		return
	}
	lo, hi := rs.Scores[0], rs.Scores[0]
	for _, s := range rs.Scores {
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for i, s := range rs.Scores {
		if hi == lo {
			rs.Scores[i] = 1
		} else {
			rs.Scores[i] = (s - lo) / (hi - lo)
		}
	}
}

// scopeFilter keeps documents whose docno starts with one of the
// comma-separated prefixes in the "scope" control.
type scopeFilter struct {
	prefixes []string
	meta     index.MetaSource
}

func (f *scopeFilter) NewQuery(r *Request, _ *matching.ResultSet) {
	f.prefixes = splitList(r.Control("scope"))
	f.meta, _ = r.Index.(index.MetaSource)
	if f.meta == nil && len(f.prefixes) > 0 {
		slog.Default().With("component", "postfilter").Warn("scope filter needs docnos, index has none",
			"qid", r.QueryID)
	}
}

func (f *scopeFilter) Filter(_ *Request, _ *matching.ResultSet, _ int, docID int) Decision {
	if len(f.prefixes) == 0 || f.meta == nil {
		return Keep
	}
	docno, ok := f.meta.DocNo(docID)
	if !ok {
		return Remove
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(docno, p) {
			return Keep
		}
	}
	return Remove
}

// minScoreFilter removes documents scoring below the "minscore" control.
type minScoreFilter struct {
	min   float64
	valid bool
}

func (f *minScoreFilter) NewQuery(r *Request, _ *matching.ResultSet) {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Control("minscore")), 64)
	f.min, f.valid = v, err == nil
}

func (f *minScoreFilter) Filter(_ *Request, rs *matching.ResultSet, rank, _ int) Decision {
	if f.valid && rs.Scores[rank] < f.min {
		return Remove
	}
	return Keep
}
