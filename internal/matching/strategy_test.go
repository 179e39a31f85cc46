package matching

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching/models"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/internal/translation"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

type identity struct{}

func (identity) Normalize(term string) (string, bool) {
	if term == "the" || term == "le" {
		return "", false
	}
	return term, true
}

func monoIndex(t *testing.T) *index.MemoryIndex {
	t.Helper()
	ix := index.NewMemoryIndex("mono", identity{})
	ix.AddDocument("D0", map[string]string{"body": "design patterns design", "title": "patterns"})
	ix.AddDocument("D1", map[string]string{"body": "system design"})
	ix.AddDocument("D2", map[string]string{"body": "cooking recipes"})
	ix.AddDocument("D3", map[string]string{"body": "design cooking"})
	return ix
}

func term(raw string) QueryTerm {
	return QueryTerm{Raw: raw, Term: raw, Weight: 1}
}

func match(t *testing.T, s *Strategy, q *Query) *ResultSet {
	t.Helper()
	rs, err := s.Match(context.Background(), q)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	return rs
}

func TestStandardSingleTerm(t *testing.T) {
	ix := monoIndex(t)
	s := NewStrategy(Standard, ix, Config{Normalizer: identity{}})
	rs := match(t, s, &Query{ID: "1", Terms: []QueryTerm{term("design")}, Weighting: models.NewInL2()})

	entry, _ := ix.Lookup("design")
	if rs.Size() > entry.DocumentFrequency {
		t.Fatalf("result size %d exceeds document frequency %d", rs.Size(), entry.DocumentFrequency)
	}
	if diff := cmp.Diff([]int{0, 1, 3}, sortedCopy(rs.DocIDs)); diff != "" {
		t.Errorf("matched docs (-want +got):\n%s", diff)
	}
	if rs.DocIDs[0] != 0 {
		t.Errorf("top document = %d, want 0", rs.DocIDs[0])
	}
	for i := 1; i < rs.Size(); i++ {
		if rs.Scores[i] > rs.Scores[i-1] {
			t.Fatalf("scores not descending: %v", rs.Scores)
		}
	}
	if rs.ExactSize != rs.Size() {
		t.Errorf("exact size %d, size %d", rs.ExactSize, rs.Size())
	}
}

func sortedCopy(ids []int) []int {
	out := append([]int(nil), ids...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] < out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func TestStandardDefaultParameterWhenUnset(t *testing.T) {
	s := NewStrategy(Standard, monoIndex(t), Config{})
	q := &Query{Terms: []QueryTerm{term("design")}, Weighting: models.NewInL2()}
	if got := s.Info(q); got != "InL2c1.0" {
		t.Errorf("Info = %q", got)
	}
	q = &Query{Terms: []QueryTerm{term("design")}, Weighting: models.NewInL2(), C: 3, CSet: true}
	if got := s.Info(q); got != "InL2c3.0" {
		t.Errorf("Info with c = %q", got)
	}
}

func TestProhibitedTermPrunesDocuments(t *testing.T) {
	s := NewStrategy(Standard, monoIndex(t), Config{})
	neg := term("cooking")
	neg.Requirement = Prohibited
	rs := match(t, s, &Query{Terms: []QueryTerm{term("design"), neg}})

	if diff := cmp.Diff([]int{0, 1}, sortedCopy(rs.DocIDs)); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	for _, score := range rs.Scores {
		if math.IsInf(score, -1) {
			t.Fatal("negative infinity score in result")
		}
	}
}

func TestRequiredTermGates(t *testing.T) {
	s := NewStrategy(Standard, monoIndex(t), Config{})
	req := term("cooking")
	req.Requirement = Required
	rs := match(t, s, &Query{Terms: []QueryTerm{term("design"), req}})
	if diff := cmp.Diff([]int{3, 2}, rs.DocIDs); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
}

func TestFieldTermGates(t *testing.T) {
	s := NewStrategy(Standard, monoIndex(t), Config{})
	field := term("patterns")
	field.Field = "title"
	rs := match(t, s, &Query{Terms: []QueryTerm{term("design"), field}})
	if diff := cmp.Diff([]int{0}, rs.DocIDs); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
}

func TestEliminatedTermIgnored(t *testing.T) {
	s := NewStrategy(Standard, monoIndex(t), Config{})
	stop := QueryTerm{Raw: "the", Eliminated: true, Weight: 1}
	rs := match(t, s, &Query{Terms: []QueryTerm{stop}})
	if rs.Size() != 0 {
		t.Errorf("stopword query matched %d docs", rs.Size())
	}
}

func TestWeightNormalisation(t *testing.T) {
	in := []QueryTerm{
		{Raw: "a", Weight: 2},
		{Raw: "b", Weight: 6},
		{Raw: "c", Requirement: Prohibited, Weight: 1},
		{Raw: "d", Weight: math.Inf(-1)},
	}
	got := scoredTerms(in)
	if len(got) != 2 {
		t.Fatalf("scored %d terms, want 2", len(got))
	}
	if got[0].Weight != 0.5 || got[1].Weight != 1.5 {
		t.Errorf("weights = %v, %v", got[0].Weight, got[1].Weight)
	}
	if n := len(prohibitedTerms(in)); n != 2 {
		t.Errorf("prohibited = %d, want 2", n)
	}
}

func TestUnusableWeightsScoreNothing(t *testing.T) {
	in := []QueryTerm{
		{Raw: "a", Weight: 2},
		{Raw: "b", Weight: math.NaN()},
		{Raw: "c", Weight: math.Inf(1)},
		{Raw: "d", Weight: 0},
	}
	got := scoredTerms(in)
	if len(got) != 1 || got[0].Raw != "a" || got[0].Weight != 1 {
		t.Errorf("scored = %+v", got)
	}

	s := NewStrategy(Standard, monoIndex(t), Config{})
	want := match(t, s, &Query{Terms: []QueryTerm{term("system")}, Weighting: models.NewInL2()})
	for _, w := range []float64{math.NaN(), math.Inf(1), 0} {
		design := term("design")
		design.Weight = w
		rs := match(t, s, &Query{Terms: []QueryTerm{design, term("system")}, Weighting: models.NewInL2()})
		if diff := cmp.Diff(want.DocIDs, rs.DocIDs); diff != "" {
			t.Errorf("weight %v: docs (-want +got):\n%s", w, diff)
		}
		if diff := cmp.Diff(want.Scores, rs.Scores); diff != "" {
			t.Errorf("weight %v: scores (-want +got):\n%s", w, diff)
		}
	}
}

// English target collection queried with French terms.
func clirIndex(t *testing.T) *index.MemoryIndex {
	t.Helper()
	ix := index.NewMemoryIndex("clir", identity{})
	ix.AddDocument("E0", map[string]string{"body": "dog park"})
	ix.AddDocument("E1", map[string]string{"body": "hound park"})
	ix.AddDocument("E2", map[string]string{"body": "cat park"})
	ix.AddDocument("E3", map[string]string{"body": "puppy dog"})
	return ix
}

func chienTranslations() *translation.Index {
	tr := translation.NewIndex(nil)
	tr.Put("chien", map[string]float64{"dog": 0.6, "puppy": 0.3, "hound": 0.1})
	tr.Put("chat", map[string]float64{"cat": 1})
	return tr
}

func TestTranslationVariantsRankByTranslationWeight(t *testing.T) {
	for _, v := range []Variant{WeCLIRTLM, WeCLIRTLM2, Dirichlet, WeMono, WeCLIR} {
		t.Run(v.String(), func(t *testing.T) {
			s := NewStrategy(v, clirIndex(t), Config{
				Translations: chienTranslations(),
				Normalizer:   identity{},
				TopTerms:     3,
			})
			rs := match(t, s, &Query{Terms: []QueryTerm{term("chien")}, Weighting: models.NewInL2()})
			got := sortedCopy(rs.DocIDs)
			if diff := cmp.Diff([]int{0, 1, 3}, got); diff != "" {
				t.Fatalf("docs (-want +got):\n%s", diff)
			}
			for _, score := range rs.Scores {
				if math.IsNaN(score) || math.IsInf(score, 0) {
					t.Fatalf("non-finite score %v", score)
				}
			}
		})
	}
}

func TestWeCLIRTLMPrefersHeavierTranslation(t *testing.T) {
	s := NewStrategy(WeCLIRTLM, clirIndex(t), Config{Translations: chienTranslations(), TopTerms: 3})
	rs := match(t, s, &Query{Terms: []QueryTerm{term("chien")}})
	// Each translation adds a log probability, so a second matching
	// translation lowers the score.
	if diff := cmp.Diff([]int{0, 3, 1}, rs.DocIDs); diff != "" {
		t.Errorf("ranking (-want +got):\n%s", diff)
	}
}

func TestWeMonoTLMWalksSourcePostings(t *testing.T) {
	ix := index.NewMemoryIndex("mono", identity{})
	ix.AddDocument("M0", map[string]string{"body": "car automobile road"})
	ix.AddDocument("M1", map[string]string{"body": "car road road"})
	ix.AddDocument("M2", map[string]string{"body": "automobile only"})
	tr := translation.NewIndex(nil)
	tr.Put("car", map[string]float64{"automobile": 0.5, "car": 0.5})

	s := NewStrategy(WeMonoTLM, ix, Config{Translations: tr, TopTerms: 2})
	rs := match(t, s, &Query{Terms: []QueryTerm{term("car")}})
	if diff := cmp.Diff([]int{0, 1}, sortedCopy(rs.DocIDs)); diff != "" {
		t.Fatalf("docs (-want +got):\n%s", diff)
	}
	if rs.DocIDs[0] != 0 {
		t.Errorf("doc with both translations should rank first: %v", rs.DocIDs)
	}
}

func TestWeCLIRSkipsSourceStopwords(t *testing.T) {
	tr := chienTranslations()
	tr.Put("le", map[string]float64{"park": 1})
	stop := terms.StopList{"le": {}}
	s := NewStrategy(WeCLIR, clirIndex(t), Config{Translations: tr, SourceStopwords: stop})
	rs := match(t, s, &Query{Terms: []QueryTerm{term("le")}, Weighting: models.NewInL2()})
	if rs.Size() != 0 {
		t.Errorf("stopword translated to %d docs", rs.Size())
	}
}

func TestWeMonoSkipsEliminatedSourceTerm(t *testing.T) {
	tr := chienTranslations()
	tr.Put("le", map[string]float64{"park": 1})
	s := NewStrategy(WeMono, clirIndex(t), Config{Translations: tr})
	rs := match(t, s, &Query{Terms: []QueryTerm{{Raw: "le", Eliminated: true, Weight: 1}}})
	if rs.Size() != 0 {
		t.Errorf("eliminated term matched %d docs", rs.Size())
	}
}

func TestProhibitedTranslationVetoes(t *testing.T) {
	tr := chienTranslations()
	tr.Put("parc", map[string]float64{"park": 1})
	s := NewStrategy(WeCLIRTLM, clirIndex(t), Config{Translations: tr})
	neg := term("parc")
	neg.Requirement = Prohibited
	rs := match(t, s, &Query{Terms: []QueryTerm{term("chien"), neg}})
	if diff := cmp.Diff([]int{3}, rs.DocIDs); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
}

func TestMissingTranslationFallsBackToSelf(t *testing.T) {
	s := NewStrategy(Dirichlet, clirIndex(t), Config{})
	rs := match(t, s, &Query{Terms: []QueryTerm{term("park")}})
	if rs.Size() != 3 {
		t.Errorf("self translation matched %d docs, want 3", rs.Size())
	}
}

func TestLanguageModelInfo(t *testing.T) {
	s := NewStrategy(WeCLIRTLM, clirIndex(t), Config{})
	if got := s.Info(&Query{}); got != "weclirtlmc500.0" {
		t.Errorf("Info = %q", got)
	}
	if got := s.Info(&Query{C: 1000, CSet: true}); got != "weclirtlmc1000.0" {
		t.Errorf("Info with c = %q", got)
	}
	s = NewStrategy(WeMono, clirIndex(t), Config{})
	if got := s.Info(&Query{Weighting: models.NewBM25()}); got != "wemono_BM25c0.75" {
		t.Errorf("Info = %q", got)
	}
}

func TestNonPositiveSmoothingRejected(t *testing.T) {
	s := NewStrategy(Dirichlet, clirIndex(t), Config{})
	rs, err := s.Match(context.Background(), &Query{Terms: []QueryTerm{term("park")}, C: 0, CSet: true})
	if !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v", err)
	}
	if rs.Size() != 0 {
		t.Errorf("size = %d", rs.Size())
	}
}

type brokenSource struct{ *index.MemoryIndex }

func (brokenSource) Postings(index.TermEntry) (index.PostingIterator, error) {
	return nil, apperrors.ErrPostingRead
}

func TestPostingErrorFailsClosed(t *testing.T) {
	s := NewStrategy(Standard, brokenSource{monoIndex(t)}, Config{})
	rs, err := s.Match(context.Background(), &Query{Terms: []QueryTerm{term("design")}})
	if !errors.Is(err, apperrors.ErrPostingRead) {
		t.Fatalf("err = %v, want ErrPostingRead", err)
	}
	if rs.Size() != 0 {
		t.Errorf("size = %d, want 0", rs.Size())
	}
}

func TestParseVariant(t *testing.T) {
	for _, name := range VariantNames() {
		v, err := ParseVariant(name)
		if err != nil {
			t.Fatalf("ParseVariant(%q): %v", name, err)
		}
		if v.String() != name {
			t.Errorf("round trip %q -> %q", name, v.String())
		}
	}
	if v, err := ParseVariant("WeCLIR"); err != nil || v != WeCLIR {
		t.Errorf("case-insensitive parse = %v, %v", v, err)
	}
	if _, err := ParseVariant("bogus"); !errors.Is(err, apperrors.ErrUnknownModule) {
		t.Errorf("err = %v", err)
	}
}
