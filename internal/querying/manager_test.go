package querying

import (
	"context"
	"math"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/internal/translation"
	"github.com/nectic/terrier-core/pkg/config"
)

// countingSource records every lexicon and posting access.
type countingSource struct {
	*index.MemoryIndex
	lookups  atomic.Int64
	postings atomic.Int64
}

func (c *countingSource) Lookup(term string) (index.TermEntry, bool) {
	c.lookups.Add(1)
	return c.MemoryIndex.Lookup(term)
}

func (c *countingSource) Postings(e index.TermEntry) (index.PostingIterator, error) {
	c.postings.Add(1)
	return c.MemoryIndex.Postings(e)
}

func buildIndex(t *testing.T, handle index.Handle, docs map[string]string) *countingSource {
	t.Helper()
	acc, err := terms.NewAccessor("Stopwords")
	if err != nil {
		t.Fatal(err)
	}
	ix := index.NewMemoryIndex(handle, acc)
	for _, docno := range sortedKeys(docs) {
		ix.AddDocument(docno, map[string]string{"body": docs[docno]})
	}
	return &countingSource{MemoryIndex: ix}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

var monoDocs = map[string]string{
	"D0": "design patterns design",
	"D1": "system design",
	"D2": "cooking recipes",
	"D3": "design cooking",
}

func newManager(t *testing.T, src index.Source, props map[string]string, tr *translation.Index) *Manager {
	t.Helper()
	base := map[string]string{
		config.KeyAllowedControls: "c,c_set,start,end",
		config.KeyTermPipelines:   "Stopwords",
		config.KeyMatchingModel:   "standard",
		config.KeyWeightingModel:  "InL2",
	}
	for k, v := range props {
		base[k] = v
	}
	m, err := New(src, Options{Properties: config.NewProperties(base), Translations: tr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func run(t *testing.T, m *Manager, id, query string) (*Request, *matching.ResultSet) {
	t.Helper()
	r := m.NewQuery(context.Background(), id, query)
	rs := m.RunFull(context.Background(), r)
	if rs == nil {
		t.Fatal("RunFull returned nil")
	}
	return r, rs
}

func docnos(t *testing.T, src index.MetaSource, rs *matching.ResultSet) []string {
	t.Helper()
	out := make([]string, rs.Size())
	for i, id := range rs.DocIDs {
		out[i], _ = src.DocNo(id)
	}
	return out
}

func TestSingleTermDefaultParameter(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	r, rs := run(t, m, "1", "design")

	entry, _ := src.Lookup("design")
	if rs.Size() > entry.DocumentFrequency {
		t.Fatalf("size %d > df %d", rs.Size(), entry.DocumentFrequency)
	}
	if diff := cmp.Diff([]string{"D0", "D1", "D3"}, docnos(t, src, rs)); diff != "" {
		t.Errorf("ranking (-want +got):\n%s", diff)
	}
	if got := m.Info(r); got != "InL2c1.0" {
		t.Errorf("Info = %q", got)
	}
	if r.State() != StateDone {
		t.Errorf("state = %v", r.State())
	}
}

func TestEmptyQueryDoesNotTouchPostings(t *testing.T) {
	for _, matchEmpty := range []string{"false", "true"} {
		t.Run("match_empty="+matchEmpty, func(t *testing.T) {
			src := buildIndex(t, "mono", monoDocs)
			m := newManager(t, src, map[string]string{config.KeyMatchEmptyQuery: matchEmpty}, nil)
			r, rs := run(t, m, "1", "")
			if rs.Size() != 0 {
				t.Errorf("size = %d", rs.Size())
			}
			if !r.Empty() {
				t.Error("request not marked empty")
			}
			if n := src.lookups.Load() + src.postings.Load(); n != 0 {
				t.Errorf("posting source touched %d times", n)
			}
		})
	}
}

func TestStopwordOnlyQueryIsEmpty(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	r, rs := run(t, m, "1", "the of")
	if !r.Empty() || rs.Size() != 0 {
		t.Errorf("empty=%v size=%d", r.Empty(), rs.Size())
	}
	if src.postings.Load() != 0 {
		t.Error("postings read for an eliminated query")
	}
}

func TestControlOnlyQueryIsEmpty(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	r, rs := run(t, m, "1", "c:2 end:4")
	if !r.Empty() || rs.Size() != 0 {
		t.Errorf("empty=%v size=%d", r.Empty(), rs.Size())
	}
	if r.Control("end") != "4" {
		t.Errorf("allowed control not extracted: %v", r.Controls())
	}
}

func TestDisallowedControlsAreIgnored(t *testing.T) {
	var fired atomic.Int64
	RegisterPostProcess("test.CountingPost", func() PostProcess { return &countingPost{n: &fired} })
	src := buildIndex(t, "mono", monoDocs)
	props := map[string]string{
		config.KeyPostprocessOrder:    "test.CountingPost",
		config.KeyPostprocessControls: "count:test.CountingPost",
	}

	m := newManager(t, src, props, nil)
	r, _ := run(t, m, "1", "design count:on")
	if fired.Load() != 0 {
		t.Fatal("disallowed control enabled a stage")
	}
	if r.Control("count") != "" {
		t.Error("disallowed control reached the request")
	}

	props[config.KeyAllowedControls] = "c,start,end,count"
	m = newManager(t, src, props, nil)
	run(t, m, "2", "design count:on")
	if fired.Load() != 1 {
		t.Fatalf("allowed control fired %d times", fired.Load())
	}
}

func TestDisallowedSetControlIsDropped(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	props := map[string]string{
		config.KeyAllowedControls:    "c,start,end",
		config.KeyPostfilterControls: "minscore:MinScore",
		config.KeyDefaultControls:    "lang:fr",
	}
	m := newManager(t, src, props, nil)
	_, want := run(t, m, "1", "design")

	r := m.NewQuery(context.Background(), "2", "design")
	r.SetControl("minscore", "1000")
	r.SetControl("lang", "en")
	got := m.RunFull(context.Background(), r)
	if diff := cmp.Diff(docnos(t, src, want), docnos(t, src, got)); diff != "" {
		t.Errorf("disallowed minscore changed the result (-want +got):\n%s", diff)
	}
	if _, ok := r.Controls()["minscore"]; ok {
		t.Error("disallowed control kept on the request")
	}
	if got := r.Control("lang"); got != "fr" {
		t.Errorf("default control = %q, want fr", got)
	}
}

type countingPost struct{ n *atomic.Int64 }

func (p *countingPost) Process(context.Context, *Request) { p.n.Add(1) }
func (p *countingPost) Info() string                      { return "Counting" }

type namedPost struct {
	name string
	log  *[]string
}

func (p namedPost) Process(_ context.Context, r *Request) { *p.log = append(*p.log, p.name) }
func (p namedPost) Info() string                          { return p.name }

func TestFirstTruthyStageWins(t *testing.T) {
	var log []string
	RegisterPostProcess("test.A", func() PostProcess { return namedPost{"A", &log} })
	RegisterPostProcess("test.B", func() PostProcess { return namedPost{"B", &log} })
	src := buildIndex(t, "mono", monoDocs)
	props := map[string]string{
		config.KeyAllowedControls:     "a,a2,b",
		config.KeyPostprocessOrder:    "test.A,test.B",
		config.KeyPostprocessControls: "a:test.A,a2:test.A,b:test.B",
	}

	tests := []struct {
		name   string
		query  string
		runAll string
		want   []string
	}{
		{"both true, first wins", "design a:on b:yes", "false", []string{"A"}},
		{"two controls one stage", "design a:on a2:on", "false", []string{"A"}},
		{"falsy skipped", "design a:off b:true", "false", []string{"B"}},
		{"false any case", "design a:FALSE a2:Off", "false", nil},
		{"run all", "design a:on b:on", "true", []string{"A", "B"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log = nil
			props[config.KeyRunAllStages] = tt.runAll
			m := newManager(t, src, props, nil)
			r, _ := run(t, m, "1", tt.query)
			if diff := cmp.Diff(tt.want, log); diff != "" {
				t.Errorf("fired (-want +got):\n%s", diff)
			}
			if len(r.Fired()) != len(tt.want) {
				t.Errorf("Fired() = %v", r.Fired())
			}
		})
	}
}

func TestWindowWithoutFilters(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"design start:0 end:0", []string{"D0"}},
		{"design start:1 end:1", []string{"D1"}},
		{"design start:1", []string{"D1", "D3"}},
		{"design end:99", []string{"D0", "D1", "D3"}},
		{"design start:5 end:9", []string{}},
		{"nothing start:0 end:0", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			_, rs := run(t, m, "1", tt.query)
			if diff := cmp.Diff(tt.want, docnos(t, src, rs), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("window (-want +got):\n%s", diff)
			}
		})
	}
}

type identityFilter struct{ resets int }

func (f *identityFilter) NewQuery(*Request, *matching.ResultSet) { f.resets++ }
func (f *identityFilter) Filter(*Request, *matching.ResultSet, int, int) Decision {
	return Keep
}

func TestIdentityFilterOnlyWindows(t *testing.T) {
	rs := matching.NewResultSet([]int{7, 3, 9, 1}, []float64{4, 3, 2, 1}, 4)
	r := &Request{}
	f := &identityFilter{}

	got, surviving := ApplyFilters(r, rs, []PostFilter{f}, Window{Open: true})
	if diff := cmp.Diff(rs.DocIDs, got.DocIDs); diff != "" {
		t.Errorf("identity changed docs (-want +got):\n%s", diff)
	}
	if surviving != 4 || f.resets != 1 {
		t.Errorf("surviving=%d resets=%d", surviving, f.resets)
	}

	got, _ = ApplyFilters(r, rs, []PostFilter{f}, Window{Start: 1, End: 2})
	if diff := cmp.Diff([]int{3, 9}, got.DocIDs); diff != "" {
		t.Errorf("windowed (-want +got):\n%s", diff)
	}
	if got.ExactSize != 4 {
		t.Errorf("exact size = %d", got.ExactSize)
	}
}

type dropOdd struct{}

func (dropOdd) NewQuery(*Request, *matching.ResultSet) {}
func (dropOdd) Filter(_ *Request, _ *matching.ResultSet, _ int, docID int) Decision {
	if docID%2 == 1 {
		return Remove
	}
	return Keep
}

func TestFilterWindowCountsSurvivors(t *testing.T) {
	rs := matching.NewResultSet([]int{1, 2, 3, 4, 6, 8}, []float64{6, 5, 4, 3, 2, 1}, 6)
	got, surviving := ApplyFilters(&Request{}, rs, []PostFilter{dropOdd{}}, Window{Start: 1, End: 2})
	if diff := cmp.Diff([]int{4, 6}, got.DocIDs); diff != "" {
		t.Errorf("docs (-want +got):\n%s", diff)
	}
	// 2, 4, 6 survive before the window is full; 8 is never reached.
	if surviving != 3 {
		t.Errorf("surviving = %d, want 3", surviving)
	}
	if got.ExactSize != 6 {
		t.Errorf("exact size = %d", got.ExactSize)
	}
}

func TestBuiltinModules(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	props := map[string]string{
		config.KeyAllowedControls:     "start,end,decorate,norm,scope,minscore",
		config.KeyPostprocessOrder:    "Decorate,ScoreNormalise",
		config.KeyPostprocessControls: "decorate:Decorate,norm:ScoreNormalise",
		config.KeyPostfilterOrder:     "Scope,MinScore",
		config.KeyPostfilterControls:  "scope:Scope,minscore:MinScore",
		config.KeyRunAllStages:        "true",
	}
	m := newManager(t, src, props, nil)

	r, rs := run(t, m, "1", "design decorate:on norm:on")
	if got := m.Info(r); got != "InL2c1.0_Decorate_ScoreNormalise" {
		t.Errorf("Info = %q", got)
	}
	if v, _ := rs.MetadataAt(MetadataDocNo, 0); v != "D0" {
		t.Errorf("docno metadata = %v", rs.Metadata)
	}
	if rs.Scores[0] != 1 || rs.Scores[rs.Size()-1] != 0 {
		t.Errorf("scores not min-max normalised: %v", rs.Scores)
	}

	_, rs = run(t, m, "2", "design cooking scope:D3,D2")
	if diff := cmp.Diff([]string{"D3", "D2"}, docnos(t, src, rs)); diff != "" {
		t.Errorf("scope (-want +got):\n%s", diff)
	}

	_, all := run(t, m, "3", "design")
	r = m.NewQuery(context.Background(), "4", "design")
	r.SetControl("minscore", strconv.FormatFloat(all.Scores[0], 'g', -1, 64))
	rs = m.RunFull(context.Background(), r)
	if diff := cmp.Diff([]string{"D0"}, docnos(t, src, rs)); diff != "" {
		t.Errorf("minscore (-want +got):\n%s", diff)
	}
}

func TestParameterControls(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	tests := []struct {
		query string
		info  string
	}{
		{"design c:2", "InL2c2.0"},
		{"design c:2 c_set:true", "InL2c2.0"},
		{"design c:2 c_set:false", "InL2c1.0"},
		{"design c:abc", "InL2c1.0"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r, _ := run(t, m, "1", tt.query)
			if got := m.Info(r); got != tt.info {
				t.Errorf("Info = %q, want %q", got, tt.info)
			}
		})
	}
}

func TestRequirementsAndNoNegative(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	_, rs := run(t, m, "1", "design -cooking")
	if diff := cmp.Diff([]string{"D0", "D1"}, docnos(t, src, rs)); diff != "" {
		t.Errorf("negative requirement (-want +got):\n%s", diff)
	}

	m.SetProperty(config.KeyNoNegativeRequirement, "true")
	_, rs = run(t, m, "2", "design -cooking")
	if rs.Size() != 4 {
		t.Errorf("no-negative kept %d docs, want 4", rs.Size())
	}
	for _, s := range rs.Scores {
		if math.IsInf(s, -1) {
			t.Fatal("negative infinity leaked into result")
		}
	}
}

func TestUnknownModelsDegradeToEmpty(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, map[string]string{config.KeyWeightingModel: "Nope"}, nil)
	_, rs := run(t, m, "1", "design")
	if rs.Size() != 0 {
		t.Errorf("size = %d", rs.Size())
	}

	m.SetProperty(config.KeyWeightingModel, "BM25")
	m.SetProperty(config.KeyMatchingModel, "bogus")
	_, rs = run(t, m, "2", "design")
	if rs.Size() != 0 {
		t.Errorf("unknown variant size = %d", rs.Size())
	}

	m.SetProperty(config.KeyMatchingModel, "standard")
	r, rs := run(t, m, "3", "design")
	if rs.Size() != 3 || m.Info(r) != "BM25c0.75" {
		t.Errorf("after SetProperty: size=%d info=%q", rs.Size(), m.Info(r))
	}
}

func TestUnknownStageModuleIsSkipped(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, map[string]string{
		config.KeyAllowedControls:     "x",
		config.KeyPostprocessOrder:    "Missing",
		config.KeyPostprocessControls: "x:Missing",
		config.KeyLastPreprocess:      "AlsoMissing",
	}, nil)
	_, rs := run(t, m, "1", "design x:on")
	if rs.Size() != 3 {
		t.Errorf("size = %d", rs.Size())
	}
}

var clirDocs = map[string]string{
	"E0": "dog park",
	"E1": "hound park",
	"E2": "cat park",
	"E3": "puppy dog",
}

func chien() *translation.Index {
	tr := translation.NewIndex(nil)
	tr.Put("chien", map[string]float64{"dog": 0.6, "puppy": 0.3, "hound": 0.1})
	tr.Put("le", map[string]float64{"the": 1})
	return tr
}

func TestCrossLingualQuery(t *testing.T) {
	src := buildIndex(t, "clir", clirDocs)
	tr := chien()
	m := newManager(t, src, map[string]string{
		config.KeyMatchingModel:       "weclirtlm",
		config.KeyTopTranslationTerms: "3",
	}, tr)

	got := tr.LookupTopK("chien", 3)
	want := map[string]float64{"dog": 0.6, "puppy": 0.3, "hound": 0.1}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Fatalf("LookupTopK (-want +got):\n%s", diff)
	}

	r, rs := run(t, m, "1", "chien")
	if diff := cmp.Diff([]string{"E0", "E3", "E1"}, docnos(t, src, rs)); diff != "" {
		t.Errorf("ranking (-want +got):\n%s", diff)
	}
	if got := m.Info(r); got != "weclirtlmc500.0" {
		t.Errorf("Info = %q", got)
	}
	r, _ = run(t, m, "2", "chien c:900")
	if got := m.Info(r); got != "weclirtlmc900.0" {
		t.Errorf("Info with c = %q", got)
	}
}

func TestSourceStopwordDoesNotEmptyCLIRQuery(t *testing.T) {
	src := buildIndex(t, "clir", clirDocs)
	m := newManager(t, src, map[string]string{config.KeyMatchingModel: "weclir"}, chien())
	r, _ := run(t, m, "1", "the")
	if r.Empty() {
		t.Error("weclir should not pipeline source terms")
	}

	m.SetProperty(config.KeyMatchingModel, "wemono")
	r, _ = run(t, m, "2", "the")
	if !r.Empty() {
		t.Error("wemono should empty a query of eliminated terms")
	}
}

func TestStrategyCachedPerIndex(t *testing.T) {
	a := buildIndex(t, "a", monoDocs)
	b := buildIndex(t, "b", clirDocs)
	m := newManager(t, a, nil, nil)

	run(t, m, "1", "design")
	run(t, m, "2", "design")
	m.UseIndex(b)
	_, rs := run(t, m, "3", "park")
	if rs.Size() != 3 {
		t.Errorf("second index size = %d", rs.Size())
	}
	if len(m.strategies) != 2 {
		t.Errorf("strategy tables = %d, want 2", len(m.strategies))
	}
	first, _ := m.strategy(a, "standard")
	second, _ := m.strategy(a, "STANDARD")
	if first != second {
		t.Error("strategy re-instantiated for the same index and variant")
	}
}

func TestConcurrentQueries(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	_, want := run(t, m, "ref", "design cooking")

	var wg sync.WaitGroup
	errs := make(chan string, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := m.NewQuery(context.Background(), "q", "design cooking")
			got := m.RunFull(context.Background(), r)
			if diff := cmp.Diff(want.DocIDs, got.DocIDs); diff != "" {
				errs <- diff
			}
		}()
	}
	wg.Wait()
	close(errs)
	for diff := range errs {
		t.Errorf("concurrent result differs:\n%s", diff)
	}
}

func TestParseErrorKeepsPartialTree(t *testing.T) {
	src := buildIndex(t, "mono", monoDocs)
	m := newManager(t, src, nil, nil)
	_, rs := run(t, m, "1", "design + NOT")
	if rs.Size() != 3 {
		t.Errorf("size = %d, want 3", rs.Size())
	}
}
