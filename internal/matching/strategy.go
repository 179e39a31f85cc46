package matching

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching/models"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/internal/translation"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/logger"
	"github.com/nectic/terrier-core/pkg/metrics"
)

// DefaultTopTerms is the number of translations used per source term.
const DefaultTopTerms = 10

// Normalizer maps a raw term to its normalised form, or false when the term
// is eliminated. Implementations serialise their own access.
type Normalizer interface {
	Normalize(raw string) (string, bool)
}

// Config carries the collaborators a Strategy consults.
type Config struct {
	Translations    *translation.Index
	Normalizer      Normalizer
	SourceStopwords terms.StopList
	TopTerms        int
	Metrics         *metrics.Metrics
}

// Strategy scores queries against one posting source with one variant. It
// holds no per-query state and is safe for concurrent use.
type Strategy struct {
	variant Variant
	source  index.Source
	cfg     Config
	logger  *slog.Logger
}

// NewStrategy binds a variant to a posting source.
func NewStrategy(variant Variant, source index.Source, cfg Config) *Strategy {
	if cfg.TopTerms <= 0 {
		cfg.TopTerms = DefaultTopTerms
	}
	if cfg.Translations == nil {
		cfg.Translations = translation.NewIndex(cfg.Metrics)
	}
	return &Strategy{
		variant: variant,
		source:  source,
		cfg:     cfg,
		logger:  slog.Default().With("component", "matching", "variant", variant.String()),
	}
}

func (s *Strategy) Variant() Variant { return s.variant }

func (s *Strategy) Source() index.Source { return s.source }

// translated is one translation of a query term resolved to a lexicon key.
type translated struct {
	key    string
	weight float64
}

// run is the state of one Match call.
type run struct {
	stats index.CollectionStatistics
	acc   *Accumulator
	model WeightingModel
	c     float64
}

type scoreFunc func(s *Strategy, r *run, t QueryTerm) error

var scorers = map[Variant]scoreFunc{
	Standard:   scoreStandard,
	Dirichlet:  scoreDirichlet,
	WeMono:     scoreWeMono,
	WeCLIR:     scoreWeCLIR,
	WeCLIRTLM:  scoreWeCLIRTLM,
	WeMonoTLM:  scoreWeMonoTLM,
	WeCLIRTLM2: scoreWeCLIRTLM2,
}

// Match scores q and returns its ranked result. On a posting read error it
// returns an empty result together with the error.
func (s *Strategy) Match(ctx context.Context, q *Query) (*ResultSet, error) {
	start := time.Now()
	log := s.logger.With("qid", q.ID)
	if id := logger.RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}

	r := &run{
		stats: s.source.CollectionStatistics(),
		acc:   NewAccumulator(),
		model: q.Weighting,
		c:     s.variant.DefaultC(),
	}
	if r.model == nil {
		r.model = models.NewInL2()
	}
	if q.CSet {
		r.c = q.C
		r.model.SetParameter(q.C)
	}
	if !s.variant.UsesWeightingModel() && r.c <= 0 {
		return EmptyResultSet(), fmt.Errorf("smoothing constant %v: %w", r.c, apperrors.ErrInvalidInput)
	}

	score := scorers[s.variant]
	for _, t := range scoredTerms(q.Terms) {
		if err := score(s, r, t); err != nil {
			return EmptyResultSet(), err
		}
	}
	if err := s.applyGate(r, q.Terms); err != nil {
		return EmptyResultSet(), err
	}
	if err := s.applyVetoes(r, q.Terms); err != nil {
		return EmptyResultSet(), err
	}

	rs, pruned := r.acc.Finalize()
	if pruned > 0 {
		log.Debug("negative infinity documents removed", "count", pruned)
		s.cfg.Metrics.Pruned(pruned)
	}
	log.Debug("matching complete",
		"results", rs.Size(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return rs, nil
}

// Info describes the scoring configuration q would run with.
func (s *Strategy) Info(q *Query) string {
	model := q.Weighting
	if model == nil {
		model = models.NewInL2()
	}
	c := s.variant.DefaultC()
	if q.CSet {
		c = q.C
		model.SetParameter(q.C)
	}
	return s.variant.info(model, c)
}

// walk calls fn for every posting of key. It reports whether key is in the
// lexicon.
func (s *Strategy) walk(key string, fn func(entry index.TermEntry, p index.Posting)) (bool, error) {
	entry, ok := s.source.Lookup(key)
	if !ok {
		return false, nil
	}
	it, err := s.source.Postings(entry)
	if err != nil {
		return true, fmt.Errorf("postings of %q: %w", key, err)
	}
	for it.Next() {
		fn(entry, it.Posting())
	}
	if err := it.Err(); err != nil {
		return true, fmt.Errorf("postings of %q: %w", key, err)
	}
	return true, nil
}

// translate resolves the top translations of t to lexicon keys. Candidates
// the normaliser eliminates are skipped; candidates that normalise to the
// same key have their weights merged.
func (s *Strategy) translate(t QueryTerm) []translated {
	top := s.cfg.Translations.TopK(t.Raw, s.cfg.TopTerms)
	out := make([]translated, 0, len(top))
	pos := make(map[string]int, len(top))
	for _, c := range top {
		term := c.Term
		if s.cfg.Normalizer != nil {
			var ok bool
			if term, ok = s.cfg.Normalizer.Normalize(c.Term); !ok {
				continue
			}
		}
		key := lexiconKey(t.Field, term)
		if i, ok := pos[key]; ok {
			out[i].weight += c.Score
			continue
		}
		pos[key] = len(out)
		out = append(out, translated{key: key, weight: c.Score})
	}
	return out
}

// expansion returns the lexicon keys whose presence in a document counts as
// the document containing t. ok is false when t cannot be evaluated.
func (s *Strategy) expansion(t QueryTerm) ([]string, bool) {
	if !s.variant.Translates() || s.variant == WeMonoTLM {
		if t.Eliminated || t.Term == "" {
			return nil, false
		}
		return []string{t.Key()}, true
	}
	trs := s.translate(t)
	if len(trs) == 0 {
		return nil, false
	}
	keys := make([]string, len(trs))
	for i, tr := range trs {
		keys[i] = tr.key
	}
	return keys, true
}

func (s *Strategy) containing(keys []string) (map[int]bool, error) {
	docs := make(map[int]bool)
	for _, key := range keys {
		if _, err := s.walk(key, func(_ index.TermEntry, p index.Posting) {
			docs[p.DocID] = true
		}); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// applyGate vetoes every scored document that misses a required or field
// term.
func (s *Strategy) applyGate(r *run, all []QueryTerm) error {
	for _, t := range gateTerms(all) {
		keys, ok := s.expansion(t)
		if !ok {
			continue
		}
		docs, err := s.containing(keys)
		if err != nil {
			return err
		}
		for _, id := range r.acc.DocIDs() {
			if !docs[id] {
				r.acc.Veto(id)
			}
		}
	}
	return nil
}

// applyVetoes drops every scored document containing a prohibited term.
func (s *Strategy) applyVetoes(r *run, all []QueryTerm) error {
	for _, t := range prohibitedTerms(all) {
		keys, ok := s.expansion(t)
		if !ok {
			continue
		}
		docs, err := s.containing(keys)
		if err != nil {
			return err
		}
		for id := range docs {
			r.acc.Veto(id)
		}
	}
	return nil
}

func (s *Strategy) scoreWithModel(r *run, key string, weight float64) error {
	entry, ok := s.source.Lookup(key)
	if !ok {
		return nil
	}
	r.model.Prepare(r.stats, entry)
	_, err := s.walk(key, func(_ index.TermEntry, p index.Posting) {
		r.acc.Add(p.DocID, weight*r.model.Score(p))
	})
	return err
}

func scoreStandard(s *Strategy, r *run, t QueryTerm) error {
	if t.Eliminated || t.Term == "" {
		return nil
	}
	return s.scoreWithModel(r, t.Key(), t.Weight)
}

func scoreWeMono(s *Strategy, r *run, t QueryTerm) error {
	if t.Eliminated {
		return nil
	}
	for _, tr := range s.translate(t) {
		if err := s.scoreWithModel(r, tr.key, t.Weight); err != nil {
			return err
		}
	}
	return nil
}

func scoreWeCLIR(s *Strategy, r *run, t QueryTerm) error {
	if s.cfg.SourceStopwords.Contains(t.Raw) {
		return nil
	}
	for _, tr := range s.translate(t) {
		if err := s.scoreWithModel(r, tr.key, t.Weight); err != nil {
			return err
		}
	}
	return nil
}

// dirichlet is log(1 + tf/(c*cf/N)) + log(c/(dl+c)).
func dirichlet(p index.Posting, cf, tokens, c float64) float64 {
	dl := float64(p.DocLength)
	return math.Log(1+float64(p.Frequency)/(c*cf/tokens)) + math.Log(c/(dl+c))
}

func scoreDirichlet(s *Strategy, r *run, t QueryTerm) error {
	tokens := float64(r.stats.NumberOfTokens)
	for _, tr := range s.translate(t) {
		_, err := s.walk(tr.key, func(entry index.TermEntry, p index.Posting) {
			if entry.Frequency == 0 {
				return
			}
			r.acc.Add(p.DocID, t.Weight*dirichlet(p, float64(entry.Frequency), tokens, r.c))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func scoreWeCLIRTLM(s *Strategy, r *run, t QueryTerm) error {
	tokens := float64(r.stats.NumberOfTokens)
	for _, tr := range s.translate(t) {
		if tr.weight <= 0 {
			continue
		}
		logp := math.Log(tr.weight)
		_, err := s.walk(tr.key, func(entry index.TermEntry, p index.Posting) {
			if entry.Frequency == 0 {
				return
			}
			r.acc.Add(p.DocID, t.Weight*(logp+dirichlet(p, float64(entry.Frequency), tokens, r.c)))
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// distributions returns, per translation key, p(u|d) = tf/dl for every
// document containing it. Translations missing from the lexicon are absent.
func (s *Strategy) distributions(trs []translated) (map[string]map[int]float64, error) {
	out := make(map[string]map[int]float64, len(trs))
	for _, tr := range trs {
		dist := make(map[int]float64)
		found, err := s.walk(tr.key, func(_ index.TermEntry, p index.Posting) {
			if p.DocLength > 0 {
				dist[p.DocID] = float64(p.Frequency) / float64(p.DocLength)
			}
		})
		if err != nil {
			return nil, err
		}
		if found {
			out[tr.key] = dist
		}
	}
	return out, nil
}

// translationMixture scores the postings of one term entry by mixing the
// translations' in-document probabilities with a Dirichlet prior on the
// entry's collection frequency.
func (s *Strategy) translationMixture(r *run, key string, weight float64, trs []translated, dists map[string]map[int]float64) error {
	tokens := float64(r.stats.NumberOfTokens)
	c := r.c
	_, err := s.walk(key, func(entry index.TermEntry, p index.Posting) {
		if entry.Frequency == 0 {
			return
		}
		pc := float64(entry.Frequency) / tokens
		dl := float64(p.DocLength)
		var sum float64
		for _, tr := range trs {
			if dist, ok := dists[tr.key]; ok {
				sum += tr.weight * dist[p.DocID]
			}
		}
		score := math.Log((dl*sum+c*pc)/(c+dl)) - math.Log(c/(c+dl)*pc) + math.Log(c/(c+dl))
		r.acc.Add(p.DocID, weight*score)
	})
	return err
}

func scoreWeMonoTLM(s *Strategy, r *run, t QueryTerm) error {
	if t.Eliminated || t.Term == "" {
		return nil
	}
	trs := s.translate(t)
	dists, err := s.distributions(trs)
	if err != nil {
		return err
	}
	return s.translationMixture(r, t.Key(), t.Weight, trs, dists)
}

func scoreWeCLIRTLM2(s *Strategy, r *run, t QueryTerm) error {
	trs := s.translate(t)
	dists, err := s.distributions(trs)
	if err != nil {
		return err
	}
	for _, tr := range trs {
		if err := s.translationMixture(r, tr.key, t.Weight, trs, dists); err != nil {
			return err
		}
	}
	return nil
}
