// Package querying runs queries through their lifecycle: control
// extraction, term normalisation, pre-processing, matching,
// post-processing and post filtering with result windowing.
package querying

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching"
	"github.com/nectic/terrier-core/internal/matching/models"
	"github.com/nectic/terrier-core/internal/searcher/parser"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/internal/translation"
	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/logger"
	"github.com/nectic/terrier-core/pkg/metrics"
	"github.com/nectic/terrier-core/pkg/tracing"
)

// GenericQueryID names requests created without an id.
const GenericQueryID = "query"

// Options carries the manager's collaborators. Properties is required;
// everything else may be nil.
type Options struct {
	Properties      *config.Properties
	Translations    *translation.Index
	SourceStopwords terms.StopList
	Metrics         *metrics.Metrics
}

// settings is the immutable view of the properties a query runs with.
// SetProperty swaps in a new one; in-flight queries keep theirs.
type settings struct {
	allowed        map[string]bool
	defaults       map[string]string
	pre            []stage
	post           []stage
	filters        []stage
	lastPre        string
	lastPost       string
	matchEmpty     bool
	cachingFilters bool
	noNegative     bool
	runAll         bool
	matchingModel  string
	weightingModel string
	topTerms       int
	parser         *parser.Parser
}

// Manager is shared by concurrent queries. The term normaliser serialises
// its own access and the module caches are insert-if-absent.
type Manager struct {
	props        *config.Properties
	translations *translation.Index
	stopwords    terms.StopList
	metrics      *metrics.Metrics

	index      atomic.Pointer[index.Source]
	settings   atomic.Pointer[settings]
	normalizer atomic.Pointer[terms.Accessor]

	preCache    *moduleCache[PreProcess]
	postCache   *moduleCache[PostProcess]
	filterCache *moduleCache[PostFilter]

	strategyMu sync.Mutex
	strategies map[index.Handle]*moduleCache[*matching.Strategy]

	logger *slog.Logger
}

// New creates a manager over src. It fails only when the configured term
// pipeline names an unknown step.
func New(src index.Source, opts Options) (*Manager, error) {
	if opts.Properties == nil {
		opts.Properties = config.Default().Properties()
	}
	if opts.Translations == nil {
		opts.Translations = translation.NewIndex(opts.Metrics)
	}
	m := &Manager{
		props:        opts.Properties,
		translations: opts.Translations,
		stopwords:    opts.SourceStopwords,
		metrics:      opts.Metrics,
		preCache:     newModuleCache[PreProcess](),
		postCache:    newModuleCache[PostProcess](),
		filterCache:  newModuleCache[PostFilter](),
		strategies:   make(map[index.Handle]*moduleCache[*matching.Strategy]),
		logger:       slog.Default().With("component", "query-manager"),
	}
	acc, err := terms.NewAccessor(m.props.Get(config.KeyTermPipelines, ""))
	if err != nil {
		return nil, fmt.Errorf("loading term pipeline: %w", err)
	}
	m.normalizer.Store(acc)
	m.UseIndex(src)
	m.settings.Store(m.loadSettings())
	return m, nil
}

func (m *Manager) loadSettings() *settings {
	p := m.props
	fields := splitList(p.Get(config.KeyIndexFields, ""))
	return &settings{
		allowed:        parseSet(p.Get(config.KeyAllowedControls, "c,start,end")),
		defaults:       parseControls(p.Get(config.KeyDefaultControls, "")),
		pre:            parseStages("preprocess", p.Get(config.KeyPreprocessOrder, ""), p.Get(config.KeyPreprocessControls, ""), m.logger),
		post:           parseStages("postprocess", p.Get(config.KeyPostprocessOrder, ""), p.Get(config.KeyPostprocessControls, ""), m.logger),
		filters:        parseStages("postfilter", p.Get(config.KeyPostfilterOrder, ""), p.Get(config.KeyPostfilterControls, ""), m.logger),
		lastPre:        strings.TrimSpace(p.Get(config.KeyLastPreprocess, "")),
		lastPost:       strings.TrimSpace(p.Get(config.KeyLastPostprocess, "")),
		matchEmpty:     p.Bool(config.KeyMatchEmptyQuery, false),
		cachingFilters: p.Bool(config.KeyCachingFilters, false),
		noNegative:     p.Bool(config.KeyNoNegativeRequirement, false),
		runAll:         p.Bool(config.KeyRunAllStages, false),
		matchingModel:  p.Get(config.KeyMatchingModel, "standard"),
		weightingModel: p.Get(config.KeyWeightingModel, "InL2"),
		topTerms:       p.Int(config.KeyTopTranslationTerms, matching.DefaultTopTerms),
		parser:         parser.New(fields),
	}
}

// SetProperty changes one property. It applies to queries created after the
// call. Scoring strategies are rebuilt on next use.
func (m *Manager) SetProperty(key, value string) {
	m.props.Set(key, value)
	if key == config.KeyTermPipelines {
		acc, err := terms.NewAccessor(value)
		if err != nil {
			m.logger.Warn("term pipeline not changed", "value", value, "error", err)
		} else {
			m.normalizer.Store(acc)
		}
	}
	m.settings.Store(m.loadSettings())
	m.strategyMu.Lock()
	m.strategies = make(map[index.Handle]*moduleCache[*matching.Strategy])
	m.strategyMu.Unlock()
}

// Property returns the current value of a property.
func (m *Manager) Property(key, def string) string {
	return m.props.Get(key, def)
}

// UseIndex binds the posting source used by queries created afterwards.
func (m *Manager) UseIndex(src index.Source) {
	m.index.Store(&src)
}

// Index returns the current posting source.
func (m *Manager) Index() index.Source {
	if p := m.index.Load(); p != nil {
		return *p
	}
	return nil
}

// Normalize runs one term through the shared term pipeline.
func (m *Manager) Normalize(raw string) (string, bool) {
	return m.normalizer.Load().Normalize(raw)
}

// NewQuery creates a request with the default controls and the current
// index. A non-empty text is parsed; parse errors are logged and the
// request keeps whatever the parser recovered.
func (m *Manager) NewQuery(ctx context.Context, id, text string) *Request {
	s := m.settings.Load()
	if id == "" {
		id = GenericQueryID
	}
	r := &Request{
		QueryID:        id,
		Original:       text,
		Index:          m.Index(),
		MatchingModel:  s.matchingModel,
		WeightingModel: s.weightingModel,
		Started:        time.Now(),
		controls:       make(map[string]string, len(s.defaults)),
		Tree:           &parser.Tree{Controls: map[string]string{}},
	}
	for k, v := range s.defaults {
		r.controls[k] = v
	}
	if text != "" {
		tree, err := s.parser.Parse(text)
		if err != nil {
			logger.FromContext(ctx).Warn("error while parsing the query", "qid", id, "error", err)
		}
		r.Tree = tree
	}
	return r
}

// RunPreprocessing extracts the allowed controls, normalises every term,
// runs the enabled pre-process modules and decides whether the query is
// empty.
func (m *Manager) RunPreprocessing(ctx context.Context, r *Request) {
	defer m.observe(ctx, "preprocess")()
	s := m.settings.Load()
	log := m.requestLogger(ctx, r)
	if r.controls == nil {
		r.controls = make(map[string]string)
	}
	if r.Tree == nil {
		r.Tree = &parser.Tree{}
	}

	// Controls set by the caller obey the same allowed list as those in the
	// query text. Defaults always apply.
	for name, value := range r.controls {
		if s.allowed[name] {
			continue
		}
		def, isDefault := s.defaults[name]
		switch {
		case !isDefault:
			delete(r.controls, name)
		case value != def:
			r.controls[name] = def
		default:
			continue
		}
		log.Debug("control not allowed, discarded", "control", name)
	}
	for name, value := range r.Tree.Controls {
		if s.allowed[name] {
			r.controls[name] = value
		} else {
			log.Debug("control not allowed, discarded", "control", name)
		}
	}
	if r.Tree.Empty() {
		r.empty = true
		r.state = StatePreProcessed
		return
	}

	r.Terms = make([]matching.QueryTerm, 0, len(r.Tree.Clauses))
	for _, c := range r.Tree.Clauses {
		norm, ok := m.Normalize(c.Term)
		r.Terms = append(r.Terms, matching.QueryTerm{
			Raw:         c.Term,
			Term:        norm,
			Eliminated:  !ok,
			Field:       c.Field,
			Weight:      c.Weight,
			Requirement: matching.Requirement(c.Requirement),
		})
	}
	r.state = StateNormalized

	for _, name := range selectStages(s.pre, r.controls, s.runAll) {
		m.runPreProcess(ctx, r, name)
	}
	if s.lastPre != "" {
		m.runPreProcess(ctx, r, s.lastPre)
	}
	r.state = StatePreProcessed

	if m.allEliminated(r) {
		r.empty = true
		return
	}
	if s.noNegative {
		for i := range r.Terms {
			if r.Terms[i].Requirement == matching.Prohibited {
				r.Terms[i].Requirement = matching.Optional
			}
		}
	}
}

// allEliminated reports whether no term survived normalisation and the
// request's variant needs normalised source terms.
func (m *Manager) allEliminated(r *Request) bool {
	for _, t := range r.Terms {
		if !t.Eliminated {
			return false
		}
	}
	if len(r.Terms) == 0 {
		return true
	}
	v, err := matching.ParseVariant(r.MatchingModel)
	return err != nil || v.PipelinesSource()
}

func (m *Manager) runPreProcess(ctx context.Context, r *Request, name string) {
	mod, err := m.preCache.get(qualify(NamespacePreProcess, name), func() (PreProcess, error) {
		return preProcesses.create(name)
	})
	if err != nil {
		m.logger.Warn("pre-process module unavailable", "module", name, "error", err)
		return
	}
	m.requestLogger(ctx, r).Debug("processing", "module", name)
	mod.Process(ctx, r)
}

// RunMatching scores the request. An empty request gets an empty result
// without reading postings unless empty queries are configured to match.
// Any failure leaves an empty result.
func (m *Manager) RunMatching(ctx context.Context, r *Request) {
	defer m.observe(ctx, "matching")()
	s := m.settings.Load()
	log := m.requestLogger(ctx, r)
	r.state = StateMatched

	if r.empty && !s.matchEmpty {
		log.Warn("returning empty result set as query is empty")
		r.result = matching.EmptyResultSet()
		r.outcome = "empty"
		return
	}

	strategy, err := m.strategy(r.Index, r.MatchingModel)
	if err != nil {
		log.Error("matching model unavailable, returning empty result set", "model", r.MatchingModel, "error", err)
		r.result = matching.EmptyResultSet()
		r.outcome = "error"
		return
	}
	wmodel, err := models.New(r.WeightingModel)
	if err != nil {
		log.Error("weighting model unavailable, returning empty result set", "model", r.WeightingModel, "error", err)
		r.result = matching.EmptyResultSet()
		r.outcome = "error"
		return
	}
	c, cSet := m.parameter(r)
	log.Debug("weighting model", "info", strategy.Info(&matching.Query{Weighting: wmodel, C: c, CSet: cSet}))

	rs, err := strategy.Match(ctx, &matching.Query{
		ID:        r.QueryID,
		Terms:     r.Terms,
		Weighting: wmodel,
		C:         c,
		CSet:      cSet,
	})
	if err != nil {
		log.Error("problem running matching, returning empty result set", "error", err)
		r.result = matching.EmptyResultSet()
		r.outcome = "error"
		return
	}
	r.result = rs
	r.outcome = "ok"
}

// parameter reads the c and c_set controls. c counts as set when c_set is
// "true", or when c_set is absent and c is not empty.
func (m *Manager) parameter(r *Request) (float64, bool) {
	raw := strings.TrimSpace(r.Control("c"))
	set := raw != ""
	if flag, ok := r.controls["c_set"]; ok {
		set = strings.EqualFold(strings.TrimSpace(flag), "true")
	}
	if !set || raw == "" {
		return 0, false
	}
	c, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		m.logger.Warn("ignoring malformed parameter", "qid", r.QueryID, "c", raw)
		return 0, false
	}
	return c, true
}

// strategy returns the cached scoring strategy for (src, name).
func (m *Manager) strategy(src index.Source, name string) (*matching.Strategy, error) {
	if src == nil {
		return nil, fmt.Errorf("no index bound: %w", apperrors.ErrIndexUnavailable)
	}
	variant, err := matching.ParseVariant(name)
	if err != nil {
		return nil, err
	}
	m.strategyMu.Lock()
	cache, ok := m.strategies[src.Handle()]
	if !ok {
		cache = newModuleCache[*matching.Strategy]()
		m.strategies[src.Handle()] = cache
	}
	m.strategyMu.Unlock()

	s := m.settings.Load()
	return cache.get(variant.String(), func() (*matching.Strategy, error) {
		return matching.NewStrategy(variant, src, matching.Config{
			Translations:    m.translations,
			Normalizer:      m,
			SourceStopwords: m.stopwords,
			TopTerms:        s.topTerms,
			Metrics:         m.metrics,
		}), nil
	})
}

// RunPostprocessing runs the enabled post-process modules, then the last
// post-process module when one is configured.
func (m *Manager) RunPostprocessing(ctx context.Context, r *Request) {
	defer m.observe(ctx, "postprocess")()
	s := m.settings.Load()
	if r.result == nil {
		r.result = matching.EmptyResultSet()
	}
	for _, name := range selectStages(s.post, r.controls, s.runAll) {
		m.runPostProcess(ctx, r, name)
	}
	if s.lastPost != "" {
		m.runPostProcess(ctx, r, s.lastPost)
	}
	r.state = StatePostProcessed
}

func (m *Manager) postProcess(name string) (PostProcess, error) {
	return m.postCache.get(qualify(NamespacePostProcess, name), func() (PostProcess, error) {
		return postProcesses.create(name)
	})
}

func (m *Manager) runPostProcess(ctx context.Context, r *Request, name string) {
	mod, err := m.postProcess(name)
	if err != nil {
		m.logger.Warn("post-process module unavailable", "module", name, "error", err)
		return
	}
	m.requestLogger(ctx, r).Debug("processing", "module", name)
	mod.Process(ctx, r)
	r.fired = append(r.fired, qualify(NamespacePostProcess, name))
}

// RunPostfiltering applies the enabled post filters and the start/end
// window.
func (m *Manager) RunPostfiltering(ctx context.Context, r *Request) {
	defer m.observe(ctx, "postfilter")()
	s := m.settings.Load()
	if r.result == nil {
		r.result = matching.EmptyResultSet()
	}
	var filters []PostFilter
	for _, name := range selectStages(s.filters, r.controls, s.runAll) {
		f, err := m.postFilter(s, name)
		if err != nil {
			m.logger.Warn("post filter unavailable", "module", name, "error", err)
			continue
		}
		filters = append(filters, f)
	}
	w := ParseWindow(r.Control("start"), r.Control("end"))
	r.result, r.surviving = ApplyFilters(r, r.result, filters, w)
	r.state = StateFiltered
}

// postFilter returns a fresh filter unless filter caching is enabled, since
// filters keep per-query state.
func (m *Manager) postFilter(s *settings, name string) (PostFilter, error) {
	if !s.cachingFilters {
		return postFilters.create(name)
	}
	return m.filterCache.get(qualify(NamespacePostFilter, name), func() (PostFilter, error) {
		return postFilters.create(name)
	})
}

// RunFull runs the four stages in order and returns the final result. It
// never fails; problems degrade to fewer or no results.
func (m *Manager) RunFull(ctx context.Context, r *Request) *matching.ResultSet {
	ctx, span := tracing.StartSpan(ctx, "query", r.QueryID)
	m.RunPreprocessing(ctx, r)
	m.RunMatching(ctx, r)
	m.RunPostprocessing(ctx, r)
	m.RunPostfiltering(ctx, r)
	r.state = StateDone
	span.SetAttr("results", r.result.Size())
	span.SetAttr("variant", r.MatchingModel)
	span.End()
	span.Log(ctx, m.requestLogger(ctx, r))

	outcome := r.outcome
	if outcome == "" {
		outcome = "ok"
	}
	m.metrics.QueryDone(outcome, r.result.Size())
	return r.result
}

// Info describes the weighting model and the post-process modules the
// request enables, e.g. "InL2c1.0_Decorate".
func (m *Manager) Info(r *Request) string {
	s := m.settings.Load()
	var b strings.Builder

	wmodel, err := models.New(r.WeightingModel)
	if err != nil {
		b.WriteString(r.WeightingModel)
	} else if strategy, err := m.strategy(r.Index, r.MatchingModel); err == nil {
		c, cSet := m.parameter(r)
		b.WriteString(strategy.Info(&matching.Query{Weighting: wmodel, C: c, CSet: cSet}))
	} else {
		b.WriteString(wmodel.Info())
	}

	names := selectStages(s.post, r.controls, s.runAll)
	if s.lastPost != "" {
		names = append(names, s.lastPost)
	}
	for _, name := range names {
		if mod, err := m.postProcess(name); err == nil {
			b.WriteString("_" + mod.Info())
		}
	}
	return b.String()
}

func (m *Manager) requestLogger(ctx context.Context, r *Request) *slog.Logger {
	log := m.logger.With("qid", r.QueryID)
	if id := logger.RequestID(ctx); id != "" {
		log = log.With("request_id", id)
	}
	return log
}

// observe times one stage as a child span and a latency observation.
func (m *Manager) observe(ctx context.Context, stage string) func() {
	_, span := tracing.StartChildSpan(ctx, stage)
	return func() {
		span.End()
		m.metrics.ObserveStage(stage, span.Duration)
	}
}
