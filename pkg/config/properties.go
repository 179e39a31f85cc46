package config

import (
	"strconv"
	"strings"
	"sync"
)

// Property keys understood by the query manager.
const (
	KeyAllowedControls       = "querying.allowed.controls"
	KeyDefaultControls       = "querying.default.controls"
	KeyPreprocessOrder       = "querying.preprocesses.order"
	KeyPreprocessControls    = "querying.preprocesses.controls"
	KeyPostprocessOrder      = "querying.postprocesses.order"
	KeyPostprocessControls   = "querying.postprocesses.controls"
	KeyPostfilterOrder       = "querying.postfilters.order"
	KeyPostfilterControls    = "querying.postfilters.controls"
	KeyLastPreprocess        = "querying.last.preprocess"
	KeyLastPostprocess       = "querying.last.postprocess"
	KeyMatchEmptyQuery       = "querying.match.empty.query"
	KeyCachingFilters        = "querying.caching.filters"
	KeyNoNegativeRequirement = "querying.no.negative.requirement"
	KeyRunAllStages          = "querying.stages.all"
	KeyTermPipelines         = "termpipelines"
	KeyMatchingModel         = "querying.matching.model"
	KeyWeightingModel        = "querying.weighting.model"
	KeyIndexFields           = "index.fields"
	KeyTopTranslationTerms   = "translation.top.terms"
)

// Properties is a concurrency-safe string map with typed accessors. It is the
// key/value view of the configuration consumed by the query manager.
type Properties struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewProperties returns a Properties seeded with the given values.
func NewProperties(values map[string]string) *Properties {
	p := &Properties{values: make(map[string]string, len(values))}
	for k, v := range values {
		p.values[k] = v
	}
	return p
}

// Get returns the value for key, or def when the key is unset.
func (p *Properties) Get(key, def string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[key]; ok {
		return v
	}
	return def
}

// Set stores value under key.
func (p *Properties) Set(key, value string) {
	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()
}

// Bool reports whether key holds "true" (case-insensitive).
func (p *Properties) Bool(key string, def bool) bool {
	v := p.Get(key, "")
	if v == "" {
		return def
	}
	return strings.EqualFold(strings.TrimSpace(v), "true")
}

// Int parses key as an integer, returning def when unset or malformed.
func (p *Properties) Int(key string, def int) int {
	v := strings.TrimSpace(p.Get(key, ""))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Properties flattens the query-engine sections of cfg into a Properties.
func (c *Config) Properties() *Properties {
	q := c.Querying
	return NewProperties(map[string]string{
		KeyAllowedControls:       q.AllowedControls,
		KeyDefaultControls:       q.DefaultControls,
		KeyPreprocessOrder:       q.Preprocesses.Order,
		KeyPreprocessControls:    q.Preprocesses.Controls,
		KeyPostprocessOrder:      q.Postprocesses.Order,
		KeyPostprocessControls:   q.Postprocesses.Controls,
		KeyPostfilterOrder:       q.Postfilters.Order,
		KeyPostfilterControls:    q.Postfilters.Controls,
		KeyLastPreprocess:        q.LastPreprocess,
		KeyLastPostprocess:       q.LastPostprocess,
		KeyMatchEmptyQuery:       strconv.FormatBool(q.MatchEmptyQuery),
		KeyCachingFilters:        strconv.FormatBool(q.CachingFilters),
		KeyNoNegativeRequirement: strconv.FormatBool(q.NoNegativeRequirement),
		KeyRunAllStages:          strconv.FormatBool(q.RunAllStages),
		KeyTermPipelines:         q.TermPipelines,
		KeyMatchingModel:         q.MatchingModel,
		KeyWeightingModel:        q.WeightingModel,
		KeyIndexFields:           strings.Join(c.Index.Fields, ","),
		KeyTopTranslationTerms:   strconv.Itoa(c.Translation.TopTerms),
	})
}
