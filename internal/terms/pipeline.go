// Package terms normalises individual terms through a configurable chain of
// steps (stopword removal, stemming, case folding) and splits raw text into
// tokens.
package terms

import (
	"fmt"
	"strings"
	"sync"
	"unicode"

	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// Pipeline is one step in a normalisation chain. A step either forwards a
// (possibly rewritten) term to the next step or drops it.
type Pipeline interface {
	ProcessTerm(term string)
}

// StepFactory builds a step that forwards to next.
type StepFactory func(next Pipeline) Pipeline

var (
	stepsMu sync.RWMutex
	steps   = map[string]StepFactory{
		"Stopwords": func(next Pipeline) Pipeline {
			return &Stopwords{next: next, list: EnglishStopwords()}
		},
		"PorterStemmer":          func(next Pipeline) Pipeline { return &EnglishStemmer{next: next} },
		"EnglishSnowballStemmer": func(next Pipeline) Pipeline { return &EnglishStemmer{next: next} },
		"FrenchSnowballStemmer":  func(next Pipeline) Pipeline { return &FrenchStemmer{next: next} },
		"SuffixStemmer":          func(next Pipeline) Pipeline { return &SuffixStemmer{next: next} },
		"LowerCase":              func(next Pipeline) Pipeline { return &LowerCase{next: next} },
		"NoOp":                   func(next Pipeline) Pipeline { return next },
	}
)

// RegisterStep makes a custom step available by name.
func RegisterStep(name string, factory StepFactory) {
	stepsMu.Lock()
	steps[name] = factory
	stepsMu.Unlock()
}

// Accessor runs terms through a step chain. The chain reports its output into
// a single shared slot, so Normalize serialises callers with a mutex.
type Accessor struct {
	mu    sync.Mutex
	head  Pipeline
	names []string
	out   *sink
}

type sink struct {
	term string
	kept bool
}

func (s *sink) ProcessTerm(term string) {
	s.term = term
	s.kept = true
}

// NewAccessor builds the chain named by a comma-separated list such as
// "Stopwords,PorterStemmer". Steps run in list order.
func NewAccessor(names string) (*Accessor, error) {
	var list []string
	for _, name := range strings.Split(names, ",") {
		if name = strings.TrimSpace(name); name != "" {
			list = append(list, name)
		}
	}

	out := &sink{}
	var head Pipeline = out

	stepsMu.RLock()
	defer stepsMu.RUnlock()
	for i := len(list) - 1; i >= 0; i-- {
		factory, ok := steps[list[i]]
		if !ok {
			return nil, fmt.Errorf("term pipeline step %q: %w", list[i], apperrors.ErrUnknownModule)
		}
		head = factory(head)
	}
	return &Accessor{head: head, names: list, out: out}, nil
}

// Normalize returns the normalised form of raw, or false when a step
// eliminated it.
func (a *Accessor) Normalize(raw string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.out.term, a.out.kept = "", false
	a.head.ProcessTerm(raw)
	return a.out.term, a.out.kept
}

// Steps returns the configured step names in order.
func (a *Accessor) Steps() []string {
	return append([]string(nil), a.names...)
}

// LowerCase folds terms to lower case.
type LowerCase struct {
	next Pipeline
}

func (l *LowerCase) ProcessTerm(term string) {
	l.next.ProcessTerm(strings.ToLower(term))
}

// Split lower-cases text and breaks it on non-alphanumeric boundaries.
func Split(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
