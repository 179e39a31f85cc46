// Package models implements per-posting weighting models. A model is
// prepared once per query term with the collection and term statistics, then
// scores every posting of that term.
package models

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/nectic/terrier-core/internal/index"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// Model scores one posting of a prepared term. Instances are not safe for
// concurrent use; create one per query.
type Model interface {
	Name() string
	SetParameter(c float64)
	Parameter() float64
	Prepare(stats index.CollectionStatistics, entry index.TermEntry)
	Score(p index.Posting) float64
	Info() string
}

// Factory creates a model with its default parameter.
type Factory func() Model

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"InL2":        func() Model { return NewInL2() },
		"PL2":         func() Model { return NewPL2() },
		"BM25":        func() Model { return NewBM25() },
		"TF_IDF":      func() Model { return NewTFIDF() },
		"DirichletLM": func() Model { return NewDirichletLM() },
	}
)

// Register adds or replaces a named model.
func Register(name string, f Factory) {
	registryMu.Lock()
	registry[name] = f
	registryMu.Unlock()
}

// New instantiates the model registered under name.
func New(name string) (Model, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("weighting model %q: %w", name, apperrors.ErrUnknownModule)
	}
	return f(), nil
}

// Names lists the registered model names.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// base carries the state every model shares.
type base struct {
	c     float64
	stats index.CollectionStatistics
	entry index.TermEntry
}

func (b *base) SetParameter(c float64) { b.c = c }

func (b *base) Parameter() float64 { return b.c }

func (b *base) Prepare(stats index.CollectionStatistics, entry index.TermEntry) {
	b.stats = stats
	b.entry = entry
}

func info(name string, c float64) string {
	return name + "c" + FormatParameter(c)
}

// FormatParameter renders a free parameter the way Info does: whole values
// keep one decimal place.
func FormatParameter(c float64) string {
	if c == math.Trunc(c) {
		return strconv.FormatFloat(c, 'f', 1, 64)
	}
	return strconv.FormatFloat(c, 'f', -1, 64)
}

func log2(x float64) float64 {
	return math.Log2(x)
}
