package querying

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/nectic/terrier-core/internal/matching"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// Namespaces qualify module names that carry no '.'.
const (
	NamespacePreProcess  = "preprocess."
	NamespacePostProcess = "postprocess."
	NamespacePostFilter  = "postfilter."
)

// PreProcess rewrites a request's matching terms before scoring.
type PreProcess interface {
	Process(ctx context.Context, r *Request)
}

// PostProcess rewrites a request's result after scoring.
type PostProcess interface {
	Process(ctx context.Context, r *Request)
	Info() string
}

// Decision is a post filter's verdict on one document.
type Decision int

const (
	Keep Decision = iota
	Remove
)

// PostFilter classifies the documents of one result. NewQuery is called
// before the first Filter call of every result it sees.
type PostFilter interface {
	NewQuery(r *Request, rs *matching.ResultSet)
	Filter(r *Request, rs *matching.ResultSet, rank, docID int) Decision
}

// registry maps qualified names to factories.
type registry[T any] struct {
	namespace string
	mu        sync.RWMutex
	factories map[string]func() T
}

func newRegistry[T any](namespace string) *registry[T] {
	return &registry[T]{namespace: namespace, factories: make(map[string]func() T)}
}

func (r *registry[T]) register(name string, f func() T) {
	r.mu.Lock()
	r.factories[qualify(r.namespace, name)] = f
	r.mu.Unlock()
}

func (r *registry[T]) create(name string) (T, error) {
	qualified := qualify(r.namespace, name)
	r.mu.RLock()
	f, ok := r.factories[qualified]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("module %q: %w", qualified, apperrors.ErrUnknownModule)
	}
	return f(), nil
}

func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func qualify(namespace, name string) string {
	name = strings.TrimSpace(name)
	if strings.Contains(name, ".") {
		return name
	}
	return namespace + name
}

var (
	preProcesses  = newRegistry[PreProcess](NamespacePreProcess)
	postProcesses = newRegistry[PostProcess](NamespacePostProcess)
	postFilters   = newRegistry[PostFilter](NamespacePostFilter)
)

// RegisterPreProcess makes a pre-process module available by name.
func RegisterPreProcess(name string, f func() PreProcess) { preProcesses.register(name, f) }

// RegisterPostProcess makes a post-process module available by name.
func RegisterPostProcess(name string, f func() PostProcess) { postProcesses.register(name, f) }

// RegisterPostFilter makes a post filter available by name.
func RegisterPostFilter(name string, f func() PostFilter) { postFilters.register(name, f) }

// Modules lists every registered module by qualified name.
func Modules() []string {
	var out []string
	out = append(out, preProcesses.names()...)
	out = append(out, postProcesses.names()...)
	return append(out, postFilters.names()...)
}

// moduleCache holds instantiated modules. Entries are created on first use
// and never evicted; when two callers race, the first stored wins.
type moduleCache[T any] struct {
	mu    sync.RWMutex
	items map[string]T
}

func newModuleCache[T any]() *moduleCache[T] {
	return &moduleCache[T]{items: make(map[string]T)}
}

func (c *moduleCache[T]) get(key string, create func() (T, error)) (T, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if ok {
		return item, nil
	}
	item, err := create()
	if err != nil {
		return item, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.items[key]; ok {
		return existing, nil
	}
	c.items[key] = item
	return item, nil
}

func (c *moduleCache[T]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
