package querying

import (
	"strings"
	"time"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching"
	"github.com/nectic/terrier-core/internal/searcher/parser"
)

// State is the position of a Request in the query lifecycle.
type State int

const (
	StateCreated State = iota
	StateNormalized
	StatePreProcessed
	StateMatched
	StatePostProcessed
	StateFiltered
	StateDone
)

var stateNames = []string{"created", "normalized", "preprocessed", "matched", "postprocessed", "filtered", "done"}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Request is the per-query context. It is owned by the caller that created
// it and must not be shared between goroutines.
type Request struct {
	QueryID  string
	Original string
	Tree     *parser.Tree
	Index    index.Source

	// MatchingModel names the scoring variant, WeightingModel the
	// per-posting model. Both default from the manager's properties.
	MatchingModel  string
	WeightingModel string

	// Terms is the matching input built during preprocessing. Pre-process
	// modules may rewrite it.
	Terms []matching.QueryTerm

	Started time.Time

	controls  map[string]string
	result    *matching.ResultSet
	empty     bool
	state     State
	fired     []string
	surviving int
	outcome   string
}

// Control returns the value of a control, or "" when unset. Names are
// case-insensitive.
func (r *Request) Control(name string) string {
	return r.controls[strings.ToLower(name)]
}

// SetControl sets a control on this request only.
func (r *Request) SetControl(name, value string) {
	if r.controls == nil {
		r.controls = make(map[string]string)
	}
	r.controls[strings.ToLower(name)] = value
}

// Controls returns a copy of the request's controls.
func (r *Request) Controls() map[string]string {
	out := make(map[string]string, len(r.controls))
	for k, v := range r.controls {
		out[k] = v
	}
	return out
}

// ResultSet returns the current result; it is never nil after matching.
func (r *Request) ResultSet() *matching.ResultSet {
	return r.result
}

// SetResultSet replaces the current result. Post-process modules use it.
func (r *Request) SetResultSet(rs *matching.ResultSet) {
	r.result = rs
}

// Empty reports whether preprocessing found nothing to match.
func (r *Request) Empty() bool {
	return r.empty
}

func (r *Request) State() State {
	return r.state
}

// Surviving is the number of documents that passed the post filters before
// the window was filled. It is bounded by the window end plus one, not a
// count over the whole result set.
func (r *Request) Surviving() int {
	return r.surviving
}

// Fired lists the qualified names of the post-process modules that ran.
func (r *Request) Fired() []string {
	return append([]string(nil), r.fired...)
}
