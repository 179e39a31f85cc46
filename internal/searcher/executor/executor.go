// Package executor runs search requests through the query manager and
// shapes the outcome for the HTTP surface and the batch runner.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/matching"
	"github.com/nectic/terrier-core/internal/matching/models"
	"github.com/nectic/terrier-core/internal/querying"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
)

// Request is one search. Empty model names use the manager's defaults.
// Controls are applied before the query's own controls are extracted, so a
// control written in the query text wins.
type Request struct {
	QueryID        string            `json:"qid,omitempty"`
	Query          string            `json:"query"`
	MatchingModel  string            `json:"matching_model,omitempty"`
	WeightingModel string            `json:"weighting_model,omitempty"`
	Controls       map[string]string `json:"controls,omitempty"`
}

// Key is a canonical form of the request for caching. The query id is not
// part of it.
func (r Request) Key() string {
	var b strings.Builder
	b.WriteString(strings.Join(strings.Fields(r.Query), " "))
	b.WriteString("|m=" + strings.ToLower(r.MatchingModel))
	b.WriteString("|w=" + r.WeightingModel)
	names := make([]string, 0, len(r.Controls))
	for name := range r.Controls {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString("|" + name + "=" + r.Controls[name])
	}
	return b.String()
}

// Hit is one ranked document.
type Hit struct {
	Rank  int     `json:"rank"`
	DocID int     `json:"docid"`
	DocNo string  `json:"docno,omitempty"`
	Score float64 `json:"score"`
}

// SearchResult is the outcome of one request. TotalHits counts the
// documents matched before filtering and windowing.
type SearchResult struct {
	QueryID   string `json:"qid"`
	Query     string `json:"query"`
	Info      string `json:"info"`
	Empty     bool   `json:"empty"`
	TotalHits int    `json:"total_hits"`
	Results   []Hit  `json:"results"`
	LatencyMs int64  `json:"latency_ms"`
}

// Executor adapts a querying.Manager to request/response calls.
type Executor struct {
	manager *querying.Manager
	logger  *slog.Logger
}

func New(manager *querying.Manager) *Executor {
	return &Executor{
		manager: manager,
		logger:  slog.Default().With("component", "query-executor"),
	}
}

// Manager returns the underlying query manager.
func (e *Executor) Manager() *querying.Manager {
	return e.manager
}

// Validate rejects unknown model names before any work is done.
func Validate(req Request) error {
	if req.MatchingModel != "" {
		if _, err := matching.ParseVariant(req.MatchingModel); err != nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown matching model %q", req.MatchingModel)
		}
	}
	if req.WeightingModel != "" {
		if _, err := models.New(req.WeightingModel); err != nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "unknown weighting model %q", req.WeightingModel)
		}
	}
	return nil
}

// Execute runs req to completion. It fails only for invalid requests or
// when ctx ends before the query finishes.
func (e *Executor) Execute(ctx context.Context, req Request) (*SearchResult, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	start := time.Now()

	r := e.manager.NewQuery(ctx, req.QueryID, req.Query)
	if req.MatchingModel != "" {
		r.MatchingModel = req.MatchingModel
	}
	if req.WeightingModel != "" {
		r.WeightingModel = req.WeightingModel
	}
	for name, value := range req.Controls {
		r.SetControl(name, value)
	}

	rs := e.manager.RunFull(ctx, r)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w: %w", r.QueryID, apperrors.ErrTimeout, err)
	}

	result := &SearchResult{
		QueryID:   r.QueryID,
		Query:     req.Query,
		Info:      e.manager.Info(r),
		Empty:     r.Empty(),
		TotalHits: rs.ExactSize,
		Results:   hits(r.Index, rs),
		LatencyMs: time.Since(start).Milliseconds(),
	}
	e.logger.Debug("query executed",
		"qid", r.QueryID,
		"variant", r.MatchingModel,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
	)
	return result, nil
}

func hits(src index.Source, rs *matching.ResultSet) []Hit {
	out := make([]Hit, rs.Size())
	meta, _ := src.(index.MetaSource)
	for i, id := range rs.DocIDs {
		out[i] = Hit{Rank: i, DocID: id, Score: rs.Scores[i]}
		if docno, ok := rs.MetadataAt(querying.MetadataDocNo, i); ok {
			out[i].DocNo = docno
		} else if meta != nil {
			out[i].DocNo, _ = meta.DocNo(id)
		}
	}
	return out
}
