// Package handler exposes the searcher over HTTP and reacts to index
// rebuild notifications.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/nectic/terrier-core/internal/analytics"
	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/index/segment"
	"github.com/nectic/terrier-core/internal/indexer"
	"github.com/nectic/terrier-core/internal/searcher/cache"
	"github.com/nectic/terrier-core/internal/searcher/executor"
	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/kafka"
	"github.com/nectic/terrier-core/pkg/logger"
	"github.com/nectic/terrier-core/pkg/middleware"
)

// retiredIndexGrace is how long a replaced index stays open for queries that
// started before the swap.
const retiredIndexGrace = 30 * time.Second

// Query parameters with a fixed meaning. Every other parameter is passed to
// the query manager as a control and is subject to its allow-list.
const (
	paramQuery     = "q"
	paramQueryID   = "qid"
	paramMatching  = "model"
	paramWeighting = "weighting"
)

// OpenFunc opens the index at path.
type OpenFunc func(path string) (index.Source, error)

type Handler struct {
	executor   *executor.Executor
	cache      *cache.QueryCache
	collector  *analytics.Collector
	maxResults int
	open       OpenFunc
	logger     *slog.Logger
}

// New creates a Handler. queryCache and collector may be nil. A positive
// maxResults caps the window end of every request.
func New(exec *executor.Executor, queryCache *cache.QueryCache, collector *analytics.Collector, maxResults int) *Handler {
	return &Handler{
		executor:   exec,
		cache:      queryCache,
		collector:  collector,
		maxResults: maxResults,
		open: func(path string) (index.Source, error) {
			return segment.OpenReader(path)
		},
		logger: slog.Default().With("component", "search-handler"),
	}
}

// WithOpener replaces the function used to open rebuilt indexes.
func (h *Handler) WithOpener(open OpenFunc) *Handler {
	h.open = open
	return h
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := h.parseRequest(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	var result *executor.SearchResult
	cacheHit := false
	compute := func(ctx context.Context) (*executor.SearchResult, error) {
		return h.executor.Execute(ctx, req)
	}
	if h.cache != nil {
		result, cacheHit, err = h.cache.GetOrCompute(ctx, req, compute)
	} else {
		result, err = compute(ctx)
	}

	latencyMs := time.Since(start).Milliseconds()
	h.track(ctx, req, result, err, cacheHit, latencyMs)

	if err != nil {
		log.Error("search failed", "query", req.Query, "error", err)
		h.writeError(w, err)
		return
	}

	log.Info("search completed",
		"qid", result.QueryID,
		"info", result.Info,
		"total_hits", result.TotalHits,
		"returned", len(result.Results),
		"cache_hit", cacheHit,
		"latency_ms", latencyMs,
	)
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) parseRequest(r *http.Request) (executor.Request, error) {
	params := r.URL.Query()
	req := executor.Request{
		QueryID:        params.Get(paramQueryID),
		Query:          params.Get(paramQuery),
		MatchingModel:  params.Get(paramMatching),
		WeightingModel: params.Get(paramWeighting),
	}
	if req.Query == "" {
		return req, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'q' is required")
	}
	for name, values := range params {
		switch name {
		case paramQuery, paramQueryID, paramMatching, paramWeighting:
			continue
		}
		if len(values) == 0 {
			continue
		}
		if req.Controls == nil {
			req.Controls = make(map[string]string)
		}
		req.Controls[name] = values[len(values)-1]
	}
	if h.maxResults > 0 {
		end, err := windowEnd(req.Controls["end"], h.maxResults)
		if err != nil {
			return req, err
		}
		if req.Controls == nil {
			req.Controls = make(map[string]string)
		}
		req.Controls["end"] = end
	}
	return req, executor.Validate(req)
}

// windowEnd clamps the inclusive window end to the last rank a caller may
// receive.
func windowEnd(raw string, maxResults int) (string, error) {
	last := maxResults - 1
	if raw == "" {
		return strconv.Itoa(last), nil
	}
	end, err := strconv.Atoi(raw)
	if err != nil {
		return "", apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "end must be an integer, got %q", raw)
	}
	if end > last {
		end = last
	}
	return strconv.Itoa(end), nil
}

func (h *Handler) track(ctx context.Context, req executor.Request, result *executor.SearchResult, err error, cacheHit bool, latencyMs int64) {
	if h.collector == nil {
		return
	}
	event := analytics.QueryEvent{
		QueryID:        req.QueryID,
		Query:          req.Query,
		MatchingModel:  req.MatchingModel,
		WeightingModel: req.WeightingModel,
		LatencyMs:      latencyMs,
		CacheHit:       cacheHit,
		RequestID:      middleware.GetRequestID(ctx),
	}
	if result != nil {
		event.QueryID = result.QueryID
		event.Info = result.Info
		event.TotalHits = result.TotalHits
		event.Returned = len(result.Results)
		event.Type = analytics.Classify(false, result.Empty, result.TotalHits)
	} else {
		event.Type = analytics.Classify(err != nil, false, 0)
	}
	if event.MatchingModel == "" {
		event.MatchingModel = h.executor.Manager().Property(config.KeyMatchingModel, "standard")
	}
	h.collector.Track(event)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
		"breaker":  h.cache.BreakerState().String(),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, apperrors.New(apperrors.ErrInvalidInput, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// OnIndexComplete swaps in a rebuilt index. It is a kafka.MessageHandler for
// the index-complete topic. Cached results are dropped after the swap.
func (h *Handler) OnIndexComplete(ctx context.Context, _ []byte, value []byte) error {
	msg, err := kafka.DecodeJSON[indexer.IndexComplete](value)
	if err != nil {
		return err
	}
	if msg.Path == "" {
		return fmt.Errorf("index-complete without a path: %w", apperrors.ErrInvalidInput)
	}
	return h.Reload(ctx, msg.Path)
}

// Reload opens the index at path and makes it the one new queries run on.
func (h *Handler) Reload(ctx context.Context, path string) error {
	src, err := h.open(path)
	if err != nil {
		return fmt.Errorf("opening index %s: %w: %w", path, apperrors.ErrIndexUnavailable, err)
	}
	manager := h.executor.Manager()
	old := manager.Index()
	manager.UseIndex(src)
	h.logger.Info("index reloaded", "path", path, "handle", src.Handle())

	if closer, ok := old.(io.Closer); ok && old != src {
		time.AfterFunc(retiredIndexGrace, func() {
			if err := closer.Close(); err != nil {
				h.logger.Warn("closing retired index", "handle", old.Handle(), "error", err)
			}
		})
	}
	if h.cache != nil {
		if err := h.cache.Invalidate(ctx); err != nil {
			h.logger.Warn("cache invalidation after reload failed", "error", err)
		}
	}
	return nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	src := h.executor.Manager().Index()
	if src == nil {
		h.writeError(w, apperrors.New(apperrors.ErrIndexUnavailable, http.StatusServiceUnavailable, "no index loaded"))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "index": string(src.Handle())})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	message := err.Error()
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	h.writeJSON(w, apperrors.HTTPStatusCode(err), map[string]string{"error": message})
}
