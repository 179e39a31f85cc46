// Package indexer builds a segment from a document collection and announces
// it to running searchers.
package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nectic/terrier-core/internal/index"
	"github.com/nectic/terrier-core/internal/index/segment"
	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/kafka"
)

// maxLineSize bounds one JSON document line.
const maxLineSize = 16 << 20

// Document is one collection entry. Fields maps field names to their text.
type Document struct {
	DocNo  string            `json:"docno"`
	Fields map[string]string `json:"fields"`
}

// IndexComplete is published after a segment has been written.
type IndexComplete struct {
	Path      string    `json:"path"`
	Documents int       `json:"documents"`
	Terms     int       `json:"terms"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher sends index-complete notifications. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Engine struct {
	memIndex  *index.MemoryIndex
	cfg       config.IndexConfig
	fields    map[string]bool
	publisher Publisher
	logger    *slog.Logger
}

// NewEngine creates an engine whose tokens pass through normalizer, which
// must be the term pipeline queries will use. publisher may be nil.
func NewEngine(cfg config.IndexConfig, normalizer index.Normalizer, publisher Publisher) *Engine {
	e := &Engine{
		memIndex:  index.NewMemoryIndex(index.Handle(cfg.Path), normalizer),
		cfg:       cfg,
		publisher: publisher,
		logger:    slog.Default().With("component", "indexer"),
	}
	if len(cfg.Fields) > 0 {
		e.fields = make(map[string]bool, len(cfg.Fields))
		for _, f := range cfg.Fields {
			e.fields[strings.ToLower(strings.TrimSpace(f))] = true
		}
	}
	return e
}

// IndexDocument adds doc to the in-memory index. Fields outside the
// configured field list are ignored.
func (e *Engine) IndexDocument(doc Document) error {
	if strings.TrimSpace(doc.DocNo) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "document without a docno")
	}
	fields := doc.Fields
	if e.fields != nil {
		fields = make(map[string]string, len(doc.Fields))
		for name, text := range doc.Fields {
			if e.fields[strings.ToLower(name)] {
				fields[name] = text
			}
		}
	}
	id := e.memIndex.AddDocument(doc.DocNo, fields)
	e.logger.Debug("document indexed in memory", "docno", doc.DocNo, "docid", id)
	return nil
}

// IndexJSONL indexes one JSON Document per line of r and returns how many
// were added. Blank lines are skipped.
func (e *Engine) IndexJSONL(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	n, line := 0, 0
	for scanner.Scan() {
		line++
		if line%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return n, err
			}
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var doc Document
		if err := json.Unmarshal([]byte(text), &doc); err != nil {
			return n, fmt.Errorf("line %d: %w: %w", line, apperrors.ErrInvalidInput, err)
		}
		if err := e.IndexDocument(doc); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("reading documents: %w", err)
	}
	return n, nil
}

// Size returns the number of documents indexed so far.
func (e *Engine) Size() int {
	return e.memIndex.DocCount()
}

// Flush writes the index to the configured path and publishes an
// IndexComplete event. A failed publish is logged; the segment stays.
func (e *Engine) Flush(ctx context.Context) (IndexComplete, error) {
	snapshot := e.memIndex.Snapshot()
	start := time.Now()
	if err := segment.Write(e.cfg.Path, snapshot); err != nil {
		return IndexComplete{}, fmt.Errorf("writing segment: %w", err)
	}
	done := IndexComplete{
		Path:      e.cfg.Path,
		Documents: len(snapshot.DocNos),
		Terms:     len(snapshot.Terms),
		CreatedAt: time.Now().UTC(),
	}
	e.logger.Info("segment written",
		"path", done.Path,
		"documents", done.Documents,
		"terms", done.Terms,
		"duration", time.Since(start),
	)
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, kafka.Event{Key: done.Path, Value: done}); err != nil {
			e.logger.Error("failed to publish index-complete", "path", done.Path, "error", err)
		}
	}
	return done, nil
}
