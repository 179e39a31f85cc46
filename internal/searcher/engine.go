// Package searcher assembles a query executor from configuration: the
// segment to serve, the translation index and the query manager.
package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nectic/terrier-core/internal/index/segment"
	"github.com/nectic/terrier-core/internal/querying"
	"github.com/nectic/terrier-core/internal/searcher/executor"
	"github.com/nectic/terrier-core/internal/terms"
	"github.com/nectic/terrier-core/internal/translation"
	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/metrics"
	"github.com/nectic/terrier-core/pkg/postgres"
)

// Engine owns everything a query needs. Postgres and Store are nil unless
// the translation table lives in a database.
type Engine struct {
	Executor     *executor.Executor
	Index        *segment.Reader
	Translations *translation.Index
	Store        translation.Store
	Postgres     *postgres.Client
}

// Open builds an Engine from cfg. m may be nil.
func Open(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Engine, error) {
	logger := slog.Default().With("component", "searcher")
	e := &Engine{}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	reader, err := segment.OpenReader(cfg.Index.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err)
	}
	e.Index = reader
	stats := reader.CollectionStatistics()
	logger.Info("index opened",
		"path", cfg.Index.Path,
		"documents", stats.NumberOfDocuments,
		"terms", reader.Terms(),
	)

	if strings.EqualFold(cfg.Translation.Store, translation.StorePostgres) {
		e.Postgres, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrTranslationStore, err)
		}
	}
	e.Store, err = translation.OpenStore(ctx, cfg.Translation, e.Postgres)
	if err != nil {
		return nil, err
	}
	e.Translations, err = translation.Load(ctx, translation.LoadOptions{
		Config:  cfg.Translation,
		Store:   e.Store,
		Metrics: m,
		Keep: func(term string) bool {
			_, found := reader.Lookup(term)
			return found
		},
	})
	if err != nil {
		return nil, err
	}

	var stopwords terms.StopList
	if cfg.Translation.SourceStopwords != "" {
		stopwords, err = terms.LoadStopList(cfg.Translation.SourceStopwords)
		if err != nil {
			return nil, fmt.Errorf("source stopwords: %w", err)
		}
	}

	manager, err := querying.New(reader, querying.Options{
		Properties:      cfg.Properties(),
		Translations:    e.Translations,
		SourceStopwords: stopwords,
		Metrics:         m,
	})
	if err != nil {
		return nil, err
	}
	e.Executor = executor.New(manager)
	ok = true
	return e, nil
}

// Ping reports whether the translation store, when there is one, answers.
func (e *Engine) Ping(ctx context.Context) error {
	if e.Postgres == nil {
		return nil
	}
	return e.Postgres.Ping(ctx)
}

// Close releases the index and the translation store. A postgres store
// owns its connection. The index closed is the one Open loaded, not a
// later reload.
func (e *Engine) Close() error {
	var errs []error
	if e.Index != nil {
		errs = append(errs, e.Index.Close())
	}
	switch {
	case e.Store != nil:
		errs = append(errs, e.Store.Close())
	case e.Postgres != nil:
		errs = append(errs, e.Postgres.Close())
	}
	return errors.Join(errs...)
}
