package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nectic/terrier-core/pkg/config"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/metrics"
	"github.com/nectic/terrier-core/pkg/postgres"
	"github.com/nectic/terrier-core/pkg/resilience"
)

// Store backends accepted by TranslationConfig.Store.
const (
	StoreNone     = "none"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// OpenStore opens the backend named by cfg.Store. It returns a nil Store for
// StoreNone. pg is only used by the postgres backend.
func OpenStore(ctx context.Context, cfg config.TranslationConfig, pg *postgres.Client) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Store)) {
	case "", StoreNone:
		return nil, nil
	case StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath)
	case StorePostgres:
		if pg == nil {
			return nil, fmt.Errorf("postgres translation store without a connection: %w", apperrors.ErrTranslationStore)
		}
		return NewPostgresStore(ctx, pg)
	default:
		return nil, fmt.Errorf("translation store %q: %w", cfg.Store, apperrors.ErrUnknownModule)
	}
}

// LoadOptions drives Load.
type LoadOptions struct {
	Config  config.TranslationConfig
	Store   Store
	Metrics *metrics.Metrics
	// Keep restricts target embeddings to terms the index knows. Nil keeps
	// every vector.
	Keep func(term string) bool
}

// Load builds the translation index used by the cross-lingual variants. A
// stored table is loaded first, with retries bounded by LoadTimeout; the
// embedding matrices, when configured, serve every term the table lacks.
func Load(ctx context.Context, opts LoadOptions) (*Index, error) {
	logger := slog.Default().With("component", "translation-loader")
	ix := NewIndex(opts.Metrics)
	cfg := opts.Config

	if opts.Store != nil {
		var table map[string][]Candidate
		err := resilience.WithTimeout(ctx, cfg.LoadTimeout, "translation-load", func(ctx context.Context) error {
			return resilience.Retry(ctx, "translation-load", resilience.RetryConfig{
				MaxAttempts: cfg.LoadRetryAttempts,
				Retryable: func(err error) bool {
					return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
				},
			}, func(ctx context.Context) error {
				var err error
				table, err = opts.Store.Load(ctx)
				return err
			})
		})
		if err != nil {
			return nil, fmt.Errorf("loading translation table: %w: %w", apperrors.ErrTranslationStore, err)
		}
		n := ix.LoadTable(table)
		logger.Info("translation table installed", "sources", n)
	}

	if cfg.SourceEmbeddings != "" && cfg.TargetEmbeddings != "" {
		source, err := LoadMatrix(cfg.SourceEmbeddings, nil)
		if err != nil {
			return nil, fmt.Errorf("source embeddings: %w", err)
		}
		target, err := LoadMatrix(cfg.TargetEmbeddings, opts.Keep)
		if err != nil {
			return nil, fmt.Errorf("target embeddings: %w", err)
		}
		ix.SetEmbeddings(source, target)
		logger.Info("embeddings loaded",
			"source_terms", source.Len(),
			"target_terms", target.Len(),
			"dims", source.Dims(),
		)
	} else if opts.Store == nil {
		logger.Warn("no translation table or embeddings configured, untranslated terms map to themselves")
	}
	return ix, nil
}
