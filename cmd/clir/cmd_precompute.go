package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nectic/terrier-core/internal/index/segment"
	"github.com/nectic/terrier-core/internal/translation"
	apperrors "github.com/nectic/terrier-core/pkg/errors"
	"github.com/nectic/terrier-core/pkg/postgres"
)

var precomputeFlags struct {
	keep        int
	parallelism int
	restrict    bool
}

var precomputeCmd = &cobra.Command{
	Use:   "precompute",
	Short: "Compute translation distributions from embeddings and store them",
	Long: "Scores every source-embedding term against the target embeddings and\n" +
		"saves the resulting distributions in the configured translation store.",
	RunE: runPrecompute,
}

func init() {
	f := precomputeCmd.Flags()
	f.IntVar(&precomputeFlags.keep, "keep", 50, "Candidates stored per source term (0 keeps all)")
	f.IntVar(&precomputeFlags.parallelism, "parallelism", 0, "Source terms scored at once (defaults to batch.parallelism)")
	f.BoolVar(&precomputeFlags.restrict, "restrict-to-index", true, "Only translate into terms the index contains")
}

func runPrecompute(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	tcfg := cfg.Translation
	if tcfg.SourceEmbeddings == "" || tcfg.TargetEmbeddings == "" {
		return fmt.Errorf("translation.sourceEmbeddings and translation.targetEmbeddings are required: %w", apperrors.ErrInvalidInput)
	}

	var keep func(string) bool
	if precomputeFlags.restrict {
		reader, err := segment.OpenReader(cfg.Index.Path)
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrIndexUnavailable, err)
		}
		defer reader.Close()
		keep = func(term string) bool {
			_, ok := reader.Lookup(term)
			return ok
		}
	}

	source, err := translation.LoadMatrix(tcfg.SourceEmbeddings, nil)
	if err != nil {
		return err
	}
	target, err := translation.LoadMatrix(tcfg.TargetEmbeddings, keep)
	if err != nil {
		return err
	}

	var pg *postgres.Client
	if strings.EqualFold(tcfg.Store, translation.StorePostgres) {
		pg, err = postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("%w: %w", apperrors.ErrTranslationStore, err)
		}
	}
	store, err := translation.OpenStore(ctx, tcfg, pg)
	if err != nil {
		if pg != nil {
			pg.Close()
		}
		return err
	}
	if store == nil {
		return fmt.Errorf("translation.store is %q, nowhere to save: %w", tcfg.Store, apperrors.ErrInvalidInput)
	}
	defer store.Close()

	parallelism := precomputeFlags.parallelism
	if parallelism <= 0 {
		parallelism = cfg.Batch.Parallelism
	}
	ix := translation.NewIndex(nil)
	if err := translation.Precompute(ctx, ix, source, target, translation.PrecomputeOptions{
		Parallelism: parallelism,
		Keep:        precomputeFlags.keep,
	}); err != nil {
		return err
	}
	if err := store.Save(ctx, ix.Table()); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrTranslationStore, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %d source terms (%d target terms, %d dims)\n", ix.Len(), target.Len(), source.Dims())
	return nil
}
