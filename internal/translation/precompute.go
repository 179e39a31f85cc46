package translation

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// PrecomputeOptions tunes Precompute.
type PrecomputeOptions struct {
	// Parallelism bounds the number of source terms scored at once.
	Parallelism int
	// Keep truncates each stored entry to its Keep best candidates. Zero
	// keeps the full distribution.
	Keep int
}

// Precompute fills ix with a distribution over target for every source term.
// Probabilities use the full cos/Σcos denominator before any truncation, so a
// later TopK with k <= Keep is identical to one over the full entry.
func Precompute(ctx context.Context, ix *Index, source, target *Matrix, opts PrecomputeOptions) error {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	logger := slog.Default().With("component", "translation-precompute")
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Parallelism)
	for _, term := range source.Terms() {
		if err := ctx.Err(); err != nil {
			break
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			scores := Distribution(source.Vector(term), target)
			if opts.Keep > 0 && len(scores) > opts.Keep {
				scores = truncate(scores, opts.Keep)
			}
			ix.Put(term, scores)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("translation table precomputed",
		"source_terms", source.Len(),
		"target_terms", target.Len(),
		"entries", ix.Len(),
		"duration", time.Since(start),
	)
	return nil
}

func truncate(scores map[string]float64, keep int) map[string]float64 {
	ranked := rank(scores)[:keep]
	out := make(map[string]float64, keep)
	for _, c := range ranked {
		out[c.Term] = c.Score
	}
	return out
}
