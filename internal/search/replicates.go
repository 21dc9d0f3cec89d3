package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mioforge/internal/mutator"
)

// BuildFunc assembles an independent run for one replicate seed. Each call
// must return its own executor and sampler; replicates share no state.
type BuildFunc func(seed int64) (MIOConfig, error)

// RunReplicates runs n searches concurrently with seeds baseSeed..baseSeed+n-1
// and returns their results in seed order. The first failure cancels the rest.
func RunReplicates(ctx context.Context, n int, baseSeed int64, parallelism int, build BuildFunc) ([]RunResult, error) {
	if n <= 0 {
		return nil, fmt.Errorf("replicates must be > 0")
	}
	if build == nil {
		return nil, fmt.Errorf("build function is required")
	}
	results := make([]RunResult, n)
	g, gctx := errgroup.WithContext(ctx)
	if parallelism > 0 {
		g.SetLimit(parallelism)
	}
	for i := 0; i < n; i++ {
		seed := baseSeed + int64(i)
		g.Go(func() error {
			cfg, err := build(seed)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", seed, err)
			}
			cfg.Config.Seed = seed
			m, err := NewMIO(cfg)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", seed, err)
			}
			res, err := m.Run(gctx)
			if err != nil {
				return fmt.Errorf("replicate %d: %w", seed, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// MergedImpact pools the mutation statistics of several runs.
func MergedImpact(results []RunResult) mutator.ImpactStats {
	var out mutator.ImpactStats
	for _, r := range results {
		out = mutator.Merge(out, r.Impact)
	}
	return out
}
