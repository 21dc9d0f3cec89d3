// Package search runs the MIO loop: sample or mutate an archive elite,
// evaluate it, and keep per-target elites until the budget runs out.
package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"mioforge/internal/archive"
	"mioforge/internal/catalog"
	"mioforge/internal/fitness"
	"mioforge/internal/individual"
	"mioforge/internal/mutator"
	"mioforge/internal/sampler"
)

// SearchContext is built once per run and shared by every step of the loop.
type SearchContext struct {
	Archive *archive.Archive
	Rng     *rand.Rand
	Config  Config
	Budget  *Budget
	Logger  *slog.Logger
	Metrics *Metrics
}

type MIOConfig struct {
	Config   Config
	Catalog  catalog.Catalog
	Executor fitness.Executor
	// Sampler and Mutator default to the random sampler and the mutator
	// selected by Config.MutatorMode.
	Sampler sampler.Sampler
	Mutator mutator.Mutator
	Seeds   []*individual.Individual
	Weight  archive.WeightFunc
	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

type CoveragePoint struct {
	Evaluation int           `json:"evaluation"`
	Actions    int           `json:"actions"`
	Elapsed    time.Duration `json:"elapsed"`
	Covered    int           `json:"covered"`
	Known      int           `json:"known"`
}

type LineageRecord struct {
	IndividualID string                `json:"individual_id"`
	ParentID     string                `json:"parent_id,omitempty"`
	Evaluation   int                   `json:"evaluation"`
	Provenance   individual.Provenance `json:"provenance"`
	Operation    string                `json:"operation,omitempty"`
	Improved     []fitness.TargetID    `json:"improved,omitempty"`
}

type RunResult struct {
	Seed        int64
	StopReason  StopReason
	Solution    []*fitness.EvaluatedIndividual
	Archive     *archive.Archive
	Evaluations int
	Actions     int
	Discards    int
	Elapsed     time.Duration
	Coverage    []CoveragePoint
	Lineage     []LineageRecord
	Flaky       []fitness.FlakyReport
	Impact      mutator.ImpactStats
}

type MIO struct {
	sc       *SearchContext
	sampler  sampler.Sampler
	mutator  mutator.Mutator
	function *fitness.Function
	executor fitness.Executor
}

func NewMIO(cfg MIOConfig) (*MIO, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if err := cfg.Config.Validate(); err != nil {
		return nil, err
	}
	c := cfg.Config

	function, err := fitness.NewFunction(cfg.Executor, c.PerCallTimeout, c.Retries)
	if err != nil {
		return nil, err
	}
	if cfg.Now != nil {
		function.Now = cfg.Now
	}

	s := cfg.Sampler
	if s == nil {
		s, err = sampler.NewRandom(cfg.Catalog, c.MaxActions)
		if err != nil {
			return nil, err
		}
	}
	if len(cfg.Seeds) > 0 {
		s, err = sampler.NewSeeded(s, cfg.Seeds...)
		if err != nil {
			return nil, err
		}
	}

	m := cfg.Mutator
	if m == nil {
		mode, err := mutator.ParseMode(string(c.MutatorMode))
		if err != nil {
			return nil, err
		}
		m, err = mutator.NewCombined(mutator.Config{
			Catalog:               cfg.Catalog,
			MaxActions:            c.MaxActions,
			StructuralProbability: c.StructuralProbability,
			MaxAttempts:           c.MutationAttempts,
			Strength:              c.MutationStrength,
		}, mode, c.AdaptiveRatio)
		if err != nil {
			return nil, err
		}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &MIO{
		sc: &SearchContext{
			Archive: archive.New(cfg.Weight),
			Rng:     rand.New(rand.NewSource(c.Seed)),
			Config:  c,
			Budget:  NewBudget(c, cfg.Now),
			Logger:  logger,
			Metrics: cfg.Metrics,
		},
		sampler:  s,
		mutator:  m,
		function: function,
		executor: cfg.Executor,
	}, nil
}

func (m *MIO) Context() *SearchContext { return m.sc }

// Run executes the loop until a budget or stop condition is met. Cancelling
// ctx ends the run early with StopCanceled and the result gathered so far.
// Archive invariant violations and a persistently unreachable SUT abort the
// run with an error.
func (m *MIO) Run(ctx context.Context) (RunResult, error) {
	sc := m.sc
	known, err := m.executor.KnownTargets(ctx)
	if err != nil {
		return RunResult{}, fmt.Errorf("%w: known targets: %v", fitness.ErrSutUnreachable, err)
	}
	sc.Archive.Register(known...)
	sc.Logger.Info("search started",
		"seed", sc.Config.Seed,
		"targets", len(known),
		"mutator", m.mutator.Name(),
	)

	result := RunResult{Seed: sc.Config.Seed, Archive: sc.Archive}
	var stats mutator.ImpactStats
	discardStreak := 0

	for {
		if ctx.Err() != nil {
			result.StopReason = StopCanceled
			break
		}
		if reason := sc.Budget.Exhausted(); reason != StopNone {
			result.StopReason = reason
			break
		}
		if sc.Config.StopWhenAllCovered && sc.Archive.AllCovered() {
			result.StopReason = StopAllCovered
			break
		}

		candidate, res, mutated, err := m.next(stats)
		if err != nil {
			return RunResult{}, err
		}
		if mutated {
			stats = res.stats
		}

		e, err := m.function.Evaluate(ctx, candidate)
		if err != nil {
			if ctx.Err() != nil {
				result.StopReason = StopCanceled
				break
			}
			if !errors.Is(err, fitness.ErrSutUnreachable) {
				return RunResult{}, err
			}
			result.Discards++
			discardStreak++
			sc.Metrics.observeDiscard()
			sc.Logger.Warn("evaluation discarded", "individual", candidate.ID, "err", err)
			if discardStreak >= sc.Config.MaxConsecutiveDiscards {
				return RunResult{}, fmt.Errorf("%d consecutive discards: %w", discardStreak, err)
			}
			continue
		}
		discardStreak = 0
		e.Index = sc.Budget.Evaluations()
		sc.Budget.Record(e.Fitness.Attempted)
		sc.Metrics.observeEvaluation(e.Fitness.Attempted, e.Fitness.Elapsed)

		update, err := sc.Archive.AddIfImproved(e)
		if err != nil {
			return RunResult{}, err
		}
		if mutated && update.Changed() {
			stats = stats.Credit(res.Operator, res.Touched)
		}
		sc.Metrics.observeArchive(update.Changed(), len(sc.Archive.Covered()), len(sc.Archive.Targets()))

		result.Lineage = append(result.Lineage, LineageRecord{
			IndividualID: candidate.ID,
			ParentID:     candidate.ParentID,
			Evaluation:   e.Index,
			Provenance:   candidate.Provenance,
			Operation:    candidate.Operation,
			Improved:     update.Improved,
		})
		if update.Changed() || e.Index == 0 {
			result.Coverage = append(result.Coverage, m.coveragePoint())
		}
		if len(update.NewlyCovered) > 0 {
			sc.Logger.Debug("targets covered",
				"evaluation", e.Index,
				"targets", update.NewlyCovered,
				"covered", len(sc.Archive.Covered()),
			)
			if sc.Config.FlakyCheck {
				m.checkFlaky(ctx, e, &result)
			}
		}
	}

	result.Solution = sc.Archive.ExtractSolution()
	result.Evaluations = sc.Budget.Evaluations()
	result.Actions = sc.Budget.Actions()
	result.Elapsed = sc.Budget.Elapsed()
	result.Impact = stats
	if n := len(result.Coverage); n == 0 || result.Coverage[n-1].Evaluation != result.Evaluations {
		result.Coverage = append(result.Coverage, m.coveragePoint())
	}
	sc.Logger.Info("search finished",
		"reason", result.StopReason,
		"evaluations", result.Evaluations,
		"actions", result.Actions,
		"covered", len(sc.Archive.Covered()),
		"targets", len(sc.Archive.Targets()),
		"solution", len(result.Solution),
	)
	return result, nil
}

type mutation struct {
	mutator.Result
	stats mutator.ImpactStats
}

// next draws a fresh individual or mutates the elite of a sampled target.
// Pending seed individuals always go first.
func (m *MIO) next(stats mutator.ImpactStats) (*individual.Individual, mutation, bool, error) {
	sc := m.sc
	seeding := false
	if s, ok := m.sampler.(interface{ Remaining() int }); ok {
		seeding = s.Remaining() > 0
	}
	if !seeding && !sc.Archive.Empty() && sc.Rng.Float64() >= m.freshProbability() {
		if target, ok := sc.Archive.SampleTarget(sc.Rng); ok {
			if parent, ok := sc.Archive.BestFor(target); ok {
				res, next, err := m.mutator.Mutate(sc.Rng, parent.Individual, stats)
				if err == nil {
					return res.Offspring, mutation{Result: res, stats: next}, true, nil
				}
				sc.Logger.Debug("mutation failed, sampling instead", "target", target, "err", err)
			}
		}
	}
	ind, err := m.sampler.Sample(sc.Rng)
	if err != nil {
		return nil, mutation{}, false, err
	}
	return ind, mutation{}, false, nil
}

// freshProbability decays linearly from FreshSampleProbability to 0 at the
// start of the focused phase.
func (m *MIO) freshProbability() float64 {
	c := m.sc.Config
	if c.FocusedPhaseStart <= 0 {
		return 0
	}
	progress := m.sc.Budget.Progress()
	if progress >= c.FocusedPhaseStart {
		return 0
	}
	return c.FreshSampleProbability * (1 - progress/c.FocusedPhaseStart)
}

func (m *MIO) coveragePoint() CoveragePoint {
	sc := m.sc
	return CoveragePoint{
		Evaluation: sc.Budget.Evaluations(),
		Actions:    sc.Budget.Actions(),
		Elapsed:    sc.Budget.Elapsed(),
		Covered:    len(sc.Archive.Covered()),
		Known:      len(sc.Archive.Targets()),
	}
}

func (m *MIO) checkFlaky(ctx context.Context, e *fitness.EvaluatedIndividual, result *RunResult) {
	before := m.function.Attempted()
	report, err := m.function.CheckFlaky(ctx, e)
	spent := m.function.Attempted() - before
	m.sc.Budget.Charge(spent)
	m.sc.Metrics.observeActions(spent)
	switch {
	case errors.Is(err, fitness.ErrFlakyResult):
		result.Flaky = append(result.Flaky, *report)
		m.sc.Metrics.observeFlaky()
		m.sc.Logger.Warn("flaky result", "individual", e.Individual.ID, "targets", report.Targets)
	case err != nil:
		m.sc.Logger.Warn("flaky check failed", "individual", e.Individual.ID, "err", err)
	}
}
