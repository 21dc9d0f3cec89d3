package search

import (
	"fmt"
	"math"
	"time"

	"mioforge/internal/mutator"
)

// Unlimited disables a budget dimension.
const Unlimited = -1

type Config struct {
	Seed int64 `json:"seed"`

	// Budgets; Unlimited (-1) disables a dimension, zero means none at all.
	TimeBudget           time.Duration `json:"time_budget"`
	MaxActionEvaluations int           `json:"max_action_evaluations"`
	MaxEvaluations       int           `json:"max_evaluations"`
	StopWhenAllCovered   bool          `json:"stop_when_all_covered"`

	// FreshSampleProbability decays linearly to 0 once FocusedPhaseStart of
	// the budget is consumed.
	FreshSampleProbability float64 `json:"fresh_sample_probability"`
	FocusedPhaseStart      float64 `json:"focused_phase_start"`

	MaxActions            int          `json:"max_actions"`
	StructuralProbability float64      `json:"structural_probability"`
	MutationAttempts      int          `json:"mutation_attempts"`
	MutationStrength      float64      `json:"mutation_strength"`
	MutatorMode           mutator.Mode `json:"mutator_mode"`
	AdaptiveRatio         float64      `json:"adaptive_ratio"`

	PerCallTimeout time.Duration `json:"per_call_timeout"`
	Retries        int           `json:"retries"`
	FlakyCheck     bool          `json:"flaky_check"`
	// MaxConsecutiveDiscards aborts a run against an unreachable SUT.
	MaxConsecutiveDiscards int `json:"max_consecutive_discards"`
}

func DefaultConfig() Config {
	return Config{
		Seed:                   1,
		TimeBudget:             Unlimited,
		MaxActionEvaluations:   2000,
		MaxEvaluations:         Unlimited,
		FreshSampleProbability: 0.5,
		FocusedPhaseStart:      0.5,
		MaxActions:             5,
		StructuralProbability:  mutator.DefaultStructuralProbability,
		MutationAttempts:       mutator.DefaultMaxAttempts,
		MutationStrength:       mutator.DefaultStrength,
		MutatorMode:            mutator.ModeAdaptive,
		AdaptiveRatio:          0.5,
		PerCallTimeout:         2 * time.Second,
		Retries:                1,
		MaxConsecutiveDiscards: 50,
	}
}

func inUnit(v float64) bool { return !math.IsNaN(v) && v >= 0 && v <= 1 }

func (c Config) Validate() error {
	if c.TimeBudget < 0 && c.TimeBudget != Unlimited {
		return fmt.Errorf("time budget must be >= 0 or unlimited")
	}
	if c.MaxActionEvaluations < Unlimited || c.MaxEvaluations < Unlimited {
		return fmt.Errorf("evaluation budgets must be >= 0 or unlimited")
	}
	if c.TimeBudget == Unlimited && c.MaxActionEvaluations == Unlimited && c.MaxEvaluations == Unlimited {
		return fmt.Errorf("at least one budget must be limited")
	}
	if !inUnit(c.FreshSampleProbability) {
		return fmt.Errorf("fresh sample probability must be in [0,1]")
	}
	if !inUnit(c.FocusedPhaseStart) {
		return fmt.Errorf("focused phase start must be in [0,1]")
	}
	if c.MaxActions <= 0 {
		return fmt.Errorf("max actions must be > 0")
	}
	if !inUnit(c.StructuralProbability) {
		return fmt.Errorf("structural probability must be in [0,1]")
	}
	if c.MutationAttempts <= 0 {
		return fmt.Errorf("mutation attempts must be > 0")
	}
	if c.MutationStrength <= 0 || c.MutationStrength > 1 {
		return fmt.Errorf("mutation strength must be in (0,1]")
	}
	if _, err := mutator.ParseMode(string(c.MutatorMode)); err != nil {
		return err
	}
	if !inUnit(c.AdaptiveRatio) {
		return fmt.Errorf("adaptive ratio must be in [0,1]")
	}
	if c.PerCallTimeout <= 0 {
		return fmt.Errorf("per-call timeout must be > 0")
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must be >= 0")
	}
	if c.MaxConsecutiveDiscards <= 0 {
		return fmt.Errorf("max consecutive discards must be > 0")
	}
	return nil
}
