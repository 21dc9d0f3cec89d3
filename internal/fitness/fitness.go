// Package fitness runs individuals against the system under test and turns the
// observed heuristics into per-target scores.
package fitness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"mioforge/internal/individual"
)

var (
	ErrSutUnreachable = errors.New("sut unreachable")
	ErrActionTimeout  = errors.New("action timed out")
	ErrFlakyResult    = errors.New("flaky result")
)

// TargetID is an opaque coverage objective.
type TargetID string

// Outcome is what one action produced. Application failures such as 4xx or 5xx
// statuses are ordinary outcomes.
type Outcome struct {
	Action   string
	Status   int
	Message  string
	Executed bool
}

// Executor is the SUT collaborator. Execute must honour ctx cancellation.
type Executor interface {
	ResetState(ctx context.Context) error
	Execute(ctx context.Context, action *individual.Action) (Outcome, map[TargetID]float64, error)
	KnownTargets(ctx context.Context) ([]TargetID, error)
}

type transientError struct{ err error }

func (e transientError) Error() string { return "transient: " + e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// Transient marks a transport-level failure (connection reset and the like)
// that may be retried.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return transientError{err: err}
}

func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

type FitnessValue struct {
	Scores map[TargetID]float64
	// Outcomes has one entry per action; actions after a failure are not executed.
	Outcomes   []Outcome
	Exceptions []string
	Executed   int
	// Attempted counts actions sent to the SUT, including the one that failed
	// or timed out.
	Attempted int
	Elapsed   time.Duration
	TimedOut  bool
}

func (f FitnessValue) Score(t TargetID) float64 { return f.Scores[t] }

// Covered lists the targets scoring 1, sorted.
func (f FitnessValue) Covered() []TargetID {
	var out []TargetID
	for t, s := range f.Scores {
		if s >= 1 {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EvaluatedIndividual is immutable once built; Index is the evaluation ordinal.
type EvaluatedIndividual struct {
	Individual *individual.Individual
	Fitness    FitnessValue
	Index      int
}

func (e *EvaluatedIndividual) Size() int { return e.Individual.Size() }

type Function struct {
	Executor       Executor
	PerCallTimeout time.Duration
	Retries        int
	Now            func() time.Time

	evaluations int
	attempted   int
}

func NewFunction(exec Executor, perCallTimeout time.Duration, retries int) (*Function, error) {
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if perCallTimeout <= 0 {
		return nil, fmt.Errorf("per-call timeout must be > 0")
	}
	if retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0")
	}
	return &Function{Executor: exec, PerCallTimeout: perCallTimeout, Retries: retries, Now: time.Now}, nil
}

// Evaluations reports how many individuals were evaluated, discards excluded.
func (f *Function) Evaluations() int { return f.evaluations }

// Attempted reports the actions sent to the SUT so far by Evaluate and
// CheckFlaky. Discarded runs are not counted.
func (f *Function) Attempted() int { return f.attempted }

// Evaluate resets the SUT and executes ind's actions in order. It returns
// ErrSutUnreachable when nothing ran; the caller must discard the individual.
// A timed out or failing action ends the run early and the partial result is
// returned without error.
func (f *Function) Evaluate(ctx context.Context, ind *individual.Individual) (*EvaluatedIndividual, error) {
	value, err := f.run(ctx, ind)
	if err != nil {
		return nil, err
	}
	e := &EvaluatedIndividual{Individual: ind, Fitness: value, Index: f.evaluations}
	f.evaluations++
	return e, nil
}

func (f *Function) run(ctx context.Context, ind *individual.Individual) (FitnessValue, error) {
	now := f.Now
	if now == nil {
		now = time.Now
	}
	start := now()
	value := FitnessValue{
		Scores:   map[TargetID]float64{},
		Outcomes: make([]Outcome, len(ind.Actions)),
	}
	for i, a := range ind.Actions {
		value.Outcomes[i] = Outcome{Action: a.Name}
	}
	if err := f.Executor.ResetState(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return FitnessValue{}, ctxErr
		}
		return FitnessValue{}, fmt.Errorf("%w: reset: %v", ErrSutUnreachable, err)
	}

	for i, a := range ind.Actions {
		outcome, scores, err := f.execute(ctx, a)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return FitnessValue{}, ctxErr
			}
			if IsTransient(err) && value.Executed == 0 {
				return FitnessValue{}, fmt.Errorf("%w: %s: %v", ErrSutUnreachable, a.Name, err)
			}
			if errors.Is(err, ErrActionTimeout) {
				value.TimedOut = true
			} else {
				merge(value.Scores, scores)
			}
			value.Attempted++
			value.Exceptions = append(value.Exceptions, fmt.Sprintf("action %d %s: %v", i, a.Name, err))
			break
		}
		outcome.Action = a.Name
		outcome.Executed = true
		value.Outcomes[i] = outcome
		value.Executed++
		value.Attempted++
		merge(value.Scores, scores)
	}
	value.Elapsed = now().Sub(start)
	f.attempted += value.Attempted
	return value, nil
}

// execute runs one action under the per-call timeout, retrying transient
// failures only.
func (f *Function) execute(ctx context.Context, a *individual.Action) (Outcome, map[TargetID]float64, error) {
	var lastErr error
	for attempt := 0; attempt <= f.Retries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, f.PerCallTimeout)
		outcome, scores, err := f.Executor.Execute(callCtx, a)
		// A call that returned its result is never a timeout, however late.
		timedOut := err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err == nil {
			return outcome, scores, nil
		}
		if ctx.Err() != nil {
			return Outcome{}, nil, ctx.Err()
		}
		if timedOut {
			return Outcome{}, nil, fmt.Errorf("%w after %s", ErrActionTimeout, f.PerCallTimeout)
		}
		if !IsTransient(err) {
			return outcome, scores, err
		}
		lastErr = err
	}
	return Outcome{}, nil, lastErr
}

// merge keeps the per-target maximum. Scores are clamped into [0,1] and NaN
// counts as 0.
func merge(into map[TargetID]float64, scores map[TargetID]float64) {
	for t, s := range scores {
		s = normalize(s)
		if cur, ok := into[t]; !ok || s > cur {
			into[t] = s
		}
	}
}

func normalize(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

const flakyTolerance = 1e-9

type FlakyReport struct {
	IndividualID string
	Targets      []TargetID
	First        map[TargetID]float64
	Second       map[TargetID]float64
}

// CheckFlaky re-runs e and compares scores. A mismatch is returned as a report
// plus an error wrapping ErrFlakyResult; e itself is left as it was.
func (f *Function) CheckFlaky(ctx context.Context, e *EvaluatedIndividual) (*FlakyReport, error) {
	again, err := f.run(ctx, e.Individual)
	if err != nil {
		return nil, err
	}
	seen := map[TargetID]struct{}{}
	var diff []TargetID
	for _, scores := range []map[TargetID]float64{e.Fitness.Scores, again.Scores} {
		for t := range scores {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			if math.Abs(e.Fitness.Scores[t]-again.Scores[t]) > flakyTolerance {
				diff = append(diff, t)
			}
		}
	}
	if len(diff) == 0 {
		return nil, nil
	}
	sort.Slice(diff, func(i, j int) bool { return diff[i] < diff[j] })
	report := &FlakyReport{IndividualID: e.Individual.ID, Targets: diff, First: e.Fitness.Scores, Second: again.Scores}
	return report, fmt.Errorf("%w: individual %s differs on %d targets", ErrFlakyResult, e.Individual.ID, len(diff))
}
