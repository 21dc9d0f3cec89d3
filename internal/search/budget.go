package search

import "time"

type StopReason string

const (
	StopNone        StopReason = ""
	StopTime        StopReason = "time_budget"
	StopActions     StopReason = "action_budget"
	StopEvaluations StopReason = "evaluation_budget"
	StopAllCovered  StopReason = "all_covered"
	StopCanceled    StopReason = "canceled"
)

// Budget tracks consumption against the configured limits. It is checked
// once per loop iteration, never mid-evaluation.
type Budget struct {
	timeLimit   time.Duration
	actionLimit int
	evalLimit   int
	now         func() time.Time
	start       time.Time

	actions     int
	evaluations int
}

func NewBudget(cfg Config, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{
		timeLimit:   cfg.TimeBudget,
		actionLimit: cfg.MaxActionEvaluations,
		evalLimit:   cfg.MaxEvaluations,
		now:         now,
		start:       now(),
	}
}

// Record adds one evaluation that sent actions actions to the SUT.
func (b *Budget) Record(actions int) {
	b.evaluations++
	b.actions += actions
}

// Charge adds actions spent outside an evaluation, such as flaky re-runs.
func (b *Budget) Charge(actions int) {
	b.actions += actions
}

func (b *Budget) Actions() int     { return b.actions }
func (b *Budget) Evaluations() int { return b.evaluations }

func (b *Budget) Elapsed() time.Duration { return b.now().Sub(b.start) }

// Exhausted reports the first limit reached, or StopNone.
func (b *Budget) Exhausted() StopReason {
	switch {
	case b.evalLimit != Unlimited && b.evaluations >= b.evalLimit:
		return StopEvaluations
	case b.actionLimit != Unlimited && b.actions >= b.actionLimit:
		return StopActions
	case b.timeLimit != Unlimited && b.Elapsed() >= b.timeLimit:
		return StopTime
	default:
		return StopNone
	}
}

// Progress is the consumed fraction in [0,1]. Count budgets take precedence
// over wall clock so that a seeded run with a count budget stays
// reproducible.
func (b *Budget) Progress() float64 {
	progress, counted := 0.0, false
	if b.evalLimit != Unlimited {
		progress, counted = max(progress, fraction(float64(b.evaluations), float64(b.evalLimit))), true
	}
	if b.actionLimit != Unlimited {
		progress, counted = max(progress, fraction(float64(b.actions), float64(b.actionLimit))), true
	}
	if !counted && b.timeLimit != Unlimited {
		progress = fraction(float64(b.Elapsed()), float64(b.timeLimit))
	}
	return progress
}

func fraction(used, limit float64) float64 {
	if limit <= 0 {
		return 1
	}
	return min(used/limit, 1)
}
