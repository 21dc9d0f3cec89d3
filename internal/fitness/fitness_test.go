package fitness

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mioforge/internal/individual"
)

type step struct {
	scores map[TargetID]float64
	status int
	err    error
	block  bool
	// overrun waits out the call deadline, then reports success.
	overrun bool
}

// scriptedExecutor replays steps keyed by action name. Errors listed in
// failures are returned first, one per call.
type scriptedExecutor struct {
	steps    map[string]step
	failures map[string][]error
	resetErr error
	resets   int
	calls    map[string]int
}

func (s *scriptedExecutor) ResetState(context.Context) error {
	s.resets++
	return s.resetErr
}

func (s *scriptedExecutor) Execute(ctx context.Context, a *individual.Action) (Outcome, map[TargetID]float64, error) {
	if s.calls == nil {
		s.calls = map[string]int{}
	}
	s.calls[a.Name]++
	if queue := s.failures[a.Name]; len(queue) > 0 {
		s.failures[a.Name] = queue[1:]
		return Outcome{}, nil, queue[0]
	}
	st := s.steps[a.Name]
	if st.block {
		<-ctx.Done()
		return Outcome{}, map[TargetID]float64{"late": 1}, ctx.Err()
	}
	if st.overrun {
		<-ctx.Done()
	}
	return Outcome{Status: st.status}, st.scores, st.err
}

func (s *scriptedExecutor) KnownTargets(context.Context) ([]TargetID, error) {
	return nil, nil
}

func actions(names ...string) *individual.Individual {
	out := make([]*individual.Action, len(names))
	for i, n := range names {
		out[i] = &individual.Action{Name: n}
	}
	return individual.New(rand.New(rand.NewSource(1)), individual.ProvenanceSampled, out...)
}

func TestEvaluateAggregatesPerTargetMaximum(t *testing.T) {
	exec := &scriptedExecutor{steps: map[string]step{
		"a": {status: 200, scores: map[TargetID]float64{"t1": 0.4, "t2": 1}},
		"b": {status: 404, scores: map[TargetID]float64{"t1": 0.7, "t2": 0.1, "t3": math.NaN(), "t4": 3}},
	}}
	f, err := NewFunction(exec, time.Second, 1)
	require.NoError(t, err)

	e, err := f.Evaluate(context.Background(), actions("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, map[TargetID]float64{"t1": 0.7, "t2": 1, "t3": 0, "t4": 1}, e.Fitness.Scores)
	assert.Equal(t, 2, e.Fitness.Executed)
	assert.Equal(t, 404, e.Fitness.Outcomes[1].Status)
	assert.Equal(t, []TargetID{"t2", "t4"}, e.Fitness.Covered())
	assert.Equal(t, 1, exec.resets)
	assert.Equal(t, 0, e.Index)

	e2, err := f.Evaluate(context.Background(), actions("a"))
	require.NoError(t, err)
	assert.Equal(t, 1, e2.Index)
}

func TestEvaluateDiscardsWhenResetFails(t *testing.T) {
	exec := &scriptedExecutor{resetErr: errors.New("connection refused")}
	f, _ := NewFunction(exec, time.Second, 1)
	_, err := f.Evaluate(context.Background(), actions("a"))
	assert.ErrorIs(t, err, ErrSutUnreachable)
	assert.Equal(t, 0, f.Evaluations())
}

func TestEvaluateDiscardsWhenFirstActionUnreachable(t *testing.T) {
	reset := Transient(errors.New("connection reset"))
	exec := &scriptedExecutor{failures: map[string][]error{"a": {reset, reset}}}
	f, _ := NewFunction(exec, time.Second, 1)
	_, err := f.Evaluate(context.Background(), actions("a", "b"))
	assert.ErrorIs(t, err, ErrSutUnreachable)
	assert.Equal(t, 2, exec.calls["a"])
}

func TestTransientErrorsAreRetried(t *testing.T) {
	exec := &scriptedExecutor{
		steps:    map[string]step{"a": {status: 200, scores: map[TargetID]float64{"t": 1}}},
		failures: map[string][]error{"a": {Transient(errors.New("reset"))}},
	}
	f, _ := NewFunction(exec, time.Second, 1)
	e, err := f.Evaluate(context.Background(), actions("a"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.Fitness.Score("t"))
	assert.Equal(t, 2, exec.calls["a"])
}

func TestApplicationFailuresAreNotRetried(t *testing.T) {
	exec := &scriptedExecutor{
		steps: map[string]step{
			"a": {scores: map[TargetID]float64{"seen": 0.5}},
			"b": {scores: map[TargetID]float64{"thrown": 0.2}, err: errors.New("boom")},
		},
	}
	f, _ := NewFunction(exec, time.Second, 3)
	e, err := f.Evaluate(context.Background(), actions("a", "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, 1, exec.calls["b"])
	assert.Equal(t, 0, exec.calls["c"])
	assert.Equal(t, 1, e.Fitness.Executed)
	assert.Equal(t, 2, e.Fitness.Attempted)
	assert.Equal(t, 2, f.Attempted())
	assert.False(t, e.Fitness.Outcomes[2].Executed)
	assert.Len(t, e.Fitness.Exceptions, 1)
	assert.Equal(t, 0.5, e.Fitness.Score("seen"))
	assert.Equal(t, 0.2, e.Fitness.Score("thrown"))
}

func TestTimeoutKeepsPartialScores(t *testing.T) {
	exec := &scriptedExecutor{steps: map[string]step{
		"fast": {status: 200, scores: map[TargetID]float64{"early": 1, "shared": 0.3}},
		"slow": {block: true},
		"last": {scores: map[TargetID]float64{"never": 1}},
	}}
	f, _ := NewFunction(exec, 20*time.Millisecond, 1)
	e, err := f.Evaluate(context.Background(), actions("fast", "slow", "last"))
	require.NoError(t, err)
	assert.True(t, e.Fitness.TimedOut)
	assert.Equal(t, 1, e.Fitness.Executed)
	assert.Equal(t, 2, e.Fitness.Attempted)
	assert.Equal(t, 1.0, e.Fitness.Score("early"))
	assert.Equal(t, 0.3, e.Fitness.Score("shared"))
	_, late := e.Fitness.Scores["late"]
	assert.False(t, late)
	_, never := e.Fitness.Scores["never"]
	assert.False(t, never)
	assert.Equal(t, 1, exec.calls["slow"])
}

func TestLateSuccessIsNotATimeout(t *testing.T) {
	exec := &scriptedExecutor{steps: map[string]step{
		"slow": {status: 201, scores: map[TargetID]float64{"created": 1}, overrun: true},
		"next": {status: 200, scores: map[TargetID]float64{"after": 1}},
	}}
	f, _ := NewFunction(exec, 10*time.Millisecond, 0)
	e, err := f.Evaluate(context.Background(), actions("slow", "next"))
	require.NoError(t, err)
	assert.False(t, e.Fitness.TimedOut)
	assert.Empty(t, e.Fitness.Exceptions)
	assert.Equal(t, 2, e.Fitness.Executed)
	assert.Equal(t, 201, e.Fitness.Outcomes[0].Status)
	assert.Equal(t, 1.0, e.Fitness.Score("created"))
	assert.Equal(t, 1.0, e.Fitness.Score("after"))
}

func TestEvaluateStopsOnParentCancellation(t *testing.T) {
	exec := &scriptedExecutor{steps: map[string]step{"slow": {block: true}}}
	f, _ := NewFunction(exec, time.Minute, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Evaluate(ctx, actions("slow"))
	assert.ErrorIs(t, err, context.Canceled)
}

type flipExecutor struct{ n int }

func (f *flipExecutor) ResetState(context.Context) error { return nil }
func (f *flipExecutor) Execute(context.Context, *individual.Action) (Outcome, map[TargetID]float64, error) {
	f.n++
	return Outcome{Status: 200}, map[TargetID]float64{"stable": 1, "flaky": float64(f.n % 2)}, nil
}
func (f *flipExecutor) KnownTargets(context.Context) ([]TargetID, error) { return nil, nil }

func TestCheckFlakyReportsDifferences(t *testing.T) {
	f, _ := NewFunction(&flipExecutor{}, time.Second, 0)
	e, err := f.Evaluate(context.Background(), actions("a"))
	require.NoError(t, err)
	original := e.Fitness.Score("flaky")

	report, err := f.CheckFlaky(context.Background(), e)
	require.ErrorIs(t, err, ErrFlakyResult)
	require.NotNil(t, report)
	assert.Equal(t, []TargetID{"flaky"}, report.Targets)
	assert.Equal(t, original, e.Fitness.Score("flaky"), "first run must be kept as is")
	assert.Equal(t, 1, f.Evaluations())
	assert.Equal(t, 2, f.Attempted(), "the re-run's action is counted")
}

func TestCheckFlakyAcceptsStableRuns(t *testing.T) {
	exec := &scriptedExecutor{steps: map[string]step{"a": {scores: map[TargetID]float64{"t": 0.5}}}}
	f, _ := NewFunction(exec, time.Second, 0)
	e, _ := f.Evaluate(context.Background(), actions("a"))
	report, err := f.CheckFlaky(context.Background(), e)
	assert.NoError(t, err)
	assert.Nil(t, report)
}

func TestNewFunctionValidation(t *testing.T) {
	_, err := NewFunction(nil, time.Second, 0)
	assert.Error(t, err)
	_, err = NewFunction(&flipExecutor{}, 0, 0)
	assert.Error(t, err)
	_, err = NewFunction(&flipExecutor{}, time.Second, -1)
	assert.Error(t, err)
}
