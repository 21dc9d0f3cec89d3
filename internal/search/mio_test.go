package search

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mioforge/internal/catalog"
	"mioforge/internal/fitness"
	"mioforge/internal/individual"
	"mioforge/internal/sut"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func frozen() time.Time { return epoch }

func evalBudget(n int) Config {
	cfg := DefaultConfig()
	cfg.MaxActionEvaluations = Unlimited
	cfg.MaxEvaluations = n
	return cfg
}

func newMIO(t *testing.T, svc sut.Service, cfg Config) *MIO {
	t.Helper()
	m, err := NewMIO(MIOConfig{Config: cfg, Catalog: svc.Catalog, Executor: svc.Executor, Now: frozen})
	require.NoError(t, err)
	return m
}

func TestNumberGuessReachesSuccessBranch(t *testing.T) {
	cfg := evalBudget(5000)
	cfg.Seed = 7
	cfg.StopWhenAllCovered = true

	res, err := newMIO(t, sut.NumberGuess(), cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopAllCovered, res.StopReason)
	assert.Equal(t, 1.0, res.Archive.Score(sut.GuessStatus200))
	assert.True(t, res.Archive.AllCovered())
	require.NotEmpty(t, res.Solution)
	assert.LessOrEqual(t, len(res.Solution), 3)
	assert.Less(t, res.Evaluations, 5000)
}

func TestZeroBudgetLeavesArchiveEmpty(t *testing.T) {
	res, err := newMIO(t, sut.NumberGuess(), evalBudget(0)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopEvaluations, res.StopReason)
	assert.Equal(t, 0, res.Evaluations)
	assert.True(t, res.Archive.Empty())
	assert.Empty(t, res.Solution)
	assert.Empty(t, res.Lineage)
	assert.Len(t, res.Archive.Targets(), 3)
}

func TestExclusiveTargetsNeedTwoIndividuals(t *testing.T) {
	cfg := evalBudget(3000)
	cfg.Seed = 3
	cfg.StopWhenAllCovered = true

	res, err := newMIO(t, sut.Exclusive(), cfg).Run(context.Background())
	require.NoError(t, err)

	require.True(t, res.Archive.AllCovered())
	require.Len(t, res.Solution, 2)
	low, _ := res.Archive.BestFor(sut.ExclusiveLow)
	high, _ := res.Archive.BestFor(sut.ExclusiveHigh)
	assert.NotEqual(t, low.Individual.ID, high.Individual.ID)
}

func TestTimedOutActionKeepsEarlierScores(t *testing.T) {
	cat := catalog.MustStatic(
		catalog.Template{Name: "fast"},
		catalog.Template{Name: "slow"},
	)
	exec := sut.NewSimulated("timing", []fitness.TargetID{"t:fast", "t:slow"}, map[string]sut.Handler{
		"fast": func(*sut.State, *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			return fitness.Outcome{Status: 200}, map[fitness.TargetID]float64{"t:fast": 1}, nil
		},
		"slow": func(*sut.State, *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
			return fitness.Outcome{Status: 200}, map[fitness.TargetID]float64{"t:slow": 1}, nil
		},
	}).WithDelay("slow", time.Second)

	cfg := evalBudget(30)
	cfg.MaxActions = 2
	cfg.PerCallTimeout = 5 * time.Millisecond
	cfg.Retries = 0
	m, err := NewMIO(MIOConfig{Config: cfg, Catalog: cat, Executor: exec})
	require.NoError(t, err)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 30, res.Evaluations)
	assert.Equal(t, 1.0, res.Archive.Score("t:fast"))
	assert.Zero(t, res.Archive.Score("t:slow"))
	assert.Zero(t, res.Discards)
}

func TestSameSeedSameRun(t *testing.T) {
	run := func() RunResult {
		cfg := evalBudget(300)
		cfg.Seed = 11
		res, err := newMIO(t, sut.Petstore(), cfg).Run(context.Background())
		require.NoError(t, err)
		return res
	}
	a, b := run(), run()

	if diff := cmp.Diff(a.Lineage, b.Lineage); diff != "" {
		t.Fatalf("lineage differs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(a.Coverage, b.Coverage); diff != "" {
		t.Fatalf("coverage differs (-first +second):\n%s", diff)
	}
	ids := func(r RunResult) []string {
		var out []string
		for _, e := range r.Solution {
			out = append(out, e.Individual.ID)
		}
		return out
	}
	assert.Equal(t, ids(a), ids(b))
	assert.Equal(t, a.Actions, b.Actions)
}

func TestSeedsAreEvaluatedFirst(t *testing.T) {
	svc := sut.NumberGuess()
	tmpl, ok := svc.Catalog.Template("guess")
	require.True(t, ok)
	rng := rand.New(rand.NewSource(1))
	action := catalog.Instantiate(tmpl, rng)
	n, _ := action.Param("n")
	require.NoError(t, n.SetInt(42))
	seed := individual.New(rng, individual.ProvenanceSampled, action)

	m, err := NewMIO(MIOConfig{
		Config:   evalBudget(1),
		Catalog:  svc.Catalog,
		Executor: svc.Executor,
		Seeds:    []*individual.Individual{seed},
	})
	require.NoError(t, err)
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Lineage, 1)
	assert.Equal(t, seed.ID, res.Lineage[0].IndividualID)
	assert.Equal(t, individual.ProvenanceSeeded, res.Lineage[0].Provenance)
	assert.Equal(t, 1.0, res.Archive.Score(sut.GuessStatus200))
	assert.Equal(t, individual.ProvenanceSampled, seed.Provenance, "caller's seed must not be modified")
}

func TestActionBudgetStopsRun(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxActionEvaluations = 40
	res, err := newMIO(t, sut.Petstore(), cfg).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StopActions, res.StopReason)
	assert.GreaterOrEqual(t, res.Actions, 40)
	// The budget is only checked between evaluations.
	assert.Less(t, res.Actions, 40+cfg.MaxActions)
}

type failingExecutor struct{ calls int }

func (f *failingExecutor) ResetState(context.Context) error { return nil }

func (f *failingExecutor) Execute(context.Context, *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
	f.calls++
	return fitness.Outcome{}, nil, errors.New("handler panicked")
}

func (f *failingExecutor) KnownTargets(context.Context) ([]fitness.TargetID, error) {
	return []fitness.TargetID{"x"}, nil
}

func TestFailedActionsCountAgainstActionBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEvaluations = Unlimited
	cfg.TimeBudget = Unlimited
	cfg.MaxActionEvaluations = 50
	exec := &failingExecutor{}
	m, err := NewMIO(MIOConfig{Config: cfg, Catalog: sut.Petstore().Catalog, Executor: exec, Now: frozen})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := m.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StopActions, res.StopReason)
	assert.Equal(t, 50, res.Actions)
	assert.Equal(t, exec.calls, res.Actions)
	assert.Equal(t, 50, res.Evaluations, "every evaluation stops at its first action")
}

func TestCanceledRunReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := newMIO(t, sut.NumberGuess(), evalBudget(100)).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, StopCanceled, res.StopReason)
	assert.Zero(t, res.Evaluations)
}

type downExecutor struct{ resets int }

func (d *downExecutor) ResetState(context.Context) error {
	d.resets++
	return errors.New("connection refused")
}

func (d *downExecutor) Execute(context.Context, *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
	return fitness.Outcome{}, nil, nil
}

func (d *downExecutor) KnownTargets(context.Context) ([]fitness.TargetID, error) {
	return []fitness.TargetID{"x"}, nil
}

func TestUnreachableSutAbortsAfterDiscards(t *testing.T) {
	cfg := evalBudget(100)
	cfg.MaxConsecutiveDiscards = 3
	exec := &downExecutor{}
	m, err := NewMIO(MIOConfig{Config: cfg, Catalog: sut.NumberGuess().Catalog, Executor: exec})
	require.NoError(t, err)

	_, err = m.Run(context.Background())
	require.ErrorIs(t, err, fitness.ErrSutUnreachable)
	assert.Equal(t, 3, exec.resets)
}

func TestFlakyTargetsAreReported(t *testing.T) {
	svc := sut.NumberGuess()
	cfg := evalBudget(5)
	cfg.MaxActions = 1
	cfg.FlakyCheck = true
	exec := &sut.Flaky{Executor: svc.Executor, Target: sut.GuessReached}
	m, err := NewMIO(MIOConfig{Config: cfg, Catalog: svc.Catalog, Executor: exec})
	require.NoError(t, err)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Flaky)
	assert.Contains(t, res.Flaky[0].Targets, sut.GuessReached)
}

type countingExecutor struct {
	fitness.Executor
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
	c.calls++
	return c.Executor.Execute(ctx, a)
}

func TestFlakyRerunsAreCharged(t *testing.T) {
	svc := sut.NumberGuess()
	cfg := evalBudget(20)
	cfg.FlakyCheck = true
	exec := &countingExecutor{Executor: &sut.Flaky{Executor: svc.Executor, Target: sut.GuessReached}}
	m, err := NewMIO(MIOConfig{Config: cfg, Catalog: svc.Catalog, Executor: exec, Now: frozen})
	require.NoError(t, err)

	res, err := m.Run(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, res.Flaky)
	assert.Equal(t, 20, res.Evaluations)
	assert.Equal(t, exec.calls, res.Actions)
}

func TestMetricsTrackTheLoop(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg, prometheus.Labels{"service": "numberguess"})
	require.NoError(t, err)

	svc := sut.NumberGuess()
	m, err := NewMIO(MIOConfig{Config: evalBudget(25), Catalog: svc.Catalog, Executor: svc.Executor, Metrics: metrics})
	require.NoError(t, err)
	res, err := m.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 25.0, testutil.ToFloat64(metrics.evaluations))
	assert.Equal(t, float64(res.Actions), testutil.ToFloat64(metrics.actions))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.targets))
	assert.Equal(t, float64(len(res.Archive.Covered())), testutil.ToFloat64(metrics.covered))

	again, err := NewMetrics(reg, prometheus.Labels{"service": "numberguess"})
	require.NoError(t, err)
	again.observeEvaluation(1, time.Millisecond)
	assert.Equal(t, 26.0, testutil.ToFloat64(metrics.evaluations), "re-registration shares collectors")
}

func TestNewMIORequiresCollaborators(t *testing.T) {
	svc := sut.NumberGuess()
	_, err := NewMIO(MIOConfig{Config: DefaultConfig(), Executor: svc.Executor})
	assert.Error(t, err)
	_, err = NewMIO(MIOConfig{Config: DefaultConfig(), Catalog: svc.Catalog})
	assert.Error(t, err)
	bad := DefaultConfig()
	bad.MutatorMode = "greedy"
	_, err = NewMIO(MIOConfig{Config: bad, Catalog: svc.Catalog, Executor: svc.Executor})
	assert.Error(t, err)
}
