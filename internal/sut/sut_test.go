package sut

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mioforge/internal/catalog"
	"mioforge/internal/fitness"
	"mioforge/internal/individual"
)

func action(t *testing.T, c catalog.Catalog, name string, rng *rand.Rand) *individual.Action {
	t.Helper()
	tmpl, ok := c.Template(name)
	require.True(t, ok, name)
	return catalog.Instantiate(tmpl, rng)
}

func TestNumberGuessScoresDistance(t *testing.T) {
	svc := NumberGuess()
	rng := rand.New(rand.NewSource(1))
	a := action(t, svc.Catalog, "guess", rng)
	g, _ := a.Param("n")
	ctx := context.Background()

	require.NoError(t, g.SetInt(42))
	out, scores, err := svc.Executor.Execute(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 200, out.Status)
	assert.Equal(t, 1.0, scores[GuessStatus200])

	require.NoError(t, g.SetInt(40))
	out, scores, _ = svc.Executor.Execute(ctx, a)
	assert.Equal(t, 418, out.Status)
	near := scores[GuessStatus200]
	require.NoError(t, g.SetInt(-500))
	out, scores, _ = svc.Executor.Execute(ctx, a)
	assert.Equal(t, 400, out.Status)
	assert.Greater(t, near, scores[GuessStatus200])
	assert.Equal(t, 1.0, scores[GuessStatus400])
}

func TestExclusiveOnlyFirstCallCounts(t *testing.T) {
	svc := Exclusive()
	rng := rand.New(rand.NewSource(2))
	ctx := context.Background()
	low := action(t, svc.Catalog, "setMode", rng)
	high := action(t, svc.Catalog, "setMode", rng)
	m, _ := low.Param("mode")
	require.NoError(t, m.SetInt(0))
	m, _ = high.Param("mode")
	require.NoError(t, m.SetInt(100))

	f, err := fitness.NewFunction(svc.Executor, time.Second, 0)
	require.NoError(t, err)
	e, err := f.Evaluate(ctx, individual.New(rng, individual.ProvenanceSampled, low, high))
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.Fitness.Score(ExclusiveLow))
	assert.Less(t, e.Fitness.Score(ExclusiveHigh), 1.0)
	assert.Equal(t, 409, e.Fitness.Outcomes[1].Status)
}

func TestPetstoreStateFollowsResets(t *testing.T) {
	svc := Petstore()
	rng := rand.New(rand.NewSource(3))
	ctx := context.Background()
	require.NoError(t, svc.Executor.ResetState(ctx))

	get := action(t, svc.Catalog, "getPet", rng)
	out, _, _ := svc.Executor.Execute(ctx, get)
	assert.Equal(t, 404, out.Status)

	out, scores, _ := svc.Executor.Execute(ctx, action(t, svc.Catalog, "createPet", rng))
	assert.Equal(t, 201, out.Status)
	assert.Equal(t, 1.0, scores["createPet:201"])

	id, _ := get.Param("petId")
	require.NoError(t, id.SetInt(1))
	out, _, _ = svc.Executor.Execute(ctx, get)
	assert.Equal(t, 200, out.Status)

	require.NoError(t, svc.Executor.ResetState(ctx))
	out, _, _ = svc.Executor.Execute(ctx, get)
	assert.Equal(t, 404, out.Status)
}

func TestKnownTargetsSorted(t *testing.T) {
	for _, name := range Names() {
		svc, err := Lookup(name)
		require.NoError(t, err)
		targets, err := svc.Executor.KnownTargets(context.Background())
		require.NoError(t, err)
		require.NotEmpty(t, targets, name)
		for i := 1; i < len(targets); i++ {
			assert.Less(t, targets[i-1], targets[i])
		}
	}
	_, err := Lookup("nope")
	assert.Error(t, err)
}

func TestDelayHonoursCancellation(t *testing.T) {
	svc := NumberGuess()
	svc.Executor.WithDelay("guess", time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	a := action(t, svc.Catalog, "guess", rand.New(rand.NewSource(4)))
	_, _, err := svc.Executor.Execute(ctx, a)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFlakyAlternates(t *testing.T) {
	svc := NumberGuess()
	f := &Flaky{Executor: svc.Executor, Target: GuessReached}
	a := action(t, svc.Catalog, "guess", rand.New(rand.NewSource(5)))
	_, first, _ := f.Execute(context.Background(), a)
	_, second, _ := f.Execute(context.Background(), a)
	assert.NotEqual(t, first[GuessReached], second[GuessReached])
}

func TestHeuristics(t *testing.T) {
	assert.Equal(t, 1.0, Distance(5, 5))
	assert.Greater(t, Distance(5, 6), Distance(5, 9))
	assert.Equal(t, 1.0, Below(-1, 0))
	assert.Less(t, Below(3, 0), 1.0)
}
