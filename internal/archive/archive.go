// Package archive keeps one elite individual per coverage target, the core
// store of the MIO search.
package archive

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"mioforge/internal/fitness"
)

var ErrInvariantViolation = errors.New("archive invariant violated")

// WeightFunc maps a target's sampling counter to a selection weight. It must be
// positive and monotonically non-increasing.
type WeightFunc func(timesSampled int) float64

// InverseWeight is 1/(1+n).
func InverseWeight(n int) float64 { return 1 / float64(1+n) }

type Entry struct {
	Target       fitness.TargetID
	Best         *fitness.EvaluatedIndividual
	Score        float64
	TimesSampled int
}

func (e Entry) Covered() bool { return e.Best != nil && e.Score >= 1 }

type Update struct {
	Improved     []fitness.TargetID
	NewlyCovered []fitness.TargetID
}

func (u Update) Changed() bool { return len(u.Improved) > 0 }

type Archive struct {
	entries map[fitness.TargetID]*Entry
	order   []fitness.TargetID
	weight  WeightFunc
}

func New(weight WeightFunc) *Archive {
	if weight == nil {
		weight = InverseWeight
	}
	return &Archive{entries: map[fitness.TargetID]*Entry{}, weight: weight}
}

// Register adds targets with no elite yet. Already known targets are ignored.
func (a *Archive) Register(targets ...fitness.TargetID) {
	for _, t := range targets {
		if _, ok := a.entries[t]; ok {
			continue
		}
		a.entries[t] = &Entry{Target: t}
		at := sort.Search(len(a.order), func(i int) bool { return a.order[i] >= t })
		a.order = append(a.order, "")
		copy(a.order[at+1:], a.order[at:])
		a.order[at] = t
	}
}

// AddIfImproved offers e for every target it scored on. e replaces the
// incumbent on a strictly higher score, or on an equal score with strictly
// fewer actions. A zero score never occupies a slot.
func (a *Archive) AddIfImproved(e *fitness.EvaluatedIndividual) (Update, error) {
	if e == nil || e.Individual == nil {
		return Update{}, fmt.Errorf("%w: nil evaluated individual", ErrInvariantViolation)
	}
	targets := make([]fitness.TargetID, 0, len(e.Fitness.Scores))
	for t := range e.Fitness.Scores {
		targets = append(targets, t)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	var u Update
	for _, t := range targets {
		score := e.Fitness.Scores[t]
		if math.IsNaN(score) || score < 0 || score > 1 {
			return Update{}, fmt.Errorf("%w: target %s score %v outside [0,1]", ErrInvariantViolation, t, score)
		}
		a.Register(t)
		entry := a.entries[t]
		if !replaces(entry, e, score) {
			continue
		}
		if entry.Best != nil && score < entry.Score {
			return Update{}, fmt.Errorf("%w: target %s would drop from %v to %v", ErrInvariantViolation, t, entry.Score, score)
		}
		wasCovered := entry.Covered()
		entry.Best = e
		entry.Score = score
		u.Improved = append(u.Improved, t)
		if !wasCovered && entry.Covered() {
			u.NewlyCovered = append(u.NewlyCovered, t)
		}
	}
	return u, nil
}

func replaces(entry *Entry, e *fitness.EvaluatedIndividual, score float64) bool {
	if score <= 0 {
		return false
	}
	if entry.Best == nil {
		return true
	}
	if score != entry.Score {
		return score > entry.Score
	}
	return e.Size() < entry.Best.Size()
}

// SampleTarget picks a target with probability proportional to the weight of
// its sampling counter and increments that counter. While any target is
// uncovered, covered targets are never drawn, whatever their counters; the
// 1/(1+n) weighting only orders the uncovered set. Once every target is
// covered all of them are candidates.
func (a *Archive) SampleTarget(rng *rand.Rand) (fitness.TargetID, bool) {
	candidates := make([]*Entry, 0, len(a.order))
	for _, t := range a.order {
		if e := a.entries[t]; !e.Covered() {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		for _, t := range a.order {
			candidates = append(candidates, a.entries[t])
		}
	}
	if len(candidates) == 0 {
		return "", false
	}

	prefix := make([]float64, len(candidates))
	total := 0.0
	for i, e := range candidates {
		w := a.weight(e.TimesSampled)
		if math.IsNaN(w) || w < 0 {
			w = 0
		}
		total += w
		prefix[i] = total
	}
	var pick *Entry
	if total <= 0 {
		pick = candidates[rng.Intn(len(candidates))]
	} else {
		x := total * rng.Float64()
		i := sort.Search(len(prefix), func(i int) bool { return prefix[i] > x })
		pick = candidates[min(i, len(candidates)-1)]
	}
	pick.TimesSampled++
	return pick.Target, true
}

// BestFor returns the elite of target, or false if it was never hit.
func (a *Archive) BestFor(target fitness.TargetID) (*fitness.EvaluatedIndividual, bool) {
	e, ok := a.entries[target]
	if !ok || e.Best == nil {
		return nil, false
	}
	return e.Best, true
}

func (a *Archive) Score(target fitness.TargetID) float64 {
	if e, ok := a.entries[target]; ok {
		return e.Score
	}
	return 0
}

// Targets lists every known target, sorted.
func (a *Archive) Targets() []fitness.TargetID {
	return append([]fitness.TargetID(nil), a.order...)
}

// Covered lists targets whose elite scores 1, sorted.
func (a *Archive) Covered() []fitness.TargetID {
	var out []fitness.TargetID
	for _, t := range a.order {
		if a.entries[t].Covered() {
			out = append(out, t)
		}
	}
	return out
}

func (a *Archive) AllCovered() bool {
	if len(a.order) == 0 {
		return false
	}
	for _, t := range a.order {
		if !a.entries[t].Covered() {
			return false
		}
	}
	return true
}

// Empty reports whether no target holds an elite.
func (a *Archive) Empty() bool {
	for _, e := range a.entries {
		if e.Best != nil {
			return false
		}
	}
	return true
}

// Entries snapshots every entry in target order.
func (a *Archive) Entries() []Entry {
	out := make([]Entry, 0, len(a.order))
	for _, t := range a.order {
		out = append(out, *a.entries[t])
	}
	return out
}

// ExtractSolution greedily picks stored elites until every covered target is
// covered by some pick. Ties prefer fewer actions, then earlier evaluation.
func (a *Archive) ExtractSolution() []*fitness.EvaluatedIndividual {
	remaining := map[fitness.TargetID]struct{}{}
	for _, t := range a.Covered() {
		remaining[t] = struct{}{}
	}
	var pool []*fitness.EvaluatedIndividual
	seen := map[*fitness.EvaluatedIndividual]struct{}{}
	for _, t := range a.order {
		e := a.entries[t]
		if e.Best == nil {
			continue
		}
		if _, ok := seen[e.Best]; ok {
			continue
		}
		seen[e.Best] = struct{}{}
		pool = append(pool, e.Best)
	}

	var solution []*fitness.EvaluatedIndividual
	for len(remaining) > 0 {
		var best *fitness.EvaluatedIndividual
		bestGain := 0
		for _, cand := range pool {
			gain := 0
			for _, t := range cand.Fitness.Covered() {
				if _, ok := remaining[t]; ok {
					gain++
				}
			}
			if gain == 0 {
				continue
			}
			if best == nil || gain > bestGain ||
				(gain == bestGain && (cand.Size() < best.Size() ||
					(cand.Size() == best.Size() && cand.Index < best.Index))) {
				best, bestGain = cand, gain
			}
		}
		if best == nil {
			break
		}
		for _, t := range best.Fitness.Covered() {
			delete(remaining, t)
		}
		solution = append(solution, best)
	}
	return solution
}
