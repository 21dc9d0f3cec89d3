package mutator

import (
	"errors"
	"math/rand"

	"mioforge/internal/catalog"
	"mioforge/internal/individual"
)

var ErrNoMutationChoice = errors.New("no mutation choice available")

// env is what operators need besides the offspring itself.
type env struct {
	catalog    catalog.Catalog
	maxActions int
	strength   float64
	stats      ImpactStats
	adaptive   bool
}

// choose returns an index into keys, weighted by impact when adaptive.
func (e env) choose(rng *rand.Rand, keys []individual.ElementKey) int {
	if !e.adaptive {
		return rng.Intn(len(keys))
	}
	weights := make([]float64, len(keys))
	for i, k := range keys {
		weights[i] = e.stats.Element(k).Weight()
	}
	return weightedIndex(rng, weights)
}

// Operator edits an offspring in place and reports the element keys it touched.
type Operator interface {
	Name() string
	Structural() bool
	Applicable(ind *individual.Individual, e env) bool
	Apply(rng *rand.Rand, ind *individual.Individual, e env) ([]individual.ElementKey, error)
}

func actionKey(name string) individual.ElementKey {
	return individual.ElementKey("action:" + name)
}

// MutateValue perturbs one gene node.
type MutateValue struct{}

func (MutateValue) Name() string     { return "value" }
func (MutateValue) Structural() bool { return false }

func (MutateValue) Applicable(ind *individual.Individual, _ env) bool {
	return len(ind.SeeGenes()) > 0
}

func (MutateValue) Apply(rng *rand.Rand, ind *individual.Individual, e env) ([]individual.ElementKey, error) {
	refs := ind.SeeGenes()
	if len(refs) == 0 {
		return nil, ErrNoMutationChoice
	}
	keys := make([]individual.ElementKey, len(refs))
	for i, r := range refs {
		keys[i] = r.Key
	}
	ref := refs[e.choose(rng, keys)]
	ref.Gene.Mutate(rng, e.strength)
	return []individual.ElementKey{ref.Key}, nil
}

// AddAction inserts a freshly sampled action at a random position.
type AddAction struct{}

func (AddAction) Name() string     { return "add" }
func (AddAction) Structural() bool { return true }

func (AddAction) Applicable(ind *individual.Individual, e env) bool {
	return ind.Size() < e.maxActions && len(e.catalog.Templates()) > 0
}

func (AddAction) Apply(rng *rand.Rand, ind *individual.Individual, e env) ([]individual.ElementKey, error) {
	templates := e.catalog.Templates()
	if len(templates) == 0 || ind.Size() >= e.maxActions {
		return nil, ErrNoMutationChoice
	}
	keys := make([]individual.ElementKey, len(templates))
	for i, t := range templates {
		keys[i] = actionKey(t.Name)
	}
	pick := e.choose(rng, keys)
	a := catalog.Instantiate(templates[pick], rng)
	if err := ind.InsertAction(rng.Intn(ind.Size()+1), a); err != nil {
		return nil, err
	}
	return []individual.ElementKey{keys[pick]}, nil
}

// RemoveAction drops one action; an individual never shrinks below one action.
type RemoveAction struct{}

func (RemoveAction) Name() string     { return "remove" }
func (RemoveAction) Structural() bool { return true }

func (RemoveAction) Applicable(ind *individual.Individual, _ env) bool {
	return ind.Size() > 1
}

func (RemoveAction) Apply(rng *rand.Rand, ind *individual.Individual, e env) ([]individual.ElementKey, error) {
	if ind.Size() <= 1 {
		return nil, ErrNoMutationChoice
	}
	keys := make([]individual.ElementKey, ind.Size())
	for i, a := range ind.Actions {
		keys[i] = actionKey(a.Name)
	}
	at := e.choose(rng, keys)
	if err := ind.RemoveAction(at); err != nil {
		return nil, err
	}
	return []individual.ElementKey{keys[at]}, nil
}

// SwapActions exchanges two adjacent actions.
type SwapActions struct{}

func (SwapActions) Name() string     { return "swap" }
func (SwapActions) Structural() bool { return true }

func (SwapActions) Applicable(ind *individual.Individual, _ env) bool {
	return ind.Size() > 1
}

func (SwapActions) Apply(rng *rand.Rand, ind *individual.Individual, _ env) ([]individual.ElementKey, error) {
	if ind.Size() <= 1 {
		return nil, ErrNoMutationChoice
	}
	at := rng.Intn(ind.Size() - 1)
	first, second := ind.Actions[at].Name, ind.Actions[at+1].Name
	if err := ind.SwapAdjacent(at); err != nil {
		return nil, err
	}
	return []individual.ElementKey{actionKey(first), actionKey(second)}, nil
}

func DefaultOperators() []Operator {
	return []Operator{MutateValue{}, AddAction{}, RemoveAction{}, SwapActions{}}
}
