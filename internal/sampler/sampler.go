// Package sampler produces fresh individuals for the search loop.
package sampler

import (
	"errors"
	"fmt"
	"math/rand"

	"mioforge/internal/catalog"
	"mioforge/internal/individual"
)

var ErrSampleFailed = errors.New("could not sample a valid individual")

const sampleAttempts = 32

type Sampler interface {
	Sample(rng *rand.Rand) (*individual.Individual, error)
}

// Random draws a length uniformly in [1,MaxActions], fills it with uniformly
// chosen templates and repairs resource dependencies.
type Random struct {
	Catalog    catalog.Catalog
	MaxActions int
}

func NewRandom(c catalog.Catalog, maxActions int) (*Random, error) {
	if c == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if maxActions <= 0 {
		return nil, fmt.Errorf("max actions must be > 0")
	}
	if len(c.Templates()) == 0 {
		return nil, fmt.Errorf("catalog has no templates")
	}
	return &Random{Catalog: c, MaxActions: maxActions}, nil
}

func (s *Random) Sample(rng *rand.Rand) (*individual.Individual, error) {
	templates := s.Catalog.Templates()
	for attempt := 0; attempt < sampleAttempts; attempt++ {
		n := 1 + rng.Intn(s.MaxActions)
		actions := make([]*individual.Action, 0, n)
		for i := 0; i < n; i++ {
			actions = append(actions, catalog.Instantiate(templates[rng.Intn(len(templates))], rng))
		}
		ind := individual.New(rng, individual.ProvenanceSampled, actions...)
		if !catalog.Repair(ind, s.Catalog, rng, s.MaxActions) {
			continue
		}
		if err := ind.Validate(); err != nil {
			continue
		}
		return ind, nil
	}
	return nil, fmt.Errorf("%w after %d attempts", ErrSampleFailed, sampleAttempts)
}

// Seeded hands out user-supplied individuals once each, in order, then
// delegates to Fallback.
type Seeded struct {
	seeds    []*individual.Individual
	next     int
	Fallback Sampler
}

func NewSeeded(fallback Sampler, seeds ...*individual.Individual) (*Seeded, error) {
	if fallback == nil {
		return nil, fmt.Errorf("fallback sampler is required")
	}
	s := &Seeded{Fallback: fallback}
	for i, seed := range seeds {
		if err := seed.Validate(); err != nil {
			return nil, fmt.Errorf("seed %d: %w", i, err)
		}
		cp := seed.Copy()
		cp.Provenance = individual.ProvenanceSeeded
		s.seeds = append(s.seeds, cp)
	}
	if err := individual.CheckDisjoint(s.seeds...); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Seeded) Remaining() int { return len(s.seeds) - s.next }

func (s *Seeded) Sample(rng *rand.Rand) (*individual.Individual, error) {
	if s.next < len(s.seeds) {
		ind := s.seeds[s.next]
		s.next++
		if ind.ID == "" {
			ind.ID = individual.NewID(rng)
		}
		return ind, nil
	}
	return s.Fallback.Sample(rng)
}
