// Package sut provides in-process systems under test. Each exposes an action
// catalog and an executor whose handlers report branch-distance heuristics
// per coverage target.
package sut

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"mioforge/internal/catalog"
	"mioforge/internal/fitness"
	"mioforge/internal/individual"
)

// State is the mutable SUT state between ResetState calls.
type State struct {
	Resources map[string]int
	Calls     int
}

func (s *State) Create(resource string) { s.Resources[resource]++ }

func (s *State) Has(resource string) bool { return s.Resources[resource] > 0 }

func (s *State) Delete(resource string) bool {
	if s.Resources[resource] == 0 {
		return false
	}
	s.Resources[resource]--
	return true
}

type Handler func(state *State, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error)

// Simulated is a rule-based executor. It is safe for use by one search loop at
// a time; replicates build their own instance.
type Simulated struct {
	mu       sync.Mutex
	name     string
	targets  []fitness.TargetID
	handlers map[string]Handler
	delays   map[string]time.Duration
	state    State
}

func NewSimulated(name string, targets []fitness.TargetID, handlers map[string]Handler) *Simulated {
	sorted := append([]fitness.TargetID(nil), targets...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &Simulated{
		name:     name,
		targets:  sorted,
		handlers: handlers,
		delays:   map[string]time.Duration{},
		state:    State{Resources: map[string]int{}},
	}
}

func (s *Simulated) Name() string { return s.name }

// WithDelay makes action block for d before answering, honouring cancellation.
func (s *Simulated) WithDelay(action string, d time.Duration) *Simulated {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[action] = d
	return s
}

func (s *Simulated) ResetState(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{Resources: map[string]int{}}
	return nil
}

func (s *Simulated) Execute(ctx context.Context, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
	s.mu.Lock()
	h, ok := s.handlers[a.Name]
	delay := s.delays[a.Name]
	s.mu.Unlock()
	if !ok {
		return fitness.Outcome{Status: 404, Message: "no such operation"}, nil, nil
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fitness.Outcome{}, nil, ctx.Err()
		case <-timer.C:
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Calls++
	return h(&s.state, a)
}

func (s *Simulated) KnownTargets(context.Context) ([]fitness.TargetID, error) {
	return append([]fitness.TargetID(nil), s.targets...), nil
}

// Distance maps the distance between a and b to a heuristic in (0,1]: 1 when
// equal, approaching 0 as they diverge.
func Distance(a, b int64) float64 {
	d := math.Abs(float64(a) - float64(b))
	return 1 / (1 + d)
}

// Below is the heuristic for a < b: 1 when true, else shrinking with the gap.
func Below(a, b int64) float64 {
	if a < b {
		return 1
	}
	return Distance(a, b-1) / 2
}

func intParam(a *individual.Action, name string) (int64, error) {
	g, ok := a.Param(name)
	if !ok {
		return 0, fmt.Errorf("%s: missing param %s", a.Name, name)
	}
	v, ok := g.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("%s: param %s is %s", a.Name, name, g.Kind())
	}
	return v, nil
}

func stringParam(a *individual.Action, name string) (string, bool) {
	g, ok := a.Param(name)
	if !ok {
		return "", false
	}
	v, ok := g.Value().(string)
	return v, ok
}

// Service bundles a catalog with a fresh executor.
type Service struct {
	Name        string
	Description string
	Catalog     catalog.Catalog
	Executor    *Simulated
}

type Factory func() Service

var registry = map[string]Factory{
	"numberguess": NumberGuess,
	"exclusive":   Exclusive,
	"petstore":    Petstore,
}

// Lookup builds a fresh instance of the named service. Names go through
// Normalize first.
func Lookup(name string) (Service, error) {
	f, ok := registry[Normalize(name)]
	if !ok {
		return Service{}, fmt.Errorf("unknown service %q", name)
	}
	return f(), nil
}

// Names lists the registered services, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Flaky wraps an executor and flips target between 0 and 1 on every call that
// reports it, so repeated runs of one individual disagree.
type Flaky struct {
	fitness.Executor
	Target fitness.TargetID

	mu    sync.Mutex
	flips int
}

func (f *Flaky) Execute(ctx context.Context, a *individual.Action) (fitness.Outcome, map[fitness.TargetID]float64, error) {
	out, scores, err := f.Executor.Execute(ctx, a)
	if _, ok := scores[f.Target]; !ok {
		return out, scores, err
	}
	f.mu.Lock()
	f.flips++
	flip := f.flips%2 == 0
	f.mu.Unlock()
	adjusted := make(map[fitness.TargetID]float64, len(scores))
	for t, s := range scores {
		adjusted[t] = s
	}
	if flip {
		adjusted[f.Target] = 0
	}
	return out, adjusted, err
}
