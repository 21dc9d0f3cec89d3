// Package catalog describes the actions a system under test exposes and turns
// action templates into concrete, randomized actions.
package catalog

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"mioforge/internal/gene"
	"mioforge/internal/individual"
)

var ErrUnknownTemplate = errors.New("unknown action template")

type ParamTemplate struct {
	Name string
	// Prototype is never handed out; Instantiate copies it.
	Prototype *gene.Gene
}

type Template struct {
	Name     string
	Params   []ParamTemplate
	Creates  []string
	Requires []string
}

// Catalog is the read-only view of the actions a SUT exposes.
type Catalog interface {
	Templates() []Template
	Template(name string) (Template, bool)
	// Creators lists the templates creating resource, in catalog order.
	Creators(resource string) []Template
}

type Static struct {
	templates []Template
	byName    map[string]int
}

func NewStatic(templates ...Template) (*Static, error) {
	if len(templates) == 0 {
		return nil, fmt.Errorf("at least one template is required")
	}
	s := &Static{templates: append([]Template(nil), templates...), byName: make(map[string]int, len(templates))}
	for i, t := range templates {
		if t.Name == "" {
			return nil, fmt.Errorf("template %d: name is required", i)
		}
		if _, dup := s.byName[t.Name]; dup {
			return nil, fmt.Errorf("duplicate template %q", t.Name)
		}
		for _, p := range t.Params {
			if p.Prototype == nil {
				return nil, fmt.Errorf("template %s param %s: prototype is required", t.Name, p.Name)
			}
			if err := p.Prototype.Validate(); err != nil {
				return nil, fmt.Errorf("template %s param %s: %w", t.Name, p.Name, err)
			}
		}
		s.byName[t.Name] = i
	}
	return s, nil
}

func MustStatic(templates ...Template) *Static {
	s, err := NewStatic(templates...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Static) Templates() []Template {
	return append([]Template(nil), s.templates...)
}

func (s *Static) Template(name string) (Template, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Template{}, false
	}
	return s.templates[i], true
}

func (s *Static) Creators(resource string) []Template {
	var out []Template
	for _, t := range s.templates {
		for _, r := range t.Creates {
			if r == resource {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// Resources lists every resource some template creates, sorted.
func Resources(c Catalog) []string {
	set := map[string]struct{}{}
	for _, t := range c.Templates() {
		for _, r := range t.Creates {
			set[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// Instantiate builds a fresh action from t with randomized parameter values.
func Instantiate(t Template, rng *rand.Rand) *individual.Action {
	a := &individual.Action{
		Name:     t.Name,
		Params:   make([]individual.Param, len(t.Params)),
		Creates:  append([]string(nil), t.Creates...),
		Requires: append([]string(nil), t.Requires...),
	}
	for i, p := range t.Params {
		g := p.Prototype.Copy()
		g.Randomize(rng)
		a.Params[i] = individual.Param{Name: p.Name, Gene: g}
	}
	return a
}

// Repair inserts creator actions ahead of every unsatisfied requirement. It
// returns false when some resource has no creator or the individual would grow
// beyond maxActions; ind may be partially repaired in that case.
func Repair(ind *individual.Individual, c Catalog, rng *rand.Rand, maxActions int) bool {
	// Each pass satisfies at least one violation or gives up, and a creator can
	// itself require resources, so bound the loop by the action limit.
	for pass := 0; pass <= maxActions; pass++ {
		violations := ind.DependencyViolations()
		if len(violations) == 0 {
			return true
		}
		v := violations[0]
		creators := c.Creators(v.Resource)
		if len(creators) == 0 || ind.Size() >= maxActions {
			return false
		}
		creator := Instantiate(creators[rng.Intn(len(creators))], rng)
		if err := ind.InsertAction(v.Action, creator); err != nil {
			return false
		}
	}
	return len(ind.DependencyViolations()) == 0
}
