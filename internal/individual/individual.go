// Package individual holds the candidate test case: an ordered sequence of
// actions whose parameters are gene trees.
package individual

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"mioforge/internal/gene"
)

var (
	ErrSharedGene     = errors.New("gene shared between individuals")
	ErrInvalidIndex   = errors.New("action index out of range")
	ErrUnresolvedPath = errors.New("gene path does not resolve")
)

type Provenance string

const (
	ProvenanceSampled Provenance = "sampled"
	ProvenanceSeeded  Provenance = "seeded"
	ProvenanceMutated Provenance = "mutated"
)

type Param struct {
	Name string
	Gene *gene.Gene
}

// Action is one API call. An action requiring a resource must come after an
// action creating it.
type Action struct {
	Name     string
	Params   []Param
	Creates  []string
	Requires []string
}

func (a *Action) Copy() *Action {
	out := &Action{
		Name:     a.Name,
		Params:   make([]Param, len(a.Params)),
		Creates:  append([]string(nil), a.Creates...),
		Requires: append([]string(nil), a.Requires...),
	}
	for i, p := range a.Params {
		out.Params[i] = Param{Name: p.Name, Gene: p.Gene.Copy()}
	}
	return out
}

// Values exports the parameters as plain data keyed by parameter name.
func (a *Action) Values() map[string]any {
	out := make(map[string]any, len(a.Params))
	for _, p := range a.Params {
		out[p.Name] = p.Gene.Value()
	}
	return out
}

func (a *Action) Param(name string) (*gene.Gene, bool) {
	for _, p := range a.Params {
		if p.Name == name {
			return p.Gene, true
		}
	}
	return nil, false
}

type Individual struct {
	ID         string
	ParentID   string
	Provenance Provenance
	// Operation names the mutation operator that produced a mutated individual.
	Operation string
	Actions   []*Action
}

// NewID draws a UUID from rng so identifiers follow the run seed.
func NewID(rng io.Reader) string {
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func New(rng *rand.Rand, provenance Provenance, actions ...*Action) *Individual {
	return &Individual{ID: NewID(rng), Provenance: provenance, Actions: actions}
}

// Copy deep-clones the action sequence. Identity and lineage fields are copied
// as is; Derive sets them for offspring.
func (ind *Individual) Copy() *Individual {
	out := &Individual{
		ID:         ind.ID,
		ParentID:   ind.ParentID,
		Provenance: ind.Provenance,
		Operation:  ind.Operation,
		Actions:    make([]*Action, len(ind.Actions)),
	}
	for i, a := range ind.Actions {
		out.Actions[i] = a.Copy()
	}
	return out
}

// Derive copies ind as a new mutated offspring with fresh identity.
func (ind *Individual) Derive(rng *rand.Rand, operation string) *Individual {
	out := ind.Copy()
	out.ID = NewID(rng)
	out.ParentID = ind.ID
	out.Provenance = ProvenanceMutated
	out.Operation = operation
	return out
}

func (ind *Individual) Size() int { return len(ind.Actions) }

// SeeActions returns the action sequence. Callers must not retain or modify the
// returned slice across mutations.
func (ind *Individual) SeeActions() []*Action { return ind.Actions }

// GenePath addresses a gene node: action index, parameter index, then child
// indexes as understood by gene.Child.
type GenePath struct {
	Action int
	Param  int
	Steps  []int
}

func (p GenePath) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d", p.Action, p.Param)
	for _, s := range p.Steps {
		fmt.Fprintf(&b, "/%d", s)
	}
	return b.String()
}

// ElementKey names a gene by action name and field path. Unlike GenePath it is
// stable across insertions, removals and array resizing, so it is the unit of
// impact tracking.
type ElementKey string

type GeneRef struct {
	Path GenePath
	Key  ElementKey
	Gene *gene.Gene
}

// SeeGenes flattens every active gene node in stable order: actions in
// sequence, params in declaration order, depth-first below each root.
func (ind *Individual) SeeGenes() []GeneRef {
	var out []GeneRef
	for ai, a := range ind.Actions {
		for pi, p := range a.Params {
			prefix := a.Name + "." + p.Name
			p.Gene.Walk(func(steps []int, key string, node *gene.Gene) {
				out = append(out, GeneRef{
					Path: GenePath{Action: ai, Param: pi, Steps: append([]int(nil), steps...)},
					Key:  ElementKey(prefix + key),
					Gene: node,
				})
			})
		}
	}
	return out
}

func (ind *Individual) Resolve(path GenePath) (*gene.Gene, error) {
	if path.Action < 0 || path.Action >= len(ind.Actions) {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedPath, path)
	}
	a := ind.Actions[path.Action]
	if path.Param < 0 || path.Param >= len(a.Params) {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedPath, path)
	}
	node := a.Params[path.Param].Gene
	for _, step := range path.Steps {
		next, ok := node.Child(step)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnresolvedPath, path)
		}
		node = next
	}
	return node, nil
}

func (ind *Individual) InsertAction(at int, a *Action) error {
	if at < 0 || at > len(ind.Actions) {
		return fmt.Errorf("%w: insert at %d of %d", ErrInvalidIndex, at, len(ind.Actions))
	}
	ind.Actions = append(ind.Actions[:at], append([]*Action{a}, ind.Actions[at:]...)...)
	return nil
}

func (ind *Individual) RemoveAction(at int) error {
	if at < 0 || at >= len(ind.Actions) {
		return fmt.Errorf("%w: remove %d of %d", ErrInvalidIndex, at, len(ind.Actions))
	}
	ind.Actions = append(ind.Actions[:at], ind.Actions[at+1:]...)
	return nil
}

// SwapAdjacent exchanges actions at and at+1.
func (ind *Individual) SwapAdjacent(at int) error {
	if at < 0 || at+1 >= len(ind.Actions) {
		return fmt.Errorf("%w: swap %d of %d", ErrInvalidIndex, at, len(ind.Actions))
	}
	ind.Actions[at], ind.Actions[at+1] = ind.Actions[at+1], ind.Actions[at]
	return nil
}

type Violation struct {
	Action   int
	Resource string
}

// DependencyViolations lists every required resource that no earlier action
// creates, in action order.
func (ind *Individual) DependencyViolations() []Violation {
	created := map[string]struct{}{}
	var out []Violation
	for i, a := range ind.Actions {
		for _, r := range a.Requires {
			if _, ok := created[r]; !ok {
				out = append(out, Violation{Action: i, Resource: r})
			}
		}
		for _, r := range a.Creates {
			created[r] = struct{}{}
		}
	}
	return out
}

// Validate checks every gene and the action dependency order.
func (ind *Individual) Validate() error {
	if len(ind.Actions) == 0 {
		return errors.New("individual has no actions")
	}
	seen := map[*gene.Gene]struct{}{}
	for i, a := range ind.Actions {
		for _, p := range a.Params {
			if p.Gene == nil {
				return fmt.Errorf("action %d %s: param %s has no gene", i, a.Name, p.Name)
			}
			if err := p.Gene.Validate(); err != nil {
				return fmt.Errorf("action %d %s param %s: %w", i, a.Name, p.Name, err)
			}
			for _, n := range p.Gene.Nodes() {
				if _, dup := seen[n]; dup {
					return fmt.Errorf("action %d %s param %s: %w", i, a.Name, p.Name, ErrSharedGene)
				}
				seen[n] = struct{}{}
			}
		}
	}
	if v := ind.DependencyViolations(); len(v) > 0 {
		return fmt.Errorf("action %d requires %q before it is created", v[0].Action, v[0].Resource)
	}
	return nil
}

// CheckDisjoint reports ErrSharedGene when any gene node is reachable from more
// than one of the given individuals.
func CheckDisjoint(inds ...*Individual) error {
	owner := map[*gene.Gene]int{}
	for i, ind := range inds {
		for _, a := range ind.Actions {
			for _, p := range a.Params {
				for _, n := range p.Gene.Nodes() {
					if other, ok := owner[n]; ok && other != i {
						return fmt.Errorf("%w: %s and %s", ErrSharedGene, inds[other].ID, ind.ID)
					}
					owner[n] = i
				}
			}
		}
	}
	return nil
}
