package mutator

import (
	"sort"

	"mioforge/internal/individual"
)

// Impact counts how often an element or operator was mutated and how often the
// result improved some archive target.
type Impact struct {
	Tried    int
	Improved int
}

// Weight is (1+Improved)/(1+Tried): untried elements start at 1 and elements
// that keep failing to improve fade.
func (i Impact) Weight() float64 {
	return float64(1+i.Improved) / float64(1+i.Tried)
}

// ImpactStats is a value owned by the search loop. Every method returns a new
// value and leaves the receiver untouched.
type ImpactStats struct {
	elements  map[individual.ElementKey]Impact
	operators map[string]Impact
}

func (s ImpactStats) Element(k individual.ElementKey) Impact { return s.elements[k] }

func (s ImpactStats) Operator(name string) Impact { return s.operators[name] }

// Attempt records that op touched keys.
func (s ImpactStats) Attempt(op string, keys []individual.ElementKey) ImpactStats {
	return s.update(op, keys, func(i Impact) Impact { i.Tried++; return i })
}

// Credit records that the attempt by op on keys improved the archive.
func (s ImpactStats) Credit(op string, keys []individual.ElementKey) ImpactStats {
	return s.update(op, keys, func(i Impact) Impact { i.Improved++; return i })
}

func (s ImpactStats) update(op string, keys []individual.ElementKey, fn func(Impact) Impact) ImpactStats {
	out := s.clone()
	if op != "" {
		out.operators[op] = fn(out.operators[op])
	}
	seen := make(map[individual.ElementKey]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out.elements[k] = fn(out.elements[k])
	}
	return out
}

func (s ImpactStats) clone() ImpactStats {
	out := ImpactStats{
		elements:  make(map[individual.ElementKey]Impact, len(s.elements)+1),
		operators: make(map[string]Impact, len(s.operators)+1),
	}
	for k, v := range s.elements {
		out.elements[k] = v
	}
	for k, v := range s.operators {
		out.operators[k] = v
	}
	return out
}

// Merge sums two stats, e.g. from independent replicates.
func Merge(a, b ImpactStats) ImpactStats {
	out := a.clone()
	for k, v := range b.elements {
		cur := out.elements[k]
		out.elements[k] = Impact{Tried: cur.Tried + v.Tried, Improved: cur.Improved + v.Improved}
	}
	for k, v := range b.operators {
		cur := out.operators[k]
		out.operators[k] = Impact{Tried: cur.Tried + v.Tried, Improved: cur.Improved + v.Improved}
	}
	return out
}

type OperatorImpact struct {
	Operator string
	Impact
}

// Operators lists per-operator counters sorted by name.
func (s ImpactStats) Operators() []OperatorImpact {
	out := make([]OperatorImpact, 0, len(s.operators))
	for name, i := range s.operators {
		out = append(out, OperatorImpact{Operator: name, Impact: i})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Operator < out[j].Operator })
	return out
}

func (s ImpactStats) Elements() int { return len(s.elements) }
