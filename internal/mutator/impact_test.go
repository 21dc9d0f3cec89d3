package mutator

import (
	"testing"

	"mioforge/internal/individual"
)

func TestImpactStatsArePure(t *testing.T) {
	var s ImpactStats
	a := s.Attempt("value", []individual.ElementKey{"x", "x", "y"})
	b := a.Credit("value", []individual.ElementKey{"x"})

	if s.Elements() != 0 {
		t.Fatalf("zero value changed: %d elements", s.Elements())
	}
	if got := a.Element("x"); got.Tried != 1 || got.Improved != 0 {
		t.Fatalf("unexpected x after attempt: %+v", got)
	}
	if got := b.Element("x"); got.Tried != 1 || got.Improved != 1 {
		t.Fatalf("unexpected x after credit: %+v", got)
	}
	if got := a.Element("x").Improved; got != 0 {
		t.Fatalf("credit leaked into previous value: %d", got)
	}
	if got := b.Operator("value"); got.Tried != 1 || got.Improved != 1 {
		t.Fatalf("unexpected operator impact: %+v", got)
	}
}

func TestMergeSumsCounters(t *testing.T) {
	a := ImpactStats{}.Attempt("add", []individual.ElementKey{"k"})
	b := ImpactStats{}.Attempt("add", []individual.ElementKey{"k", "j"}).Credit("add", []individual.ElementKey{"k"})
	m := Merge(a, b)
	if got := m.Element("k"); got.Tried != 2 || got.Improved != 1 {
		t.Fatalf("unexpected merged k: %+v", got)
	}
	if got := m.Element("j"); got.Tried != 1 {
		t.Fatalf("unexpected merged j: %+v", got)
	}
	ops := m.Operators()
	if len(ops) != 1 || ops[0].Operator != "add" || ops[0].Tried != 2 {
		t.Fatalf("unexpected operators %+v", ops)
	}
	if a.Element("k").Tried != 1 {
		t.Fatal("merge modified its input")
	}
}

func TestWeightFavoursUntriedAndProductive(t *testing.T) {
	untried := Impact{}
	stale := Impact{Tried: 9}
	productive := Impact{Tried: 9, Improved: 5}
	if !(untried.Weight() > stale.Weight() && productive.Weight() > stale.Weight()) {
		t.Fatalf("weights: untried=%v stale=%v productive=%v", untried.Weight(), stale.Weight(), productive.Weight())
	}
}
