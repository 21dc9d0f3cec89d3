package sampler

import (
	"errors"
	"math/rand"
	"testing"

	"mioforge/internal/catalog"
	"mioforge/internal/gene"
	"mioforge/internal/individual"
)

func testCatalog() *catalog.Static {
	return catalog.MustStatic(
		catalog.Template{Name: "createPet", Creates: []string{"pet"}, Params: []catalog.ParamTemplate{
			{Name: "name", Prototype: gene.Must(gene.NewString("name", gene.StringOptions{MinLen: 1, MaxLen: 5}))},
		}},
		catalog.Template{Name: "getPet", Requires: []string{"pet"}, Params: []catalog.ParamTemplate{
			{Name: "id", Prototype: gene.Must(gene.NewInt("id", 0, 10))},
		}},
	)
}

func TestRandomSamplesValidIndividualsWithinBounds(t *testing.T) {
	s, err := NewRandom(testCatalog(), 4)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		ind, err := s.Sample(rng)
		if err != nil {
			t.Fatalf("sample %d: %v", i, err)
		}
		if ind.Size() < 1 || ind.Size() > 4 {
			t.Fatalf("size %d outside [1,4]", ind.Size())
		}
		if err := ind.Validate(); err != nil {
			t.Fatalf("sample %d invalid: %v", i, err)
		}
		if ind.Provenance != individual.ProvenanceSampled {
			t.Fatalf("unexpected provenance %s", ind.Provenance)
		}
	}
}

func TestRandomIsDeterministicForSeed(t *testing.T) {
	s, _ := NewRandom(testCatalog(), 3)
	a, _ := s.Sample(rand.New(rand.NewSource(5)))
	b, _ := s.Sample(rand.New(rand.NewSource(5)))
	if a.ID != b.ID || a.Size() != b.Size() {
		t.Fatalf("samples differ: %s/%d vs %s/%d", a.ID, a.Size(), b.ID, b.Size())
	}
	for i := range a.Actions {
		if a.Actions[i].Name != b.Actions[i].Name || !gene.Equal(a.Actions[i].Params[0].Gene, b.Actions[i].Params[0].Gene) {
			t.Fatalf("action %d differs", i)
		}
	}
}

func TestRandomFailsWhenRequirementsCannotBeMet(t *testing.T) {
	c := catalog.MustStatic(catalog.Template{Name: "orphan", Requires: []string{"ghost"}})
	s, _ := NewRandom(c, 2)
	if _, err := s.Sample(rand.New(rand.NewSource(1))); !errors.Is(err, ErrSampleFailed) {
		t.Fatalf("expected ErrSampleFailed, got %v", err)
	}
}

func TestNewRandomValidation(t *testing.T) {
	if _, err := NewRandom(nil, 1); err == nil {
		t.Fatal("expected nil catalog error")
	}
	if _, err := NewRandom(testCatalog(), 0); err == nil {
		t.Fatal("expected max actions error")
	}
}

func TestSeededReturnsSeedsThenFallback(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	fallback, _ := NewRandom(testCatalog(), 2)
	tmpl, _ := testCatalog().Template("createPet")
	seed := individual.New(rng, individual.ProvenanceSampled, catalog.Instantiate(tmpl, rng))

	s, err := NewSeeded(fallback, seed)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	first, err := s.Sample(rng)
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if first.ID != seed.ID || first.Provenance != individual.ProvenanceSeeded {
		t.Fatalf("expected seed first, got %s/%s", first.ID, first.Provenance)
	}
	if err := individual.CheckDisjoint(first, seed); err != nil {
		t.Fatalf("seed not copied: %v", err)
	}
	if s.Remaining() != 0 {
		t.Fatalf("remaining = %d", s.Remaining())
	}
	second, err := s.Sample(rng)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if second.Provenance != individual.ProvenanceSampled {
		t.Fatalf("expected fallback sample, got %s", second.Provenance)
	}
}

func TestSeededRejectsInvalidSeed(t *testing.T) {
	fallback, _ := NewRandom(testCatalog(), 2)
	tmpl, _ := testCatalog().Template("getPet")
	rng := rand.New(rand.NewSource(3))
	bad := individual.New(rng, individual.ProvenanceSampled, catalog.Instantiate(tmpl, rng))
	if _, err := NewSeeded(fallback, bad); err == nil {
		t.Fatal("expected invalid seed error")
	}
}
