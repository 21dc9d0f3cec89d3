package individual

import (
	"errors"
	"math/rand"
	"testing"

	"mioforge/internal/gene"
)

func petAction(name string, creates, requires []string) *Action {
	body := gene.Must(gene.NewObject("body",
		gene.Must(gene.NewInt("id", 0, 100)),
		gene.Must(gene.NewArray("tags", gene.Must(gene.NewString("tag", gene.StringOptions{MaxLen: 4})), 1, 3)),
	))
	return &Action{
		Name:     name,
		Params:   []Param{{Name: "body", Gene: body}, {Name: "verbose", Gene: gene.NewBool("verbose", false)}},
		Creates:  creates,
		Requires: requires,
	}
}

func TestCopyIsDeepAndDisjoint(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	ind := New(rng, ProvenanceSampled, petAction("createPet", []string{"pet"}, nil), petAction("getPet", nil, []string{"pet"}))

	cp := ind.Copy()
	if err := CheckDisjoint(ind, cp); err != nil {
		t.Fatalf("copy shares genes: %v", err)
	}
	if cp.ID != ind.ID || cp.Size() != ind.Size() {
		t.Fatalf("copy lost identity or actions: %+v", cp)
	}
	for i := range ind.Actions {
		for j := range ind.Actions[i].Params {
			if !gene.Equal(ind.Actions[i].Params[j].Gene, cp.Actions[i].Params[j].Gene) {
				t.Fatalf("param %d/%d differs after copy", i, j)
			}
		}
	}

	cp.Actions[0].Creates[0] = "other"
	if ind.Actions[0].Creates[0] != "pet" {
		t.Fatal("copy shares Creates slice")
	}
}

func TestCheckDisjointDetectsSharedGene(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	a := New(rng, ProvenanceSampled, petAction("createPet", nil, nil))
	b := New(rng, ProvenanceSampled, &Action{Name: "leak", Params: []Param{a.Actions[0].Params[0]}})
	if err := CheckDisjoint(a, b); !errors.Is(err, ErrSharedGene) {
		t.Fatalf("expected ErrSharedGene, got %v", err)
	}
}

func TestDeriveSetsLineage(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	parent := New(rng, ProvenanceSampled, petAction("createPet", nil, nil))
	child := parent.Derive(rng, "value")
	if child.ID == parent.ID || child.ParentID != parent.ID {
		t.Fatalf("unexpected lineage: parent=%s child=%s parentOf=%s", parent.ID, child.ID, child.ParentID)
	}
	if child.Provenance != ProvenanceMutated || child.Operation != "value" {
		t.Fatalf("unexpected provenance %s/%s", child.Provenance, child.Operation)
	}
}

func TestNewIDFollowsSeed(t *testing.T) {
	a := NewID(rand.New(rand.NewSource(9)))
	b := NewID(rand.New(rand.NewSource(9)))
	if a != b {
		t.Fatalf("ids differ for equal seeds: %s vs %s", a, b)
	}
}

func TestSeeGenesResolvesEveryPath(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	ind := New(rng, ProvenanceSampled, petAction("createPet", nil, nil), petAction("updatePet", nil, nil))
	refs := ind.SeeGenes()
	if len(refs) == 0 {
		t.Fatal("no genes")
	}
	for _, ref := range refs {
		got, err := ind.Resolve(ref.Path)
		if err != nil {
			t.Fatalf("resolve %s: %v", ref.Path, err)
		}
		if got != ref.Gene {
			t.Fatalf("path %s resolves to a different node", ref.Path)
		}
	}
	if refs[0].Key != "createPet.body" {
		t.Fatalf("unexpected first key %q", refs[0].Key)
	}
	if _, err := ind.Resolve(GenePath{Action: 5}); !errors.Is(err, ErrUnresolvedPath) {
		t.Fatalf("expected ErrUnresolvedPath, got %v", err)
	}
}

func TestElementKeysStableAcrossStructuralEdits(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	ind := New(rng, ProvenanceSampled, petAction("createPet", nil, nil))
	before := keys(ind)
	if err := ind.InsertAction(0, petAction("deletePet", nil, nil)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	after := keys(ind)
	for k := range before {
		if _, ok := after[k]; !ok {
			t.Fatalf("key %s lost after insertion", k)
		}
	}
}

func keys(ind *Individual) map[ElementKey]struct{} {
	out := map[ElementKey]struct{}{}
	for _, ref := range ind.SeeGenes() {
		out[ref.Key] = struct{}{}
	}
	return out
}

func TestStructuralEditsValidateIndexes(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	ind := New(rng, ProvenanceSampled, petAction("a", nil, nil), petAction("b", nil, nil))
	if err := ind.SwapAdjacent(0); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if ind.Actions[0].Name != "b" || ind.Actions[1].Name != "a" {
		t.Fatalf("swap produced %s,%s", ind.Actions[0].Name, ind.Actions[1].Name)
	}
	if err := ind.SwapAdjacent(1); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if err := ind.RemoveAction(2); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if err := ind.InsertAction(3, petAction("c", nil, nil)); !errors.Is(err, ErrInvalidIndex) {
		t.Fatalf("expected ErrInvalidIndex, got %v", err)
	}
	if err := ind.RemoveAction(0); err != nil || ind.Size() != 1 {
		t.Fatalf("remove: %v size=%d", err, ind.Size())
	}
}

func TestDependencyViolations(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	ind := New(rng, ProvenanceSampled,
		petAction("getPet", nil, []string{"pet"}),
		petAction("createPet", []string{"pet"}, nil),
		petAction("getPet", nil, []string{"pet"}),
	)
	v := ind.DependencyViolations()
	if len(v) != 1 || v[0].Action != 0 || v[0].Resource != "pet" {
		t.Fatalf("unexpected violations %+v", v)
	}
	if err := ind.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
	if err := ind.SwapAdjacent(0); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if err := ind.Validate(); err != nil {
		t.Fatalf("validate after reorder: %v", err)
	}
}

func TestValidateRejectsSharedNodeWithinIndividual(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	a := petAction("createPet", nil, nil)
	b := &Action{Name: "dup", Params: []Param{a.Params[1]}}
	ind := New(rng, ProvenanceSampled, a, b)
	if err := ind.Validate(); !errors.Is(err, ErrSharedGene) {
		t.Fatalf("expected ErrSharedGene, got %v", err)
	}
}

func TestValuesExportsParams(t *testing.T) {
	a := petAction("createPet", nil, nil)
	v := a.Values()
	if v["verbose"] != false {
		t.Fatalf("unexpected verbose %v", v["verbose"])
	}
	if _, ok := v["body"].(map[string]any); !ok {
		t.Fatalf("body not exported as object: %T", v["body"])
	}
}
