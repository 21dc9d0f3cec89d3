package gene

import (
	"fmt"
	"math"
)

// Validate re-checks every declared constraint of g and its active children.
func (g *Gene) Validate() error {
	if g == nil || g.v == nil {
		return fmt.Errorf("%w: nil gene", ErrInvalidGene)
	}
	switch p := g.v.(type) {
	case *boolPayload:
		return nil
	case *intPayload:
		if p.min > p.max || p.value < p.min || p.value > p.max {
			return invalid(g.name, "value %d outside [%d,%d]", p.value, p.min, p.max)
		}
	case *floatPayload:
		if math.IsNaN(p.value) || p.value < p.min || p.value > p.max {
			return invalid(g.name, "value %g outside [%g,%g]", p.value, p.min, p.max)
		}
	case *stringPayload:
		if !p.c.accepts(p.value) {
			return invalid(g.name, "value %q violates string constraints", p.value)
		}
	case *enumPayload:
		if p.index < 0 || p.index >= len(p.options) {
			return invalid(g.name, "enum index %d out of range", p.index)
		}
	case *optionalPayload:
		return p.inner.Validate()
	case *arrayPayload:
		if len(p.items) < p.min || len(p.items) > p.max {
			return invalid(g.name, "array holds %d items, want [%d,%d]", len(p.items), p.min, p.max)
		}
		for _, item := range p.items {
			if item.Kind() != p.template.Kind() {
				return invalid(g.name, "array item is %s, want %s", item.Kind(), p.template.Kind())
			}
			if err := item.Validate(); err != nil {
				return err
			}
		}
	case *objectPayload:
		for _, f := range p.fields {
			if err := f.Validate(); err != nil {
				return err
			}
		}
	case *choicePayload:
		if p.active < 0 || p.active >= len(p.alternatives) {
			return invalid(g.name, "active alternative %d out of range", p.active)
		}
		return p.alternatives[p.active].Validate()
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", g.v))
	}
	return nil
}

func (g *Gene) IsLocallyValid() bool {
	return g.Validate() == nil
}

// Equal reports value equality of two trees, names included.
func Equal(a, b *Gene) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.name != b.name || a.Kind() != b.Kind() {
		return false
	}
	switch pa := a.v.(type) {
	case *boolPayload:
		return pa.value == b.v.(*boolPayload).value
	case *intPayload:
		pb := b.v.(*intPayload)
		return *pa == *pb
	case *floatPayload:
		pb := b.v.(*floatPayload)
		return *pa == *pb
	case *stringPayload:
		pb := b.v.(*stringPayload)
		return pa.value == pb.value && pa.c.pattern == pb.c.pattern &&
			pa.c.minLen == pb.c.minLen && pa.c.maxLen == pb.c.maxLen
	case *enumPayload:
		pb := b.v.(*enumPayload)
		return pa.options[pa.index] == pb.options[pb.index]
	case *optionalPayload:
		pb := b.v.(*optionalPayload)
		return pa.present == pb.present && Equal(pa.inner, pb.inner)
	case *arrayPayload:
		pb := b.v.(*arrayPayload)
		return pa.min == pb.min && pa.max == pb.max && equalAll(pa.items, pb.items)
	case *objectPayload:
		return equalAll(pa.fields, b.v.(*objectPayload).fields)
	case *choicePayload:
		pb := b.v.(*choicePayload)
		return pa.active == pb.active && equalAll(pa.alternatives, pb.alternatives)
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", a.v))
	}
}

func equalAll(a, b []*Gene) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Value exports the gene as plain Go data: bool, int64, float64, string,
// nil for an absent optional, []any for arrays and map[string]any for objects.
func (g *Gene) Value() any {
	switch p := g.v.(type) {
	case *boolPayload:
		return p.value
	case *intPayload:
		return p.value
	case *floatPayload:
		return p.value
	case *stringPayload:
		return p.value
	case *enumPayload:
		return p.options[p.index]
	case *optionalPayload:
		if !p.present {
			return nil
		}
		return p.inner.Value()
	case *arrayPayload:
		out := make([]any, len(p.items))
		for i, item := range p.items {
			out[i] = item.Value()
		}
		return out
	case *objectPayload:
		out := make(map[string]any, len(p.fields))
		for _, f := range p.fields {
			out[f.name] = f.Value()
		}
		return out
	case *choicePayload:
		return p.alternatives[p.active].Value()
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", g.v))
	}
}

// Children returns the active children in stable order: the inner value of a
// present optional, array items, object fields, the active alternative of a
// choice. The returned indexes are valid arguments to Child.
func (g *Gene) Children() ([]int, []*Gene) {
	switch p := g.v.(type) {
	case *boolPayload, *intPayload, *floatPayload, *stringPayload, *enumPayload:
		return nil, nil
	case *optionalPayload:
		if !p.present {
			return nil, nil
		}
		return []int{0}, []*Gene{p.inner}
	case *arrayPayload:
		idx := make([]int, len(p.items))
		for i := range idx {
			idx[i] = i
		}
		return idx, append([]*Gene(nil), p.items...)
	case *objectPayload:
		idx := make([]int, len(p.fields))
		for i := range idx {
			idx[i] = i
		}
		return idx, append([]*Gene(nil), p.fields...)
	case *choicePayload:
		return []int{p.active}, []*Gene{p.alternatives[p.active]}
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", g.v))
	}
}

// Child resolves one path step; see Children for index meaning.
func (g *Gene) Child(i int) (*Gene, bool) {
	switch p := g.v.(type) {
	case *optionalPayload:
		return p.inner, i == 0
	case *arrayPayload:
		if i < 0 || i >= len(p.items) {
			return nil, false
		}
		return p.items[i], true
	case *objectPayload:
		if i < 0 || i >= len(p.fields) {
			return nil, false
		}
		return p.fields[i], true
	case *choicePayload:
		if i < 0 || i >= len(p.alternatives) {
			return nil, false
		}
		return p.alternatives[i], true
	default:
		return nil, false
	}
}

// Segment names the step into child i for stable element keys. Array items
// share one segment so a key stays stable when items are added or removed.
func (g *Gene) Segment(i int) string {
	switch p := g.v.(type) {
	case *optionalPayload:
		return "?"
	case *arrayPayload:
		return "[]"
	case *objectPayload:
		if i >= 0 && i < len(p.fields) {
			return "." + p.fields[i].name
		}
	case *choicePayload:
		if i >= 0 && i < len(p.alternatives) {
			return "|" + p.alternatives[i].name
		}
	}
	return fmt.Sprintf("#%d", i)
}

// Walk visits g and its active descendants depth-first. The path passed to fn
// is relative to g and must not be retained.
func (g *Gene) Walk(fn func(path []int, key string, node *Gene)) {
	g.walk(nil, "", fn)
}

func (g *Gene) walk(path []int, key string, fn func([]int, string, *Gene)) {
	fn(path, key, g)
	idx, children := g.Children()
	for n, child := range children {
		child.walk(append(path, idx[n]), key+g.Segment(idx[n]), fn)
	}
}

// Owns reports whether node is g or one of its descendants, active or not.
func (g *Gene) Owns(node *Gene) bool {
	found := false
	g.each(func(x *Gene) {
		if x == node {
			found = true
		}
	})
	return found
}

// each visits every node including templates and inactive alternatives.
func (g *Gene) each(fn func(*Gene)) {
	fn(g)
	switch p := g.v.(type) {
	case *optionalPayload:
		p.inner.each(fn)
	case *arrayPayload:
		p.template.each(fn)
		for _, item := range p.items {
			item.each(fn)
		}
	case *objectPayload:
		for _, f := range p.fields {
			f.each(fn)
		}
	case *choicePayload:
		for _, alt := range p.alternatives {
			alt.each(fn)
		}
	}
}

// Nodes collects every node pointer of the tree, including templates.
func (g *Gene) Nodes() []*Gene {
	var out []*Gene
	g.each(func(x *Gene) { out = append(out, x) })
	return out
}
