package gene

import (
	"fmt"
	"math/rand"
	"unicode/utf8"
)

const (
	arrayRandomExtra      = 4
	stringEditAttempts    = 8
	toggleOptionalPercent = 30
	switchChoicePercent   = 30
)

// Randomize replaces the gene's value with a fresh draw from its domain. The
// result is always locally valid.
func (g *Gene) Randomize(rng *rand.Rand) {
	switch p := g.v.(type) {
	case *boolPayload:
		p.value = rng.Intn(2) == 1
	case *intPayload:
		p.value = randInt(rng, p.min, p.max)
	case *floatPayload:
		p.value = randFloat(rng, p.min, p.max)
	case *stringPayload:
		for i := 0; i < constructionAttempts; i++ {
			if candidate, ok := p.c.generate(rng); ok {
				p.value = candidate
				return
			}
		}
	case *enumPayload:
		p.index = rng.Intn(len(p.options))
	case *optionalPayload:
		p.present = rng.Intn(2) == 1
		p.inner.Randomize(rng)
	case *arrayPayload:
		hi := min(p.max, p.min+arrayRandomExtra)
		n := p.min + rng.Intn(hi-p.min+1)
		p.items = p.items[:0]
		for i := 0; i < n; i++ {
			item := p.template.Copy()
			item.Randomize(rng)
			p.items = append(p.items, item)
		}
	case *objectPayload:
		for _, f := range p.fields {
			f.Randomize(rng)
		}
	case *choicePayload:
		p.active = rng.Intn(len(p.alternatives))
		p.alternatives[p.active].Randomize(rng)
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", g.v))
	}
}

// Mutate perturbs the current value. Leaf genes take a small step or a fresh
// draw; composite genes change their shape or recurse into exactly one child.
// Strength in (0,1] scales numeric step sizes. The gene stays locally valid.
func (g *Gene) Mutate(rng *rand.Rand, strength float64) {
	switch p := g.v.(type) {
	case *boolPayload:
		p.value = !p.value
	case *intPayload:
		if rng.Float64() < resampleProbability {
			p.value = randInt(rng, p.min, p.max)
			return
		}
		p.value = walkInt(rng, p.value, p.min, p.max, strength)
	case *floatPayload:
		if rng.Float64() < resampleProbability {
			p.value = randFloat(rng, p.min, p.max)
			return
		}
		p.value = walkFloat(rng, p.value, p.min, p.max, strength)
	case *stringPayload:
		p.mutate(rng)
	case *enumPayload:
		if len(p.options) < 2 {
			return
		}
		next := rng.Intn(len(p.options) - 1)
		if next >= p.index {
			next++
		}
		p.index = next
	case *optionalPayload:
		if !p.present || rng.Intn(100) < toggleOptionalPercent {
			p.present = !p.present
			return
		}
		p.inner.Mutate(rng, strength)
	case *arrayPayload:
		p.mutate(rng, strength)
	case *objectPayload:
		if len(p.fields) == 0 {
			return
		}
		p.fields[rng.Intn(len(p.fields))].Mutate(rng, strength)
	case *choicePayload:
		if len(p.alternatives) > 1 && rng.Intn(100) < switchChoicePercent {
			next := rng.Intn(len(p.alternatives) - 1)
			if next >= p.active {
				next++
			}
			p.active = next
			p.alternatives[next].Randomize(rng)
			return
		}
		p.alternatives[p.active].Mutate(rng, strength)
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", g.v))
	}
}

func (p *stringPayload) mutate(rng *rand.Rand) {
	if p.c.syntax != nil && rng.Intn(2) == 0 {
		for i := 0; i < stringEditAttempts; i++ {
			if candidate, ok := p.c.generate(rng); ok && candidate != p.value {
				p.value = candidate
				return
			}
		}
	}
	for i := 0; i < stringEditAttempts; i++ {
		candidate := editString(rng, p.value, p.c)
		if candidate != p.value && p.c.accepts(candidate) {
			p.value = candidate
			return
		}
	}
	for i := 0; i < constructionAttempts; i++ {
		if candidate, ok := p.c.generate(rng); ok {
			p.value = candidate
			return
		}
	}
}

// editString applies one character-level edit: replace, insert, delete or a
// length change toward a random length within the bounds.
func editString(rng *rand.Rand, s string, c *stringConstraint) string {
	runes := []rune(s)
	switch rng.Intn(4) {
	case 0:
		if len(runes) == 0 {
			return string(randPrintable(rng))
		}
		runes[rng.Intn(len(runes))] = randPrintable(rng)
	case 1:
		at := rng.Intn(len(runes) + 1)
		runes = append(runes[:at], append([]rune{randPrintable(rng)}, runes[at:]...)...)
	case 2:
		if len(runes) == 0 {
			return s
		}
		at := rng.Intn(len(runes))
		runes = append(runes[:at], runes[at+1:]...)
	default:
		target := c.minLen + rng.Intn(c.maxLen-c.minLen+1)
		for len(runes) < target {
			runes = append(runes, randPrintable(rng))
		}
		runes = runes[:target]
	}
	if !utf8.ValidString(string(runes)) {
		return s
	}
	return string(runes)
}

func (p *arrayPayload) mutate(rng *rand.Rand, strength float64) {
	type op int
	const (
		opAdd op = iota
		opRemove
		opElement
	)
	ops := make([]op, 0, 3)
	if len(p.items) < p.max {
		ops = append(ops, opAdd)
	}
	if len(p.items) > p.min {
		ops = append(ops, opRemove)
	}
	if len(p.items) > 0 {
		ops = append(ops, opElement)
	}
	if len(ops) == 0 {
		return
	}
	switch ops[rng.Intn(len(ops))] {
	case opAdd:
		item := p.template.Copy()
		item.Randomize(rng)
		at := rng.Intn(len(p.items) + 1)
		p.items = append(p.items[:at], append([]*Gene{item}, p.items[at:]...)...)
	case opRemove:
		at := rng.Intn(len(p.items))
		p.items = append(p.items[:at], p.items[at+1:]...)
	case opElement:
		p.items[rng.Intn(len(p.items))].Mutate(rng, strength)
	}
}
