// Package gene implements the typed, constrained value tree carried by action
// parameters. A Gene is a closed tagged union: the Kind tells which payload is
// active and every operation (copy, randomize, mutate, validate, export) is an
// exhaustive switch over the payload types declared in this file.
package gene

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"regexp/syntax"
)

type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt
	KindFloat
	KindString
	KindEnum
	KindOptional
	KindArray
	KindObject
	KindChoice
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindEnum:
		return "enum"
	case KindOptional:
		return "optional"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	case KindChoice:
		return "choice"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrInvalidGene  = errors.New("invalid gene")
	ErrKindMismatch = errors.New("gene kind mismatch")
)

const (
	defaultStringMaxLen  = 16
	patternStringMaxLen  = 1024
	constructionAttempts = 64
)

// Gene is one node of a parameter value tree. The zero value is not usable;
// build genes with the New* constructors.
type Gene struct {
	name string
	v    payload
}

type payload interface {
	kind() Kind
}

type boolPayload struct {
	value bool
}

type intPayload struct {
	value, min, max int64
}

type floatPayload struct {
	value, min, max float64
}

type stringPayload struct {
	value string
	c     *stringConstraint
}

type enumPayload struct {
	options []string
	index   int
}

type optionalPayload struct {
	inner   *Gene
	present bool
}

type arrayPayload struct {
	template *Gene
	items    []*Gene
	min, max int
}

type objectPayload struct {
	fields []*Gene
}

type choicePayload struct {
	alternatives []*Gene
	active       int
}

func (*boolPayload) kind() Kind     { return KindBool }
func (*intPayload) kind() Kind      { return KindInt }
func (*floatPayload) kind() Kind    { return KindFloat }
func (*stringPayload) kind() Kind   { return KindString }
func (*enumPayload) kind() Kind     { return KindEnum }
func (*optionalPayload) kind() Kind { return KindOptional }
func (*arrayPayload) kind() Kind    { return KindArray }
func (*objectPayload) kind() Kind   { return KindObject }
func (*choicePayload) kind() Kind   { return KindChoice }

// stringConstraint is immutable once built and may be shared by copies.
type stringConstraint struct {
	minLen  int
	maxLen  int
	pattern string
	re      *regexp.Regexp
	syntax  *syntax.Regexp
}

// StringOptions declares the constraints of a string gene. Format names a
// built-in pattern (date, date-time, uuid, email, ipv4) and is mutually
// exclusive with Pattern. A zero MaxLen selects a default bound.
type StringOptions struct {
	MinLen  int
	MaxLen  int
	Pattern string
	Format  string
}

var formatPatterns = map[string]string{
	"date":      `[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|1[0-9]|2[0-8])`,
	"date-time": `[0-9]{4}-(0[1-9]|1[0-2])-(0[1-9]|1[0-9]|2[0-8])T([01][0-9]|2[0-3]):[0-5][0-9]:[0-5][0-9]Z`,
	"uuid":      `[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}`,
	"email":     `[a-z][a-z0-9]{0,9}@[a-z]{2,8}\.(com|org|net)`,
	"ipv4":      `(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])(\.(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])){3}`,
}

func invalid(name, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrInvalidGene, name, fmt.Sprintf(format, args...))
}

// Must panics on a construction error. It is meant for static catalogs and
// tests where the constraints are literals.
func Must(g *Gene, err error) *Gene {
	if err != nil {
		panic(err)
	}
	return g
}

func NewBool(name string, value bool) *Gene {
	return &Gene{name: name, v: &boolPayload{value: value}}
}

func NewInt(name string, min, max int64) (*Gene, error) {
	if min > max {
		return nil, invalid(name, "min %d > max %d", min, max)
	}
	return &Gene{name: name, v: &intPayload{value: clamp(0, min, max), min: min, max: max}}, nil
}

func NewFloat(name string, min, max float64) (*Gene, error) {
	if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
		return nil, invalid(name, "bounds must be finite")
	}
	if min > max {
		return nil, invalid(name, "min %g > max %g", min, max)
	}
	return &Gene{name: name, v: &floatPayload{value: clamp(0, min, max), min: min, max: max}}, nil
}

func NewString(name string, opts StringOptions) (*Gene, error) {
	c, err := newStringConstraint(name, opts)
	if err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < constructionAttempts; i++ {
		candidate, ok := c.generate(rng)
		if ok {
			return &Gene{name: name, v: &stringPayload{value: candidate, c: c}}, nil
		}
	}
	return nil, invalid(name, "pattern %q cannot produce a string of length [%d,%d]", c.pattern, c.minLen, c.maxLen)
}

func newStringConstraint(name string, opts StringOptions) (*stringConstraint, error) {
	if opts.MinLen < 0 || opts.MaxLen < 0 {
		return nil, invalid(name, "length bounds must be >= 0")
	}
	pattern := opts.Pattern
	if opts.Format != "" {
		if pattern != "" {
			return nil, invalid(name, "format and pattern are mutually exclusive")
		}
		p, ok := formatPatterns[opts.Format]
		if !ok {
			return nil, invalid(name, "unknown format %q", opts.Format)
		}
		pattern = p
	}
	maxLen := opts.MaxLen
	if maxLen == 0 {
		maxLen = defaultStringMaxLen
		if pattern != "" {
			maxLen = patternStringMaxLen
		}
		if maxLen < opts.MinLen {
			maxLen = opts.MinLen
		}
	}
	if opts.MinLen > maxLen {
		return nil, invalid(name, "min length %d > max length %d", opts.MinLen, maxLen)
	}
	c := &stringConstraint{minLen: opts.MinLen, maxLen: maxLen, pattern: pattern}
	if pattern == "" {
		return c, nil
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, invalid(name, "pattern: %v", err)
	}
	parsed, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return nil, invalid(name, "pattern: %v", err)
	}
	c.re = re
	c.syntax = parsed.Simplify()
	return c, nil
}

func NewEnum(name string, options ...string) (*Gene, error) {
	if len(options) == 0 {
		return nil, invalid(name, "enum requires at least one option")
	}
	seen := make(map[string]struct{}, len(options))
	for _, opt := range options {
		if _, dup := seen[opt]; dup {
			return nil, invalid(name, "duplicate enum option %q", opt)
		}
		seen[opt] = struct{}{}
	}
	return &Gene{name: name, v: &enumPayload{options: append([]string(nil), options...)}}, nil
}

// NewOptional wraps inner; the wrapper takes ownership of inner.
func NewOptional(name string, inner *Gene) (*Gene, error) {
	if inner == nil {
		return nil, invalid(name, "optional requires an inner gene")
	}
	return &Gene{name: name, v: &optionalPayload{inner: inner, present: true}}, nil
}

// NewArray builds an array holding min copies of template. The array takes
// ownership of template and never exposes it as an element.
func NewArray(name string, template *Gene, min, max int) (*Gene, error) {
	if template == nil {
		return nil, invalid(name, "array requires an element template")
	}
	if min < 0 || min > max {
		return nil, invalid(name, "item bounds [%d,%d] are invalid", min, max)
	}
	items := make([]*Gene, 0, min)
	for i := 0; i < min; i++ {
		items = append(items, template.Copy())
	}
	return &Gene{name: name, v: &arrayPayload{template: template, items: items, min: min, max: max}}, nil
}

func NewObject(name string, fields ...*Gene) (*Gene, error) {
	seen := make(map[string]struct{}, len(fields))
	for i, f := range fields {
		if f == nil {
			return nil, invalid(name, "field %d is nil", i)
		}
		if _, dup := seen[f.name]; dup {
			return nil, invalid(name, "duplicate field %q", f.name)
		}
		seen[f.name] = struct{}{}
	}
	return &Gene{name: name, v: &objectPayload{fields: append([]*Gene(nil), fields...)}}, nil
}

func NewChoice(name string, alternatives ...*Gene) (*Gene, error) {
	if len(alternatives) == 0 {
		return nil, invalid(name, "choice requires at least one alternative")
	}
	for i, alt := range alternatives {
		if alt == nil {
			return nil, invalid(name, "alternative %d is nil", i)
		}
	}
	return &Gene{name: name, v: &choicePayload{alternatives: append([]*Gene(nil), alternatives...)}}, nil
}

func (g *Gene) Name() string { return g.name }

func (g *Gene) Kind() Kind { return g.v.kind() }

// Copy returns a deep, reference-distinct clone. Immutable constraint data
// (enum options, compiled patterns) is shared.
func (g *Gene) Copy() *Gene {
	if g == nil {
		return nil
	}
	out := &Gene{name: g.name}
	switch p := g.v.(type) {
	case *boolPayload:
		cp := *p
		out.v = &cp
	case *intPayload:
		cp := *p
		out.v = &cp
	case *floatPayload:
		cp := *p
		out.v = &cp
	case *stringPayload:
		cp := *p
		out.v = &cp
	case *enumPayload:
		cp := *p
		out.v = &cp
	case *optionalPayload:
		out.v = &optionalPayload{inner: p.inner.Copy(), present: p.present}
	case *arrayPayload:
		out.v = &arrayPayload{template: p.template.Copy(), items: copyGenes(p.items), min: p.min, max: p.max}
	case *objectPayload:
		out.v = &objectPayload{fields: copyGenes(p.fields)}
	case *choicePayload:
		out.v = &choicePayload{alternatives: copyGenes(p.alternatives), active: p.active}
	default:
		panic(fmt.Sprintf("gene: unhandled payload %T", g.v))
	}
	return out
}

func copyGenes(in []*Gene) []*Gene {
	out := make([]*Gene, len(in))
	for i, g := range in {
		out[i] = g.Copy()
	}
	return out
}

func (g *Gene) SetBool(v bool) error {
	p, ok := g.v.(*boolPayload)
	if !ok {
		return g.mismatch(KindBool)
	}
	p.value = v
	return nil
}

func (g *Gene) SetInt(v int64) error {
	p, ok := g.v.(*intPayload)
	if !ok {
		return g.mismatch(KindInt)
	}
	if v < p.min || v > p.max {
		return invalid(g.name, "value %d outside [%d,%d]", v, p.min, p.max)
	}
	p.value = v
	return nil
}

func (g *Gene) SetFloat(v float64) error {
	p, ok := g.v.(*floatPayload)
	if !ok {
		return g.mismatch(KindFloat)
	}
	if math.IsNaN(v) || v < p.min || v > p.max {
		return invalid(g.name, "value %g outside [%g,%g]", v, p.min, p.max)
	}
	p.value = v
	return nil
}

func (g *Gene) SetString(v string) error {
	p, ok := g.v.(*stringPayload)
	if !ok {
		return g.mismatch(KindString)
	}
	if !p.c.accepts(v) {
		return invalid(g.name, "value %q violates string constraints", v)
	}
	p.value = v
	return nil
}

func (g *Gene) SetEnum(option string) error {
	p, ok := g.v.(*enumPayload)
	if !ok {
		return g.mismatch(KindEnum)
	}
	for i, opt := range p.options {
		if opt == option {
			p.index = i
			return nil
		}
	}
	return invalid(g.name, "unknown enum option %q", option)
}

func (g *Gene) SetPresent(present bool) error {
	p, ok := g.v.(*optionalPayload)
	if !ok {
		return g.mismatch(KindOptional)
	}
	p.present = present
	return nil
}

// Select activates the alternative at index i of a choice gene.
func (g *Gene) Select(i int) error {
	p, ok := g.v.(*choicePayload)
	if !ok {
		return g.mismatch(KindChoice)
	}
	if i < 0 || i >= len(p.alternatives) {
		return invalid(g.name, "alternative %d out of range", i)
	}
	p.active = i
	return nil
}

// Append adds a copy of the element template to an array gene and returns it.
func (g *Gene) Append() (*Gene, error) {
	p, ok := g.v.(*arrayPayload)
	if !ok {
		return nil, g.mismatch(KindArray)
	}
	if len(p.items) >= p.max {
		return nil, invalid(g.name, "array already holds max %d items", p.max)
	}
	item := p.template.Copy()
	p.items = append(p.items, item)
	return item, nil
}

// Field returns the object field with the given name.
func (g *Gene) Field(name string) (*Gene, bool) {
	p, ok := g.v.(*objectPayload)
	if !ok {
		return nil, false
	}
	for _, f := range p.fields {
		if f.name == name {
			return f, true
		}
	}
	return nil, false
}

func (g *Gene) mismatch(want Kind) error {
	return fmt.Errorf("%w: %q is %s, want %s", ErrKindMismatch, g.name, g.Kind(), want)
}
