// Package mutator derives offspring from archive elites by value-level and
// structural mutation.
package mutator

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"mioforge/internal/catalog"
	"mioforge/internal/individual"
)

var ErrMutationExhausted = errors.New("mutation attempts exhausted")

const (
	DefaultStructuralProbability = 0.1
	DefaultMaxAttempts           = 10
	DefaultStrength              = 0.5
)

type Result struct {
	Offspring *individual.Individual
	Operator  string
	Touched   []individual.ElementKey
}

// Mutator never modifies parent. The returned stats record the attempt.
type Mutator interface {
	Name() string
	Mutate(rng *rand.Rand, parent *individual.Individual, stats ImpactStats) (Result, ImpactStats, error)
}

type Config struct {
	Catalog               catalog.Catalog
	MaxActions            int
	StructuralProbability float64
	MaxAttempts           int
	Strength              float64
	Operators             []Operator
}

func (c Config) withDefaults() (Config, error) {
	if c.Catalog == nil {
		return c, fmt.Errorf("catalog is required")
	}
	if c.MaxActions <= 0 {
		return c, fmt.Errorf("max actions must be > 0")
	}
	if c.StructuralProbability < 0 || c.StructuralProbability > 1 || math.IsNaN(c.StructuralProbability) {
		return c, fmt.Errorf("structural probability must be in [0,1]")
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Strength <= 0 || c.Strength > 1 {
		c.Strength = DefaultStrength
	}
	if len(c.Operators) == 0 {
		c.Operators = DefaultOperators()
	}
	hasValue := false
	for _, op := range c.Operators {
		if !op.Structural() {
			hasValue = true
		}
	}
	if !hasValue {
		return c, fmt.Errorf("at least one value operator is required")
	}
	return c, nil
}

type engine struct {
	cfg      Config
	adaptive bool
	name     string
}

func newEngine(cfg Config, adaptive bool, name string) (*engine, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &engine{cfg: cfg, adaptive: adaptive, name: name}, nil
}

func (m *engine) Name() string { return m.name }

func (m *engine) Mutate(rng *rand.Rand, parent *individual.Individual, stats ImpactStats) (Result, ImpactStats, error) {
	e := env{
		catalog:    m.cfg.Catalog,
		maxActions: m.cfg.MaxActions,
		strength:   m.cfg.Strength,
		stats:      stats,
		adaptive:   m.adaptive,
	}
	var lastErr error
	for attempt := 0; attempt < m.cfg.MaxAttempts; attempt++ {
		op, ok := m.selectOperator(rng, parent, e)
		if !ok {
			return Result{}, stats, ErrNoMutationChoice
		}
		offspring := parent.Derive(rng, op.Name())
		touched, err := op.Apply(rng, offspring, e)
		if err != nil {
			lastErr = err
			continue
		}
		if !catalog.Repair(offspring, m.cfg.Catalog, rng, m.cfg.MaxActions) {
			lastErr = fmt.Errorf("%s: dependencies cannot be repaired", op.Name())
			continue
		}
		if err := offspring.Validate(); err != nil {
			lastErr = err
			continue
		}
		return Result{Offspring: offspring, Operator: op.Name(), Touched: touched}, stats.Attempt(op.Name(), touched), nil
	}
	return Result{}, stats, fmt.Errorf("%w after %d attempts: %v", ErrMutationExhausted, m.cfg.MaxAttempts, lastErr)
}

// selectOperator draws structural mutation with the configured probability
// when a structural operator applies, value mutation otherwise.
func (m *engine) selectOperator(rng *rand.Rand, ind *individual.Individual, e env) (Operator, bool) {
	var structural, value []Operator
	for _, op := range m.cfg.Operators {
		if !op.Applicable(ind, e) {
			continue
		}
		if op.Structural() {
			structural = append(structural, op)
		} else {
			value = append(value, op)
		}
	}
	pool := value
	if len(structural) > 0 && (len(value) == 0 || rng.Float64() < m.cfg.StructuralProbability) {
		pool = structural
	}
	if len(pool) == 0 {
		return nil, false
	}
	if !m.adaptive || len(pool) == 1 {
		return pool[rng.Intn(len(pool))], true
	}
	weights := make([]float64, len(pool))
	for i, op := range pool {
		weights[i] = e.stats.Operator(op.Name()).Weight()
	}
	return pool[weightedIndex(rng, weights)], true
}

// NewAdaptive weights elements and operators by their recorded impact.
func NewAdaptive(cfg Config) (Mutator, error) {
	return newEngine(cfg, true, "adaptive")
}

// NewRandom picks operators and elements uniformly; it ignores stats.
func NewRandom(cfg Config) (Mutator, error) {
	return newEngine(cfg, false, "random")
}

type Mode string

const (
	ModeAdaptive Mode = "adaptive"
	ModeRandom   Mode = "random"
	ModeMixed    Mode = "mixed"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeAdaptive, ModeRandom, ModeMixed:
		return Mode(s), nil
	case "":
		return ModeAdaptive, nil
	default:
		return "", fmt.Errorf("unknown mutator mode %q", s)
	}
}

// Combined delegates to Adaptive or Random by Mode. In ModeMixed each call
// picks Adaptive with probability AdaptiveRatio.
type Combined struct {
	Mode          Mode
	AdaptiveRatio float64
	Adaptive      Mutator
	Random        Mutator
}

func NewCombined(cfg Config, mode Mode, adaptiveRatio float64) (*Combined, error) {
	if adaptiveRatio < 0 || adaptiveRatio > 1 || math.IsNaN(adaptiveRatio) {
		return nil, fmt.Errorf("adaptive ratio must be in [0,1]")
	}
	adaptive, err := NewAdaptive(cfg)
	if err != nil {
		return nil, err
	}
	random, err := NewRandom(cfg)
	if err != nil {
		return nil, err
	}
	return &Combined{Mode: mode, AdaptiveRatio: adaptiveRatio, Adaptive: adaptive, Random: random}, nil
}

func (c *Combined) Name() string { return "combined:" + string(c.Mode) }

func (c *Combined) Mutate(rng *rand.Rand, parent *individual.Individual, stats ImpactStats) (Result, ImpactStats, error) {
	switch c.Mode {
	case ModeRandom:
		return c.Random.Mutate(rng, parent, stats)
	case ModeMixed:
		if rng.Float64() < c.AdaptiveRatio {
			return c.Adaptive.Mutate(rng, parent, stats)
		}
		return c.Random.Mutate(rng, parent, stats)
	default:
		return c.Adaptive.Mutate(rng, parent, stats)
	}
}

// weightedIndex draws i with probability weights[i]/sum using prefix sums.
func weightedIndex(rng *rand.Rand, weights []float64) int {
	prefix := make([]float64, len(weights))
	total := 0.0
	for i, w := range weights {
		if w > 0 && !math.IsInf(w, 0) {
			total += w
		}
		prefix[i] = total
	}
	if total <= 0 {
		return rng.Intn(len(weights))
	}
	x := total * rng.Float64()
	i := sort.Search(len(prefix), func(i int) bool { return prefix[i] > x })
	return min(i, len(weights)-1)
}
