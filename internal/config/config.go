// Package config loads YAML run files and maps them onto search.Config.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"mioforge/internal/mutator"
	"mioforge/internal/search"
)

const unlimited = "unlimited"

// Limit is a count budget that also accepts "unlimited".
type Limit int

func (l *Limit) UnmarshalYAML(n *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(n.Value), unlimited) {
		*l = search.Unlimited
		return nil
	}
	v, err := strconv.Atoi(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a count or %q", n.Line, n.Value, unlimited)
	}
	*l = Limit(v)
	return nil
}

func (l Limit) MarshalYAML() (any, error) {
	if l == search.Unlimited {
		return unlimited, nil
	}
	return int(l), nil
}

// Duration is a Go duration string, or "unlimited".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if strings.EqualFold(strings.TrimSpace(n.Value), unlimited) {
		*d = search.Unlimited
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	if d == search.Unlimited {
		return unlimited, nil
	}
	return time.Duration(d).String(), nil
}

type Budget struct {
	Time               Duration `yaml:"time"`
	Actions            Limit    `yaml:"actions"`
	Evaluations        Limit    `yaml:"evaluations"`
	StopWhenAllCovered bool     `yaml:"stop_when_all_covered"`
}

type Search struct {
	FreshSampleProbability float64 `yaml:"fresh_sample_probability"`
	FocusedPhaseStart      float64 `yaml:"focused_phase_start"`
	MaxActions             int     `yaml:"max_actions"`
}

type Mutation struct {
	Mode                  string  `yaml:"mode"`
	AdaptiveRatio         float64 `yaml:"adaptive_ratio"`
	StructuralProbability float64 `yaml:"structural_probability"`
	Attempts              int     `yaml:"attempts"`
	Strength              float64 `yaml:"strength"`
}

type Execution struct {
	PerCallTimeout         Duration `yaml:"per_call_timeout"`
	Retries                int      `yaml:"retries"`
	FlakyCheck             bool     `yaml:"flaky_check"`
	MaxConsecutiveDiscards int      `yaml:"max_consecutive_discards"`
}

type Store struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path,omitempty"`
}

// File is the on-disk run configuration.
type File struct {
	Service      string    `yaml:"service"`
	Seed         int64     `yaml:"seed"`
	Replicates   int       `yaml:"replicates"`
	Parallelism  int       `yaml:"parallelism"`
	Budget       Budget    `yaml:"budget"`
	Search       Search    `yaml:"search"`
	Mutation     Mutation  `yaml:"mutation"`
	Execution    Execution `yaml:"execution"`
	Store        Store     `yaml:"store"`
	ArtifactsDir string    `yaml:"artifacts_dir,omitempty"`
	LogLevel     string    `yaml:"log_level"`
}

func Default() File {
	d := search.DefaultConfig()
	return File{
		Service:    "petstore",
		Seed:       d.Seed,
		Replicates: 1,
		Budget: Budget{
			Time:        Duration(d.TimeBudget),
			Actions:     Limit(d.MaxActionEvaluations),
			Evaluations: Limit(d.MaxEvaluations),
		},
		Search: Search{
			FreshSampleProbability: d.FreshSampleProbability,
			FocusedPhaseStart:      d.FocusedPhaseStart,
			MaxActions:             d.MaxActions,
		},
		Mutation: Mutation{
			Mode:                  string(d.MutatorMode),
			AdaptiveRatio:         d.AdaptiveRatio,
			StructuralProbability: d.StructuralProbability,
			Attempts:              d.MutationAttempts,
			Strength:              d.MutationStrength,
		},
		Execution: Execution{
			PerCallTimeout:         Duration(d.PerCallTimeout),
			Retries:                d.Retries,
			MaxConsecutiveDiscards: d.MaxConsecutiveDiscards,
		},
		Store:    Store{Kind: "memory"},
		LogLevel: "info",
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, err
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte) (File, error) {
	f := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, err
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

func (f File) Marshal() ([]byte, error) {
	return yaml.Marshal(f)
}

func (f File) Validate() error {
	if strings.TrimSpace(f.Service) == "" {
		return fmt.Errorf("service is required")
	}
	if f.Replicates <= 0 {
		return fmt.Errorf("replicates must be > 0")
	}
	if f.Parallelism < 0 {
		return fmt.Errorf("parallelism must be >= 0")
	}
	switch f.Store.Kind {
	case "", "memory":
	case "sqlite":
		if f.Store.Path == "" {
			return fmt.Errorf("store path is required for sqlite")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", f.Store.Kind)
	}
	if _, err := f.Level(); err != nil {
		return err
	}
	return f.SearchConfig().Validate()
}

func (f File) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(f.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func (f File) SearchConfig() search.Config {
	return search.Config{
		Seed:                   f.Seed,
		TimeBudget:             time.Duration(f.Budget.Time),
		MaxActionEvaluations:   int(f.Budget.Actions),
		MaxEvaluations:         int(f.Budget.Evaluations),
		StopWhenAllCovered:     f.Budget.StopWhenAllCovered,
		FreshSampleProbability: f.Search.FreshSampleProbability,
		FocusedPhaseStart:      f.Search.FocusedPhaseStart,
		MaxActions:             f.Search.MaxActions,
		StructuralProbability:  f.Mutation.StructuralProbability,
		MutationAttempts:       f.Mutation.Attempts,
		MutationStrength:       f.Mutation.Strength,
		MutatorMode:            mutator.Mode(f.Mutation.Mode),
		AdaptiveRatio:          f.Mutation.AdaptiveRatio,
		PerCallTimeout:         time.Duration(f.Execution.PerCallTimeout),
		Retries:                f.Execution.Retries,
		FlakyCheck:             f.Execution.FlakyCheck,
		MaxConsecutiveDiscards: f.Execution.MaxConsecutiveDiscards,
	}
}
