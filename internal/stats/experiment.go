package stats

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"mioforge/internal/model"
)

const experimentsDir = "experiments"

// Experiment groups the replicate runs of one invocation.
type Experiment struct {
	ID             string   `json:"id"`
	Service        string   `json:"service"`
	BaseSeed       int64    `json:"base_seed"`
	RunIDs         []string `json:"run_ids"`
	StartedAtUTC   string   `json:"started_at_utc,omitempty"`
	CompletedAtUTC string   `json:"completed_at_utc,omitempty"`
	Summary        Summary  `json:"summary"`
}

type Spread struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

type TargetRate struct {
	Target string  `json:"target"`
	Rate   float64 `json:"rate"`
}

type Summary struct {
	Runs             int          `json:"runs"`
	Covered          Spread       `json:"covered"`
	CoverageRatio    Spread       `json:"coverage_ratio"`
	Evaluations      Spread       `json:"evaluations"`
	SolutionSize     Spread       `json:"solution_size"`
	FullCoverageRate float64      `json:"full_coverage_rate"`
	Targets          []TargetRate `json:"targets,omitempty"`
}

func spread(values []float64) Spread {
	if len(values) == 0 {
		return Spread{}
	}
	mean, std := stat.MeanStdDev(values, nil)
	if len(values) == 1 {
		std = 0
	}
	return Spread{Mean: mean, Std: std, Min: floats.Min(values), Max: floats.Max(values)}
}

// Summarize aggregates replicate runs. archives, when given, must be aligned
// with runs and yields the per-target coverage rate.
func Summarize(runs []model.RunRecord, archives [][]model.ArchiveEntry) (Summary, error) {
	if archives != nil && len(archives) != len(runs) {
		return Summary{}, fmt.Errorf("archives must match runs: got %d want %d", len(archives), len(runs))
	}
	s := Summary{Runs: len(runs)}
	if len(runs) == 0 {
		return s, nil
	}

	covered := make([]float64, len(runs))
	ratio := make([]float64, len(runs))
	evals := make([]float64, len(runs))
	sizes := make([]float64, len(runs))
	full := 0
	for i, r := range runs {
		covered[i] = float64(r.Covered)
		if r.Known > 0 {
			ratio[i] = float64(r.Covered) / float64(r.Known)
		}
		evals[i] = float64(r.Evaluations)
		sizes[i] = float64(r.Solution)
		if r.Known > 0 && r.Covered == r.Known {
			full++
		}
	}
	s.Covered = spread(covered)
	s.CoverageRatio = spread(ratio)
	s.Evaluations = spread(evals)
	s.SolutionSize = spread(sizes)
	s.FullCoverageRate = float64(full) / float64(len(runs))

	if archives != nil {
		hits := map[string]int{}
		for _, entries := range archives {
			for _, e := range entries {
				if _, ok := hits[e.Target]; !ok {
					hits[e.Target] = 0
				}
				if e.Score >= 1 {
					hits[e.Target]++
				}
			}
		}
		for target, n := range hits {
			s.Targets = append(s.Targets, TargetRate{Target: target, Rate: float64(n) / float64(len(runs))})
		}
		sort.Slice(s.Targets, func(i, j int) bool {
			if s.Targets[i].Rate == s.Targets[j].Rate {
				return s.Targets[i].Target < s.Targets[j].Target
			}
			return s.Targets[i].Rate < s.Targets[j].Rate
		})
	}
	return s, nil
}

func WriteExperiment(baseDir string, exp Experiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}
	dir := filepath.Join(baseDir, experimentsDir, exp.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(dir, summaryFile), exp)
}

func ReadExperiment(baseDir, id string) (Experiment, bool, error) {
	if id == "" {
		return Experiment{}, false, fmt.Errorf("experiment id is required")
	}
	var exp Experiment
	ok, err := readJSON(filepath.Join(baseDir, experimentsDir, id, summaryFile), &exp)
	return exp, ok, err
}

func ListExperiments(baseDir string) ([]Experiment, error) {
	root := filepath.Join(baseDir, experimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []Experiment{}, nil
		}
		return nil, err
	}

	exps := make([]Experiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}
