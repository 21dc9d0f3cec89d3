package main

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mioforge/internal/config"
	"mioforge/pkg/mioforge"
)

type runFlags struct {
	configPath     string
	service        string
	seed           int64
	replicates     int
	parallelism    int
	evaluations    int
	actions        int
	timeBudget     time.Duration
	mutator        string
	stopAllCovered bool
	flakyCheck     bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a search against a service",
		Long: `Run loads the optional YAML run file, applies any flags given on the
command line on top of it, and runs one search per replicate. Replicate i
uses seed+i.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			file, err := f.resolve(cmd, g)
			if err != nil {
				return err
			}
			logger, err := g.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			client, err := mioforge.New(mioforge.Options{
				StoreKind:    file.Store.Kind,
				DBPath:       file.Store.Path,
				ArtifactsDir: file.ArtifactsDir,
				ExportsDir:   g.exportsDir,
				Logger:       logger,
			})
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			summary, err := client.Run(cmd.Context(), mioforge.RunRequest{
				Service:     file.Service,
				Config:      file.SearchConfig(),
				Replicates:  file.Replicates,
				Parallelism: file.Parallelism,
			})
			if err != nil {
				return err
			}
			for _, r := range summary.Runs {
				printf(cmd, "run completed run_id=%s service=%s seed=%d stop=%s evaluations=%s actions=%s elapsed=%s covered=%d/%d solution=%d flaky=%d\n",
					r.RunID, r.Service, r.Seed, r.StopReason,
					humanize.Comma(int64(r.Evaluations)), humanize.Comma(int64(r.Actions)),
					r.Elapsed.Round(time.Millisecond), r.Covered, r.Known, r.SolutionSize, r.Flaky)
			}
			if summary.ExperimentID != "" {
				s := summary.Summary
				printf(cmd, "experiment id=%s runs=%d covered_mean=%.2f covered_std=%.2f full_coverage_rate=%.2f solution_mean=%.2f\n",
					summary.ExperimentID, s.Runs, s.Covered.Mean, s.Covered.Std, s.FullCoverageRate, s.SolutionSize.Mean)
			}
			for _, op := range summary.Impact {
				printf(cmd, "operator=%s tried=%d improved=%d\n", op.Operator, op.Tried, op.Improved)
			}
			printf(cmd, "artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "YAML run file")
	fl.StringVarP(&f.service, "service", "s", "", "service to test (see services)")
	fl.Int64Var(&f.seed, "seed", 1, "base random seed")
	fl.IntVar(&f.replicates, "replicates", 1, "independent runs with consecutive seeds")
	fl.IntVarP(&f.parallelism, "parallel", "p", 0, "replicates run concurrently, 0 means all")
	fl.IntVar(&f.evaluations, "evaluations", 0, "evaluation budget, -1 for unlimited")
	fl.IntVar(&f.actions, "actions", 0, "action budget, -1 for unlimited")
	fl.DurationVar(&f.timeBudget, "time", 0, "wall-clock budget, -1ns for unlimited")
	fl.StringVar(&f.mutator, "mutator", "", "mutator mode: random|adaptive|mixed")
	fl.BoolVar(&f.stopAllCovered, "stop-when-covered", false, "stop once every known target is covered")
	fl.BoolVar(&f.flakyCheck, "flaky-check", false, "re-run newly covering individuals to detect flaky targets")
	return cmd
}

// resolve layers defaults, the run file and explicitly set flags, in that
// order.
func (f *runFlags) resolve(cmd *cobra.Command, g *globalFlags) (config.File, error) {
	file := config.Default()
	file.Store = config.Store{Kind: g.store, Path: g.dbPath}
	file.ArtifactsDir = g.artifactsDir
	file.LogLevel = g.logLevel
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.File{}, err
		}
		file = loaded
		if file.ArtifactsDir == "" {
			file.ArtifactsDir = g.artifactsDir
		}
	}

	root := cmd.Root().PersistentFlags()
	if root.Changed("store") || root.Changed("db-path") || f.configPath == "" {
		file.Store = config.Store{Kind: g.store, Path: g.dbPath}
	}
	if root.Changed("artifacts-dir") {
		file.ArtifactsDir = g.artifactsDir
	}
	if root.Changed("log-level") {
		file.LogLevel = g.logLevel
	}
	if file.Store.Kind == "memory" {
		file.Store.Path = ""
	}

	fl := cmd.Flags()
	if fl.Changed("service") {
		file.Service = strings.TrimSpace(f.service)
	}
	if fl.Changed("seed") {
		file.Seed = f.seed
	}
	if fl.Changed("replicates") {
		file.Replicates = f.replicates
	}
	if fl.Changed("parallel") {
		file.Parallelism = f.parallelism
	}
	if fl.Changed("evaluations") {
		file.Budget.Evaluations = config.Limit(f.evaluations)
	}
	if fl.Changed("actions") {
		file.Budget.Actions = config.Limit(f.actions)
	}
	if fl.Changed("time") {
		file.Budget.Time = config.Duration(f.timeBudget)
	}
	if fl.Changed("mutator") {
		file.Mutation.Mode = f.mutator
	}
	if fl.Changed("stop-when-covered") {
		file.Budget.StopWhenAllCovered = f.stopAllCovered
	}
	if fl.Changed("flaky-check") {
		file.Execution.FlakyCheck = f.flakyCheck
	}
	if err := file.Validate(); err != nil {
		return config.File{}, err
	}
	g.logLevel = file.LogLevel
	return file, nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the default run file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.Default().Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
