package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"mioforge/pkg/mioforge"
)

type refFlags struct {
	runID  string
	latest bool
}

func (r *refFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.runID, "run-id", "", "run id")
	cmd.Flags().BoolVar(&r.latest, "latest", false, "use the most recent run (default when --run-id is empty)")
}

func (r *refFlags) ref() mioforge.RunRef { return runRef(r.runID, r.latest) }

func newTable(cmd *cobra.Command, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetAutoWrapText(false)
	return table
}

func newRunsCmd(g *globalFlags) *cobra.Command {
	var req mioforge.RunsRequest
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				runs, err := client.Runs(cmd.Context(), req)
				if err != nil {
					return err
				}
				if len(runs) == 0 {
					printf(cmd, "no runs found\n")
					return nil
				}
				table := newTable(cmd, "Run", "Service", "Seed", "Started", "Stop", "Evals", "Covered", "Solution")
				for _, r := range runs {
					table.Append([]string{
						r.RunID,
						r.Service,
						fmt.Sprintf("%d", r.Seed),
						humanize.Time(r.StartedAt),
						r.StopReason,
						humanize.Comma(int64(r.Evaluations)),
						fmt.Sprintf("%d/%d", r.Covered, r.Known),
						fmt.Sprintf("%d", r.SolutionSize),
					})
				}
				table.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&req.Limit, "limit", 20, "maximum runs to list")
	cmd.Flags().StringVar(&req.Service, "service", "", "only list runs of this service")
	return cmd
}

func newSolutionCmd(g *globalFlags) *cobra.Command {
	var ref refFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "solution",
		Short: "Show the minimized test suite of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				solution, err := client.Solution(cmd.Context(), ref.ref())
				if err != nil {
					return err
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(solution)
				}
				printf(cmd, "run_id=%s tests=%d\n", solution.RunID, len(solution.Tests))
				for i, tc := range solution.Tests {
					printf(cmd, "test=%d individual_id=%s provenance=%s evaluation=%d covers=%s\n",
						i+1, tc.IndividualID, tc.Provenance, tc.Evaluation, strings.Join(tc.Covers, ","))
					for _, a := range tc.Actions {
						printf(cmd, "  %s %s status=%d\n", a.Name, formatParams(a.Params), a.Status)
					}
				}
				return nil
			})
		},
	}
	ref.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the solution as JSON")
	return cmd
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}

func newCoverageCmd(g *globalFlags) *cobra.Command {
	var ref refFlags
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Show the coverage curve of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				points, err := client.Coverage(cmd.Context(), ref.ref())
				if err != nil {
					return err
				}
				for _, p := range points {
					printf(cmd, "evaluation=%d actions=%d elapsed=%s covered=%d known=%d\n",
						p.Evaluation, p.Actions, time.Duration(p.ElapsedMS)*time.Millisecond, p.Covered, p.Known)
				}
				return nil
			})
		},
	}
	ref.register(cmd)
	return cmd
}

func newArchiveCmd(g *globalFlags) *cobra.Command {
	var ref refFlags
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Show the per-target elites of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				entries, err := client.Archive(cmd.Context(), ref.ref())
				if err != nil {
					return err
				}
				table := newTable(cmd, "Target", "Score", "Individual", "Size", "Sampled")
				for _, e := range entries {
					table.Append([]string{
						e.Target,
						fmt.Sprintf("%.4f", e.Score),
						e.IndividualID,
						fmt.Sprintf("%d", e.Size),
						fmt.Sprintf("%d", e.TimesSampled),
					})
				}
				table.Render()
				return nil
			})
		},
	}
	ref.register(cmd)
	return cmd
}

func newLineageCmd(g *globalFlags) *cobra.Command {
	var ref refFlags
	var limit int
	var improvedOnly bool
	cmd := &cobra.Command{
		Use:   "lineage",
		Short: "Show where evaluated individuals came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				records, err := client.Lineage(cmd.Context(), ref.ref(), 0)
				if err != nil {
					return err
				}
				shown := 0
				for _, r := range records {
					if improvedOnly && len(r.Improved) == 0 {
						continue
					}
					if limit > 0 && shown == limit {
						break
					}
					shown++
					printf(cmd, "evaluation=%d individual_id=%s parent_id=%s provenance=%s op=%s improved=%s\n",
						r.Evaluation, r.IndividualID, r.ParentID, r.Provenance, r.Operation, strings.Join(r.Improved, ","))
				}
				if shown == 0 {
					printf(cmd, "no lineage records\n")
				}
				return nil
			})
		},
	}
	ref.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records, 0 for all")
	cmd.Flags().BoolVar(&improvedOnly, "improved", false, "only show evaluations that improved the archive")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var ref refFlags
	var outDir string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy the artifacts of a run to the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				exported, err := client.Export(cmd.Context(), mioforge.ExportRequest{RunRef: ref.ref(), OutDir: outDir})
				if err != nil {
					return err
				}
				printf(cmd, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
				return nil
			})
		},
	}
	ref.register(cmd)
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (defaults to --exports-dir)")
	return cmd
}

func newExperimentsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "experiments",
		Short: "List replicate experiments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				experiments, err := client.Experiments(cmd.Context())
				if err != nil {
					return err
				}
				if len(experiments) == 0 {
					printf(cmd, "no experiments found\n")
					return nil
				}
				for _, e := range experiments {
					s := e.Summary
					printf(cmd, "experiment id=%s service=%s base_seed=%d runs=%d covered_mean=%.2f covered_min=%.0f covered_max=%.0f full_coverage_rate=%.2f\n",
						e.ID, e.Service, e.BaseSeed, s.Runs, s.Covered.Mean, s.Covered.Min, s.Covered.Max, s.FullCoverageRate)
				}
				return nil
			})
		},
	}
}

func newServicesCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List the built-in services",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return g.withClient(cmd, func(client *mioforge.Client) error {
				services, err := client.Services(cmd.Context())
				if err != nil {
					return err
				}
				table := newTable(cmd, "Service", "Targets", "Operations", "Description")
				for _, s := range services {
					table.Append([]string{s.Name, fmt.Sprintf("%d", s.Targets), strings.Join(s.Operations, " "), s.Description})
				}
				table.Render()
				return nil
			})
		},
	}
}
