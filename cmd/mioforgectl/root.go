package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"mioforge/pkg/mioforge"
)

type globalFlags struct {
	store        string
	dbPath       string
	artifactsDir string
	exportsDir   string
	logLevel     string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "mioforgectl",
		Short: "Search-based API test generation",
		Long: `mioforgectl drives MIO searches against the built-in services and
inspects the runs they leave behind: the minimized test suite, the archive
of per-target elites and the coverage curve.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.store, "store", "sqlite", "store backend: memory|sqlite")
	flags.StringVar(&g.dbPath, "db-path", "mioforge.db", "sqlite database path")
	flags.StringVar(&g.artifactsDir, "artifacts-dir", "runs", "directory for run artifacts")
	flags.StringVar(&g.exportsDir, "exports-dir", "exports", "directory for exported runs")
	flags.StringVar(&g.logLevel, "log-level", "info", "log level: debug|info|warn|error")

	cmd.AddCommand(
		newRunCmd(g),
		newConfigCmd(),
		newRunsCmd(g),
		newSolutionCmd(g),
		newCoverageCmd(g),
		newArchiveCmd(g),
		newLineageCmd(g),
		newExportCmd(g),
		newExperimentsCmd(g),
		newServicesCmd(g),
	)
	return cmd
}

func (g *globalFlags) logger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(g.logLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func (g *globalFlags) client(cmd *cobra.Command) (*mioforge.Client, error) {
	logger, err := g.logger(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return mioforge.New(mioforge.Options{
		StoreKind:    g.store,
		DBPath:       g.dbPath,
		ArtifactsDir: g.artifactsDir,
		ExportsDir:   g.exportsDir,
		Logger:       logger,
	})
}

// withClient opens a client for one command and closes it afterwards.
func (g *globalFlags) withClient(cmd *cobra.Command, fn func(*mioforge.Client) error) error {
	client, err := g.client(cmd)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	return fn(client)
}

func runRef(runID string, latest bool) mioforge.RunRef {
	if runID == "" && !latest {
		latest = true
	}
	return mioforge.RunRef{RunID: runID, Latest: latest}
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
