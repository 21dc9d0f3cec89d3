// Package mioforge is the public entry point: run searches against the
// built-in services and query persisted runs.
package mioforge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"mioforge/internal/model"
	"mioforge/internal/search"
	"mioforge/internal/stats"
	"mioforge/internal/storage"
	"mioforge/internal/sut"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "mioforge.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
	// Registerer receives search metrics; nil disables them.
	Registerer prometheus.Registerer
	Now        func() time.Time
}

type Client struct {
	store storage.Store

	initOnce sync.Once
	initErr  error

	artifactsDir string
	exportsDir   string
	logger       *slog.Logger
	registerer   prometheus.Registerer
	now          func() time.Time
}

type RunRequest struct {
	Service string
	// Config defaults to search.DefaultConfig when zero. Its Seed is the
	// base seed; replicate i runs with Seed+i.
	Config      search.Config
	Replicates  int
	Parallelism int
}

type RunItem struct {
	RunID        string
	Service      string
	Seed         int64
	StartedAt    time.Time
	StopReason   string
	Evaluations  int
	Actions      int
	Elapsed      time.Duration
	Covered      int
	Known        int
	SolutionSize int
	Flaky        int
}

type RunSummary struct {
	ExperimentID string
	Runs         []RunItem
	ArtifactsDir string
	// Summary aggregates the replicates; it is set for every run.
	Summary stats.Summary
	Impact  []model.OperatorStats
}

type RunsRequest struct {
	Limit   int
	Service string
}

// RunRef selects a run by ID or the most recent one.
type RunRef struct {
	RunID  string
	Latest bool
}

type ExportRequest struct {
	RunRef
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type ServiceItem struct {
	Name        string
	Description string
	Operations  []string
	Targets     int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
		logger:       logger,
		registerer:   opts.Registerer,
		now:          now,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// Init opens the store. Every other method calls it on first use.
func (c *Client) Init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

// Run executes the requested replicates, then persists each run to the store
// and the artifacts directory.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Service == "" {
		return RunSummary{}, errors.New("service is required")
	}
	if _, err := sut.Lookup(req.Service); err != nil {
		return RunSummary{}, err
	}
	req.Service = sut.Normalize(req.Service)
	if req.Replicates <= 0 {
		req.Replicates = 1
	}
	cfg := req.Config
	if cfg == (search.Config{}) {
		cfg = search.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return RunSummary{}, err
	}
	if err := c.Init(ctx); err != nil {
		return RunSummary{}, err
	}

	started := c.now()
	runIDs := make([]string, req.Replicates)
	for i := range runIDs {
		runIDs[i] = newRunID(req.Service, cfg.Seed+int64(i))
	}

	build := func(seed int64) (search.MIOConfig, error) {
		svc, err := sut.Lookup(req.Service)
		if err != nil {
			return search.MIOConfig{}, err
		}
		var metrics *search.Metrics
		if c.registerer != nil {
			metrics, err = search.NewMetrics(c.registerer, prometheus.Labels{"service": req.Service})
			if err != nil {
				return search.MIOConfig{}, err
			}
		}
		runCfg := cfg
		runCfg.Seed = seed
		return search.MIOConfig{
			Config:   runCfg,
			Catalog:  svc.Catalog,
			Executor: svc.Executor,
			Logger:   c.logger.With("run", runIDs[seed-cfg.Seed], "service", req.Service, "seed", seed),
			Metrics:  metrics,
		}, nil
	}
	results, err := search.RunReplicates(ctx, req.Replicates, cfg.Seed, req.Parallelism, build)
	if err != nil {
		return RunSummary{}, err
	}

	summary := RunSummary{ArtifactsDir: c.artifactsDir}
	records := make([]model.RunRecord, 0, len(results))
	archives := make([][]model.ArchiveEntry, 0, len(results))
	for i, res := range results {
		runCfg := cfg
		runCfg.Seed = res.Seed
		a, err := artifacts(runIDs[i], req.Service, started, runCfg, res)
		if err != nil {
			return RunSummary{}, err
		}
		if err := c.persist(ctx, a); err != nil {
			return RunSummary{}, fmt.Errorf("persist run %s: %w", a.Run.ID, err)
		}
		records = append(records, a.Run)
		archives = append(archives, a.Archive)
		summary.Runs = append(summary.Runs, runItem(a.Run))
	}

	for _, op := range search.MergedImpact(results).Operators() {
		summary.Impact = append(summary.Impact, model.OperatorStats{Operator: op.Operator, Tried: op.Tried, Improved: op.Improved})
	}
	summary.Summary, err = stats.Summarize(records, archives)
	if err != nil {
		return RunSummary{}, err
	}
	if req.Replicates > 1 {
		summary.ExperimentID = "exp-" + runIDs[0]
		exp := stats.Experiment{
			ID:             summary.ExperimentID,
			Service:        req.Service,
			BaseSeed:       cfg.Seed,
			RunIDs:         runIDs,
			StartedAtUTC:   started.UTC().Format(time.RFC3339Nano),
			CompletedAtUTC: c.now().UTC().Format(time.RFC3339Nano),
			Summary:        summary.Summary,
		}
		if err := stats.WriteExperiment(c.artifactsDir, exp); err != nil {
			return RunSummary{}, err
		}
	}
	return summary, nil
}

func (c *Client) persist(ctx context.Context, a stats.RunArtifacts) error {
	runID := a.Run.ID
	if err := c.store.SaveRun(ctx, a.Run); err != nil {
		return err
	}
	if err := c.store.SaveSolution(ctx, a.Solution); err != nil {
		return err
	}
	if err := c.store.SaveCoverage(ctx, runID, a.Coverage); err != nil {
		return err
	}
	if err := c.store.SaveArchive(ctx, runID, a.Archive); err != nil {
		return err
	}
	if err := c.store.SaveLineage(ctx, runID, a.Lineage); err != nil {
		return err
	}
	if _, err := stats.WriteRunArtifacts(c.artifactsDir, a); err != nil {
		return err
	}
	return stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(a.Run))
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.Init(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	service := ""
	if req.Service != "" {
		service = sut.Normalize(req.Service)
	}
	out := make([]RunItem, 0, min(len(runs), req.Limit))
	for _, r := range runs {
		if service != "" && r.Service != service {
			continue
		}
		out = append(out, runItem(r))
		if len(out) == req.Limit {
			break
		}
	}
	return out, nil
}

// GetRun loads one persisted run record.
func (c *Client) GetRun(ctx context.Context, ref RunRef) (model.RunRecord, error) {
	runID, err := c.resolve(ctx, ref)
	if err != nil {
		return model.RunRecord{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return model.RunRecord{}, err
	}
	if !ok {
		return model.RunRecord{}, fmt.Errorf("run not found: %s", runID)
	}
	return run, nil
}

func (c *Client) Solution(ctx context.Context, ref RunRef) (model.Solution, error) {
	runID, err := c.resolve(ctx, ref)
	if err != nil {
		return model.Solution{}, err
	}
	solution, ok, err := c.store.GetSolution(ctx, runID)
	if err != nil {
		return model.Solution{}, err
	}
	if !ok {
		return model.Solution{}, fmt.Errorf("solution not found for run id: %s", runID)
	}
	return solution, nil
}

func (c *Client) Coverage(ctx context.Context, ref RunRef) ([]model.CoveragePoint, error) {
	runID, err := c.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	points, ok, err := c.store.GetCoverage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("coverage not found for run id: %s", runID)
	}
	return points, nil
}

func (c *Client) Archive(ctx context.Context, ref RunRef) ([]model.ArchiveEntry, error) {
	runID, err := c.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	entries, ok, err := c.store.GetArchive(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("archive not found for run id: %s", runID)
	}
	return entries, nil
}

func (c *Client) Lineage(ctx context.Context, ref RunRef, limit int) ([]model.LineageRecord, error) {
	if limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if limit > 0 && len(lineage) > limit {
		lineage = lineage[:limit]
	}
	return lineage, nil
}

func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	runID, err := c.resolve(ctx, req.RunRef)
	if err != nil {
		return ExportSummary{}, err
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Experiments(_ context.Context) ([]stats.Experiment, error) {
	return stats.ListExperiments(c.artifactsDir)
}

// Services describes the built-in systems under test.
func (c *Client) Services(ctx context.Context) ([]ServiceItem, error) {
	names := sut.Names()
	out := make([]ServiceItem, 0, len(names))
	for _, name := range names {
		svc, err := sut.Lookup(name)
		if err != nil {
			return nil, err
		}
		targets, err := svc.Executor.KnownTargets(ctx)
		if err != nil {
			return nil, err
		}
		item := ServiceItem{Name: svc.Name, Description: svc.Description, Targets: len(targets)}
		for _, t := range svc.Catalog.Templates() {
			item.Operations = append(item.Operations, t.Name)
		}
		out = append(out, item)
	}
	return out, nil
}

func (c *Client) resolve(ctx context.Context, ref RunRef) (string, error) {
	if ref.RunID != "" && ref.Latest {
		return "", errors.New("use either run id or latest")
	}
	if ref.RunID == "" && !ref.Latest {
		return "", errors.New("run id or latest is required")
	}
	if err := c.Init(ctx); err != nil {
		return "", err
	}
	if ref.RunID != "" {
		return ref.RunID, nil
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[0].ID, nil
}

func runItem(r model.RunRecord) RunItem {
	return RunItem{
		RunID:        r.ID,
		Service:      r.Service,
		Seed:         r.Seed,
		StartedAt:    r.StartedAt,
		StopReason:   r.StopReason,
		Evaluations:  r.Evaluations,
		Actions:      r.Actions,
		Elapsed:      time.Duration(r.ElapsedMS) * time.Millisecond,
		Covered:      r.Covered,
		Known:        r.Known,
		SolutionSize: r.Solution,
		Flaky:        len(r.Flaky),
	}
}

func newRunID(service string, seed int64) string {
	return service + "-" + strconv.FormatInt(seed, 10) + "-" + uuid.NewString()[:8]
}
