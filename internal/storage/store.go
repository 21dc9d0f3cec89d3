package storage

import (
	"context"

	"mioforge/internal/model"
)

// Store persists finished search runs and their artifacts, keyed by run ID.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns runs newest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveSolution(ctx context.Context, solution model.Solution) error
	GetSolution(ctx context.Context, runID string) (model.Solution, bool, error)
	SaveCoverage(ctx context.Context, runID string, points []model.CoveragePoint) error
	GetCoverage(ctx context.Context, runID string) ([]model.CoveragePoint, bool, error)
	SaveArchive(ctx context.Context, runID string, entries []model.ArchiveEntry) error
	GetArchive(ctx context.Context, runID string) ([]model.ArchiveEntry, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}
