package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"mioforge/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	solutions   map[string]model.Solution
	coverage    map[string][]model.CoveragePoint
	archives    map[string][]model.ArchiveEntry
	lineage     map[string][]model.LineageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.solutions = make(map[string]model.Solution)
	s.coverage = make(map[string][]model.CoveragePoint)
	s.archives = make(map[string][]model.ArchiveEntry)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	run.Flaky = append([]model.FlakyRecord(nil), run.Flaky...)
	run.Impact = append([]model.OperatorStats(nil), run.Impact...)
	run.Config = append([]byte(nil), run.Config...)
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sortRuns(out)
	return out, nil
}

func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].StartedAt.Equal(runs[j].StartedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
}

func (s *MemoryStore) SaveSolution(_ context.Context, solution model.Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	solution.Tests = append([]model.TestCase(nil), solution.Tests...)
	s.solutions[solution.RunID] = solution
	return nil
}

func (s *MemoryStore) GetSolution(_ context.Context, runID string) (model.Solution, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	solution, ok := s.solutions[runID]
	if !ok {
		return model.Solution{}, false, nil
	}
	solution.Tests = append([]model.TestCase(nil), solution.Tests...)
	return solution, true, nil
}

func (s *MemoryStore) SaveCoverage(_ context.Context, runID string, points []model.CoveragePoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.coverage[runID] = append([]model.CoveragePoint(nil), points...)
	return nil
}

func (s *MemoryStore) GetCoverage(_ context.Context, runID string) ([]model.CoveragePoint, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	points, ok := s.coverage[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.CoveragePoint(nil), points...), true, nil
}

func (s *MemoryStore) SaveArchive(_ context.Context, runID string, entries []model.ArchiveEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	s.archives[runID] = append([]model.ArchiveEntry(nil), entries...)
	return nil
}

func (s *MemoryStore) GetArchive(_ context.Context, runID string) ([]model.ArchiveEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.archives[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.ArchiveEntry(nil), entries...), true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return errNotInitialized
	}

	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	return copied, true, nil
}
