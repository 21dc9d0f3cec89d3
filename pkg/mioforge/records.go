package mioforge

import (
	"encoding/json"
	"sort"
	"time"

	"mioforge/internal/archive"
	"mioforge/internal/fitness"
	"mioforge/internal/model"
	"mioforge/internal/search"
	"mioforge/internal/stats"
	"mioforge/internal/storage"
)

// artifacts converts a finished run into its persistent records.
func artifacts(runID, service string, started time.Time, cfg search.Config, res search.RunResult) (stats.RunArtifacts, error) {
	rawConfig, err := json.Marshal(cfg)
	if err != nil {
		return stats.RunArtifacts{}, err
	}

	run := model.RunRecord{
		VersionedRecord: storage.Stamp(),
		ID:              runID,
		Service:         service,
		Seed:            res.Seed,
		StartedAt:       started.UTC(),
		StopReason:      string(res.StopReason),
		Mutator:         string(cfg.MutatorMode),
		Evaluations:     res.Evaluations,
		Actions:         res.Actions,
		Discards:        res.Discards,
		ElapsedMS:       res.Elapsed.Milliseconds(),
		Covered:         len(res.Archive.Covered()),
		Known:           len(res.Archive.Targets()),
		Solution:        len(res.Solution),
		Config:          rawConfig,
	}
	for _, f := range res.Flaky {
		run.Flaky = append(run.Flaky, model.FlakyRecord{IndividualID: f.IndividualID, Targets: targetStrings(f.Targets)})
	}
	for _, op := range res.Impact.Operators() {
		run.Impact = append(run.Impact, model.OperatorStats{Operator: op.Operator, Tried: op.Tried, Improved: op.Improved})
	}

	solution := model.Solution{VersionedRecord: storage.Stamp(), RunID: runID, Tests: make([]model.TestCase, 0, len(res.Solution))}
	for _, e := range res.Solution {
		solution.Tests = append(solution.Tests, testCase(e))
	}

	coverage := make([]model.CoveragePoint, 0, len(res.Coverage))
	for _, p := range res.Coverage {
		coverage = append(coverage, model.CoveragePoint{
			Evaluation: p.Evaluation,
			Actions:    p.Actions,
			ElapsedMS:  p.Elapsed.Milliseconds(),
			Covered:    p.Covered,
			Known:      p.Known,
		})
	}

	lineage := make([]model.LineageRecord, 0, len(res.Lineage))
	for _, l := range res.Lineage {
		lineage = append(lineage, model.LineageRecord{
			VersionedRecord: storage.Stamp(),
			IndividualID:    l.IndividualID,
			ParentID:        l.ParentID,
			Evaluation:      l.Evaluation,
			Provenance:      string(l.Provenance),
			Operation:       l.Operation,
			Improved:        targetStrings(l.Improved),
		})
	}

	return stats.RunArtifacts{
		Run:      run,
		Coverage: coverage,
		Solution: solution,
		Archive:  archiveEntries(res.Archive),
		Lineage:  lineage,
	}, nil
}

func testCase(e *fitness.EvaluatedIndividual) model.TestCase {
	ind := e.Individual
	tc := model.TestCase{
		IndividualID: ind.ID,
		ParentID:     ind.ParentID,
		Provenance:   string(ind.Provenance),
		Operation:    ind.Operation,
		Evaluation:   e.Index,
		Actions:      make([]model.ActionRecord, 0, len(ind.Actions)),
		Covers:       targetStrings(e.Fitness.Covered()),
		Scores:       make(map[string]float64, len(e.Fitness.Scores)),
		Exceptions:   append([]string(nil), e.Fitness.Exceptions...),
	}
	for i, a := range ind.Actions {
		rec := model.ActionRecord{Name: a.Name, Params: a.Values()}
		if i < len(e.Fitness.Outcomes) {
			rec.Status = e.Fitness.Outcomes[i].Status
			rec.Executed = e.Fitness.Outcomes[i].Executed
		}
		tc.Actions = append(tc.Actions, rec)
	}
	for t, s := range e.Fitness.Scores {
		tc.Scores[string(t)] = s
	}
	return tc
}

func archiveEntries(a *archive.Archive) []model.ArchiveEntry {
	entries := a.Entries()
	out := make([]model.ArchiveEntry, 0, len(entries))
	for _, e := range entries {
		rec := model.ArchiveEntry{Target: string(e.Target), Score: e.Score, TimesSampled: e.TimesSampled}
		if e.Best != nil {
			rec.IndividualID = e.Best.Individual.ID
			rec.Size = e.Best.Size()
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

func targetStrings(ts []fitness.TargetID) []string {
	if len(ts) == 0 {
		return nil
	}
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = string(t)
	}
	return out
}
