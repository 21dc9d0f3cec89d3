package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"mioforge/internal/model"
)

const (
	runIndexFile  = "run_index.json"
	coverageFile  = "coverage.csv"
	runFile       = "run.json"
	configFile    = "config.json"
	solutionFile  = "solution.json"
	archiveFile   = "archive.json"
	lineageFile   = "lineage.json"
	summaryFile   = "summary.json"
	coverageShape = 5
)

type RunArtifacts struct {
	Run      model.RunRecord
	Coverage []model.CoveragePoint
	Solution model.Solution
	Archive  []model.ArchiveEntry
	Lineage  []model.LineageRecord
}

type RunIndexEntry struct {
	RunID        string `json:"run_id"`
	Service      string `json:"service"`
	Seed         int64  `json:"seed"`
	StopReason   string `json:"stop_reason"`
	Evaluations  int    `json:"evaluations"`
	Covered      int    `json:"covered"`
	Known        int    `json:"known"`
	Solution     int    `json:"solution_size"`
	CreatedAtUTC string `json:"created_at_utc"`
}

func IndexEntry(run model.RunRecord) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.ID,
		Service:      run.Service,
		Seed:         run.Seed,
		StopReason:   run.StopReason,
		Evaluations:  run.Evaluations,
		Covered:      run.Covered,
		Known:        run.Known,
		Solution:     run.Solution,
		CreatedAtUTC: run.StartedAt.UTC().Format(time.RFC3339Nano),
	}
}

// WriteRunArtifacts lays out one run under baseDir/<run id> and returns that
// directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if len(artifacts.Run.Config) > 0 {
		if err := writeJSON(filepath.Join(runDir, configFile), artifacts.Run.Config); err != nil {
			return "", err
		}
	}
	if err := writeJSON(filepath.Join(runDir, runFile), artifacts.Run); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, solutionFile), artifacts.Solution); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, archiveFile), artifacts.Archive); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, lineageFile), artifacts.Lineage); err != nil {
		return "", err
	}
	if err := WriteCoverageSeries(runDir, artifacts.Coverage); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir. config.json is copied
// only when present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{runFile, solutionFile, archiveFile, lineageFile, coverageFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	configPath := filepath.Join(src, configFile)
	if _, err := os.Stat(configPath); err == nil {
		if err := copyFile(configPath, filepath.Join(dst, configFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRun(baseDir, runID string) (model.RunRecord, bool, error) {
	var run model.RunRecord
	ok, err := readJSON(filepath.Join(baseDir, runID, runFile), &run)
	return run, ok, err
}

func ReadSolution(baseDir, runID string) (model.Solution, bool, error) {
	var solution model.Solution
	ok, err := readJSON(filepath.Join(baseDir, runID, solutionFile), &solution)
	return solution, ok, err
}

func WriteCoverageSeries(runDir string, points []model.CoveragePoint) error {
	path := filepath.Join(runDir, coverageFile)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"evaluation", "actions", "elapsed_ms", "covered", "known"}); err != nil {
		return err
	}
	for _, p := range points {
		if err := writer.Write([]string{
			strconv.Itoa(p.Evaluation),
			strconv.Itoa(p.Actions),
			strconv.FormatInt(p.ElapsedMS, 10),
			strconv.Itoa(p.Covered),
			strconv.Itoa(p.Known),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadCoverageSeries(baseDir, runID string) ([]model.CoveragePoint, bool, error) {
	path := filepath.Join(baseDir, runID, coverageFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []model.CoveragePoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < coverageShape {
		return nil, false, fmt.Errorf("coverage header must have %d columns", coverageShape)
	}

	points := make([]model.CoveragePoint, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		values := make([]int64, coverageShape)
		for i := range values {
			values[i], err = strconv.ParseInt(record[i], 10, 64)
			if err != nil {
				return nil, false, fmt.Errorf("coverage row %d column %s: %w", len(points)+1, header[i], err)
			}
		}
		points = append(points, model.CoveragePoint{
			Evaluation: int(values[0]),
			Actions:    int(values[1]),
			ElapsedMS:  values[2],
			Covered:    int(values[3]),
			Known:      int(values[4]),
		})
	}
	return points, true, nil
}

func readJSON(path string, into any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, into); err != nil {
		return false, err
	}
	return true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
