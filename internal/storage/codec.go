package storage

import (
	"encoding/json"
	"errors"

	"mioforge/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// Stamp returns the version header written by this build.
func Stamp() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

func EncodeRun(r model.RunRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRun(data []byte) (model.RunRecord, error) {
	var run model.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return model.RunRecord{}, err
	}
	if err := checkVersion(run.VersionedRecord); err != nil {
		return model.RunRecord{}, err
	}
	return run, nil
}

func EncodeSolution(s model.Solution) ([]byte, error) {
	return json.Marshal(s)
}

func DecodeSolution(data []byte) (model.Solution, error) {
	var solution model.Solution
	if err := json.Unmarshal(data, &solution); err != nil {
		return model.Solution{}, err
	}
	if err := checkVersion(solution.VersionedRecord); err != nil {
		return model.Solution{}, err
	}
	return solution, nil
}

func EncodeLineage(records []model.LineageRecord) ([]byte, error) {
	return json.Marshal(records)
}

func DecodeLineage(data []byte) ([]model.LineageRecord, error) {
	var records []model.LineageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	for _, record := range records {
		if err := checkVersion(record.VersionedRecord); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func EncodeCoverage(points []model.CoveragePoint) ([]byte, error) {
	return json.Marshal(points)
}

func DecodeCoverage(data []byte) ([]model.CoveragePoint, error) {
	var points []model.CoveragePoint
	if err := json.Unmarshal(data, &points); err != nil {
		return nil, err
	}
	return points, nil
}

func EncodeArchive(entries []model.ArchiveEntry) ([]byte, error) {
	return json.Marshal(entries)
}

func DecodeArchive(data []byte) ([]model.ArchiveEntry, error) {
	var entries []model.ArchiveEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
