package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"mioforge/internal/model"
)

func TestDecodeRunFixture(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "run_v1.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	run, err := DecodeRun(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.ID != "run-fixture-1" || run.Service != "numberguess" || run.Seed != 7 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if len(run.Impact) != 2 || run.Impact[0].Operator != "value" || run.Impact[0].Improved != 41 {
		t.Fatalf("unexpected impact: %+v", run.Impact)
	}
	if string(run.Config) != `{"seed": 7, "max_evaluations": 5000}` {
		t.Fatalf("config not kept verbatim: %s", run.Config)
	}
}

func TestDecodeSolutionRejectsOldSchema(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "solution_v0.json"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	if _, err := DecodeSolution(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestLineageRoundTripChecksEveryRecord(t *testing.T) {
	records := []model.LineageRecord{
		{VersionedRecord: Stamp(), IndividualID: "a", Provenance: "sampled"},
		{VersionedRecord: Stamp(), IndividualID: "b", ParentID: "a", Provenance: "mutated", Operation: "value", Improved: []string{"t1"}},
	}
	data, err := EncodeLineage(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLineage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != 2 || decoded[1].ParentID != "a" || decoded[1].Improved[0] != "t1" {
		t.Fatalf("unexpected lineage: %+v", decoded)
	}

	records[1].CodecVersion = 99
	data, err = EncodeLineage(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeLineage(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}
