package model

import (
	"encoding/json"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type RunRecord struct {
	VersionedRecord
	ID          string          `json:"id"`
	Service     string          `json:"service"`
	Seed        int64           `json:"seed"`
	StartedAt   time.Time       `json:"started_at"`
	StopReason  string          `json:"stop_reason"`
	Mutator     string          `json:"mutator"`
	Evaluations int             `json:"evaluations"`
	Actions     int             `json:"actions"`
	Discards    int             `json:"discards"`
	ElapsedMS   int64           `json:"elapsed_ms"`
	Covered     int             `json:"covered"`
	Known       int             `json:"known"`
	Solution    int             `json:"solution_size"`
	Flaky       []FlakyRecord   `json:"flaky,omitempty"`
	Impact      []OperatorStats `json:"impact,omitempty"`
	Config      json.RawMessage `json:"config,omitempty"`
}

type FlakyRecord struct {
	IndividualID string   `json:"individual_id"`
	Targets      []string `json:"targets"`
}

type OperatorStats struct {
	Operator string `json:"operator"`
	Tried    int    `json:"tried"`
	Improved int    `json:"improved"`
}

type ActionRecord struct {
	Name     string         `json:"name"`
	Params   map[string]any `json:"params"`
	Status   int            `json:"status,omitempty"`
	Executed bool           `json:"executed"`
}

// TestCase is one solution individual rendered as a replayable call
// sequence.
type TestCase struct {
	IndividualID string             `json:"individual_id"`
	ParentID     string             `json:"parent_id,omitempty"`
	Provenance   string             `json:"provenance"`
	Operation    string             `json:"operation,omitempty"`
	Evaluation   int                `json:"evaluation"`
	Actions      []ActionRecord     `json:"actions"`
	Covers       []string           `json:"covers"`
	Scores       map[string]float64 `json:"scores"`
	Exceptions   []string           `json:"exceptions,omitempty"`
}

type Solution struct {
	VersionedRecord
	RunID string     `json:"run_id"`
	Tests []TestCase `json:"tests"`
}

type CoveragePoint struct {
	Evaluation int   `json:"evaluation"`
	Actions    int   `json:"actions"`
	ElapsedMS  int64 `json:"elapsed_ms"`
	Covered    int   `json:"covered"`
	Known      int   `json:"known"`
}

type ArchiveEntry struct {
	Target       string  `json:"target"`
	Score        float64 `json:"score"`
	IndividualID string  `json:"individual_id,omitempty"`
	Size         int     `json:"size,omitempty"`
	TimesSampled int     `json:"times_sampled"`
}

type LineageRecord struct {
	VersionedRecord
	IndividualID string   `json:"individual_id"`
	ParentID     string   `json:"parent_id,omitempty"`
	Evaluation   int      `json:"evaluation"`
	Provenance   string   `json:"provenance"`
	Operation    string   `json:"operation,omitempty"`
	Improved     []string `json:"improved,omitempty"`
}
