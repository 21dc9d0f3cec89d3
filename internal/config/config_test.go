package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mioforge/internal/search"
)

func TestDefaultMatchesSearchDefaults(t *testing.T) {
	f := Default()
	require.NoError(t, f.Validate())
	assert.Equal(t, search.DefaultConfig(), f.SearchConfig())
}

func TestParseOverridesDefaults(t *testing.T) {
	f, err := Parse([]byte(`
service: numberguess
seed: 42
replicates: 3
budget:
  time: 30s
  actions: unlimited
  evaluations: 5000
  stop_when_all_covered: true
mutation:
  mode: mixed
  adaptive_ratio: 0.25
execution:
  per_call_timeout: 250ms
  flaky_check: true
store:
  kind: sqlite
  path: runs.db
log_level: debug
`))
	require.NoError(t, err)

	cfg := f.SearchConfig()
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 30*time.Second, cfg.TimeBudget)
	assert.Equal(t, search.Unlimited, cfg.MaxActionEvaluations)
	assert.Equal(t, 5000, cfg.MaxEvaluations)
	assert.True(t, cfg.StopWhenAllCovered)
	assert.Equal(t, 0.25, cfg.AdaptiveRatio)
	assert.Equal(t, 250*time.Millisecond, cfg.PerCallTimeout)
	assert.True(t, cfg.FlakyCheck)
	// untouched keys keep their defaults
	assert.Equal(t, search.DefaultConfig().MaxActions, cfg.MaxActions)
	assert.Equal(t, 3, f.Replicates)

	level, err := f.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":     "servce: petstore\n",
		"bad limit":       "budget:\n  actions: lots\n",
		"bad duration":    "execution:\n  per_call_timeout: soon\n",
		"no budget":       "budget:\n  time: unlimited\n  actions: unlimited\n  evaluations: unlimited\n",
		"sqlite no path":  "store:\n  kind: sqlite\n",
		"unknown store":   "store:\n  kind: redis\n",
		"bad level":       "log_level: loud\n",
		"zero replicates": "replicates: 0\n",
		"bad mode":        "mutation:\n  mode: greedy\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestEmptyFileIsDefault(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), f)
}

func TestMarshalRoundTrip(t *testing.T) {
	f := Default()
	f.Budget.Time = Duration(time.Minute)
	data, err := f.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), "evaluations: unlimited")

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f, loaded)
}
