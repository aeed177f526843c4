package workflow

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dataloom-cli/internal/rules"
)

func sampleState() *State {
	approved := &rules.Rule{
		ID:            rules.RuleID(rules.MissingValue, "age"),
		Type:          rules.MissingValue,
		TargetColumns: []string{"age"},
		Pattern:       rules.PatternMissingValues,
		RequiresHITL:  true,
		Status:        rules.Pending,
		Spec:          &rules.MissingValueSpec{Column: "age", Numeric: true},
	}
	if err := approved.Approve(rules.ImputeMedian, "", "looks right"); err != nil {
		panic(err)
	}
	pending := &rules.Rule{
		ID:            rules.RuleID(rules.Outlier, "age"),
		Type:          rules.Outlier,
		TargetColumns: []string{"age"},
		Pattern:       rules.PatternOutliers,
		RequiresHITL:  true,
		Status:        rules.Pending,
		Spec:          &rules.OutlierSpec{Column: "age", Lower: 1, Upper: 99},
	}
	now := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	st := &State{
		SessionID:    "session-1",
		CurrentStage: PatternExpansion,
		DatasetPath:  "/data/people.csv",
		TotalRecords: 1200,
		CompletedStages: map[Stage]*StageResult{
			InitialExploration: {Stage: InitialExploration, SampleSize: 2, SampleRatio: 0.001, CompletedAt: now},
			PatternExpansion:   {Stage: PatternExpansion, SampleSize: 6, SampleRatio: 0.005, HasConverged: true, ConfidenceScore: 0.9, CompletedAt: now},
		},
		DiscoveredRules: []*rules.Rule{approved, pending},
		ConfidenceScore: 0.9,
		HasConverged:    true,
		StartedAt:       now,
		UpdatedAt:       now,
		Config:          DefaultConfig(),
	}
	st.syncApproved()
	return st
}

func TestCheckpointRoundTrip(t *testing.T) {
	st := sampleState()
	path := CheckpointPath(t.TempDir(), st.SessionID, st.CurrentStage)
	assert.True(t, strings.HasSuffix(path, "session-1_stage2.json"))
	require.NoError(t, SaveCheckpoint(st, path))

	got, err := LoadCheckpoint(path)
	require.NoError(t, err)
	assert.Equal(t, st.SessionID, got.SessionID)
	assert.Equal(t, st.CurrentStage, got.CurrentStage)
	assert.Equal(t, st.TotalRecords, got.TotalRecords)
	assert.Equal(t, st.Config, got.Config)
	assert.Len(t, got.CompletedStages, 2)
	assert.True(t, got.CompletedStages[PatternExpansion].HasConverged)

	require.Len(t, got.DiscoveredRules, 2)
	require.Len(t, got.ApprovedRules, 1)
	assert.Same(t, got.DiscoveredRules[0], got.ApprovedRules[0], "approved rules share the discovered instances")
	assert.Equal(t, rules.ImputeMedian, got.ApprovedRules[0].Action)
	spec, ok := got.DiscoveredRules[1].Spec.(*rules.OutlierSpec)
	require.True(t, ok)
	assert.Equal(t, 99.0, spec.Upper)
	assert.Len(t, got.Undecided(), 1)
}

func TestLoadCheckpointErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadCheckpoint(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	garbage := filepath.Join(dir, "garbage_stage1.json")
	require.NoError(t, os.WriteFile(garbage, []byte("{not json"), 0o644))
	_, err = LoadCheckpoint(garbage)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)

	st := sampleState()
	path := CheckpointPath(dir, st.SessionID, st.CurrentStage)
	require.NoError(t, SaveCheckpoint(st, path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(b), `"total_records": 1200`, `"total_records": 1201`, 1)
	require.NotEqual(t, string(b), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))
	_, err = LoadCheckpoint(path)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)
	assert.Contains(t, err.Error(), "checksum")
}

func TestListCheckpoints(t *testing.T) {
	dir := t.TempDir()
	st := sampleState()
	for _, s := range []Stage{PatternExpansion, InitialExploration} {
		st.CurrentStage = s
		require.NoError(t, SaveCheckpoint(st, CheckpointPath(dir, st.SessionID, s)))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other_stage9.json"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	list, err := ListCheckpoints(dir)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, InitialExploration, list[0].Stage)
	assert.Equal(t, PatternExpansion, list[1].Stage)

	latest, err := LatestCheckpoint(dir, "session-1")
	require.NoError(t, err)
	assert.Equal(t, PatternExpansion, latest.Stage)
	_, err = LatestCheckpoint(dir, "unknown")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)

	none, err := ListCheckpoints(filepath.Join(dir, "absent"))
	require.NoError(t, err)
	assert.Empty(t, none)
}
