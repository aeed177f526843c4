package deliverable

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

func runWorkflow(t *testing.T, gen workflow.DeliverableGenerator, outDir string) *workflow.State {
	t.Helper()
	lines := []string{"name,score"}
	for i := 0; i < 40; i++ {
		score := fmt.Sprint(50 + i%10)
		if i%4 == 0 {
			score = ""
		}
		lines = append(lines, fmt.Sprintf(" item%d ,%s", i%5, score))
	}
	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	cfg := workflow.DefaultConfig()
	cfg.EnableCheckpoints = false
	cfg.SkipHITL = true
	cfg.OutputDir = outDir
	cfg.Stage1Ratio, cfg.Stage2Ratio, cfg.Stage3Ratio, cfg.Stage4Ratio = 0.25, 0.5, 0.75, 0.9
	o, err := workflow.New(cfg, workflow.WithDeliverables(gen))
	require.NoError(t, err)
	st, err := o.Execute(context.Background(), path)
	require.NoError(t, err)
	return st
}

func TestFileGeneratorWritesAllOutputs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	st := runWorkflow(t, NewFileGenerator(nil), out)
	require.NotNil(t, st.Deliverables)
	d := st.Deliverables

	assert.Equal(t, filepath.Join(out, st.SessionID+"_cleaned.csv"), d.CleanedDataPath)
	f, err := os.Open(d.CleanedDataPath)
	require.NoError(t, err)
	defer f.Close()
	cleaned, err := table.ReadCSV(f, ',')
	require.NoError(t, err)
	assert.Equal(t, 40, cleaned.Rows())
	name, _ := cleaned.Column("name")
	for _, v := range name.Values {
		assert.Equal(t, strings.TrimSpace(v), v, "names are trimmed")
	}
	score, _ := cleaned.Column("score")
	assert.Zero(t, score.MissingCount(), "scores are imputed")

	report, err := os.ReadFile(d.ReportPath)
	require.NoError(t, err)
	assert.Contains(t, string(report), "# Cleaning report: scores.csv")
	assert.Contains(t, string(report), "## Stages")
	assert.Contains(t, string(report), "missing_value:score")
	assert.Contains(t, string(report), "## Bulk processing")
	assert.Contains(t, string(report), "[SAMPLE SUMMARY]")

	raw, err := os.ReadFile(d.MetadataPath)
	require.NoError(t, err)
	var meta Metadata
	require.NoError(t, yaml.Unmarshal(raw, &meta))
	assert.Equal(t, st.SessionID, meta.SessionID)
	assert.Equal(t, 40, meta.TotalRecords)
	assert.Equal(t, 40, meta.CleanedRecords)
	assert.Equal(t, []string{"name", "score"}, meta.Columns)
	assert.Len(t, meta.Stages, 5)
	assert.Equal(t, "bulk_processing", meta.Stages[4].Stage)
	assert.Len(t, meta.Rules, len(st.DiscoveredRules))
	assert.True(t, meta.SkipHITL)
	assert.Equal(t, d.CleanedDataPath, meta.Files.CleanedData)
}

func TestGenerateNilInput(t *testing.T) {
	_, err := NewFileGenerator(nil).Generate(context.Background(), nil, nil, t.TempDir())
	assert.ErrorIs(t, err, ErrNilInput)
}

func TestReportWithoutRules(t *testing.T) {
	st := &workflow.State{SessionID: "s", DatasetPath: "/tmp/x.csv", CompletedStages: map[workflow.Stage]*workflow.StageResult{}}
	got := Report(st, table.New("x", []string{"a"}))
	assert.Contains(t, got, "No rules were discovered.")
	assert.NotContains(t, got, "## Bulk processing")
}
