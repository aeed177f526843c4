// Package deliverable writes the outputs of a completed cleaning run.
package deliverable

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
	"github.com/KaramelBytes/dataloom-cli/internal/utils"
	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

var ErrNilInput = errors.New("deliverable: nil input")

// FileGenerator writes <session>_cleaned.csv, <session>_report.md and
// <session>_metadata.yaml into the output directory.
type FileGenerator struct {
	logger *zap.Logger
}

func NewFileGenerator(logger *zap.Logger) *FileGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileGenerator{logger: logger.Named("deliverable")}
}

var _ workflow.DeliverableGenerator = (*FileGenerator)(nil)

func (g *FileGenerator) Generate(ctx context.Context, st *workflow.State, cleaned *table.Table, outDir string) (*workflow.Deliverables, error) {
	if st == nil || cleaned == nil {
		return nil, ErrNilInput
	}
	if outDir == "" {
		outDir = "."
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	d := &workflow.Deliverables{
		CleanedDataPath: filepath.Join(outDir, st.SessionID+"_cleaned.csv"),
		ReportPath:      filepath.Join(outDir, st.SessionID+"_report.md"),
		MetadataPath:    filepath.Join(outDir, st.SessionID+"_metadata.yaml"),
		GeneratedAt:     time.Now().UTC(),
	}

	var csvBuf bytes.Buffer
	if err := table.WriteCSV(&csvBuf, cleaned); err != nil {
		return nil, fmt.Errorf("encode cleaned data: %w", err)
	}
	if err := utils.SafeWriteFile(d.CleanedDataPath, csvBuf.Bytes()); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := utils.SafeWriteFile(d.ReportPath, []byte(Report(st, cleaned))); err != nil {
		return nil, err
	}
	meta, err := yaml.Marshal(BuildMetadata(st, cleaned, d))
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	if err := utils.SafeWriteFile(d.MetadataPath, meta); err != nil {
		return nil, err
	}
	g.logger.Info("deliverables written",
		zap.String("dir", outDir),
		zap.Int("rows", cleaned.Rows()))
	return d, nil
}

// Report renders the run as Markdown.
func Report(st *workflow.State, cleaned *table.Table) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Cleaning report: %s\n\n", filepath.Base(st.DatasetPath))
	fmt.Fprintf(&b, "- Session: `%s`\n", st.SessionID)
	fmt.Fprintf(&b, "- Records: %d in, %d out\n", st.TotalRecords, cleaned.Rows())
	fmt.Fprintf(&b, "- Confidence: %.3f (converged: %t)\n", st.ConfidenceScore, st.HasConverged)
	fmt.Fprintf(&b, "- Rules: %d discovered, %d approved\n\n", len(st.DiscoveredRules), len(st.ApprovedRules))

	b.WriteString("## Stages\n\n")
	b.WriteString("| # | Stage | Ratio | Rows | Strategy | Rules | New | Converged | Confidence | Duration |\n")
	b.WriteString("|---|---|---|---|---|---|---|---|---|---|\n")
	for _, r := range st.StageResults() {
		fmt.Fprintf(&b, "| %d | %s | %.4g | %d | %s | %d | %d | %t | %.3f | %s |\n",
			r.Stage.Number(), r.Stage, r.SampleRatio, r.SampleSize, orDash(string(r.Strategy)),
			len(r.Rules), len(r.NewRules), r.HasConverged, r.ConfidenceScore, r.Duration.Round(time.Millisecond))
	}

	b.WriteString("\n## Rules\n\n")
	if len(st.DiscoveredRules) == 0 {
		b.WriteString("No rules were discovered.\n")
	} else {
		b.WriteString("| Rule | Status | Action | Affected | Confidence | Note |\n")
		b.WriteString("|---|---|---|---|---|---|\n")
		for _, r := range st.DiscoveredRules {
			fmt.Fprintf(&b, "| %s | %s | %s | %d/%d | %.2f | %s |\n",
				r.ID, r.Status, orDash(string(r.Action)), r.AffectedRows, r.SampleRows, r.Confidence, orDash(r.UserFeedback))
		}
	}

	if bulk, ok := st.Result(workflow.BulkProcessing); ok && bulk.Application != nil {
		a := bulk.Application
		b.WriteString("\n## Bulk processing\n\n")
		fmt.Fprintf(&b, "- Applied %d, failed %d, skipped %d of %d rules\n", a.AppliedRules, a.FailedRules, a.SkippedRules, a.TotalRules)
		fmt.Fprintf(&b, "- Rows affected %d, rows deleted %d\n", a.RowsAffected, a.RowsDeleted)
		for _, rr := range a.Results {
			if !rr.Success {
				fmt.Fprintf(&b, "- ✗ %s: %s\n", rr.RuleID, rr.Error)
			}
		}
		if bulk.Analysis != nil {
			b.WriteString("\n## Cleaned data profile\n\n```\n")
			b.WriteString(bulk.Analysis.Markdown())
			b.WriteString("```\n")
		}
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "/")
}
