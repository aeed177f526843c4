package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAnalyzeBatch_WritesSummariesWithoutOverwrite(t *testing.T) {
	home := sandbox(t)

	// Prepare two CSV files with the same basename in different directories
	d1 := filepath.Join(home, "d1")
	d2 := filepath.Join(home, "d2")
	if err := os.MkdirAll(d1, 0o755); err != nil {
		t.Fatalf("mkdir d1: %v", err)
	}
	if err := os.MkdirAll(d2, 0o755); err != nil {
		t.Fatalf("mkdir d2: %v", err)
	}
	p1 := filepath.Join(d1, "metrics.csv")
	p2 := filepath.Join(d2, "metrics.csv")
	if err := os.WriteFile(p1, []byte("col1,col2\nA,1\nB,2\nC,3\n"), 0o644); err != nil {
		t.Fatalf("write p1: %v", err)
	}
	if err := os.WriteFile(p2, []byte("col1,col2\nA,1\nB,2\nC,3\nD,4\n"), 0o644); err != nil {
		t.Fatalf("write p2: %v", err)
	}

	outDir := filepath.Join(home, "summaries")
	mustCLI(t, "analyze-batch", filepath.Join(home, "d*", "metrics.csv"), "-o", outDir, "--quiet", "-j", "2")

	// Verify files written with collision suffix, in input order
	b1 := filepath.Join(outDir, "metrics.summary.md")
	b2 := filepath.Join(outDir, "metrics__2.summary.md")
	body1, err := os.ReadFile(b1)
	if err != nil {
		t.Fatalf("missing first summary: %v", err)
	}
	body2, err := os.ReadFile(b2)
	if err != nil {
		t.Fatalf("missing second summary: %v", err)
	}
	if !strings.Contains(string(body1), "Rows: 3") {
		t.Fatalf("first summary should profile d1:\n%s", body1)
	}
	if !strings.Contains(string(body2), "Rows: 4") {
		t.Fatalf("second summary should profile d2:\n%s", body2)
	}
	if !strings.Contains(string(body1), "[SCHEMA]") {
		t.Fatalf("expected schema section in %s", b1)
	}
}

func TestAnalyzeBatch_NoMatches(t *testing.T) {
	home := sandbox(t)
	if _, err := execCLI(t, "analyze-batch", filepath.Join(home, "none*.csv")); err == nil {
		t.Fatalf("expected error when no files match")
	}
}

func TestSummaryPath(t *testing.T) {
	got := summaryPath("out", "/data/Sales Q1.xlsx", "Raw Data!")
	want := filepath.Join("out", "Sales Q1__sheet-raw-data.summary.md")
	if got != want {
		t.Fatalf("summaryPath = %q, want %q", got, want)
	}
}
