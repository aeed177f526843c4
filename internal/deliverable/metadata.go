package deliverable

import (
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/table"
	"github.com/KaramelBytes/dataloom-cli/internal/workflow"
)

// Metadata is the manifest written next to the cleaned data.
type Metadata struct {
	SessionID       string          `yaml:"session_id"`
	Dataset         string          `yaml:"dataset"`
	TotalRecords    int             `yaml:"total_records"`
	CleanedRecords  int             `yaml:"cleaned_records"`
	Columns         []string        `yaml:"columns"`
	StartedAt       time.Time       `yaml:"started_at"`
	GeneratedAt     time.Time       `yaml:"generated_at"`
	ConfidenceScore float64         `yaml:"confidence_score"`
	HasConverged    bool            `yaml:"has_converged"`
	Seed            uint64          `yaml:"seed"`
	StageRatios     []float64       `yaml:"stage_ratios"`
	SkipHITL        bool            `yaml:"skip_hitl"`
	HITLSessions    []string        `yaml:"hitl_sessions,omitempty"`
	Stages          []StageMetadata `yaml:"stages"`
	Rules           []RuleMetadata  `yaml:"rules"`
	Files           FileMetadata    `yaml:"files"`
}

type StageMetadata struct {
	Stage       string  `yaml:"stage"`
	Number      int     `yaml:"number"`
	SampleRatio float64 `yaml:"sample_ratio"`
	SampleSize  int     `yaml:"sample_size"`
	Strategy    string  `yaml:"strategy,omitempty"`
	Rules       int     `yaml:"rules"`
	Converged   bool    `yaml:"converged"`
	Confidence  float64 `yaml:"confidence"`
	DurationMS  int64   `yaml:"duration_ms"`
}

type RuleMetadata struct {
	ID           string `yaml:"id"`
	Type         string `yaml:"type"`
	Status       string `yaml:"status"`
	Action       string `yaml:"action,omitempty"`
	CustomValue  string `yaml:"custom_value,omitempty"`
	Feedback     string `yaml:"feedback,omitempty"`
	Stage        int    `yaml:"discovered_in_stage"`
	AffectedRows int    `yaml:"affected_rows"`
}

type FileMetadata struct {
	CleanedData string `yaml:"cleaned_data"`
	Report      string `yaml:"report"`
}

// BuildMetadata summarizes a run for the manifest.
func BuildMetadata(st *workflow.State, cleaned *table.Table, d *workflow.Deliverables) Metadata {
	m := Metadata{
		SessionID:       st.SessionID,
		Dataset:         st.DatasetPath,
		TotalRecords:    st.TotalRecords,
		CleanedRecords:  cleaned.Rows(),
		Columns:         cleaned.Header(),
		StartedAt:       st.StartedAt,
		GeneratedAt:     d.GeneratedAt,
		ConfidenceScore: st.ConfidenceScore,
		HasConverged:    st.HasConverged,
		Seed:            st.Config.Seed,
		StageRatios:     st.Config.Ratios(),
		SkipHITL:        st.Config.SkipHITL,
		HITLSessions:    st.HITLSessions,
		Files:           FileMetadata{CleanedData: d.CleanedDataPath, Report: d.ReportPath},
	}
	for _, r := range st.StageResults() {
		m.Stages = append(m.Stages, StageMetadata{
			Stage:       r.Stage.String(),
			Number:      r.Stage.Number(),
			SampleRatio: r.SampleRatio,
			SampleSize:  r.SampleSize,
			Strategy:    string(r.Strategy),
			Rules:       len(r.Rules),
			Converged:   r.HasConverged,
			Confidence:  r.ConfidenceScore,
			DurationMS:  r.Duration.Milliseconds(),
		})
	}
	for _, r := range st.DiscoveredRules {
		m.Rules = append(m.Rules, RuleMetadata{
			ID:           r.ID,
			Type:         string(r.Type),
			Status:       string(r.Status),
			Action:       string(r.Action),
			CustomValue:  r.CustomValue,
			Feedback:     r.UserFeedback,
			Stage:        r.DiscoveredInStage,
			AffectedRows: r.AffectedRows,
		})
	}
	return m
}
