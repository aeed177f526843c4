package workflow

import (
	"context"
	"sort"
	"time"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/apply"
	"github.com/KaramelBytes/dataloom-cli/internal/rules"
	"github.com/KaramelBytes/dataloom-cli/internal/sampling"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

// StageResult is the immutable record of one completed stage.
type StageResult struct {
	Stage          Stage                      `json:"stage"`
	SampleSize     int                        `json:"sample_size"`
	SampleRatio    float64                    `json:"sample_ratio"`
	Strategy       sampling.StrategyName      `json:"strategy,omitempty"`
	StrategyReason string                     `json:"strategy_reason,omitempty"`
	Validation     *sampling.ValidationResult `json:"validation,omitempty"`
	Analysis       *analysis.SampleAnalysis   `json:"analysis,omitempty"`
	// Rules holds snapshots of the rules detected in this stage's sample.
	Rules []*rules.Rule `json:"rules"`
	// NewRules are the ids first seen in this stage.
	NewRules []string `json:"new_rules,omitempty"`
	// ReopenedRules were decided earlier but came back with a different payload.
	ReopenedRules []string `json:"reopened_rules,omitempty"`
	// Reproducibility maps earlier rules to how well this sample reproduces them.
	Reproducibility map[string]float64 `json:"reproducibility,omitempty"`
	HasConverged    bool               `json:"has_converged"`
	StatsConverged  bool               `json:"stats_converged"`
	ConfidenceScore float64            `json:"confidence_score"`
	HITLSessionID   string             `json:"hitl_session_id,omitempty"`
	Decisions       int                `json:"decisions"`
	Deferred        int                `json:"deferred"`
	AutoApproved    int                `json:"auto_approved"`
	Application     *apply.BatchResult `json:"application,omitempty"`
	Deliverables    *Deliverables      `json:"deliverables,omitempty"`
	Duration        time.Duration      `json:"duration"`
	CompletedAt     time.Time          `json:"completed_at"`
}

// State is the aggregate of one run and the content of every checkpoint.
type State struct {
	SessionID       string                 `json:"session_id"`
	CurrentStage    Stage                  `json:"current_stage"`
	DatasetPath     string                 `json:"dataset_path"`
	TotalRecords    int                    `json:"total_records"`
	CompletedStages map[Stage]*StageResult `json:"completed_stages"`
	DiscoveredRules []*rules.Rule          `json:"discovered_rules"`
	// ApprovedRules is the approved subset of DiscoveredRules, sharing the same pointers.
	ApprovedRules   []*rules.Rule `json:"approved_rules"`
	ConfidenceScore float64       `json:"confidence_score"`
	HasConverged    bool          `json:"has_converged"`
	HITLSessions    []string      `json:"hitl_sessions,omitempty"`
	Deliverables    *Deliverables `json:"deliverables,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	Config          Config        `json:"config"`
}

// StageResults returns the completed stages in order.
func (s *State) StageResults() []*StageResult {
	out := make([]*StageResult, 0, len(s.CompletedStages))
	for _, r := range s.CompletedStages {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out
}

// Result returns the result of stage st.
func (s *State) Result(st Stage) (*StageResult, bool) {
	r, ok := s.CompletedStages[st]
	return r, ok
}

// Rule returns the discovered rule with id.
func (s *State) Rule(id string) (*rules.Rule, bool) {
	for _, r := range s.DiscoveredRules {
		if r.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Undecided returns review-requiring rules that are still pending.
func (s *State) Undecided() []*rules.Rule {
	var out []*rules.Rule
	for _, r := range s.DiscoveredRules {
		if r.RequiresHITL && !r.Decided() {
			out = append(out, r)
		}
	}
	return out
}

// syncApproved rebuilds ApprovedRules from DiscoveredRules.
func (s *State) syncApproved() {
	approved := make([]*rules.Rule, 0, len(s.DiscoveredRules))
	for _, r := range s.DiscoveredRules {
		if r.Status == rules.Approved {
			approved = append(approved, r)
		}
	}
	s.ApprovedRules = approved
}

// Deliverables names the files produced for a completed run.
type Deliverables struct {
	CleanedDataPath string    `json:"cleaned_data_path"`
	ReportPath      string    `json:"report_path"`
	MetadataPath    string    `json:"metadata_path"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// DeliverableGenerator writes the outputs of a run. cleaned is the full
// table after rule application.
type DeliverableGenerator interface {
	Generate(ctx context.Context, st *State, cleaned *table.Table, outDir string) (*Deliverables, error)
}

// ProgressEvent reports workflow progress; Percentage is in [0,100].
type ProgressEvent struct {
	Stage      Stage   `json:"stage"`
	StageIndex int     `json:"stage_index"`
	Percentage float64 `json:"percentage"`
	Message    string  `json:"message"`
}

// ProgressFunc observes progress. It must not block.
type ProgressFunc func(ProgressEvent)
