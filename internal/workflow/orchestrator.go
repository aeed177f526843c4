package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom-cli/internal/analysis"
	"github.com/KaramelBytes/dataloom-cli/internal/apply"
	"github.com/KaramelBytes/dataloom-cli/internal/hitl"
	"github.com/KaramelBytes/dataloom-cli/internal/rules"
	"github.com/KaramelBytes/dataloom-cli/internal/sampling"
	"github.com/KaramelBytes/dataloom-cli/internal/table"
)

var (
	// ErrUndecidedRules stops bulk processing while review-requiring rules are pending.
	ErrUndecidedRules = errors.New("workflow: rules awaiting review")
	// ErrErrorRateExceeded is returned when too many rules fail during bulk processing.
	ErrErrorRateExceeded = apply.ErrErrorRateExceeded
	// ErrDatasetChanged is returned on resume when the dataset no longer matches the checkpoint.
	ErrDatasetChanged = errors.New("workflow: dataset changed since checkpoint")
)

// Notes recorded on rules approved without a human answer.
const (
	NoteHITLSkipped   = "auto-approved: HITL skipped"
	NoteDeterministic = "auto-approved: deterministic fix"
)

const (
	convergedFactor    = 1.0
	notConvergedFactor = 0.7
)

// Orchestrator runs the staged cleaning workflow. One orchestrator may run
// several workflows concurrently; each run owns its State.
type Orchestrator struct {
	cfg          Config
	load         table.LoadOptions
	sampler      *sampling.Engine
	analyzer     *analysis.Analyzer
	rules        *rules.Engine
	hitl         *hitl.Service
	deliverables DeliverableGenerator
	progress     ProgressFunc
	logger       *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(l *zap.Logger) Option            { return func(o *Orchestrator) { o.logger = l } }
func WithLoadOptions(l table.LoadOptions) Option { return func(o *Orchestrator) { o.load = l } }
func WithSampler(s *sampling.Engine) Option      { return func(o *Orchestrator) { o.sampler = s } }
func WithAnalyzer(a *analysis.Analyzer) Option   { return func(o *Orchestrator) { o.analyzer = a } }
func WithRuleEngine(e *rules.Engine) Option      { return func(o *Orchestrator) { o.rules = e } }
func WithHITL(s *hitl.Service) Option            { return func(o *Orchestrator) { o.hitl = s } }
func WithProgress(p ProgressFunc) Option         { return func(o *Orchestrator) { o.progress = p } }

// WithDeliverables sets the generator invoked after bulk processing.
func WithDeliverables(g DeliverableGenerator) Option {
	return func(o *Orchestrator) { o.deliverables = g }
}

// New validates cfg and builds an orchestrator. Collaborators not supplied
// through options get their defaults; HITL defaults to auto-answering the
// recommended option without a decision log.
func New(cfg Config, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{cfg: cfg, load: table.DefaultLoadOptions()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.logger = o.logger.Named("workflow")
	if o.sampler == nil {
		o.sampler = sampling.DefaultEngine(o.logger)
	}
	if o.analyzer == nil {
		o.analyzer = analysis.NewAnalyzer(o.logger)
	}
	if o.rules == nil {
		ro := rules.DefaultDetectorOptions()
		ro.NumberFormat = cfg.Analysis.NumberFormat
		o.rules = rules.NewEngine(rules.DefaultRegistry(ro), o.logger)
	}
	if o.hitl == nil {
		o.hitl = hitl.NewService(nil, hitl.AutoAnswerer{}, "", o.logger)
	}
	return o, nil
}

// Config returns the run configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Execute loads the dataset at path and runs every stage.
func (o *Orchestrator) Execute(ctx context.Context, path string) (*State, error) {
	data, err := table.Load(path, o.load)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	now := time.Now().UTC()
	st := &State{
		SessionID:       uuid.NewString(),
		CurrentStage:    NotStarted,
		DatasetPath:     path,
		TotalRecords:    data.Rows(),
		CompletedStages: map[Stage]*StageResult{},
		StartedAt:       now,
		UpdatedAt:       now,
		Config:          o.cfg,
	}
	o.logger.Info("workflow started",
		zap.String("session", st.SessionID),
		zap.String("dataset", path),
		zap.Int("rows", st.TotalRecords),
		zap.Int("columns", data.Width()))
	return o.run(ctx, st, data)
}

// Resume continues a run from a checkpoint with the checkpoint's config.
// Rules left pending are offered for review before the next stage.
func (o *Orchestrator) Resume(ctx context.Context, checkpointPath string) (*State, error) {
	st, err := LoadCheckpoint(checkpointPath)
	if err != nil {
		return nil, err
	}
	if st.CurrentStage >= Completed {
		return st, nil
	}
	if err := st.Config.Validate(); err != nil {
		return nil, err
	}
	data, err := table.Load(st.DatasetPath, o.load)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}
	if data.Rows() != st.TotalRecords {
		return nil, fmt.Errorf("%w: %s has %d rows, checkpoint recorded %d", ErrDatasetChanged, st.DatasetPath, data.Rows(), st.TotalRecords)
	}
	o.logger.Info("workflow resumed",
		zap.String("session", st.SessionID),
		zap.Stringer("after", st.CurrentStage))
	if pending := st.Undecided(); len(pending) > 0 && !st.Config.SkipHITL {
		var an *analysis.SampleAnalysis
		if last, ok := st.Result(st.CurrentStage); ok {
			an = last.Analysis
		}
		if an != nil {
			res, err := o.hitl.ExecuteWorkflow(ctx, pending, nil, an)
			if err != nil {
				return st, fmt.Errorf("review pending rules: %w", err)
			}
			st.HITLSessions = append(st.HITLSessions, res.SessionID)
			recordDecisions(ctx, "hitl", len(res.Decisions))
			st.syncApproved()
		}
	}
	return o.run(ctx, st, data)
}

func (o *Orchestrator) run(ctx context.Context, st *State, data *table.Table) (*State, error) {
	for stage := st.CurrentStage + 1; stage <= BulkProcessing; stage++ {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		var err error
		if stage == BulkProcessing {
			err = o.bulk(ctx, st, data)
		} else {
			err = o.explore(ctx, st, data, stage)
		}
		if err != nil {
			return st, fmt.Errorf("stage %d (%s): %w", stage.Number(), stage, err)
		}
		o.emit(ProgressEvent{
			Stage:      stage,
			StageIndex: stage.Number(),
			Percentage: float64(stage.Number()) / float64(BulkProcessing.Number()) * 100,
			Message:    fmt.Sprintf("%s complete", stage),
		})
		if stage < BulkProcessing && st.Config.EnableCheckpoints {
			path := CheckpointPath(st.Config.CheckpointDir, st.SessionID, stage)
			if err := SaveCheckpoint(st, path); err != nil {
				return st, err
			}
			o.logger.Debug("checkpoint saved", zap.String("path", path))
		}
	}
	now := time.Now().UTC()
	st.CurrentStage = Completed
	st.CompletedAt = &now
	st.UpdatedAt = now
	o.emit(ProgressEvent{Stage: Completed, StageIndex: Completed.Number(), Percentage: 100, Message: "workflow completed"})
	o.logger.Info("workflow completed",
		zap.String("session", st.SessionID),
		zap.Int("discovered", len(st.DiscoveredRules)),
		zap.Int("approved", len(st.ApprovedRules)),
		zap.Float64("confidence", st.ConfidenceScore))
	return st, nil
}

func (o *Orchestrator) emit(ev ProgressEvent) {
	if o.progress != nil {
		o.progress(ev)
	}
}

func (o *Orchestrator) explore(ctx context.Context, st *State, data *table.Table, stage Stage) (err error) {
	cfg := st.Config
	start := time.Now()
	ctx, span := startStageSpan(ctx, st, stage)
	var res *StageResult
	defer func() { endStageSpan(span, res, err) }()

	ratio := cfg.Ratio(stage)
	smp, err := o.sampler.Sample(ctx, data, ratio, cfg.Sampling, cfg.Seed)
	if err != nil {
		return fmt.Errorf("sample: %w", err)
	}
	val := o.sampler.Validate(data, smp, cfg.Sampling.Tolerance)
	if !val.Passed {
		o.logger.Warn("sample deviates from dataset", zap.Stringer("stage", stage), zap.String("detail", val.Message))
	}
	an, err := o.analyzer.Analyze(ctx, smp.Table, stage.Number(), ratio, &cfg.Analysis)
	if err != nil {
		return err
	}
	an.Name = st.DatasetPath

	repro := make(map[string]float64, len(st.DiscoveredRules))
	for _, r := range st.DiscoveredRules {
		c, err := o.rules.CalculateConfidence(ctx, r, smp.Table, an)
		if err != nil {
			return fmt.Errorf("reproduce %s: %w", r.ID, err)
		}
		repro[r.ID] = c
	}

	detected, err := o.rules.DiscoverRules(ctx, smp.Table, an, stage.Number())
	if err != nil {
		return fmt.Errorf("discover rules: %w", err)
	}
	snapshot := make([]*rules.Rule, len(detected))
	for i, r := range detected {
		snapshot[i] = r.Clone()
	}
	merged, added, reopened := rules.MergeRules(st.DiscoveredRules, detected)
	st.DiscoveredRules = merged
	for _, r := range reopened {
		o.logger.Info("rule changed since review", zap.Stringer("stage", stage), zap.String("rule", r.ID))
	}
	review := append(append([]*rules.Rule(nil), added...), reopened...)

	res = &StageResult{
		Stage:           stage,
		SampleSize:      smp.Rows(),
		SampleRatio:     ratio,
		Strategy:        smp.Strategy,
		StrategyReason:  smp.Reason,
		Validation:      &val,
		Analysis:        an,
		Reproducibility: repro,
	}
	for _, r := range added {
		res.NewRules = append(res.NewRules, r.ID)
	}
	for _, r := range reopened {
		res.ReopenedRules = append(res.ReopenedRules, r.ID)
	}

	auto := 0
	for _, r := range review {
		if !r.RequiresHITL {
			if err := r.Approve("", "", NoteDeterministic); err != nil {
				return err
			}
			auto++
		}
	}
	if cfg.SkipHITL {
		for _, r := range st.DiscoveredRules {
			if !r.Decided() {
				if err := r.Approve("", "", NoteHITLSkipped); err != nil {
					return err
				}
				auto++
			}
		}
	} else {
		session, err := o.hitl.ExecuteWorkflow(ctx, review, smp.Table, an)
		if err != nil {
			return fmt.Errorf("review rules: %w", err)
		}
		if len(session.Decisions) > 0 || session.Deferred > 0 {
			res.HITLSessionID = session.SessionID
			st.HITLSessions = append(st.HITLSessions, session.SessionID)
		}
		res.Decisions = len(session.Decisions)
		res.Deferred = session.Deferred
		recordDecisions(ctx, "hitl", res.Decisions)
	}

	var prevRules []*rules.Rule
	var prevAn *analysis.SampleAnalysis
	prev, hasPrev := st.Result(stage - 1)
	if hasPrev {
		prevRules, prevAn = prev.Rules, prev.Analysis
	}
	res.HasConverged = hasPrev && rules.HasConverged(prevRules, snapshot, cfg.ConvergenceThreshold)
	res.StatsConverged = hasPrev && analysis.HasConverged(prevAn, an, cfg.StatsConvergenceThreshold)
	res.ConfidenceScore = confidenceScore(res.HasConverged, an.QualityScore)

	if stage == ConfidenceCheckpoint && cfg.EnableAutoApproval && res.ConfidenceScore >= cfg.MinConfidenceThreshold {
		note := fmt.Sprintf("auto-approved: confidence %.3f >= %.3f", res.ConfidenceScore, cfg.MinConfidenceThreshold)
		gated := 0
		for _, r := range st.DiscoveredRules {
			if !r.Decided() {
				if err := r.Approve("", "", note); err != nil {
					return err
				}
				gated++
			}
		}
		auto += gated
		o.logger.Info("confidence gate passed", zap.Int("auto_approved", gated), zap.Float64("confidence", res.ConfidenceScore))
	}
	res.AutoApproved = auto
	recordDecisions(ctx, "auto", auto)
	st.syncApproved()

	// Stage evidence as detected; the decision is copied from the merged rule.
	res.Rules = snapshot
	for _, r := range snapshot {
		if cur, ok := st.Rule(r.ID); ok {
			r.Status, r.IsApproved, r.Action, r.CustomValue = cur.Status, cur.IsApproved, cur.Action, cur.CustomValue
		}
	}
	res.Duration = time.Since(start)
	res.CompletedAt = time.Now().UTC()

	st.CompletedStages[stage] = res
	st.CurrentStage = stage
	st.ConfidenceScore = res.ConfidenceScore
	st.HasConverged = res.HasConverged
	st.UpdatedAt = res.CompletedAt
	recordStageMetrics(ctx, res, len(added))

	o.logger.Info("stage complete",
		zap.Stringer("stage", stage),
		zap.Int("sample_rows", res.SampleSize),
		zap.String("strategy", string(res.Strategy)),
		zap.Int("rules", len(detected)),
		zap.Int("new_rules", len(added)),
		zap.Bool("converged", res.HasConverged),
		zap.Float64("confidence", res.ConfidenceScore),
		zap.Float64("quality", an.QualityScore))
	return nil
}

// confidenceScore combines rule-set convergence with sample quality.
func confidenceScore(converged bool, quality float64) float64 {
	f := notConvergedFactor
	if converged {
		f = convergedFactor
	}
	return math.Max(0, math.Min(1, 0.6*f+0.4*quality))
}

func (o *Orchestrator) bulk(ctx context.Context, st *State, data *table.Table) (err error) {
	cfg := st.Config
	start := time.Now()
	ctx, span := startStageSpan(ctx, st, BulkProcessing)
	var res *StageResult
	defer func() { endStageSpan(span, res, err) }()

	if !cfg.SkipHITL {
		if pending := st.Undecided(); len(pending) > 0 {
			ids := make([]string, len(pending))
			for i, r := range pending {
				ids[i] = r.ID
			}
			return fmt.Errorf("%w: %d pending (%v)", ErrUndecidedRules, len(pending), ids)
		}
	}
	st.syncApproved()

	res = &StageResult{Stage: BulkProcessing, SampleSize: data.Rows(), SampleRatio: 1}
	if len(st.ApprovedRules) > 0 {
		applier := apply.New(apply.Config{
			ContinueOnRuleFailure: cfg.ContinueOnRuleFailure,
			MaxErrorRate:          cfg.MaxErrorRate,
			ChunkSize:             cfg.BulkProcessingChunkSize,
			NumberFormat:          cfg.Analysis.NumberFormat,
		}, o.logger)
		base := float64(ConfidenceCheckpoint.Number()) / float64(BulkProcessing.Number()) * 100
		width := 100 - base
		batch, err := applier.ApplyRules(ctx, data, st.ApprovedRules, func(p float64) {
			o.emit(ProgressEvent{Stage: BulkProcessing, StageIndex: BulkProcessing.Number(), Percentage: base + width*p, Message: "applying rules"})
		})
		res.Application = batch
		if err != nil {
			return err
		}
		an, err := o.analyzer.Analyze(ctx, data, BulkProcessing.Number(), 1, &cfg.Analysis)
		if err != nil {
			return err
		}
		an.Name = st.DatasetPath
		res.Analysis = an
	}
	res.Duration = time.Since(start)
	res.CompletedAt = time.Now().UTC()
	st.CompletedStages[BulkProcessing] = res
	st.CurrentStage = BulkProcessing
	st.UpdatedAt = res.CompletedAt

	if len(st.ApprovedRules) > 0 && o.deliverables != nil {
		d, err := o.deliverables.Generate(ctx, st, data, cfg.OutputDir)
		if err != nil {
			return fmt.Errorf("generate deliverables: %w", err)
		}
		res.Deliverables = d
		st.Deliverables = d
	}
	recordStageMetrics(ctx, res, 0)
	o.logger.Info("bulk processing complete",
		zap.Int("rows", data.Rows()),
		zap.Int("approved_rules", len(st.ApprovedRules)))
	return nil
}
