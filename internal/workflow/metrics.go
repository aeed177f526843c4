package workflow

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("dataloom.workflow")
	meter  = otel.Meter("dataloom.workflow")
)

var (
	stageDuration   metric.Float64Histogram
	stagesTotal     metric.Int64Counter
	rulesDiscovered metric.Int64Counter
	decisionsTotal  metric.Int64Counter
	rowsAffected    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error
		if stageDuration, err = meter.Float64Histogram(
			"workflow_stage_duration_seconds",
			metric.WithDescription("Duration of workflow stages"),
			metric.WithUnit("s"),
		); err != nil {
			metricsErr = err
			return
		}
		if stagesTotal, err = meter.Int64Counter(
			"workflow_stages_total",
			metric.WithDescription("Completed workflow stages"),
		); err != nil {
			metricsErr = err
			return
		}
		if rulesDiscovered, err = meter.Int64Counter(
			"workflow_rules_discovered_total",
			metric.WithDescription("Rules first discovered, by stage"),
		); err != nil {
			metricsErr = err
			return
		}
		if decisionsTotal, err = meter.Int64Counter(
			"workflow_decisions_total",
			metric.WithDescription("Rule decisions, by source"),
		); err != nil {
			metricsErr = err
			return
		}
		rowsAffected, metricsErr = meter.Int64Counter(
			"workflow_rows_affected_total",
			metric.WithDescription("Rows changed or deleted during bulk processing"),
		)
	})
	return metricsErr
}

func startStageSpan(ctx context.Context, st *State, stage Stage) (context.Context, trace.Span) {
	return tracer.Start(ctx, "workflow.Stage",
		trace.WithAttributes(
			attribute.String("workflow.session", st.SessionID),
			attribute.String("workflow.stage", stage.String()),
			attribute.Float64("workflow.ratio", st.Config.Ratio(stage)),
		),
	)
}

func endStageSpan(span trace.Span, res *StageResult, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if res != nil {
		span.SetAttributes(
			attribute.Int("workflow.sample_size", res.SampleSize),
			attribute.Int("workflow.rules", len(res.Rules)),
			attribute.Bool("workflow.converged", res.HasConverged),
			attribute.Float64("workflow.confidence", res.ConfidenceScore),
		)
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func recordStageMetrics(ctx context.Context, res *StageResult, newRules int) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", res.Stage.String()))
	stageDuration.Record(ctx, res.Duration.Seconds(), attrs)
	stagesTotal.Add(ctx, 1, attrs)
	rulesDiscovered.Add(ctx, int64(newRules), attrs)
	if res.Application != nil {
		rowsAffected.Add(ctx, int64(res.Application.RowsAffected), attrs)
	}
}

func recordDecisions(ctx context.Context, source string, n int) {
	if n == 0 || initMetrics() != nil {
		return
	}
	decisionsTotal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}
