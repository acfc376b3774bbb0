// Package pipeline resolves a SOP, evaluates an observation sequence against
// it and records the outcome.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sop-monitor/backend/internal/evaluation"
	"github.com/sop-monitor/backend/internal/ingestion"
	"github.com/sop-monitor/backend/internal/metrics"
	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/pkg/logger"
)

// Store is the slice of the SOP library the runner needs.
type Store interface {
	GetSOP(ctx context.Context, name string) (*models.SOPRecord, error)
}

type Runner struct {
	evaluator *evaluation.Evaluator
	store     Store
}

// Request carries either a stored SOP name or an inline SOP. An inline SOP
// wins when both are set.
type Request struct {
	SOPName      string
	SOP          *models.SOP
	Observations []models.Observation
}

type Response struct {
	ID        string
	SOPName   string
	TaskName  string
	Results   []models.EvaluationResult
	Summary   models.SequenceSummary
	LatencyMS int64
}

// NewRunner builds a runner. store may be nil, in which case requests must
// carry an inline SOP.
func NewRunner(evaluator *evaluation.Evaluator, store Store) *Runner {
	return &Runner{
		evaluator: evaluator,
		store:     store,
	}
}

func (r *Runner) Run(ctx context.Context, req Request) (*Response, error) {
	startTime := time.Now()
	runID := uuid.New().String()

	sop, err := r.resolveSOP(ctx, req)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	logger.Info("Processing evaluation",
		zap.String("run_id", runID),
		zap.String("sop", req.SOPName),
		zap.String("task", sop.TaskName),
		zap.Int("observations", len(req.Observations)),
	)

	report, err := r.evaluator.Evaluate(ctx, req.Observations, sop)
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
		logger.Error("Evaluation failed", zap.String("run_id", runID), zap.Error(err))
		return nil, err
	}

	elapsed := time.Since(startTime)
	recordMetrics(metricsLabel(req), report, elapsed)

	resp := &Response{
		ID:        runID,
		SOPName:   req.SOPName,
		TaskName:  sop.TaskName,
		Results:   report.Results,
		Summary:   report.Summary,
		LatencyMS: elapsed.Milliseconds(),
	}

	logger.Info("Evaluation processed",
		zap.String("run_id", runID),
		zap.Int64("latency_ms", resp.LatencyMS),
		zap.Float64("compliance_rate", report.Summary.ComplianceRate),
		zap.Int("deviations", report.Summary.TotalDeviations),
	)

	return resp, nil
}

func (r *Runner) resolveSOP(ctx context.Context, req Request) (*models.SOP, error) {
	if req.SOP != nil {
		sop := *req.SOP
		sop.Steps = append([]models.Step(nil), req.SOP.Steps...)
		ingestion.Normalize(&sop)
		return &sop, nil
	}

	if req.SOPName == "" {
		return nil, fmt.Errorf("%w: either sop or sop_name is required", evaluation.ErrInvalidInput)
	}
	if r.store == nil {
		return nil, fmt.Errorf("%w: no SOP library configured for %q", evaluation.ErrInvalidInput, req.SOPName)
	}

	record, err := r.store.GetSOP(ctx, req.SOPName)
	if err != nil {
		return nil, fmt.Errorf("failed to load SOP: %w", err)
	}
	return &record.SOP, nil
}

// InlineLabel groups every request that carries its own SOP under one
// metrics label, keeping label cardinality bounded by the library size.
const InlineLabel = "inline"

func metricsLabel(req Request) string {
	if req.SOP != nil {
		return InlineLabel
	}
	return req.SOPName
}

func recordMetrics(sopLabel string, report *evaluation.Report, elapsed time.Duration) {
	metrics.EvaluationDuration.Observe(elapsed.Seconds())
	metrics.EvaluationsTotal.WithLabelValues("ok").Inc()
	metrics.ObservationsEvaluated.Add(float64(len(report.Results)))
	metrics.ComplianceViolations.WithLabelValues("tool").Add(float64(report.Summary.ToolViolations))
	metrics.ComplianceViolations.WithLabelValues("safety").Add(float64(report.Summary.SafetyViolations))
	if report.Summary.TotalObservations > 0 {
		metrics.ComplianceRate.WithLabelValues(sopLabel).Set(report.Summary.ComplianceRate)
	}

	for _, result := range report.Results {
		metrics.SimilarityScore.Observe(result.SimilarityScore)
		if result.IsDeviation {
			metrics.DeviationsTotal.WithLabelValues(string(result.Severity)).Inc()
		}
	}
}
