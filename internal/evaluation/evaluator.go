package evaluation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/pkg/logger"
)

const DefaultThreshold = 0.70

type Config struct {
	// Threshold is the similarity floor below which an observation is always a deviation.
	Threshold float64
	// Workers bounds how many observations are evaluated concurrently.
	Workers int
}

func DefaultConfig() Config {
	return Config{
		Threshold: DefaultThreshold,
		Workers:   1,
	}
}

type Evaluator struct {
	provider   SimilarityProvider
	classifier *Classifier
	workers    int
}

// Report is the complete output of one evaluation pass.
type Report struct {
	Results []models.EvaluationResult
	Summary models.SequenceSummary
}

func NewEvaluator(provider SimilarityProvider, cfg Config) (*Evaluator, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: similarity provider is required", ErrConfiguration)
	}

	classifier, err := NewClassifier(cfg.Threshold)
	if err != nil {
		return nil, err
	}

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}

	return &Evaluator{
		provider:   provider,
		classifier: classifier,
		workers:    workers,
	}, nil
}

func (e *Evaluator) Threshold() float64 {
	return e.classifier.Threshold()
}

func (e *Evaluator) MatchStep(ctx context.Context, action string, steps []models.Step) (Match, error) {
	return MatchStep(ctx, e.provider, action, steps)
}

// EvaluateObservation produces the verdict for one observation. index is the
// observation's position in its sequence.
func (e *Evaluator) EvaluateObservation(ctx context.Context, index int, obs models.Observation, sop *models.SOP) (models.EvaluationResult, error) {
	if strings.TrimSpace(obs.DescribedAction) == "" {
		return models.EvaluationResult{}, fmt.Errorf("%w: observation %d has no described action", ErrInvalidInput, index)
	}
	if sop == nil {
		return models.EvaluationResult{}, fmt.Errorf("%w: SOP is required", ErrInvalidInput)
	}

	match, err := e.MatchStep(ctx, obs.DescribedAction, sop.Steps)
	if err != nil {
		return models.EvaluationResult{}, fmt.Errorf("observation %d: %w", index, err)
	}

	toolCheck := CheckTools(obs.ToolsObserved, match.Step.RequiredTools)
	safetyCheck := CheckSafetyEquipment(obs.EquipmentObserved, sop.SafetyEquipment)
	verdict := e.classifier.Classify(match.Score, toolCheck, safetyCheck)

	hazards := make([]string, len(obs.HazardsObserved))
	copy(hazards, obs.HazardsObserved)

	result := models.EvaluationResult{
		ObservationIndex: index,
		Timestamp:        obs.Timestamp,
		DescribedAction:  obs.DescribedAction,
		MatchedStepIndex: match.Index,
		MatchedStepID:    match.Step.ID,
		MatchedStep:      match.Step.Description,
		StepNumber:       match.Index + 1,
		SimilarityScore:  round(match.Score, 3),
		IsDeviation:      verdict.IsDeviation,
		Severity:         verdict.Severity,
		ToolCheck:        toolCheck,
		SafetyCheck:      safetyCheck,
		HazardsObserved:  hazards,
		Location:         obs.Location,
	}

	logger.Debug("Observation evaluated",
		zap.Int("observation", index),
		zap.Float64("timestamp", obs.Timestamp),
		zap.Int("step_number", result.StepNumber),
		zap.Float64("similarity", result.SimilarityScore),
		zap.Bool("deviation", result.IsDeviation),
		zap.String("severity", string(result.Severity)),
	)

	return result, nil
}

// EvaluateSequence evaluates every observation against sop and returns the
// results in input order. Any failure aborts the pass and no results are
// returned.
func (e *Evaluator) EvaluateSequence(ctx context.Context, observations []models.Observation, sop *models.SOP) ([]models.EvaluationResult, error) {
	if err := ValidateSOP(sop); err != nil {
		return nil, err
	}

	results := make([]models.EvaluationResult, len(observations))

	if e.workers == 1 || len(observations) < 2 {
		for i, obs := range observations {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			result, err := e.EvaluateObservation(ctx, i, obs, sop)
			if err != nil {
				return nil, err
			}
			results[i] = result
		}
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range observations {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := e.EvaluateObservation(gctx, i, observations[i], sop)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// Evaluate runs a full pass and aggregates it.
func (e *Evaluator) Evaluate(ctx context.Context, observations []models.Observation, sop *models.SOP) (*Report, error) {
	if err := ValidateSOP(sop); err != nil {
		return nil, err
	}

	logger.Info("Evaluating observation sequence",
		zap.String("task", sop.TaskName),
		zap.Int("observations", len(observations)),
		zap.Int("steps", len(sop.Steps)),
	)

	results, err := e.EvaluateSequence(ctx, observations, sop)
	if err != nil {
		return nil, err
	}

	summary := Summarize(results)

	logger.Info("Sequence evaluated",
		zap.String("task", sop.TaskName),
		zap.Int("total", summary.TotalObservations),
		zap.Int("deviations", summary.TotalDeviations),
		zap.Int("high", summary.HighSeverityCount),
		zap.Float64("compliance_rate", summary.ComplianceRate),
	)

	return &Report{Results: results, Summary: summary}, nil
}

// ValidateSOP checks the fields the evaluator relies on: a task name, at
// least one step, a description per step and dense sequence indexes.
func ValidateSOP(sop *models.SOP) error {
	if sop == nil {
		return fmt.Errorf("%w: SOP is required", ErrInvalidInput)
	}
	if sop.TaskName == "" {
		return fmt.Errorf("%w: SOP task_name is required", ErrInvalidInput)
	}
	if len(sop.Steps) == 0 {
		return fmt.Errorf("%w: SOP %q has no steps", ErrInvalidInput, sop.TaskName)
	}
	for i, step := range sop.Steps {
		if step.Description == "" {
			return fmt.Errorf("%w: SOP step %d has no action", ErrInvalidInput, i)
		}
		if step.SequenceIndex != i {
			return fmt.Errorf("%w: SOP step %d has sequence index %d", ErrInvalidInput, i, step.SequenceIndex)
		}
	}
	return nil
}
