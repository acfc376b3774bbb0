package evaluation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sop-monitor/backend/internal/similarity"
	"github.com/sop-monitor/backend/internal/storage/models"
)

// stubProvider scores by exact lookup of candidate text, falling back to def.
type stubProvider struct {
	mu     sync.Mutex
	scores map[string]float64
	def    float64
	err    error
	calls  int
}

func (s *stubProvider) Similarities(_ context.Context, _ string, candidates []string) ([]float64, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		if v, ok := s.scores[c]; ok {
			out[i] = v
			continue
		}
		out[i] = s.def
	}
	return out, nil
}

// actionProvider scores 1 when the candidate contains the action, else 0.
type actionProvider struct{}

func (actionProvider) Similarities(_ context.Context, text string, candidates []string) ([]float64, error) {
	out := make([]float64, len(candidates))
	for i, c := range candidates {
		if strings.Contains(c, text) {
			out[i] = 1
		}
	}
	return out, nil
}

func buildingSOP() *models.SOP {
	return &models.SOP{
		TaskName: "Drywall installation",
		Steps: []models.Step{
			{ID: 1, SequenceIndex: 0, Description: "Measure wall dimensions with tape measure", RequiredTools: []string{"tape measure"}},
			{ID: 2, SequenceIndex: 1, Description: "Cut drywall sheet to size", RequiredTools: []string{"utility knife"}},
			{ID: 3, SequenceIndex: 2, Description: "Screw sheet onto studs", RequiredTools: []string{"drill"}},
		},
		SafetyEquipment: []string{"hard hat", "safety glasses"},
	}
}

func newTestEvaluator(t *testing.T, provider SimilarityProvider, workers int) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(provider, Config{Threshold: DefaultThreshold, Workers: workers})
	require.NoError(t, err)
	return e
}

func TestNewEvaluatorConfiguration(t *testing.T) {
	_, err := NewEvaluator(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrConfiguration)

	for _, threshold := range []float64{0, 1, -0.2, 1.5} {
		_, err := NewEvaluator(&stubProvider{}, Config{Threshold: threshold})
		assert.ErrorIs(t, err, ErrConfiguration, "threshold %v", threshold)
	}

	e, err := NewEvaluator(&stubProvider{}, Config{Threshold: 0.8, Workers: 0})
	require.NoError(t, err)
	assert.Equal(t, 0.8, e.Threshold())
	assert.Equal(t, 1, e.workers)
}

func TestEvaluateObservationCompliant(t *testing.T) {
	provider := &stubProvider{scores: map[string]float64{"Cut drywall sheet to size": 0.91}, def: 0.2}
	e := newTestEvaluator(t, provider, 1)

	obs := models.Observation{
		Timestamp:         12.5,
		DescribedAction:   "Worker cutting drywall",
		ToolsObserved:     []string{"Utility Knife", "pencil"},
		EquipmentObserved: []string{"hard hat", "safety glasses"},
		HazardsObserved:   []string{"sharp blade"},
		Location:          "bay 2",
	}

	result, err := e.EvaluateObservation(context.Background(), 4, obs, buildingSOP())
	require.NoError(t, err)

	assert.Equal(t, 4, result.ObservationIndex)
	assert.Equal(t, 12.5, result.Timestamp)
	assert.Equal(t, 1, result.MatchedStepIndex)
	assert.Equal(t, 2, result.MatchedStepID)
	assert.Equal(t, 2, result.StepNumber)
	assert.Equal(t, "Cut drywall sheet to size", result.MatchedStep)
	assert.Equal(t, 0.91, result.SimilarityScore)
	assert.False(t, result.IsDeviation)
	assert.Equal(t, models.SeverityNone, result.Severity)
	assert.True(t, result.ToolCheck.IsCompliant)
	assert.Equal(t, []string{"pencil"}, result.ToolCheck.Extraneous)
	assert.Equal(t, []string{"sharp blade"}, result.HazardsObserved)
	assert.Equal(t, "bay 2", result.Location)
}

func TestEvaluateObservationSeverity(t *testing.T) {
	sop := buildingSOP()
	allPPE := []string{"hard hat", "safety glasses"}

	tests := []struct {
		name      string
		score     float64
		tools     []string
		equipment []string
		deviation bool
		severity  models.Severity
	}{
		{"compliant", 0.85, []string{"tape measure"}, allPPE, false, models.SeverityNone},
		{"exactly at threshold", 0.70, []string{"tape measure"}, allPPE, false, models.SeverityNone},
		{"below floor", 0.3, []string{"tape measure"}, allPPE, true, models.SeverityHigh},
		{"exactly at floor", 0.5, []string{"tape measure"}, allPPE, true, models.SeverityMedium},
		{"below threshold", 0.6, []string{"tape measure"}, allPPE, true, models.SeverityMedium},
		{"below threshold and missing safety", 0.6, []string{"tape measure"}, []string{"hard hat"}, true, models.SeverityMedium},
		{"missing safety", 0.9, []string{"tape measure"}, []string{"hard hat"}, true, models.SeverityHigh},
		{"missing tool", 0.9, nil, allPPE, true, models.SeverityMedium},
		{"missing both", 0.9, nil, nil, true, models.SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &stubProvider{scores: map[string]float64{sop.Steps[0].Description: tt.score}, def: 0.1}
			e := newTestEvaluator(t, provider, 1)

			result, err := e.EvaluateObservation(context.Background(), 0, models.Observation{
				DescribedAction:   "measuring",
				ToolsObserved:     tt.tools,
				EquipmentObserved: tt.equipment,
			}, sop)
			require.NoError(t, err)

			assert.Equal(t, tt.deviation, result.IsDeviation)
			assert.Equal(t, tt.severity, result.Severity)
		})
	}
}

func TestEvaluateObservationClassifiesUnroundedScore(t *testing.T) {
	sop := buildingSOP()
	provider := &stubProvider{scores: map[string]float64{sop.Steps[0].Description: 0.6998}}
	e := newTestEvaluator(t, provider, 1)

	result, err := e.EvaluateObservation(context.Background(), 0, models.Observation{
		DescribedAction:   "measuring",
		ToolsObserved:     []string{"tape measure"},
		EquipmentObserved: []string{"hard hat", "safety glasses"},
	}, sop)
	require.NoError(t, err)

	assert.Equal(t, 0.7, result.SimilarityScore)
	assert.True(t, result.IsDeviation)
	assert.Equal(t, models.SeverityMedium, result.Severity)
}

func TestEvaluateObservationErrors(t *testing.T) {
	ctx := context.Background()

	e := newTestEvaluator(t, &stubProvider{def: 0.9}, 1)
	_, err := e.EvaluateObservation(ctx, 0, models.Observation{}, buildingSOP())
	assert.ErrorIs(t, err, ErrInvalidInput)

	cause := errors.New("model offline")
	e = newTestEvaluator(t, &stubProvider{err: cause}, 1)
	_, err = e.EvaluateObservation(ctx, 0, models.Observation{DescribedAction: "x"}, buildingSOP())
	assert.ErrorIs(t, err, ErrSimilarityProvider)
	assert.ErrorIs(t, err, cause)
}

func TestEvaluateObservationRejectsBlankAction(t *testing.T) {
	provider := &stubProvider{def: 0.9}
	e := newTestEvaluator(t, provider, 1)

	_, err := e.EvaluateObservation(context.Background(), 3, models.Observation{DescribedAction: " \t\n "}, buildingSOP())
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Zero(t, provider.calls)
}

func TestNilSOPIsInvalidInput(t *testing.T) {
	ctx := context.Background()
	e := newTestEvaluator(t, &stubProvider{def: 0.9}, 1)

	report, err := e.Evaluate(ctx, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, report)

	_, err = e.Evaluate(ctx, []models.Observation{{DescribedAction: "measuring"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = e.EvaluateObservation(ctx, 0, models.Observation{DescribedAction: "measuring"}, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEvaluateSequenceValidatesSOP(t *testing.T) {
	e := newTestEvaluator(t, &stubProvider{def: 0.9}, 1)
	obs := []models.Observation{{DescribedAction: "x"}}

	bad := map[string]*models.SOP{
		"nil":          nil,
		"no task name": {Steps: buildingSOP().Steps},
		"no steps":     {TaskName: "t"},
		"empty action": {TaskName: "t", Steps: []models.Step{{SequenceIndex: 0}}},
		"sparse index": {TaskName: "t", Steps: []models.Step{{SequenceIndex: 1, Description: "a"}}},
	}
	for name, sop := range bad {
		t.Run(name, func(t *testing.T) {
			results, err := e.EvaluateSequence(context.Background(), obs, sop)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, results)
		})
	}
}

func TestEvaluateSequenceEmpty(t *testing.T) {
	provider := &stubProvider{def: 0.9}
	e := newTestEvaluator(t, provider, 1)

	report, err := e.Evaluate(context.Background(), nil, buildingSOP())
	require.NoError(t, err)

	assert.Empty(t, report.Results)
	assert.Equal(t, 0, report.Summary.TotalObservations)
	assert.Equal(t, 0.0, report.Summary.ComplianceRate)
	assert.Equal(t, 0, provider.calls)
}

func TestEvaluateSequenceParallelKeepsOrder(t *testing.T) {
	sop := buildingSOP()
	actions := []string{"Screw", "Measure", "Cut", "Measure", "Screw", "Cut", "Cut", "Measure"}

	observations := make([]models.Observation, len(actions))
	for i, a := range actions {
		observations[i] = models.Observation{Timestamp: float64(i), DescribedAction: a}
	}

	sequential, err := newTestEvaluator(t, actionProvider{}, 1).EvaluateSequence(context.Background(), observations, sop)
	require.NoError(t, err)
	parallel, err := newTestEvaluator(t, actionProvider{}, 4).EvaluateSequence(context.Background(), observations, sop)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
	for i, r := range parallel {
		assert.Equal(t, i, r.ObservationIndex)
		assert.True(t, strings.HasPrefix(r.MatchedStep, actions[i]), "observation %d matched %q", i, r.MatchedStep)
	}
}

func TestEvaluateSequenceAbortsOnError(t *testing.T) {
	observations := []models.Observation{
		{DescribedAction: "Measure"},
		{DescribedAction: ""},
		{DescribedAction: "Cut"},
	}

	for _, workers := range []int{1, 3} {
		e := newTestEvaluator(t, actionProvider{}, workers)
		results, err := e.EvaluateSequence(context.Background(), observations, buildingSOP())
		assert.ErrorIs(t, err, ErrInvalidInput)
		assert.Nil(t, results)
	}
}

func TestEvaluateSequenceCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEvaluator(t, actionProvider{}, 1)
	_, err := e.EvaluateSequence(ctx, []models.Observation{{DescribedAction: "Cut"}}, buildingSOP())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluateEndToEndLexical(t *testing.T) {
	provider, err := similarity.NewLexicalProvider()
	require.NoError(t, err)
	e := newTestEvaluator(t, provider, 1)

	sop := &models.SOP{
		TaskName: "Wall layout",
		Steps: []models.Step{
			{ID: 1, SequenceIndex: 0, Description: "Measure wall dimensions with tape measure", RequiredTools: []string{"tape measure"}},
		},
		SafetyEquipment: []string{"hard hat", "safety glasses"},
	}
	observations := []models.Observation{
		{
			Timestamp:         5.0,
			DescribedAction:   "Worker measuring wall with tape measure",
			ToolsObserved:     []string{"tape measure"},
			EquipmentObserved: []string{"hard hat", "safety glasses"},
		},
		{
			Timestamp:         10.0,
			DescribedAction:   "Worker hammering nails into the wall",
			ToolsObserved:     []string{"hammer"},
			EquipmentObserved: []string{"hard hat"},
		},
	}

	report, err := e.Evaluate(context.Background(), observations, sop)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	measuring := report.Results[0]
	assert.GreaterOrEqual(t, measuring.SimilarityScore, 0.70)
	assert.False(t, measuring.IsDeviation)
	assert.Equal(t, models.SeverityNone, measuring.Severity)

	hammering := report.Results[1]
	assert.Less(t, hammering.SimilarityScore, 0.5)
	assert.True(t, hammering.IsDeviation)
	assert.Equal(t, models.SeverityHigh, hammering.Severity)
	assert.Equal(t, []string{"tape measure"}, hammering.ToolCheck.Missing)
	assert.Equal(t, []string{"safety glasses"}, hammering.SafetyCheck.Missing)

	assert.Equal(t, 1, report.Summary.TotalDeviations)
	assert.Equal(t, 1, report.Summary.HighSeverityCount)
	assert.Equal(t, 50.0, report.Summary.ComplianceRate)
	assert.Equal(t, []float64{10.0}, report.Summary.DeviationTimestamps)
}
