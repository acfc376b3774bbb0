package evaluation

import (
	"context"
	"fmt"
	"math"

	"github.com/sop-monitor/backend/internal/storage/models"
)

// SimilarityProvider scores text against every candidate in one call.
type SimilarityProvider interface {
	Similarities(ctx context.Context, text string, candidates []string) ([]float64, error)
}

type Match struct {
	Index int
	Score float64
	Step  models.Step
}

// MatchStep returns the step whose description is most similar to action.
// Ties go to the step with the smallest sequence index.
func MatchStep(ctx context.Context, provider SimilarityProvider, action string, steps []models.Step) (Match, error) {
	if len(steps) == 0 {
		return Match{}, fmt.Errorf("%w: no SOP steps to match against", ErrInvalidInput)
	}

	descriptions := make([]string, len(steps))
	for i, step := range steps {
		descriptions[i] = step.Description
	}

	scores, err := provider.Similarities(ctx, action, descriptions)
	if err != nil {
		return Match{}, fmt.Errorf("%w: %w", ErrSimilarityProvider, err)
	}
	if len(scores) != len(steps) {
		return Match{}, fmt.Errorf("%w: got %d scores for %d steps", ErrSimilarityProvider, len(scores), len(steps))
	}

	best := -1
	for i, score := range scores {
		if math.IsNaN(score) {
			return Match{}, fmt.Errorf("%w: score for step %d is NaN", ErrSimilarityProvider, i)
		}
		if best < 0 || score > scores[best] ||
			(score == scores[best] && steps[i].SequenceIndex < steps[best].SequenceIndex) {
			best = i
		}
	}

	return Match{Index: best, Score: scores[best], Step: steps[best]}, nil
}
