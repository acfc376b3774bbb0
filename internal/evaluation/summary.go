package evaluation

import (
	"math"

	"github.com/sop-monitor/backend/internal/storage/models"
)

// Summarize folds results into sequence statistics. It keeps no state and
// returns the same summary for the same input.
func Summarize(results []models.EvaluationResult) models.SequenceSummary {
	summary := models.SequenceSummary{
		TotalObservations:   len(results),
		DeviationTimestamps: []float64{},
	}

	var totalSimilarity float64
	for _, r := range results {
		totalSimilarity += r.SimilarityScore

		if !r.ToolCheck.IsCompliant {
			summary.ToolViolations++
		}
		if !r.SafetyCheck.IsCompliant {
			summary.SafetyViolations++
		}

		if !r.IsDeviation {
			continue
		}
		summary.TotalDeviations++
		summary.DeviationTimestamps = append(summary.DeviationTimestamps, r.Timestamp)

		switch r.Severity {
		case models.SeverityHigh:
			summary.HighSeverityCount++
		case models.SeverityMedium:
			summary.MediumSeverityCount++
		case models.SeverityLow:
			summary.LowSeverityCount++
		}
	}

	if summary.TotalObservations == 0 {
		return summary
	}

	total := float64(summary.TotalObservations)
	summary.ComplianceRate = round(100*(total-float64(summary.TotalDeviations))/total, 1)
	summary.AverageSimilarity = round(totalSimilarity/total, 3)

	return summary
}

func round(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}
