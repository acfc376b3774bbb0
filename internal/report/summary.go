package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/sop-monitor/backend/internal/storage/models"
)

type Grade struct {
	Letter string `json:"letter"`
	Label  string `json:"label"`
}

func (g Grade) String() string {
	return g.Letter + " - " + g.Label
}

// GradeFor maps a compliance rate in percent to a letter grade.
func GradeFor(rate float64) Grade {
	switch {
	case rate >= 90:
		return Grade{"A", "Excellent"}
	case rate >= 80:
		return Grade{"B", "Good"}
	case rate >= 70:
		return Grade{"C", "Acceptable"}
	case rate >= 60:
		return Grade{"D", "Needs Improvement"}
	default:
		return Grade{"F", "Critical Issues"}
	}
}

type ScoreStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std"`
}

// Stats describes the similarity score distribution. StdDev is the
// population standard deviation. Empty input gives all zeros.
func Stats(results []models.EvaluationResult) ScoreStats {
	if len(results) == 0 {
		return ScoreStats{}
	}

	scores := lo.Map(results, func(r models.EvaluationResult, _ int) float64 {
		return r.SimilarityScore
	})
	sort.Float64s(scores)

	n := float64(len(scores))
	mean := lo.Sum(scores) / n

	var variance float64
	for _, s := range scores {
		variance += (s - mean) * (s - mean)
	}
	variance /= n

	mid := len(scores) / 2
	median := scores[mid]
	if len(scores)%2 == 0 {
		median = (scores[mid-1] + scores[mid]) / 2
	}

	return ScoreStats{
		Mean:   mean,
		Median: median,
		Min:    scores[0],
		Max:    scores[len(scores)-1],
		StdDev: math.Sqrt(variance),
	}
}

// Recommendations lists follow-up actions implied by a summary.
func Recommendations(summary models.SequenceSummary) []string {
	var out []string
	if summary.SafetyViolations > 0 {
		out = append(out, "CRITICAL: Ensure all workers wear required safety equipment")
	}
	if summary.ToolViolations > 0 {
		out = append(out, "Provide proper tool training and ensure correct tools are available")
	}
	if summary.ComplianceRate < 70 {
		out = append(out,
			"Consider additional SOP training for workers",
			"Implement more frequent supervision and checks",
		)
	}
	if summary.HighSeverityCount > 0 {
		out = append(out, "URGENT: Review high-severity deviations immediately")
	}
	return out
}

// SummaryReport renders the full text report for one evaluated sequence.
func SummaryReport(taskName string, results []models.EvaluationResult, summary models.SequenceSummary, generatedAt time.Time) string {
	var b strings.Builder
	rule := strings.Repeat("=", ruleWidth) + "\n"
	thin := strings.Repeat("-", ruleWidth) + "\n"

	b.WriteString(rule)
	b.WriteString("CONSTRUCTION SAFETY COMPLIANCE REPORT\n")
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Task: %s\n", taskName)
	fmt.Fprintf(&b, "Generated: %s\n\n", generatedAt.Format(timeLayout))

	b.WriteString(rule)
	fmt.Fprintf(&b, "OVERALL COMPLIANCE GRADE: %s\n", GradeFor(summary.ComplianceRate))
	b.WriteString(rule + "\n")

	b.WriteString("STATISTICS\n" + thin)
	fmt.Fprintf(&b, "Total Frames Analyzed:     %d\n", summary.TotalObservations)
	fmt.Fprintf(&b, "Compliance Rate:           %.1f%%\n", summary.ComplianceRate)
	fmt.Fprintf(&b, "Average Similarity Score:  %.1f%%\n\n", summary.AverageSimilarity*100)
	fmt.Fprintf(&b, "Total Deviations:          %d\n", summary.TotalDeviations)
	fmt.Fprintf(&b, "  * High Severity:         %d\n", summary.HighSeverityCount)
	fmt.Fprintf(&b, "  * Medium Severity:       %d\n", summary.MediumSeverityCount)
	fmt.Fprintf(&b, "  * Low Severity:          %d\n\n", summary.LowSeverityCount)
	b.WriteString("Specific Violations:\n")
	fmt.Fprintf(&b, "  * Tool Violations:       %d\n", summary.ToolViolations)
	fmt.Fprintf(&b, "  * Safety Equipment:      %d\n\n", summary.SafetyViolations)

	if devs := deviations(results); len(devs) > 0 {
		b.WriteString("DEVIATION TIMELINE\n" + thin)
		for i, d := range devs {
			if i == timelineMax {
				fmt.Fprintf(&b, "\n... and %d more deviations\n", len(devs)-timelineMax)
				break
			}
			fmt.Fprintf(&b, "%d. %s - %s - Step #%d\n",
				i+1, FormatTimestamp(d.Timestamp), strings.ToUpper(string(d.Severity)), d.StepNumber)
		}
		b.WriteString("\n")
	}

	b.WriteString("RECOMMENDATIONS\n" + thin)
	for _, rec := range Recommendations(summary) {
		fmt.Fprintf(&b, "* %s\n", rec)
	}

	b.WriteString("\n" + rule + "End of Report\n" + rule)
	return b.String()
}

// Export is the JSON document written next to the text reports.
type Export struct {
	Timestamp       time.Time                 `json:"timestamp"`
	Summary         models.SequenceSummary    `json:"summary"`
	Grade           Grade                     `json:"grade"`
	Statistics      ScoreStats                `json:"statistics"`
	DetailedResults []models.EvaluationResult `json:"detailed_results"`
}

func ExportJSON(w io.Writer, results []models.EvaluationResult, summary models.SequenceSummary, generatedAt time.Time) error {
	if results == nil {
		results = []models.EvaluationResult{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	err := enc.Encode(Export{
		Timestamp:       generatedAt,
		Summary:         summary,
		Grade:           GradeFor(summary.ComplianceRate),
		Statistics:      Stats(results),
		DetailedResults: results,
	})
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}
