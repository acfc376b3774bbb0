// Package report renders evaluation results as operator-facing alerts,
// summary reports and JSON exports.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/sop-monitor/backend/internal/storage/models"
)

const (
	ruleWidth   = 64
	timeLayout  = "2006-01-02 15:04:05"
	timelineMax = 10
)

// FormatTimestamp renders seconds as MM:SS. Minutes are not wrapped at an hour.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// DeviationAlert renders one result as a multi-line alert.
func DeviationAlert(r models.EvaluationResult) string {
	var b strings.Builder

	severity := strings.ToUpper(string(r.Severity))
	if r.Severity == "" || r.Severity == models.SeverityNone {
		severity = "MEDIUM"
	}

	fmt.Fprintf(&b, "[%s] COMPLIANCE ALERT - %s SEVERITY\n", severityMarker(r.Severity), severity)
	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	fmt.Fprintf(&b, "Time: %s\n", FormatTimestamp(r.Timestamp))
	fmt.Fprintf(&b, "Step #%d\n\n", r.StepNumber)
	fmt.Fprintf(&b, "Expected Action:\n  %s\n\n", r.MatchedStep)
	fmt.Fprintf(&b, "Observed Action:\n  %s\n\n", r.DescribedAction)
	fmt.Fprintf(&b, "Similarity Score: %.1f%%\n", r.SimilarityScore*100)

	if !r.ToolCheck.IsCompliant {
		b.WriteString("\nTOOL VIOLATIONS:\n")
		if len(r.ToolCheck.Missing) > 0 {
			fmt.Fprintf(&b, "  Missing: %s\n", strings.Join(r.ToolCheck.Missing, ", "))
		}
		if len(r.ToolCheck.Extraneous) > 0 {
			fmt.Fprintf(&b, "  Wrong tools used: %s\n", strings.Join(r.ToolCheck.Extraneous, ", "))
		}
	}

	if !r.SafetyCheck.IsCompliant {
		b.WriteString("\nSAFETY EQUIPMENT VIOLATIONS:\n")
		if len(r.SafetyCheck.Missing) > 0 {
			fmt.Fprintf(&b, "  Missing: %s\n", strings.Join(r.SafetyCheck.Missing, ", "))
		}
	}

	if len(r.HazardsObserved) > 0 {
		b.WriteString("\nPOTENTIAL HAZARDS DETECTED:\n")
		for _, hazard := range r.HazardsObserved {
			fmt.Fprintf(&b, "  * %s\n", hazard)
		}
	}

	b.WriteString(strings.Repeat("-", ruleWidth) + "\n")
	return b.String()
}

// Alerts renders an alert for every deviating result, in input order.
func Alerts(results []models.EvaluationResult) []string {
	return lo.Map(deviations(results), func(r models.EvaluationResult, _ int) string {
		return DeviationAlert(r)
	})
}

// WriteAlerts writes numbered alerts under a generation header.
func WriteAlerts(w io.Writer, alerts []string, generatedAt time.Time) error {
	var b strings.Builder
	b.WriteString("Construction Safety Alerts\n")
	fmt.Fprintf(&b, "Generated: %s\n", generatedAt.Format(timeLayout))
	b.WriteString(strings.Repeat("=", ruleWidth) + "\n\n")

	for i, alert := range alerts {
		fmt.Fprintf(&b, "Alert #%d\n%s\n", i+1, alert)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("failed to write alerts: %w", err)
	}
	return nil
}

func deviations(results []models.EvaluationResult) []models.EvaluationResult {
	return lo.Filter(results, func(r models.EvaluationResult, _ int) bool {
		return r.IsDeviation
	})
}

func severityMarker(s models.Severity) string {
	switch s {
	case models.SeverityHigh:
		return "!!!"
	case models.SeverityLow:
		return "!"
	default:
		return "!!"
	}
}
