package evaluation

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/sop-monitor/backend/internal/storage/models"
)

func TestClassifierProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := rapid.Float64Range(0.01, 0.99).Draw(t, "threshold")
		score := rapid.Float64Range(0, 1).Draw(t, "score")
		toolOK := rapid.Bool().Draw(t, "tool")
		safetyOK := rapid.Bool().Draw(t, "safety")

		c, err := NewClassifier(threshold)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		tool := models.ComplianceCheck{IsCompliant: toolOK}
		safety := models.ComplianceCheck{IsCompliant: safetyOK}

		v := c.Classify(score, tool, safety)
		again := c.Classify(score, tool, safety)
		if v != again {
			t.Fatalf("classification not deterministic: %v vs %v", v, again)
		}

		wantDeviation := score < threshold || !toolOK || !safetyOK
		if v.IsDeviation != wantDeviation {
			t.Fatalf("deviation = %v, want %v", v.IsDeviation, wantDeviation)
		}
		if !v.IsDeviation && v.Severity != models.SeverityNone {
			t.Fatalf("non-deviation has severity %q", v.Severity)
		}
		if v.IsDeviation && score < HighSeverityFloor && v.Severity != models.SeverityHigh {
			t.Fatalf("score %v below floor gave %q", score, v.Severity)
		}
		if v.IsDeviation && score >= threshold && !safetyOK && v.Severity != models.SeverityHigh {
			t.Fatalf("missing safety above threshold gave %q", v.Severity)
		}
	})
}
