package evaluation

import (
	"fmt"

	"github.com/sop-monitor/backend/internal/storage/models"
)

// HighSeverityFloor is the similarity below which a mismatch is always high severity.
const HighSeverityFloor = 0.5

type Verdict struct {
	IsDeviation bool
	Severity    models.Severity
}

type signals struct {
	score  float64
	tool   models.ComplianceCheck
	safety models.ComplianceCheck
}

type severityRule struct {
	name     string
	applies  func(s signals) bool
	severity models.Severity
}

// Classifier turns similarity and compliance checks into a verdict. Rules are
// evaluated in order and the first that applies sets the severity.
type Classifier struct {
	threshold float64
	rules     []severityRule
}

func NewClassifier(threshold float64) (*Classifier, error) {
	if !(threshold > 0 && threshold < 1) {
		return nil, fmt.Errorf("%w: threshold must be in (0, 1), got %v", ErrConfiguration, threshold)
	}

	return &Classifier{
		threshold: threshold,
		rules: []severityRule{
			{
				name:     "similarity below high-severity floor",
				applies:  func(s signals) bool { return s.score < HighSeverityFloor },
				severity: models.SeverityHigh,
			},
			{
				name:     "similarity below threshold",
				applies:  func(s signals) bool { return s.score < threshold },
				severity: models.SeverityMedium,
			},
			{
				name:     "missing safety equipment",
				applies:  func(s signals) bool { return !s.safety.IsCompliant },
				severity: models.SeverityHigh,
			},
			{
				name:     "missing required tools",
				applies:  func(s signals) bool { return !s.tool.IsCompliant },
				severity: models.SeverityMedium,
			},
		},
	}, nil
}

func (c *Classifier) Threshold() float64 {
	return c.threshold
}

func (c *Classifier) Classify(score float64, tool, safety models.ComplianceCheck) Verdict {
	s := signals{score: score, tool: tool, safety: safety}

	deviates := score < c.threshold || !tool.IsCompliant || !safety.IsCompliant
	if !deviates {
		return Verdict{IsDeviation: false, Severity: models.SeverityNone}
	}

	for _, rule := range c.rules {
		if rule.applies(s) {
			return Verdict{IsDeviation: true, Severity: rule.severity}
		}
	}

	// Unreachable while a deviation implies one of the rules above.
	return Verdict{IsDeviation: true, Severity: models.SeverityLow}
}
