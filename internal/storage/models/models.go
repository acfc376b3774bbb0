package models

import "time"

// Step is one ordered entry of a standard operating procedure.
type Step struct {
	ID            int      `json:"id" yaml:"id"`
	SequenceIndex int      `json:"sequence_index" yaml:"-"`
	Description   string   `json:"action" yaml:"action"`
	RequiredTools []string `json:"required_tools" yaml:"required_tools"`
	// ExpectedDuration is advisory, in seconds.
	ExpectedDuration float64 `json:"expected_time,omitempty" yaml:"expected_time,omitempty"`
	Zone             string  `json:"zone,omitempty" yaml:"zone,omitempty"`
}

// SOP is a named checklist. SafetyEquipment applies to every step.
type SOP struct {
	TaskName        string   `json:"task_name" yaml:"task_name"`
	Steps           []Step   `json:"steps" yaml:"steps"`
	SafetyEquipment []string `json:"safety_equipment" yaml:"safety_equipment"`
}

// Observation is one timestamped snapshot produced by the acquisition stage.
type Observation struct {
	Timestamp         float64  `json:"timestamp" yaml:"timestamp"`
	DescribedAction   string   `json:"worker_action" yaml:"worker_action"`
	ToolsObserved     []string `json:"tools_visible" yaml:"tools_visible"`
	EquipmentObserved []string `json:"safety_equipment" yaml:"safety_equipment"`
	HazardsObserved   []string `json:"potential_hazards" yaml:"potential_hazards"`
	Location          string   `json:"location_zone,omitempty" yaml:"location_zone,omitempty"`
}

type ComplianceCheck struct {
	IsCompliant bool     `json:"is_compliant"`
	Missing     []string `json:"missing"`
	Extraneous  []string `json:"extraneous"`
	Observed    []string `json:"observed"`
	Required    []string `json:"required"`
}

type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities: none < low < medium < high.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

type EvaluationResult struct {
	ObservationIndex int             `json:"frame_number"`
	Timestamp        float64         `json:"timestamp"`
	DescribedAction  string          `json:"observed_action"`
	MatchedStepIndex int             `json:"matched_step_index"`
	MatchedStepID    int             `json:"matched_step_id"`
	MatchedStep      string          `json:"matched_sop_step"`
	StepNumber       int             `json:"step_number"`
	SimilarityScore  float64         `json:"similarity_score"`
	IsDeviation      bool            `json:"is_deviation"`
	Severity         Severity        `json:"severity"`
	ToolCheck        ComplianceCheck `json:"tool_compliance"`
	SafetyCheck      ComplianceCheck `json:"safety_compliance"`
	HazardsObserved  []string        `json:"potential_hazards"`
	Location         string          `json:"location,omitempty"`
}

type SequenceSummary struct {
	TotalObservations   int       `json:"total_frames_analyzed"`
	TotalDeviations     int       `json:"total_deviations"`
	HighSeverityCount   int       `json:"high_severity_count"`
	MediumSeverityCount int       `json:"medium_severity_count"`
	LowSeverityCount    int       `json:"low_severity_count"`
	ComplianceRate      float64   `json:"compliance_rate"`
	AverageSimilarity   float64   `json:"average_similarity"`
	ToolViolations      int       `json:"tool_violations"`
	SafetyViolations    int       `json:"safety_violations"`
	DeviationTimestamps []float64 `json:"deviation_timestamps"`
}

// SOPRecord is a stored SOP together with its library metadata.
type SOPRecord struct {
	Name      string
	SOP       SOP
	CreatedAt time.Time
	UpdatedAt time.Time
}

type SOPListing struct {
	Name      string    `json:"name"`
	TaskName  string    `json:"task_name"`
	StepCount int       `json:"step_count"`
	UpdatedAt time.Time `json:"updated_at"`
}

