// Package ingestion loads SOP definitions and observation sequences from the
// JSON or YAML documents produced by authoring tools and the acquisition
// stage.
package ingestion

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sop-monitor/backend/internal/evaluation"
	"github.com/sop-monitor/backend/internal/storage/models"
	"github.com/sop-monitor/backend/pkg/logger"
)

type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

// DetectFormat picks the decoder from the file extension. Anything other than
// .yaml or .yml is read as JSON.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

type observationEnvelope struct {
	Observations []models.Observation `json:"observations" yaml:"observations"`
}

func LoadSOPFile(path string) (*models.SOP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read SOP file: %w", err)
	}

	sop, err := ParseSOP(data, DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.Info("SOP loaded",
		zap.String("path", path),
		zap.String("task", sop.TaskName),
		zap.Int("steps", len(sop.Steps)),
	)
	return sop, nil
}

// ParseSOP decodes a SOP, assigns each step its position as sequence index
// (and as ID when none is given), and validates it.
func ParseSOP(data []byte, format Format) (*models.SOP, error) {
	var sop models.SOP
	if err := decode(data, format, &sop); err != nil {
		return nil, fmt.Errorf("%w: malformed SOP: %w", evaluation.ErrInvalidInput, err)
	}

	Normalize(&sop)

	if err := evaluation.ValidateSOP(&sop); err != nil {
		return nil, err
	}
	return &sop, nil
}

// Normalize assigns dense sequence indexes and default step IDs in place.
func Normalize(sop *models.SOP) {
	for i := range sop.Steps {
		sop.Steps[i].SequenceIndex = i
		if sop.Steps[i].ID == 0 {
			sop.Steps[i].ID = i + 1
		}
		sop.Steps[i].Description = strings.TrimSpace(sop.Steps[i].Description)
	}
	sop.TaskName = strings.TrimSpace(sop.TaskName)
}

func LoadObservationsFile(path string) ([]models.Observation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read observations file: %w", err)
	}

	observations, err := ParseObservations(data, DetectFormat(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.Info("Observations loaded", zap.String("path", path), zap.Int("count", len(observations)))
	return observations, nil
}

// ParseObservations accepts either a bare list or an {"observations": [...]}
// envelope.
func ParseObservations(data []byte, format Format) ([]models.Observation, error) {
	var observations []models.Observation

	switch format {
	case FormatYAML:
		var node yaml.Node
		if err := yaml.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("%w: malformed observations: %w", evaluation.ErrInvalidInput, err)
		}
		if len(node.Content) == 0 {
			return nil, fmt.Errorf("%w: empty observations document", evaluation.ErrInvalidInput)
		}
		root := node.Content[0]
		var err error
		if root.Kind == yaml.MappingNode {
			var env observationEnvelope
			err = root.Decode(&env)
			observations = env.Observations
		} else {
			err = root.Decode(&observations)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed observations: %w", evaluation.ErrInvalidInput, err)
		}

	default:
		trimmed := bytes.TrimSpace(data)
		var err error
		if len(trimmed) > 0 && trimmed[0] == '{' {
			var env observationEnvelope
			err = json.Unmarshal(trimmed, &env)
			observations = env.Observations
		} else {
			err = json.Unmarshal(trimmed, &observations)
		}
		if err != nil {
			return nil, fmt.Errorf("%w: malformed observations: %w", evaluation.ErrInvalidInput, err)
		}
	}

	if err := ValidateObservations(observations); err != nil {
		return nil, err
	}
	if observations == nil {
		observations = []models.Observation{}
	}
	return observations, nil
}

// ValidateObservations requires a described action on every observation and
// timestamps that are non-negative and never go backwards.
func ValidateObservations(observations []models.Observation) error {
	prev := 0.0
	for i, obs := range observations {
		if strings.TrimSpace(obs.DescribedAction) == "" {
			return fmt.Errorf("%w: observation %d has no worker_action", evaluation.ErrInvalidInput, i)
		}
		if obs.Timestamp < 0 {
			return fmt.Errorf("%w: observation %d has negative timestamp %v", evaluation.ErrInvalidInput, i, obs.Timestamp)
		}
		if obs.Timestamp < prev {
			return fmt.Errorf("%w: observation %d timestamp %v precedes %v", evaluation.ErrInvalidInput, i, obs.Timestamp, prev)
		}
		prev = obs.Timestamp
	}
	return nil
}

func decode(data []byte, format Format, out any) error {
	if format == FormatYAML {
		return yaml.Unmarshal(data, out)
	}
	return json.Unmarshal(data, out)
}
