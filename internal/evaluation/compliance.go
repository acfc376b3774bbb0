package evaluation

import (
	"strings"

	"github.com/sop-monitor/backend/internal/storage/models"
)

// CheckTools compares the tools seen in an observation with the step's
// required tools. Extra tools are reported but do not break compliance.
func CheckTools(observed, required []string) models.ComplianceCheck {
	return checkRequired(observed, required)
}

// CheckSafetyEquipment compares worn equipment with the SOP-wide requirement.
func CheckSafetyEquipment(observed, required []string) models.ComplianceCheck {
	return checkRequired(observed, required)
}

func checkRequired(observed, required []string) models.ComplianceCheck {
	obs := normalize(observed)
	req := normalize(required)

	observedSet := make(map[string]struct{}, len(obs))
	for _, item := range obs {
		observedSet[item] = struct{}{}
	}
	requiredSet := make(map[string]struct{}, len(req))
	for _, item := range req {
		requiredSet[item] = struct{}{}
	}

	missing := []string{}
	for _, item := range req {
		if _, ok := observedSet[item]; !ok {
			missing = append(missing, item)
		}
	}

	extraneous := []string{}
	for _, item := range obs {
		if _, ok := requiredSet[item]; !ok {
			extraneous = append(extraneous, item)
		}
	}

	return models.ComplianceCheck{
		IsCompliant: len(missing) == 0,
		Missing:     missing,
		Extraneous:  extraneous,
		Observed:    obs,
		Required:    req,
	}
}

// normalize lower-cases items, drops empty entries and duplicates, and keeps
// first-seen order.
func normalize(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
