package types

import (
	"fmt"
	"strings"
)

// RubricCategory names one graded dimension of a phase.
type RubricCategory string

const (
	RubricTests      RubricCategory = "tests"
	RubricUnitTests  RubricCategory = "unit-tests"
	RubricQuality    RubricCategory = "quality"
	RubricCommits    RubricCategory = "commits"
	RubricGitHubRepo RubricCategory = "github-repo"
)

// TestNode is one node of a test runner's result tree.
type TestNode struct {
	Name         string               `json:"name"`
	Passed       int                  `json:"passed"`
	Failed       int                  `json:"failed"`
	ErrorMessage string               `json:"errorMessage,omitempty"`
	Children     map[string]*TestNode `json:"children,omitempty"`
}

// RubricResult is the outcome of grading one rubric category.
type RubricResult struct {
	Notes          string    `json:"notes"`
	Score          float64   `json:"score"`
	RawScore       float64   `json:"rawScore"`
	PossiblePoints float64   `json:"possiblePoints"`
	TestResults    *TestNode `json:"testResults,omitempty"`
	TextResults    string    `json:"textResults,omitempty"`
}

// RubricItem pairs a category's fixed description with its result.
type RubricItem struct {
	Category RubricCategory `json:"category"`
	Criteria string         `json:"criteria"`
	Results  *RubricResult  `json:"results,omitempty"`
}

// Rubric is the full graded breakdown for one submission.
type Rubric struct {
	Items  map[RubricCategory]*RubricItem `json:"items"`
	Passed bool                           `json:"passed"`
	Notes  string                         `json:"notes"`
}

// RubricConfigItem describes one category of a phase's rubric: how many
// points it is worth and which gradebook rubric entry it maps to.
type RubricConfigItem struct {
	Category          RubricCategory `json:"category"`
	Criteria          string         `json:"criteria"`
	Points            float64        `json:"points"`
	GradeBookRubricID string         `json:"gradeBookRubricID,omitempty"`
}

// RubricConfig is the per-phase rubric definition.
type RubricConfig struct {
	Phase Phase                                `json:"phase" meddler:"phase"`
	Items map[RubricCategory]*RubricConfigItem `json:"items" meddler:"items,json"`
}

func (config *RubricConfig) Normalize() error {
	if _, err := ParsePhase(string(config.Phase)); err != nil {
		return err
	}
	if len(config.Items) == 0 {
		return fmt.Errorf("rubric config for %s has no items", config.Phase)
	}
	for category, item := range config.Items {
		if item.Category == "" {
			item.Category = category
		}
		if item.Category != category {
			return fmt.Errorf("rubric config item keyed %s is labeled %s", category, item.Category)
		}
		item.Criteria = strings.TrimSpace(item.Criteria)
		if item.Points < 0 {
			return fmt.Errorf("rubric config item %s has negative points", category)
		}
	}
	return nil
}

// TotalPossiblePoints sums the configured points across all categories.
func (config *RubricConfig) TotalPossiblePoints() float64 {
	total := 0.0
	for _, item := range config.Items {
		total += item.Points
	}
	return total
}

// requiredCategories are the categories that must earn full points for
// the phase to count as passed.
func requiredCategories(phase Phase) []RubricCategory {
	if phase == PhaseGitHub {
		return []RubricCategory{RubricGitHubRepo}
	}
	return []RubricCategory{RubricTests}
}

// ComputePassed reports whether every required category present in the
// rubric earned its full possible points.
func (rubric *Rubric) ComputePassed(phase Phase) bool {
	for _, category := range requiredCategories(phase) {
		item := rubric.Items[category]
		if item == nil || item.Results == nil {
			continue
		}
		if item.Results.Score < item.Results.PossiblePoints {
			return false
		}
	}
	return true
}

// EarnedPoints sums the scored points across all present results.
func (rubric *Rubric) EarnedPoints() float64 {
	total := 0.0
	for _, item := range rubric.Items {
		if item.Results != nil {
			total += item.Results.Score
		}
	}
	return total
}

// ConvertFractions rewrites any result whose score was reported as a
// 0..1 fraction into absolute points on the configured scale, raw
// score included. Results already expressed in points (possiblePoints
// set) are left alone.
func (rubric *Rubric) ConvertFractions(config *RubricConfig) {
	for category, item := range rubric.Items {
		if item.Results == nil {
			continue
		}
		configured := config.Items[category]
		if configured == nil {
			continue
		}
		if item.Results.PossiblePoints == 0 {
			item.Results.Score = item.Results.RawScore * configured.Points
			item.Results.RawScore = item.Results.Score
			item.Results.PossiblePoints = configured.Points
		}
	}
}
