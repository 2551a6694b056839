package projection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pair-derivation rules a recipe can name. The oxidize pipeline turns
// each rule into labeled pairs from the event log.
const (
	RuleSessionCoMention = "session-co-mention" // docs touched in the same session
	RuleCommitCoChange   = "commit-co-change"   // files changed in the same commit
	RuleCallerCallee     = "caller-callee"      // caller and callee symbol pairs
	RuleBeliefEvidence   = "belief-evidence"    // belief statement and its cited docs
)

// Recipe is the declarative input of the oxidize pipeline.
type Recipe struct {
	Seed       int64           `yaml:"seed"`
	Dimensions []DimensionSpec `yaml:"dimensions"`
}

// DimensionSpec configures one trained dimension.
type DimensionSpec struct {
	Name         string  `yaml:"name"`
	Rule         string  `yaml:"rule"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	Margin       float64 `yaml:"margin"`
}

// DefaultRecipe trains the standard dimensions with their canonical
// pair rules.
func DefaultRecipe() Recipe {
	return Recipe{
		Seed: 42,
		Dimensions: []DimensionSpec{
			{Name: "semantic", Rule: RuleSessionCoMention},
			{Name: "temporal", Rule: RuleCommitCoChange},
			{Name: "dependency", Rule: RuleCallerCallee},
			{Name: "belief", Rule: RuleBeliefEvidence},
		},
	}
}

// LoadRecipe reads a YAML recipe; an empty path returns the default.
func LoadRecipe(path string) (Recipe, error) {
	if path == "" {
		return DefaultRecipe(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("read recipe: %w", err)
	}
	var r Recipe
	if err := yaml.Unmarshal(data, &r); err != nil {
		return Recipe{}, fmt.Errorf("parse recipe %s: %w", path, err)
	}
	if r.Seed == 0 {
		r.Seed = 42
	}
	if len(r.Dimensions) == 0 {
		r.Dimensions = DefaultRecipe().Dimensions
	}
	for i, d := range r.Dimensions {
		if d.Name == "" {
			return Recipe{}, fmt.Errorf("recipe dimension %d has no name", i)
		}
		switch d.Rule {
		case RuleSessionCoMention, RuleCommitCoChange, RuleCallerCallee, RuleBeliefEvidence:
		case "":
			return Recipe{}, fmt.Errorf("recipe dimension %s has no rule", d.Name)
		default:
			return Recipe{}, fmt.Errorf("recipe dimension %s has unknown rule %q", d.Name, d.Rule)
		}
	}
	return r, nil
}
