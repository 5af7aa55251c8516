// Package policy holds versioned decision policies: ordered rules over
// learner state plus a default decision type when no rule matches.
package policy

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/learner-state/internal/eval"
)

// #region load

// Load reads a policy definition from a YAML file and validates it.
// Unknown fields are rejected so a typoed rule never silently no-ops.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", path, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return &def, nil
}

// #endregion load

// #region builtin

// Builtin returns the compiled-in default policy. Used when no policy file
// is configured, and as the template cmd/seed writes out.
func Builtin() *Definition {
	return &Definition{
		PolicyID:      "builtin",
		PolicyVersion: "builtin-1",
		Rules: []Rule{
			{
				RuleID:       "rule-reinforce",
				DecisionType: DecisionReinforce,
				Condition: eval.Condition{All: []eval.Condition{
					{Field: "stabilityScore", Op: eval.OpLt, Value: 0.7},
					{Field: "timeSinceReinforcement", Op: eval.OpGt, Value: 86400},
				}},
			},
			{
				RuleID:       "rule-advance",
				DecisionType: DecisionAdvance,
				Condition: eval.Condition{All: []eval.Condition{
					{Field: "stabilityScore", Op: eval.OpGte, Value: 0.9},
					{Field: "masteryScore", Op: eval.OpGte, Value: 0.8},
				}},
			},
			{
				RuleID:       "rule-remediate",
				DecisionType: DecisionRemediate,
				Condition:    eval.Condition{Field: "errorRate", Op: eval.OpGt, Value: 0.5},
			},
			{
				RuleID:       "rule-escalate",
				DecisionType: DecisionEscalate,
				Condition: eval.Condition{Any: []eval.Condition{
					{Field: "riskFlags.integrity", Op: eval.OpEq, Value: true},
					{Field: "consecutiveFailures", Op: eval.OpGte, Value: 5},
				}},
			},
		},
		DefaultDecisionType: DecisionObserve,
	}
}

// #endregion builtin
