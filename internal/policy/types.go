package policy

import (
	"fmt"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	"github.com/danielpatrickdp/learner-state/internal/eval"
)

// #region decision-type

// DecisionType is the closed set of outcomes a policy can produce.
type DecisionType string

const (
	DecisionReinforce DecisionType = "reinforce"
	DecisionAdvance   DecisionType = "advance"
	DecisionReview    DecisionType = "review"
	DecisionRemediate DecisionType = "remediate"
	DecisionPause     DecisionType = "pause"
	DecisionEscalate  DecisionType = "escalate"
	DecisionObserve   DecisionType = "observe"
)

var knownDecisionTypes = map[DecisionType]bool{
	DecisionReinforce: true, DecisionAdvance: true, DecisionReview: true,
	DecisionRemediate: true, DecisionPause: true, DecisionEscalate: true,
	DecisionObserve: true,
}

// Known reports whether t is a member of the decision type set.
func (t DecisionType) Known() bool { return knownDecisionTypes[t] }

// #endregion decision-type

// #region definition

// Rule pairs a condition with the decision type emitted when it matches.
// Rules live in priority order inside a Definition; first match wins.
type Rule struct {
	RuleID       string         `json:"rule_id" yaml:"rule_id"`
	Condition    eval.Condition `json:"condition" yaml:"condition"`
	DecisionType DecisionType   `json:"decision_type" yaml:"decision_type"`
}

// Definition is one immutable policy version. A policy change is a new
// Definition with a new PolicyVersion, never a mutation of this one.
type Definition struct {
	PolicyID            string       `json:"policy_id" yaml:"policy_id"`
	PolicyVersion       string       `json:"policy_version" yaml:"policy_version"`
	Rules               []Rule       `json:"rules" yaml:"rules"`
	DefaultDecisionType DecisionType `json:"default_decision_type" yaml:"default_decision_type"`
}

// #endregion definition

// #region validate

// Validate checks the definition is usable: ids and version present, decision
// types known, rule ids unique, every condition structurally sound.
func (d *Definition) Validate() error {
	errs := apperr.List{}
	if d.PolicyID == "" {
		errs.Add(apperr.CodeValidation, "policy_id", "policy_id must not be blank")
	}
	if d.PolicyVersion == "" {
		errs.Add(apperr.CodeValidation, "policy_version", "policy_version must not be blank")
	}
	if !d.DefaultDecisionType.Known() {
		errs.Add(apperr.CodeValidation, "default_decision_type",
			"unknown decision type %q", d.DefaultDecisionType)
	}

	seen := make(map[string]bool, len(d.Rules))
	for i, r := range d.Rules {
		loc := fmt.Sprintf("rules[%d]", i)
		if r.RuleID == "" {
			errs.Add(apperr.CodeValidation, loc+".rule_id", "rule_id must not be blank")
		} else if seen[r.RuleID] {
			errs.Add(apperr.CodeValidation, loc+".rule_id", "duplicate rule_id %q", r.RuleID)
		} else {
			seen[r.RuleID] = true
		}
		if !r.DecisionType.Known() {
			errs.Add(apperr.CodeValidation, loc+".decision_type",
				"unknown decision type %q", r.DecisionType)
		}
		if err := r.Condition.Validate(); err != nil {
			errs.Add(apperr.CodeValidation, loc+".condition", "%v", err)
		}
	}
	return errs.Err()
}

// #endregion validate
