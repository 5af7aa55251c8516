package decision

import (
	"time"

	"github.com/danielpatrickdp/learner-state/internal/policy"
)

// #region decision

// Trace binds a decision to the exact state and policy that produced it.
// MatchedRuleID is nil when the policy default was used.
type Trace struct {
	StateID       string  `json:"state_id"`
	StateVersion  int64   `json:"state_version"`
	PolicyVersion string  `json:"policy_version"`
	MatchedRuleID *string `json:"matched_rule_id"`
}

// Decision is one immutable decision record.
type Decision struct {
	DecisionID   string              `json:"decision_id"`
	Org          string              `json:"org"`
	Learner      string              `json:"learner"`
	DecisionType policy.DecisionType `json:"decision_type"`
	DecidedAt    time.Time           `json:"decided_at"`
	Context      map[string]any      `json:"context"`
	Trace        Trace               `json:"trace"`
}

// #endregion decision

// #region request

// Request asks for one decision against a pinned state version. StateID and
// StateVersion must name the learner's current state; a stale pin is refused
// rather than silently evaluated.
type Request struct {
	Org          string         `json:"org"`
	Learner      string         `json:"learner"`
	StateID      string         `json:"state_id"`
	StateVersion int64          `json:"state_version"`
	RequestedAt  time.Time      `json:"requested_at,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// #endregion request

// #region query

// Query filters a decision listing. From is inclusive, To exclusive; zero
// times are unbounded. PageToken resumes a prior listing with the same
// filters.
type Query struct {
	Org       string
	Learner   string
	From      time.Time
	To        time.Time
	PageSize  int
	PageToken string
}

// #endregion query
