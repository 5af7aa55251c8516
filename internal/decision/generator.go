// Package decision evaluates learner state against a policy definition and
// records the outcome with a full provenance trace.
package decision

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	"github.com/danielpatrickdp/learner-state/internal/eval"
	"github.com/danielpatrickdp/learner-state/internal/logger"
	"github.com/danielpatrickdp/learner-state/internal/policy"
	"github.com/danielpatrickdp/learner-state/internal/state"
)

// #region generator

// StateReader loads the current state record for trace verification.
// *state.Store satisfies it.
type StateReader interface {
	GetCurrent(ctx context.Context, org, learner string) (*state.Record, error)
}

// Generator runs the decision pipeline for one immutable policy definition.
type Generator struct {
	states StateReader
	def    *policy.Definition
	store  *Store
	log    *logger.Logger
}

// NewGenerator wires a generator. def must already be validated.
func NewGenerator(states StateReader, def *policy.Definition, store *Store, log *logger.Logger) *Generator {
	return &Generator{states: states, def: def, store: store, log: log.With("component", "decision")}
}

// #endregion generator

// #region evaluate

// Evaluate runs the fixed pipeline: validate the request, load current state,
// verify the caller's pin against it, evaluate rules in priority order, build
// and persist the decision. A pin that no longer matches current state is a
// CONFLICT; the caller re-reads and retries with the fresh version.
func (g *Generator) Evaluate(ctx context.Context, req Request) (*Decision, error) {
	if err := validateEvalRequest(req); err != nil {
		return nil, err
	}

	rec, err := g.states.GetCurrent(ctx, req.Org, req.Learner)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, apperr.New(apperr.CodeNotFound, "learner",
			"no state for learner %q", req.Learner)
	}

	if rec.StateID() != req.StateID || rec.Version != req.StateVersion {
		return nil, apperr.New(apperr.CodeConflict, "state_version",
			"trace state mismatch: current is %s", rec.StateID())
	}

	decisionType, matched := g.evaluateRules(rec.State)

	decidedAt := req.RequestedAt
	if decidedAt.IsZero() {
		decidedAt = time.Now().UTC()
	}
	decisionContext := req.Context
	if decisionContext == nil {
		decisionContext = map[string]any{}
	}

	dec := &Decision{
		DecisionID:   uuid.NewString(),
		Org:          req.Org,
		Learner:      req.Learner,
		DecisionType: decisionType,
		DecidedAt:    decidedAt,
		Context:      decisionContext,
		Trace: Trace{
			StateID:       rec.StateID(),
			StateVersion:  rec.Version,
			PolicyVersion: g.def.PolicyVersion,
			MatchedRuleID: matched,
		},
	}

	if err := g.store.Insert(ctx, dec); err != nil {
		return nil, err
	}

	g.log.Info("decision recorded",
		"org", req.Org, "learner", req.Learner,
		"decision_type", string(decisionType), "state_version", rec.Version)

	return dec, nil
}

// evaluateRules walks the rules in priority order; the first whose condition
// holds wins. No match falls through to the policy default with a nil rule id.
func (g *Generator) evaluateRules(st map[string]any) (policy.DecisionType, *string) {
	for _, rule := range g.def.Rules {
		if eval.Evaluate(rule.Condition, st) {
			id := rule.RuleID
			return rule.DecisionType, &id
		}
	}
	return g.def.DefaultDecisionType, nil
}

func validateEvalRequest(req Request) error {
	errs := apperr.List{}
	if req.Org == "" {
		errs.Add(apperr.CodeValidation, "org", "org must not be blank")
	}
	if req.Learner == "" {
		errs.Add(apperr.CodeValidation, "learner", "learner must not be blank")
	}
	if req.StateID == "" {
		errs.Add(apperr.CodeValidation, "state_id", "state_id must not be blank")
	}
	if req.StateVersion < 1 {
		errs.Add(apperr.CodeValidation, "state_version", "state_version must be >= 1")
	}
	return errs.Err()
}

// #endregion evaluate
