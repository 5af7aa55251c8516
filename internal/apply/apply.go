// Package apply coordinates folding accepted signals into versioned learner
// state: idempotency filtering, ordered resolution, reduction, structural
// guarding, and conflict-retried persistence.
package apply

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	"github.com/danielpatrickdp/learner-state/internal/guard"
	"github.com/danielpatrickdp/learner-state/internal/logger"
	"github.com/danielpatrickdp/learner-state/internal/reduce"
	"github.com/danielpatrickdp/learner-state/internal/signallog"
	"github.com/danielpatrickdp/learner-state/internal/state"
)

// #region coordinator

// StateStore is the slice of the state repository the coordinator uses.
// *state.Store satisfies it.
type StateStore interface {
	GetCurrent(ctx context.Context, org, learner string) (*state.Record, error)
	IsApplied(ctx context.Context, org, learner, signalID string) (bool, error)
	Persist(ctx context.Context, rec state.Record, entries []state.AppliedEntry) error
}

// SignalResolver resolves accepted signal ids in acceptance order.
// *signallog.Store satisfies it.
type SignalResolver interface {
	GetByIDs(ctx context.Context, org string, ids []string) ([]signallog.Signal, error)
}

// Coordinator drives the apply pipeline over the state and signal stores.
type Coordinator struct {
	states  StateStore
	signals SignalResolver
	log     *logger.Logger
	cfg     Config
}

// NewCoordinator wires a coordinator over its two stores.
func NewCoordinator(states StateStore, signals SignalResolver, log *logger.Logger, cfg Config) *Coordinator {
	return &Coordinator{states: states, signals: signals, log: log.With("component", "apply"), cfg: cfg.withDefaults()}
}

// #endregion coordinator

// #region apply

// Apply folds the requested signals into the learner's state at the next
// version. Signals already in the applied ledger are skipped; an all-skipped
// batch is a no-op success. A lost race with a concurrent applier is retried
// with a fresh read and re-filter, bounded by Config.MaxAttempts.
func (c *Coordinator) Apply(ctx context.Context, req Request) (*Outcome, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	ids := dedupe(req.SignalIDs)

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		out, err := c.attempt(ctx, req, ids)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, state.ErrVersionConflict) {
			return nil, err
		}
		c.log.Warn("apply lost version race",
			"org", req.Org, "learner", req.Learner, "attempt", attempt)
	}

	return nil, apperr.New(apperr.CodeConflict, "",
		"version conflict after %d attempts", c.cfg.MaxAttempts)
}

// attempt runs one pass of the pipeline. A state.ErrVersionConflict return
// means a concurrent writer won this version and the pass must be redone.
func (c *Coordinator) attempt(ctx context.Context, req Request, ids []string) (*Outcome, error) {
	current, err := c.states.GetCurrent(ctx, req.Org, req.Learner)
	if err != nil {
		return nil, err
	}

	pending, err := c.filterApplied(ctx, req.Org, req.Learner, ids)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return noopOutcome(req, current), nil
	}

	signals, err := c.signals.GetByIDs(ctx, req.Org, pending)
	if err != nil {
		return nil, err
	}
	for _, sig := range signals {
		if sig.Learner != req.Learner {
			return nil, apperr.New(apperr.CodeScope, "signal_ids",
				"signal %q was accepted for another learner", sig.ID)
		}
	}

	var prior map[string]any
	var priorVersion int64
	if current != nil {
		prior = current.State
		priorVersion = current.Version
	}

	patches := make([]map[string]any, len(signals))
	for i, sig := range signals {
		patches[i] = sig.Payload
	}
	candidate := reduce.Reduce(prior, patches)

	if res := guard.Check(candidate); !res.OK {
		return nil, res.Err()
	}

	updatedAt := req.RequestedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	last := signals[len(signals)-1]

	rec := state.Record{
		Org:     req.Org,
		Learner: req.Learner,
		Version: priorVersion + 1,
		State:   candidate,
		Provenance: state.Provenance{
			LastSignalID: last.ID,
			LastSignalAt: last.AcceptedAt,
		},
		UpdatedAt: updatedAt,
	}

	entries := make([]state.AppliedEntry, len(signals))
	applied := make([]string, len(signals))
	for i, sig := range signals {
		entries[i] = state.AppliedEntry{SignalID: sig.ID, Version: rec.Version, AppliedAt: updatedAt}
		applied[i] = sig.ID
	}

	if err := c.states.Persist(ctx, rec, entries); err != nil {
		return nil, err
	}

	c.log.Info("state applied",
		"org", req.Org, "learner", req.Learner,
		"version", rec.Version, "signals", len(applied))

	return &Outcome{
		Org:              req.Org,
		Learner:          req.Learner,
		StateID:          rec.StateID(),
		PriorVersion:     priorVersion,
		NewVersion:       rec.Version,
		AppliedSignalIDs: applied,
		UpdatedAt:        updatedAt,
	}, nil
}

// #endregion apply

// #region helpers

func validateRequest(req Request) error {
	errs := apperr.List{}
	if req.Org == "" {
		errs.Add(apperr.CodeValidation, "org", "org must not be blank")
	}
	if req.Learner == "" {
		errs.Add(apperr.CodeValidation, "learner", "learner must not be blank")
	}
	if len(req.SignalIDs) == 0 {
		errs.Add(apperr.CodeValidation, "signal_ids", "signal_ids must not be empty")
	}
	for i, id := range req.SignalIDs {
		if id == "" {
			errs.Add(apperr.CodeValidation, fmt.Sprintf("signal_ids[%d]", i),
				"signal id must not be blank")
		}
	}
	return errs.Err()
}

// dedupe drops repeated ids, keeping first occurrence order.
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// filterApplied drops ids already recorded in the learner's ledger.
func (c *Coordinator) filterApplied(ctx context.Context, org, learner string, ids []string) ([]string, error) {
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		applied, err := c.states.IsApplied(ctx, org, learner, id)
		if err != nil {
			return nil, err
		}
		if !applied {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// noopOutcome reports an apply whose batch was entirely filtered. The state
// is untouched; version 0 and an empty StateID mean the learner has none yet.
func noopOutcome(req Request, current *state.Record) *Outcome {
	out := &Outcome{
		Org:              req.Org,
		Learner:          req.Learner,
		AppliedSignalIDs: []string{},
	}
	if current != nil {
		out.StateID = current.StateID()
		out.PriorVersion = current.Version
		out.NewVersion = current.Version
		out.UpdatedAt = current.UpdatedAt
	}
	return out
}

// #endregion helpers
