// Command seed populates a database with a small worked example: the builtin
// policy as YAML, a canned signal batch, one apply, and one decision. Re-runs
// are harmless because accepts replay and applies filter already-applied
// signals.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/learner-state/internal/apply"
	"github.com/danielpatrickdp/learner-state/internal/decision"
	"github.com/danielpatrickdp/learner-state/internal/logger"
	"github.com/danielpatrickdp/learner-state/internal/policy"
	"github.com/danielpatrickdp/learner-state/internal/signallog"
	"github.com/danielpatrickdp/learner-state/internal/state"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to learner_state.db")
	org := flag.String("org", "org-demo", "organization id")
	learner := flag.String("learner", "learner-demo", "learner id")
	policyOut := flag.String("policy-out", "", "also write the builtin policy as YAML to this path")
	flag.Parse()

	if *dbPath == "" {
		fmt.Fprintln(os.Stderr, "usage: seed --db path/to/learner_state.db [--org org] [--learner learner] [--policy-out policy.yaml]")
		os.Exit(2)
	}

	if err := run(*dbPath, *org, *learner, *policyOut); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main

// #region seed

// cannedSignal is one demo signal. The batch below lands the learner in
// rule-reinforce territory: low stability plus a long reinforcement gap.
type cannedSignal struct {
	id         string
	signalType string
	payload    map[string]any
}

var cannedSignals = []cannedSignal{
	{
		id:         "seed-assessment",
		signalType: "assessment_scored",
		payload: map[string]any{
			"stabilityScore": 0.3,
			"masteryScore":   0.55,
			"errorRate":      0.2,
		},
	},
	{
		id:         "seed-review",
		signalType: "review_session",
		payload: map[string]any{
			"timeSinceReinforcement": 100000,
			"consecutiveFailures":    1,
		},
	},
	{
		id:         "seed-progress",
		signalType: "unit_progress",
		payload: map[string]any{
			"masteryScore": 0.62,
			"tags":         map[string]any{"strand": "algebra"},
		},
	},
}

func run(dbPath, org, learner, policyOut string) error {
	ctx := context.Background()
	log := logger.NewNop()

	if policyOut != "" {
		if err := writePolicy(policyOut); err != nil {
			return err
		}
		fmt.Printf("Wrote builtin policy to %s\n", policyOut)
	}

	states, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer states.Close()

	signals, err := signallog.NewStoreWithDB(states.DB())
	if err != nil {
		return fmt.Errorf("open signal log: %w", err)
	}
	decisions, err := decision.NewStoreWithDB(states.DB())
	if err != nil {
		return fmt.Errorf("open decision store: %w", err)
	}

	ids := make([]string, 0, len(cannedSignals))
	for _, cs := range cannedSignals {
		_, created, err := signals.Accept(ctx, org, learner, cs.id, cs.signalType, cs.payload, time.Time{})
		if err != nil {
			return fmt.Errorf("accept %s: %w", cs.id, err)
		}
		verb := "replayed"
		if created {
			verb = "accepted"
		}
		fmt.Printf("Signal %s %s (%s)\n", cs.id, verb, cs.signalType)
		ids = append(ids, cs.id)
	}

	coord := apply.NewCoordinator(states, signals, log, apply.Config{})
	outcome, err := coord.Apply(ctx, apply.Request{Org: org, Learner: learner, SignalIDs: ids})
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	fmt.Printf("Applied %d signal(s): %s (v%d -> v%d)\n",
		len(outcome.AppliedSignalIDs), outcome.StateID, outcome.PriorVersion, outcome.NewVersion)

	generator := decision.NewGenerator(states, policy.Builtin(), decisions, log)
	dec, err := generator.Evaluate(ctx, decision.Request{
		Org:          org,
		Learner:      learner,
		StateID:      outcome.StateID,
		StateVersion: outcome.NewVersion,
	})
	if err != nil {
		return fmt.Errorf("evaluate decision: %w", err)
	}

	rule := "(default)"
	if dec.Trace.MatchedRuleID != nil {
		rule = *dec.Trace.MatchedRuleID
	}
	fmt.Printf("Decision %s: %s via %s\n", dec.DecisionID, dec.DecisionType, rule)
	return nil
}

func writePolicy(path string) error {
	data, err := yaml.Marshal(policy.Builtin())
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// #endregion seed
