// Command inspect prints a learner's recorded history from a live database:
// state versions, the idempotency ledger, and decisions.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/danielpatrickdp/learner-state/internal/decision"
	"github.com/danielpatrickdp/learner-state/internal/state"
	_ "modernc.org/sqlite"
)

// #region main

func main() {
	dbPath := flag.String("db", "", "path to learner_state.db")
	org := flag.String("org", "", "organization id")
	learner := flag.String("learner", "", "learner id")
	version := flag.Int64("version", 0, "show single version detail")
	ledger := flag.Bool("ledger", false, "show the applied-signal ledger")
	decisions := flag.Bool("decisions", false, "show recorded decisions")
	format := flag.String("format", "table", "output format: table or json")
	flag.Parse()

	if *dbPath == "" || *org == "" || *learner == "" {
		fmt.Fprintln(os.Stderr, "usage: inspect --db path/to/learner_state.db --org org --learner learner [--version N] [--ledger] [--decisions] [--format table|json]")
		os.Exit(2)
	}
	if *format != "table" && *format != "json" {
		fmt.Fprintf(os.Stderr, "unknown format %q\n", *format)
		os.Exit(2)
	}

	if err := run(*dbPath, *org, *learner, *version, *ledger, *decisions, *format == "json"); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, org, learner string, version int64, ledger, decisions, jsonOut bool) error {
	ctx := context.Background()

	states, err := state.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer states.Close()

	switch {
	case version > 0:
		return runDetailMode(ctx, states, org, learner, version, jsonOut)
	case ledger:
		return runLedgerMode(ctx, states, org, learner, jsonOut)
	case decisions:
		return runDecisionsMode(ctx, states, org, learner, jsonOut)
	default:
		return runListMode(ctx, states, org, learner, jsonOut)
	}
}

// #endregion main

// #region list-mode

type versionRow struct {
	Version      int64  `json:"version"`
	Keys         int    `json:"keys"`
	LastSignalID string `json:"last_signal_id"`
	UpdatedAt    string `json:"updated_at"`
}

func runListMode(ctx context.Context, states *state.Store, org, learner string, jsonOut bool) error {
	records, err := states.ListVersions(ctx, org, learner)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "no state for %s/%s\n", org, learner)
		return nil
	}

	rows := make([]versionRow, len(records))
	for i, rec := range records {
		rows[i] = versionRow{
			Version:      rec.Version,
			Keys:         len(rec.State),
			LastSignalID: rec.Provenance.LastSignalID,
			UpdatedAt:    rec.UpdatedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-8s  %5s  %-24s  %s\n", "Version", "Keys", "Last Signal", "Updated")
	fmt.Printf("%-8s  %5s  %-24s  %s\n", "--------", "-----", "------------------------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-8d  %5d  %-24s  %s\n", r.Version, r.Keys, shortID(r.LastSignalID), r.UpdatedAt)
	}

	latest := records[len(records)-1]
	fmt.Printf("\nCurrent state (%s):\n", latest.StateID())
	return printIndented(latest.State)
}

// #endregion list-mode

// #region detail-mode

type detailOutput struct {
	StateID      string         `json:"state_id"`
	Org          string         `json:"org"`
	Learner      string         `json:"learner"`
	Version      int64          `json:"version"`
	State        map[string]any `json:"state"`
	LastSignalID string         `json:"last_signal_id"`
	LastSignalAt string         `json:"last_signal_at"`
	UpdatedAt    string         `json:"updated_at"`
}

func runDetailMode(ctx context.Context, states *state.Store, org, learner string, version int64, jsonOut bool) error {
	rec, err := states.GetVersion(ctx, org, learner, version)
	if err != nil {
		return err
	}

	out := detailOutput{
		StateID:      rec.StateID(),
		Org:          rec.Org,
		Learner:      rec.Learner,
		Version:      rec.Version,
		State:        rec.State,
		LastSignalID: rec.Provenance.LastSignalID,
		LastSignalAt: rec.Provenance.LastSignalAt.Format("2006-01-02T15:04:05Z"),
		UpdatedAt:    rec.UpdatedAt.Format("2006-01-02T15:04:05Z"),
	}

	if jsonOut {
		return printJSON(out)
	}

	fmt.Printf("State ID:     %s\n", out.StateID)
	fmt.Printf("Version:      %d\n", out.Version)
	fmt.Printf("Last Signal:  %s at %s\n", out.LastSignalID, out.LastSignalAt)
	fmt.Printf("Updated:      %s\n", out.UpdatedAt)
	fmt.Printf("\nState:\n")
	return printIndented(out.State)
}

// #endregion detail-mode

// #region ledger-mode

type ledgerRow struct {
	SignalID  string `json:"signal_id"`
	Version   int64  `json:"state_version"`
	AppliedAt string `json:"applied_at"`
}

func runLedgerMode(ctx context.Context, states *state.Store, org, learner string, jsonOut bool) error {
	entries, err := states.AppliedEntries(ctx, org, learner)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(os.Stderr, "no applied signals for %s/%s\n", org, learner)
		return nil
	}

	rows := make([]ledgerRow, len(entries))
	for i, e := range entries {
		rows[i] = ledgerRow{
			SignalID:  e.SignalID,
			Version:   e.Version,
			AppliedAt: e.AppliedAt.Format("2006-01-02T15:04:05Z"),
		}
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-24s  %8s  %s\n", "Signal", "Version", "Applied")
	fmt.Printf("%-24s  %8s  %s\n", "------------------------", "--------", "--------------------")
	for _, r := range rows {
		fmt.Printf("%-24s  %8d  %s\n", shortID(r.SignalID), r.Version, r.AppliedAt)
	}
	return nil
}

// #endregion ledger-mode

// #region decisions-mode

type decisionRow struct {
	DecisionID   string `json:"decision_id"`
	DecisionType string `json:"decision_type"`
	MatchedRule  string `json:"matched_rule_id,omitempty"`
	StateID      string `json:"state_id"`
	DecidedAt    string `json:"decided_at"`
}

func runDecisionsMode(ctx context.Context, states *state.Store, org, learner string, jsonOut bool) error {
	store, err := decision.NewStoreWithDB(states.DB())
	if err != nil {
		return fmt.Errorf("open decision store: %w", err)
	}

	var rows []decisionRow
	token := ""
	for {
		page, next, err := store.List(ctx, decision.Query{Org: org, Learner: learner, PageToken: token})
		if err != nil {
			return err
		}
		for _, d := range page {
			row := decisionRow{
				DecisionID:   d.DecisionID,
				DecisionType: string(d.DecisionType),
				StateID:      d.Trace.StateID,
				DecidedAt:    d.DecidedAt.Format("2006-01-02T15:04:05Z"),
			}
			if d.Trace.MatchedRuleID != nil {
				row.MatchedRule = *d.Trace.MatchedRuleID
			}
			rows = append(rows, row)
		}
		if next == "" {
			break
		}
		token = next
	}

	if len(rows) == 0 {
		fmt.Fprintf(os.Stderr, "no decisions for %s/%s\n", org, learner)
		return nil
	}

	if jsonOut {
		return printJSON(rows)
	}

	fmt.Printf("%-12s  %-10s  %-16s  %-22s  %s\n", "Decision", "Type", "Rule", "State", "Decided")
	fmt.Printf("%-12s  %-10s  %-16s  %-22s  %s\n",
		"------------", "----------", "----------------", "----------------------", "--------------------")
	for _, r := range rows {
		rule := r.MatchedRule
		if rule == "" {
			rule = "(default)"
		}
		fmt.Printf("%-12s  %-10s  %-16s  %-22s  %s\n",
			shortID(r.DecisionID), r.DecisionType, rule, r.StateID, r.DecidedAt)
	}
	return nil
}

// #endregion decisions-mode

// #region output

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printIndented(state map[string]any) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func shortID(id string) string {
	if len(id) > 24 {
		return id[:24]
	}
	return id
}

// #endregion output
