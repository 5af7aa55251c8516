package replay

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// #region fixture-types

// Fixture is the top-level JSON structure for a replay fixture.
type Fixture struct {
	Description    string         `json:"description"`
	Org            string         `json:"org"`
	Learner        string         `json:"learner"`
	InitialVersion int64          `json:"initial_version"`
	InitialState   map[string]any `json:"initial_state"`
	Steps          []Step         `json:"steps"`
}

// Step is one recorded signal fold. Signals applied together as a batch share
// one version; only the last step of the batch carries the checkpoint
// (want_version > 0), earlier steps fold without comparing.
type Step struct {
	SignalID    string         `json:"signal_id"`
	SignalType  string         `json:"signal_type"`
	Payload     map[string]any `json:"payload"`
	AcceptedAt  time.Time      `json:"accepted_at"`
	WantVersion int64          `json:"want_version,omitempty"`
	WantState   map[string]any `json:"want_state,omitempty"`
}

// #endregion fixture-types

// #region fixture-io

// Load reads and parses a JSON fixture file.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Save writes a fixture as indented JSON.
func Save(f *Fixture, path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixture: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// #endregion fixture-io

// #region from-store

// appliedRow pairs a ledger entry with its logged signal.
type appliedRow struct {
	signalID   string
	signalType string
	payload    map[string]any
	acceptedAt time.Time
	seq        int64
}

// FromStore rebuilds a fixture from a learner's applied history. With last > 0
// only the most recent applies are exported and the version just before the
// window becomes the initial state.
func FromStore(ctx context.Context, db *sql.DB, org, learner string, last int) (*Fixture, error) {
	versions, states, err := loadVersions(ctx, db, org, learner)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no state for %s/%s", org, learner)
	}

	f := &Fixture{
		Org:          org,
		Learner:      learner,
		InitialState: map[string]any{},
	}
	start := 0
	if last > 0 && last < len(versions) {
		start = len(versions) - last
		f.InitialVersion = versions[start-1]
		f.InitialState = states[start-1]
	}

	for i := start; i < len(versions); i++ {
		group, err := loadApplied(ctx, db, org, learner, versions[i])
		if err != nil {
			return nil, err
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("version %d of %s/%s has no ledger entries", versions[i], org, learner)
		}
		for j, r := range group {
			step := Step{
				SignalID:   r.signalID,
				SignalType: r.signalType,
				Payload:    r.payload,
				AcceptedAt: r.acceptedAt,
			}
			if j == len(group)-1 {
				step.WantVersion = versions[i]
				step.WantState = states[i]
			}
			f.Steps = append(f.Steps, step)
		}
	}

	f.Description = fmt.Sprintf("export of %s/%s: versions %d through %d, %d signals",
		org, learner, versions[start], versions[len(versions)-1], len(f.Steps))
	return f, nil
}

func loadVersions(ctx context.Context, db *sql.DB, org, learner string) ([]int64, []map[string]any, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT version, state_json FROM learner_states
		 WHERE org = ? AND learner = ? ORDER BY version ASC`, org, learner)
	if err != nil {
		return nil, nil, fmt.Errorf("query versions: %w", err)
	}
	defer rows.Close()

	var versions []int64
	var states []map[string]any
	for rows.Next() {
		var version int64
		var stateJSON string
		if err := rows.Scan(&version, &stateJSON); err != nil {
			return nil, nil, fmt.Errorf("scan version row: %w", err)
		}
		var st map[string]any
		if err := json.Unmarshal([]byte(stateJSON), &st); err != nil {
			return nil, nil, fmt.Errorf("parse state v%d: %w", version, err)
		}
		versions = append(versions, version)
		states = append(states, st)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate versions: %w", err)
	}
	return versions, states, nil
}

func loadApplied(ctx context.Context, db *sql.DB, org, learner string, version int64) ([]appliedRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT a.signal_id, s.signal_type, s.payload_json, s.accepted_at, s.seq
		 FROM applied_signals a
		 JOIN signals s ON s.org = a.org AND s.signal_id = a.signal_id
		 WHERE a.org = ? AND a.learner = ? AND a.state_version = ?`,
		org, learner, version)
	if err != nil {
		return nil, fmt.Errorf("query ledger v%d: %w", version, err)
	}
	defer rows.Close()

	var group []appliedRow
	for rows.Next() {
		var r appliedRow
		var payloadJSON, acceptedStr string
		if err := rows.Scan(&r.signalID, &r.signalType, &payloadJSON, &acceptedStr, &r.seq); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		if err := json.Unmarshal([]byte(payloadJSON), &r.payload); err != nil {
			return nil, fmt.Errorf("parse payload of %s: %w", r.signalID, err)
		}
		r.acceptedAt, _ = time.Parse(time.RFC3339Nano, acceptedStr)
		group = append(group, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger: %w", err)
	}

	// Fold order is acceptance order, matching how applies resolve batches.
	sort.SliceStable(group, func(i, j int) bool {
		if !group[i].acceptedAt.Equal(group[j].acceptedAt) {
			return group[i].acceptedAt.Before(group[j].acceptedAt)
		}
		return group[i].seq < group[j].seq
	})
	return group, nil
}

// #endregion from-store
