package state

import (
	"fmt"
	"time"
)

// #region record
// Provenance identifies the last signal folded into a snapshot.
type Provenance struct {
	LastSignalID string    `json:"last_signal_id"`
	LastSignalAt time.Time `json:"last_signal_at"`
}

// Record is one immutable state snapshot for a learner. A row exists exactly
// once per (org, learner, version) and is never updated or deleted; the
// current state is the row with the highest version.
type Record struct {
	Org        string
	Learner    string
	Version    int64
	State      map[string]any
	Provenance Provenance
	UpdatedAt  time.Time
}

// StateID derives the snapshot identifier, "org:learner:vN".
func (r Record) StateID() string {
	return FormatStateID(r.Org, r.Learner, r.Version)
}

// FormatStateID builds the snapshot identifier for a version.
func FormatStateID(org, learner string, version int64) string {
	return fmt.Sprintf("%s:%s:v%d", org, learner, version)
}

// #endregion record

// #region applied-entry
// AppliedEntry is one idempotency-ledger row: the signal was folded into the
// given state version. Presence is permanent and append-only.
type AppliedEntry struct {
	SignalID  string
	Version   int64
	AppliedAt time.Time
}

// #endregion applied-entry
