package signallog

import "time"

// #region signal
// Signal is one accepted, immutable event about a learner. Seq records
// insertion order and breaks acceptance-time ties during resolution.
type Signal struct {
	Seq        int64
	Org        string
	Learner    string
	ID         string
	Type       string
	Payload    map[string]any
	AcceptedAt time.Time
}

// #endregion signal
