package apply

import "time"

// #region config

const defaultMaxAttempts = 3 // 1 initial attempt + 2 conflict retries

// Config tunes the coordinator. Zero values take defaults.
type Config struct {
	// MaxAttempts bounds the persist loop when concurrent appliers race for
	// the same version. Each attempt re-reads current state and re-filters
	// the batch against the ledger before reducing.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	return c
}

// #endregion config

// #region request

// Request names a batch of accepted signals to fold into one learner's state.
type Request struct {
	Org         string    `json:"org"`
	Learner     string    `json:"learner"`
	SignalIDs   []string  `json:"signal_ids"`
	RequestedAt time.Time `json:"requested_at,omitempty"`
}

// #endregion request

// #region outcome

// Outcome reports one apply: the version transition and the signals folded
// in, in application order. PriorVersion == NewVersion means the whole batch
// was filtered by the idempotency ledger and nothing changed.
type Outcome struct {
	Org              string    `json:"org"`
	Learner          string    `json:"learner"`
	StateID          string    `json:"state_id"`
	PriorVersion     int64     `json:"prior_version"`
	NewVersion       int64     `json:"new_version"`
	AppliedSignalIDs []string  `json:"applied_signal_ids"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// #endregion outcome
