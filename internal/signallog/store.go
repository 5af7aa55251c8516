// Package signallog is the append-only log of accepted signals. The apply
// path resolves signal ids here in acceptance-time order; signals are never
// updated or deleted once accepted.
package signallog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS signals (
	seq          INTEGER PRIMARY KEY AUTOINCREMENT,
	org          TEXT NOT NULL,
	learner      TEXT NOT NULL,
	signal_id    TEXT NOT NULL,
	signal_type  TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	accepted_at  TEXT NOT NULL,
	UNIQUE (org, signal_id)
);
`

// #endregion schema

// #region store
// Store manages the signal log in SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection and ensures the signals table
// exists. Used when the log shares a database file with the state store.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate signals: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion store

// #region accept
// Accept appends a signal to the log and reports whether a new row was
// created. Replaying an already-accepted (org, signal_id) is idempotent: the
// stored signal comes back unchanged and created is false. A blank signalID
// gets a generated one.
func (s *Store) Accept(ctx context.Context, org, learner, signalID, signalType string, payload map[string]any, acceptedAt time.Time) (*Signal, bool, error) {
	var errs apperr.List
	if org == "" {
		errs.Add(apperr.CodeValidation, "org", "must not be blank")
	}
	if learner == "" {
		errs.Add(apperr.CodeValidation, "learner", "must not be blank")
	}
	if signalType == "" {
		errs.Add(apperr.CodeValidation, "signal_type", "must not be blank")
	}
	if err := errs.Err(); err != nil {
		return nil, false, err
	}

	if signalID == "" {
		signalID = uuid.NewString()
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if acceptedAt.IsZero() {
		acceptedAt = time.Now().UTC()
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO signals (org, learner, signal_id, signal_type, payload_json, accepted_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (org, signal_id) DO NOTHING`,
		org, learner, signalID, signalType, string(payloadJSON),
		acceptedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert signal: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	sig, err := s.Get(ctx, org, signalID)
	if err != nil {
		return nil, false, err
	}
	return sig, affected > 0, nil
}

// #endregion accept

// #region get
// Get reads one signal by id within an org.
func (s *Store) Get(ctx context.Context, org, signalID string) (*Signal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT seq, org, learner, signal_id, signal_type, payload_json, accepted_at
		 FROM signals WHERE org = ? AND signal_id = ?`, org, signalID,
	)
	sig, err := scanSignal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "signal_ids", "unknown signal id %q", signalID)
	}
	if err != nil {
		return nil, fmt.Errorf("get signal %s: %w", signalID, err)
	}
	return sig, nil
}

// #endregion get

// #region get-by-ids
// GetByIDs resolves every id within the org and returns the signals ordered
// by acceptance time, ties broken by insertion order. Any unresolvable id
// aborts the whole resolve: unknown ids are NOT_FOUND, ids accepted under a
// different org are SCOPE errors.
func (s *Store) GetByIDs(ctx context.Context, org string, ids []string) ([]Signal, error) {
	signals := make([]Signal, 0, len(ids))
	for _, id := range ids {
		row := s.db.QueryRowContext(ctx,
			`SELECT seq, org, learner, signal_id, signal_type, payload_json, accepted_at
			 FROM signals WHERE org = ? AND signal_id = ?`, org, id,
		)
		sig, err := scanSignal(row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, s.classifyMissing(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve signal %s: %w", id, err)
		}
		signals = append(signals, *sig)
	}

	sort.SliceStable(signals, func(i, j int) bool {
		if !signals[i].AcceptedAt.Equal(signals[j].AcceptedAt) {
			return signals[i].AcceptedAt.Before(signals[j].AcceptedAt)
		}
		return signals[i].Seq < signals[j].Seq
	})
	return signals, nil
}

// classifyMissing distinguishes an id that does not exist anywhere from one
// accepted under another org.
func (s *Store) classifyMissing(ctx context.Context, id string) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM signals WHERE signal_id = ?`, id,
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("classify signal %s: %w", id, err)
	}
	if n > 0 {
		return apperr.New(apperr.CodeScope, "signal_ids", "signal %q belongs to another org", id)
	}
	return apperr.New(apperr.CodeNotFound, "signal_ids", "unknown signal id %q", id)
}

// #endregion get-by-ids

// #region scan
func scanSignal(row *sql.Row) (*Signal, error) {
	var sig Signal
	var payloadJSON, acceptedStr string

	err := row.Scan(&sig.Seq, &sig.Org, &sig.Learner, &sig.ID, &sig.Type, &payloadJSON, &acceptedStr)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(payloadJSON), &sig.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	sig.AcceptedAt, _ = time.Parse(time.RFC3339Nano, acceptedStr)
	return &sig, nil
}

// #endregion scan
