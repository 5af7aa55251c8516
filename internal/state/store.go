// Package state persists versioned learner state snapshots and the
// applied-signal ledger. Snapshots are append-only: a writer claims the next
// version by inserting at (org, learner, version), and the composite primary
// key is the sole concurrency-control mechanism. Losing writers observe
// ErrVersionConflict and retry against the freshly-current state.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/learner-state/internal/apperr"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS learner_states (
	org            TEXT NOT NULL,
	learner        TEXT NOT NULL,
	version        INTEGER NOT NULL,
	state_json     TEXT NOT NULL,
	last_signal_id TEXT NOT NULL,
	last_signal_at TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (org, learner, version)
);

CREATE TABLE IF NOT EXISTS applied_signals (
	org           TEXT NOT NULL,
	learner       TEXT NOT NULL,
	signal_id     TEXT NOT NULL,
	state_version INTEGER NOT NULL,
	applied_at    TEXT NOT NULL,
	PRIMARY KEY (org, learner, signal_id)
);
`

// #endregion schema

// ErrVersionConflict reports that the target row was already claimed by a
// concurrent writer. Callers re-read current state, re-filter, and retry.
var ErrVersionConflict = errors.New("state version conflict")

// #region store-struct
// Store manages versioned learner state in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection. The caller owns migrations and
// the connection lifecycle. Used by tests and by stores sharing one file.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the state tables on an externally-owned connection.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("migrate state: %w", err)
	}
	return nil
}

// #endregion constructor

// #region close
// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for sibling stores and CLIs.
func (s *Store) DB() *sql.DB {
	return s.db
}

// #endregion close

// #region get-current
// GetCurrent reads the highest-version snapshot for a learner. Returns
// (nil, nil) when the learner has no state yet.
func (s *Store) GetCurrent(ctx context.Context, org, learner string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT org, learner, version, state_json, last_signal_id, last_signal_at, updated_at
		 FROM learner_states WHERE org = ? AND learner = ?
		 ORDER BY version DESC LIMIT 1`, org, learner,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current state: %w", err)
	}
	return rec, nil
}

// #endregion get-current

// #region get-version
// GetVersion retrieves one specific snapshot.
func (s *Store) GetVersion(ctx context.Context, org, learner string, version int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT org, learner, version, state_json, last_signal_id, last_signal_at, updated_at
		 FROM learner_states WHERE org = ? AND learner = ? AND version = ?`,
		org, learner, version,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "state_version",
			"no state at version %d for %s/%s", version, org, learner)
	}
	if err != nil {
		return nil, fmt.Errorf("get state version %d: %w", version, err)
	}
	return rec, nil
}

// #endregion get-version

// #region list-versions
// ListVersions returns every snapshot for the learner, oldest first.
func (s *Store) ListVersions(ctx context.Context, org, learner string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT org, learner, version, state_json, last_signal_id, last_signal_at, updated_at
		 FROM learner_states WHERE org = ? AND learner = ?
		 ORDER BY version ASC`, org, learner,
	)
	if err != nil {
		return nil, fmt.Errorf("list state versions: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan state version: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// #endregion list-versions

// #region ledger
// IsApplied reports whether the signal is recorded in the idempotency ledger.
func (s *Store) IsApplied(ctx context.Context, org, learner, signalID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM applied_signals WHERE org = ? AND learner = ? AND signal_id = ?`,
		org, learner, signalID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check applied signal: %w", err)
	}
	return n > 0, nil
}

// AppliedEntries lists the learner's full ledger, oldest first.
func (s *Store) AppliedEntries(ctx context.Context, org, learner string) ([]AppliedEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT signal_id, state_version, applied_at FROM applied_signals
		 WHERE org = ? AND learner = ?
		 ORDER BY state_version ASC, applied_at ASC, signal_id ASC`, org, learner,
	)
	if err != nil {
		return nil, fmt.Errorf("list applied signals: %w", err)
	}
	defer rows.Close()

	var entries []AppliedEntry
	for rows.Next() {
		var e AppliedEntry
		var appliedStr string
		if err := rows.Scan(&e.SignalID, &e.Version, &appliedStr); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		e.AppliedAt, _ = time.Parse(time.RFC3339Nano, appliedStr)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// #endregion ledger

// #region persist
// Persist atomically inserts the snapshot row and its ledger entries in one
// transaction. A uniqueness violation on the snapshot row means a concurrent
// writer claimed the version first; a violation on a ledger row means a
// concurrent writer recorded one of these signals after the caller's
// idempotency filter ran. Both surface as ErrVersionConflict so the caller
// re-filters and retries; every other failure propagates unchanged.
func (s *Store) Persist(ctx context.Context, rec Record, entries []AppliedEntry) error {
	if rec.State == nil {
		rec.State = map[string]any{}
	}
	stateJSON, err := json.Marshal(rec.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO learner_states (org, learner, version, state_json, last_signal_id, last_signal_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Org, rec.Learner, rec.Version, string(stateJSON),
		rec.Provenance.LastSignalID, rec.Provenance.LastSignalAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isConstraintError(err) {
			return fmt.Errorf("claim version %d for %s/%s: %w", rec.Version, rec.Org, rec.Learner, ErrVersionConflict)
		}
		return fmt.Errorf("insert state: %w", err)
	}

	for _, e := range entries {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO applied_signals (org, learner, signal_id, state_version, applied_at)
			 VALUES (?, ?, ?, ?, ?)`,
			rec.Org, rec.Learner, e.SignalID, e.Version, e.AppliedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			if isConstraintError(err) {
				return fmt.Errorf("record signal %s: %w", e.SignalID, ErrVersionConflict)
			}
			return fmt.Errorf("record applied signal: %w", err)
		}
	}

	return tx.Commit()
}

// #endregion persist

// #region scan
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var stateJSON, lastSignalAt, updatedAt string

	err := row.Scan(&rec.Org, &rec.Learner, &rec.Version, &stateJSON,
		&rec.Provenance.LastSignalID, &lastSignalAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stateJSON), &rec.State); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	rec.Provenance.LastSignalAt, _ = time.Parse(time.RFC3339Nano, lastSignalAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return &rec, nil
}

// #endregion scan

// #region constraint-detection
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT ||
		code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
}

// #endregion constraint-detection
